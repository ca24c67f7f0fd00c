package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/convorag/backend/internal/cache/redis"
	"github.com/convorag/backend/internal/llm"
	"github.com/convorag/backend/internal/metrics"
	"github.com/convorag/backend/internal/storage/models"
	"github.com/convorag/backend/internal/storage/sqlite"
	"github.com/convorag/backend/internal/vector/milvus"
	"github.com/convorag/backend/pkg/logger"
	"github.com/convorag/backend/pkg/utils"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Processor ingests documents into the retrieval corpus: clean, chunk,
// embed, store. Chunking is sentence-aware so passages do not cut
// mid-sentence; a plain word splitter takes over when segmentation fails.
type Processor struct {
	db           *sqlite.Client
	vectorDB     *milvus.Client
	llmClient    *llm.Client
	cache        *redis.Client
	chunkSize    int
	chunkOverlap int
}

func NewProcessor(db *sqlite.Client, vectorDB *milvus.Client, llmClient *llm.Client, cache *redis.Client) *Processor {
	return &Processor{
		db:           db,
		vectorDB:     vectorDB,
		llmClient:    llmClient,
		cache:        cache,
		chunkSize:    1000,
		chunkOverlap: 100,
	}
}

// ProcessDocument ingests one document. Content may be HTML or plain text;
// HTML is stripped first. Re-ingesting the same source replaces its chunks.
func (p *Processor) ProcessDocument(ctx context.Context, source, content string) (string, int, error) {
	logger.Info("Processing document", zap.String("source", source))

	text := content
	title := source
	if looksLikeHTML(content) {
		text = p.cleanHTML(content)
		title = p.extractTitle(content)
	}
	text = strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
	if text == "" {
		return "", 0, fmt.Errorf("no content extracted from document")
	}

	docID := utils.HashString(source)

	// replace, not append: stale chunks from an earlier version of the
	// source must not linger in the vector store
	if err := p.vectorDB.DeleteByDocument(ctx, docID); err != nil {
		logger.Warn("Failed to clear old vectors", zap.String("doc_id", docID), zap.Error(err))
	}
	if err := p.db.DeleteChunksByDocument(docID); err != nil {
		logger.Warn("Failed to clear old chunks", zap.String("doc_id", docID), zap.Error(err))
	}

	now := time.Now()
	doc := &models.Document{
		ID:        docID,
		Source:    source,
		Title:     title,
		Summary:   summaryOf(text),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.db.InsertDocument(doc); err != nil {
		return "", 0, fmt.Errorf("failed to insert document: %w", err)
	}

	chunks := p.chunkText(text)
	logger.Info("Document chunked", zap.String("doc_id", docID), zap.Int("chunks", len(chunks)))

	embeddings, err := p.llmClient.GenerateBatchEmbeddings(ctx, chunks)
	if err != nil {
		return "", 0, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return "", 0, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}

	vectorChunks := make([]milvus.Chunk, 0, len(chunks))
	for i, chunkText := range chunks {
		chunkID := fmt.Sprintf("%s_chunk_%d", docID, i)
		vectorChunks = append(vectorChunks, milvus.Chunk{
			ID:         chunkID,
			Embedding:  embeddings[i],
			Text:       chunkText,
			DocumentID: docID,
			Source:     source,
			ChunkIndex: i,
			Timestamp:  now,
		})

		dbChunk := &models.DocumentChunk{
			ID:         chunkID,
			DocID:      docID,
			ChunkIndex: i,
			Text:       chunkText,
			CreatedAt:  now,
		}
		if err := p.db.InsertChunk(dbChunk); err != nil {
			logger.Warn("Failed to persist chunk", zap.String("chunk_id", chunkID), zap.Error(err))
		}
	}

	if len(vectorChunks) > 0 {
		if err := p.vectorDB.Insert(ctx, vectorChunks); err != nil {
			return "", 0, fmt.Errorf("failed to insert into vector DB: %w", err)
		}
	}

	p.invalidateAnswerCache(ctx)
	metrics.DocumentsProcessed.Inc()

	logger.Info("Document processed successfully",
		zap.String("doc_id", docID),
		zap.Int("chunks", len(vectorChunks)),
	)

	return docID, len(vectorChunks), nil
}

// DeleteDocument removes a document and its chunks from both stores.
func (p *Processor) DeleteDocument(ctx context.Context, docID string) error {
	if err := p.vectorDB.DeleteByDocument(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if err := p.db.DeleteChunksByDocument(docID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := p.db.DeleteDocument(docID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	p.invalidateAnswerCache(ctx)

	logger.Info("Document deleted", zap.String("doc_id", docID))
	return nil
}

// invalidateAnswerCache drops cached answers after any corpus change;
// embeddings stay cached since text embeddings do not depend on the corpus.
func (p *Processor) invalidateAnswerCache(ctx context.Context) {
	if p.cache == nil {
		return
	}
	if err := p.cache.InvalidateAnswers(ctx); err != nil {
		logger.Warn("Failed to invalidate answer cache", zap.Error(err))
	}
}

func (p *Processor) cleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	return doc.Find("body").Text()
}

func (p *Processor) extractTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "Untitled"
	}

	title := doc.Find("title").First().Text()
	if title == "" {
		title = doc.Find("h1").First().Text()
	}
	if title == "" {
		title = "Untitled"
	}

	return strings.TrimSpace(title)
}

// chunkText packs whole sentences into chunks of roughly chunkSize bytes,
// carrying the last sentence over as overlap so adjacent chunks share
// context.
func (p *Processor) chunkText(text string) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentSize := 0

	for _, sentence := range sentences {
		if currentSize+len(sentence) > p.chunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))

			overlap := current[len(current)-1]
			current = current[:0]
			currentSize = 0
			if len(overlap) <= p.chunkOverlap*2 {
				current = append(current, overlap)
				currentSize = len(overlap)
			}
		}

		current = append(current, sentence)
		currentSize += len(sentence) + 1
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

func splitSentences(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		logger.Warn("Sentence segmentation failed, falling back to word split", zap.Error(err))
		return splitWords(text, 200)
	}

	sentences := doc.Sentences()
	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		trimmed := strings.TrimSpace(s.Text)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return splitWords(text, 200)
	}
	return out
}

// splitWords groups words into pseudo-sentences of n words each.
func splitWords(text string, n int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var out []string
	for start := 0; start < len(words); start += n {
		end := start + n
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
	}
	return out
}

func summaryOf(text string) string {
	if len(text) <= 280 {
		return text
	}
	return text[:280]
}

func looksLikeHTML(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "<html") ||
		strings.Contains(lower, "<body") ||
		strings.Contains(lower, "<!doctype html")
}
