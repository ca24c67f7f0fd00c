package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/convorag/backend/internal/relaxation"
	"github.com/convorag/backend/internal/vector/milvus"
	"github.com/convorag/backend/pkg/logger"
	"github.com/convorag/backend/pkg/utils"
)

// Embedder turns text into a vector. Implemented by the LLM client; faked
// in tests.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs a similarity search. Implemented by the milvus client.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int, similarityThreshold float64) ([]milvus.SearchResult, error)
}

// EmbeddingCache is optional; a nil cache disables it.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32) error
}

// Hit is one retrieved passage surviving the merge.
type Hit struct {
	Content     string  `json:"content"`
	Source      string  `json:"source"`
	ChunkIndex  int     `json:"chunk_index"`
	Score       float64 `json:"score"`
	OriginQuery string  `json:"origin_query"`
}

type Config struct {
	MaxConcurrent   int
	PerQueryTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   4,
		PerQueryTimeout: 10 * time.Second,
	}
}

// Orchestrator fans each candidate query out to the embedding service and
// the vector store, then merges the per-query hits into one ranked,
// deduplicated sequence.
type Orchestrator struct {
	embedder Embedder
	searcher Searcher
	cache    EmbeddingCache
	cfg      Config
}

func New(embedder Embedder, searcher Searcher, cache EmbeddingCache, cfg Config) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.PerQueryTimeout <= 0 {
		cfg.PerQueryTimeout = 10 * time.Second
	}
	return &Orchestrator{
		embedder: embedder,
		searcher: searcher,
		cache:    cache,
		cfg:      cfg,
	}
}

// Retrieve runs every query concurrently and returns the merged ranked
// hits, at most params.TopK of them. A failed query (embedding error,
// search error, timeout) is logged and excluded without disturbing its
// siblings; if every query fails the result is empty, not an error, so the
// caller can fall back to context-free synthesis.
func (o *Orchestrator) Retrieve(ctx context.Context, queries []string, params relaxation.Params) []Hit {
	if len(queries) == 0 {
		return nil
	}

	topKPerQuery := params.TopK / len(queries)
	if topKPerQuery < 1 {
		topKPerQuery = 1
	}

	// one result slot per query: no shared-slice races, and the merge sees
	// results in query order regardless of completion order
	perQuery := make([][]milvus.SearchResult, len(queries))

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.MaxConcurrent)

	for i, query := range queries {
		i, query := i, query
		g.Go(func() error {
			hits, err := o.retrieveOne(ctx, query, topKPerQuery, params.SimilarityThreshold)
			if err != nil {
				logger.Warn("Query retrieval failed",
					zap.String("query", query),
					zap.Error(err),
				)
				return nil
			}
			perQuery[i] = hits
			return nil
		})
	}

	// subtask errors are swallowed above; Wait only synchronizes
	g.Wait()

	merged := mergeHits(queries, perQuery, params.TopK)

	logger.Debug("Retrieval merged",
		zap.Int("queries", len(queries)),
		zap.Int("hits", len(merged)),
		zap.String("stage", params.StageName),
	)

	return merged
}

func (o *Orchestrator) retrieveOne(ctx context.Context, query string, topK int, threshold float64) ([]milvus.SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.PerQueryTimeout)
	defer cancel()

	embedding, err := o.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	results, err := o.searcher.Search(ctx, embedding, topK, threshold)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	return results, nil
}

func (o *Orchestrator) embedQuery(ctx context.Context, query string) ([]float32, error) {
	var textHash string
	if o.cache != nil {
		textHash = utils.ContentHash(query)
		if embedding, ok, err := o.cache.GetEmbedding(ctx, textHash); err == nil && ok {
			return embedding, nil
		}
	}

	embedding, err := o.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	if o.cache != nil {
		if err := o.cache.SetEmbedding(ctx, textHash, embedding); err != nil {
			logger.Warn("Failed to cache embedding", zap.Error(err))
		}
	}

	return embedding, nil
}

// mergeHits deduplicates across queries, keeping the highest score per
// passage, then ranks by score. Identity is source plus chunk index when
// available, else a normalized content hash. Ordering is fully determined
// by (score desc, key asc): completion order of the concurrent subtasks
// never leaks into the result.
func mergeHits(queries []string, perQuery [][]milvus.SearchResult, topK int) []Hit {
	type keyed struct {
		hit Hit
		key string
	}

	best := make(map[string]keyed)

	for qi, results := range perQuery {
		for _, r := range results {
			key := dedupKey(r)
			candidate := Hit{
				Content:     r.Text,
				Source:      r.Source,
				ChunkIndex:  r.ChunkIndex,
				Score:       float64(r.Score),
				OriginQuery: queries[qi],
			}

			existing, ok := best[key]
			if !ok || candidate.Score > existing.hit.Score {
				best[key] = keyed{hit: candidate, key: key}
			}
		}
	}

	merged := make([]keyed, 0, len(best))
	for _, k := range best {
		merged = append(merged, k)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].hit.Score != merged[j].hit.Score {
			return merged[i].hit.Score > merged[j].hit.Score
		}
		return merged[i].key < merged[j].key
	})

	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}

	out := make([]Hit, len(merged))
	for i, k := range merged {
		out[i] = k.hit
	}
	return out
}

func dedupKey(r milvus.SearchResult) string {
	if r.Source != "" {
		return fmt.Sprintf("%s#%d", r.Source, r.ChunkIndex)
	}
	return utils.ContentHash(r.Text)
}
