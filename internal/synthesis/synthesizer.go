package synthesis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/convorag/backend/internal/llm"
	"github.com/convorag/backend/internal/orchestrator"
	"github.com/convorag/backend/pkg/logger"
)

const contextHeader = "--- Retrieved context ---"

const contextInstruction = "Use the retrieved context below to ground your answer, " +
	"but stay in your role and keep your tone exactly as defined above. " +
	"If the context does not cover the question, say so rather than inventing details."

const defaultSystemMessage = "You are a helpful assistant. Ground your answers in the retrieved context below."

// Completer is the single outbound LLM dependency; faked in tests.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Metadata is the transparency block attached to every answer.
type Metadata struct {
	SessionID        string  `json:"session_id"`
	Strategy         string  `json:"strategy"`
	QueriesGenerated int     `json:"queries_generated"`
	QueriesUsed      int     `json:"queries_used"`
	ContextStage     string  `json:"context_stage"`
	Confidence       float64 `json:"confidence"`
	PersonaPreserved bool    `json:"persona_preserved"`
	SourcesUsed      int     `json:"sources_used"`
}

type Result struct {
	Answer   string
	Usage    llm.Usage
	Metadata Metadata
}

// Synthesizer builds the final prompt and makes the one LLM call of the
// request.
type Synthesizer struct {
	completer   Completer
	temperature float32
	maxTokens   int
}

func New(completer Completer, temperature float32, maxTokens int) *Synthesizer {
	return &Synthesizer{
		completer:   completer,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Synthesize sends the caller's conversation, augmented with retrieved
// context, to the language model. The caller's system message is preserved
// verbatim: context is appended under a delimiter, never substituted, so
// the persona survives augmentation. With no hits the messages pass through
// untouched.
func (s *Synthesizer) Synthesize(ctx context.Context, messages []llm.Message, hits []orchestrator.Hit, meta Metadata) (*Result, error) {
	outgoing := buildMessages(messages, hits)
	meta.PersonaPreserved = true
	meta.SourcesUsed = len(hits)

	resp, err := s.completer.Complete(ctx, llm.CompletionRequest{
		Messages:    outgoing,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize answer: %w", err)
	}

	logger.Debug("Answer synthesized",
		zap.Int("context_passages", len(hits)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)

	return &Result{
		Answer:   resp.Content,
		Usage:    resp.Usage,
		Metadata: meta,
	}, nil
}

// BuildMessages is exported for tests; it returns the outgoing message
// slice without calling the model.
func BuildMessages(messages []llm.Message, hits []orchestrator.Hit) []llm.Message {
	return buildMessages(messages, hits)
}

func buildMessages(messages []llm.Message, hits []orchestrator.Hit) []llm.Message {
	if len(hits) == 0 {
		return messages
	}

	contextBlock := formatContext(hits)

	out := make([]llm.Message, 0, len(messages)+1)
	augmented := false

	for _, m := range messages {
		if m.Role == llm.RoleSystem && !augmented {
			out = append(out, llm.Message{
				Role:    llm.RoleSystem,
				Content: m.Content + "\n\n" + contextHeader + "\n" + contextInstruction + "\n\n" + contextBlock,
			})
			augmented = true
			continue
		}
		out = append(out, m)
	}

	if !augmented {
		system := llm.Message{
			Role:    llm.RoleSystem,
			Content: defaultSystemMessage + "\n\n" + contextHeader + "\n\n" + contextBlock,
		}
		out = append([]llm.Message{system}, out...)
	}

	return out
}

func formatContext(hits []orchestrator.Hit) string {
	var sb strings.Builder
	for i, hit := range hits {
		sb.WriteString(fmt.Sprintf("[%d] (source: %s, relevance: %.2f)\n%s\n\n",
			i+1, sourceLabel(hit), hit.Score, strings.TrimSpace(hit.Content)))
	}
	return strings.TrimSpace(sb.String())
}

func sourceLabel(hit orchestrator.Hit) string {
	if hit.Source == "" {
		return "unknown"
	}
	return fmt.Sprintf("%s#%d", hit.Source, hit.ChunkIndex)
}
