package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convorag/backend/internal/confidence"
	"github.com/convorag/backend/internal/conversation"
	"github.com/convorag/backend/internal/llm"
	"github.com/convorag/backend/internal/metrics"
	"github.com/convorag/backend/internal/orchestrator"
	"github.com/convorag/backend/internal/relaxation"
	"github.com/convorag/backend/internal/session"
	"github.com/convorag/backend/internal/storage/models"
	"github.com/convorag/backend/internal/storage/sqlite"
	"github.com/convorag/backend/internal/strategy"
	"github.com/convorag/backend/internal/synthesis"
	"github.com/convorag/backend/pkg/logger"
	"github.com/convorag/backend/pkg/utils"
)

// ErrNoUserMessage rejects a request before any orchestration starts.
var ErrNoUserMessage = errors.New("conversation contains no user message")

// AnswerCache short-circuits exact replays of a turn, typically client
// retries. Optional; nil disables it.
type AnswerCache interface {
	GetAnswer(ctx context.Context, answerHash string, response interface{}) (bool, error)
	SetAnswer(ctx context.Context, answerHash string, response interface{}) error
}

type Request struct {
	Messages  []llm.Message
	SessionID string
	TopK      int
}

type Response struct {
	Answer   string
	Sources  []orchestrator.Hit
	Metadata synthesis.Metadata
}

// Engine is the orchestration entry point: it owns the per-turn lifecycle
// from conversation tracking through retrieval to synthesis and feedback.
type Engine struct {
	sessions     session.Store
	tracker      *conversation.Tracker
	relaxer      *relaxation.Relaxer
	adaptive     *confidence.Adaptive
	retriever    *orchestrator.Orchestrator
	synthesizer  *synthesis.Synthesizer
	db           *sqlite.Client
	answers      AnswerCache
	genConfig    strategy.GeneratorConfig
	turnCapacity int
}

func NewEngine(
	sessions session.Store,
	tracker *conversation.Tracker,
	relaxer *relaxation.Relaxer,
	adaptive *confidence.Adaptive,
	retriever *orchestrator.Orchestrator,
	synthesizer *synthesis.Synthesizer,
	db *sqlite.Client,
	answers AnswerCache,
	genConfig strategy.GeneratorConfig,
	turnCapacity int,
) *Engine {
	return &Engine{
		sessions:     sessions,
		tracker:      tracker,
		relaxer:      relaxer,
		adaptive:     adaptive,
		retriever:    retriever,
		synthesizer:  synthesizer,
		db:           db,
		answers:      answers,
		genConfig:    genConfig,
		turnCapacity: turnCapacity,
	}
}

// Chat answers one turn. The session is locked for the whole turn, so two
// concurrent requests for the same session serialize; cross-session
// requests run freely.
func (e *Engine) Chat(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()

	question, err := lastUserQuestion(req.Messages)
	if err != nil {
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	// an identical replay of the turn (a client retry) short-circuits here
	// without touching conversation state
	var cacheKey string
	if e.answers != nil {
		cacheKey = turnCacheKey(sessionID, req.Messages)
		var cached Response
		if ok, err := e.answers.GetAnswer(ctx, cacheKey, &cached); err == nil && ok {
			metrics.ChatTotal.WithLabelValues("cached").Inc()
			return &cached, nil
		}
	}

	sess := e.sessions.GetOrCreate(sessionID, e.turnCapacity)
	metrics.ActiveSessions.Set(float64(e.sessions.Len()))
	sess.Lock()
	defer sess.Unlock()

	turnNumber := sess.Turns.TotalTurns() + 1

	logger.Info("Processing chat turn",
		zap.String("session_id", sessionID),
		zap.Int("turn", turnNumber),
		zap.String("question", question),
	)

	// fold the new turn into conversation state before generating queries
	views := messageViews(req.Messages)
	e.tracker.Update(sess.State, views)

	tag := strategy.Select(views, sess.State)
	features := strategy.Analyze(views, sess.State)

	generator := strategy.ForTag(tag, e.genConfig)
	querySet := generator.Generate(question, strategy.Context{
		State:             sess.State,
		RecentTurns:       sess.Turns.Recent(e.genConfig.RecentTurnWindow),
		PreviousAssistant: lastAssistantMessage(req.Messages),
	})

	params := e.relaxer.ParamsFor(turnNumber, sess.StageOffset)
	if req.TopK > 0 {
		params.TopK = req.TopK
	}

	hits := e.retriever.Retrieve(ctx, querySet.Texts(), params)

	turnConfidence := scoreTurn(hits, params.TopK)
	threshold := e.adaptive.Threshold(sess.ThresholdAdjustment, turnNumber, turnConfidence, features.Complexity)
	if turnConfidence < threshold && turnConfidence > 0 {
		logger.Debug("Context below acceptance threshold, keeping best hits only",
			zap.Float64("confidence", turnConfidence),
			zap.Float64("threshold", threshold),
		)
	}

	meta := synthesis.Metadata{
		SessionID:        sessionID,
		Strategy:         string(tag),
		QueriesGenerated: len(querySet.Queries),
		QueriesUsed:      len(querySet.Queries),
		ContextStage:     params.StageName,
		Confidence:       turnConfidence,
	}

	result, err := e.synthesizer.Synthesize(ctx, req.Messages, hits, meta)
	if err != nil {
		metrics.ChatTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	// feedback loop: observed confidence nudges the next turn's stage and
	// the session's acceptance threshold
	sess.StageOffset = e.relaxer.FeedbackOffset(sess.StageOffset, turnConfidence)
	sess.ThresholdAdjustment = e.adaptive.UpdateAdjustment(sess.ThresholdAdjustment, turnConfidence)
	sess.FeedbackCount++

	sess.Turns.Append(conversation.Turn{
		TurnNumber:      turnNumber,
		Timestamp:       time.Now(),
		Question:        question,
		ResponseSummary: summarize(result.Answer),
		ConfidenceScore: turnConfidence,
		SourcesUsed:     len(hits),
		ContextStage:    params.StageName,
	})

	latency := int(time.Since(startTime).Milliseconds())
	e.persistTurn(sessionID, turnNumber, question, result, hits, latency)

	metrics.ChatTotal.WithLabelValues("success").Inc()
	metrics.ChatDuration.WithLabelValues(string(tag)).Observe(time.Since(startTime).Seconds())
	metrics.QueriesGenerated.WithLabelValues(string(tag)).Observe(float64(len(querySet.Queries)))
	metrics.RetrievalHits.WithLabelValues(params.StageName).Observe(float64(len(hits)))
	metrics.StageUsage.WithLabelValues(params.StageName).Inc()
	metrics.ConfidenceScore.Observe(turnConfidence)

	logger.Info("Chat turn completed",
		zap.String("session_id", sessionID),
		zap.Int("turn", turnNumber),
		zap.String("strategy", string(tag)),
		zap.String("stage", params.StageName),
		zap.Int("sources", len(hits)),
		zap.Float64("confidence", turnConfidence),
		zap.Int("latency_ms", latency),
	)

	resp := &Response{
		Answer:   result.Answer,
		Sources:  hits,
		Metadata: result.Metadata,
	}

	if e.answers != nil {
		if err := e.answers.SetAnswer(ctx, cacheKey, resp); err != nil {
			logger.Warn("Failed to cache answer", zap.Error(err))
		}
	}

	return resp, nil
}

// ClearSession drops the session's server-side state immediately.
func (e *Engine) ClearSession(sessionID string) {
	e.sessions.Evict(sessionID)
}

// History returns the persisted diagnostics for a session, newest-capped.
func (e *Engine) History(sessionID string, limit int) ([]*models.ChatRecord, error) {
	if e.db == nil {
		return nil, nil
	}
	return e.db.GetChatHistory(sessionID, limit)
}

func (e *Engine) persistTurn(sessionID string, turnNumber int, question string, result *synthesis.Result, hits []orchestrator.Hit, latencyMS int) {
	if e.db == nil {
		return
	}

	chatID := uuid.New().String()
	record := &models.ChatRecord{
		ID:             chatID,
		SessionID:      sessionID,
		TurnNumber:     turnNumber,
		Question:       question,
		Answer:         result.Answer,
		Strategy:       result.Metadata.Strategy,
		ContextStage:   result.Metadata.ContextStage,
		QueriesUsed:    result.Metadata.QueriesUsed,
		SourcesUsed:    len(hits),
		Confidence:     result.Metadata.Confidence,
		PersonaPresent: result.Metadata.PersonaPreserved,
		LatencyMS:      latencyMS,
		CreatedAt:      time.Now(),
	}

	if err := e.db.InsertChatRecord(record); err != nil {
		logger.Warn("Failed to persist chat record", zap.Error(err))
		return
	}

	for _, hit := range hits {
		err := e.db.InsertChatSource(&models.ChatSource{
			ChatID:      chatID,
			Source:      hit.Source,
			ChunkIndex:  hit.ChunkIndex,
			Score:       hit.Score,
			OriginQuery: hit.OriginQuery,
		})
		if err != nil {
			logger.Warn("Failed to persist chat source", zap.Error(err))
		}
	}
}

// scoreTurn estimates context quality: the mean of the top three scores,
// scaled by how much of the requested top-k was actually filled.
func scoreTurn(hits []orchestrator.Hit, topK int) float64 {
	if len(hits) == 0 || topK <= 0 {
		return 0
	}

	n := 3
	if n > len(hits) {
		n = len(hits)
	}

	sum := 0.0
	for _, hit := range hits[:n] {
		sum += hit.Score
	}
	mean := sum / float64(n)

	coverage := float64(len(hits)) / float64(topK)
	if coverage > 1 {
		coverage = 1
	}

	score := mean * (0.7 + 0.3*coverage)
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

func lastUserQuestion(messages []llm.Message) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser && messages[i].Content != "" {
			return messages[i].Content, nil
		}
	}
	return "", ErrNoUserMessage
}

func lastAssistantMessage(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleAssistant {
			return messages[i].Content
		}
	}
	return ""
}

func messageViews(messages []llm.Message) []conversation.MessageView {
	views := make([]conversation.MessageView, len(messages))
	for i, m := range messages {
		views[i] = conversation.MessageView{Role: m.Role, Content: m.Content}
	}
	return views
}

// turnCacheKey fingerprints the full conversation so only byte-identical
// replays for the same session hit the cache.
func turnCacheKey(sessionID string, messages []llm.Message) string {
	var sb strings.Builder
	sb.WriteString(sessionID)
	for _, m := range messages {
		sb.WriteByte(0)
		sb.WriteString(m.Role)
		sb.WriteByte(0)
		sb.WriteString(m.Content)
	}
	return utils.HashString(sb.String())
}

func summarize(answer string) string {
	if len(answer) <= 200 {
		return answer
	}
	return answer[:200]
}
