package chat

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convorag/backend/internal/confidence"
	"github.com/convorag/backend/internal/conversation"
	"github.com/convorag/backend/internal/llm"
	"github.com/convorag/backend/internal/orchestrator"
	"github.com/convorag/backend/internal/relaxation"
	"github.com/convorag/backend/internal/session"
	"github.com/convorag/backend/internal/strategy"
	"github.com/convorag/backend/internal/synthesis"
	"github.com/convorag/backend/internal/vector/milvus"
)

type stubEmbedder struct{}

func (stubEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 2, 3}, nil
}

type stubSearcher struct {
	results []milvus.SearchResult
}

func (s stubSearcher) Search(ctx context.Context, embedding []float32, topK int, threshold float64) ([]milvus.SearchResult, error) {
	return s.results, nil
}

type stubCompleter struct {
	reply       string
	lastSystem  string
	systemCount int
	calls       int
}

func (s *stubCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.calls++
	s.systemCount = 0
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			s.systemCount++
			s.lastSystem = m.Content
		}
	}
	return &llm.CompletionResponse{Content: s.reply}, nil
}

func newTestEngine(searcher stubSearcher, completer *stubCompleter) *Engine {
	store := session.NewStore(time.Minute, time.Minute)
	tracker := conversation.NewTracker(conversation.DefaultTrackerConfig())
	relaxer := relaxation.New(relaxation.DefaultConfig())
	adaptive := confidence.New(confidence.DefaultConfig())
	retriever := orchestrator.New(stubEmbedder{}, searcher, nil, orchestrator.DefaultConfig())
	synthesizer := synthesis.New(completer, 0.3, 512)

	return NewEngine(store, tracker, relaxer, adaptive, retriever, synthesizer,
		nil, nil, strategy.DefaultGeneratorConfig(), 20)
}

func userTurn(content string) Request {
	return Request{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a pirate."},
		{Role: llm.RoleUser, Content: content},
	}}
}

func TestChatRejectsConversationWithoutUserMessage(t *testing.T) {
	engine := newTestEngine(stubSearcher{}, &stubCompleter{reply: "x"})

	_, err := engine.Chat(context.Background(), Request{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a pirate."},
	}})
	assert.ErrorIs(t, err, ErrNoUserMessage)
}

func TestChatAssignsSessionID(t *testing.T) {
	engine := newTestEngine(stubSearcher{}, &stubCompleter{reply: "x"})

	resp, err := engine.Chat(context.Background(), userTurn("how do I reset my password?"))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Metadata.SessionID)
}

func TestChatAnswerWithSources(t *testing.T) {
	searcher := stubSearcher{results: []milvus.SearchResult{
		{Text: "Reset via the account page.", Source: "accounts.md", ChunkIndex: 1, Score: 0.9},
	}}
	completer := &stubCompleter{reply: "Arr, the account page be yer friend."}
	engine := newTestEngine(searcher, completer)

	resp, err := engine.Chat(context.Background(), userTurn("how do I reset my password?"))
	require.NoError(t, err)

	assert.Equal(t, "Arr, the account page be yer friend.", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "accounts.md", resp.Sources[0].Source)
	assert.True(t, resp.Metadata.PersonaPreserved)
	assert.Greater(t, resp.Metadata.QueriesGenerated, 0)
	assert.NotEmpty(t, resp.Metadata.ContextStage)

	// the persona still heads the system message the model received
	assert.True(t, strings.HasPrefix(completer.lastSystem, "You are a pirate."))
	assert.Equal(t, 1, completer.systemCount)
}

func TestChatEmptyCorpusStillAnswers(t *testing.T) {
	completer := &stubCompleter{reply: "Arr, me charts be empty."}
	engine := newTestEngine(stubSearcher{}, completer)

	resp, err := engine.Chat(context.Background(), userTurn("what is the refund policy?"))
	require.NoError(t, err)

	assert.Equal(t, "Arr, me charts be empty.", resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Zero(t, resp.Metadata.Confidence)
}

func TestChatTurnNumbersAdvancePerSession(t *testing.T) {
	engine := newTestEngine(stubSearcher{}, &stubCompleter{reply: "x"})

	req := userTurn("first question about the API")
	req.SessionID = "fixed"
	resp1, err := engine.Chat(context.Background(), req)
	require.NoError(t, err)

	req2 := userTurn("and a follow up?")
	req2.SessionID = "fixed"
	resp2, err := engine.Chat(context.Background(), req2)
	require.NoError(t, err)

	assert.Equal(t, resp1.Metadata.SessionID, resp2.Metadata.SessionID)
	assert.Equal(t, "fixed", resp2.Metadata.SessionID)
}

func TestChatClearSessionResetsState(t *testing.T) {
	searcher := stubSearcher{results: []milvus.SearchResult{
		{Text: "passage", Source: "a.md", Score: 0.95},
	}}
	engine := newTestEngine(searcher, &stubCompleter{reply: "x"})

	req := userTurn("tell me about the SDK")
	req.SessionID = "s1"
	_, err := engine.Chat(context.Background(), req)
	require.NoError(t, err)

	engine.ClearSession("s1")

	sess := engine.sessions.GetOrCreate("s1", 20)
	assert.Zero(t, sess.Turns.TotalTurns())
	assert.Zero(t, sess.StageOffset)
}

func TestChatTopKOverride(t *testing.T) {
	many := make([]milvus.SearchResult, 0, 10)
	for i := 0; i < 10; i++ {
		many = append(many, milvus.SearchResult{
			Text: strings.Repeat("p", i+1), Source: "a.md", ChunkIndex: i, Score: 0.9,
		})
	}
	engine := newTestEngine(stubSearcher{results: many}, &stubCompleter{reply: "x"})

	req := userTurn("question?")
	req.TopK = 2
	resp, err := engine.Chat(context.Background(), req)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(resp.Sources), 2)
}

type memAnswerCache struct {
	data map[string][]byte
}

func (m *memAnswerCache) GetAnswer(ctx context.Context, hash string, response interface{}) (bool, error) {
	b, ok := m.data[hash]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, response)
}

func (m *memAnswerCache) SetAnswer(ctx context.Context, hash string, response interface{}) error {
	b, err := json.Marshal(response)
	if err != nil {
		return err
	}
	m.data[hash] = b
	return nil
}

func TestChatReplayServedFromCache(t *testing.T) {
	completer := &stubCompleter{reply: "Arr, once be enough."}
	store := session.NewStore(time.Minute, time.Minute)
	tracker := conversation.NewTracker(conversation.DefaultTrackerConfig())
	relaxer := relaxation.New(relaxation.DefaultConfig())
	adaptive := confidence.New(confidence.DefaultConfig())
	retriever := orchestrator.New(stubEmbedder{}, stubSearcher{}, nil, orchestrator.DefaultConfig())
	synthesizer := synthesis.New(completer, 0.3, 512)
	cache := &memAnswerCache{data: make(map[string][]byte)}

	engine := NewEngine(store, tracker, relaxer, adaptive, retriever, synthesizer,
		nil, cache, strategy.DefaultGeneratorConfig(), 20)

	req := userTurn("what is the refund policy?")
	req.SessionID = "retrying"

	first, err := engine.Chat(context.Background(), req)
	require.NoError(t, err)

	second, err := engine.Chat(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, 1, completer.calls)

	// the replay must not advance the conversation
	sess := engine.sessions.GetOrCreate("retrying", 20)
	assert.Equal(t, 1, sess.Turns.TotalTurns())
}

func TestScoreTurn(t *testing.T) {
	hits := []orchestrator.Hit{{Score: 0.9}, {Score: 0.8}, {Score: 0.7}, {Score: 0.1}}

	got := scoreTurn(hits, 4)
	assert.Greater(t, got, 0.0)
	assert.LessOrEqual(t, got, 1.0)

	assert.Zero(t, scoreTurn(nil, 4))
	assert.Zero(t, scoreTurn(hits, 0))
}
