package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convorag/backend/internal/llm"
	"github.com/convorag/backend/internal/orchestrator"
)

type fakeCompleter struct {
	lastRequest llm.CompletionRequest
	reply       string
	err         error
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{
		Content: f.reply,
		Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func pirateConversation() []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a pirate."},
		{Role: llm.RoleUser, Content: "how do I reset my password?"},
	}
}

func someHits() []orchestrator.Hit {
	return []orchestrator.Hit{
		{Content: "Passwords reset via the account page.", Source: "accounts.md", ChunkIndex: 3, Score: 0.91},
		{Content: "Resets expire after one hour.", Source: "accounts.md", ChunkIndex: 4, Score: 0.84},
	}
}

func TestBuildMessagesPreservesPersona(t *testing.T) {
	out := BuildMessages(pirateConversation(), someHits())

	require.NotEmpty(t, out)
	system := out[0]
	assert.Equal(t, llm.RoleSystem, system.Role)

	// the persona text survives verbatim at the head of the system message
	assert.True(t, strings.HasPrefix(system.Content, "You are a pirate."))
	assert.Contains(t, system.Content, contextHeader)
	assert.Contains(t, system.Content, "Passwords reset via the account page.")
}

func TestBuildMessagesNoHitsPassThrough(t *testing.T) {
	in := pirateConversation()
	out := BuildMessages(in, nil)

	assert.Equal(t, in, out)
}

func TestBuildMessagesNoSystemMessagePrependsDefault(t *testing.T) {
	in := []llm.Message{
		{Role: llm.RoleUser, Content: "how do I reset my password?"},
	}

	out := BuildMessages(in, someHits())

	require.Len(t, out, 2)
	assert.Equal(t, llm.RoleSystem, out[0].Role)
	assert.Contains(t, out[0].Content, contextHeader)
	assert.Equal(t, in[0], out[1])
}

func TestBuildMessagesOnlyFirstSystemAugmented(t *testing.T) {
	in := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a pirate."},
		{Role: llm.RoleSystem, Content: "Always answer in English."},
		{Role: llm.RoleUser, Content: "password reset?"},
	}

	out := BuildMessages(in, someHits())

	require.Len(t, out, 3)
	assert.Contains(t, out[0].Content, contextHeader)
	assert.Equal(t, "Always answer in English.", out[1].Content)
}

func TestBuildMessagesContextIsNumberedWithSources(t *testing.T) {
	out := BuildMessages(pirateConversation(), someHits())

	assert.Contains(t, out[0].Content, "[1] (source: accounts.md#3")
	assert.Contains(t, out[0].Content, "[2] (source: accounts.md#4")
}

func TestSynthesizeSingleCompletionCall(t *testing.T) {
	completer := &fakeCompleter{reply: "Arr, click ye the reset link!"}
	s := New(completer, 0.3, 512)

	result, err := s.Synthesize(context.Background(), pirateConversation(), someHits(), Metadata{
		SessionID: "s1",
		Strategy:  "multi_turn_advanced",
	})
	require.NoError(t, err)

	assert.Equal(t, "Arr, click ye the reset link!", result.Answer)
	assert.Equal(t, 15, result.Usage.TotalTokens)
	assert.True(t, result.Metadata.PersonaPreserved)
	assert.Equal(t, 2, result.Metadata.SourcesUsed)

	// the completer saw the augmented system message, not a replaced one
	require.NotEmpty(t, completer.lastRequest.Messages)
	assert.True(t, strings.HasPrefix(completer.lastRequest.Messages[0].Content, "You are a pirate."))
}

func TestSynthesizeNoContextStillAnswers(t *testing.T) {
	completer := &fakeCompleter{reply: "Arr, no charts for that, matey."}
	s := New(completer, 0.3, 512)

	result, err := s.Synthesize(context.Background(), pirateConversation(), nil, Metadata{})
	require.NoError(t, err)

	assert.Equal(t, "Arr, no charts for that, matey.", result.Answer)
	assert.Zero(t, result.Metadata.SourcesUsed)
	assert.Equal(t, "You are a pirate.", completer.lastRequest.Messages[0].Content)
}

func TestSynthesizeCompleterError(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("model unavailable")}
	s := New(completer, 0.3, 512)

	_, err := s.Synthesize(context.Background(), pirateConversation(), someHits(), Metadata{})
	assert.Error(t, err)
}
