package strategy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/convorag/backend/internal/conversation"
)

func userMsg(content string) conversation.MessageView {
	return conversation.MessageView{Role: "user", Content: content}
}

func TestSelectTechnicalPicksEntityExtraction(t *testing.T) {
	messages := []conversation.MessageView{
		userMsg("my api endpoint returns an error after deploy"),
	}

	assert.Equal(t, EntityExtraction, Select(messages, conversation.NewState()))
}

func TestSelectCreativePicksTopicTracking(t *testing.T) {
	messages := []conversation.MessageView{
		userMsg("the story needs a stronger character and a darker tone"),
	}

	assert.Equal(t, TopicTracking, Select(messages, conversation.NewState()))
}

func TestSelectGeneralDefaultsToAdvanced(t *testing.T) {
	messages := []conversation.MessageView{
		userMsg("tell me something interesting about tea"),
	}

	assert.Equal(t, MultiTurnAdvanced, Select(messages, conversation.NewState()))
}

func TestSelectHighComplexityOverridesType(t *testing.T) {
	long := strings.Repeat("my api endpoint returns an error after deploy ", 12)
	messages := make([]conversation.MessageView, 0, 24)
	for i := 0; i < 24; i++ {
		messages = append(messages, userMsg(long))
	}

	state := conversation.NewState()
	state.KeyEntities = []string{"Gateway", "Postgres", "Redis", "Milvus", "Kafka", "Envoy"}
	state.KeyTopics = []string{"deployment", "performance", "database"}

	f := Analyze(messages, state)
	assert.Greater(t, f.Complexity, complexityAdvancedThreshold)
	assert.Equal(t, TypeTechnical, f.Type)

	// complexity outranks the technical classification
	assert.Equal(t, MultiTurnAdvanced, Select(messages, state))
}

func TestSelectTechnicalWinsTies(t *testing.T) {
	// one technical keyword, one creative keyword
	messages := []conversation.MessageView{
		userMsg("write the code"),
	}

	f := Analyze(messages, conversation.NewState())
	assert.Equal(t, TypeTechnical, f.Type)
}

func TestSelectDeterministic(t *testing.T) {
	messages := []conversation.MessageView{
		userMsg("debug the database query"),
		{Role: "assistant", Content: "Which query is slow?"},
		userMsg("the one joining users and orders"),
	}
	state := conversation.NewState()
	state.KeyEntities = []string{"Postgres"}

	first := Select(messages, state)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Select(messages, state))
	}
}

func TestAnalyzeEmptyConversation(t *testing.T) {
	f := Analyze(nil, nil)
	assert.Zero(t, f.MessageCount)
	assert.Zero(t, f.Complexity)
	assert.Equal(t, TypeGeneral, f.Type)
}
