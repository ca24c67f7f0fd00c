package strategy

import (
	"strings"

	"github.com/convorag/backend/internal/conversation"
)

// Tag identifies a query-generation strategy. The set is closed; selection
// is a pure function of conversation shape so identical input always picks
// the same strategy.
type Tag string

const (
	MultiTurnAdvanced Tag = "multi_turn_advanced"
	EntityExtraction  Tag = "entity_extraction"
	TopicTracking     Tag = "topic_tracking"
)

// ConversationType is the coarse flavor of the conversation, derived from
// keyword families.
type ConversationType string

const (
	TypeTechnical ConversationType = "technical"
	TypeCreative  ConversationType = "creative"
	TypeGeneral   ConversationType = "general"
)

var technicalKeywords = []string{
	"code", "api", "error", "function", "deploy", "database", "server",
	"bug", "config", "install", "compile", "query", "endpoint", "debug",
}

var creativeKeywords = []string{
	"story", "write", "essay", "poem", "character", "plot", "tone",
	"chapter", "draft", "narrative", "style", "creative",
}

const complexityAdvancedThreshold = 0.7

// Features summarizes the conversation shape the selector operates on.
type Features struct {
	MessageCount  int
	AvgLength     float64
	EntityDensity float64
	Complexity    float64
	Type          ConversationType
}

// Analyze computes selection features from the raw messages and tracked
// state.
func Analyze(messages []conversation.MessageView, state *conversation.State) Features {
	f := Features{MessageCount: len(messages)}

	totalLen := 0
	userMessages := 0
	lowerAll := strings.Builder{}
	for _, m := range messages {
		totalLen += len(m.Content)
		lowerAll.WriteString(strings.ToLower(m.Content))
		lowerAll.WriteByte(' ')
		if m.Role == "user" {
			userMessages++
		}
	}
	if len(messages) > 0 {
		f.AvgLength = float64(totalLen) / float64(len(messages))
	}

	tracked := 0
	if state != nil {
		tracked = len(state.KeyEntities) + len(state.KeyTopics)
	}
	if userMessages > 0 {
		f.EntityDensity = float64(tracked) / float64(userMessages)
	}

	f.Complexity = complexityScore(f.MessageCount, f.AvgLength, f.EntityDensity)
	f.Type = classifyType(lowerAll.String())

	return f
}

// Select picks the strategy. Rules evaluated in order: high complexity wins,
// then conversation type, then the advanced default.
func Select(messages []conversation.MessageView, state *conversation.State) Tag {
	f := Analyze(messages, state)

	switch {
	case f.Complexity > complexityAdvancedThreshold:
		return MultiTurnAdvanced
	case f.Type == TypeTechnical:
		return EntityExtraction
	case f.Type == TypeCreative:
		return TopicTracking
	default:
		return MultiTurnAdvanced
	}
}

// complexityScore blends message count, average message length and tracked
// entity density into [0,1]. Each term saturates so no single dimension
// dominates.
func complexityScore(messageCount int, avgLength, entityDensity float64) float64 {
	countTerm := saturate(float64(messageCount)/20.0) * 0.4
	lengthTerm := saturate(avgLength/400.0) * 0.3
	densityTerm := saturate(entityDensity/4.0) * 0.3
	return countTerm + lengthTerm + densityTerm
}

func classifyType(lower string) ConversationType {
	technicalHits := 0
	for _, kw := range technicalKeywords {
		if strings.Contains(lower, kw) {
			technicalHits++
		}
	}

	creativeHits := 0
	for _, kw := range creativeKeywords {
		if strings.Contains(lower, kw) {
			creativeHits++
		}
	}

	switch {
	case technicalHits == 0 && creativeHits == 0:
		return TypeGeneral
	case technicalHits >= creativeHits:
		return TypeTechnical
	default:
		return TypeCreative
	}
}

func saturate(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
