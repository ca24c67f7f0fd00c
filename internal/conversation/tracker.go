package conversation

import (
	"strings"

	"go.uber.org/zap"

	"github.com/convorag/backend/pkg/logger"
)

// TrackerConfig bounds the state a session may accumulate.
type TrackerConfig struct {
	MaxKeyEntities           int
	MaxConstraints           int
	PhaseConfidenceThreshold float64
}

func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxKeyEntities:           12,
		MaxConstraints:           8,
		PhaseConfidenceThreshold: 0.4,
	}
}

// Tracker folds extractor output across turns into a session's State.
type Tracker struct {
	cfg TrackerConfig
}

func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.MaxKeyEntities == 0 {
		cfg.MaxKeyEntities = 12
	}
	if cfg.MaxConstraints == 0 {
		cfg.MaxConstraints = 8
	}
	if cfg.PhaseConfidenceThreshold == 0 {
		cfg.PhaseConfidenceThreshold = 0.4
	}
	return &Tracker{cfg: cfg}
}

// Update mutates state in place from the new user messages of a turn.
// Assistant and system messages are skipped: the state tracks what the user
// is asking for, not what the model said.
func (t *Tracker) Update(state *State, messages []MessageView) {
	for _, msg := range messages {
		if msg.Role != "user" {
			continue
		}
		t.updateFromMessage(state, msg.Content)
	}
}

// MessageView is the minimal slice of a conversation message the tracker
// needs, avoiding a dependency on the transport types.
type MessageView struct {
	Role    string
	Content string
}

func (t *Tracker) updateFromMessage(state *State, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}

	if goal := ExtractGoal(content); goal != "" {
		state.CurrentGoal = goal
	} else if state.CurrentGoal == "" {
		state.CurrentGoal = string(InferGoalKind(content))
	}

	phase, confidence := DetectPhase(content)
	if confidence >= t.cfg.PhaseConfidenceThreshold && phase != state.Phase {
		logger.Debug("Conversation phase changed",
			zap.String("from", string(state.Phase)),
			zap.String("to", string(phase)),
			zap.Float64("confidence", confidence),
		)
		state.Phase = phase
	}

	for _, entity := range ExtractEntities(content) {
		state.KeyEntities = appendCapped(state.KeyEntities, entity, t.cfg.MaxKeyEntities)
	}

	for _, topic := range ExtractTopics(content) {
		state.KeyTopics = appendCapped(state.KeyTopics, topic, t.cfg.MaxKeyEntities)
	}

	for _, constraint := range ExtractConstraints(content) {
		state.Constraints = appendCapped(state.Constraints, constraint, t.cfg.MaxConstraints)
	}

	lower := strings.ToLower(content)
	if strings.Contains(lower, "done") || strings.Contains(lower, "finished") || strings.Contains(lower, "completed") {
		state.ProgressMarkers = appendCapped(state.ProgressMarkers, firstSentence(content), t.cfg.MaxConstraints)
	}
	if strings.Contains(lower, "next") || strings.Contains(lower, "then i") || strings.Contains(lower, "after that") {
		state.NextSteps = appendCapped(state.NextSteps, firstSentence(content), t.cfg.MaxConstraints)
	}
}

func firstSentence(text string) string {
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if idx := strings.Index(text, sep); idx > 0 {
			return strings.TrimSpace(text[:idx+1])
		}
	}
	if len(text) > 120 {
		return strings.TrimSpace(text[:120])
	}
	return strings.TrimSpace(text)
}
