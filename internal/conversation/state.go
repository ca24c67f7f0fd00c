package conversation

import "time"

// Phase is the coarse stage of the work the user is doing. Transitions are
// soft: a later message can move the phase backwards.
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseDrafting   Phase = "drafting"
	PhaseReviewing  Phase = "reviewing"
	PhaseFinalizing Phase = "finalizing"
)

// GoalKind is the fallback classification when no explicit goal phrase is
// present. Order matters: the first matching kind wins.
type GoalKind string

const (
	GoalSeekingHelp         GoalKind = "seeking_help"
	GoalExplanationRequest  GoalKind = "explanation_request"
	GoalHowToGuidance       GoalKind = "how_to_guidance"
	GoalProblemSolving      GoalKind = "problem_solving"
	GoalConfirmationRequest GoalKind = "confirmation_request"
	GoalGeneralInquiry      GoalKind = "general_inquiry"
)

// State is the evolving picture of a single session's conversation. It is
// owned by the session store and mutated in place by the Tracker.
type State struct {
	CurrentGoal     string
	Phase           Phase
	KeyEntities     []string
	KeyTopics       []string
	Constraints     []string
	ProgressMarkers []string
	NextSteps       []string
}

func NewState() *State {
	return &State{
		Phase:           PhasePlanning,
		KeyEntities:     make([]string, 0),
		KeyTopics:       make([]string, 0),
		Constraints:     make([]string, 0),
		ProgressMarkers: make([]string, 0),
		NextSteps:       make([]string, 0),
	}
}

// Turn records the outcome of one answered question. Kept in a capped ring
// buffer per session; older turns are dropped, not archived.
type Turn struct {
	TurnNumber      int
	Timestamp       time.Time
	Question        string
	ResponseSummary string
	ConfidenceScore float64
	SourcesUsed     int
	ContextStage    string
}

// appendCapped adds value to an ordered set with FIFO eviction once the cap
// is reached. Duplicate values refresh nothing and are ignored.
func appendCapped(set []string, value string, cap int) []string {
	if value == "" || cap <= 0 {
		return set
	}
	for _, existing := range set {
		if existing == value {
			return set
		}
	}
	set = append(set, value)
	if len(set) > cap {
		set = set[len(set)-cap:]
	}
	return set
}
