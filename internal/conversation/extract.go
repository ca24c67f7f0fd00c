package conversation

import (
	"regexp"
	"strings"
	"unicode"
)

// Pure extraction heuristics over a single message. No state, no I/O; every
// function is deterministic so the tracker built on top stays testable.

var goalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi need to\s+(.{3,80})`),
	regexp.MustCompile(`(?i)\bhelp me\s+(.{3,80})`),
	regexp.MustCompile(`(?i)\bi want to\s+(.{3,80})`),
	regexp.MustCompile(`(?i)\bi'?m trying to\s+(.{3,80})`),
	regexp.MustCompile(`(?i)\bmy goal is\s+(?:to\s+)?(.{3,80})`),
	regexp.MustCompile(`(?i)\bcan you\s+(.{3,80})`),
}

// goalInference maps fallback goal kinds to their trigger keywords. The
// slice order is the classification priority; first match wins.
var goalInference = []struct {
	kind     GoalKind
	keywords []string
}{
	{GoalSeekingHelp, []string{"help", "assist", "support", "stuck"}},
	{GoalExplanationRequest, []string{"explain", "what is", "what are", "meaning", "understand"}},
	{GoalHowToGuidance, []string{"how to", "how do", "how can", "steps", "guide"}},
	{GoalProblemSolving, []string{"error", "issue", "problem", "fix", "broken", "fail", "debug"}},
	{GoalConfirmationRequest, []string{"is it", "should i", "correct", "right", "confirm", "verify"}},
	{GoalGeneralInquiry, nil},
}

var phaseKeywords = map[Phase][]string{
	PhasePlanning:   {"plan", "planning", "outline", "structure", "approach", "design", "architecture", "brainstorm", "requirements"},
	PhaseDrafting:   {"write", "draft", "implement", "build", "create", "code", "develop", "add"},
	PhaseReviewing:  {"review", "check", "feedback", "improve", "revise", "refactor", "test", "edit"},
	PhaseFinalizing: {"final", "finish", "complete", "polish", "deploy", "publish", "release", "submit"},
}

// acronymAllowList accepts short technical tokens that a plain
// capitalized-word rule would miss. "API" on its own must extract.
var acronymAllowList = map[string]bool{
	"AI": true, "API": true, "AWS": true, "CD": true, "CI": true,
	"CLI": true, "CSS": true, "DB": true, "DNS": true, "GCP": true,
	"GPU": true, "IP": true, "JWT": true, "K8S": true, "ML": true,
	"OS": true, "QA": true, "SDK": true, "SQL": true, "SSH": true,
	"TLS": true, "UI": true, "URL": true, "UX": true, "VM": true,
}

// entityStopwords are capitalized only because of sentence position.
var entityStopwords = map[string]bool{
	"a": true, "an": true, "and": true, "but": true, "can": true,
	"could": true, "do": true, "does": true, "for": true, "how": true,
	"i": true, "if": true, "in": true, "is": true, "it": true,
	"my": true, "of": true, "on": true, "or": true, "our": true,
	"please": true, "should": true, "so": true, "that": true, "the": true,
	"then": true, "this": true, "to": true, "we": true, "what": true,
	"when": true, "where": true, "which": true, "why": true, "will": true,
	"with": true, "would": true, "yes": true, "you": true, "your": true,
	"no": true, "not": true, "tell": true, "me": true, "about": true,
}

var topicKeywords = map[string][]string{
	"authentication": {"auth", "login", "password", "token", "credential", "oauth"},
	"database":       {"database", "query", "schema", "migration", "index", "table"},
	"deployment":     {"deploy", "docker", "kubernetes", "container", "pipeline", "release"},
	"performance":    {"performance", "latency", "slow", "optimize", "cache", "throughput"},
	"security":       {"security", "encrypt", "vulnerability", "permission", "access control"},
	"testing":        {"test", "coverage", "mock", "assertion", "regression"},
	"writing":        {"essay", "article", "story", "chapter", "paragraph", "tone"},
}

var constraintPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmust(?:n't| not)?\s+(.{3,60})`),
	regexp.MustCompile(`(?i)\bshould not\s+(.{3,60})`),
	regexp.MustCompile(`(?i)\bwithout\s+(.{3,60})`),
	regexp.MustCompile(`(?i)\bonly\s+(.{3,60})`),
	regexp.MustCompile(`(?i)\bno more than\s+(.{3,60})`),
	regexp.MustCompile(`(?i)\bdeadline\s+(?:is\s+)?(.{3,60})`),
}

var actionVerbs = []string{
	"build", "create", "write", "fix", "deploy", "design", "implement",
	"review", "test", "optimize", "migrate", "configure", "debug",
}

// ExtractGoal returns the first explicit goal phrase found, or empty.
func ExtractGoal(text string) string {
	for _, pattern := range goalPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			goal := strings.TrimSpace(m[1])
			goal = strings.TrimRight(goal, ".!?")
			if goal != "" {
				return goal
			}
		}
	}
	return ""
}

// InferGoalKind classifies a message into the fixed fallback set when no
// explicit goal phrase was found.
func InferGoalKind(text string) GoalKind {
	lower := strings.ToLower(text)
	for _, entry := range goalInference {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.kind
			}
		}
	}
	return GoalGeneralInquiry
}

// DetectPhase scores the message against each phase keyword set and returns
// the best phase with a confidence in [0,1]. Confidence below the tracker's
// threshold means the previous phase is retained.
func DetectPhase(text string) (Phase, float64) {
	lower := strings.ToLower(text)
	words := len(strings.Fields(lower))
	if words == 0 {
		return PhasePlanning, 0
	}

	best := PhasePlanning
	bestHits := 0
	for _, phase := range []Phase{PhasePlanning, PhaseDrafting, PhaseReviewing, PhaseFinalizing} {
		hits := 0
		for _, kw := range phaseKeywords[phase] {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best = phase
			bestHits = hits
		}
	}

	if bestHits == 0 {
		return PhasePlanning, 0
	}

	confidence := float64(bestHits) / float64(min(words, 5))
	if confidence > 1 {
		confidence = 1
	}
	return best, confidence
}

// ExtractEntities pulls salient tokens: capitalized words of at least two
// characters, plus short uppercase acronyms checked against the allow-list.
// The allow-list exists because a length rule alone drops tokens like "API"
// or "ML" that are often the entire question.
func ExtractEntities(text string) []string {
	entities := make([]string, 0)
	seen := make(map[string]bool)

	for _, raw := range strings.Fields(text) {
		token := strings.Trim(raw, ".,!?;:()[]{}\"'")
		if token == "" || seen[strings.ToLower(token)] {
			continue
		}

		if isAllowedAcronym(token) {
			entities = append(entities, strings.ToUpper(token))
			seen[strings.ToLower(token)] = true
			continue
		}

		if len(token) >= 2 && isCapitalized(token) && !entityStopwords[strings.ToLower(token)] {
			entities = append(entities, token)
			seen[strings.ToLower(token)] = true
		}
	}

	return entities
}

// ExtractTopics matches the message against keyword families and returns
// the family names.
func ExtractTopics(text string) []string {
	lower := strings.ToLower(text)
	topics := make([]string, 0)

	for _, topic := range sortedTopicNames() {
		for _, kw := range topicKeywords[topic] {
			if strings.Contains(lower, kw) {
				topics = append(topics, topic)
				break
			}
		}
	}

	return topics
}

// ExtractConstraints finds requirement-shaped phrases.
func ExtractConstraints(text string) []string {
	constraints := make([]string, 0)
	for _, pattern := range constraintPatterns {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			c := strings.TrimSpace(strings.TrimRight(m[1], ".!?"))
			if c != "" {
				constraints = append(constraints, c)
			}
		}
	}
	return constraints
}

// ExtractActions returns the action verbs present, used by the summary
// query generator.
func ExtractActions(text string) []string {
	lower := strings.ToLower(text)
	actions := make([]string, 0)
	for _, verb := range actionVerbs {
		if strings.Contains(lower, verb) {
			actions = append(actions, verb)
		}
	}
	return actions
}

func isAllowedAcronym(token string) bool {
	if len(token) < 2 || len(token) > 3 {
		return false
	}
	return acronymAllowList[strings.ToUpper(token)]
}

func isCapitalized(token string) bool {
	runes := []rune(token)
	if !unicode.IsUpper(runes[0]) {
		return false
	}
	for _, r := range runes[1:] {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func sortedTopicNames() []string {
	// Fixed iteration order keeps extraction deterministic.
	return []string{"authentication", "database", "deployment", "performance", "security", "testing", "writing"}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
