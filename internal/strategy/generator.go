package strategy

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/convorag/backend/internal/conversation"
	"github.com/convorag/backend/pkg/logger"
	"github.com/convorag/backend/pkg/utils"
)

// GeneratorConfig bounds every query set a generator may emit.
type GeneratorConfig struct {
	MaxQueries       int
	MinQueryLength   int
	MaxQueryLength   int
	RecentTurnWindow int
}

func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MaxQueries:       6,
		MinQueryLength:   3,
		MaxQueryLength:   512,
		RecentTurnWindow: 3,
	}
}

// Context is everything a generator may draw on beyond the question itself.
type Context struct {
	State             *conversation.State
	RecentTurns       []conversation.Turn
	PreviousAssistant string
}

// WeightedQuery is one candidate retrieval query.
type WeightedQuery struct {
	Text   string
	Weight float64
}

// QuerySet is the bounded, deduplicated output of a generator. The verbatim
// original question is always the first element.
type QuerySet struct {
	Original string
	Queries  []WeightedQuery
	Method   Tag
}

// Texts returns just the query strings, in order.
func (qs *QuerySet) Texts() []string {
	out := make([]string, len(qs.Queries))
	for i, q := range qs.Queries {
		out[i] = q.Text
	}
	return out
}

// Generator produces candidate queries for one turn.
type Generator interface {
	Tag() Tag
	Generate(question string, ctx Context) *QuerySet
}

// ForTag returns the generator for a strategy tag. The set is closed; an
// unknown tag falls back to the advanced strategy.
func ForTag(tag Tag, cfg GeneratorConfig) Generator {
	switch tag {
	case EntityExtraction:
		return &entityGenerator{cfg: cfg}
	case TopicTracking:
		return &topicGenerator{cfg: cfg}
	default:
		return &advancedGenerator{cfg: cfg}
	}
}

// --- strategy implementations ---

// advancedGenerator layers every reformulation technique; the default for
// complex or unclassified conversations.
type advancedGenerator struct {
	cfg GeneratorConfig
}

func (g *advancedGenerator) Tag() Tag { return MultiTurnAdvanced }

func (g *advancedGenerator) Generate(question string, ctx Context) *QuerySet {
	b := newBuilder(question, MultiTurnAdvanced, g.cfg)
	b.add(condensedQuery(question, ctx, g.cfg.RecentTurnWindow), 0.9)
	b.addAll(shortQuestionExpansions(question, ctx), 0.9)
	b.add(summaryQuery(question, ctx), 0.7)
	b.add(goalQuery(question, ctx), 0.8)
	b.add(phaseQuery(question, ctx), 0.6)
	b.addAll(entityExpansions(question, ctx, 2), 0.6)
	b.addAll(topicExpansions(question, ctx, 1), 0.5)
	return b.build()
}

// entityGenerator leans on tracked entities; chosen for technical
// conversations where named components carry the signal.
type entityGenerator struct {
	cfg GeneratorConfig
}

func (g *entityGenerator) Tag() Tag { return EntityExtraction }

func (g *entityGenerator) Generate(question string, ctx Context) *QuerySet {
	b := newBuilder(question, EntityExtraction, g.cfg)
	b.add(condensedQuery(question, ctx, g.cfg.RecentTurnWindow), 0.9)
	b.addAll(shortQuestionExpansions(question, ctx), 0.9)
	b.addAll(entityExpansions(question, ctx, 4), 0.8)
	b.add(goalQuery(question, ctx), 0.7)
	return b.build()
}

// topicGenerator follows thematic drift; chosen for creative conversations.
type topicGenerator struct {
	cfg GeneratorConfig
}

func (g *topicGenerator) Tag() Tag { return TopicTracking }

func (g *topicGenerator) Generate(question string, ctx Context) *QuerySet {
	b := newBuilder(question, TopicTracking, g.cfg)
	b.add(condensedQuery(question, ctx, g.cfg.RecentTurnWindow), 0.9)
	b.addAll(shortQuestionExpansions(question, ctx), 0.9)
	b.addAll(topicExpansions(question, ctx, 3), 0.8)
	b.add(summaryQuery(question, ctx), 0.7)
	b.add(phaseQuery(question, ctx), 0.6)
	return b.build()
}

// --- shared building blocks ---

var pronouns = map[string]bool{
	"it": true, "this": true, "that": true, "they": true, "them": true,
	"these": true, "those": true, "its": true, "their": true,
}

var yesNoReplies = map[string]bool{
	"yes": true, "no": true, "yeah": true, "yep": true, "nope": true,
	"sure": true, "ok": true, "okay": true, "correct": true, "exactly": true,
}

var whWords = map[string]bool{
	"why": true, "how": true, "what": true, "when": true, "where": true, "which": true,
}

// condensedQuery builds a standalone query from the most salient tracked
// context plus the current question. This is what makes one-word follow-ups
// ("Authentication") retrievable: the question alone carries no anchor, so
// recent entities, topics and the goal are folded in. Pronouns in the
// question are resolved implicitly by the same prefix.
func condensedQuery(question string, ctx Context, turnWindow int) string {
	if ctx.State == nil {
		return ""
	}

	parts := make([]string, 0, 6)

	if ctx.State.CurrentGoal != "" && !isInferredGoal(ctx.State.CurrentGoal) {
		parts = append(parts, ctx.State.CurrentGoal)
	}
	parts = append(parts, topN(ctx.State.KeyEntities, 3)...)
	parts = append(parts, topN(ctx.State.KeyTopics, 2)...)

	// Anchor elliptical follow-ups to the previous question.
	if needsReference(question) && turnWindow > 0 && len(ctx.RecentTurns) > 0 {
		last := ctx.RecentTurns[len(ctx.RecentTurns)-1]
		parts = append(parts, last.Question)
	}

	if len(parts) == 0 {
		return ""
	}

	parts = append(parts, question)
	return strings.Join(parts, " ")
}

// summaryQuery compresses the recent turns into a compact structured
// string. Later turns contribute first so recency wins when the parts list
// is truncated by the length bound.
func summaryQuery(question string, ctx Context) string {
	if ctx.State == nil {
		return ""
	}

	var sb strings.Builder

	if ctx.State.CurrentGoal != "" {
		sb.WriteString("Goal: ")
		sb.WriteString(strings.ReplaceAll(ctx.State.CurrentGoal, "_", " "))
	}

	entities := make([]string, 0, 6)
	for i := len(ctx.RecentTurns) - 1; i >= 0; i-- {
		for _, e := range conversation.ExtractEntities(ctx.RecentTurns[i].Question) {
			entities = appendUnique(entities, e, 6)
		}
	}
	for _, e := range topN(ctx.State.KeyEntities, 4) {
		entities = appendUnique(entities, e, 6)
	}
	if len(entities) > 0 {
		sb.WriteString(" Entities: ")
		sb.WriteString(strings.Join(entities, " "))
	}

	actions := conversation.ExtractActions(question)
	for i := len(ctx.RecentTurns) - 1; i >= 0 && len(actions) < 4; i-- {
		for _, a := range conversation.ExtractActions(ctx.RecentTurns[i].Question) {
			actions = appendUnique(actions, a, 4)
		}
	}
	if len(actions) > 0 {
		sb.WriteString(" Actions: ")
		sb.WriteString(strings.Join(actions, " "))
	}

	if sb.Len() == 0 {
		return ""
	}

	sb.WriteString(" ")
	sb.WriteString(question)
	return sb.String()
}

func goalQuery(question string, ctx Context) string {
	if ctx.State == nil || ctx.State.CurrentGoal == "" || isInferredGoal(ctx.State.CurrentGoal) {
		return ""
	}
	return fmt.Sprintf("%s %s", ctx.State.CurrentGoal, question)
}

func phaseQuery(question string, ctx Context) string {
	if ctx.State == nil || ctx.State.Phase == conversation.PhasePlanning {
		return ""
	}
	return fmt.Sprintf("%s %s", ctx.State.Phase, question)
}

func entityExpansions(question string, ctx Context, n int) []string {
	if ctx.State == nil {
		return nil
	}
	out := make([]string, 0, n)
	for _, entity := range topN(ctx.State.KeyEntities, n) {
		if strings.Contains(strings.ToLower(question), strings.ToLower(entity)) {
			continue
		}
		out = append(out, fmt.Sprintf("%s %s", entity, question))
	}
	return out
}

func topicExpansions(question string, ctx Context, n int) []string {
	if ctx.State == nil {
		return nil
	}
	out := make([]string, 0, n)
	for _, topic := range topN(ctx.State.KeyTopics, n) {
		if strings.Contains(strings.ToLower(question), topic) {
			continue
		}
		out = append(out, fmt.Sprintf("%s %s", topic, question))
	}
	return out
}

// shortQuestionExpansions handles questions of at most two words, which
// carry almost no retrieval signal on their own. Yes/no replies borrow the
// assistant's preceding question; wh-words fan out across every tracked
// entity and topic.
func shortQuestionExpansions(question string, ctx Context) []string {
	words := strings.Fields(question)
	if len(words) == 0 || len(words) > 2 {
		return nil
	}

	out := make([]string, 0, 4)
	first := strings.ToLower(strings.Trim(words[0], ".,!?"))

	if yesNoReplies[first] && ctx.PreviousAssistant != "" {
		out = append(out, fmt.Sprintf("%s %s", lastQuestionOf(ctx.PreviousAssistant), question))
	}

	if whWords[first] && ctx.State != nil {
		for _, entity := range topN(ctx.State.KeyEntities, 3) {
			out = append(out, fmt.Sprintf("%s %s", question, entity))
		}
		for _, topic := range topN(ctx.State.KeyTopics, 2) {
			out = append(out, fmt.Sprintf("%s %s", question, topic))
		}
	}

	// A bare noun follow-up ("Authentication") anchors to the previous
	// assistant question when nothing else fired.
	if len(out) == 0 && ctx.PreviousAssistant != "" && !yesNoReplies[first] && !whWords[first] {
		out = append(out, fmt.Sprintf("%s %s", lastQuestionOf(ctx.PreviousAssistant), question))
	}

	return out
}

// lastQuestionOf extracts the final question sentence from an assistant
// message, falling back to its tail.
func lastQuestionOf(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.LastIndex(text, "?"); idx >= 0 {
		start := strings.LastIndexAny(text[:idx], ".!?\n")
		return strings.TrimSpace(text[start+1 : idx+1])
	}
	if len(text) > 160 {
		return strings.TrimSpace(text[len(text)-160:])
	}
	return text
}

func needsReference(question string) bool {
	words := strings.Fields(strings.ToLower(question))
	if len(words) <= 2 {
		return true
	}
	for _, w := range words {
		if pronouns[strings.Trim(w, ".,!?")] {
			return true
		}
	}
	return false
}

func isInferredGoal(goal string) bool {
	switch conversation.GoalKind(goal) {
	case conversation.GoalSeekingHelp, conversation.GoalExplanationRequest,
		conversation.GoalHowToGuidance, conversation.GoalProblemSolving,
		conversation.GoalConfirmationRequest, conversation.GoalGeneralInquiry:
		return true
	}
	return false
}

func topN(values []string, n int) []string {
	if n > len(values) {
		n = len(values)
	}
	// the tracked sets are FIFO-ordered, most recent last
	return values[len(values)-n:]
}

func appendUnique(values []string, value string, cap int) []string {
	if len(values) >= cap {
		return values
	}
	for _, v := range values {
		if strings.EqualFold(v, value) {
			return values
		}
	}
	return append(values, value)
}

// --- bounded deduplicating builder ---

type querySetBuilder struct {
	cfg  GeneratorConfig
	set  *QuerySet
	seen map[string]bool
}

func newBuilder(question string, tag Tag, cfg GeneratorConfig) *querySetBuilder {
	if cfg.MaxQueries <= 0 {
		cfg.MaxQueries = 6
	}
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = 512
	}

	b := &querySetBuilder{
		cfg:  cfg,
		set:  &QuerySet{Original: question, Method: tag},
		seen: map[string]bool{},
	}

	// The verbatim original is always present and always first, even when
	// it violates the length bounds that gate generated queries.
	b.set.Queries = append(b.set.Queries, WeightedQuery{Text: question, Weight: 1.0})
	b.seen[utils.NormalizeText(question)] = true

	return b
}

func (b *querySetBuilder) add(text string, weight float64) {
	if text == "" || len(b.set.Queries) >= b.cfg.MaxQueries {
		return
	}
	if len(text) < b.cfg.MinQueryLength || len(text) > b.cfg.MaxQueryLength {
		return
	}

	key := utils.NormalizeText(text)
	if key == "" || b.seen[key] {
		return
	}

	b.seen[key] = true
	b.set.Queries = append(b.set.Queries, WeightedQuery{Text: text, Weight: weight})
}

func (b *querySetBuilder) addAll(texts []string, weight float64) {
	for _, t := range texts {
		b.add(t, weight)
	}
}

func (b *querySetBuilder) build() *QuerySet {
	logger.Debug("Query set generated",
		zap.String("strategy", string(b.set.Method)),
		zap.Int("queries", len(b.set.Queries)),
	)
	return b.set
}
