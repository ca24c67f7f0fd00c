package relaxation

import (
	"go.uber.org/zap"

	"github.com/convorag/backend/pkg/config"
	"github.com/convorag/backend/pkg/logger"
)

// Params are the retrieval parameters for one turn. Produced fresh each
// turn and discarded afterwards; only the stage name survives in the turn
// record.
type Params struct {
	StageName           string
	TopK                int
	SimilarityThreshold float64
	ContextWeight       float64
	BoostApplied        bool
}

// Config drives stage selection and the initial-context boost.
type Config struct {
	Stages         []config.StageConfig
	StageTurnWidth int

	InitialBoostTurns  int
	BoostTopK          int
	BoostThreshold     float64
	BoostContextWeight float64
	MinSimilarity      float64
	MaxContextWeight   float64

	HighWaterConfidence float64
	LowWaterConfidence  float64
}

func DefaultConfig() Config {
	return Config{
		Stages:              config.DefaultStages(),
		StageTurnWidth:      3,
		InitialBoostTurns:   2,
		BoostTopK:           3,
		BoostThreshold:      0.1,
		BoostContextWeight:  0.1,
		MinSimilarity:       0.2,
		MaxContextWeight:    1.0,
		HighWaterConfidence: 0.8,
		LowWaterConfidence:  0.35,
	}
}

// Relaxer maps turn numbers onto the stage table, most selective first.
type Relaxer struct {
	cfg Config
}

func New(cfg Config) *Relaxer {
	if len(cfg.Stages) == 0 {
		cfg.Stages = config.DefaultStages()
	}
	if cfg.StageTurnWidth <= 0 {
		cfg.StageTurnWidth = 3
	}
	return &Relaxer{cfg: cfg}
}

// StageIndex converts a turn number into a stage table index. The table is
// entered one step in from the most selective stage: an early conversation
// has the least established context, so starting strict starves turn 1 of
// retrievable passages. Later turns relax further.
func (r *Relaxer) StageIndex(turnNumber int) int {
	if turnNumber < 1 {
		turnNumber = 1
	}
	idx := 1 + (turnNumber-1)/r.cfg.StageTurnWidth
	if idx >= len(r.cfg.Stages) {
		idx = len(r.cfg.Stages) - 1
	}
	return idx
}

// ParamsFor computes the turn's retrieval parameters. sessionOffset is the
// advisory feedback nudge accumulated for the session; it is clamped to the
// table bounds so feedback can never push parameters off the table.
func (r *Relaxer) ParamsFor(turnNumber, sessionOffset int) Params {
	idx := r.StageIndex(turnNumber) + sessionOffset
	if idx < 0 {
		idx = 0
	}
	if idx >= len(r.cfg.Stages) {
		idx = len(r.cfg.Stages) - 1
	}

	stage := r.cfg.Stages[idx]
	p := Params{
		StageName:           stage.Name,
		TopK:                stage.TopK,
		SimilarityThreshold: stage.SimilarityThreshold,
		ContextWeight:       stage.ContextWeight,
	}

	if turnNumber <= r.cfg.InitialBoostTurns {
		p.TopK += r.cfg.BoostTopK
		p.SimilarityThreshold -= r.cfg.BoostThreshold
		if p.SimilarityThreshold < r.cfg.MinSimilarity {
			p.SimilarityThreshold = r.cfg.MinSimilarity
		}
		p.ContextWeight += r.cfg.BoostContextWeight
		if p.ContextWeight > r.cfg.MaxContextWeight {
			p.ContextWeight = r.cfg.MaxContextWeight
		}
		p.BoostApplied = true
	}

	logger.Debug("Context stage selected",
		zap.String("stage", p.StageName),
		zap.Int("turn", turnNumber),
		zap.Int("offset", sessionOffset),
		zap.Bool("boost", p.BoostApplied),
	)

	return p
}

// FeedbackOffset nudges the session one stage stricter after a confident
// turn or one stage looser after a weak one. Advisory only; the result is
// clamped so ParamsFor stays inside the table.
func (r *Relaxer) FeedbackOffset(current int, observedConfidence float64) int {
	next := current
	switch {
	case observedConfidence >= r.cfg.HighWaterConfidence:
		next = current - 1
	case observedConfidence > 0 && observedConfidence <= r.cfg.LowWaterConfidence:
		next = current + 1
	}

	bound := len(r.cfg.Stages) - 1
	if next < -bound {
		next = -bound
	}
	if next > bound {
		next = bound
	}
	return next
}

// StageCount exposes the table size for bounds assertions.
func (r *Relaxer) StageCount() int {
	return len(r.cfg.Stages)
}
