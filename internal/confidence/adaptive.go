package confidence

// Adaptive computes the acceptance threshold for a turn's retrieved
// context. The base formula loosens with conversation age and tightens with
// good context; a per-session exponentially decayed adjustment layers
// learned drift on top without touching the global defaults.
type Adaptive struct {
	cfg Config
}

type Config struct {
	BaseThreshold     float64
	MinThreshold      float64
	MaxThreshold      float64
	TurnDecay         float64
	QualityBonus      float64
	ComplexityPenalty float64
	AdjustmentDecay   float64
	MaxAdjustment     float64
}

func DefaultConfig() Config {
	return Config{
		BaseThreshold:     0.7,
		MinThreshold:      0.3,
		MaxThreshold:      0.9,
		TurnDecay:         0.02,
		QualityBonus:      0.1,
		ComplexityPenalty: 0.1,
		AdjustmentDecay:   0.8,
		MaxAdjustment:     0.15,
	}
}

func New(cfg Config) *Adaptive {
	if cfg.MaxThreshold == 0 {
		cfg = DefaultConfig()
	}
	return &Adaptive{cfg: cfg}
}

// Threshold returns the acceptance threshold, always within
// [MinThreshold, MaxThreshold] whatever the inputs.
func (a *Adaptive) Threshold(sessionAdjustment float64, turnNumber int, contextQuality, complexity float64) float64 {
	if turnNumber < 1 {
		turnNumber = 1
	}

	t := a.cfg.BaseThreshold
	t -= float64(turnNumber-1) * a.cfg.TurnDecay
	t += clamp01(contextQuality) * a.cfg.QualityBonus
	t -= clamp01(complexity) * a.cfg.ComplexityPenalty
	t += sessionAdjustment

	if t < a.cfg.MinThreshold {
		t = a.cfg.MinThreshold
	}
	if t > a.cfg.MaxThreshold {
		t = a.cfg.MaxThreshold
	}
	return t
}

// UpdateAdjustment folds an observed feedback signal into the session's
// adjustment. The previous value decays exponentially so stale feedback
// fades; the result is bounded symmetrically by MaxAdjustment.
//
// observedConfidence above the base threshold nudges the threshold up
// (the session is retrieving well, be pickier); below nudges it down.
func (a *Adaptive) UpdateAdjustment(current float64, observedConfidence float64) float64 {
	delta := (observedConfidence - a.cfg.BaseThreshold) * 0.1
	next := current*a.cfg.AdjustmentDecay + delta

	if next > a.cfg.MaxAdjustment {
		next = a.cfg.MaxAdjustment
	}
	if next < -a.cfg.MaxAdjustment {
		next = -a.cfg.MaxAdjustment
	}
	return next
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
