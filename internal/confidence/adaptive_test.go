package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThresholdBaseCase(t *testing.T) {
	a := New(DefaultConfig())

	// turn 1, neutral quality and complexity, no adjustment
	got := a.Threshold(0, 1, 0, 0)
	assert.InDelta(t, 0.7, got, 1e-9)
}

func TestThresholdLoosensWithTurns(t *testing.T) {
	a := New(DefaultConfig())

	early := a.Threshold(0, 1, 0.5, 0.5)
	late := a.Threshold(0, 10, 0.5, 0.5)
	assert.Less(t, late, early)
}

func TestThresholdQualityTightensComplexityLoosens(t *testing.T) {
	a := New(DefaultConfig())

	neutral := a.Threshold(0, 3, 0, 0)
	goodContext := a.Threshold(0, 3, 1, 0)
	hardQuestion := a.Threshold(0, 3, 0, 1)

	assert.Greater(t, goodContext, neutral)
	assert.Less(t, hardQuestion, neutral)
}

func TestThresholdAlwaysClamped(t *testing.T) {
	a := New(DefaultConfig())

	cases := []struct {
		adjustment float64
		turn       int
		quality    float64
		complexity float64
	}{
		{0, 1, 0, 0},
		{10, 1, 5, -3},
		{-10, 500, -2, 7},
		{0.15, 0, 1, 1},
		{-0.15, 1000, 0, 0},
	}

	for _, c := range cases {
		got := a.Threshold(c.adjustment, c.turn, c.quality, c.complexity)
		assert.GreaterOrEqual(t, got, 0.3)
		assert.LessOrEqual(t, got, 0.9)
	}
}

func TestUpdateAdjustmentDirection(t *testing.T) {
	a := New(DefaultConfig())

	up := a.UpdateAdjustment(0, 0.95)
	down := a.UpdateAdjustment(0, 0.2)

	assert.Greater(t, up, 0.0)
	assert.Less(t, down, 0.0)
}

func TestUpdateAdjustmentDecaysOldSignal(t *testing.T) {
	a := New(DefaultConfig())

	adj := a.UpdateAdjustment(0.1, 0.7)
	assert.InDelta(t, 0.08, adj, 1e-9)
}

func TestUpdateAdjustmentBounded(t *testing.T) {
	a := New(DefaultConfig())

	adj := 0.0
	for i := 0; i < 50; i++ {
		adj = a.UpdateAdjustment(adj, 1.0)
	}
	assert.LessOrEqual(t, adj, 0.15)

	for i := 0; i < 50; i++ {
		adj = a.UpdateAdjustment(adj, 0.0)
	}
	assert.GreaterOrEqual(t, adj, -0.15)
}
