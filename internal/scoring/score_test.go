package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okrengine/internal/okrstore"
)

func quantityKR(kind okrstore.MeasureType, start, target, current float64) okrstore.KeyResult {
	return okrstore.KeyResult{
		Measure: okrstore.Quantity{Kind: kind, Start: start, Target: target},
		Current: current,
		Weight:  1,
	}
}

func TestScoreQuantity(t *testing.T) {
	cases := []struct {
		name    string
		kind    okrstore.MeasureType
		start   float64
		target  float64
		current float64
		want    float64
	}{
		{"halfway increasing", okrstore.MeasureNumeric, 0, 100, 50, 0.5},
		{"below start clamps to zero", okrstore.MeasureNumeric, 10, 20, 5, 0},
		{"past target clamps to one", okrstore.MeasurePercentage, 0, 80, 95, 1},
		{"decreasing target", okrstore.MeasureNumeric, 50, 10, 30, 0.5},
		{"decreasing target overshoot", okrstore.MeasureCurrency, 50, 10, 0, 1},
		{"decreasing target regressed", okrstore.MeasureNumeric, 50, 10, 60, 0},
		{"zero range hit", okrstore.MeasureNumeric, 7, 7, 7, 1},
		{"zero range miss above", okrstore.MeasureNumeric, 7, 7, 8, 0},
		{"zero range miss below", okrstore.MeasureNumeric, 7, 7, 6, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Score(quantityKR(tc.kind, tc.start, tc.target, tc.current))
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestScoreMonotonicIncreasing(t *testing.T) {
	prev := -1.0
	for current := -20.0; current <= 140; current += 2.5 {
		got := Score(quantityKR(okrstore.MeasureNumeric, 0, 100, current))
		require.GreaterOrEqual(t, got, prev, "score dropped at current=%v", current)
		if current >= 100 {
			require.Equal(t, 1.0, got)
		}
		prev = got
	}
}

func TestScoreBinary(t *testing.T) {
	kr := okrstore.KeyResult{Measure: okrstore.Binary{}}
	assert.Equal(t, 0.0, Score(kr))
	kr.Current = 0.99
	assert.Equal(t, 0.0, Score(kr))
	kr.Current = 1
	assert.Equal(t, 1.0, Score(kr))
	kr.Current = 3
	assert.Equal(t, 1.0, Score(kr))
}

func TestScoreMilestones(t *testing.T) {
	kr := okrstore.KeyResult{Measure: okrstore.MilestoneSet{}}
	assert.Equal(t, 0.0, Score(kr), "no milestones scores zero")

	set := okrstore.MilestoneSet{Milestones: []okrstore.Milestone{
		{ID: "a", Completed: true},
		{ID: "b"},
		{ID: "c", Completed: true},
		{ID: "d"},
	}}
	kr.Measure = set
	// Current is ignored for milestone key results.
	kr.Current = 42
	assert.InDelta(t, 0.5, Score(kr), 1e-9)
	assert.Equal(t, 50, Progress(kr))
}

func TestScoreWithoutMeasure(t *testing.T) {
	assert.Equal(t, 0.0, Score(okrstore.KeyResult{Current: 5}))
}

func TestPercentRounds(t *testing.T) {
	assert.Equal(t, 33, Percent(1.0/3))
	assert.Equal(t, 67, Percent(2.0/3))
	assert.Equal(t, 100, Percent(1))
	assert.Equal(t, 0, Percent(0))
}

func TestObjectiveScoreAverage(t *testing.T) {
	krs := []okrstore.KeyResult{
		quantityKR(okrstore.MeasureNumeric, 0, 100, 50),
		{Measure: okrstore.Binary{}, Weight: 1},
	}
	assert.InDelta(t, 0.25, ObjectiveScore(krs, okrstore.ScoringAverage), 1e-9)
	assert.Equal(t, 25, ObjectiveProgress(krs, okrstore.ScoringAverage))

	krs[1].Current = 1
	assert.InDelta(t, 0.75, ObjectiveScore(krs, okrstore.ScoringAverage), 1e-9)
	assert.Equal(t, 75, ObjectiveProgress(krs, okrstore.ScoringAverage))
}

func TestObjectiveScoreEmpty(t *testing.T) {
	assert.Equal(t, 0.0, ObjectiveScore(nil, okrstore.ScoringAverage))
	assert.Equal(t, 0.0, ObjectiveScore(nil, okrstore.ScoringWeighted))
}

func TestObjectiveScoreWeighted(t *testing.T) {
	krs := []okrstore.KeyResult{
		quantityKR(okrstore.MeasureNumeric, 0, 10, 10),
		quantityKR(okrstore.MeasureNumeric, 0, 10, 0),
	}
	krs[0].Weight = 3
	krs[1].Weight = 1
	assert.InDelta(t, 0.75, ObjectiveScore(krs, okrstore.ScoringWeighted), 1e-9)

	krs[0].Weight = 0
	krs[1].Weight = 0
	assert.Equal(t, 0.0, ObjectiveScore(krs, okrstore.ScoringWeighted), "zero total weight")
}

func TestWeightedEqualsAverageWithEqualWeights(t *testing.T) {
	for _, weight := range []float64{1, 2.5, 7} {
		krs := []okrstore.KeyResult{
			quantityKR(okrstore.MeasureNumeric, 0, 100, 33),
			quantityKR(okrstore.MeasurePercentage, 100, 0, 40),
			{Measure: okrstore.Binary{}, Current: 1},
			{Measure: okrstore.MilestoneSet{Milestones: []okrstore.Milestone{{Completed: true}, {}, {}}}},
		}
		for i := range krs {
			krs[i].Weight = weight
		}
		assert.InDelta(t,
			ObjectiveScore(krs, okrstore.ScoringAverage),
			ObjectiveScore(krs, okrstore.ScoringWeighted),
			1e-9, "weight=%v", weight)
	}
}

func TestRefreshObjective(t *testing.T) {
	obj := okrstore.Objective{KeyResults: []okrstore.KeyResult{
		quantityKR(okrstore.MeasureNumeric, 0, 4, 1),
		quantityKR(okrstore.MeasureNumeric, 0, 4, 3),
	}}
	RefreshObjective(&obj, okrstore.ScoringAverage)
	assert.InDelta(t, 0.25, obj.KeyResults[0].Score, 1e-9)
	assert.Equal(t, 75, obj.KeyResults[1].Progress)
	assert.InDelta(t, 0.5, obj.Score, 1e-9)
	assert.Equal(t, 50, obj.Progress)
}
