// Package scoring converts key-result measurements into normalized scores
// and reduces them to objective scores and confidences. Everything here is
// pure.
package scoring

import (
	"math"

	"okrengine/internal/okrstore"
)

// Score returns the key result's normalized score in [0, 1] for its current value.
func Score(kr okrstore.KeyResult) float64 {
	return ScoreAt(kr.Measure, kr.Current)
}

// ScoreAt scores a measure as if its current raw value were current.
func ScoreAt(m okrstore.Measure, current float64) float64 {
	switch m := m.(type) {
	case okrstore.Quantity:
		return quantityScore(m, current)
	case okrstore.Binary:
		return binaryScore(current)
	case okrstore.MilestoneSet:
		return milestoneScore(m)
	default:
		return 0
	}
}

// Progress returns the key result's score as a rounded 0-100 percentage.
func Progress(kr okrstore.KeyResult) int {
	return Percent(Score(kr))
}

// Percent rounds a [0, 1] score to a 0-100 display percentage.
func Percent(score float64) int {
	return int(math.Round(score * 100))
}

// quantityScore measures how far current has moved from start towards
// target. The formula works for decreasing targets too since range is
// negative there.
func quantityScore(q okrstore.Quantity, current float64) float64 {
	rng := q.Target - q.Start
	if rng == 0 {
		if current == q.Target {
			return 1
		}
		return 0
	}

	progress := (current - q.Start) / rng
	if math.IsNaN(progress) || math.IsInf(progress, 0) {
		return 0
	}
	return clamp(progress)
}

func binaryScore(current float64) float64 {
	if current >= 1 {
		return 1
	}
	return 0
}

func milestoneScore(m okrstore.MilestoneSet) float64 {
	if len(m.Milestones) == 0 {
		return 0
	}
	return float64(m.CompletedCount()) / float64(len(m.Milestones))
}

// ObjectiveScore reduces key-result scores with the given method. Unknown
// methods score as average.
func ObjectiveScore(krs []okrstore.KeyResult, method okrstore.ScoringMethod) float64 {
	if len(krs) == 0 {
		return 0
	}

	if method == okrstore.ScoringWeighted {
		var weighted, total float64
		for _, kr := range krs {
			weighted += Score(kr) * kr.Weight
			total += kr.Weight
		}
		if total == 0 {
			return 0
		}
		return weighted / total
	}

	var sum float64
	for _, kr := range krs {
		sum += Score(kr)
	}
	return sum / float64(len(krs))
}

// ObjectiveProgress is ObjectiveScore as a rounded 0-100 percentage.
func ObjectiveProgress(krs []okrstore.KeyResult, method okrstore.ScoringMethod) int {
	return Percent(ObjectiveScore(krs, method))
}

// Refresh recomputes the score and progress of one key result in place.
func Refresh(kr *okrstore.KeyResult) {
	kr.Score = Score(*kr)
	kr.Progress = Percent(kr.Score)
}

// RefreshObjective recomputes every key result and then the objective's
// aggregate score and progress in place.
func RefreshObjective(obj *okrstore.Objective, method okrstore.ScoringMethod) {
	for i := range obj.KeyResults {
		Refresh(&obj.KeyResults[i])
	}
	obj.Score = ObjectiveScore(obj.KeyResults, method)
	obj.Progress = Percent(obj.Score)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
