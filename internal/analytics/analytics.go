// Package analytics reduces a cycle's objectives to summary statistics.
package analytics

import (
	"sort"
	"time"

	"okrengine/internal/okrstore"
	"okrengine/internal/scoring"
)

// DefaultStaleAfter is how long an active objective may go without a
// check-in before it counts as stale.
const DefaultStaleAfter = 14 * 24 * time.Hour

// ScoreBuckets counts active objectives by score band.
type ScoreBuckets struct {
	Stretch int `json:"stretch"`
	Target  int `json:"target"`
	Partial int `json:"partial"`
	Miss    int `json:"miss"`
}

// Analytics summarizes the objectives of one cycle.
type Analytics struct {
	CycleID                string                           `json:"cycleId"`
	TotalObjectives        int                              `json:"totalOkrs"`
	ByStatus               map[okrstore.ObjectiveStatus]int `json:"byStatus"`
	ByLevel                map[okrstore.Level]int           `json:"byLevel"`
	ScoreDistribution      ScoreBuckets                     `json:"scoreDistribution"`
	AlignedToStrategyCount int                              `json:"alignedToStrategyCount"`
	AlignedToParentCount   int                              `json:"alignedToParentCount"`
	OrphanedCount          int                              `json:"orphanedCount"`
	ByConfidence           map[okrstore.Confidence]int      `json:"byConfidence"`
	StaleCount             int                              `json:"staleOkrsCount"`
	AverageScore           float64                          `json:"averageScore"`
	MedianScore            float64                          `json:"medianScore"`
	AverageCheckIns        float64                          `json:"averageCheckInsPerOkr"`
	ActiveContributors     int                              `json:"activeContributors"`
	ComputedAt             time.Time                        `json:"computedAt"`
}

// Compute reduces objectives as of now. A non-positive staleAfter uses
// DefaultStaleAfter.
func Compute(cycleID string, objs []okrstore.Objective, now time.Time, staleAfter time.Duration) Analytics {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	a := Analytics{
		CycleID:         cycleID,
		TotalObjectives: len(objs),
		ByStatus:        make(map[okrstore.ObjectiveStatus]int),
		ByLevel:         make(map[okrstore.Level]int),
		ByConfidence:    make(map[okrstore.Confidence]int),
		ComputedAt:      now,
	}

	owners := make(map[string]struct{})
	var activeScores []float64
	checkIns := 0
	staleBefore := now.Add(-staleAfter)

	for _, o := range objs {
		a.ByStatus[o.Status]++
		a.ByLevel[o.Level]++
		a.ByConfidence[scoring.ObjectiveConfidence(o)]++
		checkIns += o.TotalCheckIns()
		if o.OwnerID != "" {
			owners[o.OwnerID] = struct{}{}
		}

		if o.StrategicPillarID != "" || o.StrategicObjectiveID != "" {
			a.AlignedToStrategyCount++
		}
		if o.ParentID != "" {
			a.AlignedToParentCount++
		} else if o.Level != okrstore.LevelCompany {
			a.OrphanedCount++
		}

		if o.Status != okrstore.ObjectiveActive {
			continue
		}
		activeScores = append(activeScores, o.Score)
		switch {
		case o.Score >= 0.7:
			a.ScoreDistribution.Stretch++
		case o.Score >= 0.5:
			a.ScoreDistribution.Target++
		case o.Score >= 0.3:
			a.ScoreDistribution.Partial++
		default:
			a.ScoreDistribution.Miss++
		}
		if o.LastCheckInAt == nil || o.LastCheckInAt.Before(staleBefore) {
			a.StaleCount++
		}
	}

	a.AverageScore = mean(activeScores)
	a.MedianScore = median(activeScores)
	if len(objs) > 0 {
		a.AverageCheckIns = float64(checkIns) / float64(len(objs))
	}
	a.ActiveContributors = len(owners)
	return a
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
