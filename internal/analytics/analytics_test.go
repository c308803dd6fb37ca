package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"okrengine/internal/okrstore"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func TestComputeEmpty(t *testing.T) {
	a := Compute("c1", nil, now, 0)
	assert.Equal(t, 0, a.TotalObjectives)
	assert.Equal(t, 0.0, a.AverageScore)
	assert.Equal(t, 0.0, a.MedianScore)
	assert.Equal(t, 0.0, a.AverageCheckIns)
	assert.Equal(t, 0, a.ActiveContributors)
}

func TestCompute(t *testing.T) {
	day := 24 * time.Hour
	objs := []okrstore.Objective{
		{
			ID: "co", OwnerID: "ceo", Level: okrstore.LevelCompany, Status: okrstore.ObjectiveActive,
			Score: 0.8, LastCheckInAt: ago(2 * day), StrategicPillarID: "growth",
			KeyResults: []okrstore.KeyResult{
				{Confidence: okrstore.OnTrack, CheckIns: make([]okrstore.CheckIn, 3)},
			},
		},
		{
			ID: "team", OwnerID: "lead", Level: okrstore.LevelTeam, Status: okrstore.ObjectiveActive,
			Score: 0.55, ParentID: "co", LastCheckInAt: ago(20 * day),
			KeyResults: []okrstore.KeyResult{
				{Confidence: okrstore.OffTrack, CheckIns: make([]okrstore.CheckIn, 1)},
				{Confidence: okrstore.OffTrack},
			},
		},
		{
			ID: "ind", OwnerID: "lead", Level: okrstore.LevelIndividual, Status: okrstore.ObjectiveActive,
			Score: 0.3, StrategicObjectiveID: "so-1",
			KeyResults: []okrstore.KeyResult{
				{Confidence: okrstore.AtRisk},
			},
		},
		{
			ID: "dept", OwnerID: "vp", Level: okrstore.LevelDepartment, Status: okrstore.ObjectiveActive,
			Score: 0.1, ParentID: "co", LastCheckInAt: ago(day),
		},
		{
			ID: "draft", OwnerID: "intern", Level: okrstore.LevelTeam, Status: okrstore.ObjectiveDraft,
			Score: 0.9,
		},
	}

	a := Compute("c1", objs, now, 0)

	assert.Equal(t, 5, a.TotalObjectives)
	assert.Equal(t, 4, a.ByStatus[okrstore.ObjectiveActive])
	assert.Equal(t, 1, a.ByStatus[okrstore.ObjectiveDraft])
	assert.Equal(t, 2, a.ByLevel[okrstore.LevelTeam])
	assert.Equal(t, 1, a.ByLevel[okrstore.LevelCompany])

	assert.Equal(t, ScoreBuckets{Stretch: 1, Target: 1, Partial: 1, Miss: 1}, a.ScoreDistribution)

	assert.Equal(t, 2, a.AlignedToStrategyCount)
	assert.Equal(t, 2, a.AlignedToParentCount)
	assert.Equal(t, 2, a.OrphanedCount, "ind and draft have no parent and are below company level")

	assert.Equal(t, 3, a.ByConfidence[okrstore.OnTrack], "co, dept and draft")
	assert.Equal(t, 1, a.ByConfidence[okrstore.OffTrack])
	assert.Equal(t, 1, a.ByConfidence[okrstore.AtRisk])

	assert.Equal(t, 2, a.StaleCount, "team is 20 days old, ind never checked in")

	assert.InDelta(t, (0.8+0.55+0.3+0.1)/4, a.AverageScore, 1e-9)
	assert.InDelta(t, (0.3+0.55)/2, a.MedianScore, 1e-9)
	assert.InDelta(t, 4.0/5, a.AverageCheckIns, 1e-9)
	assert.Equal(t, 4, a.ActiveContributors)
}

func TestComputeCustomStaleness(t *testing.T) {
	objs := []okrstore.Objective{
		{ID: "a", Status: okrstore.ObjectiveActive, LastCheckInAt: ago(3 * 24 * time.Hour)},
		{ID: "b", Status: okrstore.ObjectiveCompleted},
	}
	assert.Equal(t, 0, Compute("c", objs, now, 0).StaleCount)
	assert.Equal(t, 1, Compute("c", objs, now, 48*time.Hour).StaleCount)
}

func TestMedianOdd(t *testing.T) {
	assert.Equal(t, 0.5, median([]float64{0.9, 0.1, 0.5}))
}
