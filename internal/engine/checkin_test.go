package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okrengine/internal/okrstore"
)

func TestNextCheckInAfter(t *testing.T) {
	day := 24 * time.Hour
	tests := []struct {
		cadence okrstore.Cadence
		want    time.Duration
	}{
		{okrstore.CadenceDaily, day},
		{okrstore.CadenceWeekly, 7 * day},
		{okrstore.CadenceBiWeekly, 14 * day},
		{okrstore.CadenceMonthly, 30 * day},
		{"", 7 * day},
	}
	for _, tt := range tests {
		t.Run(string(tt.cadence), func(t *testing.T) {
			assert.Equal(t, tt.want, NextCheckInAfter(tt.cadence))
		})
	}
}

func TestRecordCheckInUpdatesObjective(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		c := h.cycle(t, "acme", nil)
		o := h.objective(t, c.ID, "O", okrstore.LevelTeam, "", numeric("Signups", 100, 200))
		krID := o.KeyResults[0].ID

		ci, err := h.svc.RecordCheckIn(ctx, CheckInInput{
			ObjectiveID: o.ID,
			KeyResultID: krID,
			Value:       150,
			Confidence:  okrstore.AtRisk,
			Note:        "slow week",
			Blockers:    []string{"infra"},
			AuthorID:    "alice",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, ci.ID)
		assert.Equal(t, 100.0, ci.PreviousValue)
		assert.Equal(t, 150.0, ci.NewValue)
		assert.Equal(t, 0.0, ci.PreviousScore)
		assert.InDelta(t, 0.5, ci.NewScore, 1e-9)
		assert.Equal(t, okrstore.AtRisk, ci.Confidence)

		got, err := h.svc.GetObjective(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.CheckInCount)
		require.NotNil(t, got.LastCheckInAt)
		require.NotNil(t, got.NextCheckInAt)
		assert.True(t, h.clock.Now().Equal(*got.LastCheckInAt))
		assert.True(t, h.clock.Now().Add(7*24*time.Hour).Equal(*got.NextCheckInAt))

		kr := got.KeyResults[0]
		assert.Equal(t, 150.0, kr.Current)
		assert.Equal(t, 50, kr.Progress)
		assert.Equal(t, okrstore.AtRisk, kr.Confidence)
		assert.Equal(t, "slow week", kr.ConfidenceNote)
		require.Len(t, kr.CheckIns, 1)
		assert.Equal(t, []string{"infra"}, kr.CheckIns[0].Blockers)

		events := h.audit.ofType("check_in_recorded")
		require.Len(t, events, 1)
		assert.Equal(t, "alice", events[0].Actor)
	})
}

func TestCheckInKeepsConfidenceWhenOmitted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, okrstore.NewMemoryStore())
	c := h.cycle(t, "acme", nil)
	o := h.objective(t, c.ID, "O", okrstore.LevelTeam, "", numeric("KR", 0, 10))
	krID := o.KeyResults[0].ID

	_, err := h.svc.RecordCheckIn(ctx, CheckInInput{ObjectiveID: o.ID, KeyResultID: krID, Value: 1, Confidence: okrstore.OffTrack})
	require.NoError(t, err)
	ci, err := h.svc.RecordCheckIn(ctx, CheckInInput{ObjectiveID: o.ID, KeyResultID: krID, Value: 2})
	require.NoError(t, err)
	assert.Equal(t, okrstore.OffTrack, ci.Confidence)
}

func TestCheckInCadenceFollowsObjective(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, okrstore.NewMemoryStore())
	c := h.cycle(t, "acme", &okrstore.CycleSettings{DefaultCadence: okrstore.CadenceDaily})
	o := h.objective(t, c.ID, "O", okrstore.LevelTeam, "", binary("KR"))
	assert.Equal(t, okrstore.CadenceDaily, o.Cadence)

	_, err := h.svc.RecordCheckIn(ctx, CheckInInput{ObjectiveID: o.ID, KeyResultID: o.KeyResults[0].ID, Value: 0})
	require.NoError(t, err)
	got, err := h.svc.GetObjective(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, h.clock.Now().Add(24*time.Hour).Equal(*got.NextCheckInAt))
}

func TestMilestoneCheckInTracksCompletedCount(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		c := h.cycle(t, "acme", nil)
		o := h.objective(t, c.ID, "O", okrstore.LevelTeam, "", milestones("Launch", "beta", "ga"))
		kr := o.KeyResults[0]

		_, err := h.svc.RecordCheckIn(ctx, CheckInInput{ObjectiveID: o.ID, KeyResultID: kr.ID, Value: 2})
		require.ErrorIs(t, err, okrstore.ErrValidation)
		got, err := h.svc.GetObjective(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.CheckInCount)
		assert.Equal(t, 0.0, got.KeyResults[0].Current)

		ms := kr.Measure.(okrstore.MilestoneSet).Milestones
		_, err = h.svc.CompleteMilestone(ctx, o.ID, kr.ID, ms[0].ID, "alice")
		require.NoError(t, err)

		ci, err := h.svc.RecordCheckIn(ctx, CheckInInput{
			ObjectiveID: o.ID,
			KeyResultID: kr.ID,
			Value:       1,
			Confidence:  okrstore.AtRisk,
			Note:        "ga slipping",
		})
		require.NoError(t, err)
		assert.Equal(t, 1.0, ci.NewValue)
		assert.InDelta(t, 0.5, ci.NewScore, 1e-9)
		assert.Equal(t, okrstore.AtRisk, ci.Confidence)
	})
}

func TestCompletionIsSticky(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		c := h.cycle(t, "acme", nil)
		o := h.objective(t, c.ID, "O", okrstore.LevelTeam, "", numeric("KR", 0, 10))
		krID := o.KeyResults[0].ID

		_, err := h.svc.RecordCheckIn(ctx, CheckInInput{ObjectiveID: o.ID, KeyResultID: krID, Value: 10})
		require.NoError(t, err)
		completedAt := h.clock.Now()

		h.clock.Advance(time.Hour)
		_, err = h.svc.RecordCheckIn(ctx, CheckInInput{ObjectiveID: o.ID, KeyResultID: krID, Value: 5})
		require.NoError(t, err)

		got, err := h.svc.GetObjective(ctx, o.ID)
		require.NoError(t, err)
		kr := got.KeyResults[0]
		assert.InDelta(t, 0.5, kr.Score, 1e-9)
		assert.True(t, kr.IsComplete)
		require.NotNil(t, kr.CompletedAt)
		assert.True(t, completedAt.Equal(*kr.CompletedAt))
	})
}

func TestCheckInOvershootClampsScore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, okrstore.NewMemoryStore())
	c := h.cycle(t, "acme", nil)
	o := h.objective(t, c.ID, "O", okrstore.LevelTeam, "", numeric("Churn", 10, 5))

	ci, err := h.svc.RecordCheckIn(ctx, CheckInInput{ObjectiveID: o.ID, KeyResultID: o.KeyResults[0].ID, Value: 2})
	require.NoError(t, err)
	assert.Equal(t, 1.0, ci.NewScore)

	ci, err = h.svc.RecordCheckIn(ctx, CheckInInput{ObjectiveID: o.ID, KeyResultID: o.KeyResults[0].ID, Value: 12})
	require.NoError(t, err)
	assert.Equal(t, 0.0, ci.NewScore)
}

func TestBulkCheckInIsAtomic(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		c := h.cycle(t, "acme", nil)
		o := h.objective(t, c.ID, "O", okrstore.LevelTeam, "", numeric("A", 0, 10), numeric("B", 0, 10))

		_, err := h.svc.BulkCheckIn(ctx, o.ID, []CheckInInput{
			{KeyResultID: o.KeyResults[0].ID, Value: 5},
			{KeyResultID: "missing", Value: 5},
		})
		require.ErrorIs(t, err, okrstore.ErrNotFound)

		got, err := h.svc.GetObjective(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.CheckInCount)
		assert.Nil(t, got.LastCheckInAt)
		assert.Equal(t, 0.0, got.KeyResults[0].Current)
		assert.Empty(t, got.KeyResults[0].CheckIns)
		assert.Empty(t, h.audit.ofType("check_in_recorded"))
	})
}

func TestBulkCheckInAppliesSequentially(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		c := h.cycle(t, "acme", nil)
		o := h.objective(t, c.ID, "O", okrstore.LevelTeam, "", numeric("A", 0, 10), binary("B"))
		a, b := o.KeyResults[0].ID, o.KeyResults[1].ID

		recorded, err := h.svc.BulkCheckIn(ctx, o.ID, []CheckInInput{
			{KeyResultID: a, Value: 3},
			{KeyResultID: a, Value: 7},
			{KeyResultID: b, Value: 1},
		})
		require.NoError(t, err)
		require.Len(t, recorded, 3)
		assert.Equal(t, 3.0, recorded[1].PreviousValue)
		assert.InDelta(t, 0.3, recorded[1].PreviousScore, 1e-9)
		assert.InDelta(t, 0.7, recorded[1].NewScore, 1e-9)

		got, err := h.svc.GetObjective(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.CheckInCount)
		assert.InDelta(t, 0.85, got.Score, 1e-9)
		assert.Equal(t, 85, got.Progress)
		assert.Len(t, h.audit.ofType("check_in_recorded"), 3)
	})
}

func TestBulkCheckInValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, okrstore.NewMemoryStore())
	c := h.cycle(t, "acme", nil)
	o := h.objective(t, c.ID, "O", okrstore.LevelTeam, "", binary("KR"))
	krID := o.KeyResults[0].ID

	_, err := h.svc.BulkCheckIn(ctx, o.ID, []CheckInInput{{ObjectiveID: "other", KeyResultID: krID, Value: 1}})
	assert.ErrorIs(t, err, okrstore.ErrValidation)

	_, err = h.svc.RecordCheckIn(ctx, CheckInInput{ObjectiveID: o.ID, KeyResultID: krID, Value: 1, Confidence: "meh"})
	assert.ErrorIs(t, err, okrstore.ErrValidation)

	_, err = h.svc.RecordCheckIn(ctx, CheckInInput{ObjectiveID: "missing", KeyResultID: krID, Value: 1})
	assert.ErrorIs(t, err, okrstore.ErrNotFound)

	recorded, err := h.svc.BulkCheckIn(ctx, o.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, recorded)
}

func TestCheckInHistory(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		c := h.cycle(t, "acme", nil)
		o := h.objective(t, c.ID, "O", okrstore.LevelTeam, "", numeric("KR", 0, 10), binary("Other"))
		krID := o.KeyResults[0].ID

		for _, v := range []float64{2, 4, 6} {
			_, err := h.svc.RecordCheckIn(ctx, CheckInInput{ObjectiveID: o.ID, KeyResultID: krID, Value: v})
			require.NoError(t, err)
			h.clock.Advance(24 * time.Hour)
		}

		history, err := h.svc.CheckInHistory(ctx, o.ID, krID)
		require.NoError(t, err)
		require.Len(t, history, 3)
		for i, want := range []float64{2, 4, 6} {
			assert.Equal(t, want, history[i].NewValue)
		}
		assert.True(t, history[0].At.Before(history[2].At))

		other, err := h.svc.CheckInHistory(ctx, o.ID, o.KeyResults[1].ID)
		require.NoError(t, err)
		assert.Empty(t, other)

		_, err = h.svc.CheckInHistory(ctx, o.ID, "missing")
		assert.ErrorIs(t, err, okrstore.ErrNotFound)
	})
}
