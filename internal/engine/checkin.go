package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"okrengine/internal/okrstore"
)

// CheckInInput is one progress update for a key result. An empty
// Confidence keeps the key result's current confidence.
type CheckInInput struct {
	ObjectiveID string
	KeyResultID string
	Value       float64
	Confidence  okrstore.Confidence
	Note        string
	Blockers    []string
	Wins        []string
	AuthorID    string
}

func validConfidence(c okrstore.Confidence) bool {
	switch c {
	case okrstore.OnTrack, okrstore.AtRisk, okrstore.OffTrack:
		return true
	}
	return false
}

// NextCheckInAfter returns how long after a check-in the next one is due.
func NextCheckInAfter(c okrstore.Cadence) time.Duration {
	day := 24 * time.Hour
	switch c {
	case okrstore.CadenceDaily:
		return day
	case okrstore.CadenceBiWeekly:
		return 14 * day
	case okrstore.CadenceMonthly:
		return 30 * day
	default:
		return 7 * day
	}
}

// RecordCheckIn applies one check-in and returns the stored record.
func (s *Service) RecordCheckIn(ctx context.Context, in CheckInInput) (okrstore.CheckIn, error) {
	recorded, err := s.BulkCheckIn(ctx, in.ObjectiveID, []CheckInInput{in})
	if err != nil {
		return okrstore.CheckIn{}, err
	}
	return recorded[0], nil
}

// BulkCheckIn applies check-ins to one objective in order, as if each were
// recorded on its own, and writes the result once. If any input names a
// missing key result nothing is written.
func (s *Service) BulkCheckIn(ctx context.Context, objectiveID string, inputs []CheckInInput) ([]okrstore.CheckIn, error) {
	var errs okrstore.ValidationErrors
	for i, in := range inputs {
		if in.ObjectiveID != "" && in.ObjectiveID != objectiveID {
			errs = append(errs, okrstore.ValidationError{Field: fmt.Sprintf("checkIns[%d].okrId", i), Message: fmt.Sprintf("check-in targets objective %s, not %s", in.ObjectiveID, objectiveID)})
		}
		if in.Confidence != "" && !validConfidence(in.Confidence) {
			errs = append(errs, okrstore.ValidationError{Field: fmt.Sprintf("checkIns[%d].confidence", i), Message: fmt.Sprintf("invalid confidence %q", in.Confidence)})
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	var (
		recorded []okrstore.CheckIn
		types    []okrstore.MeasureType
	)
	obj, err := s.mutateObjective(ctx, objectiveID, "check in on objectives of", func(obj *okrstore.Objective, settings okrstore.CycleSettings, now time.Time) error {
		recorded, types = recorded[:0], types[:0]
		for _, in := range inputs {
			kr, err := keyResultOf(obj, in.KeyResultID)
			if err != nil {
				return err
			}
			// Milestone progress moves only through milestone completion.
			if set, ok := kr.Measure.(okrstore.MilestoneSet); ok && in.Value != float64(set.CompletedCount()) {
				return okrstore.Invalid("value", "key result %s tracks milestones; check in with the completed count %d", kr.ID, set.CompletedCount())
			}
			ci := okrstore.CheckIn{
				ID:            s.ids.NewID(),
				KeyResultID:   kr.ID,
				ObjectiveID:   obj.ID,
				At:            now,
				PreviousValue: kr.Current,
				NewValue:      in.Value,
				PreviousScore: kr.Score,
				Note:          in.Note,
				Blockers:      in.Blockers,
				Wins:          in.Wins,
				AuthorID:      in.AuthorID,
				CreatedAt:     now,
			}

			kr.Current = in.Value
			if in.Confidence != "" {
				kr.Confidence = in.Confidence
			}
			kr.ConfidenceNote = in.Note
			settle(kr, now)

			ci.NewScore = kr.Score
			ci.Confidence = kr.Confidence
			kr.CheckIns = append(kr.CheckIns, ci)
			obj.CheckInCount++
			recorded = append(recorded, ci)
			types = append(types, kr.Type())
		}

		last := now
		next := now.Add(NextCheckInAfter(obj.Cadence))
		obj.LastCheckInAt = &last
		obj.NextCheckInAt = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, ci := range recorded {
		s.afterCommit(func() { s.metrics.CheckInRecorded(string(types[i])) })
		s.log.Debug("check-in recorded",
			"objective", objectiveID,
			"key_result", ci.KeyResultID,
			"value", ci.NewValue,
			"score", ci.NewScore,
		)
		s.record(ci.AuthorID, "check_in_recorded", map[string]any{
			"objective_id":   objectiveID,
			"key_result_id":  ci.KeyResultID,
			"check_in_id":    ci.ID,
			"previous_value": ci.PreviousValue,
			"new_value":      ci.NewValue,
			"new_score":      ci.NewScore,
			"objective":      obj.Score,
		})
	}
	return recorded, nil
}

// CheckInHistory returns the check-ins of one key result, oldest first.
func (s *Service) CheckInHistory(ctx context.Context, objectiveID, keyResultID string) ([]okrstore.CheckIn, error) {
	obj, err := s.store.GetObjective(ctx, objectiveID)
	if err != nil {
		return nil, err
	}
	kr, err := keyResultOf(&obj, keyResultID)
	if err != nil {
		return nil, err
	}
	history := append([]okrstore.CheckIn(nil), kr.CheckIns...)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].At.Before(history[j].At)
	})
	return history, nil
}
