package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"okrengine/internal/okrstore"
)

// KeyResultPatch lists the fields UpdateKeyResult may change. Replacing the
// Measure with one of a different type resets the current value to the new
// start value.
type KeyResultPatch struct {
	Title          *string
	Description    *string
	Measure        okrstore.Measure
	Weight         *float64
	OwnerID        *string
	Order          *int
	Confidence     *okrstore.Confidence
	ConfidenceNote *string
}

// mutateObjective loads an objective in a writable cycle, applies fn,
// rescores it, stores it and refreshes the cycle rollup in one transaction.
func (s *Service) mutateObjective(ctx context.Context, id, action string, fn func(obj *okrstore.Objective, settings okrstore.CycleSettings, now time.Time) error) (okrstore.Objective, error) {
	var updated okrstore.Objective
	err := s.store.Atomically(ctx, func(tx okrstore.Store) error {
		obj, cycle, err := loadScope(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := ensureWritable(cycle, action); err != nil {
			return err
		}
		settings := s.settingsFor(cycle)
		now := s.now()
		if err := fn(&obj, settings, now); err != nil {
			return err
		}
		rescore(&obj, settings.ScoringMethod, now)
		obj.UpdatedAt = now
		if err := tx.PutObjective(ctx, obj); err != nil {
			return fmt.Errorf("update objective %s: %w", id, err)
		}
		if _, err := s.rollup(ctx, tx, obj.CycleID); err != nil {
			return err
		}
		updated = obj
		return nil
	})
	return updated, err
}

func keyResultOf(obj *okrstore.Objective, id string) (*okrstore.KeyResult, error) {
	kr, ok := obj.KeyResult(id)
	if !ok {
		return nil, okrstore.NotFound("key result", id)
	}
	return kr, nil
}

func milestonesOf(kr *okrstore.KeyResult) (okrstore.MilestoneSet, error) {
	set, ok := kr.Measure.(okrstore.MilestoneSet)
	if !ok {
		return okrstore.MilestoneSet{}, okrstore.Invalid("type", "key result %s is %s, not milestone", kr.ID, kr.Type())
	}
	return set, nil
}

// AddKeyResult appends a key result unless the objective already holds the
// cycle's maximum.
func (s *Service) AddKeyResult(ctx context.Context, objectiveID string, in NewKeyResult, actor string) (okrstore.KeyResult, error) {
	if errs := validateNewKeyResult(in, "keyResult"); len(errs) > 0 {
		return okrstore.KeyResult{}, errs
	}
	var id string
	obj, err := s.mutateObjective(ctx, objectiveID, "add key results in", func(obj *okrstore.Objective, settings okrstore.CycleSettings, _ time.Time) error {
		if len(obj.KeyResults) >= settings.MaxKeyResults {
			return okrstore.Invalid("keyResults", "objective already holds the maximum of %d key results", settings.MaxKeyResults)
		}
		kr := s.newKeyResult(in, obj.ID, nextOrder(obj.KeyResults))
		id = kr.ID
		obj.KeyResults = append(obj.KeyResults, kr)
		return nil
	})
	if err != nil {
		return okrstore.KeyResult{}, err
	}
	added, _ := obj.KeyResult(id)
	s.afterCommit(func() { s.metrics.ObjectiveMutated("add_key_result") })
	s.record(actor, "key_result_added", map[string]any{"objective_id": objectiveID, "key_result_id": added.ID, "title": added.Title})
	return *added, nil
}

func nextOrder(krs []okrstore.KeyResult) int {
	next := 0
	for _, kr := range krs {
		if kr.Order >= next {
			next = kr.Order + 1
		}
	}
	return next
}

// UpdateKeyResult applies patch to one key result and rescores the objective.
func (s *Service) UpdateKeyResult(ctx context.Context, objectiveID, keyResultID string, patch KeyResultPatch, actor string) (okrstore.KeyResult, error) {
	obj, err := s.mutateObjective(ctx, objectiveID, "update key results in", func(obj *okrstore.Objective, _ okrstore.CycleSettings, _ time.Time) error {
		kr, err := keyResultOf(obj, keyResultID)
		if err != nil {
			return err
		}
		if patch.Title != nil {
			if strings.TrimSpace(*patch.Title) == "" {
				return okrstore.Invalid("title", "title is required")
			}
			kr.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			kr.Description = *patch.Description
		}
		if patch.Weight != nil {
			if *patch.Weight < 0 {
				return okrstore.Invalid("weight", "weight must not be negative")
			}
			kr.Weight = *patch.Weight
		}
		if patch.OwnerID != nil {
			kr.OwnerID = *patch.OwnerID
		}
		if patch.Order != nil {
			kr.Order = *patch.Order
		}
		if patch.Confidence != nil {
			if !validConfidence(*patch.Confidence) {
				return okrstore.Invalid("confidence", "invalid confidence %q", *patch.Confidence)
			}
			kr.Confidence = *patch.Confidence
		}
		if patch.ConfidenceNote != nil {
			kr.ConfidenceNote = *patch.ConfidenceNote
		}
		if patch.Measure != nil {
			s.replaceMeasure(kr, patch.Measure)
		}
		return nil
	})
	if err != nil {
		return okrstore.KeyResult{}, err
	}
	updated, _ := obj.KeyResult(keyResultID)
	s.afterCommit(func() { s.metrics.ObjectiveMutated("update_key_result") })
	s.record(actor, "key_result_updated", map[string]any{"objective_id": objectiveID, "key_result_id": keyResultID})
	return *updated, nil
}

func (s *Service) replaceMeasure(kr *okrstore.KeyResult, m okrstore.Measure) {
	typeChanged := kr.Type() != m.Type()
	if set, ok := m.(okrstore.MilestoneSet); ok {
		set = s.assignMilestoneIDs(set)
		kr.Measure = set
		kr.Current = float64(set.CompletedCount())
		return
	}
	kr.Measure = m
	if typeChanged {
		kr.Current = m.StartValue()
	}
}

// RemoveKeyResult drops one key result and rescores the objective.
func (s *Service) RemoveKeyResult(ctx context.Context, objectiveID, keyResultID string, actor string) (okrstore.Objective, error) {
	obj, err := s.mutateObjective(ctx, objectiveID, "remove key results from", func(obj *okrstore.Objective, _ okrstore.CycleSettings, _ time.Time) error {
		if _, err := keyResultOf(obj, keyResultID); err != nil {
			return err
		}
		kept := obj.KeyResults[:0]
		for _, kr := range obj.KeyResults {
			if kr.ID != keyResultID {
				kept = append(kept, kr)
			}
		}
		obj.KeyResults = kept
		return nil
	})
	if err != nil {
		return okrstore.Objective{}, err
	}
	s.afterCommit(func() { s.metrics.ObjectiveMutated("remove_key_result") })
	s.record(actor, "key_result_removed", map[string]any{"objective_id": objectiveID, "key_result_id": keyResultID})
	return obj, nil
}

// AddMilestone appends a milestone to a milestone-type key result.
func (s *Service) AddMilestone(ctx context.Context, objectiveID, keyResultID, title string, targetDate *time.Time, actor string) (okrstore.Milestone, error) {
	if strings.TrimSpace(title) == "" {
		return okrstore.Milestone{}, okrstore.Invalid("title", "title is required")
	}
	var added okrstore.Milestone
	_, err := s.mutateObjective(ctx, objectiveID, "add milestones in", func(obj *okrstore.Objective, _ okrstore.CycleSettings, _ time.Time) error {
		kr, err := keyResultOf(obj, keyResultID)
		if err != nil {
			return err
		}
		set, err := milestonesOf(kr)
		if err != nil {
			return err
		}
		added = okrstore.Milestone{
			ID:         s.ids.NewID(),
			Title:      strings.TrimSpace(title),
			TargetDate: targetDate,
			Order:      len(set.Milestones),
		}
		set.Milestones = append(append([]okrstore.Milestone(nil), set.Milestones...), added)
		kr.Measure = set
		kr.Current = float64(set.CompletedCount())
		return nil
	})
	if err != nil {
		return okrstore.Milestone{}, err
	}
	s.record(actor, "milestone_added", map[string]any{"objective_id": objectiveID, "key_result_id": keyResultID, "milestone_id": added.ID})
	return added, nil
}

// CompleteMilestone marks one milestone done by actor. The key result's
// current value becomes its completed milestone count.
func (s *Service) CompleteMilestone(ctx context.Context, objectiveID, keyResultID, milestoneID, actor string) (okrstore.KeyResult, error) {
	return s.toggleMilestone(ctx, objectiveID, keyResultID, milestoneID, actor, true)
}

// ReopenMilestone clears a milestone's completion.
func (s *Service) ReopenMilestone(ctx context.Context, objectiveID, keyResultID, milestoneID, actor string) (okrstore.KeyResult, error) {
	return s.toggleMilestone(ctx, objectiveID, keyResultID, milestoneID, actor, false)
}

func (s *Service) toggleMilestone(ctx context.Context, objectiveID, keyResultID, milestoneID, actor string, done bool) (okrstore.KeyResult, error) {
	obj, err := s.mutateObjective(ctx, objectiveID, "update milestones in", func(obj *okrstore.Objective, _ okrstore.CycleSettings, now time.Time) error {
		kr, err := keyResultOf(obj, keyResultID)
		if err != nil {
			return err
		}
		set, err := milestonesOf(kr)
		if err != nil {
			return err
		}
		milestones := append([]okrstore.Milestone(nil), set.Milestones...)
		found := false
		for i := range milestones {
			m := &milestones[i]
			if m.ID != milestoneID {
				continue
			}
			found = true
			switch {
			case done && !m.Completed:
				at := now
				m.Completed = true
				m.CompletedAt = &at
				m.CompletedBy = actor
			case !done && m.Completed:
				m.Completed = false
				m.CompletedAt = nil
				m.CompletedBy = ""
			}
		}
		if !found {
			return okrstore.NotFound("milestone", milestoneID)
		}
		set.Milestones = milestones
		kr.Measure = set
		kr.Current = float64(set.CompletedCount())
		return nil
	})
	if err != nil {
		return okrstore.KeyResult{}, err
	}
	kr, _ := obj.KeyResult(keyResultID)

	event := "milestone_reopened"
	if done {
		event = "milestone_completed"
	}
	s.log.Debug(strings.ReplaceAll(event, "_", " "), "objective", objectiveID, "key_result", keyResultID, "milestone", milestoneID)
	s.record(actor, event, map[string]any{
		"objective_id":  objectiveID,
		"key_result_id": keyResultID,
		"milestone_id":  milestoneID,
		"score":         kr.Score,
	})
	return *kr, nil
}
