package engine

import (
	"context"
	"fmt"

	"okrengine/internal/alignment"
	"okrengine/internal/okrstore"
)

// HealAlignment repairs one-sided parent/child links and dangling parent
// pointers in a cycle and returns the repairs it applied. Links to an
// objective that exists in another cycle are left for a human to resolve.
func (s *Service) HealAlignment(ctx context.Context, cycleID string) ([]alignment.Repair, error) {
	var applied []alignment.Repair
	err := s.store.Atomically(ctx, func(tx okrstore.Store) error {
		applied = nil
		if _, err := tx.GetCycle(ctx, cycleID); err != nil {
			return err
		}
		objs, err := tx.ListObjectives(ctx, okrstore.ObjectiveFilter{CycleID: cycleID})
		if err != nil {
			return fmt.Errorf("list objectives: %w", err)
		}
		tree := alignment.Build(objs)
		if len(tree.Warnings) == 0 {
			return nil
		}

		now := s.now()
		for _, r := range alignment.PlanRepairs(tree.Warnings) {
			skip, err := crossCycle(ctx, tx, r, cycleID)
			if err != nil {
				return err
			}
			if skip {
				s.log.Warn("alignment repair skipped", "cycle", cycleID, "kind", r.Kind, "objective", r.ObjectiveID, "related", r.RelatedID)
				continue
			}
			if _, err := tx.UpdateObjective(ctx, r.ObjectiveID, func(o *okrstore.Objective) error {
				switch r.Kind {
				case alignment.ClearParent:
					if o.ParentID == r.RelatedID {
						o.ParentID = ""
					}
				case alignment.AddChildLink:
					o.AddChild(r.RelatedID)
				case alignment.DropChildLink:
					o.RemoveChild(r.RelatedID)
				}
				o.UpdatedAt = now
				return nil
			}); err != nil {
				return fmt.Errorf("repair %s on %s: %w", r.Kind, r.ObjectiveID, err)
			}
			applied = append(applied, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, r := range applied {
		s.afterCommit(func() {
			s.log.Info("alignment repaired", "cycle", cycleID, "kind", r.Kind, "objective", r.ObjectiveID, "related", r.RelatedID, "cause", r.Cause)
			s.metrics.AlignmentRepaired(string(r.Kind))
		})
	}
	if len(applied) > 0 {
		s.record("reconciler", "alignment_healed", map[string]any{"cycle_id": cycleID, "repairs": len(applied)})
	}
	return applied, nil
}

// crossCycle reports whether a repair concerns a link whose other end lives
// in a different cycle.
func crossCycle(ctx context.Context, tx okrstore.Store, r alignment.Repair, cycleID string) (bool, error) {
	if r.Cause != alignment.DanglingParent && r.Cause != alignment.StaleChildLink {
		return false, nil
	}
	other, err := tx.GetObjective(ctx, r.RelatedID)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if other.CycleID == cycleID {
		return false, nil
	}
	if r.Cause == alignment.StaleChildLink {
		return other.ParentID == r.ObjectiveID, nil
	}
	return true, nil
}
