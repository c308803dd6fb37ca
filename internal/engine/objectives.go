package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"okrengine/internal/audit"
	"okrengine/internal/okrstore"
)

// NewKeyResult describes a key result supplied at objective creation or
// added later. Milestones of a MilestoneSet are assigned ids.
type NewKeyResult struct {
	Title       string
	Description string
	Measure     okrstore.Measure
	Weight      *float64
	OwnerID     string
}

// NewObjective is the input to CreateObjective.
type NewObjective struct {
	CycleID              string
	OwnerID              string
	OwnerType            okrstore.OwnerType
	OwnerName            string
	Level                okrstore.Level
	Title                string
	Description          string
	Category             string
	ParentID             string
	StrategicPillarID    string
	StrategicObjectiveID string
	Tags                 []string
	Visibility           okrstore.Visibility
	IsStretch            bool
	Cadence              okrstore.Cadence
	KeyResults           []NewKeyResult
	CreatedBy            string
}

// ObjectivePatch lists the fields UpdateObjective may change. Nil fields are
// left alone. A ParentID pointing at "" detaches the objective.
type ObjectivePatch struct {
	Title                *string
	Description          *string
	Category             *string
	OwnerID              *string
	OwnerType            *okrstore.OwnerType
	OwnerName            *string
	Level                *okrstore.Level
	ParentID             *string
	StrategicPillarID    *string
	StrategicObjectiveID *string
	Tags                 *[]string
	Visibility           *okrstore.Visibility
	IsStretch            *bool
	Cadence              *okrstore.Cadence
}

func validLevel(l okrstore.Level) bool {
	return l.Rank() < len(okrstore.Levels)
}

func validOwnerType(t okrstore.OwnerType) bool {
	switch t {
	case okrstore.OwnerUser, okrstore.OwnerTeam, okrstore.OwnerCompany:
		return true
	}
	return false
}

func validVisibility(v okrstore.Visibility) bool {
	switch v {
	case okrstore.VisibilityPublic, okrstore.VisibilityTeam, okrstore.VisibilityPrivate:
		return true
	}
	return false
}

func validCadence(c okrstore.Cadence) bool {
	switch c {
	case okrstore.CadenceDaily, okrstore.CadenceWeekly, okrstore.CadenceBiWeekly, okrstore.CadenceMonthly:
		return true
	}
	return false
}

// validateObjective checks the fields every stored objective must carry.
func validateObjective(o okrstore.Objective) okrstore.ValidationErrors {
	var errs okrstore.ValidationErrors
	if strings.TrimSpace(o.Title) == "" {
		errs = append(errs, okrstore.ValidationError{Field: "title", Message: "title is required"})
	}
	if strings.TrimSpace(o.OwnerID) == "" {
		errs = append(errs, okrstore.ValidationError{Field: "ownerId", Message: "ownerId is required"})
	}
	if !validLevel(o.Level) {
		errs = append(errs, okrstore.ValidationError{Field: "level", Message: fmt.Sprintf("invalid level %q", o.Level)})
	}
	if !validOwnerType(o.OwnerType) {
		errs = append(errs, okrstore.ValidationError{Field: "ownerType", Message: fmt.Sprintf("invalid owner type %q", o.OwnerType)})
	}
	if !validVisibility(o.Visibility) {
		errs = append(errs, okrstore.ValidationError{Field: "visibility", Message: fmt.Sprintf("invalid visibility %q", o.Visibility)})
	}
	if !validCadence(o.Cadence) {
		errs = append(errs, okrstore.ValidationError{Field: "checkInCadence", Message: fmt.Sprintf("invalid cadence %q", o.Cadence)})
	}
	return errs
}

func stretchAllowed(settings okrstore.CycleSettings) okrstore.ValidationErrors {
	if settings.AllowStretch {
		return nil
	}
	return okrstore.ValidationErrors{{Field: "isStretch", Message: "cycle does not allow stretch objectives"}}
}

func validateNewKeyResult(in NewKeyResult, field string) okrstore.ValidationErrors {
	var errs okrstore.ValidationErrors
	if strings.TrimSpace(in.Title) == "" {
		errs = append(errs, okrstore.ValidationError{Field: field + ".title", Message: "title is required"})
	}
	if in.Measure == nil {
		errs = append(errs, okrstore.ValidationError{Field: field + ".type", Message: "measure is required"})
	}
	if in.Weight != nil && *in.Weight < 0 {
		errs = append(errs, okrstore.ValidationError{Field: field + ".weight", Message: "weight must not be negative"})
	}
	return errs
}

// newKeyResult builds a key result at its start value with a fresh id for
// it and each of its milestones.
func (s *Service) newKeyResult(in NewKeyResult, objectiveID string, order int) okrstore.KeyResult {
	weight := 1.0
	if in.Weight != nil {
		weight = *in.Weight
	}
	measure := in.Measure
	if set, ok := measure.(okrstore.MilestoneSet); ok {
		measure = s.assignMilestoneIDs(set)
	}
	return okrstore.KeyResult{
		ID:          s.ids.NewID(),
		ObjectiveID: objectiveID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Measure:     measure,
		Current:     measure.StartValue(),
		Confidence:  okrstore.OnTrack,
		OwnerID:     in.OwnerID,
		Order:       order,
		Weight:      weight,
	}
}

func (s *Service) assignMilestoneIDs(set okrstore.MilestoneSet) okrstore.MilestoneSet {
	out := okrstore.MilestoneSet{Milestones: make([]okrstore.Milestone, len(set.Milestones))}
	for i, m := range set.Milestones {
		if m.ID == "" {
			m.ID = s.ids.NewID()
		}
		m.Order = i
		out.Milestones[i] = m
	}
	return out
}

// CreateObjective stores a draft objective in an existing cycle and links
// it under its parent, if any.
func (s *Service) CreateObjective(ctx context.Context, in NewObjective) (okrstore.Objective, error) {
	var created okrstore.Objective
	err := s.store.Atomically(ctx, func(tx okrstore.Store) error {
		cycle, err := tx.GetCycle(ctx, in.CycleID)
		if err != nil {
			return err
		}
		if err := ensureWritable(cycle, "add objectives to"); err != nil {
			return err
		}
		settings := s.settingsFor(cycle)

		now := s.now()
		obj := okrstore.Objective{
			ID:                   s.ids.NewID(),
			CycleID:              cycle.ID,
			Year:                 cycle.Year,
			Period:               cycle.Period,
			OwnerID:              strings.TrimSpace(in.OwnerID),
			OwnerType:            in.OwnerType,
			OwnerName:            in.OwnerName,
			Level:                in.Level,
			Title:                strings.TrimSpace(in.Title),
			Description:          in.Description,
			Category:             in.Category,
			Status:               okrstore.ObjectiveDraft,
			ParentID:             in.ParentID,
			ChildIDs:             []string{},
			StrategicPillarID:    in.StrategicPillarID,
			StrategicObjectiveID: in.StrategicObjectiveID,
			Tags:                 in.Tags,
			Visibility:           in.Visibility,
			IsStretch:            in.IsStretch,
			Cadence:              in.Cadence,
			CreatedBy:            in.CreatedBy,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if obj.OwnerType == "" {
			obj.OwnerType = okrstore.OwnerUser
			if obj.Level == okrstore.LevelCompany {
				obj.OwnerType = okrstore.OwnerCompany
			}
		}
		if obj.Visibility == "" {
			obj.Visibility = okrstore.VisibilityPublic
		}
		if obj.Cadence == "" {
			obj.Cadence = settings.DefaultCadence
		}

		errs := validateObjective(obj)
		if obj.IsStretch {
			errs = append(errs, stretchAllowed(settings)...)
		}
		if len(in.KeyResults) > settings.MaxKeyResults {
			errs = append(errs, okrstore.ValidationError{
				Field:   "keyResults",
				Message: fmt.Sprintf("at most %d key results allowed, got %d", settings.MaxKeyResults, len(in.KeyResults)),
			})
		}
		for i, kr := range in.KeyResults {
			errs = append(errs, validateNewKeyResult(kr, fmt.Sprintf("keyResults[%d]", i))...)
		}
		if len(errs) > 0 {
			return errs
		}

		obj.KeyResults = make([]okrstore.KeyResult, 0, len(in.KeyResults))
		for i, kr := range in.KeyResults {
			obj.KeyResults = append(obj.KeyResults, s.newKeyResult(kr, obj.ID, i))
		}

		if obj.ParentID != "" {
			parent, err := tx.GetObjective(ctx, obj.ParentID)
			if err != nil {
				return err
			}
			if parent.CycleID != obj.CycleID {
				return okrstore.Invalid("parentOkrId", "parent %s belongs to cycle %s", parent.ID, parent.CycleID)
			}
		}

		if err := tx.CreateObjective(ctx, obj); err != nil {
			return fmt.Errorf("create objective: %w", err)
		}
		if obj.ParentID != "" {
			if _, err := tx.UpdateObjective(ctx, obj.ParentID, func(p *okrstore.Objective) error {
				p.AddChild(obj.ID)
				p.UpdatedAt = now
				return nil
			}); err != nil {
				return fmt.Errorf("link parent %s: %w", obj.ParentID, err)
			}
		}
		if _, err := s.rollup(ctx, tx, cycle.ID); err != nil {
			return err
		}
		created = obj
		return nil
	})
	if err != nil {
		return okrstore.Objective{}, err
	}

	s.log.Debug("objective created", "objective", created.ID, "cycle", created.CycleID, "parent", created.ParentID)
	s.afterCommit(func() { s.metrics.ObjectiveMutated("create") })
	s.record(created.CreatedBy, "objective_created", map[string]any{
		"objective_id": created.ID,
		"cycle_id":     created.CycleID,
		"title":        created.Title,
	})
	return created, nil
}

func (s *Service) GetObjective(ctx context.Context, id string) (okrstore.Objective, error) {
	return s.store.GetObjective(ctx, id)
}

func (s *Service) ListObjectives(ctx context.Context, filter okrstore.ObjectiveFilter) ([]okrstore.Objective, error) {
	return s.store.ListObjectives(ctx, filter)
}

// UpdateObjective applies patch. A parent change moves the objective between
// child lists in the same transaction as the pointer write.
func (s *Service) UpdateObjective(ctx context.Context, id string, patch ObjectivePatch, actor string) (okrstore.Objective, error) {
	var before, after okrstore.Objective
	err := s.store.Atomically(ctx, func(tx okrstore.Store) error {
		cur, cycle, err := loadScope(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := ensureWritable(cycle, "update objectives of"); err != nil {
			return err
		}
		before = cur
		settings := s.settingsFor(cycle)
		now := s.now()

		applyPatch(&cur, patch)
		errs := validateObjective(cur)
		if cur.IsStretch && !before.IsStretch {
			errs = append(errs, stretchAllowed(settings)...)
		}
		if len(errs) > 0 {
			return errs
		}

		if patch.ParentID != nil && *patch.ParentID != before.ParentID {
			if err := s.reparent(ctx, tx, &cur, before.ParentID, *patch.ParentID, now); err != nil {
				return err
			}
		}

		rescore(&cur, settings.ScoringMethod, now)
		cur.UpdatedAt = now
		if err := tx.PutObjective(ctx, cur); err != nil {
			return fmt.Errorf("update objective %s: %w", id, err)
		}
		if _, err := s.rollup(ctx, tx, cur.CycleID); err != nil {
			return err
		}
		after = cur
		return nil
	})
	if err != nil {
		return okrstore.Objective{}, err
	}

	payload := map[string]any{"objective_id": id}
	if diff, err := audit.Diff(before, after, "before", "after"); err != nil {
		s.log.Warn("objective diff failed", "objective", id, "error", err)
	} else if diff != "" {
		payload["diff"] = diff
	}
	s.log.Debug("objective updated", "objective", id)
	s.afterCommit(func() { s.metrics.ObjectiveMutated("update") })
	s.record(actor, "objective_updated", payload)
	return after, nil
}

func applyPatch(o *okrstore.Objective, p ObjectivePatch) {
	if p.Title != nil {
		o.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		o.Description = *p.Description
	}
	if p.Category != nil {
		o.Category = *p.Category
	}
	if p.OwnerID != nil {
		o.OwnerID = strings.TrimSpace(*p.OwnerID)
	}
	if p.OwnerType != nil {
		o.OwnerType = *p.OwnerType
	}
	if p.OwnerName != nil {
		o.OwnerName = *p.OwnerName
	}
	if p.Level != nil {
		o.Level = *p.Level
	}
	if p.StrategicPillarID != nil {
		o.StrategicPillarID = *p.StrategicPillarID
	}
	if p.StrategicObjectiveID != nil {
		o.StrategicObjectiveID = *p.StrategicObjectiveID
	}
	if p.Tags != nil {
		o.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Visibility != nil {
		o.Visibility = *p.Visibility
	}
	if p.IsStretch != nil {
		o.IsStretch = *p.IsStretch
	}
	if p.Cadence != nil {
		o.Cadence = *p.Cadence
	}
}

// reparent moves obj from oldParent's child list to newParent's. A missing
// old parent is skipped so a dangling pointer can be repaired by reparenting.
func (s *Service) reparent(ctx context.Context, tx okrstore.Store, obj *okrstore.Objective, oldParent, newParent string, now time.Time) error {
	if newParent != "" {
		if newParent == obj.ID {
			return okrstore.Invalid("parentOkrId", "objective cannot be its own parent")
		}
		parent, err := tx.GetObjective(ctx, newParent)
		if err != nil {
			return err
		}
		if parent.CycleID != obj.CycleID {
			return okrstore.Invalid("parentOkrId", "parent %s belongs to cycle %s", parent.ID, parent.CycleID)
		}
		descendant, err := isAncestor(ctx, tx, obj.ID, parent)
		if err != nil {
			return err
		}
		if descendant {
			return okrstore.Invalid("parentOkrId", "parent %s is a descendant of %s", parent.ID, obj.ID)
		}
	}

	if oldParent != "" {
		_, err := tx.UpdateObjective(ctx, oldParent, func(p *okrstore.Objective) error {
			p.RemoveChild(obj.ID)
			p.UpdatedAt = now
			return nil
		})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("unlink parent %s: %w", oldParent, err)
		}
	}
	if newParent != "" {
		if _, err := tx.UpdateObjective(ctx, newParent, func(p *okrstore.Objective) error {
			p.AddChild(obj.ID)
			p.UpdatedAt = now
			return nil
		}); err != nil {
			return fmt.Errorf("link parent %s: %w", newParent, err)
		}
	}
	obj.ParentID = newParent
	return nil
}

// isAncestor reports whether id appears on the parent chain starting at from.
func isAncestor(ctx context.Context, tx okrstore.Store, id string, from okrstore.Objective) (bool, error) {
	seen := map[string]bool{from.ID: true}
	next := from.ParentID
	for next != "" && !seen[next] {
		if next == id {
			return true, nil
		}
		seen[next] = true
		o, err := tx.GetObjective(ctx, next)
		if isNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		next = o.ParentID
	}
	return false, nil
}

// DeleteObjective removes the objective, unlinks it from its parent and
// orphans its children.
func (s *Service) DeleteObjective(ctx context.Context, id string, actor string) error {
	var deleted okrstore.Objective
	err := s.store.Atomically(ctx, func(tx okrstore.Store) error {
		obj, cycle, err := loadScope(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := ensureWritable(cycle, "delete objectives of"); err != nil {
			return err
		}
		now := s.now()

		if obj.ParentID != "" {
			_, err := tx.UpdateObjective(ctx, obj.ParentID, func(p *okrstore.Objective) error {
				p.RemoveChild(id)
				p.UpdatedAt = now
				return nil
			})
			if err != nil && !isNotFound(err) {
				return fmt.Errorf("unlink parent %s: %w", obj.ParentID, err)
			}
		}

		children := append([]string(nil), obj.ChildIDs...)
		pointing, err := tx.ListObjectives(ctx, okrstore.ObjectiveFilter{ParentID: okrstore.ParentIs(id)})
		if err != nil {
			return err
		}
		for _, c := range pointing {
			if !obj.HasChild(c.ID) {
				children = append(children, c.ID)
			}
		}
		for _, childID := range children {
			_, err := tx.UpdateObjective(ctx, childID, func(c *okrstore.Objective) error {
				if c.ParentID == id {
					c.ParentID = ""
					c.UpdatedAt = now
				}
				return nil
			})
			if err != nil && !isNotFound(err) {
				return fmt.Errorf("orphan child %s: %w", childID, err)
			}
		}

		if err := tx.DeleteObjective(ctx, id); err != nil {
			return fmt.Errorf("delete objective %s: %w", id, err)
		}
		if _, err := s.rollup(ctx, tx, obj.CycleID); err != nil {
			return err
		}
		deleted = obj
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Debug("objective deleted", "objective", id, "orphaned", len(deleted.ChildIDs))
	s.afterCommit(func() { s.metrics.ObjectiveMutated("delete") })
	s.record(actor, "objective_deleted", map[string]any{
		"objective_id": id,
		"cycle_id":     deleted.CycleID,
		"title":        deleted.Title,
	})
	return nil
}

// ActivateObjective moves a draft objective to active once it holds the
// cycle's minimum number of key results. Completed objectives cannot be
// reactivated.
func (s *Service) ActivateObjective(ctx context.Context, id string, actor string) (okrstore.Objective, error) {
	return s.setStatus(ctx, id, okrstore.ObjectiveActive, actor, func(o okrstore.Objective, settings okrstore.CycleSettings) error {
		if o.Status == okrstore.ObjectiveCompleted {
			return &okrstore.StateConflictError{Entity: "objective", ID: o.ID, State: string(o.Status), Action: "activate"}
		}
		if len(o.KeyResults) < settings.MinKeyResults {
			return okrstore.Invalid("keyResults", "at least %d key results required to activate, got %d", settings.MinKeyResults, len(o.KeyResults))
		}
		return nil
	})
}

// CompleteObjective marks the objective completed regardless of its score.
func (s *Service) CompleteObjective(ctx context.Context, id string, actor string) (okrstore.Objective, error) {
	return s.setStatus(ctx, id, okrstore.ObjectiveCompleted, actor, nil)
}

func (s *Service) setStatus(ctx context.Context, id string, status okrstore.ObjectiveStatus, actor string, check func(okrstore.Objective, okrstore.CycleSettings) error) (okrstore.Objective, error) {
	var (
		updated okrstore.Objective
		changed bool
	)
	err := s.store.Atomically(ctx, func(tx okrstore.Store) error {
		obj, cycle, err := loadScope(ctx, tx, id)
		if err != nil {
			return err
		}
		if obj.Status == status {
			updated, changed = obj, false
			return nil
		}
		if err := ensureWritable(cycle, "change objectives of"); err != nil {
			return err
		}
		if check != nil {
			if err := check(obj, s.settingsFor(cycle)); err != nil {
				return err
			}
		}
		obj.Status = status
		obj.UpdatedAt = s.now()
		if err := tx.PutObjective(ctx, obj); err != nil {
			return fmt.Errorf("update objective %s: %w", id, err)
		}
		if _, err := s.rollup(ctx, tx, obj.CycleID); err != nil {
			return err
		}
		updated, changed = obj, true
		return nil
	})
	if err != nil {
		return okrstore.Objective{}, err
	}
	if changed {
		s.afterCommit(func() {
			s.log.Info("objective status changed", "objective", id, "status", status)
			s.metrics.ObjectiveMutated(string(status))
		})
		s.record(actor, "objective_"+string(status), map[string]any{"objective_id": id})
	}
	return updated, nil
}
