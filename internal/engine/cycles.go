package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"okrengine/internal/okrstore"
)

// NewCycle is the input to CreateCycle. A nil Settings takes the service
// defaults; otherwise unset fields are filled from them.
type NewCycle struct {
	CompanyID string
	Year      int
	Period    string
	Name      string
	StartDate time.Time
	EndDate   time.Time
	Settings  *okrstore.CycleSettings
}

var cycleTransitions = map[okrstore.CycleStatus][]okrstore.CycleStatus{
	okrstore.CyclePlanning: {okrstore.CycleActive, okrstore.CycleClosed},
	okrstore.CycleActive:   {okrstore.CycleReview},
	okrstore.CycleReview:   {okrstore.CycleClosed},
}

func canTransition(from, to okrstore.CycleStatus) bool {
	for _, next := range cycleTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func validateSettings(settings okrstore.CycleSettings) error {
	var errs okrstore.ValidationErrors
	switch settings.ScoringMethod {
	case okrstore.ScoringAverage, okrstore.ScoringWeighted:
	default:
		errs = append(errs, okrstore.ValidationError{Field: "settings.scoringMethod", Message: fmt.Sprintf("unknown scoring method %q", settings.ScoringMethod)})
	}
	switch settings.DefaultCadence {
	case okrstore.CadenceDaily, okrstore.CadenceWeekly, okrstore.CadenceBiWeekly, okrstore.CadenceMonthly:
	default:
		errs = append(errs, okrstore.ValidationError{Field: "settings.defaultCadence", Message: fmt.Sprintf("unknown cadence %q", settings.DefaultCadence)})
	}
	if settings.MinKeyResults > settings.MaxKeyResults {
		errs = append(errs, okrstore.ValidationError{Field: "settings", Message: "minKeyResults exceeds maxKeyResults"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// CreateCycle stores a new cycle in planning.
func (s *Service) CreateCycle(ctx context.Context, in NewCycle) (okrstore.Cycle, error) {
	var errs okrstore.ValidationErrors
	if strings.TrimSpace(in.CompanyID) == "" {
		errs = append(errs, okrstore.ValidationError{Field: "companyId", Message: "companyId is required"})
	}
	name := strings.TrimSpace(in.Name)
	if name == "" && in.Period != "" && in.Year > 0 {
		name = fmt.Sprintf("%s-%d", in.Period, in.Year)
	}
	if name == "" {
		errs = append(errs, okrstore.ValidationError{Field: "name", Message: "name is required"})
	}
	if !in.StartDate.IsZero() && !in.EndDate.IsZero() && in.EndDate.Before(in.StartDate) {
		errs = append(errs, okrstore.ValidationError{Field: "endDate", Message: "endDate must not be before startDate"})
	}
	if len(errs) > 0 {
		return okrstore.Cycle{}, errs
	}

	settings := s.defaults
	if in.Settings != nil {
		settings = fillSettings(*in.Settings, s.defaults)
	}
	if err := validateSettings(settings); err != nil {
		return okrstore.Cycle{}, err
	}

	now := s.now()
	cycle := okrstore.Cycle{
		ID:        s.ids.NewID(),
		CompanyID: strings.TrimSpace(in.CompanyID),
		Year:      in.Year,
		Period:    strings.TrimSpace(in.Period),
		Name:      name,
		StartDate: in.StartDate,
		EndDate:   in.EndDate,
		Status:    okrstore.CyclePlanning,
		Settings:  settings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateCycle(ctx, cycle); err != nil {
		return okrstore.Cycle{}, fmt.Errorf("create cycle: %w", err)
	}

	s.afterCommit(func() { s.log.Info("cycle created", "cycle", cycle.ID, "company", cycle.CompanyID, "name", cycle.Name) })
	s.record(cycle.CompanyID, "cycle_created", map[string]any{"cycle_id": cycle.ID, "name": cycle.Name})
	return cycle, nil
}

func (s *Service) GetCycle(ctx context.Context, id string) (okrstore.Cycle, error) {
	return s.store.GetCycle(ctx, id)
}

func (s *Service) ListCycles(ctx context.Context, filter okrstore.CycleFilter) ([]okrstore.Cycle, error) {
	return s.store.ListCycles(ctx, filter)
}

// ActivateCycle makes the cycle the company's active one. Any other active
// cycle of the same company is closed in the same transaction. Activating an
// already active cycle is a no-op.
func (s *Service) ActivateCycle(ctx context.Context, id string) (okrstore.Cycle, error) {
	var (
		activated okrstore.Cycle
		closed    []string
		changed   bool
	)
	err := s.store.Atomically(ctx, func(tx okrstore.Store) error {
		closed, changed = nil, false
		target, err := tx.GetCycle(ctx, id)
		if err != nil {
			return err
		}
		if target.Status == okrstore.CycleActive {
			activated = target
			return nil
		}
		if !canTransition(target.Status, okrstore.CycleActive) {
			return &okrstore.StateConflictError{Entity: "cycle", ID: id, State: string(target.Status), Action: "activate"}
		}

		others, err := tx.ListCycles(ctx, okrstore.CycleFilter{CompanyID: target.CompanyID, Status: okrstore.CycleActive})
		if err != nil {
			return err
		}
		now := s.now()
		for _, other := range others {
			if other.ID == id {
				continue
			}
			if _, err := tx.UpdateCycle(ctx, other.ID, func(c *okrstore.Cycle) error {
				c.Status = okrstore.CycleClosed
				c.UpdatedAt = now
				return nil
			}); err != nil {
				return fmt.Errorf("close cycle %s: %w", other.ID, err)
			}
			closed = append(closed, other.ID)
		}

		activated, err = tx.UpdateCycle(ctx, id, func(c *okrstore.Cycle) error {
			c.Status = okrstore.CycleActive
			c.UpdatedAt = now
			return nil
		})
		changed = err == nil
		return err
	})
	if err != nil {
		return okrstore.Cycle{}, err
	}
	if !changed {
		return activated, nil
	}

	for _, other := range closed {
		s.afterCommit(func() {
			s.log.Info("cycle closed by activation", "cycle", other, "activated", id)
			s.metrics.CycleTransitioned(string(okrstore.CycleClosed))
		})
		s.record(activated.CompanyID, "cycle_closed", map[string]any{"cycle_id": other, "superseded_by": id})
	}
	s.afterCommit(func() {
		s.log.Info("cycle activated", "cycle", id, "company", activated.CompanyID)
		s.metrics.CycleTransitioned(string(okrstore.CycleActive))
	})
	s.record(activated.CompanyID, "cycle_activated", map[string]any{"cycle_id": id})
	return activated, nil
}

// StartCycleReview moves an active cycle into review.
func (s *Service) StartCycleReview(ctx context.Context, id string) (okrstore.Cycle, error) {
	return s.transition(ctx, id, okrstore.CycleReview, "review")
}

// CloseCycle closes a cycle in review, or abandons one still in planning.
func (s *Service) CloseCycle(ctx context.Context, id string) (okrstore.Cycle, error) {
	return s.transition(ctx, id, okrstore.CycleClosed, "close")
}

func (s *Service) transition(ctx context.Context, id string, to okrstore.CycleStatus, action string) (okrstore.Cycle, error) {
	cycle, err := s.store.UpdateCycle(ctx, id, func(c *okrstore.Cycle) error {
		if !canTransition(c.Status, to) {
			return &okrstore.StateConflictError{Entity: "cycle", ID: id, State: string(c.Status), Action: action}
		}
		c.Status = to
		c.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return okrstore.Cycle{}, err
	}
	s.afterCommit(func() {
		s.log.Info("cycle transitioned", "cycle", id, "status", to)
		s.metrics.CycleTransitioned(string(to))
	})
	s.record(cycle.CompanyID, "cycle_"+action, map[string]any{"cycle_id": id, "status": to})
	return cycle, nil
}

// UpdateCycleSettings replaces the cycle's settings. Unset fields are filled
// from the service defaults. Closed cycles are frozen.
func (s *Service) UpdateCycleSettings(ctx context.Context, id string, settings okrstore.CycleSettings) (okrstore.Cycle, error) {
	settings = fillSettings(settings, s.defaults)
	if err := validateSettings(settings); err != nil {
		return okrstore.Cycle{}, err
	}
	cycle, err := s.store.UpdateCycle(ctx, id, func(c *okrstore.Cycle) error {
		if err := ensureWritable(*c, "update settings of"); err != nil {
			return err
		}
		c.Settings = settings
		c.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return okrstore.Cycle{}, err
	}
	s.record(cycle.CompanyID, "cycle_settings_updated", map[string]any{"cycle_id": id, "settings": settings})
	return cycle, nil
}

// DeleteCycle removes a cycle that scopes no objectives.
func (s *Service) DeleteCycle(ctx context.Context, id string) error {
	var companyID string
	err := s.store.Atomically(ctx, func(tx okrstore.Store) error {
		cycle, err := tx.GetCycle(ctx, id)
		if err != nil {
			return err
		}
		companyID = cycle.CompanyID
		objs, err := tx.ListObjectives(ctx, okrstore.ObjectiveFilter{CycleID: id})
		if err != nil {
			return err
		}
		if len(objs) > 0 {
			return &okrstore.StateConflictError{
				Entity: "cycle",
				ID:     id,
				State:  fmt.Sprintf("%s with %d objectives", cycle.Status, len(objs)),
				Action: "delete",
			}
		}
		return tx.DeleteCycle(ctx, id)
	})
	if err != nil {
		return err
	}
	s.afterCommit(func() { s.log.Info("cycle deleted", "cycle", id) })
	s.record(companyID, "cycle_deleted", map[string]any{"cycle_id": id})
	return nil
}

// RecomputeCycleRollup refreshes the cycle's objective count and the average
// score of its active objectives.
func (s *Service) RecomputeCycleRollup(ctx context.Context, id string) (okrstore.Cycle, error) {
	var cycle okrstore.Cycle
	err := s.store.Atomically(ctx, func(tx okrstore.Store) error {
		var err error
		cycle, err = s.rollup(ctx, tx, id)
		return err
	})
	return cycle, err
}

func (s *Service) rollup(ctx context.Context, tx okrstore.Store, cycleID string) (okrstore.Cycle, error) {
	objs, err := tx.ListObjectives(ctx, okrstore.ObjectiveFilter{CycleID: cycleID})
	if err != nil {
		return okrstore.Cycle{}, fmt.Errorf("rollup cycle %s: %w", cycleID, err)
	}
	var (
		sum    float64
		active int
	)
	for _, o := range objs {
		if o.Status == okrstore.ObjectiveActive {
			sum += o.Score
			active++
		}
	}
	average := 0.0
	if active > 0 {
		average = sum / float64(active)
	}
	return tx.UpdateCycle(ctx, cycleID, func(c *okrstore.Cycle) error {
		c.ObjectiveCount = len(objs)
		c.AverageScore = average
		c.UpdatedAt = s.now()
		return nil
	})
}
