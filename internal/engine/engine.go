// Package engine implements the OKR operations: the objective repository,
// the check-in recorder and the cycle manager, on top of an okrstore.Store.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"okrengine/internal/analytics"
	"okrengine/internal/instrument"
	"okrengine/internal/okrstore"
	"okrengine/internal/scoring"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator supplies globally unique identifiers.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// AuditSink receives one event per successful mutation. audit.Logger
// satisfies it.
type AuditSink interface {
	LogEvent(actor string, eventType string, payload any) error
}

// DefaultCycleSettings are applied where a cycle leaves a setting unset.
var DefaultCycleSettings = okrstore.CycleSettings{
	DefaultCadence: okrstore.CadenceWeekly,
	ScoringMethod:  okrstore.ScoringAverage,
	MinKeyResults:  1,
	MaxKeyResults:  5,
	AllowStretch:   true,
}

// Service runs engine operations against a store.
type Service struct {
	store      okrstore.Store
	clock      Clock
	ids        IDGenerator
	log        *slog.Logger
	audit      AuditSink
	metrics    *instrument.Metrics
	defaults   okrstore.CycleSettings
	staleAfter time.Duration

	// pending is set on services bound to an outer transaction; side
	// effects queue here until that transaction commits.
	pending *[]func()
}

// Option configures a Service.
type Option func(*Service)

func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

func WithIDGenerator(g IDGenerator) Option { return func(s *Service) { s.ids = g } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

func WithAudit(a AuditSink) Option { return func(s *Service) { s.audit = a } }

func WithMetrics(m *instrument.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithCycleDefaults overrides DefaultCycleSettings. Zero fields keep the
// built-in default.
func WithCycleDefaults(d okrstore.CycleSettings) Option {
	return func(s *Service) { s.defaults = fillSettings(d, DefaultCycleSettings) }
}

// WithStaleAfter sets the check-in age past which analytics counts an
// active objective as stale.
func WithStaleAfter(d time.Duration) Option { return func(s *Service) { s.staleAfter = d } }

// New returns a Service over store.
func New(store okrstore.Store, opts ...Option) *Service {
	s := &Service{
		store:      store,
		clock:      SystemClock{},
		ids:        UUIDGenerator{},
		log:        slog.Default(),
		defaults:   DefaultCycleSettings,
		staleAfter: analytics.DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// bound returns a copy of s whose operations run against tx and queue
// their audit events, metrics and lifecycle logs on pending.
func (s *Service) bound(tx okrstore.Store, pending *[]func()) *Service {
	c := *s
	c.store = tx
	c.pending = pending
	return &c
}

// afterCommit runs fn now, or queues it when s is bound to a transaction.
func (s *Service) afterCommit(fn func()) {
	if s.pending != nil {
		*s.pending = append(*s.pending, fn)
		return
	}
	fn()
}

func (s *Service) now() time.Time {
	return s.clock.Now()
}

func (s *Service) record(actor, eventType string, payload any) {
	if s.audit == nil {
		return
	}
	s.afterCommit(func() {
		if err := s.audit.LogEvent(actor, eventType, payload); err != nil {
			s.log.Warn("audit log failed", "event", eventType, "error", err)
		}
	})
}

func fillSettings(in, defaults okrstore.CycleSettings) okrstore.CycleSettings {
	if in.DefaultCadence == "" {
		in.DefaultCadence = defaults.DefaultCadence
	}
	if in.ScoringMethod == "" {
		in.ScoringMethod = defaults.ScoringMethod
	}
	if in.MinKeyResults <= 0 {
		in.MinKeyResults = defaults.MinKeyResults
	}
	if in.MaxKeyResults <= 0 {
		in.MaxKeyResults = defaults.MaxKeyResults
	}
	return in
}

// settingsFor fills unset cycle settings from the service defaults.
func (s *Service) settingsFor(c okrstore.Cycle) okrstore.CycleSettings {
	return fillSettings(c.Settings, s.defaults)
}

// ensureWritable rejects mutations of objectives in a closed cycle.
func ensureWritable(c okrstore.Cycle, action string) error {
	if c.Status == okrstore.CycleClosed {
		return &okrstore.StateConflictError{
			Entity: "cycle",
			ID:     c.ID,
			State:  string(c.Status),
			Action: action,
		}
	}
	return nil
}

// settle recomputes a key result's score and marks it complete the first
// time the score reaches 1. Completion is never revoked.
func settle(kr *okrstore.KeyResult, now time.Time) {
	scoring.Refresh(kr)
	if kr.Score >= 1 && !kr.IsComplete {
		kr.IsComplete = true
		at := now
		kr.CompletedAt = &at
	}
}

// rescore settles every key result and recomputes the objective aggregate.
func rescore(obj *okrstore.Objective, method okrstore.ScoringMethod, now time.Time) {
	for i := range obj.KeyResults {
		settle(&obj.KeyResults[i], now)
	}
	obj.Score = scoring.ObjectiveScore(obj.KeyResults, method)
	obj.Progress = scoring.Percent(obj.Score)
}

func isNotFound(err error) bool {
	return errors.Is(err, okrstore.ErrNotFound)
}

// loadScope fetches an objective together with its cycle.
func loadScope(ctx context.Context, tx okrstore.Store, objectiveID string) (okrstore.Objective, okrstore.Cycle, error) {
	obj, err := tx.GetObjective(ctx, objectiveID)
	if err != nil {
		return okrstore.Objective{}, okrstore.Cycle{}, err
	}
	cycle, err := tx.GetCycle(ctx, obj.CycleID)
	if err != nil {
		return okrstore.Objective{}, okrstore.Cycle{}, err
	}
	return obj, cycle, nil
}
