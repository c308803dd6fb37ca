// Package reconcile runs periodic alignment healing and rollup refreshes.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"okrengine/internal/alignment"
	"okrengine/internal/instrument"
	"okrengine/internal/okrstore"
)

// Engine is the subset of engine.Service a reconcile pass needs.
type Engine interface {
	ListCycles(ctx context.Context, filter okrstore.CycleFilter) ([]okrstore.Cycle, error)
	HealAlignment(ctx context.Context, cycleID string) ([]alignment.Repair, error)
	RecomputeCycleRollup(ctx context.Context, id string) (okrstore.Cycle, error)
}

// AuditSink receives daemon lifecycle events.
type AuditSink interface {
	LogEvent(actor string, eventType string, payload any) error
}

// Config holds daemon configuration.
type Config struct {
	Schedule string
	Workers  int
	Logger   *slog.Logger
	Audit    AuditSink
	Metrics  *instrument.Metrics
}

// CycleResult is the outcome of reconciling one cycle.
type CycleResult struct {
	CycleID string
	Repairs []alignment.Repair
	Err     error
}

// Report summarizes one pass over every non-closed cycle.
type Report struct {
	StartedAt time.Time
	Duration  time.Duration
	Cycles    []CycleResult
}

// Repairs counts repairs across all cycles.
func (r Report) Repairs() int {
	n := 0
	for _, c := range r.Cycles {
		n += len(c.Repairs)
	}
	return n
}

// Failed counts cycles whose reconcile failed.
func (r Report) Failed() int {
	n := 0
	for _, c := range r.Cycles {
		if c.Err != nil {
			n++
		}
	}
	return n
}

// Daemon reconciles cycles on a cron schedule.
type Daemon struct {
	engine   Engine
	schedule string
	workers  int
	log      *slog.Logger
	audit    AuditSink
	metrics  *instrument.Metrics

	mu sync.Mutex
}

// New validates cfg and returns a Daemon.
func New(engine Engine, cfg Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1h"
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Daemon{
		engine:   engine,
		schedule: cfg.Schedule,
		workers:  cfg.Workers,
		log:      cfg.Logger,
		audit:    cfg.Audit,
		metrics:  cfg.Metrics,
	}, nil
}

// RunOnce reconciles every cycle that is not closed. A failing cycle does
// not stop the others; its error is kept on the report.
func (d *Daemon) RunOnce(ctx context.Context) (Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	report := Report{StartedAt: time.Now().UTC()}
	cycles, err := d.engine.ListCycles(ctx, okrstore.CycleFilter{})
	if err != nil {
		return report, fmt.Errorf("list cycles: %w", err)
	}

	var open []okrstore.Cycle
	for _, c := range cycles {
		if c.Status != okrstore.CycleClosed {
			open = append(open, c)
		}
	}
	report.Cycles = make([]CycleResult, len(open))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, c := range open {
		i, c := i, c // per-iteration copies for go 1.21 loop semantics
		g.Go(func() error {
			start := time.Now()
			repairs, err := d.reconcileCycle(gctx, c.ID)
			d.metrics.ReconcileObserved(time.Since(start), err)
			report.Cycles[i] = CycleResult{CycleID: c.ID, Repairs: repairs, Err: err}
			if err != nil {
				d.log.Error("reconcile cycle failed", "cycle", c.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(report.StartedAt)
	d.log.Info("reconcile pass finished",
		"cycles", len(open),
		"repairs", report.Repairs(),
		"failed", report.Failed(),
		"duration", report.Duration.String(),
	)
	return report, ctx.Err()
}

func (d *Daemon) reconcileCycle(ctx context.Context, cycleID string) ([]alignment.Repair, error) {
	repairs, err := d.engine.HealAlignment(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("heal alignment: %w", err)
	}
	if _, err := d.engine.RecomputeCycleRollup(ctx, cycleID); err != nil {
		return repairs, fmt.Errorf("recompute rollup: %w", err)
	}
	return repairs, nil
}

// Run reconciles once, then on every schedule tick until ctx is cancelled
// or the process receives SIGINT or SIGTERM.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d.logEvent("reconcile_started", map[string]any{"schedule": d.schedule, "workers": d.workers})

	if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
		d.log.Error("initial reconcile failed", "error", err)
	}

	c := cron.New()
	if _, err := c.AddFunc(d.schedule, func() {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Error("scheduled reconcile failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule reconcile: %w", err)
	}
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()

	d.logEvent("reconcile_stopped", map[string]any{"schedule": d.schedule})
	return nil
}

func (d *Daemon) logEvent(eventType string, payload map[string]any) {
	if d.audit == nil {
		return
	}
	if err := d.audit.LogEvent("reconciler", eventType, payload); err != nil {
		d.log.Warn("audit log failed", "event", eventType, "error", err)
	}
}
