package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"okrengine/internal/alignment"
	"okrengine/internal/audit"
	"okrengine/internal/config"
	"okrengine/internal/engine"
	"okrengine/internal/instrument"
	"okrengine/internal/logging"
	"okrengine/internal/okrstore"
	"okrengine/internal/reconcile"
)

const appName = "okrengine"

func main() {
	flag.String("config", "", "Path to config YAML (default: built-in defaults + OKRENGINE_* env)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s: OKR scoring, alignment and cycle maintenance\n\n", appName)
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [command] [flags]\n\n", appName)
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  import     Import cycles and objectives from seed YAML")
		fmt.Fprintln(os.Stderr, "  cycles     List cycles")
		fmt.Fprintln(os.Stderr, "  tree       Print a cycle's alignment tree")
		fmt.Fprintln(os.Stderr, "  analytics  Print cycle analytics as JSON")
		fmt.Fprintln(os.Stderr, "  reconcile  Heal alignment links and refresh rollups")
		fmt.Fprintln(os.Stderr, "  audit      Show recent audit events")
		fmt.Fprintln(os.Stderr, "  help       Show this help")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flag.PrintDefaults()
	}

	configPath, remaining, err := extractConfigFlag(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	args := remaining
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		flag.Usage()
		return
	}

	var run func([]string, string) error
	switch args[0] {
	case "import":
		run = runImport
	case "cycles":
		run = runCycles
	case "tree":
		run = runTree
	case "analytics":
		run = runAnalytics
	case "reconcile":
		run = runReconcile
	case "audit":
		run = runAudit
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		flag.Usage()
		os.Exit(1)
	}
	if err := run(args[1:], configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func extractConfigFlag(args []string) (string, []string, error) {
	var configPath string
	remaining := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--config requires a value")
			}
			configPath = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			configPath = strings.TrimPrefix(arg, "--config=")
			continue
		}
		remaining = append(remaining, arg)
	}
	return configPath, remaining, nil
}

// app is everything a command needs, built from the loaded config.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	store   *okrstore.SQLiteStore
	audit   *audit.Logger
	metrics *instrument.Metrics
	svc     *engine.Service
}

func openApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.Init(cfg.LogLevel)

	statePath, err := cfg.ResolvePath(cfg.StateDB)
	if err != nil {
		return nil, fmt.Errorf("resolve state_db: %w", err)
	}
	auditPath, err := cfg.ResolvePath(cfg.AuditDB)
	if err != nil {
		return nil, fmt.Errorf("resolve audit_db: %w", err)
	}

	store, err := okrstore.OpenSQLite(statePath)
	if err != nil {
		return nil, err
	}
	metrics, err := instrument.New("", prometheus.DefaultRegisterer)
	if err != nil {
		store.Close()
		return nil, err
	}
	auditLog := audit.NewLogger(auditPath)

	svc := engine.New(store,
		engine.WithLogger(logger),
		engine.WithAudit(auditLog),
		engine.WithMetrics(metrics),
		engine.WithCycleDefaults(cfg.CycleDefaults),
		engine.WithStaleAfter(cfg.StaleAfter()),
	)
	logger.Debug("engine ready", "state_db", statePath, "audit_db", auditPath)

	return &app{
		cfg:     cfg,
		log:     logger,
		store:   store,
		audit:   auditLog,
		metrics: metrics,
		svc:     svc,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) logEvent(eventType string, payload map[string]any) {
	if err := a.audit.LogEvent("cli", eventType, payload); err != nil {
		fmt.Fprintf(os.Stderr, "audit log failed: %v\n", err)
	}
}

func runImport(args []string, configPath string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	actor := fs.String("actor", "cli", "Actor recorded on created objectives and audit events")
	dryRun := fs.Bool("dry-run", false, "Validate seed files without importing")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("%s import: expected at most one seed directory", appName)
	}

	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	dir := "seeds"
	if fs.NArg() == 1 {
		dir = fs.Arg(0)
	}
	dir, err = a.cfg.ResolvePath(dir)
	if err != nil {
		return fmt.Errorf("resolve seed dir: %w", err)
	}

	seeds, err := okrstore.LoadSeedDir(dir)
	if err != nil {
		return err
	}
	if *dryRun {
		for _, seed := range seeds {
			fmt.Fprintf(os.Stdout, "OK %s: cycle %q, %d objectives\n", seed.Source, seed.Cycle.Name, len(seed.Objectives))
		}
		return nil
	}

	a.logEvent("seed_import_started", map[string]any{"dir": dir, "files": len(seeds)})
	ctx := context.Background()
	imported := 0
	for _, seed := range seeds {
		cycle, objs, err := a.svc.ImportSeed(ctx, seed, *actor)
		if err != nil {
			a.logEvent("seed_import_failed", map[string]any{"source": seed.Source, "error": err.Error()})
			return err
		}
		imported++
		fmt.Fprintf(os.Stdout, "Imported %s: cycle %s (%s, %s), %d objectives\n",
			seed.Source, cycle.ID, cycle.Name, cycle.Status, len(objs))
	}
	a.logEvent("seed_import_finished", map[string]any{"dir": dir, "cycles": imported})
	return nil
}

func runCycles(args []string, configPath string) error {
	fs := flag.NewFlagSet("cycles", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	company := fs.String("company", "", "Only cycles of this company")
	status := fs.String("status", "", "Only cycles in this status (planning, active, review, closed)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	cycles, err := a.svc.ListCycles(context.Background(), okrstore.CycleFilter{
		CompanyID: *company,
		Status:    okrstore.CycleStatus(*status),
	})
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		fmt.Fprintln(os.Stdout, "No cycles.")
		return nil
	}
	for _, c := range cycles {
		fmt.Fprintf(os.Stdout, "%s  %-12s %-9s objectives=%d avg=%.2f  %s\n",
			c.ID, c.Name, c.Status, c.ObjectiveCount, c.AverageScore, c.CompanyID)
	}
	return nil
}

func runTree(args []string, configPath string) error {
	fs := flag.NewFlagSet("tree", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cycleID := fs.String("cycle", "", "Cycle id (required)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*cycleID) == "" {
		return fmt.Errorf("--cycle is required")
	}

	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	tree, err := a.svc.BuildTree(context.Background(), *cycleID)
	if err != nil {
		return err
	}
	printTree(os.Stdout, tree)
	for _, w := range tree.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", w.Kind, w.Message)
	}
	return nil
}

func printTree(w io.Writer, tree alignment.Tree) {
	tree.Walk(func(n *alignment.Node) {
		o := n.Objective
		fmt.Fprintf(w, "%s- [%s] %s  %d%% (%s, %s)\n",
			strings.Repeat("  ", n.Depth), o.Level, o.Title, o.Progress, o.Status, o.ID)
	})
}

func runAnalytics(args []string, configPath string) error {
	fs := flag.NewFlagSet("analytics", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cycleID := fs.String("cycle", "", "Cycle id")
	company := fs.String("company", "", "Company id; reports every cycle of the company")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*cycleID == "") == (*company == "") {
		return fmt.Errorf("exactly one of --cycle or --company is required")
	}

	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	var report any
	if *cycleID != "" {
		report, err = a.svc.ComputeAnalytics(ctx, *cycleID)
	} else {
		report, err = a.svc.CompanyAnalytics(ctx, *company)
	}
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode analytics: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}

func runReconcile(args []string, configPath string) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	once := fs.Bool("once", false, "Run a single pass and exit")
	schedule := fs.String("schedule", "", "Cron schedule (default: reconcile_schedule from config)")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address while the reconciler runs")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *once && *metricsAddr != "" {
		return fmt.Errorf("--metrics-addr needs a running reconciler; drop --once")
	}

	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if *schedule == "" {
		*schedule = a.cfg.ReconcileSchedule
	}
	d, err := reconcile.New(a.svc, reconcile.Config{
		Schedule: *schedule,
		Workers:  a.cfg.ReconcileWorkers,
		Logger:   a.log,
		Audit:    a.audit,
		Metrics:  a.metrics,
	})
	if err != nil {
		return fmt.Errorf("create reconciler: %w", err)
	}

	ctx := context.Background()
	if !*once {
		if *metricsAddr != "" {
			srv, addr, err := serveMetrics(*metricsAddr, a.log)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.log.Warn("metrics server shutdown failed", "error", err)
				}
			}()
			fmt.Fprintf(os.Stdout, "Serving metrics on http://%s/metrics\n", addr)
		}
		fmt.Fprintf(os.Stdout, "Starting reconciler: schedule %q, %d workers\n", *schedule, a.cfg.ReconcileWorkers)
		return d.Run(ctx)
	}

	report, err := d.RunOnce(ctx)
	if err != nil {
		return err
	}
	for _, c := range report.Cycles {
		switch {
		case c.Err != nil:
			fmt.Fprintf(os.Stdout, "  %s: failed: %v\n", c.CycleID, c.Err)
		case len(c.Repairs) > 0:
			fmt.Fprintf(os.Stdout, "  %s: %d repairs\n", c.CycleID, len(c.Repairs))
			for _, r := range c.Repairs {
				fmt.Fprintf(os.Stdout, "    %s %s -> %s (%s)\n", r.Kind, r.ObjectiveID, r.RelatedID, r.Cause)
			}
		default:
			fmt.Fprintf(os.Stdout, "  %s: ok\n", c.CycleID)
		}
	}
	a.logEvent("reconcile_once_finished", map[string]any{
		"cycles":  len(report.Cycles),
		"repairs": report.Repairs(),
		"failed":  report.Failed(),
	})
	fmt.Fprintf(os.Stdout, "Reconciled %d cycles in %s: %d repairs, %d failed\n",
		len(report.Cycles), report.Duration.Round(time.Millisecond), report.Repairs(), report.Failed())
	if report.Failed() > 0 {
		return fmt.Errorf("%d cycles failed to reconcile", report.Failed())
	}
	return nil
}

// serveMetrics exposes the default Prometheus registry on addr/metrics and
// returns the bound address.
func serveMetrics(addr string, logger *slog.Logger) (*http.Server, string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("listen for metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv, ln.Addr().String(), nil
}

func runAudit(args []string, configPath string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	limit := fs.Int("limit", 20, "Number of events to show (0 for all)")
	eventType := fs.String("type", "", "Only events of this type")

	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	events, err := a.audit.Events(*limit)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if *eventType != "" && ev.Type != *eventType {
			continue
		}
		fmt.Fprintf(os.Stdout, "%s  %-12s %-24s %s\n", ev.At.Format(time.RFC3339), ev.Actor, ev.Type, string(ev.Payload))
	}
	return nil
}
