package integration_test

import (
	"database/sql"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"okrengine/integration/harness"
)

func TestReconcileOnceHealsChildLinks(t *testing.T) {
	bin := harness.BuildBinary(t)
	workspace, configPath, cycleID := importFixture(t, bin)

	db, err := sql.Open("sqlite", filepath.Join(workspace, "state", "okrengine.db"))
	if err != nil {
		t.Fatalf("open state db: %v", err)
	}
	res, err := db.Exec(`UPDATE objectives SET body = json_set(body, '$.childOkrIds', json('[]')) WHERE owner_id = 'acme'`)
	if err != nil {
		t.Fatalf("drop child links: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("expected to corrupt one objective, touched %d", n)
	}
	_ = db.Close()

	out := harness.MustRun(t, bin, workspace, "--config", configPath, "tree", "--cycle", cycleID)
	if !strings.Contains(out.Stderr, "warning: missing_child_link") {
		t.Fatalf("expected missing_child_link warning before reconcile:\n%s", out.Stderr)
	}

	out = harness.MustRun(t, bin, workspace, "--config", configPath, "reconcile", "--once")
	if !strings.Contains(out.Stdout, "add_child_link") {
		t.Fatalf("expected add_child_link repair:\n%s", out.Stdout)
	}
	if !strings.Contains(out.Stdout, "Reconciled 1 cycles") || !strings.Contains(out.Stdout, "1 repairs, 0 failed") {
		t.Fatalf("unexpected reconcile summary:\n%s", out.Stdout)
	}

	out = harness.MustRun(t, bin, workspace, "--config", configPath, "tree", "--cycle", cycleID)
	if strings.Contains(out.Stderr, "warning:") {
		t.Fatalf("tree still has warnings after reconcile:\n%s", out.Stderr)
	}

	out = harness.MustRun(t, bin, workspace, "--config", configPath, "reconcile", "--once")
	if !strings.Contains(out.Stdout, "0 repairs") {
		t.Fatalf("second pass should find nothing to repair:\n%s", out.Stdout)
	}

	requireAuditEvents(t, filepath.Join(workspace, "state", "audit.db"), []string{
		"alignment_healed",
		"reconcile_once_finished",
	})
}

func TestReconcileDaemonServesMetrics(t *testing.T) {
	bin := harness.BuildBinary(t)
	workspace, configPath, _ := importFixture(t, bin)

	proc := harness.Start(t, bin, workspace, "--config", configPath, "reconcile", "--metrics-addr", "127.0.0.1:0")
	line := proc.WaitForLine(t, "Serving metrics on ", 10*time.Second)
	url := strings.TrimPrefix(line, "Serving metrics on ")

	var body string
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			data, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			body = string(data)
			if strings.Contains(body, "okrengine_reconcile_duration_seconds_count") {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !strings.Contains(body, `okrengine_reconcile_duration_seconds_count{result="ok"}`) {
		t.Fatalf("reconcile histogram not exposed:\n%s", body)
	}

	if err := proc.Interrupt(t, 10*time.Second); err != nil {
		t.Fatalf("reconciler exited with error: %v", err)
	}
	requireAuditEvents(t, filepath.Join(workspace, "state", "audit.db"), []string{
		"reconcile_started",
		"reconcile_stopped",
	})
}

func TestReconcileMetricsAddrNeedsDaemon(t *testing.T) {
	bin := harness.BuildBinary(t)
	_, configPath, _ := importFixture(t, bin)

	res := harness.Run(t, bin, t.TempDir(), nil, "--config", configPath, "reconcile", "--once", "--metrics-addr", "127.0.0.1:0")
	if res.Code == 0 || !strings.Contains(res.Stderr, "--metrics-addr needs a running reconciler") {
		t.Fatalf("expected --once with --metrics-addr to fail\n%s", res)
	}
}
