package integration_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"okrengine/integration/harness"
)

var importedCycle = regexp.MustCompile(`cycle (\S+) \(`)

// importFixture imports the acme fixture and returns its workspace, config
// path and the id of the imported cycle.
func importFixture(t *testing.T, bin string) (string, string, string) {
	t.Helper()
	workspace := harness.Fixture(t, "acme")
	configPath := filepath.Join(workspace, "okrengine.yml")

	res := harness.MustRun(t, bin, t.TempDir(), "--config", configPath, "import")
	m := importedCycle.FindStringSubmatch(res.Stdout)
	if m == nil {
		t.Fatalf("import output has no cycle id:\n%s", res.Stdout)
	}
	return workspace, configPath, m[1]
}

func TestCLISmoke(t *testing.T) {
	bin := harness.BuildBinary(t)

	res := harness.MustRun(t, bin, t.TempDir(), "--help")
	if !strings.Contains(res.Stdout+res.Stderr, "OKR scoring, alignment and cycle maintenance") {
		t.Fatalf("expected help output to include header\n%s", res)
	}

	workspace, configPath, cycleID := importFixture(t, bin)

	statePath := filepath.Join(workspace, "state", "okrengine.db")
	if _, err := os.Stat(statePath); err != nil {
		t.Fatalf("state db not written at %s: %v", statePath, err)
	}

	res = harness.MustRun(t, bin, workspace, "--config", configPath, "cycles", "--status", "active")
	if !strings.Contains(res.Stdout, cycleID) || !strings.Contains(res.Stdout, "Q1-2025") {
		t.Fatalf("expected active cycle %s in listing:\n%s", cycleID, res.Stdout)
	}

	res = harness.MustRun(t, bin, workspace, "--config", configPath, "tree", "--cycle", cycleID)
	for _, want := range []string{
		"- [company] Grow revenue",
		"  - [team] Ship the mobile app",
		"- [team] Rewrite the docs",
	} {
		if !strings.Contains(res.Stdout, want) {
			t.Fatalf("tree output missing %q:\n%s", want, res.Stdout)
		}
	}
	if strings.Contains(res.Stderr, "warning:") {
		t.Fatalf("unexpected alignment warnings:\n%s", res.Stderr)
	}

	res = harness.MustRun(t, bin, workspace, "--config", configPath, "analytics", "--cycle", cycleID)
	var report struct {
		TotalOkrs     int            `json:"totalOkrs"`
		OrphanedCount int            `json:"orphanedCount"`
		ByStatus      map[string]int `json:"byStatus"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &report); err != nil {
		t.Fatalf("decode analytics: %v\n%s", err, res.Stdout)
	}
	if report.TotalOkrs != 3 {
		t.Fatalf("totalOkrs = %d, want 3", report.TotalOkrs)
	}
	if report.OrphanedCount != 1 {
		t.Fatalf("orphanedCount = %d, want 1", report.OrphanedCount)
	}
	if report.ByStatus["active"] != 2 || report.ByStatus["draft"] != 1 {
		t.Fatalf("byStatus = %v, want 2 active and 1 draft", report.ByStatus)
	}

	requireAuditEvents(t, filepath.Join(workspace, "state", "audit.db"), []string{
		"seed_import_started",
		"seed_import_finished",
		"cycle_created",
		"cycle_activated",
		"objective_created",
	})

	res = harness.MustRun(t, bin, workspace, "--config", configPath, "audit", "--limit", "0", "--type", "cycle_activated")
	if strings.Count(res.Stdout, "cycle_activated") != 1 {
		t.Fatalf("expected exactly one cycle_activated event:\n%s", res.Stdout)
	}
}

func TestCLIErrors(t *testing.T) {
	bin := harness.BuildBinary(t)
	workspace, configPath, _ := importFixture(t, bin)

	cases := []struct {
		name string
		env  []string
		args []string
		want string
	}{
		{name: "unknown command", args: []string{"launch"}, want: "Unknown command: launch"},
		{name: "analytics needs a scope", args: []string{"analytics"}, want: "exactly one of --cycle or --company"},
		{name: "tree needs a cycle", args: []string{"tree"}, want: "--cycle is required"},
		{name: "tree unknown cycle", args: []string{"tree", "--cycle", "nope"}, want: `cycle "nope" not found`},
		{name: "missing config", args: []string{"--config", filepath.Join(workspace, "missing.yml"), "cycles"}, want: "read config"},
		{name: "bad env override", env: []string{"OKRENGINE_RECONCILE_WORKERS=many"}, args: []string{"cycles"}, want: "OKRENGINE_RECONCILE_WORKERS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			args := append([]string{"--config", configPath}, tc.args...)
			res := harness.Run(t, bin, workspace, tc.env, args...)
			if res.Code == 0 {
				t.Fatalf("expected failure\n%s", res)
			}
			if !strings.Contains(res.Stderr, tc.want) {
				t.Fatalf("stderr missing %q:\n%s", tc.want, res.Stderr)
			}
		})
	}
}

func TestCLIImportDryRunWritesNothing(t *testing.T) {
	bin := harness.BuildBinary(t)
	workspace := harness.Fixture(t, "acme")
	configPath := filepath.Join(workspace, "okrengine.yml")

	res := harness.MustRun(t, bin, workspace, "--config", configPath, "import", "--dry-run")
	if !strings.Contains(res.Stdout, `cycle "Q1-2025", 3 objectives`) {
		t.Fatalf("unexpected dry-run output:\n%s", res.Stdout)
	}

	res = harness.MustRun(t, bin, workspace, "--config", configPath, "cycles")
	if !strings.Contains(res.Stdout, "No cycles.") {
		t.Fatalf("dry run should not import anything:\n%s", res.Stdout)
	}
}
