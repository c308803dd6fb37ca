package integration_test

import (
	"testing"

	"okrengine/internal/audit"
)

func loadAuditTypes(t *testing.T, dbPath string) map[string]int {
	t.Helper()
	events, err := audit.NewLogger(dbPath).Events(0)
	if err != nil {
		t.Fatalf("read audit events from %s: %v", dbPath, err)
	}
	types := make(map[string]int)
	for _, ev := range events {
		types[ev.Type]++
	}
	return types
}

func requireAuditEvents(t *testing.T, dbPath string, want []string) {
	t.Helper()
	types := loadAuditTypes(t, dbPath)
	for _, eventType := range want {
		if types[eventType] == 0 {
			t.Fatalf("missing audit event %s in %s (have %v)", eventType, dbPath, types)
		}
	}
}
