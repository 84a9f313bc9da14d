package integration_test

import (
	"testing"

	"cpconform/internal/audit"
)

func requireAuditEvents(t *testing.T, dbPath string, want map[string]int) {
	t.Helper()
	counts, err := audit.NewLogger(dbPath).EventCounts()
	if err != nil {
		t.Fatalf("count audit events in %s: %v", dbPath, err)
	}
	for eventType, n := range want {
		if counts[eventType] != n {
			t.Fatalf("audit event %s: got %d, want %d (all: %v)", eventType, counts[eventType], n, counts)
		}
	}
}

// latestResults returns the scenario results of the most recent run.
func latestResults(t *testing.T, dbPath string) []audit.Result {
	t.Helper()
	logger := audit.NewLogger(dbPath)
	info, err := logger.LatestRun()
	if err != nil {
		t.Fatalf("latest run in %s: %v", dbPath, err)
	}
	results, err := logger.Results(info.RunID)
	if err != nil {
		t.Fatalf("results of %s: %v", info.RunID, err)
	}
	return results
}
