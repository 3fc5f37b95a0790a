package testsupport

import (
	"context"
	"testing"

	"novelverse/internal/config"
	"novelverse/internal/jobs"
)

// MustOpenLedger opens a jobs.Store for tests and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob records a queued job for tests using the provided ledger.
func NewJob(t testing.TB, store *jobs.Store, remoteID, cacheKey string) *jobs.Job {
	t.Helper()

	job, err := store.Create(context.Background(), jobs.Job{
		RemoteID: remoteID,
		Mode:     config.FallbackModeJobQueue,
		CacheKey: cacheKey,
		BookURL:  "https://example.com/book",
		Chapter:  "1",
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}
