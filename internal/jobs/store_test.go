package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"novelverse/internal/jobs"
	"novelverse/internal/testsupport"
)

func TestCreateAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	job := testsupport.NewJob(t, store, "remote-1", "audio/abc/chapter_1-v1.opus")
	if job.ID == 0 {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != jobs.StatusQueued || job.Attempt != 1 {
		t.Fatalf("unexpected defaults: %#v", job)
	}
	if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps, got %#v", job)
	}

	fetched, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.RemoteID != "remote-1" || fetched.CacheKey != job.CacheKey {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}

	missing, err := store.GetByID(context.Background(), 9999)
	if err != nil || missing != nil {
		t.Fatalf("expected nil job for missing id, got %#v err=%v", missing, err)
	}
}

func TestCreateRequiresCacheKey(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	if _, err := store.Create(context.Background(), jobs.Job{RemoteID: "x"}); err == nil {
		t.Fatal("expected error when cache key missing")
	}
}

func TestTransitionLeavesTerminalRowsAlone(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "remote-1", "key")
	if err := store.Transition(ctx, job.ID, jobs.StatusRunning, ""); err != nil {
		t.Fatalf("Transition running: %v", err)
	}
	if err := store.RecordProgress(ctx, job.ID, 4); err != nil {
		t.Fatalf("RecordProgress: %v", err)
	}
	if err := store.Transition(ctx, job.ID, jobs.StatusFailed, "worker exploded"); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if err := store.Transition(ctx, job.ID, jobs.StatusCompleted, ""); err != nil {
		t.Fatalf("Transition completed: %v", err)
	}

	got, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != jobs.StatusFailed {
		t.Fatalf("expected failed to stick, got %s", got.Status)
	}
	if got.ErrorMessage != "worker exploded" || got.FramesRelayed != 4 {
		t.Fatalf("unexpected job state: %#v", got)
	}

	if err := store.Transition(ctx, job.ID, jobs.Status("bogus"), ""); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	first := testsupport.NewJob(t, store, "a", "key-a")
	second := testsupport.NewJob(t, store, "b", "key-b")
	third := testsupport.NewJob(t, store, "c", "key-c")
	if err := store.Transition(ctx, second.ID, jobs.StatusCompleted, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	all, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].ID != third.ID || all[2].ID != first.ID {
		t.Fatalf("expected newest first, got %d rows", len(all))
	}

	limited, err := store.List(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("expected 1 row, got %d err=%v", len(limited), err)
	}

	active, err := store.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active jobs, got %d", len(active))
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[jobs.StatusQueued] != 2 || stats[jobs.StatusCompleted] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestCancelOrphans(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	running := testsupport.NewJob(t, store, "remote-run", "key-1")
	if err := store.Transition(ctx, running.ID, jobs.StatusRunning, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	unsubmitted := testsupport.NewJob(t, store, "", "key-2")
	done := testsupport.NewJob(t, store, "remote-done", "key-3")
	if err := store.Transition(ctx, done.ID, jobs.StatusCompleted, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	var cancelled []string
	count, errs := store.CancelOrphans(ctx, func(_ context.Context, remoteID string) error {
		cancelled = append(cancelled, remoteID)
		return errors.New("worker unreachable")
	})
	if count != 2 {
		t.Fatalf("expected 2 orphans cancelled, got %d", count)
	}
	if len(errs) != 1 {
		t.Fatalf("expected remote cancel error to be reported, got %v", errs)
	}
	if len(cancelled) != 1 || cancelled[0] != "remote-run" {
		t.Fatalf("expected only the submitted job to be cancelled remotely, got %v", cancelled)
	}

	for _, id := range []int64{running.ID, unsubmitted.ID} {
		job, _ := store.GetByID(ctx, id)
		if job.Status != jobs.StatusCancelled || job.ErrorMessage != jobs.OrphanReason {
			t.Fatalf("expected orphan %d cancelled, got %#v", id, job)
		}
	}
	if job, _ := store.GetByID(ctx, done.ID); job.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed job untouched, got %s", job.Status)
	}
}

func TestPruneRemovesOldTerminalJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	done := testsupport.NewJob(t, store, "a", "key-a")
	_ = store.Transition(ctx, done.ID, jobs.StatusCompleted, "")
	testsupport.NewJob(t, store, "b", "key-b")

	removed, err := store.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned job, got %d", removed)
	}
	remaining, _ := store.List(ctx, 0)
	if len(remaining) != 1 || remaining[0].Status != jobs.StatusQueued {
		t.Fatalf("expected queued job to survive, got %#v", remaining)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	testsupport.NewJob(t, store, "a", "key-a")
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenLedger(t, cfg)
	rows, err := reopened.List(context.Background(), 0)
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected persisted job after reopen, got %d err=%v", len(rows), err)
	}
}

func TestParseStatus(t *testing.T) {
	cases := map[string]jobs.Status{
		"IN_QUEUE":    jobs.StatusQueued,
		"IN_PROGRESS": jobs.StatusRunning,
		"COMPLETED":   jobs.StatusCompleted,
		"CANCELLED":   jobs.StatusCancelled,
		"FAILED":      jobs.StatusFailed,
		"TIMED_OUT":   jobs.StatusFailed,
		" running ":   jobs.StatusRunning,
	}
	for input, want := range cases {
		got, ok := jobs.ParseStatus(input)
		if !ok || got != want {
			t.Fatalf("ParseStatus(%q) = %q,%v want %q", input, got, ok, want)
		}
	}
	if _, ok := jobs.ParseStatus("exploded"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
	if !jobs.StatusCancelled.IsTerminal() || jobs.StatusRunning.IsTerminal() {
		t.Fatal("unexpected terminal classification")
	}
}
