package daemon_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"novelverse/internal/api"
	"novelverse/internal/cachekey"
	"novelverse/internal/config"
	"novelverse/internal/daemon"
	"novelverse/internal/frame"
	"novelverse/internal/jobs"
	"novelverse/internal/logging"
	"novelverse/internal/testsupport"
)

const testBook = "https://novels.example/Book/"

func startDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, *daemon.Components) {
	t.Helper()
	comps, err := daemon.BuildComponents(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("BuildComponents: %v", err)
	}
	d, err := daemon.New(cfg, logging.NewNop(), comps)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return d, comps
}

func get(t *testing.T, d *daemon.Daemon, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "http://"+d.Addr()+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPassthroughFFmpeg())
	d, _ := startDaemon(t, cfg)
	ctx := context.Background()

	if status := d.Status(ctx); !status.Running || status.StartedAt == "" {
		t.Fatalf("expected running status, got %+v", status)
	}
	if d.Addr() == "" {
		t.Fatal("expected bound address")
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if status := d.Status(ctx); status.Running {
		t.Fatal("expected daemon to be stopped")
	}

	// The lock is released, so the daemon can serve again.
	if err := d.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	resp := get(t, d, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz after restart = %d", resp.StatusCode)
	}
}

func TestSecondInstanceIsRefused(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPassthroughFFmpeg())
	startDaemon(t, cfg)

	comps, err := daemon.BuildComponents(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("BuildComponents: %v", err)
	}
	other, err := daemon.New(cfg, logging.NewNop(), comps)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	defer other.Close()
	err = other.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock contention error, got %v", err)
	}
}

func TestStartCancelsOrphanedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPassthroughFFmpeg())
	comps, err := daemon.BuildComponents(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("BuildComponents: %v", err)
	}
	orphan := testsupport.NewJob(t, comps.Ledger, "remote-orphan", "audio/x/chapter_1-v1.opus")
	local := testsupport.NewJob(t, comps.Ledger, "", "audio/x/chapter_2-v1.opus")

	var (
		mu        sync.Mutex
		cancelled []string
	)
	comps.CancelRemote = func(_ context.Context, remoteID string) error {
		mu.Lock()
		defer mu.Unlock()
		cancelled = append(cancelled, remoteID)
		return errors.New("worker unreachable")
	}

	d, err := daemon.New(cfg, logging.NewNop(), comps)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	defer d.Close()
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mu.Lock()
	got := append([]string(nil), cancelled...)
	mu.Unlock()
	if len(got) != 1 || got[0] != "remote-orphan" {
		t.Fatalf("remote cancels = %v", got)
	}
	for _, id := range []int64{orphan.ID, local.ID} {
		job, err := comps.Ledger.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if job.Status != jobs.StatusCancelled || job.ErrorMessage != jobs.OrphanReason {
			t.Fatalf("job %d = %s (%q), want cancelled", id, job.Status, job.ErrorMessage)
		}
	}
}

func TestStreamServesCachedChapter(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithPassthroughFFmpeg(),
		testsupport.WithChunkBytes(4),
		testsupport.WithAPIToken("secret"),
	)
	key, err := cachekey.Derive(testBook, "1", cfg.Store.Extension)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	testsupport.WriteObject(t, cfg, key, []byte("abcdefghij"))
	d, _ := startDaemon(t, cfg)

	q := url.Values{}
	q.Set("book_url", testBook)
	q.Set("chapter_nr", "1")

	if resp := get(t, d, "/stream?"+q.Encode(), ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp := get(t, d, "/stream?"+q.Encode(), "secret")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected correlation id header")
	}
	dec := frame.NewDecoder(resp.Body)
	var audio []byte
	var kinds []frame.Kind
	for {
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		kinds = append(kinds, f.Kind())
		if c, ok := f.(frame.Chunk); ok {
			audio = append(audio, c.Audio...)
		}
	}
	if string(audio) != "abcdefghij" {
		t.Fatalf("delivered audio = %q", audio)
	}
	if kinds[0] != frame.KindAudioInfo || kinds[len(kinds)-1] != frame.KindComplete {
		t.Fatalf("unexpected frame order: %v", kinds)
	}
}

func TestStreamMissWithoutFallbackIsNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPassthroughFFmpeg())
	d, _ := startDaemon(t, cfg)

	q := url.Values{}
	q.Set("book_url", testBook)
	q.Set("chapter_nr", "99")
	resp := get(t, d, "/stream?"+q.Encode(), "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON error, got %q", ct)
	}
}

func TestStatusAndJobsRoutes(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPassthroughFFmpeg(), testsupport.WithAPIToken("secret"))
	d, comps := startDaemon(t, cfg)
	done := testsupport.NewJob(t, comps.Ledger, "remote-a", "audio/x/chapter_1-v1.opus")
	if err := comps.Ledger.Transition(context.Background(), done.ID, jobs.StatusCompleted, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	testsupport.NewJob(t, comps.Ledger, "remote-b", "audio/x/chapter_2-v1.opus")

	client, err := api.NewClient(d.Addr(), "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.FallbackMode != config.FallbackModeDisabled || status.StoreBackend != config.StoreBackendFS {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.Transcode.Capacity != cfg.Transcode.MaxConcurrent {
		t.Fatalf("pool capacity = %d", status.Transcode.Capacity)
	}
	if status.JobStats["completed"] != 1 || status.JobStats["queued"] != 1 {
		t.Fatalf("job stats = %v", status.JobStats)
	}
	if len(status.Dependencies) == 0 {
		t.Fatal("expected dependency checks")
	}

	list, err := client.Jobs(ctx, api.JobQuery{Statuses: []string{"completed"}})
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(list) != 1 || list[0].RemoteID != "remote-a" {
		t.Fatalf("unexpected jobs: %+v", list)
	}

	if resp := get(t, d, "/api/jobs?status=bogus", "secret"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.StatusCode)
	}
	if resp := get(t, d, "/api/status", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPassthroughFFmpeg(), testsupport.WithAPIToken("secret"))
	d, _ := startDaemon(t, cfg)

	if resp := get(t, d, "/healthz", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
	resp := get(t, d, "/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `novelverse_http_requests_total{endpoint="/healthz",method="GET",status_code="200"}`) {
		t.Fatalf("expected healthz request counted, got:\n%s", body)
	}
}

func TestWebSocketRouteFollowsConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPassthroughFFmpeg())
	cfg.Server.EnableWebSocket = false
	d, _ := startDaemon(t, cfg)

	if resp := get(t, d, "/ws/stream?book_url=x&chapter_nr=1", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 with websocket disabled, got %d", resp.StatusCode)
	}
}
