package jobaccess_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"novelverse/internal/api"
	"novelverse/internal/jobaccess"
	"novelverse/internal/jobs"
	"novelverse/internal/testsupport"
)

func unreachableClient(t *testing.T) *api.Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	client, err := api.NewClient(addr, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func probeHealth(c *api.Client) error {
	_, err := c.Health(context.Background())
	return err
}

func TestOpenWithFallbackUsesStoreWhenDaemonDown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	seed := testsupport.MustOpenLedger(t, cfg)
	queued := testsupport.NewJob(t, seed, "remote-1", "audio/a/chapter_1-v1.opus")
	done := testsupport.NewJob(t, seed, "remote-2", "audio/a/chapter_2-v1.opus")
	if err := seed.Transition(context.Background(), done.ID, jobs.StatusCompleted, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	session, err := jobaccess.OpenWithFallback(unreachableClient(t), probeHealth, func() (*jobs.Store, error) {
		return jobs.Open(cfg)
	})
	if err != nil {
		t.Fatalf("OpenWithFallback: %v", err)
	}
	defer session.Close()
	if !session.Direct {
		t.Fatal("expected direct ledger access")
	}

	list, err := session.Access.List(context.Background(), []string{"queued"}, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != queued.ID {
		t.Fatalf("expected only the queued job, got %+v", list)
	}

	stats, err := session.Access.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["queued"] != 1 || stats["completed"] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestOpenWithFallbackPrefersDaemon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case "/api/jobs":
			_, _ = w.Write([]byte(`{"jobs":[{"id":42,"status":"running"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	client, _ := api.NewClient(srv.URL, "")

	opened := false
	session, err := jobaccess.OpenWithFallback(client, probeHealth, func() (*jobs.Store, error) {
		opened = true
		return nil, errors.New("should not open")
	})
	if err != nil {
		t.Fatalf("OpenWithFallback: %v", err)
	}
	defer session.Close()
	if session.Direct || opened {
		t.Fatal("expected API-backed access")
	}
	list, err := session.Access.List(context.Background(), nil, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != 42 {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestOpenWithFallbackReportsDaemonErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer srv.Close()
	client, _ := api.NewClient(srv.URL, "")

	_, err := jobaccess.OpenWithFallback(client, probeHealth, func() (*jobs.Store, error) {
		t.Fatal("store must not be opened when the daemon answers")
		return nil, nil
	})
	if err == nil {
		t.Fatal("expected daemon error to surface")
	}
}

func TestParseStatuses(t *testing.T) {
	got, err := jobaccess.ParseStatuses([]string{"IN_PROGRESS", "", "failed"})
	if err != nil {
		t.Fatalf("ParseStatuses: %v", err)
	}
	if len(got) != 2 || got[0] != jobs.StatusRunning || got[1] != jobs.StatusFailed {
		t.Fatalf("unexpected statuses: %v", got)
	}
	if _, err := jobaccess.ParseStatuses([]string{"bogus"}); err == nil {
		t.Fatal("expected error for unknown status")
	}
}
