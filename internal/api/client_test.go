package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"novelverse/internal/api"
	"novelverse/internal/jobs"
)

func TestNewClientEmptyBind(t *testing.T) {
	client, err := api.NewClient("", "")
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	if client != nil {
		t.Fatal("expected nil client for empty bind")
	}
	if _, err := client.Status(context.Background()); !errors.Is(err, api.ErrAPIUnavailable) {
		t.Fatalf("expected ErrAPIUnavailable from nil client, got %v", err)
	}
}

func TestClientJobsBuildsQueryAndDecodes(t *testing.T) {
	type seen struct {
		query url.Values
		auth  string
	}
	requests := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- seen{query: r.URL.Query(), auth: r.Header.Get("Authorization")}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.JobListResponse{Jobs: []api.Job{{ID: 7, Status: "running", CacheKey: "audio/x/chapter_1-v1.opus"}}})
	}))
	defer srv.Close()

	client, err := api.NewClient(srv.URL, "secret")
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	list, err := client.Jobs(context.Background(), api.JobQuery{Statuses: []string{"running", " ", "queued"}, Limit: 5})
	if err != nil {
		t.Fatalf("Jobs error: %v", err)
	}
	if len(list) != 1 || list[0].ID != 7 {
		t.Fatalf("unexpected jobs: %+v", list)
	}

	got := <-requests
	if statuses := got.query["status"]; len(statuses) != 2 || statuses[0] != "running" || statuses[1] != "queued" {
		t.Fatalf("status query = %v", statuses)
	}
	if got.query.Get("limit") != "5" {
		t.Fatalf("limit query = %q", got.query.Get("limit"))
	}
	if got.auth != "Bearer secret" {
		t.Fatalf("authorization = %q", got.auth)
	}
}

func TestClientSurfacesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer srv.Close()

	client, _ := api.NewClient(strings.TrimPrefix(srv.URL, "http://"), "")
	_, err := client.Status(context.Background())
	if err == nil || !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "unauthorized") {
		t.Fatalf("expected 401 error with message, got %v", err)
	}
	if api.IsAPIUnavailable(err) {
		t.Fatal("HTTP error must not count as unavailable")
	}
}

func TestIsAPIUnavailableForRefusedConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	client, _ := api.NewClient(addr, "")
	_, err = client.Health(context.Background())
	if !api.IsAPIUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestFromJobFormatsTimestamps(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := api.FromJob(&jobs.Job{
		ID:        3,
		Status:    jobs.StatusFailed,
		CreatedAt: created,
	})
	if out.Status != "failed" {
		t.Fatalf("status = %q", out.Status)
	}
	if out.CreatedAt != "2026-03-01T12:00:00.000Z" {
		t.Fatalf("createdAt = %q", out.CreatedAt)
	}
	if out.UpdatedAt != "" {
		t.Fatalf("expected empty updatedAt, got %q", out.UpdatedAt)
	}
}
