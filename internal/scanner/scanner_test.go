package scanner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"intercept/internal/eventsink"
	"intercept/internal/repository"
	"intercept/internal/telemetry"
)

func newTestEngine(t *testing.T) (*Engine, repository.Repository) {
	t.Helper()
	repo, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "scanner.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	tp, err := telemetry.NewProvider(telemetry.Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	return New(repo, eventsink.New(16), tp), repo
}

func TestEngineStartRejectsNoURLs(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.Start(&repository.Scan{ID: "scan-1"}); err == nil {
		t.Fatal("expected an error with no target URLs")
	}
}

func TestEngineStartRejectsUnknownCheck(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.Start(&repository.Scan{ID: "scan-1", URLs: []string{"http://example.com"}, EnabledChecks: []string{"not_a_real_check"}})
	if err == nil {
		t.Fatal("expected an error for an unknown check ID")
	}
}

func TestEngineRunsScanToCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, repo := newTestEngine(t)
	scan := &repository.Scan{
		ID:            "scan-1",
		URLs:          []string{srv.URL},
		EnabledChecks: []string{"security_headers"},
	}
	ctx := context.Background()
	if err := repo.PutScan(ctx, scan); err != nil {
		t.Fatalf("PutScan: %v", err)
	}
	if err := e.Start(scan); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := repo.GetScan(ctx, scan.ID)
		if err != nil {
			t.Fatalf("GetScan: %v", err)
		}
		if got.Status == "completed" {
			if got.IssuesFound == 0 {
				t.Fatal("expected at least one missing-header issue on a bare response")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("scan did not complete in time")
}

func TestEngineCompletesWithRequestDelayConfigured(t *testing.T) {
	e, repo := newTestEngine(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	scan := &repository.Scan{
		ID:             "scan-delay",
		URLs:           []string{srv.URL, srv.URL + "/other"},
		EnabledChecks:  []string{"security_headers"},
		RequestDelayMs: 20,
	}
	ctx := context.Background()
	if err := repo.PutScan(ctx, scan); err != nil {
		t.Fatalf("PutScan: %v", err)
	}
	if err := e.Start(scan); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := repo.GetScan(ctx, scan.ID)
		if err != nil {
			t.Fatalf("GetScan: %v", err)
		}
		if got.Status == "completed" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("scan did not complete in time")
}
