package fuzzer

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
	repo, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "fuzzer.db"))
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

func TestEngineStartRejectsEmptyPayloadSets(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.Start(&repository.Attack{ID: "a1", Mode: ModeSniper})
	if err == nil {
		t.Fatal("expected an error for an attack with no payload sets")
	}
}

func TestEngineRunsSniperAttackToCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, repo := newTestEngine(t)
	attack := &repository.Attack{
		ID:          "attack-1",
		Method:      http.MethodGet,
		URLTemplate: srv.URL + "/?q=FUZZ",
		Positions:   []repository.Position{{Start: len(srv.URL) + 4, End: len(srv.URL) + 8}},
		Mode:        ModeSniper,
		PayloadSets: [][]string{{"a", "b", "c"}},
		Concurrency: 2,
	}
	ctx := context.Background()
	if err := repo.PutAttack(ctx, attack); err != nil {
		t.Fatalf("PutAttack: %v", err)
	}
	if err := e.Start(attack); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := repo.GetAttack(ctx, attack.ID)
		if err != nil {
			t.Fatalf("GetAttack: %v", err)
		}
		if got.Status == "completed" {
			results, err := repo.ListAttackResults(ctx, attack.ID, repository.Page{Limit: 100})
			if err != nil {
				t.Fatalf("ListAttackResults: %v", err)
			}
			if len(results) != 3 {
				t.Fatalf("expected 3 results, got %d", len(results))
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("attack did not complete in time")
}
