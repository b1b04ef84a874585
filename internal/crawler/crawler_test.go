package crawler

import (
	"context"
	"fmt"
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
	repo, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "crawler.db"))
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

func TestEngineStartRejectsNoSeeds(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.Start(&repository.CrawlSession{ID: "s1"}); err == nil {
		t.Fatal("expected an error when no seed URLs are given")
	}
}

func TestEngineCrawlsLinkedPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/child">child</a></body></html>`)
	})
	mux.HandleFunc("/child", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>leaf</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e, repo := newTestEngine(t)
	session := &repository.CrawlSession{
		ID:             "session-1",
		Seeds:          []string{srv.URL + "/"},
		MaxDepth:       2,
		MaxPages:       10,
		Threads:        2,
		FollowExternal: false,
		RespectRobots:  false,
	}
	ctx := context.Background()
	if err := repo.PutCrawlSession(ctx, session); err != nil {
		t.Fatalf("PutCrawlSession: %v", err)
	}
	if err := e.Start(session); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := repo.GetCrawlSession(ctx, session.ID)
		if err != nil {
			t.Fatalf("GetCrawlSession: %v", err)
		}
		if got.Status == "completed" {
			if got.PagesCrawled < 2 {
				t.Fatalf("expected at least 2 pages crawled (seed + child), got %d", got.PagesCrawled)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("crawl did not complete in time")
}
