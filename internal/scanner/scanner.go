// Package scanner implements the active-scanner orchestrator: it
// dispatches every (url, check) pair from a Scan job to the matching
// built-in check and persists whatever issues come back.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"intercept/internal/engctl"
	"intercept/internal/eventsink"
	"intercept/internal/interr"
	"intercept/internal/repository"
	"intercept/internal/scanner/checks"
	"intercept/internal/telemetry"
)

func errInvalidConfig(msg string) error {
	return interr.New("scanner", interr.KindInvalidConfig, fmt.Errorf("%s", msg))
}

// Engine runs and supervises active-scanner jobs.
type Engine struct {
	repo   repository.Repository
	sink   *eventsink.Sink
	tp     *telemetry.Provider
	checks map[string]checks.Check

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	cancel context.CancelFunc
	gate   *engctl.Gate
}

// New constructs an Engine wired with the built-in check set.
func New(repo repository.Repository, sink *eventsink.Sink, tp *telemetry.Provider) *Engine {
	e := &Engine{repo: repo, sink: sink, tp: tp, checks: make(map[string]checks.Check), runs: make(map[string]*run)}
	for _, c := range checks.All() {
		e.checks[c.ID()] = c
	}
	return e
}

// Start validates scan and begins dispatching (url, check) pairs.
func (e *Engine) Start(scan *repository.Scan) error {
	if len(scan.URLs) == 0 {
		return errInvalidConfig("at least one target URL is required")
	}
	enabled := scan.EnabledChecks
	if len(enabled) == 0 {
		for id := range e.checks {
			enabled = append(enabled, id)
		}
	}
	for _, id := range enabled {
		if _, ok := e.checks[id]; !ok {
			return errInvalidConfig("unknown check: " + id)
		}
	}
	scan.EnabledChecks = enabled

	scan.TotalChecks = int64(len(scan.URLs) * len(enabled))
	scan.CompletedChecks = 0
	scan.IssuesFound = 0
	scan.Status = "running"
	if err := e.repo.UpdateScan(context.Background(), scan); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, gate: engctl.NewGate()}
	e.mu.Lock()
	e.runs[scan.ID] = r
	e.mu.Unlock()

	go e.run(ctx, r.gate, scan, enabled)
	return nil
}

func (e *Engine) Pause(id string) error {
	r, err := e.lookup(id)
	if err != nil {
		return err
	}
	r.gate.Pause()
	return e.setStatus(id, "paused")
}

func (e *Engine) Resume(id string) error {
	r, err := e.lookup(id)
	if err != nil {
		return err
	}
	r.gate.Resume()
	return e.setStatus(id, "running")
}

func (e *Engine) Stop(id string) error {
	r, err := e.lookup(id)
	if err != nil {
		return err
	}
	r.cancel()
	return nil
}

func (e *Engine) lookup(id string) (*run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[id]
	if !ok {
		return nil, interr.New("scanner", interr.KindNotFound, fmt.Errorf("scan %s is not running", id))
	}
	return r, nil
}

func (e *Engine) setStatus(id, status string) error {
	ctx := context.Background()
	s, err := e.repo.GetScan(ctx, id)
	if err != nil {
		return err
	}
	s.Status = status
	return e.repo.UpdateScan(ctx, s)
}

// dispatch is one (url, check) pair awaiting a probe.
type dispatch struct {
	url     string
	checkID string
}

func (e *Engine) run(ctx context.Context, gate *engctl.Gate, scan *repository.Scan, enabled []string) {
	defer func() {
		e.mu.Lock()
		delete(e.runs, scan.ID)
		e.mu.Unlock()
	}()

	spanCtx, span := e.tp.StartEngineSpan(ctx, "scan", scan.ID)
	defer span.End()

	client := &http.Client{Timeout: 30 * time.Second}

	work := make(chan dispatch, len(scan.URLs)*len(enabled))
	for _, u := range scan.URLs {
		for _, checkID := range enabled {
			work <- dispatch{url: u, checkID: checkID}
		}
	}
	close(work)

	var limiter *rate.Limiter
	if scan.RequestDelayMs > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(scan.RequestDelayMs)*time.Millisecond), 1)
	}

	var completed, issuesFound atomic.Int64
	const concurrency = 8
	var workers errgroup.Group
	for i := 0; i < concurrency; i++ {
		workers.Go(func() error {
			for d := range work {
				if err := gate.Wait(spanCtx); err != nil {
					return nil
				}
				select {
				case <-spanCtx.Done():
					return nil
				default:
				}
				if limiter != nil {
					if err := limiter.Wait(spanCtx); err != nil {
						return nil
					}
				}
				e.dispatchOne(spanCtx, client, scan, d, &completed, &issuesFound)
			}
			return nil
		})
	}
	workers.Wait()

	status := "completed"
	if spanCtx.Err() != nil {
		status = "canceled"
	}
	scan.CompletedChecks = completed.Load()
	scan.IssuesFound = issuesFound.Load()
	scan.Status = status
	if err := e.repo.UpdateScan(context.Background(), scan); err != nil {
		slog.Error("scanner failed to persist final status", "component", "scanner", "scan_id", scan.ID, "error", err)
	}
	e.sink.Publish(eventsink.TypeScanProgress, map[string]any{
		"scan_id": scan.ID, "completed": scan.CompletedChecks, "total": scan.TotalChecks, "issues_found": scan.IssuesFound, "status": status,
	})
}

func (e *Engine) dispatchOne(ctx context.Context, client *http.Client, scan *repository.Scan, d dispatch, completed, issuesFound *atomic.Int64) {
	check := e.checks[d.checkID]
	target := checks.Target{URL: d.url, Method: http.MethodGet}

	found, err := check.Run(ctx, client, target)
	if err != nil {
		slog.Warn("scanner check failed", "component", "scanner", "check", d.checkID, "url", d.url, "error", err)
	}

	for _, issue := range found {
		issue.ID = uuid.NewString()
		issue.ScanID = scan.ID
		issue.CheckID = d.checkID
	}
	if len(found) > 0 {
		if err := e.repo.PutIssues(context.Background(), found); err != nil {
			slog.Error("scanner failed to persist issues", "component", "scanner", "scan_id", scan.ID, "error", err)
		}
		issuesFound.Add(int64(len(found)))
	}

	n := completed.Add(1)
	e.tp.RecordCheckDispatch(ctx, d.checkID, d.url, len(found))
	if n%5 == 0 || n == scan.TotalChecks {
		e.sink.Publish(eventsink.TypeScanProgress, map[string]any{
			"scan_id": scan.ID, "completed": n, "total": scan.TotalChecks, "issues_found": issuesFound.Load(), "status": "running",
		})
	}
}
