// Package fuzzer implements the intruder attack engine: templated
// requests with substitution positions, fired across one of four
// combinator modes through a bounded worker pool.
package fuzzer

import (
	"bytes"
	"context"
	"fmt"
	"io"
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
	"intercept/internal/telemetry"
)

// bodySampleLimit is the amount of each response body persisted per
// result; Length still records the full body size.
const bodySampleLimit = 10 * 1024

func errInvalidConfig(msg string) error {
	return interr.New("fuzzer", interr.KindInvalidConfig, fmt.Errorf("%s", msg))
}

// Engine runs and supervises intruder attacks.
type Engine struct {
	repo repository.Repository
	sink *eventsink.Sink
	tp   *telemetry.Provider

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	cancel context.CancelFunc
	gate   *engctl.Gate
}

// New constructs an Engine.
func New(repo repository.Repository, sink *eventsink.Sink, tp *telemetry.Provider) *Engine {
	return &Engine{repo: repo, sink: sink, tp: tp, runs: make(map[string]*run)}
}

// Start launches attack in the background. The attack's Positions and
// PayloadSets are validated before anything is persisted or fired.
func (e *Engine) Start(attack *repository.Attack) error {
	if len(attack.PayloadSets) == 0 {
		return errInvalidConfig("at least one payload set is required")
	}
	tpl := buildTemplate(attack)
	if err := validatePositions(tpl, attack.Positions); err != nil {
		return err
	}
	total, err := countOf(attack.Mode, attack.Positions, attack.PayloadSets)
	if err != nil {
		return err
	}
	if attack.Concurrency <= 0 {
		attack.Concurrency = 1
	}

	attack.TotalRequests = total
	attack.CompletedRequests = 0
	attack.Status = "running"
	if err := e.repo.UpdateAttack(context.Background(), attack); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, gate: engctl.NewGate()}

	e.mu.Lock()
	e.runs[attack.ID] = r
	e.mu.Unlock()

	go e.run(ctx, r.gate, attack, tpl)
	return nil
}

// Pause parks an attack's workers between requests.
func (e *Engine) Pause(id string) error {
	r, err := e.lookup(id)
	if err != nil {
		return err
	}
	r.gate.Pause()
	return e.setStatus(id, "paused")
}

// Resume releases a paused attack's workers.
func (e *Engine) Resume(id string) error {
	r, err := e.lookup(id)
	if err != nil {
		return err
	}
	r.gate.Resume()
	return e.setStatus(id, "running")
}

// Stop cancels an attack; in-flight requests finish, no new ones start.
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
		return nil, interr.New("fuzzer", interr.KindNotFound, fmt.Errorf("attack %s is not running", id))
	}
	return r, nil
}

func (e *Engine) setStatus(id, status string) error {
	ctx := context.Background()
	a, err := e.repo.GetAttack(ctx, id)
	if err != nil {
		return err
	}
	a.Status = status
	return e.repo.UpdateAttack(ctx, a)
}

func (e *Engine) run(ctx context.Context, gate *engctl.Gate, attack *repository.Attack, tpl *template) {
	defer func() {
		e.mu.Lock()
		delete(e.runs, attack.ID)
		e.mu.Unlock()
	}()

	spanCtx, span := e.tp.StartEngineSpan(ctx, "attack", attack.ID)
	defer span.End()

	client := &http.Client{Timeout: timeoutOf(attack)}
	if !attack.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	}

	concurrency := attack.Concurrency
	combosCh := make(chan combination, concurrency*4)
	go func() {
		if err := generate(spanCtx, attack.Mode, attack.Positions, attack.PayloadSets, combosCh); err != nil {
			slog.Error("fuzzer combinator failed", "component", "fuzzer", "attack_id", attack.ID, "error", err)
		}
	}()

	var limiter *rate.Limiter
	if attack.DelayMs > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(attack.DelayMs)*time.Millisecond), 1)
	}

	resultsCh := make(chan *repository.AttackResult, concurrency*4)
	var workers errgroup.Group
	for i := 0; i < concurrency; i++ {
		workers.Go(func() error {
			e.worker(spanCtx, gate, limiter, client, tpl, attack, combosCh, resultsCh)
			return nil
		})
	}
	go func() {
		workers.Wait()
		close(resultsCh)
	}()

	completed := e.collect(spanCtx, attack, resultsCh)

	status := "completed"
	if spanCtx.Err() != nil {
		status = "canceled"
	}
	attack.CompletedRequests = completed
	attack.Status = status
	if err := e.repo.UpdateAttack(context.Background(), attack); err != nil {
		slog.Error("fuzzer failed to persist final status", "component", "fuzzer", "attack_id", attack.ID, "error", err)
	}
	e.sink.Publish(eventsink.TypeIntruderProgress, map[string]any{
		"attack_id": attack.ID, "completed": completed, "total": attack.TotalRequests, "status": status,
	})
}

func timeoutOf(a *repository.Attack) time.Duration {
	if a.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

func (e *Engine) worker(ctx context.Context, gate *engctl.Gate, limiter *rate.Limiter, client *http.Client, tpl *template, attack *repository.Attack, combosCh <-chan combination, resultsCh chan<- *repository.AttackResult) {
	for combo := range combosCh {
		if err := gate.Wait(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		r := e.fire(ctx, client, tpl, attack, combo)
		select {
		case resultsCh <- r:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) fire(ctx context.Context, client *http.Client, tpl *template, attack *repository.Attack, combo combination) *repository.AttackResult {
	r := tpl.substitute(attack.Positions, combo.payloads)
	payloads := extractPayloads(combo)

	result := &repository.AttackResult{
		ID:        uuid.NewString(),
		AttackID:  attack.ID,
		Payloads:  payloads,
		URL:       r.url,
		CreatedAt: time.Now(),
	}

	started := time.Now()
	// The request outlives Stop: canceling ctx stops new requests, while
	// one already started runs to completion (bounded by the client timeout).
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), attack.Method, r.url, bytes.NewReader([]byte(r.body)))
	if err != nil {
		result.Error = err.Error()
		result.ElapsedMs = time.Since(started).Milliseconds()
		return result
	}
	for name, value := range r.headers {
		req.Header.Set(name, value)
	}

	resp, err := client.Do(req)
	result.ElapsedMs = time.Since(started).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	var sample bytes.Buffer
	sampled, _ := io.Copy(&sample, io.LimitReader(resp.Body, bodySampleLimit))
	rest, _ := io.Copy(io.Discard, resp.Body)

	result.Status = resp.StatusCode
	result.Length = sampled + rest
	result.BodySample = sample.Bytes()
	return result
}

// extractPayloads renders one payload string per position, "" for any
// left at their template baseline, so the stored result shows exactly
// what each position held for this request.
func extractPayloads(combo combination) []string {
	out := make([]string, len(combo.payloads))
	for i, p := range combo.payloads {
		if p != nil {
			out[i] = *p
		}
	}
	return out
}

// collect drains resultsCh, persisting results in small batches and
// publishing progress/result events, and returns the completed count.
func (e *Engine) collect(ctx context.Context, attack *repository.Attack, resultsCh <-chan *repository.AttackResult) int64 {
	var completed atomic.Int64
	batch := make([]*repository.AttackResult, 0, 25)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := e.repo.PutAttackResults(context.Background(), batch); err != nil {
			slog.Error("fuzzer failed to persist results", "component", "fuzzer", "attack_id", attack.ID, "error", err)
		}
		batch = batch[:0]
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-resultsCh:
			if !ok {
				flush()
				return completed.Load()
			}
			batch = append(batch, r)
			n := completed.Add(1)
			e.sink.Publish(eventsink.TypeIntruderResult, r)
			if len(batch) >= 25 {
				flush()
			}
			if n%10 == 0 || n == attack.TotalRequests {
				e.sink.Publish(eventsink.TypeIntruderProgress, map[string]any{
					"attack_id": attack.ID, "completed": n, "total": attack.TotalRequests, "status": "running",
				})
			}
		case <-ticker.C:
			flush()
		}
	}
}
