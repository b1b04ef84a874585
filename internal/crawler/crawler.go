// Package crawler implements the bounded BFS spider engine: seeded
// frontier expansion with scope/robots/pattern gating, link extraction,
// and crawl-session progress persistence.
package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
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

// maxParseBody bounds how much of a response body link extraction reads,
// independent of the attack engine's body-sample limit.
const maxParseBody = 2 * 1024 * 1024

func errInvalidConfig(msg string) error {
	return interr.New("crawler", interr.KindInvalidConfig, fmt.Errorf("%s", msg))
}

// Engine runs and supervises spider crawl sessions.
type Engine struct {
	repo   repository.Repository
	sink   *eventsink.Sink
	tp     *telemetry.Provider
	robots *robotsCache

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	cancel context.CancelFunc
	gate   *engctl.Gate
}

// New constructs an Engine.
func New(repo repository.Repository, sink *eventsink.Sink, tp *telemetry.Provider) *Engine {
	return &Engine{repo: repo, sink: sink, tp: tp, robots: newRobotsCache(), runs: make(map[string]*run)}
}

// Start validates session and begins crawling its seeds in the background.
func (e *Engine) Start(session *repository.CrawlSession) error {
	if len(session.Seeds) == 0 {
		return errInvalidConfig("at least one seed URL is required")
	}
	include, err := compilePatterns(session.IncludePatterns)
	if err != nil {
		return err
	}
	exclude, err := compilePatterns(session.ExcludePatterns)
	if err != nil {
		return err
	}
	if session.Threads <= 0 {
		session.Threads = 1
	}
	if session.MaxPages <= 0 {
		session.MaxPages = len(session.Seeds)
	}

	ctx := context.Background()
	seedRows := make([]*repository.CrawlURL, 0, len(session.Seeds))
	for _, seed := range session.Seeds {
		seedRows = append(seedRows, &repository.CrawlURL{
			ID: uuid.NewString(), SessionID: session.ID, URL: seed, Depth: 0, Status: "queued", CreatedAt: time.Now(),
		})
	}
	if err := e.repo.PutCrawlURLs(ctx, seedRows); err != nil {
		return err
	}

	session.Status = "running"
	session.PagesQueued = int64(len(seedRows))
	session.PagesCrawled = 0
	session.ErrorCount = 0
	if err := e.repo.UpdateCrawlSession(ctx, session); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, gate: engctl.NewGate()}
	e.mu.Lock()
	e.runs[session.ID] = r
	e.mu.Unlock()

	go e.run(runCtx, r.gate, session, seedRows, include, exclude)
	return nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, errInvalidConfig("bad pattern " + p + ": " + err.Error())
		}
		out = append(out, re)
	}
	return out, nil
}

// Pause, Resume, Stop mirror the fuzzer engine's run control.
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
		return nil, interr.New("crawler", interr.KindNotFound, fmt.Errorf("crawl session %s is not running", id))
	}
	return r, nil
}

func (e *Engine) setStatus(id, status string) error {
	ctx := context.Background()
	s, err := e.repo.GetCrawlSession(ctx, id)
	if err != nil {
		return err
	}
	s.Status = status
	return e.repo.UpdateCrawlSession(ctx, s)
}

func (e *Engine) run(ctx context.Context, gate *engctl.Gate, session *repository.CrawlSession, seeds []*repository.CrawlURL, include, exclude []*regexp.Regexp) {
	defer func() {
		e.mu.Lock()
		delete(e.runs, session.ID)
		e.mu.Unlock()
	}()

	spanCtx, span := e.tp.StartEngineSpan(ctx, "crawl", session.ID)
	defer span.End()

	client := &http.Client{Timeout: 20 * time.Second}

	queue := make(chan *repository.CrawlURL, session.MaxPages+session.Threads+8)
	var wg sync.WaitGroup
	for _, s := range seeds {
		wg.Add(1)
		queue <- s
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	state := &crawlState{session: session}
	state.queued.Store(int64(len(seeds)))

	var limiter *rate.Limiter
	if session.DelayMs > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(session.DelayMs)*time.Millisecond), 1)
	}

	var workers errgroup.Group
	for i := 0; i < session.Threads; i++ {
		workers.Go(func() error {
			for {
				select {
				case <-done:
					return nil
				case cu, ok := <-queue:
					if !ok {
						return nil
					}
					e.process(spanCtx, gate, client, state, cu, include, exclude, queue, &wg)
					if limiter != nil {
						limiter.Wait(spanCtx)
					}
				}
			}
		})
	}
	workers.Wait()

	status := "completed"
	if spanCtx.Err() != nil {
		status = "canceled"
	}
	session.Status = status
	session.PagesCrawled = state.crawled.Load()
	session.PagesQueued = state.queued.Load()
	session.ErrorCount = state.errors.Load()
	if err := e.repo.UpdateCrawlSession(context.Background(), session); err != nil {
		slog.Error("crawler failed to persist final status", "component", "crawler", "session_id", session.ID, "error", err)
	}
	e.sink.Publish(eventsink.TypeSpiderProgress, map[string]any{
		"session_id": session.ID, "crawled": session.PagesCrawled, "queued": session.PagesQueued, "status": status,
	})
}

// crawlState holds the session and the progress counters shared across
// worker goroutines; the session row itself is written once, when the
// run ends.
type crawlState struct {
	session *repository.CrawlSession
	queued  atomic.Int64
	crawled atomic.Int64
	errors  atomic.Int64
}

func (e *Engine) process(ctx context.Context, gate *engctl.Gate, client *http.Client, state *crawlState, cu *repository.CrawlURL, include, exclude []*regexp.Regexp, queue chan<- *repository.CrawlURL, wg *sync.WaitGroup) {
	defer wg.Done()

	if err := gate.Wait(ctx); err != nil {
		return
	}
	select {
	case <-ctx.Done():
		return
	default:
	}

	session := state.session
	if session.RespectRobots && !e.robots.Allowed(client, cu.URL) {
		cu.Status = "skipped"
		e.repo.UpdateCrawlURL(context.Background(), cu)
		return
	}

	cu.Status = "crawling"
	e.repo.UpdateCrawlURL(context.Background(), cu)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cu.URL, nil)
	if err != nil {
		e.fail(state, cu, err)
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		e.fail(state, cu, err)
		return
	}
	defer resp.Body.Close()

	cu.StatusCode = resp.StatusCode
	base, err := url.Parse(cu.URL)
	if err != nil {
		e.fail(state, cu, err)
		return
	}

	var p page
	if isHTML(resp.Header.Get("Content-Type")) {
		p = parsePage(io.LimitReader(resp.Body, maxParseBody), base)
	} else {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxParseBody))
	}

	cu.Title = p.title
	cu.LinkCount = len(p.links)
	cu.FormCount = p.formCount
	cu.Status = "crawled"
	e.repo.UpdateCrawlURL(context.Background(), cu)

	state.crawled.Add(1)
	e.sink.Publish(eventsink.TypeSpiderURL, cu)

	if cu.Depth >= session.MaxDepth {
		return
	}
	e.enqueueChildren(ctx, state, cu, p.links, include, exclude, queue, wg)
}

func (e *Engine) fail(state *crawlState, cu *repository.CrawlURL, err error) {
	cu.Status = "error"
	cu.Error = err.Error()
	e.repo.UpdateCrawlURL(context.Background(), cu)
	state.errors.Add(1)
}

func (e *Engine) enqueueChildren(ctx context.Context, state *crawlState, parent *repository.CrawlURL, links []string, include, exclude []*regexp.Regexp, queue chan<- *repository.CrawlURL, wg *sync.WaitGroup) {
	session := state.session
	seedHost := hostOf(session.Seeds[0])

	for _, link := range links {
		if state.queued.Load() >= int64(session.MaxPages) {
			return
		}
		if !session.FollowExternal && hostOf(link) != seedHost {
			continue
		}
		if !inScope(link, include, exclude) {
			continue
		}

		exists, err := e.repo.HasCrawlURL(ctx, session.ID, link)
		if err != nil || exists {
			continue
		}

		child := &repository.CrawlURL{
			ID: uuid.NewString(), SessionID: session.ID, URL: link, Depth: parent.Depth + 1,
			SourceURL: parent.URL, Status: "queued", CreatedAt: time.Now(),
		}
		if err := e.repo.PutCrawlURLs(ctx, []*repository.CrawlURL{child}); err != nil {
			continue
		}
		state.queued.Add(1)
		wg.Add(1)
		select {
		case queue <- child:
		case <-ctx.Done():
			wg.Done()
			return
		}
	}
}

func inScope(link string, include, exclude []*regexp.Regexp) bool {
	for _, re := range exclude {
		if re.MatchString(link) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, re := range include {
		if re.MatchString(link) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func isHTML(contentType string) bool {
	return contentType == "" || strings.Contains(strings.ToLower(contentType), "html")
}
