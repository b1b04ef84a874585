// Package proxy implements the dual-mode intercepting proxy core:
// accept client connections, dispatch plain HTTP vs CONNECT, drive the
// per-exchange lifecycle through the rule engine, and persist captured
// exchanges.
package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"intercept/internal/certforge"
	"intercept/internal/eventsink"
	"intercept/internal/exchange"
	"intercept/internal/httpcodec"
	"intercept/internal/interr"
	"intercept/internal/repository"
	"intercept/internal/rules"
	"intercept/internal/telemetry"
)

// Config bounds the proxy's listening and upstream behaviour.
type Config struct {
	ListenAddr      string
	MITMEnabled     bool
	UpstreamTimeout time.Duration
	Limits          httpcodec.Limits
	StopGrace       time.Duration
}

func (c Config) withDefaults() Config {
	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = 30 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	return c
}

// Proxy is the process-wide intercepting proxy, constructed once at
// startup and passed by handle to the transport layer.
type Proxy struct {
	cfg Config

	forge     *certforge.Forge
	rulesEng  *rules.Engine
	intercept *rules.Registry
	repo      repository.Repository
	sink      *eventsink.Sink
	tp        *telemetry.Provider

	interceptEnabled atomic.Bool
	running          atomic.Bool

	listener net.Listener
	wg       sync.WaitGroup

	requestsTotal       atomic.Int64
	requestsIntercepted atomic.Int64
}

// New constructs a Proxy. forge may be nil if MITM is disabled (opaque
// passthrough is used for every CONNECT tunnel in that case).
func New(cfg Config, forge *certforge.Forge, rulesEng *rules.Engine, intercept *rules.Registry, repo repository.Repository, sink *eventsink.Sink, tp *telemetry.Provider) *Proxy {
	if tp == nil {
		tp = telemetry.NoopProvider()
	}
	return &Proxy{
		cfg:       cfg.withDefaults(),
		forge:     forge,
		rulesEng:  rulesEng,
		intercept: intercept,
		repo:      repo,
		sink:      sink,
		tp:        tp,
	}
}

// SetInterceptEnabled toggles the operator hold stage on or off.
func (p *Proxy) SetInterceptEnabled(enabled bool) { p.interceptEnabled.Store(enabled) }

func (p *Proxy) InterceptEnabled() bool { return p.interceptEnabled.Load() }

// Stats is the snapshot returned by /proxy/status.
type Stats struct {
	Running             bool
	ListenAddr          string
	InterceptEnabled    bool
	RequestsTotal       int64
	RequestsIntercepted int64
	ForgedCertCount     int
	Subscribers         int
}

func (p *Proxy) Stats() Stats {
	forged := 0
	if p.forge != nil {
		forged = p.forge.Count()
	}
	subs := 0
	if p.sink != nil {
		subs = p.sink.SubscriberCount()
	}
	return Stats{
		Running:             p.running.Load(),
		ListenAddr:          p.cfg.ListenAddr,
		InterceptEnabled:    p.interceptEnabled.Load(),
		RequestsTotal:       p.requestsTotal.Load(),
		RequestsIntercepted: p.requestsIntercepted.Load(),
		ForgedCertCount:     forged,
		Subscribers:         subs,
	}
}

// Start binds the listener and accepts connections until ctx is
// canceled. Each accepted connection runs on its own goroutine.
func (p *Proxy) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.cfg.ListenAddr)
	if err != nil {
		return interr.New("proxy.Start", interr.KindInternal, err)
	}
	p.listener = ln
	p.running.Store(true)
	slog.Info("proxy listening", "component", "proxy", "addr", p.cfg.ListenAddr, "mitm", p.cfg.MITMEnabled)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Warn("accept failed", "component", "proxy", "error", err)
			continue
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.recoverConn(conn)
			p.handleConn(ctx, conn)
		}()
	}

	p.running.Store(false)
	return nil
}

// Stop cancels the listener and waits up to StopGrace for in-flight
// connections to finish their current exchange.
func (p *Proxy) Stop() {
	if p.listener != nil {
		p.listener.Close()
	}
	p.intercept.Purge()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.cfg.StopGrace):
		slog.Warn("proxy stop grace period exceeded", "component", "proxy")
	}
}

func (p *Proxy) recoverConn(conn net.Conn) {
	if r := recover(); r != nil {
		slog.Error("recovered panic in connection handler", "component", "proxy", "panic", r)
	}
	conn.Close()
}

func (p *Proxy) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	br := bufio.NewReader(conn)
	for {
		rl, headers, body, err := httpcodec.ReadRequest(br, p.cfg.Limits)
		if err != nil {
			if err != io.EOF {
				slog.Warn("client read failed", "component", "proxy", "error", err)
			}
			return
		}

		if strings.EqualFold(rl.Method, "CONNECT") {
			p.handleConnect(ctx, conn, rl)
			return // tunnel owns the connection from here
		}

		keepAlive := p.handleOne(ctx, conn, br, rl, headers, body, "http")
		if !keepAlive {
			return
		}
	}
}

// handleOne runs one request/response exchange through the rule engine
// and a freshly dialed upstream connection, writing the response to the
// client. Returns whether the client connection should stay open for
// another request.
func (p *Proxy) handleOne(ctx context.Context, clientConn io.Writer, _ *bufio.Reader, rl httpcodec.RequestLine, headers exchange.Header, body []byte, scheme string) bool {
	ex, keepWanted := p.buildExchange(rl, headers, body, scheme)

	upstream, upstreamBR, err := p.dialUpstream(ctx, ex.Request.Scheme, ex.Request.Host)
	if err != nil {
		p.finishBlockedOrError(clientConn, ex, 502, err)
		return false
	}
	defer upstream.Close()

	return p.runExchange(ctx, clientConn, upstream, upstreamBR, ex) && keepWanted
}

// buildExchange parses the target, constructs the Exchange, and
// reports whether the client signalled keep-alive on the request side
// (used only as an additional gate; the response side is also checked).
func (p *Proxy) buildExchange(rl httpcodec.RequestLine, headers exchange.Header, body []byte, scheme string) (*exchange.Exchange, bool) {
	host, pathQuery, absURL := splitTarget(rl.Target, headers, scheme)
	ex := exchange.NewExchange(exchange.Request{
		Method:      rl.Method,
		URL:         absURL,
		Host:        host,
		PathQuery:   pathQuery,
		Scheme:      scheme,
		Headers:     headers,
		Body:        body,
		ContentType: contentType(headers),
	})
	return ex, !httpcodec.ConnectionClose(headers)
}

// runExchange drives rules → intercept → forward → rules → intercept →
// record for one Exchange over an already-connected upstream. Returns
// whether the underlying connections both permit another request.
func (p *Proxy) runExchange(ctx context.Context, clientConn io.Writer, upstream net.Conn, upstreamBR *bufio.Reader, ex *exchange.Exchange) bool {
	p.requestsTotal.Add(1)
	ctx, span := p.tp.StartExchangeSpan(ctx, ex.ID, ex.Request.Method, ex.Request.URL)
	defer span.End()

	mut := &exchange.Mutation{}

	reqTarget := &rules.Target{Method: ex.Request.Method, URL: ex.Request.URL, Headers: ex.Request.Headers.Clone(), Body: append([]byte(nil), ex.Request.Body...)}
	if blocked := p.evaluateRules(mut, rules.ScopeRequest, reqTarget); blocked != nil {
		p.finishBlocked(clientConn, ex, blocked.Rule)
		return false
	}
	p.applyRequestTarget(ex, reqTarget)

	if p.interceptEnabled.Load() {
		if p.holdRequest(ctx, ex, mut) {
			return false
		}
	}

	resp, err := p.forwardOverConn(upstream, upstreamBR, ex)
	if err != nil {
		p.finishBlockedOrError(clientConn, ex, interr.HTTPStatus(interr.KindOf(err)), err)
		return false
	}
	ex.Response = resp

	respTarget := &rules.Target{Headers: ex.Response.Headers.Clone(), Body: append([]byte(nil), ex.Response.Body...)}
	if blocked := p.evaluateRules(mut, rules.ScopeResponse, respTarget); blocked != nil {
		p.finishBlocked(clientConn, ex, blocked.Rule)
		return false
	}
	p.applyResponseTarget(ex, respTarget)

	if p.interceptEnabled.Load() {
		if p.holdResponse(ctx, ex, mut) {
			return false
		}
	}

	httpcodec.WriteResponse(clientConn, httpcodec.StatusLine{Status: ex.Response.Status}, ex.Response.Headers, ex.Response.Body)
	p.record(ex)
	p.tp.EndExchangeSpan(span, ex.Response.Status, ex.Response.ElapsedMs, nil)

	return !httpcodec.ConnectionClose(ex.Request.Headers) && !httpcodec.ConnectionClose(ex.Response.Headers)
}

func (p *Proxy) evaluateRules(mut *exchange.Mutation, stage rules.Scope, t *rules.Target) *rules.Blocked {
	if !mut.ApplyRule() {
		return nil
	}
	return p.rulesEng.Evaluate(stage, t)
}

func (p *Proxy) applyRequestTarget(ex *exchange.Exchange, t *rules.Target) {
	if t.URL != ex.Request.URL {
		ex.Modified = true
		ex.Request.URL = t.URL
		if u, err := splitAbsoluteURL(t.URL); err == nil {
			ex.Request.Host = u.host
			ex.Request.PathQuery = u.pathQuery
		}
	}
	if !bytesEqual(t.Body, ex.Request.Body) {
		ex.Modified = true
	}
	ex.Request.Headers = t.Headers
	ex.Request.Body = t.Body
}

func (p *Proxy) applyResponseTarget(ex *exchange.Exchange, t *rules.Target) {
	if !bytesEqual(t.Body, ex.Response.Body) {
		ex.Modified = true
	}
	ex.Response.Headers = t.Headers
	ex.Response.Body = t.Body
}

// holdRequest registers the request half for operator inspection and
// applies whatever decision comes back. Returns true if the exchange
// was terminated (dropped) and must not be forwarded.
func (p *Proxy) holdRequest(ctx context.Context, ex *exchange.Exchange, mut *exchange.Mutation) bool {
	if !mut.ApplyHold() {
		return false
	}
	ex.Intercepted = true
	p.requestsIntercepted.Add(1)

	decision := p.intercept.Hold(ctx, func(interceptID string) {
		p.sink.Publish(eventsink.TypeIntercept, map[string]any{
			"intercept_id": interceptID,
			"stage":        "request",
			"exchange_id":  ex.ID,
			"method":       ex.Request.Method,
			"url":          ex.Request.URL,
		})
	})

	switch decision.Kind {
	case rules.DecisionDrop:
		ex.Response = &exchange.Response{Status: 502, Headers: exchange.Header{{Name: "Content-Length", Value: "0"}}}
		ex.Modified = true
		p.record(ex)
		return true
	case rules.DecisionForwardModified:
		ex.Modified = true
		if decision.Headers != nil {
			ex.Request.Headers = decision.Headers
		}
		if decision.Body != nil {
			ex.Request.Body = decision.Body
		}
	}
	return false
}

func (p *Proxy) holdResponse(ctx context.Context, ex *exchange.Exchange, mut *exchange.Mutation) bool {
	if !mut.ApplyHold() {
		return false
	}
	ex.Intercepted = true
	p.requestsIntercepted.Add(1)

	decision := p.intercept.Hold(ctx, func(interceptID string) {
		p.sink.Publish(eventsink.TypeIntercept, map[string]any{
			"intercept_id": interceptID,
			"stage":        "response",
			"exchange_id":  ex.ID,
			"status":       ex.Response.Status,
		})
	})

	switch decision.Kind {
	case rules.DecisionDrop:
		p.record(ex)
		return true
	case rules.DecisionForwardModified:
		ex.Modified = true
		if decision.Status != 0 {
			ex.Response.Status = decision.Status
		}
		if decision.Headers != nil {
			ex.Response.Headers = decision.Headers
		}
		if decision.Body != nil {
			ex.Response.Body = decision.Body
		}
	}
	return false
}

// dialUpstream opens a TCP (optionally TLS) connection to ex's host,
// for use by forwardOverConn. Callers close the returned conn.
func (p *Proxy) dialUpstream(ctx context.Context, scheme, host string) (net.Conn, *bufio.Reader, error) {
	addr := host
	if !strings.Contains(addr, ":") {
		if scheme == "https" {
			addr += ":443"
		} else {
			addr += ":80"
		}
	}

	dialer := net.Dialer{Timeout: p.cfg.UpstreamTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, interr.New("proxy.dialUpstream", interr.KindUpstreamUnreach, err)
	}

	if scheme == "https" {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: hostOnly(host), InsecureSkipVerify: true})
		hctx, cancel := context.WithTimeout(ctx, p.cfg.UpstreamTimeout)
		defer cancel()
		if err := tlsConn.HandshakeContext(hctx); err != nil {
			conn.Close()
			return nil, nil, interr.New("proxy.dialUpstream", interr.KindUpstreamUnreach, err)
		}
		conn = tlsConn
	}

	return conn, bufio.NewReader(conn), nil
}

// forwardOverConn writes ex's request and reads the response over an
// already-connected upstream, using the same codec that parsed the
// client side so an unmodified exchange replays byte-identical.
func (p *Proxy) forwardOverConn(conn net.Conn, br *bufio.Reader, ex *exchange.Exchange) (*exchange.Response, error) {
	conn.SetDeadline(time.Now().Add(p.cfg.UpstreamTimeout))

	start := time.Now()
	if err := httpcodec.WriteRequest(conn, httpcodec.RequestLine{Method: ex.Request.Method, Target: ex.Request.PathQuery}, ex.Request.Headers, ex.Request.Body); err != nil {
		return nil, interr.New("proxy.forwardOverConn", interr.KindUpstreamUnreach, err)
	}

	readUntilClose := httpcodec.ConnectionClose(ex.Request.Headers)
	sl, headers, respBody, err := httpcodec.ReadResponse(br, p.cfg.Limits, readUntilClose)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, interr.New("proxy.forwardOverConn", interr.KindProtocol, fmt.Errorf("upstream timeout: %w", err))
		}
		return nil, interr.New("proxy.forwardOverConn", interr.KindProtocol, err)
	}
	elapsed := time.Since(start)

	return &exchange.Response{
		Status:      sl.Status,
		Headers:     headers,
		Body:        respBody,
		ContentType: contentType(headers),
		ElapsedMs:   elapsed.Milliseconds(),
	}, nil
}

func (p *Proxy) finishBlocked(w io.Writer, ex *exchange.Exchange, rule rules.Rule) {
	ex.Modified = true
	ex.Response = &exchange.Response{Status: 403, Headers: exchange.Header{{Name: "Content-Length", Value: "0"}}}
	httpcodec.WriteResponse(w, httpcodec.StatusLine{Status: 403}, ex.Response.Headers, nil)
	p.record(ex)
	slog.Info("rule blocked exchange", "component", "proxy", "exchange_id", ex.ID, "rule", rule.Name)
}

func (p *Proxy) finishBlockedOrError(w io.Writer, ex *exchange.Exchange, status int, err error) {
	if status < 400 {
		status = 502
	}
	ex.Response = &exchange.Response{Status: status, Headers: exchange.Header{{Name: "Content-Length", Value: "0"}}}
	httpcodec.WriteResponse(w, httpcodec.StatusLine{Status: status}, ex.Response.Headers, nil)
	p.record(ex)
	slog.Warn("upstream forward failed", "component", "proxy", "exchange_id", ex.ID, "error", err)
}

func (p *Proxy) record(ex *exchange.Exchange) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.repo.PutExchange(ctx, ex); err != nil {
		slog.Error("failed to persist exchange", "component", "proxy", "exchange_id", ex.ID, "error", err)
		return
	}
	p.sink.Publish(eventsink.TypeNewRequest, ex)
}

func contentType(h exchange.Header) string {
	v, _ := h.Get("Content-Type")
	return v
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hostOnly(hostport string) string {
	h, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return h
}

type parsedURL struct {
	host      string
	pathQuery string
}

func splitAbsoluteURL(raw string) (parsedURL, error) {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return parsedURL{}, fmt.Errorf("not absolute: %s", raw)
	}
	rest := raw[idx+3:]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return parsedURL{host: rest, pathQuery: "/"}, nil
	}
	return parsedURL{host: rest[:slash], pathQuery: rest[slash:]}, nil
}

// splitTarget derives host, path+query, and an absolute URL for both
// absolute-form (plain proxy) and origin-form (inside a CONNECT tunnel)
// request targets.
func splitTarget(target string, headers exchange.Header, scheme string) (host, pathQuery, absURL string) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		u, err := splitAbsoluteURL(target)
		if err == nil {
			return u.host, u.pathQuery, target
		}
	}
	host, _ = headers.Get("Host")
	pathQuery = target
	if pathQuery == "" {
		pathQuery = "/"
	}
	absURL = scheme + "://" + host + pathQuery
	return host, pathQuery, absURL
}
