// Package control implements the workbench's REST surface: thin
// handlers that validate input, call into the proxy core and its
// active-testing engines, and serialise repository state as JSON —
// the operator-facing entry point every engine needs.
package control

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"intercept/internal/certforge"
	"intercept/internal/crawler"
	"intercept/internal/eventsink"
	"intercept/internal/fuzzer"
	"intercept/internal/interr"
	"intercept/internal/proxy"
	"intercept/internal/repository"
	"intercept/internal/rules"
	"intercept/internal/scanner"
)

// API wires the repository and every engine into HTTP handlers.
type API struct {
	repo      repository.Repository
	rulesEng  *rules.Engine
	intercept *rules.Registry
	proxy     *proxy.Proxy
	fuzzer    *fuzzer.Engine
	crawler   *crawler.Engine
	scanner   *scanner.Engine
	sink      *eventsink.Sink
	forge     *certforge.Forge
}

// New constructs an API bound to the process's shared components.
func New(repo repository.Repository, rulesEng *rules.Engine, intercept *rules.Registry, p *proxy.Proxy, f *fuzzer.Engine, c *crawler.Engine, s *scanner.Engine, sink *eventsink.Sink, forge *certforge.Forge) *API {
	return &API{repo: repo, rulesEng: rulesEng, intercept: intercept, proxy: p, fuzzer: f, crawler: c, scanner: s, sink: sink, forge: forge}
}

// Router returns the full HTTP handler tree.
func (a *API) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /proxy/status", a.proxyStatus)
	mux.HandleFunc("POST /proxy/start", a.proxyStart)
	mux.HandleFunc("POST /proxy/stop", a.proxyStop)
	mux.HandleFunc("POST /proxy/intercept/toggle", a.interceptToggle)
	mux.HandleFunc("POST /proxy/intercept/action", a.interceptAction)
	mux.HandleFunc("POST /proxy/replay", a.proxyReplay)
	mux.HandleFunc("GET /proxy/certificate", a.proxyCertificate)

	mux.HandleFunc("GET /requests", a.listRequests)
	mux.HandleFunc("GET /requests/{id}", a.getRequest)
	mux.HandleFunc("DELETE /requests/{id}", a.deleteRequest)
	mux.HandleFunc("POST /requests/clear", a.clearRequests)
	mux.HandleFunc("POST /requests/{id}/tag", a.tagRequest)

	mux.HandleFunc("GET /rules", a.listRules)
	mux.HandleFunc("POST /rules", a.createRule)
	mux.HandleFunc("PUT /rules/{id}", a.updateRule)
	mux.HandleFunc("DELETE /rules/{id}", a.deleteRule)
	mux.HandleFunc("POST /rules/{id}/enabled", a.toggleRule)

	mux.HandleFunc("GET /intruder/attacks", a.listAttacks)
	mux.HandleFunc("POST /intruder/attacks", a.createAttack)
	mux.HandleFunc("GET /intruder/attacks/{id}", a.getAttack)
	mux.HandleFunc("DELETE /intruder/attacks/{id}", a.deleteAttack)
	mux.HandleFunc("POST /intruder/attacks/{id}/start", a.startAttack)
	mux.HandleFunc("POST /intruder/attacks/{id}/pause", a.pauseAttack)
	mux.HandleFunc("POST /intruder/attacks/{id}/resume", a.resumeAttack)
	mux.HandleFunc("POST /intruder/attacks/{id}/stop", a.stopAttack)
	mux.HandleFunc("GET /intruder/attacks/{id}/results", a.listAttackResults)
	mux.HandleFunc("GET /intruder/payloads", a.listBuiltinPayloads)
	mux.HandleFunc("GET /intruder/payloads/{name}", a.getBuiltinPayload)

	mux.HandleFunc("GET /spider/sessions", a.listCrawlSessions)
	mux.HandleFunc("POST /spider/sessions", a.createCrawlSession)
	mux.HandleFunc("GET /spider/sessions/{id}", a.getCrawlSession)
	mux.HandleFunc("DELETE /spider/sessions/{id}", a.deleteCrawlSession)
	mux.HandleFunc("POST /spider/sessions/{id}/start", a.startCrawlSession)
	mux.HandleFunc("POST /spider/sessions/{id}/pause", a.pauseCrawlSession)
	mux.HandleFunc("POST /spider/sessions/{id}/resume", a.resumeCrawlSession)
	mux.HandleFunc("POST /spider/sessions/{id}/stop", a.stopCrawlSession)
	mux.HandleFunc("GET /spider/sessions/{id}/urls", a.listCrawlURLs)

	mux.HandleFunc("GET /scanner/checks", a.listChecks)
	mux.HandleFunc("GET /scanner/scans", a.listScans)
	mux.HandleFunc("POST /scanner/scans", a.createScan)
	mux.HandleFunc("GET /scanner/scans/{id}", a.getScan)
	mux.HandleFunc("DELETE /scanner/scans/{id}", a.deleteScan)
	mux.HandleFunc("POST /scanner/scans/{id}/start", a.startScan)
	mux.HandleFunc("POST /scanner/scans/{id}/pause", a.pauseScan)
	mux.HandleFunc("POST /scanner/scans/{id}/stop", a.stopScan)
	mux.HandleFunc("GET /scanner/scans/{id}/issues", a.listIssues)
	mux.HandleFunc("GET /scanner/scans/{id}/summary", a.scanSummary)
	mux.HandleFunc("PUT /scanner/issues/{id}", a.updateIssue)

	mux.HandleFunc("GET /sequencer/analyses", a.listTokenAnalyses)
	mux.HandleFunc("POST /sequencer/analyses", a.createTokenAnalysis)
	mux.HandleFunc("GET /sequencer/analyses/{id}", a.getTokenAnalysis)
	mux.HandleFunc("DELETE /sequencer/analyses/{id}", a.deleteTokenAnalysis)
	mux.HandleFunc("POST /sequencer/analyses/{id}/samples", a.appendTokenSamples)
	mux.HandleFunc("POST /sequencer/analyses/{id}/analyze", a.analyzeTokenAnalysis)
	mux.HandleFunc("POST /sequencer/analyses/{id}/reset", a.resetTokenAnalysis)
	mux.HandleFunc("POST /sequencer/analyze", a.analyzeTokensStateless)

	mux.HandleFunc("GET /targets", a.listTargets)
	mux.HandleFunc("GET /targets/sitemap", a.targetsSitemap)
	mux.HandleFunc("POST /targets/rebuild", a.rebuildSitemap)

	mux.Handle("GET /events", a.sink)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := interr.HTTPStatus(interr.KindOf(err))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func pageFrom(r *http.Request) repository.Page {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 50
	}
	return repository.Page{Limit: limit, Offset: offset}
}

func encodeBody(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func ctx(r *http.Request) context.Context { return r.Context() }
