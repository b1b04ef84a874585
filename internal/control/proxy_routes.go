package control

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"time"

	"intercept/internal/exchange"
	"intercept/internal/interr"
	"intercept/internal/rules"
)

type proxyStatusResponse struct {
	Running             bool   `json:"running"`
	ListenAddr          string `json:"listen_addr"`
	InterceptEnabled    bool   `json:"intercept_enabled"`
	RequestsTotal       int64  `json:"requests_total"`
	RequestsIntercepted int64  `json:"requests_intercepted"`
	ForgedCertCount     int    `json:"forged_cert_count"`
	Subscribers         int    `json:"subscribers"`
}

func (a *API) proxyStatus(w http.ResponseWriter, r *http.Request) {
	s := a.proxy.Stats()
	writeJSON(w, http.StatusOK, proxyStatusResponse{
		Running: s.Running, ListenAddr: s.ListenAddr, InterceptEnabled: s.InterceptEnabled,
		RequestsTotal: s.RequestsTotal, RequestsIntercepted: s.RequestsIntercepted,
		ForgedCertCount: s.ForgedCertCount, Subscribers: s.Subscribers,
	})
}

// proxyStart reports current status: the listener is brought up once at
// process start and runs for the process lifetime, so there is nothing
// further to start here.
func (a *API) proxyStart(w http.ResponseWriter, r *http.Request) {
	a.proxyStatus(w, r)
}

func (a *API) proxyStop(w http.ResponseWriter, r *http.Request) {
	a.proxy.Stop()
	a.proxyStatus(w, r)
}

func (a *API) interceptToggle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, interr.New("control.interceptToggle", interr.KindInvalidConfig, err))
		return
	}
	a.proxy.SetInterceptEnabled(body.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"intercept_enabled": body.Enabled})
}

func (a *API) interceptAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		InterceptID string          `json:"intercept_id"`
		Action      string          `json:"action"` // forward | forward_modified | drop
		Status      int             `json:"status"`
		Headers     exchange.Header `json:"headers"`
		Body        string          `json:"body"` // base64
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, interr.New("control.interceptAction", interr.KindInvalidConfig, err))
		return
	}

	var decision rules.Decision
	switch body.Action {
	case "forward":
		decision = rules.Decision{Kind: rules.DecisionForward}
	case "forward_modified":
		var raw []byte
		if body.Body != "" {
			decoded, err := base64.StdEncoding.DecodeString(body.Body)
			if err != nil {
				writeError(w, interr.New("control.interceptAction", interr.KindInvalidConfig, err))
				return
			}
			raw = decoded
		}
		decision = rules.Decision{Kind: rules.DecisionForwardModified, Status: body.Status, Headers: body.Headers, Body: raw}
	case "drop":
		decision = rules.Decision{Kind: rules.DecisionDrop}
	default:
		writeError(w, interr.New("control.interceptAction", interr.KindInvalidConfig, errControl("unknown action: "+body.Action)))
		return
	}

	if !a.intercept.Decide(body.InterceptID, decision) {
		writeError(w, interr.New("control.interceptAction", interr.KindNotFound, errControl("intercept id not held")))
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type errControl string

func (e errControl) Error() string { return string(e) }

// proxyReplay fires a one-shot copy of a captured exchange's request,
// optionally overriding fields, and returns the fresh response without
// recording a new exchange row.
func (a *API) proxyReplay(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExchangeID string            `json:"exchange_id"`
		Method     string            `json:"method,omitempty"`
		URL        string            `json:"url,omitempty"`
		Headers    map[string]string `json:"headers,omitempty"`
		Body       string            `json:"body,omitempty"` // base64
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, interr.New("control.proxyReplay", interr.KindInvalidConfig, err))
		return
	}

	ex, err := a.repo.GetExchange(ctx(r), body.ExchangeID)
	if err != nil {
		writeError(w, err)
		return
	}

	method := ex.Request.Method
	if body.Method != "" {
		method = body.Method
	}
	url := ex.Request.URL
	if body.URL != "" {
		url = body.URL
	}
	reqBody := ex.Request.Body
	if body.Body != "" {
		decoded, derr := base64.StdEncoding.DecodeString(body.Body)
		if derr != nil {
			writeError(w, interr.New("control.proxyReplay", interr.KindInvalidConfig, derr))
			return
		}
		reqBody = decoded
	}

	req, err := http.NewRequestWithContext(ctx(r), method, url, bytes.NewReader(reqBody))
	if err != nil {
		writeError(w, interr.New("control.proxyReplay", interr.KindInvalidConfig, err))
		return
	}
	for _, f := range ex.Request.Headers {
		req.Header.Add(f.Name, f.Value)
	}
	for name, value := range body.Headers {
		req.Header.Set(name, value)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		writeError(w, interr.New("control.proxyReplay", interr.KindUpstreamUnreach, err))
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		writeError(w, interr.New("control.proxyReplay", interr.KindProtocol, err))
		return
	}

	headers := make(map[string]string, len(resp.Header))
	for name, values := range resp.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     resp.StatusCode,
		"headers":    headers,
		"body":       encodeBody(respBody),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
}

func (a *API) proxyCertificate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", `attachment; filename="web-intercept-ca.pem"`)
	w.Write(a.forge.CA().CertPEM())
}
