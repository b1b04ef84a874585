package control

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"intercept/internal/eventsink"
	"intercept/internal/repository"
	"intercept/internal/rules"
)

func newTestAPI(t *testing.T) (*API, repository.Repository) {
	t.Helper()
	repo, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "control.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	rulesEng := rules.NewEngine()
	registry := rules.NewRegistry(0)
	sink := eventsink.New(16)
	return New(repo, rulesEng, registry, nil, nil, nil, nil, sink, nil), repo
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndListRules(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Router()

	rec := doRequest(t, h, http.MethodPost, "/rules", map[string]any{
		"name": "block-admin", "scope": "request", "match_type": "url",
		"pattern": "/admin", "action": "block", "priority": 10, "enabled": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, "/rules", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []rules.Rule
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].Name != "block-admin" {
		t.Fatalf("unexpected rules list: %+v", got)
	}
}

func TestDeleteRuleReturnsNoContent(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Router()

	rec := doRequest(t, h, http.MethodPost, "/rules", map[string]any{
		"name": "x", "scope": "both", "match_type": "url", "action": "block", "enabled": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created rules.Rule
	json.Unmarshal(rec.Body.Bytes(), &created)

	rec = doRequest(t, h, http.MethodDelete, "/rules/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestTargetsSitemapEmptyHistory(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Router()

	rec := doRequest(t, h, http.MethodGet, "/targets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no targets with empty history, got %v", got)
	}
}

func TestListBuiltinPayloads(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Router()

	rec := doRequest(t, h, http.MethodGet, "/intruder/payloads", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
