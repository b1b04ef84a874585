package rules

import (
	"testing"

	"intercept/internal/exchange"
)

func header(pairs ...string) exchange.Header {
	var h exchange.Header
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Add(pairs[i], pairs[i+1])
	}
	return h
}

func TestEvaluateReplaceURL(t *testing.T) {
	e := NewEngine()
	if err := e.Load([]Rule{
		{Name: "swap-host", Scope: ScopeRequest, MatchType: MatchURL, Pattern: "old.example.com", Action: ActionReplace, ActionValue: "new.example.com", Priority: 10, Enabled: true},
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	target := &Target{URL: "http://old.example.com/path"}
	if blocked := e.Evaluate(ScopeRequest, target); blocked != nil {
		t.Fatalf("unexpected block: %+v", blocked)
	}
	if target.URL != "http://new.example.com/path" {
		t.Fatalf("unexpected rewritten URL: %q", target.URL)
	}
}

func TestEvaluateAddAndRemoveHeader(t *testing.T) {
	e := NewEngine()
	if err := e.Load([]Rule{
		{Name: "strip-auth", Scope: ScopeBoth, MatchType: MatchURL, Pattern: "", Action: ActionRemoveHeader, ActionName: "Authorization", Priority: 20, Enabled: true},
		{Name: "tag", Scope: ScopeBoth, MatchType: MatchURL, Pattern: "", Action: ActionAddHeader, ActionName: "X-Intercepted", ActionValue: "1", Priority: 10, Enabled: true},
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	target := &Target{Headers: header("Authorization", "Bearer xyz")}
	e.Evaluate(ScopeRequest, target)

	if _, ok := target.Headers.Get("Authorization"); ok {
		t.Fatal("expected Authorization header to be removed")
	}
	if v, _ := target.Headers.Get("X-Intercepted"); v != "1" {
		t.Fatalf("expected tag header to be added, got %q", v)
	}
}

func TestEvaluateBlockShortCircuitsOnFirstMatch(t *testing.T) {
	e := NewEngine()
	if err := e.Load([]Rule{
		{Name: "block-admin", Scope: ScopeRequest, MatchType: MatchURL, Pattern: "/admin", Action: ActionBlock, Priority: 100, Enabled: true},
		{Name: "tag", Scope: ScopeRequest, MatchType: MatchURL, Pattern: "", Action: ActionAddHeader, ActionName: "X-Tag", ActionValue: "1", Priority: 1, Enabled: true},
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	target := &Target{URL: "http://x/admin/panel"}
	blocked := e.Evaluate(ScopeRequest, target)
	if blocked == nil || blocked.Rule.Name != "block-admin" {
		t.Fatalf("expected block-admin to fire, got %+v", blocked)
	}
}

func TestEvaluateDisabledRuleIsSkipped(t *testing.T) {
	e := NewEngine()
	if err := e.Load([]Rule{
		{Name: "disabled", Scope: ScopeRequest, MatchType: MatchURL, Pattern: "x", Action: ActionBlock, Priority: 100, Enabled: false},
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	target := &Target{URL: "http://x/"}
	if blocked := e.Evaluate(ScopeRequest, target); blocked != nil {
		t.Fatal("disabled rule should never fire")
	}
}

func TestEvaluateRegexReplace(t *testing.T) {
	e := NewEngine()
	if err := e.Load([]Rule{
		{Name: "mask-token", Scope: ScopeResponse, MatchType: MatchBody, Pattern: `token=[a-z0-9]+`, IsRegex: true, Action: ActionReplace, ActionValue: "token=REDACTED", Priority: 1, Enabled: true},
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	target := &Target{Body: []byte("session token=abc123 ok")}
	e.Evaluate(ScopeResponse, target)
	if string(target.Body) != "session token=REDACTED ok" {
		t.Fatalf("unexpected body after regex replace: %q", target.Body)
	}
}

func TestEvaluateReplaceUsesActionTargetNotPattern(t *testing.T) {
	e := NewEngine()
	if err := e.Load([]Rule{
		{Name: "swap-env", Scope: ScopeRequest, MatchType: MatchURL, Pattern: "/checkout", Action: ActionReplace, ActionTarget: "staging", ActionValue: "prod", Priority: 10, Enabled: true},
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	target := &Target{URL: "http://staging.example.com/checkout"}
	e.Evaluate(ScopeRequest, target)
	if target.URL != "http://prod.example.com/checkout" {
		t.Fatalf("expected ActionTarget literal to be rewritten, got %q", target.URL)
	}
}

func TestEvaluateReplaceFallsBackToPatternWhenActionTargetEmpty(t *testing.T) {
	e := NewEngine()
	if err := e.Load([]Rule{
		{Name: "swap-host", Scope: ScopeRequest, MatchType: MatchURL, Pattern: "old.example.com", Action: ActionReplace, ActionValue: "new.example.com", Priority: 10, Enabled: true},
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	target := &Target{URL: "http://old.example.com/path"}
	e.Evaluate(ScopeRequest, target)
	if target.URL != "http://new.example.com/path" {
		t.Fatalf("unexpected rewritten URL: %q", target.URL)
	}
}

func TestPriorityOrdering(t *testing.T) {
	e := NewEngine()
	if err := e.Load([]Rule{
		{Name: "low", Scope: ScopeBoth, MatchType: MatchURL, Pattern: "", Action: ActionAddHeader, ActionName: "X-Order", ActionValue: "low", Priority: 1, Enabled: true},
		{Name: "high", Scope: ScopeBoth, MatchType: MatchURL, Pattern: "", Action: ActionAddHeader, ActionName: "X-Order", ActionValue: "high", Priority: 100, Enabled: true},
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := e.Snapshot()
	if snap[0].Name != "high" {
		t.Fatalf("expected higher priority rule first, got %+v", snap)
	}
}
