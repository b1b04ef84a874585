package rules

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"intercept/internal/exchange"
)

// Target is the mutable view of one message half (request or response)
// that the rule engine rewrites in place.
type Target struct {
	Method  string // set for requests, empty for responses
	URL     string // set for requests, empty for responses
	Headers exchange.Header
	Body    []byte
}

// compiledRule caches the regex (if any) so hot-path evaluation never
// recompiles a pattern.
type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// Engine holds the ordered rule set and evaluates it against each
// message half.
type Engine struct {
	mu    sync.RWMutex
	rules []compiledRule
}

func NewEngine() *Engine {
	return &Engine{}
}

// Load replaces the rule set wholesale, compiling regex rules eagerly
// and sorting by descending priority.
func (e *Engine) Load(rules []Rule) error {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{Rule: r}
		if r.IsRegex {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return err
			}
			cr.re = re
		}
		compiled = append(compiled, cr)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()

	slog.Info("rule engine loaded", "component", "rules", "count", len(compiled))
	return nil
}

// Snapshot returns the current rule set, highest priority first.
func (e *Engine) Snapshot() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	for i, cr := range e.rules {
		out[i] = cr.Rule
	}
	return out
}

// Blocked is returned by Evaluate when a block rule fired.
type Blocked struct {
	Rule Rule
}

// Evaluate applies every enabled rule whose scope includes stage, in
// descending priority order, mutating t in place. Returns the blocking
// rule if one fired a "block" action — the caller must synthesise the
// 403 and never forward.
func (e *Engine) Evaluate(stage Scope, t *Target) *Blocked {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, cr := range rules {
		if !cr.Enabled || !cr.appliesTo(stage) {
			continue
		}
		if cr.Action == ActionBlock {
			if e.matches(cr, t) {
				return &Blocked{Rule: cr.Rule}
			}
			continue
		}
		e.apply(cr, t)
	}
	return nil
}

func (e *Engine) matches(cr compiledRule, t *Target) bool {
	switch cr.MatchType {
	case MatchMethod:
		return e.fieldMatches(cr, t.Method)
	case MatchURL:
		return e.fieldMatches(cr, t.URL)
	case MatchHeader:
		v, ok := t.Headers.Get(cr.MatchHeader)
		return ok && e.fieldMatches(cr, v)
	case MatchBody:
		return e.fieldMatches(cr, string(t.Body))
	default:
		return false
	}
}

func (e *Engine) fieldMatches(cr compiledRule, field string) bool {
	if cr.re != nil {
		return cr.re.MatchString(field)
	}
	return strings.Contains(field, cr.Pattern)
}

// apply performs a non-block action's rewrite when the rule matches t.
// replace touches whichever field MatchType names; add_header/remove_header
// always touch headers.
func (e *Engine) apply(cr compiledRule, t *Target) {
	if !e.matches(cr, t) {
		return
	}
	switch cr.Action {
	case ActionReplace:
		switch cr.MatchType {
		case MatchURL:
			t.URL = e.rewrite(cr, t.URL)
		case MatchBody:
			t.Body = []byte(e.rewrite(cr, string(t.Body)))
		case MatchHeader:
			for i, f := range t.Headers {
				if strings.EqualFold(f.Name, cr.MatchHeader) {
					t.Headers[i].Value = e.rewrite(cr, f.Value)
				}
			}
		}
	case ActionAddHeader:
		t.Headers.Add(cr.ActionName, cr.ActionValue)
	case ActionRemoveHeader:
		t.Headers.RemoveAll(cr.ActionName)
	}
}

// rewrite performs the substitution for a replace action. The match
// predicate (Pattern, or the regex compiled from it) decides whether the
// rule fires at all. A regex rule replaces every match of that regex and
// does not consult ActionTarget. For a literal rule, ActionTarget, not
// Pattern, names what gets replaced, so a rule can match on one substring
// and rewrite a different one entirely. ActionTarget defaults to Pattern
// when unset, which keeps old-style rules — where matching and replacing
// were the same literal — working unchanged.
func (e *Engine) rewrite(cr compiledRule, field string) string {
	if cr.re != nil {
		return cr.re.ReplaceAllString(field, cr.ActionValue)
	}
	target := cr.ActionTarget
	if target == "" {
		target = cr.Pattern
	}
	return strings.ReplaceAll(field, target, cr.ActionValue)
}
