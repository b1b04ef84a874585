// Package exchange holds the types shared by the proxy core, the rule
// engine, and every active-testing engine: a captured request/response
// pair and its mutation budget. Rewrite rules live in package rules.
package exchange

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Header is an ordered, case-insensitive-matched, duplicate-tolerant
// multimap, matching the wire representation of HTTP headers.
type Header []HeaderField

type HeaderField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Get returns the first value matching name case-insensitively, and
// whether it was found.
func (h Header) Get(name string) (string, bool) {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Values returns all values matching name case-insensitively.
func (h Header) Values(name string) []string {
	var out []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Add appends a field without deduplicating.
func (h *Header) Add(name, value string) {
	*h = append(*h, HeaderField{Name: name, Value: value})
}

// RemoveAll drops every field matching name case-insensitively, returning
// the number removed.
func (h *Header) RemoveAll(name string) int {
	out := (*h)[:0]
	removed := 0
	for _, f := range *h {
		if strings.EqualFold(f.Name, name) {
			removed++
			continue
		}
		out = append(out, f)
	}
	*h = out
	return removed
}

func (h Header) Clone() Header {
	out := make(Header, len(h))
	copy(out, h)
	return out
}

// Request is the request half of an Exchange.
type Request struct {
	Method      string `json:"method"`
	URL         string `json:"url"` // absolute URL as seen by the proxy
	Host        string `json:"host"`
	PathQuery   string `json:"path_query"`
	Scheme      string `json:"scheme"`
	Headers     Header `json:"headers"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
}

// Response is the response half of an Exchange. Absent for dropped or
// CONNECT-only exchanges.
type Response struct {
	Status      int    `json:"status"`
	Headers     Header `json:"headers"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
	ElapsedMs   int64  `json:"elapsed_ms"`
}

// Exchange is the atomic unit of captured traffic.
type Exchange struct {
	ID           string     `json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	Request      Request    `json:"request"`
	Response     *Response  `json:"response,omitempty"`
	Intercepted  bool       `json:"intercepted"`
	Modified     bool       `json:"modified"`
	IsTunnel     bool       `json:"is_tunnel"`
	Tag          string     `json:"tag,omitempty"`
}

// NewExchange starts the lifecycle of an Exchange at first-byte-parsed.
func NewExchange(req Request) *Exchange {
	return &Exchange{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Request:   req,
	}
}

// Mutation tracks the at-most-once mutation budget: a message may be
// mutated once by the rule engine and once by an operator intercept
// decision. It is not a lock — callers serialise access to one Exchange
// per in-flight request/response half.
type Mutation struct {
	mu           sync.Mutex
	ruleApplied  bool
	holdApplied  bool
}

// ApplyRule reports whether the rule-engine mutation slot is still free,
// and consumes it if so.
func (m *Mutation) ApplyRule() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ruleApplied {
		return false
	}
	m.ruleApplied = true
	return true
}

// ApplyHold reports whether the intercept-hold mutation slot is still
// free, and consumes it if so.
func (m *Mutation) ApplyHold() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holdApplied {
		return false
	}
	m.holdApplied = true
	return true
}
