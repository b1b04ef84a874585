package rules

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"intercept/internal/exchange"
)

// DecisionKind names the externally delivered intercept decision.
type DecisionKind string

const (
	DecisionForward         DecisionKind = "forward"
	DecisionForwardModified DecisionKind = "forward_modified"
	DecisionDrop            DecisionKind = "drop"
)

// Decision is what an operator (or the default timeout) delivers for a
// held message.
type Decision struct {
	Kind    DecisionKind
	Status  int // forward_modified, response only
	Headers exchange.Header
	Body    []byte
}

// held is one message parked in the registry awaiting a decision. The
// decision channel is closed exactly once, mirroring the one-shot
// kill-channel idiom used elsewhere for single-delivery signals.
type held struct {
	decisionOnce sync.Once
	decision     chan Decision
}

func newHeld() *held {
	return &held{decision: make(chan Decision, 1)}
}

// deliver sends a decision if none has been delivered yet; later calls
// are no-ops, making decisions idempotent.
func (h *held) deliver(d Decision) {
	h.decisionOnce.Do(func() {
		h.decision <- d
	})
}

// Registry holds messages paused for operator inspection, keyed by a
// fresh intercept id per hold.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*held

	// Timeout is the default decision when nothing is delivered before
	// it elapses: timeout behaves as forward.
	Timeout time.Duration
}

func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Registry{entries: make(map[string]*held), Timeout: timeout}
}

// Hold registers t for operator inspection and blocks until a decision
// is delivered, the timeout elapses (treated as forward), or ctx is
// canceled (treated as forward, as proxy shutdown must not hang a
// client indefinitely).
//
// onHold is invoked with the fresh intercept id before blocking, so the
// caller can emit the intercept event with the id already assigned.
func (r *Registry) Hold(ctx context.Context, onHold func(interceptID string)) Decision {
	id := uuid.NewString()
	h := newHeld()

	r.mu.Lock()
	r.entries[id] = h
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.entries, id)
		r.mu.Unlock()
	}()

	if onHold != nil {
		onHold(id)
	}

	timer := time.NewTimer(r.Timeout)
	defer timer.Stop()

	select {
	case d := <-h.decision:
		return d
	case <-timer.C:
		return Decision{Kind: DecisionForward}
	case <-ctx.Done():
		return Decision{Kind: DecisionForward}
	}
}

// Decide delivers a decision for a held intercept id. Returns false if
// no such id is currently held (already decided, or never existed).
func (r *Registry) Decide(interceptID string, d Decision) bool {
	r.mu.Lock()
	h, ok := r.entries[interceptID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	h.deliver(d)
	return true
}

// Purge delivers a forced drop decision to every currently held
// message. Called on proxy stop, since the registry is purged when
// the proxy stops.
func (r *Registry) Purge() {
	r.mu.Lock()
	entries := make([]*held, 0, len(r.entries))
	for _, h := range r.entries {
		entries = append(entries, h)
	}
	r.mu.Unlock()

	for _, h := range entries {
		h.deliver(Decision{Kind: DecisionDrop})
	}
}

// Len reports how many messages are currently held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
