// Package eventsink fans out engine progress/result events to the
// transport layer over a multiplexed WebSocket stream, using
// coder/websocket for the operator event feed.
package eventsink

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Event types emitted across the workbench.
const (
	TypeNewRequest       = "new_request"
	TypeIntercept        = "intercept"
	TypeProxyStatus      = "proxy_status"
	TypeIntruderProgress = "intruder_progress"
	TypeIntruderResult   = "intruder_result"
	TypeSpiderProgress   = "spider_progress"
	TypeSpiderURL        = "spider_url"
	TypeScanProgress     = "scan_progress"
)

// Event is one multiplexed envelope delivered to every connected
// subscriber.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Sink is a multi-producer, multi-consumer event broadcaster. Backpressure
// policy is drop-on-full per subscriber: a slow operator UI never stalls
// the engine producing events, and lost events never affect captured
// data.
type Sink struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	bufferSize  int
}

type subscriber struct {
	ch chan Event
}

// New creates a Sink whose per-subscriber buffer holds bufferSize
// events before it starts dropping the newest arrivals.
func New(bufferSize int) *Sink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Sink{subscribers: make(map[*subscriber]struct{}), bufferSize: bufferSize}
}

// Publish emits an event to every current subscriber. Non-blocking.
func (s *Sink) Publish(eventType string, data any) {
	ev := Event{Type: eventType, Data: data}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for sub := range s.subscribers {
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("event sink dropped event", "component", "eventsink", "type", eventType)
		}
	}
}

func (s *Sink) subscribe() *subscriber {
	sub := &subscriber{ch: make(chan Event, s.bufferSize)}
	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

func (s *Sink) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	delete(s.subscribers, sub)
	s.mu.Unlock()
	close(sub.ch)
}

// SubscriberCount reports how many WebSocket clients are currently
// attached, for /proxy/status diagnostics.
func (s *Sink) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// ServeHTTP upgrades the connection and streams JSON-encoded envelopes
// until the client disconnects or ctx is canceled.
func (s *Sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin is not checked: any origin may subscribe
	})
	if err != nil {
		slog.Warn("event sink accept failed", "component", "eventsink", "error", err)
		return
	}
	defer conn.CloseNow()

	sub := s.subscribe()
	defer s.unsubscribe(sub)

	ctx := r.Context()
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case ev, ok := <-sub.ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				slog.Error("event sink marshal failed", "component", "eventsink", "error", err)
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
