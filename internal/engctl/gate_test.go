package engctl

import (
	"context"
	"testing"
	"time"
)

func TestGateWaitRunsImmediatelyByDefault(t *testing.T) {
	g := NewGate()
	done := make(chan struct{})
	go func() {
		g.Wait(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked on a fresh gate")
	}
}

func TestGatePauseBlocksWaitUntilResume(t *testing.T) {
	g := NewGate()
	g.Pause()

	done := make(chan struct{})
	go func() {
		g.Wait(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned while paused")
	case <-time.After(50 * time.Millisecond):
	}

	g.Resume()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait never returned after Resume")
	}
}

func TestGateWaitRespectsContextCancel(t *testing.T) {
	g := NewGate()
	g.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- g.Wait(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected context cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not observe context cancellation")
	}
}

func TestGatePauseAndResumeAreIdempotent(t *testing.T) {
	g := NewGate()
	g.Resume()
	g.Resume()
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	g.Pause()
	g.Pause()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx); err == nil {
		t.Fatal("expected Wait to still block after double Pause")
	}
}
