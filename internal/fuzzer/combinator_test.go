package fuzzer

import (
	"context"
	"testing"

	"intercept/internal/repository"
)

func drain(t *testing.T, mode string, positions []repository.Position, sets [][]string) []combination {
	t.Helper()
	ch := make(chan combination, 256)
	if err := generate(context.Background(), mode, positions, sets, ch); err != nil {
		t.Fatalf("generate: %v", err)
	}
	var out []combination
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestCountOfSniper(t *testing.T) {
	positions := []repository.Position{{Start: 0, End: 1}, {Start: 2, End: 3}}
	sets := [][]string{{"a", "b"}, {"c", "d", "e"}}
	n, err := countOf(ModeSniper, positions, sets)
	if err != nil {
		t.Fatalf("countOf: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 2+3=5, got %d", n)
	}
	combos := drain(t, ModeSniper, positions, sets)
	if int64(len(combos)) != n {
		t.Fatalf("expected %d combinations, got %d", n, len(combos))
	}
}

func TestCountOfBatteringRam(t *testing.T) {
	positions := []repository.Position{{Start: 0, End: 1}, {Start: 2, End: 3}}
	sets := [][]string{{"a", "b", "c"}}
	n, err := countOf(ModeBatteringRam, positions, sets)
	if err != nil {
		t.Fatalf("countOf: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
	combos := drain(t, ModeBatteringRam, positions, sets)
	for _, c := range combos {
		if *c.payloads[0] != *c.payloads[1] {
			t.Fatalf("battering ram should set identical payloads across positions, got %q vs %q", *c.payloads[0], *c.payloads[1])
		}
	}
}

func TestCountOfPitchforkUsesShortestSet(t *testing.T) {
	positions := []repository.Position{{Start: 0, End: 1}, {Start: 2, End: 3}}
	sets := [][]string{{"a", "b", "c"}, {"x", "y"}}
	n, err := countOf(ModePitchfork, positions, sets)
	if err != nil {
		t.Fatalf("countOf: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected shortest-set length 2, got %d", n)
	}
}

func TestCountOfClusterBombIsCartesianProduct(t *testing.T) {
	positions := []repository.Position{{Start: 0, End: 1}, {Start: 2, End: 3}}
	sets := [][]string{{"a", "b"}, {"x", "y", "z"}}
	n, err := countOf(ModeClusterBomb, positions, sets)
	if err != nil {
		t.Fatalf("countOf: %v", err)
	}
	if n != 6 {
		t.Fatalf("expected 2*3=6, got %d", n)
	}
	combos := drain(t, ModeClusterBomb, positions, sets)
	if len(combos) != 6 {
		t.Fatalf("expected 6 combinations, got %d", len(combos))
	}
}

func TestCountOfUnknownMode(t *testing.T) {
	if _, err := countOf("bogus", nil, nil); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestSetForReusesLastSetWhenFewerSetsThanPositions(t *testing.T) {
	sets := [][]string{{"a"}, {"b"}}
	if got := setFor(sets, 0); got[0] != "a" {
		t.Fatalf("expected set a, got %v", got)
	}
	if got := setFor(sets, 5); got[0] != "b" {
		t.Fatalf("expected fallback to last set, got %v", got)
	}
}
