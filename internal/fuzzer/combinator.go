package fuzzer

import "intercept/internal/repository"

// Attack modes.
const (
	ModeSniper       = "sniper"
	ModeBatteringRam = "battering_ram"
	ModePitchfork    = "pitchfork"
	ModeClusterBomb  = "cluster_bomb"
)

// combination is one set of payload choices to substitute into a template,
// aligned by index with the attack's Positions. A nil entry means "leave
// this position at its template baseline" (used by sniper).
type combination struct {
	payloads []*string
}

// setFor resolves which payload set backs position i. When fewer sets are
// supplied than positions, the last set is reused for the remainder:
// position i uses payload set min(i, len(sets)-1).
func setFor(sets [][]string, i int) []string {
	if i < len(sets) {
		return sets[i]
	}
	return sets[len(sets)-1]
}

func countOf(mode string, positions []repository.Position, sets [][]string) (int64, error) {
	switch mode {
	case ModeSniper:
		var total int64
		for i := range positions {
			total += int64(len(setFor(sets, i)))
		}
		return total, nil
	case ModeBatteringRam:
		return int64(len(sets[0])), nil
	case ModePitchfork:
		m := len(sets[0])
		for _, s := range sets[1:] {
			if len(s) < m {
				m = len(s)
			}
		}
		return int64(m), nil
	case ModeClusterBomb:
		total := int64(1)
		for _, s := range sets {
			total *= int64(len(s))
		}
		return total, nil
	default:
		return 0, errInvalidConfig("unknown attack mode: " + mode)
	}
}

// generate streams every combination for mode across ch, honoring ctx
// cancellation. It closes ch when done or canceled.
func generate(ctx stopper, mode string, positions []repository.Position, sets [][]string, ch chan<- combination) error {
	defer close(ch)
	switch mode {
	case ModeSniper:
		return generateSniper(ctx, positions, sets, ch)
	case ModeBatteringRam:
		return generateBatteringRam(ctx, positions, sets, ch)
	case ModePitchfork:
		return generatePitchfork(ctx, positions, sets, ch)
	case ModeClusterBomb:
		return generateClusterBomb(ctx, positions, sets, ch)
	default:
		return errInvalidConfig("unknown attack mode: " + mode)
	}
}

// stopper is the minimal surface generate needs from a context.Context,
// kept narrow so combinator.go doesn't import context just for Done().
type stopper interface {
	Done() <-chan struct{}
}

func send(ctx stopper, ch chan<- combination, c combination) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// generateSniper holds every position at its template baseline except
// one, which sweeps its payload set; repeated for every position in turn.
func generateSniper(ctx stopper, positions []repository.Position, sets [][]string, ch chan<- combination) error {
	for i := range positions {
		set := setFor(sets, i)
		for _, payload := range set {
			payloads := make([]*string, len(positions))
			p := payload
			payloads[i] = &p
			if !send(ctx, ch, combination{payloads: payloads}) {
				return nil
			}
		}
	}
	return nil
}

// generateBatteringRam substitutes the SAME payload into every position
// simultaneously, sweeping a single shared set.
func generateBatteringRam(ctx stopper, positions []repository.Position, sets [][]string, ch chan<- combination) error {
	set := sets[0]
	for _, payload := range set {
		payloads := make([]*string, len(positions))
		for i := range positions {
			p := payload
			payloads[i] = &p
		}
		if !send(ctx, ch, combination{payloads: payloads}) {
			return nil
		}
	}
	return nil
}

// generatePitchfork walks every position's set in lockstep, one index at a
// time, stopping at the shortest set.
func generatePitchfork(ctx stopper, positions []repository.Position, sets [][]string, ch chan<- combination) error {
	n, err := countOf(ModePitchfork, positions, sets)
	if err != nil {
		return err
	}
	for row := int64(0); row < n; row++ {
		payloads := make([]*string, len(positions))
		for i := range positions {
			p := setFor(sets, i)[row]
			payloads[i] = &p
		}
		if !send(ctx, ch, combination{payloads: payloads}) {
			return nil
		}
	}
	return nil
}

// generateClusterBomb produces the full cartesian product across every
// position's set using a mixed-radix counter, so memory stays O(positions)
// rather than materialising the whole product up front.
func generateClusterBomb(ctx stopper, positions []repository.Position, sets [][]string, ch chan<- combination) error {
	idx := make([]int, len(positions))
	for {
		payloads := make([]*string, len(positions))
		for i := range positions {
			p := setFor(sets, i)[idx[i]]
			payloads[i] = &p
		}
		if !send(ctx, ch, combination{payloads: payloads}) {
			return nil
		}

		pos := len(idx) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(setFor(sets, pos)) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			return nil
		}
	}
}
