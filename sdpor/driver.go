// Package sdpor implements the Source-DPOR-with-sleep-sets exploration
// driver: Explore(state, trace, sleep) performs the depth-first,
// backtrack-set-guided search that decides data-race reachability
// (spec.md §4.4). It owns scheduling entirely; interp.Step never chooses
// which thread runs, only this package does (spec.md §9: "keep
// scheduling and execution strictly separate").
//
// Grounded directly on
// original_source/slowbeast/symexe/threads/interpreterSDPOR.py's
// `explore`/`dependent_threads`/`get_enabled_threads`, restructured to
// match spec.md §4.4's pseudocode precisely (the Python source's
// `dependent_threads` hypothetically appends a throwaway action to check
// a causal edge; `dependentWithLast` here does the same thing through
// `trace.DependsOnLast` without actually mutating the trace).
package sdpor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lookbusy1344/sbrace/interp"
	"github.com/lookbusy1344/sbrace/solver"
	"github.com/lookbusy1344/sbrace/state"
	"github.com/lookbusy1344/sbrace/symval"
	"github.com/lookbusy1344/sbrace/trace"
)

// Mode selects whether exploration halts on the first data race found or
// keeps enumerating every race reachable from the initial state (spec.md
// §9's open question, CLI-exposed per SPEC_FULL.md §4.4 as
// -explore-mode).
type Mode int

const (
	ModeFirst Mode = iota
	ModeAll
)

// Driver owns everything Explore needs to step the interpreter and
// report terminal states, threaded explicitly rather than held in
// package globals (spec.md §9).
type Driver struct {
	IDs     *state.IDAllocator
	Mgr     *symval.Manager
	Solver  solver.Solver
	Timeout time.Duration
	Mode    Mode
	// Parallelism bounds how many backtrack-set choices from the same
	// prefix may be explored concurrently (SPEC_FULL.md §5's
	// sibling-subtree parallelism). 0 or 1 means fully sequential.
	Parallelism int
	// OnTerminal is called for every terminal state Explore reaches
	// (Exited, Terminated, Killed, Error, or deadlocked) — an
	// observability hook, never consulted for the verdict itself.
	OnTerminal func(s *state.State, tr *trace.Trace)
	// OnProgress is called after every appended action, for -live-addr's
	// streaming progress events (SPEC_FULL.md §6). Also an observability
	// hook, never consulted for the verdict.
	OnProgress func(depth, tid, racistSize int, raceFound bool)

	foundMu sync.Mutex
	found   bool
}

func (d *Driver) raceFound() bool {
	d.foundMu.Lock()
	defer d.foundMu.Unlock()
	return d.found
}

func (d *Driver) markFound() {
	d.foundMu.Lock()
	d.found = true
	d.foundMu.Unlock()
}

func (d *Driver) reportTerminal(s *state.State, tr *trace.Trace) {
	if d.OnTerminal != nil {
		d.OnTerminal(s, tr)
	}
}

// Explore implements spec.md §4.4's explore(state, sleep) algorithm. tr
// is the trace owned by the caller and mutated in place (appended to and
// trimmed); sleep is this recursion's sleep set.
func (d *Driver) Explore(ctx context.Context, s *state.State, tr *trace.Trace, sleep map[int]bool) error {
	if d.Mode == ModeFirst && d.raceFound() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if s.Kind != state.KindReady {
		d.reportTerminal(s, tr)
		return nil
	}

	enabled := s.EnabledThreads()
	if len(enabled) == 0 {
		d.reportTerminal(s, tr)
		return nil
	}

	usable := diffSlice(enabled, sleep)
	if len(usable) == 0 {
		return nil
	}

	// Step 4: seed the current prefix's backtrack set with any one
	// usable thread (smallest tid, for reproducibility).
	tr.AddToPrefixBacktrack(tr.Len()-1, usable[0])

	unavailable := make(map[int]bool)
	if d.Parallelism > 1 {
		return d.exploreParallel(ctx, s, tr, sleep, unavailable)
	}
	return d.exploreSequential(ctx, s, tr, sleep, unavailable)
}

func (d *Driver) exploreSequential(ctx context.Context, s *state.State, tr *trace.Trace, sleep, unavailable map[int]bool) error {
	for {
		if d.Mode == ModeFirst && d.raceFound() {
			return nil
		}
		t, ok := pickBacktrack(tr.GetBacktrack(tr.Len()), sleep, unavailable)
		if !ok {
			return nil
		}
		if !containsInt(s.EnabledThreads(), t) {
			unavailable[t] = true
			continue
		}
		if err := d.runChoice(ctx, s, tr, sleep, t); err != nil {
			return err
		}
		sleep[t] = true
	}
}

// exploreParallel dispatches the distinct backtrack-set choices of this
// prefix onto a bounded worker pool, each owning its own cloned trace
// (SPEC_FULL.md §5: legal because distinct choices from the same prefix
// explore disjoint subtrees).
func (d *Driver) exploreParallel(ctx context.Context, s *state.State, tr *trace.Trace, sleep, unavailable map[int]bool) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(d.Parallelism)

	var mu sync.Mutex
	localSleep := make(map[int]bool, len(sleep))
	for k, v := range sleep {
		localSleep[k] = v
	}

	for {
		if d.Mode == ModeFirst && d.raceFound() {
			break
		}
		mu.Lock()
		t, ok := pickBacktrack(tr.GetBacktrack(tr.Len()), localSleep, unavailable)
		if ok {
			localSleep[t] = true
		}
		mu.Unlock()
		if !ok {
			break
		}
		if !containsInt(s.EnabledThreads(), t) {
			mu.Lock()
			unavailable[t] = true
			mu.Unlock()
			continue
		}
		workerTrace := tr.Clone()
		workerSleep := make(map[int]bool, len(sleep))
		mu.Lock()
		for k, v := range sleep {
			workerSleep[k] = v
		}
		mu.Unlock()
		eg.Go(func() error {
			return d.runChoice(egCtx, s, workerTrace, workerSleep, t)
		})
	}
	return eg.Wait()
}

// runChoice implements step 5.b of spec.md §4.4 for one chosen tid.
func (d *Driver) runChoice(ctx context.Context, s *state.State, tr *trace.Trace, sleep map[int]bool, t int) error {
	res, err := interp.Step(ctx, d.IDs, d.Mgr, d.Solver, d.Timeout, s, t)
	if err != nil {
		return err
	}
	for _, succ := range res.Successors {
		// tr.DataRace latches once raised (spec.md §4.3: a one-time halt
		// signal), so only a false→true transition at this specific
		// Append marks a *new* race. ModeAll clears it again after
		// trimming the racing action so that a later race is seen.
		wasRace := tr.DataRace
		tr.Append(t, res.Instr, res.Meta)
		idx := tr.Len() - 1

		if d.OnProgress != nil {
			d.OnProgress(idx, t, len(tr.RacistSet(idx)), tr.DataRace)
		}

		if !wasRace && tr.DataRace {
			succ.Kind = state.KindError
			succ.ErrKind = state.ErrMemoryDataRace
			succ.Reason = "data race"
			d.reportTerminal(succ, tr)
			d.markFound()
			tr.Trim()
			if d.Mode == ModeFirst {
				return nil
			}
			tr.DataRace = false
			continue
		}

		// Step 5.b: reverse each race against idx by reseeding the
		// decision that produced the racist action r itself (its
		// pre(e') state, backtrack[r]) with a thread independent of
		// everything already committed at that point — not the
		// decision one step later, which would reseed post(e') and
		// never commit the reversed interleaving.
		for _, r := range tr.RacistSet(idx) {
			indep := tr.IndependentSuffixSet(r)
			bPrime := tr.GetBacktrack(r)
			if disjoint(indep, bPrime) {
				if tPrime, ok := anyElem(indep); ok {
					tr.AddToPrefixBacktrack(r-1, tPrime)
				}
			}
		}

		newSleep := make(map[int]bool, len(sleep))
		for q := range sleep {
			if !d.dependentWithLast(ctx, tr, succ, q) {
				newSleep[q] = true
			}
		}

		if err := d.Explore(ctx, succ, tr, newSleep); err != nil {
			tr.Trim()
			return err
		}
		tr.Trim()
	}
	return nil
}

// dependentWithLast decides dependent_with_last(q) (spec.md §4.4): q
// must be enabled in succ, and stepping q next must be dependent on the
// action just appended. Stepping q is a read-only probe — its
// successors are discarded, only the executed instruction/meta are used
// to evaluate the dependency against the trace's last action.
func (d *Driver) dependentWithLast(ctx context.Context, tr *trace.Trace, succ *state.State, q int) bool {
	if !containsInt(succ.EnabledThreads(), q) {
		return false
	}
	res, err := interp.Step(ctx, d.IDs, d.Mgr, d.Solver, d.Timeout, succ, q)
	if err != nil || len(res.Successors) == 0 {
		// Conservative: treat as dependent so q is never wrongly put to
		// sleep when the probe itself is inconclusive.
		return true
	}
	return tr.DependsOnLast(q, res.Instr, res.Meta)
}

func diffSlice(a []int, sleep map[int]bool) []int {
	var out []int
	for _, v := range a {
		if !sleep[v] {
			out = append(out, v)
		}
	}
	return out
}

func containsInt(a []int, v int) bool {
	for _, x := range a {
		if x == v {
			return true
		}
	}
	return false
}

func disjoint(a, b map[int]bool) bool {
	for k := range a {
		if b[k] {
			return false
		}
	}
	return true
}

func anyElem(m map[int]bool) (int, bool) {
	for k := range m {
		return k, true
	}
	return 0, false
}

// pickBacktrack chooses the smallest tid in backtrack that is neither
// asleep nor marked unavailable (spec.md §4.4 step 5.a: "any element
// suffices"; smallest-tid is the deterministic rule for reproducibility).
func pickBacktrack(backtrack, sleep, unavailable map[int]bool) (int, bool) {
	best := 0
	found := false
	for t := range backtrack {
		if sleep[t] || unavailable[t] {
			continue
		}
		if !found || t < best {
			best = t
			found = true
		}
	}
	return best, found
}
