// Package engine owns the per-invocation Session: the object that wires
// together the IR, the symbolic-value manager, the solver, the memory
// model, and the config, and exposes the single top-level Explore
// entrypoint the CLI calls (SPEC_FULL.md GLOSSARY, "Session").
//
// Grounded on the teacher's main.go, which does exactly this wiring
// inline (build a *vm.VM, attach tracing/statistics collaborators, run
// to completion, collect results) — Session is that wiring extracted
// into a reusable, non-global-state object so a caller other than one
// CLI binary (e.g. a future test harness) can drive it too.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lookbusy1344/sbrace/config"
	"github.com/lookbusy1344/sbrace/internal/obslog"
	"github.com/lookbusy1344/sbrace/ir"
	"github.com/lookbusy1344/sbrace/memmodel"
	"github.com/lookbusy1344/sbrace/sdpor"
	"github.com/lookbusy1344/sbrace/solver"
	"github.com/lookbusy1344/sbrace/state"
	"github.com/lookbusy1344/sbrace/symval"
	"github.com/lookbusy1344/sbrace/trace"
)

// Property is the closed set the CLI's -check flag selects from
// (spec.md §6).
type Property string

const (
	PropertyNoDataRace Property = "no-data-race"
	PropertyAssert     Property = "assert"
)

// Session owns one exploration's collaborators, threaded explicitly
// rather than held in package globals (spec.md §9).
type Session struct {
	Config   *config.Config
	Program  *ir.Program
	Property Property

	// Logger receives tier-3 diagnostics and, at LevelDebug or finer,
	// per-step driver tracing. Defaults to obslog.Discard.
	Logger obslog.Logger
	// OnProgress, if set, is called after every appended action with
	// (depth, tid, racist-set size, race-found-so-far) — for
	// -live-addr's streaming progress events. Never consulted for the
	// verdict.
	OnProgress func(depth, tid, racistSize int, raceFound bool)

	ids *state.IDAllocator
	mgr *symval.Manager
	sol solver.Solver
}

// NewSession builds a Session from a loaded program and a resolved
// config. cfg must not be nil; pass config.DefaultConfig() for the
// CLI's unconfigured defaults.
func NewSession(cfg *config.Config, prog *ir.Program, property Property) *Session {
	return &Session{
		Config:   cfg,
		Program:  prog,
		Property: property,
		Logger:   obslog.Discard,
		ids:      state.NewIDAllocator(),
		mgr:      symval.NewManager(),
		sol:      solver.NewConcrete(),
	}
}

// Result is the summary Explore returns: the CLI's output.log banner
// and verdict line, and the -stats report, are both built from this.
type Result struct {
	Property     Property
	Violated     bool // the checked property was falsified on some trace
	Inconclusive bool // a Killed, deadlocked, or other-Error terminal was reached
	Reason       string

	TracesExplored    int
	RacistEdgesSeen   int
	MaxBacktrackSize  int
	Elapsed           time.Duration
}

// ExitCode maps Result onto spec.md §6's exit code contract: 0 holds,
// 1 violated, 2 inconclusive.
func (r *Result) ExitCode() int {
	switch {
	case r.Violated:
		return 1
	case r.Inconclusive:
		return 2
	default:
		return 0
	}
}

// Explore runs the SDPOR driver to completion (or until ctx is
// cancelled) and classifies every terminal state it reaches against
// the Session's Property.
func (s *Session) Explore(ctx context.Context) (*Result, error) {
	mem := memmodel.NewSimple()
	initial, err := state.New(s.ids, s.Program, mem)
	if err != nil {
		return nil, fmt.Errorf("building initial state: %w", err)
	}

	mode := sdpor.ModeFirst
	if s.Config.Execution.ExploreMode == "all" {
		mode = sdpor.ModeAll
	}

	var mu sync.Mutex
	result := &Result{Property: s.Property}

	driver := &sdpor.Driver{
		IDs:         s.ids,
		Mgr:         s.mgr,
		Solver:      s.sol,
		Timeout:     s.Config.Timeout(),
		Mode:        mode,
		Parallelism: s.Config.Execution.Parallelism,
	}
	driver.OnTerminal = func(st *state.State, tr *trace.Trace) {
		mu.Lock()
		defer mu.Unlock()
		result.TracesExplored++
		for i := 0; i < tr.Len(); i++ {
			result.RacistEdgesSeen += len(tr.RacistSet(i))
			if n := len(tr.GetBacktrack(i)); n > result.MaxBacktrackSize {
				result.MaxBacktrackSize = n
			}
		}
		classifyTerminal(st, s.Property, result)
		s.Logger.Debug().Int("traces_explored", result.TracesExplored).Bool("violated", result.Violated).Msg("terminal state reached")
	}
	driver.OnProgress = func(depth, tid, racistSize int, raceFound bool) {
		s.Logger.Trace().Int("depth", depth).Int("tid", tid).Int("racist_size", racistSize).Bool("race_found", raceFound).Msg("step")
		if s.OnProgress != nil {
			s.OnProgress(depth, tid, racistSize, raceFound)
		}
	}

	start := time.Now()
	err = driver.Explore(ctx, initial, trace.New(), map[int]bool{})
	result.Elapsed = time.Since(start)
	if err != nil {
		s.Logger.Error().Err(err).Msg("exploration aborted")
		return result, fmt.Errorf("exploration aborted: %w", err)
	}
	return result, nil
}

// classifyTerminal updates result in place for one terminal state,
// implementing the boundary behaviors of spec.md §8: a data race or
// assertion failure violates the checked property; a Killed state, a
// deadlock, or any other Error violates nothing but leaves the verdict
// inconclusive, since that path's outcome under the checked property is
// unknown.
func classifyTerminal(st *state.State, property Property, result *Result) {
	switch st.Kind {
	case state.KindError:
		switch {
		case property == PropertyNoDataRace && st.ErrKind == state.ErrMemoryDataRace:
			result.Violated = true
			result.Reason = "data race"
		case property == PropertyAssert && st.ErrKind == state.ErrAssertion:
			result.Violated = true
			result.Reason = "assertion failure"
		default:
			result.Inconclusive = true
			if result.Reason == "" {
				result.Reason = st.ErrKind.String()
			}
		}
	case state.KindKilled:
		result.Inconclusive = true
		if result.Reason == "" {
			result.Reason = st.Reason
		}
	case state.KindReady:
		// Explore only reports a KindReady terminal when no thread is
		// enabled: either every thread exited (fine) or at least one is
		// stuck Paused (a deadlock, spec.md §4.6).
		if st.IsDeadlock() {
			result.Inconclusive = true
			if result.Reason == "" {
				result.Reason = "Deadlock"
			}
		}
	}
}
