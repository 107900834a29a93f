package sdpor_test

import (
	"context"
	"testing"
	"time"

	"github.com/lookbusy1344/sbrace/ir"
	"github.com/lookbusy1344/sbrace/memmodel"
	"github.com/lookbusy1344/sbrace/sdpor"
	"github.com/lookbusy1344/sbrace/solver"
	"github.com/lookbusy1344/sbrace/state"
	"github.com/lookbusy1344/sbrace/symval"
	"github.com/lookbusy1344/sbrace/trace"
	"github.com/lookbusy1344/sbrace/types"
)

// twoThreadProgram builds: main spawns a worker, both threads store a
// distinct constant to the same global, neither holds a lock.
func twoThreadProgram(t *testing.T) *ir.Program {
	t.Helper()
	prog, b := ir.NewProgram(32)
	worker := b.Func("worker")
	b.Block(worker, "entry")
	g := b.Global("shared", 4, true)
	ref := b.GlobalRef(g)
	b.Store(ir.RefOperand(ref), ir.ConstOperand(symval.ConcreteBitVec(types.BitVec(32), 1)))
	b.Return(nil)

	main := b.Func("main")
	b.Block(main, "entry")
	b.Thread(worker)
	ref2 := b.GlobalRef(g)
	b.Store(ir.RefOperand(ref2), ir.ConstOperand(symval.ConcreteBitVec(types.BitVec(32), 2)))
	b.Return(nil)
	return prog
}

func newDriver() *sdpor.Driver {
	return &sdpor.Driver{
		IDs:     state.NewIDAllocator(),
		Mgr:     symval.NewManager(),
		Solver:  solver.NewConcrete(),
		Timeout: time.Second,
		Mode:    sdpor.ModeFirst,
	}
}

func TestExploreFindsTheUnsynchronizedWriteWriteRace(t *testing.T) {
	prog := twoThreadProgram(t)
	d := newDriver()
	s, err := state.New(d.IDs, prog, memmodel.NewSimple())
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}

	var raceSeen bool
	d.OnTerminal = func(s *state.State, tr *trace.Trace) {
		if s.Kind == state.KindError && s.ErrKind == state.ErrMemoryDataRace {
			raceSeen = true
		}
	}

	tr := trace.New()
	if err := d.Explore(context.Background(), s, tr, map[int]bool{}); err != nil {
		t.Fatalf("Explore: %v", err)
	}
	if !raceSeen {
		t.Errorf("expected Explore to discover the write-write race between main and worker")
	}
}

// lockProtectedProgram is twoThreadProgram's store sequence, but each
// store is wrapped in a lock/unlock on the same mutex: no race reachable.
func lockProtectedProgram(t *testing.T) *ir.Program {
	t.Helper()
	prog, b := ir.NewProgram(32)
	mtx := b.Global("mtx", 4, true)

	worker := b.Func("worker")
	b.Block(worker, "entry")
	mref := b.GlobalRef(mtx)
	g := b.Global("shared", 4, true)
	gref := b.GlobalRef(g)
	b.CallRuntime("pthread_mutex_lock", types.Void, ir.RefOperand(mref))
	b.Store(ir.RefOperand(gref), ir.ConstOperand(symval.ConcreteBitVec(types.BitVec(32), 1)))
	b.CallRuntime("pthread_mutex_unlock", types.Void, ir.RefOperand(mref))
	b.Return(nil)

	main := b.Func("main")
	b.Block(main, "entry")
	mref2 := b.GlobalRef(mtx)
	b.CallRuntime("pthread_mutex_init", types.Void, ir.RefOperand(mref2))
	b.Thread(worker)
	mref3 := b.GlobalRef(mtx)
	gref2 := b.GlobalRef(g)
	b.CallRuntime("pthread_mutex_lock", types.Void, ir.RefOperand(mref3))
	b.Store(ir.RefOperand(gref2), ir.ConstOperand(symval.ConcreteBitVec(types.BitVec(32), 2)))
	b.CallRuntime("pthread_mutex_unlock", types.Void, ir.RefOperand(mref3))
	b.Return(nil)
	return prog
}

func TestExploreFindsNoRaceWhenLockProtected(t *testing.T) {
	prog := lockProtectedProgram(t)
	d := newDriver()
	s, err := state.New(d.IDs, prog, memmodel.NewSimple())
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}

	var raceSeen bool
	d.OnTerminal = func(s *state.State, tr *trace.Trace) {
		if s.Kind == state.KindError && s.ErrKind == state.ErrMemoryDataRace {
			raceSeen = true
		}
	}

	tr := trace.New()
	if err := d.Explore(context.Background(), s, tr, map[int]bool{}); err != nil {
		t.Fatalf("Explore: %v", err)
	}
	if raceSeen {
		t.Errorf("expected no race when both stores are lock-protected")
	}
}
