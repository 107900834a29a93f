package engine_test

import (
	"context"
	"testing"

	"github.com/lookbusy1344/sbrace/config"
	"github.com/lookbusy1344/sbrace/engine"
	"github.com/lookbusy1344/sbrace/ir"
	"github.com/lookbusy1344/sbrace/symval"
	"github.com/lookbusy1344/sbrace/types"
)

// noSharedAccessProgram is end-to-end scenario 1 of spec.md §8: two
// threads each write to a private local, never touching the same
// memory. Verdict must be False, exit 0.
func noSharedAccessProgram(t *testing.T) *ir.Program {
	t.Helper()
	prog, b := ir.NewProgram(32)

	sizeOp := ir.ConstOperand(symval.ConcreteBitVec(types.BitVec(32), 4))

	worker := b.Func("worker")
	b.Block(worker, "entry")
	localB := b.Alloc(sizeOp)
	b.Store(ir.RefOperand(localB), ir.ConstOperand(symval.ConcreteBitVec(types.BitVec(32), 7)))
	b.Return(nil)

	main := b.Func("main")
	b.Block(main, "entry")
	localA := b.Alloc(sizeOp)
	b.Store(ir.RefOperand(localA), ir.ConstOperand(symval.ConcreteBitVec(types.BitVec(32), 9)))
	b.Thread(worker)
	b.Return(nil)
	return prog
}

// forkJoinProgram is scenario 5: T0 spawns F, joins it, then reads g;
// F stores to g. The join orders the read after the store, so no race.
func forkJoinProgram(t *testing.T) *ir.Program {
	t.Helper()
	prog, b := ir.NewProgram(32)

	worker := b.Func("worker")
	b.Block(worker, "entry")
	g := b.Global("g", 4, true)
	wref := b.GlobalRef(g)
	b.Store(ir.RefOperand(wref), ir.ConstOperand(symval.ConcreteBitVec(types.BitVec(32), 1)))
	b.Return(nil)

	main := b.Func("main")
	b.Block(main, "entry")
	tid := b.Thread(worker)
	b.ThreadJoin(ir.RefOperand(tid))
	mref := b.GlobalRef(g)
	b.Load(ir.RefOperand(mref), types.BitVec(32))
	b.Return(nil)
	return prog
}

// atomicGroupingProgram is scenario 4: T1 writes g twice inside an atomic
// region, T2 writes g once outside any region. Atomic is a scheduling
// constraint only (no memory-ordering semantics of its own), so the two
// writes inside the region still race with T2's write — verdict True.
func atomicGroupingProgram(t *testing.T) *ir.Program {
	t.Helper()
	prog, b := ir.NewProgram(32)

	one := ir.ConstOperand(symval.ConcreteBitVec(types.BitVec(32), 1))
	two := ir.ConstOperand(symval.ConcreteBitVec(types.BitVec(32), 2))
	three := ir.ConstOperand(symval.ConcreteBitVec(types.BitVec(32), 3))

	g := b.Global("g", 4, true)

	t1 := b.Func("t1")
	b.Block(t1, "entry")
	b.CallRuntime("__VERIFIER_atomic_begin", types.Void)
	b.Store(ir.RefOperand(b.GlobalRef(g)), one)
	b.Store(ir.RefOperand(b.GlobalRef(g)), two)
	b.CallRuntime("__VERIFIER_atomic_end", types.Void)
	b.Return(nil)

	t2 := b.Func("t2")
	b.Block(t2, "entry")
	b.Store(ir.RefOperand(b.GlobalRef(g)), three)
	b.Return(nil)

	main := b.Func("main")
	b.Block(main, "entry")
	b.Thread(t1)
	b.Thread(t2)
	b.Return(nil)
	return prog
}

// doubleLockProgram is scenario 6: a single thread locks an already-held
// mutex without an intervening unlock. The interpreter kills the state
// rather than deadlocking or racing, so the run is inconclusive.
func doubleLockProgram(t *testing.T) *ir.Program {
	t.Helper()
	prog, b := ir.NewProgram(32)

	main := b.Func("main")
	b.Block(main, "entry")
	m := b.Global("mtx", 4, true)
	ref := ir.RefOperand(b.GlobalRef(m))
	b.CallRuntime("pthread_mutex_init", types.Void, ref)
	b.CallRuntime("pthread_mutex_lock", types.Void, ref)
	b.CallRuntime("pthread_mutex_lock", types.Void, ref)
	b.Return(nil)
	return prog
}

func TestNoSharedAccessHasNoRace(t *testing.T) {
	prog := noSharedAccessProgram(t)
	sess := engine.NewSession(config.DefaultConfig(), prog, engine.PropertyNoDataRace)
	res, err := sess.Explore(context.Background())
	if err != nil {
		t.Fatalf("Explore: %v", err)
	}
	if res.Violated {
		t.Errorf("expected no data race between disjoint locals, got violated with reason %q", res.Reason)
	}
	if res.ExitCode() != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode())
	}
}

func TestForkJoinOrderingHasNoRace(t *testing.T) {
	prog := forkJoinProgram(t)
	sess := engine.NewSession(config.DefaultConfig(), prog, engine.PropertyNoDataRace)
	res, err := sess.Explore(context.Background())
	if err != nil {
		t.Fatalf("Explore: %v", err)
	}
	if res.Violated {
		t.Errorf("expected the join to order the read after the store, got violated with reason %q", res.Reason)
	}
}

func TestAtomicGroupingStillRacesWithOutsideWrite(t *testing.T) {
	prog := atomicGroupingProgram(t)
	sess := engine.NewSession(config.DefaultConfig(), prog, engine.PropertyNoDataRace)
	res, err := sess.Explore(context.Background())
	if err != nil {
		t.Fatalf("Explore: %v", err)
	}
	if !res.Violated {
		t.Errorf("expected atomic grouping to still race with the outside write, verdict was False")
	}
	if res.ExitCode() != 1 {
		t.Errorf("expected exit code 1, got %d", res.ExitCode())
	}
}

func TestDoubleLockIsKilledNotDeadlocked(t *testing.T) {
	prog := doubleLockProgram(t)
	sess := engine.NewSession(config.DefaultConfig(), prog, engine.PropertyNoDataRace)
	res, err := sess.Explore(context.Background())
	if err != nil {
		t.Fatalf("Explore: %v", err)
	}
	if res.Violated {
		t.Errorf("a double lock is not a data race, got violated with reason %q", res.Reason)
	}
	if !res.Inconclusive {
		t.Errorf("expected double lock to be reported inconclusive")
	}
	if res.ExitCode() != 2 {
		t.Errorf("expected exit code 2, got %d", res.ExitCode())
	}
}

func TestOnProgressFiresForEveryStep(t *testing.T) {
	prog := noSharedAccessProgram(t)
	sess := engine.NewSession(config.DefaultConfig(), prog, engine.PropertyNoDataRace)
	var steps int
	sess.OnProgress = func(depth, tid, racistSize int, raceFound bool) {
		steps++
	}
	if _, err := sess.Explore(context.Background()); err != nil {
		t.Fatalf("Explore: %v", err)
	}
	if steps == 0 {
		t.Error("expected OnProgress to fire at least once")
	}
}
