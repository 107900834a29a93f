package interp_test

import (
	"context"
	"testing"
	"time"

	"github.com/lookbusy1344/sbrace/interp"
	"github.com/lookbusy1344/sbrace/ir"
	"github.com/lookbusy1344/sbrace/memmodel"
	"github.com/lookbusy1344/sbrace/solver"
	"github.com/lookbusy1344/sbrace/state"
	"github.com/lookbusy1344/sbrace/symval"
	"github.com/lookbusy1344/sbrace/types"
)

func newState(t *testing.T, prog *ir.Program) (*state.State, *state.IDAllocator) {
	t.Helper()
	ids := state.NewIDAllocator()
	s, err := state.New(ids, prog, memmodel.NewSimple())
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}
	return s, ids
}

func step(t *testing.T, ids *state.IDAllocator, s *state.State, tid int) interp.Result {
	t.Helper()
	res, err := interp.Step(context.Background(), ids, symval.NewManager(), solver.NewConcrete(), time.Second, s, tid)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	return res
}

func TestStoreThenLoadRoundTrips(t *testing.T) {
	prog, b := ir.NewProgram(32)
	main := b.Func("main")
	b.Block(main, "entry")
	g := b.Global("x", 4, true)
	ref := b.GlobalRef(g)
	b.Store(ir.RefOperand(ref), ir.ConstOperand(symval.ConcreteBitVec(types.BitVec(32), 7)))
	load := b.Load(ir.RefOperand(ref), types.BitVec(32))
	b.Return(nil)

	s, ids := newState(t, prog)
	mgr := symval.NewManager()
	sol := solver.NewConcrete()

	// globalref
	r1 := step(t, ids, s, 0)
	s = r1.Successors[0]
	// store
	r2 := step(t, ids, s, 0)
	s = r2.Successors[0]
	// load
	res, err := interp.Step(context.Background(), ids, mgr, sol, time.Second, s, 0)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	s = res.Successors[0]

	fr := s.Threads[0].CallStack[len(s.Threads[0].CallStack)-1]
	got, ok := fr.Locals[load]
	if !ok {
		t.Fatalf("load result not recorded")
	}
	if !got.Equal(symval.ConcreteBitVec(types.BitVec(32), 7)) {
		t.Errorf("loaded value = %v, want 7", got)
	}
}

func TestConditionalBranchOnSymbolicConditionForksBothWays(t *testing.T) {
	prog, b := ir.NewProgram(32)
	main := b.Func("main")
	entry := b.Block(main, "entry")
	ifTrue := main.NewBlock("if_true")
	ifFalse := main.NewBlock("if_false")

	mgr := symval.NewManager()
	cond := mgr.FreshSymbol("c", types.Bool)
	condBranch := &ir.Instruction{
		Op:       ir.OpBranch,
		Type:     types.Void,
		Operands: []ir.Operand{ir.ConstOperand(cond)},
		Targets:  []*ir.BasicBlock{ifTrue, ifFalse},
		Block:    entry,
	}
	entry.Instructions = append(entry.Instructions, condBranch)
	ifTrue.Instructions = append(ifTrue.Instructions, &ir.Instruction{Op: ir.OpReturn, Type: types.Void, Block: ifTrue})
	ifFalse.Instructions = append(ifFalse.Instructions, &ir.Instruction{Op: ir.OpReturn, Type: types.Void, Block: ifFalse})

	s, ids := newState(t, prog)
	res := step(t, ids, s, 0)
	if len(res.Successors) != 2 {
		t.Fatalf("expected both branches feasible, got %d successors", len(res.Successors))
	}
}

func TestAssertFalseProducesAssertionError(t *testing.T) {
	prog, b := ir.NewProgram(32)
	main := b.Func("main")
	b.Block(main, "entry")
	b.Assert(ir.ConstOperand(symval.ConcreteBool(false)))
	b.Return(nil)

	s, ids := newState(t, prog)
	res := step(t, ids, s, 0)
	if len(res.Successors) != 1 {
		t.Fatalf("expected exactly one successor for a concretely-false assertion, got %d", len(res.Successors))
	}
	out := res.Successors[0]
	if out.Kind != state.KindError || out.ErrKind != state.ErrAssertion {
		t.Errorf("expected an assertion Error state, got Kind=%v ErrKind=%v", out.Kind, out.ErrKind)
	}
}

func TestAssumeFalsePrunesTheState(t *testing.T) {
	prog, b := ir.NewProgram(32)
	main := b.Func("main")
	b.Block(main, "entry")
	b.Assume(ir.ConstOperand(symval.ConcreteBool(false)))
	b.Return(nil)

	s, ids := newState(t, prog)
	res := step(t, ids, s, 0)
	if len(res.Successors) != 0 {
		t.Fatalf("expected assume(false) to prune the state, got %d successors", len(res.Successors))
	}
}

func TestThreadSpawnCreatesSecondThread(t *testing.T) {
	prog, b := ir.NewProgram(32)
	worker := b.Func("worker")
	b.Block(worker, "entry")
	b.Return(nil)

	main := b.Func("main")
	b.Block(main, "entry")
	b.Thread(worker)
	b.Return(nil)

	s, ids := newState(t, prog)
	res := step(t, ids, s, 0)
	if len(res.Successors) != 1 {
		t.Fatalf("expected one successor from a thread spawn, got %d", len(res.Successors))
	}
	out := res.Successors[0]
	if len(out.Threads) != 2 {
		t.Fatalf("expected 2 threads after spawn, got %d", len(out.Threads))
	}
	if res.Meta.SpawnedTID != 1 {
		t.Errorf("SpawnedTID = %d, want 1", res.Meta.SpawnedTID)
	}
}

func TestDoubleLockBySameThreadIsKilled(t *testing.T) {
	prog, b := ir.NewProgram(32)
	main := b.Func("main")
	b.Block(main, "entry")
	g := b.Global("mtx", 4, true)
	ref := b.GlobalRef(g)
	b.CallRuntime("pthread_mutex_init", types.Void, ir.RefOperand(ref))
	b.CallRuntime("pthread_mutex_lock", types.Void, ir.RefOperand(ref))
	b.CallRuntime("pthread_mutex_lock", types.Void, ir.RefOperand(ref))
	b.Return(nil)

	s, ids := newState(t, prog)
	for i := 0; i < 3; i++ {
		res := step(t, ids, s, 0)
		s = res.Successors[0]
	}
	res := step(t, ids, s, 0)
	out := res.Successors[0]
	if out.Kind != state.KindKilled {
		t.Fatalf("expected double lock to kill the state, got Kind=%v", out.Kind)
	}
}

func TestUnlockingAnUnlockedMutexIsKilled(t *testing.T) {
	prog, b := ir.NewProgram(32)
	main := b.Func("main")
	b.Block(main, "entry")
	g := b.Global("mtx", 4, true)
	ref := b.GlobalRef(g)
	b.CallRuntime("pthread_mutex_init", types.Void, ir.RefOperand(ref))
	b.CallRuntime("pthread_mutex_unlock", types.Void, ir.RefOperand(ref))
	b.Return(nil)

	s, ids := newState(t, prog)
	for i := 0; i < 2; i++ {
		res := step(t, ids, s, 0)
		s = res.Successors[0]
	}
	res := step(t, ids, s, 0)
	out := res.Successors[0]
	if out.Kind != state.KindKilled {
		t.Fatalf("expected unlocking an unlocked lock to kill the state, got Kind=%v", out.Kind)
	}
}

func TestAtomicBeginMakesThreadExclusive(t *testing.T) {
	prog, b := ir.NewProgram(32)
	main := b.Func("main")
	b.Block(main, "entry")
	b.CallRuntime("__VERIFIER_atomic_begin", types.Void)
	b.Return(nil)

	s, ids := newState(t, prog)
	s.Threads[1] = &state.Thread{TID: 1, Status: state.Running}

	res := step(t, ids, s, 0)
	out := res.Successors[0]
	if len(out.EnabledThreads()) != 1 || out.EnabledThreads()[0] != 0 {
		t.Fatalf("expected only tid 0 enabled after atomic_begin, got %v", out.EnabledThreads())
	}
}

func TestReturnFromOutermostFrameExitsThread(t *testing.T) {
	prog, b := ir.NewProgram(32)
	main := b.Func("main")
	b.Block(main, "entry")
	b.Return(nil)

	s, ids := newState(t, prog)
	res := step(t, ids, s, 0)
	out := res.Successors[0]
	if !res.Meta.OutermostReturn {
		t.Errorf("expected OutermostReturn meta to be set")
	}
	if _, exited := out.Exited[0]; !exited {
		t.Errorf("expected thread 0 to be recorded as exited")
	}
	if _, ok := out.Threads[0]; ok {
		t.Errorf("expected thread 0 removed from the thread map")
	}
}
