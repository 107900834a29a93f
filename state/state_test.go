package state_test

import (
	"testing"

	"github.com/lookbusy1344/sbrace/ir"
	"github.com/lookbusy1344/sbrace/memmodel"
	"github.com/lookbusy1344/sbrace/state"
)

func newTestProgram(t *testing.T) *ir.Program {
	t.Helper()
	prog, b := ir.NewProgram(32)
	main := b.Func("main")
	b.Block(main, "entry")
	b.Return(nil)
	return prog
}

func mustNew(t *testing.T, ids *state.IDAllocator, prog *ir.Program) *state.State {
	t.Helper()
	s, err := state.New(ids, prog, memmodel.NewSimple())
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}
	return s
}

func TestNewStateHasOneEnabledThread(t *testing.T) {
	prog := newTestProgram(t)
	s := mustNew(t, state.NewIDAllocator(), prog)

	enabled := s.EnabledThreads()
	if len(enabled) != 1 || enabled[0] != 0 {
		t.Fatalf("expected thread 0 enabled, got %v", enabled)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	prog := newTestProgram(t)
	ids := state.NewIDAllocator()
	s := mustNew(t, ids, prog)
	clone := s.Clone(ids)

	if clone.ID() == s.ID() {
		t.Errorf("clone must have a distinct ID")
	}

	s.Threads[0].Status = state.Paused
	if clone.Threads[0].Status != state.Running {
		t.Errorf("mutating the original must not affect the clone")
	}
}

func TestDeadlockDetection(t *testing.T) {
	prog := newTestProgram(t)
	s := mustNew(t, state.NewIDAllocator(), prog)
	s.Threads[0].Status = state.Paused
	s.WaitJoin[0] = map[int]bool{1: true}

	if !s.IsDeadlock() {
		t.Errorf("expected deadlock when the only thread is paused")
	}
}

func TestFullyExited(t *testing.T) {
	prog := newTestProgram(t)
	s := mustNew(t, state.NewIDAllocator(), prog)
	delete(s.Threads, 0)

	if !s.IsFullyExited() {
		t.Errorf("expected fully exited once the thread map is empty")
	}
}

func TestAtomicThreadIsScheduledExclusively(t *testing.T) {
	prog := newTestProgram(t)
	s := mustNew(t, state.NewIDAllocator(), prog)
	s.Threads[1] = &state.Thread{TID: 1, Status: state.Running}
	s.Threads[0].InAtomic = true

	enabled := s.EnabledThreads()
	if len(enabled) != 1 || enabled[0] != 0 {
		t.Fatalf("expected only the atomic thread enabled, got %v", enabled)
	}
}
