// Package state implements the per-thread and per-execution symbolic
// state the interpreter advances one instruction at a time (spec.md §3:
// "Thread", "State"). A State owns everything mutable about one point
// in one explored execution; the IR it refers to is immutable and
// shared by reference (spec.md §5).
//
// Grounded on the teacher's vm/cpu.go + vm/state.go (register/flag
// snapshot idiom), generalized from one fixed ARM register file to an
// arbitrary number of cooperatively-scheduled threads, each with its own
// call stack, per original_source/slowbeast/symexe/threads/state.py.
package state

import (
	"sync/atomic"

	"github.com/lookbusy1344/sbrace/ir"
	"github.com/lookbusy1344/sbrace/memmodel"
	"github.com/lookbusy1344/sbrace/symval"
)

// Status is the closed set of thread lifecycle states (spec.md §3).
type Status int

const (
	Running Status = iota
	Paused
	Detached
	Exited
)

func (s Status) String() string {
	return [...]string{"running", "paused", "detached", "exited"}[s]
}

// Frame is one call-stack frame.
type Frame struct {
	Func   *ir.Function
	Block  *ir.BasicBlock
	PC     *ir.Instruction
	Locals map[*ir.Instruction]symval.Value
	// Args holds the evaluated actual arguments this frame was entered
	// with, indexed the same way an OperandParam refers to them.
	Args []symval.Value
	// CallSite is the instruction (in the caller's frame) that invoked
	// this frame, nil for a thread's outermost frame.
	CallSite *ir.Instruction
}

// NewFrame creates a call-stack frame ready to execute entry's first
// instruction, exported so the interpreter can push frames for Call and
// Thread-spawn without reaching into unexported construction helpers.
func NewFrame(f *ir.Function, entry *ir.BasicBlock, args []symval.Value, callSite *ir.Instruction) *Frame {
	return &Frame{Func: f, Block: entry, PC: entry.First(), Locals: make(map[*ir.Instruction]symval.Value), Args: args, CallSite: callSite}
}

func newFrame(f *ir.Function, entry *ir.BasicBlock) *Frame {
	return NewFrame(f, entry, nil, nil)
}

func (fr *Frame) clone() *Frame {
	locals := make(map[*ir.Instruction]symval.Value, len(fr.Locals))
	for k, v := range fr.Locals {
		locals[k] = v
	}
	return &Frame{Func: fr.Func, Block: fr.Block, PC: fr.PC, Locals: locals, Args: append([]symval.Value(nil), fr.Args...), CallSite: fr.CallSite}
}

// Thread is one cooperatively-scheduled thread of control (spec.md §3).
type Thread struct {
	TID       int
	CallStack []*Frame
	Status    Status
	// InAtomic is true while executing within a
	// __VERIFIER_atomic_begin/end region (spec.md §4.2, §5).
	InAtomic bool
	// ExitValue is set when Status == Exited.
	ExitValue symval.Value
}

func (t *Thread) top() *Frame { return t.CallStack[len(t.CallStack)-1] }

// PC returns the thread's current program-counter instruction, or nil if
// its call stack is empty (about to exit).
func (t *Thread) PC() *ir.Instruction {
	if len(t.CallStack) == 0 {
		return nil
	}
	return t.top().PC
}

func (t *Thread) clone() *Thread {
	cs := make([]*Frame, len(t.CallStack))
	for i, fr := range t.CallStack {
		cs[i] = fr.clone()
	}
	return &Thread{TID: t.TID, CallStack: cs, Status: t.Status, InAtomic: t.InAtomic, ExitValue: t.ExitValue}
}

// LockID identifies one mutex by the concrete memory location backing
// it. Mutex addresses are assumed concrete, matching every real-world
// pthread usage the front-end would lower (spec.md never requires
// symbolic mutex identity).
type LockID struct {
	Obj    memmodel.ObjectID
	Offset uint64
}

// Kind is the closed classification of a terminal (or still-running)
// state (spec.md §4.5).
type Kind int

const (
	KindReady Kind = iota
	KindExited
	KindTerminated
	KindKilled
	KindError
)

// ErrorKind is the closed set of Error sub-kinds (spec.md §4.5).
type ErrorKind int

const (
	ErrNone ErrorKind = iota
	ErrAssertion
	ErrMemoryOOB
	ErrMemoryUninitRead
	ErrMemoryInvalidObject
	ErrMemoryDataRace
	ErrMemoryUnsupported
	ErrNonTermination
	ErrGeneric
)

func (k ErrorKind) String() string {
	switch k {
	case ErrAssertion:
		return "assertion"
	case ErrMemoryOOB:
		return "memory.oob"
	case ErrMemoryUninitRead:
		return "memory.uninit_read"
	case ErrMemoryInvalidObject:
		return "memory.invalid_object"
	case ErrMemoryDataRace:
		return "memory.data_race"
	case ErrMemoryUnsupported:
		return "memory.unsupported"
	case ErrNonTermination:
		return "non_termination"
	case ErrGeneric:
		return "generic"
	default:
		return "none"
	}
}

// ID uniquely and immutably identifies a State (spec.md §3).
type ID uint64

// IDAllocator mints unique State identities for one exploration session.
// It replaces a package-level counter (spec.md §9: "id counters are
// per-session atomics, never package globals") so that sibling-subtree
// parallelism (SPEC_FULL.md's -threads-dpor) can share one allocator
// across goroutines without racing.
type IDAllocator struct {
	counter uint64
}

// NewIDAllocator creates an allocator starting at 1.
func NewIDAllocator() *IDAllocator { return &IDAllocator{} }

func (a *IDAllocator) next() ID {
	return ID(atomic.AddUint64(&a.counter, 1))
}

// State owns every piece of mutable per-execution data (spec.md §3).
type State struct {
	id ID

	Threads    map[int]*Thread
	nextTID    int
	Memory     memmodel.Model
	GlobalObjs map[*ir.Global]memmodel.ObjectID
	PathCond   []symval.Value // conjunction of symbolic boolean constraints
	Mutexes    map[LockID]*int
	WaitMutex  map[LockID]map[int]bool
	WaitJoin   map[int]map[int]bool
	Exited     map[int]symval.Value

	Kind     Kind
	ErrKind  ErrorKind
	ExitCode int
	Reason   string // human-readable detail for Terminated/Killed/Error
}

// New creates the initial state for a fresh exploration: every global is
// allocated in mem, and one thread (tid 0) is ready to start at
// prog.Entry() (spec.md §3, §6 "IR loader... produces the Program object
// used by the interpreter").
func New(ids *IDAllocator, prog *ir.Program, mem memmodel.Model) (*State, error) {
	globalObjs := make(map[*ir.Global]memmodel.ObjectID, len(prog.Globals))
	for _, g := range prog.Globals {
		id, err := mem.Allocate(g.Size, true, false, g.Zeroed)
		if err != nil {
			return nil, err
		}
		globalObjs[g] = id
	}
	entry := prog.Entry()
	th := &Thread{TID: 0, Status: Running, CallStack: []*Frame{newFrame(entry, entry.Blocks[0])}}
	return &State{
		id:         ids.next(),
		Threads:    map[int]*Thread{0: th},
		nextTID:    1,
		Memory:     mem,
		GlobalObjs: globalObjs,
		Mutexes:    make(map[LockID]*int),
		WaitMutex:  make(map[LockID]map[int]bool),
		WaitJoin:   make(map[int]map[int]bool),
		Exited:     make(map[int]symval.Value),
		Kind:       KindReady,
	}, nil
}

// ID returns the state's immutable identity.
func (s *State) ID() ID { return s.id }

// Clone performs the deep-copy-of-mutable / shallow-copy-of-IR clone
// spec.md §3 and §5 require: "Cloning is deep for mutable maps and
// shallow for the IR".
func (s *State) Clone(ids *IDAllocator) *State {
	threads := make(map[int]*Thread, len(s.Threads))
	for tid, th := range s.Threads {
		threads[tid] = th.clone()
	}
	mutexes := make(map[LockID]*int, len(s.Mutexes))
	for lk, owner := range s.Mutexes {
		if owner == nil {
			mutexes[lk] = nil
			continue
		}
		v := *owner
		mutexes[lk] = &v
	}
	waitMutex := make(map[LockID]map[int]bool, len(s.WaitMutex))
	for lk, set := range s.WaitMutex {
		waitMutex[lk] = cloneIntSet(set)
	}
	waitJoin := make(map[int]map[int]bool, len(s.WaitJoin))
	for tid, set := range s.WaitJoin {
		waitJoin[tid] = cloneIntSet(set)
	}
	exited := make(map[int]symval.Value, len(s.Exited))
	for tid, v := range s.Exited {
		exited[tid] = v
	}
	return &State{
		id:         ids.next(),
		Threads:    threads,
		nextTID:    s.nextTID,
		Memory:     s.Memory.Clone(),
		GlobalObjs: s.GlobalObjs, // immutable after New: the global→object mapping never changes
		PathCond:   append([]symval.Value(nil), s.PathCond...),
		Mutexes:    mutexes,
		WaitMutex:  waitMutex,
		WaitJoin:   waitJoin,
		Exited:     exited,
		Kind:       s.Kind,
		ErrKind:    s.ErrKind,
		ExitCode:   s.ExitCode,
		Reason:     s.Reason,
	}
}

func cloneIntSet(s map[int]bool) map[int]bool {
	cp := make(map[int]bool, len(s))
	for k, v := range s {
		cp[k] = v
	}
	return cp
}

// AllocTID allocates and returns a fresh thread id.
func (s *State) AllocTID() int {
	tid := s.nextTID
	s.nextTID++
	return tid
}

// Enabled reports whether tid is Running and not blocked on a mutex or a
// join (spec.md §3, GLOSSARY "Enabled thread").
func (s *State) Enabled(tid int) bool {
	th, ok := s.Threads[tid]
	return ok && th.Status == Running
}

// EnabledThreads returns the sorted set of currently enabled thread ids.
// A thread inside an atomic region is scheduled exclusively: while it is
// Running, no other thread is reported enabled (spec.md §5: "while a
// thread is in such a region, the driver may not switch away from it").
func (s *State) EnabledThreads() []int {
	for tid, th := range s.Threads {
		if th.InAtomic && th.Status == Running {
			return []int{tid}
		}
	}
	var out []int
	for tid := range s.Threads {
		if s.Enabled(tid) {
			out = append(out, tid)
		}
	}
	sortInts(out)
	return out
}

func sortInts(a []int) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j-1] > a[j]; j-- {
			a[j-1], a[j] = a[j], a[j-1]
		}
	}
}

// IsDeadlock reports whether no thread is enabled but at least one is
// Paused or blocked (spec.md §4.6).
func (s *State) IsDeadlock() bool {
	if len(s.EnabledThreads()) > 0 {
		return false
	}
	for _, th := range s.Threads {
		if th.Status == Paused {
			return true
		}
	}
	return false
}

// IsFullyExited reports whether every thread has exited (spec.md §4.6).
func (s *State) IsFullyExited() bool {
	return len(s.Threads) == 0
}

// AddConstraint strengthens the path condition with c.
func (s *State) AddConstraint(c symval.Value) {
	s.PathCond = append(s.PathCond, c)
}
