// Package interp implements the single-step, single-thread symbolic
// interpreter: Step(state, tid) advances exactly one thread by exactly
// one instruction and returns its successor states (spec.md §4.2). It
// never chooses which thread runs next — that is the SDPOR driver's job
// alone (spec.md §9: "keep the interpreter free of scheduling
// knowledge").
//
// Grounded on the teacher's vm/executor.go (a VM.Step-shaped dispatch
// switching on a closed opcode set) and
// original_source/slowbeast/symexe/threads/iexecutor.py for the exact
// per-instruction semantics (mutex/atomic/thread runtime call handling,
// branch/assert/assume forking rules).
package interp

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lookbusy1344/sbrace/ir"
	"github.com/lookbusy1344/sbrace/memmodel"
	"github.com/lookbusy1344/sbrace/solver"
	"github.com/lookbusy1344/sbrace/state"
	"github.com/lookbusy1344/sbrace/symval"
	"github.com/lookbusy1344/sbrace/trace"
	"github.com/lookbusy1344/sbrace/types"
)

// Result is what Step returns: the successor states produced by
// executing one instruction of one thread, the instruction itself, and
// the execution-time facts the trace needs to record alongside it
// (spec.md §4.2, §4.3).
type Result struct {
	Successors []*state.State
	Instr      *ir.Instruction
	Meta       trace.Meta
}

// Step advances tid by exactly one instruction in s (spec.md §4.2's
// contract). tid must be enabled in s. The returned successors are
// Ready or terminal; per-instruction errors (memory, assertion, kill)
// are attached to a successor's Kind/ErrKind/Reason rather than
// returned as a Go error — only solver/infrastructure failures surface
// as an error (spec.md §7, tier 3).
func Step(ctx context.Context, ids *state.IDAllocator, mgr *symval.Manager, sol solver.Solver, timeout time.Duration, s *state.State, tid int) (Result, error) {
	th, ok := s.Threads[tid]
	if !ok || th.Status != state.Running {
		return Result{}, fmt.Errorf("tid %d is not enabled", tid)
	}
	fr := th.CallStack[len(th.CallStack)-1]
	instr := fr.PC
	if instr == nil {
		return Result{}, fmt.Errorf("tid %d has an empty call stack", tid)
	}

	switch instr.Op {
	case ir.OpAlloc:
		return stepAlloc(ids, s, tid, instr)
	case ir.OpGlobalRef:
		return stepGlobalRef(ids, s, tid, instr)
	case ir.OpLoad:
		return stepLoad(ids, s, tid, instr)
	case ir.OpStore:
		return stepStore(ids, s, tid, instr)
	case ir.OpBinaryOp:
		return stepBinaryOp(ids, mgr, s, tid, instr)
	case ir.OpCmp:
		return stepCmp(ids, mgr, s, tid, instr)
	case ir.OpBranch:
		return stepBranch(ctx, ids, mgr, sol, timeout, s, tid, instr)
	case ir.OpSwitch:
		return stepSwitch(ctx, ids, mgr, sol, timeout, s, tid, instr)
	case ir.OpCall:
		return stepCall(ids, mgr, s, tid, instr)
	case ir.OpReturn:
		return stepReturn(ids, s, tid, instr)
	case ir.OpThread:
		return stepThread(ids, s, tid, instr)
	case ir.OpThreadJoin:
		return stepThreadJoin(ids, s, tid, instr)
	case ir.OpThreadExit:
		return stepThreadExit(ids, s, tid, instr)
	case ir.OpAssert:
		return stepAssert(ctx, ids, mgr, sol, timeout, s, tid, instr)
	case ir.OpAssume:
		return stepAssume(ctx, ids, sol, timeout, s, tid, instr)
	case ir.OpCast:
		return stepCast(ids, s, tid, instr)
	case ir.OpExtend:
		return stepExtend(ids, s, tid, instr)
	case ir.OpExtract:
		return stepExtract(ids, s, tid, instr)
	case ir.OpIte:
		return stepIte(ids, mgr, s, tid, instr)
	default:
		return Result{}, fmt.Errorf("unsupported instruction op %s", instr.Op)
	}
}

func frameOf(s *state.State, tid int) *state.Frame {
	th := s.Threads[tid]
	return th.CallStack[len(th.CallStack)-1]
}

func advance(fr *state.Frame) { fr.PC = fr.PC.Next() }

func eval(s *state.State, fr *state.Frame, op ir.Operand) symval.Value {
	switch op.Kind {
	case ir.OperandConst:
		return op.Const
	case ir.OperandRef:
		return fr.Locals[op.Ref]
	case ir.OperandParam:
		return fr.Args[op.Param]
	case ir.OperandGlobal:
		return pointerValue(s.GlobalObjs[op.Global])
	default:
		return symval.Value{}
	}
}

func pointerValue(id memmodel.ObjectID) symval.Value {
	return symval.ConcreteBitVec(types.Pointer, uint64(id))
}

func toPointer(v symval.Value) memmodel.Pointer {
	return memmodel.Pointer{Obj: memmodel.ObjectID(v.Bits()), Offset: symval.ConcreteBitVec(types.BitVec(32), 0)}
}

func negate(mgr *symval.Manager, v symval.Value) symval.Value {
	return mgr.BinOp("xor", types.Bool, v, symval.ConcreteBool(true))
}

func typeBytes(t types.Type) int {
	switch t.Kind {
	case types.KindBool:
		return 1
	case types.KindFloat, types.KindBitVec:
		if t.Width <= 0 {
			return 1
		}
		return (t.Width + 7) / 8
	case types.KindPointer:
		return 8
	case types.KindByteArray:
		return t.Len
	default:
		return 1
	}
}

func checkFeasible(ctx context.Context, sol solver.Solver, pathCond []symval.Value, extra symval.Value, timeout time.Duration) solver.SatResult {
	assumptions := make([]symval.Value, 0, len(pathCond)+1)
	assumptions = append(assumptions, pathCond...)
	assumptions = append(assumptions, extra)
	res, _ := sol.CheckSat(ctx, assumptions, timeout)
	return res
}

func one(s *state.State, instr *ir.Instruction, meta trace.Meta) Result {
	return Result{Successors: []*state.State{s}, Instr: instr, Meta: meta}
}

func killed(s *state.State, reason string) *state.State {
	s.Kind = state.KindKilled
	s.Reason = reason
	return s
}

// --- memory ---

func stepAlloc(ids *state.IDAllocator, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	sizeVal := eval(s, fr, instr.Operands[0])
	clone := s.Clone(ids)
	cfr := frameOf(clone, tid)
	if sizeVal.IsSymbolic() {
		return one(killed(clone, "symbolic allocation size is unsupported"), instr, trace.Meta{}), nil
	}
	id, err := clone.Memory.Allocate(sizeVal.Bits(), false, true, true)
	if err != nil {
		clone.Kind = state.KindError
		clone.ErrKind = state.ErrMemoryUnsupported
		clone.Reason = err.Error()
		return one(clone, instr, trace.Meta{}), nil
	}
	cfr.Locals[instr] = pointerValue(id)
	advance(cfr)
	return one(clone, instr, trace.Meta{}), nil
}

func stepGlobalRef(ids *state.IDAllocator, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	clone := s.Clone(ids)
	cfr := frameOf(clone, tid)
	cfr.Locals[instr] = pointerValue(clone.GlobalObjs[instr.Operands[0].Global])
	advance(cfr)
	return one(clone, instr, trace.Meta{}), nil
}

func stepLoad(ids *state.IDAllocator, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	ptrVal := eval(s, fr, instr.Operands[0])
	clone := s.Clone(ids)
	cfr := frameOf(clone, tid)
	if ptrVal.IsSymbolic() {
		return one(killed(clone, "symbolic pointer dereference is unsupported"), instr, trace.Meta{}), nil
	}
	v, err := clone.Memory.Read(toPointer(ptrVal), typeBytes(instr.Type))
	if err != nil {
		clone.Kind = state.KindError
		clone.ErrKind = state.ErrMemoryOOB
		clone.Reason = err.Error()
		return one(clone, instr, trace.Meta{}), nil
	}
	cfr.Locals[instr] = v
	advance(cfr)
	return one(clone, instr, trace.Meta{}), nil
}

func stepStore(ids *state.IDAllocator, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	ptrVal := eval(s, fr, instr.Operands[0])
	val := eval(s, fr, instr.Operands[1])
	clone := s.Clone(ids)
	cfr := frameOf(clone, tid)
	if ptrVal.IsSymbolic() {
		return one(killed(clone, "symbolic pointer dereference is unsupported"), instr, trace.Meta{}), nil
	}
	if err := clone.Memory.Write(toPointer(ptrVal), val); err != nil {
		clone.Kind = state.KindError
		clone.ErrKind = state.ErrMemoryOOB
		clone.Reason = err.Error()
		return one(clone, instr, trace.Meta{}), nil
	}
	advance(cfr)
	return one(clone, instr, trace.Meta{}), nil
}

// --- data ---

func stepBinaryOp(ids *state.IDAllocator, mgr *symval.Manager, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	clone := s.Clone(ids)
	cfr := frameOf(clone, tid)
	var result symval.Value
	if len(instr.Operands) == 1 {
		result = mgr.UnaryOp(instr.Mnemonic, instr.Type, eval(s, fr, instr.Operands[0]))
	} else {
		result = mgr.BinOp(instr.Mnemonic, instr.Type, eval(s, fr, instr.Operands[0]), eval(s, fr, instr.Operands[1]))
	}
	cfr.Locals[instr] = result
	advance(cfr)
	return one(clone, instr, trace.Meta{}), nil
}

func cmpOpName(instr *ir.Instruction) string {
	name := instr.Predicate.String()
	if instr.Signedness == ir.Signed {
		switch instr.Predicate {
		case ir.PredLE, ir.PredLT, ir.PredGE, ir.PredGT:
			return "s" + name
		}
	}
	return name
}

func stepCmp(ids *state.IDAllocator, mgr *symval.Manager, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	clone := s.Clone(ids)
	cfr := frameOf(clone, tid)
	result := mgr.BinOp(cmpOpName(instr), types.Bool, eval(s, fr, instr.Operands[0]), eval(s, fr, instr.Operands[1]))
	cfr.Locals[instr] = result
	advance(cfr)
	return one(clone, instr, trace.Meta{}), nil
}

func stepCast(ids *state.IDAllocator, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	v := eval(s, fr, instr.Operands[0])
	clone := s.Clone(ids)
	cfr := frameOf(clone, tid)
	cfr.Locals[instr] = castValue(v, instr.CastKind, instr.Type)
	advance(cfr)
	return one(clone, instr, trace.Meta{}), nil
}

func castValue(v symval.Value, kind ir.CastKind, resultType types.Type) symval.Value {
	if v.IsSymbolic() {
		return symval.Symbolic(resultType, v.Expr())
	}
	switch kind {
	case ir.CastBitLevel:
		if resultType.Kind == types.KindFloat {
			return symval.ConcreteFloat(resultType, math.Float64frombits(v.Bits()))
		}
		if v.Type.Kind == types.KindFloat {
			return symval.ConcreteBitVec(resultType, math.Float64bits(v.Float64()))
		}
		return symval.ConcreteBitVec(resultType, v.Bits())
	default: // CastReinterpret
		if resultType.Kind == types.KindFloat {
			return symval.ConcreteFloat(resultType, float64(int64(v.Bits())))
		}
		if v.Type.Kind == types.KindFloat {
			return symval.ConcreteBitVec(resultType, uint64(int64(v.Float64())))
		}
		return symval.ConcreteBitVec(resultType, v.Bits())
	}
}

func stepExtend(ids *state.IDAllocator, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	v := eval(s, fr, instr.Operands[0])
	clone := s.Clone(ids)
	cfr := frameOf(clone, tid)
	if v.IsSymbolic() {
		cfr.Locals[instr] = symval.Symbolic(instr.Type, v.Expr())
	} else {
		bits := v.Bits()
		if instr.Signedness == ir.Signed {
			bits = uint64(signExtendTo64(bits, v.Type.Width))
		}
		cfr.Locals[instr] = symval.ConcreteBitVec(instr.Type, bits)
	}
	advance(cfr)
	return one(clone, instr, trace.Meta{}), nil
}

func signExtendTo64(v uint64, width int) int64 {
	if width <= 0 || width >= 64 {
		return int64(v)
	}
	shift := uint(64 - width)
	return int64(v<<shift) >> shift
}

func stepExtract(ids *state.IDAllocator, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	v := eval(s, fr, instr.Operands[0])
	clone := s.Clone(ids)
	cfr := frameOf(clone, tid)
	if v.IsSymbolic() {
		cfr.Locals[instr] = symval.Symbolic(instr.Type, v.Expr())
	} else {
		width := instr.Hi - instr.Lo
		mask := uint64(1)<<uint(width) - 1
		if width >= 64 {
			mask = ^uint64(0)
		}
		bits := (v.Bits() >> uint(instr.Lo)) & mask
		cfr.Locals[instr] = symval.ConcreteBitVec(instr.Type, bits)
	}
	advance(cfr)
	return one(clone, instr, trace.Meta{}), nil
}

func stepIte(ids *state.IDAllocator, mgr *symval.Manager, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	clone := s.Clone(ids)
	cfr := frameOf(clone, tid)
	cond := eval(s, fr, instr.Operands[0])
	t := eval(s, fr, instr.Operands[1])
	e := eval(s, fr, instr.Operands[2])
	cfr.Locals[instr] = mgr.Ite(cond, t, e)
	advance(cfr)
	return one(clone, instr, trace.Meta{}), nil
}

// --- control flow ---

func branchSuccessor(ids *state.IDAllocator, s *state.State, tid int, target *ir.BasicBlock, constraint *symval.Value) *state.State {
	clone := s.Clone(ids)
	if constraint != nil {
		clone.AddConstraint(*constraint)
	}
	cfr := frameOf(clone, tid)
	cfr.Block = target
	cfr.PC = target.First()
	return clone
}

func stepBranch(ctx context.Context, ids *state.IDAllocator, mgr *symval.Manager, sol solver.Solver, timeout time.Duration, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	if len(instr.Targets) == 1 {
		return one(branchSuccessor(ids, s, tid, instr.Targets[0], nil), instr, trace.Meta{}), nil
	}
	fr := frameOf(s, tid)
	cond := eval(s, fr, instr.Operands[0])
	var successors []*state.State
	if cond.IsConcrete() {
		if cond.Bool() {
			successors = append(successors, branchSuccessor(ids, s, tid, instr.Targets[0], nil))
		} else {
			successors = append(successors, branchSuccessor(ids, s, tid, instr.Targets[1], nil))
		}
		return Result{Successors: successors, Instr: instr}, nil
	}
	neg := negate(mgr, cond)
	if checkFeasible(ctx, sol, s.PathCond, cond, timeout) != solver.Unsat {
		successors = append(successors, branchSuccessor(ids, s, tid, instr.Targets[0], &cond))
	}
	if checkFeasible(ctx, sol, s.PathCond, neg, timeout) != solver.Unsat {
		successors = append(successors, branchSuccessor(ids, s, tid, instr.Targets[1], &neg))
	}
	return Result{Successors: successors, Instr: instr}, nil
}

func stepSwitch(ctx context.Context, ids *state.IDAllocator, mgr *symval.Manager, sol solver.Solver, timeout time.Duration, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	value := eval(s, fr, instr.Operands[0])

	if value.IsConcrete() {
		for _, c := range instr.Cases {
			if c.Value.Equal(value) {
				return one(branchSuccessor(ids, s, tid, c.Target, nil), instr, trace.Meta{}), nil
			}
		}
		return one(branchSuccessor(ids, s, tid, instr.DefaultCase, nil), instr, trace.Meta{}), nil
	}

	var successors []*state.State
	allNeg := symval.ConcreteBool(true)
	for _, c := range instr.Cases {
		eq := mgr.BinOp("eq", types.Bool, value, c.Value)
		if checkFeasible(ctx, sol, s.PathCond, eq, timeout) != solver.Unsat {
			successors = append(successors, branchSuccessor(ids, s, tid, c.Target, &eq))
		}
		allNeg = mgr.BinOp("and", types.Bool, allNeg, negate(mgr, eq))
	}
	if checkFeasible(ctx, sol, s.PathCond, allNeg, timeout) != solver.Unsat {
		successors = append(successors, branchSuccessor(ids, s, tid, instr.DefaultCase, &allNeg))
	}
	return Result{Successors: successors, Instr: instr}, nil
}

func stepAssume(ctx context.Context, ids *state.IDAllocator, sol solver.Solver, timeout time.Duration, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	cond := eval(s, fr, instr.Operands[0])
	if checkFeasible(ctx, sol, s.PathCond, cond, timeout) == solver.Unsat {
		return Result{Successors: nil, Instr: instr}, nil
	}
	clone := s.Clone(ids)
	clone.AddConstraint(cond)
	advance(frameOf(clone, tid))
	return one(clone, instr, trace.Meta{}), nil
}

func stepAssert(ctx context.Context, ids *state.IDAllocator, mgr *symval.Manager, sol solver.Solver, timeout time.Duration, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	cond := eval(s, fr, instr.Operands[0])
	neg := negate(mgr, cond)

	violation := checkFeasible(ctx, sol, s.PathCond, neg, timeout)
	var successors []*state.State
	switch violation {
	case solver.Sat:
		errClone := s.Clone(ids)
		errClone.AddConstraint(neg)
		errClone.Kind = state.KindError
		errClone.ErrKind = state.ErrAssertion
		errClone.Reason = "assertion failed"
		successors = append(successors, errClone)
		if checkFeasible(ctx, sol, s.PathCond, cond, timeout) != solver.Unsat {
			okClone := s.Clone(ids)
			okClone.AddConstraint(cond)
			advance(frameOf(okClone, tid))
			successors = append(successors, okClone)
		}
	case solver.Unsat:
		okClone := s.Clone(ids)
		advance(frameOf(okClone, tid))
		successors = append(successors, okClone)
	default: // Unknown: conservative per spec.md §5
		successors = append(successors, killed(s.Clone(ids), "assertion check inconclusive"))
	}
	return Result{Successors: successors, Instr: instr}, nil
}

// --- calls, threads ---

func stepCall(ids *state.IDAllocator, mgr *symval.Manager, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	if instr.Callee != nil {
		return stepUserCall(ids, s, tid, instr)
	}
	return stepRuntimeCall(ids, mgr, s, tid, instr)
}

func stepUserCall(ids *state.IDAllocator, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	args := make([]symval.Value, len(instr.Operands))
	for i, op := range instr.Operands {
		args[i] = eval(s, fr, op)
	}
	clone := s.Clone(ids)
	cth := clone.Threads[tid]
	callee := instr.Callee
	newFrame := state.NewFrame(callee, callee.Blocks[0], args, instr)
	cth.CallStack = append(cth.CallStack, newFrame)
	return one(clone, instr, trace.Meta{}), nil
}

func stepRuntimeCall(ids *state.IDAllocator, mgr *symval.Manager, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	switch instr.RuntimeFn {
	case "__VERIFIER_atomic_begin":
		clone := s.Clone(ids)
		clone.Threads[tid].InAtomic = true
		advance(frameOf(clone, tid))
		return one(clone, instr, trace.Meta{}), nil
	case "__VERIFIER_atomic_end":
		clone := s.Clone(ids)
		clone.Threads[tid].InAtomic = false
		advance(frameOf(clone, tid))
		return one(clone, instr, trace.Meta{}), nil
	case "pthread_mutex_init", "pthread_mutex_destroy":
		return stepMutexLifecycle(ids, mgr, s, tid, instr)
	case "pthread_mutex_lock":
		return stepMutexLock(ids, s, tid, instr)
	case "pthread_mutex_unlock":
		return stepMutexUnlock(ids, s, tid, instr)
	default:
		return stepUndefFun(ids, mgr, s, tid, instr)
	}
}

func lockIDOf(v symval.Value) (state.LockID, bool) {
	if v.IsSymbolic() {
		return state.LockID{}, false
	}
	return state.LockID{Obj: memmodel.ObjectID(v.Bits()), Offset: 0}, true
}

func stepMutexLifecycle(ids *state.IDAllocator, mgr *symval.Manager, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	mtx := eval(s, fr, instr.Operands[0])
	clone := s.Clone(ids)
	cfr := frameOf(clone, tid)
	lk, ok := lockIDOf(mtx)
	if !ok {
		return one(killed(clone, "symbolic mutex identity is unsupported"), instr, trace.Meta{}), nil
	}
	if instr.RuntimeFn == "pthread_mutex_init" {
		if _, exists := clone.Mutexes[lk]; !exists {
			clone.Mutexes[lk] = nil
		}
	} else {
		delete(clone.Mutexes, lk)
	}
	if !instr.Type.IsVoid() {
		cfr.Locals[instr] = mgr.FreshSymbol("ret_"+instr.RuntimeFn, instr.Type)
	}
	advance(cfr)
	return one(clone, instr, trace.Meta{}), nil
}

func stepMutexLock(ids *state.IDAllocator, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	mtx := eval(s, fr, instr.Operands[0])
	clone := s.Clone(ids)
	cfr := frameOf(clone, tid)
	lk, ok := lockIDOf(mtx)
	if !ok {
		return one(killed(clone, "symbolic mutex identity is unsupported"), instr, trace.Meta{}), nil
	}
	owner, exists := clone.Mutexes[lk]
	if exists && owner != nil {
		if *owner == tid {
			return one(killed(clone, "Double lock"), instr, trace.Meta{}), nil
		}
		if clone.Threads[tid].InAtomic {
			return one(killed(clone, "deadlock in atomic region"), instr, trace.Meta{}), nil
		}
		clone.Threads[tid].Status = state.Paused
		if clone.WaitMutex[lk] == nil {
			clone.WaitMutex[lk] = make(map[int]bool)
		}
		clone.WaitMutex[lk][tid] = true
		return one(clone, instr, trace.Meta{Succ: false}), nil
	}
	owned := tid
	clone.Mutexes[lk] = &owned
	advance(cfr)
	return one(clone, instr, trace.Meta{Succ: true}), nil
}

func stepMutexUnlock(ids *state.IDAllocator, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	mtx := eval(s, fr, instr.Operands[0])
	clone := s.Clone(ids)
	cfr := frameOf(clone, tid)
	lk, ok := lockIDOf(mtx)
	if !ok {
		return one(killed(clone, "symbolic mutex identity is unsupported"), instr, trace.Meta{}), nil
	}
	owner, exists := clone.Mutexes[lk]
	switch {
	case !exists:
		return one(killed(clone, "Unlocking unknown mutex"), instr, trace.Meta{}), nil
	case owner == nil:
		return one(killed(clone, "Unlocking unlocked lock"), instr, trace.Meta{}), nil
	case *owner != tid:
		return one(killed(clone, "Unlocking un-owned mutex"), instr, trace.Meta{}), nil
	}
	clone.Mutexes[lk] = nil
	for waiter := range clone.WaitMutex[lk] {
		if wth, ok := clone.Threads[waiter]; ok {
			wth.Status = state.Running
		}
	}
	delete(clone.WaitMutex, lk)
	advance(cfr)
	return one(clone, instr, trace.Meta{Succ: true}), nil
}

func stepUndefFun(ids *state.IDAllocator, mgr *symval.Manager, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	clone := s.Clone(ids)
	cfr := frameOf(clone, tid)
	switch {
	case instr.RuntimeFn == "abort":
		clone.Kind = state.KindTerminated
		clone.Reason = "abort"
		return one(clone, instr, trace.Meta{}), nil
	case instr.RuntimeFn == "__assert_fail":
		clone.Kind = state.KindError
		clone.ErrKind = state.ErrAssertion
		clone.Reason = "assertion failed"
		return one(clone, instr, trace.Meta{}), nil
	case strings.HasPrefix(instr.RuntimeFn, "pthread_"):
		return one(killed(clone, "Unsupported pthread_* API: "+instr.RuntimeFn), instr, trace.Meta{}), nil
	default:
		if !instr.Type.IsVoid() {
			cfr.Locals[instr] = mgr.FreshSymbol("ret_"+instr.RuntimeFn, instr.Type)
		}
		advance(cfr)
		return one(clone, instr, trace.Meta{}), nil
	}
}

func stepThread(ids *state.IDAllocator, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	args := make([]symval.Value, len(instr.Operands))
	for i, op := range instr.Operands {
		args[i] = eval(s, fr, op)
	}
	clone := s.Clone(ids)
	cfr := frameOf(clone, tid)
	callee := instr.Callee
	newTid := clone.AllocTID()
	newFrame := state.NewFrame(callee, callee.Blocks[0], args, nil)
	clone.Threads[newTid] = &state.Thread{TID: newTid, Status: state.Running, CallStack: []*state.Frame{newFrame}}
	cfr.Locals[instr] = symval.ConcreteBitVec(instr.Type, uint64(newTid))
	advance(cfr)
	return one(clone, instr, trace.Meta{SpawnedTID: newTid}), nil
}

func stepThreadJoin(ids *state.IDAllocator, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	tidVal := eval(s, fr, instr.Operands[0])
	clone := s.Clone(ids)
	cfr := frameOf(clone, tid)
	if tidVal.IsSymbolic() {
		return one(killed(clone, "Symbolic thread values are unsupported yet"), instr, trace.Meta{}), nil
	}
	target := int(tidVal.Bits())
	if _, exited := clone.Exited[target]; exited {
		advance(cfr)
		return one(clone, instr, trace.Meta{JoinedTID: target}), nil
	}
	if clone.Threads[tid].InAtomic {
		return one(killed(clone, "deadlock in atomic region"), instr, trace.Meta{JoinedTID: target}), nil
	}
	clone.Threads[tid].Status = state.Paused
	if clone.WaitJoin[target] == nil {
		clone.WaitJoin[target] = make(map[int]bool)
	}
	clone.WaitJoin[target][tid] = true
	return one(clone, instr, trace.Meta{JoinedTID: target}), nil
}

func exitThread(s *state.State, tid int, rv symval.Value) {
	s.Exited[tid] = rv
	delete(s.Threads, tid)
	for waiter := range s.WaitJoin[tid] {
		if wth, ok := s.Threads[waiter]; ok {
			wth.Status = state.Running
		}
	}
	delete(s.WaitJoin, tid)
}

func stepThreadExit(ids *state.IDAllocator, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	var rv symval.Value
	if len(instr.Operands) > 0 {
		rv = eval(s, fr, instr.Operands[0])
	}
	clone := s.Clone(ids)
	exitThread(clone, tid, rv)
	return one(clone, instr, trace.Meta{}), nil
}

func stepReturn(ids *state.IDAllocator, s *state.State, tid int, instr *ir.Instruction) (Result, error) {
	fr := frameOf(s, tid)
	var retVal *symval.Value
	if len(instr.Operands) > 0 {
		v := eval(s, fr, instr.Operands[0])
		retVal = &v
	}
	clone := s.Clone(ids)
	cth := clone.Threads[tid]
	popped := cth.CallStack[len(cth.CallStack)-1]
	cth.CallStack = cth.CallStack[:len(cth.CallStack)-1]

	if len(cth.CallStack) == 0 {
		var rv symval.Value
		if retVal != nil {
			rv = *retVal
		}
		exitThread(clone, tid, rv)
		return one(clone, instr, trace.Meta{OutermostReturn: true}), nil
	}

	callerFrame := cth.CallStack[len(cth.CallStack)-1]
	if retVal != nil && popped.CallSite != nil {
		callerFrame.Locals[popped.CallSite] = *retVal
	}
	callerFrame.PC = popped.CallSite.Next()
	return one(clone, instr, trace.Meta{}), nil
}
