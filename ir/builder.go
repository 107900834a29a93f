package ir

import "github.com/lookbusy1344/sbrace/types"

// Builder provides an imperative construction API for a Program, used by
// tests and by any future front-end that lowers a source program into
// this IR without needing a textual format (SPEC_FULL.md §4.1: "IR
// construction surface"). It plays the role the teacher's textual
// assembly parser plays for its VM — except our front-end is explicitly
// an external collaborator (spec.md §1), so only the structural
// construction API lives in-core.
type Builder struct {
	prog *Program
	cur  *BasicBlock
}

// NewProgram creates an empty program and its builder.
func NewProgram(pointerBitwidth int) (*Program, *Builder) {
	p := &Program{PointerBitwidth: pointerBitwidth}
	return p, &Builder{prog: p}
}

// Func declares a new function and returns it.
func (b *Builder) Func(name string, params ...types.Type) *Function {
	f := &Function{Name: name, Params: params}
	b.prog.Functions = append(b.prog.Functions, f)
	return f
}

// Global declares a new global variable.
func (b *Builder) Global(name string, size uint64, zeroed bool) *Global {
	g := &Global{ID: len(b.prog.Globals), Name: name, Size: size, Zeroed: zeroed}
	b.prog.Globals = append(b.prog.Globals, g)
	return g
}

// Block switches the builder's insertion point to a new block in f.
func (b *Builder) Block(f *Function, name string) *BasicBlock {
	blk := f.NewBlock(name)
	b.cur = blk
	return blk
}

func (b *Builder) emit(in *Instruction) *Instruction {
	in.ID = b.cur.Func.allocInstrID()
	in.Block = b.cur
	b.cur.Instructions = append(b.cur.Instructions, in)
	return in
}

// Alloc emits an Alloc instruction of the given byte size.
func (b *Builder) Alloc(size Operand) *Instruction {
	return b.emit(&Instruction{Op: OpAlloc, Type: types.Pointer, Operands: []Operand{size}})
}

// GlobalRef emits an instruction producing the address of g.
func (b *Builder) GlobalRef(g *Global) *Instruction {
	return b.emit(&Instruction{Op: OpGlobalRef, Type: types.Pointer, Operands: []Operand{GlobalOperand(g)}})
}

// Load emits a Load of resultType from the address in ptr.
func (b *Builder) Load(ptr Operand, resultType types.Type) *Instruction {
	return b.emit(&Instruction{Op: OpLoad, Type: resultType, Operands: []Operand{ptr}})
}

// Store emits a Store of val to the address in ptr.
func (b *Builder) Store(ptr, val Operand) *Instruction {
	return b.emit(&Instruction{Op: OpStore, Type: types.Void, Operands: []Operand{ptr, val}})
}

// BinOp emits a binary (or float-unary, see Instruction.Mnemonic docs)
// operation.
func (b *Builder) BinOp(mnemonic string, resultType types.Type, args ...Operand) *Instruction {
	return b.emit(&Instruction{Op: OpBinaryOp, Type: resultType, Mnemonic: mnemonic, Operands: args})
}

// Cmp emits a comparison with the given predicate and signedness.
func (b *Builder) Cmp(pred CmpPredicate, sign Signedness, lhs, rhs Operand) *Instruction {
	return b.emit(&Instruction{Op: OpCmp, Type: types.Bool, Predicate: pred, Signedness: sign, Operands: []Operand{lhs, rhs}})
}

// Branch emits an unconditional branch to target.
func (b *Builder) Branch(target *BasicBlock) *Instruction {
	return b.emit(&Instruction{Op: OpBranch, Type: types.Void, Targets: []*BasicBlock{target}})
}

// CondBranch emits a conditional branch on cond.
func (b *Builder) CondBranch(cond Operand, ifTrue, ifFalse *BasicBlock) *Instruction {
	return b.emit(&Instruction{Op: OpBranch, Type: types.Void, Operands: []Operand{cond}, Targets: []*BasicBlock{ifTrue, ifFalse}})
}

// Switch emits a switch over value with the given cases and default.
func (b *Builder) Switch(value Operand, cases []SwitchCase, def *BasicBlock) *Instruction {
	return b.emit(&Instruction{Op: OpSwitch, Type: types.Void, Operands: []Operand{value}, Cases: cases, DefaultCase: def})
}

// Call emits a call to a user-defined function.
func (b *Builder) Call(callee *Function, resultType types.Type, args ...Operand) *Instruction {
	return b.emit(&Instruction{Op: OpCall, Type: resultType, Callee: callee, Operands: args})
}

// CallRuntime emits a call to a recognized runtime function by name.
func (b *Builder) CallRuntime(name string, resultType types.Type, args ...Operand) *Instruction {
	return b.emit(&Instruction{Op: OpCall, Type: resultType, RuntimeFn: name, Operands: args})
}

// Return emits a return, optionally with a value.
func (b *Builder) Return(val *Operand) *Instruction {
	in := &Instruction{Op: OpReturn, Type: types.Void}
	if val != nil {
		in.Operands = []Operand{*val}
	}
	return b.emit(in)
}

// Thread emits a thread-spawn of target with the given arguments; the
// instruction's own value is the new thread's tid.
func (b *Builder) Thread(target *Function, args ...Operand) *Instruction {
	return b.emit(&Instruction{Op: OpThread, Type: types.BitVec(32), Callee: target, Operands: args})
}

// ThreadJoin emits a join on the thread id operand.
func (b *Builder) ThreadJoin(tid Operand) *Instruction {
	return b.emit(&Instruction{Op: OpThreadJoin, Type: types.Void, Operands: []Operand{tid}})
}

// ThreadExit emits a thread exit, optionally with a return value.
func (b *Builder) ThreadExit(val *Operand) *Instruction {
	in := &Instruction{Op: OpThreadExit, Type: types.Void}
	if val != nil {
		in.Operands = []Operand{*val}
	}
	return b.emit(in)
}

// Assert emits an assertion of cond.
func (b *Builder) Assert(cond Operand) *Instruction {
	return b.emit(&Instruction{Op: OpAssert, Type: types.Void, Operands: []Operand{cond}})
}

// Assume emits a path-condition-strengthening assumption of cond.
func (b *Builder) Assume(cond Operand) *Instruction {
	return b.emit(&Instruction{Op: OpAssume, Type: types.Void, Operands: []Operand{cond}})
}

// Cast emits a reinterpret or bit-level cast of val to resultType.
func (b *Builder) Cast(kind CastKind, val Operand, resultType types.Type) *Instruction {
	return b.emit(&Instruction{Op: OpCast, Type: resultType, CastKind: kind, Operands: []Operand{val}})
}

// Extend emits a sign/zero extension of val to resultType.
func (b *Builder) Extend(signed bool, val Operand, resultType types.Type) *Instruction {
	sign := Unsigned
	if signed {
		sign = Signed
	}
	return b.emit(&Instruction{Op: OpExtend, Type: resultType, Signedness: sign, Operands: []Operand{val}})
}

// Extract emits extraction of the half-open bit range [lo, hi) from val.
func (b *Builder) Extract(val Operand, lo, hi int) *Instruction {
	return b.emit(&Instruction{Op: OpExtract, Type: types.BitVec(hi - lo), Lo: lo, Hi: hi, Operands: []Operand{val}})
}

// Ite emits a select between t and e based on cond.
func (b *Builder) Ite(cond, t, e Operand, resultType types.Type) *Instruction {
	return b.emit(&Instruction{Op: OpIte, Type: resultType, Operands: []Operand{cond, t, e}})
}
