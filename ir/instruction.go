package ir

import (
	"fmt"

	"github.com/lookbusy1344/sbrace/symval"
	"github.com/lookbusy1344/sbrace/types"
)

// Op is the closed tagged variant of instruction kinds the interpreter
// must implement (spec.md §3, §4.1).
type Op int

const (
	OpAlloc Op = iota
	OpGlobalRef
	OpLoad
	OpStore
	OpBinaryOp
	OpCmp
	OpBranch
	OpSwitch
	OpCall
	OpReturn
	OpThread     // spawn
	OpThreadJoin
	OpThreadExit
	OpAssert
	OpAssume
	OpCast
	OpExtend
	OpExtract
	OpIte
)

func (o Op) String() string {
	names := [...]string{
		"alloc", "globalref", "load", "store", "binop", "cmp", "branch",
		"switch", "call", "return", "thread", "threadjoin", "threadexit",
		"assert", "assume", "cast", "extend", "extract", "ite",
	}
	if int(o) < len(names) {
		return names[o]
	}
	return "unknown"
}

// OperandKind is the closed set of places an Operand's value can come
// from.
type OperandKind int

const (
	OperandConst OperandKind = iota
	OperandRef               // the result of another instruction (SSA use)
	OperandGlobal
	OperandParam // index into the current frame's bound arguments
)

// Operand is one use of a value by an instruction.
type Operand struct {
	Kind   OperandKind
	Const  symval.Value // valid when Kind == OperandConst
	Ref    *Instruction // valid when Kind == OperandRef
	Global *Global      // valid when Kind == OperandGlobal
	Param  int          // valid when Kind == OperandParam
}

// ConstOperand wraps a literal value as an operand.
func ConstOperand(v symval.Value) Operand { return Operand{Kind: OperandConst, Const: v} }

// RefOperand refers to the value produced by a previously-executed
// instruction.
func RefOperand(i *Instruction) Operand { return Operand{Kind: OperandRef, Ref: i} }

// GlobalOperand refers to a global's address.
func GlobalOperand(g *Global) Operand { return Operand{Kind: OperandGlobal, Global: g} }

// ParamOperand refers to the i-th bound argument of the current frame.
func ParamOperand(i int) Operand { return Operand{Kind: OperandParam, Param: i} }

func (o Operand) Type() types.Type {
	switch o.Kind {
	case OperandConst:
		return o.Const.Type
	case OperandRef:
		return o.Ref.Type
	case OperandGlobal:
		return types.Pointer
	default:
		return types.Void
	}
}

// CmpPredicate is the closed set of six comparison predicates (spec.md
// §4.1).
type CmpPredicate int

const (
	PredLE CmpPredicate = iota
	PredLT
	PredGE
	PredGT
	PredEQ
	PredNE
)

func (p CmpPredicate) String() string {
	return [...]string{"le", "lt", "ge", "gt", "eq", "ne"}[p]
}

// Signedness selects the signed/unsigned-or-unordered interpretation of
// a Cmp's operands.
type Signedness int

const (
	Unsigned Signedness = iota
	Signed
	Unordered // floating-point comparisons that may involve NaN
)

// CastKind distinguishes a reinterpreting cast from a bit-level cast
// (spec.md §4.1).
type CastKind int

const (
	CastReinterpret CastKind = iota
	CastBitLevel
)

// SwitchCase is one labeled arm of a Switch instruction.
type SwitchCase struct {
	Value  symval.Value
	Target *BasicBlock
}

// Instruction is a single tagged-union IR instruction. Every field below
// is meaningful only for the Op variants documented next to it; this
// mirrors a closed sum type without runtime reflection (spec.md §9:
// "Dynamic dispatch on instructions... replace with a tagged sum over
// instruction kinds").
type Instruction struct {
	ID    int
	Op    Op
	Type  types.Type // result type; types.Void for instructions with no result
	Block *BasicBlock

	Operands []Operand

	// OpCmp (Signedness is also read by OpExtend)
	Predicate  CmpPredicate
	Signedness Signedness

	// OpCast
	CastKind CastKind

	// OpExtract: half-open bit range [Lo, Hi)
	Lo, Hi int

	// OpBinaryOp / OpUnaryOp-shaped ops folded into OpBinaryOp (min,
	// max, fabs, isnan, isinf, classify, signbit, sqrt, round, floor,
	// ceil, trunc, neg, not — spec.md §4.1's "closed small set of
	// primitives" is modeled as BinaryOp mnemonics, unary ones simply
	// carrying a single operand; see DESIGN.md for this call).
	Mnemonic string

	// OpBranch: 1 target (unconditional, Operands empty) or 2 targets
	// (conditional on Operands[0]: [0]=true-target, [1]=false-target).
	Targets []*BasicBlock

	// OpSwitch
	Cases       []SwitchCase
	DefaultCase *BasicBlock

	// OpCall / OpThread (spawn)
	Callee    *Function // nil for a call to a recognized runtime function
	RuntimeFn string     // name from the whitelist in SPEC_FULL.md §4.2, when Callee is nil
}

// IsTerminator reports whether this instruction ends its basic block's
// control flow.
func (i *Instruction) IsTerminator() bool {
	switch i.Op {
	case OpBranch, OpSwitch, OpReturn, OpThreadExit:
		return true
	default:
		return false
	}
}

// Next returns the instruction following i in its block, or nil.
func (i *Instruction) Next() *Instruction {
	if i.Block == nil {
		return nil
	}
	return i.Block.Next(i)
}

func (i *Instruction) String() string {
	return fmt.Sprintf("%%%d = %s", i.ID, i.Op)
}
