// Package symval implements the symbolic value domain used throughout the
// engine: every value flowing through the interpreter is either a
// concrete bitvector/bool/float/bytes, or a symbolic expression tree over
// a set of free symbols (spec.md §3, "Symbolic value"). Equality is
// structural and simplification is idempotent, per the same section.
package symval

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/lookbusy1344/sbrace/types"
)

// Kind distinguishes a concrete value from a symbolic expression.
type Kind int

const (
	KindConcrete Kind = iota
	KindSymbolic
)

// Value is either a concrete bitvector/bool/float/byte-array, or a
// symbolic expression tree. It is an immutable value type: operations
// never mutate a Value in place, they return a new one.
type Value struct {
	Type types.Type
	kind Kind

	// concrete payload, meaningful only when kind == KindConcrete.
	// bits holds bitvector and bool payloads (bools are 0/1); fbits
	// holds float payloads; bytes holds KindByteArray payloads.
	bits  uint64
	fbits float64
	bytes []byte

	// expr holds the symbolic expression tree, meaningful only when
	// kind == KindSymbolic.
	expr *Expr
}

// IsConcrete reports whether the value has no free symbols.
func (v Value) IsConcrete() bool { return v.kind == KindConcrete }

// IsSymbolic reports whether the value contains at least one free symbol.
func (v Value) IsSymbolic() bool { return v.kind == KindSymbolic }

// ConcreteBitVec builds a concrete bitvector value, masked to its width.
func ConcreteBitVec(t types.Type, val uint64) Value {
	return Value{Type: t, kind: KindConcrete, bits: maskTo(val, t.Width)}
}

// ConcreteBool builds a concrete boolean value.
func ConcreteBool(b bool) Value {
	v := uint64(0)
	if b {
		v = 1
	}
	return Value{Type: types.Bool, kind: KindConcrete, bits: v}
}

// ConcreteFloat builds a concrete IEEE-754 float value.
func ConcreteFloat(t types.Type, f float64) Value {
	return Value{Type: t, kind: KindConcrete, fbits: f}
}

// ConcreteBytes builds a concrete byte-array value.
func ConcreteBytes(b []byte) Value {
	cp := append([]byte(nil), b...)
	return Value{Type: types.ByteArray(len(b)), kind: KindConcrete, bytes: cp}
}

// Symbolic wraps an expression tree as a symbolic value of type t.
func Symbolic(t types.Type, e *Expr) Value {
	return Value{Type: t, kind: KindSymbolic, expr: e}
}

func maskTo(v uint64, width int) uint64 {
	if width <= 0 || width >= 64 {
		return v
	}
	return v & ((uint64(1) << uint(width)) - 1)
}

// Bits returns the raw concrete bitvector/bool payload. Only meaningful
// when IsConcrete is true and Type.Kind is KindBitVec or KindBool.
func (v Value) Bits() uint64 { return v.bits }

// Float64 returns the raw concrete float payload. Only meaningful when
// IsConcrete is true and Type.Kind is KindFloat.
func (v Value) Float64() float64 { return v.fbits }

// Bytes returns the raw concrete byte-array payload. Only meaningful when
// IsConcrete is true and Type.Kind is KindByteArray.
func (v Value) Bytes() []byte { return v.bytes }

// Bool reports the concrete boolean payload as a Go bool.
func (v Value) Bool() bool { return v.bits != 0 }

// Expr returns the symbolic expression tree. Only meaningful when
// IsSymbolic is true.
func (v Value) Expr() *Expr { return v.expr }

// Equal reports structural equality: two concrete values of the same
// type and payload are equal; two symbolic values are equal iff their
// expression trees are structurally identical.
func (v Value) Equal(o Value) bool {
	if !v.Type.Equal(o.Type) || v.kind != o.kind {
		return false
	}
	if v.kind == KindConcrete {
		switch v.Type.Kind {
		case types.KindFloat:
			return v.fbits == o.fbits
		case types.KindByteArray:
			return string(v.bytes) == string(o.bytes)
		default:
			return v.bits == o.bits
		}
	}
	return v.expr.Equal(o.expr)
}

// Simplify applies idempotent local rewrites (constant folding of
// sub-expressions whose operands are all literals) without consulting
// the solver; identities such as x+0 are not eliminated. Concrete
// values simplify to themselves.
func (v Value) Simplify() Value {
	if v.IsConcrete() {
		return v
	}
	return Symbolic(v.Type, v.expr.simplify())
}

func (v Value) String() string {
	if v.IsConcrete() {
		switch v.Type.Kind {
		case types.KindBool:
			return fmt.Sprintf("%t", v.Bool())
		case types.KindFloat:
			return fmt.Sprintf("%v", v.fbits)
		case types.KindByteArray:
			return fmt.Sprintf("bytes(%d)", len(v.bytes))
		default:
			return fmt.Sprintf("0x%x:%s", v.bits, v.Type)
		}
	}
	return v.expr.String()
}

// ExprOp is the closed set of symbolic expression node kinds.
type ExprOp int

const (
	ExprSymbol ExprOp = iota
	ExprLiteral
	ExprUnary
	ExprBinary
	ExprIte
)

// Expr is a node in a symbolic expression tree. Leaves are either a free
// symbol (ExprSymbol) or an embedded concrete value (ExprLiteral);
// interior nodes are an operator applied to sub-expressions.
type Expr struct {
	Op   ExprOp
	Sym  string  // meaningful when Op == ExprSymbol
	Lit  Value   // meaningful when Op == ExprLiteral
	Name string  // operator mnemonic, meaningful for ExprUnary/ExprBinary/ExprIte
	Args []*Expr // operands
}

func symbolLeaf(name string) *Expr { return &Expr{Op: ExprSymbol, Sym: name} }

func literalLeaf(v Value) *Expr { return &Expr{Op: ExprLiteral, Lit: v} }

// Equal reports structural equality between two expression trees.
func (e *Expr) Equal(o *Expr) bool {
	if e == o {
		return true
	}
	if e == nil || o == nil {
		return false
	}
	if e.Op != o.Op || e.Name != o.Name {
		return false
	}
	switch e.Op {
	case ExprSymbol:
		return e.Sym == o.Sym
	case ExprLiteral:
		return e.Lit.Equal(o.Lit)
	default:
		if len(e.Args) != len(o.Args) {
			return false
		}
		for i := range e.Args {
			if !e.Args[i].Equal(o.Args[i]) {
				return false
			}
		}
		return true
	}
}

// simplify folds sub-trees whose operands are all literals into a single
// literal, by re-evaluating through the concrete operator table. It is
// idempotent: simplifying an already-simplified tree is a no-op.
func (e *Expr) simplify() *Expr {
	if e.Op != ExprUnary && e.Op != ExprBinary && e.Op != ExprIte {
		return e
	}
	args := make([]*Expr, len(e.Args))
	allLiteral := true
	for i, a := range e.Args {
		args[i] = a.simplify()
		if args[i].Op != ExprLiteral {
			allLiteral = false
		}
	}
	if !allLiteral {
		return &Expr{Op: e.Op, Name: e.Name, Args: args}
	}
	vals := make([]Value, len(args))
	for i, a := range args {
		vals[i] = a.Lit
	}
	if folded, ok := foldConcrete(e.Op, e.Name, vals); ok {
		return literalLeaf(folded)
	}
	return &Expr{Op: e.Op, Name: e.Name, Args: args}
}

func (e *Expr) String() string {
	switch e.Op {
	case ExprSymbol:
		return e.Sym
	case ExprLiteral:
		return e.Lit.String()
	case ExprIte:
		return fmt.Sprintf("(ite %s %s %s)", e.Args[0], e.Args[1], e.Args[2])
	default:
		parts := make([]string, len(e.Args))
		for i, a := range e.Args {
			parts[i] = a.String()
		}
		return fmt.Sprintf("(%s %s)", e.Name, strings.Join(parts, " "))
	}
}

// Manager is the session object that owns fresh-symbol naming (spec.md
// §9: "id counters are per-session atomics" rather than package globals).
// One Manager is created per engine.Session and threaded explicitly into
// every component that needs to mint a new free symbol. The counter is
// an atomic, matching state.IDAllocator, so sibling-subtree parallelism
// (SPEC_FULL.md's -threads-dpor) can share one Manager across workers.
type Manager struct {
	counter uint64
}

// NewManager creates a fresh symbol-naming manager.
func NewManager() *Manager { return &Manager{} }

// FreshSymbol mints a new symbolic value of type t with a name derived
// from prefix, guaranteed unique within this Manager's lifetime.
func (m *Manager) FreshSymbol(prefix string, t types.Type) Value {
	n := atomic.AddUint64(&m.counter, 1)
	name := fmt.Sprintf("%s_%d", prefix, n)
	return Symbolic(t, symbolLeaf(name))
}

// BinOp applies a binary operator to two values, folding to a concrete
// result when both operands are concrete and building a symbolic
// expression node otherwise.
func (m *Manager) BinOp(name string, resultType types.Type, a, b Value) Value {
	if a.IsConcrete() && b.IsConcrete() {
		if v, ok := foldConcrete(ExprBinary, name, []Value{a, b}); ok {
			return v
		}
	}
	return Symbolic(resultType, (&Expr{Op: ExprBinary, Name: name, Args: []*Expr{toExprLeaf(a), toExprLeaf(b)}}).simplify())
}

// UnaryOp applies a unary operator to a value, folding to a concrete
// result when the operand is concrete.
func (m *Manager) UnaryOp(name string, resultType types.Type, a Value) Value {
	if a.IsConcrete() {
		if v, ok := foldConcrete(ExprUnary, name, []Value{a}); ok {
			return v
		}
	}
	return Symbolic(resultType, (&Expr{Op: ExprUnary, Name: name, Args: []*Expr{toExprLeaf(a)}}).simplify())
}

// Ite builds a value for "if cond then t else e", folding when cond is
// concrete.
func (m *Manager) Ite(cond, t, e Value) Value {
	if cond.IsConcrete() {
		if cond.Bool() {
			return t
		}
		return e
	}
	return Symbolic(t.Type, &Expr{Op: ExprIte, Args: []*Expr{toExprLeaf(cond), toExprLeaf(t), toExprLeaf(e)}})
}

func toExprLeaf(v Value) *Expr {
	if v.IsSymbolic() {
		return v.expr
	}
	return literalLeaf(v)
}

// foldConcrete evaluates an operator over concrete leaf values. It
// implements the BinaryOp/Cmp/float-primitive concrete semantics of
// spec.md §4.1: bitvector arithmetic/logic, the six Cmp predicates, and
// the closed set of IEEE-754 float primitives.
func foldConcrete(op ExprOp, name string, args []Value) (Value, bool) {
	switch op {
	case ExprBinary:
		return foldBinary(name, args[0], args[1])
	case ExprUnary:
		return foldUnary(name, args[0])
	default:
		return Value{}, false
	}
}

func foldBinary(name string, a, b Value) (Value, bool) {
	switch a.Type.Kind {
	case types.KindFloat:
		return foldFloatBinary(name, a, b)
	case types.KindBool:
		return foldBoolBinary(name, a, b)
	default:
		return foldBitVecBinary(name, a, b)
	}
}

func foldBitVecBinary(name string, a, b Value) (Value, bool) {
	x, y := a.Bits(), b.Bits()
	switch name {
	case "add":
		return ConcreteBitVec(a.Type, x+y), true
	case "sub":
		return ConcreteBitVec(a.Type, x-y), true
	case "mul":
		return ConcreteBitVec(a.Type, x*y), true
	case "udiv":
		if y == 0 {
			return Value{}, false
		}
		return ConcreteBitVec(a.Type, x/y), true
	case "urem":
		if y == 0 {
			return Value{}, false
		}
		return ConcreteBitVec(a.Type, x%y), true
	case "and":
		return ConcreteBitVec(a.Type, x&y), true
	case "or":
		return ConcreteBitVec(a.Type, x|y), true
	case "xor":
		return ConcreteBitVec(a.Type, x^y), true
	case "shl":
		return ConcreteBitVec(a.Type, x<<uint(y)), true
	case "lshr":
		return ConcreteBitVec(a.Type, x>>uint(y)), true
	case "le":
		return ConcreteBool(x <= y), true
	case "lt":
		return ConcreteBool(x < y), true
	case "ge":
		return ConcreteBool(x >= y), true
	case "gt":
		return ConcreteBool(x > y), true
	case "eq":
		return ConcreteBool(x == y), true
	case "ne":
		return ConcreteBool(x != y), true
	case "sle", "slt", "sge", "sgt":
		sx, sy := signExtend(x, a.Type.Width), signExtend(y, a.Type.Width)
		switch name {
		case "sle":
			return ConcreteBool(sx <= sy), true
		case "slt":
			return ConcreteBool(sx < sy), true
		case "sge":
			return ConcreteBool(sx >= sy), true
		default:
			return ConcreteBool(sx > sy), true
		}
	default:
		return Value{}, false
	}
}

func signExtend(v uint64, width int) int64 {
	if width <= 0 || width >= 64 {
		return int64(v)
	}
	shift := uint(64 - width)
	return int64(v<<shift) >> shift
}

func foldBoolBinary(name string, a, b Value) (Value, bool) {
	x, y := a.Bool(), b.Bool()
	switch name {
	case "and":
		return ConcreteBool(x && y), true
	case "or":
		return ConcreteBool(x || y), true
	case "xor":
		return ConcreteBool(x != y), true
	case "eq":
		return ConcreteBool(x == y), true
	case "ne":
		return ConcreteBool(x != y), true
	default:
		return Value{}, false
	}
}

func foldFloatBinary(name string, a, b Value) (Value, bool) {
	x, y := a.Float64(), b.Float64()
	switch name {
	case "add":
		return ConcreteFloat(a.Type, x+y), true
	case "sub":
		return ConcreteFloat(a.Type, x-y), true
	case "mul":
		return ConcreteFloat(a.Type, x*y), true
	case "div":
		return ConcreteFloat(a.Type, x/y), true
	case "min":
		return ConcreteFloat(a.Type, math.Min(x, y)), true
	case "max":
		return ConcreteFloat(a.Type, math.Max(x, y)), true
	case "eq":
		return ConcreteBool(x == y), true
	case "ne":
		return ConcreteBool(x != y), true
	case "lt":
		return ConcreteBool(x < y), true
	case "le":
		return ConcreteBool(x <= y), true
	case "gt":
		return ConcreteBool(x > y), true
	case "ge":
		return ConcreteBool(x >= y), true
	default:
		return Value{}, false
	}
}

func foldUnary(name string, a Value) (Value, bool) {
	switch a.Type.Kind {
	case types.KindFloat:
		x := a.Float64()
		switch name {
		case "fabs":
			return ConcreteFloat(a.Type, math.Abs(x)), true
		case "sqrt":
			return ConcreteFloat(a.Type, math.Sqrt(x)), true
		case "round":
			return ConcreteFloat(a.Type, math.Round(x)), true
		case "floor":
			return ConcreteFloat(a.Type, math.Floor(x)), true
		case "ceil":
			return ConcreteFloat(a.Type, math.Ceil(x)), true
		case "trunc":
			return ConcreteFloat(a.Type, math.Trunc(x)), true
		case "isnan":
			return ConcreteBool(math.IsNaN(x)), true
		case "isinf":
			return ConcreteBool(math.IsInf(x, 0)), true
		case "signbit":
			return ConcreteBool(math.Signbit(x)), true
		default:
			return Value{}, false
		}
	default:
		switch name {
		case "neg":
			return ConcreteBitVec(a.Type, uint64(-int64(a.Bits()))), true
		case "not":
			return ConcreteBitVec(a.Type, ^a.Bits()), true
		default:
			return Value{}, false
		}
	}
}
