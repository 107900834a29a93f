package symval_test

import (
	"testing"

	"github.com/lookbusy1344/sbrace/symval"
	"github.com/lookbusy1344/sbrace/types"
)

func TestConcreteBinOpFolds(t *testing.T) {
	m := symval.NewManager()
	i32 := types.BitVec(32)

	tests := []struct {
		name     string
		op       string
		a, b     uint64
		expected uint64
	}{
		{"add", "add", 2, 3, 5},
		{"sub", "sub", 10, 4, 6},
		{"mul", "mul", 6, 7, 42},
		{"and", "and", 0xFF, 0x0F, 0x0F},
		{"or", "or", 0xF0, 0x0F, 0xFF},
		{"xor", "xor", 0xFF, 0x0F, 0xF0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := symval.ConcreteBitVec(i32, tt.a)
			b := symval.ConcreteBitVec(i32, tt.b)
			result := m.BinOp(tt.op, i32, a, b)
			if !result.IsConcrete() {
				t.Fatalf("expected concrete result for %s", tt.op)
			}
			if result.Bits() != tt.expected {
				t.Errorf("%s(%d,%d) = %d, expected %d", tt.op, tt.a, tt.b, result.Bits(), tt.expected)
			}
		})
	}
}

func TestCmpPredicatesSigned(t *testing.T) {
	m := symval.NewManager()
	i32 := types.BitVec(32)
	negOne := symval.ConcreteBitVec(i32, 0xFFFFFFFF) // -1 as signed
	one := symval.ConcreteBitVec(i32, 1)

	if got := m.BinOp("slt", types.Bool, negOne, one); !got.Bool() {
		t.Errorf("signed -1 < 1 should be true")
	}
	if got := m.BinOp("lt", types.Bool, negOne, one); got.Bool() {
		t.Errorf("unsigned 0xFFFFFFFF < 1 should be false")
	}
}

func TestSymbolicBinOpDoesNotFold(t *testing.T) {
	m := symval.NewManager()
	i32 := types.BitVec(32)
	x := m.FreshSymbol("x", i32)
	five := symval.ConcreteBitVec(i32, 5)

	result := m.BinOp("add", i32, x, five)
	if !result.IsSymbolic() {
		t.Fatalf("expected symbolic result when an operand is symbolic")
	}
}

func TestValueEqualStructural(t *testing.T) {
	m := symval.NewManager()
	i32 := types.BitVec(32)
	x1 := m.FreshSymbol("x", i32)
	// FreshSymbol must never repeat a name within one manager.
	x2 := m.FreshSymbol("x", i32)
	if x1.Equal(x2) {
		t.Errorf("two distinct fresh symbols must not compare equal")
	}
	if !x1.Equal(x1) {
		t.Errorf("a value must equal itself")
	}
}

func TestSimplifyIsIdempotent(t *testing.T) {
	m := symval.NewManager()
	i32 := types.BitVec(32)
	x := m.FreshSymbol("x", i32)
	five := symval.ConcreteBitVec(i32, 5)
	expr := m.BinOp("add", i32, x, five)

	once := expr.Simplify()
	twice := once.Simplify()
	if !once.Equal(twice) {
		t.Errorf("Simplify must be idempotent")
	}
}

func TestIteFoldsOnConcreteCond(t *testing.T) {
	m := symval.NewManager()
	i32 := types.BitVec(32)
	a := symval.ConcreteBitVec(i32, 1)
	b := symval.ConcreteBitVec(i32, 2)

	if got := m.Ite(symval.ConcreteBool(true), a, b); !got.Equal(a) {
		t.Errorf("Ite(true, a, b) should be a")
	}
	if got := m.Ite(symval.ConcreteBool(false), a, b); !got.Equal(b) {
		t.Errorf("Ite(false, a, b) should be b")
	}
}
