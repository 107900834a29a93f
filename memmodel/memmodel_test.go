package memmodel_test

import (
	"testing"

	"github.com/lookbusy1344/sbrace/memmodel"
	"github.com/lookbusy1344/sbrace/symval"
	"github.com/lookbusy1344/sbrace/types"
)

func TestAllocateReadWriteRoundTrip(t *testing.T) {
	m := memmodel.NewSimple()
	id, err := m.Allocate(4, false, false, true)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	zero := symval.ConcreteBitVec(types.BitVec(32), 0)
	ptr := memmodel.Pointer{Obj: id, Offset: zero}

	val := symval.ConcreteBitVec(types.BitVec(32), 0xDEADBEEF)
	if err := m.Write(ptr, val); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := m.Read(ptr, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !got.Equal(val) {
		t.Errorf("Read() = %v, want %v", got, val)
	}
}

func TestOutOfBoundsRejected(t *testing.T) {
	m := memmodel.NewSimple()
	id, _ := m.Allocate(4, false, false, true)
	off := symval.ConcreteBitVec(types.BitVec(32), 4)
	if _, err := m.Read(memmodel.Pointer{Obj: id, Offset: off}, 4); err == nil {
		t.Errorf("expected out-of-bounds read to fail")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	m := memmodel.NewSimple()
	id, _ := m.Allocate(4, false, false, true)
	zero := symval.ConcreteBitVec(types.BitVec(32), 0)
	ptr := memmodel.Pointer{Obj: id, Offset: zero}

	clone := m.Clone()
	if err := m.Write(ptr, symval.ConcreteBitVec(types.BitVec(32), 7)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := clone.Read(ptr, 4)
	if err != nil {
		t.Fatalf("Read on clone: %v", err)
	}
	if got.Bits() != 0 {
		t.Errorf("clone should not observe the original's mutation, got %v", got.Bits())
	}
}
