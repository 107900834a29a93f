package ir_test

import (
	"testing"

	"github.com/lookbusy1344/sbrace/ir"
	"github.com/lookbusy1344/sbrace/symval"
	"github.com/lookbusy1344/sbrace/types"
)

func TestBuilderProducesLinkedBlocks(t *testing.T) {
	prog, b := ir.NewProgram(32)
	g := b.Global("counter", 4, true)
	main := b.Func("main")
	entry := b.Block(main, "entry")

	ptr := b.GlobalRef(g)
	val := b.Load(ir.RefOperand(ptr), types.BitVec(32))
	one := ir.ConstOperand(symval.ConcreteBitVec(types.BitVec(32), 1))
	sum := b.BinOp("add", types.BitVec(32), ir.RefOperand(val), one)
	b.Store(ir.RefOperand(ptr), ir.RefOperand(sum))
	b.Return(nil)

	if len(prog.Functions) != 1 {
		t.Fatalf("expected 1 function, got %d", len(prog.Functions))
	}
	if entry.Terminator().Op != ir.OpReturn {
		t.Errorf("expected block to terminate in return, got %s", entry.Terminator().Op)
	}
	if got := entry.Next(ptr); got != val {
		t.Errorf("Next(ptr) should be the load instruction")
	}
	if entry.Next(entry.Terminator()) != nil {
		t.Errorf("Next of the last instruction must be nil")
	}
}

func TestProgramEntryLookup(t *testing.T) {
	prog, b := ir.NewProgram(64)
	main := b.Func("main")
	b.Block(main, "entry")
	b.Return(nil)

	if prog.Entry() != main {
		t.Errorf("Entry() should resolve the function named main")
	}
	if prog.FunctionByName("missing") != nil {
		t.Errorf("FunctionByName should return nil for unknown names")
	}
}
