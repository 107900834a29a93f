package tools

import (
	"testing"

	"github.com/lookbusy1344/sbrace/ir"
	"github.com/lookbusy1344/sbrace/symval"
	"github.com/lookbusy1344/sbrace/types"
)

func hasCode(issues []*LintIssue, code string) bool {
	for _, i := range issues {
		if i.Code == code {
			return true
		}
	}
	return false
}

func TestLintMissingEntry(t *testing.T) {
	prog, b := ir.NewProgram(32)
	f := b.Func("not_main")
	blk := b.Block(f, "entry")
	_ = blk
	b.Return(nil)

	issues := NewLinter(nil).Lint(prog)
	if !hasCode(issues, "MISSING_ENTRY") {
		t.Errorf("expected MISSING_ENTRY, got %+v", issues)
	}
}

func TestLintMissingTerminator(t *testing.T) {
	prog, b := ir.NewProgram(32)
	main := b.Func("main")
	b.Block(main, "entry")
	b.Alloc(ir.ConstOperand(symval.ConcreteBitVec(types.BitVec(32), 4)))
	// no terminator appended

	issues := NewLinter(nil).Lint(prog)
	if !hasCode(issues, "MISSING_TERMINATOR") {
		t.Errorf("expected MISSING_TERMINATOR, got %+v", issues)
	}
}

func TestLintUnreachableBlock(t *testing.T) {
	prog, b := ir.NewProgram(32)
	main := b.Func("main")
	b.Block(main, "entry")
	b.Return(nil)
	// "dead" is never targeted by any branch from entry.
	b.Block(main, "dead")
	b.Return(nil)

	issues := NewLinter(nil).Lint(prog)
	if !hasCode(issues, "UNREACHABLE_BLOCK") {
		t.Errorf("expected UNREACHABLE_BLOCK, got %+v", issues)
	}
}

func TestLintUnusedGlobal(t *testing.T) {
	prog, b := ir.NewProgram(32)
	b.Global("g", 4, true)
	main := b.Func("main")
	b.Block(main, "entry")
	b.Return(nil)

	issues := NewLinter(nil).Lint(prog)
	if !hasCode(issues, "UNUSED_GLOBAL") {
		t.Errorf("expected UNUSED_GLOBAL, got %+v", issues)
	}
}

func TestLintCleanProgramHasNoErrors(t *testing.T) {
	prog, b := ir.NewProgram(32)
	g := b.Global("g", 4, true)
	main := b.Func("main")
	b.Block(main, "entry")
	ref := b.GlobalRef(g)
	b.Store(ir.RefOperand(ref), ir.ConstOperand(symval.ConcreteBitVec(types.BitVec(32), 1)))
	b.Return(nil)

	issues := NewLinter(nil).Lint(prog)
	if HasErrors(issues) {
		t.Errorf("expected no errors, got %+v", issues)
	}
}
