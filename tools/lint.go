// Package tools provides static checks over a loaded ir.Program, run
// before exploration starts so a malformed input IR (most likely one
// produced by ir.Load from a hand-written or buggy front-end JSON
// document) fails fast with a location instead of panicking or hanging
// partway through the driver.
//
// Grounded on the teacher's tools/lint.go: same LintLevel/LintIssue/
// LintOptions/Linter shape and the same "collect definitions, then
// check references against them" analysis structure, retargeted from
// assembly labels/registers onto IR blocks/globals/functions.
package tools

import (
	"fmt"
	"sort"

	"github.com/lookbusy1344/sbrace/ir"
)

// LintLevel is the severity of a lint finding.
type LintLevel int

const (
	LintError   LintLevel = iota // the program cannot be explored at all
	LintWarning                  // likely a mistake, but exploration can proceed
	LintInfo                     // a style/coverage observation
)

func (l LintLevel) String() string {
	switch l {
	case LintError:
		return "error"
	case LintWarning:
		return "warning"
	case LintInfo:
		return "info"
	default:
		return "unknown"
	}
}

// LintIssue is a single finding, located by function/block name rather
// than by source line since the IR has no source text of its own.
type LintIssue struct {
	Level    LintLevel
	Function string
	Block    string
	Message  string
	Code     string // e.g. "UNREACHABLE_BLOCK", "MISSING_TERMINATOR"
}

func (i *LintIssue) String() string {
	loc := i.Function
	if i.Block != "" {
		loc += "." + i.Block
	}
	return fmt.Sprintf("%s: %s: %s [%s]", loc, i.Level, i.Message, i.Code)
}

// LintOptions controls which passes Lint runs.
type LintOptions struct {
	CheckUnreachable   bool // flag blocks no branch/switch ever targets
	CheckUnusedGlobals bool // flag globals no instruction ever references
}

// DefaultLintOptions enables every pass.
func DefaultLintOptions() *LintOptions {
	return &LintOptions{CheckUnreachable: true, CheckUnusedGlobals: true}
}

// Linter analyzes an ir.Program for structural issues.
type Linter struct {
	options *LintOptions
	issues  []*LintIssue
	prog    *ir.Program
}

// NewLinter creates a Linter; a nil options uses DefaultLintOptions.
func NewLinter(options *LintOptions) *Linter {
	if options == nil {
		options = DefaultLintOptions()
	}
	return &Linter{options: options}
}

// Lint runs every enabled pass over prog and returns every issue found.
// LintError findings mean the program must not be explored: the entry
// function is missing, a block lacks a terminator, or a branch/call
// targets something that does not exist.
func (l *Linter) Lint(prog *ir.Program) []*LintIssue {
	l.prog = prog
	l.issues = nil

	if prog.Entry() == nil {
		l.issues = append(l.issues, &LintIssue{
			Level:   LintError,
			Message: `no "main" function`,
			Code:    "MISSING_ENTRY",
		})
	}

	for _, f := range prog.Functions {
		l.checkTerminators(f)
		l.checkCallees(f)
	}

	if l.options.CheckUnreachable {
		for _, f := range prog.Functions {
			l.checkUnreachableBlocks(f)
		}
	}
	if l.options.CheckUnusedGlobals {
		l.checkUnusedGlobals()
	}

	sort.SliceStable(l.issues, func(i, j int) bool { return l.issues[i].Level < l.issues[j].Level })
	return l.issues
}

func (l *Linter) checkTerminators(f *ir.Function) {
	for _, b := range f.Blocks {
		term := b.Terminator()
		if term == nil {
			l.issues = append(l.issues, &LintIssue{
				Level: LintError, Function: f.Name, Block: b.Name,
				Message: "block has no instructions", Code: "EMPTY_BLOCK",
			})
			continue
		}
		if !term.IsTerminator() {
			l.issues = append(l.issues, &LintIssue{
				Level: LintError, Function: f.Name, Block: b.Name,
				Message: fmt.Sprintf("block's last instruction (%s) is not a terminator", term.Op),
				Code:    "MISSING_TERMINATOR",
			})
		}
	}
}

func (l *Linter) checkCallees(f *ir.Function) {
	for _, b := range f.Blocks {
		for _, instr := range b.Instructions {
			switch instr.Op {
			case ir.OpCall, ir.OpThread:
				if instr.Callee == nil && instr.RuntimeFn == "" {
					l.issues = append(l.issues, &LintIssue{
						Level: LintError, Function: f.Name, Block: b.Name,
						Message: fmt.Sprintf("%s has neither a callee function nor a runtime function name", instr.Op),
						Code:    "UNRESOLVED_CALLEE",
					})
				}
			}
		}
	}
}

func (l *Linter) checkUnreachableBlocks(f *ir.Function) {
	if len(f.Blocks) == 0 {
		return
	}
	reachable := map[string]bool{f.Blocks[0].Name: true}
	worklist := []*ir.BasicBlock{f.Blocks[0]}
	for len(worklist) > 0 {
		b := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		term := b.Terminator()
		if term == nil {
			continue
		}
		for _, succ := range successorsOf(term) {
			if !reachable[succ.Name] {
				reachable[succ.Name] = true
				worklist = append(worklist, succ)
			}
		}
	}
	for _, b := range f.Blocks {
		if !reachable[b.Name] {
			l.issues = append(l.issues, &LintIssue{
				Level: LintWarning, Function: f.Name, Block: b.Name,
				Message: "block is not reachable from the function's entry block",
				Code:    "UNREACHABLE_BLOCK",
			})
		}
	}
}

func successorsOf(term *ir.Instruction) []*ir.BasicBlock {
	switch term.Op {
	case ir.OpBranch:
		return term.Targets
	case ir.OpSwitch:
		out := make([]*ir.BasicBlock, 0, len(term.Cases)+1)
		for _, c := range term.Cases {
			out = append(out, c.Target)
		}
		if term.DefaultCase != nil {
			out = append(out, term.DefaultCase)
		}
		return out
	default:
		return nil
	}
}

func (l *Linter) checkUnusedGlobals() {
	used := make(map[string]bool)
	for _, f := range l.prog.Functions {
		for _, b := range f.Blocks {
			for _, instr := range b.Instructions {
				for _, op := range instr.Operands {
					if op.Kind == ir.OperandGlobal && op.Global != nil {
						used[op.Global.Name] = true
					}
				}
			}
		}
	}
	for _, g := range l.prog.Globals {
		if !used[g.Name] {
			l.issues = append(l.issues, &LintIssue{
				Level:   LintInfo,
				Message: fmt.Sprintf("global %q is never referenced", g.Name),
				Code:    "UNUSED_GLOBAL",
			})
		}
	}
}

// HasErrors reports whether any LintError-level issue was found.
func HasErrors(issues []*LintIssue) bool {
	for _, i := range issues {
		if i.Level == LintError {
			return true
		}
	}
	return false
}
