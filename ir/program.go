// Package ir is the read-only-during-exploration intermediate
// representation the interpreter consumes (spec.md §3). A Program is an
// ordered sequence of Functions; a Function is an ordered sequence of
// BasicBlocks; a BasicBlock is an ordered sequence of Instructions.
package ir

import "github.com/lookbusy1344/sbrace/types"

// Program is the top-level container the front-end loader populates and
// the interpreter consumes by reference. It never mutates after loading;
// states clone their mutable structures and share the Program (spec.md
// §3: "States are cloned on every branching step; cloning is deep for
// mutable maps and shallow for the IR").
type Program struct {
	Functions []*Function
	Globals   []*Global
	// PointerBitwidth is the program's declared pointer width (CLI flag
	// -pointer-bitwidth, §6, overrides it). The interpreter does not
	// read it.
	PointerBitwidth int
}

// FunctionByName returns the function with the given name, or nil.
func (p *Program) FunctionByName(name string) *Function {
	for _, f := range p.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Entry returns the program's designated entry function, conventionally
// named "main".
func (p *Program) Entry() *Function {
	return p.FunctionByName("main")
}

// Global is a program-level global variable declaration.
type Global struct {
	ID     int
	Name   string
	Size   uint64
	Const  bool
	Zeroed bool
	// Init holds the global's initializer instructions, if any. Neither
	// the loader nor the builder fills it, and state.New does not run
	// it.
	Init []*Instruction
}

func (g *Global) Type() types.Type { return types.Pointer }

// Function is an ordered sequence of BasicBlocks.
type Function struct {
	Name   string
	Params []types.Type
	Blocks []*BasicBlock

	nextInstrID int
}

// NewBlock appends a new, empty basic block to the function and returns it.
func (f *Function) NewBlock(name string) *BasicBlock {
	b := &BasicBlock{Name: name, Func: f, Index: len(f.Blocks)}
	f.Blocks = append(f.Blocks, b)
	return b
}

func (f *Function) allocInstrID() int {
	f.nextInstrID++
	return f.nextInstrID
}

// BlockByName returns the named block, or nil.
func (f *Function) BlockByName(name string) *BasicBlock {
	for _, b := range f.Blocks {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// BasicBlock is an ordered sequence of Instructions. Control flow is
// defined by the branch structure of its terminating instruction.
type BasicBlock struct {
	Name         string
	Func         *Function
	Index        int
	Instructions []*Instruction
}

// First returns the block's first instruction, or nil if empty.
func (b *BasicBlock) First() *Instruction {
	if len(b.Instructions) == 0 {
		return nil
	}
	return b.Instructions[0]
}

// Next returns the instruction immediately following instr within its
// block, or nil if instr is the block's last instruction (spec.md §3:
// "Every Instruction has a stable identity and a `next` within its
// block").
func (b *BasicBlock) Next(instr *Instruction) *Instruction {
	for i, in := range b.Instructions {
		if in == instr {
			if i+1 < len(b.Instructions) {
				return b.Instructions[i+1]
			}
			return nil
		}
	}
	return nil
}

// Terminator returns the block's last instruction; in a well-formed
// block it is one of the ops Instruction.IsTerminator accepts (Branch,
// Switch, Return, ThreadExit).
func (b *BasicBlock) Terminator() *Instruction {
	if len(b.Instructions) == 0 {
		return nil
	}
	return b.Instructions[len(b.Instructions)-1]
}
