package tools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lookbusy1344/sbrace/ir"
)

// ReferenceType indicates how a symbol is used at a given site.
type ReferenceType int

const (
	RefDefinition ReferenceType = iota // the function/global's own declaration
	RefCall                            // OpCall target
	RefThread                          // OpThread (spawn) target
	RefLoad                            // OpLoad from a global's address
	RefStore                           // OpStore to a global's address
	RefGlobalRef                       // OpGlobalRef taking a global's address without load/store
)

func (r ReferenceType) String() string {
	switch r {
	case RefDefinition:
		return "definition"
	case RefCall:
		return "call"
	case RefThread:
		return "thread"
	case RefLoad:
		return "load"
	case RefStore:
		return "store"
	case RefGlobalRef:
		return "globalref"
	default:
		return "unknown"
	}
}

// Reference locates a single use of a symbol. The IR has no source text
// of its own, so a site is named by function/block/instruction rather
// than by line and column.
type Reference struct {
	Type     ReferenceType
	Function string
	Block    string
	InstrID  int
}

// Symbol is a function or global and every site that defines or
// references it.
type Symbol struct {
	Name       string
	IsFunction bool
	IsGlobal   bool
	Definition *Reference
	References []*Reference
}

// XRefGenerator builds a cross-reference table over an ir.Program.
type XRefGenerator struct {
	prog    *ir.Program
	symbols map[string]*Symbol
}

// NewXRefGenerator creates an empty XRefGenerator.
func NewXRefGenerator() *XRefGenerator {
	return &XRefGenerator{symbols: make(map[string]*Symbol)}
}

// Generate walks prog and returns every function and global it declares,
// each carrying its definition site and every instruction that refers to
// it by name.
func (x *XRefGenerator) Generate(prog *ir.Program) map[string]*Symbol {
	x.prog = prog
	x.symbols = make(map[string]*Symbol)

	x.collectDefinitions()
	x.collectReferences()

	return x.symbols
}

func (x *XRefGenerator) collectDefinitions() {
	for _, f := range x.prog.Functions {
		x.symbols[f.Name] = &Symbol{
			Name:       f.Name,
			IsFunction: true,
			Definition: &Reference{Type: RefDefinition, Function: f.Name},
		}
	}
	for _, g := range x.prog.Globals {
		x.symbols[g.Name] = &Symbol{
			Name:       g.Name,
			IsGlobal:   true,
			Definition: &Reference{Type: RefDefinition},
		}
	}
}

func (x *XRefGenerator) collectReferences() {
	for _, f := range x.prog.Functions {
		for _, b := range f.Blocks {
			for _, instr := range b.Instructions {
				x.collectInstrReferences(f, b, instr)
			}
		}
	}
}

func (x *XRefGenerator) collectInstrReferences(f *ir.Function, b *ir.BasicBlock, instr *ir.Instruction) {
	switch instr.Op {
	case ir.OpCall:
		if instr.Callee != nil {
			x.addReference(instr.Callee.Name, RefCall, f.Name, b.Name, instr.ID)
		}
	case ir.OpThread:
		if instr.Callee != nil {
			x.addReference(instr.Callee.Name, RefThread, f.Name, b.Name, instr.ID)
		}
	case ir.OpLoad:
		if g := globalOperand(instr.Operands); g != nil {
			x.addReference(g.Name, RefLoad, f.Name, b.Name, instr.ID)
		}
	case ir.OpStore:
		if g := globalOperand(instr.Operands); g != nil {
			x.addReference(g.Name, RefStore, f.Name, b.Name, instr.ID)
		}
	case ir.OpGlobalRef:
		if g := globalOperand(instr.Operands); g != nil {
			x.addReference(g.Name, RefGlobalRef, f.Name, b.Name, instr.ID)
		}
	}

	// Any instruction may additionally carry a global operand (e.g. as
	// an argument to a call); record those too.
	for _, op := range instr.Operands {
		if op.Kind == ir.OperandGlobal && op.Global != nil {
			x.addReference(op.Global.Name, RefGlobalRef, f.Name, b.Name, instr.ID)
		}
	}
}

// globalOperand returns the first global among ops, named directly or
// through the result of a GlobalRef instruction, or nil.
func globalOperand(ops []ir.Operand) *ir.Global {
	for _, op := range ops {
		if op.Kind == ir.OperandRef && op.Ref != nil && op.Ref.Op == ir.OpGlobalRef && len(op.Ref.Operands) > 0 {
			op = op.Ref.Operands[0]
		}
		if op.Kind == ir.OperandGlobal && op.Global != nil {
			return op.Global
		}
	}
	return nil
}

func (x *XRefGenerator) addReference(name string, refType ReferenceType, function, block string, instrID int) {
	sym, exists := x.symbols[name]
	if !exists {
		// A callee or global operand should always resolve to a
		// symbol collected above; fall back to an undefined entry
		// rather than dropping the reference.
		sym = &Symbol{Name: name}
		x.symbols[name] = sym
	}
	sym.References = append(sym.References, &Reference{
		Type: refType, Function: function, Block: block, InstrID: instrID,
	})
}

// GetSymbols returns every symbol collected by the most recent Generate.
func (x *XRefGenerator) GetSymbols() map[string]*Symbol {
	return x.symbols
}

// GetSymbol returns a specific symbol by name.
func (x *XRefGenerator) GetSymbol(name string) (*Symbol, bool) {
	sym, exists := x.symbols[name]
	return sym, exists
}

// GetFunctions returns every function symbol, sorted by name.
func (x *XRefGenerator) GetFunctions() []*Symbol {
	out := make([]*Symbol, 0)
	for _, sym := range x.symbols {
		if sym.IsFunction {
			out = append(out, sym)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetUnusedGlobals returns every global symbol with no references.
func (x *XRefGenerator) GetUnusedGlobals() []*Symbol {
	out := make([]*Symbol, 0)
	for _, sym := range x.symbols {
		if sym.IsGlobal && len(sym.References) == 0 {
			out = append(out, sym)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// XRefReport renders a cross-reference table as text.
type XRefReport struct {
	symbols []*Symbol
}

// NewXRefReport sorts symbols by name for stable output.
func NewXRefReport(symbols map[string]*Symbol) *XRefReport {
	sorted := make([]*Symbol, 0, len(symbols))
	for _, sym := range symbols {
		sorted = append(sorted, sym)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &XRefReport{symbols: sorted}
}

func (r *XRefReport) String() string {
	var sb strings.Builder

	sb.WriteString("Symbol Cross-Reference\n")
	sb.WriteString("=======================\n\n")

	for _, sym := range r.symbols {
		sb.WriteString(fmt.Sprintf("%-24s", sym.Name))
		switch {
		case sym.IsFunction:
			sb.WriteString(" [function]")
		case sym.IsGlobal:
			sb.WriteString(" [global]")
		default:
			sb.WriteString(" [undefined]")
		}
		sb.WriteString("\n")

		if sym.Definition == nil {
			sb.WriteString("  Defined:     (undefined)\n")
		} else {
			sb.WriteString("  Defined:     yes\n")
		}

		if len(sym.References) == 0 {
			sb.WriteString("  Referenced:  (never)\n")
		} else {
			sb.WriteString(fmt.Sprintf("  Referenced:  %d site(s)\n", len(sym.References)))
			byType := make(map[ReferenceType][]*Reference)
			for _, ref := range sym.References {
				byType[ref.Type] = append(byType[ref.Type], ref)
			}
			for _, refType := range []ReferenceType{RefCall, RefThread, RefLoad, RefStore, RefGlobalRef} {
				refs := byType[refType]
				if len(refs) == 0 {
					continue
				}
				sites := make([]string, len(refs))
				for i, ref := range refs {
					sites[i] = fmt.Sprintf("%s.%s#%d", ref.Function, ref.Block, ref.InstrID)
				}
				sb.WriteString(fmt.Sprintf("    %-10s: %s\n", refType.String(), strings.Join(sites, ", ")))
			}
		}
		sb.WriteString("\n")
	}

	var defined, undefined, unused, functions int
	for _, sym := range r.symbols {
		if sym.Definition != nil {
			defined++
		} else {
			undefined++
		}
		if len(sym.References) == 0 {
			unused++
		}
		if sym.IsFunction {
			functions++
		}
	}
	sb.WriteString("Summary\n")
	sb.WriteString("=======\n")
	sb.WriteString(fmt.Sprintf("Total symbols:     %d\n", len(r.symbols)))
	sb.WriteString(fmt.Sprintf("Defined:           %d\n", defined))
	sb.WriteString(fmt.Sprintf("Undefined:         %d\n", undefined))
	sb.WriteString(fmt.Sprintf("Unused:            %d\n", unused))
	sb.WriteString(fmt.Sprintf("Functions:         %d\n", functions))

	return sb.String()
}

// GenerateXRef is a convenience wrapper building a full text report.
func GenerateXRef(prog *ir.Program) string {
	gen := NewXRefGenerator()
	symbols := gen.Generate(prog)
	return NewXRefReport(symbols).String()
}
