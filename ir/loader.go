package ir

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/lookbusy1344/sbrace/symval"
	"github.com/lookbusy1344/sbrace/types"
)

// This file is the IR loader named in spec.md §6: "Consumes a lowered
// IR ... and produces the Program object used by the interpreter. The
// only contract required by the core is that the IR exposes the
// instruction, block, function, and global enumerations with the
// operations in §3." The teacher's loader.go turns a parsed assembly
// program into VM memory the same two-pass way this turns a JSON
// document into an ir.Program: create every named thing first, then
// resolve the forward references (branch targets, instruction refs)
// in a second pass, exactly as loader.LoadProgramIntoVM resolves label
// addresses only after every instruction has one.

// doc is the on-disk JSON shape of an input IR file.
type doc struct {
	PointerBitwidth int          `json:"pointer_bitwidth"`
	Globals         []globalDoc  `json:"globals"`
	Functions       []funcDoc    `json:"functions"`
}

type globalDoc struct {
	Name   string `json:"name"`
	Size   uint64 `json:"size"`
	Const  bool   `json:"const"`
	Zeroed bool   `json:"zeroed"`
}

type funcDoc struct {
	Name   string      `json:"name"`
	Params []string    `json:"params"` // type strings, see parseType
	Blocks []blockDoc  `json:"blocks"`
}

type blockDoc struct {
	Name         string       `json:"name"`
	Instructions []instrDoc   `json:"instructions"`
}

// instrDoc mirrors Instruction's tagged-union shape; only the fields
// relevant to instrDoc.Op are populated by an encoder.
type instrDoc struct {
	ID         string         `json:"id"` // local to the function, referenced by operandDoc.Ref
	Op         string         `json:"op"`
	Type       string         `json:"type"`
	Operands   []operandDoc   `json:"operands"`
	Predicate  string         `json:"predicate,omitempty"`
	Signedness string         `json:"signedness,omitempty"`
	CastKind   string         `json:"cast_kind,omitempty"`
	Lo         int            `json:"lo,omitempty"`
	Hi         int            `json:"hi,omitempty"`
	Mnemonic   string         `json:"mnemonic,omitempty"`
	Targets    []string       `json:"targets,omitempty"` // block names
	Cases      []caseDoc      `json:"cases,omitempty"`
	Default    string         `json:"default,omitempty"` // block name
	Callee     string         `json:"callee,omitempty"`  // function name
	RuntimeFn  string         `json:"runtime_fn,omitempty"`
}

type caseDoc struct {
	Value  constDoc `json:"value"`
	Target string   `json:"target"`
}

type operandDoc struct {
	Kind   string   `json:"kind"` // const, ref, global, param
	Const  constDoc `json:"const,omitempty"`
	Ref    string   `json:"ref,omitempty"`    // instrDoc.ID within the same function
	Global string   `json:"global,omitempty"` // global name
	Param  int      `json:"param,omitempty"`
}

type constDoc struct {
	Type string  `json:"type"`
	Bits uint64  `json:"bits,omitempty"`
	Bool bool    `json:"bool,omitempty"`
	Flt  float64 `json:"float,omitempty"`
	Byte []byte  `json:"bytes,omitempty"`
}

// Load decodes a JSON-encoded IR document into a Program.
func Load(r io.Reader) (*Program, error) {
	var d doc
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("decoding IR document: %w", err)
	}
	return build(&d)
}

func build(d *doc) (*Program, error) {
	prog := &Program{PointerBitwidth: d.PointerBitwidth}
	if prog.PointerBitwidth == 0 {
		prog.PointerBitwidth = 64
	}

	globalsByName := make(map[string]*Global, len(d.Globals))
	for i, gd := range d.Globals {
		g := &Global{ID: i, Name: gd.Name, Size: gd.Size, Const: gd.Const, Zeroed: gd.Zeroed}
		prog.Globals = append(prog.Globals, g)
		globalsByName[gd.Name] = g
	}

	funcsByName := make(map[string]*Function, len(d.Functions))
	for _, fd := range d.Functions {
		params := make([]types.Type, len(fd.Params))
		for i, p := range fd.Params {
			t, err := parseType(p)
			if err != nil {
				return nil, fmt.Errorf("function %s param %d: %w", fd.Name, i, err)
			}
			params[i] = t
		}
		f := &Function{Name: fd.Name, Params: params}
		prog.Functions = append(prog.Functions, f)
		funcsByName[fd.Name] = f
	}

	// Pass 1: create every block and every instruction (fields resolved
	// in pass 2), so forward references (a branch to a later block, a
	// use of a not-yet-built instruction) always find a target.
	type pending struct {
		instr  *Instruction
		doc    instrDoc
		fnName string
	}
	var toResolve []pending
	instrByID := make(map[string]*Instruction)
	blocksByName := make(map[*Function]map[string]*BasicBlock)

	for _, fd := range d.Functions {
		f := funcsByName[fd.Name]
		blocksByName[f] = make(map[string]*BasicBlock, len(fd.Blocks))
		for _, bd := range fd.Blocks {
			b := f.NewBlock(bd.Name)
			blocksByName[f][bd.Name] = b
			for _, id := range bd.Instructions {
				t, err := parseType(id.Type)
				if err != nil {
					return nil, fmt.Errorf("function %s block %s instruction %s: %w", fd.Name, bd.Name, id.ID, err)
				}
				instr := &Instruction{ID: f.allocInstrID(), Type: t, Block: b}
				b.Instructions = append(b.Instructions, instr)
				if id.ID != "" {
					instrByID[fd.Name+"."+id.ID] = instr
				}
				toResolve = append(toResolve, pending{instr: instr, doc: id, fnName: fd.Name})
			}
		}
	}

	// Pass 2: resolve op, operands, targets, cases now that every
	// instruction and block in the whole program exists.
	for _, p := range toResolve {
		if err := resolveInstr(p.instr, p.doc, p.fnName, funcsByName, globalsByName, instrByID, blocksByName[p.instr.Block.Func]); err != nil {
			return nil, err
		}
	}

	return prog, nil
}

func resolveInstr(instr *Instruction, d instrDoc, fnName string, funcs map[string]*Function, globals map[string]*Global, instrs map[string]*Instruction, blocks map[string]*BasicBlock) error {
	op, err := parseOp(d.Op)
	if err != nil {
		return fmt.Errorf("instruction %s: %w", d.ID, err)
	}
	instr.Op = op
	instr.Lo, instr.Hi = d.Lo, d.Hi
	instr.Mnemonic = d.Mnemonic
	instr.RuntimeFn = d.RuntimeFn

	if d.Predicate != "" {
		p, err := parsePredicate(d.Predicate)
		if err != nil {
			return fmt.Errorf("instruction %s: %w", d.ID, err)
		}
		instr.Predicate = p
	}
	if d.Signedness != "" {
		s, err := parseSignedness(d.Signedness)
		if err != nil {
			return fmt.Errorf("instruction %s: %w", d.ID, err)
		}
		instr.Signedness = s
	}
	if d.CastKind != "" {
		c, err := parseCastKind(d.CastKind)
		if err != nil {
			return fmt.Errorf("instruction %s: %w", d.ID, err)
		}
		instr.CastKind = c
	}

	resolveRef := func(localID string) (*Instruction, error) {
		full := fnName + "." + localID
		ref, ok := instrs[full]
		if !ok {
			return nil, fmt.Errorf("instruction %s: unresolved ref %q", d.ID, localID)
		}
		return ref, nil
	}
	resolveBlock := func(name string) (*BasicBlock, error) {
		b, ok := blocks[name]
		if !ok {
			return nil, fmt.Errorf("instruction %s: unresolved block %q", d.ID, name)
		}
		return b, nil
	}

	for _, od := range d.Operands {
		switch od.Kind {
		case "const":
			v, err := buildConst(od.Const)
			if err != nil {
				return fmt.Errorf("instruction %s: %w", d.ID, err)
			}
			instr.Operands = append(instr.Operands, ConstOperand(v))
		case "ref":
			ref, err := resolveRef(od.Ref)
			if err != nil {
				return err
			}
			instr.Operands = append(instr.Operands, RefOperand(ref))
		case "global":
			g, ok := globals[od.Global]
			if !ok {
				return fmt.Errorf("instruction %s: unresolved global %q", d.ID, od.Global)
			}
			instr.Operands = append(instr.Operands, GlobalOperand(g))
		case "param":
			instr.Operands = append(instr.Operands, ParamOperand(od.Param))
		default:
			return fmt.Errorf("instruction %s: unknown operand kind %q", d.ID, od.Kind)
		}
	}

	for _, name := range d.Targets {
		b, err := resolveBlock(name)
		if err != nil {
			return err
		}
		instr.Targets = append(instr.Targets, b)
	}

	for _, cd := range d.Cases {
		v, err := buildConst(cd.Value)
		if err != nil {
			return fmt.Errorf("instruction %s case: %w", d.ID, err)
		}
		b, err := resolveBlock(cd.Target)
		if err != nil {
			return err
		}
		instr.Cases = append(instr.Cases, SwitchCase{Value: v, Target: b})
	}
	if d.Default != "" {
		b, err := resolveBlock(d.Default)
		if err != nil {
			return err
		}
		instr.DefaultCase = b
	}

	if d.Callee != "" {
		callee, ok := funcs[d.Callee]
		if !ok {
			return fmt.Errorf("instruction %s: unresolved callee %q", d.ID, d.Callee)
		}
		instr.Callee = callee
	}

	return nil
}

func buildConst(c constDoc) (symval.Value, error) {
	t, err := parseType(c.Type)
	if err != nil {
		return symval.Value{}, err
	}
	switch t.Kind {
	case types.KindBitVec:
		return symval.ConcreteBitVec(t, c.Bits), nil
	case types.KindBool:
		return symval.ConcreteBool(c.Bool), nil
	case types.KindFloat:
		return symval.ConcreteFloat(t, c.Flt), nil
	case types.KindByteArray:
		return symval.ConcreteBytes(c.Byte), nil
	default:
		return symval.Value{}, fmt.Errorf("unsupported const type %q", c.Type)
	}
}

func parseType(s string) (types.Type, error) {
	if s == "" || s == "void" {
		return types.Void, nil
	}
	if s == "bool" {
		return types.Bool, nil
	}
	if s == "ptr" || s == "pointer" {
		return types.Pointer, nil
	}
	var width int
	var kindLetter byte
	if n, err := fmt.Sscanf(s, "i%d", &width); n == 1 && err == nil {
		kindLetter = 'i'
	} else if n, err := fmt.Sscanf(s, "f%d", &width); n == 1 && err == nil {
		kindLetter = 'f'
	} else if n, err := fmt.Sscanf(s, "bytes%d", &width); n == 1 && err == nil {
		kindLetter = 'b'
	} else {
		return types.Type{}, fmt.Errorf("unrecognized type %q", s)
	}
	switch kindLetter {
	case 'i':
		return types.BitVec(width), nil
	case 'f':
		return types.Float(width), nil
	case 'b':
		return types.ByteArray(width), nil
	}
	return types.Type{}, fmt.Errorf("unrecognized type %q", s)
}

func parseOp(s string) (Op, error) {
	ops := map[string]Op{
		"alloc": OpAlloc, "globalref": OpGlobalRef, "load": OpLoad, "store": OpStore,
		"binop": OpBinaryOp, "cmp": OpCmp, "branch": OpBranch, "switch": OpSwitch,
		"call": OpCall, "return": OpReturn, "thread": OpThread, "threadjoin": OpThreadJoin,
		"threadexit": OpThreadExit, "assert": OpAssert, "assume": OpAssume, "cast": OpCast,
		"extend": OpExtend, "extract": OpExtract, "ite": OpIte,
	}
	op, ok := ops[s]
	if !ok {
		return 0, fmt.Errorf("unrecognized op %q", s)
	}
	return op, nil
}

func parsePredicate(s string) (CmpPredicate, error) {
	preds := map[string]CmpPredicate{
		"le": PredLE, "lt": PredLT, "ge": PredGE, "gt": PredGT, "eq": PredEQ, "ne": PredNE,
	}
	p, ok := preds[s]
	if !ok {
		return 0, fmt.Errorf("unrecognized predicate %q", s)
	}
	return p, nil
}

func parseSignedness(s string) (Signedness, error) {
	switch s {
	case "unsigned":
		return Unsigned, nil
	case "signed":
		return Signed, nil
	case "unordered":
		return Unordered, nil
	default:
		return 0, fmt.Errorf("unrecognized signedness %q", s)
	}
}

func parseCastKind(s string) (CastKind, error) {
	switch s {
	case "reinterpret":
		return CastReinterpret, nil
	case "bitlevel":
		return CastBitLevel, nil
	default:
		return 0, fmt.Errorf("unrecognized cast kind %q", s)
	}
}
