package inspect

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/lookbusy1344/sbrace/ir"
	"github.com/lookbusy1344/sbrace/symval"
	"github.com/lookbusy1344/sbrace/trace"
	"github.com/lookbusy1344/sbrace/types"
)

func sampleTrace(t *testing.T) *trace.Trace {
	t.Helper()
	_, b := ir.NewProgram(32)
	f := b.Func("main")
	b.Block(f, "entry")
	g := b.Global("g", 4, true)
	ref := b.GlobalRef(g)
	store1 := b.Store(ir.RefOperand(ref), ir.ConstOperand(symval.ConcreteBitVec(types.BitVec(32), 1)))
	store2 := b.Store(ir.RefOperand(ref), ir.ConstOperand(symval.ConcreteBitVec(types.BitVec(32), 2)))

	tr := trace.New()
	tr.Append(0, store1, trace.Meta{})
	tr.Append(1, store2, trace.Meta{})
	return tr
}

func TestDumpProducesValidJSON(t *testing.T) {
	tr := sampleTrace(t)
	var buf bytes.Buffer
	if err := Dump(&buf, tr); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	var doc traceDoc
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if len(doc.Actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(doc.Actions))
	}
	if doc.Actions[0].TID != 0 || doc.Actions[1].TID != 1 {
		t.Errorf("unexpected tids: %+v", doc.Actions)
	}
}

func TestNewTUIPopulatesSequenceFromDoc(t *testing.T) {
	doc := &traceDoc{
		DataRace: true,
		Actions: []actionDoc{
			{Index: 0, TID: 0, Op: "OpMemStore"},
			{Index: 1, TID: 1, Op: "OpMemStore", Racist: []int{0}},
		},
	}
	tui := NewTUI(doc)
	if tui.SequenceView.GetItemCount() != 2 {
		t.Errorf("expected 2 list items, got %d", tui.SequenceView.GetItemCount())
	}
}

func TestJoinInts(t *testing.T) {
	if got := joinInts(nil); got != "(none)" {
		t.Errorf("expected (none) for empty slice, got %q", got)
	}
	if got := joinInts([]int{1, 2}); got != "1, 2" {
		t.Errorf("expected \"1, 2\", got %q", got)
	}
}
