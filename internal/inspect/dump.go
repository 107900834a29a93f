// Package inspect implements -inspect <trace.json>: a read-only
// tcell/tview TUI for post-hoc browsing of a previously dumped trace's
// happens-before graph and backtrack witnesses (SPEC_FULL.md §6).
//
// Grounded on the teacher's debugger/tui.go layout idiom (a tview.Flex
// of bordered TextView panels plus a single global key handler), with
// every command-execution/live-stepping facility dropped: this TUI only
// renders a trace that already finished exploring, so there is no
// debugger core to drive, only views to scroll.
package inspect

import (
	"encoding/json"
	"io"
	"os"

	"github.com/lookbusy1344/sbrace/trace"
)

// actionDoc is the on-disk shape of one trace.Action, flattened for
// display: enough to render the sequence, the racist sets, and the
// happens-before edges without needing the live ir.Instruction objects
// the in-process Trace points to.
type actionDoc struct {
	Index      int    `json:"index"`
	TID        int    `json:"tid"`
	Occurrence int    `json:"occurrence"`
	Op         string `json:"op"`
	Racist     []int  `json:"racist"`
	Causes     []int  `json:"causes"`
	CausedBy   []int  `json:"causedBy"`
}

// traceDoc is the on-disk shape of a dumped trace.json.
type traceDoc struct {
	DataRace bool        `json:"dataRace"`
	Actions  []actionDoc `json:"actions"`
}

// Dump writes tr as the JSON a later -inspect invocation reads.
func Dump(w io.Writer, tr *trace.Trace) error {
	doc := traceDoc{DataRace: tr.DataRace}
	for i := 0; i < tr.Len(); i++ {
		a := tr.At(i)
		doc.Actions = append(doc.Actions, actionDoc{
			Index:      i,
			TID:        a.TID,
			Occurrence: a.Occurrence,
			Op:         a.Instr.Op.String(),
			Racist:     tr.RacistSet(i),
			Causes:     sortedKeys(a.Causes),
			CausedBy:   sortedKeys(a.CausedBy),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// load reads a dumped trace.json.
func load(path string) (*traceDoc, error) {
	f, err := os.Open(path) // #nosec G304 -- path is an operator-supplied CLI flag
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var doc traceDoc
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// RunFile loads path and runs the read-only TUI over it until the user
// quits.
func RunFile(path string) error {
	doc, err := load(path)
	if err != nil {
		return err
	}
	return NewTUI(doc).Run()
}
