package inspect

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// TUI is the read-only trace browser: a sequence list on the left, and
// a detail panel on the right showing the selected action's racist set
// and happens-before edges.
type TUI struct {
	App  *tview.Application
	Flex *tview.Flex

	SequenceView *tview.List
	DetailView   *tview.TextView
	StatusView   *tview.TextView

	doc *traceDoc
}

// NewTUI builds a TUI over a loaded trace document.
func NewTUI(doc *traceDoc) *TUI {
	t := &TUI{
		App: tview.NewApplication(),
		doc: doc,
	}
	t.initializeViews()
	t.buildLayout()
	t.setupKeyBindings()
	t.populateSequence()
	return t
}

func (t *TUI) initializeViews() {
	t.SequenceView = tview.NewList().ShowSecondaryText(false)
	t.SequenceView.SetBorder(true).SetTitle(" Sequence ")

	t.DetailView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	t.DetailView.SetBorder(true).SetTitle(" Action detail ")

	t.StatusView = tview.NewTextView().SetDynamicColors(true)
	t.StatusView.SetBorder(true).SetTitle(" Verdict ")
}

func (t *TUI) buildLayout() {
	body := tview.NewFlex().
		AddItem(t.SequenceView, 0, 1, true).
		AddItem(t.DetailView, 0, 2, false)

	t.Flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.StatusView, 3, 0, false).
		AddItem(body, 0, 1, true)

	verdict := "False"
	if t.doc.DataRace {
		verdict = "True"
	}
	fmt.Fprintf(t.StatusView, "Data Race Found: %s  (%d actions) — arrows to browse, q to quit", verdict, len(t.doc.Actions))
}

func (t *TUI) setupKeyBindings() {
	t.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			t.App.Stop()
			return nil
		}
		switch event.Rune() {
		case 'q', 'Q':
			t.App.Stop()
			return nil
		}
		return event
	})
}

func (t *TUI) populateSequence() {
	for _, a := range t.doc.Actions {
		a := a
		label := fmt.Sprintf("[%d] T%d %s", a.Index, a.TID, a.Op)
		if len(a.Racist) > 0 {
			label = "[red]" + label + "[white]"
		}
		t.SequenceView.AddItem(label, "", 0, func() {
			t.showDetail(a)
		})
	}
	t.SequenceView.SetChangedFunc(func(i int, mainText, secondaryText string, shortcut rune) {
		if i >= 0 && i < len(t.doc.Actions) {
			t.showDetail(t.doc.Actions[i])
		}
	})
	if len(t.doc.Actions) > 0 {
		t.showDetail(t.doc.Actions[0])
	}
}

func (t *TUI) showDetail(a actionDoc) {
	t.DetailView.Clear()
	fmt.Fprintf(t.DetailView, "Index:      %d\n", a.Index)
	fmt.Fprintf(t.DetailView, "Thread:     %d (occurrence %d)\n", a.TID, a.Occurrence)
	fmt.Fprintf(t.DetailView, "Op:         %s\n\n", a.Op)
	fmt.Fprintf(t.DetailView, "Racist:     %s\n", joinInts(a.Racist))
	fmt.Fprintf(t.DetailView, "Causes:     %s\n", joinInts(a.Causes))
	fmt.Fprintf(t.DetailView, "Caused by:  %s\n", joinInts(a.CausedBy))
}

func joinInts(xs []int) string {
	if len(xs) == 0 {
		return "(none)"
	}
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%d", x)
	}
	return strings.Join(parts, ", ")
}

// Run starts the TUI event loop.
func (t *TUI) Run() error {
	return t.App.SetRoot(t.Flex, true).SetFocus(t.SequenceView).Run()
}
