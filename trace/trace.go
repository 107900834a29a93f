// Package trace implements the causality/race trace: an append-only
// sequence of executed actions with incrementally maintained
// happens-before, race set, and per-prefix backtrack/sleep bookkeeping
// (spec.md §4.3). It is the central analytical object the SDPOR driver
// interacts with.
//
// Grounded directly on
// original_source/slowbeast/symexe/threads/trace.py for the exact
// append/race/causality algorithm, restructured per spec.md §9's design
// note to store actions in a flat vector and reference predecessors by
// index rather than by object identity, and to mutate the trace in
// place (append/trim) rather than the source's copy-on-append style
// (spec.md §5: "the trace is owned by the driver and is mutated in
// place").
package trace

import "github.com/lookbusy1344/sbrace/ir"

// Meta carries the execution-time facts about one step that the shared,
// immutable Instruction cannot record itself, since the same
// Instruction object is revisited on every loop iteration and by every
// thread running the same function (spec.md §5: the IR is immutable and
// shared by reference).
type Meta struct {
	// Succ is meaningful for a pthread_mutex_lock/unlock call: whether
	// it succeeded when it executed (spec.md §4.3's lock-race and
	// unlock-causality predicates).
	Succ bool
	// SpawnedTID is meaningful for OpThread: the thread id the
	// interpreter allocated for the new thread.
	SpawnedTID int
	// JoinedTID is meaningful for OpThreadJoin: the concrete thread id
	// being waited on.
	JoinedTID int
	// OutermostReturn is meaningful for OpReturn: whether this return
	// unwound the thread's outermost frame (i.e. the thread is about to
	// exit).
	OutermostReturn bool
}

// Action is one executed instruction of one thread, recorded as an
// element of the trace (spec.md §3, GLOSSARY).
type Action struct {
	TID        int
	Occurrence int
	Instr      *ir.Instruction
	Meta       Meta
	// Causes/CausedBy hold indices into the owning Trace's sequence:
	// the immediate happens-before successors/predecessors of this
	// action (spec.md §3).
	Causes   map[int]bool
	CausedBy map[int]bool
}

func newAction(tid int, instr *ir.Instruction, meta Meta) *Action {
	return &Action{TID: tid, Instr: instr, Meta: meta, Causes: make(map[int]bool), CausedBy: make(map[int]bool)}
}

// Trace is the append-only sequence of Actions plus per-prefix backtrack
// and racist bookkeeping (spec.md §3, §4.3).
type Trace struct {
	seq []*Action
	// racist[i] holds the indices of earlier actions found in race with
	// seq[i] when it was appended (spec.md §3: "racist[i]: set<Action>
	// (actions in race with action i)").
	racist [][]int
	// backtrack[i] is the per-prefix-of-length-i backtrack set (spec.md
	// §4.3); backtrack has len(seq)+1 slots.
	backtrack []map[int]bool
	// DataRace is raised the first time an appended action is found in
	// race with an earlier action that is not already a causal
	// ancestor (spec.md §3, §4.5).
	DataRace bool
}

// New creates an empty trace.
func New() *Trace {
	return &Trace{backtrack: []map[int]bool{make(map[int]bool)}}
}

// Len returns the number of actions currently in the trace.
func (t *Trace) Len() int { return len(t.seq) }

// At returns the action at index i.
func (t *Trace) At(i int) *Action { return t.seq[i] }

// Last returns the most recently appended action, or nil if empty.
func (t *Trace) Last() *Action {
	if len(t.seq) == 0 {
		return nil
	}
	return t.seq[len(t.seq)-1]
}

// Clone returns a deep copy, independent of the receiver: appending to or
// trimming one does not affect the other. Used to give each worker of a
// parallel backtrack-set dispatch (SPEC_FULL.md's sibling-subtree
// parallelism) its own trace to mutate.
func (t *Trace) Clone() *Trace {
	seq := make([]*Action, len(t.seq))
	for i, a := range t.seq {
		seq[i] = &Action{
			TID:        a.TID,
			Occurrence: a.Occurrence,
			Instr:      a.Instr,
			Meta:       a.Meta,
			Causes:     cloneIntBoolSet(a.Causes),
			CausedBy:   cloneIntBoolSet(a.CausedBy),
		}
	}
	racist := make([][]int, len(t.racist))
	for i, r := range t.racist {
		racist[i] = append([]int(nil), r...)
	}
	backtrack := make([]map[int]bool, len(t.backtrack))
	for i, m := range t.backtrack {
		backtrack[i] = cloneIntBoolSet(m)
	}
	return &Trace{seq: seq, racist: racist, backtrack: backtrack, DataRace: t.DataRace}
}

func cloneIntBoolSet(m map[int]bool) map[int]bool {
	cp := make(map[int]bool, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// IndexOf returns the position of action a in the sequence, or -1.
func (t *Trace) IndexOf(a *Action) int {
	for i, e := range t.seq {
		if e == a {
			return i
		}
	}
	return -1
}

// Append records the execution of instr by tid as a new Action,
// assigning its occurrence, updating happens-before edges and the
// racist set, and possibly raising DataRace (spec.md §4.3 "Append").
func (t *Trace) Append(tid int, instr *ir.Instruction, meta Meta) *Action {
	a := newAction(tid, instr, meta)
	a.Occurrence = t.nextOccurrence(tid)
	idx := len(t.seq)
	t.seq = append(t.seq, a)
	t.racist = append(t.racist, nil)
	t.backtrack = append(t.backtrack, make(map[int]bool))
	t.updateRaceAndCausality(idx)
	return a
}

func (t *Trace) nextOccurrence(tid int) int {
	for i := len(t.seq) - 1; i >= 0; i-- {
		if t.seq[i].TID == tid {
			return t.seq[i].Occurrence + 1
		}
	}
	return 1
}

// updateRaceAndCausality scans earlier actions in reverse order and, for
// each, computes the relation with the just-appended action at idx
// (spec.md §4.3, first-match-wins per earlier action).
func (t *Trace) updateRaceAndCausality(idx int) {
	p := t.seq[idx]
	for j := idx - 1; j >= 0; j-- {
		e := t.seq[j]
		switch {
		case e.TID == p.TID:
			if e.Occurrence+1 == p.Occurrence {
				t.setHappensBefore(j, idx)
			}
		case inDataRace(e, p):
			if t.recordRace(j, idx) {
				t.DataRace = true
				return
			}
			t.setHappensBefore(j, idx)
		case inLockRace(e, p):
			t.recordRace(j, idx)
			t.setHappensBefore(j, idx)
		case t.nonReversibleCausality(j, idx):
			t.setHappensBefore(j, idx)
		}
	}
}

func (t *Trace) setHappensBefore(from, to int) {
	t.seq[from].Causes[to] = true
	t.seq[to].CausedBy[from] = true
}

// recordRace adds e (index j) to p's (index idx) racist slot if e is
// not already a causal ancestor of p, and reports whether it did.
func (t *Trace) recordRace(j, idx int) bool {
	ancestors := t.causesTransitive(j)
	if ancestors[idx] {
		return false
	}
	t.racist[idx] = append(t.racist[idx], j)
	return true
}

// RacistSet returns the indices recorded in race with the action at idx.
func (t *Trace) RacistSet(idx int) []int { return t.racist[idx] }

// Trim removes the tail action, undoing its happens-before edges and
// popping its racist/backtrack bookkeeping (spec.md §4.3 "Trim":
// "O(|e.caused_by|)").
func (t *Trace) Trim() {
	idx := len(t.seq) - 1
	e := t.seq[idx]
	for from := range e.CausedBy {
		delete(t.seq[from].Causes, idx)
	}
	t.seq = t.seq[:idx]
	t.racist = t.racist[:idx]
	t.backtrack = t.backtrack[:idx+1]
}

// causesTransitive returns the transitively closed set of causal
// successors of the action at idx (spec.md §4.3 "causes*(e)").
func (t *Trace) causesTransitive(idx int) map[int]bool {
	visited := make(map[int]bool)
	stack := []int{idx}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for succ := range t.seq[cur].Causes {
			if !visited[succ] {
				visited[succ] = true
				stack = append(stack, succ)
			}
		}
	}
	return visited
}

// causedByTransitive returns the transitively closed set of causal
// predecessors of the action at idx (spec.md §4.3 "caused_by*(e)").
func (t *Trace) causedByTransitive(idx int) map[int]bool {
	visited := make(map[int]bool)
	stack := []int{idx}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for pred := range t.seq[cur].CausedBy {
			if !visited[pred] {
				visited[pred] = true
				stack = append(stack, pred)
			}
		}
	}
	return visited
}

// GetBacktrack returns backtrack[prefixLen], the backtrack set for the
// prefix of length prefixLen; pass Len() for the current, not yet
// extended, prefix.
func (t *Trace) GetBacktrack(prefixLen int) map[int]bool { return t.backtrack[prefixLen] }

// AddToPrefixBacktrack adds tid to the backtrack set of the prefix that
// ends right after the action at idx (spec.md §4.3
// "add_to_prefix_backtrack").
func (t *Trace) AddToPrefixBacktrack(idx, tid int) {
	t.backtrack[idx+1][tid] = true
}

// IndependentSuffixSet computes the set of thread ids from which the
// driver may safely pick a new backtrack witness to reverse a race
// detected at the tail with the action at idx (spec.md §4.3
// "independent_suffix_set"):
//
//	S = actions strictly after idx, minus causes*(idx), plus the last
//	    action of the trace; return { f.tid | f in S, caused_by*(f) ∩ S = ∅ }.
func (t *Trace) IndependentSuffixSet(idx int) map[int]bool {
	ancestors := t.causesTransitive(idx)
	suffix := make(map[int]bool)
	for j := idx + 1; j < len(t.seq); j++ {
		if !ancestors[j] {
			suffix[j] = true
		}
	}
	suffix[len(t.seq)-1] = true

	result := make(map[int]bool)
	for j := range suffix {
		predecessors := t.causedByTransitive(j)
		disjoint := true
		for p := range predecessors {
			if suffix[p] {
				disjoint = false
				break
			}
		}
		if disjoint {
			result[t.seq[j].TID] = true
		}
	}
	return result
}

// inDataRace is the race predicate of spec.md §4.3: one action is a
// Store and the other is Load or Store, and their pointer operands
// resolve to the same underlying location.
func inDataRace(e, p *Action) bool {
	storeI, otherI, ok := storeAndOther(e.Instr, p.Instr)
	if !ok {
		return false
	}
	return sameLocation(storeI.Operands[0], otherI.Operands[0])
}

func storeAndOther(a, b *ir.Instruction) (store, other *ir.Instruction, ok bool) {
	switch {
	case a.Op == ir.OpStore && (b.Op == ir.OpLoad || b.Op == ir.OpStore):
		return a, b, true
	case b.Op == ir.OpStore && (a.Op == ir.OpLoad || a.Op == ir.OpStore):
		return b, a, true
	default:
		return nil, nil, false
	}
}

// sameLocation conservatively resolves Load-of-Load chains (spec.md
// §4.3 "Pointer resolution follows Load chains conservatively") and
// GlobalRef results to their global, then compares the resulting
// operand structurally.
func sameLocation(a, b ir.Operand) bool {
	return resolveChain(a).equalOperand(resolveChain(b))
}

func resolveChain(op ir.Operand) opWrap {
	for op.Kind == ir.OperandRef && op.Ref.Op == ir.OpLoad {
		op = op.Ref.Operands[0]
	}
	// Every GlobalRef of the same global names the same location.
	if op.Kind == ir.OperandRef && op.Ref.Op == ir.OpGlobalRef {
		op = op.Ref.Operands[0]
	}
	return opWrap{op}
}

type opWrap struct{ ir.Operand }

func (w opWrap) equalOperand(o opWrap) bool {
	if w.Kind != o.Kind {
		return false
	}
	switch w.Kind {
	case ir.OperandRef:
		return w.Ref == o.Ref
	case ir.OperandGlobal:
		return w.Global == o.Global
	case ir.OperandConst:
		return w.Const.Equal(o.Const)
	case ir.OperandParam:
		return w.Param == o.Param
	default:
		return false
	}
}

// inLockRace reports whether e and p are both successful mutex_lock
// calls on the same mutex (spec.md §4.3 "Lock-race dependency").
func inLockRace(e, p *Action) bool {
	return isSuccessfulLock(e) && isSuccessfulLock(p) && sameLocation(e.Instr.Operands[0], p.Instr.Operands[0])
}

func isSuccessfulLock(a *Action) bool {
	return a.Instr.Op == ir.OpCall && a.Instr.RuntimeFn == "pthread_mutex_lock" && a.Meta.Succ
}

func isSuccessfulUnlock(a *Action) bool {
	return a.Instr.Op == ir.OpCall && a.Instr.RuntimeFn == "pthread_mutex_unlock" && a.Meta.Succ
}

// nonReversibleCausality implements the three non-reversible causality
// rules of spec.md §4.3: they establish happens-before but are never
// added to the racist set because no reversed execution is possible.
func (t *Trace) nonReversibleCausality(j, idx int) bool {
	return unlockCausality(t.seq[j], t.seq[idx]) ||
		forkCausality(t.seq[j], t.seq[idx]) ||
		joinCausality(t.seq[j], t.seq[idx])
}

// unlockCausality: e is a successful mutex_unlock(m) and p is a later
// successful mutex_lock(m) on the same mutex; whether other actions on
// m lie between them is not checked.
func unlockCausality(e, p *Action) bool {
	if !isSuccessfulUnlock(e) {
		return false
	}
	return isSuccessfulLock(p) && sameLocation(e.Instr.Operands[0], p.Instr.Operands[0])
}

// forkCausality: e is a spawn of thread p.TID and p is that thread's
// first action.
func forkCausality(e, p *Action) bool {
	return e.Instr.Op == ir.OpThread && e.Meta.SpawnedTID == p.TID && p.Occurrence == 1
}

// joinCausality: e is the outermost-frame return of the thread p is
// joining.
func joinCausality(e, p *Action) bool {
	return e.Instr.Op == ir.OpReturn && e.Meta.OutermostReturn &&
		p.Instr.Op == ir.OpThreadJoin && p.Meta.JoinedTID == e.TID
}

// DependsOnLast reports whether executing instr as the next action of
// tid would be dependent on the trace's last action — same thread, a
// data race, a lock race, or one of the non-reversible causality rules
// (spec.md §4.4 "dependent_with_last").
func (t *Trace) DependsOnLast(tid int, instr *ir.Instruction, meta Meta) bool {
	if t.Len() == 0 {
		return false
	}
	last := t.seq[t.Len()-1]
	if last.TID == tid {
		return true
	}
	candidate := &Action{TID: tid, Occurrence: t.nextOccurrence(tid), Instr: instr, Meta: meta}
	return inDataRace(last, candidate) || inLockRace(last, candidate) ||
		unlockCausality(last, candidate) || unlockCausality(candidate, last) ||
		forkCausality(last, candidate) || forkCausality(candidate, last) ||
		joinCausality(last, candidate) || joinCausality(candidate, last)
}
