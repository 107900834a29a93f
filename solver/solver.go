// Package solver defines the SMT-solver collaborator contract (spec.md
// §6): build/substitute/simplify expressions, check-sat with assumptions
// and an optional timeout, and model extraction. The driver uses only
// check-sat and model queries. A Concrete fallback implementation is
// provided for tests and for programs whose path conditions never
// contain a free symbol; it is deliberately conservative for anything
// it cannot decide, per spec.md §5's UNKNOWN-handling rule.
package solver

import (
	"context"
	"time"

	"github.com/lookbusy1344/sbrace/symval"
)

// SatResult is the closed result set of a check-sat query.
type SatResult int

const (
	Unknown SatResult = iota
	Sat
	Unsat
)

func (r SatResult) String() string {
	switch r {
	case Sat:
		return "sat"
	case Unsat:
		return "unsat"
	default:
		return "unknown"
	}
}

// Model is a satisfying assignment returned by a Sat check-sat result.
type Model interface {
	// Eval returns the model's concrete assignment for a symbol name,
	// and false if the symbol is unconstrained in the model.
	Eval(symbol string) (symval.Value, bool)
}

// Solver is the collaborator contract required by the interpreter and
// driver (spec.md §6).
type Solver interface {
	// CheckSat decides satisfiability of the conjunction of assumptions
	// within the given timeout (zero means no timeout).
	CheckSat(ctx context.Context, assumptions []symval.Value, timeout time.Duration) (SatResult, error)
	// LastModel returns the model for the most recent Sat result.
	LastModel() Model
	Substitute(v symval.Value, subst map[string]symval.Value) symval.Value
	Simplify(v symval.Value) symval.Value
}

// Concrete is a solver that can only decide queries whose every
// assumption is already a concrete boolean; anything containing a free
// symbol is reported Unknown rather than guessed. This satisfies the
// Solver contract well enough to drive the SDPOR core's control flow in
// tests without linking a real SMT backend (an external collaborator
// per spec.md §1).
type Concrete struct{}

// NewConcrete returns the concrete-only reference solver.
func NewConcrete() *Concrete { return &Concrete{} }

func (c *Concrete) CheckSat(_ context.Context, assumptions []symval.Value, _ time.Duration) (SatResult, error) {
	for _, a := range assumptions {
		simplified := a.Simplify()
		if simplified.IsSymbolic() {
			return Unknown, nil
		}
		if !simplified.Bool() {
			return Unsat, nil
		}
	}
	return Sat, nil
}

func (c *Concrete) LastModel() Model { return emptyModel{} }

func (c *Concrete) Substitute(v symval.Value, _ map[string]symval.Value) symval.Value { return v }

func (c *Concrete) Simplify(v symval.Value) symval.Value { return v.Simplify() }

type emptyModel struct{}

func (emptyModel) Eval(string) (symval.Value, bool) { return symval.Value{}, false }
