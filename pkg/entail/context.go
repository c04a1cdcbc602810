// Package entail: the resolution context.
//
// The Context interface is the seam between the tabled resolution engine
// and the program it reasons about. The engine itself never inspects
// program datums; everything it needs (clauses for a goal, cycle
// polarity, term caps) arrives through this interface, which keeps the
// engine reusable against synthetic programs in tests.
package entail

// Context supplies the program-dependent ingredients of resolution.
type Context interface {
	// IsCoinductive reports the cycle polarity of a table goal. A cycle
	// consisting entirely of coinductive goals is discharged as success;
	// any inductive participant makes the cycle a failure.
	IsCoinductive(goal UCanonicalGoal) bool

	// ProgramClauses returns the clauses that could prove the given
	// domain goal under the given environment, environment assumptions
	// first. Over-approximation is fine; unification rejects the rest.
	ProgramClauses(env *Environment, goal DomainGoal) []ProgramClause

	// TruncateGoal caps a subgoal's term depth before it is tabled.
	// The boolean reports that precision was lost.
	TruncateGoal(infer *InferenceTable, maxDepth int, goal InEnvironment) (InEnvironment, bool)

	// TruncateAnswer caps an answer substitution's term depth before it
	// is recorded.
	TruncateAnswer(infer *InferenceTable, maxDepth int, subst Substitution) (Substitution, bool)
}

// SlgContext adapts a compiled Program to the engine's Context interface.
type SlgContext struct {
	program *Program
}

// NewSlgContext wraps a validated program.
func NewSlgContext(p *Program) *SlgContext {
	return &SlgContext{program: p}
}

var _ Context = (*SlgContext)(nil)

// IsCoinductive reports true for auto and coinductive trait obligations
// and for well-formedness goals, which are justified by infinite
// regress. Everything else is inductive.
func (c *SlgContext) IsCoinductive(goal UCanonicalGoal) bool {
	leaf, ok := goal.Canonical.Value.Goal.(LeafGoal)
	if !ok {
		return false
	}
	switch dg := leaf.Domain.(type) {
	case Implemented:
		td, ok := c.program.Traits[dg.Ref.Trait]
		if !ok {
			return false
		}
		return td.Auto || td.Coinductive
	case WellFormedTy, WellFormedTrait:
		return true
	default:
		return false
	}
}

// ProgramClauses returns environment assumptions followed by the
// program's clauses whose heads could match the goal.
func (c *SlgContext) ProgramClauses(env *Environment, goal DomainGoal) []ProgramClause {
	var out []ProgramClause
	if env != nil {
		for _, clause := range env.Clauses() {
			if couldMatch(clause.Implication.Value.Consequence, goal) {
				out = append(out, clause)
			}
		}
	}
	for _, clause := range c.program.Clauses() {
		if couldMatch(clause.Implication.Value.Consequence, goal) {
			out = append(out, clause)
		}
	}
	return out
}

// TruncateGoal defers to the inference table's depth cap.
func (c *SlgContext) TruncateGoal(infer *InferenceTable, maxDepth int, goal InEnvironment) (InEnvironment, bool) {
	return infer.TruncateGoal(maxDepth, goal)
}

// TruncateAnswer defers to the inference table's depth cap.
func (c *SlgContext) TruncateAnswer(infer *InferenceTable, maxDepth int, subst Substitution) (Substitution, bool) {
	return infer.TruncateSubst(maxDepth, subst)
}
