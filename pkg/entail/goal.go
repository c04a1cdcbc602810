// Package entail: goal formulas, domain goals, program clauses and
// environments.
//
// DomainGoal values are the atomic provable facts; Goal values are the
// formulas built over them (conjunction, negation, implication with local
// assumptions, quantification, argument equality). ProgramClause values
// are the universally quantified implications the resolution engine
// matches goals against.
package entail

import (
	"fmt"
	"strings"
)

// TraitRef applies a capability to its arguments. The self type is always
// argument slot 0.
type TraitRef struct {
	Trait TraitID
	Args  Substitution
}

// SelfTy returns the self type of the reference, or nil if slot 0 is not
// a type argument. A well-formed reference always has a type in slot 0.
func (t TraitRef) SelfTy() Ty {
	if len(t.Args) == 0 || t.Args[0].Kind != KindType {
		return nil
	}
	return t.Args[0].Ty
}

// String returns a human-readable representation of the reference.
func (t TraitRef) String() string {
	return fmt.Sprintf("trait%d%s", int(t.Trait), t.Args.String())
}

// DomainGoal is an atomic provable fact. The variant set mirrors the
// where-clause vocabulary of the lowered program representation.
type DomainGoal interface {
	isDomainGoal()
	String() string
}

// Implemented states that a type satisfies a capability bound.
type Implemented struct {
	Ref TraitRef
}

// AliasEq states that an alias term (projection or opaque reference)
// equals a type. Proving it decomposes into matching an alias-equality
// clause, which in turn carries the implementation-holds obligations.
type AliasEq struct {
	Alias Ty // ProjectionTy or OpaqueTy
	Ty    Ty
}

// WellFormedTy states that a type is well formed.
type WellFormedTy struct {
	Ty Ty
}

// WellFormedTrait states that a capability reference is well formed.
type WellFormedTrait struct {
	Ref TraitRef
}

// FromEnv states that a capability bound is assumed by the environment.
type FromEnv struct {
	Ref TraitRef
}

// IsLocal states that a type is declared in the local program unit.
type IsLocal struct {
	Ty Ty
}

// IsUpstream states that a type is declared upstream.
type IsUpstream struct {
	Ty Ty
}

// IsFullyVisible states that every constituent of a type is visible here.
type IsFullyVisible struct {
	Ty Ty
}

// LocalImplAllowed states that the local program unit may implement the
// referenced capability for the referenced self type.
type LocalImplAllowed struct {
	Ref TraitRef
}

// DownstreamType marks a hypothetical type added by a downstream unit.
type DownstreamType struct {
	Ty Ty
}

// Compatible switches the query into backward-compatibility checking.
// Outside strict mode it always holds.
type Compatible struct{}

// Reveal switches the query into a mode where opaque types may unfold to
// their hidden definition. It is introduced as a local assumption, not a
// separate entry point.
type Reveal struct{}

// LifetimeOutlives states that region A outlives region B. It is proven
// by emitting the constraint into the answer rather than by clause
// matching.
type LifetimeOutlives struct {
	A Lifetime
	B Lifetime
}

func (Implemented) isDomainGoal()      {}
func (AliasEq) isDomainGoal()          {}
func (WellFormedTy) isDomainGoal()     {}
func (WellFormedTrait) isDomainGoal()  {}
func (FromEnv) isDomainGoal()          {}
func (IsLocal) isDomainGoal()          {}
func (IsUpstream) isDomainGoal()       {}
func (IsFullyVisible) isDomainGoal()   {}
func (LocalImplAllowed) isDomainGoal() {}
func (DownstreamType) isDomainGoal()   {}
func (Compatible) isDomainGoal()       {}
func (Reveal) isDomainGoal()           {}
func (LifetimeOutlives) isDomainGoal() {}

func (g Implemented) String() string { return fmt.Sprintf("Implemented(%s)", g.Ref) }

func (g AliasEq) String() string {
	return fmt.Sprintf("AliasEq(%s = %s)", g.Alias, g.Ty)
}

func (g WellFormedTy) String() string    { return fmt.Sprintf("WellFormed(%s)", g.Ty) }
func (g WellFormedTrait) String() string { return fmt.Sprintf("WellFormed(%s)", g.Ref) }
func (g FromEnv) String() string         { return fmt.Sprintf("FromEnv(%s)", g.Ref) }
func (g IsLocal) String() string         { return fmt.Sprintf("IsLocal(%s)", g.Ty) }
func (g IsUpstream) String() string      { return fmt.Sprintf("IsUpstream(%s)", g.Ty) }
func (g IsFullyVisible) String() string  { return fmt.Sprintf("IsFullyVisible(%s)", g.Ty) }

func (g LocalImplAllowed) String() string {
	return fmt.Sprintf("LocalImplAllowed(%s)", g.Ref)
}

func (g DownstreamType) String() string { return fmt.Sprintf("DownstreamType(%s)", g.Ty) }
func (Compatible) String() string       { return "Compatible" }
func (Reveal) String() string           { return "Reveal" }

func (g LifetimeOutlives) String() string {
	return fmt.Sprintf("Outlives(%s: %s)", g.A, g.B)
}

// Goal is a formula over domain goals.
type Goal interface {
	isGoal()
	String() string
}

// LeafGoal embeds a domain goal as a formula leaf.
type LeafGoal struct {
	Domain DomainGoal
}

// AllGoal is the conjunction of its subgoals. The empty conjunction is
// trivially true.
type AllGoal struct {
	Goals []Goal
}

// NotGoal succeeds exactly when its subgoal has no solution. The subgoal
// must be mechanically invertible (no leaking inference variables) or the
// enclosing search flounders.
type NotGoal struct {
	Goal Goal
}

// ImpliesGoal proves its subgoal under additional local assumptions.
type ImpliesGoal struct {
	Clauses []ProgramClause
	Goal    Goal
}

// Quantifier selects universal or existential quantification.
type Quantifier int

const (
	// ForAll introduces universal placeholders in a fresh universe.
	ForAll Quantifier = iota

	// Exists introduces ordinary inference variables.
	Exists
)

// String returns "forall" or "exists".
func (q Quantifier) String() string {
	if q == ForAll {
		return "forall"
	}
	return "exists"
}

// QuantifiedGoal quantifies a goal over a binder group.
type QuantifiedGoal struct {
	Quantifier Quantifier
	Bound      Binders[Goal]
}

// EqGoal requires two generic arguments to unify.
type EqGoal struct {
	A GenericArg
	B GenericArg
}

func (LeafGoal) isGoal()       {}
func (AllGoal) isGoal()        {}
func (NotGoal) isGoal()        {}
func (ImpliesGoal) isGoal()    {}
func (QuantifiedGoal) isGoal() {}
func (EqGoal) isGoal()         {}

func (g LeafGoal) String() string { return g.Domain.String() }

func (g AllGoal) String() string {
	parts := make([]string, len(g.Goals))
	for i, sub := range g.Goals {
		parts[i] = sub.String()
	}
	return "all(" + strings.Join(parts, "; ") + ")"
}

func (g NotGoal) String() string { return fmt.Sprintf("not(%s)", g.Goal) }

func (g ImpliesGoal) String() string {
	parts := make([]string, len(g.Clauses))
	for i, c := range g.Clauses {
		parts[i] = c.String()
	}
	return fmt.Sprintf("if(%s) { %s }", strings.Join(parts, "; "), g.Goal)
}

func (g QuantifiedGoal) String() string {
	kinds := make([]string, len(g.Bound.Kinds))
	for i, k := range g.Bound.Kinds {
		kinds[i] = k.String()
	}
	return fmt.Sprintf("%s<%s> { %s }",
		g.Quantifier, strings.Join(kinds, ", "), g.Bound.Value)
}

func (g EqGoal) String() string { return fmt.Sprintf("(%s = %s)", g.A, g.B) }

// Domain wraps a domain goal as a formula leaf.
func Domain(dg DomainGoal) Goal { return LeafGoal{Domain: dg} }

// And builds the conjunction of the given goals.
func And(goals ...Goal) Goal { return AllGoal{Goals: goals} }

// ClausePriority ranks candidate clauses; more specific clauses get the
// higher priority and are tried first.
type ClausePriority int

const (
	// PriorityHigh marks explicitly declared clauses.
	PriorityHigh ClausePriority = iota

	// PriorityLow marks derived fallback clauses.
	PriorityLow
)

// ClauseImplication is the body of a program clause: conditions imply a
// consequence, possibly emitting region constraints when used.
type ClauseImplication struct {
	Consequence DomainGoal
	Conditions  []Goal
	Constraints []Constraint
}

// String returns a human-readable representation of the implication.
func (ci ClauseImplication) String() string {
	if len(ci.Conditions) == 0 {
		return ci.Consequence.String()
	}
	parts := make([]string, len(ci.Conditions))
	for i, c := range ci.Conditions {
		parts[i] = c.String()
	}
	return fmt.Sprintf("%s :- %s", ci.Consequence, strings.Join(parts, ", "))
}

// ProgramClause is a universally quantified implication with a priority
// tag. Clauses are immutable once built.
type ProgramClause struct {
	Implication Binders[ClauseImplication]
	Priority    ClausePriority
}

// Fact builds an unconditional clause with no binders.
func Fact(consequence DomainGoal) ProgramClause {
	return ProgramClause{
		Implication: NewBinders(nil, ClauseImplication{Consequence: consequence}),
	}
}

// String returns a human-readable representation of the clause.
func (pc ProgramClause) String() string {
	if len(pc.Implication.Kinds) == 0 {
		return pc.Implication.Value.String()
	}
	kinds := make([]string, len(pc.Implication.Kinds))
	for i, k := range pc.Implication.Kinds {
		kinds[i] = k.String()
	}
	return fmt.Sprintf("forall<%s> { %s }",
		strings.Join(kinds, ", "), pc.Implication.Value)
}

// Environment is the ordered set of locally assumed clauses in scope at a
// goal. Environments are immutable; AddClauses returns an extended copy so
// sibling branches never observe each other's assumptions.
type Environment struct {
	clauses []ProgramClause
}

// NewEnvironment returns the empty environment.
func NewEnvironment() *Environment {
	return &Environment{}
}

// AddClauses returns a new environment extended with the given clauses.
func (e *Environment) AddClauses(clauses []ProgramClause) *Environment {
	if len(clauses) == 0 {
		return e
	}
	out := make([]ProgramClause, 0, len(e.clauses)+len(clauses))
	out = append(out, e.clauses...)
	out = append(out, clauses...)
	return &Environment{clauses: out}
}

// Clauses returns the assumed clauses in introduction order. The returned
// slice must not be mutated.
func (e *Environment) Clauses() []ProgramClause {
	return e.clauses
}

// String returns a human-readable representation of the environment.
func (e *Environment) String() string {
	parts := make([]string, len(e.clauses))
	for i, c := range e.clauses {
		parts[i] = c.String()
	}
	return "env[" + strings.Join(parts, "; ") + "]"
}

// InEnvironment pairs a goal with the environment it is proven under.
type InEnvironment struct {
	Environment *Environment
	Goal        Goal
}

// String returns a human-readable representation of the pair.
func (ie InEnvironment) String() string {
	return fmt.Sprintf("%s |- %s", ie.Environment, ie.Goal)
}

// couldMatch is the cheap head-symbol compatibility test used to filter
// candidate clauses before attempting full unification. It must
// over-approximate: returning true for a clause that cannot unify is
// harmless, returning false for one that could is not.
func couldMatch(a, b DomainGoal) bool {
	switch a := a.(type) {
	case Implemented:
		b, ok := b.(Implemented)
		return ok && a.Ref.Trait == b.Ref.Trait && couldMatchSubst(a.Ref.Args, b.Ref.Args)
	case AliasEq:
		b, ok := b.(AliasEq)
		return ok && couldMatchTy(a.Alias, b.Alias) && couldMatchTy(a.Ty, b.Ty)
	case WellFormedTy:
		b, ok := b.(WellFormedTy)
		return ok && couldMatchTy(a.Ty, b.Ty)
	case WellFormedTrait:
		b, ok := b.(WellFormedTrait)
		return ok && a.Ref.Trait == b.Ref.Trait
	case FromEnv:
		b, ok := b.(FromEnv)
		return ok && a.Ref.Trait == b.Ref.Trait
	case IsLocal:
		b, ok := b.(IsLocal)
		return ok && couldMatchTy(a.Ty, b.Ty)
	case IsUpstream:
		b, ok := b.(IsUpstream)
		return ok && couldMatchTy(a.Ty, b.Ty)
	case IsFullyVisible:
		b, ok := b.(IsFullyVisible)
		return ok && couldMatchTy(a.Ty, b.Ty)
	case LocalImplAllowed:
		b, ok := b.(LocalImplAllowed)
		return ok && a.Ref.Trait == b.Ref.Trait
	case DownstreamType:
		_, ok := b.(DownstreamType)
		return ok
	case Compatible:
		_, ok := b.(Compatible)
		return ok
	case Reveal:
		_, ok := b.(Reveal)
		return ok
	case LifetimeOutlives:
		_, ok := b.(LifetimeOutlives)
		return ok
	default:
		return true
	}
}

// couldMatchTy compares type heads. Variables and alias terms are
// flexible: they might unify with anything.
func couldMatchTy(a, b Ty) bool {
	if tyFlexible(a) || tyFlexible(b) {
		return true
	}
	switch a := a.(type) {
	case ApplyTy:
		b, ok := b.(ApplyTy)
		return ok && a.Adt == b.Adt && couldMatchSubst(a.Args, b.Args)
	case PlaceholderTy:
		b, ok := b.(PlaceholderTy)
		return ok && a == b
	default:
		return true
	}
}

// tyFlexible reports whether a type's head cannot rule out a match.
func tyFlexible(t Ty) bool {
	switch t.(type) {
	case BoundTy, InferTy, ProjectionTy, OpaqueTy:
		return true
	default:
		return false
	}
}

func couldMatchSubst(a, b Substitution) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Kind != b[i].Kind {
			return false
		}
		if a[i].Kind == KindType && !couldMatchTy(a[i].Ty, b[i].Ty) {
			return false
		}
	}
	return true
}
