// Package entail: unification.
//
// Unification mutates the inference table and accumulates side effects in
// a UnificationResult: alias goals it chose to defer rather than decide,
// and region constraints it emitted instead of failing on lifetime
// placeholders. Unification never decides alias equality structurally
// against a rigid head; that decision belongs to the resolution engine,
// which has the program clauses.
package entail

import (
	"github.com/pkg/errors"
)

// ErrNoMatch reports that two terms are not unifiable. It marks ordinary
// search failure; callers distinguish it from real errors with
// errors.Is.
var ErrNoMatch = errors.New("unify: no match")

// UnificationResult collects the subgoals and region constraints a
// successful unification produced as side conditions.
type UnificationResult struct {
	Goals       []InEnvironment
	Constraints []Constraint
}

// IntoExClause pushes the side conditions onto a clause under
// construction: deferred goals become positive literals, constraints
// accumulate.
func (r *UnificationResult) IntoExClause(ex *ExClause) {
	for _, g := range r.Goals {
		ex.Literals = append(ex.Literals, Literal{Positive: true, Goal: g})
	}
	ex.Constraints = append(ex.Constraints, r.Constraints...)
}

// unifier carries one unification's state: the table it mutates, the
// environment for deferred goals, and the accumulating result.
type unifier struct {
	table  *InferenceTable
	env    *Environment
	result *UnificationResult
}

// UnifyGenericArgs unifies two arguments of the same kind. On success
// the table holds the new bindings and the result holds any deferred
// goals and constraints. On ErrNoMatch the table may hold partial
// bindings; callers work on a clone per branch, so that is fine.
func (t *InferenceTable) UnifyGenericArgs(env *Environment, a, b GenericArg) (*UnificationResult, error) {
	u := &unifier{table: t, env: env, result: &UnificationResult{}}
	if err := u.unifyArg(a, b); err != nil {
		return nil, err
	}
	return u.result, nil
}

// UnifyDomainGoals unifies two domain goals, used to match a goal against
// a clause head.
func (t *InferenceTable) UnifyDomainGoals(env *Environment, a, b DomainGoal) (*UnificationResult, error) {
	u := &unifier{table: t, env: env, result: &UnificationResult{}}
	if err := u.unifyDomainGoal(a, b); err != nil {
		return nil, err
	}
	return u.result, nil
}

func (u *unifier) unifyArg(a, b GenericArg) error {
	if a.Kind != b.Kind {
		return errors.Errorf("unify: kind mismatch: %s vs %s", a.Kind, b.Kind)
	}
	switch a.Kind {
	case KindType:
		return u.unifyTy(a.Ty, b.Ty)
	case KindLifetime:
		return u.unifyLifetime(a.Lifetime, b.Lifetime)
	case KindConst:
		return u.unifyConst(a.Const, b.Const)
	default:
		return errors.Errorf("unify: unknown argument kind %d", int(a.Kind))
	}
}

func (u *unifier) unifySubst(a, b Substitution) error {
	if len(a) != len(b) {
		return ErrNoMatch
	}
	for i := range a {
		if err := u.unifyArg(a[i], b[i]); err != nil {
			return err
		}
	}
	return nil
}

func isAliasTy(t Ty) bool {
	switch t.(type) {
	case ProjectionTy, OpaqueTy:
		return true
	default:
		return false
	}
}

func (u *unifier) unifyTy(a, b Ty) error {
	a = u.table.NormalizeShallowTy(a)
	b = u.table.NormalizeShallowTy(b)

	av, aInfer := a.(InferTy)
	bv, bInfer := b.(InferTy)

	switch {
	case aInfer && bInfer:
		u.table.unionVars(av.Var, bv.Var)
		return nil
	case aInfer:
		return u.bindVar(av.Var, TyArg(b))
	case bInfer:
		return u.bindVar(bv.Var, TyArg(a))
	}

	// Same-head aliases unify componentwise; an alias against anything
	// else is deferred as an AliasEq subgoal so the engine can consult
	// the program.
	switch at := a.(type) {
	case ProjectionTy:
		if bt, ok := b.(ProjectionTy); ok && at.Assoc == bt.Assoc {
			return u.unifySubst(at.Args, bt.Args)
		}
		return u.deferAliasEq(at, b)
	case OpaqueTy:
		if bt, ok := b.(OpaqueTy); ok && at.Opaque == bt.Opaque {
			return u.unifySubst(at.Args, bt.Args)
		}
		return u.deferAliasEq(at, b)
	}
	if isAliasTy(b) {
		return u.deferAliasEq(b, a)
	}

	switch at := a.(type) {
	case ApplyTy:
		bt, ok := b.(ApplyTy)
		if !ok || at.Adt != bt.Adt {
			return ErrNoMatch
		}
		return u.unifySubst(at.Args, bt.Args)
	case PlaceholderTy:
		bt, ok := b.(PlaceholderTy)
		if !ok || at != bt {
			return ErrNoMatch
		}
		return nil
	case BoundTy:
		return errors.Errorf("unify: unexpected bound type variable %s", at)
	default:
		return errors.Errorf("unify: unknown type variant %T", a)
	}
}

// deferAliasEq records that alias must equal ty, to be established by the
// program's alias clauses rather than by structure.
func (u *unifier) deferAliasEq(alias, ty Ty) error {
	u.result.Goals = append(u.result.Goals, InEnvironment{
		Environment: u.env,
		Goal:        Domain(AliasEq{Alias: alias, Ty: ty}),
	})
	return nil
}

func (u *unifier) unifyLifetime(a, b Lifetime) error {
	a = u.table.NormalizeShallowLifetime(a)
	b = u.table.NormalizeShallowLifetime(b)

	av, aInfer := a.(InferLt)
	bv, bInfer := b.(InferLt)

	switch {
	case aInfer && bInfer:
		u.table.unionVars(av.Var, bv.Var)
		return nil
	case aInfer:
		return u.bindVar(av.Var, LifetimeArg(b))
	case bInfer:
		return u.bindVar(bv.Var, LifetimeArg(a))
	}

	if a == b {
		return nil
	}

	// Distinct rigid lifetimes are not a failure: lifetime equality is
	// checked by a later region pass, so record an equality constraint
	// pair and succeed.
	u.result.Constraints = append(u.result.Constraints,
		Constraint{A: a, B: b},
		Constraint{A: b, B: a},
	)
	return nil
}

func (u *unifier) unifyConst(a, b Const) error {
	a = u.table.NormalizeShallowConst(a)
	b = u.table.NormalizeShallowConst(b)

	av, aInfer := a.(InferConst)
	bv, bInfer := b.(InferConst)

	switch {
	case aInfer && bInfer:
		u.table.unionVars(av.Var, bv.Var)
		return nil
	case aInfer:
		return u.bindVar(av.Var, ConstArg(b))
	case bInfer:
		return u.bindVar(bv.Var, ConstArg(a))
	}

	switch ac := a.(type) {
	case ConcreteConst:
		bc, ok := b.(ConcreteConst)
		if !ok || ac.Value != bc.Value {
			return ErrNoMatch
		}
		return nil
	case PlaceholderConst:
		bc, ok := b.(PlaceholderConst)
		if !ok || ac != bc {
			return ErrNoMatch
		}
		return nil
	case BoundConst:
		return errors.Errorf("unify: unexpected bound const variable %s", ac)
	default:
		return errors.Errorf("unify: unknown const variant %T", a)
	}
}

// bindVar binds an unbound root variable to a value after the occurs and
// universe checks pass.
func (u *unifier) bindVar(v VarID, value GenericArg) error {
	r := u.table.root(v)
	ui := u.table.universeOf(r)
	c := occursCheck{table: u.table, target: r, universe: ui}
	checked, err := foldArg(&c, value, 0)
	if err != nil {
		return err
	}
	return u.table.bind(r, checked)
}

// occursCheck walks a candidate value before it is bound to target. It
// fails on a cycle (target occurs in the value) and on a placeholder the
// target's universe cannot see; inference variables in more local
// universes are demoted so they cannot later absorb such a placeholder.
type occursCheck struct {
	identityFolder
	table    *InferenceTable
	target   VarID
	universe UniverseIndex
}

func (c *occursCheck) checkVar(v VarID) error {
	r := c.table.root(v)
	if r == c.target {
		return errors.WithMessagef(ErrNoMatch, "cycle through ?%d", int(r))
	}
	c.table.demoteUniverse(r, c.universe)
	return nil
}

func (c *occursCheck) FoldInferTy(v InferTy, outer int) (Ty, error) {
	if val, bound := c.table.probe(v.Var); bound {
		shifted := shiftArgIn(val, outer)
		if shifted.Kind != KindType {
			return nil, errors.Errorf("unify: ?%d bound to a %s, expected a type", int(v.Var), shifted.Kind)
		}
		return foldTy(c, shifted.Ty, outer)
	}
	if err := c.checkVar(v.Var); err != nil {
		return nil, err
	}
	return InferTy{Var: c.table.root(v.Var)}, nil
}

func (c *occursCheck) FoldInferLifetime(v InferLt, outer int) (Lifetime, error) {
	if val, bound := c.table.probe(v.Var); bound {
		shifted := shiftArgIn(val, outer)
		if shifted.Kind != KindLifetime {
			return nil, errors.Errorf("unify: '?%d bound to a %s, expected a lifetime", int(v.Var), shifted.Kind)
		}
		return foldLifetime(c, shifted.Lifetime, outer)
	}
	if err := c.checkVar(v.Var); err != nil {
		return nil, err
	}
	return InferLt{Var: c.table.root(v.Var)}, nil
}

func (c *occursCheck) FoldInferConst(v InferConst, outer int) (Const, error) {
	if val, bound := c.table.probe(v.Var); bound {
		shifted := shiftArgIn(val, outer)
		if shifted.Kind != KindConst {
			return nil, errors.Errorf("unify: #?%d bound to a %s, expected a const", int(v.Var), shifted.Kind)
		}
		return foldConst(c, shifted.Const, outer)
	}
	if err := c.checkVar(v.Var); err != nil {
		return nil, err
	}
	return InferConst{Var: c.table.root(v.Var)}, nil
}

func (c *occursCheck) FoldPlaceholderTy(p PlaceholderTy, _ int) (Ty, error) {
	if !c.universe.CanSee(p.Universe) {
		return nil, errors.WithMessagef(ErrNoMatch, "placeholder %s escapes universe %s", p, c.universe)
	}
	return p, nil
}

func (c *occursCheck) FoldPlaceholderLifetime(p PlaceholderLt, _ int) (Lifetime, error) {
	if !c.universe.CanSee(p.Universe) {
		return nil, errors.WithMessagef(ErrNoMatch, "placeholder %s escapes universe %s", p, c.universe)
	}
	return p, nil
}

func (c *occursCheck) FoldPlaceholderConst(p PlaceholderConst, _ int) (Const, error) {
	if !c.universe.CanSee(p.Universe) {
		return nil, errors.WithMessagef(ErrNoMatch, "placeholder %s escapes universe %s", p, c.universe)
	}
	return p, nil
}

func (u *unifier) unifyDomainGoal(a, b DomainGoal) error {
	switch ag := a.(type) {
	case Implemented:
		bg, ok := b.(Implemented)
		if !ok {
			return ErrNoMatch
		}
		return u.unifyTraitRef(ag.Ref, bg.Ref)
	case AliasEq:
		bg, ok := b.(AliasEq)
		if !ok {
			return ErrNoMatch
		}
		if err := u.unifyTy(ag.Alias, bg.Alias); err != nil {
			return err
		}
		return u.unifyTy(ag.Ty, bg.Ty)
	case WellFormedTy:
		bg, ok := b.(WellFormedTy)
		if !ok {
			return ErrNoMatch
		}
		return u.unifyTy(ag.Ty, bg.Ty)
	case WellFormedTrait:
		bg, ok := b.(WellFormedTrait)
		if !ok {
			return ErrNoMatch
		}
		return u.unifyTraitRef(ag.Ref, bg.Ref)
	case FromEnv:
		bg, ok := b.(FromEnv)
		if !ok {
			return ErrNoMatch
		}
		return u.unifyTraitRef(ag.Ref, bg.Ref)
	case IsLocal:
		bg, ok := b.(IsLocal)
		if !ok {
			return ErrNoMatch
		}
		return u.unifyTy(ag.Ty, bg.Ty)
	case IsUpstream:
		bg, ok := b.(IsUpstream)
		if !ok {
			return ErrNoMatch
		}
		return u.unifyTy(ag.Ty, bg.Ty)
	case IsFullyVisible:
		bg, ok := b.(IsFullyVisible)
		if !ok {
			return ErrNoMatch
		}
		return u.unifyTy(ag.Ty, bg.Ty)
	case LocalImplAllowed:
		bg, ok := b.(LocalImplAllowed)
		if !ok {
			return ErrNoMatch
		}
		return u.unifyTraitRef(ag.Ref, bg.Ref)
	case DownstreamType:
		bg, ok := b.(DownstreamType)
		if !ok {
			return ErrNoMatch
		}
		return u.unifyTy(ag.Ty, bg.Ty)
	case Compatible:
		if _, ok := b.(Compatible); !ok {
			return ErrNoMatch
		}
		return nil
	case Reveal:
		if _, ok := b.(Reveal); !ok {
			return ErrNoMatch
		}
		return nil
	case LifetimeOutlives:
		bg, ok := b.(LifetimeOutlives)
		if !ok {
			return ErrNoMatch
		}
		if err := u.unifyLifetime(ag.A, bg.A); err != nil {
			return err
		}
		return u.unifyLifetime(ag.B, bg.B)
	default:
		return errors.Errorf("unify: unknown domain goal variant %T", a)
	}
}

func (u *unifier) unifyTraitRef(a, b TraitRef) error {
	if a.Trait != b.Trait {
		return ErrNoMatch
	}
	return u.unifySubst(a.Args, b.Args)
}
