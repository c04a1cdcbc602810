// Package entail: structural folding over terms, goals and clauses.
//
// A Folder rewrites the variable leaves of a value while the walk
// functions handle the structure. Every walk tracks `outer`, the number of
// binder groups crossed so far; a bound variable with debruijn >= outer is
// free with respect to the folded value and is handed to the folder, one
// with debruijn < outer is bound inside the value and left alone. This is
// the single shift discipline used everywhere a value crosses a binder.
package entail

import "github.com/pkg/errors"

// Folder rewrites variable leaves during a structural walk.
type Folder interface {
	// FoldFreeBoundTy handles a bound type variable that is free with
	// respect to the folded value (debruijn >= outer).
	FoldFreeBoundTy(bv BoundTy, outer int) (Ty, error)

	// FoldInferTy handles a live type inference variable.
	FoldInferTy(v InferTy, outer int) (Ty, error)

	// FoldPlaceholderTy handles a universal type placeholder.
	FoldPlaceholderTy(p PlaceholderTy, outer int) (Ty, error)

	FoldFreeBoundLifetime(bl BoundLt, outer int) (Lifetime, error)
	FoldInferLifetime(v InferLt, outer int) (Lifetime, error)
	FoldPlaceholderLifetime(p PlaceholderLt, outer int) (Lifetime, error)

	FoldFreeBoundConst(bc BoundConst, outer int) (Const, error)
	FoldInferConst(v InferConst, outer int) (Const, error)
	FoldPlaceholderConst(p PlaceholderConst, outer int) (Const, error)
}

// identityFolder leaves every leaf unchanged. Embed it to override only
// the hooks a folder cares about.
type identityFolder struct{}

func (identityFolder) FoldFreeBoundTy(bv BoundTy, _ int) (Ty, error)        { return bv, nil }
func (identityFolder) FoldInferTy(v InferTy, _ int) (Ty, error)             { return v, nil }
func (identityFolder) FoldPlaceholderTy(p PlaceholderTy, _ int) (Ty, error) { return p, nil }

func (identityFolder) FoldFreeBoundLifetime(bl BoundLt, _ int) (Lifetime, error) {
	return bl, nil
}

func (identityFolder) FoldInferLifetime(v InferLt, _ int) (Lifetime, error) {
	return v, nil
}

func (identityFolder) FoldPlaceholderLifetime(p PlaceholderLt, _ int) (Lifetime, error) {
	return p, nil
}

func (identityFolder) FoldFreeBoundConst(bc BoundConst, _ int) (Const, error) {
	return bc, nil
}

func (identityFolder) FoldInferConst(v InferConst, _ int) (Const, error) {
	return v, nil
}

func (identityFolder) FoldPlaceholderConst(p PlaceholderConst, _ int) (Const, error) {
	return p, nil
}

func foldTy(f Folder, t Ty, outer int) (Ty, error) {
	switch t := t.(type) {
	case ApplyTy:
		args, err := foldSubst(f, t.Args, outer)
		if err != nil {
			return nil, err
		}
		return ApplyTy{Adt: t.Adt, Args: args}, nil
	case ProjectionTy:
		args, err := foldSubst(f, t.Args, outer)
		if err != nil {
			return nil, err
		}
		return ProjectionTy{Assoc: t.Assoc, Args: args}, nil
	case OpaqueTy:
		args, err := foldSubst(f, t.Args, outer)
		if err != nil {
			return nil, err
		}
		return OpaqueTy{Opaque: t.Opaque, Args: args}, nil
	case BoundTy:
		if t.Debruijn >= outer {
			return f.FoldFreeBoundTy(t, outer)
		}
		return t, nil
	case InferTy:
		return f.FoldInferTy(t, outer)
	case PlaceholderTy:
		return f.FoldPlaceholderTy(t, outer)
	default:
		return nil, errors.Errorf("fold: unknown type variant %T", t)
	}
}

func foldLifetime(f Folder, l Lifetime, outer int) (Lifetime, error) {
	switch l := l.(type) {
	case StaticLt:
		return l, nil
	case BoundLt:
		if l.Debruijn >= outer {
			return f.FoldFreeBoundLifetime(l, outer)
		}
		return l, nil
	case InferLt:
		return f.FoldInferLifetime(l, outer)
	case PlaceholderLt:
		return f.FoldPlaceholderLifetime(l, outer)
	default:
		return nil, errors.Errorf("fold: unknown lifetime variant %T", l)
	}
}

func foldConst(f Folder, c Const, outer int) (Const, error) {
	switch c := c.(type) {
	case ConcreteConst:
		return c, nil
	case BoundConst:
		if c.Debruijn >= outer {
			return f.FoldFreeBoundConst(c, outer)
		}
		return c, nil
	case InferConst:
		return f.FoldInferConst(c, outer)
	case PlaceholderConst:
		return f.FoldPlaceholderConst(c, outer)
	default:
		return nil, errors.Errorf("fold: unknown const variant %T", c)
	}
}

func foldArg(f Folder, a GenericArg, outer int) (GenericArg, error) {
	switch a.Kind {
	case KindType:
		t, err := foldTy(f, a.Ty, outer)
		if err != nil {
			return GenericArg{}, err
		}
		return TyArg(t), nil
	case KindLifetime:
		l, err := foldLifetime(f, a.Lifetime, outer)
		if err != nil {
			return GenericArg{}, err
		}
		return LifetimeArg(l), nil
	case KindConst:
		c, err := foldConst(f, a.Const, outer)
		if err != nil {
			return GenericArg{}, err
		}
		return ConstArg(c), nil
	default:
		return GenericArg{}, errors.Errorf("fold: unknown argument kind %d", int(a.Kind))
	}
}

func foldSubst(f Folder, s Substitution, outer int) (Substitution, error) {
	if len(s) == 0 {
		return s, nil
	}
	out := make(Substitution, len(s))
	for i, a := range s {
		folded, err := foldArg(f, a, outer)
		if err != nil {
			return nil, err
		}
		out[i] = folded
	}
	return out, nil
}

func foldTraitRef(f Folder, tr TraitRef, outer int) (TraitRef, error) {
	args, err := foldSubst(f, tr.Args, outer)
	if err != nil {
		return TraitRef{}, err
	}
	return TraitRef{Trait: tr.Trait, Args: args}, nil
}

func foldDomainGoal(f Folder, dg DomainGoal, outer int) (DomainGoal, error) {
	switch dg := dg.(type) {
	case Implemented:
		ref, err := foldTraitRef(f, dg.Ref, outer)
		if err != nil {
			return nil, err
		}
		return Implemented{Ref: ref}, nil
	case AliasEq:
		alias, err := foldTy(f, dg.Alias, outer)
		if err != nil {
			return nil, err
		}
		ty, err := foldTy(f, dg.Ty, outer)
		if err != nil {
			return nil, err
		}
		return AliasEq{Alias: alias, Ty: ty}, nil
	case WellFormedTy:
		ty, err := foldTy(f, dg.Ty, outer)
		if err != nil {
			return nil, err
		}
		return WellFormedTy{Ty: ty}, nil
	case WellFormedTrait:
		ref, err := foldTraitRef(f, dg.Ref, outer)
		if err != nil {
			return nil, err
		}
		return WellFormedTrait{Ref: ref}, nil
	case FromEnv:
		ref, err := foldTraitRef(f, dg.Ref, outer)
		if err != nil {
			return nil, err
		}
		return FromEnv{Ref: ref}, nil
	case IsLocal:
		ty, err := foldTy(f, dg.Ty, outer)
		if err != nil {
			return nil, err
		}
		return IsLocal{Ty: ty}, nil
	case IsUpstream:
		ty, err := foldTy(f, dg.Ty, outer)
		if err != nil {
			return nil, err
		}
		return IsUpstream{Ty: ty}, nil
	case IsFullyVisible:
		ty, err := foldTy(f, dg.Ty, outer)
		if err != nil {
			return nil, err
		}
		return IsFullyVisible{Ty: ty}, nil
	case LocalImplAllowed:
		ref, err := foldTraitRef(f, dg.Ref, outer)
		if err != nil {
			return nil, err
		}
		return LocalImplAllowed{Ref: ref}, nil
	case DownstreamType:
		ty, err := foldTy(f, dg.Ty, outer)
		if err != nil {
			return nil, err
		}
		return DownstreamType{Ty: ty}, nil
	case Compatible, Reveal:
		return dg, nil
	case LifetimeOutlives:
		a, err := foldLifetime(f, dg.A, outer)
		if err != nil {
			return nil, err
		}
		b, err := foldLifetime(f, dg.B, outer)
		if err != nil {
			return nil, err
		}
		return LifetimeOutlives{A: a, B: b}, nil
	default:
		return nil, errors.Errorf("fold: unknown domain goal variant %T", dg)
	}
}

func foldGoal(f Folder, g Goal, outer int) (Goal, error) {
	switch g := g.(type) {
	case LeafGoal:
		dg, err := foldDomainGoal(f, g.Domain, outer)
		if err != nil {
			return nil, err
		}
		return LeafGoal{Domain: dg}, nil
	case AllGoal:
		subs := make([]Goal, len(g.Goals))
		for i, sub := range g.Goals {
			folded, err := foldGoal(f, sub, outer)
			if err != nil {
				return nil, err
			}
			subs[i] = folded
		}
		return AllGoal{Goals: subs}, nil
	case NotGoal:
		sub, err := foldGoal(f, g.Goal, outer)
		if err != nil {
			return nil, err
		}
		return NotGoal{Goal: sub}, nil
	case ImpliesGoal:
		clauses := make([]ProgramClause, len(g.Clauses))
		for i, c := range g.Clauses {
			folded, err := foldClause(f, c, outer)
			if err != nil {
				return nil, err
			}
			clauses[i] = folded
		}
		sub, err := foldGoal(f, g.Goal, outer)
		if err != nil {
			return nil, err
		}
		return ImpliesGoal{Clauses: clauses, Goal: sub}, nil
	case QuantifiedGoal:
		sub, err := foldGoal(f, g.Bound.Value, outer+1)
		if err != nil {
			return nil, err
		}
		return QuantifiedGoal{
			Quantifier: g.Quantifier,
			Bound:      NewBinders(g.Bound.Kinds, sub),
		}, nil
	case EqGoal:
		a, err := foldArg(f, g.A, outer)
		if err != nil {
			return nil, err
		}
		b, err := foldArg(f, g.B, outer)
		if err != nil {
			return nil, err
		}
		return EqGoal{A: a, B: b}, nil
	default:
		return nil, errors.Errorf("fold: unknown goal variant %T", g)
	}
}

func foldConstraint(f Folder, c Constraint, outer int) (Constraint, error) {
	a, err := foldLifetime(f, c.A, outer)
	if err != nil {
		return Constraint{}, err
	}
	b, err := foldLifetime(f, c.B, outer)
	if err != nil {
		return Constraint{}, err
	}
	return Constraint{A: a, B: b}, nil
}

func foldConstraints(f Folder, cs []Constraint, outer int) ([]Constraint, error) {
	if len(cs) == 0 {
		return cs, nil
	}
	out := make([]Constraint, len(cs))
	for i, c := range cs {
		folded, err := foldConstraint(f, c, outer)
		if err != nil {
			return nil, err
		}
		out[i] = folded
	}
	return out, nil
}

func foldImplication(f Folder, ci ClauseImplication, outer int) (ClauseImplication, error) {
	consequence, err := foldDomainGoal(f, ci.Consequence, outer)
	if err != nil {
		return ClauseImplication{}, err
	}
	conditions := make([]Goal, len(ci.Conditions))
	for i, g := range ci.Conditions {
		folded, err := foldGoal(f, g, outer)
		if err != nil {
			return ClauseImplication{}, err
		}
		conditions[i] = folded
	}
	constraints, err := foldConstraints(f, ci.Constraints, outer)
	if err != nil {
		return ClauseImplication{}, err
	}
	return ClauseImplication{
		Consequence: consequence,
		Conditions:  conditions,
		Constraints: constraints,
	}, nil
}

func foldClause(f Folder, pc ProgramClause, outer int) (ProgramClause, error) {
	inner := outer
	if len(pc.Implication.Kinds) > 0 {
		inner++
	}
	value, err := foldImplication(f, pc.Implication.Value, inner)
	if err != nil {
		return ProgramClause{}, err
	}
	return ProgramClause{
		Implication: NewBinders(pc.Implication.Kinds, value),
		Priority:    pc.Priority,
	}, nil
}

func foldEnvironment(f Folder, e *Environment, outer int) (*Environment, error) {
	if e == nil || len(e.clauses) == 0 {
		return e, nil
	}
	out := make([]ProgramClause, len(e.clauses))
	for i, c := range e.clauses {
		folded, err := foldClause(f, c, outer)
		if err != nil {
			return nil, err
		}
		out[i] = folded
	}
	return &Environment{clauses: out}, nil
}

func foldInEnvironment(f Folder, ie InEnvironment, outer int) (InEnvironment, error) {
	env, err := foldEnvironment(f, ie.Environment, outer)
	if err != nil {
		return InEnvironment{}, err
	}
	goal, err := foldGoal(f, ie.Goal, outer)
	if err != nil {
		return InEnvironment{}, err
	}
	return InEnvironment{Environment: env, Goal: goal}, nil
}

func foldConstrainedSubst(f Folder, cs ConstrainedSubst, outer int) (ConstrainedSubst, error) {
	subst, err := foldSubst(f, cs.Subst, outer)
	if err != nil {
		return ConstrainedSubst{}, err
	}
	constraints, err := foldConstraints(f, cs.Constraints, outer)
	if err != nil {
		return ConstrainedSubst{}, err
	}
	return ConstrainedSubst{Subst: subst, Constraints: constraints}, nil
}

// shifter adjusts the debruijn depth of free bound variables when a value
// crosses binder boundaries. A positive adjustment shifts in (under more
// binders), a negative one shifts out and fails if a variable would be
// captured.
type shifter struct {
	identityFolder
	adjustment int
}

func (s shifter) FoldFreeBoundTy(bv BoundTy, _ int) (Ty, error) {
	d := bv.Debruijn + s.adjustment
	if d < 0 {
		return nil, errors.Errorf("shift: bound type variable %s escapes its binder", bv)
	}
	return BoundTy{Debruijn: d, Index: bv.Index}, nil
}

func (s shifter) FoldFreeBoundLifetime(bl BoundLt, _ int) (Lifetime, error) {
	d := bl.Debruijn + s.adjustment
	if d < 0 {
		return nil, errors.Errorf("shift: bound lifetime variable %s escapes its binder", bl)
	}
	return BoundLt{Debruijn: d, Index: bl.Index}, nil
}

func (s shifter) FoldFreeBoundConst(bc BoundConst, _ int) (Const, error) {
	d := bc.Debruijn + s.adjustment
	if d < 0 {
		return nil, errors.Errorf("shift: bound const variable %s escapes its binder", bc)
	}
	return BoundConst{Debruijn: d, Index: bc.Index}, nil
}

// shiftArgIn shifts the free bound variables of an argument in by the
// given number of binder groups. Shifting in cannot fail.
func shiftArgIn(a GenericArg, groups int) GenericArg {
	if groups == 0 {
		return a
	}
	out, err := foldArg(shifter{adjustment: groups}, a, 0)
	if err != nil {
		// Positive shifts never produce negative depths.
		panic(err)
	}
	return out
}

// substFolder opens one binder group by replacing its bound variables
// with the slots of a substitution. Free variables pointing past the
// opened group shift down by one because the group disappears.
type substFolder struct {
	identityFolder
	subst Substitution
}

func (s substFolder) FoldFreeBoundTy(bv BoundTy, outer int) (Ty, error) {
	switch {
	case bv.Debruijn == outer:
		if bv.Index >= len(s.subst) {
			return nil, errors.Errorf("substitute: slot %d out of range (%d slots)", bv.Index, len(s.subst))
		}
		arg := shiftArgIn(s.subst[bv.Index], outer)
		if arg.Kind != KindType {
			return nil, errors.Errorf("substitute: slot %d holds a %s, expected a type", bv.Index, arg.Kind)
		}
		return arg.Ty, nil
	default:
		return BoundTy{Debruijn: bv.Debruijn - 1, Index: bv.Index}, nil
	}
}

func (s substFolder) FoldFreeBoundLifetime(bl BoundLt, outer int) (Lifetime, error) {
	switch {
	case bl.Debruijn == outer:
		if bl.Index >= len(s.subst) {
			return nil, errors.Errorf("substitute: slot %d out of range (%d slots)", bl.Index, len(s.subst))
		}
		arg := shiftArgIn(s.subst[bl.Index], outer)
		if arg.Kind != KindLifetime {
			return nil, errors.Errorf("substitute: slot %d holds a %s, expected a lifetime", bl.Index, arg.Kind)
		}
		return arg.Lifetime, nil
	default:
		return BoundLt{Debruijn: bl.Debruijn - 1, Index: bl.Index}, nil
	}
}

func (s substFolder) FoldFreeBoundConst(bc BoundConst, outer int) (Const, error) {
	switch {
	case bc.Debruijn == outer:
		if bc.Index >= len(s.subst) {
			return nil, errors.Errorf("substitute: slot %d out of range (%d slots)", bc.Index, len(s.subst))
		}
		arg := shiftArgIn(s.subst[bc.Index], outer)
		if arg.Kind != KindConst {
			return nil, errors.Errorf("substitute: slot %d holds a %s, expected a const", bc.Index, arg.Kind)
		}
		return arg.Const, nil
	default:
		return BoundConst{Debruijn: bc.Debruijn - 1, Index: bc.Index}, nil
	}
}

// checkBinderSubst validates a substitution against a binder's kinds.
// Every binder-opening path funnels through here.
func checkBinderSubst(kinds []ParamKind, s Substitution) error {
	if len(kinds) != len(s) {
		return errors.Errorf("binders: arity mismatch: %d slots, %d arguments", len(kinds), len(s))
	}
	for i, a := range s {
		if a.Kind != kinds[i] {
			return errors.Errorf("binders: slot %d is a %s parameter, got a %s argument",
				i, kinds[i], a.Kind)
		}
	}
	return nil
}

// ApplySubstGoal opens a goal binder with the given substitution.
func ApplySubstGoal(b Binders[Goal], s Substitution) (Goal, error) {
	if err := checkBinderSubst(b.Kinds, s); err != nil {
		return nil, err
	}
	return foldGoal(substFolder{subst: s}, b.Value, 0)
}

// ApplySubstTy opens a type binder with the given substitution.
func ApplySubstTy(b Binders[Ty], s Substitution) (Ty, error) {
	if err := checkBinderSubst(b.Kinds, s); err != nil {
		return nil, err
	}
	return foldTy(substFolder{subst: s}, b.Value, 0)
}

// ApplySubstImplication opens a clause-implication binder with the given
// substitution.
func ApplySubstImplication(b Binders[ClauseImplication], s Substitution) (ClauseImplication, error) {
	if err := checkBinderSubst(b.Kinds, s); err != nil {
		return ClauseImplication{}, err
	}
	return foldImplication(substFolder{subst: s}, b.Value, 0)
}

// ApplySubstInEnvironment opens a goal-in-environment binder, as used when
// instantiating a canonical goal.
func ApplySubstInEnvironment(kinds []ParamKind, value InEnvironment, s Substitution) (InEnvironment, error) {
	if err := checkBinderSubst(kinds, s); err != nil {
		return InEnvironment{}, err
	}
	return foldInEnvironment(substFolder{subst: s}, value, 0)
}

// ApplySubstConstrainedSubst opens a constrained-substitution binder, as
// used when replaying a recorded answer.
func ApplySubstConstrainedSubst(kinds []ParamKind, value ConstrainedSubst, s Substitution) (ConstrainedSubst, error) {
	if err := checkBinderSubst(kinds, s); err != nil {
		return ConstrainedSubst{}, err
	}
	return foldConstrainedSubst(substFolder{subst: s}, value, 0)
}
