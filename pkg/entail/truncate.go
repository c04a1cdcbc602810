// Package entail: truncation.
//
// Recursive programs can grow terms without bound (Wrap<Wrap<Wrap<...>>>).
// Truncation caps term depth by replacing subterms past the cap with
// fresh inference variables: the truncated goal is strictly more general
// than the original, so tabling it loses precision (the engine reports
// the overflow and the caller degrades to Ambiguous) but never soundness,
// and the table stays finite.
package entail

// tyDepth returns the nesting depth of a type term. Leaves have depth 1.
func tyDepth(t Ty) int {
	switch t := t.(type) {
	case ApplyTy:
		return 1 + substDepth(t.Args)
	case ProjectionTy:
		return 1 + substDepth(t.Args)
	case OpaqueTy:
		return 1 + substDepth(t.Args)
	default:
		return 1
	}
}

func argDepth(a GenericArg) int {
	if a.Kind == KindType {
		return tyDepth(a.Ty)
	}
	return 1
}

func substDepth(s Substitution) int {
	max := 0
	for _, a := range s {
		if d := argDepth(a); d > max {
			max = d
		}
	}
	return max
}

func domainGoalDepth(dg DomainGoal) int {
	switch dg := dg.(type) {
	case Implemented:
		return substDepth(dg.Ref.Args)
	case AliasEq:
		a, b := tyDepth(dg.Alias), tyDepth(dg.Ty)
		if a > b {
			return a
		}
		return b
	case WellFormedTy:
		return tyDepth(dg.Ty)
	case WellFormedTrait:
		return substDepth(dg.Ref.Args)
	case FromEnv:
		return substDepth(dg.Ref.Args)
	case IsLocal:
		return tyDepth(dg.Ty)
	case IsUpstream:
		return tyDepth(dg.Ty)
	case IsFullyVisible:
		return tyDepth(dg.Ty)
	case LocalImplAllowed:
		return substDepth(dg.Ref.Args)
	case DownstreamType:
		return tyDepth(dg.Ty)
	default:
		return 1
	}
}

func goalDepth(g Goal) int {
	switch g := g.(type) {
	case LeafGoal:
		return domainGoalDepth(g.Domain)
	case AllGoal:
		max := 0
		for _, sub := range g.Goals {
			if d := goalDepth(sub); d > max {
				max = d
			}
		}
		return max
	case NotGoal:
		return goalDepth(g.Goal)
	case ImpliesGoal:
		return goalDepth(g.Goal)
	case QuantifiedGoal:
		return goalDepth(g.Bound.Value)
	case EqGoal:
		a, b := argDepth(g.A), argDepth(g.B)
		if a > b {
			return a
		}
		return b
	default:
		return 1
	}
}

// hasBoundVarTy reports whether a type mentions any binder-bound
// variable. Types carry no binders of their own, so every bound variable
// inside refers to a binder outside the type; replacing such a subtree
// with an inference variable would detach it from its binder.
func hasBoundVarTy(t Ty) bool {
	switch t := t.(type) {
	case ApplyTy:
		return hasBoundVarSubst(t.Args)
	case ProjectionTy:
		return hasBoundVarSubst(t.Args)
	case OpaqueTy:
		return hasBoundVarSubst(t.Args)
	case BoundTy:
		return true
	default:
		return false
	}
}

func hasBoundVarArg(a GenericArg) bool {
	switch a.Kind {
	case KindType:
		return hasBoundVarTy(a.Ty)
	case KindLifetime:
		_, ok := a.Lifetime.(BoundLt)
		return ok
	case KindConst:
		_, ok := a.Const.(BoundConst)
		return ok
	}
	return false
}

func hasBoundVarSubst(s Substitution) bool {
	for _, a := range s {
		if hasBoundVarArg(a) {
			return true
		}
	}
	return false
}

// truncator rewrites oversized type terms into fresh inference variables
// allocated in the table's most local universe.
type truncator struct {
	table     *InferenceTable
	maxDepth  int
	truncated bool
}

func (tr *truncator) truncTy(t Ty) Ty {
	if tyDepth(t) > tr.maxDepth && !hasBoundVarTy(t) {
		tr.truncated = true
		return InferTy{Var: tr.table.NewVariable(KindType, tr.table.MaxUniverse())}
	}
	return t
}

func (tr *truncator) truncArg(a GenericArg) GenericArg {
	if a.Kind == KindType {
		return TyArg(tr.truncTy(a.Ty))
	}
	return a
}

func (tr *truncator) truncSubst(s Substitution) Substitution {
	if len(s) == 0 {
		return s
	}
	out := make(Substitution, len(s))
	for i, a := range s {
		out[i] = tr.truncArg(a)
	}
	return out
}

func (tr *truncator) truncTraitRef(ref TraitRef) TraitRef {
	return TraitRef{Trait: ref.Trait, Args: tr.truncSubst(ref.Args)}
}

func (tr *truncator) truncDomainGoal(dg DomainGoal) DomainGoal {
	switch dg := dg.(type) {
	case Implemented:
		return Implemented{Ref: tr.truncTraitRef(dg.Ref)}
	case AliasEq:
		return AliasEq{Alias: tr.truncTy(dg.Alias), Ty: tr.truncTy(dg.Ty)}
	case WellFormedTy:
		return WellFormedTy{Ty: tr.truncTy(dg.Ty)}
	case WellFormedTrait:
		return WellFormedTrait{Ref: tr.truncTraitRef(dg.Ref)}
	case FromEnv:
		return FromEnv{Ref: tr.truncTraitRef(dg.Ref)}
	case IsLocal:
		return IsLocal{Ty: tr.truncTy(dg.Ty)}
	case IsUpstream:
		return IsUpstream{Ty: tr.truncTy(dg.Ty)}
	case IsFullyVisible:
		return IsFullyVisible{Ty: tr.truncTy(dg.Ty)}
	case LocalImplAllowed:
		return LocalImplAllowed{Ref: tr.truncTraitRef(dg.Ref)}
	case DownstreamType:
		return DownstreamType{Ty: tr.truncTy(dg.Ty)}
	default:
		return dg
	}
}

func (tr *truncator) truncGoal(g Goal) Goal {
	switch g := g.(type) {
	case LeafGoal:
		return LeafGoal{Domain: tr.truncDomainGoal(g.Domain)}
	case AllGoal:
		subs := make([]Goal, len(g.Goals))
		for i, sub := range g.Goals {
			subs[i] = tr.truncGoal(sub)
		}
		return AllGoal{Goals: subs}
	case NotGoal:
		return NotGoal{Goal: tr.truncGoal(g.Goal)}
	case ImpliesGoal:
		return ImpliesGoal{Clauses: g.Clauses, Goal: tr.truncGoal(g.Goal)}
	case QuantifiedGoal:
		sub := tr.truncGoal(g.Bound.Value)
		return QuantifiedGoal{Quantifier: g.Quantifier, Bound: NewBinders(g.Bound.Kinds, sub)}
	case EqGoal:
		return EqGoal{A: tr.truncArg(g.A), B: tr.truncArg(g.B)}
	default:
		return g
	}
}

// TruncateGoal caps the term depth of a goal. The second result reports
// whether anything was replaced; a truncated subgoal must not contribute
// definite answers, so the engine treats it as an overflow.
func (t *InferenceTable) TruncateGoal(maxDepth int, ie InEnvironment) (InEnvironment, bool) {
	if goalDepth(ie.Goal) <= maxDepth {
		return ie, false
	}
	tr := &truncator{table: t, maxDepth: maxDepth}
	return InEnvironment{
		Environment: ie.Environment,
		Goal:        tr.truncGoal(ie.Goal),
	}, tr.truncated
}

// TruncateSubst caps the term depth of an answer substitution. A
// truncated answer is not a real answer; the table records the overflow
// instead of the answer.
func (t *InferenceTable) TruncateSubst(maxDepth int, s Substitution) (Substitution, bool) {
	if substDepth(s) <= maxDepth {
		return s, false
	}
	tr := &truncator{table: t, maxDepth: maxDepth}
	return tr.truncSubst(s), tr.truncated
}
