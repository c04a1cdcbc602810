package entail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// opaqueProgram models:
//
//	struct Unit;
//	struct Bare;
//	trait Clone { }
//	trait Other { }
//	impl Clone for Unit { }
//	impl Other for Unit { }
//	opaque type Token: Clone = Unit;
func opaqueProgram() *Program {
	tyKind := []ParamKind{KindType}
	unit := ApplyTy{Adt: 0}
	return NewProgram().
		AddAdt(&AdtDatum{ID: 0, Name: "Unit"}).
		AddAdt(&AdtDatum{ID: 1, Name: "Bare"}).
		AddTrait(&TraitDatum{ID: 0, Name: "Clone", Kinds: tyKind}).
		AddTrait(&TraitDatum{ID: 1, Name: "Other", Kinds: tyKind}).
		AddImpl(&ImplDatum{Ref: TraitRef{Trait: 0, Args: Substitution{TyArg(unit)}}}).
		AddImpl(&ImplDatum{Ref: TraitRef{Trait: 1, Args: Substitution{TyArg(unit)}}}).
		AddOpaque(&OpaqueDatum{
			ID:     0,
			Name:   "Token",
			Bounds: []TraitBound{{Trait: 0}},
			Hidden: unit,
		})
}

func revealGoal(p *Program, goal Goal) Goal {
	return ImpliesGoal{Clauses: []ProgramClause{p.RevealClause()}, Goal: goal}
}

func TestOpaqueSatisfiesDeclaredBound(t *testing.T) {
	sol := solve(t, opaqueProgram(), nil, implGoal(0, OpaqueTy{Opaque: 0}))
	assert.Equal(t, SolutionUnique, sol.Kind,
		"the opaque advertises Clone, so Clone must hold without reveal")
}

func TestOpaqueHidesUndeclaredCapability(t *testing.T) {
	p := opaqueProgram()
	token := OpaqueTy{Opaque: 0}

	// Unit implements Other, but the opaque does not advertise it.
	sol := solve(t, p, nil, implGoal(1, token))
	assert.Equal(t, SolutionNoSolution, sol.Kind)

	// Under reveal the hidden type shows through.
	sol = solve(t, p, nil, revealGoal(p, implGoal(1, token)))
	assert.Equal(t, SolutionUnique, sol.Kind)
}

func TestOpaqueRevealGatesHiddenEquality(t *testing.T) {
	p := opaqueProgram()
	eq := Domain(AliasEq{Alias: OpaqueTy{Opaque: 0}, Ty: ApplyTy{Adt: 0}})

	assert.Equal(t, SolutionNoSolution, solve(t, p, nil, eq).Kind,
		"opaque identity must not leak without reveal")
	assert.Equal(t, SolutionUnique, solve(t, p, nil, revealGoal(p, eq)).Kind)
}

func TestOpaqueWhereClauseGatesWellFormedness(t *testing.T) {
	unit := ApplyTy{Adt: 0}
	bare := ApplyTy{Adt: 1}

	build := func(where DomainGoal) *Program {
		return opaqueProgram().AddOpaque(&OpaqueDatum{
			ID:     1,
			Name:   "Guarded",
			Bounds: []TraitBound{{Trait: 0}},
			WhereClauses: []DomainGoal{
				where,
			},
			Hidden: unit,
		})
	}

	// Where-clause provable: Unit is Clone.
	p := build(Implemented{Ref: TraitRef{Trait: 0, Args: Substitution{TyArg(unit)}}})
	sol := solve(t, p, nil, Domain(WellFormedTy{Ty: OpaqueTy{Opaque: 1}}))
	assert.Equal(t, SolutionUnique, sol.Kind)

	// Where-clause unprovable: Bare is not Clone.
	p = build(Implemented{Ref: TraitRef{Trait: 0, Args: Substitution{TyArg(bare)}}})
	sol = solve(t, p, nil, Domain(WellFormedTy{Ty: OpaqueTy{Opaque: 1}}))
	assert.Equal(t, SolutionNoSolution, sol.Kind)
}

func TestOpaqueGenerics(t *testing.T) {
	// struct Box<T>; impl<T> Clone for Box<T> where T: Clone;
	// opaque type Wrapped<T>: Clone = Box<T>;
	tyKind := []ParamKind{KindType}
	self := BoundTy{Debruijn: 0, Index: 0}
	p := cloneProgram().AddOpaque(&OpaqueDatum{
		ID:     0,
		Name:   "Wrapped",
		Kinds:  tyKind,
		Bounds: []TraitBound{{Trait: 0}},
		Hidden: ApplyTy{Adt: 1, Args: Substitution{TyArg(self)}},
	})

	unit := ApplyTy{Adt: 0}
	wrappedUnit := OpaqueTy{Opaque: 0, Args: Substitution{TyArg(unit)}}

	// The bound holds at a concrete argument.
	assert.Equal(t, SolutionUnique, solve(t, p, nil, implGoal(0, wrappedUnit)).Kind)

	// And universally, straight from the declared bound.
	forall := QuantifiedGoal{
		Quantifier: ForAll,
		Bound: NewBinders(tyKind, implGoal(0, OpaqueTy{
			Opaque: 0, Args: Substitution{TyArg(self)},
		})),
	}
	assert.Equal(t, SolutionUnique, solve(t, p, nil, forall).Kind)
}

func TestOpaqueGenericsRevealBindsArgument(t *testing.T) {
	tyKind := []ParamKind{KindType}
	self := BoundTy{Debruijn: 0, Index: 0}
	p := cloneProgram().AddOpaque(&OpaqueDatum{
		ID:     0,
		Name:   "Wrapped",
		Kinds:  tyKind,
		Bounds: []TraitBound{{Trait: 0}},
		Hidden: ApplyTy{Adt: 1, Args: Substitution{TyArg(self)}},
	})

	unit := ApplyTy{Adt: 0}
	boxUnit := ApplyTy{Adt: 1, Args: Substitution{TyArg(unit)}}

	// exists<T> Wrapped<T> = Box<Unit> under reveal forces T = Unit.
	goal := revealGoal(p, QuantifiedGoal{
		Quantifier: Exists,
		Bound: NewBinders(tyKind, Domain(AliasEq{
			Alias: OpaqueTy{Opaque: 0, Args: Substitution{TyArg(self)}},
			Ty:    boxUnit,
		})),
	})
	sol := solve(t, p, nil, goal)
	require.Equal(t, SolutionUnique, sol.Kind)
	require.Len(t, sol.Subst.Value.Subst, 1)
	assert.Equal(t, TyArg(unit), sol.Subst.Value.Subst[0])
}

func TestOpaqueAssocItemBinding(t *testing.T) {
	// trait Producer { type Output; }
	// impl Producer for Unit { type Output = Bare; }
	// opaque type Token: Producer<Output = Bare> = Unit;
	tyKind := []ParamKind{KindType}
	unit := ApplyTy{Adt: 0}
	bare := ApplyTy{Adt: 1}
	p := NewProgram().
		AddAdt(&AdtDatum{ID: 0, Name: "Unit"}).
		AddAdt(&AdtDatum{ID: 1, Name: "Bare"}).
		AddTrait(&TraitDatum{ID: 0, Name: "Producer", Kinds: tyKind, AssocItems: []AssocItemID{0}}).
		AddAssocItem(&AssocItemDatum{ID: 0, Trait: 0, Name: "Output"}).
		AddImpl(&ImplDatum{
			Ref:    TraitRef{Trait: 0, Args: Substitution{TyArg(unit)}},
			Values: []AssocValue{{Assoc: 0, Value: bare}},
		}).
		AddOpaque(&OpaqueDatum{
			ID:       0,
			Name:     "Token",
			Bounds:   []TraitBound{{Trait: 0}},
			Bindings: []AssocBinding{{Assoc: 0, Value: bare}},
			Hidden:   unit,
		})

	// exists<T> Output<Token> = T resolves through the binding.
	goal := QuantifiedGoal{
		Quantifier: Exists,
		Bound: NewBinders(tyKind, Domain(AliasEq{
			Alias: ProjectionTy{Assoc: 0, Args: Substitution{TyArg(OpaqueTy{Opaque: 0})}},
			Ty:    BoundTy{Debruijn: 0, Index: 0},
		})),
	}
	sol := solve(t, p, nil, goal)
	require.Equal(t, SolutionUnique, sol.Kind)
	require.Len(t, sol.Subst.Value.Subst, 1)
	assert.Equal(t, TyArg(bare), sol.Subst.Value.Subst[0])
}

func TestOpaqueGenericAssocBinding(t *testing.T) {
	// opaque type Wrapped<T>: Producer<Output = T> = Box<T>;
	// The binding must hold at a concrete argument and universally.
	tyKind := []ParamKind{KindType}
	self := BoundTy{Debruijn: 0, Index: 0}
	p := NewProgram().
		AddAdt(&AdtDatum{ID: 0, Name: "Unit"}).
		AddAdt(&AdtDatum{ID: 1, Name: "Box", Kinds: tyKind, Fields: []Ty{self}}).
		AddTrait(&TraitDatum{ID: 0, Name: "Producer", Kinds: tyKind, AssocItems: []AssocItemID{0}}).
		AddAssocItem(&AssocItemDatum{ID: 0, Trait: 0, Name: "Output"}).
		AddOpaque(&OpaqueDatum{
			ID:       0,
			Name:     "Wrapped",
			Kinds:    tyKind,
			Bounds:   []TraitBound{{Trait: 0}},
			Bindings: []AssocBinding{{Assoc: 0, Value: self}},
			Hidden:   ApplyTy{Adt: 1, Args: Substitution{TyArg(self)}},
		})

	producerWithOutput := func(arg Ty) Goal {
		wrapped := OpaqueTy{Opaque: 0, Args: Substitution{TyArg(arg)}}
		return AllGoal{Goals: []Goal{
			implGoal(0, wrapped),
			Domain(AliasEq{
				Alias: ProjectionTy{Assoc: 0, Args: Substitution{TyArg(wrapped)}},
				Ty:    arg,
			}),
		}}
	}

	assert.Equal(t, SolutionUnique, solve(t, p, nil, producerWithOutput(ApplyTy{Adt: 0})).Kind)

	forall := QuantifiedGoal{
		Quantifier: ForAll,
		Bound:      NewBinders(tyKind, producerWithOutput(self)),
	}
	assert.Equal(t, SolutionUnique, solve(t, p, nil, forall).Kind)
}

func TestProjectionResolvesThroughImpl(t *testing.T) {
	// exists<T> Output<Unit> = T via the impl's associated value.
	tyKind := []ParamKind{KindType}
	unit := ApplyTy{Adt: 0}
	bare := ApplyTy{Adt: 1}
	p := NewProgram().
		AddAdt(&AdtDatum{ID: 0, Name: "Unit"}).
		AddAdt(&AdtDatum{ID: 1, Name: "Bare"}).
		AddTrait(&TraitDatum{ID: 0, Name: "Producer", Kinds: tyKind, AssocItems: []AssocItemID{0}}).
		AddAssocItem(&AssocItemDatum{ID: 0, Trait: 0, Name: "Output"}).
		AddImpl(&ImplDatum{
			Ref:    TraitRef{Trait: 0, Args: Substitution{TyArg(unit)}},
			Values: []AssocValue{{Assoc: 0, Value: bare}},
		})

	goal := QuantifiedGoal{
		Quantifier: Exists,
		Bound: NewBinders(tyKind, Domain(AliasEq{
			Alias: ProjectionTy{Assoc: 0, Args: Substitution{TyArg(unit)}},
			Ty:    BoundTy{Debruijn: 0, Index: 0},
		})),
	}
	sol := solve(t, p, nil, goal)
	require.Equal(t, SolutionUnique, sol.Kind)
	require.Len(t, sol.Subst.Value.Subst, 1)
	assert.Equal(t, TyArg(bare), sol.Subst.Value.Subst[0])
}
