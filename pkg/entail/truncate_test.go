package entail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nestedTy(adt AdtID, depth int) Ty {
	ty := Ty(ApplyTy{Adt: adt})
	for i := 1; i < depth; i++ {
		ty = ApplyTy{Adt: adt, Args: Substitution{TyArg(ty)}}
	}
	return ty
}

func TestTyDepth(t *testing.T) {
	assert.Equal(t, 1, tyDepth(ApplyTy{Adt: 0}))
	assert.Equal(t, 3, tyDepth(nestedTy(0, 3)))
	assert.Equal(t, 1, tyDepth(InferTy{Var: 0}))
}

func TestTruncateGoalWithinBudget(t *testing.T) {
	table := NewInferenceTable()
	goal := implementedOf(0, nestedTy(1, 4))

	out, lost := table.TruncateGoal(10, goal)
	assert.False(t, lost)
	assert.Equal(t, goal, out, "a goal within budget passes through unchanged")
}

func TestTruncateGoalReplacesDeepSubtrees(t *testing.T) {
	table := NewInferenceTable()
	before := len(table.vars)
	goal := implementedOf(0, nestedTy(1, 12))

	out, lost := table.TruncateGoal(5, goal)
	assert.True(t, lost, "an oversized goal must report precision loss")
	assert.Greater(t, len(table.vars), before, "truncation allocates replacement variables")

	leaf := out.Goal.(LeafGoal)
	self := leaf.Domain.(Implemented).Ref.SelfTy()
	_, ok := self.(InferTy)
	assert.True(t, ok, "the oversized subtree becomes a fresh inference variable")
}

func TestTruncateGoalKeepsBoundVariables(t *testing.T) {
	table := NewInferenceTable()

	// A deep term whose innermost leaf is a binder-bound variable must
	// not be replaced, or the variable would escape its binder.
	inner := Ty(BoundTy{Debruijn: 0, Index: 0})
	for i := 0; i < 10; i++ {
		inner = ApplyTy{Adt: 0, Args: Substitution{TyArg(inner)}}
	}
	goal := InEnvironment{
		Environment: NewEnvironment(),
		Goal: QuantifiedGoal{
			Quantifier: ForAll,
			Bound: NewBinders([]ParamKind{KindType}, Domain(Implemented{
				Ref: TraitRef{Trait: 0, Args: Substitution{TyArg(inner)}},
			})),
		},
	}

	out, _ := table.TruncateGoal(5, goal)
	q := out.Goal.(QuantifiedGoal)
	self := q.Bound.Value.(LeafGoal).Domain.(Implemented).Ref.SelfTy()
	_, stillApply := self.(ApplyTy)
	assert.True(t, stillApply, "subtrees mentioning bound variables survive truncation")
}

func TestTruncateSubst(t *testing.T) {
	table := NewInferenceTable()

	s := Substitution{TyArg(nestedTy(0, 3))}
	out, lost := table.TruncateSubst(5, s)
	assert.False(t, lost)
	assert.Equal(t, s, out)

	s = Substitution{TyArg(nestedTy(0, 9))}
	out, lost = table.TruncateSubst(5, s)
	require.True(t, lost)
	_, ok := out[0].Ty.(InferTy)
	assert.True(t, ok)
}
