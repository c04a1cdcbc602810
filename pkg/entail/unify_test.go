package entail

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnifyReflexive(t *testing.T) {
	table := NewInferenceTable()
	ty := ApplyTy{Adt: 0, Args: Substitution{TyArg(ApplyTy{Adt: 1})}}

	result, err := table.UnifyGenericArgs(NewEnvironment(), TyArg(ty), TyArg(ty))
	require.NoError(t, err)
	assert.Empty(t, result.Goals, "unifying a term with itself must emit no subgoals")
	assert.Empty(t, result.Constraints)
}

func TestUnifyConstructorMismatch(t *testing.T) {
	table := NewInferenceTable()
	_, err := table.UnifyGenericArgs(NewEnvironment(),
		TyArg(ApplyTy{Adt: 0}), TyArg(ApplyTy{Adt: 1}))
	assert.True(t, errors.Is(err, ErrNoMatch))
}

func TestUnifyArityMismatch(t *testing.T) {
	table := NewInferenceTable()
	_, err := table.UnifyGenericArgs(NewEnvironment(),
		TyArg(ApplyTy{Adt: 0, Args: Substitution{TyArg(ApplyTy{Adt: 1})}}),
		TyArg(ApplyTy{Adt: 0}))
	assert.True(t, errors.Is(err, ErrNoMatch))
}

func TestUnifyBindsVariableBothDirections(t *testing.T) {
	for _, flipped := range []bool{false, true} {
		table := NewInferenceTable()
		v := table.NewVariable(KindType, RootUniverse)
		a, b := TyArg(InferTy{Var: v}), TyArg(ApplyTy{Adt: 7})
		if flipped {
			a, b = b, a
		}

		_, err := table.UnifyGenericArgs(NewEnvironment(), a, b)
		require.NoError(t, err)
		val, bound := table.probe(v)
		require.True(t, bound)
		assert.Equal(t, TyArg(ApplyTy{Adt: 7}), val)
	}
}

func TestUnifyVariableVariableThenBind(t *testing.T) {
	table := NewInferenceTable()
	env := NewEnvironment()
	a := table.NewVariable(KindType, RootUniverse)
	b := table.NewVariable(KindType, RootUniverse)

	_, err := table.UnifyGenericArgs(env, TyArg(InferTy{Var: a}), TyArg(InferTy{Var: b}))
	require.NoError(t, err)
	_, err = table.UnifyGenericArgs(env, TyArg(InferTy{Var: b}), TyArg(ApplyTy{Adt: 2}))
	require.NoError(t, err)

	resolved := table.NormalizeShallowTy(InferTy{Var: a})
	assert.Equal(t, ApplyTy{Adt: 2}, resolved, "union must propagate the binding to both variables")
}

func TestUnifyOccursCheck(t *testing.T) {
	table := NewInferenceTable()
	v := table.NewVariable(KindType, RootUniverse)

	_, err := table.UnifyGenericArgs(NewEnvironment(),
		TyArg(InferTy{Var: v}),
		TyArg(ApplyTy{Adt: 0, Args: Substitution{TyArg(InferTy{Var: v})}}))
	assert.True(t, errors.Is(err, ErrNoMatch), "cyclic binding must be rejected")
}

func TestUnifyUniverseCheck(t *testing.T) {
	table := NewInferenceTable()
	outer := table.NewVariable(KindType, RootUniverse)
	u1 := table.NewUniverse()
	ph := PlaceholderTy{Universe: u1, Index: 0}

	// A root-universe variable cannot name a more local placeholder.
	_, err := table.UnifyGenericArgs(NewEnvironment(), TyArg(InferTy{Var: outer}), TyArg(ph))
	assert.True(t, errors.Is(err, ErrNoMatch))

	// A variable in the placeholder's universe can.
	inner := table.NewVariable(KindType, u1)
	_, err = table.UnifyGenericArgs(NewEnvironment(), TyArg(InferTy{Var: inner}), TyArg(ph))
	assert.NoError(t, err)
}

func TestUnifyUniverseDemotion(t *testing.T) {
	table := NewInferenceTable()
	env := NewEnvironment()
	outer := table.NewVariable(KindType, RootUniverse)
	u1 := table.NewUniverse()
	inner := table.NewVariable(KindType, u1)

	// Binding the outer variable to a term mentioning the inner one
	// demotes the inner variable to the outer universe.
	_, err := table.UnifyGenericArgs(env,
		TyArg(InferTy{Var: outer}),
		TyArg(ApplyTy{Adt: 0, Args: Substitution{TyArg(InferTy{Var: inner})}}))
	require.NoError(t, err)
	assert.Equal(t, RootUniverse, table.universeOf(inner))

	// The demoted variable now refuses placeholders from the local
	// universe.
	_, err = table.UnifyGenericArgs(env,
		TyArg(InferTy{Var: inner}), TyArg(PlaceholderTy{Universe: u1, Index: 0}))
	assert.True(t, errors.Is(err, ErrNoMatch))
}

func TestUnifyPlaceholders(t *testing.T) {
	table := NewInferenceTable()
	u1 := table.NewUniverse()
	env := NewEnvironment()

	_, err := table.UnifyGenericArgs(env,
		TyArg(PlaceholderTy{Universe: u1, Index: 0}),
		TyArg(PlaceholderTy{Universe: u1, Index: 0}))
	assert.NoError(t, err, "identical placeholders unify")

	_, err = table.UnifyGenericArgs(env,
		TyArg(PlaceholderTy{Universe: u1, Index: 0}),
		TyArg(PlaceholderTy{Universe: u1, Index: 1}))
	assert.True(t, errors.Is(err, ErrNoMatch), "distinct placeholders must not unify")
}

func TestUnifyAliasAgainstRigidDefers(t *testing.T) {
	table := NewInferenceTable()
	proj := ProjectionTy{Assoc: 0, Args: Substitution{TyArg(ApplyTy{Adt: 1})}}

	result, err := table.UnifyGenericArgs(NewEnvironment(), TyArg(proj), TyArg(ApplyTy{Adt: 2}))
	require.NoError(t, err, "alias vs rigid must defer, not fail")
	require.Len(t, result.Goals, 1)

	leaf := result.Goals[0].Goal.(LeafGoal)
	eq := leaf.Domain.(AliasEq)
	assert.Equal(t, proj, eq.Alias)
	assert.Equal(t, ApplyTy{Adt: 2}, eq.Ty)
}

func TestUnifySameHeadAliasComponentwise(t *testing.T) {
	table := NewInferenceTable()
	v := table.NewVariable(KindType, RootUniverse)

	result, err := table.UnifyGenericArgs(NewEnvironment(),
		TyArg(ProjectionTy{Assoc: 0, Args: Substitution{TyArg(InferTy{Var: v})}}),
		TyArg(ProjectionTy{Assoc: 0, Args: Substitution{TyArg(ApplyTy{Adt: 4})}}))
	require.NoError(t, err)
	assert.Empty(t, result.Goals, "same-head aliases unify structurally")

	val, bound := table.probe(v)
	require.True(t, bound)
	assert.Equal(t, TyArg(ApplyTy{Adt: 4}), val)
}

func TestUnifyOpaqueAgainstRigidDefers(t *testing.T) {
	table := NewInferenceTable()
	op := OpaqueTy{Opaque: 0}

	result, err := table.UnifyGenericArgs(NewEnvironment(), TyArg(ApplyTy{Adt: 1}), TyArg(op))
	require.NoError(t, err)
	require.Len(t, result.Goals, 1)
	eq := result.Goals[0].Goal.(LeafGoal).Domain.(AliasEq)
	assert.Equal(t, op, eq.Alias, "the alias side carries the opaque term")
}

func TestUnifyLifetimeMismatchEmitsConstraints(t *testing.T) {
	table := NewInferenceTable()
	u1 := table.NewUniverse()
	ph := PlaceholderLt{Universe: u1, Index: 0}

	result, err := table.UnifyGenericArgs(NewEnvironment(),
		LifetimeArg(StaticLt{}), LifetimeArg(ph))
	require.NoError(t, err, "rigid lifetime mismatch is a constraint, not a failure")
	assert.Equal(t, []Constraint{
		{A: StaticLt{}, B: ph},
		{A: ph, B: StaticLt{}},
	}, result.Constraints)
}

func TestUnifyConsts(t *testing.T) {
	table := NewInferenceTable()
	env := NewEnvironment()

	_, err := table.UnifyGenericArgs(env,
		ConstArg(ConcreteConst{Value: 3}), ConstArg(ConcreteConst{Value: 3}))
	assert.NoError(t, err)

	_, err = table.UnifyGenericArgs(env,
		ConstArg(ConcreteConst{Value: 3}), ConstArg(ConcreteConst{Value: 4}))
	assert.True(t, errors.Is(err, ErrNoMatch))

	v := table.NewVariable(KindConst, RootUniverse)
	_, err = table.UnifyGenericArgs(env,
		ConstArg(InferConst{Var: v}), ConstArg(ConcreteConst{Value: 9}))
	require.NoError(t, err)
	val, bound := table.probe(v)
	require.True(t, bound)
	assert.Equal(t, ConstArg(ConcreteConst{Value: 9}), val)
}

func TestUnifyKindMismatchIsHardError(t *testing.T) {
	table := NewInferenceTable()
	_, err := table.UnifyGenericArgs(NewEnvironment(),
		TyArg(ApplyTy{Adt: 0}), LifetimeArg(StaticLt{}))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoMatch), "kind mismatch is a contract violation, not search failure")
}
