package entail

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// autoProgram models:
//
//	auto trait Send { }
//	struct Unit;
//	struct Box<T> { value: T }
//	struct Pair { a: Unit, b: Box<Unit> }
//	struct Bad;
//	struct Wrapper { inner: Bad }
//	struct Special { inner: Bad }
//	impl !Send for Bad { }
//	impl Send for Special { }
//	opaque type Token: = Unit;
//	opaque type Secret: = Bad;
func autoProgram() *Program {
	tyKind := []ParamKind{KindType}
	self := BoundTy{Debruijn: 0, Index: 0}
	unit := ApplyTy{Adt: 0}
	bad := ApplyTy{Adt: 3}
	return NewProgram().
		AddAdt(&AdtDatum{ID: 0, Name: "Unit"}).
		AddAdt(&AdtDatum{ID: 1, Name: "Box", Kinds: tyKind, Fields: []Ty{self}}).
		AddAdt(&AdtDatum{ID: 2, Name: "Pair", Fields: []Ty{
			unit,
			ApplyTy{Adt: 1, Args: Substitution{TyArg(unit)}},
		}}).
		AddAdt(&AdtDatum{ID: 3, Name: "Bad"}).
		AddAdt(&AdtDatum{ID: 4, Name: "Wrapper", Fields: []Ty{bad}}).
		AddAdt(&AdtDatum{ID: 5, Name: "Special", Fields: []Ty{bad}}).
		AddTrait(&TraitDatum{ID: 0, Name: "Send", Kinds: tyKind, Auto: true}).
		AddImpl(&ImplDatum{
			Ref:      TraitRef{Trait: 0, Args: Substitution{TyArg(bad)}},
			Negative: true,
		}).
		AddImpl(&ImplDatum{
			Ref: TraitRef{Trait: 0, Args: Substitution{TyArg(ApplyTy{Adt: 5})}},
		}).
		AddOpaque(&OpaqueDatum{ID: 0, Name: "Token", Hidden: unit}).
		AddOpaque(&OpaqueDatum{ID: 1, Name: "Secret", Hidden: bad})
}

func TestAutoDerivesThroughFields(t *testing.T) {
	p := autoProgram()

	// Fieldless constructors hold trivially.
	assert.Equal(t, SolutionUnique, solve(t, p, nil, implGoal(0, ApplyTy{Adt: 0})).Kind)

	// Pair holds because Unit and Box<Unit> hold.
	assert.Equal(t, SolutionUnique, solve(t, p, nil, implGoal(0, ApplyTy{Adt: 2})).Kind)
}

func TestAutoGenericConstructorFollowsArgument(t *testing.T) {
	p := autoProgram()
	boxOf := func(inner Ty) Ty {
		return ApplyTy{Adt: 1, Args: Substitution{TyArg(inner)}}
	}

	assert.Equal(t, SolutionUnique, solve(t, p, nil, implGoal(0, boxOf(ApplyTy{Adt: 0}))).Kind)
	assert.Equal(t, SolutionNoSolution, solve(t, p, nil, implGoal(0, boxOf(ApplyTy{Adt: 3}))).Kind)
}

func TestAutoNegativeImplSuppressesDerivation(t *testing.T) {
	p := autoProgram()

	// The opt-out itself.
	assert.Equal(t, SolutionNoSolution, solve(t, p, nil, implGoal(0, ApplyTy{Adt: 3})).Kind)

	// And it propagates through containing constructors.
	assert.Equal(t, SolutionNoSolution, solve(t, p, nil, implGoal(0, ApplyTy{Adt: 4})).Kind)
}

func TestAutoExplicitImplOverridesFields(t *testing.T) {
	// Special contains Bad, but its explicit impl replaces the
	// structural rule entirely.
	sol := solve(t, autoProgram(), nil, implGoal(0, ApplyTy{Adt: 5}))
	assert.Equal(t, SolutionUnique, sol.Kind)
}

func TestAutoLeaksThroughOpaque(t *testing.T) {
	p := autoProgram()

	// Auto capabilities are judged on the hidden type even without
	// reveal: Token hides Unit, Secret hides Bad.
	assert.Equal(t, SolutionUnique, solve(t, p, nil, implGoal(0, OpaqueTy{Opaque: 0})).Kind)
	assert.Equal(t, SolutionNoSolution, solve(t, p, nil, implGoal(0, OpaqueTy{Opaque: 1})).Kind)
}

func TestAutoSelfReferentialConstructor(t *testing.T) {
	// struct Loop { next: Loop } proves coinductively: the structural
	// rule calls itself and the cycle discharges.
	p := NewProgram().
		AddAdt(&AdtDatum{ID: 0, Name: "Loop", Fields: []Ty{ApplyTy{Adt: 0}}}).
		AddTrait(&TraitDatum{ID: 0, Name: "Send", Kinds: []ParamKind{KindType}, Auto: true})

	sol := solve(t, p, nil, implGoal(0, ApplyTy{Adt: 0}))
	assert.Equal(t, SolutionUnique, sol.Kind)
}

func TestAutoMutuallyRecursiveConstructors(t *testing.T) {
	// struct Tree { child: Node }   struct Node { parent: Tree }
	p := NewProgram().
		AddAdt(&AdtDatum{ID: 0, Name: "Tree", Fields: []Ty{ApplyTy{Adt: 1}}}).
		AddAdt(&AdtDatum{ID: 1, Name: "Node", Fields: []Ty{ApplyTy{Adt: 0}}}).
		AddTrait(&TraitDatum{ID: 0, Name: "Send", Kinds: []ParamKind{KindType}, Auto: true})

	sol := solve(t, p, nil, implGoal(0, ApplyTy{Adt: 0}))
	assert.Equal(t, SolutionUnique, sol.Kind)
}
