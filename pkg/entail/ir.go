// Package entail implements a logic-programming resolution engine for
// capability (trait) queries over a statically-typed term language with
// generics, associated items, lifetime parameters and opaque types.
//
// The engine answers questions of the form "does type X satisfy capability
// bound Y, under assumptions Z?" and, when the answer is yes, produces the
// most general substitution for the query's free variables.
//
// # Architecture
//
// The package is layered, leaves first:
//   - Term algebra: types, lifetimes, consts, substitutions, binders and
//     universes (this file, goal.go)
//   - Unification: structural matching producing a binding delta plus
//     emitted region constraints (unify.go)
//   - Canonicalization: turning live inference state into reusable,
//     memoizable keys (canonical.go)
//   - Truncation: bounding proof-search term size so that unbounded
//     recursive types terminate with an inconclusive answer (truncate.go)
//   - Inference table: ownership of inference variables, their universes
//     and the live binding state (infer.go)
//   - Tabled resolution: the memoizing proof-search loop (slg.go) behind
//     a pluggable context contract (context.go)
//
// # Thread Safety
//
// All term-algebra values are immutable once built and freely shareable.
// An InferenceTable is mutable and owned by a single query; a Forest is
// mutable and drives exactly one top-level query at a time. Cross-query
// parallelism is share-nothing: one Forest per goal (see SolveAll).
package entail

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ParamKind classifies a generic parameter slot: type, lifetime or const.
type ParamKind int

const (
	// KindType is a type parameter slot.
	KindType ParamKind = iota

	// KindLifetime is a lifetime (region) parameter slot.
	KindLifetime

	// KindConst is a const parameter slot.
	KindConst
)

// String returns a human-readable representation of the kind.
func (k ParamKind) String() string {
	switch k {
	case KindType:
		return "type"
	case KindLifetime:
		return "lifetime"
	case KindConst:
		return "const"
	default:
		return fmt.Sprintf("ParamKind(%d)", int(k))
	}
}

// UniverseIndex orders the scopes of universally quantified variables.
// The root universe is 0; each universal instantiation allocates the next
// index. A variable may only be unified with terms from universes it can
// see, which prevents a locally introduced placeholder from escaping into
// an enclosing scope.
type UniverseIndex int

// RootUniverse is the outermost universe, visible everywhere.
const RootUniverse UniverseIndex = 0

// CanSee reports whether a variable in universe u may mention values from
// universe other. Smaller indices are more global.
func (u UniverseIndex) CanSee(other UniverseIndex) bool {
	return other <= u
}

// String returns a human-readable representation of the universe.
func (u UniverseIndex) String() string {
	return fmt.Sprintf("U%d", int(u))
}

// Identifiers for program items. They are allocated densely by Program and
// carry no meaning beyond identity.
type (
	// AdtID identifies a declared data type.
	AdtID int

	// TraitID identifies a declared capability.
	TraitID int

	// AssocItemID identifies an associated item declared by a capability.
	AssocItemID int

	// OpaqueID identifies an opaque type declaration.
	OpaqueID int

	// VarID identifies an inference variable within one InferenceTable.
	VarID int
)

// Ty is a type term. Variants: applied constructor, associated-item
// projection, opaque reference, bound variable, inference variable and
// placeholder.
//
// Bound variables use (debruijn, index) pairs: debruijn counts binder
// groups crossed from the variable outward (innermost first), index is the
// slot within the group.
type Ty interface {
	isTy()

	// String returns a stable human-readable representation. For values
	// without live inference variables the representation is canonical and
	// usable as a map key.
	String() string
}

// ApplyTy is a fully applied type constructor.
type ApplyTy struct {
	Adt  AdtID
	Args Substitution
}

// ProjectionTy references an associated item of a capability, applied to
// the capability's arguments (self type first). It is an alias term:
// unification against a non-alias defers to an alias-equality goal.
type ProjectionTy struct {
	Assoc AssocItemID
	Args  Substitution
}

// OpaqueTy references an opaque type. Like ProjectionTy it is an alias
// term; it only unfolds to its hidden type through an alias-equality
// clause gated on the Reveal assumption.
type OpaqueTy struct {
	Opaque OpaqueID
	Args   Substitution
}

// BoundTy references a parameter slot of an enclosing binder.
type BoundTy struct {
	Debruijn int
	Index    int
}

// InferTy is a live inference variable owned by an InferenceTable.
type InferTy struct {
	Var VarID
}

// PlaceholderTy is an opaque marker introduced by universal instantiation.
// Two placeholders are equal only if universe and index both match.
type PlaceholderTy struct {
	Universe UniverseIndex
	Index    int
}

func (ApplyTy) isTy()       {}
func (ProjectionTy) isTy()  {}
func (OpaqueTy) isTy()      {}
func (BoundTy) isTy()       {}
func (InferTy) isTy()       {}
func (PlaceholderTy) isTy() {}

func (t ApplyTy) String() string {
	return fmt.Sprintf("adt%d%s", int(t.Adt), t.Args.String())
}

func (t ProjectionTy) String() string {
	return fmt.Sprintf("proj%d%s", int(t.Assoc), t.Args.String())
}

func (t OpaqueTy) String() string {
	return fmt.Sprintf("opaque%d%s", int(t.Opaque), t.Args.String())
}

func (t BoundTy) String() string {
	return fmt.Sprintf("^%d.%d", t.Debruijn, t.Index)
}

func (t InferTy) String() string {
	return fmt.Sprintf("?%d", int(t.Var))
}

func (t PlaceholderTy) String() string {
	return fmt.Sprintf("!%d.%d", int(t.Universe), t.Index)
}

// Lifetime is a region term.
type Lifetime interface {
	isLifetime()
	String() string
}

// StaticLt is the region that outlives everything.
type StaticLt struct{}

// BoundLt references a lifetime parameter slot of an enclosing binder.
type BoundLt struct {
	Debruijn int
	Index    int
}

// InferLt is a live lifetime inference variable.
type InferLt struct {
	Var VarID
}

// PlaceholderLt is a universally instantiated lifetime.
type PlaceholderLt struct {
	Universe UniverseIndex
	Index    int
}

func (StaticLt) isLifetime()      {}
func (BoundLt) isLifetime()       {}
func (InferLt) isLifetime()       {}
func (PlaceholderLt) isLifetime() {}

func (StaticLt) String() string { return "'static" }

func (l BoundLt) String() string {
	return fmt.Sprintf("'^%d.%d", l.Debruijn, l.Index)
}

func (l InferLt) String() string {
	return fmt.Sprintf("'?%d", int(l.Var))
}

func (l PlaceholderLt) String() string {
	return fmt.Sprintf("'!%d.%d", int(l.Universe), l.Index)
}

// Const is a constant-value term. The engine only needs enough structure
// to carry const generics through unification, so concrete values are
// plain uint64.
type Const interface {
	isConst()
	String() string
}

// ConcreteConst is a known constant value.
type ConcreteConst struct {
	Value uint64
}

// BoundConst references a const parameter slot of an enclosing binder.
type BoundConst struct {
	Debruijn int
	Index    int
}

// InferConst is a live const inference variable.
type InferConst struct {
	Var VarID
}

// PlaceholderConst is a universally instantiated const.
type PlaceholderConst struct {
	Universe UniverseIndex
	Index    int
}

func (ConcreteConst) isConst()    {}
func (BoundConst) isConst()       {}
func (InferConst) isConst()       {}
func (PlaceholderConst) isConst() {}

func (c ConcreteConst) String() string { return fmt.Sprintf("#%d", c.Value) }

func (c BoundConst) String() string {
	return fmt.Sprintf("#^%d.%d", c.Debruijn, c.Index)
}

func (c InferConst) String() string {
	return fmt.Sprintf("#?%d", int(c.Var))
}

func (c PlaceholderConst) String() string {
	return fmt.Sprintf("#!%d.%d", int(c.Universe), c.Index)
}

// GenericArg is one argument to a parameterized item: exactly one of Ty,
// Lifetime or Const is set, selected by Kind.
type GenericArg struct {
	Kind     ParamKind
	Ty       Ty
	Lifetime Lifetime
	Const    Const
}

// TyArg wraps a type as a generic argument.
func TyArg(t Ty) GenericArg {
	return GenericArg{Kind: KindType, Ty: t}
}

// LifetimeArg wraps a lifetime as a generic argument.
func LifetimeArg(l Lifetime) GenericArg {
	return GenericArg{Kind: KindLifetime, Lifetime: l}
}

// ConstArg wraps a const as a generic argument.
func ConstArg(c Const) GenericArg {
	return GenericArg{Kind: KindConst, Const: c}
}

// String returns a human-readable representation of the argument.
func (a GenericArg) String() string {
	switch a.Kind {
	case KindType:
		return a.Ty.String()
	case KindLifetime:
		return a.Lifetime.String()
	case KindConst:
		return a.Const.String()
	default:
		return fmt.Sprintf("GenericArg(%d)", int(a.Kind))
	}
}

// Substitution is an ordered mapping from parameter slots to terms. Its
// length and per-slot kinds must match the binder it instantiates; that
// invariant is enforced at every construction site via NewSubstitution.
type Substitution []GenericArg

// NewSubstitution builds a substitution for the given binder kinds,
// checking arity and per-slot kind. This is the only sanctioned way to
// pair caller-supplied arguments with a binder.
func NewSubstitution(kinds []ParamKind, args []GenericArg) (Substitution, error) {
	if len(kinds) != len(args) {
		return nil, errors.Errorf(
			"substitution: arity mismatch: binder has %d slots, got %d arguments",
			len(kinds), len(args))
	}
	for i, a := range args {
		if a.Kind != kinds[i] {
			return nil, errors.Errorf(
				"substitution: slot %d is a %s parameter, got a %s argument",
				i, kinds[i], a.Kind)
		}
	}
	out := make(Substitution, len(args))
	copy(out, args)
	return out, nil
}

// MustSubstitution is NewSubstitution for construction sites where the
// kinds are statically known to match. Panics on mismatch.
func MustSubstitution(kinds []ParamKind, args []GenericArg) Substitution {
	s, err := NewSubstitution(kinds, args)
	if err != nil {
		panic(err)
	}
	return s
}

// Kinds returns the per-slot kinds of the substitution.
func (s Substitution) Kinds() []ParamKind {
	out := make([]ParamKind, len(s))
	for i, a := range s {
		out[i] = a.Kind
	}
	return out
}

// String returns a human-readable representation, e.g. "<adt0<>, '!1.0>".
// The empty substitution prints as "<>".
func (s Substitution) String() string {
	parts := make([]string, len(s))
	for i, a := range s {
		parts[i] = a.String()
	}
	return "<" + strings.Join(parts, ", ") + ">"
}

// IdentitySubst builds the substitution that maps each slot of a binder to
// the corresponding bound variable at depth 0. Applying it to the binder's
// value is the identity; it is also the trivial self-answer shape.
func IdentitySubst(kinds []ParamKind) Substitution {
	out := make(Substitution, len(kinds))
	for i, k := range kinds {
		switch k {
		case KindType:
			out[i] = TyArg(BoundTy{Debruijn: 0, Index: i})
		case KindLifetime:
			out[i] = LifetimeArg(BoundLt{Debruijn: 0, Index: i})
		case KindConst:
			out[i] = ConstArg(BoundConst{Debruijn: 0, Index: i})
		}
	}
	return out
}

// IsIdentity reports whether every slot maps to its own bound variable at
// depth 0. An identity answer substitution means the goal held without
// constraining any of its free variables.
func (s Substitution) IsIdentity() bool {
	for i, a := range s {
		switch a.Kind {
		case KindType:
			bv, ok := a.Ty.(BoundTy)
			if !ok || bv.Debruijn != 0 || bv.Index != i {
				return false
			}
		case KindLifetime:
			bv, ok := a.Lifetime.(BoundLt)
			if !ok || bv.Debruijn != 0 || bv.Index != i {
				return false
			}
		case KindConst:
			bv, ok := a.Const.(BoundConst)
			if !ok || bv.Debruijn != 0 || bv.Index != i {
				return false
			}
		}
	}
	return true
}

// Binders pairs a value with the ordered parameter kinds it is abstracted
// over. It is only meaningful combined with a substitution of matching
// arity and kinds. Nesting is innermost first: the closest enclosing
// binder group is debruijn depth 0.
type Binders[T any] struct {
	Kinds []ParamKind
	Value T
}

// NewBinders wraps a value in a binder over the given kinds.
func NewBinders[T any](kinds []ParamKind, value T) Binders[T] {
	return Binders[T]{Kinds: kinds, Value: value}
}

// CanonicalVarKind records, for one canonical placeholder, its parameter
// kind and the universe it was canonicalized out of.
type CanonicalVarKind struct {
	Kind     ParamKind
	Universe UniverseIndex
}

// Canonical is a value whose live inference variables have been replaced
// by fresh bound placeholders, paired with the ordered kinds and universes
// of those placeholders. Alpha-equivalent values canonicalize identically,
// which is what makes memoization by canonical key sound.
type Canonical[T any] struct {
	VarKinds []CanonicalVarKind
	Value    T
}

// UCanonical further compresses a Canonical value by renumbering the
// universes appearing in it into a minimal dense order. Universes is the
// number of non-root universes after compression. Goals differing only by
// universe numbering map to identical UCanonical values.
type UCanonical[T any] struct {
	Canonical Canonical[T]
	Universes int
}

// Shorthand instantiations used throughout the engine.
type (
	// CanonicalGoal is a canonicalized goal in its environment.
	CanonicalGoal = Canonical[InEnvironment]

	// UCanonicalGoal is the memo-table key form of a goal.
	UCanonicalGoal = UCanonical[InEnvironment]

	// CanonicalConstrainedSubst is the reported form of one answer.
	CanonicalConstrainedSubst = Canonical[ConstrainedSubst]
)

// Constraint is an emitted region constraint: A outlives B.
type Constraint struct {
	A Lifetime
	B Lifetime
}

// String returns a human-readable representation of the constraint.
func (c Constraint) String() string {
	return fmt.Sprintf("%s: %s", c.A, c.B)
}

// ConstrainedSubst is an answer substitution together with the region
// constraints accumulated while deriving it.
type ConstrainedSubst struct {
	Subst       Substitution
	Constraints []Constraint
}

// String returns a human-readable representation of the answer.
func (cs ConstrainedSubst) String() string {
	if len(cs.Constraints) == 0 {
		return cs.Subst.String()
	}
	parts := make([]string, len(cs.Constraints))
	for i, c := range cs.Constraints {
		parts[i] = c.String()
	}
	return fmt.Sprintf("%s if %s", cs.Subst, strings.Join(parts, ", "))
}

// canonicalKey renders a canonical value as a stable string usable as a
// map key. The value must not contain live inference variables; canonical
// values satisfy this by construction.
func canonicalKey[T fmt.Stringer](c Canonical[T]) string {
	var b strings.Builder
	b.WriteString("forall")
	for _, vk := range c.VarKinds {
		fmt.Fprintf(&b, "[%s@%d]", vk.Kind, int(vk.Universe))
	}
	b.WriteString(" ")
	b.WriteString(c.Value.String())
	return b.String()
}

// ucanonicalKey renders a u-canonical value as a stable map key.
func ucanonicalKey[T fmt.Stringer](u UCanonical[T]) string {
	return fmt.Sprintf("U%d %s", u.Universes, canonicalKey(u.Canonical))
}
