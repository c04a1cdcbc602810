// Package entail: the inference table.
//
// An InferenceTable owns the inference variables of one search branch: a
// union-find store indexed by universe, plus the live bindings. Tables are
// created per top-level query; speculative branches work on Clone copies
// so an abandoned branch leaves no mutation visible.
package entail

import (
	"github.com/pkg/errors"
)

// inferVar is one slot in the variable store. Roots carry the binding (if
// any); non-roots forward to their parent.
type inferVar struct {
	kind     ParamKind
	universe UniverseIndex
	parent   VarID
	rank     int
	value    *GenericArg // non-nil only on a bound root
}

// InferenceTable owns inference variables, their universes and the
// current unification state.
//
// Thread safety: a table belongs to exactly one goroutine. Concurrent
// branches must operate on Clone copies.
type InferenceTable struct {
	vars        []inferVar
	maxUniverse UniverseIndex
}

// NewInferenceTable creates an empty table at the root universe.
func NewInferenceTable() *InferenceTable {
	return &InferenceTable{}
}

// Clone creates a branch-local copy sharing nothing mutable with the
// receiver.
func (t *InferenceTable) Clone() *InferenceTable {
	vars := make([]inferVar, len(t.vars))
	copy(vars, t.vars)
	return &InferenceTable{vars: vars, maxUniverse: t.maxUniverse}
}

// NewUniverse allocates the next, strictly more local universe.
func (t *InferenceTable) NewUniverse() UniverseIndex {
	t.maxUniverse++
	return t.maxUniverse
}

// MaxUniverse returns the most local universe allocated so far.
func (t *InferenceTable) MaxUniverse() UniverseIndex {
	return t.maxUniverse
}

// NewVariable allocates a fresh, unbound inference variable of the given
// kind in the given universe.
func (t *InferenceTable) NewVariable(kind ParamKind, ui UniverseIndex) VarID {
	id := VarID(len(t.vars))
	t.vars = append(t.vars, inferVar{kind: kind, universe: ui, parent: id})
	return id
}

// varArg wraps a variable id as a generic argument of its kind.
func (t *InferenceTable) varArg(v VarID) GenericArg {
	switch t.vars[v].kind {
	case KindLifetime:
		return LifetimeArg(InferLt{Var: v})
	case KindConst:
		return ConstArg(InferConst{Var: v})
	default:
		return TyArg(InferTy{Var: v})
	}
}

// root finds the representative of a variable with path compression.
func (t *InferenceTable) root(v VarID) VarID {
	for t.vars[v].parent != v {
		p := t.vars[v].parent
		t.vars[v].parent = t.vars[p].parent
		v = t.vars[v].parent
	}
	return v
}

// probe returns the value bound to a variable's root, if any.
func (t *InferenceTable) probe(v VarID) (GenericArg, bool) {
	r := t.root(v)
	if t.vars[r].value == nil {
		return GenericArg{}, false
	}
	return *t.vars[r].value, true
}

// universeOf returns the universe of a variable's root.
func (t *InferenceTable) universeOf(v VarID) UniverseIndex {
	return t.vars[t.root(v)].universe
}

// demoteUniverse moves a variable's root into a more global universe.
// Used when a variable appears inside a value bound to a more global
// variable: from then on it must not absorb anything that universe
// cannot see.
func (t *InferenceTable) demoteUniverse(v VarID, ui UniverseIndex) {
	r := t.root(v)
	if ui < t.vars[r].universe {
		t.vars[r].universe = ui
	}
}

// unionVars merges two unbound roots. The merged root lives in the more
// global of the two universes.
func (t *InferenceTable) unionVars(a, b VarID) {
	ra, rb := t.root(a), t.root(b)
	if ra == rb {
		return
	}
	ui := t.vars[ra].universe
	if t.vars[rb].universe < ui {
		ui = t.vars[rb].universe
	}
	if t.vars[ra].rank < t.vars[rb].rank {
		ra, rb = rb, ra
	}
	t.vars[rb].parent = ra
	if t.vars[ra].rank == t.vars[rb].rank {
		t.vars[ra].rank++
	}
	t.vars[ra].universe = ui
}

// bind records a value for an unbound root. The caller must have run the
// occurs and universe checks first.
func (t *InferenceTable) bind(v VarID, arg GenericArg) error {
	r := t.root(v)
	if t.vars[r].value != nil {
		return errors.Errorf("inference: variable ?%d is already bound", int(r))
	}
	a := arg
	t.vars[r].value = &a
	return nil
}

// FreshSubst allocates one new inference variable per declared parameter,
// each in its recorded universe, and returns them as a substitution.
func (t *InferenceTable) FreshSubst(kinds []CanonicalVarKind) Substitution {
	out := make(Substitution, len(kinds))
	for i, vk := range kinds {
		v := t.NewVariable(vk.Kind, vk.Universe)
		out[i] = t.varArg(v)
	}
	return out
}

// instantiateKindsExistentially opens a binder group with ordinary fresh
// inference variables in the current (most local) universe.
func (t *InferenceTable) instantiateKindsExistentially(kinds []ParamKind) Substitution {
	ui := t.maxUniverse
	out := make(Substitution, len(kinds))
	for i, k := range kinds {
		v := t.NewVariable(k, ui)
		out[i] = t.varArg(v)
	}
	return out
}

// instantiateKindsUniversally opens a binder group with opaque
// placeholders in a brand new universe. Nothing allocated before this
// call can be unified with them.
func (t *InferenceTable) instantiateKindsUniversally(kinds []ParamKind) Substitution {
	ui := t.NewUniverse()
	out := make(Substitution, len(kinds))
	for i, k := range kinds {
		switch k {
		case KindLifetime:
			out[i] = LifetimeArg(PlaceholderLt{Universe: ui, Index: i})
		case KindConst:
			out[i] = ConstArg(PlaceholderConst{Universe: ui, Index: i})
		default:
			out[i] = TyArg(PlaceholderTy{Universe: ui, Index: i})
		}
	}
	return out
}

// InstantiateGoalExistentially opens a quantified goal with fresh
// inference variables.
func (t *InferenceTable) InstantiateGoalExistentially(b Binders[Goal]) (Goal, error) {
	return ApplySubstGoal(b, t.instantiateKindsExistentially(b.Kinds))
}

// InstantiateGoalUniversally opens a quantified goal with placeholders in
// a fresh universe.
func (t *InferenceTable) InstantiateGoalUniversally(b Binders[Goal]) (Goal, error) {
	return ApplySubstGoal(b, t.instantiateKindsUniversally(b.Kinds))
}

// InstantiateImplicationExistentially opens a program clause's binders
// with fresh inference variables, producing the implication to resolve
// the goal against.
func (t *InferenceTable) InstantiateImplicationExistentially(b Binders[ClauseImplication]) (ClauseImplication, error) {
	if len(b.Kinds) == 0 {
		return b.Value, nil
	}
	return ApplySubstImplication(b, t.instantiateKindsExistentially(b.Kinds))
}

// InstantiateUniverses prepares a u-canonical value for use in this
// table: one fresh universe is allocated per compressed universe level so
// that placeholders from sibling branches can never collide.
//
// The table must be freshly created (universe numbering dense from the
// root), which is how the resolution engine uses it: one new table per
// memo entry.
func (t *InferenceTable) InstantiateUniverses(u UCanonicalGoal) CanonicalGoal {
	for i := 0; i < u.Universes; i++ {
		t.NewUniverse()
	}
	return u.Canonical
}

// InstantiateCanonicalGoal opens a canonical goal: each canonical binder
// becomes a fresh inference variable in its recorded universe. Returns
// the live goal and the substitution holding the fresh variables, which
// doubles as the answer-in-progress for the goal's free variables.
func (t *InferenceTable) InstantiateCanonicalGoal(c CanonicalGoal) (InEnvironment, Substitution, error) {
	subst := t.FreshSubst(c.VarKinds)
	kinds := make([]ParamKind, len(c.VarKinds))
	for i, vk := range c.VarKinds {
		kinds[i] = vk.Kind
	}
	ie, err := ApplySubstInEnvironment(kinds, c.Value, subst)
	if err != nil {
		return InEnvironment{}, nil, err
	}
	return ie, subst, nil
}

// InstantiateCanonicalSubst opens a canonical constrained substitution
// with fresh inference variables, clamping recorded universes to ones
// this table knows about.
func (t *InferenceTable) InstantiateCanonicalSubst(c CanonicalConstrainedSubst) (ConstrainedSubst, error) {
	kinds := make([]ParamKind, len(c.VarKinds))
	fresh := make(Substitution, len(c.VarKinds))
	for i, vk := range c.VarKinds {
		kinds[i] = vk.Kind
		ui := vk.Universe
		if ui > t.maxUniverse {
			ui = t.maxUniverse
		}
		v := t.NewVariable(vk.Kind, ui)
		fresh[i] = t.varArg(v)
	}
	return ApplySubstConstrainedSubst(kinds, c.Value, fresh)
}

// NormalizeShallowTy resolves leading inference-variable indirections,
// exposing the head constructor without walking into arguments.
func (t *InferenceTable) NormalizeShallowTy(ty Ty) Ty {
	for {
		iv, ok := ty.(InferTy)
		if !ok {
			return ty
		}
		val, bound := t.probe(iv.Var)
		if !bound || val.Kind != KindType {
			// Keep the representative so equal variables look equal.
			return InferTy{Var: t.root(iv.Var)}
		}
		ty = val.Ty
	}
}

// NormalizeShallowLifetime resolves leading lifetime indirections.
func (t *InferenceTable) NormalizeShallowLifetime(l Lifetime) Lifetime {
	for {
		iv, ok := l.(InferLt)
		if !ok {
			return l
		}
		val, bound := t.probe(iv.Var)
		if !bound || val.Kind != KindLifetime {
			return InferLt{Var: t.root(iv.Var)}
		}
		l = val.Lifetime
	}
}

// NormalizeShallowConst resolves leading const indirections.
func (t *InferenceTable) NormalizeShallowConst(c Const) Const {
	for {
		iv, ok := c.(InferConst)
		if !ok {
			return c
		}
		val, bound := t.probe(iv.Var)
		if !bound || val.Kind != KindConst {
			return InferConst{Var: t.root(iv.Var)}
		}
		c = val.Const
	}
}

// deepNormalizer substitutes every bound inference variable by its fully
// resolved value. Unbound variables are replaced by their root
// representative.
type deepNormalizer struct {
	identityFolder
	table *InferenceTable
}

func (n deepNormalizer) FoldInferTy(v InferTy, outer int) (Ty, error) {
	val, bound := n.table.probe(v.Var)
	if !bound {
		return InferTy{Var: n.table.root(v.Var)}, nil
	}
	shifted := shiftArgIn(val, outer)
	if shifted.Kind != KindType {
		return nil, errors.Errorf("normalize: ?%d bound to a %s, expected a type", int(v.Var), shifted.Kind)
	}
	return foldTy(n, shifted.Ty, outer)
}

func (n deepNormalizer) FoldInferLifetime(v InferLt, outer int) (Lifetime, error) {
	val, bound := n.table.probe(v.Var)
	if !bound {
		return InferLt{Var: n.table.root(v.Var)}, nil
	}
	shifted := shiftArgIn(val, outer)
	if shifted.Kind != KindLifetime {
		return nil, errors.Errorf("normalize: '?%d bound to a %s, expected a lifetime", int(v.Var), shifted.Kind)
	}
	return foldLifetime(n, shifted.Lifetime, outer)
}

func (n deepNormalizer) FoldInferConst(v InferConst, outer int) (Const, error) {
	val, bound := n.table.probe(v.Var)
	if !bound {
		return InferConst{Var: n.table.root(v.Var)}, nil
	}
	shifted := shiftArgIn(val, outer)
	if shifted.Kind != KindConst {
		return nil, errors.Errorf("normalize: #?%d bound to a %s, expected a const", int(v.Var), shifted.Kind)
	}
	return foldConst(n, shifted.Const, outer)
}

// NormalizeDeepSubst applies the current bindings recursively to a
// substitution, fully resolving an answer before it is reported.
func (t *InferenceTable) NormalizeDeepSubst(s Substitution) (Substitution, error) {
	return foldSubst(deepNormalizer{table: t}, s, 0)
}

// NormalizeDeepGoal applies the current bindings recursively to a goal in
// its environment.
func (t *InferenceTable) NormalizeDeepGoal(ie InEnvironment) (InEnvironment, error) {
	return foldInEnvironment(deepNormalizer{table: t}, ie, 0)
}

// freeVarDetector reports whether a value mentions any unbound inference
// variable after normalization.
type freeVarDetector struct {
	identityFolder
	table *InferenceTable
	found bool
}

func (d *freeVarDetector) FoldInferTy(v InferTy, outer int) (Ty, error) {
	if _, bound := d.table.probe(v.Var); !bound {
		d.found = true
	}
	return v, nil
}

func (d *freeVarDetector) FoldInferLifetime(v InferLt, outer int) (Lifetime, error) {
	if _, bound := d.table.probe(v.Var); !bound {
		d.found = true
	}
	return v, nil
}

func (d *freeVarDetector) FoldInferConst(v InferConst, outer int) (Const, error) {
	if _, bound := d.table.probe(v.Var); !bound {
		d.found = true
	}
	return v, nil
}

// InvertGoal prepares a goal for negation-as-failure. Negating a goal
// with free inference variables would let bindings leak across the
// negation boundary, so such goals are refused (second result false) and
// the caller flounders instead of risking unsoundness. For closed goals
// the normalized goal is returned; requiring its sub-search to fail is
// then a sound reading of the negation.
func (t *InferenceTable) InvertGoal(ie InEnvironment) (InEnvironment, bool, error) {
	normalized, err := t.NormalizeDeepGoal(ie)
	if err != nil {
		return InEnvironment{}, false, err
	}
	d := &freeVarDetector{table: t}
	if _, err := foldInEnvironment(d, normalized, 0); err != nil {
		return InEnvironment{}, false, err
	}
	if d.found {
		return InEnvironment{}, false, nil
	}
	return normalized, true, nil
}
