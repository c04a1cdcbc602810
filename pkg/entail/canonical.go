// Package entail: canonicalization.
//
// Canonicalization turns a value full of live inference variables into a
// closed value whose free variables are numbered canonical binders, so
// alpha-equivalent queries and answers compare equal as strings. The
// second stage, u-canonicalization, additionally renumbers universes
// densely so queries differing only in universe labels share a memo
// entry.
package entail

import (
	"sort"

	"github.com/pkg/errors"
)

// canonicalizer rewrites unbound inference variables into canonical bound
// variables, numbered by first occurrence. Bound variable roots double as
// the occupant list the engine later needs to replay answers against the
// live variables.
type canonicalizer struct {
	identityFolder
	table     *InferenceTable
	slots     map[VarID]int
	occupants []VarID
	kinds     []CanonicalVarKind
}

func (c *canonicalizer) slotFor(root VarID, kind ParamKind) int {
	if idx, ok := c.slots[root]; ok {
		return idx
	}
	idx := len(c.occupants)
	c.slots[root] = idx
	c.occupants = append(c.occupants, root)
	c.kinds = append(c.kinds, CanonicalVarKind{Kind: kind, Universe: c.table.universeOf(root)})
	return idx
}

func (c *canonicalizer) FoldInferTy(v InferTy, outer int) (Ty, error) {
	if val, bound := c.table.probe(v.Var); bound {
		shifted := shiftArgIn(val, outer)
		if shifted.Kind != KindType {
			return nil, errors.Errorf("canonicalize: ?%d bound to a %s, expected a type", int(v.Var), shifted.Kind)
		}
		return foldTy(c, shifted.Ty, outer)
	}
	root := c.table.root(v.Var)
	return BoundTy{Debruijn: outer, Index: c.slotFor(root, KindType)}, nil
}

func (c *canonicalizer) FoldInferLifetime(v InferLt, outer int) (Lifetime, error) {
	if val, bound := c.table.probe(v.Var); bound {
		shifted := shiftArgIn(val, outer)
		if shifted.Kind != KindLifetime {
			return nil, errors.Errorf("canonicalize: '?%d bound to a %s, expected a lifetime", int(v.Var), shifted.Kind)
		}
		return foldLifetime(c, shifted.Lifetime, outer)
	}
	root := c.table.root(v.Var)
	return BoundLt{Debruijn: outer, Index: c.slotFor(root, KindLifetime)}, nil
}

func (c *canonicalizer) FoldInferConst(v InferConst, outer int) (Const, error) {
	if val, bound := c.table.probe(v.Var); bound {
		shifted := shiftArgIn(val, outer)
		if shifted.Kind != KindConst {
			return nil, errors.Errorf("canonicalize: #?%d bound to a %s, expected a const", int(v.Var), shifted.Kind)
		}
		return foldConst(c, shifted.Const, outer)
	}
	root := c.table.root(v.Var)
	return BoundConst{Debruijn: outer, Index: c.slotFor(root, KindConst)}, nil
}

// CanonicalizeGoal closes a goal over its unbound inference variables.
// The returned occupant list maps canonical binder i back to the live
// variable it replaced, in binder order.
func (t *InferenceTable) CanonicalizeGoal(ie InEnvironment) (CanonicalGoal, []VarID, error) {
	c := &canonicalizer{table: t, slots: make(map[VarID]int)}
	value, err := foldInEnvironment(c, ie, 0)
	if err != nil {
		return CanonicalGoal{}, nil, err
	}
	return CanonicalGoal{VarKinds: c.kinds, Value: value}, c.occupants, nil
}

// CanonicalizeConstrainedSubst closes an answer substitution with its
// constraints over the unbound inference variables remaining in it.
func (t *InferenceTable) CanonicalizeConstrainedSubst(cs ConstrainedSubst) (CanonicalConstrainedSubst, error) {
	c := &canonicalizer{table: t, slots: make(map[VarID]int)}
	value, err := foldConstrainedSubst(c, cs, 0)
	if err != nil {
		return CanonicalConstrainedSubst{}, err
	}
	return CanonicalConstrainedSubst{VarKinds: c.kinds, Value: value}, nil
}

// UniverseMap records the dense renumbering a u-canonicalization applied,
// so answers computed against the compressed numbering can be translated
// back.
type UniverseMap struct {
	// universes[compressed] = original. Slot 0 is always the root
	// universe, so an empty map is the identity on root-only values.
	universes []UniverseIndex
}

// IdentityUniverseMap maps the root universe to itself and nothing else.
func IdentityUniverseMap() UniverseMap {
	return UniverseMap{universes: []UniverseIndex{RootUniverse}}
}

// NumUniverses returns the number of non-root universes in the compressed
// numbering.
func (m UniverseMap) NumUniverses() int {
	return len(m.universes) - 1
}

// Map translates an original universe into the compressed numbering.
// Universes absent from the map were not mentioned by the canonical
// value; they sort between their neighbours, which is all the compressed
// numbering needs.
func (m UniverseMap) Map(ui UniverseIndex) UniverseIndex {
	i := sort.Search(len(m.universes), func(i int) bool { return m.universes[i] >= ui })
	if i < len(m.universes) && m.universes[i] == ui {
		return UniverseIndex(i)
	}
	// Not mentioned: clamp to the nearest mentioned universe below.
	return UniverseIndex(i - 1)
}

// Unmap translates a compressed universe back to the original numbering.
func (m UniverseMap) Unmap(ui UniverseIndex) UniverseIndex {
	if int(ui) >= len(m.universes) {
		return m.universes[len(m.universes)-1]
	}
	return m.universes[ui]
}

// universeCollector gathers every universe mentioned by placeholders.
type universeCollector struct {
	identityFolder
	seen map[UniverseIndex]struct{}
}

func (c *universeCollector) FoldPlaceholderTy(p PlaceholderTy, _ int) (Ty, error) {
	c.seen[p.Universe] = struct{}{}
	return p, nil
}

func (c *universeCollector) FoldPlaceholderLifetime(p PlaceholderLt, _ int) (Lifetime, error) {
	c.seen[p.Universe] = struct{}{}
	return p, nil
}

func (c *universeCollector) FoldPlaceholderConst(p PlaceholderConst, _ int) (Const, error) {
	c.seen[p.Universe] = struct{}{}
	return p, nil
}

// universeRemapper rewrites placeholder universes through a map.
type universeRemapper struct {
	identityFolder
	m UniverseMap
}

func (r universeRemapper) FoldPlaceholderTy(p PlaceholderTy, _ int) (Ty, error) {
	return PlaceholderTy{Universe: r.m.Map(p.Universe), Index: p.Index}, nil
}

func (r universeRemapper) FoldPlaceholderLifetime(p PlaceholderLt, _ int) (Lifetime, error) {
	return PlaceholderLt{Universe: r.m.Map(p.Universe), Index: p.Index}, nil
}

func (r universeRemapper) FoldPlaceholderConst(p PlaceholderConst, _ int) (Const, error) {
	return PlaceholderConst{Universe: r.m.Map(p.Universe), Index: p.Index}, nil
}

// UCanonicalizeGoal compresses the universes of a canonical goal into a
// dense numbering. Two goals identical up to universe labels compress to
// the same u-canonical goal, which is what makes them share a memo
// entry. The returned map translates answers back.
func UCanonicalizeGoal(c CanonicalGoal) (UCanonicalGoal, UniverseMap, error) {
	collector := &universeCollector{seen: map[UniverseIndex]struct{}{RootUniverse: {}}}
	if _, err := foldInEnvironment(collector, c.Value, 0); err != nil {
		return UCanonicalGoal{}, UniverseMap{}, err
	}
	for _, vk := range c.VarKinds {
		collector.seen[vk.Universe] = struct{}{}
	}

	universes := make([]UniverseIndex, 0, len(collector.seen))
	for ui := range collector.seen {
		universes = append(universes, ui)
	}
	sort.Slice(universes, func(i, j int) bool { return universes[i] < universes[j] })
	m := UniverseMap{universes: universes}

	value, err := foldInEnvironment(universeRemapper{m: m}, c.Value, 0)
	if err != nil {
		return UCanonicalGoal{}, UniverseMap{}, err
	}
	kinds := make([]CanonicalVarKind, len(c.VarKinds))
	for i, vk := range c.VarKinds {
		kinds[i] = CanonicalVarKind{Kind: vk.Kind, Universe: m.Map(vk.Universe)}
	}

	return UCanonicalGoal{
		Canonical: CanonicalGoal{VarKinds: kinds, Value: value},
		Universes: m.NumUniverses(),
	}, m, nil
}

// UnmapSubst translates a canonical answer computed in the compressed
// numbering back into the caller's universes.
func (m UniverseMap) UnmapSubst(c CanonicalConstrainedSubst) (CanonicalConstrainedSubst, error) {
	unmapper := universeUnmapper{m: m}
	value, err := foldConstrainedSubst(unmapper, c.Value, 0)
	if err != nil {
		return CanonicalConstrainedSubst{}, err
	}
	kinds := make([]CanonicalVarKind, len(c.VarKinds))
	for i, vk := range c.VarKinds {
		kinds[i] = CanonicalVarKind{Kind: vk.Kind, Universe: m.Unmap(vk.Universe)}
	}
	return CanonicalConstrainedSubst{VarKinds: kinds, Value: value}, nil
}

type universeUnmapper struct {
	identityFolder
	m UniverseMap
}

func (r universeUnmapper) FoldPlaceholderTy(p PlaceholderTy, _ int) (Ty, error) {
	return PlaceholderTy{Universe: r.m.Unmap(p.Universe), Index: p.Index}, nil
}

func (r universeUnmapper) FoldPlaceholderLifetime(p PlaceholderLt, _ int) (Lifetime, error) {
	return PlaceholderLt{Universe: r.m.Unmap(p.Universe), Index: p.Index}, nil
}

func (r universeUnmapper) FoldPlaceholderConst(p PlaceholderConst, _ int) (Const, error) {
	return PlaceholderConst{Universe: r.m.Unmap(p.Universe), Index: p.Index}, nil
}
