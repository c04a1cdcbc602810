// Package entail: the program boundary.
//
// A Program is the compiled, validated input contract of the engine:
// registries of type constructors, capability traits, impls and opaque
// types, already lowered from whatever surface syntax produced them.
// Validate reports every structural problem at once; Clauses compiles the
// registries into the immutable clause database the resolution context
// serves from.
package entail

import (
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// AdtDatum declares one nominal type constructor.
type AdtDatum struct {
	ID   AdtID
	Name string
	// Kinds are the generic parameters, in declaration order.
	Kinds []ParamKind
	// Fields are the component types, under the parameter binder. Auto
	// capability derivation recurses through them.
	Fields []Ty
	// Upstream marks a constructor owned by another compilation unit.
	Upstream bool
}

// TraitDatum declares one capability trait. Args slot 0 is always the
// self type.
type TraitDatum struct {
	ID   TraitID
	Name string
	// Kinds covers self plus the trait's own parameters.
	Kinds []ParamKind
	// Auto traits derive structurally through fields and leak through
	// opaque types.
	Auto bool
	// Coinductive marks an ordinary trait whose cycles count as proof.
	// Auto traits are implicitly coinductive.
	Coinductive bool
	// WhereClauses hold under the trait binder; they elaborate out of
	// FromEnv assumptions.
	WhereClauses []DomainGoal
	// AssocItems lists the associated items declared by this trait.
	AssocItems []AssocItemID
}

// AssocItemDatum declares one associated item. A projection's arguments
// are exactly the owning trait's arguments.
type AssocItemDatum struct {
	ID    AssocItemID
	Trait TraitID
	Name  string
}

// AssocValue binds an associated item inside an impl, under the impl
// binder.
type AssocValue struct {
	Assoc AssocItemID
	Value Ty
}

// ImplDatum declares one impl: for all Kinds, Ref holds where the
// conditions hold. A negative impl asserts the absence of the
// capability, which suppresses auto derivation for its self
// constructor.
type ImplDatum struct {
	Kinds []ParamKind
	// Ref is the implemented trait reference, under the binder.
	Ref TraitRef
	// WhereClauses hold under the binder.
	WhereClauses []Goal
	Negative     bool
	Values       []AssocValue
}

// TraitBound is a capability bound with the self slot implicit: Args
// covers the trait's parameters after self.
type TraitBound struct {
	Trait TraitID
	Args  Substitution
}

// AssocBinding equates an associated item of a bound with a type, under
// the declaring binder.
type AssocBinding struct {
	Assoc AssocItemID
	Value Ty
}

// OpaqueDatum declares one opaque type: callers see only the declared
// bounds, the hidden type is visible solely under a Reveal assumption.
type OpaqueDatum struct {
	ID   OpaqueID
	Name string
	// Kinds are the opaque's generic parameters.
	Kinds []ParamKind
	// Bounds are the capability bounds the opaque advertises, with
	// their associated-item bindings.
	Bounds   []TraitBound
	Bindings []AssocBinding
	// WhereClauses hold under the binder; they condition the opaque's
	// well-formedness rather than being exported outright.
	WhereClauses []DomainGoal
	// Hidden is the defining type, under the binder.
	Hidden Ty
}

// Program is the validated declaration set one or more forests solve
// against.
//
// Thread safety: construct and Validate on one goroutine; afterwards the
// program is read-only and safe to share across forests.
type Program struct {
	Adts       map[AdtID]*AdtDatum
	Traits     map[TraitID]*TraitDatum
	AssocItems map[AssocItemID]*AssocItemDatum
	Impls      []*ImplDatum
	Opaques    map[OpaqueID]*OpaqueDatum

	// StrictCompat withholds the Compatible fact, so compatibility
	// reasoning only applies under an explicit assumption.
	StrictCompat bool

	clausesOnce sync.Once
	clauses     []ProgramClause
}

// NewProgram creates an empty program.
func NewProgram() *Program {
	return &Program{
		Adts:       make(map[AdtID]*AdtDatum),
		Traits:     make(map[TraitID]*TraitDatum),
		AssocItems: make(map[AssocItemID]*AssocItemDatum),
		Opaques:    make(map[OpaqueID]*OpaqueDatum),
	}
}

// AddAdt registers a type constructor.
func (p *Program) AddAdt(d *AdtDatum) *Program {
	p.Adts[d.ID] = d
	return p
}

// AddTrait registers a capability trait.
func (p *Program) AddTrait(d *TraitDatum) *Program {
	p.Traits[d.ID] = d
	return p
}

// AddAssocItem registers an associated item.
func (p *Program) AddAssocItem(d *AssocItemDatum) *Program {
	p.AssocItems[d.ID] = d
	return p
}

// AddImpl registers an impl.
func (p *Program) AddImpl(d *ImplDatum) *Program {
	p.Impls = append(p.Impls, d)
	return p
}

// AddOpaque registers an opaque type.
func (p *Program) AddOpaque(d *OpaqueDatum) *Program {
	p.Opaques[d.ID] = d
	return p
}

// Validate checks the declaration set structurally and reports every
// problem found, not just the first.
func (p *Program) Validate() error {
	var result *multierror.Error

	for id, trait := range p.Traits {
		if id != trait.ID {
			result = multierror.Append(result, errors.Errorf(
				"Validate: trait %q registered under id %d but declares %d", trait.Name, int(id), int(trait.ID)))
		}
		if len(trait.Kinds) == 0 {
			result = multierror.Append(result, errors.Errorf(
				"Validate: trait %q has no self parameter", trait.Name))
		}
		if trait.Auto && len(trait.Kinds) > 1 {
			result = multierror.Append(result, errors.Errorf(
				"Validate: auto trait %q takes parameters beyond self", trait.Name))
		}
		if trait.Auto && len(trait.AssocItems) > 0 {
			result = multierror.Append(result, errors.Errorf(
				"Validate: auto trait %q declares associated items", trait.Name))
		}
		for _, ai := range trait.AssocItems {
			item, ok := p.AssocItems[ai]
			if !ok {
				result = multierror.Append(result, errors.Errorf(
					"Validate: trait %q lists unknown associated item %d", trait.Name, int(ai)))
				continue
			}
			if item.Trait != id {
				result = multierror.Append(result, errors.Errorf(
					"Validate: associated item %q belongs to trait %d, listed under %q",
					item.Name, int(item.Trait), trait.Name))
			}
		}
	}

	for id, adt := range p.Adts {
		if id != adt.ID {
			result = multierror.Append(result, errors.Errorf(
				"Validate: type %q registered under id %d but declares %d", adt.Name, int(id), int(adt.ID)))
		}
	}

	for i, impl := range p.Impls {
		trait, ok := p.Traits[impl.Ref.Trait]
		if !ok {
			result = multierror.Append(result, errors.Errorf(
				"Validate: impl %d targets unknown trait %d", i, int(impl.Ref.Trait)))
			continue
		}
		if len(impl.Ref.Args) != len(trait.Kinds) {
			result = multierror.Append(result, errors.Errorf(
				"Validate: impl %d of %q has %d trait arguments, trait declares %d",
				i, trait.Name, len(impl.Ref.Args), len(trait.Kinds)))
		}
		if impl.Negative && len(impl.Values) > 0 {
			result = multierror.Append(result, errors.Errorf(
				"Validate: negative impl %d of %q binds associated items", i, trait.Name))
		}
		for _, v := range impl.Values {
			item, ok := p.AssocItems[v.Assoc]
			if !ok {
				result = multierror.Append(result, errors.Errorf(
					"Validate: impl %d binds unknown associated item %d", i, int(v.Assoc)))
				continue
			}
			if item.Trait != impl.Ref.Trait {
				result = multierror.Append(result, errors.Errorf(
					"Validate: impl %d of trait %d binds item %q of trait %d",
					i, int(impl.Ref.Trait), item.Name, int(item.Trait)))
			}
		}
	}

	for id, op := range p.Opaques {
		if id != op.ID {
			result = multierror.Append(result, errors.Errorf(
				"Validate: opaque %q registered under id %d but declares %d", op.Name, int(id), int(op.ID)))
		}
		if op.Hidden == nil {
			result = multierror.Append(result, errors.Errorf(
				"Validate: opaque %q has no hidden type", op.Name))
		}
		for _, b := range op.Bounds {
			trait, ok := p.Traits[b.Trait]
			if !ok {
				result = multierror.Append(result, errors.Errorf(
					"Validate: opaque %q bound references unknown trait %d", op.Name, int(b.Trait)))
				continue
			}
			if len(b.Args) != len(trait.Kinds)-1 {
				result = multierror.Append(result, errors.Errorf(
					"Validate: opaque %q bound on %q has %d arguments after self, trait declares %d",
					op.Name, trait.Name, len(b.Args), len(trait.Kinds)-1))
			}
		}
		for _, b := range op.Bindings {
			if _, ok := p.AssocItems[b.Assoc]; !ok {
				result = multierror.Append(result, errors.Errorf(
					"Validate: opaque %q binds unknown associated item %d", op.Name, int(b.Assoc)))
			}
		}
	}

	return result.ErrorOrNil()
}

// identityBoundSubst builds the substitution [^0.0, ^0.1, ...] that
// mentions a binder's own parameters.
func identityBoundSubst(kinds []ParamKind) Substitution {
	return IdentitySubst(kinds)
}

// selfRef builds the trait reference for a bound applied to a self type.
func selfRef(b TraitBound, self Ty) TraitRef {
	args := make(Substitution, 0, len(b.Args)+1)
	args = append(args, TyArg(self))
	args = append(args, b.Args...)
	return TraitRef{Trait: b.Trait, Args: args}
}

// Clauses compiles the declaration set into the clause database. The
// result is cached; the program must not change afterwards.
func (p *Program) Clauses() []ProgramClause {
	p.clausesOnce.Do(func() {
		p.clauses = p.buildClauses()
	})
	return p.clauses
}

// Clause order must not depend on map iteration, so every generator
// walks ids in sorted order.
func (p *Program) sortedTraits() []*TraitDatum {
	out := make([]*TraitDatum, 0, len(p.Traits))
	for _, d := range p.Traits {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Program) sortedAdts() []*AdtDatum {
	out := make([]*AdtDatum, 0, len(p.Adts))
	for _, d := range p.Adts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Program) sortedOpaques() []*OpaqueDatum {
	out := make([]*OpaqueDatum, 0, len(p.Opaques))
	for _, d := range p.Opaques {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Program) buildClauses() []ProgramClause {
	var out []ProgramClause

	out = append(out, p.implClauses()...)
	out = append(out, p.autoClauses()...)
	out = append(out, p.opaqueClauses()...)
	out = append(out, p.traitClauses()...)
	out = append(out, p.coherenceClauses()...)

	if !p.StrictCompat {
		out = append(out, Fact(Compatible{}))
	}
	return out
}

// implClauses: forall<impl> Implemented(TR) :- where clauses, plus one
// alias clause per bound associated item. Negative impls contribute no
// clauses; their effect is suppressing auto derivation.
func (p *Program) implClauses() []ProgramClause {
	var out []ProgramClause
	for _, impl := range p.Impls {
		if impl.Negative {
			continue
		}
		out = append(out, ProgramClause{
			Implication: NewBinders(impl.Kinds, ClauseImplication{
				Consequence: Implemented{Ref: impl.Ref},
				Conditions:  impl.WhereClauses,
			}),
		})
		for _, v := range impl.Values {
			out = append(out, ProgramClause{
				Implication: NewBinders(impl.Kinds, ClauseImplication{
					Consequence: AliasEq{
						Alias: ProjectionTy{Assoc: v.Assoc, Args: impl.Ref.Args},
						Ty:    v.Value,
					},
					Conditions: []Goal{Domain(Implemented{Ref: impl.Ref})},
				}),
			})
		}
	}
	return out
}

// autoClauses derives auto capabilities structurally: a constructor has
// the capability when all its fields do, unless any explicit impl
// (positive or negative) claims the constructor for itself. Opaque
// types leak auto capabilities from their hidden type.
func (p *Program) autoClauses() []ProgramClause {
	var out []ProgramClause
	for _, trait := range p.sortedTraits() {
		if !trait.Auto {
			continue
		}
		tid := trait.ID
		for _, adt := range p.sortedAdts() {
			if p.hasExplicitImpl(tid, adt.ID) {
				continue
			}
			self := ApplyTy{Adt: adt.ID, Args: identityBoundSubst(adt.Kinds)}
			conditions := make([]Goal, 0, len(adt.Fields))
			for _, field := range adt.Fields {
				conditions = append(conditions, Domain(Implemented{
					Ref: TraitRef{Trait: tid, Args: Substitution{TyArg(field)}},
				}))
			}
			out = append(out, ProgramClause{
				Implication: NewBinders(adt.Kinds, ClauseImplication{
					Consequence: Implemented{Ref: TraitRef{Trait: tid, Args: Substitution{TyArg(self)}}},
					Conditions:  conditions,
				}),
			})
		}
		for _, op := range p.sortedOpaques() {
			self := OpaqueTy{Opaque: op.ID, Args: identityBoundSubst(op.Kinds)}
			out = append(out, ProgramClause{
				Implication: NewBinders(op.Kinds, ClauseImplication{
					Consequence: Implemented{Ref: TraitRef{Trait: tid, Args: Substitution{TyArg(self)}}},
					Conditions: []Goal{Domain(Implemented{
						Ref: TraitRef{Trait: tid, Args: Substitution{TyArg(op.Hidden)}},
					})},
				}),
			})
		}
	}
	return out
}

// hasExplicitImpl reports whether any impl of the trait names the
// constructor as its self type.
func (p *Program) hasExplicitImpl(trait TraitID, adt AdtID) bool {
	for _, impl := range p.Impls {
		if impl.Ref.Trait != trait {
			continue
		}
		if self, ok := impl.Ref.SelfTy().(ApplyTy); ok && self.Adt == adt {
			return true
		}
	}
	return false
}

// opaqueClauses export what callers may know about an opaque type: its
// bounds and associated bindings hold outright, and the hidden type is
// reachable only under a Reveal assumption. The reveal clause is low
// priority so bound-derived reasoning wins when both apply.
// Where-clauses stay out of the export; they gate well-formedness.
func (p *Program) opaqueClauses() []ProgramClause {
	var out []ProgramClause
	for _, op := range p.sortedOpaques() {
		self := OpaqueTy{Opaque: op.ID, Args: identityBoundSubst(op.Kinds)}

		for _, b := range op.Bounds {
			out = append(out, ProgramClause{
				Implication: NewBinders(op.Kinds, ClauseImplication{
					Consequence: Implemented{Ref: selfRef(b, self)},
				}),
			})
		}
		for _, b := range op.Bindings {
			out = append(out, ProgramClause{
				Implication: NewBinders(op.Kinds, ClauseImplication{
					Consequence: AliasEq{
						Alias: ProjectionTy{Assoc: b.Assoc, Args: Substitution{TyArg(self)}},
						Ty:    b.Value,
					},
				}),
			})
		}
		out = append(out, ProgramClause{
			Implication: NewBinders(op.Kinds, ClauseImplication{
				Consequence: AliasEq{Alias: self, Ty: op.Hidden},
				Conditions:  []Goal{Domain(Reveal{})},
			}),
			Priority: PriorityLow,
		})
	}
	return out
}

// traitClauses handle the generic machinery every trait gets: FromEnv
// elaboration and well-formedness.
func (p *Program) traitClauses() []ProgramClause {
	var out []ProgramClause
	for _, trait := range p.sortedTraits() {
		ref := TraitRef{Trait: trait.ID, Args: identityBoundSubst(trait.Kinds)}

		// An assumed obligation counts as implemented.
		out = append(out, ProgramClause{
			Implication: NewBinders(trait.Kinds, ClauseImplication{
				Consequence: Implemented{Ref: ref},
				Conditions:  []Goal{Domain(FromEnv{Ref: ref})},
			}),
		})

		// Assuming a trait obligation also assumes its where-clauses.
		for _, wc := range trait.WhereClauses {
			if impl, ok := wc.(Implemented); ok {
				out = append(out, ProgramClause{
					Implication: NewBinders(trait.Kinds, ClauseImplication{
						Consequence: FromEnv{Ref: impl.Ref},
						Conditions:  []Goal{Domain(FromEnv{Ref: ref})},
					}),
				})
			}
		}

		// A trait obligation is well formed when it holds and its
		// where-clauses hold.
		conditions := []Goal{Domain(Implemented{Ref: ref})}
		for _, wc := range trait.WhereClauses {
			conditions = append(conditions, Domain(wc))
		}
		out = append(out, ProgramClause{
			Implication: NewBinders(trait.Kinds, ClauseImplication{
				Consequence: WellFormedTrait{Ref: ref},
				Conditions:  conditions,
			}),
		})
	}
	return out
}

// coherenceClauses compile the orphan-rule vocabulary: locality of
// constructors, visibility, and which impls this compilation unit may
// legally add.
func (p *Program) coherenceClauses() []ProgramClause {
	var out []ProgramClause
	for _, adt := range p.sortedAdts() {
		self := ApplyTy{Adt: adt.ID, Args: identityBoundSubst(adt.Kinds)}
		if adt.Upstream {
			out = append(out, ProgramClause{
				Implication: NewBinders(adt.Kinds, ClauseImplication{
					Consequence: IsUpstream{Ty: self},
				}),
			})
		} else {
			out = append(out, ProgramClause{
				Implication: NewBinders(adt.Kinds, ClauseImplication{
					Consequence: IsLocal{Ty: self},
				}),
			})
		}

		// Fully visible when every type argument is.
		var visible []Goal
		for i, k := range adt.Kinds {
			if k == KindType {
				visible = append(visible, Domain(IsFullyVisible{Ty: BoundTy{Debruijn: 0, Index: i}}))
			}
		}
		out = append(out, ProgramClause{
			Implication: NewBinders(adt.Kinds, ClauseImplication{
				Consequence: IsFullyVisible{Ty: self},
				Conditions:  visible,
			}),
		})

		// A constructor is well formed on its own.
		out = append(out, ProgramClause{
			Implication: NewBinders(adt.Kinds, ClauseImplication{
				Consequence: WellFormedTy{Ty: self},
			}),
		})
	}

	// The local unit may add an impl when the self type is local.
	for _, trait := range p.sortedTraits() {
		ref := TraitRef{Trait: trait.ID, Args: identityBoundSubst(trait.Kinds)}
		out = append(out, ProgramClause{
			Implication: NewBinders(trait.Kinds, ClauseImplication{
				Consequence: LocalImplAllowed{Ref: ref},
				Conditions:  []Goal{Domain(IsLocal{Ty: ref.SelfTy()})},
			}),
		})
	}

	for _, op := range p.sortedOpaques() {
		self := OpaqueTy{Opaque: op.ID, Args: identityBoundSubst(op.Kinds)}
		conditions := make([]Goal, 0, len(op.WhereClauses))
		for _, wc := range op.WhereClauses {
			conditions = append(conditions, Domain(wc))
		}
		out = append(out, ProgramClause{
			Implication: NewBinders(op.Kinds, ClauseImplication{
				Consequence: WellFormedTy{Ty: self},
				Conditions:  conditions,
			}),
		})
	}
	return out
}

// RevealClause returns the hypothesis that switches reveal mode on.
// Solving under ImpliesGoal{Clauses: []ProgramClause{program.RevealClause()}}
// lets alias clauses see through opaque types.
func (p *Program) RevealClause() ProgramClause {
	return Fact(Reveal{})
}
