// Package main demonstrates the goentail engine on a small capability
// program: generic impls, auto capabilities, and opaque types with and
// without reveal mode.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gitrdm/goentail/pkg/entail"
)

// The demo program models:
//
//	struct Unit;
//	struct Box<T> { value: T }
//	trait Clone { }
//	auto trait Send { }
//	impl Clone for Unit { }
//	impl<T> Clone for Box<T> where T: Clone { }
//	opaque type Token: Clone = Unit;
const (
	unitAdt entail.AdtID = iota
	boxAdt
)

const (
	cloneTrait entail.TraitID = iota
	sendTrait
)

const tokenOpaque entail.OpaqueID = 0

func buildProgram() (*entail.Program, error) {
	tyKind := []entail.ParamKind{entail.KindType}
	self := entail.BoundTy{Debruijn: 0, Index: 0}

	program := entail.NewProgram().
		AddAdt(&entail.AdtDatum{ID: unitAdt, Name: "Unit"}).
		AddAdt(&entail.AdtDatum{
			ID:     boxAdt,
			Name:   "Box",
			Kinds:  tyKind,
			Fields: []entail.Ty{self},
		}).
		AddTrait(&entail.TraitDatum{ID: cloneTrait, Name: "Clone", Kinds: tyKind}).
		AddTrait(&entail.TraitDatum{ID: sendTrait, Name: "Send", Kinds: tyKind, Auto: true}).
		AddImpl(&entail.ImplDatum{
			Ref: entail.TraitRef{
				Trait: cloneTrait,
				Args:  entail.Substitution{entail.TyArg(entail.ApplyTy{Adt: unitAdt})},
			},
		}).
		AddImpl(&entail.ImplDatum{
			Kinds: tyKind,
			Ref: entail.TraitRef{
				Trait: cloneTrait,
				Args: entail.Substitution{entail.TyArg(entail.ApplyTy{
					Adt:  boxAdt,
					Args: entail.Substitution{entail.TyArg(self)},
				})},
			},
			WhereClauses: []entail.Goal{entail.Domain(entail.Implemented{
				Ref: entail.TraitRef{Trait: cloneTrait, Args: entail.Substitution{entail.TyArg(self)}},
			})},
		}).
		AddOpaque(&entail.OpaqueDatum{
			ID:     tokenOpaque,
			Name:   "Token",
			Bounds: []entail.TraitBound{{Trait: cloneTrait}},
			Hidden: entail.ApplyTy{Adt: unitAdt},
		})

	if err := program.Validate(); err != nil {
		return nil, err
	}
	return program, nil
}

func implementedGoal(trait entail.TraitID, ty entail.Ty) entail.Goal {
	return entail.Domain(entail.Implemented{
		Ref: entail.TraitRef{Trait: trait, Args: entail.Substitution{entail.TyArg(ty)}},
	})
}

func main() {
	program, err := buildProgram()
	if err != nil {
		log.Fatalf("program: %v", err)
	}

	unit := entail.ApplyTy{Adt: unitAdt}
	boxUnit := entail.ApplyTy{Adt: boxAdt, Args: entail.Substitution{entail.TyArg(unit)}}
	token := entail.OpaqueTy{Opaque: tokenOpaque}

	queries := []entail.Query{
		{Name: "Clone for Box<Unit>", Goal: implementedGoal(cloneTrait, boxUnit)},
		{Name: "Send for Box<Unit> (auto)", Goal: implementedGoal(sendTrait, boxUnit)},
		{Name: "Clone for Token (via bound)", Goal: implementedGoal(cloneTrait, token)},
		{Name: "Send for Token (auto leak)", Goal: implementedGoal(sendTrait, token)},
		{
			Name: "which T: exists<T> Clone for Box<T>",
			Goal: entail.QuantifiedGoal{
				Quantifier: entail.Exists,
				Bound: entail.NewBinders(
					[]entail.ParamKind{entail.KindType},
					implementedGoal(cloneTrait, entail.ApplyTy{
						Adt:  boxAdt,
						Args: entail.Substitution{entail.TyArg(entail.BoundTy{Debruijn: 0, Index: 0})},
					}),
				),
			},
		},
		{
			Name: "Token = Unit without reveal",
			Goal: entail.Domain(entail.AliasEq{Alias: token, Ty: unit}),
		},
		{
			Name: "Token = Unit under reveal",
			Goal: entail.ImpliesGoal{
				Clauses: []entail.ProgramClause{program.RevealClause()},
				Goal:    entail.Domain(entail.AliasEq{Alias: token, Ty: unit}),
			},
		},
	}

	results, err := entail.SolveAll(context.Background(), program, entail.DefaultConfig(), queries)
	if err != nil {
		log.Fatalf("solve: %v", err)
	}

	fmt.Println("=== goentail examples ===")
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("%-38s error: %v\n", r.Name+":", r.Err)
			continue
		}
		fmt.Printf("%-38s %s\n", r.Name+":", r.Solution)
	}
}
