package entail

import "github.com/pkg/errors"

// resolvent matches a domain goal against one program clause. The
// clause's binders open with fresh inference variables, the head unifies
// with the goal, and a new ex-clause comes back carrying the answer
// substitution, the clause's conditions as positive literals, any goals
// the unifier deferred, and the clause's constraints.
//
// Returns ErrNoMatch when the head does not unify; the caller just moves
// to the next clause.
func resolvent(infer *InferenceTable, env *Environment, goal DomainGoal, subst Substitution, clause ProgramClause) (*ExClause, error) {
	impl, err := infer.InstantiateImplicationExistentially(clause.Implication)
	if err != nil {
		return nil, err
	}

	result, err := infer.UnifyDomainGoals(env, goal, impl.Consequence)
	if err != nil {
		return nil, err
	}

	ex := &ExClause{Subst: subst}
	for _, condition := range impl.Conditions {
		if err := simplifyGoal(infer, ex, env, condition); err != nil {
			return nil, err
		}
	}
	result.IntoExClause(ex)
	ex.Constraints = append(ex.Constraints, impl.Constraints...)
	return ex, nil
}

// applyAnswer resolves the selected positive literal of an ex-clause
// against one recorded answer of its subgoal's table. The answer's
// canonical variables open as fresh inference variables, its universes
// translate back through the map recorded at canonicalization, and each
// answer slot unifies with the live occupant it constrains.
//
// Returns ErrNoMatch when the answer is incompatible with bindings made
// since the subgoal was canonicalized.
func applyAnswer(infer *InferenceTable, ex *ExClause, env *Environment, occupants []VarID, umap UniverseMap, answer CanonicalConstrainedSubst) error {
	unmapped, err := umap.UnmapSubst(answer)
	if err != nil {
		return err
	}
	cs, err := infer.InstantiateCanonicalSubst(unmapped)
	if err != nil {
		return err
	}
	if len(cs.Subst) != len(occupants) {
		return errors.Errorf("applyAnswer: answer has %d slots, subgoal has %d variables",
			len(cs.Subst), len(occupants))
	}
	for i, v := range occupants {
		result, err := infer.UnifyGenericArgs(env, infer.varArg(v), cs.Subst[i])
		if err != nil {
			return err
		}
		result.IntoExClause(ex)
	}
	ex.Constraints = append(ex.Constraints, cs.Constraints...)
	return nil
}
