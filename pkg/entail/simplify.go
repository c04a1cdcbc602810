package entail

import "github.com/pkg/errors"

// simplifyGoal decomposes a compound goal into literals on an ex-clause,
// peeling quantifiers, conjunctions, implications and negations until
// only domain-goal literals remain. Universal binders become placeholders
// in fresh universes, existential binders become inference variables, and
// hypotheses extend the environment carried by each literal underneath
// them.
func simplifyGoal(infer *InferenceTable, ex *ExClause, env *Environment, goal Goal) error {
	type pending struct {
		env  *Environment
		goal Goal
	}
	stack := []pending{{env: env, goal: goal}}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch g := p.goal.(type) {
		case QuantifiedGoal:
			var opened Goal
			var err error
			switch g.Quantifier {
			case ForAll:
				opened, err = infer.InstantiateGoalUniversally(g.Bound)
			case Exists:
				opened, err = infer.InstantiateGoalExistentially(g.Bound)
			default:
				err = errors.Errorf("simplify: unknown quantifier %d", int(g.Quantifier))
			}
			if err != nil {
				return err
			}
			stack = append(stack, pending{env: p.env, goal: opened})
		case ImpliesGoal:
			stack = append(stack, pending{env: p.env.AddClauses(g.Clauses), goal: g.Goal})
		case AllGoal:
			// Reverse order keeps left-to-right literal order after the
			// stack inverts it.
			for i := len(g.Goals) - 1; i >= 0; i-- {
				stack = append(stack, pending{env: p.env, goal: g.Goals[i]})
			}
		case NotGoal:
			ex.Literals = append(ex.Literals, Literal{
				Positive: false,
				Goal:     InEnvironment{Environment: p.env, Goal: g.Goal},
			})
		case EqGoal:
			result, err := infer.UnifyGenericArgs(p.env, g.A, g.B)
			if err != nil {
				return err
			}
			result.IntoExClause(ex)
		case LeafGoal:
			ex.Literals = append(ex.Literals, Literal{
				Positive: true,
				Goal:     InEnvironment{Environment: p.env, Goal: g},
			})
		default:
			return errors.Errorf("simplify: unknown goal variant %T", p.goal)
		}
	}
	return nil
}
