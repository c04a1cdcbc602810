// Package entail: solving and aggregation.
//
// Solve is the outward face of the engine: it tables the root goal,
// drives its answers to completion, and collapses the answer set into a
// single three-valued verdict. Unique means exactly one answer (with its
// substitution and region constraints), NoSolution means a completed
// search with no answers, and Ambiguous covers everything the engine
// cannot decide: multiple incomparable answers, or a search cut short by
// one of the caps.
package entail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gitrdm/goentail/internal/parallel"
	"github.com/pkg/errors"
)

// SolutionKind classifies a solve verdict.
type SolutionKind int

const (
	// SolutionUnique means exactly one answer exists.
	SolutionUnique SolutionKind = iota
	// SolutionAmbiguous means the engine could not decide: several
	// answers, or a capped search.
	SolutionAmbiguous
	// SolutionNoSolution means the completed search found no answer.
	SolutionNoSolution
)

// Solution is the verdict for one root goal. Subst is meaningful only
// for Unique solutions.
type Solution struct {
	Kind  SolutionKind
	Subst CanonicalConstrainedSubst
}

// String renders a solution in the classic solver format, e.g.
// "Unique; substitution [?0 := adt1], lifetime constraints []".
func (s Solution) String() string {
	switch s.Kind {
	case SolutionUnique:
		var b strings.Builder
		b.WriteString("Unique; substitution [")
		for i, arg := range s.Subst.Value.Subst {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "?%d := %s", i, arg)
		}
		b.WriteString("], lifetime constraints [")
		for i, c := range s.Subst.Value.Constraints {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.String())
		}
		b.WriteString("]")
		return b.String()
	case SolutionAmbiguous:
		return "Ambiguous"
	case SolutionNoSolution:
		return "No possible solution"
	default:
		return fmt.Sprintf("Solution(%d)", int(s.Kind))
	}
}

// Config bounds a forest's search.
type Config struct {
	// MaxSize caps term depth in subgoals and answers.
	MaxSize int
	// MaxDepth caps the chain of tables completed recursively.
	MaxDepth int
	// MaxAnswers caps the answers recorded per table.
	MaxAnswers int
	// Logger receives debug traces of table activity. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns caps suitable for typical programs.
func DefaultConfig() Config {
	return Config{
		MaxSize:    30,
		MaxDepth:   100,
		MaxAnswers: 256,
	}
}

// Solve tables a root goal and aggregates its answers into a verdict.
//
// Leading quantifiers and hypotheses are peeled in the root inference
// table first, so the reported substitution covers exactly the goal's
// outermost existential variables: solving exists<T> Implemented(Foo<T>)
// reports what T must be.
func (f *Forest) Solve(env *Environment, goal Goal) (Solution, error) {
	ti, umap, err := f.rootTable(env, goal)
	if err != nil {
		return Solution{}, err
	}
	if err := f.ensureAnswers(ti, 0); err != nil {
		return Solution{}, err
	}

	entry := f.tables[ti]
	switch {
	case entry.floundered:
		return Solution{Kind: SolutionAmbiguous}, nil
	case len(entry.answers) == 0:
		return Solution{Kind: SolutionNoSolution}, nil
	case len(entry.answers) == 1:
		subst, err := umap.UnmapSubst(entry.answers[0])
		if err != nil {
			return Solution{}, err
		}
		return Solution{Kind: SolutionUnique, Subst: subst}, nil
	default:
		// Distinct answers with no merge guidance.
		return Solution{Kind: SolutionAmbiguous}, nil
	}
}

// Answers tables a root goal and returns every recorded answer plus
// whether the search was cut short. Callers that want the raw answer
// set instead of the aggregated verdict use this.
func (f *Forest) Answers(env *Environment, goal Goal) ([]CanonicalConstrainedSubst, bool, error) {
	ti, umap, err := f.rootTable(env, goal)
	if err != nil {
		return nil, false, err
	}
	if err := f.ensureAnswers(ti, 0); err != nil {
		return nil, false, err
	}
	entry := f.tables[ti]
	out := make([]CanonicalConstrainedSubst, len(entry.answers))
	for i, a := range entry.answers {
		unmapped, err := umap.UnmapSubst(a)
		if err != nil {
			return nil, false, err
		}
		out[i] = unmapped
	}
	return out, entry.floundered, nil
}

// rootTable peels the root goal's leading structure into a scratch
// inference table, canonicalizes what remains and returns its memo
// table.
func (f *Forest) rootTable(env *Environment, goal Goal) (TableIndex, UniverseMap, error) {
	if env == nil {
		env = NewEnvironment()
	}
	infer := NewInferenceTable()

	for {
		switch g := goal.(type) {
		case QuantifiedGoal:
			var opened Goal
			var err error
			switch g.Quantifier {
			case Exists:
				opened, err = infer.InstantiateGoalExistentially(g.Bound)
			case ForAll:
				opened, err = infer.InstantiateGoalUniversally(g.Bound)
			default:
				err = errors.Errorf("solve: unknown quantifier %d", int(g.Quantifier))
			}
			if err != nil {
				return 0, UniverseMap{}, err
			}
			goal = opened
		case ImpliesGoal:
			env = env.AddClauses(g.Clauses)
			goal = g.Goal
		default:
			canonical, _, err := infer.CanonicalizeGoal(InEnvironment{Environment: env, Goal: goal})
			if err != nil {
				return 0, UniverseMap{}, err
			}
			uc, umap, err := UCanonicalizeGoal(canonical)
			if err != nil {
				return 0, UniverseMap{}, err
			}
			ti, err := f.getOrCreateTable(uc)
			if err != nil {
				return 0, UniverseMap{}, err
			}
			return ti, umap, nil
		}
	}
}

// Query is one named root goal for batch solving.
type Query struct {
	Name string
	Env  *Environment
	Goal Goal
}

// BatchResult pairs a query with its verdict.
type BatchResult struct {
	Name     string
	Solution Solution
	Err      error
}

// SolveAll solves independent queries concurrently. Each query gets its
// own forest over the shared read-only program, so workers share no
// mutable state.
func SolveAll(ctx context.Context, program *Program, cfg Config, queries []Query) ([]BatchResult, error) {
	results := make([]BatchResult, len(queries))
	err := parallel.ForEach(ctx, 0, len(queries), func(i int) {
		q := queries[i]
		forest := NewForest(NewSlgContext(program), cfg)
		sol, err := forest.Solve(q.Env, q.Goal)
		results[i] = BatchResult{Name: q.Name, Solution: sol, Err: err}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "SolveAll: batch canceled")
	}
	return results, nil
}
