// Package entail: the tabled resolution engine.
//
// The Forest memoizes one table per u-canonical goal. A table owns its
// answers plus the strands still able to produce more; a strand is an
// ex-clause (answer-in-progress with pending literals) paired with its
// own inference table, so sibling strands never see each other's
// bindings. Cycles between tables are detected on the in-progress
// stack: a cycle whose participants are all coinductive discharges as
// success, any other cycle kills the strand that closed it. Tables a
// cycle passed through are not memoized right away; the table at the
// cycle's lowest stack position re-runs the whole group against each
// other's recorded answers until the sets stop growing, and only the
// stabilized sets are marked complete. Depth, term size and answer
// count are all capped; hitting a cap marks the table floundered, which
// aggregation reports as Ambiguous rather than as a definite verdict.
package entail

import (
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Literal is one pending obligation of an ex-clause. Negative literals
// succeed when their goal has no answers.
type Literal struct {
	Positive bool
	Goal     InEnvironment
}

// ExClause is an answer in progress: the substitution accumulated so
// far, the literals still to discharge, and the region constraints
// collected along the way.
type ExClause struct {
	Subst       Substitution
	Literals    []Literal
	Constraints []Constraint
}

func (ex *ExClause) clone() *ExClause {
	out := &ExClause{
		Subst:       ex.Subst,
		Literals:    make([]Literal, len(ex.Literals)),
		Constraints: make([]Constraint, len(ex.Constraints)),
	}
	copy(out.Literals, ex.Literals)
	copy(out.Constraints, ex.Constraints)
	return out
}

// strand pairs an ex-clause with the inference table its variables live
// in.
type strand struct {
	infer *InferenceTable
	ex    *ExClause
}

// TableIndex identifies a table within a forest.
type TableIndex int

// tableEntry is the memo record for one u-canonical goal.
type tableEntry struct {
	goal        UCanonicalGoal
	coinductive bool

	answers    []CanonicalConstrainedSubst
	answerKeys map[string]struct{}
	strands    []strand

	// minLink is the lowest stack position this table's exploration
	// depended on, through cycles or through provisional subgoals. It
	// is meaningful only for the current exploration: a table whose
	// minLink ends up below its own position must not be memoized yet.
	minLink  int
	explored bool

	complete   bool
	floundered bool
}

// ForestStats counts engine activity. All counters are atomic so a
// metrics scrape can read them while a solve runs on another goroutine.
type ForestStats struct {
	TablesCreated    atomic.Int64
	StrandsCreated   atomic.Int64
	AnswersRecorded  atomic.Int64
	CyclesDischarged atomic.Int64
	Flounders        atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the forest counters.
type StatsSnapshot struct {
	TablesCreated    int64
	StrandsCreated   int64
	AnswersRecorded  int64
	CyclesDischarged int64
	Flounders        int64
}

// Snapshot copies the counters.
func (s *ForestStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TablesCreated:    s.TablesCreated.Load(),
		StrandsCreated:   s.StrandsCreated.Load(),
		AnswersRecorded:  s.AnswersRecorded.Load(),
		CyclesDischarged: s.CyclesDischarged.Load(),
		Flounders:        s.Flounders.Load(),
	}
}

// cycleGroup is the set of mutually dependent tables being re-run to
// fixpoint by the table at their cycle's lowest stack position. A table
// that consumes a member's still-growing answers joins the group, so
// the next pass re-runs it too.
type cycleGroup struct {
	members map[TableIndex]bool
	joined  []TableIndex
}

func (g *cycleGroup) join(ti TableIndex) {
	if !g.members[ti] {
		g.members[ti] = true
		g.joined = append(g.joined, ti)
	}
}

// Forest is the memo structure for one sequence of queries against one
// program.
//
// Thread safety: a forest belongs to one goroutine. Run concurrent
// query batches on separate forests; they share nothing but the program.
type Forest struct {
	ctx    Context
	cfg    Config
	logger *slog.Logger

	tables     []*tableEntry
	tableIndex map[string]TableIndex

	// stack is the chain of tables whose completion is in progress,
	// outermost first; stackPos indexes it for cycle detection.
	stack    []TableIndex
	stackPos map[TableIndex]int

	// provisional holds tables whose exploration closed a cycle back
	// into the stack. They carry answers but no completion mark; the
	// table at the cycle's lowest position adopts and finalizes them.
	provisional []TableIndex
	cycle       *cycleGroup

	stats ForestStats
}

// NewForest creates an empty forest over the given context.
func NewForest(ctx Context, cfg Config) *Forest {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Forest{
		ctx:        ctx,
		cfg:        cfg,
		logger:     logger,
		tableIndex: make(map[string]TableIndex),
		stackPos:   make(map[TableIndex]int),
	}
}

// Stats exposes the forest's activity counters.
func (f *Forest) Stats() *ForestStats { return &f.stats }

// getOrCreateTable returns the table for a u-canonical goal, creating
// and seeding it on first sight.
func (f *Forest) getOrCreateTable(goal UCanonicalGoal) (TableIndex, error) {
	key := ucanonicalKey(goal)
	if ti, ok := f.tableIndex[key]; ok {
		return ti, nil
	}

	ti := TableIndex(len(f.tables))
	entry := &tableEntry{
		goal:        goal,
		coinductive: f.ctx.IsCoinductive(goal),
		answerKeys:  make(map[string]struct{}),
	}
	f.tables = append(f.tables, entry)
	f.tableIndex[key] = ti
	f.stats.TablesCreated.Add(1)
	f.logger.Debug("table created",
		"table", int(ti),
		"goal", goal.Canonical.Value.String(),
		"coinductive", entry.coinductive)
	return ti, f.seedTable(ti)
}

// seedTable (re)builds a table's strands from its goal. Provisional
// tables are reseeded on every revisit, so the answer keys absorb
// re-derived duplicates.
func (f *Forest) seedTable(ti TableIndex) error {
	entry := f.tables[ti]
	entry.strands = nil

	infer := NewInferenceTable()
	canonical := infer.InstantiateUniverses(entry.goal)
	ie, subst, err := infer.InstantiateCanonicalGoal(canonical)
	if err != nil {
		return err
	}

	if leaf, ok := ie.Goal.(LeafGoal); ok {
		return f.seedLeafStrands(entry, infer, ie.Environment, leaf.Domain, subst)
	}
	ex := &ExClause{Subst: subst}
	if err := simplifyGoal(infer, ex, ie.Environment, ie.Goal); err != nil {
		if errors.Is(err, ErrNoMatch) {
			entry.complete = true
			return nil
		}
		return err
	}
	entry.strands = append(entry.strands, strand{infer: infer, ex: ex})
	f.stats.StrandsCreated.Add(1)
	return nil
}

// seedLeafStrands creates one strand per clause whose head unifies with
// a domain goal, in priority order, plus the built-in strand for
// lifetime obligations, which are always satisfiable modulo constraints.
func (f *Forest) seedLeafStrands(entry *tableEntry, infer *InferenceTable, env *Environment, dg DomainGoal, subst Substitution) error {
	if lo, ok := dg.(LifetimeOutlives); ok {
		entry.strands = append(entry.strands, strand{
			infer: infer.Clone(),
			ex: &ExClause{
				Subst:       subst,
				Constraints: []Constraint{{A: lo.A, B: lo.B}},
			},
		})
		f.stats.StrandsCreated.Add(1)
		return nil
	}

	clauses := f.ctx.ProgramClauses(env, dg)
	sort.SliceStable(clauses, func(i, j int) bool {
		return clauses[i].Priority < clauses[j].Priority
	})
	for _, clause := range clauses {
		branch := infer.Clone()
		ex, err := resolvent(branch, env, dg, subst, clause)
		if err != nil {
			if errors.Is(err, ErrNoMatch) {
				continue
			}
			return err
		}
		entry.strands = append(entry.strands, strand{infer: branch, ex: ex})
		f.stats.StrandsCreated.Add(1)
	}
	return nil
}

// ensureAnswers drives a table: every strand is pursued until it
// records an answer, forks on a subgoal's answers, or dies. Depth
// counts the chain of tables being completed; exceeding the cap
// flounders the table instead of recursing further.
//
// Completion is only memoized for tables whose exploration depended on
// nothing still in progress. A table that closed a cycle back into the
// stack is parked as provisional instead, and the table at the cycle's
// lowest stack position finalizes the whole group (see completeCycle).
func (f *Forest) ensureAnswers(ti TableIndex, depth int) error {
	entry := f.tables[ti]
	if entry.complete {
		return nil
	}
	if depth > f.cfg.MaxDepth {
		f.flounder(entry, ti, "depth cap")
		entry.strands = nil
		entry.complete = true
		return nil
	}

	pos := len(f.stack)
	f.stack = append(f.stack, ti)
	f.stackPos[ti] = pos
	entry.minLink = pos
	defer func() {
		f.stack = f.stack[:pos]
		delete(f.stackPos, ti)
	}()

	// A provisional table comes back with its strands drained; rebuild
	// them so the revisit explores from scratch.
	if entry.explored {
		if err := f.seedTable(ti); err != nil {
			return err
		}
		if entry.complete {
			return nil
		}
	}
	entry.explored = true

	if err := f.runStrands(entry, ti, depth); err != nil {
		return err
	}

	if entry.minLink < pos {
		f.provisional = append(f.provisional, ti)
		return nil
	}
	if err := f.completeCycle(ti, pos, depth); err != nil {
		return err
	}
	entry.complete = true
	return nil
}

// runStrands drains the table's strand queue, capping the answer count.
func (f *Forest) runStrands(entry *tableEntry, ti TableIndex, depth int) error {
	for len(entry.strands) > 0 {
		s := entry.strands[0]
		entry.strands = entry.strands[1:]
		if err := f.pursueStrand(entry, ti, s, depth); err != nil {
			return err
		}
		if len(entry.answers) > f.cfg.MaxAnswers {
			f.flounder(entry, ti, "answer cap")
			entry.strands = nil
			break
		}
	}
	return nil
}

// completeCycle finalizes the group of tables whose explorations died
// on a cycle bottoming out at this table. Every member is reseeded and
// re-run against the group's recorded answers until no set grows.
// Iterating upward from what the cycle-free derivations produced
// computes the least fixpoint, so a member whose only derivation runs
// through the cycle ends with no answers rather than a circular proof.
func (f *Forest) completeCycle(root TableIndex, pos, depth int) error {
	members := []TableIndex{root}
	seen := map[TableIndex]bool{root: true}
	kept := f.provisional[:0]
	for _, p := range f.provisional {
		if f.tables[p].minLink >= pos {
			if !seen[p] {
				seen[p] = true
				members = append(members, p)
			}
		} else {
			kept = append(kept, p)
		}
	}
	f.provisional = kept
	if len(members) == 1 {
		return nil
	}

	group := &cycleGroup{members: seen}
	outer := f.cycle
	f.cycle = group
	defer func() { f.cycle = outer }()

	for {
		grew := false
		for _, m := range members {
			entry := f.tables[m]
			before := len(entry.answers)
			if err := f.seedTable(m); err != nil {
				return err
			}
			if err := f.runStrands(entry, m, depth); err != nil {
				return err
			}
			if len(entry.answers) > before {
				grew = true
			}
		}
		if len(group.joined) > 0 {
			members = append(members, group.joined...)
			group.joined = nil
			grew = true
		}
		if !grew {
			break
		}
	}

	for _, m := range members {
		entry := f.tables[m]
		entry.strands = nil
		entry.complete = true
	}
	return nil
}

// stackCoinductive reports whether every table on the in-progress
// stack from the given position up, which is exactly the cycle being
// closed, is coinductive.
func (f *Forest) stackCoinductive(from int) bool {
	for _, ti := range f.stack[from:] {
		if !f.tables[ti].coinductive {
			return false
		}
	}
	return true
}

// pursueStrand advances one strand: discharges literals left to right
// until the strand records an answer, forks per subgoal answer, or dies.
func (f *Forest) pursueStrand(entry *tableEntry, ti TableIndex, s strand, depth int) error {
	for {
		if len(s.ex.Literals) == 0 {
			return f.recordAnswer(entry, ti, s)
		}

		lit := s.ex.Literals[0]
		s.ex.Literals = s.ex.Literals[1:]

		if lit.Positive {
			forked, alive, err := f.pursuePositive(entry, ti, s, lit.Goal, depth)
			if err != nil {
				return err
			}
			if forked || !alive {
				return nil
			}
			// Literal discharged in place (coinductive cycle); keep going.
			continue
		}

		alive, err := f.pursueNegative(entry, ti, s, lit.Goal, depth)
		if err != nil {
			return err
		}
		if !alive {
			return nil
		}
	}
}

// pursuePositive handles a selected positive literal. It returns
// forked=true when the strand was replaced by per-answer forks,
// alive=false when the strand died, and forked=false, alive=true when
// the literal was discharged in place.
func (f *Forest) pursuePositive(entry *tableEntry, ti TableIndex, s strand, goal InEnvironment, depth int) (forked, alive bool, err error) {
	truncated, lost := f.ctx.TruncateGoal(s.infer, f.cfg.MaxSize, goal)
	if lost {
		f.flounder(entry, ti, "subgoal size cap")
		return false, false, nil
	}

	canonical, occupants, err := s.infer.CanonicalizeGoal(truncated)
	if err != nil {
		return false, false, err
	}
	uc, umap, err := UCanonicalizeGoal(canonical)
	if err != nil {
		return false, false, err
	}

	sub, err := f.getOrCreateTable(uc)
	if err != nil {
		return false, false, err
	}

	// While a cycle group is re-running, a member's answers are
	// consumed as they stand; the consumer joins the group so the next
	// pass sees any growth.
	if f.cycle != nil && f.cycle.members[sub] {
		f.cycle.join(ti)
		return true, false, f.forkOnAnswers(entry, ti, s, goal, occupants, umap, sub)
	}

	if spos, on := f.stackPos[sub]; on {
		if f.cycle != nil {
			// A re-run reached past its group into the surrounding
			// search; no stable reading without it.
			f.flounder(entry, ti, "cycle escaped its group")
			return false, false, nil
		}
		if f.stackCoinductive(spos) {
			f.stats.CyclesDischarged.Add(1)
			f.logger.Debug("coinductive cycle discharged", "table", int(ti), "subgoal", int(sub))
			return false, true, nil
		}
		// A cycle with an inductive participant has no well-founded
		// proof: the strand dies, and the table at the cycle's lowest
		// position decides completion for everything it reached.
		f.logger.Debug("inductive cycle", "table", int(ti), "subgoal", int(sub))
		entry.minLink = min(entry.minLink, spos)
		return false, false, nil
	}

	if err := f.ensureAnswers(sub, depth+1); err != nil {
		return false, false, err
	}
	subEntry := f.tables[sub]
	if !subEntry.complete {
		if f.cycle != nil {
			f.flounder(entry, ti, "unresolved cycle during re-run")
			return false, false, nil
		}
		// The subgoal is provisional: it depends on a table still in
		// progress below us, and so, now, do we.
		entry.minLink = min(entry.minLink, subEntry.minLink)
	}
	return true, false, f.forkOnAnswers(entry, ti, s, goal, occupants, umap, sub)
}

// forkOnAnswers replaces a strand with one fork per recorded answer of
// the subgoal's table.
func (f *Forest) forkOnAnswers(entry *tableEntry, ti TableIndex, s strand, goal InEnvironment, occupants []VarID, umap UniverseMap, sub TableIndex) error {
	subEntry := f.tables[sub]
	if subEntry.floundered {
		f.flounder(entry, ti, "floundered subgoal")
	}
	for _, answer := range subEntry.answers {
		fork := strand{infer: s.infer.Clone(), ex: s.ex.clone()}
		if err := applyAnswer(fork.infer, fork.ex, goal.Environment, occupants, umap, answer); err != nil {
			if errors.Is(err, ErrNoMatch) {
				continue
			}
			return err
		}
		entry.strands = append(entry.strands, fork)
		f.stats.StrandsCreated.Add(1)
	}
	return nil
}

// pursueNegative handles a selected negative literal: the goal must be
// closed, and its sub-search must come up empty. An answer set still
// growing inside a cycle is never trusted to be empty.
func (f *Forest) pursueNegative(entry *tableEntry, ti TableIndex, s strand, goal InEnvironment, depth int) (alive bool, err error) {
	inverted, ok, err := s.infer.InvertGoal(goal)
	if err != nil {
		return false, err
	}
	if !ok {
		// Free variables under negation cannot be enumerated soundly.
		f.flounder(entry, ti, "negative literal with free variables")
		return false, nil
	}

	canonical, _, err := s.infer.CanonicalizeGoal(inverted)
	if err != nil {
		return false, err
	}
	uc, _, err := UCanonicalizeGoal(canonical)
	if err != nil {
		return false, err
	}

	sub, err := f.getOrCreateTable(uc)
	if err != nil {
		return false, err
	}
	if f.cycle != nil && f.cycle.members[sub] {
		f.flounder(entry, ti, "negation of a cycling goal")
		return false, nil
	}
	if _, on := f.stackPos[sub]; on {
		// A negative cycle has no two-valued reading under this
		// strategy.
		f.flounder(entry, ti, "negative cycle")
		return false, nil
	}
	if err := f.ensureAnswers(sub, depth+1); err != nil {
		return false, err
	}

	subEntry := f.tables[sub]
	if !subEntry.complete {
		f.flounder(entry, ti, "negation of a cycling goal")
		return false, nil
	}
	if subEntry.floundered {
		f.flounder(entry, ti, "floundered negative subgoal")
		return false, nil
	}
	if len(subEntry.answers) > 0 {
		return false, nil
	}
	return true, nil
}

// recordAnswer finalizes a strand with no pending literals: the
// substitution is resolved, capped, canonicalized and deduplicated.
func (f *Forest) recordAnswer(entry *tableEntry, ti TableIndex, s strand) error {
	subst, err := s.infer.NormalizeDeepSubst(s.ex.Subst)
	if err != nil {
		return err
	}
	capped, lost := f.ctx.TruncateAnswer(s.infer, f.cfg.MaxSize, subst)
	if lost {
		f.flounder(entry, ti, "answer size cap")
		return nil
	}
	constraints, err := foldConstraints(deepNormalizer{table: s.infer}, s.ex.Constraints, 0)
	if err != nil {
		return err
	}

	answer, err := s.infer.CanonicalizeConstrainedSubst(ConstrainedSubst{
		Subst:       capped,
		Constraints: constraints,
	})
	if err != nil {
		return err
	}

	key := canonicalKey(answer)
	if _, dup := entry.answerKeys[key]; dup {
		return nil
	}
	entry.answerKeys[key] = struct{}{}
	entry.answers = append(entry.answers, answer)
	f.stats.AnswersRecorded.Add(1)
	f.logger.Debug("answer recorded", "table", int(ti), "answer", answer.Value.String())
	return nil
}

func (f *Forest) flounder(entry *tableEntry, ti TableIndex, reason string) {
	if !entry.floundered {
		entry.floundered = true
		f.stats.Flounders.Add(1)
		f.logger.Debug("table floundered", "table", int(ti), "reason", reason)
	}
}
