// Package solver assigns one trait per layer subject to compatibility
// rules and run-level uniqueness, using arc consistency (AC-3) to prune
// domains and MRV-ordered backtracking to search the rest.
package solver

import (
	"errors"
	"math/rand"
	"sort"
	"time"

	"github.com/layerforge/layerforge/pkg/logger"
	"github.com/layerforge/layerforge/pkg/types"
)

// ErrNoSolution reports that no assignment satisfies the rules and the
// current uniqueness state. The caller treats this as "retry this artifact
// index" and escalates to exhaustion only after a bounded run of
// consecutive failures.
var ErrNoSolution = errors.New("no satisfying trait assignment")

// UniquenessChecker validates a complete assignment against run-level
// uniqueness state. A nil checker accepts everything.
type UniquenessChecker func(types.Assignment) bool

// Solver finds satisfying assignments for one catalog. Build one per run;
// the catalog is read-only to the solver.
type Solver struct {
	layers    []types.Layer
	byID      map[int]*types.Layer
	domains   map[int][]*types.Trait
	neighbors map[int][]int

	memoLimit int
	rng       *rand.Rand
	logger    logger.Logger
}

// Option configures a Solver
type Option func(*Solver)

// WithRandSource fixes the random source, for reproducible runs
func WithRandSource(seed int64) Option {
	return func(s *Solver) { s.rng = rand.New(rand.NewSource(seed)) }
}

// WithMemoLimit bounds the dead-end memo size
func WithMemoLimit(n int) Option {
	return func(s *Solver) { s.memoLimit = n }
}

// New creates a solver for the given layers. Full trait domains and the
// constraint graph (which layers can restrict which) are built once here.
func New(layers []types.Layer, log logger.Logger, opts ...Option) *Solver {
	s := &Solver{
		layers:    layers,
		byID:      make(map[int]*types.Layer, len(layers)),
		domains:   make(map[int][]*types.Trait, len(layers)),
		neighbors: make(map[int][]int, len(layers)),
		memoLimit: 4096,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:    log,
	}
	for _, opt := range opts {
		opt(s)
	}

	for i := range layers {
		layer := &layers[i]
		s.byID[layer.ID] = layer
		domain := make([]*types.Trait, 0, len(layer.Traits))
		for j := range layer.Traits {
			domain = append(domain, &layer.Traits[j])
		}
		s.domains[layer.ID] = domain
	}

	s.buildConstraintGraph()
	return s
}

// buildConstraintGraph records, per layer, the layers it shares a
// constraint with. Edges are derived from ruler traits' rule targets and
// stored symmetrically: a rule from A targeting B restricts both ends.
func (s *Solver) buildConstraintGraph() {
	linked := make(map[int]map[int]bool, len(s.layers))
	link := func(a, b int) {
		if a == b {
			return
		}
		if linked[a] == nil {
			linked[a] = make(map[int]bool)
		}
		if linked[b] == nil {
			linked[b] = make(map[int]bool)
		}
		linked[a][b] = true
		linked[b][a] = true
	}

	for i := range s.layers {
		layer := &s.layers[i]
		for j := range layer.Traits {
			trait := &layer.Traits[j]
			if !trait.Ruler {
				continue
			}
			for k := range trait.Rules {
				if _, ok := s.byID[trait.Rules[k].TargetLayer]; ok {
					link(layer.ID, trait.Rules[k].TargetLayer)
				}
			}
		}
	}

	for layerID, set := range linked {
		ids := make([]int, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		s.neighbors[layerID] = ids
	}
}

// compatible reports whether two traits tolerate each other. Rules are
// checked symmetrically: each side's rule targeting the other's layer must
// permit the other's trait.
func compatible(a *types.Trait, layerA int, b *types.Trait, layerB int) bool {
	if rule := a.RuleFor(layerB); rule != nil && !rule.Permits(b.ID) {
		return false
	}
	if rule := b.RuleFor(layerA); rule != nil && !rule.Permits(a.ID) {
		return false
	}
	return true
}

// Solve produces one assignment satisfying every compatibility rule and
// the uniqueness checker, or ErrNoSolution.
func (s *Solver) Solve(check UniquenessChecker) (types.Assignment, error) {
	// Global prune before search begins
	domains := cloneDomains(s.domains)
	if !s.propagate(domains, s.allArcs()) {
		return nil, ErrNoSolution
	}

	st := &searchState{
		assignment: make(types.Assignment, len(s.layers)),
		skipped:    make(map[int]bool),
		memo:       newDeadEndMemo(s.memoLimit),
		check:      check,
	}

	if !s.backtrack(st, domains) {
		return nil, ErrNoSolution
	}
	return st.assignment, nil
}

// searchState carries the mutable parts of one Solve call
type searchState struct {
	assignment types.Assignment
	skipped    map[int]bool
	memo       *deadEndMemo
	check      UniquenessChecker
}

func (s *Solver) backtrack(st *searchState, domains map[int][]*types.Trait) bool {
	layer := s.selectLayer(st, domains)
	if layer == nil {
		// Complete assignment; uniqueness failure backtracks exactly
		// like a constraint violation.
		if st.check != nil && !st.check(st.assignment) {
			return false
		}
		return true
	}

	if st.memo.contains(st.assignment) {
		return false
	}

	// Optional layers try "skip" before "fill": cheaper, and it
	// preserves variety in the output.
	if layer.Optional {
		st.skipped[layer.ID] = true
		if s.backtrack(st, domains) {
			return true
		}
		delete(st.skipped, layer.ID)
	}

	for _, candidate := range s.orderCandidates(domains[layer.ID]) {
		if !s.compatibleWithAssigned(st.assignment, layer.ID, candidate) {
			continue
		}
		st.assignment[layer.ID] = candidate

		// Snapshot domains, narrow to the trial value, re-propagate
		trial := cloneDomains(domains)
		trial[layer.ID] = []*types.Trait{candidate}
		if s.propagate(trial, s.arcsInto(layer.ID)) && s.backtrack(st, trial) {
			return true
		}

		delete(st.assignment, layer.ID)
	}

	st.memo.add(st.assignment)
	return false
}

// compatibleWithAssigned checks the trial candidate directly against
// every assigned neighbor. Arcs into optional layers never prune, so a
// rule involving an assigned optional layer is enforced only here.
func (s *Solver) compatibleWithAssigned(assignment types.Assignment, layerID int, candidate *types.Trait) bool {
	for _, n := range s.neighbors[layerID] {
		if other, ok := assignment[n]; ok && !compatible(candidate, layerID, other, n) {
			return false
		}
	}
	return true
}

// selectLayer picks the unassigned layer with the fewest remaining
// candidates (MRV), so doomed branches fail fast. Returns nil when every
// layer is assigned or skipped.
func (s *Solver) selectLayer(st *searchState, domains map[int][]*types.Trait) *types.Layer {
	var best *types.Layer
	bestSize := 0

	for i := range s.layers {
		layer := &s.layers[i]
		if _, ok := st.assignment[layer.ID]; ok {
			continue
		}
		if st.skipped[layer.ID] {
			continue
		}
		size := len(domains[layer.ID])
		if best == nil || size < bestSize {
			best = layer
			bestSize = size
		}
	}
	return best
}

// orderCandidates orders a domain by rarity weight, most common first,
// with weighted-random shuffling among equal weights. Weight biases order
// only; it never overrides a constraint.
func (s *Solver) orderCandidates(domain []*types.Trait) []*types.Trait {
	out := make([]*types.Trait, len(domain))
	copy(out, domain)

	s.rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].GetWeight() > out[j].GetWeight()
	})
	return out
}

func cloneDomains(domains map[int][]*types.Trait) map[int][]*types.Trait {
	out := make(map[int][]*types.Trait, len(domains))
	for id, traits := range domains {
		copied := make([]*types.Trait, len(traits))
		copy(copied, traits)
		out[id] = copied
	}
	return out
}
