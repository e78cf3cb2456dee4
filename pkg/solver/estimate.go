package solver

import (
	"math"

	"github.com/layerforge/layerforge/pkg/combokey"
	"github.com/layerforge/layerforge/pkg/types"
)

// Estimate is the feasibility pre-check result for one catalog
type Estimate struct {
	// Ceiling is the maximum number of distinct artifacts the active
	// uniqueness groups admit. math.MaxInt means unbounded (no group
	// caps the run).
	Ceiling int
	// Satisfiable is the number of satisfying assignments found
	Satisfiable int
	// Exact reports whether enumeration completed within budget. When
	// false the ceiling is a conservative approximation that assumes
	// feasibility rather than risking a false pre-run failure.
	Exact bool
}

// Estimate enumerates satisfying assignments deterministically (catalog
// order, no randomized tie-breaking) up to the given node budget and
// derives the unique-combination ceiling for the active groups. Beyond the
// budget it reports an unbounded, inexact ceiling; mid-run exhaustion
// detection covers the rest.
func (s *Solver) Estimate(groups []types.UniquenessGroup, budget int) Estimate {
	e := &estimator{
		solver:  s,
		budget:  budget,
		tuples:  make(map[string]*combokey.Set),
		capping: cappingGroups(s.layers, groups),
	}

	assignment := make(types.Assignment, len(s.layers))
	exact := e.enumerate(assignment, 0)

	result := Estimate{Satisfiable: e.solutions, Exact: exact}
	if !exact {
		result.Ceiling = math.MaxInt
		return result
	}

	if e.solutions == 0 {
		return result
	}

	result.Ceiling = math.MaxInt
	for _, g := range e.capping {
		if n := e.tuples[g.Name].Len(); n < result.Ceiling {
			result.Ceiling = n
		}
	}
	return result
}

// cappingGroups filters to active groups made entirely of required layers.
// A group touching an optional layer never caps the run: assignments that
// skip the layer are not uniqueness-constrained for it.
func cappingGroups(layers []types.Layer, groups []types.UniquenessGroup) []types.UniquenessGroup {
	optional := make(map[int]bool)
	known := make(map[int]bool)
	for i := range layers {
		known[layers[i].ID] = true
		if layers[i].Optional {
			optional[layers[i].ID] = true
		}
	}

	var out []types.UniquenessGroup
	for _, g := range groups {
		if !g.Active {
			continue
		}
		caps := true
		for _, layerID := range g.Layers {
			if !known[layerID] || optional[layerID] {
				caps = false
				break
			}
		}
		if caps {
			out = append(out, g)
		}
	}
	return out
}

type estimator struct {
	solver    *Solver
	budget    int
	visited   int
	solutions int
	tuples    map[string]*combokey.Set
	capping   []types.UniquenessGroup
}

// enumerate walks the assignment tree depth-first in fixed catalog order.
// Returns false once the node budget is exhausted.
func (e *estimator) enumerate(assignment types.Assignment, depth int) bool {
	e.visited++
	if e.visited > e.budget {
		return false
	}

	if depth == len(e.solver.layers) {
		e.recordSolution(assignment)
		return true
	}

	layer := &e.solver.layers[depth]

	if layer.Optional {
		if !e.enumerate(assignment, depth+1) {
			return false
		}
	}

	for i := range layer.Traits {
		trait := &layer.Traits[i]
		if !e.consistent(assignment, layer.ID, trait) {
			continue
		}
		assignment[layer.ID] = trait
		ok := e.enumerate(assignment, depth+1)
		delete(assignment, layer.ID)
		if !ok {
			return false
		}
	}
	return true
}

func (e *estimator) consistent(assignment types.Assignment, layerID int, trait *types.Trait) bool {
	for otherLayer, other := range assignment {
		if !compatible(trait, layerID, other, otherLayer) {
			return false
		}
	}
	return true
}

func (e *estimator) recordSolution(assignment types.Assignment) {
	e.solutions++
	for _, g := range e.capping {
		ids, covered := assignment.TraitIDs(g.Layers)
		if !covered {
			continue
		}
		set, ok := e.tuples[g.Name]
		if !ok {
			set = combokey.NewSet()
			e.tuples[g.Name] = set
		}
		set.Add(combokey.ForIDs(ids))
	}
}
