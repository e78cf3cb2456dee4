package solver

import "github.com/layerforge/layerforge/pkg/types"

// arc is a directed layer pair: revise src's domain against dst's
type arc struct {
	src, dst int
}

// allArcs returns every directed arc of the constraint graph
func (s *Solver) allArcs() []arc {
	var arcs []arc
	for i := range s.layers {
		layerID := s.layers[i].ID
		for _, n := range s.neighbors[layerID] {
			arcs = append(arcs, arc{src: layerID, dst: n})
		}
	}
	return arcs
}

// arcsInto returns the arcs that revise each neighbor against the given
// layer, used after the layer's domain has been narrowed.
func (s *Solver) arcsInto(layerID int) []arc {
	neighbors := s.neighbors[layerID]
	arcs := make([]arc, 0, len(neighbors))
	for _, n := range neighbors {
		arcs = append(arcs, arc{src: n, dst: layerID})
	}
	return arcs
}

// propagate runs AC-3 over the queued arcs, pruning traits without support
// until a fixpoint. Returns false when a required layer's domain empties,
// which proves the current branch unsatisfiable. A revised domain requeues
// its dependent arcs.
func (s *Solver) propagate(domains map[int][]*types.Trait, queue []arc) bool {
	for len(queue) > 0 {
		a := queue[0]
		queue = queue[1:]

		if !s.revise(domains, a) {
			continue
		}

		if len(domains[a.src]) == 0 && !s.byID[a.src].Optional {
			return false
		}

		for _, n := range s.neighbors[a.src] {
			if n != a.dst {
				queue = append(queue, arc{src: n, dst: a.src})
			}
		}
	}
	return true
}

// revise removes traits from src's domain that have no compatible trait
// left in dst's domain. Optional destination layers never prune: they can
// always be skipped, so they support everything. Reports whether the
// domain changed.
func (s *Solver) revise(domains map[int][]*types.Trait, a arc) bool {
	if s.byID[a.dst].Optional {
		return false
	}

	src := domains[a.src]
	dst := domains[a.dst]

	kept := src[:0]
	revised := false
	for _, candidate := range src {
		supported := false
		for _, support := range dst {
			if compatible(candidate, a.src, support, a.dst) {
				supported = true
				break
			}
		}
		if supported {
			kept = append(kept, candidate)
		} else {
			revised = true
		}
	}

	if revised {
		domains[a.src] = kept
	}
	return revised
}
