package uniqueness

import (
	"testing"

	"github.com/layerforge/layerforge/pkg/types"
)

func makeAssignment(pairs map[int]int) types.Assignment {
	a := make(types.Assignment)
	for layerID, traitID := range pairs {
		a[layerID] = &types.Trait{ID: traitID}
	}
	return a
}

func TestTrackerCheckCommit(t *testing.T) {
	tracker := NewTracker()
	group := &types.UniquenessGroup{Name: "body", Layers: []int{1, 2}, Active: true}

	a := makeAssignment(map[int]int{1: 10, 2: 20})

	if !tracker.Check(group, a) {
		t.Fatal("fresh combination rejected")
	}

	tracker.Commit(group, a)

	if tracker.Check(group, a) {
		t.Error("committed combination still passes")
	}
	if tracker.Seen("body") != 1 {
		t.Errorf("Seen = %d, want 1", tracker.Seen("body"))
	}

	// Different combination passes
	b := makeAssignment(map[int]int{1: 10, 2: 21})
	if !tracker.Check(group, b) {
		t.Error("distinct combination rejected")
	}
}

func TestTrackerOrderIndependence(t *testing.T) {
	tracker := NewTracker()
	group := &types.UniquenessGroup{Name: "g", Layers: []int{1, 2}, Active: true}

	tracker.Commit(group, makeAssignment(map[int]int{1: 5, 2: 9}))

	// Same trait ids swapped across layers form the same sorted tuple
	swapped := makeAssignment(map[int]int{1: 9, 2: 5})
	if tracker.Check(group, swapped) {
		t.Error("sorted tuple membership should be order-independent")
	}
}

func TestTrackerInactiveAndPartialGroups(t *testing.T) {
	tracker := NewTracker()

	inactive := &types.UniquenessGroup{Name: "off", Layers: []int{1}, Active: false}
	a := makeAssignment(map[int]int{1: 1})
	tracker.Commit(inactive, a)
	if !tracker.Check(inactive, a) {
		t.Error("inactive group must always pass")
	}
	if tracker.Seen("off") != 0 {
		t.Error("inactive group must not record combinations")
	}

	// Group referencing an unassigned layer is not fully covered
	partial := &types.UniquenessGroup{Name: "partial", Layers: []int{1, 99}, Active: true}
	tracker.Commit(partial, a)
	if !tracker.Check(partial, a) {
		t.Error("uncovered group must pass")
	}
}

func TestTrackerLargeIDsUseHashedPath(t *testing.T) {
	tracker := NewTracker()
	group := &types.UniquenessGroup{Name: "big", Layers: []int{1, 2}, Active: true}

	a := makeAssignment(map[int]int{1: 7000, 2: 9000})
	tracker.Commit(group, a)
	if tracker.Check(group, a) {
		t.Error("hashed-path combination not found after commit")
	}
}

func TestTrackerReset(t *testing.T) {
	tracker := NewTracker()
	group := &types.UniquenessGroup{Name: "g", Layers: []int{1}, Active: true}
	a := makeAssignment(map[int]int{1: 3})

	tracker.Commit(group, a)
	tracker.Reset()

	if !tracker.Check(group, a) {
		t.Error("combination survived Reset")
	}
	if tracker.Seen("g") != 0 {
		t.Error("Seen nonzero after Reset")
	}
}
