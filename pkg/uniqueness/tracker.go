// Package uniqueness tracks cross-layer trait combinations produced within
// one generation run.
//
// A Tracker is owned by exactly one generation controller for the duration
// of one run. It is reset at the start of every run and never persisted.
package uniqueness

import (
	"github.com/layerforge/layerforge/pkg/combokey"
	"github.com/layerforge/layerforge/pkg/types"
)

// Tracker records which combinations each uniqueness group has already seen
type Tracker struct {
	groups map[string]*combokey.Set
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{groups: make(map[string]*combokey.Set)}
}

// Check reports whether the assignment is still unique for the group.
// Inactive groups and groups whose layers are not all assigned always
// pass; uniqueness only binds fully-covered groups.
func (t *Tracker) Check(group *types.UniquenessGroup, assignment types.Assignment) bool {
	if group == nil || !group.Active {
		return true
	}

	ids, covered := assignment.TraitIDs(group.Layers)
	if !covered {
		return true
	}

	set, ok := t.groups[group.Name]
	if !ok {
		return true
	}
	return !set.Contains(combokey.ForIDs(ids))
}

// CheckAll reports whether the assignment passes every group
func (t *Tracker) CheckAll(groups []types.UniquenessGroup, assignment types.Assignment) bool {
	for i := range groups {
		if !t.Check(&groups[i], assignment) {
			return false
		}
	}
	return true
}

// Commit records the assignment's combination for the group. Call only
// after the assignment has been fully accepted (solved and rendered).
func (t *Tracker) Commit(group *types.UniquenessGroup, assignment types.Assignment) {
	if group == nil || !group.Active {
		return
	}

	ids, covered := assignment.TraitIDs(group.Layers)
	if !covered {
		return
	}

	set, ok := t.groups[group.Name]
	if !ok {
		set = combokey.NewSet()
		t.groups[group.Name] = set
	}
	set.Add(combokey.ForIDs(ids))
}

// CommitAll records the assignment for every group
func (t *Tracker) CommitAll(groups []types.UniquenessGroup, assignment types.Assignment) {
	for i := range groups {
		t.Commit(&groups[i], assignment)
	}
}

// Seen returns how many distinct combinations the group has committed
func (t *Tracker) Seen(groupName string) int {
	if set, ok := t.groups[groupName]; ok {
		return set.Len()
	}
	return 0
}

// Reset clears all recorded combinations; called at the start of a run
func (t *Tracker) Reset() {
	t.groups = make(map[string]*combokey.Set)
}
