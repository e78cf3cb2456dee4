// Package combokey indexes trait-id combinations as compact keys for O(1)
// membership checks.
//
// Two constructors share one key space. Pack produces an exact key by
// packing each id into 8 bits (up to 8 slots) and is collision-free within
// those bounds. Hashed reduces arbitrary tuples to a 32-bit FNV-1a digest
// and accepts a bounded collision risk; it is an approximation, not a
// guarantee. A Set built from either kind of key answers membership for
// both, and the two kinds can never collide with each other.
package combokey

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

const (
	// MaxID is the largest trait id the packed representation supports
	MaxID = 255
	// MaxSlots is the largest tuple length the packed representation supports
	MaxSlots = 8

	bitsPerSlot = 8
)

// Key identifies one sorted trait-id combination
type Key struct {
	value  uint64
	length uint8
	hashed bool
}

// Pack builds an exact key from the given ids. Ids are sorted before
// packing so key equality is order-independent. It fails when any id
// exceeds MaxID or the tuple is longer than MaxSlots.
func Pack(ids []int) (Key, error) {
	if len(ids) == 0 {
		return Key{}, fmt.Errorf("cannot pack empty id tuple")
	}
	if len(ids) > MaxSlots {
		return Key{}, fmt.Errorf("cannot pack %d ids: at most %d supported", len(ids), MaxSlots)
	}

	sorted := make([]int, len(ids))
	copy(sorted, ids)
	sort.Ints(sorted)

	var value uint64
	for i, id := range sorted {
		if id < 0 || id > MaxID {
			return Key{}, fmt.Errorf("id %d out of packed range [0, %d]", id, MaxID)
		}
		value |= uint64(id) << (bitsPerSlot * i)
	}

	return Key{value: value, length: uint8(len(ids))}, nil
}

// Hashed builds an approximate key from ids of any size or count. The ids
// are sorted and joined with a delimiter, then reduced to a 32-bit FNV-1a
// digest.
func Hashed(ids []int) Key {
	sorted := make([]int, len(ids))
	copy(sorted, ids)
	sort.Ints(sorted)

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.Itoa(id)
	}

	h := fnv.New32a()
	h.Write([]byte(strings.Join(parts, ":")))

	return Key{value: uint64(h.Sum32()), hashed: true}
}

// ForIDs picks the exact packed representation when the ids fit its
// bounds, falling back to the hashed approximation otherwise.
func ForIDs(ids []int) Key {
	if key, err := Pack(ids); err == nil {
		return key
	}
	return Hashed(ids)
}

// Unpack inverts Pack, returning the sorted id multiset. It fails for
// hashed keys, which are not invertible.
func Unpack(key Key) ([]int, error) {
	if key.hashed {
		return nil, fmt.Errorf("cannot unpack a hashed key")
	}
	if key.length == 0 {
		return nil, fmt.Errorf("cannot unpack the zero key")
	}

	ids := make([]int, key.length)
	for i := range ids {
		ids[i] = int((key.value >> (bitsPerSlot * i)) & 0xFF)
	}
	return ids, nil
}

// Exact reports whether the key is collision-free
func (k Key) Exact() bool { return !k.hashed }

// String renders the key for logs
func (k Key) String() string {
	if k.hashed {
		return fmt.Sprintf("hash:%08x", uint32(k.value))
	}
	return fmt.Sprintf("pack:%d:%x", k.length, k.value)
}

// Set is a membership set over combination keys. Packed and hashed keys
// coexist in one set without colliding.
type Set struct {
	members map[Key]struct{}
}

// NewSet creates an empty key set
func NewSet() *Set {
	return &Set{members: make(map[Key]struct{})}
}

// Add inserts a key, reporting whether it was newly added
func (s *Set) Add(key Key) bool {
	if _, ok := s.members[key]; ok {
		return false
	}
	s.members[key] = struct{}{}
	return true
}

// Contains reports membership
func (s *Set) Contains(key Key) bool {
	_, ok := s.members[key]
	return ok
}

// Len returns the number of distinct keys
func (s *Set) Len() int { return len(s.members) }

// Reset drops all members
func (s *Set) Reset() {
	s.members = make(map[Key]struct{})
}
