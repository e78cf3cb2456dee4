package combokey

import (
	"sort"
	"testing"
)

// TestPackUnpackRoundTrip verifies unpack(pack(ids)) preserves the id multiset
func TestPackUnpackRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ids  []int
	}{
		{"single id", []int{7}},
		{"pair", []int{3, 200}},
		{"unsorted input", []int{9, 1, 4}},
		{"duplicate ids", []int{5, 5, 5}},
		{"zero id", []int{0, 1}},
		{"max bounds", []int{255, 255, 255, 255, 255, 255, 255, 255}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := Pack(tt.ids)
			if err != nil {
				t.Fatalf("Pack(%v) failed: %v", tt.ids, err)
			}

			got, err := Unpack(key)
			if err != nil {
				t.Fatalf("Unpack failed: %v", err)
			}

			want := make([]int, len(tt.ids))
			copy(want, tt.ids)
			sort.Ints(want)

			if len(got) != len(want) {
				t.Fatalf("Unpack returned %d ids, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("Unpack()[%d] = %d, want %d", i, got[i], want[i])
				}
			}
		})
	}
}

// TestPackBounds verifies packing fails outside supported bounds
func TestPackBounds(t *testing.T) {
	tests := []struct {
		name string
		ids  []int
	}{
		{"empty tuple", nil},
		{"id too large", []int{256}},
		{"negative id", []int{-1}},
		{"too many slots", []int{1, 2, 3, 4, 5, 6, 7, 8, 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Pack(tt.ids); err == nil {
				t.Errorf("Pack(%v) succeeded, want error", tt.ids)
			}
		})
	}
}

// TestPackOrderIndependence verifies permutations produce the same key
func TestPackOrderIndependence(t *testing.T) {
	a, err := Pack([]int{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Pack([]int{3, 1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("keys differ for permuted ids: %v vs %v", a, b)
	}
}

// TestHashedDeterministic verifies the hashed path is stable and
// order-independent
func TestHashedDeterministic(t *testing.T) {
	a := Hashed([]int{1000, 42})
	b := Hashed([]int{42, 1000})
	if a != b {
		t.Errorf("hashed keys differ for permuted ids: %v vs %v", a, b)
	}
	if a.Exact() {
		t.Error("hashed key reported as exact")
	}
	if _, err := Unpack(a); err == nil {
		t.Error("expected Unpack to fail for a hashed key")
	}
}

// TestForIDsFallback verifies promotion picks the packed path within
// bounds and falls back to hashing outside of them
func TestForIDsFallback(t *testing.T) {
	if key := ForIDs([]int{1, 2}); !key.Exact() {
		t.Error("in-bounds ids should use the packed path")
	}
	if key := ForIDs([]int{1, 300}); key.Exact() {
		t.Error("out-of-bounds ids should use the hashed path")
	}
}

// TestSetMembershipAcrossPaths verifies packed and hashed keys share a
// membership set without disagreeing
func TestSetMembershipAcrossPaths(t *testing.T) {
	set := NewSet()

	packed, err := Pack([]int{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	hashed := Hashed([]int{1000, 2000})

	if !set.Add(packed) {
		t.Error("first Add of packed key reported duplicate")
	}
	if !set.Add(hashed) {
		t.Error("first Add of hashed key reported duplicate")
	}
	if set.Add(packed) {
		t.Error("second Add of packed key reported new")
	}
	if set.Add(hashed) {
		t.Error("second Add of hashed key reported new")
	}

	// A hashed key over the same ids as a packed key must not collide:
	// the two constructors occupy disjoint regions of the key space.
	sameIDsHashed := Hashed([]int{1, 2, 3})
	if set.Contains(sameIDsHashed) {
		t.Error("hashed key collided with packed key for the same ids")
	}

	if set.Len() != 2 {
		t.Errorf("set length = %d, want 2", set.Len())
	}

	set.Reset()
	if set.Len() != 0 || set.Contains(packed) {
		t.Error("Reset did not clear membership")
	}
}
