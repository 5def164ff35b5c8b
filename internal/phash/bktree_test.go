package phash

import (
	"math/rand"
	"testing"
)

func TestHammingDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b uint64
		want int
	}{
		{"identical", 0xDEADBEEF, 0xDEADBEEF, 0},
		{"one bit", 0b1000, 0b0000, 1},
		{"all bits", 0, ^uint64(0), 64},
		{"mixed", 0b1010, 0b0101, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HammingDistance(tt.a, tt.b); got != tt.want {
				t.Errorf("HammingDistance(%x, %x) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestBKTreeInsertDeduplicates(t *testing.T) {
	tree := NewBKTree()
	tree.Insert(42)
	tree.Insert(42)
	tree.Insert(43)
	if tree.Size() != 2 {
		t.Errorf("Size() = %d, want 2 after duplicate insert", tree.Size())
	}
}

func TestBKTreeSearchEmpty(t *testing.T) {
	if got := NewBKTree().Search(1, 64); got != nil {
		t.Errorf("Search() on empty tree = %v, want nil", got)
	}
}

func TestBKTreeSearchMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	hashes := make([]uint64, 0, 500)
	seen := make(map[uint64]struct{})
	for len(hashes) < 500 {
		h := rng.Uint64()
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		hashes = append(hashes, h)
	}

	tree := NewBKTree()
	for _, h := range hashes {
		tree.Insert(h)
	}

	for _, radius := range []int{0, 5, 16, 40} {
		for trial := 0; trial < 20; trial++ {
			query := hashes[rng.Intn(len(hashes))]
			if trial%2 == 0 {
				query = rng.Uint64()
			}

			want := make(map[uint64]struct{})
			for _, h := range hashes {
				if HammingDistance(query, h) <= radius {
					want[h] = struct{}{}
				}
			}

			got := tree.Search(query, radius)
			if len(got) != len(want) {
				t.Fatalf("radius %d: Search() returned %d hashes, brute force found %d", radius, len(got), len(want))
			}
			for _, h := range got {
				if _, ok := want[h]; !ok {
					t.Fatalf("radius %d: Search() returned %x outside the radius", radius, h)
				}
			}
		}
	}
}

func TestUnionFindTransitiveClosure(t *testing.T) {
	uf := newUnionFind(6)
	uf.union(0, 1)
	uf.union(1, 2)
	uf.union(4, 5)

	if uf.find(0) != uf.find(2) {
		t.Error("0 and 2 should share a set through 1")
	}
	if uf.find(3) == uf.find(0) {
		t.Error("3 is a singleton and must not join the 0-1-2 set")
	}
	if uf.find(4) != uf.find(5) {
		t.Error("4 and 5 should share a set")
	}
	if uf.find(4) == uf.find(0) {
		t.Error("disjoint sets merged")
	}

	uf.union(2, 4)
	if uf.find(0) != uf.find(5) {
		t.Error("merging 2 and 4 should connect 0 through 5")
	}
}
