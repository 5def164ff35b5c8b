package groups

import (
	"path/filepath"
	"testing"

	"github.com/twbeatles/dupescan/internal/walker"
)

func folderFixture(root string) ([]walker.FileRecord, map[string]string) {
	mk := func(parts ...string) string { return filepath.Join(append([]string{root}, parts...)...) }

	files := []walker.FileRecord{
		rec(mk("left", "a.txt"), 3, 1, 1),
		rec(mk("left", "b.txt"), 4, 1, 2),
		rec(mk("right", "a.txt"), 3, 1, 3),
		rec(mk("right", "b.txt"), 4, 1, 4),
		rec(mk("other", "a.txt"), 3, 1, 5),
	}
	hashes := map[string]string{
		mk("left", "a.txt"):  "ha",
		mk("left", "b.txt"):  "hb",
		mk("right", "a.txt"): "ha",
		mk("right", "b.txt"): "hb",
		mk("other", "a.txt"): "ha",
	}
	return files, hashes
}

func TestDetectLocalFolderDuplicates(t *testing.T) {
	root := filepath.Join("/", "data")
	files, hashes := folderFixture(root)

	detector := NewFolderDetector(false, []string{root})
	groups, sigs := detector.Detect(files, hashes)

	if len(groups) != 1 {
		t.Fatalf("Detect() returned %d groups, want 1", len(groups))
	}
	g := groups[0]
	if g.Key.Kind != KindFolderDup {
		t.Errorf("key kind = %s, want %s", g.Key.Kind, KindFolderDup)
	}
	want := []string{filepath.Join(root, "left"), filepath.Join(root, "right")}
	if len(g.Members) != 2 || g.Members[0] != want[0] || g.Members[1] != want[1] {
		t.Errorf("members = %v, want %v", g.Members, want)
	}

	if sigs[want[0]] != sigs[want[1]] {
		t.Error("manifest-identical folders must share a signature")
	}
	if sigs[filepath.Join(root, "other")] == sigs[want[0]] {
		t.Error("folder with fewer children shares a signature with a full folder")
	}
}

func TestDetectIgnoresUnhashedChildren(t *testing.T) {
	root := filepath.Join("/", "data")
	files, hashes := folderFixture(root)

	// A failed hash in one folder breaks its manifest equality
	delete(hashes, filepath.Join(root, "right", "b.txt"))

	detector := NewFolderDetector(false, []string{root})
	groups, _ := detector.Detect(files, hashes)
	if len(groups) != 0 {
		t.Errorf("Detect() = %v, want no groups after a member lost its hash", groups)
	}
}

func TestDetectRecursiveFoldsSubtrees(t *testing.T) {
	root := filepath.Join("/", "data")
	mk := func(parts ...string) string { return filepath.Join(append([]string{root}, parts...)...) }

	files := []walker.FileRecord{
		rec(mk("one", "sub", "x.txt"), 3, 1, 1),
		rec(mk("two", "sub", "x.txt"), 3, 1, 2),
		rec(mk("three", "flat-x.txt"), 3, 1, 3),
	}
	hashes := map[string]string{
		mk("one", "sub", "x.txt"): "hx",
		mk("two", "sub", "x.txt"): "hx",
		mk("three", "flat-x.txt"): "hx",
	}

	detector := NewFolderDetector(true, []string{root})
	groups, sigs := detector.Detect(files, hashes)

	// one/ and two/ have identical subtree shape; three/ differs in
	// structure despite identical content
	var found bool
	for _, g := range groups {
		members := memberSet(g)
		if members[mk("one")] && members[mk("two")] {
			found = true
			if members[mk("three")] {
				t.Error("structurally different folder joined a recursive group")
			}
		}
	}
	if !found {
		t.Fatalf("recursive detection missed the identical subtrees; groups = %v", groups)
	}

	if _, ok := sigs[mk("one")]; !ok {
		t.Error("recursive mode should produce a signature for the parent folder")
	}
}

func TestManifestHashStability(t *testing.T) {
	a := manifestHash([]manifestEntry{
		{name: "b.txt", size: 2, hash: "h2"},
		{name: "a.txt", size: 1, hash: "h1"},
	})
	b := manifestHash([]manifestEntry{
		{name: "a.txt", size: 1, hash: "h1"},
		{name: "b.txt", size: 2, hash: "h2"},
	})
	if a != b {
		t.Error("manifest hash must not depend on entry order")
	}

	c := manifestHash([]manifestEntry{
		{name: "a.txt", size: 1, hash: "h1"},
		{name: "b.txt", size: 3, hash: "h2"},
	})
	if a == c {
		t.Error("size change must change the manifest hash")
	}
}
