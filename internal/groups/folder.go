package groups

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/twbeatles/dupescan/internal/scanner"
	"github.com/twbeatles/dupescan/internal/walker"
)

// manifestEntry is one row of a directory manifest
type manifestEntry struct {
	name string
	size int64
	hash string
}

// FolderDetector aggregates file fingerprints into per-directory
// manifests and groups directories whose manifests hash identically.
// By default equivalence is local-level: only direct file children feed
// the manifest. The recursive variant folds the whole subtree in, keyed
// by slash-relative paths, so nested structure differences break
// equality.
type FolderDetector struct {
	recursive bool
	roots     []string
}

// NewFolderDetector creates a folder-duplicate detector. Roots bound the
// ancestor walk in recursive mode; manifests are never built above a
// scanned root.
func NewFolderDetector(recursive bool, roots []string) *FolderDetector {
	cleaned := make([]string, 0, len(roots))
	for _, r := range roots {
		cleaned = append(cleaned, filepath.Clean(r))
	}
	return &FolderDetector{recursive: recursive, roots: cleaned}
}

// Detect builds manifests for every directory whose contributing files
// (direct children, or the whole subtree in recursive mode) all carry a
// full hash; a directory with an unhashed file gets no manifest. It
// returns FolderDup groups of two or more manifest-identical
// directories. The manifest signatures are returned alongside so the
// session can persist them.
func (d *FolderDetector) Detect(files []walker.FileRecord, fullHashes map[string]string) ([]Group, map[string]string) {
	perDir := make(map[string][]manifestEntry)
	incomplete := make(map[string]bool)

	for _, f := range files {
		hash, ok := fullHashes[f.Path]

		dir := filepath.Dir(f.Path)
		if ok {
			perDir[dir] = append(perDir[dir], manifestEntry{
				name: filepath.Base(f.Path),
				size: f.Size,
				hash: hash,
			})
		} else {
			incomplete[dir] = true
		}

		if !d.recursive {
			continue
		}
		for ancestor := filepath.Dir(dir); d.withinRoots(ancestor); ancestor = filepath.Dir(ancestor) {
			rel, err := filepath.Rel(ancestor, f.Path)
			if err != nil {
				break
			}
			if ok {
				perDir[ancestor] = append(perDir[ancestor], manifestEntry{
					name: filepath.ToSlash(rel),
					size: f.Size,
					hash: hash,
				})
			} else {
				incomplete[ancestor] = true
			}
			if ancestor == filepath.Dir(ancestor) {
				break
			}
		}
	}

	sigs := make(map[string]string, len(perDir))
	byManifest := make(map[string][]string)
	for dir, entries := range perDir {
		if incomplete[dir] {
			continue
		}
		sig := manifestHash(entries)
		sigs[dir] = sig
		byManifest[sig] = append(byManifest[sig], dir)
	}

	var out []Group
	for sig, dirs := range byManifest {
		if len(dirs) < 2 {
			continue
		}
		sort.Strings(dirs)
		out = append(out, Group{Key: FolderKey(sig), Members: dirs})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Encode() < out[j].Key.Encode()
	})
	return out, sigs
}

// withinRoots reports whether dir is one of the scanned roots or below
// one of them, compared by path components
func (d *FolderDetector) withinRoots(dir string) bool {
	dir = filepath.Clean(dir)
	for _, root := range d.roots {
		if dir == root {
			return true
		}
		if strings.HasPrefix(dir, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// manifestHash digests the canonical serialization of a manifest: rows
// sorted by name, fields NUL-joined, rows newline-joined
func manifestHash(entries []manifestEntry) string {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].name != entries[j].name {
			return entries[i].name < entries[j].name
		}
		return entries[i].hash < entries[j].hash
	})

	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "%s\x00%d\x00%s\n", e.name, e.size, e.hash)
	}
	return scanner.HashBytes([]byte(sb.String()))
}
