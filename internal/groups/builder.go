package groups

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/twbeatles/dupescan/internal/config"
	"github.com/twbeatles/dupescan/internal/walker"
)

// Builder turns fingerprinted file records into duplicate groups,
// applying inode deduplication so hardlinks to one physical extent
// appear at most once per group
type Builder struct {
	mode       string
	byteVerify bool
}

// NewBuilder creates a group builder for the given scan mode
func NewBuilder(mode string, byteVerify bool) *Builder {
	return &Builder{mode: mode, byteVerify: byteVerify}
}

// Build emits groups for the configured mode. fullHashes is ignored in
// name-only mode; in the content modes files without a full hash are
// omitted (they failed hashing or were filtered as singletons).
func (b *Builder) Build(files []walker.FileRecord, fullHashes map[string]string) []Group {
	switch b.mode {
	case config.ModeNameOnly:
		return b.finish(b.byName(files))
	case config.ModeContentAndName:
		return b.finish(b.byContentAndName(files, fullHashes))
	default:
		return b.finish(b.byContent(files, fullHashes))
	}
}

// candidate pairs a member path with its physical identity
type candidate struct {
	record walker.FileRecord
}

func (b *Builder) byContent(files []walker.FileRecord, fullHashes map[string]string) map[Key][]candidate {
	out := make(map[Key][]candidate)
	for _, f := range files {
		hash, ok := fullHashes[f.Path]
		if !ok {
			continue
		}
		key := ContentKey(f.Size, hash)
		out[key] = append(out[key], candidate{record: f})
	}
	return out
}

func (b *Builder) byContentAndName(files []walker.FileRecord, fullHashes map[string]string) map[Key][]candidate {
	out := make(map[Key][]candidate)
	for _, f := range files {
		hash, ok := fullHashes[f.Path]
		if !ok {
			continue
		}
		key := ContentNameKey(f.Size, hash, filepath.Base(f.Path))
		out[key] = append(out[key], candidate{record: f})
	}
	return out
}

func (b *Builder) byName(files []walker.FileRecord) map[Key][]candidate {
	out := make(map[Key][]candidate)
	for _, f := range files {
		key := NameKey(filepath.Base(f.Path))
		out[key] = append(out[key], candidate{record: f})
	}
	return out
}

// finish applies inode dedup, drops groups below two members, optionally
// byte-verifies content groups, and returns deterministically ordered
// groups
func (b *Builder) finish(raw map[Key][]candidate) []Group {
	var out []Group
	for key, members := range raw {
		paths := dedupeByInode(members)
		if len(paths) < 2 {
			continue
		}

		if b.byteVerify && key.Kind == KindContent {
			for i, part := range VerifySplit(paths) {
				if len(part) < 2 {
					continue
				}
				split := key
				if i > 0 {
					// Hash-colliding but byte-distinct members get their
					// own group key
					split.FullHash = splitSuffix(key.FullHash, i)
				}
				out = append(out, Group{Key: split, Members: part})
			}
			continue
		}

		out = append(out, Group{Key: key, Members: paths})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Encode() < out[j].Key.Encode()
	})
	return out
}

// dedupeByInode keeps the lexicographically first path per physical
// extent so that repeated runs produce stable membership
func dedupeByInode(members []candidate) []string {
	type devIno struct {
		dev int64
		ino int64
	}

	sort.Slice(members, func(i, j int) bool {
		return members[i].record.Path < members[j].record.Path
	})

	seen := make(map[devIno]struct{}, len(members))
	paths := make([]string, 0, len(members))
	for _, m := range members {
		// Entries without a physical identity cannot be hardlink-deduped
		if m.record.DeviceID != 0 || m.record.Inode != 0 {
			id := devIno{dev: m.record.DeviceID, ino: m.record.Inode}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		}
		paths = append(paths, m.record.Path)
	}
	return paths
}

// splitSuffix derives a distinct hash label for byte-verify splits
func splitSuffix(hash string, i int) string {
	return fmt.Sprintf("%s-v%d", hash, i)
}
