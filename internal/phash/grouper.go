package phash

import (
	"context"
	"sort"
	"sync"

	"github.com/twbeatles/dupescan/internal/groups"
	"github.com/twbeatles/dupescan/internal/scanner"
	"github.com/twbeatles/dupescan/internal/telemetry"
	"github.com/twbeatles/dupescan/internal/walker"
)

// Grouper clusters near-duplicate images. Pairwise comparison is
// replaced by a metric tree: every hash is radius-queried against the
// tree and a union-find accumulates the transitive closure, so any two
// hashes within the radius land in one cluster.
type Grouper struct {
	counters *telemetry.Counters
	progress *scanner.Progress
	workers  int
	radius   int

	// onFileDone fires after every hashed image, mirroring the hash
	// pipeline's progress contract
	onFileDone func()
}

// NewGrouper creates a perceptual grouper with the given Hamming radius
func NewGrouper(counters *telemetry.Counters, progress *scanner.Progress, maxWorkers, radius int, onFileDone func()) *Grouper {
	return &Grouper{
		counters:   counters,
		progress:   progress,
		workers:    scanner.PoolSize(maxWorkers),
		radius:     radius,
		onFileDone: onFileDone,
	}
}

// phashResult is one hashed image flowing to the collector
type phashResult struct {
	path string
	hash uint64
}

// Cluster hashes every image record in parallel and returns
// SimilarImage groups of two or more members. On cancellation the
// clusters formed from the hashes finished so far are returned with the
// context error.
func (g *Grouper) Cluster(ctx context.Context, files []walker.FileRecord) ([]groups.Group, error) {
	images := make([]walker.FileRecord, 0, len(files))
	sizes := make(map[string]int64, len(files))
	for _, f := range files {
		if IsImagePath(f.Path) {
			images = append(images, f)
			sizes[f.Path] = f.Size
		}
	}
	g.progress.SetTotalFiles(int64(len(images)))

	hashes := make(map[string]uint64, len(images))

	out := make(chan phashResult, g.workers*4)
	var collector sync.WaitGroup
	collector.Add(1)
	go func() {
		defer collector.Done()
		for r := range out {
			hashes[r.path] = r.hash
		}
	}()

	pool := scanner.NewWorkerPool(ctx, g.workers, func(ctx context.Context, task scanner.Task) {
		defer func() {
			g.progress.IncrementFiles(task.Size)
			if g.onFileDone != nil {
				g.onFileDone()
			}
		}()

		hash, err := Compute(task.Path)
		if err != nil {
			g.counters.RecordError(telemetry.ClassIO, task.Path)
			return
		}
		out <- phashResult{path: task.Path, hash: hash}
	})

	for _, f := range images {
		if !pool.Submit(scanner.Task{Path: f.Path, Size: f.Size, Mtime: f.ModTime}) {
			break
		}
	}
	pool.Stop()
	close(out)
	collector.Wait()

	clusters := g.cluster(hashes, sizes)
	if err := ctx.Err(); err != nil {
		return clusters, err
	}
	return clusters, nil
}

// cluster joins all hashes within the radius through the tree and the
// union-find, then emits clusters of two or more paths
func (g *Grouper) cluster(hashes map[string]uint64, sizes map[string]int64) []groups.Group {
	// Exact-duplicate hashes share one tree node; the multimap keeps
	// every contributing path
	paths := make(map[uint64][]string, len(hashes))
	for path, hash := range hashes {
		paths[hash] = append(paths[hash], path)
	}

	distinct := make([]uint64, 0, len(paths))
	for hash := range paths {
		distinct = append(distinct, hash)
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[i] < distinct[j] })

	tree := NewBKTree()
	for _, hash := range distinct {
		tree.Insert(hash)
	}

	index := make(map[uint64]int, len(distinct))
	for i, hash := range distinct {
		index[hash] = i
	}

	uf := newUnionFind(len(distinct))
	for i, hash := range distinct {
		for _, near := range tree.Search(hash, g.radius) {
			uf.union(i, index[near])
		}
	}

	members := make(map[int][]string)
	for i, hash := range distinct {
		root := uf.find(i)
		members[root] = append(members[root], paths[hash]...)
	}

	var clusters [][]string
	for _, ms := range members {
		if len(ms) < 2 {
			continue
		}
		sort.Strings(ms)
		clusters = append(clusters, ms)
	}
	// Cluster ids are assigned in first-member order so repeated runs
	// over the same tree produce the same keys
	sort.Slice(clusters, func(i, j int) bool { return clusters[i][0] < clusters[j][0] })

	var out []groups.Group
	for id, ms := range clusters {
		repSize := sizes[ms[0]]
		out = append(out, groups.Group{Key: groups.SimilarKey(id, repSize), Members: ms})
	}
	return out
}
