package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"syscall"

	"github.com/twbeatles/dupescan/internal/database"
	"github.com/twbeatles/dupescan/internal/lockcheck"
	"github.com/twbeatles/dupescan/internal/telemetry"
	"github.com/twbeatles/dupescan/internal/walker"
)

// Pipeline computes partial and full fingerprints for pre-collected file
// records. It never re-stats: the (size, mtime) captured at collect time
// is the witness for every cache lookup and write-back.
type Pipeline struct {
	db       *database.DB
	hasher   *FileHasher
	counters *telemetry.Counters
	progress *Progress
	workers  int

	// onFileDone fires after every finished task; the orchestrator hooks
	// its throttled progress emission here
	onFileDone func()
}

// NewPipeline creates a hash pipeline with a bounded worker pool
func NewPipeline(db *database.DB, counters *telemetry.Counters, progress *Progress, maxWorkers int, onFileDone func()) *Pipeline {
	return &Pipeline{
		db:         db,
		hasher:     NewFileHasher(),
		counters:   counters,
		progress:   progress,
		workers:    PoolSize(maxWorkers),
		onFileDone: onFileDone,
	}
}

// SizeCandidates returns the records whose exact size is shared with at
// least one other record. Singletons cannot be duplicates.
func SizeCandidates(files []walker.FileRecord) []walker.FileRecord {
	bySize := make(map[int64]int, len(files))
	for _, f := range files {
		bySize[f.Size]++
	}

	out := make([]walker.FileRecord, 0, len(files))
	for _, f := range files {
		if bySize[f.Size] >= 2 {
			out = append(out, f)
		}
	}
	return out
}

// PartialCandidates re-partitions by (size, partial hash) and returns the
// records in classes of two or more. Records without a partial hash were
// skipped by the quick pass and drop out here.
func PartialCandidates(files []walker.FileRecord, partials map[string]string) []walker.FileRecord {
	type class struct {
		size    int64
		partial string
	}

	byClass := make(map[class]int, len(files))
	for _, f := range files {
		partial, ok := partials[f.Path]
		if !ok {
			continue
		}
		byClass[class{size: f.Size, partial: partial}]++
	}

	out := make([]walker.FileRecord, 0, len(files))
	for _, f := range files {
		partial, ok := partials[f.Path]
		if !ok {
			continue
		}
		if byClass[class{size: f.Size, partial: partial}] >= 2 {
			out = append(out, f)
		}
	}
	return out
}

// PartialPass computes the 64 KiB prefix digest for every candidate and
// returns the digests keyed by path. Files whose hash is already known
// from a resumed session or the fingerprint cache are not re-read.
func (p *Pipeline) PartialPass(ctx context.Context, files []walker.FileRecord, known map[string]database.SessionHash, sessionBatch *database.SessionHashBatch) (map[string]string, error) {
	return p.runPass(ctx, files, database.HashTypePartial, known, sessionBatch)
}

// FullPass computes the whole-content digest for every candidate
func (p *Pipeline) FullPass(ctx context.Context, files []walker.FileRecord, known map[string]database.SessionHash, sessionBatch *database.SessionHashBatch) (map[string]string, error) {
	return p.runPass(ctx, files, database.HashTypeFull, known, sessionBatch)
}

// hashResult is one finished task flowing from the workers to the
// collector goroutine
type hashResult struct {
	path string
	hash string
}

// runPass drives one hashing pass through the worker pool. On
// cancellation the batches still flush so in-flight writes complete, and
// the hashes finished so far are returned alongside the context error.
func (p *Pipeline) runPass(ctx context.Context, files []walker.FileRecord, hashType string, known map[string]database.SessionHash, sessionBatch *database.SessionHashBatch) (map[string]string, error) {
	results := make(map[string]string, len(files))
	p.progress.SetTotalFiles(int64(len(files)))

	// Replay hashes persisted by an interrupted run; the witness must
	// still match or the file changed under us and gets recomputed
	pending := make([]walker.FileRecord, 0, len(files))
	for _, f := range files {
		if h, ok := known[f.Path]; ok && h.Size == f.Size && h.Mtime == f.ModTime {
			results[f.Path] = h.Hash
			p.progress.IncrementFiles(f.Size)
			continue
		}
		pending = append(pending, f)
	}

	fingerprints := p.db.NewFingerprintBatch()

	out := make(chan hashResult, p.workers*4)
	var collector sync.WaitGroup
	collector.Add(1)
	go func() {
		defer collector.Done()
		for r := range out {
			results[r.path] = r.hash
		}
	}()

	pool := NewWorkerPool(ctx, p.workers, func(ctx context.Context, task Task) {
		p.hashOne(task, hashType, fingerprints, sessionBatch, out)
	})

	for _, f := range pending {
		if !pool.Submit(Task{Path: f.Path, Size: f.Size, Mtime: f.ModTime}) {
			break
		}
	}
	pool.Stop()
	close(out)
	collector.Wait()

	// In-flight writes complete even when cancelled
	if err := fingerprints.Flush(); err != nil {
		return results, fmt.Errorf("failed to flush fingerprint batch: %w", err)
	}
	if err := sessionBatch.Flush(); err != nil {
		return results, fmt.Errorf("failed to flush session hash batch: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// hashOne resolves one task against the cache or computes the digest.
// Per-file faults funnel into telemetry; a task never fails the pass.
func (p *Pipeline) hashOne(task Task, hashType string, fingerprints *database.FingerprintBatch, sessionBatch *database.SessionHashBatch, out chan<- hashResult) {
	defer func() {
		p.progress.IncrementFiles(task.Size)
		if p.onFileDone != nil {
			p.onFileDone()
		}
	}()

	if fp, hit, err := p.db.LookupFingerprint(task.Path, task.Size, task.Mtime); err == nil && hit {
		cached := fp.PartialHash
		if hashType == database.HashTypeFull {
			cached = fp.FullHash
		}
		if cached != "" {
			if err := sessionBatch.Add(task.Path, hashType, cached, task.Size, task.Mtime); err != nil {
				p.progress.AddError(err.Error())
			}
			out <- hashResult{path: task.Path, hash: cached}
			return
		}
	}

	var (
		hash string
		err  error
	)
	switch hashType {
	case database.HashTypePartial:
		hash, err = p.hasher.PartialHash(task.Path)
	default:
		hash, err = p.hasher.FullHash(task.Path)
	}
	if err != nil {
		p.recordFileError(task.Path, err)
		return
	}

	p.counters.FilesHashed.Add(1)

	if err := fingerprints.Put(task.Path, task.Size, task.Mtime, hashType, hash); err != nil {
		p.progress.AddError(err.Error())
	}
	if err := sessionBatch.Add(task.Path, hashType, hash, task.Size, task.Mtime); err != nil {
		p.progress.AddError(err.Error())
	}

	out <- hashResult{path: task.Path, hash: hash}
}

// recordFileError classifies a per-file hashing fault into the telemetry
// taxonomy. Files that fail here are omitted from grouping.
func (p *Pipeline) recordFileError(path string, err error) {
	switch {
	case errors.Is(err, syscall.EBUSY), errors.Is(err, syscall.ETXTBSY), errors.Is(err, syscall.EWOULDBLOCK):
		p.counters.RecordError(telemetry.ClassLocked, path)
	case errors.Is(err, fs.ErrNotExist):
		p.counters.RecordError(telemetry.ClassMissing, path)
	case errors.Is(err, fs.ErrPermission):
		p.counters.RecordError(telemetry.ClassPermission, path)
	case lockcheck.IsLocked(path):
		p.counters.RecordError(telemetry.ClassLocked, path)
	default:
		p.counters.RecordError(telemetry.ClassIO, path)
	}
	p.progress.AddError(fmt.Sprintf("%s: %v", path, err))
}
