package walker

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/twbeatles/dupescan/internal/telemetry"
)

// FileRecord represents one discovered filesystem entry. Records are
// immutable once yielded.
type FileRecord struct {
	Path     string
	Size     int64
	ModTime  int64
	DeviceID int64
	Inode    int64
}

// devIno identifies a physical extent for hardlink and cycle detection
type devIno struct {
	dev int64
	ino int64
}

// Walker enumerates roots recursively, applying the filter and the
// protected-root predicate, and yields FileRecord values into a bounded
// channel
//
// Concurrency Strategy:
//   - Each root is walked by its own goroutine via errgroup
//   - All walkers yield into one shared bounded channel; senders block on
//     backpressure so enumeration never outruns the consumer
//   - The seen (device, inode) map is shared under a mutex so a hardlink
//     reached from two roots still yields exactly one record
type Walker struct {
	filter         *Filter
	counters       *telemetry.Counters
	followSymlinks bool
	protectSystem  bool
	onWarning      func(string)

	mu   sync.Mutex
	seen map[devIno]struct{}
}

// New creates a walker for one scan
func New(filter *Filter, counters *telemetry.Counters, followSymlinks, protectSystem bool, onWarning func(string)) *Walker {
	return &Walker{
		filter:         filter,
		counters:       counters,
		followSymlinks: followSymlinks,
		protectSystem:  protectSystem,
		onWarning:      onWarning,
		seen:           make(map[devIno]struct{}),
	}
}

// Walk enumerates all roots and sends surviving records to out. The
// channel is not closed here; it is owned by the caller.
func (w *Walker) Walk(ctx context.Context, roots []string, out chan<- FileRecord) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, root := range roots {
		root := root
		g.Go(func() error {
			if w.protectSystem && IsProtectedPath(root) {
				w.warn(fmt.Sprintf("skipping protected root %s", root))
				return nil
			}
			return w.walkDir(ctx, root, nil, out)
		})
	}

	return g.Wait()
}

// walkDir recursively enumerates one directory. stack carries the
// (device, inode) of every directory on the descent path for cycle
// detection when symlinks are followed.
func (w *Walker) walkDir(ctx context.Context, dir string, stack []devIno, out chan<- FileRecord) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.recordWalkError(dir, err)
		return nil
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			if w.protectSystem && IsProtectedPath(path) {
				continue
			}
			if w.filter.SkipHidden() && IsHiddenOrSystem(entry.Name()) {
				continue
			}
			if err := w.descend(ctx, path, stack, out); err != nil {
				return err
			}
			continue
		}

		if entry.Type()&fs.ModeSymlink != 0 {
			if !w.followSymlinks {
				continue
			}
			if err := w.walkSymlink(ctx, path, stack, out); err != nil {
				return err
			}
			continue
		}

		if !entry.Type().IsRegular() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			w.recordWalkError(path, err)
			continue
		}
		if err := w.yield(ctx, path, info, out); err != nil {
			return err
		}
	}

	return nil
}

// descend enters a subdirectory, refusing to re-enter a directory already
// on the descent stack
func (w *Walker) descend(ctx context.Context, path string, stack []devIno, out chan<- FileRecord) error {
	if !w.followSymlinks {
		return w.walkDir(ctx, path, stack, out)
	}

	info, err := os.Stat(path)
	if err != nil {
		w.recordWalkError(path, err)
		return nil
	}
	id, ok := statIdentity(info)
	if !ok {
		return w.walkDir(ctx, path, stack, out)
	}
	for _, onPath := range stack {
		if onPath == id {
			return nil
		}
	}
	return w.walkDir(ctx, path, append(stack, id), out)
}

// walkSymlink resolves a symlink and walks its target, applying the same
// cycle guard as plain directories
func (w *Walker) walkSymlink(ctx context.Context, path string, stack []devIno, out chan<- FileRecord) error {
	info, err := os.Stat(path)
	if err != nil {
		w.recordWalkError(path, err)
		return nil
	}

	if info.IsDir() {
		if w.protectSystem && IsProtectedPath(path) {
			return nil
		}
		return w.descend(ctx, path, stack, out)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return w.yield(ctx, path, info, out)
}

// yield applies the filter and hardlink dedup, then sends the record
func (w *Walker) yield(ctx context.Context, path string, info fs.FileInfo, out chan<- FileRecord) error {
	name := filepath.Base(path)
	if w.filter.SkipHidden() && IsHiddenOrSystem(name) {
		return nil
	}
	if !w.filter.Match(path, name, info.Size()) {
		return nil
	}

	record := FileRecord{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime().Unix(),
	}
	if id, ok := statIdentity(info); ok {
		record.DeviceID = id.dev
		record.Inode = id.ino

		w.mu.Lock()
		_, dup := w.seen[id]
		if !dup {
			w.seen[id] = struct{}{}
		}
		w.mu.Unlock()
		if dup {
			return nil
		}
	}

	w.counters.FilesScanned.Add(1)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- record:
	}
	return nil
}

// statIdentity extracts the (device, inode) pair where the platform
// exposes one
func statIdentity(info fs.FileInfo) (devIno, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return devIno{}, false
	}
	return devIno{dev: int64(stat.Dev), ino: int64(stat.Ino)}, true
}

// recordWalkError classifies and counts a per-entry walk fault
func (w *Walker) recordWalkError(path string, err error) {
	switch {
	case os.IsNotExist(err):
		w.counters.RecordError(telemetry.ClassMissing, path)
	case os.IsPermission(err):
		w.counters.RecordError(telemetry.ClassPermission, path)
	default:
		w.counters.RecordError(telemetry.ClassIO, path)
	}
}

func (w *Walker) warn(msg string) {
	if w.onWarning != nil {
		w.onWarning(msg)
	}
}
