package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/twbeatles/dupescan/internal/constants"
)

// Error classes tracked per scan
const (
	ClassIO         = "io"
	ClassMissing    = "missing"
	ClassPermission = "permission"
	ClassLocked     = "locked"
)

// Counters aggregates per-file fault and throughput counts for one scan.
// All counters are atomic; per-class failing paths are sampled up to a cap
// so a scan over a broken mount cannot grow memory without bound.
type Counters struct {
	FilesScanned       atomic.Int64
	FilesHashed        atomic.Int64
	FilesSkippedError  atomic.Int64
	FilesSkippedLocked atomic.Int64
	ErrorsTotal        atomic.Int64

	mu      sync.Mutex
	samples map[string][]string
}

// NewCounters creates an empty counter set
func NewCounters() *Counters {
	return &Counters{samples: make(map[string][]string)}
}

// RecordError counts one per-file fault and samples its path. Locked
// files are tracked separately from the other classes.
func (c *Counters) RecordError(class, path string) {
	c.ErrorsTotal.Add(1)
	if class == ClassLocked {
		c.FilesSkippedLocked.Add(1)
	} else {
		c.FilesSkippedError.Add(1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.samples[class]) < constants.MaxSampledErrorPaths {
		c.samples[class] = append(c.samples[class], path)
	}
}

// Samples returns a copy of the sampled paths for one error class
func (c *Counters) Samples(class string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.samples[class]))
	copy(out, c.samples[class])
	return out
}

// Metrics is an exportable snapshot of the counters
type Metrics struct {
	FilesScanned       int64 `json:"files_scanned"`
	FilesHashed        int64 `json:"files_hashed"`
	FilesSkippedError  int64 `json:"files_skipped_error"`
	FilesSkippedLocked int64 `json:"files_skipped_locked"`
	ErrorsTotal        int64 `json:"errors_total"`
}

// Snapshot returns the current counter values
func (c *Counters) Snapshot() Metrics {
	return Metrics{
		FilesScanned:       c.FilesScanned.Load(),
		FilesHashed:        c.FilesHashed.Load(),
		FilesSkippedError:  c.FilesSkippedError.Load(),
		FilesSkippedLocked: c.FilesSkippedLocked.Load(),
		ErrorsTotal:        c.ErrorsTotal.Load(),
	}
}
