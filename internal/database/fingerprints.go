package database

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twbeatles/dupescan/internal/constants"
)

// Fingerprint holds the cached digests for one path. Either hash may be
// empty when only one pass has run.
type Fingerprint struct {
	PartialHash string
	FullHash    string
}

// Hash type discriminators for fingerprint and session hash rows
const (
	HashTypePartial = "partial"
	HashTypeFull    = "full"
)

// LookupFingerprint returns the stored fingerprint for path when the
// stored (size, mtime) witness matches the live values exactly. A stale
// row is not returned. Hits refresh last_seen.
func (db *DB) LookupFingerprint(path string, size, mtime int64) (Fingerprint, bool, error) {
	var (
		storedSize  int64
		storedMtime int64
		partial     sql.NullString
		full        sql.NullString
	)
	err := db.conn.QueryRow(
		`SELECT size, mtime, partial_hash, full_hash FROM file_hashes WHERE path = ?`, path,
	).Scan(&storedSize, &storedMtime, &partial, &full)
	if errors.Is(err, sql.ErrNoRows) {
		return Fingerprint{}, false, nil
	}
	if err != nil {
		return Fingerprint{}, false, fmt.Errorf("failed to look up fingerprint: %w", err)
	}

	if storedSize != size || storedMtime != mtime {
		return Fingerprint{}, false, nil
	}

	if _, err := db.conn.Exec(
		`UPDATE file_hashes SET last_seen = ? WHERE path = ?`, time.Now().Unix(), path,
	); err != nil {
		return Fingerprint{}, false, fmt.Errorf("failed to refresh last_seen: %w", err)
	}

	return Fingerprint{PartialHash: partial.String, FullHash: full.String}, true, nil
}

// SweepFingerprints deletes cache rows whose last_seen is older than the
// given age in days. Returns the number of rows removed.
func (db *DB) SweepFingerprints(ageDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -ageDays).Unix()
	res, err := db.conn.Exec(`DELETE FROM file_hashes WHERE last_seen < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep fingerprints: %w", err)
	}
	return res.RowsAffected()
}

// CountFingerprints returns the number of cached fingerprint rows
func (db *DB) CountFingerprints() (int64, error) {
	var n int64
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM file_hashes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count fingerprints: %w", err)
	}
	return n, nil
}

// fingerprintRow is one pending upsert in a FingerprintBatch
type fingerprintRow struct {
	path     string
	size     int64
	mtime    int64
	hashType string
	hash     string
}

// FingerprintBatch collects fingerprint upserts and flushes them to the
// store in bounded transactions to amortize sync cost
//
// Thread-safety:
//   - Multiple workers can safely call Put() concurrently
//   - Mutex protects the buffer and ensures atomic flush operations
//   - Flushes never run while a caller holds file I/O; callers hash first,
//     then Put the finished digest
type FingerprintBatch struct {
	db        *DB
	batchSize int
	mu        sync.Mutex
	rows      []fingerprintRow
}

// NewFingerprintBatch creates a batch accumulator for fingerprint writes
func (db *DB) NewFingerprintBatch() *FingerprintBatch {
	return &FingerprintBatch{
		db:        db,
		batchSize: constants.FingerprintBatchSize,
		rows:      make([]fingerprintRow, 0, constants.FingerprintBatchSize),
	}
}

// Put queues one upsert, flushing when the batch is full
func (fb *FingerprintBatch) Put(path string, size, mtime int64, hashType, hash string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.rows = append(fb.rows, fingerprintRow{path: path, size: size, mtime: mtime, hashType: hashType, hash: hash})
	if len(fb.rows) >= fb.batchSize {
		return fb.flushLocked()
	}
	return nil
}

// Flush writes any buffered rows to the store
func (fb *FingerprintBatch) Flush() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	return fb.flushLocked()
}

// flushLocked performs the actual flush (must be called with mutex held)
func (fb *FingerprintBatch) flushLocked() error {
	if len(fb.rows) == 0 {
		return nil
	}

	tx, err := fb.db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin fingerprint batch: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, row := range fb.rows {
		var err error
		switch row.hashType {
		case HashTypePartial:
			// A witness change invalidates the stored full hash
			_, err = tx.Exec(`
				INSERT INTO file_hashes (path, size, mtime, partial_hash, full_hash, last_seen)
				VALUES (?, ?, ?, ?, NULL, ?)
				ON CONFLICT(path) DO UPDATE SET
					partial_hash = excluded.partial_hash,
					full_hash = CASE
						WHEN file_hashes.size = excluded.size AND file_hashes.mtime = excluded.mtime
						THEN file_hashes.full_hash ELSE NULL END,
					size = excluded.size,
					mtime = excluded.mtime,
					last_seen = excluded.last_seen`,
				row.path, row.size, row.mtime, row.hash, now)
		case HashTypeFull:
			_, err = tx.Exec(`
				INSERT INTO file_hashes (path, size, mtime, partial_hash, full_hash, last_seen)
				VALUES (?, ?, ?, NULL, ?, ?)
				ON CONFLICT(path) DO UPDATE SET
					full_hash = excluded.full_hash,
					partial_hash = CASE
						WHEN file_hashes.size = excluded.size AND file_hashes.mtime = excluded.mtime
						THEN file_hashes.partial_hash ELSE NULL END,
					size = excluded.size,
					mtime = excluded.mtime,
					last_seen = excluded.last_seen`,
				row.path, row.size, row.mtime, row.hash, now)
		default:
			err = fmt.Errorf("unknown hash type %q", row.hashType)
		}
		if err != nil {
			return fmt.Errorf("failed to upsert fingerprint for %s: %w", row.path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fingerprint batch: %w", err)
	}

	fb.rows = fb.rows[:0]
	return nil
}

// Size returns the number of buffered rows
func (fb *FingerprintBatch) Size() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	return len(fb.rows)
}
