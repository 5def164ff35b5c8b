package database

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twbeatles/dupescan/internal/constants"
)

// Session statuses
const (
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// Session stages, in pipeline order
const (
	StageCollect      = "collect"
	StageQuickHash    = "quick_hash"
	StageFullHash     = "full_hash"
	StageGroup        = "group"
	StageFolderDup    = "folder_dup"
	StageSimilarImage = "similar_image"
	StageFinalize     = "finalize"
)

// Session is one durable scan attempt
type Session struct {
	ID              string
	Status          string
	Stage           string
	ConfigJSON      string
	ConfigHash      string
	Progress        float64
	ProgressMessage string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SessionFile is a collected filesystem entry owned by a session
type SessionFile struct {
	Path     string
	Size     int64
	ModTime  int64
	DeviceID int64
	Inode    int64
}

// SessionHash is one persisted digest with its (size, mtime) witness
type SessionHash struct {
	Path  string
	Hash  string
	Size  int64
	Mtime int64
}

// CreateSession inserts a new running session at the collect stage
func (db *DB) CreateSession(id, configJSON, configHash string) (*Session, error) {
	now := time.Now()
	_, err := db.conn.Exec(`
		INSERT INTO scan_sessions (id, status, stage, config_json, config_hash, progress, progress_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, '', ?, ?)`,
		id, StatusRunning, StageCollect, configJSON, configHash, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Session{
		ID:         id,
		Status:     StatusRunning,
		Stage:      StageCollect,
		ConfigJSON: configJSON,
		ConfigHash: configHash,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// GetSession loads one session by id
func (db *DB) GetSession(id string) (*Session, error) {
	return db.scanSession(db.conn.QueryRow(`
		SELECT id, status, stage, config_json, config_hash, progress, progress_message, created_at, updated_at
		FROM scan_sessions WHERE id = ?`, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanSession(row rowScanner) (*Session, error) {
	var (
		s                  Session
		createdAt, updated int64
	)
	err := row.Scan(&s.ID, &s.Status, &s.Stage, &s.ConfigJSON, &s.ConfigHash, &s.Progress, &s.ProgressMessage, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session row: %w", err)
	}
	s.CreatedAt = time.Unix(createdAt, 0)
	s.UpdatedAt = time.Unix(updated, 0)
	return &s, nil
}

// SetSessionStatus updates a session's status
func (db *DB) SetSessionStatus(id, status string) error {
	_, err := db.conn.Exec(
		`UPDATE scan_sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to set session status: %w", err)
	}
	return nil
}

// SetSessionStage updates a session's stage
func (db *DB) SetSessionStage(id, stage string) error {
	_, err := db.conn.Exec(
		`UPDATE scan_sessions SET stage = ?, updated_at = ? WHERE id = ?`,
		stage, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to set session stage: %w", err)
	}
	return nil
}

// UpdateSessionProgress persists progress percent and message. Callers
// throttle; this writes unconditionally.
func (db *DB) UpdateSessionProgress(id string, percent float64, message string) error {
	_, err := db.conn.Exec(
		`UPDATE scan_sessions SET progress = ?, progress_message = ?, updated_at = ? WHERE id = ?`,
		percent, message, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update session progress: %w", err)
	}
	return nil
}

// AddSessionFiles inserts collected files in bounded transactions
func (db *DB) AddSessionFiles(sessionID string, files []SessionFile) error {
	for start := 0; start < len(files); start += constants.SessionFileBatchSize {
		end := start + constants.SessionFileBatchSize
		if end > len(files) {
			end = len(files)
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin session file batch: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO scan_files (session_id, path, size, mtime, device_id, inode)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to prepare session file insert: %w", err)
		}

		for _, f := range files[start:end] {
			if _, err := stmt.Exec(sessionID, f.Path, f.Size, f.ModTime, f.DeviceID, f.Inode); err != nil {
				stmt.Close()
				tx.Rollback()
				return fmt.Errorf("failed to insert session file %s: %w", f.Path, err)
			}
		}
		stmt.Close()

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit session file batch: %w", err)
		}
	}
	return nil
}

// LoadSessionFiles returns the full collected file set for a session
func (db *DB) LoadSessionFiles(sessionID string) ([]SessionFile, error) {
	rows, err := db.conn.Query(`
		SELECT path, size, mtime, device_id, inode FROM scan_files WHERE session_id = ? ORDER BY path`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session files: %w", err)
	}
	defer rows.Close()

	var files []SessionFile
	for rows.Next() {
		var f SessionFile
		if err := rows.Scan(&f.Path, &f.Size, &f.ModTime, &f.DeviceID, &f.Inode); err != nil {
			return nil, fmt.Errorf("failed to scan session file row: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// sessionHashKey identifies one hash row for in-batch deduplication
type sessionHashKey struct {
	path     string
	hashType string
}

// SessionHashBatch accumulates per-session hash writes. A given
// (path, hash_type) is written at most once per batch.
type SessionHashBatch struct {
	db        *DB
	sessionID string
	batchSize int
	mu        sync.Mutex
	order     []sessionHashKey
	pending   map[sessionHashKey]SessionHash
}

// NewSessionHashBatch creates a batch accumulator for session hash writes
func (db *DB) NewSessionHashBatch(sessionID string) *SessionHashBatch {
	return &SessionHashBatch{
		db:        db,
		sessionID: sessionID,
		batchSize: constants.SessionHashBatchSize,
		pending:   make(map[sessionHashKey]SessionHash, constants.SessionHashBatchSize),
	}
}

// Add queues one hash write, flushing when the batch is full
func (sb *SessionHashBatch) Add(path, hashType, hash string, size, mtime int64) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	key := sessionHashKey{path: path, hashType: hashType}
	if _, dup := sb.pending[key]; !dup {
		sb.order = append(sb.order, key)
	}
	sb.pending[key] = SessionHash{Path: path, Hash: hash, Size: size, Mtime: mtime}

	if len(sb.order) >= sb.batchSize {
		return sb.flushLocked()
	}
	return nil
}

// Flush writes any buffered hash rows
func (sb *SessionHashBatch) Flush() error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.flushLocked()
}

func (sb *SessionHashBatch) flushLocked() error {
	if len(sb.order) == 0 {
		return nil
	}

	tx, err := sb.db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin session hash batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO scan_hashes (session_id, path, hash_type, hash, size, mtime)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare session hash insert: %w", err)
	}
	defer stmt.Close()

	for _, key := range sb.order {
		row := sb.pending[key]
		if _, err := stmt.Exec(sb.sessionID, row.Path, key.hashType, row.Hash, row.Size, row.Mtime); err != nil {
			return fmt.Errorf("failed to insert session hash for %s: %w", row.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session hash batch: %w", err)
	}

	sb.order = sb.order[:0]
	clear(sb.pending)
	return nil
}

// LoadSessionHashes returns persisted hashes of one type keyed by path
func (db *DB) LoadSessionHashes(sessionID, hashType string) (map[string]SessionHash, error) {
	rows, err := db.conn.Query(`
		SELECT path, hash, size, mtime FROM scan_hashes WHERE session_id = ? AND hash_type = ?`,
		sessionID, hashType)
	if err != nil {
		return nil, fmt.Errorf("failed to load session hashes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]SessionHash)
	for rows.Next() {
		var h SessionHash
		if err := rows.Scan(&h.Path, &h.Hash, &h.Size, &h.Mtime); err != nil {
			return nil, fmt.Errorf("failed to scan session hash row: %w", err)
		}
		out[h.Path] = h
	}
	return out, rows.Err()
}

// ReplaceSessionResults atomically replaces a session's result rows
func (db *DB) ReplaceSessionResults(sessionID string, results map[string][]string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin results transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM scan_results WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear previous results: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO scan_results (session_id, group_key, path) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for key, paths := range results {
		for _, p := range paths {
			if _, err := stmt.Exec(sessionID, key, p); err != nil {
				return fmt.Errorf("failed to insert result row: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	return nil
}

// LoadSessionResults returns a session's groups keyed by encoded group key
func (db *DB) LoadSessionResults(sessionID string) (map[string][]string, error) {
	rows, err := db.conn.Query(`
		SELECT group_key, path FROM scan_results WHERE session_id = ? ORDER BY group_key, path`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session results: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var key, path string
		if err := rows.Scan(&key, &path); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		out[key] = append(out[key], path)
	}
	return out, rows.Err()
}

// SetSelected records a review selection for one path
func (db *DB) SetSelected(sessionID, path string, selected bool) error {
	val := 0
	if selected {
		val = 1
	}
	_, err := db.conn.Exec(`
		INSERT OR REPLACE INTO scan_selected (session_id, path, selected) VALUES (?, ?, ?)`,
		sessionID, path, val)
	if err != nil {
		return fmt.Errorf("failed to set selection: %w", err)
	}
	return nil
}

// LoadSelected returns the selection map for a session
func (db *DB) LoadSelected(sessionID string) (map[string]bool, error) {
	rows, err := db.conn.Query(`SELECT path, selected FROM scan_selected WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load selections: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var (
			path string
			sel  int
		)
		if err := rows.Scan(&path, &sel); err != nil {
			return nil, fmt.Errorf("failed to scan selection row: %w", err)
		}
		out[path] = sel != 0
	}
	return out, rows.Err()
}

// SaveFolderSigs persists directory manifest signatures for a session
func (db *DB) SaveFolderSigs(sessionID string, sigs map[string][2]string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin folder sig transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO scan_folder_sigs (session_id, dir_path, sig_quick, sig_full)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare folder sig insert: %w", err)
	}
	defer stmt.Close()

	for dir, sig := range sigs {
		if _, err := stmt.Exec(sessionID, dir, sig[0], sig[1]); err != nil {
			return fmt.Errorf("failed to insert folder sig for %s: %w", dir, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit folder sigs: %w", err)
	}
	return nil
}

// FindResumable returns the newest paused session with a matching config
// hash, or nil when no such session exists
func (db *DB) FindResumable(configHash string) (*Session, error) {
	return db.scanSession(db.conn.QueryRow(`
		SELECT id, status, stage, config_json, config_hash, progress, progress_message, created_at, updated_at
		FROM scan_sessions
		WHERE status = ? AND config_hash = ?
		ORDER BY created_at DESC LIMIT 1`, StatusPaused, configHash))
}

// LatestCompletedByHash returns the newest completed session with a
// matching config hash. Only completed sessions serve as baselines.
func (db *DB) LatestCompletedByHash(configHash string) (*Session, error) {
	return db.scanSession(db.conn.QueryRow(`
		SELECT id, status, stage, config_json, config_hash, progress, progress_message, created_at, updated_at
		FROM scan_sessions
		WHERE status = ? AND config_hash = ?
		ORDER BY created_at DESC LIMIT 1`, StatusCompleted, configHash))
}

// ListSessions returns sessions newest first
func (db *DB) ListSessions(limit int) ([]*Session, error) {
	rows, err := db.conn.Query(`
		SELECT id, status, stage, config_json, config_hash, progress, progress_message, created_at, updated_at
		FROM scan_sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := db.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// CleanupOldSessions deletes all but the newest keepLatest sessions.
// Sub-collection rows cascade.
func (db *DB) CleanupOldSessions(keepLatest int) (int64, error) {
	res, err := db.conn.Exec(`
		DELETE FROM scan_sessions WHERE id NOT IN (
			SELECT id FROM scan_sessions ORDER BY created_at DESC LIMIT ?
		)`, keepLatest)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old sessions: %w", err)
	}
	return res.RowsAffected()
}
