package database

const schema = `
-- Store metadata (schema_version and friends)
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

-- Persistent fingerprint cache keyed by canonical absolute path.
-- A row is a cache hit only when the live (size, mtime) matches exactly.
CREATE TABLE IF NOT EXISTS file_hashes (
	path TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	mtime INTEGER NOT NULL,
	partial_hash TEXT,
	full_hash TEXT,
	last_seen INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_file_hashes_last_seen ON file_hashes(last_seen);

-- One row per scan attempt
CREATE TABLE IF NOT EXISTS scan_sessions (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL CHECK(status IN ('running', 'paused', 'completed', 'partial', 'failed')),
	stage TEXT NOT NULL CHECK(stage IN ('collect', 'quick_hash', 'full_hash', 'group', 'folder_dup', 'similar_image', 'finalize')),
	config_json TEXT NOT NULL,
	config_hash TEXT NOT NULL,
	progress REAL NOT NULL DEFAULT 0,
	progress_message TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON scan_sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_config_hash ON scan_sessions(config_hash);
CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON scan_sessions(created_at);

-- Files collected for a session; fixed once the collect stage completes
CREATE TABLE IF NOT EXISTS scan_files (
	session_id TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER NOT NULL,
	mtime INTEGER NOT NULL,
	device_id INTEGER NOT NULL,
	inode INTEGER NOT NULL,
	PRIMARY KEY (session_id, path),
	FOREIGN KEY (session_id) REFERENCES scan_sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_scan_files_size ON scan_files(session_id, size);

-- Per-session hash progress, replayed on resume
CREATE TABLE IF NOT EXISTS scan_hashes (
	session_id TEXT NOT NULL,
	path TEXT NOT NULL,
	hash_type TEXT NOT NULL CHECK(hash_type IN ('partial', 'full')),
	hash TEXT NOT NULL,
	size INTEGER NOT NULL,
	mtime INTEGER NOT NULL,
	PRIMARY KEY (session_id, path, hash_type),
	FOREIGN KEY (session_id) REFERENCES scan_sessions(id) ON DELETE CASCADE
);

-- Final groups keyed by their encoded group key
CREATE TABLE IF NOT EXISTS scan_results (
	session_id TEXT NOT NULL,
	group_key TEXT NOT NULL,
	path TEXT NOT NULL,
	PRIMARY KEY (session_id, group_key, path),
	FOREIGN KEY (session_id) REFERENCES scan_sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_scan_results_group ON scan_results(session_id, group_key);

-- Per-path selection state driven by external review tooling
CREATE TABLE IF NOT EXISTS scan_selected (
	session_id TEXT NOT NULL,
	path TEXT NOT NULL,
	selected INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, path),
	FOREIGN KEY (session_id) REFERENCES scan_sessions(id) ON DELETE CASCADE
);

-- Directory manifest signatures for folder-duplicate detection
CREATE TABLE IF NOT EXISTS scan_folder_sigs (
	session_id TEXT NOT NULL,
	dir_path TEXT NOT NULL,
	sig_quick TEXT NOT NULL,
	sig_full TEXT NOT NULL,
	PRIMARY KEY (session_id, dir_path),
	FOREIGN KEY (session_id) REFERENCES scan_sessions(id) ON DELETE CASCADE
);

-- Recurring scan definitions
CREATE TABLE IF NOT EXISTS scheduled_jobs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	config_json TEXT NOT NULL,
	schedule_type TEXT NOT NULL CHECK(schedule_type IN ('daily', 'weekly')),
	weekday INTEGER NOT NULL DEFAULT 0,
	time_hhmm TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	last_run_at INTEGER,
	created_at INTEGER NOT NULL
);

-- History of scheduled executions
CREATE TABLE IF NOT EXISTS scheduled_runs (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	session_id TEXT,
	started_at INTEGER NOT NULL,
	finished_at INTEGER,
	status TEXT NOT NULL,
	FOREIGN KEY (job_id) REFERENCES scheduled_jobs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_scheduled_runs_job ON scheduled_runs(job_id, started_at);
`

// GetSchema returns the database schema
func GetSchema() string {
	return schema
}
