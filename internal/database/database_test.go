package database

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.CloseAll() })
	return db
}

func TestFingerprintWitnessMatch(t *testing.T) {
	db := openTestDB(t)

	batch := db.NewFingerprintBatch()
	if err := batch.Put("/a/file", 100, 1700000000, HashTypePartial, "aa11"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := batch.Put("/a/file", 100, 1700000000, HashTypeFull, "bb22"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := batch.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	fp, ok, err := db.LookupFingerprint("/a/file", 100, 1700000000)
	if err != nil {
		t.Fatalf("LookupFingerprint() error = %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit for matching witness")
	}
	if fp.PartialHash != "aa11" || fp.FullHash != "bb22" {
		t.Errorf("fingerprint = %+v, want partial aa11 full bb22", fp)
	}

	// Stale rows must not be returned
	if _, ok, _ := db.LookupFingerprint("/a/file", 100, 1700000001); ok {
		t.Error("expected miss when mtime differs")
	}
	if _, ok, _ := db.LookupFingerprint("/a/file", 101, 1700000000); ok {
		t.Error("expected miss when size differs")
	}
}

func TestFingerprintWitnessChangeInvalidatesFullHash(t *testing.T) {
	db := openTestDB(t)

	batch := db.NewFingerprintBatch()
	if err := batch.Put("/a/file", 100, 1700000000, HashTypeFull, "bb22"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := batch.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	// Same path, new witness: the full hash from the old content is stale
	if err := batch.Put("/a/file", 200, 1700000099, HashTypePartial, "cc33"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := batch.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	fp, ok, err := db.LookupFingerprint("/a/file", 200, 1700000099)
	if err != nil {
		t.Fatalf("LookupFingerprint() error = %v", err)
	}
	if !ok {
		t.Fatal("expected hit for new witness")
	}
	if fp.FullHash != "" {
		t.Errorf("stale full hash survived a witness change: %q", fp.FullHash)
	}
	if fp.PartialHash != "cc33" {
		t.Errorf("partial hash = %q, want cc33", fp.PartialHash)
	}
}

func TestSweepFingerprints(t *testing.T) {
	db := openTestDB(t)

	batch := db.NewFingerprintBatch()
	if err := batch.Put("/old", 1, 1, HashTypePartial, "aa"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := batch.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	// Backdate last_seen past the retention window
	cutoff := time.Now().AddDate(0, 0, -400).Unix()
	if _, err := db.Conn().Exec(`UPDATE file_hashes SET last_seen = ? WHERE path = '/old'`, cutoff); err != nil {
		t.Fatalf("failed to backdate row: %v", err)
	}

	removed, err := db.SweepFingerprints(180)
	if err != nil {
		t.Fatalf("SweepFingerprints() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)

	s, err := db.CreateSession("sess-1", `{"roots":["/data"]}`, "hash-1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if s.Status != StatusRunning || s.Stage != StageCollect {
		t.Errorf("new session = %s/%s, want running/collect", s.Status, s.Stage)
	}

	if err := db.SetSessionStage("sess-1", StageFullHash); err != nil {
		t.Fatalf("SetSessionStage() error = %v", err)
	}
	if err := db.SetSessionStatus("sess-1", StatusPaused); err != nil {
		t.Fatalf("SetSessionStatus() error = %v", err)
	}

	got, err := db.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Status != StatusPaused || got.Stage != StageFullHash {
		t.Errorf("session = %s/%s, want paused/full_hash", got.Status, got.Stage)
	}

	resumable, err := db.FindResumable("hash-1")
	if err != nil {
		t.Fatalf("FindResumable() error = %v", err)
	}
	if resumable == nil || resumable.ID != "sess-1" {
		t.Fatalf("FindResumable() = %+v, want sess-1", resumable)
	}

	if r, _ := db.FindResumable("other-hash"); r != nil {
		t.Error("FindResumable matched a different config hash")
	}
	if b, _ := db.LatestCompletedByHash("hash-1"); b != nil {
		t.Error("paused session offered as completed baseline")
	}
}

func TestSessionFilesAndHashes(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.CreateSession("sess-1", "{}", "h"); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	files := []SessionFile{
		{Path: "/a/x", Size: 5, ModTime: 100, DeviceID: 1, Inode: 10},
		{Path: "/a/y", Size: 5, ModTime: 101, DeviceID: 1, Inode: 11},
	}
	if err := db.AddSessionFiles("sess-1", files); err != nil {
		t.Fatalf("AddSessionFiles() error = %v", err)
	}

	loaded, err := db.LoadSessionFiles("sess-1")
	if err != nil {
		t.Fatalf("LoadSessionFiles() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d files, want 2", len(loaded))
	}

	batch := db.NewSessionHashBatch("sess-1")
	// Duplicate adds for the same (path, type) collapse to one row
	if err := batch.Add("/a/x", HashTypePartial, "p1", 5, 100); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := batch.Add("/a/x", HashTypePartial, "p1", 5, 100); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := batch.Add("/a/x", HashTypeFull, "f1", 5, 100); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := batch.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	partials, err := db.LoadSessionHashes("sess-1", HashTypePartial)
	if err != nil {
		t.Fatalf("LoadSessionHashes() error = %v", err)
	}
	if len(partials) != 1 || partials["/a/x"].Hash != "p1" {
		t.Errorf("partials = %v, want one p1 row", partials)
	}
}

func TestSessionResultsRoundTrip(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.CreateSession("sess-1", "{}", "h"); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	results := map[string][]string{
		"content:abcd": {"/a/x", "/a/y"},
		"name:foo.txt": {"/p/foo.txt", "/q/foo.txt"},
	}
	if err := db.ReplaceSessionResults("sess-1", results); err != nil {
		t.Fatalf("ReplaceSessionResults() error = %v", err)
	}

	loaded, err := db.LoadSessionResults("sess-1")
	if err != nil {
		t.Fatalf("LoadSessionResults() error = %v", err)
	}
	if len(loaded) != 2 || len(loaded["content:abcd"]) != 2 {
		t.Errorf("loaded = %v", loaded)
	}
}

func TestCleanupOldSessions(t *testing.T) {
	db := openTestDB(t)

	for _, id := range []string{"s1", "s2", "s3"} {
		if _, err := db.CreateSession(id, "{}", "h"); err != nil {
			t.Fatalf("CreateSession(%s) error = %v", id, err)
		}
		// Spread created_at so ordering is deterministic
		if _, err := db.Conn().Exec(`UPDATE scan_sessions SET created_at = created_at + ? WHERE id = ?`,
			map[string]int{"s1": 0, "s2": 10, "s3": 20}[id], id); err != nil {
			t.Fatalf("failed to adjust created_at: %v", err)
		}
	}

	removed, err := db.CleanupOldSessions(2)
	if err != nil {
		t.Fatalf("CleanupOldSessions() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if s, _ := db.GetSession("s1"); s != nil {
		t.Error("oldest session survived cleanup")
	}
}

func TestPauseStaleSessions(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.CreateSession("stale", "{}", "h"); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	n, err := db.PauseStaleSessions()
	if err != nil {
		t.Fatalf("PauseStaleSessions() error = %v", err)
	}
	if n != 1 {
		t.Errorf("paused %d sessions, want 1", n)
	}

	s, err := db.GetSession("stale")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if s.Status != StatusPaused {
		t.Errorf("status = %s, want paused", s.Status)
	}
}
