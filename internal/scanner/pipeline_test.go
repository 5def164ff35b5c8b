package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/twbeatles/dupescan/internal/database"
	"github.com/twbeatles/dupescan/internal/telemetry"
	"github.com/twbeatles/dupescan/internal/walker"
)

func record(path string, size int64) walker.FileRecord {
	return walker.FileRecord{Path: path, Size: size, ModTime: 1000}
}

func TestSizeCandidatesDropsSingletons(t *testing.T) {
	files := []walker.FileRecord{
		record("/a", 10),
		record("/b", 10),
		record("/c", 20),
		record("/d", 30),
		record("/e", 30),
		record("/f", 30),
	}

	got := SizeCandidates(files)
	want := map[string]bool{"/a": true, "/b": true, "/d": true, "/e": true, "/f": true}
	if len(got) != len(want) {
		t.Fatalf("SizeCandidates() returned %d records, want %d", len(got), len(want))
	}
	for _, f := range got {
		if !want[f.Path] {
			t.Errorf("unexpected candidate %s", f.Path)
		}
	}
}

func TestPartialCandidatesRepartitions(t *testing.T) {
	files := []walker.FileRecord{
		record("/a", 10),
		record("/b", 10),
		record("/c", 10),
		record("/skipped", 10),
	}
	partials := map[string]string{
		"/a": "h1",
		"/b": "h1",
		"/c": "h2",
	}

	got := PartialCandidates(files, partials)
	want := map[string]bool{"/a": true, "/b": true}
	if len(got) != len(want) {
		t.Fatalf("PartialCandidates() returned %d records, want %d", len(got), len(want))
	}
	for _, f := range got {
		if !want[f.Path] {
			t.Errorf("unexpected candidate %s", f.Path)
		}
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *database.DB, *telemetry.Counters) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	counters := telemetry.NewCounters()
	progress := NewProgress()
	t.Cleanup(progress.Stop)

	return NewPipeline(db, counters, progress, 2, nil), db, counters
}

func collectRecords(t *testing.T, dir string, contents map[string]string) []walker.FileRecord {
	t.Helper()

	var files []walker.FileRecord
	for name, content := range contents {
		path := filepath.Join(dir, name)
		writeFile(t, path, []byte(content))
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("failed to stat %s: %v", path, err)
		}
		files = append(files, walker.FileRecord{Path: path, Size: info.Size(), ModTime: info.ModTime().Unix()})
	}
	return files
}

func TestPartialPassHashesCandidates(t *testing.T) {
	pipeline, db, counters := newTestPipeline(t)
	dir := t.TempDir()

	files := collectRecords(t, dir, map[string]string{
		"one.txt":   "same bytes",
		"two.txt":   "same bytes",
		"three.txt": "same bytes",
	})

	session, err := db.CreateSession("sess-partial", "{}", "hash")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	batch := db.NewSessionHashBatch(session.ID)

	hashes, err := pipeline.PartialPass(context.Background(), files, nil, batch)
	if err != nil {
		t.Fatalf("PartialPass() error = %v", err)
	}
	if len(hashes) != 3 {
		t.Fatalf("PartialPass() produced %d hashes, want 3", len(hashes))
	}

	first := hashes[files[0].Path]
	for _, f := range files {
		if hashes[f.Path] != first {
			t.Errorf("identical files hashed differently: %s", f.Path)
		}
	}
	if counters.FilesHashed.Load() != 3 {
		t.Errorf("FilesHashed = %d, want 3", counters.FilesHashed.Load())
	}

	// The session store now carries one row per path
	persisted, err := db.LoadSessionHashes(session.ID, database.HashTypePartial)
	if err != nil {
		t.Fatalf("LoadSessionHashes() error = %v", err)
	}
	if len(persisted) != 3 {
		t.Errorf("persisted %d session hashes, want 3", len(persisted))
	}
}

func TestRunPassServesFromFingerprintCache(t *testing.T) {
	pipeline, db, counters := newTestPipeline(t)
	dir := t.TempDir()

	files := collectRecords(t, dir, map[string]string{
		"a.bin": "cached content",
		"b.bin": "cached content",
	})

	session, err := db.CreateSession("sess-cache-1", "{}", "hash")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if _, err := pipeline.FullPass(context.Background(), files, nil, db.NewSessionHashBatch(session.ID)); err != nil {
		t.Fatalf("first FullPass() error = %v", err)
	}
	hashedOnce := counters.FilesHashed.Load()

	// A second pass over unchanged files must be answered by the cache
	session2, err := db.CreateSession("sess-cache-2", "{}", "hash")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	hashes, err := pipeline.FullPass(context.Background(), files, nil, db.NewSessionHashBatch(session2.ID))
	if err != nil {
		t.Fatalf("second FullPass() error = %v", err)
	}
	if len(hashes) != 2 {
		t.Fatalf("second pass produced %d hashes, want 2", len(hashes))
	}
	if counters.FilesHashed.Load() != hashedOnce {
		t.Errorf("cache miss: FilesHashed grew from %d to %d", hashedOnce, counters.FilesHashed.Load())
	}
}

func TestRunPassReplaysKnownSessionHashes(t *testing.T) {
	pipeline, db, _ := newTestPipeline(t)
	dir := t.TempDir()

	files := collectRecords(t, dir, map[string]string{
		"x.txt": "replayed",
		"y.txt": "replayed",
	})

	known := map[string]database.SessionHash{
		files[0].Path: {Path: files[0].Path, Hash: "prior-hash", Size: files[0].Size, Mtime: files[0].ModTime},
		// Stale witness: gets recomputed instead of replayed
		files[1].Path: {Path: files[1].Path, Hash: "stale-hash", Size: files[1].Size, Mtime: files[1].ModTime + 99},
	}

	session, err := db.CreateSession("sess-replay", "{}", "hash")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	hashes, err := pipeline.PartialPass(context.Background(), files, known, db.NewSessionHashBatch(session.ID))
	if err != nil {
		t.Fatalf("PartialPass() error = %v", err)
	}

	if hashes[files[0].Path] != "prior-hash" {
		t.Errorf("matching witness not replayed: got %s", hashes[files[0].Path])
	}
	if hashes[files[1].Path] == "stale-hash" {
		t.Error("stale witness was replayed instead of recomputed")
	}
}

func TestRunPassRecordsMissingFiles(t *testing.T) {
	pipeline, db, counters := newTestPipeline(t)
	dir := t.TempDir()

	files := collectRecords(t, dir, map[string]string{
		"real1.txt": "content",
		"real2.txt": "content",
	})
	files = append(files, record(filepath.Join(dir, "ghost.txt"), int64(len("content"))))

	session, err := db.CreateSession("sess-missing", "{}", "hash")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	hashes, err := pipeline.PartialPass(context.Background(), files, nil, db.NewSessionHashBatch(session.ID))
	if err != nil {
		t.Fatalf("PartialPass() error = %v", err)
	}

	if len(hashes) != 2 {
		t.Errorf("got %d hashes, want 2 surviving files", len(hashes))
	}
	metrics := counters.Snapshot()
	if metrics.ErrorsTotal != 1 {
		t.Errorf("ErrorsTotal = %d, want 1", metrics.ErrorsTotal)
	}
}

func TestRunPassCancelledReturnsPartial(t *testing.T) {
	pipeline, db, _ := newTestPipeline(t)
	dir := t.TempDir()

	files := collectRecords(t, dir, map[string]string{
		"p.txt": "abc",
		"q.txt": "abc",
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session, err := db.CreateSession("sess-cancel", "{}", "hash")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	_, err = pipeline.PartialPass(ctx, files, nil, db.NewSessionHashBatch(session.ID))
	if err != context.Canceled {
		t.Errorf("PartialPass() on a cancelled context: err = %v, want context.Canceled", err)
	}
}
