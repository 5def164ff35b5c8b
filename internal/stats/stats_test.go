package stats

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/twbeatles/dupescan/internal/database"
)

func seededSession(t *testing.T) (*Calculator, string) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	session, err := db.CreateSession("stats-sess", "{}", "cfg-hash")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	files := []database.SessionFile{
		{Path: "/data/a.txt", Size: 100, ModTime: 1},
		{Path: "/data/b.txt", Size: 100, ModTime: 2},
		{Path: "/data/c.txt", Size: 100, ModTime: 3},
		{Path: "/img/1.png", Size: 5000, ModTime: 4},
		{Path: "/img/2.png", Size: 5000, ModTime: 5},
		{Path: "/lone.bin", Size: 9999, ModTime: 6},
	}
	if err := db.AddSessionFiles(session.ID, files); err != nil {
		t.Fatalf("failed to add files: %v", err)
	}

	results := map[string][]string{
		"content:h1":  {"/data/a.txt", "/data/b.txt", "/data/c.txt"},
		"similar:0":   {"/img/1.png", "/img/2.png"},
		"folder:fsig": {"/data/left", "/data/right"},
	}
	if err := db.ReplaceSessionResults(session.ID, results); err != nil {
		t.Fatalf("failed to store results: %v", err)
	}

	return NewCalculator(db), session.ID
}

func TestCalculate(t *testing.T) {
	calc, sessionID := seededSession(t)

	stats, err := calc.Calculate(sessionID)
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}

	if stats.TotalFiles != 6 {
		t.Errorf("TotalFiles = %d, want 6", stats.TotalFiles)
	}
	if stats.TotalSize != 100*3+5000*2+9999 {
		t.Errorf("TotalSize = %d", stats.TotalSize)
	}
	if stats.DuplicateGroups != 3 {
		t.Errorf("DuplicateGroups = %d, want 3", stats.DuplicateGroups)
	}
	if stats.DuplicateFiles != 7 {
		t.Errorf("DuplicateFiles = %d, want 7 group members", stats.DuplicateFiles)
	}

	// One copy survives per group: 2*100 for the text trio, 1*5000 for
	// the image pair, nothing for the folder group whose members are not
	// scanned files
	if want := int64(2*100 + 5000); stats.ReclaimableBytes != want {
		t.Errorf("ReclaimableBytes = %d, want %d", stats.ReclaimableBytes, want)
	}

	if stats.GroupsByKind["content"] != 1 || stats.GroupsByKind["similar"] != 1 || stats.GroupsByKind["folder"] != 1 {
		t.Errorf("GroupsByKind = %v", stats.GroupsByKind)
	}
}

func TestCalculateEmptySession(t *testing.T) {
	calc, _ := seededSession(t)

	stats, err := calc.Calculate("no-such-session")
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}
	if stats.TotalFiles != 0 || stats.DuplicateGroups != 0 || stats.ReclaimableBytes != 0 {
		t.Errorf("stats for an unknown session = %+v, want zeros", stats)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1 << 20, "1.00 MB"},
		{5 * (1 << 30), "5.00 GB"},
		{3 * (1 << 40), "3.00 TB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.bytes); got != tt.want {
			t.Errorf("FormatSize(%d) = %s, want %s", tt.bytes, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{-time.Second, "0s"},
		{1500 * time.Millisecond, "2s"},
		{90 * time.Second, "1m30s"},
		{time.Hour + 30*time.Minute, "1h30m0s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %s, want %s", tt.d, got, tt.want)
		}
	}
}
