package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/twbeatles/dupescan/internal/database"
	"github.com/twbeatles/dupescan/internal/telemetry"
)

func samplePayload() *Payload {
	results := map[string][]string{
		"content:abc123":  {"/data/a.txt", "/data/b.txt"},
		"folder:def456":   {"/data/left", "/data/right"},
		"name:report.pdf": {"/x/report.pdf", "/y/report.pdf"},
		"similar:0":       {"/img/1.png", "/img/2.png", "/img/3.png"},
	}
	return Build("sess-1", database.StatusCompleted, "cfg-hash",
		telemetry.Metrics{FilesScanned: 9, FilesHashed: 7, ErrorsTotal: 1},
		[]string{"strict_mode_threshold_exceeded"}, results)
}

func TestBuildMetaCounts(t *testing.T) {
	payload := samplePayload()

	if payload.Meta.Groups != 4 {
		t.Errorf("Groups = %d, want 4", payload.Meta.Groups)
	}
	if payload.Meta.Files != 9 {
		t.Errorf("Files = %d, want 9", payload.Meta.Files)
	}
	if payload.Meta.Folders != 1 {
		t.Errorf("Folders = %d, want 1", payload.Meta.Folders)
	}
	if payload.Meta.ScanStatus != database.StatusCompleted {
		t.Errorf("ScanStatus = %s, want completed", payload.Meta.ScanStatus)
	}
	if payload.Meta.GeneratedAt.IsZero() {
		t.Error("GeneratedAt not set")
	}
}

func TestWriteAndReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "results.json")
	payload := samplePayload()

	if err := WriteFile(path, payload); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	loaded, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	if loaded.Meta.SessionID != payload.Meta.SessionID {
		t.Errorf("SessionID = %s, want %s", loaded.Meta.SessionID, payload.Meta.SessionID)
	}
	if loaded.Meta.Metrics.FilesScanned != 9 {
		t.Errorf("FilesScanned = %d, want 9", loaded.Meta.Metrics.FilesScanned)
	}
	if len(loaded.Results) != len(payload.Results) {
		t.Fatalf("loaded %d groups, want %d", len(loaded.Results), len(payload.Results))
	}
	for key, members := range payload.Results {
		got := loaded.Results[key]
		if len(got) != len(members) {
			t.Errorf("group %s: %v, want %v", key, got, members)
		}
	}
}

func TestWriteLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.json")
	if err := WriteFile(path, samplePayload()); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "results.json" {
		t.Errorf("directory holds %v, want only results.json", entries)
	}
}

func TestParseLegacyFlatMap(t *testing.T) {
	data := []byte(`{
		"content:abc": ["/a", "/b"],
		"name:x.txt": ["/c/x.txt", "/d/x.txt"]
	}`)

	payload, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if payload.Meta.Source != "legacy" {
		t.Errorf("Source = %s, want legacy", payload.Meta.Source)
	}
	if len(payload.Results) != 2 {
		t.Fatalf("parsed %d groups, want 2", len(payload.Results))
	}
	if got := payload.Results["content:abc"]; len(got) != 2 || got[0] != "/a" {
		t.Errorf("group content:abc = %v", got)
	}
}

func TestParseRejectsMalformedLegacy(t *testing.T) {
	if _, err := Parse([]byte(`{"key": "not a list"}`)); err == nil {
		t.Error("Parse() accepted a legacy group whose value is not a path list")
	}
	if _, err := Parse([]byte(`[1, 2, 3]`)); err == nil {
		t.Error("Parse() accepted a non-object payload")
	}
}

func TestSortedKeys(t *testing.T) {
	payload := samplePayload()
	keys := payload.SortedKeys()
	if len(keys) != 4 {
		t.Fatalf("SortedKeys() returned %d keys, want 4", len(keys))
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Errorf("keys not sorted: %v", keys)
		}
	}
}
