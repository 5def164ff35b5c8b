package config

import (
	"reflect"
	"testing"
)

func TestNormalizeExtensions(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"mixed case and dots", []string{".TXT", "TXT", ".txt", "txt"}, []string{"txt"}},
		{"sorted output", []string{"mp4", "avi", "MKV"}, []string{"avi", "mkv", "mp4"}},
		{"empty tokens dropped", []string{"", ".", "  ", "jpg"}, []string{"jpg"}},
		{"nil input", nil, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeExtensions(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NormalizeExtensions(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestScanConfigValidate(t *testing.T) {
	valid := DefaultScan()
	valid.Roots = []string{"/data"}

	tests := []struct {
		name    string
		mutate  func(*ScanConfig)
		wantErr bool
	}{
		{"valid", func(sc *ScanConfig) {}, false},
		{"no roots", func(sc *ScanConfig) { sc.Roots = nil }, true},
		{"blank root", func(sc *ScanConfig) { sc.Roots = []string{"  "} }, true},
		{"negative min size", func(sc *ScanConfig) { sc.MinSize = -1 }, true},
		{"unknown mode", func(sc *ScanConfig) { sc.Mode = "fuzzy" }, true},
		{"missing mode", func(sc *ScanConfig) { sc.Mode = "" }, true},
		{"similarity zero rejected", func(sc *ScanConfig) { sc.SimilarImage = true; sc.Similarity = 0.0 }, true},
		{"similarity above one rejected", func(sc *ScanConfig) { sc.SimilarImage = true; sc.Similarity = 1.5 }, true},
		{"similarity one allowed", func(sc *ScanConfig) { sc.SimilarImage = true; sc.Similarity = 1.0 }, false},
		{"similarity ignored without image mode", func(sc *ScanConfig) { sc.Similarity = 0.0 }, false},
		{"negative strict threshold", func(sc *ScanConfig) { sc.StrictMaxErrors = -1 }, true},
		{"zero workers", func(sc *ScanConfig) { sc.MaxWorkers = 0 }, true},
		{"bad pattern", func(sc *ScanConfig) { sc.IncludePatterns = []string{"[unclosed"} }, true},
		{"incremental without baseline", func(sc *ScanConfig) { sc.IncrementalRescan = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := valid
			sc.Roots = append([]string{}, valid.Roots...)
			tt.mutate(&sc)
			err := sc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigHashInvariance(t *testing.T) {
	base := DefaultScan()
	base.Roots = []string{"/data/photos", "/data/music"}
	base.Extensions = []string{"jpg", "png"}
	base.IncludePatterns = []string{"*.bak", "*.tmp"}

	reordered := base
	reordered.Roots = []string{"/data/music", "/data/photos"}
	reordered.Extensions = []string{".PNG", "JPG"}
	reordered.IncludePatterns = []string{"*.tmp", " *.bak "}

	if base.Hash() != reordered.Hash() {
		t.Errorf("reordered config hashed differently: %s vs %s", base.Hash(), reordered.Hash())
	}

	changed := base
	changed.MinSize = 4096
	if base.Hash() == changed.Hash() {
		t.Error("config with different min_size produced the same hash")
	}
}

func TestConfigHashExcludesUIOnlyOptions(t *testing.T) {
	base := DefaultScan()
	base.Roots = []string{"/data"}

	tweaked := base
	tweaked.MaxWorkers = 2
	tweaked.StrictMode = true
	tweaked.StrictMaxErrors = 5
	tweaked.BaselineSession = "abc"

	if base.Hash() != tweaked.Hash() {
		t.Error("worker/strict/baseline options changed the config hash")
	}
}

func TestHammingRadius(t *testing.T) {
	tests := []struct {
		similarity float64
		want       int
	}{
		{1.0, 0},
		{0.9, 6},
		{0.5, 32},
	}

	for _, tt := range tests {
		sc := ScanConfig{Similarity: tt.similarity}
		if got := sc.HammingRadius(); got != tt.want {
			t.Errorf("HammingRadius(%v) = %d, want %d", tt.similarity, got, tt.want)
		}
	}
}

func TestCanonicalJSONRoundTrip(t *testing.T) {
	sc := DefaultScan()
	sc.Roots = []string{"/data"}
	sc.Extensions = []string{".TXT"}

	data, err := sc.CanonicalJSON()
	if err != nil {
		t.Fatalf("CanonicalJSON() error = %v", err)
	}

	parsed, err := ParseScanConfig(data)
	if err != nil {
		t.Fatalf("ParseScanConfig() error = %v", err)
	}

	if !reflect.DeepEqual(parsed.Extensions, []string{"txt"}) {
		t.Errorf("round-tripped extensions = %v, want [txt]", parsed.Extensions)
	}
	if parsed.Hash() != sc.Hash() {
		t.Error("round-tripped config hashed differently")
	}
}
