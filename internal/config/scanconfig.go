package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/twbeatles/dupescan/internal/constants"
)

// Scan modes
const (
	ModeContent        = "content"
	ModeContentAndName = "content_and_name"
	ModeNameOnly       = "name_only"
)

// ScanConfig describes one scan request. It is validated and normalized
// before a session is created; the normalized projection feeds the config
// hash used for resume and baseline matching.
type ScanConfig struct {
	Roots           []string `yaml:"roots" json:"roots"`
	MinSize         int64    `yaml:"min_size" json:"min_size"`
	Extensions      []string `yaml:"extensions" json:"extensions"`
	IncludePatterns []string `yaml:"include_patterns" json:"include_patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns" json:"exclude_patterns"`
	ProtectSystem   bool     `yaml:"protect_system" json:"protect_system"`
	FollowSymlinks  bool     `yaml:"follow_symlinks" json:"follow_symlinks"`
	SkipHidden      bool     `yaml:"skip_hidden" json:"skip_hidden"`

	Mode       string `yaml:"mode" json:"mode"`
	ByteVerify bool   `yaml:"byte_verify" json:"byte_verify"`
	MixedMode  bool   `yaml:"mixed_mode" json:"mixed_mode"`

	DetectFolderDup    bool `yaml:"detect_folder_dup" json:"detect_folder_dup"`
	FolderDupRecursive bool `yaml:"folder_dup_recursive" json:"folder_dup_recursive"`

	SimilarImage bool    `yaml:"similar_image" json:"similar_image"`
	Similarity   float64 `yaml:"similarity" json:"similarity"`

	IncrementalRescan bool   `yaml:"incremental_rescan" json:"incremental_rescan"`
	BaselineSession   string `yaml:"baseline_session" json:"baseline_session"`

	StrictMode      bool `yaml:"strict_mode" json:"strict_mode"`
	StrictMaxErrors int  `yaml:"strict_max_errors" json:"strict_max_errors"`

	MaxWorkers int `yaml:"max_workers" json:"max_workers"`
}

// DefaultScan returns a scan configuration with sensible defaults applied
func DefaultScan() ScanConfig {
	return ScanConfig{
		Mode:       ModeContent,
		Similarity: 0.9,
		MaxWorkers: constants.DefaultMaxWorkers,
	}
}

// NormalizeExtension canonicalizes one extension token to a lowercase,
// dot-stripped form so ".TXT", "TXT", ".txt" and "txt" all compare equal
func NormalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// NormalizeExtensions canonicalizes, deduplicates and sorts a set of
// extension tokens. Empty tokens are dropped.
func NormalizeExtensions(exts []string) []string {
	seen := make(map[string]struct{}, len(exts))
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		n := NormalizeExtension(e)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// normalizePatterns trims, deduplicates and sorts glob patterns
func normalizePatterns(patterns []string) []string {
	seen := make(map[string]struct{}, len(patterns))
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		t := strings.TrimSpace(p)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Validate checks the scan configuration. Errors here refuse the run
// synchronously; nothing is persisted for an invalid request.
func (sc *ScanConfig) Validate() error {
	if len(sc.Roots) == 0 {
		return fmt.Errorf("at least one root is required")
	}
	for _, root := range sc.Roots {
		if strings.TrimSpace(root) == "" {
			return fmt.Errorf("empty root path")
		}
	}
	if sc.MinSize < 0 {
		return fmt.Errorf("min_size must be non-negative, got %d", sc.MinSize)
	}
	switch sc.Mode {
	case ModeContent, ModeContentAndName, ModeNameOnly:
	case "":
		return fmt.Errorf("mode is required")
	default:
		return fmt.Errorf("unknown mode %q", sc.Mode)
	}
	if sc.SimilarImage || sc.MixedMode {
		if sc.Similarity <= 0.0 || sc.Similarity > 1.0 {
			return fmt.Errorf("similarity must be in (0.0, 1.0], got %v", sc.Similarity)
		}
	}
	if sc.StrictMaxErrors < 0 {
		return fmt.Errorf("strict_max_errors must be non-negative, got %d", sc.StrictMaxErrors)
	}
	if sc.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1, got %d", sc.MaxWorkers)
	}
	for _, p := range append(append([]string{}, sc.IncludePatterns...), sc.ExcludePatterns...) {
		if _, err := filepath.Match(strings.TrimSpace(p), "probe"); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", p, err)
		}
	}
	if sc.IncrementalRescan && sc.BaselineSession == "" {
		return fmt.Errorf("incremental_rescan requires a baseline_session")
	}
	return nil
}

// Normalized returns a copy with roots absolutized and sorted, extensions
// canonicalized and patterns trimmed. Semantically equivalent requests
// normalize to identical values.
func (sc ScanConfig) Normalized() ScanConfig {
	out := sc
	out.Roots = make([]string, 0, len(sc.Roots))
	for _, root := range sc.Roots {
		abs, err := filepath.Abs(filepath.Clean(root))
		if err != nil {
			abs = filepath.Clean(root)
		}
		out.Roots = append(out.Roots, abs)
	}
	sort.Strings(out.Roots)
	out.Extensions = NormalizeExtensions(sc.Extensions)
	out.IncludePatterns = normalizePatterns(sc.IncludePatterns)
	out.ExcludePatterns = normalizePatterns(sc.ExcludePatterns)
	return out
}

// HammingRadius maps the similarity value onto a Hamming distance over
// the 64-bit perceptual hash. 1.0 requires an exact match.
func (sc *ScanConfig) HammingRadius() int {
	return int(math.Round((1.0 - sc.Similarity) * float64(constants.PerceptualHashBits)))
}

// canonicalProjection is the subset of fields that feed the config hash.
// Options that do not change the result set (worker count, strict-mode
// policy, baseline selection) are excluded so that resumable sessions
// match across UI tweaks.
type canonicalProjection struct {
	Roots           []string `json:"roots"`
	MinSize         int64    `json:"min_size"`
	Extensions      []string `json:"extensions"`
	IncludePatterns []string `json:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns"`
	ProtectSystem   bool     `json:"protect_system"`
	FollowSymlinks  bool     `json:"follow_symlinks"`
	SkipHidden      bool     `json:"skip_hidden"`
	Mode            string   `json:"mode"`
	ByteVerify      bool     `json:"byte_verify"`
	MixedMode       bool     `json:"mixed_mode"`
	DetectFolderDup bool     `json:"detect_folder_dup"`
	FolderRecursive bool     `json:"folder_dup_recursive"`
	SimilarImage    bool     `json:"similar_image"`
	Similarity      float64  `json:"similarity"`
}

// Hash returns the config hash over the canonical projection of the
// normalized configuration, as lowercase hex.
func (sc ScanConfig) Hash() string {
	n := sc.Normalized()
	proj := canonicalProjection{
		Roots:           n.Roots,
		MinSize:         n.MinSize,
		Extensions:      n.Extensions,
		IncludePatterns: n.IncludePatterns,
		ExcludePatterns: n.ExcludePatterns,
		ProtectSystem:   n.ProtectSystem,
		FollowSymlinks:  n.FollowSymlinks,
		SkipHidden:      n.SkipHidden,
		Mode:            n.Mode,
		ByteVerify:      n.ByteVerify,
		MixedMode:       n.MixedMode,
		DetectFolderDup: n.DetectFolderDup,
		FolderRecursive: n.FolderDupRecursive,
		SimilarImage:    n.SimilarImage,
		Similarity:      n.Similarity,
	}
	data, err := json.Marshal(proj)
	if err != nil {
		// Marshalling a plain struct of strings and scalars cannot fail
		panic(err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:constants.HashSizeBytes])
}

// CanonicalJSON serializes the normalized configuration; sessions persist
// this form so that a reloaded session replays with identical semantics
func (sc ScanConfig) CanonicalJSON() (string, error) {
	n := sc.Normalized()
	data, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("failed to marshal scan config: %w", err)
	}
	return string(data), nil
}

// ParseScanConfig decodes a persisted normalized scan configuration
func ParseScanConfig(data string) (ScanConfig, error) {
	var sc ScanConfig
	if err := json.Unmarshal([]byte(data), &sc); err != nil {
		return ScanConfig{}, fmt.Errorf("failed to parse scan config: %w", err)
	}
	return sc, nil
}
