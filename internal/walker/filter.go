package walker

import (
	"path/filepath"
	"strings"

	"github.com/twbeatles/dupescan/internal/config"
)

// systemFiles is the small OS-metadata set dropped by the hidden/system
// predicate, matched case-insensitively
var systemFiles = map[string]struct{}{
	"thumbs.db":   {},
	"desktop.ini": {},
	".ds_store":   {},
}

// IsHiddenOrSystem reports whether a name is dot-prefixed or one of the
// known OS metadata files
func IsHiddenOrSystem(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, ok := systemFiles[strings.ToLower(name)]
	return ok
}

// Filter applies the four candidate gates in order: minimum size,
// extension allow-list, include patterns, exclude patterns. Patterns are
// fnmatch-style globs applied to both the basename and the
// slash-normalized full path. Compiled once per scan.
type Filter struct {
	minSize    int64
	extensions map[string]struct{}
	include    []string
	exclude    []string
	skipHidden bool
}

// NewFilter compiles the filter from a normalized scan configuration
func NewFilter(sc config.ScanConfig) *Filter {
	f := &Filter{
		minSize:    sc.MinSize,
		include:    append([]string{}, sc.IncludePatterns...),
		exclude:    append([]string{}, sc.ExcludePatterns...),
		skipHidden: sc.SkipHidden,
	}
	if len(sc.Extensions) > 0 {
		f.extensions = make(map[string]struct{}, len(sc.Extensions))
		for _, ext := range config.NormalizeExtensions(sc.Extensions) {
			f.extensions[ext] = struct{}{}
		}
	}
	return f
}

// SkipHidden reports whether hidden/system entries are dropped
func (f *Filter) SkipHidden() bool {
	return f.skipHidden
}

// Match reports whether a candidate passes all gates
func (f *Filter) Match(path, name string, size int64) bool {
	if size < f.minSize {
		return false
	}

	if f.extensions != nil {
		ext := config.NormalizeExtension(filepath.Ext(name))
		if _, ok := f.extensions[ext]; !ok {
			return false
		}
	}

	if len(f.include) > 0 && !matchAny(f.include, path, name) {
		return false
	}
	if matchAny(f.exclude, path, name) {
		return false
	}

	return true
}

// matchAny reports whether any pattern matches the basename or the
// slash-normalized full path
func matchAny(patterns []string, path, name string) bool {
	slashPath := filepath.ToSlash(path)
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, slashPath); ok {
			return true
		}
	}
	return false
}
