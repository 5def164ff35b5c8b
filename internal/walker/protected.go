package walker

import (
	"path/filepath"
	"runtime"
	"strings"
)

// unixProtectedPaths are system directories never scanned when root
// protection is enabled
var unixProtectedPaths = []string{
	"/bin", "/sbin", "/usr/bin", "/usr/sbin", "/etc",
	"/proc", "/sys", "/dev", "/boot",
}

// windowsProtectedPaths are the Windows system directories, matched on
// the path component level; the drive component is compared too, so
// only the C: drive is protected
var windowsProtectedPaths = []string{
	`C:\Windows`, `C:\Program Files`, `C:\Program Files (x86)`, `C:\ProgramData`,
}

// IsProtectedPath reports whether path is inside a protected system
// directory. Matching compares whole path components, so a sibling whose
// name merely extends a protected one (e.g. /etc2) does not match.
func IsProtectedPath(path string) bool {
	var protected []string
	if runtime.GOOS == "windows" {
		protected = windowsProtectedPaths
	} else {
		protected = unixProtectedPaths
	}

	target := splitComponents(path)
	for _, p := range protected {
		if hasComponentPrefix(target, splitComponents(p)) {
			return true
		}
	}
	return false
}

// splitComponents normalizes a path into lowercase components
func splitComponents(path string) []string {
	clean := filepath.Clean(path)
	clean = strings.ReplaceAll(clean, "\\", "/")
	parts := strings.Split(clean, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, strings.ToLower(part))
	}
	return out
}

// hasComponentPrefix reports whether target starts with all of prefix's
// components
func hasComponentPrefix(target, prefix []string) bool {
	if len(prefix) == 0 || len(target) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if target[i] != p {
			return false
		}
	}
	return true
}
