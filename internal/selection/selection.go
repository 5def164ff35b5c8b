package selection

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Rule actions
const (
	ActionKeep   = "keep"
	ActionDelete = "delete"
)

// Rule is one ordered keep/delete pattern. Patterns are fnmatch-style
// globs matched against both the slash-normalized full path and the
// basename.
type Rule struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Action  string `yaml:"action" json:"action"`
}

// Matches reports whether the rule applies to the path
func (r Rule) Matches(path string) bool {
	if r.Pattern == "" {
		return false
	}
	pattern := filepath.ToSlash(filepath.Clean(r.Pattern))
	candidate := filepath.ToSlash(filepath.Clean(path))
	if ok, _ := filepath.Match(pattern, candidate); ok {
		return true
	}
	ok, _ := filepath.Match(pattern, filepath.Base(candidate))
	return ok
}

// ParseRules filters a rule list down to well-formed entries,
// preserving order. Unknown actions and empty patterns are dropped.
func ParseRules(raw []Rule) []Rule {
	out := make([]Rule, 0, len(raw))
	for _, r := range raw {
		pattern := strings.TrimSpace(r.Pattern)
		action := strings.ToLower(strings.TrimSpace(r.Action))
		if pattern == "" {
			continue
		}
		if action != ActionKeep && action != ActionDelete {
			continue
		}
		out = append(out, Rule{Pattern: pattern, Action: action})
	}
	return out
}

// Decision partitions one duplicate group into files to keep and files
// to delete
type Decision struct {
	Keep   []string
	Delete []string
}

// mtimeOf returns the file's modification time in seconds, or zero when
// the file cannot be statted
func mtimeOf(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().Unix()
}

// keepOldest picks the path with the smallest mtime, ties broken by
// path order
func keepOldest(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	best := sorted[0]
	bestMtime := mtimeOf(best)
	for _, p := range sorted[1:] {
		if mt := mtimeOf(p); mt < bestMtime {
			best = p
			bestMtime = mt
		}
	}
	return best
}

// Decide applies the ordered rules to one group. First matching rule
// wins per path. Any explicit keep match protects those paths and marks
// the rest for deletion; without explicit keeps one survivor is chosen,
// preferring the oldest path not explicitly marked for deletion. A
// group is never deleted in its entirety.
func Decide(paths []string, rules []Rule) Decision {
	members := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			members = append(members, p)
		}
	}

	keep := make(map[string]struct{})
	del := make(map[string]struct{})
	for _, p := range members {
		for _, rule := range rules {
			if !rule.Matches(p) {
				continue
			}
			if rule.Action == ActionKeep {
				keep[p] = struct{}{}
			} else {
				del[p] = struct{}{}
			}
			break
		}
	}

	if len(keep) > 0 {
		// Explicit keeps protect their paths; everything else goes,
		// unless that would leave nothing to delete at all
		if len(keep) == len(members) {
			return Decision{Keep: sortedSlice(keep)}
		}
		d := Decision{Keep: sortedSlice(keep)}
		for _, p := range members {
			if _, ok := keep[p]; !ok {
				d.Delete = append(d.Delete, p)
			}
		}
		sort.Strings(d.Delete)
		return d
	}

	pool := make([]string, 0, len(members))
	for _, p := range members {
		if _, ok := del[p]; !ok {
			pool = append(pool, p)
		}
	}
	if len(pool) == 0 {
		pool = members
	}

	survivor := keepOldest(pool)
	d := Decision{}
	if survivor != "" {
		d.Keep = []string{survivor}
	}
	for _, p := range members {
		if p != survivor {
			d.Delete = append(d.Delete, p)
		}
	}
	sort.Strings(d.Delete)
	return d
}

func sortedSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
