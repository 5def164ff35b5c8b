package walker

import (
	"context"
	"os"
	"path/filepath"
	"sort"
)

// FindEmptyDirs walks root bottom-up and returns every directory that
// contains no files and whose subdirectories are all empty themselves.
// On cancellation the directories found so far are returned alongside
// the context error.
func FindEmptyDirs(ctx context.Context, root string) ([]string, error) {
	empty := make(map[string]bool)
	var out []string

	err := walkEmptyDirs(ctx, root, empty, &out)
	sort.Strings(out)
	return out, err
}

// walkEmptyDirs reports into empty whether dir is empty, appending empty
// directories to out in discovery order
func walkEmptyDirs(ctx context.Context, dir string, empty map[string]bool, out *[]string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		// Unreadable directories are conservatively treated as non-empty
		empty[dir] = false
		return nil
	}

	isEmpty := true
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := walkEmptyDirs(ctx, path, empty, out); err != nil {
				return err
			}
			if !empty[path] {
				isEmpty = false
			}
			continue
		}
		isEmpty = false
	}

	empty[dir] = isEmpty
	if isEmpty {
		*out = append(*out, dir)
	}
	return nil
}
