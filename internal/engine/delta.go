package engine

import (
	"fmt"
	"sort"

	"github.com/twbeatles/dupescan/internal/database"
	"github.com/twbeatles/dupescan/internal/walker"
)

// Delta classifies the current file set against a baseline session.
// Paths appear in exactly one bucket.
type Delta struct {
	New         []string `json:"new"`
	Changed     []string `json:"changed"`
	Revalidated []string `json:"revalidated"`
	Missing     []string `json:"missing"`
}

// classifyAgainstBaseline compares the collected files with the file set
// of a prior completed session. The (size, mtime) witness decides
// changed vs revalidated; only completed sessions may serve as
// baselines.
func (e *Engine) classifyAgainstBaseline(baselineID string, files []walker.FileRecord) (*Delta, error) {
	session, err := e.db.GetSession(baselineID)
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("baseline session %s not found", baselineID)
	}
	if session.Status != database.StatusCompleted {
		return nil, fmt.Errorf("baseline session %s has status %q, want %q", baselineID, session.Status, database.StatusCompleted)
	}

	baseline, err := e.db.LoadSessionFiles(baselineID)
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline files: %w", err)
	}

	prior := make(map[string]database.SessionFile, len(baseline))
	for _, f := range baseline {
		prior[f.Path] = f
	}

	delta := &Delta{}
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		seen[f.Path] = struct{}{}
		old, ok := prior[f.Path]
		switch {
		case !ok:
			delta.New = append(delta.New, f.Path)
		case old.Size != f.Size || old.ModTime != f.ModTime:
			delta.Changed = append(delta.Changed, f.Path)
		default:
			delta.Revalidated = append(delta.Revalidated, f.Path)
		}
	}

	for path := range prior {
		if _, ok := seen[path]; !ok {
			delta.Missing = append(delta.Missing, path)
		}
	}

	sort.Strings(delta.New)
	sort.Strings(delta.Changed)
	sort.Strings(delta.Revalidated)
	sort.Strings(delta.Missing)
	return delta, nil
}
