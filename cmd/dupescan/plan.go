package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/twbeatles/dupescan/internal/database"
	"github.com/twbeatles/dupescan/internal/selection"
)

func newPlanCmd() *cobra.Command {
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Apply keep/delete rules to a session's duplicate groups",
		Long: `Plan evaluates ordered keep/delete rules against every duplicate
group of a finished session and prints which files would be kept and
which would be deleted. Nothing is removed; at least one member of
every group always survives.`,
		RunE: runPlan,
	}
	planCmd.Flags().String("session", "", "Session id to plan against (default: latest completed or partial)")
	planCmd.Flags().String("rules", "", "YAML file with ordered {pattern, action} rules")
	planCmd.Flags().Bool("deletes-only", false, "Print only the files marked for deletion")
	planCmd.Flags().Bool("save", false, "Record the decisions as the session's selection")
	return planCmd
}

func loadRules(path string) ([]selection.Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var raw []selection.Rule
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	return selection.ParseRules(raw), nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	sessionID, _ := cmd.Flags().GetString("session")
	session, err := resolveFinishedSession(sessionID)
	if err != nil {
		return err
	}

	rulesPath, _ := cmd.Flags().GetString("rules")
	rules, err := loadRules(rulesPath)
	if err != nil {
		return err
	}

	results, err := db.LoadSessionResults(session.ID)
	if err != nil {
		return fmt.Errorf("failed to load session results: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("No duplicate groups in this session")
		return nil
	}

	keys := make([]string, 0, len(results))
	for key := range results {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	deletesOnly, _ := cmd.Flags().GetBool("deletes-only")
	save, _ := cmd.Flags().GetBool("save")
	totalDeletes := 0
	for _, key := range keys {
		decision := selection.Decide(results[key], rules)
		totalDeletes += len(decision.Delete)

		if save {
			for _, path := range decision.Delete {
				if err := db.SetSelected(session.ID, path, true); err != nil {
					return fmt.Errorf("failed to save selection: %w", err)
				}
			}
			for _, path := range decision.Keep {
				if err := db.SetSelected(session.ID, path, false); err != nil {
					return fmt.Errorf("failed to save selection: %w", err)
				}
			}
		}

		if deletesOnly {
			for _, path := range decision.Delete {
				fmt.Println(path)
			}
			continue
		}

		fmt.Printf("%s\n", key)
		for _, path := range decision.Keep {
			fmt.Printf("  keep    %s\n", path)
		}
		for _, path := range decision.Delete {
			fmt.Printf("  delete  %s\n", path)
		}
	}

	if !deletesOnly {
		fmt.Printf("\n%d group(s), %d file(s) marked for deletion\n", len(keys), totalDeletes)
	}
	return nil
}

// resolveFinishedSession returns the named session or, when id is
// empty, the most recent completed or partial one
func resolveFinishedSession(id string) (*database.Session, error) {
	if id != "" {
		session, err := db.GetSession(id)
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		if session.Status != database.StatusCompleted && session.Status != database.StatusPartial {
			return nil, fmt.Errorf("session %s has status %q; only finished sessions can be planned", session.ID, session.Status)
		}
		return session, nil
	}

	sessions, err := db.ListSessions(50)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, s := range sessions {
		if s.Status == database.StatusCompleted || s.Status == database.StatusPartial {
			return s, nil
		}
	}
	return nil, fmt.Errorf("no finished session found")
}
