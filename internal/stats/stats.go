package stats

import (
	"fmt"
	"strings"
	"time"

	"github.com/twbeatles/dupescan/internal/database"
)

// Stats summarizes the duplicate findings of one session
type Stats struct {
	TotalFiles       int64
	TotalSize        int64
	DuplicateGroups  int64
	DuplicateFiles   int64
	ReclaimableBytes int64
	GroupsByKind     map[string]int64
}

// Calculator derives statistics from the session tables
type Calculator struct {
	db *database.DB
}

// NewCalculator creates a new stats calculator
func NewCalculator(db *database.DB) *Calculator {
	return &Calculator{db: db}
}

// Calculate computes statistics for one session
func (c *Calculator) Calculate(sessionID string) (*Stats, error) {
	stats := &Stats{
		GroupsByKind: make(map[string]int64),
	}

	if err := c.calculateTotals(sessionID, stats); err != nil {
		return nil, fmt.Errorf("failed to calculate totals: %w", err)
	}

	if err := c.calculateGroups(sessionID, stats); err != nil {
		return nil, fmt.Errorf("failed to calculate groups: %w", err)
	}

	return stats, nil
}

func (c *Calculator) calculateTotals(sessionID string, stats *Stats) error {
	query := `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM scan_files WHERE session_id = ?`
	return c.db.Conn().QueryRow(query, sessionID).Scan(&stats.TotalFiles, &stats.TotalSize)
}

func (c *Calculator) calculateGroups(sessionID string, stats *Stats) error {
	// Reclaimable space keeps one copy per group: (count - 1) * file size
	query := `
		SELECT COUNT(*), COALESCE(SUM(members), 0), COALESCE(SUM(savings), 0)
		FROM (
			SELECT
				r.group_key,
				COUNT(*) AS members,
				(COUNT(*) - 1) * COALESCE(MAX(f.size), 0) AS savings
			FROM scan_results r
			LEFT JOIN scan_files f ON f.session_id = r.session_id AND f.path = r.path
			WHERE r.session_id = ?
			GROUP BY r.group_key
		)
	`
	if err := c.db.Conn().QueryRow(query, sessionID).Scan(&stats.DuplicateGroups, &stats.DuplicateFiles, &stats.ReclaimableBytes); err != nil {
		return err
	}

	rows, err := c.db.Conn().Query(`
		SELECT DISTINCT group_key FROM scan_results WHERE session_id = ?`, sessionID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		kind := key
		if i := strings.IndexByte(key, ':'); i >= 0 {
			kind = key[:i]
		}
		stats.GroupsByKind[kind]++
	}
	return rows.Err()
}

// FormatSize formats a size in bytes to a human-readable string
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"KB", "MB", "GB", "TB", "PB"}
	return fmt.Sprintf("%.2f %s", float64(bytes)/float64(div), units[exp])
}

// FormatDuration renders a duration with second precision
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.Round(time.Second).String()
}
