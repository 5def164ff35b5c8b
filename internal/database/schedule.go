package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ScheduledJob is a recurring scan definition
type ScheduledJob struct {
	ID           string
	Name         string
	ConfigJSON   string
	ScheduleType string
	Weekday      int
	TimeHHMM     string
	Enabled      bool
	LastRunAt    *time.Time
	CreatedAt    time.Time
}

// ScheduledRun records one execution of a scheduled job
type ScheduledRun struct {
	ID         string
	JobID      string
	SessionID  string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
}

// CreateScheduledJob inserts a new job definition
func (db *DB) CreateScheduledJob(job *ScheduledJob) error {
	enabled := 0
	if job.Enabled {
		enabled = 1
	}
	_, err := db.conn.Exec(`
		INSERT INTO scheduled_jobs (id, name, config_json, schedule_type, weekday, time_hhmm, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.ConfigJSON, job.ScheduleType, job.Weekday, job.TimeHHMM, enabled, job.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create scheduled job: %w", err)
	}
	return nil
}

// ListScheduledJobs returns all job definitions
func (db *DB) ListScheduledJobs() ([]*ScheduledJob, error) {
	rows, err := db.conn.Query(`
		SELECT id, name, config_json, schedule_type, weekday, time_hhmm, enabled, last_run_at, created_at
		FROM scheduled_jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		var (
			j         ScheduledJob
			enabled   int
			lastRun   sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&j.ID, &j.Name, &j.ConfigJSON, &j.ScheduleType, &j.Weekday, &j.TimeHHMM, &enabled, &lastRun, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan scheduled job row: %w", err)
		}
		j.Enabled = enabled != 0
		if lastRun.Valid {
			t := time.Unix(lastRun.Int64, 0)
			j.LastRunAt = &t
		}
		j.CreatedAt = time.Unix(createdAt, 0)
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// SetJobLastRun records the moment a job was last started
func (db *DB) SetJobLastRun(jobID string, at time.Time) error {
	_, err := db.conn.Exec(`UPDATE scheduled_jobs SET last_run_at = ? WHERE id = ?`, at.Unix(), jobID)
	if err != nil {
		return fmt.Errorf("failed to set job last run: %w", err)
	}
	return nil
}

// DeleteScheduledJob removes a job and its run history
func (db *DB) DeleteScheduledJob(jobID string) error {
	_, err := db.conn.Exec(`DELETE FROM scheduled_jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled job: %w", err)
	}
	return nil
}

// StartScheduledRun records the start of one job execution
func (db *DB) StartScheduledRun(run *ScheduledRun) error {
	_, err := db.conn.Exec(`
		INSERT INTO scheduled_runs (id, job_id, session_id, started_at, status)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.JobID, run.SessionID, run.StartedAt.Unix(), run.Status)
	if err != nil {
		return fmt.Errorf("failed to start scheduled run: %w", err)
	}
	return nil
}

// FinishScheduledRun records the completion of a job execution
func (db *DB) FinishScheduledRun(runID, status string, finishedAt time.Time) error {
	_, err := db.conn.Exec(`
		UPDATE scheduled_runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, finishedAt.Unix(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish scheduled run: %w", err)
	}
	return nil
}

// LastScheduledRun returns the most recent run for a job, or nil
func (db *DB) LastScheduledRun(jobID string) (*ScheduledRun, error) {
	var (
		r         ScheduledRun
		sessionID sql.NullString
		started   int64
		finished  sql.NullInt64
	)
	err := db.conn.QueryRow(`
		SELECT id, job_id, session_id, started_at, finished_at, status
		FROM scheduled_runs WHERE job_id = ? ORDER BY started_at DESC LIMIT 1`, jobID).
		Scan(&r.ID, &r.JobID, &sessionID, &started, &finished, &r.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last scheduled run: %w", err)
	}
	r.SessionID = sessionID.String
	r.StartedAt = time.Unix(started, 0)
	if finished.Valid {
		t := time.Unix(finished.Int64, 0)
		r.FinishedAt = &t
	}
	return &r, nil
}
