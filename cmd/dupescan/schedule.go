package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/twbeatles/dupescan/internal/config"
	"github.com/twbeatles/dupescan/internal/database"
	"github.com/twbeatles/dupescan/internal/engine"
	"github.com/twbeatles/dupescan/internal/schedule"
)

func newScheduleCmd() *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring scan jobs",
	}

	addCmd := &cobra.Command{
		Use:   "add NAME [roots...]",
		Short: "Register a recurring scan job",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runScheduleAdd,
	}
	addCmd.Flags().String("type", schedule.TypeDaily, "Schedule type (daily, weekly)")
	addCmd.Flags().Int("weekday", 0, "Weekday for weekly jobs (0=Monday .. 6=Sunday)")
	addCmd.Flags().String("time", "03:00", "Slot time of day (HH:MM)")
	addCmd.Flags().String("scan-config", "", "Load the scan configuration from a JSON file")
	addCmd.Flags().Bool("disabled", false, "Register the job without enabling it")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE:  runScheduleList,
	}

	rmCmd := &cobra.Command{
		Use:   "rm JOB_ID",
		Short: "Delete a scheduled job and its run history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := db.DeleteScheduledJob(args[0]); err != nil {
				return err
			}
			log.Printf("Deleted job %s", args[0])
			return nil
		},
	}

	runDueCmd := &cobra.Command{
		Use:   "run-due",
		Short: "Run every enabled job whose slot has passed since its last run",
		RunE:  runScheduleDue,
	}

	scheduleCmd.AddCommand(addCmd, listCmd, rmCmd, runDueCmd)
	return scheduleCmd
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	sc := config.DefaultScan()
	if path, _ := cmd.Flags().GetString("scan-config"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read scan config: %w", err)
		}
		sc, err = config.ParseScanConfig(string(data))
		if err != nil {
			return fmt.Errorf("failed to parse scan config: %w", err)
		}
	}
	if len(args) > 1 {
		sc.Roots = args[1:]
	}
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("invalid scan configuration: %w", err)
	}

	configJSON, err := json.Marshal(sc.Normalized())
	if err != nil {
		return fmt.Errorf("failed to encode scan config: %w", err)
	}

	scheduleType, _ := cmd.Flags().GetString("type")
	if scheduleType != schedule.TypeDaily && scheduleType != schedule.TypeWeekly {
		return fmt.Errorf("unknown schedule type %q", scheduleType)
	}
	weekday, _ := cmd.Flags().GetInt("weekday")
	if weekday < 0 || weekday > 6 {
		return fmt.Errorf("weekday must be 0 (Monday) through 6 (Sunday)")
	}
	slot, _ := cmd.Flags().GetString("time")
	disabled, _ := cmd.Flags().GetBool("disabled")

	job := &database.ScheduledJob{
		ID:           uuid.New().String(),
		Name:         args[0],
		ConfigJSON:   string(configJSON),
		ScheduleType: scheduleType,
		Weekday:      weekday,
		TimeHHMM:     slot,
		Enabled:      !disabled,
		CreatedAt:    time.Now(),
	}
	if err := db.CreateScheduledJob(job); err != nil {
		return err
	}
	log.Printf("Registered job %s (%s)", job.Name, job.ID)
	return nil
}

func jobSpec(job *database.ScheduledJob) schedule.Spec {
	return schedule.Spec{
		Enabled:  job.Enabled,
		Type:     job.ScheduleType,
		Weekday:  job.Weekday,
		TimeHHMM: job.TimeHHMM,
	}
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	jobs, err := db.ListScheduledJobs()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No scheduled jobs")
		return nil
	}

	now := time.Now()
	fmt.Printf("%-36s  %-16s  %-7s  %-5s  %-8s  %-16s  %s\n",
		"ID", "NAME", "TYPE", "TIME", "ENABLED", "LAST RUN", "NEXT RUN")
	for _, job := range jobs {
		lastRun := "never"
		if job.LastRunAt != nil {
			lastRun = job.LastRunAt.Format("2006-01-02 15:04")
		}
		nextRun := "-"
		if next, ok := jobSpec(job).NextRun(now); ok {
			nextRun = next.Format("2006-01-02 15:04")
		}
		fmt.Printf("%-36s  %-16s  %-7s  %-5s  %-8t  %-16s  %s\n",
			job.ID, job.Name, job.ScheduleType, job.TimeHHMM, job.Enabled, lastRun, nextRun)
	}
	return nil
}

func runScheduleDue(cmd *cobra.Command, args []string) error {
	jobs, err := db.ListScheduledJobs()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	now := time.Now()
	ran := 0
	for _, job := range jobs {
		if !jobSpec(job).IsDue(job.LastRunAt, now) {
			continue
		}
		if err := runScheduledJob(ctx, job); err != nil {
			log.Printf("Job %s failed: %v", job.Name, err)
		}
		ran++
		if ctx.Err() != nil {
			break
		}
	}
	if ran == 0 {
		log.Println("No jobs due")
	}
	return nil
}

func runScheduledJob(ctx context.Context, job *database.ScheduledJob) error {
	sc, err := config.ParseScanConfig(job.ConfigJSON)
	if err != nil {
		return fmt.Errorf("stored config is unreadable: %w", err)
	}

	if err := db.SetJobLastRun(job.ID, time.Now()); err != nil {
		return err
	}

	run := &database.ScheduledRun{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		StartedAt: time.Now(),
		Status:    database.StatusRunning,
	}

	log.Printf("Running job %s (%s)", job.Name, job.ID)
	result, scanErr := engine.New(db, cfg).Run(ctx, sc, engine.Callbacks{
		OnStageChange: func(stage string) { log.Printf("[%s] stage: %s", job.Name, stage) },
	})

	// The run row is written once the session id is known
	status := database.StatusFailed
	if scanErr == nil {
		status = result.Status
		run.SessionID = result.SessionID
	}
	if err := db.StartScheduledRun(run); err != nil {
		return err
	}
	if err := db.FinishScheduledRun(run.ID, status, time.Now()); err != nil {
		return err
	}
	return scanErr
}
