package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/twbeatles/dupescan/internal/config"
	"github.com/twbeatles/dupescan/internal/database"
	"github.com/twbeatles/dupescan/internal/disk"
	"github.com/twbeatles/dupescan/internal/engine"
	"github.com/twbeatles/dupescan/internal/export"
	"github.com/twbeatles/dupescan/internal/stats"
	"github.com/twbeatles/dupescan/internal/telemetry"
	"github.com/twbeatles/dupescan/internal/walker"
)

var (
	// Version is set at build time
	Version = "dev"

	// Global flags
	configPath string
	dbPath     string
	cfg        *config.Config
	db         *database.DB
)

func main() {
	// Ensure database is closed even on panic
	defer func() {
		if r := recover(); r != nil {
			if db != nil {
				db.Close()
			}
			panic(r)
		}
	}()

	rootCmd := &cobra.Command{
		Use:   "dupescan",
		Short: "Dupescan - Find duplicate files, folders and similar images",
		Long: `Dupescan walks directory trees and groups duplicate files by
content, content and name, or name only. It can also detect duplicate
folders by manifest and cluster visually similar images. Scans are
resumable: a cancelled scan leaves a paused session that a rerun with
the same configuration picks up where it stopped.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if dbPath != "" {
				cfg.DatabasePath = dbPath
			}

			db, err = database.NewWithConfig(cfg.DatabasePath, database.DBConfig{
				MaxOpenConns:    cfg.DBMaxOpenConns,
				MaxIdleConns:    cfg.DBMaxIdleConns,
				ConnMaxLifetime: cfg.DBConnMaxLifetime,
			})
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}

			// Sessions left running by a crashed process become paused
			// and resumable
			if paused, err := db.PauseStaleSessions(); err != nil {
				log.Printf("Warning: failed to pause stale sessions: %v", err)
			} else if paused > 0 {
				log.Printf("Paused %d stale session(s) from a previous process", paused)
			}

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if db != nil {
				return db.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the scan database (overrides config)")

	rootCmd.AddCommand(
		newScanCmd(),
		newSessionsCmd(),
		newExportCmd(),
		newPlanCmd(),
		newScheduleCmd(),
		newSweepCmd(),
		newEmptyFoldersCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newScanCmd() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan [roots...]",
		Short: "Run a duplicate scan over one or more root directories",
		RunE:  runScan,
	}
	flags := scanCmd.Flags()
	flags.String("mode", config.ModeContent, "Grouping mode (content, content_and_name, name_only)")
	flags.String("min-size", "0", "Skip files smaller than this size (accepts '4MB', '10G', plain bytes)")
	flags.StringSlice("ext", nil, "Only scan files with these extensions")
	flags.StringSlice("include", nil, "Glob patterns a path must match")
	flags.StringSlice("exclude", nil, "Glob patterns that exclude a path")
	flags.Bool("follow-symlinks", false, "Follow symbolic links")
	flags.Bool("skip-hidden", false, "Skip hidden files and directories")
	flags.Bool("protect-system", true, "Skip well-known system directories")
	flags.Bool("byte-verify", false, "Byte-compare content groups before reporting")
	flags.Bool("mixed", false, "Combine exact and similar-image grouping")
	flags.Bool("folder-dup", false, "Detect duplicate folders by manifest")
	flags.Bool("folder-dup-recursive", false, "Include subtree contents in folder manifests")
	flags.Bool("similar-image", false, "Cluster visually similar images")
	flags.Float64("similarity", 0.9, "Similarity threshold for image clustering (0..1)")
	flags.Bool("strict", false, "Demote the scan to partial when errors exceed the threshold")
	flags.Int("strict-max-errors", 0, "Error budget for strict mode")
	flags.IntP("workers", "w", 0, "Worker pool size (0 uses the configured default)")
	flags.Bool("incremental", false, "Classify files against a baseline session")
	flags.String("baseline", "", "Baseline session id for incremental classification")
	flags.String("scan-config", "", "Load the scan configuration from a JSON file")
	flags.Bool("resume", false, "Require a matching paused session and resume it")
	flags.String("export", "", "Write results to this file when the scan finishes")
	return scanCmd
}

// scanConfigFromFlags assembles the scan configuration, starting from
// --scan-config when given and overlaying explicit flags
func scanConfigFromFlags(cmd *cobra.Command, args []string) (config.ScanConfig, error) {
	sc := config.DefaultScan()

	if path, _ := cmd.Flags().GetString("scan-config"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return sc, fmt.Errorf("failed to read scan config: %w", err)
		}
		sc, err = config.ParseScanConfig(string(data))
		if err != nil {
			return sc, fmt.Errorf("failed to parse scan config: %w", err)
		}
	}

	if len(args) > 0 {
		sc.Roots = args
	}

	flags := cmd.Flags()
	if flags.Changed("mode") {
		sc.Mode, _ = flags.GetString("mode")
	}
	if flags.Changed("min-size") {
		raw, _ := flags.GetString("min-size")
		minSize, err := disk.ParseSize(raw)
		if err != nil {
			return sc, fmt.Errorf("invalid --min-size: %w", err)
		}
		sc.MinSize = minSize
	}
	if flags.Changed("ext") {
		sc.Extensions, _ = flags.GetStringSlice("ext")
	}
	if flags.Changed("include") {
		sc.IncludePatterns, _ = flags.GetStringSlice("include")
	}
	if flags.Changed("exclude") {
		sc.ExcludePatterns, _ = flags.GetStringSlice("exclude")
	}
	if flags.Changed("follow-symlinks") {
		sc.FollowSymlinks, _ = flags.GetBool("follow-symlinks")
	}
	if flags.Changed("skip-hidden") {
		sc.SkipHidden, _ = flags.GetBool("skip-hidden")
	}
	if flags.Changed("protect-system") {
		sc.ProtectSystem, _ = flags.GetBool("protect-system")
	}
	if flags.Changed("byte-verify") {
		sc.ByteVerify, _ = flags.GetBool("byte-verify")
	}
	if flags.Changed("mixed") {
		sc.MixedMode, _ = flags.GetBool("mixed")
	}
	if flags.Changed("folder-dup") {
		sc.DetectFolderDup, _ = flags.GetBool("folder-dup")
	}
	if flags.Changed("folder-dup-recursive") {
		sc.FolderDupRecursive, _ = flags.GetBool("folder-dup-recursive")
	}
	if flags.Changed("similar-image") {
		sc.SimilarImage, _ = flags.GetBool("similar-image")
	}
	if flags.Changed("similarity") {
		sc.Similarity, _ = flags.GetFloat64("similarity")
	}
	if flags.Changed("strict") {
		sc.StrictMode, _ = flags.GetBool("strict")
	}
	if flags.Changed("strict-max-errors") {
		sc.StrictMaxErrors, _ = flags.GetInt("strict-max-errors")
	}
	if flags.Changed("workers") {
		sc.MaxWorkers, _ = flags.GetInt("workers")
	}
	if flags.Changed("incremental") {
		sc.IncrementalRescan, _ = flags.GetBool("incremental")
	}
	if flags.Changed("baseline") {
		sc.BaselineSession, _ = flags.GetString("baseline")
	}

	return sc, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	sc, err := scanConfigFromFlags(cmd, args)
	if err != nil {
		return err
	}

	if resume, _ := cmd.Flags().GetBool("resume"); resume {
		sc = sc.Normalized()
		resumable, err := db.FindResumable(sc.Hash())
		if err != nil {
			return fmt.Errorf("failed to look up paused sessions: %w", err)
		}
		if resumable == nil {
			return fmt.Errorf("no paused session matches this configuration")
		}
		log.Printf("Resuming session %s at stage %s", resumable.ID, resumable.Stage)
	}

	// Session rows and hash caches land on the database volume; warn
	// before scanning into a nearly full disk
	if space, err := disk.Space(cfg.DatabasePath); err == nil && space.UsedPercent > 95 {
		log.Printf("Warning: database volume is %.1f%% full (%s free)",
			space.UsedPercent, stats.FormatSize(space.FreeBytes))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(db, cfg)
	callbacks := engine.Callbacks{
		OnStageChange: func(stage string) {
			log.Printf("Stage: %s", stage)
		},
		OnProgress: func(percent float64, message string) {
			log.Printf("Progress: %5.1f%% %s", percent, message)
		},
	}

	result, err := eng.Run(ctx, sc, callbacks)
	if err != nil {
		if errors.Is(err, engine.ErrCancelled) {
			log.Println("Scan cancelled; session paused and resumable")
			return nil
		}
		return fmt.Errorf("scan failed: %w", err)
	}

	printScanSummary(result)

	if out, _ := cmd.Flags().GetString("export"); out != "" {
		payload := export.Build(result.SessionID, result.Status, result.ConfigHash,
			result.Metrics, result.Warnings, result.Groups)
		if err := export.WriteFile(out, payload); err != nil {
			return fmt.Errorf("failed to export results: %w", err)
		}
		log.Printf("Exported %d group(s) to %s", len(result.Groups), out)
	}

	return nil
}

func printScanSummary(result *engine.Result) {
	statistics, err := stats.NewCalculator(db).Calculate(result.SessionID)
	if err != nil {
		log.Printf("Warning: failed to calculate stats: %v", err)
		statistics = &stats.Stats{}
	}

	fmt.Printf("\n=== Scan Summary ===\n\n")
	fmt.Printf("Session:           %s\n", result.SessionID)
	fmt.Printf("Status:            %s\n", result.Status)
	fmt.Printf("Files Scanned:     %d\n", result.Metrics.FilesScanned)
	fmt.Printf("Files Hashed:      %d\n", result.Metrics.FilesHashed)
	fmt.Printf("Duplicate Groups:  %d\n", statistics.DuplicateGroups)
	fmt.Printf("Duplicate Files:   %d\n", statistics.DuplicateFiles)
	fmt.Printf("Reclaimable:       %s\n", stats.FormatSize(statistics.ReclaimableBytes))
	if result.Metrics.ErrorsTotal > 0 {
		fmt.Printf("Errors:            %d (%d locked)\n",
			result.Metrics.ErrorsTotal, result.Metrics.FilesSkippedLocked)
	}
	for _, warning := range result.Warnings {
		fmt.Printf("Warning:           %s\n", warning)
	}
	if result.Delta != nil {
		fmt.Printf("\nBaseline delta:    %d new, %d changed, %d revalidated, %d missing\n",
			len(result.Delta.New), len(result.Delta.Changed),
			len(result.Delta.Revalidated), len(result.Delta.Missing))
	}
	fmt.Println()
}

func newSessionsCmd() *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage scan sessions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE:  runSessionsList,
	}
	listCmd.Flags().IntP("limit", "n", 20, "Maximum number of sessions to show")

	gcCmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete old sessions, keeping the most recent ones",
		RunE:  runSessionsGC,
	}
	gcCmd.Flags().Int("keep", 0, "Number of sessions to keep (0 uses the configured default)")

	sessionsCmd.AddCommand(listCmd, gcCmd)
	return sessionsCmd
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	sessions, err := db.ListSessions(limit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions")
		return nil
	}

	fmt.Printf("%-36s  %-9s  %-13s  %7s  %s\n", "ID", "STATUS", "STAGE", "PCT", "CREATED")
	for _, s := range sessions {
		fmt.Printf("%-36s  %-9s  %-13s  %6.1f%%  %s\n",
			s.ID, s.Status, s.Stage, s.Progress, s.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runSessionsGC(cmd *cobra.Command, args []string) error {
	keep, _ := cmd.Flags().GetInt("keep")
	if keep <= 0 {
		keep = cfg.KeepSessions
	}
	deleted, err := db.CleanupOldSessions(keep)
	if err != nil {
		return fmt.Errorf("failed to clean up sessions: %w", err)
	}
	log.Printf("Deleted %d old session(s), kept the %d most recent", deleted, keep)
	return nil
}

func newExportCmd() *cobra.Command {
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the results of a stored session",
		RunE:  runExportSession,
	}
	exportCmd.Flags().String("session", "", "Session id to export (default: latest completed or partial)")
	exportCmd.Flags().StringP("out", "o", "", "Output file (default: stdout)")
	return exportCmd
}

func runExportSession(cmd *cobra.Command, args []string) error {
	sessionID, _ := cmd.Flags().GetString("session")
	session, err := resolveFinishedSession(sessionID)
	if err != nil {
		return err
	}

	results, err := db.LoadSessionResults(session.ID)
	if err != nil {
		return fmt.Errorf("failed to load session results: %w", err)
	}

	// Counters are not persisted per session; a stored export carries
	// zero metrics
	payload := export.Build(session.ID, session.Status, session.ConfigHash,
		telemetry.Metrics{}, nil, results)

	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}
	if err := export.WriteFile(out, payload); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	log.Printf("Exported %d group(s) to %s", len(results), out)
	return nil
}

func newSweepCmd() *cobra.Command {
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete fingerprint cache entries not seen recently",
		RunE:  runSweep,
	}
	sweepCmd.Flags().Int("age-days", 0, "Delete entries older than this many days (0 uses the configured default)")
	return sweepCmd
}

func runSweep(cmd *cobra.Command, args []string) error {
	ageDays, _ := cmd.Flags().GetInt("age-days")
	if ageDays <= 0 {
		ageDays = cfg.FingerprintMaxAgeDays
	}

	before, err := db.CountFingerprints()
	if err != nil {
		return fmt.Errorf("failed to count fingerprints: %w", err)
	}
	deleted, err := db.SweepFingerprints(ageDays)
	if err != nil {
		return fmt.Errorf("failed to sweep fingerprints: %w", err)
	}
	log.Printf("Swept %d of %d fingerprint(s) older than %d day(s)", deleted, before, ageDays)
	return nil
}

func newEmptyFoldersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "empty-folders ROOT [ROOT...]",
		Short: "List recursively empty directories under the given roots",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runEmptyFolders,
	}
}

func runEmptyFolders(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	total := 0
	for _, root := range args {
		dirs, err := walker.FindEmptyDirs(ctx, root)
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("failed to walk %s: %w", root, err)
		}
		for _, dir := range dirs {
			fmt.Println(dir)
		}
		total += len(dirs)
		if ctx.Err() != nil {
			log.Println("Interrupted; results are partial")
			break
		}
	}
	log.Printf("Found %d empty folder(s) under %s", total, strings.Join(args, ", "))
	return nil
}
