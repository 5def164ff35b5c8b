package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/twbeatles/dupescan/internal/config"
	"github.com/twbeatles/dupescan/internal/constants"
	"github.com/twbeatles/dupescan/internal/database"
	"github.com/twbeatles/dupescan/internal/groups"
	"github.com/twbeatles/dupescan/internal/phash"
	"github.com/twbeatles/dupescan/internal/scanner"
	"github.com/twbeatles/dupescan/internal/telemetry"
	"github.com/twbeatles/dupescan/internal/walker"
)

// ErrCancelled reports that a scan was cancelled by the caller. The
// session is left paused and resumable; this is never a failure.
var ErrCancelled = errors.New("scan cancelled")

// WarningStrictBreach is appended when strict mode demotes a scan
const WarningStrictBreach = "strict_mode_threshold_exceeded"

// Callbacks receives progress and stage notifications during a run.
// Either callback may be nil.
type Callbacks struct {
	OnProgress    func(percent float64, message string)
	OnStageChange func(stage string)
}

// Result is the outcome of a finished scan
type Result struct {
	SessionID  string
	Status     string
	ConfigHash string
	Groups     map[string][]string
	Metrics    telemetry.Metrics
	Warnings   []string
	Delta      *Delta
}

// Completion is the single terminal event of one run: exactly one of
// finished (Result set), cancelled, or failed (Err set)
type Completion struct {
	Result    *Result
	Cancelled bool
	Err       error
}

// Engine drives the staged scan pipeline: collect, quick hash, full
// hash, group, optional folder and image stages, finalize. Between
// stages it checkpoints cancellation; a cancelled run persists a paused
// session, never a completed one.
type Engine struct {
	db     *database.DB
	appCfg *config.Config
}

// New creates an engine over the shared store
func New(db *database.DB, appCfg *config.Config) *Engine {
	return &Engine{db: db, appCfg: appCfg}
}

// stage weights map within-stage progress onto the overall percent
var stageSpans = map[string][2]float64{
	database.StageCollect:      {0, 15},
	database.StageQuickHash:    {15, 40},
	database.StageFullHash:     {40, 70},
	database.StageGroup:        {70, 80},
	database.StageFolderDup:    {80, 85},
	database.StageSimilarImage: {85, 97},
	database.StageFinalize:     {97, 100},
}

var stageOrder = []string{
	database.StageCollect,
	database.StageQuickHash,
	database.StageFullHash,
	database.StageGroup,
	database.StageFolderDup,
	database.StageSimilarImage,
	database.StageFinalize,
}

func stageIndex(stage string) int {
	for i, s := range stageOrder {
		if s == stage {
			return i
		}
	}
	return 0
}

// run carries the mutable state of one scan attempt
type run struct {
	engine   *Engine
	ctx      context.Context
	cfg      config.ScanConfig
	cb       Callbacks
	session  *database.Session
	counters *telemetry.Counters
	progress *scanner.Progress

	files    []walker.FileRecord
	partials map[string]string
	fulls    map[string]string
	results  map[string][]string
	warnings []string

	stage   string
	resumed bool

	uiLimiter *rate.Limiter
	dbLimiter *rate.Limiter

	mu          sync.Mutex
	lastPercent float64
}

// Start launches Run in a goroutine and returns a channel that delivers
// exactly one completion event
func (e *Engine) Start(ctx context.Context, sc config.ScanConfig, cb Callbacks) <-chan Completion {
	done := make(chan Completion, 1)
	go func() {
		result, err := e.Run(ctx, sc, cb)
		switch {
		case errors.Is(err, ErrCancelled):
			done <- Completion{Cancelled: true}
		case err != nil:
			done <- Completion{Err: err}
		default:
			done <- Completion{Result: result}
		}
	}()
	return done
}

// Run executes one scan to completion, resuming a matching paused
// session when one exists. Returns ErrCancelled when the context is
// cancelled; the session is then paused at the interrupted stage.
func (e *Engine) Run(ctx context.Context, sc config.ScanConfig, cb Callbacks) (*Result, error) {
	if sc.MaxWorkers == 0 {
		sc.MaxWorkers = e.appCfg.ScanWorkers
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scan config: %w", err)
	}
	sc = sc.Normalized()

	configHash := sc.Hash()
	configJSON, err := sc.CanonicalJSON()
	if err != nil {
		return nil, err
	}

	r := &run{
		engine:    e,
		ctx:       ctx,
		cfg:       sc,
		cb:        cb,
		counters:  telemetry.NewCounters(),
		progress:  scanner.NewProgress(),
		partials:  make(map[string]string),
		fulls:     make(map[string]string),
		results:   make(map[string][]string),
		uiLimiter: rate.NewLimiter(rate.Every(constants.UIProgressIntervalMS*time.Millisecond), 1),
		dbLimiter: rate.NewLimiter(rate.Every(constants.DBProgressIntervalMS*time.Millisecond), 1),
	}
	defer r.progress.Stop()

	startStage := database.StageCollect
	if resumable, err := e.db.FindResumable(configHash); err != nil {
		return nil, err
	} else if resumable != nil {
		r.session = resumable
		r.resumed = true
		startStage = resumable.Stage
		if err := e.db.SetSessionStatus(resumable.ID, database.StatusRunning); err != nil {
			return nil, err
		}
	}
	if r.session == nil {
		session, err := e.db.CreateSession(uuid.NewString(), configJSON, configHash)
		if err != nil {
			return nil, err
		}
		r.session = session
	}

	if err := r.execute(startStage); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
			// The interrupted stage stays recorded so resume re-enters it
			if dbErr := e.db.SetSessionStatus(r.session.ID, database.StatusPaused); dbErr != nil {
				return nil, fmt.Errorf("failed to pause session: %w", dbErr)
			}
			return nil, ErrCancelled
		}
		if dbErr := e.db.SetSessionStatus(r.session.ID, database.StatusFailed); dbErr != nil {
			return nil, fmt.Errorf("failed to mark session failed: %w (after: %v)", dbErr, err)
		}
		return nil, err
	}

	return r.finalResult()
}

// execute drives the stage sequence from startStage, checkpointing
// cancellation at every boundary
func (r *run) execute(startStage string) error {
	start := stageIndex(startStage)

	// Earlier stages were replayed from the session store; reload the
	// file set the skipped collect stage would have produced
	if start > stageIndex(database.StageCollect) {
		files, err := r.engine.db.LoadSessionFiles(r.session.ID)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("resume replay yielded no files")
		}
		r.files = sessionToRecords(files)
	}

	for _, stage := range stageOrder[start:] {
		// The stage is recorded before the cancellation check so an
		// interrupt at the boundary resumes at the stage about to run,
		// not the one already finished
		if err := r.enterStage(stage); err != nil {
			return err
		}
		if err := r.ctx.Err(); err != nil {
			return err
		}

		var err error
		switch stage {
		case database.StageCollect:
			err = r.collect()
		case database.StageQuickHash:
			err = r.quickHash()
		case database.StageFullHash:
			err = r.fullHash()
		case database.StageGroup:
			err = r.group()
		case database.StageFolderDup:
			err = r.folderDup()
		case database.StageSimilarImage:
			err = r.similarImage()
		case database.StageFinalize:
			err = r.finalize()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// enterStage records and announces the stage about to run
func (r *run) enterStage(stage string) error {
	r.stage = stage
	r.progress.SetPhase(stage)
	if err := r.engine.db.SetSessionStage(r.session.ID, stage); err != nil {
		return err
	}
	if r.cb.OnStageChange != nil {
		r.cb.OnStageChange(stage)
	}
	r.emitProgress(true)
	return nil
}

// collect walks the roots and fixes the session's file set
func (r *run) collect() error {
	if r.resumed {
		files, err := r.engine.db.LoadSessionFiles(r.session.ID)
		if err != nil {
			return err
		}
		if len(files) > 0 {
			r.files = sessionToRecords(files)
			return nil
		}
	}

	filter := walker.NewFilter(r.cfg)
	w := walker.New(filter, r.counters, r.cfg.FollowSymlinks, r.cfg.ProtectSystem, func(msg string) {
		r.warnings = append(r.warnings, msg)
		r.progress.Log(msg)
	})

	out := make(chan walker.FileRecord, constants.DefaultMaxWorkers*constants.QueueSizeMultiplier)
	walkErr := make(chan error, 1)
	go func() {
		walkErr <- w.Walk(r.ctx, r.cfg.Roots, out)
		close(out)
	}()

	for record := range out {
		r.files = append(r.files, record)
		r.progress.IncrementFiles(record.Size)
		r.emitProgress(false)
	}
	if err := <-walkErr; err != nil {
		return err
	}

	return r.engine.db.AddSessionFiles(r.session.ID, recordsToSession(r.files))
}

// quickHash runs the partial-hash pass over exact-size groups
func (r *run) quickHash() error {
	if r.cfg.Mode == config.ModeNameOnly {
		return nil
	}

	known, err := r.loadKnown(database.HashTypePartial)
	if err != nil {
		return err
	}

	pipeline := scanner.NewPipeline(r.engine.db, r.counters, r.progress, r.cfg.MaxWorkers, r.fileDone)
	sessionBatch := r.engine.db.NewSessionHashBatch(r.session.ID)

	r.partials, err = pipeline.PartialPass(r.ctx, scanner.SizeCandidates(r.files), known, sessionBatch)
	return err
}

// fullHash runs the full-content pass over surviving (size, partial)
// classes
func (r *run) fullHash() error {
	if r.cfg.Mode == config.ModeNameOnly {
		return nil
	}

	if len(r.partials) == 0 && r.resumed {
		known, err := r.loadKnown(database.HashTypePartial)
		if err != nil {
			return err
		}
		r.partials = make(map[string]string, len(known))
		for path, h := range known {
			r.partials[path] = h.Hash
		}
	}

	known, err := r.loadKnown(database.HashTypeFull)
	if err != nil {
		return err
	}

	pipeline := scanner.NewPipeline(r.engine.db, r.counters, r.progress, r.cfg.MaxWorkers, r.fileDone)
	sessionBatch := r.engine.db.NewSessionHashBatch(r.session.ID)

	candidates := scanner.PartialCandidates(scanner.SizeCandidates(r.files), r.partials)
	r.fulls, err = pipeline.FullPass(r.ctx, candidates, known, sessionBatch)
	return err
}

// group builds the primary duplicate groups for the configured mode
func (r *run) group() error {
	if len(r.fulls) == 0 && r.resumed && r.cfg.Mode != config.ModeNameOnly {
		known, err := r.loadKnown(database.HashTypeFull)
		if err != nil {
			return err
		}
		r.fulls = make(map[string]string, len(known))
		for path, h := range known {
			r.fulls[path] = h.Hash
		}
	}

	builder := groups.NewBuilder(r.cfg.Mode, r.cfg.ByteVerify)
	for _, g := range builder.Build(r.files, r.fulls) {
		r.results[g.Key.Encode()] = g.Members
	}
	r.emitProgress(true)
	return nil
}

// folderDup aggregates fingerprints into directory manifests
func (r *run) folderDup() error {
	if !r.cfg.DetectFolderDup || r.cfg.Mode == config.ModeNameOnly {
		return nil
	}

	detector := groups.NewFolderDetector(r.cfg.FolderDupRecursive, r.cfg.Roots)
	folderGroups, sigs := detector.Detect(r.files, r.fulls)
	for _, g := range folderGroups {
		r.results[g.Key.Encode()] = g.Members
	}

	persisted := make(map[string][2]string, len(sigs))
	for dir, sig := range sigs {
		persisted[dir] = [2]string{sig, sig}
	}
	if err := r.engine.db.SaveFolderSigs(r.session.ID, persisted); err != nil {
		return err
	}
	r.emitProgress(true)
	return nil
}

// similarImage clusters near-duplicate images through the metric tree
func (r *run) similarImage() error {
	if !r.cfg.SimilarImage && !r.cfg.MixedMode {
		return nil
	}

	grouper := phash.NewGrouper(r.counters, r.progress, r.cfg.MaxWorkers, r.cfg.HammingRadius(), r.fileDone)
	clusters, err := grouper.Cluster(r.ctx, r.files)
	if err != nil {
		return err
	}
	for _, g := range clusters {
		r.results[g.Key.Encode()] = g.Members
	}
	return nil
}

// finalize persists results, applies strict-mode policy and settles the
// terminal status
func (r *run) finalize() error {
	if err := r.engine.db.ReplaceSessionResults(r.session.ID, r.results); err != nil {
		return err
	}

	status := database.StatusCompleted
	if r.cfg.StrictMode && r.counters.ErrorsTotal.Load() > int64(r.cfg.StrictMaxErrors) {
		status = database.StatusPartial
		r.warnings = append(r.warnings, WarningStrictBreach)
	}

	if err := r.engine.db.UpdateSessionProgress(r.session.ID, 100, "done"); err != nil {
		return err
	}
	if err := r.engine.db.SetSessionStatus(r.session.ID, status); err != nil {
		return err
	}
	r.session.Status = status

	if r.cb.OnProgress != nil {
		r.cb.OnProgress(100, "done")
	}
	return nil
}

// finalResult assembles the Result after a successful finalize
func (r *run) finalResult() (*Result, error) {
	result := &Result{
		SessionID:  r.session.ID,
		Status:     r.session.Status,
		ConfigHash: r.session.ConfigHash,
		Groups:     r.results,
		Metrics:    r.counters.Snapshot(),
		Warnings:   r.warnings,
	}

	if r.cfg.IncrementalRescan && r.cfg.BaselineSession != "" {
		delta, err := r.engine.classifyAgainstBaseline(r.cfg.BaselineSession, r.files)
		if err != nil {
			return nil, err
		}
		result.Delta = delta
	}
	return result, nil
}

// loadKnown returns hashes persisted for this session by an interrupted
// run; a fresh session has none
func (r *run) loadKnown(hashType string) (map[string]database.SessionHash, error) {
	if !r.resumed {
		return nil, nil
	}
	return r.engine.db.LoadSessionHashes(r.session.ID, hashType)
}

// fileDone is the per-task hook wired into the hash pipeline
func (r *run) fileDone() {
	r.emitProgress(false)
}

// emitProgress maps within-stage progress onto the overall percent and
// emits through both throttles. Percent is monotonically non-decreasing;
// forced emissions bypass the UI throttle at stage boundaries.
func (r *run) emitProgress(force bool) {
	span := stageSpans[r.stage]
	snapshot := r.progress.GetSnapshot()
	percent := span[0] + (span[1]-span[0])*snapshot.PercentComplete/100

	r.mu.Lock()
	if percent < r.lastPercent {
		percent = r.lastPercent
	}
	r.lastPercent = percent
	r.mu.Unlock()

	message := r.stage

	if r.cb.OnProgress != nil && (force || r.uiLimiter.Allow()) {
		r.cb.OnProgress(percent, message)
	}
	if force || r.dbLimiter.Allow() {
		// Progress persistence is best-effort; a failed write never
		// aborts a stage
		_ = r.engine.db.UpdateSessionProgress(r.session.ID, percent, message)
	}
}

// sessionToRecords converts persisted session files back to walker
// records for stage replay
func sessionToRecords(files []database.SessionFile) []walker.FileRecord {
	out := make([]walker.FileRecord, len(files))
	for i, f := range files {
		out[i] = walker.FileRecord{Path: f.Path, Size: f.Size, ModTime: f.ModTime, DeviceID: f.DeviceID, Inode: f.Inode}
	}
	return out
}

func recordsToSession(files []walker.FileRecord) []database.SessionFile {
	out := make([]database.SessionFile, len(files))
	for i, f := range files {
		out[i] = database.SessionFile{Path: f.Path, Size: f.Size, ModTime: f.ModTime, DeviceID: f.DeviceID, Inode: f.Inode}
	}
	return out
}
