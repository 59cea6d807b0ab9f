package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tjbishop07/autoteller/api/schemas"
	"github.com/tjbishop07/autoteller/internal/playback"
)

const (
	// politenessInterval spaces out recordings within a batch so the target
	// sites never see back-to-back automated sessions.
	politenessInterval = 2 * time.Second
	pageCloseTimeout   = 10 * time.Second
	finishWriteTimeout = 5 * time.Second
)

// ErrBatchInProgress is returned when a manual playback request arrives while
// a batch run holds the page.
var ErrBatchInProgress = errors.New("a batch run is already in progress")

// PlayerFactory builds a player bound to the current stored settings. The
// scheduler re-reads settings at the start of every batch, so confidence and
// retry changes take effect without a restart.
type PlayerFactory func(settings schemas.Settings) schemas.Player

// Deps are the collaborators the scheduler drives. All of them are interfaces
// so batch behavior is testable without a browser or database.
type Deps struct {
	Logger     *zap.Logger
	Recordings schemas.RecordingStore
	Settings   schemas.SettingsStore
	Runs       schemas.RunLogStore
	Pages      schemas.PageOpener
	NewPlayer  PlayerFactory
	// Limiter overrides the politeness pacing. Nil gets the default one
	// recording per politenessInterval.
	Limiter *rate.Limiter
}

// Scheduler runs the stored recordings sequentially, either on a cron trigger
// or on demand. At most one batch runs at a time; the isRunning guard is the
// only concurrency control playback needs because recordings never share a
// page.
type Scheduler struct {
	logger     *zap.Logger
	recordings schemas.RecordingStore
	settings   schemas.SettingsStore
	runs       schemas.RunLogStore
	pages      schemas.PageOpener
	newPlayer  PlayerFactory
	limiter    *rate.Limiter
	cron       *cron.Cron

	mu               sync.Mutex
	entryID          cron.EntryID
	scheduled        bool
	expression       string
	isRunning        bool
	currentRecording string
	lastRunAt        *time.Time
}

// NewScheduler creates a stopped scheduler. Arm it with Start or
// InitFromSettings.
func NewScheduler(d Deps) *Scheduler {
	limiter := d.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(politenessInterval), 1)
	}
	return &Scheduler{
		logger:     d.Logger.Named("scheduler"),
		recordings: d.Recordings,
		settings:   d.Settings,
		runs:       d.Runs,
		pages:      d.Pages,
		newPlayer:  d.NewPlayer,
		limiter:    limiter,
		cron:       cron.New(),
	}
}

// ValidateExpression checks a 5-field cron expression without arming
// anything.
func ValidateExpression(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid schedule expression %q: %w", expr, err)
	}
	return nil
}

// Start validates the 5-field cron expression and arms the recurring trigger.
// An invalid expression changes no state.
func (s *Scheduler) Start(expr string) error {
	if err := ValidateExpression(expr); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduled {
		s.cron.Remove(s.entryID)
		s.scheduled = false
	}

	id, err := s.cron.AddFunc(expr, s.fire)
	if err != nil {
		return fmt.Errorf("failed to arm schedule %q: %w", expr, err)
	}
	s.entryID = id
	s.scheduled = true
	s.expression = expr
	s.cron.Start()

	s.logger.Info("Scheduler armed.", zap.String("expression", expr))
	return nil
}

// Stop disarms the schedule. Safe to call repeatedly and while stopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduled {
		s.cron.Remove(s.entryID)
		s.scheduled = false
		s.expression = ""
		s.logger.Info("Scheduler disarmed.")
	}
	s.cron.Stop()
}

// InitFromSettings arms the scheduler from the stored settings when the
// schedule is enabled. A bad stored expression leaves the scheduler stopped
// rather than failing process startup.
func (s *Scheduler) InitFromSettings(ctx context.Context) error {
	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if !settings.ScheduleEnabled {
		s.logger.Info("Schedule disabled, scheduler dormant.")
		return nil
	}
	if err := s.Start(settings.ScheduleCron); err != nil {
		s.logger.Warn("Stored schedule expression is invalid, scheduler left stopped.",
			zap.String("expression", settings.ScheduleCron), zap.Error(err))
	}
	return nil
}

// fire is the cron callback.
func (s *Scheduler) fire() {
	if err := s.RunAll(context.Background()); err != nil {
		s.logger.Error("Scheduled batch run failed.", zap.Error(err))
	}
}

// RunAll plays every stored recording in name order. One recording's failure
// is logged and recorded but never aborts the batch. A second RunAll while
// one is in flight is a logged no-op.
func (s *Scheduler) RunAll(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		s.logger.Warn("Batch already in progress, skipping run.")
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.currentRecording = ""
		s.mu.Unlock()
	}()

	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	recs, err := s.recordings.ListRecordings(ctx)
	if err != nil {
		return fmt.Errorf("failed to list recordings: %w", err)
	}
	// The store orders by name already; sort again so batch order never
	// depends on it.
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })

	s.logger.Info("Starting batch run.", zap.Int("recordings", len(recs)))

	succeeded, failed := 0, 0
	for _, rec := range recs {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("batch aborted: %w", err)
		}
		if err := s.playOne(ctx, settings, rec); err != nil {
			failed++
			s.logger.Error("Recording failed, continuing batch.",
				zap.String("recording", rec.Name), zap.Error(err))
			continue
		}
		succeeded++
	}

	now := time.Now()
	s.mu.Lock()
	s.lastRunAt = &now
	s.mu.Unlock()

	s.logger.Info("Batch run complete.",
		zap.Int("succeeded", succeeded), zap.Int("failed", failed))
	return nil
}

// PlayRecording plays a single stored recording by name, through the same
// guard as the batch path.
func (s *Scheduler) PlayRecording(ctx context.Context, name string) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		s.logger.Warn("Batch in progress, refusing manual playback.",
			zap.String("recording", name))
		return ErrBatchInProgress
	}
	s.isRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.currentRecording = ""
		s.mu.Unlock()
	}()

	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	rec, err := s.recordings.GetRecording(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load recording %q: %w", name, err)
	}
	return s.playOne(ctx, settings, *rec)
}

// playOne opens a fresh page, replays one recording on it, and writes the run
// history entry. The page is always closed, even on failure.
func (s *Scheduler) playOne(ctx context.Context, settings schemas.Settings, rec schemas.Recording) (err error) {
	s.mu.Lock()
	s.currentRecording = rec.Name
	s.mu.Unlock()

	run := &schemas.RunRecord{
		RecordingID:   rec.ID,
		RecordingName: rec.Name,
		Status:        schemas.RunRunning,
		StepsTotal:    len(rec.Steps),
		StartedAt:     time.Now(),
	}
	// Run history is diagnostics; a write failure must not block playback.
	if insErr := s.runs.InsertRun(ctx, run); insErr != nil {
		s.logger.Warn("Failed to record run start.",
			zap.String("recording", rec.Name), zap.Error(insErr))
	}
	defer func() { s.finishRun(run, err) }()

	pg, err := s.pages.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), pageCloseTimeout)
		defer cancel()
		if closeErr := pg.Close(closeCtx); closeErr != nil {
			s.logger.Warn("Failed to close page after playback.",
				zap.String("recording", rec.Name), zap.Error(closeErr))
		}
	}()

	player := s.newPlayer(settings)
	return player.Play(ctx, pg, rec)
}

// finishRun stamps the run outcome. It uses its own context so outcomes are
// persisted even when the batch context is already canceled.
func (s *Scheduler) finishRun(run *schemas.RunRecord, playErr error) {
	now := time.Now()
	run.FinishedAt = &now

	if playErr == nil {
		run.Status = schemas.RunSucceeded
		run.StepsDone = run.StepsTotal
	} else {
		run.Status = schemas.RunFailed
		run.Error = playErr.Error()
		var stepErr *playback.StepError
		if errors.As(playErr, &stepErr) {
			run.StepsDone = stepErr.StepIndex
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), finishWriteTimeout)
	defer cancel()
	if err := s.runs.FinishRun(ctx, run); err != nil {
		s.logger.Warn("Failed to record run outcome.",
			zap.String("recording", run.RecordingName), zap.Error(err))
	}
}

// Status returns a read-only projection of the scheduler state.
func (s *Scheduler) Status() schemas.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return schemas.SchedulerStatus{
		Enabled:          s.scheduled,
		Expression:       s.expression,
		IsRunning:        s.isRunning,
		CurrentRecording: s.currentRecording,
		LastRunAt:        s.lastRunAt,
	}
}
