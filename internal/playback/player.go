package playback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/tjbishop07/autoteller/api/schemas"
	"github.com/tjbishop07/autoteller/internal/config"
)

// Player replays a recording step by step against a live page. It owns the
// composition of session tracking, retrying, and step execution; callers only
// see the schemas.Player surface.
type Player struct {
	logger   *zap.Logger
	cfg      config.PlaybackConfig
	executor *StepExecutor
	retry    *RetryController
}

var _ schemas.Player = (*Player)(nil)

// NewPlayer builds a player from the process config and the operator
// settings. Retry counts, delays, and the confidence floor come from the
// settings store so operators can tune them without a restart.
func NewPlayer(logger *zap.Logger, cfg config.PlaybackConfig, settings schemas.Settings) *Player {
	logger = logger.Named("playback")
	scorer := NewScorer(logger, settings.MinConfidence)
	policy := RetryPolicy{
		MaxAttempts: settings.RetryAttempts,
		BaseDelay:   time.Duration(settings.RetryDelayMs) * time.Millisecond,
	}
	return &Player{
		logger:   logger,
		cfg:      cfg,
		executor: NewStepExecutor(logger, scorer, cfg),
		retry:    NewRetryController(logger, policy, cfg.ProbeTimeout),
	}
}

// Play navigates to the recording's start URL and executes every step in
// order. The first terminal step failure aborts the run; later steps almost
// always depend on the page state earlier steps produce.
func (p *Player) Play(ctx context.Context, page schemas.Page, rec schemas.Recording) error {
	p.logger.Info("Starting replay.",
		zap.String("recording", rec.Name),
		zap.Int("steps", len(rec.Steps)),
		zap.String("startUrl", rec.StartURL),
	)

	sess := NewSession(p.logger, page)
	if err := page.Navigate(ctx, rec.StartURL); err != nil {
		return fmt.Errorf("navigation to start URL failed: %w", err)
	}

	for i, env := range rec.Steps {
		step := env.Step
		if step == nil {
			return &StepError{StepIndex: i, Kind: "?", Err: ErrUnsupportedStep}
		}

		if url, err := page.CurrentURL(ctx); err == nil {
			sess.BeforeStep(url)
		}

		p.logger.Info("Executing step.",
			zap.Int("step", i+1),
			zap.String("kind", string(step.Kind())),
		)

		err := p.retry.Do(ctx, page, func(ctx context.Context) error {
			return p.executor.Execute(ctx, page, sess, step)
		})
		if err != nil {
			stepErr := p.describeFailure(ctx, page, i, step.Kind(), err)
			p.captureFailure(ctx, page, i)
			p.logger.Error("Replay failed.", zap.Error(stepErr))
			return stepErr
		}

		sess.AfterStep()
	}

	p.logger.Info("Replay finished.", zap.String("recording", rec.Name))
	return nil
}

// describeFailure attaches the page's URL and title to a terminal step
// failure. Both lookups are best-effort; a dead page yields a bare error.
func (p *Player) describeFailure(ctx context.Context, page schemas.Page, index int, kind schemas.StepKind, err error) *StepError {
	stepErr := &StepError{StepIndex: index, Kind: kind, Err: err}
	if url, urlErr := page.CurrentURL(ctx); urlErr == nil {
		stepErr.URL = url
	}
	var title string
	if evalErr := page.Evaluate(ctx, "document.title", &title); evalErr == nil {
		stepErr.Title = title
	}
	return stepErr
}

// captureFailure writes a viewport screenshot next to the failing step so the
// operator can see what the page looked like. Disabled when no screenshot
// directory is configured.
func (p *Player) captureFailure(ctx context.Context, page schemas.Page, index int) {
	if p.cfg.ScreenshotDir == "" {
		return
	}
	shot, err := page.CaptureScreenshot(ctx)
	if err != nil {
		p.logger.Warn("Failure screenshot could not be captured.", zap.Error(err))
		return
	}
	if err := os.MkdirAll(p.cfg.ScreenshotDir, 0o755); err != nil {
		p.logger.Warn("Screenshot directory could not be created.", zap.Error(err))
		return
	}
	name := fmt.Sprintf("failure-step%02d-%s.png", index+1, time.Now().Format("20060102-150405"))
	path := filepath.Join(p.cfg.ScreenshotDir, name)
	if err := os.WriteFile(path, shot, 0o644); err != nil {
		p.logger.Warn("Failure screenshot could not be written.", zap.Error(err))
		return
	}
	p.logger.Info("Failure screenshot written.", zap.String("path", path))
}
