package playback

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tjbishop07/autoteller/api/schemas"
	"github.com/tjbishop07/autoteller/internal/config"
)

// coordinateFallback replays raw pointer and keyboard events at the recorded
// absolute position. It only runs after semantic resolution has definitively
// failed, typically when the target lives inside a frame whose content the
// collection script cannot reach.
type coordinateFallback struct {
	logger *zap.Logger
	cfg    config.PlaybackConfig

	sleep func(ctx context.Context, d time.Duration) error
}

func newCoordinateFallback(logger *zap.Logger, cfg config.PlaybackConfig) *coordinateFallback {
	return &coordinateFallback{
		logger: logger.Named("fallback"),
		cfg:    cfg,
		sleep:  sleepContext,
	}
}

// Click realigns the viewport to the recorded scroll offset and dispatches a
// raw press/release pair at the recorded position.
func (f *coordinateFallback) Click(ctx context.Context, pg schemas.Page, sess *Session, fp schemas.Fingerprint) error {
	if !fp.HasCoordinates() {
		return fmt.Errorf("%w: no coordinates recorded", ErrElementNotFound)
	}
	f.realignScroll(ctx, pg, sess, fp)

	x, y := fp.Coordinates.X, fp.Coordinates.Y
	f.logger.Warn("Dispatching coordinate-fallback click.", zap.Float64("x", x), zap.Float64("y", y))
	return f.rawClick(ctx, pg, x, y)
}

// Input focuses the recorded position with a raw click, clears whatever is
// there with a select-all plus delete chord, and types the value key by key.
func (f *coordinateFallback) Input(ctx context.Context, pg schemas.Page, sess *Session, fp schemas.Fingerprint, value string) error {
	if !fp.HasCoordinates() {
		return fmt.Errorf("%w: no coordinates recorded", ErrElementNotFound)
	}
	f.realignScroll(ctx, pg, sess, fp)

	x, y := fp.Coordinates.X, fp.Coordinates.Y
	f.logger.Warn("Dispatching coordinate-fallback input.", zap.Float64("x", x), zap.Float64("y", y))
	if err := f.rawClick(ctx, pg, x, y); err != nil {
		return err
	}

	if err := pg.DispatchKeyChord(ctx, schemas.KeyEventData{Key: "a", Modifiers: schemas.ModCtrl}); err != nil {
		return fmt.Errorf("select-all chord failed: %w", err)
	}
	if err := pg.DispatchKeyChord(ctx, schemas.KeyEventData{Key: "Delete"}); err != nil {
		return fmt.Errorf("clear chord failed: %w", err)
	}

	// Per-key pacing keeps per-keystroke validation handlers from missing
	// characters.
	for _, r := range value {
		if err := pg.SendKeys(ctx, string(r)); err != nil {
			return fmt.Errorf("typing failed: %w", err)
		}
		if err := f.sleep(ctx, f.cfg.TypingInterval); err != nil {
			return err
		}
	}
	return nil
}

// rawClick moves the pointer into place and dispatches press then release.
func (f *coordinateFallback) rawClick(ctx context.Context, pg schemas.Page, x, y float64) error {
	events := []schemas.MouseEventData{
		{Type: schemas.MouseMove, X: x, Y: y, Button: schemas.ButtonNone},
		{Type: schemas.MousePress, X: x, Y: y, Button: schemas.ButtonLeft, ClickCount: 1},
		{Type: schemas.MouseRelease, X: x, Y: y, Button: schemas.ButtonLeft, ClickCount: 1},
	}
	for _, ev := range events {
		if err := pg.DispatchMouseEvent(ctx, ev); err != nil {
			return fmt.Errorf("raw %s failed: %w", ev.Type, err)
		}
	}
	return nil
}

// realignScroll restores the recorded scroll offset so the recorded absolute
// position points at the same content it did at capture time. Skipped right
// after a navigation for the same reason the semantic path skips it.
func (f *coordinateFallback) realignScroll(ctx context.Context, pg schemas.Page, sess *Session, fp schemas.Fingerprint) {
	if fp.Viewport == nil || sess.PageJustLoaded() {
		return
	}
	script := fmt.Sprintf("window.scrollTo(%g, %g)", fp.Viewport.ScrollX, fp.Viewport.ScrollY)
	if err := pg.Evaluate(ctx, script, nil); err != nil {
		f.logger.Debug("Scroll realignment failed.", zap.Error(err))
	}
}
