package playback

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/tjbishop07/autoteller/api/schemas"
)

// probeScript is the trivial expression evaluated between attempts to check
// the page context is still answering at all.
const probeScript = "1+1"

// RetryPolicy parameterizes the attempt loop. Both knobs come from the
// settings store.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// backoff returns the sleep before the next attempt using pure exponential
// growth: BaseDelay doubles with every completed attempt.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if d <= 0 || d > float64(time.Minute) {
		return time.Minute
	}
	return time.Duration(d)
}

// RetryController wraps step execution with bounded retries. Its one piece of
// judgment is knowing which failures retrying cannot fix: recording-integrity
// errors propagate immediately, and a failed responsiveness probe aborts the
// loop because a dead page context will not heal between attempts.
type RetryController struct {
	logger       *zap.Logger
	policy       RetryPolicy
	probeTimeout time.Duration

	// sleep is swapped out by tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryController creates a controller with the given policy.
func NewRetryController(logger *zap.Logger, policy RetryPolicy, probeTimeout time.Duration) *RetryController {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &RetryController{
		logger:       logger.Named("retry"),
		policy:       policy,
		probeTimeout: probeTimeout,
		sleep:        sleepContext,
	}
}

// Do runs op up to MaxAttempts times. Success on any attempt short-circuits.
// Every failed attempt sleeps the backoff for its position; between attempts
// the page is probed and a probe failure aborts immediately.
func (r *RetryController) Do(ctx context.Context, pg schemas.Page, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsIntegrity(err) {
			// Broken recordings do not get better with repetition.
			return err
		}
		if IsUnresponsive(err) {
			return err
		}
		if ctx.Err() != nil {
			return lastErr
		}

		backoff := r.policy.backoff(attempt)
		r.logger.Warn("Step attempt failed.",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.policy.MaxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if sleepErr := r.sleep(ctx, backoff); sleepErr != nil {
			return lastErr
		}

		if attempt < r.policy.MaxAttempts {
			if probeErr := r.Probe(ctx, pg); probeErr != nil {
				r.logger.Error("Page stopped responding between attempts; aborting retries.", zap.Error(probeErr))
				return probeErr
			}
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", r.policy.MaxAttempts, lastErr)
}

// Probe evaluates a trivial expression in the page context with a short
// deadline. Any failure is reported as the page being unresponsive.
func (r *RetryController) Probe(ctx context.Context, pg schemas.Page) error {
	if pg.IsClosed() {
		return fmt.Errorf("%w: page surface destroyed", ErrPageUnresponsive)
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	var result int
	if err := pg.Evaluate(probeCtx, probeScript, &result); err != nil {
		return fmt.Errorf("%w: probe evaluation failed: %v", ErrPageUnresponsive, err)
	}
	if result != 2 {
		return fmt.Errorf("%w: probe returned %d", ErrPageUnresponsive, result)
	}
	return nil
}

// sleepContext waits for the duration or the context, whichever ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
