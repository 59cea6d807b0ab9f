package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tjbishop07/autoteller/api/schemas"
	"github.com/tjbishop07/autoteller/internal/config"
)

const (
	// settlePollInterval paces the post-click readyState poll.
	settlePollInterval = 250 * time.Millisecond
	// appearancePollInterval paces re-resolution while waiting for an input
	// to appear.
	appearancePollInterval = 500 * time.Millisecond
	// highlightPause keeps the highlight on screen before the action fires.
	highlightPause = 250 * time.Millisecond
)

// StepExecutor performs one recorded step against the element the scorer
// picked. The semantic path always runs first; the coordinate fallback is
// strictly secondary because absolute positions are the most layout-fragile
// signal available.
type StepExecutor struct {
	logger    *zap.Logger
	scorer    *Scorer
	collector *collector
	fallback  *coordinateFallback
	cfg       config.PlaybackConfig

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewStepExecutor wires the executor with its scorer and timing config.
func NewStepExecutor(logger *zap.Logger, scorer *Scorer, cfg config.PlaybackConfig) *StepExecutor {
	return &StepExecutor{
		logger:    logger.Named("executor"),
		scorer:    scorer,
		collector: newCollector(logger),
		fallback:  newCoordinateFallback(logger, cfg),
		cfg:       cfg,
		sleep:     sleepContext,
	}
}

// Execute dispatches one step by kind. Unknown kinds are a
// recording-integrity failure and must never be retried.
func (e *StepExecutor) Execute(ctx context.Context, pg schemas.Page, sess *Session, step schemas.Step) error {
	switch s := step.(type) {
	case schemas.ClickStep:
		return e.executeClick(ctx, pg, sess, s)
	case schemas.InputStep:
		return e.executeInput(ctx, pg, sess, s)
	case schemas.SelectStep:
		return e.executeSelect(ctx, pg, sess, s)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedStep, step.Kind())
	}
}

// -- Click --

func (e *StepExecutor) executeClick(ctx context.Context, pg schemas.Page, sess *Session, step schemas.ClickStep) error {
	fp := step.Fingerprint
	if fp.Empty() {
		return ErrEmptyFingerprint
	}
	defer e.collector.cleanup(pg)

	res, err := e.resolveOnce(ctx, pg, fp)
	if err != nil {
		if IsIntegrity(err) {
			return err
		}
		if fp.HasCoordinates() && isResolutionFailure(err) {
			e.logger.Info("Semantic resolution failed; using coordinate fallback for click.", zap.Error(err))
			return e.fallback.Click(ctx, pg, sess, fp)
		}
		return err
	}

	e.logger.Info("Resolved click target.",
		zap.Int("confidence", res.candidate.Confidence),
		zap.String("element", condenseHTML(res.candidate.Element.OuterHTML, 120)),
	)

	// Restoring scroll right after a fresh navigation fights the page's own
	// scroll behavior, so the first step after a load skips it.
	if !sess.PageJustLoaded() {
		e.restoreScroll(ctx, pg, fp)
	}

	if e.cfg.Highlight {
		e.highlight(ctx, pg, res.selector)
	}

	var clicked bool
	clickScript := fmt.Sprintf(`
(function(sel) {
    const el = document.querySelector(sel);
    if (!el) return false;
    el.scrollIntoView({block: 'center', inline: 'center'});
    el.click();
    return true;
})(%s)`, jsString(res.selector))
	if err := pg.Evaluate(ctx, clickScript, &clicked); err != nil {
		return fmt.Errorf("click dispatch failed: %w", err)
	}
	if !clicked {
		return fmt.Errorf("%w: tagged element vanished before click", ErrElementNotFound)
	}

	// Absorb any navigation the click set off.
	return e.waitForSettle(ctx, pg)
}

// -- Input --

func (e *StepExecutor) executeInput(ctx context.Context, pg schemas.Page, sess *Session, step schemas.InputStep) error {
	fp := step.Fingerprint
	if fp.Empty() {
		return ErrEmptyFingerprint
	}
	if err := checkValue(step.Value); err != nil {
		return err
	}
	defer e.collector.cleanup(pg)

	// Inputs commonly appear only after async page content loads, so this
	// path waits for resolution instead of failing on the first miss.
	res, err := e.resolveWithWait(ctx, pg, fp)
	if err != nil {
		if IsIntegrity(err) {
			return err
		}
		if fp.HasCoordinates() && isResolutionFailure(err) {
			e.logger.Info("Semantic resolution failed; using coordinate fallback for input.", zap.Error(err))
			return e.fallback.Input(ctx, pg, sess, fp, step.Value)
		}
		return err
	}

	if tag := res.candidate.Element.Tag; tag != "input" && tag != "textarea" {
		return fmt.Errorf("%w: expected input or textarea, resolved <%s>", ErrElementKind, tag)
	}

	e.logger.Info("Resolved input target.",
		zap.Int("confidence", res.candidate.Confidence),
		zap.String("element", condenseHTML(res.candidate.Element.OuterHTML, 120)),
	)

	if e.cfg.Highlight {
		e.highlight(ctx, pg, res.selector)
	}

	// The native value setter bypasses framework-level synthetic value
	// caching; the events afterwards let the page's own reactive framework
	// observe the change.
	var outcome string
	setScript := fmt.Sprintf(`
(function(sel, value) {
    const el = document.querySelector(sel);
    if (!el) return 'missing';
    const proto = el.tagName === 'TEXTAREA' ? window.HTMLTextAreaElement.prototype : window.HTMLInputElement.prototype;
    const desc = Object.getOwnPropertyDescriptor(proto, 'value');
    el.focus();
    if (desc && desc.set) {
        desc.set.call(el, '');
        desc.set.call(el, value);
    } else {
        el.value = value;
    }
    el.dispatchEvent(new Event('input', {bubbles: true}));
    el.dispatchEvent(new Event('change', {bubbles: true}));
    el.blur();
    return 'ok';
})(%s, %s)`, jsString(res.selector), jsString(step.Value))
	if err := pg.Evaluate(ctx, setScript, &outcome); err != nil {
		return fmt.Errorf("input dispatch failed: %w", err)
	}
	if outcome != "ok" {
		return fmt.Errorf("%w: tagged element vanished before input", ErrElementNotFound)
	}
	return nil
}

// -- Select --

func (e *StepExecutor) executeSelect(ctx context.Context, pg schemas.Page, sess *Session, step schemas.SelectStep) error {
	fp := step.Fingerprint
	if fp.Empty() {
		return ErrEmptyFingerprint
	}
	if err := checkValue(step.Value); err != nil {
		return err
	}
	defer e.collector.cleanup(pg)

	res, err := e.resolveWithWait(ctx, pg, fp)
	if err != nil {
		return err
	}

	if tag := res.candidate.Element.Tag; tag != "select" {
		return fmt.Errorf("%w: expected select, resolved <%s>", ErrElementKind, tag)
	}

	e.logger.Info("Resolved select target.",
		zap.Int("confidence", res.candidate.Confidence),
		zap.String("element", condenseHTML(res.candidate.Element.OuterHTML, 120)),
	)

	var outcome string
	selectScript := fmt.Sprintf(`
(function(sel, value) {
    const el = document.querySelector(sel);
    if (!el) return 'missing';
    el.focus();
    el.value = value;
    el.dispatchEvent(new Event('change', {bubbles: true}));
    el.blur();
    return 'ok';
})(%s, %s)`, jsString(res.selector), jsString(step.Value))
	if err := pg.Evaluate(ctx, selectScript, &outcome); err != nil {
		return fmt.Errorf("select dispatch failed: %w", err)
	}
	if outcome != "ok" {
		return fmt.Errorf("%w: tagged element vanished before select", ErrElementNotFound)
	}
	return nil
}

// -- Resolution helpers --

// resolved pairs a scored candidate with the selector addressing it for the
// rest of the pass.
type resolved struct {
	candidate *schemas.Candidate
	selector  string
}

// resolveOnce runs one collection pass and scores it.
func (e *StepExecutor) resolveOnce(ctx context.Context, pg schemas.Page, fp schemas.Fingerprint) (*resolved, error) {
	elements, nonce, err := e.collector.collect(ctx, pg, fp)
	if err != nil {
		return nil, fmt.Errorf("element lookup failed: %w", err)
	}
	cand, err := e.scorer.Best(fp, elements)
	if err != nil {
		return nil, err
	}
	return &resolved{candidate: cand, selector: elementSelector(nonce, cand.Element.Index)}, nil
}

// resolveWithWait polls resolution until it succeeds or the appearance
// window closes, returning the final attempt's error on timeout.
func (e *StepExecutor) resolveWithWait(ctx context.Context, pg schemas.Page, fp schemas.Fingerprint) (*resolved, error) {
	deadline := time.Now().Add(e.cfg.AppearanceTimeout)
	for {
		res, err := e.resolveOnce(ctx, pg, fp)
		if err == nil {
			return res, nil
		}
		if IsIntegrity(err) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("element did not appear within %s: %w", e.cfg.AppearanceTimeout, err)
		}
		if sleepErr := e.sleep(ctx, appearancePollInterval); sleepErr != nil {
			return nil, err
		}
	}
}

// isResolutionFailure reports whether the error means "nothing matched",
// which is the precondition for the coordinate fallback.
func isResolutionFailure(err error) bool {
	return errors.Is(err, ErrNoMatch) || errors.Is(err, ErrElementNotFound)
}

// checkValue enforces the value invariants shared by input and select steps.
func checkValue(value string) error {
	if value == "" {
		return ErrValueRequired
	}
	if value == schemas.ValueRedacted {
		return ErrValueRedacted
	}
	return nil
}

// -- Page helpers --

// restoreScroll realigns the page to the scroll offset captured with the
// fingerprint. Best-effort: a page that refuses to scroll is not a failure.
func (e *StepExecutor) restoreScroll(ctx context.Context, pg schemas.Page, fp schemas.Fingerprint) {
	if fp.Viewport == nil {
		return
	}
	script := fmt.Sprintf("window.scrollTo(%g, %g)", fp.Viewport.ScrollX, fp.Viewport.ScrollY)
	if err := pg.Evaluate(ctx, script, nil); err != nil {
		e.logger.Debug("Scroll restoration failed.", zap.Error(err))
	}
}

// highlight briefly outlines the element for operator visibility.
func (e *StepExecutor) highlight(ctx context.Context, pg schemas.Page, selector string) {
	script := fmt.Sprintf(`
(function(sel) {
    const el = document.querySelector(sel);
    if (!el) return;
    const prev = el.style.outline;
    el.style.outline = '3px solid #e8a33d';
    setTimeout(() => { el.style.outline = prev; }, 400);
})(%s)`, jsString(selector))
	if err := pg.Evaluate(ctx, script, nil); err != nil {
		e.logger.Debug("Highlight failed.", zap.Error(err))
		return
	}
	_ = e.sleep(ctx, highlightPause)
}

// waitForSettle polls document.readyState until the page reports complete or
// the settle window closes, then pauses the fixed settle delay. Timing out
// is not a failure; the next step's resolution will tell the truth.
func (e *StepExecutor) waitForSettle(ctx context.Context, pg schemas.Page) error {
	deadline := time.Now().Add(e.cfg.SettleTimeout)
	for time.Now().Before(deadline) {
		var state string
		// Evaluation races the navigation it is absorbing; errors here just
		// mean the context is mid-swap.
		if err := pg.Evaluate(ctx, "document.readyState", &state); err == nil && state == "complete" {
			break
		}
		if err := e.sleep(ctx, settlePollInterval); err != nil {
			return err
		}
	}
	return e.sleep(ctx, e.cfg.SettleDelay)
}
