package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tjbishop07/autoteller/api/schemas"
)

// Per-operation backstop timeouts. Callers usually carry tighter deadlines;
// these keep a wedged renderer from hanging an operation forever.
const (
	evaluateTimeout   = 20 * time.Second
	mouseEventTimeout = 10 * time.Second
	keyEventTimeout   = 5 * time.Second
	screenshotTimeout = 15 * time.Second
)

// CDPPage drives one browser tab over the DevTools protocol and implements
// schemas.Page. All translation between the browser-agnostic event structs
// and cdproto happens here; nothing above this package imports chromedp.
type CDPPage struct {
	id         string
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	navTimeout time.Duration

	mu          sync.Mutex
	lastMainURL string
	navFinished []func(string)
	inPageNav   []func(string)

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	onClose   func()
}

var _ schemas.Page = (*CDPPage)(nil)

func newCDPPage(tabCtx context.Context, cancel context.CancelFunc, logger *zap.Logger, navTimeout time.Duration) *CDPPage {
	p := &CDPPage{
		id:         uuid.NewString(),
		ctx:        tabCtx,
		cancel:     cancel,
		navTimeout: navTimeout,
	}
	p.logger = logger.Named("page").With(zap.String("page_id", p.id))

	chromedp.ListenTarget(tabCtx, p.handleTargetEvent)

	// If the tab dies underneath us (crash, browser exit), flip the closed
	// flag so the responsiveness probe reports it instead of timing out.
	go func() {
		<-tabCtx.Done()
		p.closed.Store(true)
	}()

	return p
}

// handleTargetEvent runs on chromedp's listener goroutine. It must never
// issue CDP calls itself; callbacks are invoked from fresh goroutines.
func (p *CDPPage) handleTargetEvent(ev interface{}) {
	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame.ParentID != "" {
			return
		}
		p.mu.Lock()
		p.lastMainURL = e.Frame.URL
		p.mu.Unlock()
	case *page.EventLoadEventFired:
		p.mu.Lock()
		url := p.lastMainURL
		callbacks := append([]func(string){}, p.navFinished...)
		p.mu.Unlock()
		go func() {
			for _, fn := range callbacks {
				fn(url)
			}
		}()
	case *page.EventNavigatedWithinDocument:
		p.mu.Lock()
		p.lastMainURL = e.URL
		callbacks := append([]func(string){}, p.inPageNav...)
		p.mu.Unlock()
		go func() {
			for _, fn := range callbacks {
				fn(e.URL)
			}
		}()
	}
}

// operationContext combines the tab context with the caller's and applies the
// given backstop timeout.
func (p *CDPPage) operationContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	combined, cancel := CombineContext(p.ctx, ctx)
	if timeout <= 0 {
		return combined, cancel
	}
	timed, timedCancel := context.WithTimeout(combined, timeout)
	return timed, func() {
		timedCancel()
		cancel()
	}
}

// Navigate loads the URL and waits for the document body to be ready.
func (p *CDPPage) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := p.operationContext(ctx, p.navTimeout)
	defer cancel()

	p.logger.Info("Navigating.", zap.String("url", url))
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation to %s timed out after %v: %w", url, p.navTimeout, err)
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Evaluate runs a script in the page and unmarshals the JSON result into out.
// A nil out discards the result, tolerating scripts that produce undefined.
func (p *CDPPage) Evaluate(ctx context.Context, script string, out any) error {
	runCtx, cancel := p.operationContext(ctx, evaluateTimeout)
	defer cancel()

	var sink json.RawMessage
	target := out
	if target == nil {
		target = &sink
	}

	err := chromedp.Run(runCtx,
		chromedp.Evaluate(script, target, func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
			return params.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
		}),
	)
	if err != nil {
		if out == nil && errors.Is(err, chromedp.ErrJSUndefined) {
			return nil
		}
		if runCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("script evaluation timed out: %w", err)
		}
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

// CurrentURL returns the page's present location.
func (p *CDPPage) CurrentURL(ctx context.Context) (string, error) {
	runCtx, cancel := p.operationContext(ctx, evaluateTimeout)
	defer cancel()

	var url string
	if err := chromedp.Run(runCtx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read page location: %w", err)
	}
	return url, nil
}

// DispatchMouseEvent translates one browser-agnostic mouse event to cdproto.
func (p *CDPPage) DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	runCtx, cancel := p.operationContext(ctx, mouseEventTimeout)
	defer cancel()

	ev := input.DispatchMouseEvent(input.MouseType(data.Type), data.X, data.Y).
		WithButton(input.MouseButton(data.Button)).
		WithClickCount(int64(data.ClickCount))

	if err := chromedp.Run(runCtx, ev); err != nil {
		return fmt.Errorf("mouse %s dispatch failed: %w", data.Type, err)
	}
	return nil
}

// DispatchKeyChord presses and releases a key with the given modifiers held.
func (p *CDPPage) DispatchKeyChord(ctx context.Context, data schemas.KeyEventData) error {
	runCtx, cancel := p.operationContext(ctx, keyEventTimeout)
	defer cancel()

	var mods input.Modifier
	if data.Modifiers&schemas.ModAlt != 0 {
		mods |= input.ModifierAlt
	}
	if data.Modifiers&schemas.ModCtrl != 0 {
		mods |= input.ModifierCtrl
	}
	if data.Modifiers&schemas.ModMeta != 0 {
		mods |= input.ModifierMeta
	}
	if data.Modifiers&schemas.ModShift != 0 {
		mods |= input.ModifierShift
	}

	keyDown := input.DispatchKeyEvent(input.KeyDown).
		WithModifiers(mods).
		WithKey(data.Key)
	keyUp := input.DispatchKeyEvent(input.KeyUp).
		WithModifiers(mods).
		WithKey(data.Key)

	if err := chromedp.Run(runCtx, keyDown, keyUp); err != nil {
		return fmt.Errorf("key chord %q dispatch failed: %w", data.Key, err)
	}
	return nil
}

// SendKeys types text through synthesized key events.
func (p *CDPPage) SendKeys(ctx context.Context, keys string) error {
	runCtx, cancel := p.operationContext(ctx, keyEventTimeout)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.KeyEvent(keys)); err != nil {
		return fmt.Errorf("key dispatch failed: %w", err)
	}
	return nil
}

// CaptureScreenshot captures the visible viewport as PNG bytes.
func (p *CDPPage) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	runCtx, cancel := p.operationContext(ctx, screenshotTimeout)
	defer cancel()

	var shot []byte
	if err := chromedp.Run(runCtx, chromedp.CaptureScreenshot(&shot)); err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}
	return shot, nil
}

// IsClosed reports whether the tab has been destroyed.
func (p *CDPPage) IsClosed() bool {
	return p.closed.Load() || p.ctx.Err() != nil
}

// OnNavigationFinished registers a callback fired after a full page load.
func (p *CDPPage) OnNavigationFinished(fn func(url string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navFinished = append(p.navFinished, fn)
}

// OnInPageNavigation registers a callback fired on history or hash changes.
func (p *CDPPage) OnInPageNavigation(fn func(url string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inPageNav = append(p.inPageNav, fn)
}

// Close destroys the tab. chromedp.Cancel blocks until the target detaches,
// so the caller's context bounds the wait and the hard cancel is the
// fallback.
func (p *CDPPage) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.logger.Debug("Closing page.")

		done := make(chan error, 1)
		go func() {
			done <- chromedp.Cancel(p.ctx)
		}()

		select {
		case err := <-done:
			p.closeErr = err
		case <-ctx.Done():
			p.cancel()
			p.closeErr = fmt.Errorf("page close timed out: %w", ctx.Err())
		}

		if p.onClose != nil {
			p.onClose()
		}
	})
	return p.closeErr
}
