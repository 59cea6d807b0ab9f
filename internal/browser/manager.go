package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tjbishop07/autoteller/api/schemas"
	"github.com/tjbishop07/autoteller/internal/config"
)

const (
	browserLaunchTimeout = 60 * time.Second
	tabInitTimeout       = 15 * time.Second
	shutdownGracePeriod  = 15 * time.Second
)

// Manager owns the browser process lifecycle and hands out tabs as
// schemas.Page surfaces. One browser process serves all pages; each page gets
// its own target so a wedged recording cannot poison the next one.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context

	pages map[string]*CDPPage
	mu    sync.RWMutex
	wg    sync.WaitGroup

	startOnce sync.Once
	startErr  error
}

var _ schemas.PageOpener = (*Manager)(nil)

// NewManager creates a browser manager. The browser process itself is not
// launched until the first page is requested.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
		pages:  make(map[string]*CDPPage),
	}
	m.logger.Info("Browser manager created (launch deferred).")
	return m
}

// start launches the browser process once. chromedp contexts are lazy, so an
// explicit Run forces the launch now and surfaces executable problems early
// instead of on the first navigation.
func (m *Manager) start(ctx context.Context) error {
	m.startOnce.Do(func() {
		m.logger.Info("Launching browser.", zap.String("options", describeOptions(m.cfg)))

		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(
			context.Background(),
			DefaultAllocatorOptions(m.cfg)...,
		)

		browserCtx, _ := chromedp.NewContext(
			m.allocCtx,
			chromedp.WithLogf(m.logger.Sugar().Debugf),
		)
		m.browserCtx = browserCtx

		launchCtx, cancel := context.WithTimeout(ctx, browserLaunchTimeout)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- chromedp.Run(browserCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				m.allocCancel()
				m.startErr = fmt.Errorf("failed to launch browser process: %w", err)
				return
			}
		case <-launchCtx.Done():
			m.allocCancel()
			m.startErr = fmt.Errorf("timeout launching browser process: %w", launchCtx.Err())
			return
		}

		m.logger.Info("Browser process launched.")
	})
	return m.startErr
}

// NewPage opens a fresh tab and returns it as a schemas.Page.
func (m *Manager) NewPage(ctx context.Context) (schemas.Page, error) {
	if err := m.start(ctx); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx)

	initCtx, cancel := context.WithTimeout(ctx, tabInitTimeout)
	defer cancel()

	// Force target creation and pin the viewport before handing the tab out.
	init := []chromedp.Action{
		chromedp.EmulateViewport(int64(m.cfg.ViewportWidth), int64(m.cfg.ViewportHeight)),
	}
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(tabCtx, init...)
	}()

	select {
	case err := <-done:
		if err != nil {
			tabCancel()
			return nil, fmt.Errorf("failed to open page: %w", err)
		}
	case <-initCtx.Done():
		tabCancel()
		return nil, fmt.Errorf("timeout opening page: %w", initCtx.Err())
	}

	p := newCDPPage(tabCtx, tabCancel, m.logger, m.cfg.NavigationTimeout)

	m.wg.Add(1)
	p.onClose = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.pages, p.id)
		m.wg.Done()
		m.logger.Debug("Page removed from manager.", zap.String("page_id", p.id))
	}

	m.mu.Lock()
	m.pages[p.id] = p
	m.mu.Unlock()

	m.logger.Info("New page opened.", zap.String("page_id", p.id))
	return p, nil
}

// Shutdown closes all open pages and then the browser process itself.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	if m.browserCtx == nil {
		m.logger.Info("Browser never launched, nothing to shut down.")
		return nil
	}

	m.mu.RLock()
	pagesToClose := make([]*CDPPage, 0, len(m.pages))
	for _, p := range m.pages {
		pagesToClose = append(pagesToClose, p)
	}
	m.mu.RUnlock()

	g, closeCtx := errgroup.WithContext(ctx)
	for _, p := range pagesToClose {
		p := p
		g.Go(func() error {
			if err := p.Close(closeCtx); err != nil {
				m.logger.Warn("Error closing page during shutdown.",
					zap.String("page_id", p.id), zap.Error(err))
			}
			return nil
		})
	}
	// Close errors are logged, not propagated, so Wait cannot fail.
	_ = g.Wait()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All pages closed gracefully.")
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for pages to close. Proceeding with forceful shutdown.",
			zap.Error(ctx.Err()))
	}

	var shutdownErr error

	browserDone := make(chan error, 1)
	go func() {
		browserDone <- chromedp.Cancel(m.browserCtx)
	}()

	graceCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	select {
	case err := <-browserDone:
		if err != nil {
			m.logger.Error("Failed to close browser process cleanly.", zap.Error(err))
			shutdownErr = fmt.Errorf("failed to close browser: %w", err)
		}
	case <-graceCtx.Done():
		m.logger.Warn("Browser did not exit within grace period, killing allocator.")
		shutdownErr = fmt.Errorf("browser shutdown timed out after %v", shutdownGracePeriod)
	}

	m.allocCancel()

	m.logger.Info("Browser manager shutdown complete.")
	return shutdownErr
}
