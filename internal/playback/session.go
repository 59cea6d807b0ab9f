package playback

import (
	"sync"

	"go.uber.org/zap"

	"github.com/tjbishop07/autoteller/api/schemas"
)

// Session is the transient state scoped to one recording's playback: the last
// page URL seen and whether the page was freshly navigated since the previous
// step. It is created when a recording begins and discarded when it ends, so
// two playbacks can never share state.
//
// The fresh-navigation flag exists for exactly one consumer: scroll
// restoration. Forcing a recorded scroll offset immediately after a page load
// fights the page's own scroll-to-top or anchor behavior and produces visibly
// wrong clicks, so the first step after a navigation skips it.
type Session struct {
	logger *zap.Logger

	mu             sync.Mutex
	lastPageURL    string
	pageJustLoaded bool
}

// NewSession creates the playback state for one recording and subscribes it
// to the page's navigation callbacks. Both full loads and in-page (history
// API) navigations mark the page as freshly loaded.
func NewSession(logger *zap.Logger, pg schemas.Page) *Session {
	s := &Session{logger: logger.Named("session")}
	pg.OnNavigationFinished(s.noteNavigation)
	pg.OnInPageNavigation(s.noteNavigation)
	return s
}

// noteNavigation runs on the page's listener goroutine.
func (s *Session) noteNavigation(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if url != s.lastPageURL {
		s.logger.Debug("Navigation observed.", zap.String("url", url))
		s.lastPageURL = url
		s.pageJustLoaded = true
	}
}

// BeforeStep reconciles the tracker with the page's actual URL before a step
// executes. A URL change that arrived without a navigation callback (redirect
// chains, frame swaps) still flips the fresh-navigation flag.
func (s *Session) BeforeStep(currentURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if currentURL != s.lastPageURL {
		s.logger.Debug("URL changed since last step.",
			zap.String("from", s.lastPageURL),
			zap.String("to", currentURL),
		)
		s.lastPageURL = currentURL
		s.pageJustLoaded = true
	}
}

// AfterStep clears the fresh-navigation flag once a step completes
// successfully, so subsequent same-page steps restore scroll normally.
func (s *Session) AfterStep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageJustLoaded = false
}

// PageJustLoaded reports whether no step has completed since the last
// observed navigation.
func (s *Session) PageJustLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageJustLoaded
}

// LastURL returns the most recent URL the tracker reconciled against.
func (s *Session) LastURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPageURL
}
