package schemas

import (
	"context"
)

// -- Page Surface --

// MouseEventType defines the type of a mouse event.
type MouseEventType string

const (
	MouseMove    MouseEventType = "mouseMoved"
	MousePress   MouseEventType = "mousePressed"
	MouseRelease MouseEventType = "mouseReleased"
)

// MouseButton defines the mouse button being pressed.
type MouseButton string

const (
	ButtonNone MouseButton = "none"
	ButtonLeft MouseButton = "left"
)

// MouseEventData encapsulates all data for a low-level mouse event.
type MouseEventData struct {
	Type       MouseEventType `json:"type"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Button     MouseButton    `json:"button"`
	ClickCount int            `json:"clickCount"`
}

// KeyModifier represents keyboard modifiers. The values correspond directly
// to the CDP key event modifiers bitfield.
type KeyModifier int

const (
	ModNone  KeyModifier = 0
	ModAlt   KeyModifier = 1
	ModCtrl  KeyModifier = 2
	ModMeta  KeyModifier = 4
	ModShift KeyModifier = 8
)

// KeyEventData represents a structured key press, including the main key and
// active modifiers (e.g. Ctrl+A).
type KeyEventData struct {
	// Key is the primary key pressed ("a", "Delete", "Enter"). It must match
	// the key name expected by the underlying executor.
	Key string
	// Modifiers is a bitmask of active modifiers.
	Modifiers KeyModifier
}

// Page is the embedded browser page surface playback drives. It deliberately
// exposes only what replay needs: script evaluation that returns structured
// data, raw pointer/keyboard dispatch for the coordinate fallback, navigation
// callbacks for the page state tracker, and screenshot capture for failure
// diagnosis. Implementations live in internal/browser; tests substitute
// fakes.
type Page interface {
	// Navigate loads the given URL and waits for the load to settle.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs a script in the page context and unmarshals its JSON
	// result into out. Pass nil to discard the result.
	Evaluate(ctx context.Context, script string, out any) error
	// CurrentURL returns the page's current location.
	CurrentURL(ctx context.Context) (string, error)
	// DispatchMouseEvent dispatches a single raw mouse event.
	DispatchMouseEvent(ctx context.Context, data MouseEventData) error
	// DispatchKeyChord presses and releases a key combination.
	DispatchKeyChord(ctx context.Context, data KeyEventData) error
	// SendKeys types the given text through synthesized key events.
	SendKeys(ctx context.Context, keys string) error
	// CaptureScreenshot captures the visible viewport as PNG bytes.
	CaptureScreenshot(ctx context.Context) ([]byte, error)
	// IsClosed reports whether the underlying page surface has been destroyed.
	IsClosed() bool
	// OnNavigationFinished registers a callback fired after a full page load.
	OnNavigationFinished(fn func(url string))
	// OnInPageNavigation registers a callback fired on history/hash
	// navigations that do not reload the document.
	OnInPageNavigation(fn func(url string))
	// Close destroys the page surface.
	Close(ctx context.Context) error
}

// PageOpener creates fresh page surfaces. The scheduler opens one page per
// recording so a wedged page cannot leak state into the next recording.
type PageOpener interface {
	NewPage(ctx context.Context) (Page, error)
}

// -- Playback --

// Player replays one recording against a live page. Implemented by
// internal/playback; the scheduler consumes it through this interface so
// batch behavior is testable without a browser.
type Player interface {
	// Play replays every step of the recording. It returns the first
	// terminal error, or nil if all steps completed.
	Play(ctx context.Context, page Page, rec Recording) error
}

// -- Store Interfaces --

// RecordingStore provides read access to stored recordings. Recordings are
// created and edited elsewhere; playback only ever reads them.
type RecordingStore interface {
	// ListRecordings returns all stored recordings ordered by name.
	ListRecordings(ctx context.Context) ([]Recording, error)
	// GetRecording retrieves one recording by name.
	GetRecording(ctx context.Context, name string) (*Recording, error)
}

// SettingsStore persists the playback and scheduling knobs.
type SettingsStore interface {
	// GetSettings returns the stored settings, or defaults when none exist.
	GetSettings(ctx context.Context) (Settings, error)
	// UpdateSettings replaces the stored settings.
	UpdateSettings(ctx context.Context, s Settings) error
}

// RunLogStore persists per-recording run history.
type RunLogStore interface {
	// InsertRun records the start of a recording's playback.
	InsertRun(ctx context.Context, run *RunRecord) error
	// FinishRun records the outcome of a previously inserted run.
	FinishRun(ctx context.Context, run *RunRecord) error
	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// Store is the full persistence surface implemented by internal/store.
type Store interface {
	RecordingStore
	SettingsStore
	RunLogStore
	// Close releases the underlying connection pool.
	Close()
}
