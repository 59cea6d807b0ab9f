package playback

import (
	"errors"
	"fmt"

	"github.com/tjbishop07/autoteller/api/schemas"
)

var (
	// ErrEmptyFingerprint marks a step whose fingerprint carries no signal at
	// all. Recording-integrity error; never retried.
	ErrEmptyFingerprint = errors.New("fingerprint has no usable signals")
	// ErrUnsupportedStep marks a step kind this build does not understand.
	// Recording-integrity error; never retried.
	ErrUnsupportedStep = errors.New("unsupported step type")
	// ErrValueRequired marks an input or select step with an empty value.
	// Recording-integrity error; never retried.
	ErrValueRequired = errors.New("step requires a value")
	// ErrValueRedacted marks a step whose value is the redaction sentinel.
	// The recording editor must supply the real value; never retried.
	ErrValueRedacted = errors.New("step value is redacted")

	// ErrNoMatch means no candidate reached the confidence floor. Transient
	// from the retry controller's point of view: the page may still be
	// settling.
	ErrNoMatch = errors.New("no element matched the fingerprint with sufficient confidence")
	// ErrElementNotFound means candidate collection found nothing to score,
	// or the tagged element vanished between scoring and acting.
	ErrElementNotFound = errors.New("element not found")
	// ErrElementKind means the resolved element is not the tag the step
	// needs (input step against a div, select step against a button).
	ErrElementKind = errors.New("resolved element has the wrong kind for this step")

	// ErrPageUnresponsive means the trivial-expression probe failed. Further
	// retries cannot succeed; the step's retry loop aborts immediately.
	ErrPageUnresponsive = errors.New("page became unresponsive")
)

// StepError attaches step position and page context to an underlying failure
// so the run log can point a human at the right place.
type StepError struct {
	StepIndex int
	Kind      schemas.StepKind
	URL       string
	Title     string
	Err       error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("step %d (%s) failed: %v", e.StepIndex+1, e.Kind, e.Err)
	if e.URL != "" {
		msg += fmt.Sprintf(" [url=%s]", e.URL)
	}
	if e.Title != "" {
		msg += fmt.Sprintf(" [title=%q]", e.Title)
	}
	return msg
}

func (e *StepError) Unwrap() error { return e.Err }

// IsIntegrity reports whether the error is a recording-integrity failure,
// which the retry controller must surface immediately instead of retrying.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrUnsupportedStep) ||
		errors.Is(err, ErrEmptyFingerprint) ||
		errors.Is(err, ErrValueRequired) ||
		errors.Is(err, ErrValueRedacted)
}

// IsUnresponsive reports whether the error indicates a dead page context.
func IsUnresponsive(err error) bool {
	return errors.Is(err, ErrPageUnresponsive)
}
