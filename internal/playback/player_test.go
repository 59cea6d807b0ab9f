package playback

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tjbishop07/autoteller/api/schemas"
)

func testSettings() schemas.Settings {
	return schemas.Settings{
		RetryAttempts: 1,
		RetryDelayMs:  1,
		MinConfidence: 60,
	}
}

func loginRecording() schemas.Recording {
	return schemas.Recording{
		ID:       "rec-1",
		Name:     "firstbank-balance",
		StartURL: "https://bank.example/login",
		Steps: []schemas.StepEnvelope{
			{Step: schemas.InputStep{
				Fingerprint: schemas.Fingerprint{Placeholder: "Username"},
				Value:       "alice",
			}},
			{Step: schemas.SelectStep{
				Fingerprint: schemas.Fingerprint{AriaLabel: "Currency", Role: "select"},
				Value:       "USD",
			}},
			{Step: schemas.ClickStep{
				Fingerprint: schemas.Fingerprint{Text: "Log In", Role: "button"},
			}},
		},
	}
}

func loginPageElements() []schemas.PageElement {
	return []schemas.PageElement{
		loginButton(),
		{Index: 1, Tag: "input", Placeholder: "Username", Visible: true, OuterHTML: `<input placeholder="Username">`},
		{Index: 2, Tag: "select", AriaLabel: "Currency", Visible: true, OuterHTML: `<select aria-label="Currency"></select>`},
	}
}

func TestPlayerReplaysAllSteps(t *testing.T) {
	t.Parallel()

	pg := newFakePage()
	pg.setElements(loginPageElements())

	p := NewPlayer(zap.NewNop(), testPlaybackConfig(), testSettings())
	require.NoError(t, p.Play(context.Background(), pg, loginRecording()))

	assert.Equal(t, []string{"https://bank.example/login"}, pg.navigations)
	assert.Equal(t, 1, pg.scriptCount("new Event('input'"), "input step ran")
	assert.Equal(t, 1, pg.scriptCount("el.value = value"), "select step ran")
	assert.Equal(t, 1, pg.scriptCount("el.click()"), "click step ran")
}

func TestPlayerStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	pg := newFakePage()
	pg.setElements(loginPageElements())

	rec := loginRecording()
	// Nothing on the login page matches, and there are no coordinates to
	// fall back to.
	rec.Steps[0] = schemas.StepEnvelope{Step: schemas.ClickStep{
		Fingerprint: schemas.Fingerprint{Text: "Download Statements"},
	}}

	p := NewPlayer(zap.NewNop(), testPlaybackConfig(), testSettings())
	err := p.Play(context.Background(), pg, rec)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 0, stepErr.StepIndex)
	assert.Equal(t, schemas.StepClick, stepErr.Kind)
	assert.Equal(t, "https://bank.example/login", stepErr.URL)
	assert.Equal(t, "Example Bank", stepErr.Title)
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.Contains(t, err.Error(), "step 1 (click) failed")

	assert.Zero(t, pg.scriptCount("el.value = value"), "later steps must not run")
}

func TestPlayerRetriesBeforeFailing(t *testing.T) {
	t.Parallel()

	pg := newFakePage()
	pg.setElements(nil)

	rec := loginRecording()
	rec.Steps = rec.Steps[2:]

	settings := testSettings()
	settings.RetryAttempts = 3

	p := NewPlayer(zap.NewNop(), testPlaybackConfig(), settings)
	err := p.Play(context.Background(), pg, rec)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestPlayerWritesFailureScreenshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := testPlaybackConfig()
	cfg.ScreenshotDir = dir

	pg := newFakePage()
	pg.setElements(nil)

	rec := loginRecording()
	rec.Steps = rec.Steps[2:]

	p := NewPlayer(zap.NewNop(), cfg, testSettings())
	require.Error(t, p.Play(context.Background(), pg, rec))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "failure-step01-"))
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".png"))
}

func TestPlayerSkipsScreenshotWithoutDirectory(t *testing.T) {
	t.Parallel()

	pg := newFakePage()
	pg.setElements(nil)

	rec := loginRecording()
	rec.Steps = rec.Steps[2:]

	p := NewPlayer(zap.NewNop(), testPlaybackConfig(), testSettings())
	require.Error(t, p.Play(context.Background(), pg, rec))
	assert.Nil(t, pg.shotErr)
}

func TestPlayerFailsWhenNavigationFails(t *testing.T) {
	t.Parallel()

	pg := newFakePage()
	pg.navErr = errors.New("name not resolved")

	p := NewPlayer(zap.NewNop(), testPlaybackConfig(), testSettings())
	err := p.Play(context.Background(), pg, loginRecording())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "navigation to start URL failed")
}

func TestPlayerRejectsMalformedEnvelope(t *testing.T) {
	t.Parallel()

	pg := newFakePage()
	rec := loginRecording()
	rec.Steps = []schemas.StepEnvelope{{}}

	p := NewPlayer(zap.NewNop(), testPlaybackConfig(), testSettings())
	err := p.Play(context.Background(), pg, rec)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.ErrorIs(t, err, ErrUnsupportedStep)
}

func TestPlayerHonorsRedactedValueAbort(t *testing.T) {
	t.Parallel()

	pg := newFakePage()
	pg.setElements(loginPageElements())

	rec := loginRecording()
	rec.Steps[0] = schemas.StepEnvelope{Step: schemas.InputStep{
		Fingerprint: schemas.Fingerprint{Placeholder: "Username"},
		Value:       schemas.ValueRedacted,
	}}

	settings := testSettings()
	settings.RetryAttempts = 3

	start := time.Now()
	p := NewPlayer(zap.NewNop(), testPlaybackConfig(), settings)
	err := p.Play(context.Background(), pg, rec)

	require.ErrorIs(t, err, ErrValueRedacted)
	assert.NotContains(t, err.Error(), "failed after", "integrity failures are terminal on the first attempt")
	assert.Less(t, time.Since(start), 500*time.Millisecond, "no backoff sleeping for integrity failures")
}
