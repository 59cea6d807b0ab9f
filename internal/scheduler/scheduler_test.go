package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tjbishop07/autoteller/api/schemas"
	"github.com/tjbishop07/autoteller/internal/playback"
)

// -- Fakes --

type fakeRecordings struct {
	recs    []schemas.Recording
	listErr error
}

func (f *fakeRecordings) ListRecordings(_ context.Context) ([]schemas.Recording, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]schemas.Recording, len(f.recs))
	copy(out, f.recs)
	return out, nil
}

func (f *fakeRecordings) GetRecording(_ context.Context, name string) (*schemas.Recording, error) {
	for _, r := range f.recs {
		if r.Name == name {
			rec := r
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("recording %q not found", name)
}

type fakeSettings struct {
	s   schemas.Settings
	err error
}

func (f *fakeSettings) GetSettings(_ context.Context) (schemas.Settings, error) {
	return f.s, f.err
}

func (f *fakeSettings) UpdateSettings(_ context.Context, s schemas.Settings) error {
	f.s = s
	return nil
}

type fakeRuns struct {
	mu       sync.Mutex
	inserted []schemas.RunRecord
	finished []schemas.RunRecord
}

func (f *fakeRuns) InsertRun(_ context.Context, run *schemas.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run.ID = fmt.Sprintf("run-%d", len(f.inserted)+1)
	f.inserted = append(f.inserted, *run)
	return nil
}

func (f *fakeRuns) FinishRun(_ context.Context, run *schemas.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, *run)
	return nil
}

func (f *fakeRuns) ListRuns(_ context.Context, limit int) ([]schemas.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]schemas.RunRecord, len(f.finished))
	copy(out, f.finished)
	return out, nil
}

func (f *fakeRuns) finishedStatuses() map[string]schemas.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	statuses := make(map[string]schemas.RunStatus, len(f.finished))
	for _, run := range f.finished {
		statuses[run.RecordingName] = run.Status
	}
	return statuses
}

type stubPage struct {
	closed atomic.Bool
}

func (p *stubPage) Navigate(context.Context, string) error            { return nil }
func (p *stubPage) Evaluate(context.Context, string, any) error      { return nil }
func (p *stubPage) CurrentURL(context.Context) (string, error)       { return "about:blank", nil }
func (p *stubPage) DispatchMouseEvent(context.Context, schemas.MouseEventData) error {
	return nil
}
func (p *stubPage) DispatchKeyChord(context.Context, schemas.KeyEventData) error { return nil }
func (p *stubPage) SendKeys(context.Context, string) error                       { return nil }
func (p *stubPage) CaptureScreenshot(context.Context) ([]byte, error)            { return nil, nil }
func (p *stubPage) IsClosed() bool                                               { return p.closed.Load() }
func (p *stubPage) OnNavigationFinished(func(string))                            {}
func (p *stubPage) OnInPageNavigation(func(string))                              {}
func (p *stubPage) Close(context.Context) error {
	p.closed.Store(true)
	return nil
}

type fakeOpener struct {
	mu      sync.Mutex
	opened  []*stubPage
	openErr error
}

func (f *fakeOpener) NewPage(_ context.Context) (schemas.Page, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &stubPage{}
	f.opened = append(f.opened, p)
	return p, nil
}

func (f *fakeOpener) openedPages() []*stubPage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*stubPage, len(f.opened))
	copy(out, f.opened)
	return out
}

type fakePlayer struct {
	mu      sync.Mutex
	played  []string
	outcome map[string]error
	block   chan struct{}
}

func (p *fakePlayer) Play(_ context.Context, _ schemas.Page, rec schemas.Recording) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	p.played = append(p.played, rec.Name)
	p.mu.Unlock()
	return p.outcome[rec.Name]
}

func (p *fakePlayer) playedNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.played))
	copy(out, p.played)
	return out
}

// -- Fixture --

type fixture struct {
	sched    *Scheduler
	player   *fakePlayer
	recs     *fakeRecordings
	settings *fakeSettings
	runs     *fakeRuns
	opener   *fakeOpener
}

func newFixture(recs ...schemas.Recording) *fixture {
	f := &fixture{
		player:   &fakePlayer{outcome: map[string]error{}},
		recs:     &fakeRecordings{recs: recs},
		settings: &fakeSettings{s: schemas.DefaultSettings},
		runs:     &fakeRuns{},
		opener:   &fakeOpener{},
	}
	f.sched = NewScheduler(Deps{
		Logger:     zap.NewNop(),
		Recordings: f.recs,
		Settings:   f.settings,
		Runs:       f.runs,
		Pages:      f.opener,
		NewPlayer:  func(schemas.Settings) schemas.Player { return f.player },
		Limiter:    rate.NewLimiter(rate.Inf, 1),
	})
	return f
}

func namedRecording(name string, steps int) schemas.Recording {
	rec := schemas.Recording{
		ID:       "id-" + name,
		Name:     name,
		StartURL: "https://bank.example/" + name,
	}
	for i := 0; i < steps; i++ {
		rec.Steps = append(rec.Steps, schemas.StepEnvelope{
			Step: schemas.ClickStep{Fingerprint: schemas.Fingerprint{Text: "Log In"}},
		})
	}
	return rec
}

// -- Batch runs --

func TestRunAllPlaysRecordingsInNameOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(
		namedRecording("savings-bank", 2),
		namedRecording("credit-union", 1),
		namedRecording("mortgage-portal", 3),
	)

	require.NoError(t, f.sched.RunAll(context.Background()))

	assert.Equal(t, []string{"credit-union", "mortgage-portal", "savings-bank"}, f.player.playedNames())

	for _, p := range f.opener.openedPages() {
		assert.True(t, p.IsClosed(), "every page must be closed after its recording")
	}

	statuses := f.runs.finishedStatuses()
	assert.Equal(t, schemas.RunSucceeded, statuses["credit-union"])
	assert.Equal(t, schemas.RunSucceeded, statuses["mortgage-portal"])
	assert.Equal(t, schemas.RunSucceeded, statuses["savings-bank"])
}

func TestRunAllIsolatesRecordingFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(
		namedRecording("alpha-bank", 5),
		namedRecording("beta-bank", 2),
		namedRecording("gamma-bank", 1),
	)
	stepErr := &playback.StepError{StepIndex: 2, Kind: schemas.StepClick, Err: playback.ErrNoMatch}
	f.player.outcome["beta-bank"] = fmt.Errorf("playback failed: %w", stepErr)

	require.NoError(t, f.sched.RunAll(context.Background()),
		"a failing recording must not abort the batch")

	assert.Equal(t, []string{"alpha-bank", "beta-bank", "gamma-bank"}, f.player.playedNames())

	statuses := f.runs.finishedStatuses()
	assert.Equal(t, schemas.RunSucceeded, statuses["alpha-bank"])
	assert.Equal(t, schemas.RunFailed, statuses["beta-bank"])
	assert.Equal(t, schemas.RunSucceeded, statuses["gamma-bank"])

	for _, run := range f.runs.finished {
		if run.RecordingName != "beta-bank" {
			continue
		}
		assert.Equal(t, 2, run.StepsDone, "steps before the failing one count as done")
		assert.Contains(t, run.Error, "playback failed")
		require.NotNil(t, run.FinishedAt)
	}
}

func TestRunAllStampsLastRunAtOnlyOnCompletion(t *testing.T) {
	t.Parallel()

	f := newFixture(namedRecording("alpha-bank", 1))
	f.player.outcome["alpha-bank"] = errors.New("layout changed")

	require.Nil(t, f.sched.Status().LastRunAt)

	before := time.Now()
	require.NoError(t, f.sched.RunAll(context.Background()))

	status := f.sched.Status()
	require.NotNil(t, status.LastRunAt, "a completed loop stamps lastRunAt even when recordings failed")
	assert.False(t, status.LastRunAt.Before(before))
	assert.False(t, status.IsRunning)
}

func TestRunAllListFailureLeavesStateClean(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.recs.listErr = errors.New("connection refused")

	err := f.sched.RunAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list recordings")

	status := f.sched.Status()
	assert.False(t, status.IsRunning)
	assert.Nil(t, status.LastRunAt, "an aborted batch must not stamp lastRunAt")
}

func TestRunAllGuardBlocksOverlappingBatches(t *testing.T) {
	t.Parallel()

	f := newFixture(namedRecording("alpha-bank", 1))
	f.player.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- f.sched.RunAll(context.Background())
	}()

	require.Eventually(t, func() bool {
		return f.sched.Status().IsRunning
	}, time.Second, 5*time.Millisecond)

	// Second batch while the first holds the guard: logged no-op.
	require.NoError(t, f.sched.RunAll(context.Background()))
	assert.Empty(t, f.player.playedNames())

	close(f.player.block)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"alpha-bank"}, f.player.playedNames(),
		"the recording must have played exactly once")
}

func TestRunAllConsultsPolitenessLimiter(t *testing.T) {
	t.Parallel()

	f := newFixture(
		namedRecording("alpha-bank", 1),
		namedRecording("beta-bank", 1),
	)
	// One token, then an hour until the next: the second recording must wait
	// and the context expires first.
	f.sched.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := f.sched.RunAll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch aborted")

	assert.Equal(t, []string{"alpha-bank"}, f.player.playedNames())
	assert.Nil(t, f.sched.Status().LastRunAt)
}

// -- Manual playback --

func TestPlayRecordingWritesRunHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(namedRecording("alpha-bank", 4))

	require.NoError(t, f.sched.PlayRecording(context.Background(), "alpha-bank"))

	require.Len(t, f.runs.inserted, 1)
	assert.Equal(t, schemas.RunRunning, f.runs.inserted[0].Status)
	assert.Equal(t, "id-alpha-bank", f.runs.inserted[0].RecordingID)
	assert.Equal(t, 4, f.runs.inserted[0].StepsTotal)

	require.Len(t, f.runs.finished, 1)
	assert.Equal(t, schemas.RunSucceeded, f.runs.finished[0].Status)
	assert.Equal(t, 4, f.runs.finished[0].StepsDone)
}

func TestPlayRecordingUnknownName(t *testing.T) {
	t.Parallel()

	f := newFixture(namedRecording("alpha-bank", 1))

	err := f.sched.PlayRecording(context.Background(), "no-such-bank")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-bank")
	assert.Empty(t, f.player.playedNames())
}

func TestPlayRecordingRespectsBatchGuard(t *testing.T) {
	t.Parallel()

	f := newFixture(namedRecording("alpha-bank", 1))
	f.player.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- f.sched.RunAll(context.Background())
	}()

	require.Eventually(t, func() bool {
		return f.sched.Status().IsRunning
	}, time.Second, 5*time.Millisecond)

	err := f.sched.PlayRecording(context.Background(), "alpha-bank")
	assert.ErrorIs(t, err, ErrBatchInProgress)

	close(f.player.block)
	require.NoError(t, <-done)
}

// -- Arming and disarming --

func TestStartRejectsInvalidExpressions(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture()

	for _, expr := range []string{
		"",
		"garbage",
		"61 * * * *",
		"* * * * * *",
	} {
		err := f.sched.Start(expr)
		require.Error(t, err, "expression %q must be rejected", expr)
		assert.Contains(t, err.Error(), "invalid schedule expression")
	}

	status := f.sched.Status()
	assert.False(t, status.Enabled, "rejected expressions must not change state")
	assert.Empty(t, status.Expression)
}

func TestStartArmsAndStopDisarms(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture()

	require.NoError(t, f.sched.Start("0 6 * * *"))
	status := f.sched.Status()
	assert.True(t, status.Enabled)
	assert.Equal(t, "0 6 * * *", status.Expression)

	// Re-arming replaces the previous entry.
	require.NoError(t, f.sched.Start("*/15 * * * *"))
	assert.Equal(t, "*/15 * * * *", f.sched.Status().Expression)

	f.sched.Stop()
	status = f.sched.Status()
	assert.False(t, status.Enabled)
	assert.Empty(t, status.Expression)

	// Idempotent.
	f.sched.Stop()
	assert.False(t, f.sched.Status().Enabled)
}

func TestInitFromSettings(t *testing.T) {
	t.Run("DormantWhenDisabled", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		f := newFixture()
		f.settings.s.ScheduleEnabled = false

		require.NoError(t, f.sched.InitFromSettings(context.Background()))
		assert.False(t, f.sched.Status().Enabled)
	})

	t.Run("ArmsWhenEnabled", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		f := newFixture()
		f.settings.s.ScheduleEnabled = true
		f.settings.s.ScheduleCron = "30 5 * * 1-5"

		require.NoError(t, f.sched.InitFromSettings(context.Background()))
		status := f.sched.Status()
		assert.True(t, status.Enabled)
		assert.Equal(t, "30 5 * * 1-5", status.Expression)

		f.sched.Stop()
	})

	t.Run("BadStoredExpressionFailsSoft", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		f := newFixture()
		f.settings.s.ScheduleEnabled = true
		f.settings.s.ScheduleCron = "every day at dawn"

		require.NoError(t, f.sched.InitFromSettings(context.Background()),
			"a bad stored expression must not fail startup")
		assert.False(t, f.sched.Status().Enabled)
	})

	t.Run("SettingsLoadFailure", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		f := newFixture()
		f.settings.err = errors.New("connection refused")

		err := f.sched.InitFromSettings(context.Background())
		require.Error(t, err)
		assert.False(t, f.sched.Status().Enabled)
	})
}
