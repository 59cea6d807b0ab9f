package schemas

import "time"

// -- Scheduler & Run History Schemas --

// SchedulerStatus is the read-only projection of the scheduler's state,
// consumed by the status command and any UI.
type SchedulerStatus struct {
	Enabled          bool       `json:"enabled"`
	Expression       string     `json:"expression,omitempty"`
	IsRunning        bool       `json:"is_running"`
	CurrentRecording string     `json:"current_recording,omitempty"`
	LastRunAt        *time.Time `json:"last_run_at,omitempty"`
}

// Settings holds the externally stored playback and scheduling knobs. The
// store owns persistence; the scheduler and retry controller read them at
// startup and before each batch.
type Settings struct {
	RetryAttempts   int    `json:"retry_attempts"`
	RetryDelayMs    int    `json:"retry_delay_ms"`
	MinConfidence   int    `json:"min_confidence"`
	ScheduleEnabled bool   `json:"schedule_enabled"`
	ScheduleCron    string `json:"schedule_cron"`
}

// DefaultSettings provides the values used when the settings store is empty.
// The 60 confidence floor is deliberately conservative: under-acting beats
// clicking the wrong element.
var DefaultSettings = Settings{
	RetryAttempts:   3,
	RetryDelayMs:    1000,
	MinConfidence:   60,
	ScheduleEnabled: false,
	ScheduleCron:    "0 6 * * *",
}

// RunStatus is the lifecycle state of one recording's playback run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunRecord is one entry in the persistent run history: a single recording's
// playback within one batch or manual invocation.
type RunRecord struct {
	ID            string     `json:"id"`
	RecordingID   string     `json:"recording_id"`
	RecordingName string     `json:"recording_name"`
	Status        RunStatus  `json:"status"`
	StepsTotal    int        `json:"steps_total"`
	StepsDone     int        `json:"steps_done"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}
