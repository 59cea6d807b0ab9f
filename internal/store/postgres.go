package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/tjbishop07/autoteller/api/schemas"
)

// ErrNotFound marks lookups for recordings that do not exist.
var ErrNotFound = errors.New("not found")

const defaultRunListLimit = 50

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Store is the PostgreSQL implementation of schemas.Store. Step payloads are
// kept as JSONB so the recording editor and this replayer share one format.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.Store = (*Store)(nil)

// New creates a store on an existing pool and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Connect opens a pgx pool for the given URL and returns a verified store.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS recordings (
		id         UUID PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		start_url  TEXT NOT NULL,
		account_id TEXT NOT NULL DEFAULT '',
		steps      JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS settings (
		id         INT PRIMARY KEY CHECK (id = 1),
		data       JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS runs (
		id             UUID PRIMARY KEY,
		recording_id   TEXT NOT NULL,
		recording_name TEXT NOT NULL,
		status         TEXT NOT NULL,
		steps_total    INT NOT NULL DEFAULT 0,
		steps_done     INT NOT NULL DEFAULT 0,
		error          TEXT NOT NULL DEFAULT '',
		started_at     TIMESTAMPTZ NOT NULL,
		finished_at    TIMESTAMPTZ
	);`,
	`CREATE INDEX IF NOT EXISTS runs_started_at_idx ON runs (started_at DESC);`,
}

// EnsureSchema creates the tables this store needs if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	s.log.Debug("Database schema verified.")
	return nil
}

// -- Recordings --

const recordingColumns = `id, name, start_url, account_id, steps, created_at, updated_at`

func scanRecording(row pgx.Row) (*schemas.Recording, error) {
	var rec schemas.Recording
	var steps []byte
	err := row.Scan(&rec.ID, &rec.Name, &rec.StartURL, &rec.AccountID, &steps, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &rec.Steps); err != nil {
			return nil, fmt.Errorf("failed to decode steps for recording %q: %w", rec.Name, err)
		}
	}
	return &rec, nil
}

// ListRecordings returns every stored recording ordered by name.
func (s *Store) ListRecordings(ctx context.Context) ([]schemas.Recording, error) {
	query := `SELECT ` + recordingColumns + ` FROM recordings ORDER BY name;`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query recordings: %w", err)
	}
	defer rows.Close()

	var recs []schemas.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recording row: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return recs, nil
}

// GetRecording retrieves one recording by name or id.
func (s *Store) GetRecording(ctx context.Context, name string) (*schemas.Recording, error) {
	query := `SELECT ` + recordingColumns + ` FROM recordings WHERE name = $1 OR id::text = $1;`
	rec, err := scanRecording(s.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("recording %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load recording %q: %w", name, err)
	}
	return rec, nil
}

// SaveRecording inserts or updates a recording, keyed by name. Missing id and
// created_at are filled in; updated_at always advances.
func (s *Store) SaveRecording(ctx context.Context, rec *schemas.Recording) error {
	if rec.Name == "" {
		return fmt.Errorf("recording name is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}
	if len(rec.Steps) == 0 {
		steps = []byte("[]")
	}

	query := `
		INSERT INTO recordings (id, name, start_url, account_id, steps, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE SET
			start_url  = EXCLUDED.start_url,
			account_id = EXCLUDED.account_id,
			steps      = EXCLUDED.steps,
			updated_at = EXCLUDED.updated_at;
	`
	if _, err := s.pool.Exec(ctx, query, rec.ID, rec.Name, rec.StartURL, rec.AccountID, steps, rec.CreatedAt, rec.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save recording %q: %w", rec.Name, err)
	}
	s.log.Info("Recording saved.", zap.String("name", rec.Name), zap.Int("steps", len(rec.Steps)))
	return nil
}

// DeleteRecording removes a recording by name or id.
func (s *Store) DeleteRecording(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recordings WHERE name = $1 OR id::text = $1;`, name)
	if err != nil {
		return fmt.Errorf("failed to delete recording %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("recording %q: %w", name, ErrNotFound)
	}
	s.log.Info("Recording deleted.", zap.String("name", name))
	return nil
}

// -- Settings --

// GetSettings returns the stored settings, or the defaults when the table is
// empty.
func (s *Store) GetSettings(ctx context.Context) (schemas.Settings, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM settings WHERE id = 1;`).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schemas.DefaultSettings, nil
		}
		return schemas.Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}

	settings := schemas.DefaultSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return schemas.Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	return settings, nil
}

// UpdateSettings replaces the stored settings.
func (s *Store) UpdateSettings(ctx context.Context, settings schemas.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	query := `
		INSERT INTO settings (id, data, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
			data       = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at;
	`
	if _, err := s.pool.Exec(ctx, query, data, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	s.log.Info("Settings updated.")
	return nil
}

// -- Run history --

// InsertRun records the start of a recording's playback.
func (s *Store) InsertRun(ctx context.Context, run *schemas.RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO runs (id, recording_id, recording_name, status, steps_total, steps_done, error, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, err := s.pool.Exec(ctx, query,
		run.ID, run.RecordingID, run.RecordingName, string(run.Status),
		run.StepsTotal, run.StepsDone, run.Error, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run for %q: %w", run.RecordingName, err)
	}
	return nil
}

// FinishRun records the outcome of a previously inserted run.
func (s *Store) FinishRun(ctx context.Context, run *schemas.RunRecord) error {
	query := `
		UPDATE runs SET status = $2, steps_done = $3, error = $4, finished_at = $5
		WHERE id = $1;
	`
	_, err := s.pool.Exec(ctx, query,
		run.ID, string(run.Status), run.StepsDone, run.Error, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to finish run for %q: %w", run.RecordingName, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]schemas.RunRecord, error) {
	if limit <= 0 {
		limit = defaultRunListLimit
	}
	query := `
		SELECT id, recording_id, recording_name, status, steps_total, steps_done, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT $1;
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []schemas.RunRecord
	for rows.Next() {
		var run schemas.RunRecord
		var status string
		err := rows.Scan(&run.ID, &run.RecordingID, &run.RecordingName, &status,
			&run.StepsTotal, &run.StepsDone, &run.Error, &run.StartedAt, &run.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		run.Status = schemas.RunStatus(status)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
