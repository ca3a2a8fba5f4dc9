package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

// Store keeps an index of pipeline runs and the files each frame produced.
type Store struct {
	conn *pgx.Conn
}

// Run is one row of pipeline_runs.
type Run struct {
	ID         uuid.UUID
	VideoPath  string
	SaveDir    string
	Status     string
	FrameCount int
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id UUID PRIMARY KEY,
			video_path TEXT NOT NULL,
			save_dir TEXT NOT NULL,
			status TEXT NOT NULL,
			metadata JSONB,
			frame_count INT NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ DEFAULT NOW(),
			finished_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS frame_results (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID REFERENCES pipeline_runs(id) ON DELETE CASCADE,
			frame_idx INT NOT NULL,
			image_path TEXT NOT NULL,
			face_path TEXT NOT NULL,
			face_result BYTEA NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE (run_id, frame_idx)
		);
		CREATE INDEX IF NOT EXISTS pipeline_runs_started_at_idx ON pipeline_runs (started_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// StartRun registers a new run in the running state.
func (s *Store) StartRun(ctx context.Context, runID uuid.UUID, videoPath, saveDir string) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO pipeline_runs (id, video_path, save_dir, status, started_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, runID, videoPath, saveDir, StatusRunning)
	return err
}

// RecordMetadata stores the metadata document the frame service returned for a run.
func (s *Store) RecordMetadata(ctx context.Context, runID uuid.UUID, metadata []byte) error {
	_, err := s.conn.Exec(ctx, "UPDATE pipeline_runs SET metadata = $1::jsonb WHERE id = $2", string(metadata), runID)
	return err
}

// RecordFrame saves where a frame's image and face result were written.
// The face result is stored as raw bytes, exactly as the service sent it.
func (s *Store) RecordFrame(ctx context.Context, runID uuid.UUID, frameIdx int, imagePath, facePath string, faceResult []byte) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO frame_results (run_id, frame_idx, image_path, face_path, face_result)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, frame_idx) DO UPDATE
		SET image_path = EXCLUDED.image_path, face_path = EXCLUDED.face_path, face_result = EXCLUDED.face_result
	`, runID, frameIdx, imagePath, facePath, faceResult)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE pipeline_runs
		SET frame_count = (SELECT COUNT(*) FROM frame_results WHERE run_id = $1)
		WHERE id = $1
	`, runID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// FinishRun marks a run completed, or aborted when runErr is not nil.
func (s *Store) FinishRun(ctx context.Context, runID uuid.UUID, runErr error) error {
	status, msg := StatusCompleted, ""
	if runErr != nil {
		status, msg = StatusAborted, runErr.Error()
	}
	_, err := s.conn.Exec(ctx, `
		UPDATE pipeline_runs SET status = $1, error = $2, finished_at = NOW() WHERE id = $3
	`, status, msg, runID)
	return err
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, video_path, save_dir, status, frame_count, error, started_at, finished_at
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.VideoPath, &r.SaveDir, &r.Status, &r.FrameCount, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// FrameFaceResult returns the stored face result bytes for one frame of a run.
func (s *Store) FrameFaceResult(ctx context.Context, runID uuid.UUID, frameIdx int) ([]byte, error) {
	var out []byte
	err := s.conn.QueryRow(ctx, "SELECT face_result FROM frame_results WHERE run_id = $1 AND frame_idx = $2", runID, frameIdx).Scan(&out)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("no result for frame %d of run %s", frameIdx, runID)
	}
	return out, err
}

// Reset drops all application tables to clear the database state.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS frame_results CASCADE;
		DROP TABLE IF EXISTS pipeline_runs CASCADE;
	`)
	return err
}
