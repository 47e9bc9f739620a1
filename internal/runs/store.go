package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"aftermath/internal/config"
)

// Store manages run persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

// Open initializes or connects to the run database and applies the schema.
// A file lock next to the database serializes access across concurrent CLI
// invocations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.RunDatabasePath()
	lock := flock.New(dbPath + ".lock")
	lockCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock run database: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("run database %s is locked by another aftermath process", dbPath)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, lock: lock}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection and releases the file lock.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); err == nil {
			err = unlockErr
		}
	}
	return err
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Create inserts a new run in pending state. Slug, disaster metadata, and
// bucket must already be populated on the run.
func (s *Store) Create(ctx context.Context, run *Run) (*Run, error) {
	if strings.TrimSpace(run.Slug) == "" {
		return nil, errors.New("run slug must not be empty")
	}
	if strings.TrimSpace(run.Bucket) == "" {
		return nil, errors.New("run bucket must not be empty")
	}
	if run.Status == "" {
		run.Status = StatusPending
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (
            slug, disaster, event_name, country, organisation, run_label,
            year, month, bucket, status,
            before_pattern, after_pattern, aoi_path,
            labeled_path, labeled_key, label_map_json, semi_supervised,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Slug,
		run.Disaster,
		run.EventName,
		run.Country,
		run.Organisation,
		run.RunLabel,
		run.Year,
		run.Month,
		run.Bucket,
		run.Status,
		run.BeforePattern,
		run.AfterPattern,
		run.AOIPath,
		run.LabeledPath,
		run.LabeledKey,
		run.LabelMapJSON,
		boolToInt(run.SemiSupervised),
		timestamp,
		timestamp,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSlug, run.Slug)
		}
		return nil, fmt.Errorf("insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a run by its numeric identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return run, err
}

// GetBySlug fetches a run by its project slug.
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" FROM runs WHERE slug = ?", strings.TrimSpace(slug))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	return run, err
}

// List returns all runs ordered by creation time, newest first.
func (s *Store) List(ctx context.Context) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" FROM runs ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var result []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

// Update persists every mutable field of the run.
func (s *Store) Update(ctx context.Context, run *Run) error {
	if run == nil || run.ID == 0 {
		return errors.New("run must have an id")
	}
	run.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET
            status = ?,
            before_pattern = ?, after_pattern = ?, aoi_path = ?,
            before_paths = ?, after_paths = ?,
            labeled_path = ?, labeled_key = ?, label_map_json = ?, semi_supervised = ?,
            example_gen_job_id = ?, examples_dir = ?,
            dataset_id = ?, dataset_name = ?,
            labeling_job_id = ?, labeling_job_name = ?, labeling_percent = ?,
            dataset_job_id = ?,
            train_path = ?, test_path = ?,
            train_job_id = ?, eval_job_id = ?, checkpoint = ?,
            inference_job_id = ?, predictions_path = ?,
            progress_stage = ?, progress_percent = ?, progress_message = ?,
            error_message = ?, needs_review = ?, review_reason = ?,
            updated_at = ?
        WHERE id = ?`,
		run.Status,
		run.BeforePattern, run.AfterPattern, run.AOIPath,
		run.BeforePaths, run.AfterPaths,
		run.LabeledPath, run.LabeledKey, run.LabelMapJSON, boolToInt(run.SemiSupervised),
		run.ExampleGenJobID, run.ExamplesDir,
		run.DatasetID, run.DatasetName,
		run.LabelingJobID, run.LabelingJobName, run.LabelingPercent,
		run.DatasetJobID,
		run.TrainPath, run.TestPath,
		run.TrainJobID, run.EvalJobID, run.Checkpoint,
		run.InferenceJobID, run.PredictionsPath,
		run.ProgressStage, run.ProgressPercent, run.ProgressMessage,
		run.ErrorMessage, boolToInt(run.NeedsReview), run.ReviewReason,
		run.UpdatedAt.Format(time.RFC3339Nano),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run %d: %w", run.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, run.ID)
	}
	return nil
}

// Delete removes a run record.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete run %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

const selectColumns = `SELECT
    id, slug, disaster, event_name, country, organisation, run_label,
    year, month, bucket, status,
    before_pattern, after_pattern, aoi_path, before_paths, after_paths,
    labeled_path, labeled_key, label_map_json, semi_supervised,
    example_gen_job_id, examples_dir,
    dataset_id, dataset_name, labeling_job_id, labeling_job_name, labeling_percent,
    dataset_job_id,
    train_path, test_path, train_job_id, eval_job_id, checkpoint,
    inference_job_id, predictions_path,
    progress_stage, progress_percent, progress_message,
    error_message, needs_review, review_reason,
    created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var semiSupervised, needsReview int
	var status, createdAt, updatedAt string

	err := row.Scan(
		&run.ID, &run.Slug, &run.Disaster, &run.EventName, &run.Country,
		&run.Organisation, &run.RunLabel,
		&run.Year, &run.Month, &run.Bucket, &status,
		&run.BeforePattern, &run.AfterPattern, &run.AOIPath,
		&run.BeforePaths, &run.AfterPaths,
		&run.LabeledPath, &run.LabeledKey, &run.LabelMapJSON, &semiSupervised,
		&run.ExampleGenJobID, &run.ExamplesDir,
		&run.DatasetID, &run.DatasetName,
		&run.LabelingJobID, &run.LabelingJobName, &run.LabelingPercent,
		&run.DatasetJobID,
		&run.TrainPath, &run.TestPath,
		&run.TrainJobID, &run.EvalJobID, &run.Checkpoint,
		&run.InferenceJobID, &run.PredictionsPath,
		&run.ProgressStage, &run.ProgressPercent, &run.ProgressMessage,
		&run.ErrorMessage, &needsReview, &run.ReviewReason,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = Status(status)
	run.SemiSupervised = semiSupervised != 0
	run.NeedsReview = needsReview != 0
	if run.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if run.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &run, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
