package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/circularmachines/sharedinventory/internal/domain"
)

const runSchema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		mention_uri TEXT NOT NULL,
		root_uri TEXT,
		state TEXT NOT NULL,
		failed_stage TEXT,
		error_kind TEXT,
		error TEXT,
		note TEXT,
		video_url TEXT,
		video_path TEXT,
		reply TEXT,
		keywords TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
	CREATE INDEX IF NOT EXISTS idx_runs_mention_uri ON runs(mention_uri);
`

// SQLiteRunRepository persists runs in a SQLite database.
type SQLiteRunRepository struct {
	db *sql.DB
}

// NewSQLiteRunRepository opens (and migrates) the database at path.
func NewSQLiteRunRepository(path string) (*SQLiteRunRepository, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; the pipeline is sequential and the API only reads.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(runSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return &SQLiteRunRepository{db: db}, nil
}

// Save inserts or replaces a run.
func (r *SQLiteRunRepository) Save(ctx context.Context, run *domain.RunRecord) error {
	keywords, err := json.Marshal(run.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}

	var finished any
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, mention_uri, root_uri, state, failed_stage, error_kind, error,
			note, video_url, video_path, reply, keywords, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(run.ID), run.MentionURI, run.RootURI, string(run.State), string(run.FailedStage),
		run.ErrorKind, run.Error, run.Note, run.VideoURL, run.VideoPath, run.Reply,
		string(keywords), run.StartedAt.UTC(), finished)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, mention_uri, root_uri, state, failed_stage, error_kind, error,
	note, video_url, video_path, reply, keywords, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.RunRecord, error) {
	var run domain.RunRecord
	var id, state string
	var root, failedStage, kind, errMsg, note sql.NullString
	var videoURL, videoPath, reply, keywords sql.NullString
	var startedAt time.Time
	var finishedAt sql.NullTime
	if err := row.Scan(&id, &run.MentionURI, &root, &state, &failedStage, &kind, &errMsg,
		&note, &videoURL, &videoPath, &reply, &keywords, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	run.ID = domain.RunID(id)
	run.State = domain.RunState(state)
	run.RootURI = root.String
	run.FailedStage = domain.RunState(failedStage.String)
	run.ErrorKind = kind.String
	run.Error = errMsg.String
	run.Note = note.String
	run.VideoURL = videoURL.String
	run.VideoPath = videoPath.String
	run.Reply = reply.String
	run.StartedAt = startedAt
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	if keywords.Valid && keywords.String != "" && keywords.String != "null" {
		if err := json.Unmarshal([]byte(keywords.String), &run.Keywords); err != nil {
			return nil, fmt.Errorf("decode keywords: %w", err)
		}
	}
	return &run, nil
}

// Get retrieves a run by ID.
func (r *SQLiteRunRepository) Get(ctx context.Context, id domain.RunID) (*domain.RunRecord, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", string(id))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// List returns matching runs newest first.
func (r *SQLiteRunRepository) List(ctx context.Context, filter RunFilter) ([]*domain.RunRecord, error) {
	filter.normalize()

	var conditions []string
	var args []any
	if filter.State != nil {
		conditions = append(conditions, "state = ?")
		args = append(args, string(*filter.State))
	}
	if filter.MentionURI != "" {
		conditions = append(conditions, "mention_uri = ?")
		args = append(args, filter.MentionURI)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf("SELECT %s FROM runs %s ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?", runColumns, whereClause)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*domain.RunRecord, 0, filter.Limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Stats returns run statistics.
func (r *SQLiteRunRepository) Stats(ctx context.Context) (*RunStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT state, COALESCE(note, ''), COALESCE(failed_stage, ''), COUNT(*)
		FROM runs GROUP BY state, note, failed_stage
	`)
	if err != nil {
		return nil, fmt.Errorf("query run stats: %w", err)
	}
	defer rows.Close()

	stats := newRunStats()
	for rows.Next() {
		var state, note, stage string
		var n int
		if err := rows.Scan(&state, &note, &stage, &n); err != nil {
			return nil, fmt.Errorf("scan run stats: %w", err)
		}
		stats.add(domain.RunState(state), note, domain.RunState(stage), n)
	}
	return stats, rows.Err()
}

// Close closes the database.
func (r *SQLiteRunRepository) Close() error {
	return r.db.Close()
}
