package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"apphost/internal/errors"
	"apphost/internal/runstate"
)

// HistoryStore defines the run history operations used by the CLI and the
// orchestrator
type HistoryStore interface {
	CreateRun(ctx context.Context, run *Run) error
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, errMsg string) error
	FinishRun(ctx context.Context, id string, status RunStatus, errMsg string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, opts PaginationOptions) (*PaginatedResponse[*Run], error)
	RecordTransition(ctx context.Context, runID string, e runstate.Event) error
	ListTransitions(ctx context.Context, runID string) ([]*Transition, error)
}

var _ HistoryStore = (*DB)(nil)

// CreateRun inserts a new run
func (db *DB) CreateRun(ctx context.Context, run *Run) error {
	if run.Status == "" {
		run.Status = RunStarting
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.UpdatedAt = run.StartedAt

	query := `
		INSERT INTO runs (id, manifest, status, error, metadata, started_at, updated_at)
		VALUES (:id, :manifest, :status, :error, :metadata, :started_at, :updated_at)
	`
	if _, err := db.NamedExecContext(ctx, query, run); err != nil {
		return errors.DatabaseQueryFailed("insert run", err)
	}
	return nil
}

// UpdateRunStatus changes the status of a run that is still in progress
func (db *DB) UpdateRunStatus(ctx context.Context, id string, status RunStatus, errMsg string) error {
	res, err := db.ExecContext(ctx, `UPDATE runs SET status = ?, error = ? WHERE id = ?`, status, errMsg, id)
	if err != nil {
		return errors.DatabaseQueryFailed("update run", err)
	}
	return expectOne(res, id)
}

// FinishRun records the final status and end time of a run
func (db *DB) FinishRun(ctx context.Context, id string, status RunStatus, errMsg string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, ended_at = ? WHERE id = ?`,
		status, errMsg, time.Now().UTC(), id)
	if err != nil {
		return errors.DatabaseQueryFailed("finish run", err)
	}
	return expectOne(res, id)
}

// GetRun returns one run
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	err := db.GetContext(ctx, run, `
		SELECT id, manifest, status, error, metadata, started_at, ended_at, updated_at
		FROM runs WHERE id = ?
	`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.RunNotFound(id)
	}
	if err != nil {
		return nil, errors.DatabaseQueryFailed("get run", err)
	}
	return run, nil
}

// ListRuns returns one page of runs
func (db *DB) ListRuns(ctx context.Context, opts PaginationOptions) (*PaginatedResponse[*Run], error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "Invalid pagination", err)
	}

	var total int
	if err := db.GetContext(ctx, &total, `SELECT COUNT(*) FROM runs`); err != nil {
		return nil, errors.DatabaseQueryFailed("count runs", err)
	}

	query := fmt.Sprintf(`
		SELECT id, manifest, status, error, metadata, started_at, ended_at, updated_at
		FROM runs %s %s
	`, opts.BuildOrderClause(), opts.BuildLimitClause())

	runs := []*Run{}
	if err := db.SelectContext(ctx, &runs, query); err != nil {
		return nil, errors.DatabaseQueryFailed("list runs", err)
	}
	return NewPaginatedResponse(runs, opts, total), nil
}

// RecordTransition appends one state change to a run
func (db *DB) RecordTransition(ctx context.Context, runID string, e runstate.Event) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transitions (run_id, resource, from_state, to_state, error, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, e.Resource, string(e.From), string(e.To), e.Error, e.At.UTC())
	if err != nil {
		return errors.DatabaseQueryFailed("insert transition", err)
	}
	return nil
}

// ListTransitions returns the state changes of a run in the order they happened
func (db *DB) ListTransitions(ctx context.Context, runID string) ([]*Transition, error) {
	transitions := []*Transition{}
	err := db.SelectContext(ctx, &transitions, `
		SELECT id, run_id, resource, from_state, to_state, error, at
		FROM transitions WHERE run_id = ?
		ORDER BY at ASC, id ASC
	`, runID)
	if err != nil {
		return nil, errors.DatabaseQueryFailed("list transitions", err)
	}
	return transitions, nil
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.DatabaseQueryFailed("rows affected", err)
	}
	if n == 0 {
		return errors.RunNotFound(id)
	}
	return nil
}
