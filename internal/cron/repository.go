package cron

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/offsync/internal/loggy"
)

// Repository persists the last execution time of each job
type Repository interface {
	// GetLastExecution returns the zero time when the job never ran
	GetLastExecution(ctx context.Context, jobName string) (time.Time, error)
	SetLastExecution(ctx context.Context, jobName string, t time.Time) error
	ListExecutions(ctx context.Context) (map[string]time.Time, error)
}

// SQLRepository implements Repository on the cron_executions table
type SQLRepository struct {
	db     *sql.DB
	logger *loggy.Logger
}

// NewSQLRepository creates a new SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{db: db, logger: logger}
}

// GetLastExecution returns when jobName last completed
func (r *SQLRepository) GetLastExecution(ctx context.Context, jobName string) (time.Time, error) {
	query, args, err := squirrel.Select("executed_at").
		From("cron_executions").
		Where(squirrel.Eq{"job_name": jobName}).
		ToSql()
	if err != nil {
		return time.Time{}, fmt.Errorf("building get last execution query: %w", err)
	}

	var executedAt time.Time
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&executedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("executing get last execution query: %w", err)
	}
	return executedAt, nil
}

// SetLastExecution records when jobName last completed
func (r *SQLRepository) SetLastExecution(ctx context.Context, jobName string, t time.Time) error {
	query, args, err := squirrel.Insert("cron_executions").
		Columns("job_name", "executed_at").
		Values(jobName, t.UTC()).
		Suffix("ON CONFLICT(job_name) DO UPDATE SET executed_at = excluded.executed_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building set last execution query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing set last execution query: %w", err)
	}
	return nil
}

// ListExecutions returns the last execution of every job that ran
func (r *SQLRepository) ListExecutions(ctx context.Context) (map[string]time.Time, error) {
	query, args, err := squirrel.Select("job_name", "executed_at").
		From("cron_executions").
		OrderBy("job_name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list executions query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list executions query: %w", err)
	}
	defer rows.Close()

	executions := make(map[string]time.Time)
	for rows.Next() {
		var (
			name string
			at   time.Time
		)
		if err := rows.Scan(&name, &at); err != nil {
			return nil, fmt.Errorf("scanning execution row: %w", err)
		}
		executions[name] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating execution rows: %w", err)
	}
	return executions, nil
}
