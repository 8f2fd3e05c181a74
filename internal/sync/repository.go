package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/offsync/internal/database"
	"github.com/tildaslashalef/offsync/internal/loggy"
	"github.com/tildaslashalef/offsync/internal/ulid"
)

var syncLogColumns = []string{
	"id", "site_id", "component", "entity_id", "forced", "started_at", "completed_at",
	"success", "updated", "warnings", "error_type", "error_message",
}

// Repository defines operations for the sync bookkeeping tables
type Repository interface {
	// GetSyncTime returns the last sync of an entity, the zero time when it never synced
	GetSyncTime(ctx context.Context, key EntityKey) (time.Time, error)

	// SetSyncTime records the last sync of an entity
	SetSyncTime(ctx context.Context, key EntityKey, t time.Time) error

	// AddWarnings stores warnings produced for a site
	AddWarnings(ctx context.Context, siteID string, warnings []Warning) error

	// TakeWarnings returns and deletes the stored warnings of an entity
	TakeWarnings(ctx context.Context, key EntityKey) ([]Warning, error)

	// ListWarnings returns every stored warning of a site, oldest first
	ListWarnings(ctx context.Context, siteID string) ([]*WarningRecord, error)

	// CreateSyncLog stores the log of one attempt
	CreateSyncLog(ctx context.Context, log *SyncLog) error

	// GetSyncLogs returns the most recent logs, optionally for one site
	GetSyncLogs(ctx context.Context, siteID string, limit int) ([]*SyncLog, error)
}

// SQLRepository implements the Repository interface using a SQL database
type SQLRepository struct {
	db     *sql.DB
	logger *loggy.Logger
	now    func() time.Time
}

// NewSQLRepository creates a new SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func keyWhere(key EntityKey) squirrel.Eq {
	return squirrel.Eq{"site_id": key.SiteID, "component": key.Component, "entity_id": key.EntityID}
}

// GetSyncTime returns the last sync of an entity
func (r *SQLRepository) GetSyncTime(ctx context.Context, key EntityKey) (time.Time, error) {
	query, args, err := squirrel.Select("synced_at").
		From("sync_times").
		Where(keyWhere(key)).
		ToSql()
	if err != nil {
		return time.Time{}, fmt.Errorf("building get sync time query: %w", err)
	}

	var syncedAt time.Time
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&syncedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("executing get sync time query: %w", err)
	}
	return syncedAt, nil
}

// SetSyncTime records the last sync of an entity
func (r *SQLRepository) SetSyncTime(ctx context.Context, key EntityKey, t time.Time) error {
	query, args, err := squirrel.Insert("sync_times").
		Columns("site_id", "component", "entity_id", "synced_at").
		Values(key.SiteID, key.Component, key.EntityID, t.UTC()).
		Suffix("ON CONFLICT(site_id, component, entity_id) DO UPDATE SET synced_at = excluded.synced_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building set sync time query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing set sync time query: %w", err)
	}
	return nil
}

// AddWarnings stores warnings produced for a site
func (r *SQLRepository) AddWarnings(ctx context.Context, siteID string, warnings []Warning) error {
	if len(warnings) == 0 {
		return nil
	}

	now := r.now().UTC()
	q := squirrel.Insert("sync_warnings").
		Columns("id", "site_id", "component", "entity_id", "name", "message", "created_at")
	for _, w := range warnings {
		q = q.Values(ulid.WarningID(), siteID, w.Component, w.EntityID, w.Name, w.Reason, now)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building add warnings query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing add warnings query: %w", err)
	}
	return nil
}

// TakeWarnings returns and deletes the stored warnings of an entity
func (r *SQLRepository) TakeWarnings(ctx context.Context, key EntityKey) ([]Warning, error) {
	selectQuery, selectArgs, err := squirrel.Select("component", "entity_id", "name", "message").
		From("sync_warnings").
		Where(keyWhere(key)).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building take warnings query: %w", err)
	}

	deleteQuery, deleteArgs, err := squirrel.Delete("sync_warnings").Where(keyWhere(key)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building delete warnings query: %w", err)
	}

	var warnings []Warning
	err = database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, selectQuery, selectArgs...)
		if err != nil {
			return fmt.Errorf("executing take warnings query: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var w Warning
			if err := rows.Scan(&w.Component, &w.EntityID, &w.Name, &w.Reason); err != nil {
				return fmt.Errorf("scanning warning row: %w", err)
			}
			warnings = append(warnings, w)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating warning rows: %w", err)
		}
		rows.Close()

		if len(warnings) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, deleteQuery, deleteArgs...); err != nil {
			return fmt.Errorf("executing delete warnings query: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return warnings, nil
}

// ListWarnings returns every stored warning of a site, oldest first
func (r *SQLRepository) ListWarnings(ctx context.Context, siteID string) ([]*WarningRecord, error) {
	q := squirrel.Select("id", "site_id", "component", "entity_id", "name", "message", "created_at").
		From("sync_warnings").
		OrderBy("created_at ASC", "id ASC")
	if siteID != "" {
		q = q.Where(squirrel.Eq{"site_id": siteID})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list warnings query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list warnings query: %w", err)
	}
	defer rows.Close()

	var records []*WarningRecord
	for rows.Next() {
		var rec WarningRecord
		err := rows.Scan(
			&rec.ID,
			&rec.SiteID,
			&rec.Warning.Component,
			&rec.Warning.EntityID,
			&rec.Warning.Name,
			&rec.Warning.Reason,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning warning row: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating warning rows: %w", err)
	}
	return records, nil
}

// CreateSyncLog stores the log of one attempt
func (r *SQLRepository) CreateSyncLog(ctx context.Context, log *SyncLog) error {
	if log.ID == "" {
		log.ID = ulid.SyncID()
	}

	query, args, err := squirrel.Insert("sync_logs").
		Columns(syncLogColumns...).
		Values(
			log.ID, log.SiteID, log.Component, log.EntityID, log.Forced, log.StartedAt.UTC(), log.CompletedAt.UTC(),
			log.Success, log.Updated, log.Warnings, string(log.ErrorType), log.ErrorMessage,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building create sync log query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing create sync log query: %w", err)
	}
	return nil
}

// GetSyncLogs returns the most recent logs, newest first
func (r *SQLRepository) GetSyncLogs(ctx context.Context, siteID string, limit int) ([]*SyncLog, error) {
	q := squirrel.Select(syncLogColumns...).
		From("sync_logs").
		OrderBy("started_at DESC", "id DESC")

	if siteID != "" {
		q = q.Where(squirrel.Eq{"site_id": siteID})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get sync logs query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing get sync logs query: %w", err)
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		var (
			log       SyncLog
			errorType string
			completed sql.NullTime
		)
		err := rows.Scan(
			&log.ID,
			&log.SiteID,
			&log.Component,
			&log.EntityID,
			&log.Forced,
			&log.StartedAt,
			&completed,
			&log.Success,
			&log.Updated,
			&log.Warnings,
			&errorType,
			&log.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning sync log row: %w", err)
		}
		log.ErrorType = SyncErrorType(errorType)
		if completed.Valid {
			log.CompletedAt = completed.Time
		}
		logs = append(logs, &log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync log rows: %w", err)
	}
	return logs, nil
}
