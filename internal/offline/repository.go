package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/offsync/internal/database"
	"github.com/tildaslashalef/offsync/internal/loggy"
	"github.com/tildaslashalef/offsync/internal/ulid"
)

const pendingActionsTable = "pending_actions"

var actionColumns = []string{
	"id", "site_id", "component", "entity_id", "user_id", "attempt_number",
	"reconcile_key", "partials", "payload", "finished", "created_at", "modified_at",
}

// upsertSuffix keeps the original id and created_at when the identity already exists
const upsertSuffix = "ON CONFLICT(site_id, component, entity_id, user_id, attempt_number) DO UPDATE SET " +
	"reconcile_key = excluded.reconcile_key, partials = excluded.partials, payload = excluded.payload, " +
	"finished = excluded.finished, modified_at = excluded.modified_at " +
	"RETURNING id"

// Repository defines the Local Action Log operations
type Repository interface {
	// Save inserts or overwrites the action stored under the same identity
	Save(ctx context.Context, action *PendingAction) error

	// Get returns the submission style action of a user, or nil when none is stored
	Get(ctx context.Context, siteID, component string, entityID, userID int64) (*PendingAction, error)

	// GetByAttempt returns the session user's action for an attempt, or nil when none is stored
	GetByAttempt(ctx context.Context, siteID, component string, entityID int64, attempt int) (*PendingAction, error)

	// ListByEntity returns every action stored for an entity, oldest first
	ListByEntity(ctx context.Context, siteID, component string, entityID int64) ([]*PendingAction, error)

	// ListAllPending returns every action stored for a site
	ListAllPending(ctx context.Context, siteID string) ([]*PendingAction, error)

	// ListSites returns the sites that have stored actions
	ListSites(ctx context.Context) ([]string, error)

	// Delete removes a submission style action; absent records are not an error
	Delete(ctx context.Context, siteID, component string, entityID, userID int64) error

	// DeleteAttempt removes the session user's action for an attempt; absent records are not an error
	DeleteAttempt(ctx context.Context, siteID, component string, entityID int64, attempt int) error

	// DeleteByID removes an action by id; absent records are not an error
	DeleteByID(ctx context.Context, id string) error

	// RemovePartials drops the partial writes with the given keys from a stored
	// action and leaves everything else as the latest save wrote it
	RemovePartials(ctx context.Context, id string, keys ...string) error

	// HasPendingData reports whether an entity has stored actions, false when the lookup fails
	HasPendingData(ctx context.Context, siteID, component string, entityID int64) bool
}

// SQLRepository implements Repository on SQLite
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
	userID  atomic.Int64
	now     func() time.Time
}

// NewSQLRepository creates a repository whose default owner is the session user userID
func NewSQLRepository(db *sql.DB, logger *loggy.Logger, userID int64) *SQLRepository {
	r := &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now:     time.Now,
	}
	r.userID.Store(userID)
	return r
}

// SetSessionUser changes the default owner of newly saved actions
func (r *SQLRepository) SetSessionUser(userID int64) {
	r.userID.Store(userID)
}

// SessionUser returns the default owner of newly saved actions
func (r *SQLRepository) SessionUser() int64 {
	return r.userID.Load()
}

// Save upserts the action in a single statement so readers never observe a half written record
func (r *SQLRepository) Save(ctx context.Context, action *PendingAction) error {
	if err := action.validate(); err != nil {
		return err
	}
	if action.UserID == 0 {
		action.UserID = r.SessionUser()
	}

	now := r.now().UTC()
	if action.ID == "" {
		action.ID = ulid.ActionID()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = now
	}
	action.ModifiedAt = now

	partials, err := json.Marshal(nonNilPartials(action.Partials))
	if err != nil {
		return fmt.Errorf("encoding partial writes: %w", err)
	}
	payload, err := json.Marshal(nonNilPayload(action.Payload))
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	query, args, err := r.builder.Insert(pendingActionsTable).
		Columns(actionColumns...).
		Values(
			action.ID, action.SiteID, action.Component, action.EntityID, action.UserID, action.AttemptNumber,
			action.ReconcileKey, string(partials), string(payload), action.Finished, action.CreatedAt, action.ModifiedAt,
		).
		Suffix(upsertSuffix).
		ToSql()
	if err != nil {
		return fmt.Errorf("building save pending action query: %w", err)
	}

	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&action.ID); err != nil {
		return fmt.Errorf("executing save pending action query: %w", err)
	}

	r.logger.Debug("Saved pending action",
		"id", action.ID,
		"component", action.Component,
		"entity_id", action.EntityID,
		"attempt", action.AttemptNumber,
	)
	return nil
}

// Get returns the submission style action of a user
func (r *SQLRepository) Get(ctx context.Context, siteID, component string, entityID, userID int64) (*PendingAction, error) {
	if userID == 0 {
		userID = r.SessionUser()
	}
	return r.getOne(ctx, sq.Eq{
		"site_id":        siteID,
		"component":      component,
		"entity_id":      entityID,
		"user_id":        userID,
		"attempt_number": 0,
	})
}

// GetByAttempt returns the session user's action for an attempt
func (r *SQLRepository) GetByAttempt(ctx context.Context, siteID, component string, entityID int64, attempt int) (*PendingAction, error) {
	return r.getOne(ctx, sq.Eq{
		"site_id":        siteID,
		"component":      component,
		"entity_id":      entityID,
		"user_id":        r.SessionUser(),
		"attempt_number": attempt,
	})
}

func (r *SQLRepository) getOne(ctx context.Context, where sq.Eq) (*PendingAction, error) {
	query, args, err := r.builder.Select(actionColumns...).
		From(pendingActionsTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get pending action query: %w", err)
	}

	action, err := scanAction(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("executing get pending action query: %w", err)
	}
	return action, nil
}

// ListByEntity returns every action stored for an entity, oldest first
func (r *SQLRepository) ListByEntity(ctx context.Context, siteID, component string, entityID int64) ([]*PendingAction, error) {
	return r.list(ctx, sq.Eq{"site_id": siteID, "component": component, "entity_id": entityID})
}

// ListAllPending returns every action stored for a site, oldest first
func (r *SQLRepository) ListAllPending(ctx context.Context, siteID string) ([]*PendingAction, error) {
	return r.list(ctx, sq.Eq{"site_id": siteID})
}

func (r *SQLRepository) list(ctx context.Context, where sq.Eq) ([]*PendingAction, error) {
	query, args, err := r.builder.Select(actionColumns...).
		From(pendingActionsTable).
		Where(where).
		OrderBy("modified_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list pending actions query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list pending actions query: %w", err)
	}
	defer rows.Close()

	var actions []*PendingAction
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pending action row: %w", err)
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending action rows: %w", err)
	}
	return actions, nil
}

// ListSites returns the sites that have stored actions
func (r *SQLRepository) ListSites(ctx context.Context) ([]string, error) {
	query, args, err := r.builder.Select("DISTINCT site_id").
		From(pendingActionsTable).
		OrderBy("site_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list sites query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list sites query: %w", err)
	}
	defer rows.Close()

	var sites []string
	for rows.Next() {
		var site string
		if err := rows.Scan(&site); err != nil {
			return nil, fmt.Errorf("scanning site row: %w", err)
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// Delete removes a submission style action
func (r *SQLRepository) Delete(ctx context.Context, siteID, component string, entityID, userID int64) error {
	if userID == 0 {
		userID = r.SessionUser()
	}
	return r.delete(ctx, sq.Eq{
		"site_id":        siteID,
		"component":      component,
		"entity_id":      entityID,
		"user_id":        userID,
		"attempt_number": 0,
	})
}

// DeleteAttempt removes the session user's action for an attempt
func (r *SQLRepository) DeleteAttempt(ctx context.Context, siteID, component string, entityID int64, attempt int) error {
	return r.delete(ctx, sq.Eq{
		"site_id":        siteID,
		"component":      component,
		"entity_id":      entityID,
		"user_id":        r.SessionUser(),
		"attempt_number": attempt,
	})
}

// DeleteByID removes an action by id
func (r *SQLRepository) DeleteByID(ctx context.Context, id string) error {
	return r.delete(ctx, sq.Eq{"id": id})
}

// RemovePartials rewrites the partials of one action inside a transaction
func (r *SQLRepository) RemovePartials(ctx context.Context, id string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}

	selectQuery, selectArgs, err := r.builder.Select("partials").
		From(pendingActionsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building select partials query: %w", err)
	}

	return database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, selectQuery, selectArgs...).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading partials of %s: %w", id, err)
		}

		var partials []PartialWrite
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &partials); err != nil {
				return fmt.Errorf("decoding partial writes of %s: %w", id, err)
			}
		}
		kept := partials[:0]
		for _, p := range partials {
			if !drop[p.Key] {
				kept = append(kept, p)
			}
		}
		if len(kept) == len(partials) {
			return nil
		}

		encoded, err := json.Marshal(nonNilPartials(kept))
		if err != nil {
			return fmt.Errorf("encoding partial writes: %w", err)
		}

		query, args, err := r.builder.Update(pendingActionsTable).
			Set("partials", string(encoded)).
			Where(sq.Eq{"id": id}).
			ToSql()
		if err != nil {
			return fmt.Errorf("building update partials query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("executing update partials query: %w", err)
		}
		return nil
	})
}

func (r *SQLRepository) delete(ctx context.Context, where sq.Eq) error {
	query, args, err := r.builder.Delete(pendingActionsTable).Where(where).ToSql()
	if err != nil {
		return fmt.Errorf("building delete pending action query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete pending action query: %w", err)
	}
	return nil
}

// HasPendingData reports whether an entity has stored actions
func (r *SQLRepository) HasPendingData(ctx context.Context, siteID, component string, entityID int64) bool {
	query, args, err := r.builder.Select("COUNT(*)").
		From(pendingActionsTable).
		Where(sq.Eq{"site_id": siteID, "component": component, "entity_id": entityID}).
		ToSql()
	if err != nil {
		r.logger.Warn("Failed to build pending data query", "error", err)
		return false
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		r.logger.Warn("Failed to check pending data", "component", component, "entity_id", entityID, "error", err)
		return false
	}
	return count > 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (*PendingAction, error) {
	var (
		a        PendingAction
		partials string
		payload  string
	)
	err := row.Scan(
		&a.ID, &a.SiteID, &a.Component, &a.EntityID, &a.UserID, &a.AttemptNumber,
		&a.ReconcileKey, &partials, &payload, &a.Finished, &a.CreatedAt, &a.ModifiedAt,
	)
	if err != nil {
		return nil, err
	}

	if partials != "" {
		if err := json.Unmarshal([]byte(partials), &a.Partials); err != nil {
			return nil, fmt.Errorf("decoding partial writes of %s: %w", a.ID, err)
		}
	}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &a.Payload); err != nil {
			return nil, fmt.Errorf("decoding payload of %s: %w", a.ID, err)
		}
	}
	if len(a.Payload) == 0 {
		a.Payload = nil
	}
	if len(a.Partials) == 0 {
		a.Partials = nil
	}
	return &a, nil
}

func nonNilPartials(p []PartialWrite) []PartialWrite {
	if p == nil {
		return []PartialWrite{}
	}
	return p
}

func nonNilPayload(p Payload) Payload {
	if p == nil {
		return Payload{}
	}
	return p
}
