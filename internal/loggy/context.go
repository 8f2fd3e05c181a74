package loggy

import (
	"context"

	"github.com/tildaslashalef/offsync/internal/ulid"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	syncIDKey contextKey = "sync_id"
)

// FromContext retrieves the logger from the context, falling back to the global logger
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*Logger); ok && logger != nil {
			return logger
		}
	}
	return GetGlobalLogger()
}

// WithLogger returns a new context with the logger attached
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// SyncID returns the sync pass identifier carried by ctx, if any
func SyncID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(syncIDKey).(string)
	return id
}

// WithSyncID tags ctx with a fresh sync pass identifier and attaches a logger carrying it.
// An existing identifier is kept so nested passes log under their parent.
func WithSyncID(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if SyncID(ctx) != "" {
		return ctx
	}
	id := ulid.SyncID()
	ctx = context.WithValue(ctx, syncIDKey, id)
	return WithLogger(ctx, FromContext(ctx).With("sync_id", id))
}
