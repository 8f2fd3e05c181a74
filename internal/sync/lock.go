package sync

import (
	"context"
	"sync"
	"sync/atomic"
)

// Call is an in-flight sync shared by every caller that asked for the same entity
type Call struct {
	done   chan struct{}
	joined atomic.Int32
	result *Result
	err    error
}

// Joined returns how many callers are sharing this call besides the one running it
func (c *Call) Joined() int {
	return int(c.joined.Load())
}

// Done is closed once the call settles
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call settles or ctx ends. Ending ctx only stops the
// wait, the call keeps running.
func (c *Call) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LockRegistry guarantees at most one sync in flight per entity
type LockRegistry struct {
	mu    sync.Mutex
	calls map[EntityKey]*Call
}

// NewLockRegistry creates an empty registry
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{calls: make(map[EntityKey]*Call)}
}

// IsSyncing reports whether a sync of key is in flight
func (l *LockRegistry) IsSyncing(key EntityKey) bool {
	return l.Ongoing(key) != nil
}

// Ongoing returns the in-flight call for key, or nil
func (l *LockRegistry) Ongoing(key EntityKey) *Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[key]
}

// Run executes fn unless a call for key is already in flight, in which case
// it waits for that call and returns its outcome. The entry is removed when fn
// returns, whatever the outcome.
//
// fn receives a context that is not cancelled with ctx: once started, an
// attempt runs to completion.
func (l *LockRegistry) Run(ctx context.Context, key EntityKey, fn func(context.Context) (*Result, error)) (*Result, error) {
	l.mu.Lock()
	if c, ok := l.calls[key]; ok {
		c.joined.Add(1)
		l.mu.Unlock()
		return c.Wait(ctx)
	}
	c := &Call{done: make(chan struct{})}
	l.calls[key] = c
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		if l.calls[key] == c {
			delete(l.calls, key)
		}
		l.mu.Unlock()
		close(c.done)
	}()

	c.result, c.err = fn(context.WithoutCancel(ctx))
	return c.result, c.err
}

// Len returns the number of calls in flight
func (l *LockRegistry) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

// Reset forgets every entry. Calls already running finish on their own but
// new callers no longer join them.
func (l *LockRegistry) Reset() {
	l.mu.Lock()
	l.calls = make(map[EntityKey]*Call)
	l.mu.Unlock()
}
