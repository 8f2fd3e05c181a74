package sync

import (
	"sort"
	"sync"
)

// DefaultOperation is used when a block does not name its operation
const DefaultOperation = "default"

// BlockRegistry records foreground features that hold an entity. Each
// operation is released independently.
type BlockRegistry struct {
	mu     sync.RWMutex
	blocks map[EntityKey]map[string]struct{}
}

// NewBlockRegistry creates an empty registry
func NewBlockRegistry() *BlockRegistry {
	return &BlockRegistry{blocks: make(map[EntityKey]map[string]struct{})}
}

// Block marks key as held by operation
func (b *BlockRegistry) Block(key EntityKey, operation string) {
	operation = normalizeOperation(operation)

	b.mu.Lock()
	defer b.mu.Unlock()

	ops, ok := b.blocks[key]
	if !ok {
		ops = make(map[string]struct{})
		b.blocks[key] = ops
	}
	ops[operation] = struct{}{}
}

// Unblock releases the hold of operation on key
func (b *BlockRegistry) Unblock(key EntityKey, operation string) {
	operation = normalizeOperation(operation)

	b.mu.Lock()
	defer b.mu.Unlock()

	ops, ok := b.blocks[key]
	if !ok {
		return
	}
	delete(ops, operation)
	if len(ops) == 0 {
		delete(b.blocks, key)
	}
}

// IsBlocked reports whether any operation holds key
func (b *BlockRegistry) IsBlocked(key EntityKey) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blocks[key]) > 0
}

// Operations returns the operations holding key, sorted
func (b *BlockRegistry) Operations(key EntityKey) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ops := make([]string, 0, len(b.blocks[key]))
	for op := range b.blocks[key] {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Clear drops every block
func (b *BlockRegistry) Clear() {
	b.mu.Lock()
	b.blocks = make(map[EntityKey]map[string]struct{})
	b.mu.Unlock()
}

func (b *BlockRegistry) blockedError(key EntityKey) error {
	return &BlockedError{Key: key, Operations: b.Operations(key)}
}

func normalizeOperation(op string) string {
	if op == "" {
		return DefaultOperation
	}
	return op
}
