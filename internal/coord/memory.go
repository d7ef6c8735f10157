package coord

import (
	"context"
	"sync"
)

// MemoryBuffer implements Buffer in process memory. It serves single-node
// deployments that run without Redis and doubles as the test implementation;
// the semantics (ordered appends, length-after-append, whole-key deletes)
// match RedisBuffer exactly.
type MemoryBuffer struct {
	mu    sync.Mutex
	lists map[string][][]byte
}

// NewMemory creates an empty in-process buffer.
func NewMemory() *MemoryBuffer {
	return &MemoryBuffer{lists: make(map[string][][]byte)}
}

// Exists reports whether the key holds any entries.
func (b *MemoryBuffer) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lists[key]) > 0, nil
}

// Append pushes a value to the tail of the list and returns its new length.
func (b *MemoryBuffer) Append(_ context.Context, key string, value []byte) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	b.lists[key] = append(b.lists[key], cp)
	return int64(len(b.lists[key])), nil
}

// ListAll returns every entry under the key in append order.
func (b *MemoryBuffer) ListAll(_ context.Context, key string) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.lists[key]
	out := make([][]byte, len(src))
	copy(out, src)
	return out, nil
}

// Delete removes the key and all its entries.
func (b *MemoryBuffer) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.lists, key)
	return nil
}
