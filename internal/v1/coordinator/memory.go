package coordinator

import (
	"context"
	"path"
	"sync"
)

// MemoryCoordinator is an in-process Coordinator used by unit tests for
// room, registry, and remotesync: a real Redis would make those tests slow
// and flaky across packages, so this fake reproduces pub/sub + hash-store
// semantics with plain maps instead. Publish invokes every matching pattern
// handler synchronously, on the publisher's goroutine.
type MemoryCoordinator struct {
	mu       sync.Mutex
	hashes   map[string]map[string]string
	patterns map[string]PatternHandler
	closed   bool
}

// NewMemoryCoordinator returns an empty, ready-to-use fake.
func NewMemoryCoordinator() *MemoryCoordinator {
	return &MemoryCoordinator{
		hashes:   make(map[string]map[string]string),
		patterns: make(map[string]PatternHandler),
	}
}

func (m *MemoryCoordinator) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	handlers := make([]PatternHandler, 0, len(m.patterns))
	for pattern, h := range m.patterns {
		if ok, _ := path.Match(pattern, channel); ok {
			handlers = append(handlers, h)
		}
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(channel, payload)
	}
	return nil
}

func (m *MemoryCoordinator) SubscribePattern(_ context.Context, pattern string, handler PatternHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns[pattern] = handler
	return nil
}

func (m *MemoryCoordinator) HashSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *MemoryCoordinator) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryCoordinator) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hashes, key)
	return nil
}

func (m *MemoryCoordinator) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return nil
}

func (m *MemoryCoordinator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
