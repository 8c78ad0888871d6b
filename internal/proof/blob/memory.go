// Package blob stores document bytes. Every backend returns the SHA-256 content
// hash alongside a backend-specific locator.
package blob

import (
	"context"
	"sync"

	"kycvault/internal/proof"
)

// Memory keeps content in process, addressed by hash. Storing the same bytes twice
// is a no-op.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, _ string, _ string, content []byte) (proof.Blob, error) {
	if err := ctx.Err(); err != nil {
		return proof.Blob{}, err
	}
	hash := proof.HashContent(content)
	m.mu.Lock()
	if _, ok := m.objects[hash]; !ok {
		m.objects[hash] = append([]byte(nil), content...)
	}
	m.mu.Unlock()
	return proof.Blob{Hash: hash, Locator: "mem://" + hash, Size: int64(len(content))}, nil
}

// Get returns a copy of the stored content.
func (m *Memory) Get(hash string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[hash]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}
