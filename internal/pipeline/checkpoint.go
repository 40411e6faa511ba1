package pipeline

import (
	"context"
	"sync"
)

// CheckpointStore memoizes step results per event so a redelivered event
// resumes after its last completed step.
type CheckpointStore interface {
	Load(ctx context.Context, eventID, step string) ([]byte, bool, error)
	Save(ctx context.Context, eventID, step string, value []byte) error
	Clear(ctx context.Context, eventID string) error
}

// MemoryCheckpoints keeps checkpoints in process memory.
type MemoryCheckpoints struct {
	mu    sync.RWMutex
	steps map[string]map[string][]byte
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{steps: make(map[string]map[string][]byte)}
}

func (m *MemoryCheckpoints) Load(_ context.Context, eventID, step string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.steps[eventID][step]
	return value, ok, nil
}

func (m *MemoryCheckpoints) Save(_ context.Context, eventID, step string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.steps[eventID] == nil {
		m.steps[eventID] = make(map[string][]byte)
	}
	m.steps[eventID][step] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryCheckpoints) Clear(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.steps, eventID)
	return nil
}
