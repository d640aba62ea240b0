package request

import (
	"context"
	"sort"
	"sync"

	"github.com/CultureM8/culture-mate-chat-bridge/internal/apperr"
)

// MemoryRepository keeps requests in process memory. Used by tests and as
// the default when no Mongo URI is configured.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]*Request
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*Request)}
}

func (m *MemoryRepository) Insert(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[r.ID] = r.clone()
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, apperr.NotFound("request %s", id)
	}
	return r.clone(), nil
}

func (m *MemoryRepository) Update(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[r.ID]; !ok {
		return apperr.NotFound("request %s", r.ID)
	}
	m.rows[r.ID] = r.clone()
	return nil
}

func (m *MemoryRepository) ListByParticipant(_ context.Context, participantID string, dir Direction) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Request
	for _, r := range m.rows {
		if dir == DirectionSent && r.FromID == participantID {
			out = append(out, r.clone())
		}
		if dir == DirectionReceived && r.ToID == participantID {
			out = append(out, r.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) CountPending(_ context.Context, toID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, r := range m.rows {
		if r.ToID == toID && r.Status == StatusPending {
			n++
		}
	}
	return n, nil
}
