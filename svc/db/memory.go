package db

import (
	"context"
	"pastebox/pkg/domain"
	"sync"
	"time"
)

// Memory is a process-local store for development and tests. One mutex
// guards the map, so the check and the increment in IncrementView happen
// under the same lock.
type Memory struct {
	mu     sync.Mutex
	pastes map[string]*domain.Paste
}

func NewMemory() *Memory {
	return &Memory{pastes: make(map[string]*domain.Paste)}
}

func (m *Memory) Insert(_ context.Context, p *domain.Paste) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pastes[p.ID]; ok {
		return domain.ErrDuplicateID
	}
	m.pastes[p.ID] = p.Clone()
	return nil
}

func (m *Memory) FindByID(_ context.Context, id string) (*domain.Paste, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pastes[id]
	if !ok {
		return nil, domain.ErrPasteNotFound
	}
	return p.Clone(), nil
}

func (m *Memory) IncrementView(_ context.Context, id string, limit *int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pastes[id]
	if !ok {
		return 0, domain.ErrPasteNotFound
	}
	if p.DeadReason != "" {
		return 0, domain.FromReason(p.DeadReason)
	}
	if limit != nil && p.ViewCount >= *limit {
		return 0, domain.ErrViewLimit
	}
	p.ViewCount++
	if limit != nil && p.ViewCount >= *limit {
		p.DeadReason = domain.ReasonViewLimit
	}
	return p.ViewCount, nil
}

func (m *Memory) MarkDead(_ context.Context, id, reason string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pastes[id]
	if !ok {
		return "", domain.ErrPasteNotFound
	}
	if p.DeadReason == "" {
		p.DeadReason = reason
	}
	return p.DeadReason, nil
}

func (m *Memory) PurgeDead(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, p := range m.pastes {
		if p.Check(now) != nil {
			delete(m.pastes, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pastes)
}
