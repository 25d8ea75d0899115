package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

// Memory is an in-process Store. It is the default when no database path is
// configured and doubles as the test store.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*Session
	chunks   map[string][]Chunk
}

// Chunk is one stored audio payload; exposed for inspection in tests.
type Chunk struct {
	Order      int64
	Payload    []byte
	ReceivedAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*Session),
		chunks:   make(map[string][]Chunk),
	}
}

func (m *Memory) CreateSession(_ context.Context, startedAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := ksuid.New().String()
	m.sessions[id] = &Session{ID: id, StartedAt: startedAt}
	return id, nil
}

func (m *Memory) UpdateSession(_ context.Context, id string, upd SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if upd.EndedAt != nil {
		s.EndedAt = upd.EndedAt
	}
	if upd.DurationSeconds != nil {
		s.DurationSeconds = upd.DurationSeconds
	}
	if upd.Recording != nil {
		s.Recording = *upd.Recording
	}
	if upd.BatteryLevel != nil {
		s.BatteryLevel = upd.BatteryLevel
	}
	return nil
}

func (m *Memory) AppendChunk(_ context.Context, sessionID string, order int64, payload []byte, receivedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	m.chunks[sessionID] = append(m.chunks[sessionID], Chunk{
		Order:      order,
		Payload:    payload,
		ReceivedAt: receivedAt,
	})
	return nil
}

func (m *Memory) ListRecentSessions(_ context.Context, limit int) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

// Chunks returns the stored chunks for a session, for tests.
func (m *Memory) Chunks(sessionID string) []Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Chunk, len(m.chunks[sessionID]))
	copy(out, m.chunks[sessionID])
	return out
}

// GetSession returns a copy of a stored session, for tests.
func (m *Memory) GetSession(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}
