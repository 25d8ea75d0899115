// Package session owns the listening-session state machine: none → Listening
// → (Recording) → Stopped. Persistence is fire-and-forget through a bounded
// worker pool so storage latency never delays the live audio path.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"github.com/Poufio-bit/ecoute-boubouh-server/internal/metrics"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/protocol"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/registry"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/store"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/types"
)

// storeTimeout bounds a single storage call. One attempt per write, no retry.
const storeTimeout = 5 * time.Second

type activeSession struct {
	id        string
	startedAt time.Time
	recording bool
	nextOrder int64
}

type job func(ctx context.Context)

type Manager struct {
	reg     *registry.Registry
	store   store.Store
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu     sync.Mutex
	active map[string]*activeSession

	jobs    chan job
	wg      sync.WaitGroup
	workers int
	dropped atomic.Int64

	// closeMu serializes enqueue against Shutdown so a late frame can never
	// hit a closed queue.
	closeMu sync.RWMutex
	closed  bool

	now func() time.Time
}

func NewManager(reg *registry.Registry, st store.Store, m *metrics.Metrics, log zerolog.Logger, workers, queueSize int) *Manager {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Manager{
		reg:     reg,
		store:   st,
		metrics: m,
		log:     log.With().Str("component", "session").Logger(),
		active:  make(map[string]*activeSession),
		jobs:    make(chan job, queueSize),
		workers: workers,
		now:     time.Now,
	}
}

// Start launches the persistence worker pool.
func (m *Manager) Start() {
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for j := range m.jobs {
				ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
				j(ctx)
				cancel()
			}
		}()
	}
}

// Shutdown closes the persistence queue and waits for in-flight writes.
// Safe to call more than once.
func (m *Manager) Shutdown() {
	m.closeMu.Lock()
	if !m.closed {
		m.closed = true
		close(m.jobs)
	}
	m.closeMu.Unlock()
	m.wg.Wait()
}

// enqueue hands a storage write to the pool without blocking. A full queue
// drops the write; the relay path has already completed by then.
func (m *Manager) enqueue(j job) {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.jobs <- j:
	default:
		m.dropped.Add(1)
		m.metrics.PersistDropped.Inc()
		m.log.Warn().Msg("persistence queue full, write dropped")
	}
}

// Dropped reports how many storage writes were discarded on a full queue.
func (m *Manager) Dropped() int64 { return m.dropped.Load() }

func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) notify(role types.Role, frame []byte) {
	if c, ok := m.reg.Get(role); ok {
		c.Enqueue(frame)
	}
}

// StartListening creates a new session, confirms to the listener and signals
// the source to begin capturing. The session record is persisted immediately;
// if the store cannot even create it, the session still runs in memory with a
// locally generated id so the relay keeps working.
func (m *Manager) StartListening() string {
	startedAt := m.now()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	id, err := m.store.CreateSession(ctx, startedAt)
	cancel()
	if err != nil {
		m.metrics.PersistErrors.Inc()
		id = ksuid.New().String()
		m.log.Error().Err(err).Str("session_id", id).Msg("create session failed, continuing in memory")
	}

	m.mu.Lock()
	m.active[id] = &activeSession{id: id, startedAt: startedAt}
	count := len(m.active)
	m.mu.Unlock()

	m.metrics.SessionsStarted.Inc()
	m.metrics.ActiveSessions.Set(float64(count))
	m.log.Info().Str("session_id", id).Msg("listening session started")

	m.notify(types.RoleListener, protocol.ListeningStarted(id))
	m.notify(types.RoleSource, protocol.StartAudioCapture(id))
	return id
}

// StartRecording flips the recording flag on an active session. Requires a
// matching active session; the requester gets an error frame otherwise.
func (m *Manager) StartRecording(sessionID string, requester *types.PeerConnection) {
	m.mu.Lock()
	s := m.resolveLocked(sessionID)
	if s == nil {
		m.mu.Unlock()
		if requester != nil {
			requester.Enqueue(protocol.Error("no active session matching session_id"))
		}
		return
	}
	s.recording = true
	id := s.id
	m.mu.Unlock()

	recording := true
	m.enqueue(func(ctx context.Context) {
		if err := m.store.UpdateSession(ctx, id, store.SessionUpdate{Recording: &recording}); err != nil {
			m.metrics.PersistErrors.Inc()
			m.log.Error().Err(err).Str("session_id", id).Msg("persist recording flag failed")
		}
	})

	m.log.Info().Str("session_id", id).Msg("recording started")
	m.notify(types.RoleListener, protocol.RecordingStarted(id))
}

// StopListening closes a session: duration is computed, the record persisted,
// and both roles are notified with the final duration. With an empty
// session_id the most recently started session is stopped.
func (m *Manager) StopListening(sessionID string, requester *types.PeerConnection) {
	endedAt := m.now()

	m.mu.Lock()
	s := m.resolveLocked(sessionID)
	if s == nil {
		m.mu.Unlock()
		if requester != nil {
			requester.Enqueue(protocol.Error("no active session matching session_id"))
		}
		return
	}
	delete(m.active, s.id)
	count := len(m.active)
	m.mu.Unlock()

	duration := int(endedAt.Sub(s.startedAt).Seconds())
	id := s.id

	m.metrics.SessionsStopped.Inc()
	m.metrics.ActiveSessions.Set(float64(count))
	m.log.Info().Str("session_id", id).Int("duration_seconds", duration).Msg("listening session stopped")

	// The recording flag never survives a stop: the record must read back as a
	// closed, non-recording session.
	recording := false
	m.enqueue(func(ctx context.Context) {
		upd := store.SessionUpdate{EndedAt: &endedAt, DurationSeconds: &duration, Recording: &recording}
		if err := m.store.UpdateSession(ctx, id, upd); err != nil {
			m.metrics.PersistErrors.Inc()
			m.log.Error().Err(err).Str("session_id", id).Msg("persist session end failed")
		}
	})

	stopped := protocol.ListeningStopped(id, duration)
	m.notify(types.RoleListener, stopped)
	m.notify(types.RoleSource, stopped)
}

// BatteryUpdate forwards the source's battery level to the listener and
// best-effort persists it on the referenced (or sole active) session. Levels
// are percentages; out-of-range values are clamped to 0..100.
func (m *Manager) BatteryUpdate(level int, sessionID string) {
	if level < 0 {
		level = 0
	} else if level > 100 {
		level = 100
	}
	m.notify(types.RoleListener, protocol.BatteryForward(level, sessionID))

	m.mu.Lock()
	s := m.resolveLocked(sessionID)
	m.mu.Unlock()
	if s == nil {
		return
	}

	id := s.id
	m.enqueue(func(ctx context.Context) {
		if err := m.store.UpdateSession(ctx, id, store.SessionUpdate{BatteryLevel: &level}); err != nil {
			m.metrics.PersistErrors.Inc()
			m.log.Warn().Err(err).Str("session_id", id).Msg("persist battery level failed")
		}
	})
}

// MirrorAudio is called by the dispatcher after the relay decision is made.
// The chunk is durably stored only when its session is in the Recording state
// at this moment; chunks arriving while merely Listening are relayed upstream
// but never persisted. Order is trusted as supplied by the sending peer.
func (m *Manager) MirrorAudio(a *protocol.Audio, receivedAt time.Time) {
	m.mu.Lock()
	s := m.resolveLocked(a.SessionID)
	if s == nil || !s.recording {
		m.mu.Unlock()
		return
	}
	order := a.Order
	if order == 0 {
		s.nextOrder++
		order = s.nextOrder
	} else {
		s.nextOrder = order
	}
	id := s.id
	m.mu.Unlock()

	payload := []byte(a.Data)
	m.enqueue(func(ctx context.Context) {
		if err := m.store.AppendChunk(ctx, id, order, payload, receivedAt); err != nil {
			m.metrics.PersistErrors.Inc()
			m.log.Error().Err(err).Str("session_id", id).Int64("order", order).Msg("persist chunk failed")
			return
		}
		m.metrics.ChunksPersisted.Inc()
	})
}

// resolveLocked finds the session for an explicit id, or, when the id is
// empty, the most recently started active session. The fixed two-role model
// means at most one is expected.
func (m *Manager) resolveLocked(sessionID string) *activeSession {
	if sessionID != "" {
		return m.active[sessionID]
	}
	var latest *activeSession
	for _, s := range m.active {
		if latest == nil || s.startedAt.After(latest.startedAt) {
			latest = s
		}
	}
	return latest
}
