// Package registry tracks which live connection currently holds each of the
// two roles. Occupancy is last-writer-wins: claiming an already-held role
// evicts the previous connection, never queues or rejects.
package registry

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/Poufio-bit/ecoute-boubouh-server/internal/protocol"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/types"
)

type Registry struct {
	mu    sync.Mutex
	slots map[types.Role]*types.PeerConnection
	log   zerolog.Logger
}

func New(log zerolog.Logger) *Registry {
	return &Registry{
		slots: make(map[types.Role]*types.PeerConnection),
		log:   log.With().Str("component", "registry").Logger(),
	}
}

// Claim installs conn as the holder of role. If another live connection held
// the role it is sent a supersession notice, closed, and its id returned so
// the caller can audit the takeover. Claiming a role already held by the same
// connection is a no-op.
func (r *Registry) Claim(role types.Role, conn *types.PeerConnection) (prevID string, evicted bool) {
	r.mu.Lock()
	prev := r.slots[role]
	if prev == conn {
		r.mu.Unlock()
		return "", false
	}
	// A connection switching roles vacates its old slot first.
	if old := conn.Role(); old != "" && r.slots[old] == conn {
		delete(r.slots, old)
	}
	r.slots[role] = conn
	conn.SetRole(role)
	if prev != nil {
		prev.ClearRole()
	}
	r.mu.Unlock()

	if prev != nil {
		r.log.Info().
			Str("role", string(role)).
			Str("evicted", prev.ID).
			Str("claimed_by", conn.ID).
			Msg("role taken over by newer connection")
		prev.NotifyClose(
			protocol.Disconnected("superseded by a newer connection for the same role"),
			types.StatusSuperseded,
			"superseded by newer connection",
		)
		return prev.ID, true
	}
	return "", false
}

// Release vacates whichever role slot conn holds. Idempotent: releasing a
// connection that holds no role returns ("", false) and has no side effects.
func (r *Registry) Release(conn *types.PeerConnection) (types.Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role := conn.Role()
	if role == "" {
		return "", false
	}
	if r.slots[role] != conn {
		// Slot already re-claimed by a newer connection.
		conn.ClearRole()
		return "", false
	}
	delete(r.slots, role)
	conn.ClearRole()
	return role, true
}

// Get returns the live connection holding role, if any. The result is a
// snapshot: the connection may close immediately after return, so writes to it
// must tolerate failure.
func (r *Registry) Get(role types.Role) (*types.PeerConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.slots[role]
	return c, ok
}

// Snapshot reports per-role connectivity for status broadcasts and health
// reporting. Both roles are always present in the result.
func (r *Registry) Snapshot() map[types.Role]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[types.Role]string, 2)
	for _, role := range types.Roles() {
		if _, ok := r.slots[role]; ok {
			out[role] = types.StateConnected
		} else {
			out[role] = types.StateDisconnected
		}
	}
	return out
}

// Connections returns the currently registered connections.
func (r *Registry) Connections() []*types.PeerConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.PeerConnection, 0, len(r.slots))
	for _, c := range r.slots {
		out = append(out, c)
	}
	return out
}
