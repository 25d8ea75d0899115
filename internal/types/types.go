package types

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// Role is one of the two fixed participants in a listening session. Role
// occupancy is last-writer-wins: a new connection claiming a role evicts the
// previous holder.
type Role string

const (
	RoleListener Role = "listener"
	RoleSource   Role = "source"
)

// ParseRole maps a wire-level name to a Role. The legacy mobile clients
// identify themselves as "bernard" (the listener) and "liliann" (the source),
// so those names are accepted as aliases.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "listener", "bernard":
		return RoleListener, true
	case "source", "liliann":
		return RoleSource, true
	}
	return "", false
}

// Peer returns the other role.
func (r Role) Peer() Role {
	if r == RoleListener {
		return RoleSource
	}
	return RoleListener
}

// Roles lists both roles in a stable order.
func Roles() []Role {
	return []Role{RoleListener, RoleSource}
}

// Connectivity values used in status snapshots and broadcasts.
const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
)

// StatusSuperseded is the close code sent to a connection whose role was
// claimed by a newer connection.
const StatusSuperseded = websocket.StatusCode(4001)

// writeTimeout bounds a single outbound frame write so a stalled peer cannot
// wedge the write pump.
const writeTimeout = 5 * time.Second

// PeerConnection is one live transport endpoint. It holds at most one role at
// a time; an unclaimed connection accepts no routed traffic except
// identity-claim frames. All outbound frames go through the buffered Send
// channel and a single write pump, except the supersession notice which is
// written directly before close.
type PeerConnection struct {
	ID   string
	Sock *websocket.Conn
	Send chan []byte

	mu       sync.Mutex
	role     Role
	lastSeen atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewPeerConnection wraps an accepted websocket connection. Sock may be nil in
// tests; all methods tolerate it.
func NewPeerConnection(id string, sock *websocket.Conn, sendBuffer int) *PeerConnection {
	c := &PeerConnection{
		ID:   id,
		Sock: sock,
		Send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	c.lastSeen.Store(time.Now().UnixNano())
	return c
}

func (c *PeerConnection) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *PeerConnection) SetRole(r Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = r
}

func (c *PeerConnection) ClearRole() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = ""
}

// Touch records inbound activity for liveness reporting.
func (c *PeerConnection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *PeerConnection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Enqueue queues a frame for the write pump without blocking. Returns false if
// the connection is closed or its buffer is full; callers treat a full buffer
// as a dropped frame, never as an error.
func (c *PeerConnection) Enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// Done is closed once the connection has been closed.
func (c *PeerConnection) Done() <-chan struct{} {
	return c.done
}

func (c *PeerConnection) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close closes the transport at most once. Safe to call from any goroutine.
func (c *PeerConnection) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.Sock != nil {
			_ = c.Sock.Close(code, reason)
		}
	})
}

// NotifyClose writes a final frame directly to the socket with a short
// timeout, then closes. Used for the supersession notice, where the frame must
// reach the evicted peer before the socket goes away.
func (c *PeerConnection) NotifyClose(notice []byte, code websocket.StatusCode, reason string) {
	if c.Sock != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		_ = c.Sock.Write(ctx, websocket.MessageText, notice)
		cancel()
	} else {
		c.Enqueue(notice)
	}
	c.Close(code, reason)
}

// Ping sends a transport-level ping, used by the heartbeat and the
// dead-connection sweep.
func (c *PeerConnection) Ping(ctx context.Context) error {
	if c.Closed() {
		return context.Canceled
	}
	if c.Sock == nil {
		return nil
	}
	return c.Sock.Ping(ctx)
}

// WriteTimeout is the per-frame write deadline used by the write pump.
func WriteTimeout() time.Duration { return writeTimeout }
