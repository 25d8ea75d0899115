// Package dispatch classifies inbound frames and routes them: identity claims
// to the registry, control frames to the session manager, audio peer-to-peer.
// Frames from a single connection are handled strictly in arrival order (each
// connection has one read loop); no ordering holds across connections.
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Poufio-bit/ecoute-boubouh-server/internal/cid"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/metrics"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/protocol"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/registry"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/session"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/types"
)

type Dispatcher struct {
	reg      *registry.Registry
	sessions *session.Manager
	metrics  *metrics.Metrics
	log      zerolog.Logger
	tracer   trace.Tracer
}

func New(reg *registry.Registry, sessions *session.Manager, m *metrics.Metrics, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		reg:      reg,
		sessions: sessions,
		metrics:  m,
		log:      log.With().Str("component", "dispatch").Logger(),
		tracer:   otel.Tracer("ecoute/dispatch"),
	}
}

// Handle processes one decoded inbound message. Protocol errors answer with a
// diagnostic frame and never close the connection.
func (d *Dispatcher) Handle(ctx context.Context, conn *types.PeerConnection, raw []byte) {
	f := protocol.Decode(raw)

	ctx, span := d.tracer.Start(ctx, "dispatch.frame", trace.WithAttributes(
		attribute.String("frame.kind", f.Kind.String()),
		attribute.String("connection.id", conn.ID),
		attribute.String(cid.AttributeName, cid.FromContext(ctx)),
	))
	defer span.End()

	d.metrics.FramesReceived.WithLabelValues(f.Kind.String()).Inc()

	switch f.Kind {
	case protocol.KindIdentity:
		d.handleIdentity(conn, f.ClaimedName, f.Raw)
	case protocol.KindAudio:
		d.handleAudio(conn, f.Audio)
	case protocol.KindPing:
		conn.Enqueue(protocol.Pong())
	case protocol.KindStatusRequest:
		conn.Enqueue(protocol.UserStatus(d.reg.Snapshot()))
	case protocol.KindListening:
		d.handleListening(conn, f.Listening)
	case protocol.KindStartListening:
		if !d.requireRole(conn) {
			return
		}
		d.sessions.StartListening()
	case protocol.KindStopListening:
		if !d.requireRole(conn) {
			return
		}
		d.sessions.StopListening(f.SessionID, conn)
	case protocol.KindStartRecording:
		if !d.requireRole(conn) {
			return
		}
		d.sessions.StartRecording(f.SessionID, conn)
	case protocol.KindBatteryUpdate:
		if !d.requireRole(conn) {
			return
		}
		d.sessions.BatteryUpdate(f.BatteryLevel, f.SessionID)
	default:
		d.metrics.UnknownFrames.Inc()
		d.log.Debug().Str("connection_id", conn.ID).Int("bytes", len(raw)).Msg("unrecognized frame, debug echo sent")
		conn.Enqueue(protocol.Debug(raw))
	}
}

func (d *Dispatcher) handleIdentity(conn *types.PeerConnection, name string, raw []byte) {
	role, ok := types.ParseRole(name)
	if !ok {
		d.log.Debug().Str("connection_id", conn.ID).Str("name", name).Msg("identity claim with invalid role name")
		conn.Enqueue(protocol.Debug(raw))
		return
	}

	prevID, evicted := d.reg.Claim(role, conn)
	if evicted {
		d.metrics.Takeovers.Inc()
		d.log.Info().Str("role", string(role)).Str("prev_connection_id", prevID).Msg("previous connection evicted")
	}
	d.log.Info().Str("role", string(role)).Str("connection_id", conn.ID).Msg("client identified")

	conn.Enqueue(protocol.ConnectionConfirmed(role, conn.ID))
	if peer, ok := d.reg.Get(role.Peer()); ok {
		peer.Enqueue(protocol.PeerConnected(role))
	}
	d.BroadcastStatus()
	d.updateRoleGauges()
}

func (d *Dispatcher) handleAudio(conn *types.PeerConnection, a *protocol.Audio) {
	senderRole := conn.Role()
	if senderRole == "" {
		conn.Enqueue(protocol.Error("identify before sending audio"))
		return
	}
	if a.Data == "" {
		d.log.Warn().Str("from", a.From).Msg("empty audio payload dropped")
		return
	}
	if a.From != string(senderRole) {
		d.log.Warn().Str("from", a.From).Str("sender_role", string(senderRole)).Msg("audio from field does not match sender role, dropped")
		return
	}

	receivedAt := time.Now()

	target, ok := types.ParseRole(a.To)
	if !ok {
		conn.Enqueue(protocol.DeliveryFailed(types.Role(a.To)))
		d.metrics.DeliveryFailures.Inc()
		return
	}

	if peer, live := d.reg.Get(target); live {
		peer.Enqueue(protocol.ForwardAudio(a))
		d.metrics.AudioRelayed.Inc()
	} else {
		conn.Enqueue(protocol.DeliveryFailed(target))
		d.metrics.DeliveryFailures.Inc()
	}

	// Mirrored after the relay decision; persistence never delays delivery.
	d.sessions.MirrorAudio(a, receivedAt)
}

// handleListening forwards the listener's listening on/off indicator to the
// source. Only honored from the listener role; silently dropped when the
// source is absent.
func (d *Dispatcher) handleListening(conn *types.PeerConnection, listening bool) {
	if conn.Role() != types.RoleListener {
		d.log.Debug().Str("connection_id", conn.ID).Msg("listening indicator from non-listener ignored")
		return
	}
	if src, ok := d.reg.Get(types.RoleSource); ok {
		src.Enqueue(protocol.ListeningIndicator(listening))
	}
}

func (d *Dispatcher) requireRole(conn *types.PeerConnection) bool {
	if conn.Role() == "" {
		conn.Enqueue(protocol.Error("identify before sending control frames"))
		return false
	}
	return true
}

// HandleDisconnect performs the cleanup shared by explicit closes, transport
// errors and the liveness sweep: vacate the role slot, tell the peer, refresh
// the status broadcast. Safe for connections that never claimed a role.
func (d *Dispatcher) HandleDisconnect(conn *types.PeerConnection) {
	role, held := d.reg.Release(conn)
	if !held {
		return
	}
	d.log.Info().Str("role", string(role)).Str("connection_id", conn.ID).Msg("client disconnected")
	if peer, ok := d.reg.Get(role.Peer()); ok {
		peer.Enqueue(protocol.PeerDisconnected(role))
	}
	d.BroadcastStatus()
	d.updateRoleGauges()
}

// BroadcastStatus pushes the current role-connectivity snapshot to every
// registered connection.
func (d *Dispatcher) BroadcastStatus() {
	frame := protocol.UserStatus(d.reg.Snapshot())
	for _, c := range d.reg.Connections() {
		c.Enqueue(frame)
	}
}

func (d *Dispatcher) updateRoleGauges() {
	for role, state := range d.reg.Snapshot() {
		v := 0.0
		if state == types.StateConnected {
			v = 1.0
		}
		d.metrics.RoleConnected.WithLabelValues(string(role)).Set(v)
	}
}
