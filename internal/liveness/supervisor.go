// Package liveness guards against missed close events: periodic heartbeats,
// a dead-connection sweep that applies the same cleanup as an explicit
// disconnect, and a read-only diagnostic log of claimed roles.
package liveness

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/Poufio-bit/ecoute-boubouh-server/internal/dispatch"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/protocol"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/registry"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/session"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/types"
)

// sweepPingTimeout bounds the probe ping used to decide a connection is dead.
const sweepPingTimeout = 5 * time.Second

type Supervisor struct {
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Sessions   *session.Manager
	Log        zerolog.Logger

	// Intervals follow the original deployment: 25s application ping,
	// 60s sweep, 5m diagnostics. Tests shorten them.
	ServerPingInterval time.Duration
	SweepInterval      time.Duration
	DiagInterval       time.Duration
}

// Run blocks until ctx is canceled. It never mutates session state; the sweep
// only performs connection cleanup.
func (s *Supervisor) Run(ctx context.Context) {
	log := s.Log.With().Str("component", "liveness").Logger()

	pingTicker := time.NewTicker(s.ServerPingInterval)
	sweepTicker := time.NewTicker(s.SweepInterval)
	diagTicker := time.NewTicker(s.DiagInterval)
	defer pingTicker.Stop()
	defer sweepTicker.Stop()
	defer diagTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			frame := protocol.ServerPing()
			for _, c := range s.Registry.Connections() {
				c.Enqueue(frame)
			}
		case <-sweepTicker.C:
			s.sweep(ctx, log)
		case <-diagTicker.C:
			s.diagnostics(log)
		}
	}
}

// sweep probes every registered connection and reaps the ones whose transport
// is gone, in case the read loop missed the close.
func (s *Supervisor) sweep(ctx context.Context, log zerolog.Logger) {
	for _, c := range s.Registry.Connections() {
		pingCtx, cancel := context.WithTimeout(ctx, sweepPingTimeout)
		err := c.Ping(pingCtx)
		cancel()
		if err == nil && !c.Closed() {
			continue
		}
		log.Warn().Str("connection_id", c.ID).Str("role", string(c.Role())).Msg("sweeping dead connection")
		s.Dispatcher.HandleDisconnect(c)
		c.Close(websocket.StatusGoingAway, "liveness sweep")
	}
}

func (s *Supervisor) diagnostics(log zerolog.Logger) {
	snapshot := s.Registry.Snapshot()
	claimed := make([]string, 0, 2)
	for role, state := range snapshot {
		if state == types.StateConnected {
			claimed = append(claimed, string(role))
		}
	}
	log.Info().
		Strs("claimed_roles", claimed).
		Int("active_sessions", s.Sessions.ActiveCount()).
		Int64("dropped_writes", s.Sessions.Dropped()).
		Msg("liveness diagnostics")
}
