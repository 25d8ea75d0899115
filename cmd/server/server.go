package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"github.com/Poufio-bit/ecoute-boubouh-server/internal/cid"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/config"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/dispatch"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/liveness"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/metrics"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/protocol"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/registry"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/session"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/store"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/types"
)

const serverVersion = "2.1.0"

// Server wires the relay core to its boundaries: websocket transport in,
// storage out, HTTP status surface on the same port.
type Server struct {
	cfg        *config.Config
	log        zerolog.Logger
	store      store.Store
	metrics    *metrics.Metrics
	registry   *registry.Registry
	sessions   *session.Manager
	dispatcher *dispatch.Dispatcher
	supervisor *liveness.Supervisor
	router     *gin.Engine
	promReg    *prometheus.Registry

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(cfg *config.Config, st store.Store, promReg *prometheus.Registry, log zerolog.Logger) *Server {
	m := metrics.New(promReg)
	reg := registry.New(log)
	sessions := session.NewManager(reg, st, m, log, cfg.PersistWorkers, cfg.PersistQueueSize)
	dispatcher := dispatch.New(reg, sessions, m, log)

	s := &Server{
		cfg:        cfg,
		log:        log,
		store:      st,
		metrics:    m,
		registry:   reg,
		sessions:   sessions,
		dispatcher: dispatcher,
		promReg:    promReg,
		supervisor: &liveness.Supervisor{
			Registry:           reg,
			Dispatcher:         dispatcher,
			Sessions:           sessions,
			Log:                log,
			ServerPingInterval: cfg.ServerPingInterval,
			SweepInterval:      cfg.SweepInterval,
			DiagInterval:       cfg.DiagInterval,
		},
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.router = s.buildRouter()
	return s
}

// Start launches the persistence workers and the liveness supervisor.
func (s *Server) Start() {
	s.sessions.Start()
	go s.supervisor.Run(s.ctx)
}

// Shutdown notifies and closes all connections, drains the persistence queue
// and releases the storage handle.
func (s *Server) Shutdown() {
	for _, c := range s.registry.Connections() {
		c.NotifyClose(protocol.ServerShutdown(), websocket.StatusGoingAway, "server shutting down")
		s.dispatcher.HandleDisconnect(c)
	}
	s.cancel()
	s.sessions.Shutdown()
	if err := s.store.Close(); err != nil {
		s.log.Warn().Err(err).Msg("closing store")
	}
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(s.cfg.GinMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.cidMiddleware())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":     "Ecoute Boubouh Server",
			"version":     serverVersion,
			"status":      "running",
			"connections": s.registry.Snapshot(),
			"features":    []string{"identification", "audio_streaming", "real_time_communication", "listening_sessions"},
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	r.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"users":           s.registry.Snapshot(),
			"active_sessions": s.sessions.ActiveCount(),
			"dropped_writes":  s.sessions.Dropped(),
		})
	})

	r.GET("/api/sessions", func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		sessions, err := s.store.ListRecentSessions(c.Request.Context(), limit)
		if err != nil {
			s.log.Error().Err(err).Msg("list sessions failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{})))

	r.GET("/ws", s.handleWebSocket)
	return r
}

// cidMiddleware assigns a correlation id to every request, preserving one the
// caller already sent.
func (s *Server) cidMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(cid.HeaderName)
		if id == "" {
			id = ksuid.New().String()
		}
		c.Writer.Header().Set(cid.HeaderName, id)
		c.Request = c.Request.WithContext(cid.WithCID(c.Request.Context(), id))
		c.Next()
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	sock, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	sock.SetReadLimit(s.cfg.ReadLimit)

	connID := uuid.New().String()
	pc := types.NewPeerConnection(connID, sock, s.cfg.SendBuffer)

	// Connection context: ends on server shutdown or when this handler
	// returns; carries the request correlation id for dispatch spans.
	connCtx, cancel := context.WithCancel(cid.WithCID(s.ctx, cid.FromContext(c.Request.Context())))
	defer cancel()

	s.log.Info().Str("connection_id", connID).Str("remote", c.ClientIP()).Msg("new websocket connection")
	pc.Enqueue(protocol.Welcome(connID))

	go s.writePump(connCtx, pc)
	go s.heartbeat(connCtx, pc)

	defer func() {
		s.dispatcher.HandleDisconnect(pc)
		pc.Close(websocket.StatusNormalClosure, "")
		s.log.Info().Str("connection_id", connID).Msg("websocket connection closed")
	}()

	for {
		_, data, err := sock.Read(connCtx)
		if err != nil {
			s.log.Debug().Err(err).Str("connection_id", connID).Msg("websocket read ended")
			return
		}
		pc.Touch()
		s.dispatcher.Handle(connCtx, pc, data)
	}
}

// writePump is the single writer for a connection; everything outbound flows
// through the Send channel in enqueue order.
func (s *Server) writePump(ctx context.Context, pc *types.PeerConnection) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-pc.Done():
			return
		case msg := <-pc.Send:
			wctx, cancel := context.WithTimeout(ctx, types.WriteTimeout())
			err := pc.Sock.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				s.log.Debug().Err(err).Str("connection_id", pc.ID).Msg("websocket write failed")
				pc.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

// heartbeat sends a transport-level ping at a fixed interval while the
// connection is open. A failed ping triggers the same cleanup as a close.
func (s *Server) heartbeat(ctx context.Context, pc *types.PeerConnection) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-pc.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, types.WriteTimeout())
			err := pc.Ping(pctx)
			cancel()
			if err != nil {
				s.log.Warn().Err(err).Str("connection_id", pc.ID).Msg("heartbeat failed")
				s.dispatcher.HandleDisconnect(pc)
				pc.Close(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}
