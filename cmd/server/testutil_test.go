package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Poufio-bit/ecoute-boubouh-server/internal/config"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/store"
)

// newTestServer spins up a full server on an httptest listener with shortened
// liveness intervals and an in-memory store.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.GinMode = gin.TestMode
	cfg.ServerPingInterval = 50 * time.Millisecond
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.SweepInterval = 100 * time.Millisecond
	cfg.DiagInterval = time.Minute

	s := NewServer(cfg, store.NewMemory(), prometheus.NewRegistry(), zerolog.Nop())
	s.Start()
	ts := httptest.NewServer(s.router)
	t.Cleanup(func() {
		s.Shutdown()
		ts.Close()
	})
	return s, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialWS(t *testing.T, ctx context.Context, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, wsURL(ts), nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func writeText(t *testing.T, ctx context.Context, conn *websocket.Conn, msg string) {
	t.Helper()
	if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("websocket write failed: %v", err)
	}
}

// readUntil reads frames until one of the wanted type arrives. Server pings
// and status broadcasts are interleaved with everything, so every test reads
// this way.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("websocket read failed waiting for %q: %v", want, err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("frame is not JSON: %v", err)
		}
		if m["type"] == want {
			return m
		}
	}
}

// identify claims a role and waits for the confirmation.
func identify(t *testing.T, ctx context.Context, conn *websocket.Conn, role string) {
	t.Helper()
	writeText(t, ctx, conn, role)
	confirmed := readUntil(t, ctx, conn, "connection_confirmed")
	if confirmed["client"] != role {
		t.Fatalf("confirmed wrong role: %v", confirmed["client"])
	}
}
