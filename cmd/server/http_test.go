package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Poufio-bit/ecoute-boubouh-server/internal/cid"
)

func getJSON(t *testing.T, url string) (map[string]any, *http.Response) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("GET %s returned non-JSON body: %v", url, err)
	}
	return m, resp
}

func TestHTTP_ServiceInfo(t *testing.T) {
	_, ts := newTestServer(t)

	info, resp := getJSON(t, ts.URL+"/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if info["service"] != "Ecoute Boubouh Server" {
		t.Fatalf("unexpected service name: %v", info["service"])
	}
	if info["version"] != serverVersion {
		t.Fatalf("unexpected version: %v", info["version"])
	}
	conns, _ := info["connections"].(map[string]any)
	if conns["listener"] != "disconnected" || conns["source"] != "disconnected" {
		t.Fatalf("fresh server should report both roles disconnected: %v", conns)
	}
	if resp.Header.Get(cid.HeaderName) == "" {
		t.Fatalf("response missing correlation id header")
	}
}

func TestHTTP_Health(t *testing.T) {
	_, ts := newTestServer(t)

	health, resp := getJSON(t, ts.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if health["status"] != "healthy" {
		t.Fatalf("unexpected health payload: %v", health)
	}
}

func TestHTTP_StatusReflectsConnections(t *testing.T) {
	_, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listener := dialWS(t, ctx, ts)
	identify(t, ctx, listener, "listener")

	status, _ := getJSON(t, ts.URL+"/api/status")
	users, _ := status["users"].(map[string]any)
	if users["listener"] != "connected" {
		t.Fatalf("status should show listener connected: %v", users)
	}
	if users["source"] != "disconnected" {
		t.Fatalf("status should show source disconnected: %v", users)
	}
	if status["active_sessions"] != float64(0) {
		t.Fatalf("expected zero active sessions: %v", status["active_sessions"])
	}
}

func TestHTTP_SessionsList(t *testing.T) {
	_, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listener := dialWS(t, ctx, ts)
	identify(t, ctx, listener, "listener")

	writeText(t, ctx, listener, `{"type":"start_listening"}`)
	started := readUntil(t, ctx, listener, "listening_started")
	id, _ := started["session_id"].(string)
	writeText(t, ctx, listener, `{"type":"stop_listening","session_id":"`+id+`"}`)
	readUntil(t, ctx, listener, "listening_stopped")

	body, resp := getJSON(t, ts.URL+"/api/sessions?limit=5")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	sessions, _ := body["sessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("expected one recorded session, got %d", len(sessions))
	}
	first, _ := sessions[0].(map[string]any)
	if first["id"] != id {
		t.Fatalf("listed session has wrong id: %v", first["id"])
	}
	if first["ended_at"] == nil {
		t.Fatalf("stopped session should carry an end time: %v", first)
	}
}

func TestHTTP_SessionsListRejectsBadLimit(t *testing.T) {
	_, ts := newTestServer(t)

	for _, q := range []string{"limit=0", "limit=nope"} {
		_, resp := getJSON(t, ts.URL+"/api/sessions?"+q)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("query %q: expected 400, got %d", q, resp.StatusCode)
		}
	}
}

func TestHTTP_MetricsExposed(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading metrics body: %v", err)
	}
	if !strings.Contains(string(body), "ecoute_active_sessions") {
		t.Fatalf("metrics output missing relay series")
	}
}
