package main

import (
	"context"
	"testing"
	"time"
)

func TestHandshake_BareNameClaim(t *testing.T) {
	_, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)

	welcome := readUntil(t, ctx, conn, "welcome")
	if welcome["connectionId"] == "" {
		t.Fatalf("welcome frame missing connection id")
	}

	identify(t, ctx, conn, "listener")

	status := readUntil(t, ctx, conn, "user_status")
	users, _ := status["users"].(map[string]any)
	if users["listener"] != "connected" {
		t.Fatalf("expected listener connected in status, got %v", users)
	}
	if users["source"] != "disconnected" {
		t.Fatalf("expected source disconnected in status, got %v", users)
	}
}

func TestHandshake_JSONClaimShapes(t *testing.T) {
	_, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, claim := range []string{
		`{"type":"connect","user":"listener"}`,
		`{"action":"identify","device":"listener"}`,
		`{"type":"identify","role":"listener"}`,
	} {
		conn := dialWS(t, ctx, ts)
		writeText(t, ctx, conn, claim)
		confirmed := readUntil(t, ctx, conn, "connection_confirmed")
		if confirmed["client"] != "listener" {
			t.Fatalf("claim %s confirmed wrong role: %v", claim, confirmed["client"])
		}
	}
}

func TestHandshake_UnknownMessageGetsDebug(t *testing.T) {
	_, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)
	writeText(t, ctx, conn, "who am i")

	debug := readUntil(t, ctx, conn, "debug")
	if debug["received"] != "who am i" {
		t.Fatalf("debug echo mismatch: %v", debug["received"])
	}

	// The connection survives and can still identify.
	identify(t, ctx, conn, "source")
}

func TestPingFrame(t *testing.T) {
	_, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)
	writeText(t, ctx, conn, `{"type":"ping"}`)
	readUntil(t, ctx, conn, "pong")
}
