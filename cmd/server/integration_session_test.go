package main

import (
	"context"
	"testing"
	"time"
)

func TestSessionLifecycle_ListenerOnly(t *testing.T) {
	_, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listener := dialWS(t, ctx, ts)
	identify(t, ctx, listener, "listener")

	writeText(t, ctx, listener, `{"type":"start_listening"}`)
	started := readUntil(t, ctx, listener, "listening_started")
	id, _ := started["session_id"].(string)
	if id == "" {
		t.Fatalf("listening_started missing session id")
	}

	writeText(t, ctx, listener, `{"type":"stop_listening","session_id":"`+id+`"}`)
	stopped := readUntil(t, ctx, listener, "listening_stopped")
	if stopped["session_id"] != id {
		t.Fatalf("stop confirmed wrong session: %v", stopped["session_id"])
	}
	if _, ok := stopped["duration_seconds"].(float64); !ok {
		t.Fatalf("listening_stopped missing duration: %v", stopped)
	}
}

func TestSessionLifecycle_SourceGetsCaptureCue(t *testing.T) {
	s, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listener := dialWS(t, ctx, ts)
	source := dialWS(t, ctx, ts)
	identify(t, ctx, listener, "listener")
	identify(t, ctx, source, "source")

	writeText(t, ctx, listener, `{"type":"start_listening"}`)
	started := readUntil(t, ctx, listener, "listening_started")
	id, _ := started["session_id"].(string)

	cue := readUntil(t, ctx, source, "start_audio_capture")
	if cue["session_id"] != id {
		t.Fatalf("capture cue for wrong session: %v", cue["session_id"])
	}

	writeText(t, ctx, listener, `{"type":"start_recording","session_id":"`+id+`"}`)
	readUntil(t, ctx, listener, "recording_started")

	// Audio sent while recording is relayed and persisted.
	writeText(t, ctx, source, `{"type":"audio_data","from":"source","to":"listener","data":"AAA=","session_id":"`+id+`"}`)
	readUntil(t, ctx, listener, "audio_data")

	writeText(t, ctx, listener, `{"type":"stop_listening","session_id":"`+id+`"}`)
	readUntil(t, ctx, listener, "listening_stopped")
	readUntil(t, ctx, source, "listening_stopped")

	if got := s.sessions.ActiveCount(); got != 0 {
		t.Fatalf("expected no active sessions after stop, got %d", got)
	}
}

func TestSessionLifecycle_StopWithoutIDClosesMostRecent(t *testing.T) {
	s, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listener := dialWS(t, ctx, ts)
	identify(t, ctx, listener, "listener")

	writeText(t, ctx, listener, `{"type":"start_listening"}`)
	readUntil(t, ctx, listener, "listening_started")

	writeText(t, ctx, listener, `{"type":"stop_listening"}`)
	readUntil(t, ctx, listener, "listening_stopped")

	if got := s.sessions.ActiveCount(); got != 0 {
		t.Fatalf("expected no active sessions, got %d", got)
	}
}

func TestSessionLifecycle_ControlRequiresRole(t *testing.T) {
	_, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)
	writeText(t, ctx, conn, `{"type":"start_listening"}`)
	readUntil(t, ctx, conn, "error")
}
