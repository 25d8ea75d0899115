package protocol_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/Poufio-bit/ecoute-boubouh-server/internal/protocol"
)

func TestDecode_IdentityClaims(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		claimed string
	}{
		{"bare name", "listener", "listener"},
		{"bare legacy name", "bernard", "bernard"},
		{"bare name padded", "  source\n", "source"},
		{"json string literal", `"liliann"`, "liliann"},
		{"connect shape", `{"type":"connect","user":"listener"}`, "listener"},
		{"identify action shape", `{"action":"identify","device":"liliann"}`, "liliann"},
		{"identify role shape", `{"type":"identify","role":"source"}`, "source"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := protocol.Decode([]byte(tc.input))
			if f.Kind != protocol.KindIdentity {
				t.Fatalf("expected identity kind, got %v", f.Kind)
			}
			if f.ClaimedName != tc.claimed {
				t.Fatalf("expected claimed name %q, got %q", tc.claimed, f.ClaimedName)
			}
		})
	}
}

func TestDecode_Audio(t *testing.T) {
	raw := `{"type":"audio_data","from":"source","to":"listener","data":"AAA=","sampleRate":48000,"format":"opus","channels":2,"session_id":"s1","order":7}`
	f := protocol.Decode([]byte(raw))
	if f.Kind != protocol.KindAudio {
		t.Fatalf("expected audio kind, got %v", f.Kind)
	}
	a := f.Audio
	if a.From != "source" || a.To != "listener" || a.Data != "AAA=" {
		t.Fatalf("unexpected audio fields: %+v", a)
	}
	if a.SampleRate != 48000 || a.Format != "opus" || a.Channels != 2 {
		t.Fatalf("unexpected audio format fields: %+v", a)
	}
	if a.SessionID != "s1" || a.Order != 7 {
		t.Fatalf("unexpected session fields: %+v", a)
	}

	// audio_chunk is accepted as an alias type
	f = protocol.Decode([]byte(`{"type":"audio_chunk","from":"source","to":"listener","data":"BBB="}`))
	if f.Kind != protocol.KindAudio || f.Audio.Type != "audio_chunk" {
		t.Fatalf("expected audio_chunk to decode as audio, got %v", f.Kind)
	}
}

func TestDecode_Controls(t *testing.T) {
	f := protocol.Decode([]byte(`{"type":"start_listening"}`))
	if f.Kind != protocol.KindStartListening {
		t.Fatalf("expected start_listening, got %v", f.Kind)
	}

	f = protocol.Decode([]byte(`{"type":"stop_listening","session_id":"abc"}`))
	if f.Kind != protocol.KindStopListening || f.SessionID != "abc" {
		t.Fatalf("unexpected stop_listening decode: %+v", f)
	}

	f = protocol.Decode([]byte(`{"type":"start_recording","session_id":"abc"}`))
	if f.Kind != protocol.KindStartRecording || f.SessionID != "abc" {
		t.Fatalf("unexpected start_recording decode: %+v", f)
	}

	f = protocol.Decode([]byte(`{"type":"battery_update","battery_level":42}`))
	if f.Kind != protocol.KindBatteryUpdate || f.BatteryLevel != 42 {
		t.Fatalf("unexpected battery_update decode: %+v", f)
	}
}

func TestDecode_ListeningIndicator(t *testing.T) {
	f := protocol.Decode([]byte(`{"type":"listening_status","listening":true}`))
	if f.Kind != protocol.KindListening || !f.Listening {
		t.Fatalf("unexpected listening decode: %+v", f)
	}

	// legacy type name from the first mobile client
	f = protocol.Decode([]byte(`{"type":"bernard_listening","listening":false}`))
	if f.Kind != protocol.KindListening || f.Listening {
		t.Fatalf("unexpected legacy listening decode: %+v", f)
	}
}

func TestDecode_Unknown(t *testing.T) {
	for _, raw := range []string{
		"",
		"hello",
		"{not json",
		`{"type":"wat"}`,
		`{"user":"listener"}`,
		`"charlie"`,
	} {
		f := protocol.Decode([]byte(raw))
		if f.Kind == protocol.KindUnknown {
			continue
		}
		// a quoted non-role string is still an identity claim; the
		// dispatcher rejects the name
		if raw == `"charlie"` && f.Kind == protocol.KindIdentity {
			continue
		}
		t.Fatalf("expected unknown for %q, got %v", raw, f.Kind)
	}
}

func TestForwardAudio_StampsDefaults(t *testing.T) {
	out := protocol.ForwardAudio(&protocol.Audio{
		Type: protocol.TypeAudioData,
		From: "source",
		To:   "listener",
		Data: "AAA=",
	})
	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("forwarded frame is not valid JSON: %v", err)
	}
	if m["data"] != "AAA=" {
		t.Fatalf("payload not passed through verbatim: %v", m["data"])
	}
	if m["sampleRate"] != float64(protocol.DefaultSampleRate) {
		t.Fatalf("expected default sample rate, got %v", m["sampleRate"])
	}
	if m["format"] != protocol.DefaultFormat {
		t.Fatalf("expected default format, got %v", m["format"])
	}
	if m["channels"] != float64(protocol.DefaultChannels) {
		t.Fatalf("expected default channels, got %v", m["channels"])
	}
	if ts, _ := m["timestamp"].(string); ts == "" {
		t.Fatalf("expected server timestamp on forwarded frame")
	}
}

func TestDebug_TruncatesEcho(t *testing.T) {
	long := strings.Repeat("x", 500)
	out := protocol.Debug([]byte(long))
	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("debug frame is not valid JSON: %v", err)
	}
	echo, _ := m["received"].(string)
	if len(echo) != 100 {
		t.Fatalf("expected 100-byte echo, got %d", len(echo))
	}
}
