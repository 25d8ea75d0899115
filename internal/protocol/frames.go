package protocol

import (
	"encoding/json"
	"time"

	"github.com/Poufio-bit/ecoute-boubouh-server/internal/types"
)

// Server-originated frame types.
const (
	TypeWelcome             = "welcome"
	TypeConnectionConfirmed = "connection_confirmed"
	TypePeerConnected       = "peer_connected"
	TypePeerDisconnected    = "peer_disconnected"
	TypeUserStatus          = "user_status"
	TypeDeliveryFailed      = "delivery_failed"
	TypeDebug               = "debug"
	TypePong                = "pong"
	TypeServerPing          = "server_ping"
	TypeServerShutdown      = "server_shutdown"
	TypeError               = "error"
	TypeDisconnected        = "disconnected"
	TypeListeningStarted    = "listening_started"
	TypeListeningStopped    = "listening_stopped"
	TypeRecordingStarted    = "recording_started"
	TypeStartAudioCapture   = "start_audio_capture"
)

// Defaults stamped onto forwarded audio when the sender omitted them, matching
// what the mobile clients emit.
const (
	DefaultSampleRate = 44100
	DefaultFormat     = "PCM_16BIT"
	DefaultChannels   = 1
)

// debugEchoLimit caps how much of an unrecognized message is echoed back.
const debugEchoLimit = 100

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Only reachable with unmarshalable values, which none of the
		// builders below construct.
		panic(err)
	}
	return b
}

func Welcome(connectionID string) []byte {
	return mustJSON(map[string]any{
		"type":         TypeWelcome,
		"message":      "connection established, identify as 'listener' or 'source'",
		"connectionId": connectionID,
		"features":     []string{"identification", "audio_streaming", "real_time_communication", "listening_sessions"},
		"timestamp":    timestamp(),
	})
}

func ConnectionConfirmed(role types.Role, connectionID string) []byte {
	return mustJSON(map[string]any{
		"type":         TypeConnectionConfirmed,
		"client":       string(role),
		"status":       types.StateConnected,
		"connectionId": connectionID,
		"timestamp":    timestamp(),
	})
}

func PeerConnected(role types.Role) []byte {
	return mustJSON(map[string]any{
		"type":      TypePeerConnected,
		"peer":      string(role),
		"timestamp": timestamp(),
	})
}

func PeerDisconnected(role types.Role) []byte {
	return mustJSON(map[string]any{
		"type":      TypePeerDisconnected,
		"peer":      string(role),
		"timestamp": timestamp(),
	})
}

func UserStatus(users map[types.Role]string) []byte {
	return mustJSON(map[string]any{
		"type":      TypeUserStatus,
		"users":     users,
		"timestamp": timestamp(),
	})
}

func DeliveryFailed(target types.Role) []byte {
	return mustJSON(map[string]any{
		"type":      TypeDeliveryFailed,
		"target":    string(target),
		"reason":    "peer not connected",
		"timestamp": timestamp(),
	})
}

// Debug echoes a truncated copy of an unrecognized message together with the
// formats the server accepts.
func Debug(received []byte) []byte {
	echo := string(received)
	if len(echo) > debugEchoLimit {
		echo = echo[:debugEchoLimit]
	}
	return mustJSON(map[string]any{
		"type":     TypeDebug,
		"received": echo,
		"message":  "message format not recognized",
		"expectedFormats": []string{
			"listener",
			"source",
			`{"type":"connect","user":"listener"}`,
			`{"action":"identify","device":"listener"}`,
			`{"type":"identify","role":"listener"}`,
		},
		"timestamp": timestamp(),
	})
}

func Pong() []byte {
	return mustJSON(map[string]any{"type": TypePong, "timestamp": timestamp()})
}

func ServerPing() []byte {
	return mustJSON(map[string]any{"type": TypeServerPing, "timestamp": timestamp()})
}

func ServerShutdown() []byte {
	return mustJSON(map[string]any{
		"type":      TypeServerShutdown,
		"message":   "server shutting down",
		"timestamp": timestamp(),
	})
}

func Error(msg string) []byte {
	return mustJSON(map[string]any{
		"type":      TypeError,
		"message":   msg,
		"timestamp": timestamp(),
	})
}

// Disconnected is the supersession notice sent to a connection evicted by a
// newer claim for the same role.
func Disconnected(reason string) []byte {
	return mustJSON(map[string]any{
		"type":      TypeDisconnected,
		"reason":    reason,
		"timestamp": timestamp(),
	})
}

// ForwardAudio re-encodes a relayed audio frame with a server timestamp and
// defaults filled in. The payload passes through verbatim.
func ForwardAudio(a *Audio) []byte {
	sampleRate := a.SampleRate
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	format := a.Format
	if format == "" {
		format = DefaultFormat
	}
	channels := a.Channels
	if channels == 0 {
		channels = DefaultChannels
	}
	out := map[string]any{
		"type":       TypeAudioData,
		"from":       a.From,
		"to":         a.To,
		"data":       a.Data,
		"sampleRate": sampleRate,
		"format":     format,
		"channels":   channels,
		"timestamp":  timestamp(),
	}
	if a.SessionID != "" {
		out["session_id"] = a.SessionID
	}
	if a.Order != 0 {
		out["order"] = a.Order
	}
	return mustJSON(out)
}

// ListeningIndicator forwards the listener's on/off flag to the source.
func ListeningIndicator(listening bool) []byte {
	return mustJSON(map[string]any{
		"type":      TypeListening,
		"listening": listening,
		"from":      string(types.RoleListener),
		"timestamp": timestamp(),
	})
}

func ListeningStarted(sessionID string) []byte {
	return mustJSON(map[string]any{
		"type":       TypeListeningStarted,
		"session_id": sessionID,
		"timestamp":  timestamp(),
	})
}

func ListeningStopped(sessionID string, durationSeconds int) []byte {
	return mustJSON(map[string]any{
		"type":             TypeListeningStopped,
		"session_id":       sessionID,
		"duration_seconds": durationSeconds,
		"timestamp":        timestamp(),
	})
}

func RecordingStarted(sessionID string) []byte {
	return mustJSON(map[string]any{
		"type":       TypeRecordingStarted,
		"session_id": sessionID,
		"timestamp":  timestamp(),
	})
}

// StartAudioCapture tells the source to begin emitting audio frames tagged
// with the new session id.
func StartAudioCapture(sessionID string) []byte {
	return mustJSON(map[string]any{
		"type":       TypeStartAudioCapture,
		"session_id": sessionID,
		"timestamp":  timestamp(),
	})
}

// BatteryForward relays the source's battery level to the listener.
func BatteryForward(level int, sessionID string) []byte {
	out := map[string]any{
		"type":          TypeBatteryUpdate,
		"battery_level": level,
		"timestamp":     timestamp(),
	}
	if sessionID != "" {
		out["session_id"] = sessionID
	}
	return mustJSON(out)
}
