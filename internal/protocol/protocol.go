package protocol

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/Poufio-bit/ecoute-boubouh-server/internal/types"
)

// Inbound frame types accepted on the wire. The identity claim additionally
// arrives as {"action":"identify","device":...} or as a bare role name, a
// leftover from the earliest mobile clients.
const (
	TypeConnect        = "connect"
	TypeIdentify       = "identify"
	TypeAudioData      = "audio_data"
	TypeAudioChunk     = "audio_chunk"
	TypePing           = "ping"
	TypeStatusRequest  = "status_request"
	TypeListening      = "listening_status"
	TypeListeningAlias = "bernard_listening"
	TypeStartListening = "start_listening"
	TypeStopListening  = "stop_listening"
	TypeStartRecording = "start_recording"
	TypeBatteryUpdate  = "battery_update"
)

// Kind classifies a decoded inbound frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindIdentity
	KindAudio
	KindPing
	KindStatusRequest
	KindListening
	KindStartListening
	KindStopListening
	KindStartRecording
	KindBatteryUpdate
)

func (k Kind) String() string {
	switch k {
	case KindIdentity:
		return "identity"
	case KindAudio:
		return "audio"
	case KindPing:
		return TypePing
	case KindStatusRequest:
		return TypeStatusRequest
	case KindListening:
		return TypeListening
	case KindStartListening:
		return TypeStartListening
	case KindStopListening:
		return TypeStopListening
	case KindStartRecording:
		return TypeStartRecording
	case KindBatteryUpdate:
		return TypeBatteryUpdate
	}
	return "unknown"
}

// Audio carries one relayed audio payload. Data is opaque to the server
// (the clients send base64-encoded PCM). SessionID and Order are present when
// a listening session is active; Order is trusted as supplied.
type Audio struct {
	Type       string `json:"type"`
	From       string `json:"from"`
	To         string `json:"to"`
	Data       string `json:"data"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Format     string `json:"format,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Order      int64  `json:"order,omitempty"`
}

// Frame is the tagged result of decoding one inbound message. Only the fields
// relevant to Kind are populated; Raw always holds the original bytes.
type Frame struct {
	Kind Kind
	Raw  []byte

	// KindIdentity: the claimed name as sent, not yet validated as a role.
	ClaimedName string

	// KindAudio
	Audio *Audio

	// KindListening
	Listening bool

	// Control frames
	SessionID    string
	BatteryLevel int
}

// wire is the superset of every inbound JSON shape; decoding probes the
// fields that distinguish one shape from another.
type wire struct {
	Type   string `json:"type"`
	Action string `json:"action"`

	User   string `json:"user"`
	Device string `json:"device"`
	Role   string `json:"role"`

	From       string `json:"from"`
	To         string `json:"to"`
	Data       string `json:"data"`
	SampleRate int    `json:"sampleRate"`
	Format     string `json:"format"`
	Channels   int    `json:"channels"`
	Order      int64  `json:"order"`

	Listening    *bool  `json:"listening"`
	SessionID    string `json:"session_id"`
	BatteryLevel *int   `json:"battery_level"`
}

// Decode classifies one raw inbound message. It never fails: anything that
// does not match a known shape comes back as KindUnknown so the dispatcher can
// answer with a debug echo instead of dropping the connection.
func Decode(raw []byte) Frame {
	f := Frame{Kind: KindUnknown, Raw: raw}

	// Bare role name, optionally as a JSON string literal.
	trimmed := strings.TrimSpace(string(raw))
	if _, ok := types.ParseRole(trimmed); ok {
		f.Kind = KindIdentity
		f.ClaimedName = trimmed
		return f
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			f.Kind = KindIdentity
			f.ClaimedName = s
			return f
		}
	}

	if len(trimmed) == 0 || trimmed[0] != '{' {
		return f
	}

	var w wire
	if err := json.Unmarshal(bytes.TrimSpace(raw), &w); err != nil {
		return f
	}

	switch {
	case w.Type == TypeConnect && w.User != "":
		f.Kind = KindIdentity
		f.ClaimedName = w.User
	case w.Action == TypeIdentify && w.Device != "":
		f.Kind = KindIdentity
		f.ClaimedName = w.Device
	case w.Type == TypeIdentify && w.Role != "":
		f.Kind = KindIdentity
		f.ClaimedName = w.Role
	case w.Type == TypeAudioData || w.Type == TypeAudioChunk:
		f.Kind = KindAudio
		f.Audio = &Audio{
			Type:       w.Type,
			From:       w.From,
			To:         w.To,
			Data:       w.Data,
			SampleRate: w.SampleRate,
			Format:     w.Format,
			Channels:   w.Channels,
			SessionID:  w.SessionID,
			Order:      w.Order,
		}
	case w.Type == TypePing:
		f.Kind = KindPing
	case w.Type == TypeStatusRequest:
		f.Kind = KindStatusRequest
	case w.Type == TypeListening || w.Type == TypeListeningAlias:
		f.Kind = KindListening
		if w.Listening != nil {
			f.Listening = *w.Listening
		}
	case w.Type == TypeStartListening:
		f.Kind = KindStartListening
	case w.Type == TypeStopListening:
		f.Kind = KindStopListening
		f.SessionID = w.SessionID
	case w.Type == TypeStartRecording:
		f.Kind = KindStartRecording
		f.SessionID = w.SessionID
	case w.Type == TypeBatteryUpdate:
		f.Kind = KindBatteryUpdate
		f.SessionID = w.SessionID
		if w.BatteryLevel != nil {
			f.BatteryLevel = *w.BatteryLevel
		}
	}
	return f
}
