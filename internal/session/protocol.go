package session

import (
	"github.com/MrWong99/babelvox/internal/capture"
	"github.com/MrWong99/babelvox/internal/pipeline"
	"github.com/MrWong99/babelvox/internal/usage"
)

// Inbound message types sent by the page.
const (
	// Text editing and settings.
	MsgText     = "text"
	MsgSettings = "settings"

	// Capture.
	MsgRecordStart     = "record_start"
	MsgRecordStop      = "record_stop"
	MsgPermission      = "permission"
	MsgChunk           = "chunk"
	MsgLevels          = "levels"
	MsgRecorderStopped = "recorder_stopped"

	// Playback.
	MsgPlay          = "play"
	MsgRate          = "rate"
	MsgPause         = "pause"
	MsgPlaybackEnded = "playback_ended"
	MsgPlaybackError = "playback_error"

	// Account.
	MsgUpgrade    = "upgrade"
	MsgClearError = "clear_error"
)

// Outbound message types sent to the page.
const (
	MsgHello           = "hello"
	MsgState           = "state"
	MsgCaptureState    = "capture_state"
	MsgBusy            = "busy"
	MsgUsage           = "usage"
	MsgMicRequest      = "mic_request"
	MsgMicStop         = "mic_stop"
	MsgWaveform        = "waveform"
	MsgResourceCreate  = "resource_create"
	MsgResourceRelease = "resource_release"
	MsgLoad            = "load"
	MsgSetRate         = "set_rate"
	MsgStartPlayback   = "start_playback"
	MsgPausePlayback   = "pause_playback"
)

// Inbound is the union of every message the page sends. Only the fields
// relevant to Type are set.
type Inbound struct {
	Type string `json:"type"`

	// text, settings
	Text   string `json:"text,omitempty"`
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`
	Voice  string `json:"voice,omitempty"`

	// permission, chunk, levels, recorder_stopped: the id from mic_request
	Stream string `json:"stream,omitempty"`

	// permission
	Granted  bool   `json:"granted,omitempty"`
	MIMEType string `json:"mime,omitempty"`

	// chunk, levels
	Data       []byte `json:"data,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`

	// record_start
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`

	// play, rate
	Rate float64 `json:"rate,omitempty"`

	// playback_ended, playback_error
	Handle string `json:"handle,omitempty"`
	Error  string `json:"error,omitempty"`

	// upgrade
	Tier string `json:"tier,omitempty"`
}

// Hello is the first message of every session.
type Hello struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// StateMessage mirrors [pipeline.Snapshot] for the page.
type StateMessage struct {
	Type        string         `json:"type"`
	Generation  uint64         `json:"generation"`
	Input       pipeline.Input `json:"input"`
	Translation string         `json:"translation"`
	Phonetic    string         `json:"phonetic"`
	HasAudio    bool           `json:"has_audio"`
	Running     bool           `json:"running"`
	Error       string         `json:"error,omitempty"`

	// ErrorStage names the collaborator that failed, when one did.
	ErrorStage string `json:"error_stage,omitempty"`
}

func stateMessage(s pipeline.Snapshot) StateMessage {
	m := StateMessage{
		Type:        MsgState,
		Generation:  s.Generation,
		Input:       s.Input,
		Translation: s.Translation,
		Phonetic:    s.Phonetic,
		HasAudio:    s.HasAudio(),
		Running:     s.Running,
	}
	if s.Err != nil {
		m.Error = s.Err.Error()
		if stage, ok := pipeline.StageOf(s.Err); ok {
			m.ErrorStage = string(stage)
		}
	}
	return m
}

// CaptureStateMessage reports a capture state transition.
type CaptureStateMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

// BusyMessage reports the shared busy reason; empty when idle.
type BusyMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// UsageMessage reports the freemium counter.
type UsageMessage struct {
	Type  string     `json:"type"`
	Count int        `json:"count"`
	Limit int        `json:"limit"`
	Tier  usage.Tier `json:"tier"`
}

// Command is a bare instruction for the page (mic_request, mic_stop,
// start_playback, pause_playback). Stream tags the mic commands.
type Command struct {
	Type   string `json:"type"`
	Stream string `json:"stream,omitempty"`
}

// WaveformMessage carries one rendered frame.
type WaveformMessage struct {
	Type   string          `json:"type"`
	Points []capture.Point `json:"points"`
}

// ResourceMessage asks the page to create, load or release a playable
// resource. Data is set for resource_create only.
type ResourceMessage struct {
	Type     string `json:"type"`
	Handle   string `json:"handle"`
	MIMEType string `json:"mime,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// RateMessage sets the playback rate on the page's audio element.
type RateMessage struct {
	Type          string  `json:"type"`
	Rate          float64 `json:"rate"`
	PreservePitch bool    `json:"preserve_pitch"`
}
