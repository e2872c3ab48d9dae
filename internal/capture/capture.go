// Package capture drives microphone capture through the connected page and
// renders the live waveform while the user speaks.
//
// An [Engine] walks a four-state machine:
//
//	Idle → Requesting → Capturing → Finalizing → Idle
//
// Requesting waits for the permission grant; a denial returns to Idle and
// reports [ErrPermissionDenied]. Finalizing stops the stream, assembles the
// captured chunks into one blob and hands it to the transcriber. Every exit
// path releases the stream, the analysis tap, the render loop and the shared
// [busy.Guard].
//
// The browser primitives are expressed as small collaborator interfaces so
// the same engine runs against the page (internal/session) and against the
// in-memory doubles in capture/mock.
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/babelvox/pkg/provider/stt"
)

// ErrPermissionDenied is returned by [Microphone.Open] (and surfaced by
// [Engine.Start]) when the user refuses microphone access.
var ErrPermissionDenied = errors.New("capture: microphone permission denied")

// ErrPCMFormat is returned by Stop when a raw PCM chunk arrived without a
// sample rate or channel count. Such a capture cannot be packaged as WAV.
var ErrPCMFormat = errors.New("capture: raw PCM chunk without sample rate or channel count")

// State is a phase of the capture state machine.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateCapturing
	StateFinalizing
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateCapturing:
		return "capturing"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Chunk is one data-available event from the recorder. For raw PCM streams
// SampleRate and Channels describe Data; for compressed containers they are zero.
type Chunk struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Microphone acquires an input stream.
type Microphone interface {
	// Open blocks until the user grants or denies access. A denial returns an
	// error wrapping ErrPermissionDenied.
	Open(ctx context.Context) (Stream, error)
}

// Stream is a live input stream with its attached recorder.
//
// Firing order is fixed: every chunk is delivered on Chunks, then Chunks is
// closed. Chunks closes only after Stop has been called or the device fails.
type Stream interface {
	Chunks() <-chan Chunk

	// Tap returns the analysis tap attached to the stream.
	Tap() AnalysisTap

	// MIMEType is the container type the recorder produces (e.g., "audio/webm").
	MIMEType() string

	// Stop stops all input tracks. Idempotent.
	Stop()

	// Close abandons the stream without waiting for the recorder: the chunk
	// channel is closed and later chunks are dropped. Idempotent.
	Close()
}

// AnalysisTap exposes time-domain amplitude samples of the live input.
type AnalysisTap interface {
	// TimeDomain fills dst with unsigned byte samples centred on 128 and
	// returns the number written.
	TimeDomain(dst []byte) int

	// Close tears down the analysis context. Idempotent.
	Close()
}

// FrameScheduler paces the render loop.
type FrameScheduler interface {
	// Frames delivers one tick per display refresh until ctx is cancelled,
	// then closes the channel.
	Frames(ctx context.Context) <-chan time.Time
}

// Point is a vertex of the waveform polyline in surface coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Surface is a drawing target for the waveform.
type Surface interface {
	// Size returns the drawable width and height.
	Size() (width, height float64)
	Clear()
	Polyline(points []Point)
}

// Transcriber converts the captured blob to text. [stt.Provider] satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, audio stt.Audio, language string) (string, error)
}

// Result is the outcome of a completed capture.
type Result struct {
	// Text is the transcription. Empty when nothing was captured.
	Text string

	// Audio is the assembled blob handed to the transcriber.
	Audio stt.Audio

	// Duration is the wall-clock length of the capture.
	Duration time.Duration
}

// Ticker is a [FrameScheduler] firing at a fixed interval.
type Ticker struct {
	// Interval between frames. Zero means 60 Hz.
	Interval time.Duration
}

// Frames implements [FrameScheduler].
func (t Ticker) Frames(ctx context.Context) <-chan time.Time {
	interval := t.Interval
	if interval <= 0 {
		interval = time.Second / 60
	}
	out := make(chan time.Time)
	go func() {
		defer close(out)
		tk := time.NewTicker(interval)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-tk.C:
				select {
				case out <- now:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

var _ FrameScheduler = Ticker{}
