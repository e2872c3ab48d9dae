package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/babelvox/internal/busy"
	"github.com/MrWong99/babelvox/internal/observe"
	"github.com/MrWong99/babelvox/internal/pipeline"
	"github.com/MrWong99/babelvox/pkg/audio"
	"github.com/MrWong99/babelvox/pkg/audio/codec"
	"github.com/MrWong99/babelvox/pkg/provider/stt"
)

// defaultBins is the number of time-domain samples read per rendered frame.
const defaultBins = 2048

// Engine is the capture state machine. It is safe for concurrent use; at most
// one capture is active at a time.
type Engine struct {
	mic         Microphone
	transcriber Transcriber
	guard       *busy.Guard
	scheduler   FrameScheduler
	surface     Surface
	language    func() string
	target      audio.Format
	bins        int
	metrics     *observe.Metrics
	onState     func(State)

	mu     sync.Mutex
	state  State
	active *session
	closed bool
}

// session holds the resources of one capture.
type session struct {
	stream      Stream
	tap         AnalysisTap
	release     func()
	cancel      context.CancelFunc
	renderDone  chan struct{}
	collectDone chan struct{}
	started     time.Time

	// Written only by the collector goroutine; read after collectDone.
	blob      bytes.Buffer
	format    audio.Format
	pcm       bool
	formatErr error
}

// Option is a functional option for [New].
type Option func(*Engine)

// WithScheduler replaces the default 60 Hz [Ticker].
func WithScheduler(s FrameScheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

// WithSurface sets the waveform drawing target. Without one no waveform is drawn.
func WithSurface(s Surface) Option {
	return func(e *Engine) { e.surface = s }
}

// WithSourceLanguage sets the function consulted at Stop for the language
// passed to the transcriber.
func WithSourceLanguage(fn func() string) Option {
	return func(e *Engine) { e.language = fn }
}

// WithCaptureFormat normalises raw PCM chunks to f before buffering.
// Compressed chunks are buffered verbatim.
func WithCaptureFormat(f audio.Format) Option {
	return func(e *Engine) { e.target = f }
}

// WithBins sets the number of amplitude samples read per frame.
func WithBins(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.bins = n
		}
	}
}

// WithMetrics records capture outcomes and waveform frames on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithStateListener registers fn to be called after every state transition.
// fn runs synchronously outside the engine lock.
func WithStateListener(fn func(State)) Option {
	return func(e *Engine) { e.onState = fn }
}

// New creates an idle Engine. guard is shared with the playback controller.
func New(mic Microphone, transcriber Transcriber, guard *busy.Guard, opts ...Option) *Engine {
	e := &Engine{
		mic:         mic,
		transcriber: transcriber,
		guard:       guard,
		scheduler:   Ticker{},
		language:    func() string { return "" },
		bins:        defaultBins,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start requests the microphone and begins capturing. It is a no-op while a
// capture is already requested or running. It fails with an error wrapping
// [busy.ErrBusy] while playback holds the shared guard and with one wrapping
// [ErrPermissionDenied] when the user refuses access.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errors.New("capture: engine closed")
	}
	if e.state != StateIdle {
		e.mu.Unlock()
		return nil
	}
	release, err := e.guard.Acquire(busy.ReasonCapture)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("capture: start: %w", err)
	}
	e.state = StateRequesting
	e.mu.Unlock()
	e.notify(StateRequesting)

	stream, err := e.mic.Open(ctx)
	if err != nil {
		release()
		e.setState(StateIdle)
		outcome := "failed"
		if errors.Is(err, ErrPermissionDenied) {
			outcome = "denied"
		}
		e.record(ctx, outcome)
		return fmt.Errorf("capture: open microphone: %w", err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		stream.Stop()
		stream.Tap().Close()
		stream.Close()
		release()
		e.setState(StateIdle)
		return errors.New("capture: engine closed")
	}
	renderCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		stream:      stream,
		tap:         stream.Tap(),
		release:     release,
		cancel:      cancel,
		renderDone:  make(chan struct{}),
		collectDone: make(chan struct{}),
		started:     time.Now(),
		pcm:         isPCM(stream.MIMEType()),
	}
	e.active = s
	e.state = StateCapturing
	e.mu.Unlock()
	e.notify(StateCapturing)

	go e.collect(s)
	go e.render(renderCtx, s)
	slog.Debug("capture: started", "mime", stream.MIMEType())
	return nil
}

// Stop ends the running capture and transcribes it. It is a no-op returning
// a zero Result when nothing is being captured. An empty capture yields a zero
// Result without calling the transcriber. A transcription failure is returned
// as a [*pipeline.StageError]; the engine is back in Idle either way.
func (e *Engine) Stop(ctx context.Context) (Result, error) {
	e.mu.Lock()
	if e.state != StateCapturing {
		e.mu.Unlock()
		return Result{}, nil
	}
	s := e.active
	e.active = nil
	e.state = StateFinalizing
	e.mu.Unlock()
	e.notify(StateFinalizing)
	defer e.setState(StateIdle)

	if err := e.teardown(ctx, s); err != nil {
		e.record(ctx, "cancelled")
		return Result{}, err
	}
	if s.formatErr != nil {
		e.record(ctx, "failed")
		return Result{}, s.formatErr
	}
	if s.blob.Len() == 0 {
		e.record(ctx, "empty")
		return Result{}, nil
	}

	blob := e.assemble(s)
	start := time.Now()
	text, err := e.transcriber.Transcribe(ctx, blob, e.language())
	if e.metrics != nil {
		e.metrics.RecordStage(ctx, observe.StageTranscription, time.Since(start), err)
	}
	if err != nil {
		e.record(ctx, "failed")
		return Result{}, &pipeline.StageError{Stage: pipeline.StageTranscription, Err: err}
	}
	e.record(ctx, "transcribed")
	return Result{Text: text, Audio: blob, Duration: time.Since(s.started)}, nil
}

// Close tears down any capture in progress without transcribing it. A capture
// still waiting for permission is torn down as soon as the grant arrives.
// Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	s := e.active
	e.active = nil
	wasCapturing := e.state == StateCapturing
	if wasCapturing {
		e.state = StateIdle
	}
	e.mu.Unlock()

	if s != nil {
		_ = e.teardown(context.Background(), s)
	}
	if wasCapturing {
		e.notify(StateIdle)
	}
	return nil
}

// teardown stops the stream, waits for the render loop to exit, closes the
// tap and waits for the final chunk. When ctx ends first the stream is
// abandoned so its late events cannot reach a later capture. It releases the
// guard in all cases.
func (e *Engine) teardown(ctx context.Context, s *session) error {
	defer s.release()
	s.stream.Stop()
	s.cancel()
	<-s.renderDone
	s.tap.Close()

	select {
	case <-s.collectDone:
		return nil
	case <-ctx.Done():
		s.stream.Close()
		<-s.collectDone
		return fmt.Errorf("capture: waiting for final chunk: %w", ctx.Err())
	}
}

// assemble turns the buffered bytes into the transcription input.
func (e *Engine) assemble(s *session) stt.Audio {
	data := s.blob.Bytes()
	if !s.pcm {
		return stt.Audio{Data: data, MIMEType: s.stream.MIMEType()}
	}
	f := s.format
	return stt.Audio{
		Data:       codec.PackageWAV(data, f.SampleRate, f.Channels, 16),
		MIMEType:   stt.MIMEWAV,
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
	}
}

// collect buffers chunks until the stream closes its channel.
func (e *Engine) collect(s *session) {
	defer close(s.collectDone)
	conv := &audio.FormatConverter{Target: e.target}
	for c := range s.stream.Chunks() {
		if len(c.Data) == 0 {
			continue
		}
		if !s.pcm {
			s.blob.Write(c.Data)
			continue
		}
		if c.SampleRate <= 0 || c.Channels <= 0 {
			if s.formatErr == nil {
				s.formatErr = fmt.Errorf("%w (rate %d, channels %d)", ErrPCMFormat, c.SampleRate, c.Channels)
			}
			continue
		}
		frame := audio.Frame{Data: c.Data, SampleRate: c.SampleRate, Channels: c.Channels}
		if e.target.Valid() {
			frame = conv.Convert(frame)
		}
		if !s.format.Valid() {
			s.format = frame.Format()
		}
		s.blob.Write(frame.Data)
	}
}

// render draws the waveform once per scheduled frame until ctx is cancelled.
func (e *Engine) render(ctx context.Context, s *session) {
	defer close(s.renderDone)
	if e.surface == nil {
		<-ctx.Done()
		return
	}
	buf := make([]byte, e.bins)
	frames := e.scheduler.Frames(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-frames:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			n := s.tap.TimeDomain(buf)
			w, h := e.surface.Size()
			e.surface.Clear()
			e.surface.Polyline(Waveform(buf[:n], w, h))
			if e.metrics != nil {
				e.metrics.WaveformFrames.Add(ctx, 1)
			}
		}
	}
}

// Waveform maps time-domain byte samples to polyline vertices: x is evenly
// spaced across width and y = (v/128) × height/2, so silence (128) sits on
// the vertical midline.
func Waveform(samples []byte, width, height float64) []Point {
	if len(samples) == 0 {
		return nil
	}
	points := make([]Point, len(samples))
	step := width / float64(len(samples))
	for i, v := range samples {
		points[i] = Point{
			X: float64(i) * step,
			Y: float64(v) / 128 * height / 2,
		}
	}
	return points
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.notify(s)
}

func (e *Engine) notify(s State) {
	if e.onState != nil {
		e.onState(s)
	}
}

func (e *Engine) record(ctx context.Context, outcome string) {
	if e.metrics != nil {
		e.metrics.RecordCapture(ctx, outcome)
	}
}

func isPCM(mime string) bool {
	base, _, _ := strings.Cut(mime, ";")
	return strings.EqualFold(strings.TrimSpace(base), stt.MIMEPCM)
}
