// Package session serves one connected page over a WebSocket. Each session
// owns its translation pipeline, its capture engine and its playback
// controller; the page's microphone, canvas and audio element are driven
// through the message protocol in protocol.go.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/babelvox/internal/busy"
	"github.com/MrWong99/babelvox/internal/capture"
	"github.com/MrWong99/babelvox/internal/config"
	"github.com/MrWong99/babelvox/internal/export"
	"github.com/MrWong99/babelvox/internal/lang"
	"github.com/MrWong99/babelvox/internal/observe"
	"github.com/MrWong99/babelvox/internal/pipeline"
	"github.com/MrWong99/babelvox/internal/playback"
	"github.com/MrWong99/babelvox/internal/usage"
	"github.com/MrWong99/babelvox/pkg/audio"
	"github.com/MrWong99/babelvox/pkg/audio/codec"
)

const (
	outboundQueue   = 64
	readLimit       = 8 << 20
	finalizeTimeout = 10 * time.Second
	waveformBins    = 256
	waveformRate    = time.Second / 30
)

var (
	errClosed  = errors.New("session: closed")
	errNoAudio = errors.New("session: nothing to play yet")
)

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Translator   pipeline.Translator
	Phoneticizer pipeline.Phoneticizer
	Synthesizer  pipeline.Synthesizer
	Transcriber  capture.Transcriber

	// Usage gates and counts translation runs. Nil disables the gate.
	Usage *usage.Tracker

	// Languages resolves the names typed on the page. Nil means [lang.Default].
	Languages *lang.Catalogue

	Metrics *observe.Metrics
}

// Defaults are the initial settings of a new session.
type Defaults struct {
	SourceLanguage string
	TargetLanguage string
	Voice          string
	Debounce       time.Duration
	StageTimeout   time.Duration
	PlaybackRate   float64
	CaptureFormat  audio.Format
	ExportFormat   config.ExportFormat
}

// DefaultsFromConfig derives session defaults from cfg.
func DefaultsFromConfig(cfg *config.Config) Defaults {
	return Defaults{
		SourceLanguage: cfg.Pipeline.SourceLanguage,
		TargetLanguage: cfg.Pipeline.TargetLanguage,
		Voice:          cfg.Pipeline.Voice,
		Debounce:       cfg.Pipeline.Debounce,
		StageTimeout:   cfg.Pipeline.StageTimeout,
		PlaybackRate:   cfg.Playback.DefaultRate,
		CaptureFormat:  audio.Format{SampleRate: cfg.Audio.CaptureSampleRate, Channels: 1},
		ExportFormat:   cfg.Audio.ExportFormat,
	}
}

// Session is one connected page.
type Session struct {
	id       string
	conn     *websocket.Conn
	deps     Deps
	defaults Defaults
	langs    *lang.Catalogue
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	out    chan any

	guard    busy.Guard
	mic      *remoteMic
	surface  *remoteSurface
	engine   *remoteEngine
	capture  *capture.Engine
	playback *playback.Controller
	pipeline *pipeline.Pipeline
	debounce *pipeline.Debouncer[pipeline.Input]

	mu      sync.Mutex
	input   pipeline.Input
	closing bool
	tasks   sync.WaitGroup
}

// New prepares a session for conn. Call [Session.Run] to serve it.
func New(ctx context.Context, conn *websocket.Conn, deps Deps, d Defaults) *Session {
	id := uuid.NewString()
	langs := deps.Languages
	if langs == nil {
		langs = lang.Default
	}
	s := &Session{
		id:       id,
		conn:     conn,
		deps:     deps,
		defaults: d,
		langs:    langs,
		out:      make(chan any, outboundQueue),
		input: pipeline.Input{
			Source: d.SourceLanguage,
			Target: d.TargetLanguage,
			Voice:  d.Voice,
		},
	}
	s.ctx, s.cancel = context.WithCancel(observe.WithSessionID(ctx, id))
	s.log = observe.Logger(s.ctx)

	s.mic = &remoteMic{s: s}
	s.surface = &remoteSurface{s: s}
	s.engine = &remoteEngine{s: s}

	popts := []pipeline.Option{
		pipeline.WithStageTimeout(d.StageTimeout),
		pipeline.WithLanguageCode(langs.CodeFor),
	}
	if deps.Usage != nil {
		popts = append(popts, pipeline.WithUsage(deps.Usage))
	}
	if deps.Metrics != nil {
		popts = append(popts, pipeline.WithMetrics(deps.Metrics))
	}
	s.pipeline = pipeline.New(deps.Translator, deps.Phoneticizer, deps.Synthesizer, popts...)
	s.debounce = pipeline.NewDebouncer(d.Debounce, s.run)

	copts := []capture.Option{
		capture.WithSurface(s.surface),
		capture.WithScheduler(capture.Ticker{Interval: waveformRate}),
		capture.WithBins(waveformBins),
		capture.WithCaptureFormat(d.CaptureFormat),
		capture.WithSourceLanguage(func() string {
			s.mu.Lock()
			defer s.mu.Unlock()
			return langs.CodeFor(s.input.Source)
		}),
		capture.WithStateListener(func(st capture.State) {
			s.trySend(CaptureStateMessage{Type: MsgCaptureState, State: st.String()})
		}),
	}
	if deps.Metrics != nil {
		copts = append(copts, capture.WithMetrics(deps.Metrics))
	}
	s.capture = capture.New(s.mic, deps.Transcriber, &s.guard, copts...)

	factory := func(context.Context) (playback.Engine, error) { return s.engine, nil }
	pbopts := []playback.Option{playback.WithInitialRate(d.PlaybackRate)}
	if deps.Metrics != nil {
		pbopts = append(pbopts, playback.WithMetrics(deps.Metrics))
	}
	s.playback = playback.New(remoteResources{s: s}, factory, &s.guard, pbopts...)

	s.guard.OnChange(func(reason string) {
		s.trySend(BusyMessage{Type: MsgBusy, Reason: reason})
	})
	s.pipeline.Subscribe(func(snap pipeline.Snapshot) {
		_ = s.send(stateMessage(snap))
	})
	return s
}

// ID returns the session identifier announced in the hello message.
func (s *Session) ID() string { return s.id }

// Snapshot returns the current pipeline state.
func (s *Session) Snapshot() pipeline.Snapshot { return s.pipeline.Snapshot() }

// Export packages the current audio as f. An empty f selects the session's
// default format.
func (s *Session) Export(f config.ExportFormat) (export.Artifact, error) {
	if f == "" {
		f = s.defaults.ExportFormat
	}
	snap := s.pipeline.Snapshot()
	return export.Build(snap.Audio, snap.Format, snap.Input.Target, f)
}

// SetDebounce changes the typing quiet period.
func (s *Session) SetDebounce(d time.Duration) { s.debounce.SetDelay(d) }

// Run serves the connection until the page disconnects or ctx is cancelled,
// then releases every resource the session holds.
func (s *Session) Run() error {
	s.conn.SetReadLimit(readLimit)
	s.out <- Hello{Type: MsgHello, SessionID: s.id}
	s.out <- stateMessage(s.pipeline.Snapshot())
	if msg, ok := s.usageMessage(); ok {
		s.out <- msg
	}

	g, gctx := errgroup.WithContext(s.ctx)
	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error {
		defer s.cancel()
		return s.readLoop(gctx)
	})
	err := g.Wait()
	s.cancel()
	s.shutdown()
	return err
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("session: read: %w", err)
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			s.log.Debug("session: ignoring malformed message", "err", err)
			continue
		}
		s.dispatch(in)
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.out:
			if err := wsjson.Write(ctx, s.conn, msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("session: write: %w", err)
			}
		}
	}
}

// send queues msg, blocking while the queue is full.
func (s *Session) send(msg any) error {
	select {
	case s.out <- msg:
		return nil
	case <-s.ctx.Done():
		return errClosed
	}
}

// trySend queues msg unless the queue is full.
func (s *Session) trySend(msg any) {
	select {
	case s.out <- msg:
	default:
	}
}

func (s *Session) dispatch(in Inbound) {
	switch in.Type {
	case MsgText:
		s.mu.Lock()
		s.input.Text = in.Text
		next := s.input
		s.mu.Unlock()
		s.debounce.Set(next)

	case MsgSettings:
		s.applySettings(in)

	case MsgRecordStart:
		s.surface.setSize(in.Width, in.Height)
		s.spawn(s.startCapture)
	case MsgPermission:
		s.mic.answer(in)
	case MsgChunk:
		s.mic.chunk(in.Stream, capture.Chunk{Data: in.Data, SampleRate: in.SampleRate, Channels: in.Channels})
	case MsgLevels:
		s.mic.levels(in.Stream, in.Data)
	case MsgRecorderStopped:
		s.mic.stopped(in.Stream)
	case MsgRecordStop:
		s.spawn(s.stopCapture)

	case MsgPlay:
		rate := in.Rate
		if rate == 0 {
			rate = s.playback.Rate()
		}
		s.spawn(func() { s.play(rate) })
	case MsgRate:
		s.playback.SetRate(in.Rate)
	case MsgPause:
		s.playback.Pause()
	case MsgPlaybackEnded, MsgPlaybackError:
		s.engine.event(in)

	case MsgUpgrade:
		s.upgrade(in.Tier)
	case MsgClearError:
		s.pipeline.ClearError()

	default:
		s.log.Debug("session: unknown message type", "type", in.Type)
	}
}

// applySettings resolves the languages and voice in in and re-runs the
// current text when any of them changed.
func (s *Session) applySettings(in Inbound) {
	s.mu.Lock()
	next := s.input
	s.mu.Unlock()

	for _, f := range []struct {
		raw string
		dst *string
	}{{in.Source, &next.Source}, {in.Target, &next.Target}} {
		if f.raw == "" {
			continue
		}
		l, err := s.langs.Resolve(f.raw)
		if err != nil {
			s.pipeline.ReportError(err)
			return
		}
		*f.dst = l.Name
	}
	if in.Voice != "" {
		next.Voice = in.Voice
	}

	s.mu.Lock()
	changed := next != s.input
	s.input = next
	s.mu.Unlock()
	if changed {
		s.debounce.Cancel()
		s.run(next)
	}
}

// run starts a pipeline run in the background. The run supersedes any run
// still in flight.
func (s *Session) run(in pipeline.Input) {
	s.spawn(func() {
		err := s.pipeline.Run(s.ctx, in)
		if err != nil && !errors.Is(err, pipeline.ErrSuperseded) {
			s.log.Debug("session: run ended", "err", err)
		}
		if msg, ok := s.usageMessage(); ok {
			_ = s.send(msg)
		}
	})
}

func (s *Session) startCapture() {
	if err := s.capture.Start(s.ctx); err != nil && s.ctx.Err() == nil {
		s.pipeline.ReportError(err)
	}
}

func (s *Session) stopCapture() {
	ctx, cancel := context.WithTimeout(s.ctx, finalizeTimeout)
	defer cancel()
	res, err := s.capture.Stop(ctx)
	if err != nil {
		if s.ctx.Err() == nil {
			s.pipeline.ReportError(err)
		}
		return
	}
	if res.Text == "" {
		return
	}
	s.mu.Lock()
	s.input.Text = res.Text
	next := s.input
	s.mu.Unlock()
	s.debounce.Cancel()
	s.run(next)
}

func (s *Session) play(rate float64) {
	snap := s.pipeline.Snapshot()
	if !snap.HasAudio() {
		s.pipeline.ReportError(errNoAudio)
		return
	}
	container := codec.PackageWAV(snap.Audio, snap.Format.SampleRate, snap.Format.Channels, 8*audio.BytesPerSample)
	err := s.playback.Play(s.ctx, container, rate)
	switch {
	case err == nil, errors.Is(err, playback.ErrBusy), errors.Is(err, playback.ErrClosed):
	default:
		if s.ctx.Err() == nil {
			s.pipeline.ReportError(err)
		}
	}
}

func (s *Session) upgrade(tier string) {
	if s.deps.Usage == nil {
		return
	}
	t := usage.Tier(tier)
	if t == "" {
		t = usage.TierPremium
	}
	if _, err := s.deps.Usage.Upgrade(t); err != nil {
		s.pipeline.ReportError(err)
	}
	if msg, ok := s.usageMessage(); ok {
		_ = s.send(msg)
	}
}

func (s *Session) usageMessage() (UsageMessage, bool) {
	if s.deps.Usage == nil {
		return UsageMessage{}, false
	}
	st := s.deps.Usage.State()
	return UsageMessage{Type: MsgUsage, Count: st.Count, Limit: s.deps.Usage.Limit(), Tier: st.Tier}, true
}

// spawn runs fn on a tracked goroutine unless the session is shutting down.
func (s *Session) spawn(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		fn()
	}()
}

// shutdown releases the pipeline, capture and playback and waits for every
// background task.
func (s *Session) shutdown() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.debounce.Stop()
	s.pipeline.Cancel()
	s.mic.release()
	if err := s.capture.Close(); err != nil {
		s.log.Warn("session: close capture", "err", err)
	}
	if err := s.playback.Close(); err != nil {
		s.log.Warn("session: close playback", "err", err)
	}
	s.tasks.Wait()
	s.log.Debug("session: closed")
}
