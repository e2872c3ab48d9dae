// Package pipeline orchestrates one translation run: translate, then build the
// phonetic guide, then synthesize speech, strictly in that order.
//
// Every [Pipeline.Run] takes a new generation number. Starting a run clears
// the previous results, cancels the previous run's context and makes any
// result the previous run still produces stale: stale results are dropped
// instead of overwriting the newer state. A stage failure aborts the remaining
// stages; results the run already produced stay visible next to the error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/babelvox/internal/observe"
	"github.com/MrWong99/babelvox/internal/usage"
	"github.com/MrWong99/babelvox/pkg/audio"
	"github.com/MrWong99/babelvox/pkg/audio/codec"
	"github.com/MrWong99/babelvox/pkg/provider/tts"
)

// ErrSuperseded is returned by [Pipeline.Run] when a newer run started before
// this one finished. Its results were discarded.
var ErrSuperseded = errors.New("pipeline: run superseded")

// Input is the value threaded through one run.
type Input struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
	Voice  string `json:"voice"`
}

// Snapshot is the user-visible pipeline state.
type Snapshot struct {
	// Generation is the run the snapshot belongs to.
	Generation uint64 `json:"generation"`

	Input       Input  `json:"input"`
	Translation string `json:"translation"`
	Phonetic    string `json:"phonetic"`

	// Audio is the decoded synthesis PCM; nil until synthesis completes.
	Audio []byte `json:"-"`

	// Format describes Audio.
	Format audio.Format `json:"-"`

	// Running is true while the run's stages are in flight.
	Running bool `json:"running"`

	// Err is the single error slot. The most recent error wins.
	Err error `json:"-"`
}

// HasAudio reports whether synthesized audio is available.
func (s Snapshot) HasAudio() bool { return len(s.Audio) > 0 }

// Pipeline runs translations for one browser session. Safe for concurrent use.
type Pipeline struct {
	translator   Translator
	phoneticizer Phoneticizer
	synthesizer  Synthesizer

	usage        *usage.Tracker
	metrics      *observe.Metrics
	stageTimeout time.Duration
	languageCode func(string) string

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	snap   Snapshot

	subMu  sync.Mutex
	subs   map[int]func(Snapshot)
	nextID int
}

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithUsage gates runs on t and counts each completed run.
func WithUsage(t *usage.Tracker) Option {
	return func(p *Pipeline) { p.usage = t }
}

// WithMetrics records stage latency and run outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithStageTimeout bounds each collaborator call. Zero means unbounded.
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.stageTimeout = d }
}

// WithLanguageCode maps the target language display name to the identifier
// passed to the synthesizer. The default passes the name through.
func WithLanguageCode(fn func(name string) string) Option {
	return func(p *Pipeline) { p.languageCode = fn }
}

// New returns a Pipeline over the three collaborators.
func New(t Translator, ph Phoneticizer, s Synthesizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		translator:   t,
		phoneticizer: ph,
		synthesizer:  s,
		languageCode: func(name string) string { return name },
		subs:         make(map[int]func(Snapshot)),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Snapshot returns the current state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Subscribe registers fn to receive every state update, in order. fn runs
// synchronously and must not call back into Subscribe. The returned function
// unregisters fn.
func (p *Pipeline) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	p.subMu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.subMu.Unlock()
	return func() {
		p.subMu.Lock()
		delete(p.subs, id)
		p.subMu.Unlock()
	}
}

// publish delivers the state current at delivery time to all subscribers.
// Holding subMu across the read and the calls keeps deliveries ordered.
func (p *Pipeline) publish() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	snap := p.Snapshot()
	for _, fn := range p.subs {
		fn(snap)
	}
}

// ReportError places err in the error slot, e.g. a capture or playback
// failure surfaced by the session.
func (p *Pipeline) ReportError(err error) {
	p.mu.Lock()
	p.snap.Err = err
	p.mu.Unlock()
	p.publish()
}

// ClearError empties the error slot.
func (p *Pipeline) ClearError() {
	p.mu.Lock()
	had := p.snap.Err != nil
	p.snap.Err = nil
	p.mu.Unlock()
	if had {
		p.publish()
	}
}

// Cancel aborts the in-flight run, if any, leaving its partial results.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Run executes a full translation of in. Whitespace-only text clears the
// results without calling any collaborator. The returned error is the run's
// own failure: a [*StageError], a usage limit error, or [ErrSuperseded].
func (p *Pipeline) Run(ctx context.Context, in Input) (err error) {
	text := strings.TrimSpace(in.Text)

	p.mu.Lock()
	p.gen++
	gen := p.gen
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if text == "" {
		p.snap = Snapshot{Generation: gen, Input: in}
		p.mu.Unlock()
		p.publish()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.snap = Snapshot{Generation: gen, Input: in, Running: true}
	p.mu.Unlock()
	p.publish()

	runCtx, span := observe.StartSpan(runCtx, "pipeline.run")
	defer func() {
		cancel()
		observe.EndSpan(span, err)
		p.recordRun(ctx, err)
	}()

	if p.usage != nil {
		if err := p.usage.Check(); err != nil {
			return p.fail(runCtx, gen, err)
		}
	}

	translation, err := stage(runCtx, p, StageTranslation, func(ctx context.Context) (string, error) {
		return p.translator.Translate(ctx, text, in.Source, in.Target)
	})
	if err != nil {
		return p.fail(runCtx, gen, err)
	}
	if !p.update(gen, func(s *Snapshot) { s.Translation = translation }) {
		return ErrSuperseded
	}

	phonetic, err := stage(runCtx, p, StagePhonetic, func(ctx context.Context) (string, error) {
		return p.phoneticizer.Phonetic(ctx, translation, in.Target)
	})
	if err != nil {
		return p.fail(runCtx, gen, err)
	}
	if !p.update(gen, func(s *Snapshot) { s.Phonetic = phonetic }) {
		return ErrSuperseded
	}

	type decoded struct {
		pcm    []byte
		format audio.Format
	}
	speech, err := stage(runCtx, p, StageSynthesis, func(ctx context.Context) (decoded, error) {
		sp, err := p.synthesizer.Synthesize(ctx, tts.Request{
			Text:     translation,
			Language: p.languageCode(in.Target),
			Voice:    in.Voice,
		})
		if err != nil {
			return decoded{}, err
		}
		if sp == nil || sp.AudioBase64 == "" {
			return decoded{}, tts.ErrNoAudio
		}
		pcm, err := codec.DecodeTransport(sp.AudioBase64)
		if err != nil {
			return decoded{}, err
		}
		format := audio.Format{SampleRate: sp.SampleRate, Channels: sp.Channels}
		if codec.IsWAV(pcm) {
			if pcm, format, err = unwrapWAV(pcm); err != nil {
				return decoded{}, err
			}
		}
		if !format.Valid() {
			format = audio.SynthesisFormat
		}
		return decoded{pcm: pcm, format: format}, nil
	})
	if err != nil {
		return p.fail(runCtx, gen, err)
	}
	if !p.update(gen, func(s *Snapshot) {
		s.Audio = speech.pcm
		s.Format = speech.format
		s.Running = false
	}) {
		return ErrSuperseded
	}

	if p.usage != nil {
		if _, err := p.usage.Increment(); err != nil {
			observe.Logger(runCtx).Warn("pipeline: usage not persisted", "err", err)
		}
	}
	return nil
}

// unwrapWAV returns the samples and format of a 16-bit PCM WAV payload.
func unwrapWAV(container []byte) ([]byte, audio.Format, error) {
	h, samples, err := codec.UnpackWAV(container)
	if err != nil {
		return nil, audio.Format{}, err
	}
	if h.BitsPerSample != 8*audio.BytesPerSample {
		return nil, audio.Format{}, &codec.DecodeError{Op: "wav data", Err: fmt.Errorf("unsupported bit depth %d", h.BitsPerSample)}
	}
	return samples, audio.Format{SampleRate: int(h.SampleRate), Channels: int(h.Channels)}, nil
}

// stage runs fn under the stage timeout and wraps failures in a StageError.
func stage[T any](ctx context.Context, p *Pipeline, s Stage, fn func(context.Context) (T, error)) (T, error) {
	if p.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.stageTimeout)
		defer cancel()
	}
	ctx, span := observe.StartSpan(ctx, "pipeline."+string(s))
	start := time.Now()
	v, err := fn(ctx)
	if p.metrics != nil {
		p.metrics.RecordStage(ctx, string(s), time.Since(start), err)
	}
	observe.EndSpan(span, err)
	if err != nil {
		var zero T
		return zero, &StageError{Stage: s, Err: err}
	}
	return v, nil
}

// update applies fn to the snapshot if gen is still current and publishes.
func (p *Pipeline) update(gen uint64, fn func(*Snapshot)) bool {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return false
	}
	fn(&p.snap)
	p.mu.Unlock()
	p.publish()
	return true
}

// fail records err in the error slot when gen is current. A stale run's
// failure, including the cancellation caused by its successor, is discarded.
func (p *Pipeline) fail(ctx context.Context, gen uint64, err error) error {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return ErrSuperseded
	}
	p.snap.Running = false
	p.snap.Err = err
	p.cancel = nil
	p.mu.Unlock()
	p.publish()
	if !errors.Is(err, context.Canceled) {
		observe.Logger(ctx).Warn("pipeline: run failed", "generation", gen, "err", err)
	}
	return err
}

func (p *Pipeline) recordRun(ctx context.Context, err error) {
	if p.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrSuperseded):
		outcome = "superseded"
	case errors.Is(err, usage.ErrLimitReached):
		outcome = "limited"
	case errors.Is(err, context.Canceled):
		outcome = "cancelled"
	default:
		outcome = "error"
	}
	p.metrics.RecordRun(ctx, outcome)
}

// String is used in debug logs.
func (s Snapshot) String() string {
	return fmt.Sprintf("gen=%d running=%t translation=%q phonetic=%q audio=%dB err=%v",
		s.Generation, s.Running, s.Translation, s.Phonetic, len(s.Audio), s.Err)
}
