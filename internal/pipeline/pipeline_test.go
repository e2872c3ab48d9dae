package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/babelvox/internal/config"
	"github.com/MrWong99/babelvox/internal/usage"
	"github.com/MrWong99/babelvox/pkg/audio/codec"
	"github.com/MrWong99/babelvox/pkg/provider/tts"
	ttsmock "github.com/MrWong99/babelvox/pkg/provider/tts/mock"
)

// ── Fakes ────────────────────────────────────────────────────────────────────

type fakeTranslator struct {
	mu    sync.Mutex
	out   string
	err   error
	fn    func(ctx context.Context, text string) (string, error)
	calls []string
}

func (f *fakeTranslator) Translate(ctx context.Context, text, _, _ string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	fn, out, err := f.fn, f.out, f.err
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, text)
	}
	return out, err
}

func (f *fakeTranslator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePhoneticizer struct {
	mu       sync.Mutex
	out      string
	err      error
	language string
}

func (f *fakePhoneticizer) Phonetic(_ context.Context, _, language string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.language = language
	return f.out, f.err
}

func pcmSpeech(pcm []byte) *tts.Speech {
	return &tts.Speech{
		AudioBase64:   base64.StdEncoding.EncodeToString(pcm),
		SampleRate:    24000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// callLog records collaborator calls across all three stages in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.calls)
}

type loggedTranslator struct{ log *callLog }

func (l loggedTranslator) Translate(context.Context, string, string, string) (string, error) {
	l.log.add("translate")
	return "Buenos días", nil
}

type loggedPhoneticizer struct{ log *callLog }

func (l loggedPhoneticizer) Phonetic(context.Context, string, string) (string, error) {
	l.log.add("phonetic")
	return "BWEH-nohs DEE-ahs", nil
}

type loggedSynthesizer struct{ log *callLog }

func (l loggedSynthesizer) Synthesize(context.Context, tts.Request) (*tts.Speech, error) {
	l.log.add("synthesize")
	return pcmSpeech([]byte{1, 0}), nil
}

type harness struct {
	tr  *fakeTranslator
	ph  *fakePhoneticizer
	syn *ttsmock.Provider
	p   *Pipeline
}

func newHarness(opts ...Option) *harness {
	h := &harness{
		tr:  &fakeTranslator{out: "Hola"},
		ph:  &fakePhoneticizer{out: "OH-lah"},
		syn: &ttsmock.Provider{Speech: pcmSpeech([]byte{1, 0, 2, 0})},
	}
	h.p = New(h.tr, h.ph, h.syn, opts...)
	return h
}

var hello = Input{Text: "Hello", Source: "English", Target: "Spanish", Voice: "nova"}

// ── Scenarios ────────────────────────────────────────────────────────────────

func TestRun_FullSuccess(t *testing.T) {
	t.Parallel()
	h := newHarness(WithLanguageCode(func(string) string { return "es" }))

	if err := h.p.Run(context.Background(), hello); err != nil {
		t.Fatalf("Run: %v", err)
	}
	snap := h.p.Snapshot()
	if snap.Translation != "Hola" || snap.Phonetic != "OH-lah" {
		t.Errorf("snapshot = %s", snap)
	}
	if !snap.HasAudio() || len(snap.Audio) != 4 {
		t.Errorf("audio = %v", snap.Audio)
	}
	if snap.Format.SampleRate != 24000 || snap.Format.Channels != 1 {
		t.Errorf("format = %+v", snap.Format)
	}
	if snap.Err != nil || snap.Running {
		t.Errorf("err = %v, running = %v", snap.Err, snap.Running)
	}
	if h.ph.language != "Spanish" {
		t.Errorf("phonetic language = %q", h.ph.language)
	}
	req := h.syn.Calls()[0].Req
	if req.Text != "Hola" || req.Language != "es" || req.Voice != "nova" {
		t.Errorf("synthesis request = %+v", req)
	}
}

func TestRun_SettledInputCallsEachStageOnceInOrder(t *testing.T) {
	t.Parallel()
	log := &callLog{}
	p := New(loggedTranslator{log}, loggedPhoneticizer{log}, loggedSynthesizer{log})

	done := make(chan error, 1)
	d := NewDebouncer(config.DefaultDebounce, func(in Input) { done <- p.Run(context.Background(), in) })
	defer d.Stop()

	start := time.Now()
	d.Set(Input{Text: "Good morning", Source: "English", Target: "Spanish"})
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("debounced run never fired")
	}
	if elapsed := time.Since(start); elapsed < config.DefaultDebounce {
		t.Errorf("run fired after %s, before the %s settle period", elapsed, config.DefaultDebounce)
	}
	want := []string{"translate", "phonetic", "synthesize"}
	if got := log.snapshot(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if snap := p.Snapshot(); snap.Translation != "Buenos días" || !snap.HasAudio() {
		t.Errorf("snapshot = %s", snap)
	}
}

func TestRun_UnwrapsWAVSynthesis(t *testing.T) {
	t.Parallel()
	samples := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	tests := []struct {
		name    string
		bits    int
		wantErr bool
	}{
		{name: "16-bit", bits: 16},
		{name: "8-bit rejected", bits: 8, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness()
			h.syn.Speech = &tts.Speech{
				AudioBase64: codec.EncodeTransport(codec.PackageWAV(samples, 16000, 2, tc.bits)),
				SampleRate:  24000,
				Channels:    1,
			}
			err := h.p.Run(context.Background(), hello)
			snap := h.p.Snapshot()
			if tc.wantErr {
				if stage, ok := StageOf(err); !ok || stage != StageSynthesis || !errors.Is(err, codec.ErrDecode) {
					t.Fatalf("err = %v, want a synthesis decode failure", err)
				}
				if snap.HasAudio() {
					t.Error("audio kept after a rejected payload")
				}
				return
			}
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if string(snap.Audio) != string(samples) {
				t.Errorf("audio = %v, want the bare samples", snap.Audio)
			}
			if snap.Format.SampleRate != 16000 || snap.Format.Channels != 2 {
				t.Errorf("format = %+v, want the container's 16 kHz stereo", snap.Format)
			}
		})
	}
}

func TestRun_StageFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name            string
		setup           func(*harness)
		wantStage       Stage
		wantMessage     string
		wantTranslation string
		wantPhonetic    string
	}{
		{
			name:        "translation",
			setup:       func(h *harness) { h.tr.err = errors.New("quota exceeded") },
			wantStage:   StageTranslation,
			wantMessage: "Translation failed: quota exceeded",
		},
		{
			name:            "phonetic",
			setup:           func(h *harness) { h.ph.err = errors.New("timeout") },
			wantStage:       StagePhonetic,
			wantMessage:     "Phonetic guide failed: timeout",
			wantTranslation: "Hola",
		},
		{
			name:            "synthesis keeps text and phonetic",
			setup:           func(h *harness) { h.syn.SynthesizeErr = errors.New("voice not found") },
			wantStage:       StageSynthesis,
			wantMessage:     "Audio generation failed: voice not found",
			wantTranslation: "Hola",
			wantPhonetic:    "OH-lah",
		},
		{
			name:            "no audio payload",
			setup:           func(h *harness) { h.syn.Speech = &tts.Speech{} },
			wantStage:       StageSynthesis,
			wantTranslation: "Hola",
			wantPhonetic:    "OH-lah",
		},
		{
			name:            "undecodable audio",
			setup:           func(h *harness) { h.syn.Speech = &tts.Speech{AudioBase64: "!!not base64!!"} },
			wantStage:       StageSynthesis,
			wantTranslation: "Hola",
			wantPhonetic:    "OH-lah",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness()
			tc.setup(h)

			err := h.p.Run(context.Background(), hello)
			if stage, ok := StageOf(err); !ok || stage != tc.wantStage {
				t.Fatalf("err = %v, want %s StageError", err, tc.wantStage)
			}
			if tc.wantMessage != "" && err.Error() != tc.wantMessage {
				t.Errorf("message = %q, want %q", err.Error(), tc.wantMessage)
			}
			snap := h.p.Snapshot()
			if snap.Err == nil || snap.Err.Error() != err.Error() {
				t.Errorf("error slot = %v", snap.Err)
			}
			if snap.Translation != tc.wantTranslation || snap.Phonetic != tc.wantPhonetic {
				t.Errorf("partial results = %q / %q", snap.Translation, snap.Phonetic)
			}
			if snap.HasAudio() || snap.Running {
				t.Errorf("audio = %d bytes, running = %v", len(snap.Audio), snap.Running)
			}
		})
	}
}

func TestRun_EmptyInputClearsWithoutCalls(t *testing.T) {
	t.Parallel()
	h := newHarness()
	ctx := context.Background()

	if err := h.p.Run(ctx, hello); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := h.p.Run(ctx, Input{Text: "  \n\t", Target: "Spanish"}); err != nil {
		t.Fatalf("Run empty: %v", err)
	}
	snap := h.p.Snapshot()
	if snap.Translation != "" || snap.Phonetic != "" || snap.HasAudio() || snap.Err != nil {
		t.Errorf("snapshot not cleared: %s", snap)
	}
	if h.tr.count() != 1 {
		t.Errorf("translator calls = %d, want 1", h.tr.count())
	}
}

func TestRun_NewRunClearsPreviousError(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.tr.err = errors.New("down")
	_ = h.p.Run(context.Background(), hello)

	h.tr.mu.Lock()
	h.tr.err = nil
	h.tr.mu.Unlock()
	if err := h.p.Run(context.Background(), hello); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.p.Snapshot().Err != nil {
		t.Errorf("stale error kept: %v", h.p.Snapshot().Err)
	}
}

func TestRun_StaleRunDiscarded(t *testing.T) {
	t.Parallel()
	h := newHarness()
	entered := make(chan struct{})
	var cancelledByNewer bool
	h.tr.fn = func(ctx context.Context, text string) (string, error) {
		if text == "first" {
			close(entered)
			<-ctx.Done()
			cancelledByNewer = true
			return "primero", nil
		}
		return "segundo", nil
	}

	firstErr := make(chan error, 1)
	go func() {
		firstErr <- h.p.Run(context.Background(), Input{Text: "first", Target: "Spanish"})
	}()
	<-entered

	if err := h.p.Run(context.Background(), Input{Text: "second", Target: "Spanish"}); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if err := <-firstErr; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("first Run = %v, want ErrSuperseded", err)
	}
	if !cancelledByNewer {
		t.Error("superseded run's context was not cancelled")
	}
	snap := h.p.Snapshot()
	if snap.Translation != "segundo" || snap.Generation != 2 {
		t.Errorf("snapshot = %s, want second run", snap)
	}
	if snap.Err != nil {
		t.Errorf("stale failure surfaced: %v", snap.Err)
	}
}

func TestRun_StageTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(WithStageTimeout(20 * time.Millisecond))
	h.tr.fn = func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	err := h.p.Run(context.Background(), hello)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if stage, _ := StageOf(err); stage != StageTranslation {
		t.Errorf("stage = %q", stage)
	}
}

func TestRun_UsageGate(t *testing.T) {
	t.Parallel()
	store := &usage.MemoryStore{}
	tracker := usage.NewTracker(store, 1)
	h := newHarness(WithUsage(tracker))
	ctx := context.Background()

	if err := h.p.Run(ctx, hello); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if got := tracker.State().Count; got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
	err := h.p.Run(ctx, hello)
	if !errors.Is(err, usage.ErrLimitReached) {
		t.Fatalf("second Run = %v, want ErrLimitReached", err)
	}
	if !errors.Is(h.p.Snapshot().Err, usage.ErrLimitReached) {
		t.Errorf("error slot = %v", h.p.Snapshot().Err)
	}
	if h.tr.count() != 1 {
		t.Errorf("translator called %d times, want 1", h.tr.count())
	}
}

func TestRun_FailedRunNotCounted(t *testing.T) {
	t.Parallel()
	tracker := usage.NewTracker(&usage.MemoryStore{}, 5)
	h := newHarness(WithUsage(tracker))
	h.syn.SynthesizeErr = errors.New("down")

	_ = h.p.Run(context.Background(), hello)
	if got := tracker.State().Count; got != 0 {
		t.Errorf("count = %d, want 0", got)
	}
}

func TestSubscribe_OrderedUpdates(t *testing.T) {
	t.Parallel()
	h := newHarness()
	var (
		mu    sync.Mutex
		seen  []Snapshot
		calls int
	)
	unsub := h.p.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	if err := h.p.Run(context.Background(), hello); err != nil {
		t.Fatalf("Run: %v", err)
	}
	mu.Lock()
	calls = len(seen)
	first, last := seen[0], seen[len(seen)-1]
	mu.Unlock()

	if calls != 4 {
		t.Errorf("updates = %d, want 4 (start, translation, phonetic, audio)", calls)
	}
	if !first.Running || first.Translation != "" {
		t.Errorf("first update = %s", first)
	}
	if last.Running || !last.HasAudio() {
		t.Errorf("last update = %s", last)
	}

	unsub()
	h.p.ReportError(errors.New("x"))
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != calls {
		t.Error("update delivered after unsubscribe")
	}
}

func TestReportError_SingleSlot(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.p.ReportError(errors.New("first"))
	h.p.ReportError(errors.New("second"))
	if got := h.p.Snapshot().Err; got == nil || got.Error() != "second" {
		t.Errorf("error slot = %v, want second", got)
	}
	h.p.ClearError()
	if h.p.Snapshot().Err != nil {
		t.Error("ClearError left the slot set")
	}
}

// ── Debouncer ────────────────────────────────────────────────────────────────

func TestDebouncer_CoalescesBurst(t *testing.T) {
	t.Parallel()
	fired := make(chan string, 4)
	d := NewDebouncer(30*time.Millisecond, func(v string) { fired <- v })
	defer d.Stop()

	for _, v := range []string{"H", "He", "Hel", "Hello"} {
		d.Set(v)
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case v := <-fired:
		if v != "Hello" {
			t.Errorf("fired %q, want Hello", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never fired")
	}
	select {
	case v := <-fired:
		t.Errorf("extra delivery %q", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncer_StopAndCancel(t *testing.T) {
	t.Parallel()
	fired := make(chan string, 2)
	d := NewDebouncer(20*time.Millisecond, func(v string) { fired <- v })

	d.Set("cancelled")
	d.Cancel()
	d.Set("kept")
	select {
	case v := <-fired:
		if v != "kept" {
			t.Errorf("fired %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never fired")
	}

	d.Set("stopped")
	d.Stop()
	d.Set("ignored")
	select {
	case v := <-fired:
		t.Errorf("delivery after Stop: %q", v)
	case <-time.After(80 * time.Millisecond):
	}
}

func TestStageError_Labels(t *testing.T) {
	t.Parallel()
	cause := errors.New("boom")
	tests := []struct {
		stage Stage
		want  string
	}{
		{StageTranscription, "Transcription failed: boom"},
		{StageTranslation, "Translation failed: boom"},
		{StagePhonetic, "Phonetic guide failed: boom"},
		{StageSynthesis, "Audio generation failed: boom"},
	}
	for _, tc := range tests {
		err := error(&StageError{Stage: tc.stage, Err: cause})
		if err.Error() != tc.want {
			t.Errorf("%s: %q, want %q", tc.stage, err.Error(), tc.want)
		}
		if !errors.Is(err, cause) {
			t.Errorf("%s: cause not unwrapped", tc.stage)
		}
	}
}
