package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/babelvox/pkg/provider/llm"
	llmmock "github.com/MrWong99/babelvox/pkg/provider/llm/mock"
	"github.com/MrWong99/babelvox/pkg/provider/stt"
	sttmock "github.com/MrWong99/babelvox/pkg/provider/stt/mock"
	"github.com/MrWong99/babelvox/pkg/provider/tts"
	ttsmock "github.com/MrWong99/babelvox/pkg/provider/tts/mock"
)

var testCfg = FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}}

// ── LLM ─────────────────────────────────────────────────────────────────────

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		primaryErr  error
		wantContent string
		wantCalls   [2]int
	}{
		{name: "primary success", wantContent: "Hola", wantCalls: [2]int{1, 0}},
		{name: "failover", primaryErr: errors.New("primary down"), wantContent: "Hola (fallback)", wantCalls: [2]int{1, 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			primary := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "Hola"},
				CompleteErr:      tc.primaryErr,
			}
			if tc.primaryErr != nil {
				primary.CompleteResponse = nil
			}
			secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hola (fallback)"}}

			fb := NewLLMFallback(primary, "openai", testCfg)
			fb.AddFallback("ollama", secondary)

			resp, err := fb.Complete(context.Background(), llm.CompletionRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hello"}},
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Content != tc.wantContent {
				t.Errorf("content = %q, want %q", resp.Content, tc.wantContent)
			}
			if got := [2]int{len(primary.Calls()), len(secondary.Calls())}; got != tc.wantCalls {
				t.Errorf("calls = %v, want %v", got, tc.wantCalls)
			}
		})
	}
}

func TestLLMFallback_InvalidRequestNotRetried(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{}
	fb := NewLLMFallback(primary, "openai", testCfg)

	if _, err := fb.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "x"}); err == nil {
		t.Fatal("expected validation error")
	}
	if len(primary.Calls()) != 0 {
		t.Error("invalid request reached the provider")
	}
	if st := fb.States()["openai"]; st != StateClosed {
		t.Errorf("breaker state = %v, want closed", st)
	}
}

func TestLLMFallback_HealthTracksBreakers(t *testing.T) {
	t.Parallel()
	cfg := FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}}
	fb := NewLLMFallback(&llmmock.Provider{CompleteErr: errors.New("down")}, "openai", cfg)
	fb.AddFallback("ollama", &llmmock.Provider{CompleteErr: errors.New("down")})

	if err := fb.Healthy(); err != nil {
		t.Fatalf("Healthy before failures: %v", err)
	}
	req := llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hello"}}}
	if _, err := fb.Complete(context.Background(), req); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if err := fb.Healthy(); !errors.Is(err, ErrAllFailed) {
		t.Errorf("Healthy after both breakers opened = %v", err)
	}
	for name, st := range fb.States() {
		if st != StateOpen {
			t.Errorf("%s state = %v, want open", name, st)
		}
	}
}

// ── STT ─────────────────────────────────────────────────────────────────────

func TestSTTFallback_Transcribe(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{Err: errors.New("whisper offline")}
	secondary := &sttmock.Provider{Text: "good morning"}

	fb := NewSTTFallback(primary, "whisper", testCfg)
	fb.AddFallback("openai", secondary)

	text, err := fb.Transcribe(context.Background(), stt.Audio{Data: []byte{1}, MIMEType: stt.MIMEWebM}, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "good morning" {
		t.Errorf("text = %q", text)
	}
	if calls := secondary.Calls(); len(calls) != 1 || calls[0].Language != "en" {
		t.Errorf("secondary calls = %+v", calls)
	}
}

func TestSTTFallback_EmptyAudioNotRetried(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{}
	fb := NewSTTFallback(primary, "whisper", testCfg)

	_, err := fb.Transcribe(context.Background(), stt.Audio{}, "en")
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
	if len(primary.Calls()) != 0 {
		t.Error("empty audio reached the provider")
	}
}

// ── TTS ─────────────────────────────────────────────────────────────────────

func TestTTSFallback_FallbackUsesOwnVoice(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("quota")}
	secondary := &ttsmock.Provider{Speech: &tts.Speech{AudioBase64: "AAA=", SampleRate: 24000, Channels: 1, BitsPerSample: 16}}

	fb := NewTTSFallback(primary, "elevenlabs", testCfg)
	fb.AddFallback("openai", secondary)

	sp, err := fb.Synthesize(context.Background(), tts.Request{Text: "Hola", Voice: "eleven-voice-id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sp.AudioBase64 != "AAA=" {
		t.Errorf("speech = %+v", sp)
	}
	if got := primary.Calls()[0].Req.Voice; got != "eleven-voice-id" {
		t.Errorf("primary voice = %q", got)
	}
	if got := secondary.Calls()[0].Req.Voice; got != "" {
		t.Errorf("fallback voice = %q, want empty", got)
	}
}

func TestTTSFallback_AllFailKeepsCause(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{SynthesizeErr: tts.ErrNoAudio}
	fb := NewTTSFallback(primary, "elevenlabs", testCfg)

	_, err := fb.Synthesize(context.Background(), tts.Request{Text: "Hola"})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, tts.ErrNoAudio) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping ErrNoAudio", err)
	}
}

func TestTTSFallback_ListVoices(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{Voices: []tts.VoiceProfile{{ID: "v1", Name: "Rachel"}}}
	fb := NewTTSFallback(primary, "elevenlabs", testCfg)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "v1" {
		t.Errorf("voices = %+v", voices)
	}
}
