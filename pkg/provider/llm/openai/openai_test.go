package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/babelvox/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()
	if m := convertMessage(llm.Message{Role: llm.RoleSystem, Content: "x"}); m.OfSystem == nil {
		t.Error("system role not mapped to OfSystem")
	}
	if m := convertMessage(llm.Message{Role: llm.RoleUser, Content: "x"}); m.OfUser == nil {
		t.Error("user role not mapped to OfUser")
	}
	if m := convertMessage(llm.Message{Role: llm.RoleAssistant, Content: "x"}); m.OfAssistant == nil {
		t.Error("assistant role not mapped to OfAssistant")
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name    string
		req     llm.CompletionRequest
		wantErr bool
		wantLen int
	}{
		{name: "no messages", req: llm.CompletionRequest{SystemPrompt: "x"}, wantErr: true},
		{name: "unknown role", req: llm.CompletionRequest{Messages: []llm.Message{{Role: "tool", Content: "x"}}}, wantErr: true},
		{
			name: "system prompt first",
			req: llm.CompletionRequest{
				SystemPrompt: "Translate.",
				Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Hello"}},
				Temperature:  0.2,
				MaxTokens:    64,
			},
			wantLen: 2,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			params, err := p.buildParams(tc.req)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("buildParams: %v", err)
			}
			if len(params.Messages) != tc.wantLen || params.Messages[0].OfSystem == nil {
				t.Errorf("messages = %d, want %d starting with system", len(params.Messages), tc.wantLen)
			}
			if params.Temperature.Value != 0.2 || params.MaxCompletionTokens.Value != 64 {
				t.Errorf("temperature = %v, max tokens = %v", params.Temperature.Value, params.MaxCompletionTokens.Value)
			}
		})
	}
}

// completionServer answers every chat request with body and reports the
// decoded request on the returned channel.
func completionServer(t *testing.T, body string) (*httptest.Server, <-chan map[string]any) {
	t.Helper()
	reqs := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		var decoded map[string]any
		_ = json.Unmarshal(raw, &decoded)
		select {
		case reqs <- decoded:
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, reqs
}

func TestComplete_AgainstCompatibleServer(t *testing.T) {
	t.Parallel()
	srv, reqs := completionServer(t, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1,
		"model": "gpt-4o-mini",
		"choices": [{"index": 0, "finish_reason": "length", "message": {"role": "assistant", "content": "Hola"}}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 2, "total_tokens": 14}
	}`)

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "Translate to Spanish.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Hello"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Hola" || resp.FinishReason != llm.FinishLength || resp.Usage.TotalTokens != 14 {
		t.Errorf("response = %+v", resp)
	}
	body := <-reqs
	if body["model"] != "gpt-4o-mini" {
		t.Errorf("request model = %v", body["model"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 2 {
		t.Errorf("request carried %d messages, want 2", len(msgs))
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	t.Parallel()
	srv, _ := completionServer(t, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`)

	p, _ := New("sk-test", "m", WithBaseURL(srv.URL+"/"))
	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hello"}},
	})
	if !errors.Is(err, errNoChoices) {
		t.Fatalf("err = %v, want errNoChoices", err)
	}
}

func TestNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		apiKey  string
		model   string
		opts    []Option
		wantErr bool
	}{
		{name: "missing key", model: "gpt-4o", wantErr: true},
		{name: "missing model", apiKey: "sk-test", wantErr: true},
		{
			name:   "options",
			apiKey: "sk-test",
			model:  "gpt-4o",
			opts:   []Option{WithBaseURL("https://custom.example.com"), WithOrganization("org-123"), WithTimeout(0)},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tc.apiKey, tc.model, tc.opts...)
			if (err != nil) != tc.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
