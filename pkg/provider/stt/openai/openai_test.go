package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/babelvox/pkg/provider/stt"
)

func TestNew_MissingAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestTranscribe_AgainstCompatibleServer(t *testing.T) {
	t.Parallel()
	type seen struct {
		fields   map[string][]string
		filename string
	}
	uploads := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got := seen{fields: r.MultipartForm.Value}
		if f, hdr, err := r.FormFile("file"); err == nil {
			got.filename = hdr.Filename
			_, _ = io.Copy(io.Discard, f)
		}
		uploads <- got
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"  buenos dias "}`)
	}))
	t.Cleanup(srv.Close)

	p, err := New("sk-test", WithBaseURL(srv.URL+"/"), WithModel("whisper-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := p.Transcribe(context.Background(), stt.Audio{Data: []byte{1, 2, 3}, MIMEType: "audio/webm;codecs=opus"}, "es")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "buenos dias" {
		t.Errorf("text = %q, want %q", text, "buenos dias")
	}
	up := <-uploads
	fields, filename := up.fields, up.filename
	if got := fields["language"]; len(got) != 1 || got[0] != "es" {
		t.Errorf("language field = %v, want [es]", got)
	}
	if got := fields["model"]; len(got) != 1 || got[0] != "whisper-1" {
		t.Errorf("model field = %v", got)
	}
	if filename != "audio.webm" {
		t.Errorf("filename = %q, want audio.webm", filename)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()
	p, _ := New("sk-test", WithBaseURL("http://127.0.0.1:1/"))
	if _, err := p.Transcribe(context.Background(), stt.Audio{}, "en"); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
}
