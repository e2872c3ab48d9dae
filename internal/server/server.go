// Package server exposes the babelvox HTTP surface:
//
//   - /session: WebSocket endpoint serving one page session.
//   - /export: download of a session's current audio (wav or opus).
//   - /voices: synthesis voices offered by the configured TTS provider.
//   - /languages: the language catalogue.
//   - /healthz, /readyz: liveness and readiness probes.
//   - /metrics: Prometheus scrape endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/babelvox/internal/config"
	"github.com/MrWong99/babelvox/internal/export"
	"github.com/MrWong99/babelvox/internal/lang"
	"github.com/MrWong99/babelvox/internal/observe"
	"github.com/MrWong99/babelvox/internal/session"
	"github.com/MrWong99/babelvox/pkg/provider/tts"
)

// VoiceLister lists synthesis voices. [tts.Provider] satisfies it.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]tts.VoiceProfile, error)
}

// Server routes HTTP requests to the session manager and the catalogue
// endpoints. It is safe for concurrent use once constructed.
type Server struct {
	sessions *session.Manager
	voices   VoiceLister
	langs    *lang.Catalogue
	metrics  *observe.Metrics
	checkers []Checker
	scrape   http.Handler
	mux      *http.ServeMux
}

// Option is a functional option for [New].
type Option func(*Server)

// WithVoices serves /voices from v.
func WithVoices(v VoiceLister) Option {
	return func(s *Server) { s.voices = v }
}

// WithLanguages replaces [lang.Default] as the /languages source.
func WithLanguages(c *lang.Catalogue) Option {
	return func(s *Server) { s.langs = c }
}

// WithMetrics records HTTP latency and exports on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCheckers adds readiness checks evaluated by /readyz.
func WithCheckers(c ...Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, c...) }
}

// WithScrapeHandler replaces the default Prometheus handler on /metrics.
func WithScrapeHandler(h http.Handler) Option {
	return func(s *Server) { s.scrape = h }
}

// New returns a Server over sessions.
func New(sessions *session.Manager, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		langs:    lang.Default,
		scrape:   promhttp.Handler(),
		mux:      http.NewServeMux(),
	}
	for _, o := range opts {
		o(s)
	}

	s.mux.Handle("GET /session", sessions)
	s.mux.HandleFunc("GET /export", s.handleExport)
	s.mux.HandleFunc("GET /voices", s.handleVoices)
	s.mux.HandleFunc("GET /languages", s.handleLanguages)
	s.mux.Handle("GET /metrics", s.scrape)
	newHealth(s.checkers...).register(s.mux)
	return s
}

// Handler returns the root handler with observability middleware applied.
func (s *Server) Handler() http.Handler {
	if s.metrics == nil {
		return s.mux
	}
	return observe.Middleware(s.metrics)(s.mux)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing session parameter")
		return
	}
	format := config.ExportFormat(r.URL.Query().Get("format"))
	if format != "" && !format.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
		return
	}
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	art, err := sess.Export(format)
	switch {
	case errors.Is(err, export.ErrNoAudio):
		writeError(w, http.StatusConflict, "no audio available yet")
		return
	case err != nil:
		observe.Logger(r.Context()).Error("export failed", "session_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	if s.metrics != nil {
		s.metrics.RecordExport(r.Context(), string(art.Format))
	}
	h := w.Header()
	h.Set("Content-Type", art.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(art.Data)))
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Data)
}

type voice struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Provider string            `json:"provider,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	out := []voice{}
	if s.voices != nil {
		profiles, err := s.voices.ListVoices(r.Context())
		if err != nil {
			observe.Logger(r.Context()).Warn("list voices failed", "err", err)
			writeError(w, http.StatusBadGateway, "voice listing unavailable")
			return
		}
		for _, p := range profiles {
			out = append(out, voice{ID: p.ID, Name: p.Name, Provider: p.Provider, Metadata: p.Metadata})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.langs.All())
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}
