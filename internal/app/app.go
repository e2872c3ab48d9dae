// Package app wires all babelvox subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until its context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithUsageStore,
// WithListener, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/babelvox/internal/config"
	"github.com/MrWong99/babelvox/internal/lang"
	"github.com/MrWong99/babelvox/internal/observe"
	"github.com/MrWong99/babelvox/internal/pipeline"
	"github.com/MrWong99/babelvox/internal/server"
	"github.com/MrWong99/babelvox/internal/session"
	"github.com/MrWong99/babelvox/internal/usage"
	"github.com/MrWong99/babelvox/pkg/provider/llm"
	"github.com/MrWong99/babelvox/pkg/provider/stt"
	"github.com/MrWong99/babelvox/pkg/provider/tts"
)

// readHeaderTimeout bounds request header reads on the public listener.
const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	// LLM backs both translation and the phonetic guide.
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
}

// errNotConfigured is reported by the placeholder collaborators that stand in
// for missing providers.
var errNotConfigured = errors.New("provider not configured")

// App owns all subsystem lifetimes of the babelvox server.
type App struct {
	cfg       *config.Config
	providers *Providers

	store    usage.Store
	usage    *usage.Tracker
	metrics  *observe.Metrics
	level    *slog.LevelVar
	scrape   http.Handler
	listener net.Listener

	sessions *session.Manager
	server   *server.Server
	httpSrv  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithUsageStore injects a usage store instead of creating one from
// usage.path.
func WithUsageStore(s usage.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metric instruments instead of the global ones.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the app the level variable of the process logger so
// config reloads can change verbosity.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithScrapeHandler serves h on /metrics instead of the default Prometheus
// registry.
func WithScrapeHandler(h http.Handler) Option {
	return func(a *App) { a.scrape = h }
}

// WithListener serves on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Missing providers
// are replaced by placeholders whose calls fail, so the page reports the gap
// in its error slot instead of the server refusing to start.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Usage tracker ─────────────────────────────────────────────────
	a.initUsage()

	// ── 2. Metrics ───────────────────────────────────────────────────────
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 3. Session manager ───────────────────────────────────────────────
	a.sessions = session.NewManager(a.deps(), session.DefaultsFromConfig(cfg),
		session.WithOriginPatterns(cfg.Server.AllowedOrigins...))
	a.closers = append(a.closers, func() error {
		a.sessions.CloseAll()
		return nil
	})

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	srvOpts := []server.Option{
		server.WithLanguages(lang.Default),
		server.WithMetrics(a.metrics),
		server.WithCheckers(a.checkers()...),
	}
	if a.scrape != nil {
		srvOpts = append(srvOpts, server.WithScrapeHandler(a.scrape))
	}
	if providers.TTS != nil {
		srvOpts = append(srvOpts, server.WithVoices(providers.TTS))
	}
	a.server = server.New(a.sessions, srvOpts...)
	a.httpSrv = &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	if a.listener == nil {
		var lc net.ListenConfig
		l, err := lc.Listen(ctx, "tcp", cfg.Server.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("app: listen on %q: %w", cfg.Server.ListenAddr, err)
		}
		a.listener = l
	}
	return a, nil
}

// initUsage selects the store and creates the shared tracker.
func (a *App) initUsage() {
	if a.store == nil {
		if path := a.cfg.Usage.Path; path != "" {
			a.store = usage.FileStore{Path: path}
		} else {
			a.store = &usage.MemoryStore{}
		}
	}
	a.usage = usage.NewTracker(a.store, a.cfg.Usage.FreeLimit)
	st := a.usage.State()
	slog.Info("usage tracker ready", "count", st.Count, "tier", st.Tier, "limit", a.cfg.Usage.FreeLimit)
}

// healthReporter is implemented by providers wrapped in a fallback group.
type healthReporter interface {
	Healthy() error
}

// checkers returns the readiness checks: the usage store must be readable and
// every provider with fallbacks must have a backend whose circuit is not open.
func (a *App) checkers() []server.Checker {
	cs := []server.Checker{{
		Name: "usage_store",
		Check: func(context.Context) error {
			_, err := a.store.Load()
			return err
		},
	}}
	for _, p := range []struct {
		kind     string
		provider any
	}{{config.KindLLM, a.providers.LLM}, {config.KindSTT, a.providers.STT}, {config.KindTTS, a.providers.TTS}} {
		if h, ok := p.provider.(healthReporter); ok {
			cs = append(cs, server.Checker{Name: p.kind, Check: func(context.Context) error { return h.Healthy() }})
		}
	}
	return cs
}

// deps builds the shared session collaborators from the providers.
func (a *App) deps() session.Deps {
	d := session.Deps{
		Usage:     a.usage,
		Languages: lang.Default,
		Metrics:   a.metrics,
	}
	if a.providers.LLM != nil {
		d.Translator = pipeline.NewLLMTranslator(a.providers.LLM)
		d.Phoneticizer = pipeline.NewLLMPhoneticizer(a.providers.LLM)
	} else {
		d.Translator = unconfigured{kind: config.KindLLM}
		d.Phoneticizer = unconfigured{kind: config.KindLLM}
	}
	if a.providers.TTS != nil {
		d.Synthesizer = a.providers.TTS
	} else {
		d.Synthesizer = unconfigured{kind: config.KindTTS}
	}
	if a.providers.STT != nil {
		d.Transcriber = a.providers.STT
	} else {
		d.Transcriber = unconfigured{kind: config.KindSTT}
	}
	return d
}

// Addr returns the address the server listens on.
func (a *App) Addr() net.Addr { return a.listener.Addr() }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Usage returns the shared usage tracker.
func (a *App) Usage() *usage.Tracker { return a.usage }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the server fails. The
// server keeps accepting until Shutdown so in-flight sessions can drain.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("serving https", "addr", a.Addr().String())
			err = a.httpSrv.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("serving http", "addr", a.Addr().String())
			err = a.httpSrv.Serve(a.listener)
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	}
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new.
// Pipeline, playback and export defaults apply to sessions opened afterwards;
// live sessions only pick up the new debounce delay.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PipelineChanged || d.PlaybackChanged || d.ExportFormatChanged {
		a.sessions.SetDefaults(session.DefaultsFromConfig(new))
		slog.Info("session defaults reloaded",
			"source", new.Pipeline.SourceLanguage,
			"target", new.Pipeline.TargetLanguage,
			"debounce", new.Pipeline.Debounce,
		)
	}
	if d.FreeLimitChanged {
		a.usage.SetLimit(new.Usage.FreeLimit)
		slog.Info("free limit changed", "limit", new.Usage.FreeLimit)
	}
	for _, section := range d.RestartRequired {
		slog.Warn("config change requires restart", "section", section)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes all sessions, stops the HTTP server and runs the remaining
// closers. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Len(), "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("app: http shutdown: %w", err)
			return
		}
		// Serve closes the listener itself; this covers an app that never ran.
		if err := a.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Debug("listener close", "err", err)
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// unconfigured stands in for a missing provider. Every call fails with
// errNotConfigured.
type unconfigured struct {
	kind string
}

func (u unconfigured) err() error {
	return fmt.Errorf("%s %w", u.kind, errNotConfigured)
}

func (u unconfigured) Translate(context.Context, string, string, string) (string, error) {
	return "", u.err()
}

func (u unconfigured) Phonetic(context.Context, string, string) (string, error) {
	return "", u.err()
}

func (u unconfigured) Synthesize(context.Context, tts.Request) (*tts.Speech, error) {
	return nil, u.err()
}

func (u unconfigured) Transcribe(context.Context, stt.Audio, string) (string, error) {
	return "", u.err()
}
