// Package playback controls pitch-preserved, variable-speed playback of
// synthesized speech on the connected page.
//
// A [Controller] owns at most one transient resource handle for the current
// container and one lazily created [Engine]. Only one playback runs at a
// time, and playback is mutually exclusive with capture through the shared
// [busy.Guard].
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/MrWong99/babelvox/internal/busy"
	"github.com/MrWong99/babelvox/internal/observe"
)

// Rate bounds and step.
const (
	MinRate     = 0.5
	MaxRate     = 1.5
	DefaultRate = 1.0
	rateSteps   = 10 // per 1.0
)

var (
	// ErrBusy is returned by [Controller.Play] while a playback is in flight.
	// It matches [busy.ErrBusy].
	ErrBusy = fmt.Errorf("playback: already playing: %w", busy.ErrBusy)

	// ErrPlayback wraps failures of the resource layer or the engine.
	ErrPlayback = errors.New("playback: failed")

	// ErrClosed is returned after [Controller.Close].
	ErrClosed = errors.New("playback: controller closed")
)

// Handle identifies a transient, playable resource (an object URL on the page).
type Handle string

// Resources creates and releases playable resources for containers.
type Resources interface {
	Create(ctx context.Context, container []byte) (Handle, error)
	Release(h Handle)
}

// Engine plays one loaded resource at a time.
type Engine interface {
	Load(ctx context.Context, h Handle) error

	// SetRate changes the speed. preservePitch keeps the voice's pitch
	// constant at non-unit rates.
	SetRate(rate float64, preservePitch bool)

	// Play blocks until natural end, failure or Pause.
	Play(ctx context.Context) error

	Pause()
	Close() error
}

// EngineFactory creates the engine on first use.
type EngineFactory func(ctx context.Context) (Engine, error)

// ClampRate limits rate to [MinRate, MaxRate] and snaps it to 0.1 steps.
// NaN maps to DefaultRate.
func ClampRate(rate float64) float64 {
	if math.IsNaN(rate) {
		return DefaultRate
	}
	rate = math.Max(MinRate, math.Min(MaxRate, rate))
	return math.Round(rate*rateSteps) / rateSteps
}

// Controller is the playback state machine. Safe for concurrent use.
type Controller struct {
	resources Resources
	factory   EngineFactory
	guard     *busy.Guard
	metrics   *observe.Metrics

	mu        sync.Mutex
	engine    Engine
	handle    Handle
	hasHandle bool
	rate      float64
	busy      bool
	paused    bool
	stop      context.CancelFunc
	closed    bool
}

// Option is a functional option for [New].
type Option func(*Controller)

// WithMetrics records playback starts and errors on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithInitialRate sets the rate used until the first SetRate or Play.
func WithInitialRate(rate float64) Option {
	return func(c *Controller) { c.rate = ClampRate(rate) }
}

// New returns an idle Controller. guard is shared with the capture engine.
func New(resources Resources, factory EngineFactory, guard *busy.Guard, opts ...Option) *Controller {
	c := &Controller{
		resources: resources,
		factory:   factory,
		guard:     guard,
		rate:      DefaultRate,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Play loads container and plays it at rate with pitch preservation,
// blocking until playback ends. While another playback is in flight it
// returns [ErrBusy] without touching the current resource. Resource and
// engine failures are wrapped in [ErrPlayback].
func (c *Controller) Play(ctx context.Context, container []byte, rate float64) (err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	release, err := c.guard.Acquire(busy.ReasonPlayback)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("playback: %w", err)
	}
	c.busy = true
	playCtx, stop := context.WithCancel(ctx)
	c.stop = stop
	engine := c.engine
	c.mu.Unlock()

	defer func() {
		stop()
		c.mu.Lock()
		c.busy = false
		c.stop = nil
		closed, paused := c.closed, c.paused
		c.paused = false
		c.mu.Unlock()
		release()
		if (closed || paused) && err != nil && !errors.Is(err, ErrClosed) {
			err = nil
		}
		if err != nil && c.metrics != nil {
			c.metrics.PlaybackErrors.Add(ctx, 1)
		}
	}()

	if engine == nil {
		if engine, err = c.factory(playCtx); err != nil {
			return fmt.Errorf("%w: create engine: %w", ErrPlayback, err)
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = engine.Close()
			return ErrClosed
		}
		c.engine = engine
		c.mu.Unlock()
	}

	h, err := c.swapHandle(playCtx, container)
	if err != nil {
		return err
	}
	if err := engine.Load(playCtx, h); err != nil {
		return fmt.Errorf("%w: load: %w", ErrPlayback, err)
	}

	applied := ClampRate(rate)
	c.mu.Lock()
	c.rate = applied
	c.mu.Unlock()
	engine.SetRate(applied, true)

	if c.metrics != nil {
		c.metrics.PlaybackStarts.Add(ctx, 1)
	}
	slog.Debug("playback: started", "bytes", len(container), "rate", applied)
	if err := engine.Play(playCtx); err != nil {
		return fmt.Errorf("%w: %w", ErrPlayback, err)
	}
	return nil
}

// swapHandle releases the previous resource and creates one for container.
func (c *Controller) swapHandle(ctx context.Context, container []byte) (Handle, error) {
	c.mu.Lock()
	prev, had := c.handle, c.hasHandle
	c.handle, c.hasHandle = "", false
	c.mu.Unlock()
	if had {
		c.resources.Release(prev)
	}

	h, err := c.resources.Create(ctx, container)
	if err != nil {
		return "", fmt.Errorf("%w: create resource: %w", ErrPlayback, err)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.resources.Release(h)
		return "", ErrClosed
	}
	c.handle, c.hasHandle = h, true
	c.mu.Unlock()
	return h, nil
}

// SetRate clamps and snaps rate, applies it to any in-flight playback and
// returns the applied value.
func (c *Controller) SetRate(rate float64) float64 {
	applied := ClampRate(rate)
	c.mu.Lock()
	c.rate = applied
	engine, live := c.engine, c.busy
	c.mu.Unlock()
	if live && engine != nil {
		engine.SetRate(applied, true)
	}
	return applied
}

// Pause stops the in-flight playback, if any. The blocked [Controller.Play]
// returns nil and the guard is released; the resource stays loaded so the
// next Play replaces it.
func (c *Controller) Pause() {
	c.mu.Lock()
	if !c.busy {
		c.mu.Unlock()
		return
	}
	c.paused = true
	engine, stop := c.engine, c.stop
	c.mu.Unlock()

	if engine != nil {
		engine.Pause()
	}
	if stop != nil {
		stop()
	}
}

// Rate returns the current rate.
func (c *Controller) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// Busy reports whether a playback is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Close pauses any in-flight playback, releases the current resource and
// closes the engine. Idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	engine, stop, live := c.engine, c.stop, c.busy
	h, had := c.handle, c.hasHandle
	c.engine = nil
	c.handle, c.hasHandle = "", false
	c.mu.Unlock()

	if live && engine != nil {
		engine.Pause()
	}
	if stop != nil {
		stop()
	}
	if had {
		c.resources.Release(h)
	}
	if engine != nil {
		if err := engine.Close(); err != nil {
			return fmt.Errorf("playback: close engine: %w", err)
		}
	}
	return nil
}
