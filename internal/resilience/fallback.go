package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/babelvox/internal/observe"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] succeeded.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is shared by every entry of a [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// Kind is the provider kind ("llm", "stt", "tts"). It prefixes breaker
	// names and labels provider metrics.
	Kind string

	// Metrics, if set, receives per-entry request, error and breaker
	// transition counts.
	Metrics *observe.Metrics
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds backends of one provider type in try order, each behind
// its own circuit breaker. Register every entry before sharing the group;
// afterwards it is safe for concurrent use.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup returns a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order they
// are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	if fg.cfg.Kind != "" {
		cbCfg.Name = fg.cfg.Kind + "/" + name
	}
	if m := fg.cfg.Metrics; m != nil {
		user := cbCfg.OnStateChange
		cbCfg.OnStateChange = func(breaker string, from, to State) {
			m.RecordBreakerTransition(context.Background(), breaker, to.String())
			if user != nil {
				user(breaker, from, to)
			}
		}
	}
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the registered entry names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// States returns each entry's breaker state keyed by entry name.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.entries))
	for _, e := range fg.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

// Healthy returns nil when at least one entry's breaker admits calls.
func (fg *FallbackGroup[T]) Healthy() error {
	for _, e := range fg.entries {
		if e.breaker.State() != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("%w: every circuit is open", ErrAllFailed)
}

// Execute is [ExecuteWithResult] for calls without a result.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult calls fn on each entry in order and returns the first
// success. Entries with an open breaker are skipped. When every entry fails
// the error wraps [ErrAllFailed] and the last cause. Once ctx is done no
// further entry is tried and the cancellation is returned as is.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var zero R
	lastErr := ErrCircuitOpen
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		e := &fg.entries[i]
		var out R
		err := e.breaker.Execute(func() (err error) {
			out, err = fn(e.value)
			return err
		})
		fg.record(ctx, e.name, err)
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			observe.Logger(ctx).Debug("provider skipped, circuit open", "kind", fg.cfg.Kind, "provider", e.name)
		default:
			observe.Logger(ctx).Warn("provider failed", "kind", fg.cfg.Kind, "provider", e.name, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// record counts one attempt against entry. Calls rejected by an open breaker
// never reached the provider and are not counted.
func (fg *FallbackGroup[T]) record(ctx context.Context, entry string, err error) {
	m := fg.cfg.Metrics
	if m == nil || errors.Is(err, ErrCircuitOpen) {
		return
	}
	m.RecordProviderRequest(ctx, entry, fg.cfg.Kind, observe.StatusOf(err))
	if err != nil && !errors.Is(err, context.Canceled) {
		m.RecordProviderError(ctx, entry, fg.cfg.Kind)
	}
}
