// Package mock provides test doubles for the playback collaborators.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/babelvox/internal/playback"
)

// ── Resources ────────────────────────────────────────────────────────────────

// Resources is a mock playback.Resources handing out sequential handles.
type Resources struct {
	mu sync.Mutex

	// CreateErr, if non-nil, is returned by Create.
	CreateErr error

	next     int
	created  []playback.Handle
	released []playback.Handle
	payloads map[playback.Handle][]byte
}

// Create implements playback.Resources.
func (r *Resources) Create(_ context.Context, container []byte) (playback.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return "", r.CreateErr
	}
	r.next++
	h := playback.Handle(fmt.Sprintf("blob:%d", r.next))
	r.created = append(r.created, h)
	if r.payloads == nil {
		r.payloads = make(map[playback.Handle][]byte)
	}
	r.payloads[h] = append([]byte(nil), container...)
	return h, nil
}

// Release implements playback.Resources.
func (r *Resources) Release(h playback.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, h)
}

// Created returns the handles created so far. Thread-safe.
func (r *Resources) Created() []playback.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]playback.Handle(nil), r.created...)
}

// Released returns the handles released so far. Thread-safe.
func (r *Resources) Released() []playback.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]playback.Handle(nil), r.released...)
}

// Payload returns the container bytes behind h. Thread-safe.
func (r *Resources) Payload(h playback.Handle) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payloads[h]
}

// Live returns the number of created handles not yet released. Thread-safe.
func (r *Resources) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.created) - len(r.released)
}

// ── Engine ───────────────────────────────────────────────────────────────────

// RateCall records one SetRate call.
type RateCall struct {
	Rate          float64
	PreservePitch bool
}

// Engine is a mock playback.Engine. Play blocks until Finish, Pause or ctx
// cancellation, unless Blocking is false.
type Engine struct {
	mu sync.Mutex

	// LoadErr and PlayErr, if non-nil, are returned by Load and Play.
	LoadErr error
	PlayErr error

	// Blocking makes Play wait for Finish or Pause.
	Blocking bool

	loads   []playback.Handle
	rates   []RateCall
	pauses  int
	closes  int
	playing chan struct{}
	done    chan error
}

// Load implements playback.Engine.
func (e *Engine) Load(_ context.Context, h playback.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads = append(e.loads, h)
	return e.LoadErr
}

// SetRate implements playback.Engine.
func (e *Engine) SetRate(rate float64, preservePitch bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rates = append(e.rates, RateCall{Rate: rate, PreservePitch: preservePitch})
}

// Play implements playback.Engine.
func (e *Engine) Play(ctx context.Context) error {
	e.mu.Lock()
	if e.PlayErr != nil || !e.Blocking {
		err := e.PlayErr
		e.mu.Unlock()
		return err
	}
	done := make(chan error, 1)
	e.done = done
	if e.playing != nil {
		close(e.playing)
		e.playing = nil
	}
	e.mu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Started returns a channel closed once the next blocking Play begins.
func (e *Engine) Started() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playing == nil {
		e.playing = make(chan struct{})
	}
	return e.playing
}

// Finish ends a blocking Play with err (nil for natural end).
func (e *Engine) Finish(err error) {
	e.mu.Lock()
	done := e.done
	e.done = nil
	e.mu.Unlock()
	if done != nil {
		done <- err
	}
}

// Pause implements playback.Engine. A blocking Play returns nil.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.pauses++
	e.mu.Unlock()
	e.Finish(nil)
}

// Close implements playback.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
	return nil
}

// Loads returns the loaded handles. Thread-safe.
func (e *Engine) Loads() []playback.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]playback.Handle(nil), e.loads...)
}

// Rates returns the SetRate calls. Thread-safe.
func (e *Engine) Rates() []RateCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]RateCall(nil), e.rates...)
}

// Pauses returns the number of Pause calls. Thread-safe.
func (e *Engine) Pauses() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pauses
}

// Closes returns the number of Close calls. Thread-safe.
func (e *Engine) Closes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

var (
	_ playback.Resources = (*Resources)(nil)
	_ playback.Engine    = (*Engine)(nil)
)
