// Package busy provides the mutual-exclusion guard shared by capture and
// playback. The guard holds a single busy reason: while one activity owns it,
// the other is rejected with [ErrBusy] instead of queueing.
package busy

import (
	"errors"
	"fmt"
	"sync"
)

// Reasons used by the capture and playback engines.
const (
	ReasonCapture  = "capture"
	ReasonPlayback = "playback"
)

// ErrBusy is returned by [Guard.Acquire] while another activity holds the guard.
var ErrBusy = errors.New("busy: another activity is in progress")

// Guard is a non-blocking, single-owner lock tagged with a reason. The zero
// value is an idle guard. Safe for concurrent use.
type Guard struct {
	mu     sync.Mutex
	reason string
	subs   []func(reason string)
}

// Acquire marks the guard busy with reason and returns a release function.
// The release function is idempotent. When the guard is already held, the
// returned error wraps [ErrBusy] and names the current holder.
func (g *Guard) Acquire(reason string) (release func(), err error) {
	if reason == "" {
		return nil, errors.New("busy: reason must not be empty")
	}
	g.mu.Lock()
	if g.reason != "" {
		holder := g.reason
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrBusy, holder)
	}
	g.reason = reason
	subs := g.subs
	g.mu.Unlock()
	notify(subs, reason)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.reason = ""
			subs := g.subs
			g.mu.Unlock()
			notify(subs, "")
		})
	}, nil
}

// Reason returns the current holder's reason, or "" when idle.
func (g *Guard) Reason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reason
}

// Busy reports whether the guard is held.
func (g *Guard) Busy() bool {
	return g.Reason() != ""
}

// OnChange registers fn to be called after every acquire ("capture",
// "playback") and release (""). Callbacks run synchronously outside the lock.
func (g *Guard) OnChange(fn func(reason string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs = append(g.subs, fn)
}

func notify(subs []func(string), reason string) {
	for _, fn := range subs {
		fn(reason)
	}
}
