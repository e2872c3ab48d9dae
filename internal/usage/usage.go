// Package usage tracks the freemium translation counter.
//
// Persistence is injected through [Store]; [FileStore] keeps the counter in a
// small YAML file next to the server, [MemoryStore] keeps it in process.
// Missing or unreadable state always degrades to zero usage on the free tier.
package usage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Tier is a subscription tier.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// IsValid reports whether t is a recognised tier.
func (t Tier) IsValid() bool {
	return t == TierFree || t == TierPremium
}

// ErrLimitReached is returned by [Tracker.Check] when the free allowance is used up.
var ErrLimitReached = errors.New("usage: free translation limit reached")

// State is the persisted usage record.
type State struct {
	Count int  `yaml:"count" json:"count"`
	Tier  Tier `yaml:"tier" json:"tier"`
}

// normalized returns s with invalid fields replaced by their defaults.
func (s State) normalized() State {
	if s.Count < 0 {
		s.Count = 0
	}
	if !s.Tier.IsValid() {
		s.Tier = TierFree
	}
	return s
}

// Store persists usage state.
type Store interface {
	// Load returns the stored state. A store with nothing saved returns the
	// zero State and no error.
	Load() (State, error)
	Save(State) error
}

// Tracker counts translations against the free limit. Safe for concurrent use.
type Tracker struct {
	store Store
	limit int

	// saveMu orders saves so the store always ends up with the latest state.
	saveMu sync.Mutex

	mu    sync.Mutex
	state State
}

// NewTracker loads the current state from store. Load failures are logged
// and treated as zero usage on the free tier. limit <= 0 disables the limit.
func NewTracker(store Store, limit int) *Tracker {
	st, err := store.Load()
	if err != nil {
		slog.Warn("usage: cannot load state, starting from zero", "err", err)
		st = State{}
	}
	return &Tracker{store: store, limit: limit, state: st.normalized()}
}

// Check returns [ErrLimitReached] when another translation would exceed the
// free allowance.
func (t *Tracker) Check() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limit > 0 && t.state.Tier == TierFree && t.state.Count >= t.limit {
		return fmt.Errorf("%w (%d of %d used)", ErrLimitReached, t.state.Count, t.limit)
	}
	return nil
}

// Increment counts one translation and persists the new state. The in-memory
// count advances even when saving fails.
func (t *Tracker) Increment() (State, error) {
	return t.update(func(st *State) { st.Count++ })
}

// Upgrade switches to tier and persists it.
func (t *Tracker) Upgrade(tier Tier) (State, error) {
	if !tier.IsValid() {
		return t.State(), fmt.Errorf("usage: invalid tier %q", tier)
	}
	return t.update(func(st *State) { st.Tier = tier })
}

// update applies fn and saves the result. Saves run in mutation order.
func (t *Tracker) update(fn func(*State)) (State, error) {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()
	t.mu.Lock()
	fn(&t.state)
	st := t.state
	t.mu.Unlock()
	if err := t.store.Save(st); err != nil {
		return st, fmt.Errorf("usage: save: %w", err)
	}
	return st, nil
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Limit returns the free allowance (0 when unlimited).
func (t *Tracker) Limit() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit
}

// SetLimit changes the free allowance, e.g. after a config reload.
func (t *Tracker) SetLimit(limit int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limit = limit
}
