// Package mock provides in-memory doubles for the capture collaborators.
//
// Example:
//
//	stream := mock.NewStream("audio/webm")
//	mic := &mock.Microphone{Stream: stream}
//	eng := capture.New(mic, transcriber, &busy.Guard{})
//	_ = eng.Start(ctx)
//	stream.Push(capture.Chunk{Data: []byte("...")})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/babelvox/internal/capture"
)

// ── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of capture.Microphone.
type Microphone struct {
	mu sync.Mutex

	// Stream is returned by Open when Err is nil.
	Stream *Stream

	// Err, if non-nil, is returned by Open (e.g. capture.ErrPermissionDenied).
	Err error

	// OpenFunc, if set, replaces Stream and Err. It runs outside the lock so
	// it may block to simulate a pending permission prompt.
	OpenFunc func(ctx context.Context) (capture.Stream, error)

	// OpenCallCount is the number of times Open was called.
	OpenCallCount int
}

// Open records the call and returns Stream, Err.
func (m *Microphone) Open(ctx context.Context) (capture.Stream, error) {
	m.mu.Lock()
	m.OpenCallCount++
	fn, s, err := m.OpenFunc, m.Stream, m.Err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Opens returns the number of Open calls. Thread-safe.
func (m *Microphone) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.OpenCallCount
}

// ── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock capture.Stream. Chunks pushed before Stop are delivered in
// order; Stop closes the chunk channel after the pending chunks drain.
type Stream struct {
	// HoldOnStop keeps the chunk channel open after Stop, like a recorder
	// that never reports its final chunk. Only Close ends it.
	HoldOnStop bool

	mime  string
	tap   *Tap
	queue chan capture.Chunk

	mu      sync.Mutex
	stopped bool
	closed  bool
	ended   bool
	stops   int
}

// NewStream returns a stream producing the given container type.
func NewStream(mime string) *Stream {
	return &Stream{
		mime:  mime,
		tap:   &Tap{},
		queue: make(chan capture.Chunk, 64),
	}
}

// Push queues a chunk. Pushing after Stop is ignored.
func (s *Stream) Push(c capture.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.ended {
		return
	}
	s.queue <- c
}

// Chunks implements capture.Stream.
func (s *Stream) Chunks() <-chan capture.Chunk { return s.queue }

// Tap implements capture.Stream.
func (s *Stream) Tap() capture.AnalysisTap { return s.tap }

// MockTap returns the concrete tap for assertions.
func (s *Stream) MockTap() *Tap { return s.tap }

// MIMEType implements capture.Stream.
func (s *Stream) MIMEType() string { return s.mime }

// Stop implements capture.Stream.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.stopped = true
	if !s.HoldOnStop {
		s.end()
	}
}

// Close implements capture.Stream.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.end()
}

func (s *Stream) end() {
	if !s.ended {
		s.ended = true
		close(s.queue)
	}
}

// Stopped reports whether Stop was called. Thread-safe.
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Closed reports whether Close was called. Thread-safe.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ── Tap ──────────────────────────────────────────────────────────────────────

// Tap is a mock capture.AnalysisTap returning fixed samples.
type Tap struct {
	mu sync.Mutex

	// Samples are copied into dst by TimeDomain. Nil means silence (128).
	Samples []byte

	reads           int
	closed          bool
	readsAfterClose int
}

// TimeDomain implements capture.AnalysisTap.
func (t *Tap) TimeDomain(dst []byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reads++
	if t.closed {
		t.readsAfterClose++
	}
	if t.Samples == nil {
		for i := range dst {
			dst[i] = 128
		}
		return len(dst)
	}
	return copy(dst, t.Samples)
}

// Close implements capture.AnalysisTap.
func (t *Tap) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

// Closed reports whether Close was called. Thread-safe.
func (t *Tap) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// ReadsAfterClose counts TimeDomain calls made after Close. Thread-safe.
func (t *Tap) ReadsAfterClose() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readsAfterClose
}

// Reads counts TimeDomain calls. Thread-safe.
func (t *Tap) Reads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reads
}

// ── Surface ──────────────────────────────────────────────────────────────────

// Surface is an in-memory capture.Surface recording every drawn frame.
type Surface struct {
	mu sync.Mutex

	// Width and Height are returned by Size.
	Width, Height float64

	clears int
	frames [][]capture.Point
}

// Size implements capture.Surface.
func (s *Surface) Size() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Width, s.Height
}

// Clear implements capture.Surface.
func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
}

// Polyline implements capture.Surface.
func (s *Surface) Polyline(points []capture.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]capture.Point, len(points))
	copy(cp, points)
	s.frames = append(s.frames, cp)
}

// Frames returns a snapshot of the drawn polylines. Thread-safe.
func (s *Surface) Frames() [][]capture.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]capture.Point, len(s.frames))
	copy(out, s.frames)
	return out
}

// Clears returns the number of Clear calls. Thread-safe.
func (s *Surface) Clears() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

// ── Scheduler ────────────────────────────────────────────────────────────────

// Scheduler is a capture.FrameScheduler driven manually with Tick.
type Scheduler struct {
	ticks chan time.Time
	once  sync.Once
}

// Frames implements capture.FrameScheduler.
func (s *Scheduler) Frames(ctx context.Context) <-chan time.Time {
	s.init()
	out := make(chan time.Time)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-s.ticks:
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Tick delivers one frame, blocking until the render loop's forwarder
// accepts it or ctx is done.
func (s *Scheduler) Tick(ctx context.Context) bool {
	s.init()
	select {
	case s.ticks <- time.Now():
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) init() {
	s.once.Do(func() { s.ticks = make(chan time.Time) })
}

var (
	_ capture.Microphone     = (*Microphone)(nil)
	_ capture.Stream         = (*Stream)(nil)
	_ capture.AnalysisTap    = (*Tap)(nil)
	_ capture.Surface        = (*Surface)(nil)
	_ capture.FrameScheduler = (*Scheduler)(nil)
)
