package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/babelvox/internal/capture"
	"github.com/MrWong99/babelvox/internal/playback"
)

// The types in this file implement the capture and playback collaborators
// by exchanging messages with the page. Page events are fed in by the
// session's read loop, in arrival order.

// remoteMic asks the page for microphone access and routes recorder events
// to the active stream. Every request carries a fresh stream id; page events
// tagged with any other id belong to an abandoned capture and are dropped.
type remoteMic struct {
	s *Session

	mu        sync.Mutex
	pending   chan Inbound
	pendingID string
	stream    *remoteStream
}

// Open implements [capture.Microphone].
func (m *remoteMic) Open(ctx context.Context) (capture.Stream, error) {
	id := uuid.NewString()
	answer := make(chan Inbound, 1)
	m.mu.Lock()
	m.pending, m.pendingID = answer, id
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.pending == answer {
			m.pending, m.pendingID = nil, ""
		}
		m.mu.Unlock()
	}()

	if err := m.s.send(Command{Type: MsgMicRequest, Stream: id}); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.s.ctx.Done():
		return nil, errClosed
	case in := <-answer:
		if !in.Granted {
			if in.Error != "" {
				return nil, fmt.Errorf("%w: %s", capture.ErrPermissionDenied, in.Error)
			}
			return nil, capture.ErrPermissionDenied
		}
		st := &remoteStream{
			s:      m.s,
			mic:    m,
			id:     id,
			mime:   in.MIMEType,
			chunks: make(chan capture.Chunk, 16),
			tap:    &remoteTap{},
		}
		m.mu.Lock()
		m.stream = st
		m.mu.Unlock()
		return st, nil
	}
}

// answer delivers the page's permission decision to a waiting Open.
func (m *remoteMic) answer(in Inbound) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil || in.Stream != m.pendingID {
		return
	}
	select {
	case m.pending <- in:
	default:
	}
}

// lookup returns the active stream when id names it.
func (m *remoteMic) lookup(id string) *remoteStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil || m.stream.id != id {
		return nil
	}
	return m.stream
}

func (m *remoteMic) chunk(id string, c capture.Chunk) {
	if st := m.lookup(id); st != nil {
		st.push(c)
	}
}

func (m *remoteMic) levels(id string, samples []byte) {
	if st := m.lookup(id); st != nil {
		st.tap.set(samples)
	}
}

// stopped handles the recorder's final event for stream id: no chunk follows
// it.
func (m *remoteMic) stopped(id string) {
	if st := m.lookup(id); st != nil {
		st.Close()
	}
}

// detach forgets st if it is still the active stream.
func (m *remoteMic) detach(st *remoteStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == st {
		m.stream = nil
	}
}

// release ends the active stream, if any, e.g. when the session closes.
func (m *remoteMic) release() {
	m.mu.Lock()
	st := m.stream
	m.mu.Unlock()
	if st != nil {
		st.Close()
	}
}

var _ capture.Microphone = (*remoteMic)(nil)

// remoteStream is one granted capture on the page.
type remoteStream struct {
	s      *Session
	mic    *remoteMic
	id     string
	mime   string
	chunks chan capture.Chunk
	tap    *remoteTap

	stopOnce sync.Once
	mu       sync.Mutex
	finished bool
}

func (st *remoteStream) Chunks() <-chan capture.Chunk { return st.chunks }
func (st *remoteStream) Tap() capture.AnalysisTap     { return st.tap }
func (st *remoteStream) MIMEType() string             { return st.mime }

// Stop asks the page to stop its tracks and recorder. The page answers with
// any outstanding chunks followed by recorder_stopped.
func (st *remoteStream) Stop() {
	st.stopOnce.Do(func() {
		_ = st.s.send(Command{Type: MsgMicStop, Stream: st.id})
	})
}

func (st *remoteStream) push(c capture.Chunk) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.finished {
		return
	}
	select {
	case st.chunks <- c:
	case <-st.s.ctx.Done():
	}
}

// Close implements [capture.Stream]. It runs on the recorder's final event
// and when the engine gives up waiting for it.
func (st *remoteStream) Close() {
	st.mic.detach(st)
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.finished {
		st.finished = true
		close(st.chunks)
	}
}

var _ capture.Stream = (*remoteStream)(nil)

// remoteTap holds the latest time-domain frame reported by the page.
type remoteTap struct {
	mu     sync.Mutex
	latest []byte
	closed bool
}

func (t *remoteTap) set(samples []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.latest = append(t.latest[:0], samples...)
	}
}

// TimeDomain implements [capture.AnalysisTap]. Before the first report the
// frame is silence.
func (t *remoteTap) TimeDomain(dst []byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.latest) == 0 {
		for i := range dst {
			dst[i] = 128
		}
		return len(dst)
	}
	return copy(dst, t.latest)
}

func (t *remoteTap) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.latest = nil
}

var _ capture.AnalysisTap = (*remoteTap)(nil)

// remoteSurface streams waveform frames to the page's canvas.
type remoteSurface struct {
	s *Session

	mu            sync.Mutex
	width, height float64
}

func (sf *remoteSurface) setSize(w, h float64) {
	if w <= 0 || h <= 0 {
		return
	}
	sf.mu.Lock()
	sf.width, sf.height = w, h
	sf.mu.Unlock()
}

func (sf *remoteSurface) Size() (float64, float64) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.width, sf.height
}

// Clear is a no-op: every waveform message replaces the previous frame.
func (sf *remoteSurface) Clear() {}

// Polyline sends the frame, dropping it when the connection is backed up.
func (sf *remoteSurface) Polyline(points []capture.Point) {
	sf.s.trySend(WaveformMessage{Type: MsgWaveform, Points: points})
}

var _ capture.Surface = (*remoteSurface)(nil)

// remoteResources maps containers to object URLs created by the page.
type remoteResources struct {
	s *Session
}

// Create implements [playback.Resources]. The handle is chosen here and the
// page registers its object URL under it.
func (r remoteResources) Create(_ context.Context, container []byte) (playback.Handle, error) {
	h := playback.Handle("blob:" + uuid.NewString())
	msg := ResourceMessage{Type: MsgResourceCreate, Handle: string(h), MIMEType: "audio/wav", Data: container}
	if err := r.s.send(msg); err != nil {
		return "", err
	}
	return h, nil
}

func (r remoteResources) Release(h playback.Handle) {
	_ = r.s.send(ResourceMessage{Type: MsgResourceRelease, Handle: string(h)})
}

var _ playback.Resources = remoteResources{}

// remoteEngine drives the page's audio element.
type remoteEngine struct {
	s *Session

	mu     sync.Mutex
	handle playback.Handle
	done   chan error
}

func (e *remoteEngine) Load(_ context.Context, h playback.Handle) error {
	e.mu.Lock()
	e.handle = h
	e.mu.Unlock()
	return e.s.send(ResourceMessage{Type: MsgLoad, Handle: string(h)})
}

func (e *remoteEngine) SetRate(rate float64, preservePitch bool) {
	_ = e.s.send(RateMessage{Type: MsgSetRate, Rate: rate, PreservePitch: preservePitch})
}

// Play starts the loaded resource and waits for the page to report its end.
func (e *remoteEngine) Play(ctx context.Context) error {
	done := make(chan error, 1)
	e.mu.Lock()
	e.done = done
	e.mu.Unlock()

	if err := e.s.send(Command{Type: MsgStartPlayback}); err != nil {
		e.finish(nil)
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		e.finish(nil)
		return ctx.Err()
	case <-e.s.ctx.Done():
		e.finish(nil)
		return errClosed
	}
}

func (e *remoteEngine) Pause() {
	_ = e.s.send(Command{Type: MsgPausePlayback})
	e.finish(nil)
}

func (e *remoteEngine) Close() error {
	e.finish(nil)
	return nil
}

// event handles playback_ended and playback_error. Events for a resource
// other than the loaded one are stale and ignored.
func (e *remoteEngine) event(in Inbound) {
	e.mu.Lock()
	current := in.Handle == "" || playback.Handle(in.Handle) == e.handle
	e.mu.Unlock()
	if !current {
		return
	}
	if in.Type == MsgPlaybackError {
		msg := in.Error
		if msg == "" {
			msg = "media error"
		}
		e.finish(errors.New(msg))
		return
	}
	e.finish(nil)
}

func (e *remoteEngine) finish(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done != nil {
		e.done <- err
		e.done = nil
	}
}

var _ playback.Engine = (*remoteEngine)(nil)
