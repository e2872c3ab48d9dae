package playback_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/babelvox/internal/busy"
	"github.com/MrWong99/babelvox/internal/playback"
	"github.com/MrWong99/babelvox/internal/playback/mock"
)

func newController(t *testing.T, eng *mock.Engine) (*playback.Controller, *mock.Resources, *busy.Guard, *int) {
	t.Helper()
	res := &mock.Resources{}
	guard := &busy.Guard{}
	created := 0
	c := playback.New(res, func(context.Context) (playback.Engine, error) {
		created++
		return eng, nil
	}, guard)
	t.Cleanup(func() { _ = c.Close() })
	return c, res, guard, &created
}

// startBlocking runs Play in the background and waits until the engine plays.
func startBlocking(t *testing.T, c *playback.Controller, eng *mock.Engine, container []byte, rate float64) <-chan error {
	t.Helper()
	started := eng.Started()
	errc := make(chan error, 1)
	go func() { errc <- c.Play(context.Background(), container, rate) }()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not start")
	}
	return errc
}

func TestClampRate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want float64
	}{
		{1.0, 1.0},
		{0.1, 0.5},
		{3.0, 1.5},
		{1.23, 1.2},
		{1.26, 1.3},
		{0.74, 0.7},
		{-1, 0.5},
	}
	for _, tc := range tests {
		if got := playback.ClampRate(tc.in); got != tc.want {
			t.Errorf("ClampRate(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestController_PlayLifecycle(t *testing.T) {
	t.Parallel()
	eng := &mock.Engine{}
	c, res, guard, created := newController(t, eng)
	ctx := context.Background()

	if err := c.Play(ctx, []byte("RIFF-1"), 1.26); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := c.Play(ctx, []byte("RIFF-2"), 0.2); err != nil {
		t.Fatalf("second Play: %v", err)
	}

	if *created != 1 {
		t.Errorf("engine created %d times, want 1", *created)
	}
	if got := res.Created(); len(got) != 2 {
		t.Fatalf("created handles = %v", got)
	}
	if got := res.Released(); len(got) != 1 || got[0] != "blob:1" {
		t.Errorf("released = %v, want [blob:1]", got)
	}
	if res.Live() != 1 {
		t.Errorf("live handles = %d, want 1", res.Live())
	}
	rates := eng.Rates()
	if len(rates) != 2 || rates[0] != (mock.RateCall{Rate: 1.3, PreservePitch: true}) || rates[1].Rate != 0.5 {
		t.Errorf("rates = %+v", rates)
	}
	if c.Busy() || guard.Busy() {
		t.Error("controller still busy after playback ended")
	}
	if string(res.Payload(eng.Loads()[1])) != "RIFF-2" {
		t.Error("engine loaded the wrong resource")
	}
}

func TestController_BusyLeavesHandleUntouched(t *testing.T) {
	t.Parallel()
	eng := &mock.Engine{Blocking: true}
	c, res, _, _ := newController(t, eng)

	errc := startBlocking(t, c, eng, []byte("first"), 1.0)

	err := c.Play(context.Background(), []byte("second"), 1.0)
	if !errors.Is(err, playback.ErrBusy) || !errors.Is(err, busy.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	if got := res.Created(); len(got) != 1 {
		t.Errorf("created = %v, want one handle", got)
	}
	if len(res.Released()) != 0 {
		t.Error("in-progress handle was released")
	}

	eng.Finish(nil)
	if err := <-errc; err != nil {
		t.Fatalf("first Play: %v", err)
	}
}

func TestController_RejectsWhileCapturing(t *testing.T) {
	t.Parallel()
	c, res, guard, created := newController(t, &mock.Engine{})
	release, _ := guard.Acquire(busy.ReasonCapture)
	defer release()

	if err := c.Play(context.Background(), []byte("x"), 1); !errors.Is(err, busy.ErrBusy) {
		t.Fatalf("err = %v, want busy", err)
	}
	if *created != 0 || len(res.Created()) != 0 {
		t.Error("resources touched while capture held the guard")
	}
}

func TestController_SetRateLive(t *testing.T) {
	t.Parallel()
	eng := &mock.Engine{Blocking: true}
	c, _, _, _ := newController(t, eng)

	errc := startBlocking(t, c, eng, []byte("x"), 1.0)
	if got := c.SetRate(1.44); got != 1.4 {
		t.Errorf("SetRate applied %v, want 1.4", got)
	}
	rates := eng.Rates()
	if last := rates[len(rates)-1]; last.Rate != 1.4 || !last.PreservePitch {
		t.Errorf("last rate call = %+v", last)
	}
	eng.Finish(nil)
	<-errc
	if c.Rate() != 1.4 {
		t.Errorf("Rate = %v", c.Rate())
	}
}

func TestController_SetRateIdleDoesNotTouchEngine(t *testing.T) {
	t.Parallel()
	eng := &mock.Engine{}
	c, _, _, _ := newController(t, eng)
	if got := c.SetRate(9); got != playback.MaxRate {
		t.Errorf("SetRate = %v", got)
	}
	if len(eng.Rates()) != 0 {
		t.Error("engine rate set while idle")
	}
}

func TestController_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		engine    *mock.Engine
		createErr error
	}{
		{name: "play fails", engine: &mock.Engine{PlayErr: errors.New("decode error")}},
		{name: "load fails", engine: &mock.Engine{LoadErr: errors.New("bad url")}},
		{name: "resource fails", engine: &mock.Engine{}, createErr: errors.New("quota")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, res, guard, _ := newController(t, tc.engine)
			res.CreateErr = tc.createErr

			err := c.Play(context.Background(), []byte("x"), 1)
			if !errors.Is(err, playback.ErrPlayback) {
				t.Fatalf("err = %v, want ErrPlayback", err)
			}
			if c.Busy() || guard.Busy() {
				t.Error("controller not returned to idle")
			}
		})
	}
}

func TestController_FactoryError(t *testing.T) {
	t.Parallel()
	boom := errors.New("no audio context")
	c := playback.New(&mock.Resources{}, func(context.Context) (playback.Engine, error) { return nil, boom }, &busy.Guard{})

	err := c.Play(context.Background(), []byte("x"), 1)
	if !errors.Is(err, playback.ErrPlayback) || !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestController_Pause(t *testing.T) {
	t.Parallel()
	eng := &mock.Engine{Blocking: true}
	c, res, guard, _ := newController(t, eng)

	c.Pause()
	if eng.Pauses() != 0 {
		t.Error("Pause while idle reached the engine")
	}

	errc := startBlocking(t, c, eng, []byte("x"), 1.0)
	c.Pause()
	if err := <-errc; err != nil {
		t.Fatalf("Play after Pause = %v, want nil", err)
	}
	if eng.Pauses() != 1 {
		t.Errorf("pauses = %d, want 1", eng.Pauses())
	}
	if c.Busy() || guard.Busy() {
		t.Error("controller or guard still busy after Pause")
	}
	if res.Live() != 1 {
		t.Errorf("live handles = %d, want the paused resource kept", res.Live())
	}

	// The next playback is unaffected by the earlier pause.
	eng.Blocking = false
	if err := c.Play(context.Background(), []byte("y"), 1.0); err != nil {
		t.Fatalf("Play after Pause: %v", err)
	}
	if res.Live() != 1 {
		t.Errorf("live handles = %d after replay", res.Live())
	}
}

func TestController_CloseDuringPlayback(t *testing.T) {
	t.Parallel()
	eng := &mock.Engine{Blocking: true}
	c, res, guard, _ := newController(t, eng)

	errc := startBlocking(t, c, eng, []byte("x"), 1.0)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Play after Close = %v, want nil", err)
	}
	if eng.Pauses() != 1 || eng.Closes() != 1 {
		t.Errorf("pauses = %d, closes = %d", eng.Pauses(), eng.Closes())
	}
	if res.Live() != 0 {
		t.Errorf("live handles = %d", res.Live())
	}
	if guard.Busy() {
		t.Error("guard still held")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if eng.Closes() != 1 {
		t.Error("engine closed twice")
	}
	if err := c.Play(context.Background(), []byte("x"), 1); !errors.Is(err, playback.ErrClosed) {
		t.Errorf("Play after Close = %v, want ErrClosed", err)
	}
}
