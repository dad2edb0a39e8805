package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStream is a controllable MediaStream. Its accessors never call back
// into the supervisor, so they are safe to invoke under the supervisor's
// lock.
type fakeStream struct {
	mu        sync.Mutex
	ready     chan struct{}
	events    chan StreamEvent
	active    bool
	paused    bool
	playErr   error
	playCalls int
	stopped   bool

	// blockPlay, when set, makes Play park until the channel is closed.
	blockPlay chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		ready:  make(chan struct{}),
		events: make(chan StreamEvent, 10),
		active: true,
		paused: true,
	}
}

func (f *fakeStream) markReady() { close(f.ready) }

func (f *fakeStream) setPaused(paused bool) {
	f.mu.Lock()
	f.paused = paused
	f.mu.Unlock()
}

func (f *fakeStream) setPlayErr(err error) {
	f.mu.Lock()
	f.playErr = err
	f.mu.Unlock()
}

func (f *fakeStream) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playCalls
}

func (f *fakeStream) ReadyState() ReadyState {
	select {
	case <-f.ready:
		return HaveCurrentData
	default:
		return HaveNothing
	}
}

func (f *fakeStream) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeStream) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeStream) setBlockPlay(block chan struct{}) {
	f.mu.Lock()
	f.blockPlay = block
	f.mu.Unlock()
}

func (f *fakeStream) Play(ctx context.Context) error {
	f.mu.Lock()
	f.playCalls++
	block := f.blockPlay
	err := f.playErr
	if err == nil {
		f.paused = false
	}
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

func (f *fakeStream) Pause() { f.setPaused(true) }

func (f *fakeStream) StopTracks() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeStream) Tracks() []TrackInfo        { return nil }
func (f *fakeStream) Ready() <-chan struct{}     { return f.ready }
func (f *fakeStream) Events() <-chan StreamEvent { return f.events }

func newTestSupervisor(t *testing.T, stream MediaStream, cfg Config) *Supervisor {
	t.Helper()
	cfg.Stream = stream
	cfg.Logger = testLogger()
	if cfg.LoadTimeout == 0 {
		cfg.LoadTimeout = 100 * time.Millisecond
	}
	if cfg.MonitorInterval == 0 {
		cfg.MonitorInterval = 5 * time.Millisecond
	}
	s := NewSupervisor(cfg)
	t.Cleanup(s.Stop)
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartWithoutStream(t *testing.T) {
	s := NewSupervisor(Config{Logger: testLogger()})
	if err := s.Start(context.Background()); !errors.Is(err, ErrNoSource) {
		t.Errorf("got %v, want ErrNoSource", err)
	}
}

func TestStartTimesOutWithoutData(t *testing.T) {
	stream := newFakeStream() // never marked ready
	s := newTestSupervisor(t, stream, Config{LoadTimeout: 30 * time.Millisecond})

	err := s.Start(context.Background())
	var timeoutErr *LoadTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("got %v, want LoadTimeoutError", err)
	}
	if s.State() != StateIdle {
		t.Errorf("state = %v, want idle", s.State())
	}
	if stream.playCount() != 0 {
		t.Error("play attempted on a stream with no data")
	}
}

func TestStartPlaysReadyStream(t *testing.T) {
	stream := newFakeStream()
	stream.markReady()
	s := newTestSupervisor(t, stream, Config{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if s.State() != StatePlaying {
		t.Errorf("state = %v, want playing", s.State())
	}
	if stream.playCount() != 1 {
		t.Errorf("play calls = %d, want 1", stream.playCount())
	}
}

func TestStartAutoplayBlocked(t *testing.T) {
	stream := newFakeStream()
	stream.markReady()
	stream.setPlayErr(ErrPermissionDenied)

	var manualPlays atomic.Int32
	s := newTestSupervisor(t, stream, Config{
		OnManualPlay: func() { manualPlays.Add(1) },
	})

	if err := s.Start(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("got %v, want ErrPermissionDenied", err)
	}
	if s.State() != StateAwaitingUserGesture {
		t.Errorf("state = %v, want awaiting-user-gesture", s.State())
	}
	if manualPlays.Load() != 1 {
		t.Errorf("manual play callbacks = %d, want 1", manualPlays.Load())
	}

	// No automatic attempts while waiting for the gesture.
	time.Sleep(50 * time.Millisecond)
	if stream.playCount() != 1 {
		t.Errorf("play calls = %d, want 1 (no auto retries)", stream.playCount())
	}
}

func TestStartHardFailure(t *testing.T) {
	stream := newFakeStream()
	stream.markReady()
	stream.setPlayErr(errors.New("decoder broken"))

	var reported atomic.Int32
	s := newTestSupervisor(t, stream, Config{
		OnPlaybackError: func(error) { reported.Add(1) },
	})

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected a play error")
	}
	if s.State() != StateIdle {
		t.Errorf("state = %v, want idle", s.State())
	}
	if reported.Load() != 1 {
		t.Errorf("error callbacks = %d, want 1", reported.Load())
	}
}

func TestAutomaticResumeAfterStall(t *testing.T) {
	stream := newFakeStream()
	stream.markReady()
	s := newTestSupervisor(t, stream, Config{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Simulate an external pause; the next tick should resume it.
	stream.setPaused(true)
	waitFor(t, "automatic resume", func() bool {
		return !stream.Paused() && s.State() == StatePlaying
	})
	if stream.playCount() < 2 {
		t.Errorf("play calls = %d, want at least 2", stream.playCount())
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	stream := newFakeStream()
	stream.markReady()

	var manualPlays atomic.Int32
	s := newTestSupervisor(t, stream, Config{
		MaxRetries:   3,
		OnManualPlay: func() { manualPlays.Add(1) },
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Every resume attempt now fails.
	stream.setPlayErr(errors.New("still broken"))
	stream.setPaused(true)

	waitFor(t, "user gesture state", func() bool {
		return s.State() == StateAwaitingUserGesture
	})

	if got := stream.playCount(); got != 1+3 {
		t.Errorf("play calls = %d, want 4 (initial + 3 retries)", got)
	}
	if manualPlays.Load() != 1 {
		t.Errorf("manual play callbacks = %d, want 1", manualPlays.Load())
	}

	// The supervisor must stay parked on the gesture.
	time.Sleep(50 * time.Millisecond)
	if got := stream.playCount(); got != 4 {
		t.Errorf("play calls = %d after parking, want 4", got)
	}
}

func TestPermissionDeniedResumeKeepsBudget(t *testing.T) {
	stream := newFakeStream()
	stream.markReady()

	var manualPlays atomic.Int32
	s := newTestSupervisor(t, stream, Config{
		OnManualPlay: func() { manualPlays.Add(1) },
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	stream.setPlayErr(ErrPermissionDenied)
	stream.setPaused(true)

	waitFor(t, "user gesture state", func() bool {
		return s.State() == StateAwaitingUserGesture
	})

	// The blocked attempt went straight to the gesture path without
	// consuming the retry budget.
	if got := s.RetryCount(); got != 0 {
		t.Errorf("retry count = %d, want 0", got)
	}
	if manualPlays.Load() != 1 {
		t.Errorf("manual play callbacks = %d, want 1", manualPlays.Load())
	}
}

func TestPlayingEventResetsBudget(t *testing.T) {
	stream := newFakeStream()
	stream.markReady()
	s := newTestSupervisor(t, stream, Config{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Exhaust the budget with failing resumes, then signal recovery.
	stream.setPlayErr(errors.New("flaky"))
	stream.setPaused(true)
	waitFor(t, "budget exhaustion", func() bool {
		return s.State() == StateAwaitingUserGesture
	})

	stream.setPlayErr(nil)
	stream.setPaused(false)
	stream.events <- EventPlaying

	waitFor(t, "budget reset", func() bool {
		return s.RetryCount() == 0 && s.State() == StatePlaying
	})
}

func TestPausedEventMarksStalled(t *testing.T) {
	stream := newFakeStream()
	stream.markReady()
	// A long interval keeps ticks out of the picture.
	s := newTestSupervisor(t, stream, Config{MonitorInterval: time.Hour})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	stream.setPaused(true)
	stream.events <- EventPaused

	waitFor(t, "stalled state", func() bool { return s.State() == StateStalled })
}

func TestResumeRestoresBudget(t *testing.T) {
	stream := newFakeStream()
	stream.markReady()
	s := newTestSupervisor(t, stream, Config{MaxRetries: 1})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	stream.setPlayErr(errors.New("broken"))
	stream.setPaused(true)
	waitFor(t, "user gesture state", func() bool {
		return s.State() == StateAwaitingUserGesture
	})

	// The user taps play.
	stream.setPlayErr(nil)
	if err := s.Resume(context.Background()); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if s.State() != StatePlaying {
		t.Errorf("state = %v, want playing", s.State())
	}
	if got := s.RetryCount(); got != 0 {
		t.Errorf("retry count = %d, want 0", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	stream := newFakeStream()
	stream.markReady()
	s := newTestSupervisor(t, stream, Config{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	s.Stop()
	s.Stop()

	if s.State() != StateIdle {
		t.Errorf("state = %v, want idle", s.State())
	}
	stream.mu.Lock()
	stopped := stream.stopped
	stream.mu.Unlock()
	if !stopped {
		t.Error("stream tracks not released")
	}
}

func TestStopDuringInFlightResume(t *testing.T) {
	stream := newFakeStream()
	stream.markReady()
	s := newTestSupervisor(t, stream, Config{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Stall the stream and park the recovery attempt inside Play.
	block := make(chan struct{})
	stream.setBlockPlay(block)
	stream.setPaused(true)
	waitFor(t, "resume attempt to start", func() bool {
		return stream.playCount() >= 2
	})

	// Stop must not wait for the parked attempt and must leave Idle.
	s.Stop()
	if s.State() != StateIdle {
		t.Fatalf("state = %v after stop, want idle", s.State())
	}

	// The attempt's late completion is a no-op.
	close(block)
	time.Sleep(50 * time.Millisecond)
	if s.State() != StateIdle {
		t.Errorf("state = %v after attempt completed, want idle", s.State())
	}
	if got := stream.playCount(); got != 2 {
		t.Errorf("play calls = %d after stop, want 2", got)
	}
}

func TestStopBeforeStart(t *testing.T) {
	s := newTestSupervisor(t, newFakeStream(), Config{})
	s.Stop()
	if s.State() != StateIdle {
		t.Errorf("state = %v, want idle", s.State())
	}
}
