package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the supervisor's explicit playback state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StateStalled
	StateRecovering
	StateAwaitingUserGesture
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateStalled:
		return "stalled"
	case StateRecovering:
		return "recovering"
	case StateAwaitingUserGesture:
		return "awaiting-user-gesture"
	default:
		return "unknown"
	}
}

// Defaults for the supervisor's timing and retry budget.
const (
	DefaultLoadTimeout     = 5 * time.Second
	DefaultMonitorInterval = 1 * time.Second
	DefaultMaxRetries      = 3
)

// Config holds supervisor configuration. The two callbacks are how the
// external UI collaborator learns about recovery: OnManualPlay asks it to
// show a tap-to-play affordance, OnPlaybackError reports a retryable
// failure.
type Config struct {
	Stream          MediaStream
	LoadTimeout     time.Duration
	MonitorInterval time.Duration
	MaxRetries      int
	Logger          *slog.Logger
	OnManualPlay    func()
	OnPlaybackError func(error)
	OnStateChange   func(old, new State)
}

// Supervisor keeps a media stream rendering: it waits for readiness,
// starts playback, watches for stalls, retries with a bounded budget, and
// falls back to a user-gesture recovery path when autoplay is blocked.
type Supervisor struct {
	stream          MediaStream
	loadTimeout     time.Duration
	monitorInterval time.Duration
	maxRetries      int
	logger          *slog.Logger
	onManualPlay    func()
	onPlaybackError func(error)
	onStateChange   func(old, new State)

	mu              sync.Mutex
	state           State
	retryCount      int
	attemptInFlight bool
	monitorDone     chan struct{}
	wg              sync.WaitGroup
}

// NewSupervisor creates a supervisor for the given stream.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = DefaultMonitorInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	return &Supervisor{
		stream:          cfg.Stream,
		loadTimeout:     cfg.LoadTimeout,
		monitorInterval: cfg.MonitorInterval,
		maxRetries:      cfg.MaxRetries,
		logger:          cfg.Logger,
		onManualPlay:    cfg.OnManualPlay,
		onPlaybackError: cfg.OnPlaybackError,
		onStateChange:   cfg.OnStateChange,
		state:           StateIdle,
	}
}

// State returns the current playback state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RetryCount returns the current automatic-resume attempt count.
func (s *Supervisor) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCount
}

// Start waits for the stream to have current data (bounded by the load
// timeout), starts playback, and begins periodic monitoring. A permission
// error routes to the user-gesture path; other play failures are surfaced
// as retryable.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.stream == nil {
		return ErrNoSource
	}

	s.setState(StateLoading)

	if s.stream.ReadyState() < HaveCurrentData {
		select {
		case <-s.stream.Ready():
		case <-time.After(s.loadTimeout):
			s.setState(StateIdle)
			return &LoadTimeoutError{Timeout: s.loadTimeout}
		case <-ctx.Done():
			s.setState(StateIdle)
			return ctx.Err()
		}
	}

	if err := s.stream.Play(ctx); err != nil {
		s.handlePlayFailure(err)
		return err
	}

	s.setState(StatePlaying)
	s.startMonitor()
	s.logger.Info("playback started")
	return nil
}

// startMonitor launches the monitor loop once. A second call while the
// loop is running is a no-op.
func (s *Supervisor) startMonitor() {
	s.mu.Lock()
	if s.monitorDone != nil {
		s.mu.Unlock()
		return
	}
	done := make(chan struct{})
	s.monitorDone = done
	s.mu.Unlock()

	s.wg.Add(1)
	go s.monitorLoop(done)
}

// monitorLoop is the single goroutine that reacts to stream lifecycle
// events and checks for stalls on every tick.
func (s *Supervisor) monitorLoop(done chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev := <-s.stream.Events():
			s.handleStreamEvent(ev)
		case <-ticker.C:
			s.checkPlayback()
		}
	}
}

// handleStreamEvent tracks the stream's own lifecycle signals. A playing
// signal grants a fresh retry budget: a new run of stalls starts from zero.
func (s *Supervisor) handleStreamEvent(ev StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev {
	case EventPlaying:
		s.retryCount = 0
		s.transitionLocked(StatePlaying)
	case EventPaused:
		if s.state == StatePlaying {
			s.transitionLocked(StateStalled)
		}
	case EventEnded:
		s.logger.Info("stream ended")
	}
}

// checkPlayback is one monitor tick. An inactive stream is considered
// externally terminated and left alone. An active-but-paused stream gets
// an automatic resume while the retry budget lasts, then the manual
// affordance.
func (s *Supervisor) checkPlayback() {
	if !s.stream.Active() {
		s.logger.Warn("stream inactive")
		return
	}

	s.mu.Lock()
	if !s.stream.Paused() || s.state == StateAwaitingUserGesture || s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	if s.attemptInFlight {
		s.mu.Unlock()
		return
	}

	if s.retryCount < s.maxRetries {
		s.retryCount++
		s.attemptInFlight = true
		s.transitionLocked(StateRecovering)
		s.mu.Unlock()

		s.logger.Info("attempting to resume playback", "attempt", s.RetryCount())
		go s.attemptResume()
		return
	}

	s.transitionLocked(StateAwaitingUserGesture)
	s.mu.Unlock()

	s.logger.Warn("max resume attempts reached, waiting for user gesture")
	if s.onManualPlay != nil {
		s.onManualPlay()
	}
}

// attemptResume is the single outstanding automatic play attempt.
func (s *Supervisor) attemptResume() {
	err := s.stream.Play(context.Background())

	s.mu.Lock()
	s.attemptInFlight = false
	if s.state == StateIdle {
		// Stopped while the attempt was in flight.
		s.mu.Unlock()
		return
	}
	if err == nil {
		s.transitionLocked(StatePlaying)
		s.mu.Unlock()
		return
	}
	if errors.Is(err, ErrPermissionDenied) {
		// A user gesture, not the retry budget, is the exit here.
		s.retryCount--
		s.transitionLocked(StateAwaitingUserGesture)
		s.mu.Unlock()
		if s.onManualPlay != nil {
			s.onManualPlay()
		}
		return
	}
	s.transitionLocked(StateStalled)
	s.mu.Unlock()

	s.logger.Error("resume attempt failed", "error", err)
	if s.onPlaybackError != nil {
		s.onPlaybackError(err)
	}
}

// handlePlayFailure routes an initial play failure per the error taxonomy.
func (s *Supervisor) handlePlayFailure(err error) {
	if errors.Is(err, ErrPermissionDenied) {
		s.setState(StateAwaitingUserGesture)
		s.startMonitor()
		if s.onManualPlay != nil {
			s.onManualPlay()
		}
		return
	}

	s.setState(StateIdle)
	s.logger.Error("playback failed", "error", err)
	if s.onPlaybackError != nil {
		s.onPlaybackError(err)
	}
}

// Resume is the explicit user-gesture recovery path. It restores the
// automatic retry budget and attempts playback immediately.
func (s *Supervisor) Resume(ctx context.Context) error {
	s.mu.Lock()
	s.retryCount = 0
	s.mu.Unlock()

	if err := s.stream.Play(ctx); err != nil {
		s.handlePlayFailure(err)
		return err
	}

	s.setState(StatePlaying)
	s.startMonitor()
	return nil
}

// Stop cancels the monitor, releases the stream's tracks, and resets to
// Idle. Safe to call from any state, repeatedly, and while a play attempt
// is in flight: the attempt's completion becomes a no-op.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	done := s.monitorDone
	s.monitorDone = nil
	s.retryCount = 0
	s.transitionLocked(StateIdle)
	s.mu.Unlock()

	if done != nil {
		close(done)
	}
	s.wg.Wait()

	if s.stream != nil {
		s.stream.StopTracks()
	}
}

func (s *Supervisor) setState(next State) {
	s.mu.Lock()
	s.transitionLocked(next)
	s.mu.Unlock()
}

// transitionLocked records a state change and tells the observer.
// Caller holds s.mu.
func (s *Supervisor) transitionLocked(next State) {
	if s.state == next {
		return
	}
	old := s.state
	s.state = next
	s.logger.Debug("playback state changed", "from", old.String(), "to", next.String())
	if s.onStateChange != nil {
		s.onStateChange(old, next)
	}
}
