package playback

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ReadyState mirrors the media element readiness ladder the supervisor
// cares about.
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

// StreamEvent is a lifecycle signal emitted by the stream.
type StreamEvent int

const (
	EventPlaying StreamEvent = iota
	EventPaused
	EventEnded
)

// TrackInfo carries a track's negotiated settings.
type TrackInfo struct {
	Width     int
	Height    int
	FrameRate float64
}

// MediaStream is the external collaborator boundary: something that can be
// played, paused, and monitored. Ready is signalled once the stream has
// current data; Events delivers playing/paused/ended lifecycle signals.
type MediaStream interface {
	ReadyState() ReadyState
	Active() bool
	Paused() bool
	Play(ctx context.Context) error
	Pause()
	StopTracks()
	Tracks() []TrackInfo
	Ready() <-chan struct{}
	Events() <-chan StreamEvent
}

// ErrPermissionDenied is returned by Play when an autoplay policy blocks
// playback. Only a user gesture can clear it.
var ErrPermissionDenied = errors.New("playback blocked: user gesture required")

// ErrNoSource is returned by Start when no stream is attached.
var ErrNoSource = errors.New("no media stream attached")

// LoadTimeoutError means the stream never reached HaveCurrentData within
// the load timeout.
type LoadTimeoutError struct {
	Timeout time.Duration
}

func (e *LoadTimeoutError) Error() string {
	return fmt.Sprintf("media load timed out after %s", e.Timeout)
}
