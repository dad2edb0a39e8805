package media

import (
	"context"
	"sync"

	"livedetect/pkg/playback"
)

// Renderer is the external collaborator that actually draws the stream
// (a video surface, a headless sink in tests). The TrackStream delegates
// play/pause control to it.
type Renderer interface {
	Play(ctx context.Context) error
	Pause()
	Playing() bool
}

// TrackStream adapts a Receiver plus a Renderer to the supervisor's
// MediaStream interface: readiness comes from the first sample arriving,
// liveness from the RTP read loop, play/pause from the renderer.
type TrackStream struct {
	recv     *Receiver
	renderer Renderer

	readyOnce sync.Once
	ready     chan struct{}
	events    chan playback.StreamEvent

	settings playback.TrackInfo
}

// NewTrackStream wraps a receiver and renderer. Settings carries the
// track's negotiated width/height/frame-rate for stats display.
func NewTrackStream(recv *Receiver, renderer Renderer, settings playback.TrackInfo) *TrackStream {
	return &TrackStream{
		recv:     recv,
		renderer: renderer,
		ready:    make(chan struct{}),
		events:   make(chan playback.StreamEvent, 10),
		settings: settings,
	}
}

// MarkReady signals that the stream has current data. Called by the owner
// when the first decodable sample arrives; subsequent calls are no-ops.
func (t *TrackStream) MarkReady() {
	t.readyOnce.Do(func() {
		close(t.ready)
	})
}

// ReadyState reports HaveCurrentData once the first sample has arrived.
func (t *TrackStream) ReadyState() playback.ReadyState {
	select {
	case <-t.ready:
		return playback.HaveCurrentData
	default:
		return playback.HaveNothing
	}
}

// Active reports whether the underlying track is still delivering packets.
func (t *TrackStream) Active() bool {
	return t.recv.Active()
}

// Paused reports whether the renderer is currently halted.
func (t *TrackStream) Paused() bool {
	return !t.renderer.Playing()
}

// Play starts the renderer and emits a playing lifecycle signal.
func (t *TrackStream) Play(ctx context.Context) error {
	if err := t.renderer.Play(ctx); err != nil {
		return err
	}
	t.emit(playback.EventPlaying)
	return nil
}

// Pause halts the renderer and emits a paused lifecycle signal.
func (t *TrackStream) Pause() {
	t.renderer.Pause()
	t.emit(playback.EventPaused)
}

// StopTracks tears down the receiver.
func (t *TrackStream) StopTracks() {
	t.recv.Close()
	t.emit(playback.EventEnded)
}

// Tracks returns the negotiated track settings.
func (t *TrackStream) Tracks() []playback.TrackInfo {
	if t.recv.Track() == nil {
		return nil
	}
	return []playback.TrackInfo{t.settings}
}

// Ready is signalled once the stream has current data.
func (t *TrackStream) Ready() <-chan struct{} {
	return t.ready
}

// Events delivers playing/paused/ended lifecycle signals.
func (t *TrackStream) Events() <-chan playback.StreamEvent {
	return t.events
}

func (t *TrackStream) emit(ev playback.StreamEvent) {
	select {
	case t.events <- ev:
	default:
	}
}
