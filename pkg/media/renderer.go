package media

import (
	"context"
	"sync/atomic"
)

// HeadlessRenderer is a renderer with no display surface. The viewer
// binary runs detection without drawing the video locally, so rendering
// reduces to tracking the play/pause state the supervisor cares about.
type HeadlessRenderer struct {
	playing atomic.Bool
}

// NewHeadlessRenderer creates a stopped renderer.
func NewHeadlessRenderer() *HeadlessRenderer {
	return &HeadlessRenderer{}
}

func (r *HeadlessRenderer) Play(ctx context.Context) error {
	r.playing.Store(true)
	return nil
}

func (r *HeadlessRenderer) Pause() {
	r.playing.Store(false)
}

func (r *HeadlessRenderer) Playing() bool {
	return r.playing.Load()
}
