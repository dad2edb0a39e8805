package detect

import (
	"sync/atomic"
	"time"
)

// Stats accumulates pipeline throughput and latency counters.
type Stats struct {
	framesProcessed atomic.Int64
	framesDropped   atomic.Int64
	inferenceErrors atomic.Int64
	totalLatencyMS  atomic.Int64
	lastFrameUnix   atomic.Int64
}

// NewStats creates a zeroed counter set.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) recordFrame(latency time.Duration) {
	s.framesProcessed.Add(1)
	s.totalLatencyMS.Add(latency.Milliseconds())
	s.lastFrameUnix.Store(time.Now().Unix())
}

func (s *Stats) recordDrop() {
	s.framesDropped.Add(1)
}

func (s *Stats) recordError() {
	s.inferenceErrors.Add(1)
}

// FramesProcessed returns how many frames completed inference.
func (s *Stats) FramesProcessed() int64 { return s.framesProcessed.Load() }

// FramesDropped returns how many frames were rejected by the full queue.
func (s *Stats) FramesDropped() int64 { return s.framesDropped.Load() }

// InferenceErrors returns how many backend invocations failed.
func (s *Stats) InferenceErrors() int64 { return s.inferenceErrors.Load() }

// AvgLatencyMS returns the mean inference latency in milliseconds.
func (s *Stats) AvgLatencyMS() float64 {
	frames := s.framesProcessed.Load()
	if frames == 0 {
		return 0
	}
	return float64(s.totalLatencyMS.Load()) / float64(frames)
}

// LastFrameTime returns the unix time of the most recent completed frame.
func (s *Stats) LastFrameTime() int64 { return s.lastFrameUnix.Load() }
