package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"livedetect/pkg/infer"
)

// Pipeline runs object detection over a bounded frame queue, strictly one
// inference in flight at a time. Producers push frames with EnqueueFrame
// and are never blocked: a full queue rejects the frame. A single drain
// worker processes frames FIFO and re-arms itself while work remains, so
// a sustained high-rate producer cannot grow the call stack.
type Pipeline struct {
	backend    infer.Backend
	queue      *frameQueue
	processing atomic.Bool
	threshold  float32
	pre        PreprocessConfig
	labels     []string
	logger     *slog.Logger
	stats      *Stats

	mu     sync.Mutex
	info   infer.ModelInfo
	loaded bool

	results chan Result
	// work is the drain trampoline: a 1-buffered wake-up channel the
	// worker pulls from instead of recursing after each frame.
	work   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds pipeline configuration.
type Config struct {
	Backend        infer.Backend
	QueueCapacity  int     // 0 means DefaultQueueCapacity
	ScoreThreshold float32 // 0 means DefaultScoreThreshold
	Preprocess     PreprocessConfig
	Labels         []string // nil means COCOLabels
	Logger         *slog.Logger
}

// NewPipeline creates a pipeline around the given backend. Call LoadModel
// before enqueueing frames.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ScoreThreshold == 0 {
		cfg.ScoreThreshold = DefaultScoreThreshold
	}
	if len(cfg.Preprocess.InputShape) == 0 {
		cfg.Preprocess = DefaultPreprocessConfig()
	}
	if cfg.Labels == nil {
		cfg.Labels = COCOLabels
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pipeline{
		backend:   cfg.Backend,
		queue:     newFrameQueue(cfg.QueueCapacity),
		threshold: cfg.ScoreThreshold,
		pre:       cfg.Preprocess,
		labels:    cfg.Labels,
		logger:    cfg.Logger,
		stats:     NewStats(),
		results:   make(chan Result, 10),
		work:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// LoadModel loads the model and records the negotiated I/O contract. The
// model's declared input shape, when present, overrides the preprocess
// configuration.
func (p *Pipeline) LoadModel(ctx context.Context, path string) error {
	info, err := p.backend.LoadModel(ctx, path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.info = info
	p.loaded = true
	if len(info.InputShape) == 4 {
		p.pre.InputShape = info.InputShape
	}
	p.mu.Unlock()

	p.logger.Info("detection model ready",
		"input", info.InputName,
		"shape", info.InputShape,
		"format", info.OutputFormat)
	return nil
}

// Start launches the drain worker.
func (p *Pipeline) Start() {
	p.wg.Add(1)
	go p.drainLoop()
}

// drainLoop waits for wake-ups and runs one iteration per wake-up. RunOnce
// re-arms the channel when frames remain, which keeps the queue draining
// without recursion.
func (p *Pipeline) drainLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.work:
			if err := p.RunOnce(p.ctx); err != nil {
				p.logger.Error("inference iteration failed", "error", err)
			}
		}
	}
}

// EnqueueFrame offers a frame to the pipeline. Returns false, leaving the
// queue unchanged, when the queue is at capacity; the caller should treat
// that as "drop the frame", not as an error.
func (p *Pipeline) EnqueueFrame(f Frame) bool {
	if !p.queue.tryEnqueue(f) {
		p.stats.recordDrop()
		return false
	}
	p.kick()
	return true
}

// kick arms the drain worker. Non-blocking: if a wake-up is already
// pending, one is enough.
func (p *Pipeline) kick() {
	select {
	case p.work <- struct{}{}:
	default:
	}
}

// RunOnce processes at most one frame. It is a no-op when an inference is
// already in flight or the queue is empty. On completion, success or
// failure, the processing flag is cleared and the drain worker is re-armed
// if frames remain. A backend failure drops the in-flight frame and is
// returned to the caller; the pipeline stays usable.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	if !p.processing.CompareAndSwap(false, true) {
		return nil
	}
	defer func() {
		p.processing.Store(false)
		if p.queue.len() > 0 {
			p.kick()
		}
	}()

	frame, ok := p.queue.dequeue()
	if !ok {
		return nil
	}

	p.mu.Lock()
	info := p.info
	loaded := p.loaded
	pre := p.pre
	p.mu.Unlock()

	if !loaded {
		p.stats.recordError()
		return fmt.Errorf("frame %d dropped: no model loaded", frame.ID)
	}

	input, err := preprocess(frame, pre)
	if err != nil {
		p.stats.recordError()
		return fmt.Errorf("preprocess frame %d: %w", frame.ID, err)
	}

	start := time.Now()
	outputs, err := p.backend.Run(ctx, map[string]infer.Tensor{info.InputName: input})
	if err != nil {
		p.stats.recordError()
		return fmt.Errorf("frame %d: %w", frame.ID, err)
	}
	elapsed := time.Since(start)

	detections, err := postprocess(outputs, info, p.threshold, p.labels)
	if err != nil {
		p.stats.recordError()
		return fmt.Errorf("postprocess frame %d: %w", frame.ID, err)
	}

	p.stats.recordFrame(elapsed)

	result := Result{
		FrameID:           frame.ID,
		CaptureTS:         frame.CapturedAt.UnixMilli(),
		InferenceTS:       time.Now().UnixMilli(),
		InferenceDuration: elapsed.Milliseconds(),
		Detections:        detections,
	}

	select {
	case p.results <- result:
	case <-p.ctx.Done():
	default:
		p.logger.Warn("result channel full, dropping result", "frameID", result.FrameID)
	}

	return nil
}

// Results returns the channel of completed detection results. Ownership of
// each result transfers to the receiver.
func (p *Pipeline) Results() <-chan Result {
	return p.results
}

// QueueLen returns the number of frames waiting for inference.
func (p *Pipeline) QueueLen() int {
	return p.queue.len()
}

// Stats returns the pipeline's counters.
func (p *Pipeline) Stats() *Stats {
	return p.stats
}

// Close stops the drain worker. A frame mid-inference finishes first; there
// is no way to interrupt a hung backend call beyond its context.
func (p *Pipeline) Close() error {
	p.cancel()
	p.wg.Wait()
	return nil
}
