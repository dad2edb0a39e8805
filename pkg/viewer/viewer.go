package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"livedetect/pkg/detect"
	"livedetect/pkg/media"
	"livedetect/pkg/playback"
	"livedetect/pkg/signaling"
)

// Decoder turns encoded samples from the remote track into raw frames the
// detection pipeline can consume. Returning false skips the sample (for
// example, partial data before the first keyframe).
type Decoder interface {
	Decode(s media.Sample) (detect.Frame, bool)
}

// Config holds everything the viewer needs to join a session.
type Config struct {
	RelayURL string
	STUN     []string
	Pipeline *detect.Pipeline
	Decoder  Decoder
	Renderer media.Renderer
	Logger   *slog.Logger

	// MaxRetries bounds automatic playback recovery attempts per session.
	// Zero means the supervisor's default.
	MaxRetries int

	// OnManualPlay is invoked when automatic playback recovery is
	// exhausted and a user gesture is required to resume.
	OnManualPlay func()
}

// sessionDescription is the SDP payload exchanged over the relay.
type sessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Viewer is the laptop-side orchestrator. It announces itself to the
// relay, answers the phone's WebRTC offer, feeds decoded frames into the
// detection pipeline, publishes results back through the relay, and keeps
// playback alive through the supervisor.
type Viewer struct {
	cfg    Config
	logger *slog.Logger

	signal *signaling.Client

	mu         sync.Mutex
	receiver   *media.Receiver
	stream     *media.TrackStream
	supervisor *playback.Supervisor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a viewer. Call Start to connect.
func New(cfg Config) (*Viewer, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if cfg.Decoder == nil {
		return nil, fmt.Errorf("decoder is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Viewer{
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

// Start connects to the relay, announces the laptop role, and runs the
// event and result loops until ctx is cancelled or Stop is called.
func (v *Viewer) Start(ctx context.Context) error {
	client, err := signaling.Dial(ctx, v.cfg.RelayURL, v.logger)
	if err != nil {
		return err
	}
	if err := client.Announce(signaling.RoleLaptop); err != nil {
		client.Close()
		return fmt.Errorf("failed to announce role: %w", err)
	}
	v.signal = client

	v.ctx, v.cancel = context.WithCancel(context.Background())

	v.cfg.Pipeline.Start()

	v.wg.Add(2)
	go v.eventLoop()
	go v.resultLoop()

	v.logger.Info("viewer started", "relay", v.cfg.RelayURL)
	return nil
}

func (v *Viewer) eventLoop() {
	defer v.wg.Done()

	for {
		select {
		case <-v.ctx.Done():
			return
		case err := <-v.signal.Errors():
			v.logger.Error("relay connection lost", "error", err)
			return
		case env, ok := <-v.signal.Events():
			if !ok {
				return
			}
			v.handleEvent(env)
		}
	}
}

func (v *Viewer) handleEvent(env signaling.Envelope) {
	switch env.Event {
	case signaling.EventPhoneConnected:
		v.logger.Info("phone connected, requesting track")
		if err := v.signal.Send(signaling.EventRequestTrack, nil); err != nil {
			v.logger.Error("failed to request track", "error", err)
		}

	case signaling.EventOffer:
		v.handleOffer(env.Payload)

	case signaling.EventICECandidate:
		v.mu.Lock()
		recv := v.receiver
		v.mu.Unlock()
		if recv == nil {
			v.logger.Debug("ice candidate before offer, ignoring")
			return
		}
		if err := recv.AddICECandidate(env.Payload); err != nil {
			v.logger.Warn("failed to add ice candidate", "error", err)
		}

	case signaling.EventPhoneDisconnected:
		v.logger.Info("phone disconnected, tearing down session")
		v.teardownSession()

	default:
		v.logger.Debug("ignoring event", "event", env.Event)
	}
}

// handleOffer answers the phone's SDP offer on a fresh peer connection.
// A renegotiation replaces any existing session.
func (v *Viewer) handleOffer(payload json.RawMessage) {
	var offer sessionDescription
	if err := json.Unmarshal(payload, &offer); err != nil {
		v.logger.Error("malformed offer", "error", err)
		return
	}

	v.teardownSession()

	recv, err := media.NewReceiver(media.ReceiverConfig{
		STUN:   v.cfg.STUN,
		Logger: v.logger,
		OnICECandidate: func(candidate json.RawMessage) {
			if err := v.signal.Send(signaling.EventICECandidate, candidate); err != nil {
				v.logger.Warn("failed to send ice candidate", "error", err)
			}
		},
	})
	if err != nil {
		v.logger.Error("failed to create receiver", "error", err)
		return
	}

	answerSDP, err := recv.HandleOffer(offer.SDP)
	if err != nil {
		v.logger.Error("failed to answer offer", "error", err)
		recv.Close()
		return
	}

	answer := sessionDescription{Type: "answer", SDP: answerSDP}
	if err := v.signal.Send(signaling.EventAnswer, answer); err != nil {
		v.logger.Error("failed to send answer", "error", err)
		recv.Close()
		return
	}

	stream := media.NewTrackStream(recv, v.cfg.Renderer, playback.TrackInfo{})
	sup := playback.NewSupervisor(playback.Config{
		Stream:       stream,
		Logger:       v.logger,
		MaxRetries:   v.cfg.MaxRetries,
		OnManualPlay: v.cfg.OnManualPlay,
		OnPlaybackError: func(err error) {
			v.logger.Error("playback failed", "error", err)
		},
	})

	v.mu.Lock()
	v.receiver = recv
	v.stream = stream
	v.supervisor = sup
	v.mu.Unlock()

	v.wg.Add(1)
	go v.sampleLoop(recv, stream, sup)

	v.logger.Info("answered offer, waiting for media")
}

// sampleLoop decodes incoming samples and feeds them to the pipeline. The
// supervisor is started once the first decodable frame arrives.
func (v *Viewer) sampleLoop(recv *media.Receiver, stream *media.TrackStream, sup *playback.Supervisor) {
	defer v.wg.Done()

	started := false
	for {
		select {
		case <-v.ctx.Done():
			return
		case sample, ok := <-recv.Samples():
			if !ok {
				return
			}
			frame, ok := v.cfg.Decoder.Decode(sample)
			if !ok {
				continue
			}
			if !started {
				started = true
				stream.MarkReady()
				if err := sup.Start(v.ctx); err != nil {
					v.logger.Error("failed to start playback", "error", err)
				}
			}
			if !v.cfg.Pipeline.EnqueueFrame(frame) {
				v.logger.Debug("frame dropped, queue full", "frame_id", frame.ID)
			}
		}
	}
}

// resultLoop publishes detection results back through the relay so the
// phone can draw overlays.
func (v *Viewer) resultLoop() {
	defer v.wg.Done()

	for {
		select {
		case <-v.ctx.Done():
			return
		case res, ok := <-v.cfg.Pipeline.Results():
			if !ok {
				return
			}
			if err := v.signal.Send(signaling.EventDetectionResults, res); err != nil {
				v.logger.Warn("failed to publish detections", "error", err)
			}
		}
	}
}

// ResumePlayback is the user-gesture entry point: call it when the user
// clicks play after automatic recovery gave up.
func (v *Viewer) ResumePlayback(ctx context.Context) error {
	v.mu.Lock()
	sup := v.supervisor
	v.mu.Unlock()
	if sup == nil {
		return fmt.Errorf("no active session")
	}
	return sup.Resume(ctx)
}

// PlaybackState reports the supervisor's current state, or StateIdle when
// no session is active.
func (v *Viewer) PlaybackState() playback.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.supervisor == nil {
		return playback.StateIdle
	}
	return v.supervisor.State()
}

func (v *Viewer) teardownSession() {
	v.mu.Lock()
	sup := v.supervisor
	recv := v.receiver
	v.supervisor = nil
	v.stream = nil
	v.receiver = nil
	v.mu.Unlock()

	if sup != nil {
		sup.Stop()
	}
	if recv != nil {
		recv.Close()
	}
}

// Stop tears down the active session, the pipeline, and the relay
// connection.
func (v *Viewer) Stop() error {
	if v.cancel != nil {
		v.cancel()
	}
	v.teardownSession()
	if v.signal != nil {
		v.signal.Close()
	}
	v.wg.Wait()
	return v.cfg.Pipeline.Close()
}
