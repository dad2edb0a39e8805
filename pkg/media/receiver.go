package media

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Sample is one encoded media payload lifted out of an RTP packet.
type Sample struct {
	Data      []byte
	Timestamp uint32
	Sequence  uint16
	Keyframe  bool
}

// ReceiverConfig holds receiver configuration.
type ReceiverConfig struct {
	STUN           []string
	Logger         *slog.Logger
	OnICECandidate func(candidate json.RawMessage)
}

// Receiver owns the laptop-side peer connection: it answers the phone's
// offer, trickles ICE candidates out through a callback, and delivers the
// incoming video track's payloads on a bounded channel. A slow consumer
// loses samples rather than backing up the RTP read loop.
type Receiver struct {
	pc      *webrtc.PeerConnection
	logger  *slog.Logger
	samples chan Sample
	onICE   func(json.RawMessage)

	mu         sync.Mutex
	trackInfo  *TrackInfo
	active     atomic.Bool
	lastPacket atomic.Int64

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// TrackInfo carries the incoming track's negotiated settings.
type TrackInfo struct {
	Codec     string
	ClockRate uint32
}

// NewReceiver creates a peer connection ready to answer an offer.
func NewReceiver(cfg ReceiverConfig) (*Receiver, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rtcConfig := webrtc.Configuration{}
	for _, url := range cfg.STUN {
		rtcConfig.ICEServers = append(rtcConfig.ICEServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	se := webrtc.SettingEngine{}
	se.SetReceiveMTU(16384)
	se.SetSRTPReplayProtectionWindow(1024)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	pc, err := api.NewPeerConnection(rtcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	r := &Receiver{
		pc:      pc,
		logger:  cfg.Logger,
		samples: make(chan Sample, 30),
		onICE:   cfg.OnICECandidate,
		closeCh: make(chan struct{}),
	}

	pc.OnTrack(func(remoteTrack *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		r.onTrack(remoteTrack)
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil || r.onICE == nil {
			return
		}
		data, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			r.logger.Error("failed to marshal ICE candidate", "error", err)
			return
		}
		r.onICE(data)
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		r.logger.Info("ICE connection state changed", "state", state.String())
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.logger.Info("peer connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			r.active.Store(false)
		}
	})

	return r, nil
}

// HandleOffer answers the phone's SDP offer.
func (r *Receiver) HandleOffer(offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}

	if err := r.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := r.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}

	if err := r.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	return answer.SDP, nil
}

// AddICECandidate feeds a relayed candidate into the peer connection.
func (r *Receiver) AddICECandidate(raw json.RawMessage) error {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &c); err != nil {
		return fmt.Errorf("failed to parse ICE candidate: %w", err)
	}
	return r.pc.AddICECandidate(c)
}

// onTrack starts the RTP read loop for the incoming video track. Audio and
// anything else is ignored.
func (r *Receiver) onTrack(remoteTrack *webrtc.TrackRemote) {
	codec := remoteTrack.Codec()
	r.logger.Info("track received",
		"codec", codec.MimeType,
		"clockRate", codec.ClockRate,
		"kind", remoteTrack.Kind().String())

	if remoteTrack.Kind() != webrtc.RTPCodecTypeVideo {
		r.logger.Debug("ignoring non-video track", "codec", codec.MimeType)
		return
	}

	r.mu.Lock()
	r.trackInfo = &TrackInfo{
		Codec:     codec.MimeType,
		ClockRate: codec.ClockRate,
	}
	r.mu.Unlock()
	r.active.Store(true)

	r.wg.Add(1)
	go r.readLoop(remoteTrack)
}

// readLoop pulls RTP packets off the track and fans their payloads into
// the samples channel.
func (r *Receiver) readLoop(track *webrtc.TrackRemote) {
	defer r.wg.Done()
	defer r.active.Store(false)

	for {
		select {
		case <-r.closeCh:
			return
		default:
		}

		packet, _, err := track.ReadRTP()
		if err != nil {
			if !r.isClosed() {
				r.logger.Error("failed to read RTP", "error", err)
			}
			return
		}

		if len(packet.Payload) == 0 {
			continue
		}

		r.lastPacket.Store(time.Now().UnixMilli())

		select {
		case r.samples <- sampleFrom(packet):
		case <-r.closeCh:
			return
		default:
			// Drop when the consumer lags.
		}
	}
}

// sampleFrom copies the packet payload out so the sample outlives the
// packet buffer.
func sampleFrom(packet *rtp.Packet) Sample {
	data := make([]byte, len(packet.Payload))
	copy(data, packet.Payload)
	return Sample{
		Data:      data,
		Timestamp: packet.Timestamp,
		Sequence:  packet.SequenceNumber,
		Keyframe:  packet.Marker,
	}
}

func (r *Receiver) isClosed() bool {
	select {
	case <-r.closeCh:
		return true
	default:
		return false
	}
}

// Samples returns the channel of incoming media samples. The channel is
// closed by Close.
func (r *Receiver) Samples() <-chan Sample {
	return r.samples
}

// Active reports whether a live track is being read.
func (r *Receiver) Active() bool {
	return r.active.Load()
}

// LastPacketTime returns the unix-millisecond time of the latest RTP
// packet, zero before the first one.
func (r *Receiver) LastPacketTime() int64 {
	return r.lastPacket.Load()
}

// Track returns the negotiated settings of the incoming track, nil before
// one arrives.
func (r *Receiver) Track() *TrackInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trackInfo
}

// Close tears down the read loop and the peer connection, then closes the
// samples channel so consumers ranging over it unblock. Safe to call more
// than once.
func (r *Receiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closeCh)
		r.active.Store(false)
		err = r.pc.Close()
		r.wg.Wait()
		close(r.samples)
	})
	return err
}
