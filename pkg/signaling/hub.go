package signaling

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// peer is the hub-side record for one connected socket.
type peer struct {
	id   string
	role Role
	send chan Envelope
}

// Hub is the signaling relay: a broadcast bus with implicit role
// bookkeeping. It tracks which connection currently plays which role and
// forwards the fixed handshake vocabulary to every connection except the
// sender. It is not a matcher: if several phones or laptops are connected
// at once, all non-sender peers receive every relayed message.
//
// Each inbound event is handled to completion under a single mutex, so for
// one connection the role-scoped notifications it causes are delivered to
// other peers in event order.
type Hub struct {
	mu     sync.Mutex
	peers  map[string]*peer
	logger *slog.Logger

	// sendBuffer is the per-connection outbound queue capacity. Sends to a
	// full queue are dropped, never blocked on.
	sendBuffer int
}

// NewHub creates an empty relay hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		peers:      make(map[string]*peer),
		logger:     logger,
		sendBuffer: 256,
	}
}

// Connect registers a new connection with role unknown and returns the
// channel its outbound envelopes will be delivered on. The channel is
// closed by Disconnect.
func (h *Hub) Connect(id string) <-chan Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := &peer{
		id:   id,
		role: RoleUnknown,
		send: make(chan Envelope, h.sendBuffer),
	}
	h.peers[id] = p

	h.logger.Info("device connected", "id", id)
	return p.send
}

// Disconnect removes a connection from the registry. If its last known
// role was phone, the remaining peers are told the camera source is gone.
// Laptop and unknown departures are not announced: only loss of the camera
// needs broadcasting.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.peers[id]
	if !ok {
		return
	}
	delete(h.peers, id)
	close(p.send)

	h.logger.Info("device disconnected", "id", id, "role", p.role)

	if p.role == RolePhone {
		h.broadcastLocked(id, Envelope{Event: EventPhoneDisconnected})
	}
}

// Dispatch routes one inbound event from the given connection. Unknown
// events and malformed payloads are dropped silently: the relay trusts its
// two client implementations and never terminates a connection over a bad
// message.
func (h *Hub) Dispatch(id string, env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.peers[id]
	if !ok {
		return
	}

	switch {
	case env.Event == EventDeviceType:
		h.announceRoleLocked(p, env.Payload)

	case env.Event == EventPhoneReady:
		// The phone re-signals readiness (e.g. after track renegotiation)
		// without re-announcing its role. Tell it a counterpart is ready.
		h.logger.Info("phone ready", "id", id)
		h.sendLocked(p, Envelope{Event: EventLaptopReady})

	case env.Event == EventPhoneStopped:
		// Graceful camera stop without tearing down the socket.
		h.logger.Info("phone stopped", "id", id)
		h.broadcastLocked(id, Envelope{Event: EventPhoneDisconnected})

	case relayedEvents[env.Event]:
		h.broadcastLocked(id, env)

	default:
		h.logger.Debug("dropping unknown event", "id", id, "event", env.Event)
	}
}

// announceRoleLocked records the caller's declared role. A phone
// announcement notifies every other peer, and also tells the phone itself
// that a counterpart is ready, since a laptop may already be waiting.
func (h *Hub) announceRoleLocked(p *peer, payload json.RawMessage) {
	var declared string
	if err := json.Unmarshal(payload, &declared); err != nil {
		h.logger.Debug("malformed device-type payload", "id", p.id)
		return
	}

	p.role = ParseRole(declared)
	h.logger.Info("device type announced", "id", p.id, "role", p.role)

	if p.role == RolePhone {
		h.broadcastLocked(p.id, Envelope{Event: EventPhoneConnected})
		h.sendLocked(p, Envelope{Event: EventLaptopReady})
	}
}

// broadcastLocked forwards env to every peer except the sender.
// Fire-and-forget: a peer with a full send queue misses the message.
func (h *Hub) broadcastLocked(senderID string, env Envelope) {
	for id, p := range h.peers {
		if id == senderID {
			continue
		}
		h.sendLocked(p, env)
	}
}

func (h *Hub) sendLocked(p *peer, env Envelope) {
	select {
	case p.send <- env:
	default:
		h.logger.Warn("send queue full, dropping event", "id", p.id, "event", env.Event)
	}
}

// PeerCount returns the number of registered connections.
func (h *Hub) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// RoleCount returns how many connections currently hold the given role.
func (h *Hub) RoleCount(role Role) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := 0
	for _, p := range h.peers {
		if p.role == role {
			count++
		}
	}
	return count
}
