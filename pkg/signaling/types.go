package signaling

import "encoding/json"

// Role is the declared function of a connected peer. Connections start as
// RoleUnknown and stay that way until the client announces itself via a
// "device-type" event. Re-announcing overwrites the previous role.
type Role string

const (
	RoleUnknown Role = "unknown"
	RolePhone   Role = "phone"
	RoleLaptop  Role = "laptop"
)

// Client-emitted event names.
const (
	EventDeviceType       = "device-type"
	EventOffer            = "offer"
	EventAnswer           = "answer"
	EventICECandidate     = "ice-candidate"
	EventDetectionResults = "detection-results"
	EventRequestTrack     = "request-track"
	EventTrackReady       = "track-ready"
	EventPhoneReady       = "phone-ready"
	EventPhoneStopped     = "phone-stopped"
)

// Server-emitted event names.
const (
	EventPhoneConnected    = "phone-connected"
	EventPhoneDisconnected = "phone-disconnected"
	EventLaptopReady       = "laptop-ready"
)

// relayedEvents is the fixed vocabulary forwarded opaquely to every
// connection except the sender. The hub never inspects the payloads.
var relayedEvents = map[string]bool{
	EventOffer:            true,
	EventAnswer:           true,
	EventICECandidate:     true,
	EventDetectionResults: true,
	EventRequestTrack:     true,
	EventTrackReady:       true,
}

// Envelope is the wire format for every signaling message: an event name
// plus an opaque JSON payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseRole maps a device-type payload value to a Role.
func ParseRole(s string) Role {
	switch s {
	case "phone":
		return RolePhone
	case "laptop":
		return RoleLaptop
	default:
		return RoleUnknown
	}
}
