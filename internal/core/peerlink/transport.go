package peerlink

import "github.com/pion/webrtc/v3"

// Transport is the peer-to-peer media connection behind a link. Offer and
// answer creation also install the local description.
type Transport interface {
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
	Close() error
}

type TransportConfig struct {
	Role Role
	Mode Mode
	// Generation is stamped on every event so a link can ignore
	// callbacks from a transport it already replaced.
	Generation uint64
	Sink       func(TransportEvent)
}

type TransportFactory interface {
	NewTransport(cfg TransportConfig) (Transport, error)
}

type EventKind int

const (
	EventLocalCandidate EventKind = iota
	EventConnectionState
	EventICEState
)

type TransportEvent struct {
	Generation uint64
	Kind       EventKind
	Candidate  webrtc.ICECandidateInit
	Conn       webrtc.PeerConnectionState
	ICE        webrtc.ICEConnectionState
}
