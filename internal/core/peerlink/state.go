package peerlink

// State is the negotiation and health state of one presenter/viewer link.
type State int

const (
	StateRequested State = iota
	StateOfferSent
	StateAnswered
	StateICEChecking
	StateConnected
	StateDisconnected
	StateReconnecting
	StateFailed
	StateClosed
)

var stateNames = [...]string{
	StateRequested:    "requested",
	StateOfferSent:    "offer_sent",
	StateAnswered:     "answered",
	StateICEChecking:  "ice_checking",
	StateConnected:    "connected",
	StateDisconnected: "disconnected",
	StateReconnecting: "reconnecting",
	StateFailed:       "failed",
	StateClosed:       "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further negotiation may happen.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

type Role int

const (
	RolePresenter Role = iota
	RoleViewer
)

func (r Role) String() string {
	if r == RolePresenter {
		return "presenter"
	}
	return "viewer"
}

// Mode selects which ICE candidates a transport may use.
type Mode string

const (
	ModeDirect Mode = "direct"
	// ModeRelay restricts the transport to TURN relay candidates.
	ModeRelay Mode = "relay"
)
