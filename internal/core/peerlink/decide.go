package peerlink

import "github.com/pion/webrtc/v3"

// Action is what a link does in response to a transport state change.
type Action int

const (
	ActionNone Action = iota
	ActionChecking
	ActionConnected
	ActionDisconnected
	ActionRestartICE
	ActionRelayRetry
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionChecking:
		return "checking"
	case ActionConnected:
		return "connected"
	case ActionDisconnected:
		return "disconnected"
	case ActionRestartICE:
		return "restart_ice"
	case ActionRelayRetry:
		return "relay_retry"
	case ActionFail:
		return "fail"
	default:
		return "none"
	}
}

// SignalKind tells Decide which of the two transport signals changed.
type SignalKind int

const (
	SignalConnection SignalKind = iota
	SignalICE
)

// Budget is the recovery allowance left on a link.
type Budget struct {
	Retried         bool
	ICERestarts     int
	MaxICERestarts  int
	RestartInFlight bool
}

type health int

const (
	healthOK health = iota
	healthPending
	healthDown
	healthFailed
	healthClosed
)

func connHealth(s webrtc.PeerConnectionState) health {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return healthOK
	case webrtc.PeerConnectionStateDisconnected:
		return healthDown
	case webrtc.PeerConnectionStateFailed:
		return healthFailed
	case webrtc.PeerConnectionStateClosed:
		return healthClosed
	default:
		return healthPending
	}
}

func iceHealth(s webrtc.ICEConnectionState) health {
	switch s {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return healthOK
	case webrtc.ICEConnectionStateDisconnected:
		return healthDown
	case webrtc.ICEConnectionStateFailed:
		return healthFailed
	case webrtc.ICEConnectionStateClosed:
		return healthClosed
	default:
		return healthPending
	}
}

// Decide maps the latest connectivity and ICE states to an action. The
// visible health is the more severe of the two signals. Only the
// presenter restarts ICE since only the offerer can; the viewer asks for
// the forced-relay retry instead.
func Decide(role Role, changed SignalKind, conn webrtc.PeerConnectionState, ice webrtc.ICEConnectionState, b Budget) Action {
	switch changed {
	case SignalICE:
		if ice == webrtc.ICEConnectionStateFailed {
			if role == RoleViewer {
				return ActionDisconnected
			}
			if !b.RestartInFlight && b.ICERestarts < b.MaxICERestarts {
				return ActionRestartICE
			}
			return escalate(b)
		}
	case SignalConnection:
		if conn == webrtc.PeerConnectionStateFailed {
			if role == RolePresenter && b.RestartInFlight {
				return ActionNone
			}
			return escalate(b)
		}
	}

	h := connHealth(conn)
	if ih := iceHealth(ice); ih > h {
		h = ih
	}
	switch h {
	case healthOK:
		return ActionConnected
	case healthPending:
		return ActionChecking
	case healthDown:
		return ActionDisconnected
	default:
		return ActionNone
	}
}

func escalate(b Budget) Action {
	if b.Retried {
		return ActionFail
	}
	return ActionRelayRetry
}
