package client

import (
	"errors"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/peerlink"

	"go.uber.org/zap"
)

var (
	ErrPresentingNotAllowed = errors.New("presenting is not allowed on this device")
	ErrNotJoined            = errors.New("not joined to a room")
	ErrConnectionClosed     = errors.New("signaling connection closed")
)

type Status string

const (
	StatusJoined       Status = "joined"
	StatusPresenting   Status = "presenting"
	StatusRequesting   Status = "requesting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
	StatusTimeout      Status = "timeout"
	StatusStopped      Status = "stopped"
)

// StatusUpdate is what the user sees. Peer is the other end of the link
// the update is about, empty for session-wide updates.
type StatusUpdate struct {
	Status  Status
	Peer    domain.UserID
	Message string
	Err     error
}

type StatusFunc func(StatusUpdate)

// Connection is the client's signaling socket.
type Connection interface {
	peerlink.Signaler
	Incoming() <-chan domain.Message
}

type Options struct {
	RoomCode domain.RoomCode
	UserID   domain.UserID
	UserName string
	IsMobile bool
	// AllowPresenting gates StartPresenting on this device. The server
	// does not enforce it.
	AllowPresenting bool
	// DirectOnMobile lets links to or from mobile viewers start in direct
	// mode. By default they are relay-only from the first offer.
	DirectOnMobile     bool
	RequestViewTimeout time.Duration
	MaxICERestarts     int

	Factory  peerlink.TransportFactory
	OnStatus StatusFunc
	Logger   *zap.SugaredLogger
}

func (o *Options) setDefaults() {
	if o.RequestViewTimeout <= 0 {
		o.RequestViewTimeout = 20 * time.Second
	}
	if o.MaxICERestarts < 0 {
		o.MaxICERestarts = 0
	}
	if o.UserName == "" {
		o.UserName = string(o.UserID)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
}
