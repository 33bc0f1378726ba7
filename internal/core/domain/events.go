package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Socket event names. The "screenshare:" prefix is part of the wire
// contract shared with browser clients.
const (
	EventJoinChannel  = "join"
	EventLeaveChannel = "leave"

	EventJoin             = "screenshare:join"
	EventLeave            = "screenshare:leave"
	EventStartPresenting  = "screenshare:start-presenting"
	EventStopPresenting   = "screenshare:stop-presenting"
	EventPresenterStarted = "screenshare:presenter-started"
	EventPresenterStopped = "screenshare:presenter-stopped"
	EventViewersUpdate    = "screenshare:viewers-update"
	EventParticipants     = "screenshare:participants"
	EventRequestView      = "screenshare:request-view"
	EventOffer            = "screenshare:offer"
	EventAnswer           = "screenshare:answer"
	EventICECandidate     = "screenshare:ice-candidate"
	EventICERestart       = "screenshare:ice-restart"
	EventRetryWithRelay   = "screenshare:retry-with-relay"
	EventConnectionError  = "screenshare:connection-error"
	EventError            = "screenshare:error"
)

const eventPrefix = "screenshare:"

// Message is one frame on the signaling socket.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewMessage marshals payload into a frame.
func NewMessage(event string, payload interface{}) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Message{Event: event, Data: data}, nil
}

// MustMessage is NewMessage for payload types that always marshal.
func MustMessage(event string, payload interface{}) Message {
	msg, err := NewMessage(event, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the frame data into v.
func (m Message) Decode(v interface{}) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrMalformedEnvelope, m.Event)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, m.Event, err)
	}
	return nil
}

type ChannelPayload struct {
	RoomCode RoomCode `json:"roomCode"`
}

type JoinPayload struct {
	RoomCode RoomCode `json:"roomCode"`
	UserID   UserID   `json:"userId"`
	UserName string   `json:"userName"`
}

type LeavePayload struct {
	RoomCode RoomCode `json:"roomCode"`
	UserID   UserID   `json:"userId"`
}

type StartPresentingPayload struct {
	RoomCode RoomCode `json:"roomCode"`
	UserID   UserID   `json:"userId"`
	UserName string   `json:"userName"`
}

type StopPresentingPayload struct {
	RoomCode RoomCode `json:"roomCode"`
	UserID   UserID   `json:"userId"`
}

type PresenterStartedPayload struct {
	UserID   UserID `json:"userId"`
	UserName string `json:"userName"`
}

type PresenterStoppedPayload struct {
	UserID UserID `json:"userId"`
}

type ViewersUpdatePayload struct {
	Viewers []UserRef `json:"viewers"`
}

type ParticipantsPayload struct {
	Participants []UserRef `json:"participants"`
}

type RequestViewPayload struct {
	RoomCode RoomCode `json:"roomCode"`
	UserID   UserID   `json:"userId"`
	UserName string   `json:"userName"`
	IsMobile bool     `json:"isMobile"`
}

type RetryWithRelayPayload struct {
	RoomCode RoomCode `json:"roomCode"`
	UserID   UserID   `json:"userId"`
	UserName string   `json:"userName"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EnvelopeType is the relayed subset of socket events, without prefix.
type EnvelopeType string

const (
	EnvelopeOffer           EnvelopeType = "offer"
	EnvelopeAnswer          EnvelopeType = "answer"
	EnvelopeICECandidate    EnvelopeType = "ice-candidate"
	EnvelopeICERestart      EnvelopeType = "ice-restart"
	EnvelopeConnectionError EnvelopeType = "connection-error"
	EnvelopeRequestView     EnvelopeType = "request-view"
	EnvelopeRetryWithRelay  EnvelopeType = "retry-with-relay"
)

var relayTypes = map[EnvelopeType]struct{}{
	EnvelopeOffer:           {},
	EnvelopeAnswer:          {},
	EnvelopeICECandidate:    {},
	EnvelopeICERestart:      {},
	EnvelopeConnectionError: {},
	EnvelopeRequestView:     {},
	EnvelopeRetryWithRelay:  {},
}

// IsRelayType reports whether t is a type the relay forwards.
func IsRelayType(t EnvelopeType) bool {
	_, ok := relayTypes[t]
	return ok
}

// Event returns the socket event name carrying this envelope type.
func (t EnvelopeType) Event() string {
	return eventPrefix + string(t)
}

// Envelope holds the routing fields of a relayed message. Payload is the
// original frame data, forwarded unmodified.
type Envelope struct {
	Type       EnvelopeType
	RoomCode   RoomCode
	FromUserID UserID
	ToUserID   UserID
	Payload    json.RawMessage
}

type routingFields struct {
	RoomCode   RoomCode `json:"roomCode"`
	FromUserID UserID   `json:"fromUserId"`
	UserID     UserID   `json:"userId"`
	ToUserID   UserID   `json:"toUserId"`
}

// ParseEnvelope extracts routing fields from a relayable frame. Senders
// that identify themselves with userId instead of fromUserId
// (request-view, retry-with-relay) are accepted.
func ParseEnvelope(msg Message) (Envelope, error) {
	if !strings.HasPrefix(msg.Event, eventPrefix) {
		return Envelope{}, fmt.Errorf("%w: unknown event %q", ErrMalformedEnvelope, msg.Event)
	}
	t := EnvelopeType(strings.TrimPrefix(msg.Event, eventPrefix))
	if !IsRelayType(t) {
		return Envelope{}, fmt.Errorf("%w: %q is not relayable", ErrMalformedEnvelope, msg.Event)
	}

	var rf routingFields
	if err := msg.Decode(&rf); err != nil {
		return Envelope{}, err
	}
	if rf.RoomCode == "" {
		return Envelope{}, fmt.Errorf("%w: %s without roomCode", ErrMalformedEnvelope, msg.Event)
	}
	from := rf.FromUserID
	if from == "" {
		from = rf.UserID
	}
	return Envelope{
		Type:       t,
		RoomCode:   rf.RoomCode,
		FromUserID: from,
		ToUserID:   rf.ToUserID,
		Payload:    msg.Data,
	}, nil
}

// Message rebuilds the frame to deliver.
func (e Envelope) Message() Message {
	return Message{Event: e.Type.Event(), Data: e.Payload}
}

// RoomEventType names lifecycle events published for other services.
type RoomEventType string

const (
	RoomEventParticipantJoined   RoomEventType = "participant.joined"
	RoomEventParticipantLeft     RoomEventType = "participant.left"
	RoomEventPresentationStarted RoomEventType = "presentation.started"
	RoomEventPresentationStopped RoomEventType = "presentation.stopped"
	RoomEventMembershipRevoked   RoomEventType = "membership.revoked"
)

type RoomEvent struct {
	Type     RoomEventType `json:"type"`
	RoomCode RoomCode      `json:"roomCode"`
	UserID   UserID        `json:"userId"`
	UserName string        `json:"userName,omitempty"`
	At       time.Time     `json:"at"`
}
