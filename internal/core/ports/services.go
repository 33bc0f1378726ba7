package ports

import (
	"context"
	"encoding/json"

	"studyroom/internal/core/domain"
)

// RoomService owns presence and presentation state. Every mutation of a
// room is serialized; different rooms proceed independently.
type RoomService interface {
	Subscribe(ctx context.Context, socketID domain.SocketID, userHint domain.UserID, roomCode domain.RoomCode) error
	Join(ctx context.Context, socketID domain.SocketID, p domain.JoinPayload) error
	Leave(ctx context.Context, socketID domain.SocketID, p domain.LeavePayload) error
	Disconnect(ctx context.Context, socketID domain.SocketID)
	Evict(ctx context.Context, roomCode domain.RoomCode, userID domain.UserID) error

	StartPresenting(ctx context.Context, socketID domain.SocketID, p domain.StartPresentingPayload) error
	StopPresenting(ctx context.Context, socketID domain.SocketID, p domain.StopPresentingPayload) error
	RequestView(ctx context.Context, socketID domain.SocketID, p domain.RequestViewPayload, raw json.RawMessage) error

	// Route resolves where a relayed envelope from socketID goes.
	Route(ctx context.Context, socketID domain.SocketID, env domain.Envelope) (Route, error)

	Participants(ctx context.Context, roomCode domain.RoomCode) ([]domain.Participant, error)
	Presentation(ctx context.Context, roomCode domain.RoomCode) (domain.PresentationSnapshot, error)
	Stats(ctx context.Context) []domain.RoomStats
}

// Route is the delivery decision for one envelope. A zero Target with
// Broadcast false means the recipient is gone and the envelope is dropped.
type Route struct {
	Sender    domain.UserID
	Target    domain.SocketID
	Broadcast bool
}

// Relay forwards peer negotiation envelopes between participants.
type Relay interface {
	Relay(ctx context.Context, from domain.SocketID, env domain.Envelope) error
}
