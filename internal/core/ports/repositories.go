package ports

import (
	"context"

	"studyroom/internal/core/domain"
)

// MembershipChecker is the room-membership authority. It lives outside
// this service; implementations only answer the question.
type MembershipChecker interface {
	IsRoomMember(ctx context.Context, roomCode domain.RoomCode, userID domain.UserID) (bool, error)
}

// EventPublisher announces room lifecycle changes to other services.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.RoomEvent) error
}
