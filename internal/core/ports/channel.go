package ports

import (
	"studyroom/internal/core/domain"
)

// RoomChannel is the room-scoped publish/subscribe fabric over live
// sockets. Sends never block; they report whether the frame was queued.
type RoomChannel interface {
	Subscribe(roomCode domain.RoomCode, socketID domain.SocketID)
	Unsubscribe(roomCode domain.RoomCode, socketID domain.SocketID)
	SendToSocket(socketID domain.SocketID, msg domain.Message) bool
	Broadcast(roomCode domain.RoomCode, msg domain.Message, except domain.SocketID) int
}
