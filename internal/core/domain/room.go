package domain

import "time"

type RoomCode string

type UserID string

// SocketID identifies one live signaling connection.
type SocketID string

type Participant struct {
	UserID   UserID    `json:"userId"`
	UserName string    `json:"userName"`
	SocketID SocketID  `json:"-"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Ref is the {userId,userName} pair used in broadcast payloads.
func (p Participant) Ref() UserRef {
	return UserRef{UserID: p.UserID, UserName: p.UserName}
}

type UserRef struct {
	UserID   UserID `json:"userId"`
	UserName string `json:"userName"`
}

// RoomStats is a point-in-time view of one room, used by metrics and the
// HTTP API.
type RoomStats struct {
	RoomCode     RoomCode `json:"roomCode"`
	Participants int      `json:"participants"`
	Presenting   bool     `json:"presenting"`
	Viewers      int      `json:"viewers"`
}
