package peerlink

import (
	"context"

	"studyroom/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// Signaler sends one event to the signaling server.
type Signaler interface {
	Send(ctx context.Context, event string, payload interface{}) error
}

type DescriptionPayload struct {
	RoomCode   domain.RoomCode           `json:"roomCode"`
	SDP        webrtc.SessionDescription `json:"sdp"`
	FromUserID domain.UserID             `json:"fromUserId"`
	ToUserID   domain.UserID             `json:"toUserId"`
}

type CandidatePayload struct {
	RoomCode   domain.RoomCode         `json:"roomCode"`
	Candidate  webrtc.ICECandidateInit `json:"candidate"`
	FromUserID domain.UserID           `json:"fromUserId"`
	ToUserID   domain.UserID           `json:"toUserId"`
}

type ConnectionErrorPayload struct {
	RoomCode   domain.RoomCode `json:"roomCode"`
	FromUserID domain.UserID   `json:"fromUserId,omitempty"`
	ToUserID   domain.UserID   `json:"toUserId"`
	Error      string          `json:"error"`
}
