package redis

import (
	"context"
	"fmt"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// Membership reads the roster the study-room platform keeps in Redis:
// one set of user ids per room, under prefix+roomCode.
type Membership struct {
	client *redis.Client
	prefix string
}

func NewMembership(client *redis.Client, prefix string) *Membership {
	return &Membership{client: client, prefix: prefix}
}

var _ ports.MembershipChecker = (*Membership)(nil)

func (m *Membership) Key(code domain.RoomCode) string {
	return m.prefix + string(code)
}

func (m *Membership) IsRoomMember(ctx context.Context, code domain.RoomCode, userID domain.UserID) (bool, error) {
	ok, err := m.client.SIsMember(ctx, m.Key(code), string(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("sismember %s: %w", m.Key(code), err)
	}
	return ok, nil
}
