package memory

import (
	"context"
	"sync"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
)

type openMembership struct{}

// NewOpenMembership admits every user to every room. It is meant for
// local development where no membership authority is reachable.
func NewOpenMembership() ports.MembershipChecker {
	return openMembership{}
}

func (openMembership) IsRoomMember(ctx context.Context, code domain.RoomCode, userID domain.UserID) (bool, error) {
	return true, nil
}

// StaticMembership is a fixed roster, loaded from config, that can be
// edited at runtime.
type StaticMembership struct {
	mu    sync.RWMutex
	rooms map[domain.RoomCode]map[domain.UserID]struct{}
}

func NewStaticMembership(roster map[string][]string) *StaticMembership {
	m := &StaticMembership{rooms: make(map[domain.RoomCode]map[domain.UserID]struct{})}
	for code, users := range roster {
		for _, u := range users {
			m.Grant(domain.RoomCode(code), domain.UserID(u))
		}
	}
	return m
}

func (m *StaticMembership) IsRoomMember(ctx context.Context, code domain.RoomCode, userID domain.UserID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[code][userID]
	return ok, nil
}

func (m *StaticMembership) Grant(code domain.RoomCode, userID domain.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := m.rooms[code]
	if users == nil {
		users = make(map[domain.UserID]struct{})
		m.rooms[code] = users
	}
	users[userID] = struct{}{}
}

// Revoke reports whether userID was a member.
func (m *StaticMembership) Revoke(code domain.RoomCode, userID domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := m.rooms[code]
	if _, ok := users[userID]; !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(m.rooms, code)
	}
	return true
}
