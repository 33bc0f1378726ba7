package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/pkg/cache"
	"studyroom/pkg/circuitbreaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMembershipService(authority *MockMembership, threshold int) *MembershipService {
	return NewMembershipService(
		authority,
		cache.New[string, bool](time.Minute),
		circuitbreaker.New(circuitbreaker.Config{FailureThreshold: threshold, OpenTimeout: time.Hour}),
		zap.NewNop().Sugar(),
	)
}

func TestMembershipService_CachesAnswers(t *testing.T) {
	authority := &MockMembership{}
	authority.On("IsRoomMember", mock.Anything, domain.RoomCode("ROOM1"), domain.UserID("alice")).Return(true, nil).Once()
	authority.On("IsRoomMember", mock.Anything, domain.RoomCode("ROOM1"), domain.UserID("mallory")).Return(false, nil).Once()

	m := newMembershipService(authority, 3)
	defer m.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.IsRoomMember(ctx, "ROOM1", "alice")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = m.IsRoomMember(ctx, "ROOM1", "mallory")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	authority.AssertExpectations(t)
}

func TestMembershipService_Invalidate(t *testing.T) {
	authority := &MockMembership{}
	authority.On("IsRoomMember", mock.Anything, domain.RoomCode("ROOM1"), domain.UserID("alice")).Return(true, nil).Once()
	authority.On("IsRoomMember", mock.Anything, domain.RoomCode("ROOM1"), domain.UserID("alice")).Return(false, nil).Once()
	authority.On("IsRoomMember", mock.Anything, domain.RoomCode("ROOM1"), domain.UserID("bob")).Return(true, nil).Twice()

	m := newMembershipService(authority, 3)
	defer m.Close()
	ctx := context.Background()

	ok, _ := m.IsRoomMember(ctx, "ROOM1", "alice")
	assert.True(t, ok)
	m.Invalidate("ROOM1", "alice")
	ok, _ = m.IsRoomMember(ctx, "ROOM1", "alice")
	assert.False(t, ok)

	_, _ = m.IsRoomMember(ctx, "ROOM1", "bob")
	m.Invalidate("ROOM1", "")
	_, _ = m.IsRoomMember(ctx, "ROOM1", "bob")

	authority.AssertExpectations(t)
}

func TestMembershipService_BreakerFailsClosed(t *testing.T) {
	authority := &MockMembership{}
	authority.On("IsRoomMember", mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("dial tcp: refused")).Twice()

	m := newMembershipService(authority, 2)
	defer m.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := m.IsRoomMember(ctx, "ROOM1", "alice")
		require.Error(t, err)
	}

	_, err := m.IsRoomMember(ctx, "ROOM1", "alice")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	authority.AssertExpectations(t)
}
