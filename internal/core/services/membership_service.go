package services

import (
	"context"
	"fmt"
	"strings"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
	"studyroom/pkg/cache"
	"studyroom/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// MembershipService answers IsRoomMember from a short-lived cache in front
// of the membership authority. Lookups fail closed while the breaker is
// open.
type MembershipService struct {
	authority ports.MembershipChecker
	cache     *cache.Cache[string, bool]
	breaker   *circuitbreaker.CircuitBreaker
	logger    *zap.SugaredLogger
}

func NewMembershipService(
	authority ports.MembershipChecker,
	c *cache.Cache[string, bool],
	breaker *circuitbreaker.CircuitBreaker,
	logger *zap.SugaredLogger,
) *MembershipService {
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("Membership authority breaker changed state", "from", from.String(), "to", to.String())
	})
	return &MembershipService{
		authority: authority,
		cache:     c,
		breaker:   breaker,
		logger:    logger,
	}
}

func membershipKey(code domain.RoomCode, userID domain.UserID) string {
	return string(code) + "|" + string(userID)
}

func (m *MembershipService) IsRoomMember(ctx context.Context, code domain.RoomCode, userID domain.UserID) (bool, error) {
	return m.cache.GetOrLoad(ctx, membershipKey(code, userID), func(ctx context.Context) (bool, error) {
		ok, err := circuitbreaker.Do(ctx, m.breaker, func(ctx context.Context) (bool, error) {
			return m.authority.IsRoomMember(ctx, code, userID)
		})
		if err != nil {
			return false, fmt.Errorf("membership authority: %w", err)
		}
		return ok, nil
	})
}

// Invalidate forgets a cached answer. An empty userID clears the room.
func (m *MembershipService) Invalidate(code domain.RoomCode, userID domain.UserID) {
	if userID != "" {
		m.cache.Delete(membershipKey(code, userID))
		return
	}
	prefix := string(code) + "|"
	m.cache.DeleteFunc(func(k string) bool { return strings.HasPrefix(k, prefix) })
}

func (m *MembershipService) Close() {
	m.cache.Stop()
}
