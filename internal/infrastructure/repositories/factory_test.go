package repositories

import (
	"context"
	"testing"

	"studyroom/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newFactory(t *testing.T, backend string) *RepositoryFactory {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Membership.Backend = backend
	cfg.Membership.Static = map[string][]string{"room-1": {"alice"}}
	f, err := NewRepositoryFactory(context.Background(), cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	return f
}

func TestCreateMembership(t *testing.T) {
	ctx := context.Background()

	open, err := newFactory(t, "open").CreateMembership()
	require.NoError(t, err)
	ok, _ := open.IsRoomMember(ctx, "room-9", "anyone")
	assert.True(t, ok)

	static, err := newFactory(t, "static").CreateMembership()
	require.NoError(t, err)
	ok, _ = static.IsRoomMember(ctx, "room-1", "alice")
	assert.True(t, ok)
	ok, _ = static.IsRoomMember(ctx, "room-1", "bob")
	assert.False(t, ok)

	_, err = newFactory(t, "redis").CreateMembership()
	assert.Error(t, err, "redis membership without a connection")

	_, err = newFactory(t, "ldap").CreateMembership()
	assert.Error(t, err)
}

func TestFactoryWithoutRedis(t *testing.T) {
	f := newFactory(t, "open")
	assert.Nil(t, f.RedisClient())
	assert.NoError(t, f.HealthCheck(context.Background()))
	assert.NoError(t, f.Close())
}
