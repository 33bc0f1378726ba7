package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
	"studyroom/internal/infrastructure/middleware"
	"studyroom/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockRoomService implements the read side of ports.RoomService.
type MockRoomService struct {
	ports.RoomService
	mock.Mock
}

func (m *MockRoomService) Participants(ctx context.Context, code domain.RoomCode) ([]domain.Participant, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Participant), args.Error(1)
}

func (m *MockRoomService) Presentation(ctx context.Context, code domain.RoomCode) (domain.PresentationSnapshot, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(domain.PresentationSnapshot), args.Error(1)
}

func (m *MockRoomService) Stats(ctx context.Context) []domain.RoomStats {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]domain.RoomStats)
}

func setupRouter(rooms ports.RoomService, checker *monitoring.HealthChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop().Sugar()
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	NewRoomHandler(rooms).SetupRoutes(router)
	NewHealthHandler(checker).SetupRoutes(router)
	return router
}

func get(t *testing.T, router *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w, body
}

func TestRoomHandler_GetParticipants(t *testing.T) {
	rooms := new(MockRoomService)
	rooms.On("Participants", mock.Anything, domain.RoomCode("room-1")).Return([]domain.Participant{
		{UserID: "alice", UserName: "Alice", SocketID: "sock_a", JoinedAt: time.Unix(100, 0)},
		{UserID: "bob", UserName: "Bob", SocketID: "sock_b", JoinedAt: time.Unix(200, 0)},
	}, nil)

	w, body := get(t, setupRouter(rooms, monitoring.NewHealthChecker(zap.NewNop().Sugar())), "/api/v1/rooms/room-1/participants")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "room-1", body["roomCode"])
	participants := body["participants"].([]interface{})
	require.Len(t, participants, 2)
	first := participants[0].(map[string]interface{})
	assert.Equal(t, "alice", first["userId"])
	assert.NotContains(t, first, "SocketID", "socket ids stay internal")
	rooms.AssertExpectations(t)
}

func TestRoomHandler_UnknownRoom(t *testing.T) {
	rooms := new(MockRoomService)
	rooms.On("Participants", mock.Anything, domain.RoomCode("room-9")).
		Return(nil, fmt.Errorf("%w: room-9", domain.ErrUnknownRoom))

	w, body := get(t, setupRouter(rooms, monitoring.NewHealthChecker(zap.NewNop().Sugar())), "/api/v1/rooms/room-9/participants")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", body["error"])
}

func TestRoomHandler_InvalidRoomCode(t *testing.T) {
	rooms := new(MockRoomService)

	w, body := get(t, setupRouter(rooms, monitoring.NewHealthChecker(zap.NewNop().Sugar())), "/api/v1/rooms/a!/presentation")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", body["error"])
	rooms.AssertNotCalled(t, "Presentation", mock.Anything, mock.Anything)
}

func TestRoomHandler_GetPresentation(t *testing.T) {
	started := time.Unix(500, 0).UTC()
	rooms := new(MockRoomService)
	rooms.On("Presentation", mock.Anything, domain.RoomCode("room-1")).Return(domain.PresentationSnapshot{
		RoomCode:  "room-1",
		State:     domain.PresentationPresenting,
		Presenter: &domain.UserRef{UserID: "alice", UserName: "Alice"},
		Viewers:   []domain.UserRef{{UserID: "bob", UserName: "Bob"}},
		StartedAt: &started,
	}, nil)

	w, body := get(t, setupRouter(rooms, monitoring.NewHealthChecker(zap.NewNop().Sugar())), "/api/v1/rooms/room-1/presentation")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "presenting", body["state"])
	assert.Equal(t, "alice", body["presenter"].(map[string]interface{})["userId"])
	assert.Len(t, body["viewers"], 1)
}

func TestRoomHandler_ListRooms(t *testing.T) {
	rooms := new(MockRoomService)
	rooms.On("Stats", mock.Anything).Return(nil)

	w, body := get(t, setupRouter(rooms, monitoring.NewHealthChecker(zap.NewNop().Sugar())), "/api/v1/rooms")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), body["total"])
	assert.Equal(t, []interface{}{}, body["rooms"])
}

func TestHealthHandler(t *testing.T) {
	checker := monitoring.NewHealthChecker(zap.NewNop().Sugar())
	router := setupRouter(new(MockRoomService), checker)

	w, body := get(t, router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, monitoring.StatusHealthy, body["status"])

	w, _ = get(t, router, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	checker.AddCheck(monitoring.HealthCheck{
		Name:     "redis",
		Critical: true,
		Check:    func(ctx context.Context) error { return errors.New("connection refused") },
	})
	w, body = get(t, router, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, monitoring.StatusUnhealthy, body["status"])
}
