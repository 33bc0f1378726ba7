package http

import (
	"context"
	"net/http"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
	"studyroom/internal/infrastructure/monitoring"
	apperrors "studyroom/pkg/errors"
	"studyroom/pkg/validation"

	"github.com/gin-gonic/gin"
)

// RoomHandler exposes read-only room snapshots. Mutations only happen over
// the signaling socket.
type RoomHandler struct {
	rooms ports.RoomService
}

func NewRoomHandler(rooms ports.RoomService) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

func (h *RoomHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:code/participants", h.GetParticipants)
		api.GET("/rooms/:code/presentation", h.GetPresentation)
	}
}

func roomCode(c *gin.Context) (domain.RoomCode, bool) {
	code := c.Param("code")
	if err := validation.ValidateRoomCode(code); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return "", false
	}
	return domain.RoomCode(code), true
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	stats := h.rooms.Stats(c.Request.Context())
	if stats == nil {
		stats = []domain.RoomStats{}
	}
	c.JSON(http.StatusOK, gin.H{
		"rooms": stats,
		"total": len(stats),
	})
}

func (h *RoomHandler) GetParticipants(c *gin.Context) {
	code, ok := roomCode(c)
	if !ok {
		return
	}

	participants, err := h.rooms.Participants(c.Request.Context(), code)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"roomCode":     code,
		"participants": participants,
	})
}

func (h *RoomHandler) GetPresentation(c *gin.Context) {
	code, ok := roomCode(c)
	if !ok {
		return
	}

	snap, err := h.rooms.Presentation(c.Request.Context(), code)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// HealthHandler serves liveness and readiness from the health checker.
type HealthHandler struct {
	checker   *monitoring.HealthChecker
	startedAt time.Time
}

func NewHealthHandler(checker *monitoring.HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker, startedAt: time.Now()}
}

func (h *HealthHandler) SetupRoutes(router gin.IRouter) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    monitoring.StatusHealthy,
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startedAt).String(),
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := h.checker.CheckAll(ctx)
	code := http.StatusOK
	if status.Status == monitoring.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
