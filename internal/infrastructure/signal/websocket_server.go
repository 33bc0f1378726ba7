package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
	"studyroom/pkg/config"
	apperrors "studyroom/pkg/errors"
	"studyroom/pkg/ratelimit"
	"studyroom/pkg/tracing"
	"studyroom/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Event outcomes reported to metrics.
const (
	eventOK          = "ok"
	eventRejected    = "rejected"
	eventMalformed   = "malformed"
	eventRateLimited = "rate_limited"
)

type Config struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBufferSize int
	MaxMessageSize int64
	AllowedOrigins []string

	// Zero disables the corresponding limit.
	ConnectionsPerMinute int
	MessagesPerSecond    float64
	MessageBurst         int
}

func ConfigFrom(cfg *config.Config) Config {
	c := Config{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		SendBufferSize: cfg.Signal.SendBufferSize,
		MaxMessageSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		AllowedOrigins: cfg.Signal.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		c.ConnectionsPerMinute = cfg.RateLimiting.WebSocket.ConnectionsPerMinute
		c.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		c.MessageBurst = cfg.RateLimiting.WebSocket.Burst
	}
	return c
}

func (c *Config) setDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= c.PingInterval {
		c.PongTimeout = 2 * c.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 256
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
}

type WebSocketServer struct {
	rooms ports.RoomService
	relay ports.Relay
	hub   *Hub

	cfg         Config
	upgrader    websocket.Upgrader
	connLimiter *ratelimit.Store

	metrics Metrics
	logger  *zap.SugaredLogger
}

func NewWebSocketServer(rooms ports.RoomService, relay ports.Relay, hub *Hub, cfg Config, metrics Metrics, logger *zap.SugaredLogger) *WebSocketServer {
	cfg.setDefaults()
	if metrics == nil {
		metrics = nopMetrics{}
	}
	s := &WebSocketServer{
		rooms:   rooms,
		relay:   relay,
		hub:     hub,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	if cfg.ConnectionsPerMinute > 0 {
		s.connLimiter = ratelimit.NewStore(ratelimit.PerMinute(cfg.ConnectionsPerMinute), cfg.ConnectionsPerMinute)
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	s.logger.Warnw("Rejected websocket origin", "origin", origin)
	return false
}

// HandleWebSocket upgrades the request and serves the socket until it
// closes. The optional userId query parameter is only a hint used to
// check membership on a channel subscription.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := ratelimit.ClientIP(r)
	if s.connLimiter != nil && !s.connLimiter.Allow(ip) {
		s.logger.Warnw("Websocket connection rate limited", "remote_addr", ip)
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("Websocket upgrade failed", "remote_addr", ip, "error", err)
		return
	}

	sock := NewSocket(domain.SocketID(utils.NewSocketID()), domain.UserID(r.URL.Query().Get("userId")), ip, s.cfg.SendBufferSize)
	logger := s.logger.With("socket_id", sock.ID, "remote_addr", ip)
	s.hub.Register(sock)
	logger.Infow("Socket connected", "user_hint", sock.UserHint)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writePump(conn, sock, logger)
	}()

	s.readPump(conn, sock, logger)

	s.rooms.Disconnect(context.Background(), sock.ID)
	s.hub.Unregister(sock.ID)
	<-done
	logger.Infow("Socket disconnected")
}

// readPump handles inbound frames one at a time, in arrival order.
func (s *WebSocketServer) readPump(conn *websocket.Conn, sock *Socket, logger *zap.SugaredLogger) {
	defer conn.Close()

	conn.SetReadLimit(s.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	var limiter *rate.Limiter
	if s.cfg.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.MessageBurst)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Infow("Socket read failed", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Event == "" {
			s.metrics.RecordEvent("", eventMalformed)
			logger.Debugw("Dropping malformed frame", "bytes", len(data))
			continue
		}
		if limiter != nil && !limiter.Allow() {
			s.metrics.RecordEvent(msg.Event, eventRateLimited)
			s.sendError(sock, apperrors.NewRateLimitError())
			continue
		}

		ctx, span := tracing.TraceSocketEvent(context.Background(), msg.Event, string(sock.ID))
		err = s.handleMessage(ctx, sock, msg)
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		span.End()
		s.report(sock, msg.Event, err, logger)
	}
}

// writePump owns every write on the connection. It exits when the hub
// closes the socket's queue or a write fails.
func (s *WebSocketServer) writePump(conn *websocket.Conn, sock *Socket, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sock.Outbound():
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				logger.Infow("Socket write failed", "event", msg.Event, "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebSocketServer) handleMessage(ctx context.Context, sock *Socket, msg domain.Message) error {
	switch msg.Event {
	case domain.EventJoinChannel:
		var p domain.ChannelPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		return s.rooms.Subscribe(ctx, sock.ID, sock.UserHint, p.RoomCode)

	case domain.EventLeaveChannel:
		var p domain.ChannelPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		s.hub.Unsubscribe(p.RoomCode, sock.ID)
		return nil

	case domain.EventJoin:
		var p domain.JoinPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		return s.rooms.Join(ctx, sock.ID, p)

	case domain.EventLeave:
		var p domain.LeavePayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		return s.rooms.Leave(ctx, sock.ID, p)

	case domain.EventStartPresenting:
		var p domain.StartPresentingPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		return s.rooms.StartPresenting(ctx, sock.ID, p)

	case domain.EventStopPresenting:
		var p domain.StopPresentingPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		return s.rooms.StopPresenting(ctx, sock.ID, p)

	case domain.EventRequestView:
		var p domain.RequestViewPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		return s.rooms.RequestView(ctx, sock.ID, p, msg.Data)
	}

	env, err := domain.ParseEnvelope(msg)
	if err != nil {
		return err
	}
	return s.relay.Relay(ctx, sock.ID, env)
}

// report logs and counts the outcome of one event. Only permission
// failures are answered; everything else is dropped without a reply.
func (s *WebSocketServer) report(sock *Socket, event string, err error, logger *zap.SugaredLogger) {
	switch {
	case err == nil:
		s.metrics.RecordEvent(event, eventOK)
	case errors.Is(err, domain.ErrPermissionDenied), errors.Is(err, domain.ErrNotPresent):
		s.metrics.RecordEvent(event, eventRejected)
		logger.Infow("Event rejected", "event", event, "error", err)
		s.sendError(sock, domain.ToAppError(err))
	case errors.Is(err, domain.ErrMalformedEnvelope), errors.Is(err, domain.ErrUnknownRoom):
		s.metrics.RecordEvent(event, eventMalformed)
		logger.Debugw("Event dropped", "event", event, "error", err)
	case errors.Is(err, domain.ErrNoActivePresenter), errors.Is(err, domain.ErrSelfView):
		s.metrics.RecordEvent(event, eventRejected)
		logger.Debugw("Event ignored", "event", event, "error", err)
	default:
		s.metrics.RecordEvent(event, eventRejected)
		logger.Warnw("Event failed", "event", event, "error", err)
	}
}

func (s *WebSocketServer) sendError(sock *Socket, appErr *apperrors.AppError) {
	s.hub.SendToSocket(sock.ID, domain.MustMessage(domain.EventError, domain.ErrorPayload{
		Code:    string(appErr.Code),
		Message: appErr.Message,
	}))
}

// Shutdown closes every socket. Readers notice on their next read.
func (s *WebSocketServer) Shutdown() {
	s.hub.Close()
}

func (s *WebSocketServer) String() string {
	return fmt.Sprintf("signal.WebSocketServer(%d sockets)", s.hub.SocketCount())
}
