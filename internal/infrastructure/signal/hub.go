package signal

import (
	"sync"
	"time"

	"studyroom/internal/core/domain"

	"go.uber.org/zap"
)

// Metrics is the subset of the collector the signaling layer reports to.
type Metrics interface {
	SocketConnected()
	SocketDisconnected()
	RecordEvent(event, outcome string)
	RecordRelay(kind, outcome string, d time.Duration)
	RecordSendDropped()
}

type nopMetrics struct{}

func (nopMetrics) SocketConnected()                          {}
func (nopMetrics) SocketDisconnected()                       {}
func (nopMetrics) RecordEvent(string, string)                {}
func (nopMetrics) RecordRelay(string, string, time.Duration) {}
func (nopMetrics) RecordSendDropped()                        {}

// Socket is one live signaling connection as the hub sees it.
type Socket struct {
	ID         domain.SocketID
	UserHint   domain.UserID
	RemoteAddr string

	send      chan domain.Message
	closeOnce sync.Once
	rooms     map[domain.RoomCode]struct{}
}

func NewSocket(id domain.SocketID, userHint domain.UserID, remoteAddr string, queue int) *Socket {
	if queue <= 0 {
		queue = 64
	}
	return &Socket{
		ID:         id,
		UserHint:   userHint,
		RemoteAddr: remoteAddr,
		send:       make(chan domain.Message, queue),
		rooms:      make(map[domain.RoomCode]struct{}),
	}
}

// Outbound is drained by the socket's writer. It is closed when the hub
// unregisters the socket.
func (s *Socket) Outbound() <-chan domain.Message {
	return s.send
}

// Hub is the room-scoped publish/subscribe fabric. It never blocks on a
// slow socket: a frame that does not fit in the socket's queue is dropped.
type Hub struct {
	mu      sync.RWMutex
	sockets map[domain.SocketID]*Socket
	rooms   map[domain.RoomCode]map[domain.SocketID]*Socket

	metrics Metrics
	logger  *zap.SugaredLogger
}

func NewHub(metrics Metrics, logger *zap.SugaredLogger) *Hub {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Hub{
		sockets: make(map[domain.SocketID]*Socket),
		rooms:   make(map[domain.RoomCode]map[domain.SocketID]*Socket),
		metrics: metrics,
		logger:  logger,
	}
}

func (h *Hub) Register(s *Socket) {
	h.mu.Lock()
	h.sockets[s.ID] = s
	h.mu.Unlock()
	h.metrics.SocketConnected()
}

// Unregister removes the socket from every room and closes its queue.
func (h *Hub) Unregister(id domain.SocketID) {
	h.mu.Lock()
	s, ok := h.sockets[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sockets, id)
	for code := range s.rooms {
		h.leaveLocked(code, id)
	}
	h.mu.Unlock()

	s.closeOnce.Do(func() { close(s.send) })
	h.metrics.SocketDisconnected()
}

func (h *Hub) Subscribe(code domain.RoomCode, id domain.SocketID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sockets[id]
	if !ok {
		return
	}
	subs := h.rooms[code]
	if subs == nil {
		subs = make(map[domain.SocketID]*Socket)
		h.rooms[code] = subs
	}
	subs[id] = s
	s.rooms[code] = struct{}{}
}

func (h *Hub) Unsubscribe(code domain.RoomCode, id domain.SocketID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(code, id)
}

func (h *Hub) leaveLocked(code domain.RoomCode, id domain.SocketID) {
	if subs := h.rooms[code]; subs != nil {
		if s, ok := subs[id]; ok {
			delete(s.rooms, code)
		}
		delete(subs, id)
		if len(subs) == 0 {
			delete(h.rooms, code)
		}
	}
}

// SendToSocket queues msg for one socket. It reports false when the socket
// is gone or its queue is full.
func (h *Hub) SendToSocket(id domain.SocketID, msg domain.Message) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sockets[id]
	if !ok {
		return false
	}
	return h.enqueue(s, msg)
}

// Broadcast queues msg for every subscriber of the room except one socket
// and returns how many accepted it.
func (h *Hub) Broadcast(code domain.RoomCode, msg domain.Message, except domain.SocketID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for id, s := range h.rooms[code] {
		if id == except {
			continue
		}
		if h.enqueue(s, msg) {
			n++
		}
	}
	return n
}

// enqueue runs under the read lock so Unregister cannot close the queue
// underneath it.
func (h *Hub) enqueue(s *Socket, msg domain.Message) bool {
	select {
	case s.send <- msg:
		return true
	default:
		h.metrics.RecordSendDropped()
		h.logger.Warnw("Send queue full, dropping frame",
			"socket_id", s.ID,
			"event", msg.Event,
		)
		return false
	}
}

func (h *Hub) Subscribers(code domain.RoomCode) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}

func (h *Hub) SocketCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sockets)
}

// Close unregisters every socket, which ends their writers.
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]domain.SocketID, 0, len(h.sockets))
	for id := range h.sockets {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.Unregister(id)
	}
}
