package signal

import (
	"sync"
	"testing"
	"time"

	"studyroom/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingMetrics struct {
	mu        sync.Mutex
	connected int
	dropped   int
	events    map[string]int
	relays    map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{events: make(map[string]int), relays: make(map[string]int)}
}

func (m *countingMetrics) SocketConnected() {
	m.mu.Lock()
	m.connected++
	m.mu.Unlock()
}

func (m *countingMetrics) SocketDisconnected() {
	m.mu.Lock()
	m.connected--
	m.mu.Unlock()
}

func (m *countingMetrics) RecordEvent(event, outcome string) {
	m.mu.Lock()
	m.events[event+"/"+outcome]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordRelay(kind, outcome string, d time.Duration) {
	m.mu.Lock()
	m.relays[kind+"/"+outcome]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordSendDropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

func (m *countingMetrics) relay(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.relays[key]
}

func drain(s *Socket) []domain.Message {
	var out []domain.Message
	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHub_BroadcastSkipsSender(t *testing.T) {
	metrics := newCountingMetrics()
	hub := NewHub(metrics, zap.NewNop().Sugar())

	a := NewSocket("a", "", "", 4)
	b := NewSocket("b", "", "", 4)
	c := NewSocket("c", "", "", 4)
	for _, s := range []*Socket{a, b, c} {
		hub.Register(s)
	}
	hub.Subscribe("room-1", "a")
	hub.Subscribe("room-1", "b")
	hub.Subscribe("room-2", "c")

	n := hub.Broadcast("room-1", domain.Message{Event: "x"}, "a")
	assert.Equal(t, 1, n)
	assert.Empty(t, drain(a))
	assert.Len(t, drain(b), 1)
	assert.Empty(t, drain(c))

	assert.Equal(t, 2, hub.Subscribers("room-1"))
	assert.Equal(t, 3, metrics.connected)
}

func TestHub_SubscribeUnknownSocket(t *testing.T) {
	hub := NewHub(nil, zap.NewNop().Sugar())
	hub.Subscribe("room-1", "ghost")
	assert.Equal(t, 0, hub.Subscribers("room-1"))
	assert.False(t, hub.SendToSocket("ghost", domain.Message{Event: "x"}))
}

func TestHub_FullQueueDrops(t *testing.T) {
	metrics := newCountingMetrics()
	hub := NewHub(metrics, zap.NewNop().Sugar())
	s := NewSocket("slow", "", "", 1)
	hub.Register(s)

	assert.True(t, hub.SendToSocket("slow", domain.Message{Event: "first"}))
	assert.False(t, hub.SendToSocket("slow", domain.Message{Event: "second"}))
	assert.Equal(t, 1, metrics.dropped)

	got := drain(s)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Event)
}

func TestHub_UnregisterClosesQueue(t *testing.T) {
	hub := NewHub(nil, zap.NewNop().Sugar())
	s := NewSocket("a", "", "", 4)
	hub.Register(s)
	hub.Subscribe("room-1", "a")
	hub.Subscribe("room-2", "a")

	hub.Unregister("a")
	hub.Unregister("a")

	_, ok := <-s.Outbound()
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers("room-1"))
	assert.Equal(t, 0, hub.Subscribers("room-2"))
	assert.Equal(t, 0, hub.SocketCount())
	assert.False(t, hub.SendToSocket("a", domain.Message{Event: "x"}))
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(nil, zap.NewNop().Sugar())
	sockets := []*Socket{NewSocket("a", "", "", 1), NewSocket("b", "", "", 1)}
	for _, s := range sockets {
		hub.Register(s)
	}
	hub.Close()
	for _, s := range sockets {
		_, ok := <-s.Outbound()
		assert.False(t, ok)
	}
	assert.Equal(t, 0, hub.SocketCount())
}
