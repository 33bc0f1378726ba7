package monitoring

import (
	"context"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
	"studyroom/pkg/circuitbreaker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// knownEvents bounds the event label; anything else is reported as "other".
var knownEvents = map[string]struct{}{
	domain.EventJoinChannel:      {},
	domain.EventLeaveChannel:     {},
	domain.EventJoin:             {},
	domain.EventLeave:            {},
	domain.EventStartPresenting:  {},
	domain.EventStopPresenting:   {},
	domain.EventRequestView:      {},
	domain.EventOffer:            {},
	domain.EventAnswer:           {},
	domain.EventICECandidate:     {},
	domain.EventICERestart:       {},
	domain.EventRetryWithRelay:   {},
	domain.EventConnectionError:  {},
	domain.EventPresenterStarted: {},
	domain.EventPresenterStopped: {},
}

func eventLabel(event string) string {
	if _, ok := knownEvents[event]; ok {
		return event
	}
	if event == "" {
		return "none"
	}
	return "other"
}

func relayLabel(kind string) string {
	if domain.IsRelayType(domain.EnvelopeType(kind)) {
		return kind
	}
	return "other"
}

type PrometheusCollector struct {
	socketsConnected prometheus.Gauge
	socketEvents     *prometheus.CounterVec
	sendDropped      prometheus.Counter

	relayTotal    *prometheus.CounterVec
	relayDuration *prometheus.HistogramVec

	roomsActive         prometheus.Gauge
	participants        prometheus.Gauge
	presentationsActive prometheus.Gauge
	viewers             prometheus.Gauge

	membershipChecks   *prometheus.CounterVec
	membershipDuration prometheus.Histogram
	breakerState       *prometheus.GaugeVec

	eventsPublished *prometheus.CounterVec
}

// NewPrometheusCollector registers the coordinator's metrics on reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		socketsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "studyroom_sockets_connected",
			Help: "Number of live signaling sockets",
		}),

		socketEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studyroom_socket_events_total",
			Help: "Inbound socket events by outcome",
		}, []string{"event", "outcome"}),

		sendDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "studyroom_send_dropped_total",
			Help: "Outbound frames dropped because a socket queue was full",
		}),

		relayTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studyroom_relay_envelopes_total",
			Help: "Relayed negotiation envelopes by outcome",
		}, []string{"type", "outcome"}),

		relayDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studyroom_relay_duration_seconds",
			Help:    "Time to route and queue one envelope",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"type"}),

		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "studyroom_rooms_active",
			Help: "Rooms with at least one participant",
		}),

		participants: factory.NewGauge(prometheus.GaugeOpts{
			Name: "studyroom_participants",
			Help: "Participants across all rooms",
		}),

		presentationsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "studyroom_presentations_active",
			Help: "Rooms with an active presenter",
		}),

		viewers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "studyroom_viewers",
			Help: "Viewers across all active presentations",
		}),

		membershipChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studyroom_membership_checks_total",
			Help: "Membership lookups by result",
		}, []string{"result"}),

		membershipDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "studyroom_membership_check_duration_seconds",
			Help:    "Membership lookup latency, cache hits included",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),

		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "studyroom_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"name"}),

		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studyroom_room_events_published_total",
			Help: "Room lifecycle events published to the event bus",
		}, []string{"type", "outcome"}),
	}
}

func (p *PrometheusCollector) SocketConnected() {
	p.socketsConnected.Inc()
}

func (p *PrometheusCollector) SocketDisconnected() {
	p.socketsConnected.Dec()
}

func (p *PrometheusCollector) RecordEvent(event, outcome string) {
	p.socketEvents.WithLabelValues(eventLabel(event), outcome).Inc()
}

func (p *PrometheusCollector) RecordRelay(kind, outcome string, d time.Duration) {
	kind = relayLabel(kind)
	p.relayTotal.WithLabelValues(kind, outcome).Inc()
	p.relayDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (p *PrometheusCollector) RecordSendDropped() {
	p.sendDropped.Inc()
}

// UpdateRoomStats replaces the room gauges with a fresh snapshot.
func (p *PrometheusCollector) UpdateRoomStats(stats []domain.RoomStats) {
	var participants, presenting, viewers int
	for _, s := range stats {
		participants += s.Participants
		viewers += s.Viewers
		if s.Presenting {
			presenting++
		}
	}
	p.roomsActive.Set(float64(len(stats)))
	p.participants.Set(float64(participants))
	p.presentationsActive.Set(float64(presenting))
	p.viewers.Set(float64(viewers))
}

func (p *PrometheusCollector) SetBreakerState(name string, state circuitbreaker.State) {
	p.breakerState.WithLabelValues(name).Set(float64(state))
}

func (p *PrometheusCollector) RecordPublish(eventType domain.RoomEventType, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.eventsPublished.WithLabelValues(string(eventType), outcome).Inc()
}

type instrumentedMembership struct {
	next ports.MembershipChecker
	p    *PrometheusCollector
}

// InstrumentMembership counts and times every lookup made through next.
func (p *PrometheusCollector) InstrumentMembership(next ports.MembershipChecker) ports.MembershipChecker {
	return &instrumentedMembership{next: next, p: p}
}

func (m *instrumentedMembership) IsRoomMember(ctx context.Context, code domain.RoomCode, userID domain.UserID) (bool, error) {
	start := time.Now()
	ok, err := m.next.IsRoomMember(ctx, code, userID)
	m.p.membershipDuration.Observe(time.Since(start).Seconds())

	result := "denied"
	switch {
	case err != nil:
		result = "error"
	case ok:
		result = "member"
	}
	m.p.membershipChecks.WithLabelValues(result).Inc()
	return ok, err
}
