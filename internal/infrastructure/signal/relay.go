package signal

import (
	"context"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
	"studyroom/pkg/tracing"

	"go.uber.org/zap"
)

// Relay outcomes reported to metrics.
const (
	outcomeDelivered   = "delivered"
	outcomeBroadcast   = "broadcast"
	outcomeNoRecipient = "no_recipient"
	outcomeDropped     = "dropped"
	outcomeRejected    = "rejected"
	outcomeUnknownType = "unknown_type"
)

type relay struct {
	rooms   ports.RoomService
	channel ports.RoomChannel
	metrics Metrics
	logger  *zap.SugaredLogger
}

// NewRelay forwards peer negotiation envelopes. Payloads are passed
// through as received; only the routing fields are read.
func NewRelay(rooms ports.RoomService, channel ports.RoomChannel, metrics Metrics, logger *zap.SugaredLogger) ports.Relay {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &relay{rooms: rooms, channel: channel, metrics: metrics, logger: logger}
}

func (r *relay) Relay(ctx context.Context, from domain.SocketID, env domain.Envelope) error {
	start := time.Now()
	ctx, span := tracing.TraceRelay(ctx, string(env.Type), string(env.RoomCode), string(env.ToUserID))
	defer span.End()

	if !domain.IsRelayType(env.Type) {
		r.metrics.RecordRelay(string(env.Type), outcomeUnknownType, time.Since(start))
		r.logger.Debugw("Dropping unknown envelope type", "type", env.Type, "socket_id", from)
		return nil
	}

	route, err := r.rooms.Route(ctx, from, env)
	if err != nil {
		tracing.RecordError(ctx, err)
		r.metrics.RecordRelay(string(env.Type), outcomeRejected, time.Since(start))
		return err
	}

	msg := env.Message()
	outcome := outcomeDelivered
	switch {
	case route.Broadcast:
		n := r.channel.Broadcast(env.RoomCode, msg, from)
		outcome = outcomeBroadcast
		r.logger.Debugw("Envelope broadcast", "type", env.Type, "room_code", env.RoomCode, "recipients", n)
	case route.Target == "":
		outcome = outcomeNoRecipient
		r.logger.Debugw("Recipient not in room, dropping envelope",
			"type", env.Type,
			"room_code", env.RoomCode,
			"to_user_id", env.ToUserID,
		)
	case !r.channel.SendToSocket(route.Target, msg):
		outcome = outcomeDropped
	}
	r.metrics.RecordRelay(string(env.Type), outcome, time.Since(start))
	return nil
}
