package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
	"studyroom/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// busMessage is the wire form on the events channel. Messages published
// by the membership platform carry no instance id.
type busMessage struct {
	InstanceID string           `json:"instance_id,omitempty"`
	Event      domain.RoomEvent `json:"event"`
}

// PublishRecorder is told the outcome of every publish.
type PublishRecorder interface {
	RecordPublish(eventType domain.RoomEventType, err error)
}

// EventBus publishes room lifecycle events on a Redis channel and
// delivers events from other instances and the membership platform.
type EventBus struct {
	client     *redis.Client
	channel    string
	instanceID string
	retry      retry.Config
	recorder   PublishRecorder
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
}

func NewEventBus(
	client *redis.Client,
	channel string,
	instanceID string,
	recorder PublishRecorder,
	logger *zap.SugaredLogger,
) *EventBus {
	return &EventBus{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		retry:      retry.DefaultConfig(),
		recorder:   recorder,
		logger:     logger,
	}
}

var _ ports.EventPublisher = (*EventBus)(nil)

func (eb *EventBus) Publish(ctx context.Context, event domain.RoomEvent) error {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	data, err := json.Marshal(busMessage{InstanceID: eb.instanceID, Event: event})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = retry.Do(ctx, eb.retry, func(ctx context.Context) error {
		return eb.client.Publish(ctx, eb.channel, data).Err()
	})
	if eb.recorder != nil {
		eb.recorder.RecordPublish(event.Type, err)
	}
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("Published room event",
		"type", event.Type,
		"room_code", event.RoomCode,
		"user_id", event.UserID,
	)
	return nil
}

// Subscribe delivers events to handler until ctx ends. Events this
// instance published are skipped.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(context.Context, domain.RoomEvent) error) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = eb.client.Subscribe(ctx, eb.channel)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eb.deliver(ctx, msg.Payload, handler)
		}
	}
}

func (eb *EventBus) deliver(ctx context.Context, payload string, handler func(context.Context, domain.RoomEvent) error) {
	var msg busMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		eb.logger.Warnw("Failed to unmarshal bus message", "error", err, "payload", payload)
		return
	}
	if msg.InstanceID == eb.instanceID {
		return
	}
	if err := handler(ctx, msg.Event); err != nil {
		eb.logger.Warnw("Error handling bus event",
			"type", msg.Event.Type,
			"room_code", msg.Event.RoomCode,
			"error", err,
		)
	}
}

func (eb *EventBus) Close() error {
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}

// Invalidator drops cached membership answers.
type Invalidator interface {
	Invalidate(code domain.RoomCode, userID domain.UserID)
}

// RevocationHandler reacts to membership.revoked: the cached answer is
// dropped and the user is removed from the room if present. Other event
// types are ignored.
func RevocationHandler(members Invalidator, rooms ports.RoomService, logger *zap.SugaredLogger) func(context.Context, domain.RoomEvent) error {
	return func(ctx context.Context, ev domain.RoomEvent) error {
		if ev.Type != domain.RoomEventMembershipRevoked {
			return nil
		}
		if ev.RoomCode == "" {
			return fmt.Errorf("%w: revocation without room code", domain.ErrMalformedEnvelope)
		}
		members.Invalidate(ev.RoomCode, ev.UserID)
		if ev.UserID == "" {
			return nil
		}
		logger.Infow("Membership revoked", "room_code", ev.RoomCode, "user_id", ev.UserID)
		if err := rooms.Evict(ctx, ev.RoomCode, ev.UserID); err != nil && !errors.Is(err, domain.ErrUnknownRoom) {
			return err
		}
		return nil
	}
}
