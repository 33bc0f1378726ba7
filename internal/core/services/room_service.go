package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
	"studyroom/pkg/tracing"
	"studyroom/pkg/utils"
	"studyroom/pkg/validation"

	"go.uber.org/zap"
)

type room struct {
	mu           sync.Mutex
	code         domain.RoomCode
	participants map[domain.UserID]*domain.Participant
	session      *domain.PresentationSession
	removed      bool
}

func newRoom(code domain.RoomCode) *room {
	return &room{
		code:         code,
		participants: make(map[domain.UserID]*domain.Participant),
		session:      domain.NewPresentationSession(code),
	}
}

// bound returns userID's participant if it is attached to socketID.
func (r *room) bound(socketID domain.SocketID, userID domain.UserID) (*domain.Participant, error) {
	p, ok := r.participants[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", domain.ErrNotPresent, userID, r.code)
	}
	if p.SocketID != socketID {
		return nil, fmt.Errorf("%w: socket is not bound to %s", domain.ErrPermissionDenied, userID)
	}
	return p, nil
}

func (r *room) bySocket(socketID domain.SocketID) (*domain.Participant, bool) {
	for _, p := range r.participants {
		if p.SocketID == socketID {
			return p, true
		}
	}
	return nil, false
}

func (r *room) sortedParticipants() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (r *room) empty() bool {
	return len(r.participants) == 0 && !r.session.Active()
}

type roomService struct {
	mu    sync.RWMutex
	rooms map[domain.RoomCode]*room

	members ports.MembershipChecker
	channel ports.RoomChannel
	events  ports.EventPublisher
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewRoomService wires the presence registry and presentation sessions.
// events may be nil when no event bus is configured.
func NewRoomService(
	members ports.MembershipChecker,
	channel ports.RoomChannel,
	events ports.EventPublisher,
	logger *zap.SugaredLogger,
) ports.RoomService {
	return &roomService{
		rooms:   make(map[domain.RoomCode]*room),
		members: members,
		channel: channel,
		events:  events,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *roomService) lookup(code domain.RoomCode, create bool) *room {
	s.mu.RLock()
	r := s.rooms[code]
	s.mu.RUnlock()
	if r != nil || !create {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r = s.rooms[code]; r == nil {
		r = newRoom(code)
		s.rooms[code] = r
	}
	return r
}

// withRoom runs fn with the room locked and publishes the events it
// returns once the lock is released. Rooms left empty are dropped.
func (s *roomService) withRoom(ctx context.Context, code domain.RoomCode, create bool, fn func(r *room) ([]domain.RoomEvent, error)) error {
	for {
		r := s.lookup(code, create)
		if r == nil {
			return fmt.Errorf("%w: %s", domain.ErrUnknownRoom, code)
		}

		r.mu.Lock()
		if r.removed {
			r.mu.Unlock()
			continue
		}
		events, err := fn(r)
		if r.empty() {
			s.mu.Lock()
			if s.rooms[code] == r {
				delete(s.rooms, code)
			}
			s.mu.Unlock()
			r.removed = true
		}
		r.mu.Unlock()

		s.publish(ctx, events)
		return err
	}
}

func (s *roomService) publish(ctx context.Context, events []domain.RoomEvent) {
	if s.events == nil {
		return
	}
	for _, ev := range events {
		if err := s.events.Publish(ctx, ev); err != nil {
			s.logger.Warnw("Failed to publish room event",
				"type", ev.Type,
				"room_code", ev.RoomCode,
				"error", err,
			)
		}
	}
}

func (s *roomService) authorize(ctx context.Context, code domain.RoomCode, userID domain.UserID) error {
	ok, err := s.members.IsRoomMember(ctx, code, userID)
	if err != nil {
		return fmt.Errorf("membership check for %s in %s: %w", userID, code, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s is not a member of %s", domain.ErrPermissionDenied, userID, code)
	}
	return nil
}

func validIdentity(code domain.RoomCode, userID domain.UserID) error {
	if err := validation.ValidateRoomCode(string(code)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedEnvelope, err)
	}
	if err := validation.ValidateUserID(string(userID)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedEnvelope, err)
	}
	return nil
}

func (s *roomService) event(t domain.RoomEventType, code domain.RoomCode, userID domain.UserID, name string) domain.RoomEvent {
	return domain.RoomEvent{Type: t, RoomCode: code, UserID: userID, UserName: name, At: s.now()}
}

func (s *roomService) Subscribe(ctx context.Context, socketID domain.SocketID, userHint domain.UserID, code domain.RoomCode) error {
	if err := validation.ValidateRoomCode(string(code)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedEnvelope, err)
	}
	if userHint != "" {
		if err := s.authorize(ctx, code, userHint); err != nil {
			return err
		}
	}
	s.channel.Subscribe(code, socketID)
	return nil
}

func (s *roomService) Join(ctx context.Context, socketID domain.SocketID, p domain.JoinPayload) error {
	ctx, span := tracing.TraceRoomOperation(ctx, "join", string(p.RoomCode), string(p.UserID))
	defer span.End()

	if err := validIdentity(p.RoomCode, p.UserID); err != nil {
		return err
	}
	if err := s.authorize(ctx, p.RoomCode, p.UserID); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	s.channel.Subscribe(p.RoomCode, socketID)
	name := utils.DisplayName(p.UserName, string(p.UserID))

	return s.withRoom(ctx, p.RoomCode, true, func(r *room) ([]domain.RoomEvent, error) {
		if prev, ok := r.participants[p.UserID]; ok {
			if prev.SocketID != socketID {
				s.logger.Infow("Replacing stale participant socket",
					"room_code", r.code,
					"user_id", p.UserID,
					"old_socket", prev.SocketID,
					"new_socket", socketID,
				)
			}
			prev.SocketID = socketID
			prev.UserName = name
		} else {
			r.participants[p.UserID] = &domain.Participant{
				UserID:   p.UserID,
				UserName: name,
				SocketID: socketID,
				JoinedAt: s.now(),
			}
		}

		s.broadcastParticipants(r)
		if r.session.Active() {
			s.channel.SendToSocket(socketID, presenterStarted(r.session))
			if r.session.PresenterID == p.UserID {
				s.channel.SendToSocket(socketID, viewersUpdate(r.session))
			}
		}

		s.logger.Debugw("Participant joined", "room_code", r.code, "user_id", p.UserID, "socket_id", socketID)
		return []domain.RoomEvent{s.event(domain.RoomEventParticipantJoined, r.code, p.UserID, name)}, nil
	})
}

func (s *roomService) Leave(ctx context.Context, socketID domain.SocketID, p domain.LeavePayload) error {
	ctx, span := tracing.TraceRoomOperation(ctx, "leave", string(p.RoomCode), string(p.UserID))
	defer span.End()

	return s.withRoom(ctx, p.RoomCode, false, func(r *room) ([]domain.RoomEvent, error) {
		if _, err := r.bound(socketID, p.UserID); err != nil {
			return nil, err
		}
		return s.removeParticipant(r, p.UserID), nil
	})
}

// Disconnect removes every participant still attached to socketID. Entries
// already taken over by a newer socket are left alone.
func (s *roomService) Disconnect(ctx context.Context, socketID domain.SocketID) {
	s.mu.RLock()
	codes := make([]domain.RoomCode, 0, len(s.rooms))
	for code := range s.rooms {
		codes = append(codes, code)
	}
	s.mu.RUnlock()

	for _, code := range codes {
		err := s.withRoom(ctx, code, false, func(r *room) ([]domain.RoomEvent, error) {
			var events []domain.RoomEvent
			for {
				p, ok := r.bySocket(socketID)
				if !ok {
					return events, nil
				}
				events = append(events, s.removeParticipant(r, p.UserID)...)
			}
		})
		if err != nil && !errors.Is(err, domain.ErrUnknownRoom) {
			s.logger.Warnw("Disconnect cleanup failed", "room_code", code, "socket_id", socketID, "error", err)
		}
	}
}

// Evict removes userID regardless of socket, used when membership is
// revoked by the authority.
func (s *roomService) Evict(ctx context.Context, code domain.RoomCode, userID domain.UserID) error {
	return s.withRoom(ctx, code, false, func(r *room) ([]domain.RoomEvent, error) {
		p, ok := r.participants[userID]
		if !ok {
			return nil, nil
		}
		socketID := p.SocketID
		events := s.removeParticipant(r, userID)
		s.channel.Unsubscribe(code, socketID)
		s.logger.Infow("Participant evicted", "room_code", code, "user_id", userID)
		return events, nil
	})
}

// removeParticipant drops userID and runs presentation cleanup. Callers
// hold r.mu.
func (s *roomService) removeParticipant(r *room, userID domain.UserID) []domain.RoomEvent {
	p := r.participants[userID]
	if p == nil {
		return nil
	}
	delete(r.participants, userID)
	events := []domain.RoomEvent{s.event(domain.RoomEventParticipantLeft, r.code, userID, p.UserName)}

	switch {
	case r.session.PresenterID == userID:
		r.session.Stop()
		s.channel.Broadcast(r.code, presenterStopped(userID), "")
		events = append(events, s.event(domain.RoomEventPresentationStopped, r.code, userID, p.UserName))
	case r.session.RemoveViewer(userID):
		s.channel.Broadcast(r.code, viewersUpdate(r.session), "")
	}

	s.broadcastParticipants(r)
	return events
}

func (s *roomService) StartPresenting(ctx context.Context, socketID domain.SocketID, p domain.StartPresentingPayload) error {
	ctx, span := tracing.TraceRoomOperation(ctx, "start_presenting", string(p.RoomCode), string(p.UserID))
	defer span.End()

	if err := validIdentity(p.RoomCode, p.UserID); err != nil {
		return err
	}
	if err := s.authorize(ctx, p.RoomCode, p.UserID); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	err := s.withRoom(ctx, p.RoomCode, false, func(r *room) ([]domain.RoomEvent, error) {
		part, err := r.bound(socketID, p.UserID)
		if err != nil {
			return nil, err
		}
		name := utils.DisplayName(p.UserName, part.UserName)

		var events []domain.RoomEvent
		replaced := r.session.Start(p.UserID, name, s.now())
		if replaced != "" {
			// Last writer wins: the ousted presenter's links are torn down
			// by everyone on this presenter-stopped.
			tracing.RecordError(ctx, fmt.Errorf("%w: %s replaced %s", domain.ErrPresenterConflict, p.UserID, replaced))
			s.logger.Warnw("Presenter replaced",
				"room_code", r.code,
				"previous", replaced,
				"presenter", p.UserID,
			)
			s.channel.Broadcast(r.code, presenterStopped(replaced), "")
			events = append(events, s.event(domain.RoomEventPresentationStopped, r.code, replaced, ""))
		}

		s.channel.Broadcast(r.code, presenterStarted(r.session), "")
		events = append(events, s.event(domain.RoomEventPresentationStarted, r.code, p.UserID, name))

		s.logger.Infow("Presentation started", "room_code", r.code, "presenter", p.UserID)
		return events, nil
	})
	if errors.Is(err, domain.ErrUnknownRoom) {
		return fmt.Errorf("%w: %s has not joined %s", domain.ErrNotPresent, p.UserID, p.RoomCode)
	}
	return err
}

func (s *roomService) StopPresenting(ctx context.Context, socketID domain.SocketID, p domain.StopPresentingPayload) error {
	ctx, span := tracing.TraceRoomOperation(ctx, "stop_presenting", string(p.RoomCode), string(p.UserID))
	defer span.End()

	return s.withRoom(ctx, p.RoomCode, false, func(r *room) ([]domain.RoomEvent, error) {
		part, err := r.bound(socketID, p.UserID)
		if err != nil {
			return nil, err
		}
		if r.session.PresenterID != p.UserID {
			return nil, fmt.Errorf("%w: %s is not presenting in %s", domain.ErrPermissionDenied, p.UserID, r.code)
		}

		r.session.Stop()
		s.channel.Broadcast(r.code, presenterStopped(p.UserID), "")

		s.logger.Infow("Presentation stopped", "room_code", r.code, "presenter", p.UserID)
		return []domain.RoomEvent{s.event(domain.RoomEventPresentationStopped, r.code, p.UserID, part.UserName)}, nil
	})
}

func (s *roomService) RequestView(ctx context.Context, socketID domain.SocketID, p domain.RequestViewPayload, raw json.RawMessage) error {
	ctx, span := tracing.TraceRoomOperation(ctx, "request_view", string(p.RoomCode), string(p.UserID))
	defer span.End()

	if err := validIdentity(p.RoomCode, p.UserID); err != nil {
		return err
	}
	if err := s.authorize(ctx, p.RoomCode, p.UserID); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	return s.withRoom(ctx, p.RoomCode, false, func(r *room) ([]domain.RoomEvent, error) {
		part, err := r.bound(socketID, p.UserID)
		if err != nil {
			return nil, err
		}
		if !r.session.Active() {
			return nil, fmt.Errorf("%w in %s", domain.ErrNoActivePresenter, r.code)
		}
		presenter, ok := r.participants[r.session.PresenterID]
		if !ok {
			return nil, fmt.Errorf("%w in %s", domain.ErrNoActivePresenter, r.code)
		}
		repeat := r.session.HasViewer(p.UserID)
		if err := r.session.AddViewer(p.UserID, part.UserName); err != nil {
			return nil, err
		}

		if !s.channel.SendToSocket(presenter.SocketID, domain.Message{Event: domain.EventRequestView, Data: raw}) {
			s.logger.Warnw("Request-view not delivered to presenter",
				"room_code", r.code,
				"presenter", presenter.UserID,
				"viewer", p.UserID,
			)
		}
		// a retried request renegotiates without changing the viewer set
		if !repeat {
			s.channel.Broadcast(r.code, viewersUpdate(r.session), "")
		}
		return nil, nil
	})
}

func (s *roomService) Route(ctx context.Context, socketID domain.SocketID, env domain.Envelope) (ports.Route, error) {
	var route ports.Route
	err := s.withRoom(ctx, env.RoomCode, false, func(r *room) ([]domain.RoomEvent, error) {
		sender, ok := r.bySocket(socketID)
		if !ok {
			return nil, fmt.Errorf("%w: socket has not joined %s", domain.ErrPermissionDenied, r.code)
		}
		if env.FromUserID != "" && env.FromUserID != sender.UserID {
			return nil, fmt.Errorf("%w: %s cannot send as %s", domain.ErrPermissionDenied, sender.UserID, env.FromUserID)
		}
		route.Sender = sender.UserID

		to := env.ToUserID
		if to == "" && (env.Type == domain.EnvelopeRetryWithRelay || env.Type == domain.EnvelopeRequestView) {
			if !r.session.Active() {
				return nil, fmt.Errorf("%w in %s", domain.ErrNoActivePresenter, r.code)
			}
			to = r.session.PresenterID
		}
		if to == "" {
			route.Broadcast = true
			return nil, nil
		}
		if target, ok := r.participants[to]; ok {
			route.Target = target.SocketID
		}
		return nil, nil
	})
	return route, err
}

func (s *roomService) Participants(ctx context.Context, code domain.RoomCode) ([]domain.Participant, error) {
	var out []domain.Participant
	err := s.withRoom(ctx, code, false, func(r *room) ([]domain.RoomEvent, error) {
		out = r.sortedParticipants()
		return nil, nil
	})
	return out, err
}

func (s *roomService) Presentation(ctx context.Context, code domain.RoomCode) (domain.PresentationSnapshot, error) {
	var snap domain.PresentationSnapshot
	err := s.withRoom(ctx, code, false, func(r *room) ([]domain.RoomEvent, error) {
		snap = r.session.Snapshot()
		return nil, nil
	})
	return snap, err
}

func (s *roomService) Stats(ctx context.Context) []domain.RoomStats {
	s.mu.RLock()
	rooms := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	stats := make([]domain.RoomStats, 0, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		if !r.removed {
			stats = append(stats, domain.RoomStats{
				RoomCode:     r.code,
				Participants: len(r.participants),
				Presenting:   r.session.Active(),
				Viewers:      len(r.session.Viewers()),
			})
		}
		r.mu.Unlock()
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].RoomCode < stats[j].RoomCode })
	return stats
}

func (s *roomService) broadcastParticipants(r *room) {
	parts := r.sortedParticipants()
	refs := make([]domain.UserRef, 0, len(parts))
	for _, p := range parts {
		refs = append(refs, p.Ref())
	}
	s.channel.Broadcast(r.code, domain.MustMessage(domain.EventParticipants, domain.ParticipantsPayload{Participants: refs}), "")
}

func presenterStarted(session *domain.PresentationSession) domain.Message {
	return domain.MustMessage(domain.EventPresenterStarted, domain.PresenterStartedPayload{
		UserID:   session.PresenterID,
		UserName: session.PresenterName,
	})
}

func presenterStopped(userID domain.UserID) domain.Message {
	return domain.MustMessage(domain.EventPresenterStopped, domain.PresenterStoppedPayload{UserID: userID})
}

func viewersUpdate(session *domain.PresentationSession) domain.Message {
	return domain.MustMessage(domain.EventViewersUpdate, domain.ViewersUpdatePayload{Viewers: session.Viewers()})
}
