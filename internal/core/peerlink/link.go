package peerlink

import (
	"context"
	"fmt"

	"studyroom/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Change is reported every time a link moves to a new state.
type Change struct {
	PresenterID domain.UserID
	ViewerID    domain.UserID
	From        State
	To          State
	Mode        Mode
	Err         error
}

type Config struct {
	Role        Role
	RoomCode    domain.RoomCode
	PresenterID domain.UserID
	ViewerID    domain.UserID
	// SelfName is sent with retry-with-relay requests.
	SelfName       string
	Mode           Mode
	MaxICERestarts int

	Factory  TransportFactory
	Signaler Signaler
	// Sink receives transport callbacks. The owner must feed them back
	// through HandleTransportEvent from the goroutine that drives the link.
	Sink     func(TransportEvent)
	OnChange func(Change)
	Logger   *zap.SugaredLogger
}

// Link is one directed presenter to viewer media connection. A Link is
// not safe for concurrent use; the client controller drives every link
// from its event loop.
type Link struct {
	cfg Config

	state           State
	mode            Mode
	retried         bool
	iceRestarts     int
	restartInFlight bool

	transport  Transport
	generation uint64
	remoteSet  bool
	pending    []webrtc.ICECandidateInit
	conn       webrtc.PeerConnectionState
	ice        webrtc.ICEConnectionState

	logger *zap.SugaredLogger
}

func New(cfg Config) *Link {
	if cfg.Mode == "" {
		cfg.Mode = ModeDirect
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Link{
		cfg:   cfg,
		state: StateRequested,
		mode:  cfg.Mode,
		logger: logger.With(
			"room_code", cfg.RoomCode,
			"presenter_id", cfg.PresenterID,
			"viewer_id", cfg.ViewerID,
			"role", cfg.Role.String(),
		),
	}
}

func (l *Link) State() State { return l.state }
func (l *Link) Mode() Mode { return l.mode }
func (l *Link) Retried() bool { return l.retried }
func (l *Link) ICERestarts() int { return l.iceRestarts }
func (l *Link) PendingCandidates() int { return len(l.pending) }
func (l *Link) PresenterID() domain.UserID { return l.cfg.PresenterID }
func (l *Link) ViewerID() domain.UserID { return l.cfg.ViewerID }

func (l *Link) self() domain.UserID {
	if l.cfg.Role == RolePresenter {
		return l.cfg.PresenterID
	}
	return l.cfg.ViewerID
}

func (l *Link) peer() domain.UserID {
	if l.cfg.Role == RolePresenter {
		return l.cfg.ViewerID
	}
	return l.cfg.PresenterID
}

// Start opens the presenter's transport and sends the first offer.
func (l *Link) Start(ctx context.Context) error {
	if l.cfg.Role != RolePresenter {
		return fmt.Errorf("start called on %s link", l.cfg.Role)
	}
	if l.state != StateRequested {
		return nil
	}
	if err := l.openTransport(); err != nil {
		l.fail(ctx, err)
		return err
	}
	return l.sendOffer(ctx, false)
}

// HandleOffer applies a presenter offer on the viewer side. An offer for a
// link that already negotiated is the presenter's forced-relay
// renegotiation, so the old transport is replaced in relay mode.
func (l *Link) HandleOffer(ctx context.Context, sdp webrtc.SessionDescription) error {
	if l.state.Terminal() {
		return nil
	}
	if l.transport != nil && l.remoteSet {
		l.logger.Infow("Presenter renegotiated, switching to relay")
		l.closeTransport()
		l.retried = true
		l.mode = ModeRelay
	}
	if l.transport == nil {
		if err := l.openTransport(); err != nil {
			l.fail(ctx, err)
			return err
		}
	}
	return l.answer(ctx, sdp, false)
}

// HandleICERestart applies a restart offer to the existing transport.
func (l *Link) HandleICERestart(ctx context.Context, sdp webrtc.SessionDescription) error {
	if l.state.Terminal() || l.transport == nil || !l.remoteSet {
		l.logger.Debugw("Ignoring ICE restart without a negotiated transport", "state", l.state.String())
		return nil
	}
	l.iceRestarts++
	l.restartInFlight = true
	return l.answer(ctx, sdp, true)
}

func (l *Link) answer(ctx context.Context, sdp webrtc.SessionDescription, restart bool) error {
	if err := l.transport.SetRemoteDescription(sdp); err != nil {
		l.fail(ctx, fmt.Errorf("set remote offer: %w", err))
		return err
	}
	l.remoteSet = true
	l.drainCandidates()

	answer, err := l.transport.CreateAnswer()
	if err != nil {
		l.fail(ctx, fmt.Errorf("create answer: %w", err))
		return err
	}
	if err := l.cfg.Signaler.Send(ctx, domain.EventAnswer, DescriptionPayload{
		RoomCode:   l.cfg.RoomCode,
		SDP:        answer,
		FromUserID: l.self(),
		ToUserID:   l.peer(),
	}); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	if restart {
		l.setState(StateReconnecting, nil)
	} else {
		l.setState(StateAnswered, nil)
	}
	return nil
}

// HandleAnswer applies the viewer's answer. A second answer for a
// transport that is already stable is ignored.
func (l *Link) HandleAnswer(ctx context.Context, sdp webrtc.SessionDescription) error {
	if l.state.Terminal() || l.transport == nil {
		return nil
	}
	if l.transport.SignalingState() == webrtc.SignalingStateStable {
		l.logger.Debugw("Ignoring duplicate answer")
		return nil
	}
	if err := l.transport.SetRemoteDescription(sdp); err != nil {
		l.fail(ctx, fmt.Errorf("set remote answer: %w", err))
		return err
	}
	l.remoteSet = true
	l.drainCandidates()
	l.setState(StateICEChecking, nil)
	return nil
}

// AddRemoteCandidate applies a candidate, or queues it until the remote
// description is set. Queued candidates are applied in arrival order.
func (l *Link) AddRemoteCandidate(c webrtc.ICECandidateInit) {
	if l.state.Terminal() {
		return
	}
	if l.transport == nil || !l.remoteSet {
		l.pending = append(l.pending, c)
		return
	}
	if err := l.transport.AddICECandidate(c); err != nil {
		l.logger.Warnw("Failed to add ICE candidate", "error", err)
	}
}

func (l *Link) drainCandidates() {
	for len(l.pending) > 0 {
		c := l.pending[0]
		l.pending = l.pending[1:]
		if err := l.transport.AddICECandidate(c); err != nil {
			l.logger.Warnw("Failed to add queued ICE candidate", "error", err)
		}
	}
	l.pending = nil
}

// HandleRetryWithRelay runs the presenter side of the forced-relay retry.
// Only one retry is ever made; a request that arrives after it is a
// duplicate for a transport that was already replaced.
func (l *Link) HandleRetryWithRelay(ctx context.Context) error {
	if l.cfg.Role != RolePresenter || l.state.Terminal() {
		return nil
	}
	if l.retried {
		l.logger.Debugw("Relay retry already used, ignoring request")
		return nil
	}
	return l.relayRestart(ctx)
}

// HandleConnectionError ends a viewer link after the presenter gave up.
func (l *Link) HandleConnectionError(reason string) {
	if l.state.Terminal() {
		return
	}
	l.closeTransport()
	l.setState(StateFailed, fmt.Errorf("%w: %s", domain.ErrTransportTerminal, reason))
}

// HandleTransportEvent feeds one transport callback into the link.
// Events from a replaced transport are dropped.
func (l *Link) HandleTransportEvent(ctx context.Context, ev TransportEvent) {
	if ev.Generation != l.generation || l.transport == nil || l.state.Terminal() {
		return
	}
	switch ev.Kind {
	case EventLocalCandidate:
		if err := l.cfg.Signaler.Send(ctx, domain.EventICECandidate, CandidatePayload{
			RoomCode:   l.cfg.RoomCode,
			Candidate:  ev.Candidate,
			FromUserID: l.self(),
			ToUserID:   l.peer(),
		}); err != nil {
			l.logger.Warnw("Failed to send ICE candidate", "error", err)
		}
	case EventConnectionState:
		l.conn = ev.Conn
		l.react(ctx, Decide(l.cfg.Role, SignalConnection, l.conn, l.ice, l.budget()))
	case EventICEState:
		l.ice = ev.ICE
		l.react(ctx, Decide(l.cfg.Role, SignalICE, l.conn, l.ice, l.budget()))
	}
}

func (l *Link) budget() Budget {
	return Budget{
		Retried:         l.retried,
		ICERestarts:     l.iceRestarts,
		MaxICERestarts:  l.cfg.MaxICERestarts,
		RestartInFlight: l.restartInFlight,
	}
}

func (l *Link) react(ctx context.Context, action Action) {
	switch action {
	case ActionChecking:
		if l.restartInFlight {
			return
		}
		switch l.state {
		case StateAnswered, StateICEChecking, StateDisconnected, StateConnected:
			l.setState(StateICEChecking, nil)
		}
	case ActionConnected:
		l.restartInFlight = false
		l.setState(StateConnected, nil)
	case ActionDisconnected:
		if l.restartInFlight {
			return
		}
		l.setState(StateDisconnected, domain.ErrTransportRecoverable)
	case ActionRestartICE:
		l.iceRestarts++
		l.restartInFlight = true
		l.logger.Infow("Restarting ICE", "attempt", l.iceRestarts)
		if err := l.sendOffer(ctx, true); err != nil {
			l.logger.Warnw("ICE restart failed", "error", err)
		}
	case ActionRelayRetry:
		if l.cfg.Role == RolePresenter {
			if err := l.relayRestart(ctx); err != nil {
				l.logger.Warnw("Relay restart failed", "error", err)
			}
			return
		}
		l.requestRelay(ctx)
	case ActionFail:
		l.fail(ctx, fmt.Errorf("connection failed in %s mode", l.mode))
	}
}

func (l *Link) relayRestart(ctx context.Context) error {
	l.logger.Infow("Retrying with relay-only transport")
	l.closeTransport()
	l.retried = true
	l.restartInFlight = false
	l.mode = ModeRelay
	if err := l.openTransport(); err != nil {
		l.fail(ctx, err)
		return err
	}
	return l.sendOffer(ctx, false)
}

// requestRelay is the viewer half of the relay retry: drop the failed
// transport and ask the presenter for a relay-only offer.
func (l *Link) requestRelay(ctx context.Context) {
	l.logger.Infow("Requesting relay retry from presenter")
	l.closeTransport()
	l.retried = true
	l.mode = ModeRelay
	l.setState(StateReconnecting, domain.ErrTransportRecoverable)
	if err := l.cfg.Signaler.Send(ctx, domain.EventRetryWithRelay, domain.RetryWithRelayPayload{
		RoomCode: l.cfg.RoomCode,
		UserID:   l.cfg.ViewerID,
		UserName: l.cfg.SelfName,
	}); err != nil {
		l.logger.Warnw("Failed to send retry-with-relay", "error", err)
	}
}

func (l *Link) sendOffer(ctx context.Context, iceRestart bool) error {
	offer, err := l.transport.CreateOffer(iceRestart)
	if err != nil {
		l.fail(ctx, fmt.Errorf("create offer: %w", err))
		return err
	}
	event := domain.EventOffer
	if iceRestart {
		event = domain.EventICERestart
	}
	if err := l.cfg.Signaler.Send(ctx, event, DescriptionPayload{
		RoomCode:   l.cfg.RoomCode,
		SDP:        offer,
		FromUserID: l.self(),
		ToUserID:   l.peer(),
	}); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	if iceRestart {
		l.setState(StateReconnecting, domain.ErrTransportRecoverable)
	} else {
		l.setState(StateOfferSent, nil)
	}
	return nil
}

func (l *Link) fail(ctx context.Context, cause error) {
	if l.state.Terminal() {
		return
	}
	l.closeTransport()
	l.setState(StateFailed, fmt.Errorf("%w: %v", domain.ErrTransportTerminal, cause))
	if l.cfg.Role != RolePresenter {
		return
	}
	if err := l.cfg.Signaler.Send(ctx, domain.EventConnectionError, ConnectionErrorPayload{
		RoomCode:   l.cfg.RoomCode,
		FromUserID: l.cfg.PresenterID,
		ToUserID:   l.cfg.ViewerID,
		Error:      cause.Error(),
	}); err != nil {
		l.logger.Warnw("Failed to send connection error", "error", err)
	}
}

// Close tears the link down. Closing is idempotent.
func (l *Link) Close() {
	if l.state == StateClosed {
		return
	}
	l.closeTransport()
	l.pending = nil
	l.setState(StateClosed, nil)
}

func (l *Link) openTransport() error {
	l.generation++
	t, err := l.cfg.Factory.NewTransport(TransportConfig{
		Role:       l.cfg.Role,
		Mode:       l.mode,
		Generation: l.generation,
		Sink:       l.cfg.Sink,
	})
	if err != nil {
		return fmt.Errorf("open %s transport: %w", l.mode, err)
	}
	l.transport = t
	l.remoteSet = false
	l.conn = webrtc.PeerConnectionStateNew
	l.ice = webrtc.ICEConnectionStateNew
	return nil
}

func (l *Link) closeTransport() {
	if l.transport == nil {
		return
	}
	if err := l.transport.Close(); err != nil {
		l.logger.Debugw("Transport close error", "error", err)
	}
	l.transport = nil
	l.remoteSet = false
	l.generation++
}

// setState moves the link forward. FAILED may only become CLOSED and
// CLOSED is final.
func (l *Link) setState(to State, err error) {
	from := l.state
	if from == StateClosed || (from == StateFailed && to != StateClosed) || from == to {
		return
	}
	l.state = to
	l.logger.Debugw("Link state changed", "from", from.String(), "to", to.String(), "mode", string(l.mode))
	if l.cfg.OnChange != nil {
		l.cfg.OnChange(Change{
			PresenterID: l.cfg.PresenterID,
			ViewerID:    l.cfg.ViewerID,
			From:        from,
			To:          to,
			Mode:        l.mode,
			Err:         err,
		})
	}
}
