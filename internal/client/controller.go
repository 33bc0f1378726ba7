package client

import (
	"context"
	"fmt"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/peerlink"

	"go.uber.org/zap"
)

// linkEvent carries the link that created the transport, so callbacks from
// a replaced link never reach its successor.
type linkEvent struct {
	link *peerlink.Link
	role peerlink.Role
	peer domain.UserID
	ev   peerlink.TransportEvent
}

type command struct {
	run  func(ctx context.Context) error
	done chan error
}

// Controller is the client half of a screen share. Everything it owns is
// touched only by the goroutine running Run: inbound signaling, transport
// callbacks, timers and local commands are all funneled through channels.
type Controller struct {
	opts   Options
	conn   Connection
	logger *zap.SugaredLogger

	joined        bool
	presenting    bool
	presenterID   domain.UserID
	presenterName string
	participants  []domain.UserRef
	viewers       []domain.UserRef

	// links holds one presenter-side link per viewer.
	links map[domain.UserID]*peerlink.Link
	// view is the viewer-side link to the current presenter.
	view      *peerlink.Link
	viewSeq   uint64
	viewTimer *time.Timer

	events   chan linkEvent
	commands chan command
	timeouts chan uint64
	done     chan struct{}
}

func NewController(conn Connection, opts Options) *Controller {
	opts.setDefaults()
	return &Controller{
		opts: opts,
		conn: conn,
		logger: opts.Logger.With(
			"room_code", opts.RoomCode,
			"user_id", opts.UserID,
		),
		links:    make(map[domain.UserID]*peerlink.Link),
		events:   make(chan linkEvent, 256),
		commands: make(chan command),
		timeouts: make(chan uint64, 4),
		done:     make(chan struct{}),
	}
}

// Run processes events until ctx is done or the connection closes. All
// links are closed on the way out.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.closeAll()

	incoming := c.conn.Incoming()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-incoming:
			if !ok {
				return ErrConnectionClosed
			}
			c.dispatch(ctx, msg)
		case le := <-c.events:
			c.handleLinkEvent(ctx, le)
		case seq := <-c.timeouts:
			c.handleViewTimeout(seq)
		case cmd := <-c.commands:
			cmd.done <- cmd.run(ctx)
		}
	}
}

// do runs fn on the event loop and waits for its result.
func (c *Controller) do(ctx context.Context, fn func(ctx context.Context) error) error {
	cmd := command{run: fn, done: make(chan error, 1)}
	select {
	case c.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrConnectionClosed
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) JoinRoom(ctx context.Context) error { return c.do(ctx, c.joinRoom) }

func (c *Controller) StartPresenting(ctx context.Context) error {
	return c.do(ctx, c.startPresenting)
}

func (c *Controller) StopPresenting(ctx context.Context) error { return c.do(ctx, c.stopPresenting) }

func (c *Controller) RequestView(ctx context.Context) error { return c.do(ctx, c.requestView) }

func (c *Controller) Leave(ctx context.Context) error { return c.do(ctx, c.leave) }

func (c *Controller) joinRoom(ctx context.Context) error {
	if err := c.conn.Send(ctx, domain.EventJoinChannel, domain.ChannelPayload{RoomCode: c.opts.RoomCode}); err != nil {
		return fmt.Errorf("subscribe to room: %w", err)
	}
	if err := c.conn.Send(ctx, domain.EventJoin, domain.JoinPayload{
		RoomCode: c.opts.RoomCode,
		UserID:   c.opts.UserID,
		UserName: c.opts.UserName,
	}); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	c.joined = true
	c.status(StatusUpdate{Status: StatusJoined})
	return nil
}

// startPresenting only asks. The session is ours once the server
// broadcasts presenter-started for this user.
func (c *Controller) startPresenting(ctx context.Context) error {
	if !c.opts.AllowPresenting {
		return ErrPresentingNotAllowed
	}
	if !c.joined {
		return ErrNotJoined
	}
	return c.conn.Send(ctx, domain.EventStartPresenting, domain.StartPresentingPayload{
		RoomCode: c.opts.RoomCode,
		UserID:   c.opts.UserID,
		UserName: c.opts.UserName,
	})
}

func (c *Controller) stopPresenting(ctx context.Context) error {
	if !c.presenting {
		return nil
	}
	c.endPresenting("stopped presenting")
	return c.conn.Send(ctx, domain.EventStopPresenting, domain.StopPresentingPayload{
		RoomCode: c.opts.RoomCode,
		UserID:   c.opts.UserID,
	})
}

func (c *Controller) requestView(ctx context.Context) error {
	if !c.joined {
		return ErrNotJoined
	}
	if c.presenterID == "" || c.presenterID == c.opts.UserID {
		return domain.ErrNoActivePresenter
	}
	c.closeView()

	c.view = c.newLink(peerlink.RoleViewer, c.presenterID, c.opts.UserID, c.viewerMode(c.opts.IsMobile))
	c.viewSeq++
	seq := c.viewSeq
	c.viewTimer = time.AfterFunc(c.opts.RequestViewTimeout, func() {
		select {
		case c.timeouts <- seq:
		case <-c.done:
		}
	})

	if err := c.conn.Send(ctx, domain.EventRequestView, domain.RequestViewPayload{
		RoomCode: c.opts.RoomCode,
		UserID:   c.opts.UserID,
		UserName: c.opts.UserName,
		IsMobile: c.opts.IsMobile,
	}); err != nil {
		c.closeView()
		return fmt.Errorf("request view: %w", err)
	}
	c.status(StatusUpdate{Status: StatusRequesting, Peer: c.presenterID})
	return nil
}

func (c *Controller) leave(ctx context.Context) error {
	if !c.joined {
		return nil
	}
	c.closeAll()
	c.presenting = false
	c.joined = false
	return c.conn.Send(ctx, domain.EventLeave, domain.LeavePayload{
		RoomCode: c.opts.RoomCode,
		UserID:   c.opts.UserID,
	})
}

func (c *Controller) viewerMode(mobile bool) peerlink.Mode {
	if mobile && !c.opts.DirectOnMobile {
		return peerlink.ModeRelay
	}
	return peerlink.ModeDirect
}

func (c *Controller) newLink(role peerlink.Role, presenter, viewer domain.UserID, mode peerlink.Mode) *peerlink.Link {
	peer := viewer
	if role == peerlink.RoleViewer {
		peer = presenter
	}
	var link *peerlink.Link
	link = peerlink.New(peerlink.Config{
		Role:           role,
		RoomCode:       c.opts.RoomCode,
		PresenterID:    presenter,
		ViewerID:       viewer,
		SelfName:       c.opts.UserName,
		Mode:           mode,
		MaxICERestarts: c.opts.MaxICERestarts,
		Factory:        c.opts.Factory,
		Signaler:       c.conn,
		Sink: func(ev peerlink.TransportEvent) {
			select {
			case c.events <- linkEvent{link: link, role: role, peer: peer, ev: ev}:
			case <-c.done:
			}
		},
		OnChange: func(ch peerlink.Change) { c.linkChanged(role, peer, ch) },
		Logger:   c.logger,
	})
	return link
}

func (c *Controller) linkChanged(role peerlink.Role, peer domain.UserID, ch peerlink.Change) {
	switch ch.To {
	case peerlink.StateConnected:
		c.status(StatusUpdate{Status: StatusConnected, Peer: peer, Message: string(ch.Mode)})
	case peerlink.StateDisconnected, peerlink.StateReconnecting:
		if ch.From == peerlink.StateRequested || ch.From == peerlink.StateOfferSent {
			return
		}
		c.status(StatusUpdate{Status: StatusReconnecting, Peer: peer, Err: ch.Err})
	case peerlink.StateFailed:
		msg := "could not connect to " + string(peer)
		if role == peerlink.RoleViewer {
			msg = "could not connect to the presenter; check your network or try viewing again"
		}
		c.status(StatusUpdate{Status: StatusError, Peer: peer, Message: msg, Err: ch.Err})
	}
}

func (c *Controller) handleLinkEvent(ctx context.Context, le linkEvent) {
	current := c.view
	if le.role == peerlink.RolePresenter {
		current = c.links[le.peer]
	}
	if current == nil || current != le.link {
		c.logger.Debugw("Dropping event from replaced link", "peer_id", le.peer, "kind", le.ev.Kind)
		return
	}
	current.HandleTransportEvent(ctx, le.ev)
}

// handleViewTimeout gives up on a request-view that never got an offer.
func (c *Controller) handleViewTimeout(seq uint64) {
	if seq != c.viewSeq || c.view == nil || c.view.State() != peerlink.StateRequested {
		return
	}
	peer := c.view.PresenterID()
	c.logger.Infow("No offer received, giving up on view request", "presenter_id", peer)
	c.closeView()
	c.status(StatusUpdate{
		Status:  StatusTimeout,
		Peer:    peer,
		Message: "the presenter did not respond; try viewing again",
		Err:     domain.ErrNegotiationTimeout,
	})
}

// endPresenting tears down every presenter-side link.
func (c *Controller) endPresenting(reason string) {
	for id, link := range c.links {
		link.Close()
		delete(c.links, id)
	}
	if c.presenting {
		c.presenting = false
		c.status(StatusUpdate{Status: StatusStopped, Message: reason})
	}
}

func (c *Controller) closeView() {
	if c.viewTimer != nil {
		c.viewTimer.Stop()
		c.viewTimer = nil
	}
	if c.view != nil {
		c.view.Close()
		c.view = nil
	}
}

func (c *Controller) closeAll() {
	for id, link := range c.links {
		link.Close()
		delete(c.links, id)
	}
	c.closeView()
}

func (c *Controller) status(u StatusUpdate) {
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(u)
	}
}
