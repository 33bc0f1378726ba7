package client

import (
	"context"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/peerlink"
)

func (c *Controller) dispatch(ctx context.Context, msg domain.Message) {
	var err error
	switch msg.Event {
	case domain.EventParticipants:
		var p domain.ParticipantsPayload
		if err = msg.Decode(&p); err == nil {
			c.participants = p.Participants
		}
	case domain.EventPresenterStarted:
		var p domain.PresenterStartedPayload
		if err = msg.Decode(&p); err == nil {
			c.onPresenterStarted(p)
		}
	case domain.EventPresenterStopped:
		var p domain.PresenterStoppedPayload
		if err = msg.Decode(&p); err == nil {
			c.onPresenterStopped(p)
		}
	case domain.EventViewersUpdate:
		var p domain.ViewersUpdatePayload
		if err = msg.Decode(&p); err == nil {
			c.onViewersUpdate(p)
		}
	case domain.EventRequestView:
		var p domain.RequestViewPayload
		if err = msg.Decode(&p); err == nil {
			c.onRequestView(ctx, p)
		}
	case domain.EventOffer, domain.EventICERestart:
		var p peerlink.DescriptionPayload
		if err = msg.Decode(&p); err == nil {
			c.onOffer(ctx, p, msg.Event == domain.EventICERestart)
		}
	case domain.EventAnswer:
		var p peerlink.DescriptionPayload
		if err = msg.Decode(&p); err == nil {
			c.onAnswer(ctx, p)
		}
	case domain.EventICECandidate:
		var p peerlink.CandidatePayload
		if err = msg.Decode(&p); err == nil {
			c.onCandidate(p)
		}
	case domain.EventRetryWithRelay:
		var p domain.RetryWithRelayPayload
		if err = msg.Decode(&p); err == nil {
			c.onRetryWithRelay(ctx, p)
		}
	case domain.EventConnectionError:
		var p peerlink.ConnectionErrorPayload
		if err = msg.Decode(&p); err == nil {
			c.onConnectionError(p)
		}
	case domain.EventError:
		var p domain.ErrorPayload
		if err = msg.Decode(&p); err == nil {
			c.status(StatusUpdate{Status: StatusError, Message: p.Message})
		}
	default:
		c.logger.Debugw("Ignoring event", "event", msg.Event)
	}
	if err != nil {
		c.logger.Warnw("Dropping malformed message", "event", msg.Event, "error", err)
	}
}

func (c *Controller) onPresenterStarted(p domain.PresenterStartedPayload) {
	previous := c.presenterID
	c.presenterID = p.UserID
	c.presenterName = p.UserName

	if p.UserID == c.opts.UserID {
		if !c.presenting {
			c.presenting = true
			c.status(StatusUpdate{Status: StatusPresenting})
		}
		return
	}
	// someone else took over
	if c.presenting {
		c.endPresenting(p.UserName + " started presenting")
	}
	if c.view != nil && c.view.PresenterID() != p.UserID {
		c.logger.Debugw("Presenter changed, dropping view", "previous", previous, "presenter_id", p.UserID)
		c.closeView()
	}
}

func (c *Controller) onPresenterStopped(p domain.PresenterStoppedPayload) {
	if c.presenterID == p.UserID {
		c.presenterID = ""
		c.presenterName = ""
	}
	if p.UserID == c.opts.UserID {
		c.endPresenting("presentation ended")
		return
	}
	if c.view != nil && c.view.PresenterID() == p.UserID {
		c.closeView()
		c.status(StatusUpdate{Status: StatusStopped, Peer: p.UserID, Message: "presentation ended"})
	}
}

// onViewersUpdate closes links of viewers that left.
func (c *Controller) onViewersUpdate(p domain.ViewersUpdatePayload) {
	c.viewers = p.Viewers
	if !c.presenting {
		return
	}
	listed := make(map[domain.UserID]bool, len(p.Viewers))
	for _, v := range p.Viewers {
		listed[v.UserID] = true
	}
	for id, link := range c.links {
		if !listed[id] {
			c.logger.Debugw("Viewer left, closing link", "viewer_id", id)
			link.Close()
			delete(c.links, id)
		}
	}
}

func (c *Controller) onRequestView(ctx context.Context, p domain.RequestViewPayload) {
	if !c.presenting || p.UserID == "" || p.UserID == c.opts.UserID {
		return
	}
	// a repeated request replaces the old link, e.g. after a viewer timeout
	if old, ok := c.links[p.UserID]; ok {
		old.Close()
	}
	link := c.newLink(peerlink.RolePresenter, c.opts.UserID, p.UserID, c.viewerMode(p.IsMobile))
	c.links[p.UserID] = link
	if err := link.Start(ctx); err != nil {
		c.logger.Warnw("Failed to start link", "viewer_id", p.UserID, "error", err)
	}
}

func (c *Controller) onOffer(ctx context.Context, p peerlink.DescriptionPayload, restart bool) {
	if p.ToUserID != c.opts.UserID || p.FromUserID == "" {
		return
	}
	if restart {
		if c.view != nil && c.view.PresenterID() == p.FromUserID {
			if err := c.view.HandleICERestart(ctx, p.SDP); err != nil {
				c.logger.Warnw("ICE restart failed", "error", err)
			}
		}
		return
	}
	if c.view == nil || c.view.PresenterID() != p.FromUserID {
		c.closeView()
		c.view = c.newLink(peerlink.RoleViewer, p.FromUserID, c.opts.UserID, c.viewerMode(c.opts.IsMobile))
	}
	if c.viewTimer != nil {
		c.viewTimer.Stop()
		c.viewTimer = nil
	}
	if err := c.view.HandleOffer(ctx, p.SDP); err != nil {
		c.logger.Warnw("Failed to answer offer", "presenter_id", p.FromUserID, "error", err)
	}
}

func (c *Controller) onAnswer(ctx context.Context, p peerlink.DescriptionPayload) {
	if p.ToUserID != c.opts.UserID {
		return
	}
	link, ok := c.links[p.FromUserID]
	if !ok {
		return
	}
	if err := link.HandleAnswer(ctx, p.SDP); err != nil {
		c.logger.Warnw("Failed to apply answer", "viewer_id", p.FromUserID, "error", err)
	}
}

func (c *Controller) onCandidate(p peerlink.CandidatePayload) {
	if p.ToUserID != c.opts.UserID {
		return
	}
	if link, ok := c.links[p.FromUserID]; ok {
		link.AddRemoteCandidate(p.Candidate)
		return
	}
	if c.view != nil && c.view.PresenterID() == p.FromUserID {
		c.view.AddRemoteCandidate(p.Candidate)
	}
}

func (c *Controller) onRetryWithRelay(ctx context.Context, p domain.RetryWithRelayPayload) {
	link, ok := c.links[p.UserID]
	if !c.presenting || !ok {
		return
	}
	if err := link.HandleRetryWithRelay(ctx); err != nil {
		c.logger.Warnw("Relay retry failed", "viewer_id", p.UserID, "error", err)
	}
}

func (c *Controller) onConnectionError(p peerlink.ConnectionErrorPayload) {
	if p.ToUserID != c.opts.UserID || c.view == nil {
		return
	}
	if p.FromUserID != "" && p.FromUserID != c.view.PresenterID() {
		return
	}
	// the link reports the failure through its change callback
	c.view.HandleConnectionError(p.Error)
	c.closeView()
}
