package peerlink_test

import (
	"context"
	"testing"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/peerlink"
	"studyroom/internal/core/peerlink/peerlinktest"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	link     *peerlink.Link
	factory  *peerlinktest.Factory
	signaler *peerlinktest.Signaler
	changes  []peerlink.Change
}

func newHarness(role peerlink.Role, mode peerlink.Mode) *harness {
	h := &harness{
		factory:  &peerlinktest.Factory{},
		signaler: &peerlinktest.Signaler{},
	}
	h.link = peerlink.New(peerlink.Config{
		Role:           role,
		RoomCode:       "ROOM1",
		PresenterID:    "alice",
		ViewerID:       "bob",
		SelfName:       "Bob",
		Mode:           mode,
		MaxICERestarts: 1,
		Factory:        h.factory,
		Signaler:       h.signaler,
		OnChange:       func(c peerlink.Change) { h.changes = append(h.changes, c) },
	})
	return h
}

// emit feeds events straight into the link, the way the controller loop
// does after receiving them from the sink.
func (h *harness) emit(events ...peerlink.TransportEvent) {
	for _, ev := range events {
		h.link.HandleTransportEvent(context.Background(), ev)
	}
}

func (h *harness) connect() {
	tr := h.factory.Last()
	h.emit(tr.ICE(webrtc.ICEConnectionStateChecking), tr.ICE(webrtc.ICEConnectionStateConnected), tr.Connection(webrtc.PeerConnectionStateConnected))
}

func offer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}
}

func answer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
}

func candidate(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func TestLink_PresenterNegotiation(t *testing.T) {
	h := newHarness(peerlink.RolePresenter, peerlink.ModeDirect)
	ctx := context.Background()

	require.NoError(t, h.link.Start(ctx))
	assert.Equal(t, peerlink.StateOfferSent, h.link.State())

	var sent peerlink.DescriptionPayload
	require.True(t, h.signaler.Last(domain.EventOffer, &sent))
	assert.Equal(t, domain.UserID("alice"), sent.FromUserID)
	assert.Equal(t, domain.UserID("bob"), sent.ToUserID)
	assert.Equal(t, webrtc.SDPTypeOffer, sent.SDP.Type)

	require.NoError(t, h.link.HandleAnswer(ctx, answer()))
	assert.Equal(t, peerlink.StateICEChecking, h.link.State())

	tr := h.factory.Last()
	h.emit(tr.LocalCandidate("candidate:1 1 udp 1 10.0.0.1 5000 typ host"))
	var cand peerlink.CandidatePayload
	require.True(t, h.signaler.Last(domain.EventICECandidate, &cand))
	assert.Equal(t, domain.UserID("bob"), cand.ToUserID)

	h.connect()
	assert.Equal(t, peerlink.StateConnected, h.link.State())
	assert.Equal(t, peerlink.ModeDirect, h.link.Mode())
}

func TestLink_CandidatesQueuedUntilRemoteDescription(t *testing.T) {
	h := newHarness(peerlink.RoleViewer, peerlink.ModeDirect)
	ctx := context.Background()

	h.link.AddRemoteCandidate(candidate("c1"))
	h.link.AddRemoteCandidate(candidate("c2"))
	h.link.AddRemoteCandidate(candidate("c3"))
	assert.Equal(t, 3, h.link.PendingCandidates())

	require.NoError(t, h.link.HandleOffer(ctx, offer()))
	assert.Equal(t, peerlink.StateAnswered, h.link.State())
	assert.Equal(t, 0, h.link.PendingCandidates())

	tr := h.factory.Last()
	require.Len(t, tr.Candidates, 3)
	assert.Equal(t, "c1", tr.Candidates[0].Candidate)
	assert.Equal(t, "c2", tr.Candidates[1].Candidate)
	assert.Equal(t, "c3", tr.Candidates[2].Candidate)

	h.link.AddRemoteCandidate(candidate("c4"))
	require.Len(t, tr.Candidates, 4)

	var ans peerlink.DescriptionPayload
	require.True(t, h.signaler.Last(domain.EventAnswer, &ans))
	assert.Equal(t, domain.UserID("bob"), ans.FromUserID)
	assert.Equal(t, domain.UserID("alice"), ans.ToUserID)
}

func TestLink_DuplicateAnswerIgnored(t *testing.T) {
	h := newHarness(peerlink.RolePresenter, peerlink.ModeDirect)
	ctx := context.Background()

	require.NoError(t, h.link.Start(ctx))
	require.NoError(t, h.link.HandleAnswer(ctx, answer()))
	h.connect()
	require.NoError(t, h.link.HandleAnswer(ctx, answer()))

	assert.Len(t, h.factory.Last().Remote, 1)
	assert.Equal(t, peerlink.StateConnected, h.link.State())
}

func TestLink_ViewerRelayRetryRecovers(t *testing.T) {
	h := newHarness(peerlink.RoleViewer, peerlink.ModeDirect)
	ctx := context.Background()

	require.NoError(t, h.link.HandleOffer(ctx, offer()))
	h.connect()
	require.Equal(t, peerlink.StateConnected, h.link.State())

	first := h.factory.Last()
	h.emit(first.Connection(webrtc.PeerConnectionStateFailed))

	assert.True(t, first.Closed)
	assert.True(t, h.link.Retried())
	assert.Equal(t, peerlink.StateReconnecting, h.link.State())

	var retry domain.RetryWithRelayPayload
	require.True(t, h.signaler.Last(domain.EventRetryWithRelay, &retry))
	assert.Equal(t, domain.UserID("bob"), retry.UserID)
	assert.Equal(t, "Bob", retry.UserName)

	// late callbacks from the closed transport change nothing
	h.emit(first.Connection(webrtc.PeerConnectionStateConnected))
	assert.Equal(t, peerlink.StateReconnecting, h.link.State())

	require.NoError(t, h.link.HandleOffer(ctx, offer()))
	second := h.factory.Last()
	require.NotSame(t, first, second)
	assert.Equal(t, peerlink.ModeRelay, second.Cfg.Mode)

	h.connect()
	assert.Equal(t, peerlink.StateConnected, h.link.State())
	assert.Equal(t, peerlink.ModeRelay, h.link.Mode())
	assert.True(t, h.link.Retried())
}

func TestLink_ViewerSecondFailureIsTerminal(t *testing.T) {
	h := newHarness(peerlink.RoleViewer, peerlink.ModeDirect)
	ctx := context.Background()

	require.NoError(t, h.link.HandleOffer(ctx, offer()))
	h.connect()
	h.emit(h.factory.Last().Connection(webrtc.PeerConnectionStateFailed))
	require.NoError(t, h.link.HandleOffer(ctx, offer()))
	h.connect()
	h.emit(h.factory.Last().Connection(webrtc.PeerConnectionStateFailed))

	assert.Equal(t, peerlink.StateFailed, h.link.State())
	assert.True(t, h.factory.Last().Closed)
	assert.Equal(t, 2, h.factory.Count())

	last := h.changes[len(h.changes)-1]
	assert.ErrorIs(t, last.Err, domain.ErrTransportTerminal)

	// nothing moves a failed link except Close
	require.NoError(t, h.link.HandleOffer(ctx, offer()))
	assert.Equal(t, peerlink.StateFailed, h.link.State())
	assert.Equal(t, 2, h.factory.Count())

	h.link.Close()
	assert.Equal(t, peerlink.StateClosed, h.link.State())
}

func TestLink_PresenterICERestartThenRelay(t *testing.T) {
	h := newHarness(peerlink.RolePresenter, peerlink.ModeDirect)
	ctx := context.Background()

	require.NoError(t, h.link.Start(ctx))
	require.NoError(t, h.link.HandleAnswer(ctx, answer()))
	h.connect()
	first := h.factory.Last()

	h.emit(first.ICE(webrtc.ICEConnectionStateFailed))
	assert.Equal(t, peerlink.StateReconnecting, h.link.State())
	assert.Equal(t, 1, h.link.ICERestarts())
	assert.Equal(t, 1, first.Restarts)
	assert.Contains(t, h.signaler.Events(), domain.EventICERestart)

	// the connection failure that trails the ICE failure waits for the restart
	h.emit(first.Connection(webrtc.PeerConnectionStateFailed))
	assert.Equal(t, peerlink.StateReconnecting, h.link.State())
	assert.False(t, first.Closed)

	require.NoError(t, h.link.HandleRetryWithRelay(ctx))
	assert.True(t, first.Closed)
	assert.True(t, h.link.Retried())
	assert.Equal(t, peerlink.StateOfferSent, h.link.State())
	second := h.factory.Last()
	assert.Equal(t, peerlink.ModeRelay, second.Cfg.Mode)

	// a second request for the same failure is a duplicate
	require.NoError(t, h.link.HandleRetryWithRelay(ctx))
	assert.Equal(t, 2, h.factory.Count())

	require.NoError(t, h.link.HandleAnswer(ctx, answer()))
	h.connect()
	assert.Equal(t, peerlink.StateConnected, h.link.State())
	assert.Equal(t, peerlink.ModeRelay, h.link.Mode())
}

func TestLink_PresenterFailureSendsConnectionError(t *testing.T) {
	h := newHarness(peerlink.RolePresenter, peerlink.ModeDirect)
	ctx := context.Background()

	require.NoError(t, h.link.Start(ctx))
	require.NoError(t, h.link.HandleAnswer(ctx, answer()))
	h.connect()
	require.NoError(t, h.link.HandleRetryWithRelay(ctx))
	require.NoError(t, h.link.HandleAnswer(ctx, answer()))
	h.connect()

	tr := h.factory.Last()
	h.emit(tr.Connection(webrtc.PeerConnectionStateFailed))
	assert.Equal(t, peerlink.StateFailed, h.link.State())

	var payload peerlink.ConnectionErrorPayload
	require.True(t, h.signaler.Last(domain.EventConnectionError, &payload))
	assert.Equal(t, domain.UserID("bob"), payload.ToUserID)
	assert.NotEmpty(t, payload.Error)
}

func TestLink_ICERestartOnViewer(t *testing.T) {
	h := newHarness(peerlink.RoleViewer, peerlink.ModeDirect)
	ctx := context.Background()

	// a restart before any offer has nothing to restart
	require.NoError(t, h.link.HandleICERestart(ctx, offer()))
	assert.Equal(t, 0, h.factory.Count())

	require.NoError(t, h.link.HandleOffer(ctx, offer()))
	h.connect()
	tr := h.factory.Last()
	h.emit(tr.ICE(webrtc.ICEConnectionStateDisconnected))
	assert.Equal(t, peerlink.StateDisconnected, h.link.State())

	require.NoError(t, h.link.HandleICERestart(ctx, offer()))
	assert.Equal(t, peerlink.StateReconnecting, h.link.State())
	assert.Same(t, tr, h.factory.Last())
	assert.Len(t, tr.Remote, 2)

	h.emit(tr.ICE(webrtc.ICEConnectionStateConnected))
	assert.Equal(t, peerlink.StateConnected, h.link.State())
}

func TestLink_RelayModeFromStart(t *testing.T) {
	h := newHarness(peerlink.RolePresenter, peerlink.ModeRelay)
	require.NoError(t, h.link.Start(context.Background()))
	assert.Equal(t, peerlink.ModeRelay, h.factory.Last().Cfg.Mode)
	assert.False(t, h.link.Retried())
}

func TestLink_ConnectionErrorEndsViewer(t *testing.T) {
	h := newHarness(peerlink.RoleViewer, peerlink.ModeDirect)
	require.NoError(t, h.link.HandleOffer(context.Background(), offer()))

	h.link.HandleConnectionError("relay unreachable")
	assert.Equal(t, peerlink.StateFailed, h.link.State())
	assert.True(t, h.factory.Last().Closed)

	h.link.Close()
	h.link.Close()
	assert.Equal(t, peerlink.StateClosed, h.link.State())
}
