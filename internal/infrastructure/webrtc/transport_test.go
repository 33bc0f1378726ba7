package webrtc

import (
	"strings"
	"testing"

	"studyroom/internal/core/peerlink"
	"studyroom/pkg/config"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newFactory(t *testing.T) *Factory {
	t.Helper()
	f, err := NewFactory(Config{}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return f
}

func TestTransport_OfferAnswer(t *testing.T) {
	f := newFactory(t)

	presenter, err := f.NewTransport(peerlink.TransportConfig{Role: peerlink.RolePresenter, Mode: peerlink.ModeDirect, Generation: 1})
	require.NoError(t, err)
	defer presenter.Close()
	viewer, err := f.NewTransport(peerlink.TransportConfig{Role: peerlink.RoleViewer, Mode: peerlink.ModeDirect, Generation: 1})
	require.NoError(t, err)
	defer viewer.Close()

	offer, err := presenter.CreateOffer(false)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=video")
	assert.Contains(t, offer.SDP, "a=sendonly")
	assert.NotContains(t, offer.SDP, "a=sendrecv")
	assert.Equal(t, webrtc.SignalingStateHaveLocalOffer, presenter.SignalingState())

	require.NoError(t, viewer.SetRemoteDescription(offer))
	answer, err := viewer.CreateAnswer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Contains(t, answer.SDP, "a=recvonly")
	assert.Equal(t, webrtc.SignalingStateStable, viewer.SignalingState())

	require.NoError(t, presenter.SetRemoteDescription(answer))
	assert.Equal(t, webrtc.SignalingStateStable, presenter.SignalingState())
}

func TestTransport_ICERestartChangesCredentials(t *testing.T) {
	f := newFactory(t)
	presenter, err := f.NewTransport(peerlink.TransportConfig{Role: peerlink.RolePresenter})
	require.NoError(t, err)
	defer presenter.Close()
	viewer, err := f.NewTransport(peerlink.TransportConfig{Role: peerlink.RoleViewer})
	require.NoError(t, err)
	defer viewer.Close()

	offer, err := presenter.CreateOffer(false)
	require.NoError(t, err)
	require.NoError(t, viewer.SetRemoteDescription(offer))
	answer, err := viewer.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, presenter.SetRemoteDescription(answer))

	restart, err := presenter.CreateOffer(true)
	require.NoError(t, err)
	assert.NotEqual(t, iceUfrag(offer.SDP), iceUfrag(restart.SDP))
}

func TestTransport_RelayModeSetsPolicy(t *testing.T) {
	f := newFactory(t)

	direct, err := f.NewTransport(peerlink.TransportConfig{Role: peerlink.RoleViewer, Mode: peerlink.ModeDirect})
	require.NoError(t, err)
	defer direct.Close()
	relay, err := f.NewTransport(peerlink.TransportConfig{Role: peerlink.RoleViewer, Mode: peerlink.ModeRelay})
	require.NoError(t, err)
	defer relay.Close()

	assert.Equal(t, webrtc.ICETransportPolicyAll, direct.(*transport).pc.GetConfiguration().ICETransportPolicy)
	assert.Equal(t, webrtc.ICETransportPolicyRelay, relay.(*transport).pc.GetConfiguration().ICETransportPolicy)
}

func TestTransport_EventsCarryGeneration(t *testing.T) {
	var got []peerlink.TransportEvent
	tr := &transport{gen: 7, sink: func(ev peerlink.TransportEvent) { got = append(got, ev) }}

	tr.emit(peerlink.TransportEvent{Kind: peerlink.EventICEState, ICE: webrtc.ICEConnectionStateChecking})
	require.Len(t, got, 1)
	assert.Equal(t, uint64(7), got[0].Generation)

	silent := &transport{gen: 1}
	silent.emit(peerlink.TransportEvent{Kind: peerlink.EventICEState})
}

func TestNewFactory_DefaultSource(t *testing.T) {
	f, err := NewFactory(Config{}, zap.NewNop().Sugar(), WithVideoSource(nil))
	require.NoError(t, err)
	assert.NotNil(t, f.Source(), "a default track is created when none is given")
}

func TestConfigFrom(t *testing.T) {
	cfg := &config.Config{}
	cfg.WebRTC.ICEServers = []config.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"},
	}
	cfg.WebRTC.PortRange.Min = 50000
	cfg.WebRTC.PortRange.Max = 50100

	c := ConfigFrom(cfg)
	require.Len(t, c.ICEServers, 2)
	assert.Nil(t, c.ICEServers[0].Credential)
	assert.Equal(t, "p", c.ICEServers[1].Credential)
	assert.Equal(t, webrtc.ICECredentialTypePassword, c.ICEServers[1].CredentialType)
	assert.Equal(t, uint16(50000), c.PortRange.Min)

	_, err := NewFactory(c, zap.NewNop().Sugar())
	require.NoError(t, err)
}

func iceUfrag(sdp string) string {
	for _, line := range strings.Split(sdp, "\r\n") {
		if strings.HasPrefix(line, "a=ice-ufrag:") {
			return line
		}
	}
	return ""
}
