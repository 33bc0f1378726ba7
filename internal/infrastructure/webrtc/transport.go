package webrtc

import (
	"fmt"

	"studyroom/internal/core/peerlink"
	"studyroom/pkg/config"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config holds what every peer connection is created with.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

func ConfigFrom(cfg *config.Config) Config {
	var c Config
	for _, s := range cfg.WebRTC.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		c.ICEServers = append(c.ICEServers, server)
	}
	c.PortRange.Min = cfg.WebRTC.PortRange.Min
	c.PortRange.Max = cfg.WebRTC.PortRange.Max
	return c
}

// TrackHandler receives the presenter's video on the viewer side. It owns
// the track until Read fails.
type TrackHandler func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

type Option func(*Factory)

// WithVideoSource sets the track presenter transports send. Every viewer
// link shares it.
func WithVideoSource(track *webrtc.TrackLocalStaticRTP) Option {
	return func(f *Factory) { f.source = track }
}

func WithTrackHandler(h TrackHandler) Option {
	return func(f *Factory) { f.onTrack = h }
}

// Factory creates pion-backed transports for peer links.
type Factory struct {
	api     *webrtc.API
	cfg     Config
	source  *webrtc.TrackLocalStaticRTP
	onTrack TrackHandler
	logger  *zap.SugaredLogger
}

func NewFactory(cfg Config, logger *zap.SugaredLogger, opts ...Option) (*Factory, error) {
	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("port range: %w", err)
		}
	}

	f := &Factory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(media), webrtc.WithSettingEngine(settingEngine)),
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.source == nil {
		track, err := NewVideoTrack()
		if err != nil {
			return nil, err
		}
		f.source = track
	}
	return f, nil
}

// NewVideoTrack creates the VP8 track a presenter shares.
func NewVideoTrack() (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"screen",
		"studyroom-screen",
	)
}

func (f *Factory) Source() *webrtc.TrackLocalStaticRTP {
	return f.source
}

func (f *Factory) NewTransport(cfg peerlink.TransportConfig) (peerlink.Transport, error) {
	policy := webrtc.ICETransportPolicyAll
	if cfg.Mode == peerlink.ModeRelay {
		policy = webrtc.ICETransportPolicyRelay
	}
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         f.cfg.ICEServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	t := &transport{
		pc:     pc,
		gen:    cfg.Generation,
		sink:   cfg.Sink,
		logger: f.logger.With("role", cfg.Role.String(), "mode", string(cfg.Mode), "generation", cfg.Generation),
	}

	switch cfg.Role {
	case peerlink.RolePresenter:
		tr, err := pc.AddTransceiverFromTrack(f.source, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendonly,
		})
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("add video track: %w", err)
		}
		go t.readRTCP(tr.Sender())
	case peerlink.RoleViewer:
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add video transceiver: %w", err)
		}
		pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
			t.logger.Infow("Receiving presenter track", "codec", track.Codec().MimeType, "ssrc", track.SSRC())
			if f.onTrack != nil {
				f.onTrack(track, receiver)
				return
			}
			discard(track)
		})
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		t.emit(peerlink.TransportEvent{Kind: peerlink.EventLocalCandidate, Candidate: c.ToJSON()})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.logger.Debugw("Peer connection state changed", "state", s.String())
		t.emit(peerlink.TransportEvent{Kind: peerlink.EventConnectionState, Conn: s})
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		t.logger.Debugw("ICE connection state changed", "state", s.String())
		t.emit(peerlink.TransportEvent{Kind: peerlink.EventICEState, ICE: s})
	})
	return t, nil
}

type transport struct {
	pc     *webrtc.PeerConnection
	gen    uint64
	sink   func(peerlink.TransportEvent)
	logger *zap.SugaredLogger
}

func (t *transport) emit(ev peerlink.TransportEvent) {
	if t.sink == nil {
		return
	}
	ev.Generation = t.gen
	t.sink(ev)
}

func (t *transport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return offer, nil
}

func (t *transport) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return answer, nil
}

func (t *transport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(desc)
}

func (t *transport) AddICECandidate(c webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(c)
}

func (t *transport) SignalingState() webrtc.SignalingState {
	return t.pc.SignalingState()
}

func (t *transport) Close() error {
	return t.pc.Close()
}

// readRTCP drains the sender's RTCP so interceptors keep running, and
// logs keyframe requests from the viewer.
func (t *transport) readRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range packets {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				t.logger.Debugw("Viewer requested keyframe")
			}
		}
	}
}

func discard(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
