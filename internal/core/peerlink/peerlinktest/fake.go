// Package peerlinktest provides in-memory transports and signalers for
// exercising peer links without a network.
package peerlinktest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"studyroom/internal/core/peerlink"

	"github.com/pion/webrtc/v3"
)

// Transport records every call made on it. Offer and answer SDPs are
// stamped with the transport mode and generation so tests can tell
// transports apart.
type Transport struct {
	mu         sync.Mutex
	Cfg        peerlink.TransportConfig
	Remote     []webrtc.SessionDescription
	Candidates []webrtc.ICECandidateInit
	Restarts   int
	Closed     bool
	signaling  webrtc.SignalingState
	FailOffer  bool
}

var errClosed = errors.New("transport closed")

func (t *Transport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Closed {
		return webrtc.SessionDescription{}, errClosed
	}
	if t.FailOffer {
		return webrtc.SessionDescription{}, errors.New("offer failed")
	}
	if iceRestart {
		t.Restarts++
	}
	t.signaling = webrtc.SignalingStateHaveLocalOffer
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: t.sdp()}, nil
}

func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Closed {
		return webrtc.SessionDescription{}, errClosed
	}
	t.signaling = webrtc.SignalingStateStable
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: t.sdp()}, nil
}

func (t *Transport) sdp() string {
	b, _ := json.Marshal(map[string]interface{}{"mode": t.Cfg.Mode, "generation": t.Cfg.Generation})
	return string(b)
}

func (t *Transport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Closed {
		return errClosed
	}
	t.Remote = append(t.Remote, desc)
	if desc.Type == webrtc.SDPTypeOffer {
		t.signaling = webrtc.SignalingStateHaveRemoteOffer
	} else {
		t.signaling = webrtc.SignalingStateStable
	}
	return nil
}

func (t *Transport) AddICECandidate(c webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Closed {
		return errClosed
	}
	t.Candidates = append(t.Candidates, c)
	return nil
}

func (t *Transport) SignalingState() webrtc.SignalingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signaling
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	t.signaling = webrtc.SignalingStateClosed
	return nil
}

// Emit delivers a transport event through the configured sink.
func (t *Transport) Emit(ev peerlink.TransportEvent) {
	ev.Generation = t.Cfg.Generation
	if t.Cfg.Sink != nil {
		t.Cfg.Sink(ev)
	}
}

func (t *Transport) Connection(s webrtc.PeerConnectionState) peerlink.TransportEvent {
	return peerlink.TransportEvent{Generation: t.Cfg.Generation, Kind: peerlink.EventConnectionState, Conn: s}
}

func (t *Transport) ICE(s webrtc.ICEConnectionState) peerlink.TransportEvent {
	return peerlink.TransportEvent{Generation: t.Cfg.Generation, Kind: peerlink.EventICEState, ICE: s}
}

func (t *Transport) LocalCandidate(candidate string) peerlink.TransportEvent {
	return peerlink.TransportEvent{
		Generation: t.Cfg.Generation,
		Kind:       peerlink.EventLocalCandidate,
		Candidate:  webrtc.ICECandidateInit{Candidate: candidate},
	}
}

// Factory hands out Transports and keeps every one it created.
type Factory struct {
	mu         sync.Mutex
	Transports []*Transport
	Err        error
}

func (f *Factory) NewTransport(cfg peerlink.TransportConfig) (peerlink.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	t := &Transport{Cfg: cfg}
	f.Transports = append(f.Transports, t)
	return t, nil
}

// Last returns the newest transport, or nil.
func (f *Factory) Last() *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Transports) == 0 {
		return nil
	}
	return f.Transports[len(f.Transports)-1]
}

func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Transports)
}

type Sent struct {
	Event   string
	Payload json.RawMessage
}

// Signaler records outgoing events.
type Signaler struct {
	mu   sync.Mutex
	sent []Sent
	Err  error
}

func (s *Signaler) Send(_ context.Context, event string, payload interface{}) error {
	if s.Err != nil {
		return s.Err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sent = append(s.sent, Sent{Event: event, Payload: raw})
	s.mu.Unlock()
	return nil
}

func (s *Signaler) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sent, len(s.sent))
	copy(out, s.sent)
	return out
}

// Events lists the sent event names in order.
func (s *Signaler) Events() []string {
	sent := s.Sent()
	out := make([]string, 0, len(sent))
	for _, m := range sent {
		out = append(out, m.Event)
	}
	return out
}

// Last returns the newest payload sent for event, decoded into v.
func (s *Signaler) Last(event string, v interface{}) bool {
	sent := s.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].Event == event {
			return json.Unmarshal(sent[i].Payload, v) == nil
		}
	}
	return false
}

func (s *Signaler) Reset() {
	s.mu.Lock()
	s.sent = nil
	s.mu.Unlock()
}
