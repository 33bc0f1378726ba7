package domain

import (
	"sort"
	"time"
)

type PresentationState string

const (
	PresentationIdle       PresentationState = "idle"
	PresentationPresenting PresentationState = "presenting"
)

// PresentationSession is the single-presenter broadcast of one room. The
// zero value is an idle session.
type PresentationSession struct {
	RoomCode      RoomCode
	PresenterID   UserID
	PresenterName string
	StartedAt     time.Time

	viewers map[UserID]string
}

func NewPresentationSession(code RoomCode) *PresentationSession {
	return &PresentationSession{RoomCode: code}
}

func (s *PresentationSession) State() PresentationState {
	if s.PresenterID == "" {
		return PresentationIdle
	}
	return PresentationPresenting
}

func (s *PresentationSession) Active() bool {
	return s.PresenterID != ""
}

// Start makes userID the presenter and returns the presenter it replaced,
// if any. Viewers are cleared unless the same presenter starts again.
func (s *PresentationSession) Start(userID UserID, userName string, at time.Time) (replaced UserID) {
	if s.PresenterID == userID {
		s.PresenterName = userName
		return ""
	}
	replaced = s.PresenterID
	s.PresenterID = userID
	s.PresenterName = userName
	s.StartedAt = at
	s.viewers = nil
	return replaced
}

// Stop returns the session to idle and reports who was presenting.
func (s *PresentationSession) Stop() UserID {
	prev := s.PresenterID
	s.PresenterID = ""
	s.PresenterName = ""
	s.StartedAt = time.Time{}
	s.viewers = nil
	return prev
}

func (s *PresentationSession) AddViewer(userID UserID, userName string) error {
	if !s.Active() {
		return ErrNoActivePresenter
	}
	if userID == s.PresenterID {
		return ErrSelfView
	}
	if s.viewers == nil {
		s.viewers = make(map[UserID]string)
	}
	s.viewers[userID] = userName
	return nil
}

// RemoveViewer reports whether userID was viewing.
func (s *PresentationSession) RemoveViewer(userID UserID) bool {
	if _, ok := s.viewers[userID]; !ok {
		return false
	}
	delete(s.viewers, userID)
	return true
}

func (s *PresentationSession) HasViewer(userID UserID) bool {
	_, ok := s.viewers[userID]
	return ok
}

// Viewers returns the viewer set ordered by user id.
func (s *PresentationSession) Viewers() []UserRef {
	out := make([]UserRef, 0, len(s.viewers))
	for id, name := range s.viewers {
		out = append(out, UserRef{UserID: id, UserName: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (s *PresentationSession) Snapshot() PresentationSnapshot {
	snap := PresentationSnapshot{
		RoomCode: s.RoomCode,
		State:    s.State(),
		Viewers:  s.Viewers(),
	}
	if s.Active() {
		snap.Presenter = &UserRef{UserID: s.PresenterID, UserName: s.PresenterName}
		started := s.StartedAt
		snap.StartedAt = &started
	}
	return snap
}

type PresentationSnapshot struct {
	RoomCode  RoomCode          `json:"roomCode"`
	State     PresentationState `json:"state"`
	Presenter *UserRef          `json:"presenter,omitempty"`
	Viewers   []UserRef         `json:"viewers"`
	StartedAt *time.Time        `json:"startedAt,omitempty"`
}
