package domain

import "errors"

var (
	ErrPermissionDenied   = errors.New("permission denied")
	ErrNoActivePresenter  = errors.New("no active presenter")
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	ErrMalformedEnvelope  = errors.New("malformed envelope")
	ErrUnknownRoom        = errors.New("unknown room")
	ErrNotPresent         = errors.New("participant not present in room")
	ErrSelfView           = errors.New("presenter cannot view own presentation")

	// ErrPresenterConflict marks a start-presenting that replaced another
	// presenter.
	ErrPresenterConflict = errors.New("presenter conflict")

	// ErrTransportRecoverable is reported while a link still has an ICE
	// restart or relay retry left.
	ErrTransportRecoverable = errors.New("transport failure (recoverable)")
	ErrTransportTerminal    = errors.New("transport failure (terminal)")
)
