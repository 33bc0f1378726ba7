package domain

import (
	"errors"
	"net/http"

	"studyroom/pkg/circuitbreaker"
	apperrors "studyroom/pkg/errors"
)

// ToAppError classifies err for the HTTP and socket boundaries. Errors
// that already carry an AppError keep it.
func ToAppError(err error) *apperrors.AppError {
	if err == nil {
		return nil
	}
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}
	msg := err.Error()
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return apperrors.NewPermissionDeniedError(msg)
	case errors.Is(err, ErrNotPresent):
		return apperrors.NewPermissionDeniedError(msg)
	case errors.Is(err, ErrNoActivePresenter):
		return apperrors.NewNoActivePresenterError("")
	case errors.Is(err, ErrSelfView), errors.Is(err, ErrMalformedEnvelope):
		return apperrors.NewInvalidInputError(msg)
	case errors.Is(err, ErrUnknownRoom):
		return apperrors.NewNotFoundError("room")
	case errors.Is(err, ErrPresenterConflict):
		return apperrors.NewConflictError(msg)
	case errors.Is(err, ErrNegotiationTimeout):
		return apperrors.NewNegotiationTimeoutError(msg)
	case errors.Is(err, ErrTransportTerminal):
		return apperrors.NewTransportFailureError(msg, true)
	case errors.Is(err, ErrTransportRecoverable):
		return apperrors.NewTransportFailureError(msg, false)
	case errors.Is(err, circuitbreaker.ErrOpen):
		return apperrors.NewServiceUnavailableError("membership authority unavailable")
	default:
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "internal error", http.StatusInternalServerError)
	}
}
