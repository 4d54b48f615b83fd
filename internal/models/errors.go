package models

import "errors"

// Validation errors, rejected before any network call.
var (
	ErrEmptyResponse       = errors.New("response text must not be empty")
	ErrResponseTooLong     = errors.New("response text exceeds 5000 characters")
	ErrFlagReasonTooLong   = errors.New("flag reason exceeds 500 characters")
	ErrProviderNameTooLong = errors.New("provider name exceeds 255 characters")
	ErrInvalidStatus       = errors.New("invalid status value")
	ErrInvalidUrgency      = errors.New("urgency must be routine, urgent or escalated")
	ErrInvalidTransition   = errors.New("status transition not allowed")
	ErrScheduleNotFuture   = errors.New("follow-up time must be in the future")
)
