package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidRole        = errors.New("role must be student or tutor")
	ErrInvalidUserID      = errors.New("user ID must be positive")
	ErrEmptyContent       = errors.New("message content cannot be empty")
	ErrContentTooLarge    = errors.New("message content exceeds 64KB limit")
	ErrInvalidDayOfWeek   = errors.New("day_of_week must be between 0 and 6")
	ErrInvalidTimeOfDay   = errors.New("time of day must be HH:MM or HH:MM:SS")
	ErrInvalidSlotRange   = errors.New("start_time must be before end_time")
	ErrSelfConversation   = errors.New("cannot create conversation with yourself")
	ErrMalformedFrame     = errors.New("malformed channel frame")
	ErrUnexpectedErrFrame = errors.New("channel error frame")
)
