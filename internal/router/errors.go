package router

import "errors"

var (
	ErrInvalidMessage       = errors.New("message needs a sender and a conversation")
	ErrSenderNotParticipant = errors.New("sender is not a participant of this conversation")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrMissingAttachment    = errors.New("attachment message without attachment")
	ErrUnexpectedAttachment = errors.New("text message carries an attachment")
)
