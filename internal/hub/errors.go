package hub

import "errors"

var (
	ErrHubAlreadyRunning  = errors.New("hub is already running")
	ErrHubNotRunning      = errors.New("hub is not running")
	ErrHubStopped         = errors.New("hub was stopped")
	ErrInvalidMessage     = errors.New("message has no conversation")
	ErrMessageChannelFull = errors.New("message channel is full")
)
