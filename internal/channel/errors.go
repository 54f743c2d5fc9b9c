package channel

import "errors"

var (
	ErrNoCredential   = errors.New("no credential: live channel not started")
	ErrNotOpen        = errors.New("live channel is not open")
	ErrAlreadyStarted = errors.New("live channel already started")
	ErrInvalidAddress = errors.New("invalid live channel address")
)
