package session

import (
	"errors"

	"tutorchat/pkg/types"
)

// Session lifecycle errors
var (
	ErrSessionClosed  = errors.New("session is closed")
	ErrNotStarted     = errors.New("session has not resolved an identity yet")
	ErrAlreadyStarted = errors.New("session already started")
	ErrMissingBackend = errors.New("session requires a backend and a dialer")
)

// Request errors
var (
	ErrNoSelection        = errors.New("no conversation selected")
	ErrSendInProgress     = errors.New("a send is already in progress")
	ErrUnknownCounterpart = errors.New("counterpart is not in the sidebar")
	ErrSuperseded         = errors.New("request superseded by a newer one")
	ErrNotTutor           = errors.New("only tutors can view availability")
	ErrEmptyContent       = types.ErrEmptyContent
)
