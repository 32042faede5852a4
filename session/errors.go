package session

import "errors"

var (
	ErrSameSession    = errors.New("session: client already in this session")
	ErrAlreadyJoined  = errors.New("session: client id already registered")
	ErrSessionFull    = errors.New("session: player capacity reached")
	ErrSessionStopped = errors.New("session: session has stopped")
	ErrNotInSession   = errors.New("session: client is not in a session")
)
