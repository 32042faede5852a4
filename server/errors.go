package server

import (
	"errors"

	"github.com/risa-org/ticksync/protocol"
	"github.com/risa-org/ticksync/session"
)

var (
	ErrServerFull     = errors.New("server: client capacity reached")
	ErrInvalidSession = errors.New("server: invalid session id")
	ErrRateLimited    = errors.New("server: too many messages")
	ErrNotLoggedIn    = errors.New("server: connect first")
	ErrUnexpected     = errors.New("server: unexpected message")
)

// codeFor maps an error to the code sent in an ERROR message.
func codeFor(err error) protocol.ErrorCode {
	switch {
	case errors.Is(err, ErrNotLoggedIn):
		return protocol.CodeNoLogin
	case errors.Is(err, ErrServerFull):
		return protocol.CodeServerFull
	case errors.Is(err, ErrInvalidSession),
		errors.Is(err, session.ErrSessionStopped),
		errors.Is(err, session.ErrNotInSession):
		return protocol.CodeInvalidSession
	case errors.Is(err, session.ErrSameSession),
		errors.Is(err, session.ErrAlreadyJoined):
		return protocol.CodeSameSession
	case errors.Is(err, session.ErrSessionFull):
		return protocol.CodeSessionFull
	case errors.Is(err, ErrRateLimited):
		return protocol.CodeRateLimited
	}
	return protocol.CodeProtocol
}

// errorMessage builds the ERROR frame for err.
func errorMessage(err error) protocol.Message {
	return protocol.MustNew(protocol.TypeError, 0, protocol.Error{
		Code:   codeFor(err),
		Detail: err.Error(),
	})
}
