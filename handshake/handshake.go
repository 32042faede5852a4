package handshake

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/risa-org/ticksync/protocol"
	"github.com/risa-org/ticksync/session"
)

// Result is what the handshake returns for the first frame of a connection.
// Either the client is accepted with a normalized name and hash, or it is
// rejected with a reason.
type Result struct {
	Accepted bool
	Name     string // trimmed display name
	Hash     string // presented hash, empty if the client had none yet
	Reason   string // populated on rejection, empty on success
}

// Rejection reasons. ReasonNotConnect maps to protocol.CodeNoLogin, the
// others to protocol.CodeInvalidConnect.
const (
	ReasonNotConnect  = "not_connect"
	ReasonInvalidHash = "invalid_hash"
	ReasonInvalidName = "invalid_name"
	ReasonMalformed   = "malformed"
)

// Handler validates CONNECT messages. It is stateless and safe for
// concurrent use.
type Handler struct {
	validate *validator.Validate
}

// NewHandler creates a handler with the "hash" validation rule registered.
// It panics if the rule cannot be registered.
func NewHandler() *Handler {
	v, err := newValidator()
	if err != nil {
		panic(err)
	}
	return &Handler{validate: v}
}

func newValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.RegisterValidation("hash", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == protocol.NoHash || session.ValidHash(s)
	})
	if err != nil {
		return nil, fmt.Errorf("handshake: register hash rule: %w", err)
	}
	return v, nil
}

// Connect checks the first frame a client sends.
//
// Steps:
//  1. The frame must be a CONNECT with a decodable payload
//  2. The name is trimmed, then both fields are validated
//  3. The placeholder hash is turned into "no hash"
func (h *Handler) Connect(msg protocol.Message) Result {
	if msg.Type != protocol.TypeConnect {
		return reject(ReasonNotConnect)
	}
	req, err := protocol.DecodePayload[protocol.Connect](msg)
	if err != nil {
		return reject(ReasonMalformed)
	}
	req.Name = strings.TrimSpace(req.Name)

	if err := h.validate.Struct(req); err != nil {
		var fields validator.ValidationErrors
		if !errors.As(err, &fields) || len(fields) == 0 {
			return reject(ReasonMalformed)
		}
		// report the first failing field, hash before name
		for _, f := range fields {
			if f.Field() == "Hash" {
				return reject(ReasonInvalidHash)
			}
		}
		return reject(ReasonInvalidName)
	}

	hash := req.Hash
	if hash == protocol.NoHash {
		hash = ""
	}
	return Result{Accepted: true, Name: req.Name, Hash: hash}
}

// ErrorMessage builds the ERROR sent back to a rejected client. A client
// that skipped CONNECT is told it is not logged in.
func (r Result) ErrorMessage() protocol.Message {
	code := protocol.CodeInvalidConnect
	if r.Reason == ReasonNotConnect {
		code = protocol.CodeNoLogin
	}
	return protocol.MustNew(protocol.TypeError, 0, protocol.Error{
		Code:   code,
		Detail: r.Reason,
	})
}

func reject(reason string) Result {
	return Result{
		Accepted: false,
		Reason:   reason,
	}
}
