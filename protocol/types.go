package protocol

import "fmt"

// Type identifies a message on the wire. The numbering groups messages by
// concern: 2xx connection, 3xx session, 4xx server, 500 the tick sync value.
type Type uint16

const (
	TypeHash    Type = 201 // server → client: (re)issued reconnection hash
	TypeConnect Type = 202 // client → server: hash + name; server → client: accepted
	TypeJoin    Type = 203 // client → server: join a session
	TypeLeave   Type = 204 // client → server: leave the current session
	TypeJoined  Type = 205 // server → client: you joined session id
	TypeLeft    Type = 206 // server → client: you left your session

	TypePlayerRejoined  Type = 300
	TypeSessionSettings Type = 301
	TypeClientJoined    Type = 303
	TypeClientLeft      Type = 304
	TypePlayerJoined    Type = 305
	TypePlayerLeft      Type = 306
	TypeClientList      Type = 307
	TypePlayerList      Type = 308
	TypeStarted         Type = 310
	TypeEnded           Type = 311

	TypeSessionList    Type = 401
	TypeServerSettings Type = 402

	TypeTick Type = 500

	TypeError Type = 1000

	// TypeApplication is the first type code free for game payloads.
	// Anything at or above it is opaque to the protocol and only tick-gated.
	TypeApplication Type = 2000
)

var typeNames = map[Type]string{
	TypeHash:            "HASH",
	TypeConnect:         "CONNECT",
	TypeJoin:            "JOIN",
	TypeLeave:           "LEAVE",
	TypeJoined:          "JOINED",
	TypeLeft:            "LEFT",
	TypePlayerRejoined:  "PLAYER_REJOINED",
	TypeSessionSettings: "SESSION_SETTINGS",
	TypeClientJoined:    "CLIENT_JOINED",
	TypeClientLeft:      "CLIENT_LEFT",
	TypePlayerJoined:    "PLAYER_JOINED",
	TypePlayerLeft:      "PLAYER_LEFT",
	TypeClientList:      "CLIENT_LIST",
	TypePlayerList:      "PLAYER_LIST",
	TypeStarted:         "STARTED",
	TypeEnded:           "ENDED",
	TypeSessionList:     "SESSION_LIST",
	TypeServerSettings:  "SERVER_SETTINGS",
	TypeTick:            "TICK",
	TypeError:           "ERROR",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	if t >= TypeApplication {
		return fmt.Sprintf("APP(%d)", uint16(t))
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(t))
}

// Known reports whether t is a protocol type or an application type.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok || t >= TypeApplication
}

// Gated reports whether a message of this type must wait for the receiver's
// tick to catch up before it is applied. The handshake, settings and session
// lifecycle messages are exempt, and so is TICK itself. LEFT and ENDED close
// the old session's stream, so they must not wait behind it.
func Gated(t Type) bool {
	switch t {
	case TypeHash, TypeConnect, TypeServerSettings, TypeSessionSettings,
		TypeLeft, TypeEnded, TypeSessionList, TypeJoined, TypeStarted, TypeError, TypeTick:
		return false
	}
	return true
}

// ErrorCode is carried by ERROR messages.
type ErrorCode int

const (
	CodeNoLogin ErrorCode = iota
	CodeServerFull
	CodeInvalidConnect
	CodeInvalidSession
	CodeSameSession
	CodeSessionFull
	CodeRateLimited
	CodeProtocol
)

var codeText = map[ErrorCode]string{
	CodeNoLogin:        "No login",
	CodeServerFull:     "Server is full",
	CodeInvalidConnect: "Invalid connect message",
	CodeInvalidSession: "Invalid session id",
	CodeSameSession:    "Already in this session",
	CodeSessionFull:    "Session is full",
	CodeRateLimited:    "Too many messages",
	CodeProtocol:       "Unexpected message",
}

func (c ErrorCode) String() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return fmt.Sprintf("error %d", int(c))
}
