package client

import (
	"time"

	"github.com/risa-org/ticksync/protocol"
)

// Handlers are the callbacks a Reconciler fires. All of them run on the
// goroutine that calls Update. Any of them may be nil.
type Handlers struct {
	// connection
	OnConnect        func(self protocol.ClientInfo)
	OnHash           func(hash string)
	OnError          func(e protocol.Error)
	OnServerSettings func(s protocol.ServerSettings)
	OnSessionList    func(sessions []protocol.SessionInfo)
	OnDisconnect     func()

	// session lifecycle
	OnJoin     func(session int)
	OnLeave    func()
	OnSettings func(s protocol.SessionSettings)
	OnStart    func(tick uint64)
	OnEnd      func()

	// OnTick runs once per logic tick, after every message admissible at
	// that tick has been applied and the random sequence reset to it.
	OnTick func(elapsed time.Duration, tick uint64)

	// membership
	OnClientList  func(clients []protocol.ClientInfo)
	OnClientJoin  func(c protocol.ClientInfo)
	OnClientLeave func(c protocol.ClientInfo)
	OnPlayerList  func(players []protocol.PlayerInfo)
	OnPlayerJoin  func(p protocol.PlayerInfo, reconnect bool)
	OnPlayerLeave func(p protocol.PlayerInfo, timeout bool)

	// OnMessage receives application messages once their tick is reached.
	OnMessage func(msg protocol.Message)
}
