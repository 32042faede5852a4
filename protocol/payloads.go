package protocol

// TickWrap is the modulus applied to tick sync values. Receivers rebuild the
// full tick by counting how often the value decreases.
const TickWrap = 250

// NoHash is what a client sends before it has ever been issued a hash.
const NoHash = "--------------------------------"

type Connect struct {
	Hash string `msgpack:"hash" validate:"required,hash"`
	Name string `msgpack:"name" validate:"min=2,max=16"`
}

type Hash struct {
	Hash string `msgpack:"hash"`
}

type Error struct {
	Code   ErrorCode `msgpack:"code"`
	Detail string    `msgpack:"detail,omitempty"`
}

type ServerSettings struct {
	MaxClients  int `msgpack:"maxClients"`
	MaxSessions int `msgpack:"maxSessions"`
}

// SessionInfo is one row of the session list.
type SessionInfo struct {
	ID         int  `msgpack:"id" json:"id"`
	Players    int  `msgpack:"players" json:"players"`
	MaxPlayers int  `msgpack:"maxPlayers" json:"maxPlayers"`
	Running    bool `msgpack:"running" json:"running"`
}

type SessionSettings struct {
	ID         int    `msgpack:"id"`
	TickRate   int    `msgpack:"tickRate"` // milliseconds per tick
	LogicRate  int    `msgpack:"logicRate"`
	SyncRate   int    `msgpack:"syncRate"`
	RandomSeed uint32 `msgpack:"randomSeed"`
}

type JoinRequest struct {
	Session int  `msgpack:"session"`
	Watch   bool `msgpack:"watch,omitempty"`
}

type Joined struct {
	ID int `msgpack:"id"`
}

type ClientInfo struct {
	ID    uint64 `msgpack:"id"`
	Name  string `msgpack:"name"`
	Local bool   `msgpack:"local,omitempty"`
}

type PlayerInfo struct {
	ID       int    `msgpack:"id"`
	ClientID uint64 `msgpack:"cid,omitempty"`
	Neutral  bool   `msgpack:"neutral,omitempty"`
	Own      bool   `msgpack:"own,omitempty"`
}

type PlayerLeft struct {
	ID      int  `msgpack:"id"`
	Timeout bool `msgpack:"timeout,omitempty"`
}
