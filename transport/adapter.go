package transport

import "errors"

// ErrTransportClosed is returned when you try to send on a closed transport.
var ErrTransportClosed = errors.New("transport closed")

// ErrFrameTooLarge is reported when a peer announces a frame above MaxFrameSize.
var ErrFrameTooLarge = errors.New("transport: frame too large")

// MaxFrameSize bounds a single inbound frame. Protocol messages are tiny;
// anything near this size is a broken or hostile peer.
const MaxFrameSize = 1 << 20

// DisconnectReason tells the owner of a transport why it closed.
type DisconnectReason int

const (
	ReasonUnknown      DisconnectReason = iota // catch-all, should be rare
	ReasonNetworkError                         // underlying connection failed
	ReasonTimeout                              // no activity within deadline
	ReasonClosedClean                          // graceful shutdown by either side
	ReasonSlowConsumer                         // outbound queue overflowed
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNetworkError:
		return "network_error"
	case ReasonTimeout:
		return "timeout"
	case ReasonClosedClean:
		return "closed"
	case ReasonSlowConsumer:
		return "slow_consumer"
	}
	return "unknown"
}

// DisconnectEvent is sent on the channel returned by Disconnected().
type DisconnectEvent struct {
	Reason DisconnectReason
	Err    error // nil on clean close, populated on errors
}

// Adapter is the contract every transport must satisfy. It moves whole
// frames; what is inside a frame is the codec's business.
//
// The server and the client only ever talk to this interface,
// never to websocket or tcp directly.
type Adapter interface {
	// Send writes one frame to the remote side.
	// Returns ErrTransportClosed if the transport is no longer active.
	// Send must not be called concurrently; wrap the adapter in a
	// sender.Sender when several goroutines write.
	Send(frame []byte) error

	// Receive returns a channel that emits incoming frames in order.
	// The channel is closed when the transport closes.
	Receive() <-chan []byte

	// Disconnected returns a channel that emits exactly one DisconnectEvent
	// when the transport closes, for any reason.
	Disconnected() <-chan DisconnectEvent

	// Close shuts down the transport.
	// Safe to call multiple times, subsequent calls are no-ops.
	Close() error
}
