package tcp

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/risa-org/ticksync/transport"
)

// Adapter implements transport.Adapter over a raw TCP connection.
//
// Wire format for each frame:
//
//	[4 bytes: length uint32 big-endian][N bytes: frame]
//
// TCP is a stream, so frames need an explicit length prefix to be read back
// one at a time.
type Adapter struct {
	conn       net.Conn
	incoming   chan []byte
	disconnect chan transport.DisconnectEvent
	done       chan struct{}
	closeOnce  sync.Once
	writeMu    sync.Mutex
}

// New wraps an established net.Conn and starts reading from it.
func New(conn net.Conn) *Adapter {
	a := &Adapter{
		conn:       conn,
		incoming:   make(chan []byte, 64),
		disconnect: make(chan transport.DisconnectEvent, 1),
		done:       make(chan struct{}),
	}
	go a.readLoop()
	return a
}

// Dial connects to a TCP listener and wraps the connection.
func Dial(addr string) (*Adapter, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// Send writes the length prefix and frame in a single write.
func (a *Adapter) Send(frame []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	buf := make([]byte, 4+len(frame))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(frame)))
	copy(buf[4:], frame)
	if _, err := a.conn.Write(buf); err != nil {
		return transport.ErrTransportClosed
	}
	return nil
}

func (a *Adapter) Receive() <-chan []byte {
	return a.incoming
}

func (a *Adapter) Disconnected() <-chan transport.DisconnectEvent {
	return a.disconnect
}

// Close shuts the connection. Safe to call multiple times.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.done)
		err = a.conn.Close()
	})
	return err
}

func (a *Adapter) readLoop() {
	defer func() {
		close(a.incoming)
		a.Close()
	}()

	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(a.conn, lenBuf[:]); err != nil {
			a.signalDisconnect(err)
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n > transport.MaxFrameSize {
			a.signalDisconnect(transport.ErrFrameTooLarge)
			return
		}

		frame := make([]byte, n)
		if _, err := io.ReadFull(a.conn, frame); err != nil {
			a.signalDisconnect(err)
			return
		}

		select {
		case a.incoming <- frame:
		case <-a.done:
			a.signalDisconnect(nil)
			return
		}
	}
}

// signalDisconnect sends exactly one event. EOF and our own Close are clean.
func (a *Adapter) signalDisconnect(err error) {
	event := transport.DisconnectEvent{}

	select {
	case <-a.done:
		event.Reason = transport.ReasonClosedClean
	default:
		if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			event.Reason = transport.ReasonClosedClean
		} else {
			event.Reason = transport.ReasonNetworkError
			event.Err = err
		}
	}

	select {
	case a.disconnect <- event:
	default:
	}
}
