package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/risa-org/ticksync/transport"
)

// Options tunes an Adapter.
type Options struct {
	// PingInterval is how often the peer is pinged. A peer that does not
	// answer within PingTimeout is dropped with ReasonTimeout. Zero
	// disables pings.
	PingInterval time.Duration
	// PingTimeout defaults to PingInterval.
	PingTimeout time.Duration
}

// Adapter carries protocol frames as binary websocket messages. Websocket
// messages are already delimited, so a frame is exactly one message.
type Adapter struct {
	conn       *websocket.Conn
	incoming   chan []byte
	disconnect chan transport.DisconnectEvent
	closeOnce  sync.Once
	timedOut   atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// New starts reading from conn and, if opts asks for it, pinging the peer.
func New(conn *websocket.Conn, opts Options) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	conn.SetReadLimit(transport.MaxFrameSize)
	a := &Adapter{
		conn:       conn,
		incoming:   make(chan []byte, 64),
		disconnect: make(chan transport.DisconnectEvent, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	go a.readLoop()
	if opts.PingInterval > 0 {
		if opts.PingTimeout <= 0 {
			opts.PingTimeout = opts.PingInterval
		}
		go a.keepAlive(opts.PingInterval, opts.PingTimeout)
	}
	return a
}

// Accept upgrades an HTTP request. accept may be nil.
func Accept(w http.ResponseWriter, r *http.Request, accept *websocket.AcceptOptions, opts Options) (*Adapter, error) {
	conn, err := websocket.Accept(w, r, accept)
	if err != nil {
		return nil, err
	}
	return New(conn, opts), nil
}

// Dial opens a websocket to url.
func Dial(ctx context.Context, url string, opts Options) (*Adapter, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return New(conn, opts), nil
}

func (a *Adapter) Send(frame []byte) error {
	if err := a.conn.Write(a.ctx, websocket.MessageBinary, frame); err != nil {
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

func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.cancel()
		err = a.conn.Close(websocket.StatusNormalClosure, "closed")
	})
	return err
}

// keepAlive pings until the adapter closes. The pong is read by readLoop,
// so a peer that stops answering is only noticed while readLoop runs.
func (a *Adapter) keepAlive(interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(a.ctx, timeout)
			err := a.conn.Ping(ctx)
			cancel()
			if err == nil {
				continue
			}
			if a.ctx.Err() == nil {
				a.timedOut.Store(true)
				a.cancel()
				_ = a.conn.CloseNow()
			}
			return
		}
	}
}

func (a *Adapter) readLoop() {
	defer func() {
		close(a.incoming)
		a.Close()
	}()

	for {
		typ, data, err := a.conn.Read(a.ctx)
		if err != nil {
			a.signalDisconnect(err)
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		select {
		case a.incoming <- data:
		case <-a.ctx.Done():
			a.signalDisconnect(a.ctx.Err())
			return
		}
	}
}

// signalDisconnect sends exactly one disconnect event. Browsers and servers
// close with either 1000 or 1001, both are clean, as is our own Close.
func (a *Adapter) signalDisconnect(err error) {
	event := transport.DisconnectEvent{}

	status := websocket.CloseStatus(err)
	switch {
	case a.timedOut.Load():
		event.Reason = transport.ReasonTimeout
		event.Err = fmt.Errorf("websocket: peer stopped answering pings: %w", err)
	case status == websocket.StatusNormalClosure,
		status == websocket.StatusGoingAway,
		a.ctx.Err() != nil:
		event.Reason = transport.ReasonClosedClean
	case status == websocket.StatusMessageTooBig:
		event.Reason = transport.ReasonNetworkError
		event.Err = errors.Join(transport.ErrFrameTooLarge, err)
	default:
		event.Reason = transport.ReasonNetworkError
		event.Err = err
	}

	select {
	case a.disconnect <- event:
	default:
	}
}
