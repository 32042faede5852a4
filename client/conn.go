package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/risa-org/ticksync/loop"
	"github.com/risa-org/ticksync/protocol"
	"github.com/risa-org/ticksync/transport"
	"github.com/risa-org/ticksync/transport/sender"
	"github.com/risa-org/ticksync/transport/websocket"
)

var (
	// ErrClosed is returned by calls on a closed connection.
	ErrClosed = errors.New("client: connection closed")
	// ErrOutboxFull is returned by Send when the loop has fallen behind.
	ErrOutboxFull = errors.New("client: outbox full")
)

const outboxSize = 256

// Options configures a Conn.
type Options struct {
	Handlers Handlers

	// UpdateFps and RenderFps set the paced loop rates. Zero means the
	// loop defaults.
	UpdateFps int
	RenderFps int

	// OnRender runs on the loop goroutine at the render rate with the
	// estimated session time and tick and the interpolation fraction.
	OnRender func(t time.Duration, tick uint64, u float64)

	Logger zerolog.Logger
}

type outbound struct {
	t       protocol.Type
	payload any
}

// Conn is a client connection to a server. It runs its own paced loop: the
// update step feeds the Reconciler and sends queued messages, the render
// step calls Options.OnRender. Every handler runs on that loop goroutine.
//
// The methods of Conn are safe for concurrent use.
type Conn struct {
	out    *sender.Sender
	rec    *Reconciler
	loop   *loop.Loop
	outbox chan outbound
	log    zerolog.Logger

	state  atomic.Int32
	hash   atomic.Pointer[string]
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Dial connects to a server over websocket and sends CONNECT with name and
// hash. An empty hash asks the server for a new one.
func Dial(ctx context.Context, url, name, hash string, opts Options) (*Conn, error) {
	a, err := websocket.Dial(ctx, url, websocket.Options{})
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}
	c, err := New(a, name, hash, opts)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return c, nil
}

// New runs a client over an already connected adapter.
func New(a transport.Adapter, name, hash string, opts Options) (*Conn, error) {
	if hash == "" {
		hash = protocol.NoHash
	}
	hello, err := protocol.Encode(protocol.MustNew(protocol.TypeConnect, 0, protocol.Connect{Hash: hash, Name: name}))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		out:    sender.New(a, sender.Options{}),
		outbox: make(chan outbound, outboxSize),
		log:    opts.Logger.With().Str("component", "client").Logger(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.rec = NewReconciler(opts.Handlers, c.log)
	c.loop = loop.New(opts.UpdateFps, opts.RenderFps, loop.Callbacks{
		Update: func(_, _ time.Duration) { c.update(time.Now()) },
		Render: func(_, _ time.Duration, u float64) {
			if opts.OnRender != nil {
				now := time.Now()
				opts.OnRender(c.rec.Time(now), c.rec.Tick(now), u)
			}
		},
	})
	if hash != protocol.NoHash {
		c.hash.Store(&hash)
	}

	if err := c.out.Send(hello); err != nil {
		cancel()
		return nil, err
	}
	go c.readLoop(a)
	go c.run(ctx)
	return c, nil
}

func (c *Conn) readLoop(a transport.Adapter) {
	defer c.rec.Disconnected()
	for frame := range a.Receive() {
		msg, err := protocol.Decode(frame)
		if err != nil {
			c.log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		if !c.rec.Deliver(msg) {
			return
		}
	}
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)
	defer c.rec.Close()
	defer c.out.Close()
	if err := c.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn().Err(err).Msg("loop stopped")
	}
}

// update is the loop's update step.
func (c *Conn) update(now time.Time) {
	c.rec.Update(now)
	c.state.Store(int32(c.rec.State()))
	if h := c.rec.Hash(); h != "" {
		c.hash.Store(&h)
	}

	if c.rec.Gone() {
		c.cancel()
		return
	}

	for {
		select {
		case o := <-c.outbox:
			var tick uint64
			if c.rec.State() == StatePlaying {
				tick = c.rec.Tick(now)
			}
			if err := c.write(o.t, tick, o.payload); err != nil {
				c.log.Debug().Err(err).Stringer("type", o.t).Msg("send failed")
			}
			continue
		default:
		}
		return
	}
}

func (c *Conn) write(t protocol.Type, tick uint64, payload any) error {
	msg, err := protocol.New(t, tick, payload)
	if err != nil {
		return err
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return c.out.Send(frame)
}

// Join asks to join session id, as a watcher if watch is set.
func (c *Conn) Join(id int, watch bool) error {
	return c.enqueue(protocol.TypeJoin, protocol.JoinRequest{Session: id, Watch: watch})
}

// Leave asks to leave the current session.
func (c *Conn) Leave() error {
	return c.enqueue(protocol.TypeLeave, nil)
}

// Send queues an application message. While playing it is stamped with the
// estimated server tick at the time it leaves.
func (c *Conn) Send(t protocol.Type, payload any) error {
	if t < protocol.TypeApplication {
		return fmt.Errorf("client: %s is not an application type", t)
	}
	return c.enqueue(t, payload)
}

func (c *Conn) enqueue(t protocol.Type, payload any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outbox <- outbound{t: t, payload: payload}:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Hash returns the latest reconnection hash, empty until one is known.
func (c *Conn) Hash() string {
	if h := c.hash.Load(); h != nil {
		return *h
	}
	return ""
}

// Reconciler returns the connection's reconciler. It is confined to the
// loop goroutine, so only touch it from inside a handler or OnRender.
func (c *Conn) Reconciler() *Reconciler {
	return c.rec
}

// State returns the connection state as of the last update step.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Done is closed once the connection and its loop have stopped.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close stops the loop and closes the transport.
func (c *Conn) Close() error {
	c.once.Do(func() {
		c.cancel()
		<-c.done
	})
	return nil
}
