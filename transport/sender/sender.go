package sender

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/risa-org/ticksync/transport"
)

// DefaultQueueSize is used when Options.QueueSize is zero.
const DefaultQueueSize = 256

// ErrSlowConsumer is returned by Send when the outbound queue is full.
// The connection has been closed by the time the caller sees it.
var ErrSlowConsumer = errors.New("sender: outbound queue full")

// Options configures a Sender.
type Options struct {
	QueueSize int
	// Total, if set, is increased by the size of every frame written,
	// so one counter can cover all connections of a server.
	Total *atomic.Uint64
	// OnClose runs once, with the reason, when the sender shuts down.
	OnClose func(transport.DisconnectReason)
}

// Sender is the write side of one connection.
//
// Callers on the hot path (the server dispatcher, session ticks) must never
// wait on the network, so Send only queues the frame. A single pump goroutine
// owns the adapter's Send. A peer that cannot keep up fills the queue and is
// disconnected instead of stalling everyone else.
type Sender struct {
	adapter   transport.Adapter
	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	pending   atomic.Int64
	sent      atomic.Uint64
	total     *atomic.Uint64
	onClose   func(transport.DisconnectReason)
}

// New creates a Sender and starts its pump.
func New(adapter transport.Adapter, opts Options) *Sender {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	s := &Sender{
		adapter: adapter,
		queue:   make(chan []byte, opts.QueueSize),
		done:    make(chan struct{}),
		total:   opts.Total,
		onClose: opts.OnClose,
	}
	go s.pump()
	return s
}

// Send queues a frame without blocking.
func (s *Sender) Send(frame []byte) error {
	select {
	case <-s.done:
		return transport.ErrTransportClosed
	default:
	}

	s.pending.Add(1)
	select {
	case s.queue <- frame:
		return nil
	default:
		s.pending.Add(-1)
		s.shutdown(transport.ReasonSlowConsumer)
		return ErrSlowConsumer
	}
}

// Sent returns the number of bytes written so far.
func (s *Sender) Sent() uint64 {
	return s.sent.Load()
}

// Adapter returns the underlying transport adapter.
// Useful for accessing Receive() and Disconnected() channels.
func (s *Sender) Adapter() transport.Adapter {
	return s.adapter
}

// Done is closed once the sender has shut down.
func (s *Sender) Done() <-chan struct{} {
	return s.done
}

// Flush waits until every queued frame has been written, the sender shut
// down, or ctx is done.
func (s *Sender) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for s.pending.Load() > 0 {
		select {
		case <-s.done:
			return transport.ErrTransportClosed
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops the pump and closes the adapter. Frames still queued are
// dropped. Safe to call multiple times.
func (s *Sender) Close() error {
	s.shutdown(transport.ReasonClosedClean)
	return nil
}

func (s *Sender) shutdown(reason transport.DisconnectReason) {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.adapter.Close()
		if s.onClose != nil {
			s.onClose(reason)
		}
	})
}

func (s *Sender) pump() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.queue:
			err := s.adapter.Send(frame)
			s.pending.Add(-1)
			if err != nil {
				s.shutdown(transport.ReasonNetworkError)
				return
			}
			n := uint64(len(frame))
			s.sent.Add(n)
			if s.total != nil {
				s.total.Add(n)
			}
		}
	}
}
