package sender

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/risa-org/ticksync/transport"
)

// mockAdapter is a minimal transport.Adapter for testing.
// It records sent frames and can be configured to fail or to stall.
type mockAdapter struct {
	mu        sync.Mutex
	sent      [][]byte
	failAfter int // fail on the Nth send, -1 means never fail
	calls     int
	block     chan struct{}
	closed    atomic.Bool
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{failAfter: -1}
}

func (m *mockAdapter) Send(frame []byte) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failAfter >= 0 && m.calls > m.failAfter {
		return transport.ErrTransportClosed
	}
	m.sent = append(m.sent, frame)
	return nil
}

func (m *mockAdapter) frames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.sent...)
}

func (m *mockAdapter) Receive() <-chan []byte {
	return make(chan []byte)
}

func (m *mockAdapter) Disconnected() <-chan transport.DisconnectEvent {
	return make(chan transport.DisconnectEvent)
}

func (m *mockAdapter) Close() error {
	m.closed.Store(true)
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSendDeliversInOrder(t *testing.T) {
	adapter := newMockAdapter()
	s := New(adapter, Options{})
	defer s.Close()

	s.Send([]byte("hello"))
	s.Send([]byte("world"))

	waitFor(t, func() bool { return len(adapter.frames()) == 2 })
	frames := adapter.frames()
	if string(frames[0]) != "hello" || string(frames[1]) != "world" {
		t.Errorf("expected hello, world in order, got %q", frames)
	}
}

func TestSendCountsBytes(t *testing.T) {
	var total atomic.Uint64
	a, b := newMockAdapter(), newMockAdapter()
	sa := New(a, Options{Total: &total})
	sb := New(b, Options{Total: &total})
	defer sa.Close()
	defer sb.Close()

	sa.Send([]byte("abc"))
	sb.Send([]byte("de"))

	waitFor(t, func() bool { return total.Load() == 5 })
	if sa.Sent() != 3 {
		t.Errorf("expected 3 bytes on first sender, got %d", sa.Sent())
	}
	if sb.Sent() != 2 {
		t.Errorf("expected 2 bytes on second sender, got %d", sb.Sent())
	}
}

func TestFullQueueDisconnects(t *testing.T) {
	adapter := newMockAdapter()
	adapter.block = make(chan struct{})
	defer close(adapter.block)

	var reason atomic.Int64
	reason.Store(-1)
	s := New(adapter, Options{
		QueueSize: 2,
		OnClose:   func(r transport.DisconnectReason) { reason.Store(int64(r)) },
	})

	// one frame is taken by the stalled pump, two fill the queue
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = s.Send([]byte("x"))
	}

	if !errors.Is(err, ErrSlowConsumer) {
		t.Fatalf("expected ErrSlowConsumer, got %v", err)
	}
	if !adapter.closed.Load() {
		t.Error("expected the adapter to be closed")
	}
	if transport.DisconnectReason(reason.Load()) != transport.ReasonSlowConsumer {
		t.Errorf("expected ReasonSlowConsumer, got %v", transport.DisconnectReason(reason.Load()))
	}
	if err := s.Send([]byte("x")); !errors.Is(err, transport.ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed after shutdown, got %v", err)
	}
}

func TestSendFailureClosesSender(t *testing.T) {
	adapter := newMockAdapter()
	adapter.failAfter = 1 // first send succeeds, second fails

	s := New(adapter, Options{})
	s.Send([]byte("msg1"))
	s.Send([]byte("msg2"))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not shut down after a failed write")
	}
	if s.Sent() != 4 {
		t.Errorf("only the successful frame counts, expected 4 bytes, got %d", s.Sent())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	closes := 0
	s := New(newMockAdapter(), Options{OnClose: func(transport.DisconnectReason) { closes++ }})

	s.Close()
	s.Close()

	if closes != 1 {
		t.Errorf("expected OnClose once, got %d", closes)
	}
}

func TestAdapterAccessor(t *testing.T) {
	adapter := newMockAdapter()
	s := New(adapter, Options{})
	defer s.Close()

	if s.Adapter() != adapter {
		t.Error("expected Adapter() to return the underlying adapter")
	}
}

func TestFlushWaitsForQueue(t *testing.T) {
	adapter := newMockAdapter()
	adapter.block = make(chan struct{})
	s := New(adapter, Options{})
	defer s.Close()

	s.Send([]byte("a"))
	s.Send([]byte("b"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the stalled flush to time out, got %v", err)
	}

	close(adapter.block)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if n := len(adapter.frames()); n != 2 {
		t.Errorf("expected 2 frames written after flush, got %d", n)
	}
}
