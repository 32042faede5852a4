package tcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/risa-org/ticksync/transport"
)

// dialPair creates two connected adapters over net.Pipe, no ports needed.
func dialPair(t *testing.T) (*Adapter, *Adapter) {
	t.Helper()
	server, client := net.Pipe()
	return New(server), New(client)
}

func TestSendAndReceive(t *testing.T) {
	server, client := dialPair(t)
	defer server.Close()
	defer client.Close()

	if err := client.Send([]byte("hello from client")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case frame := <-server.Receive():
		if string(frame) != "hello from client" {
			t.Errorf("expected 'hello from client', got '%s'", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestFramesKeepBoundariesAndOrder(t *testing.T) {
	server, client := dialPair(t)
	defer server.Close()
	defer client.Close()

	go func() {
		for i := 1; i <= 5; i++ {
			_ = client.Send([]byte(fmt.Sprintf("msg-%d", i)))
		}
		// an empty frame is still a frame
		_ = client.Send(nil)
	}()

	for i := 1; i <= 5; i++ {
		select {
		case frame := <-server.Receive():
			if want := fmt.Sprintf("msg-%d", i); string(frame) != want {
				t.Errorf("expected %q, got %q", want, frame)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}

	select {
	case frame := <-server.Receive():
		if len(frame) != 0 {
			t.Errorf("expected empty frame, got %d bytes", len(frame))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for empty frame")
	}
}

func TestDisconnectSignal(t *testing.T) {
	server, client := dialPair(t)
	defer server.Close()

	client.Close()

	select {
	case event := <-server.Disconnected():
		if event.Reason != transport.ReasonClosedClean {
			t.Errorf("expected ReasonClosedClean, got %v", event.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect signal")
	}

	// the receive channel is closed after a disconnect
	select {
	case _, ok := <-server.Receive():
		if ok {
			t.Error("expected closed receive channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive channel never closed")
	}
}

func TestOversizedFrameDisconnects(t *testing.T) {
	serverConn, raw := net.Pipe()
	server := New(serverConn)
	defer server.Close()
	defer raw.Close()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], transport.MaxFrameSize+1)
	go raw.Write(header[:])

	select {
	case event := <-server.Disconnected():
		if event.Reason != transport.ReasonNetworkError {
			t.Errorf("expected ReasonNetworkError, got %v", event.Reason)
		}
		if !errors.Is(event.Err, transport.ErrFrameTooLarge) {
			t.Errorf("expected ErrFrameTooLarge, got %v", event.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect signal")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	server, client := dialPair(t)
	defer client.Close()
	defer server.Close()

	server.Close()
	server.Close()
	server.Close()
}

func TestSendOnClosedReturnsError(t *testing.T) {
	server, client := dialPair(t)
	defer server.Close()

	client.Close()

	err := client.Send([]byte("test"))
	if !errors.Is(err, transport.ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
}
