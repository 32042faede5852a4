package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

var (
	ErrEmptyFrame   = errors.New("protocol: empty frame")
	ErrEmptyPayload = errors.New("protocol: empty payload")
	ErrUnknownType  = errors.New("protocol: unknown message type")
)

// Message is the decoded form of every frame.
//
// Tick is the origin tick stamped by the sender; zero means "not tick bound".
// Sync is only meaningful for TypeTick and holds the wrapped tick value.
type Message struct {
	Type    Type               `msgpack:"t"`
	Tick    uint64             `msgpack:"k,omitempty"`
	Payload msgpack.RawMessage `msgpack:"p,omitempty"`
	Sync    uint8              `msgpack:"-"`
}

// New builds a message with payload marshalled into it. A nil payload leaves
// the message without one.
func New(t Type, tick uint64, payload any) (Message, error) {
	m := Message{Type: t, Tick: tick}
	if payload == nil {
		return m, nil
	}
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("protocol: encode %s payload: %w", t, err)
	}
	m.Payload = raw
	return m, nil
}

// MustNew is New for payload types that cannot fail to marshal.
func MustNew(t Type, tick uint64, payload any) Message {
	m, err := New(t, tick, payload)
	if err != nil {
		panic(err)
	}
	return m
}

// TickMessage builds the compact sync message for tick.
func TickMessage(tick uint64) Message {
	return Message{Type: TypeTick, Sync: uint8(tick % TickWrap)}
}

// Encode turns a message into a single transport frame.
//
// TICK messages are sent as a bare msgpack integer so the most frequent
// message on the wire costs one or two bytes. Everything else is a map.
func Encode(m Message) ([]byte, error) {
	if m.Type == TypeTick {
		return EncodeTick(m.Sync)
	}
	return msgpack.Marshal(&m)
}

// EncodeTick encodes a wrapped tick value as a compact integer frame.
func EncodeTick(v uint8) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeUint(uint64(v)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a frame produced by Encode.
func Decode(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return Message{}, ErrEmptyFrame
	}
	dec := msgpack.NewDecoder(bytes.NewReader(frame))
	code, err := dec.PeekCode()
	if err != nil {
		return Message{}, err
	}

	if msgpcode.IsFixedNum(code) || code == msgpcode.Uint8 {
		v, err := dec.DecodeUint64()
		if err != nil {
			return Message{}, err
		}
		if v >= TickWrap {
			return Message{}, fmt.Errorf("protocol: tick sync value %d out of range", v)
		}
		return Message{Type: TypeTick, Sync: uint8(v)}, nil
	}

	var m Message
	if err := dec.Decode(&m); err != nil {
		return Message{}, err
	}
	if !m.Type.Known() || m.Type == TypeTick {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownType, uint16(m.Type))
	}
	return m, nil
}

// DecodePayload unmarshals the payload of m into a T.
func DecodePayload[T any](m Message) (T, error) {
	var out T
	if len(m.Payload) == 0 {
		return out, fmt.Errorf("%w for %s", ErrEmptyPayload, m.Type)
	}
	err := msgpack.Unmarshal(m.Payload, &out)
	return out, err
}
