package session

import "sync/atomic"

// IDs hands out increasing identifiers starting at 1. The server owns one for
// client uids and every session owns one for its player ids.
type IDs struct {
	last atomic.Uint64
}

// Next returns the next unused id.
func (i *IDs) Next() uint64 {
	return i.last.Add(1)
}
