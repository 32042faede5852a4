package client

import (
	"cmp"
	"slices"

	"github.com/risa-org/ticksync/protocol"
)

// queued is a message that arrived before the local tick reached its stamp.
type queued struct {
	uid uint64 // arrival number, never reused
	msg protocol.Message
}

// pending holds tick-gated messages in arrival order.
//
// Arrival order is the only order: two messages are never swapped because
// of their ticks, even when a later one becomes admissible first.
type pending struct {
	nextUID uint64
	entries []queued
	gen     uint64 // bumped by clear
}

// push numbers msg and appends it.
func (p *pending) push(msg protocol.Message) uint64 {
	p.nextUID++
	p.entries = append(p.entries, queued{uid: p.nextUID, msg: msg})
	return p.nextUID
}

func (p *pending) len() int {
	return len(p.entries)
}

// drain offers every entry to apply, oldest first, in one pass. Entries
// apply accepts are removed; the rest keep their relative order. It returns
// how many were applied.
func (p *pending) drain(apply func(protocol.Message) bool) int {
	if len(p.entries) == 0 {
		return 0
	}
	slices.SortStableFunc(p.entries, func(a, b queued) int {
		return cmp.Compare(a.uid, b.uid)
	})

	// apply never pushes, so walking a snapshot is enough. It may clear
	// the queue, which ends the pass.
	entries, gen := p.entries, p.gen
	kept := make([]queued, 0, len(entries))
	applied := 0
	for _, e := range entries {
		if apply(e.msg) {
			applied++
		} else {
			kept = append(kept, e)
		}
		if p.gen != gen {
			return applied
		}
	}
	p.entries = kept
	return applied
}

// clear drops everything. Numbering continues where it was.
func (p *pending) clear() {
	p.entries = nil
	p.gen++
}
