package random

import "math/rand/v2"

const (
	multiplier = 1103515245
	increment  = 12345

	// SeedMin and SeedMax bound the per-session seed, [SeedMin, SeedMax).
	SeedMin = 500000
	SeedMax = 1500000
)

// Sequence is a linear congruential generator shared by the server and every
// client of a session. The seed is exchanged once in the settings message;
// after that both sides re-derive the state from the tick count, so no random
// value ever has to cross the network.
//
// All arithmetic is done in uint32, which gives the mod 2^32 wrap for free.
type Sequence struct {
	seed  uint32
	state uint32
}

// NewSeed draws a session seed in [SeedMin, SeedMax).
func NewSeed() uint32 {
	return uint32(SeedMin + rand.IntN(SeedMax-SeedMin))
}

// New creates a sequence with the given seed and a zero state.
func New(seed uint32) *Sequence {
	return &Sequence{seed: seed}
}

// Next advances the state and returns it scaled into [0, 1).
func (s *Sequence) Next() float64 {
	s.state = multiplier*(s.state+s.seed) + increment
	return float64(s.state) / (1 << 32)
}

// Intn returns a value in [0, n). It panics if n <= 0, like math/rand.
func (s *Sequence) Intn(n int) int {
	if n <= 0 {
		panic("random: invalid argument to Intn")
	}
	return int(s.Next() * float64(n))
}

// Reset aligns the state to a tick count. Both ends call this at every tick
// boundary, which is what keeps their sequences identical.
func (s *Sequence) Reset(tick uint64) {
	s.state = uint32(tick)
}

// Seed returns the seed the sequence was created with.
func (s *Sequence) Seed() uint32 {
	return s.seed
}

// State returns the current raw state.
func (s *Sequence) State() uint32 {
	return s.state
}
