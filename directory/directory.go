package directory

import (
	"slices"

	"github.com/sasha-s/go-deadlock"

	"github.com/risa-org/ticksync/protocol"
)

// Store is a thread-safe snapshot of the open sessions.
//
// The server dispatcher is the only writer; HTTP handlers read it without
// going through the dispatcher. Rows are copies, never live sessions.
type Store struct {
	mu       deadlock.RWMutex
	sessions map[int]protocol.SessionInfo
}

// New creates an empty directory.
func New() *Store {
	return &Store{
		sessions: make(map[int]protocol.SessionInfo),
	}
}

// Put inserts or replaces the row of a session.
func (s *Store) Put(info protocol.SessionInfo) {
	s.mu.Lock()
	s.sessions[info.ID] = info
	s.mu.Unlock()
}

// Replace swaps the whole directory for rows.
func (s *Store) Replace(rows []protocol.SessionInfo) {
	next := make(map[int]protocol.SessionInfo, len(rows))
	for _, r := range rows {
		next[r.ID] = r
	}
	s.mu.Lock()
	s.sessions = next
	s.mu.Unlock()
}

// Get returns the row of a session.
func (s *Store) Get(id int) (protocol.SessionInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.sessions[id]
	return info, ok
}

// Delete removes a session. Deleting an unknown id is a no-op.
func (s *Store) Delete(id int) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// List returns every row ordered by session id.
func (s *Store) List() []protocol.SessionInfo {
	s.mu.RLock()
	out := make([]protocol.SessionInfo, 0, len(s.sessions))
	for _, info := range s.sessions {
		out = append(out, info)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b protocol.SessionInfo) int { return a.ID - b.ID })
	return out
}

// Count returns the number of sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Players returns the number of players across all sessions.
func (s *Store) Players() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, info := range s.sessions {
		n += info.Players
	}
	return n
}
