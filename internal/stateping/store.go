// Package stateping holds, per UUID, the ordered list of encoded S2C Ping
// frames a client has asked the server to remember and replay to future
// subscribers (so late joiners see current worn state).
package stateping

import (
	"sync"

	"github.com/google/uuid"
)

// MaxFrames bounds the replay list per UUID. The distilled spec leaves this
// size unspecified ("choose a sane cap... e.g. 64 frames"); 64 is adopted
// here and enforced by drop-oldest eviction.
const MaxFrames = 64

// Store is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	data map[uuid.UUID][][]byte
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{data: make(map[uuid.UUID][][]byte)}
}

// Append adds frame to id's replay list, evicting the oldest frame first if
// the list is already at MaxFrames.
func (s *Store) Append(id uuid.UUID, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.data[id]
	if len(list) >= MaxFrames {
		list = list[1:]
	}
	s.data[id] = append(list, frame)
}

// Reset clears id's replay list, in response to the client's explicit
// state-ping-control reset command (funcId control byte 0).
func (s *Store) Reset(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
}

// Snapshot returns a copy of id's current replay list, in order, for replay
// to a newly-subscribing client.
func (s *Store) Snapshot(id uuid.UUID) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.data[id]
	out := make([][]byte, len(list))
	copy(out, list)
	return out
}
