package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Params exposes the live runtime parameters the memory layer reads on every
// call. Implemented by config.Runtime; kept as an interface so the store and
// assembler are testable without the full configuration machinery.
type Params interface {
	// MemoryDepth is the maximum number of turns retained per channel.
	MemoryDepth() int
	// PersonaPrompt is the system prompt prepended to every assembled context.
	PersonaPrompt() string
}

// Store owns all conversations, keyed by channel ID. Conversations are
// created lazily on first record and destroyed by Clear or Sweep.
//
// Locking is two-level: the store mutex guards the channel map only, and each
// conversation carries its own mutex, so concurrent traffic in different
// channels never contends while appends within one channel stay serialized.
type Store struct {
	mu     sync.Mutex
	params Params
	convos map[string]*lockedConversation
}

type lockedConversation struct {
	mu   sync.Mutex
	conv Conversation
}

// NewStore creates an empty Store reading its depth bound from params.
func NewStore(params Params) *Store {
	return &Store{
		params: params,
		convos: make(map[string]*lockedConversation),
	}
}

// Record appends turn to the conversation for channelID, creating the
// conversation if absent, then evicts from the front until the window is
// within the current memory depth. The depth is re-read on every call so a
// lowered depth takes effect on the next message without a restart.
func (s *Store) Record(channelID string, turn Turn) {
	lc := s.getOrCreate(channelID, turn.Timestamp)

	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.conv.Turns = append(lc.conv.Turns, turn)
	lc.conv.LastTurnAt = turn.Timestamp

	depth := s.params.MemoryDepth()
	if depth > 0 && len(lc.conv.Turns) > depth {
		excess := len(lc.conv.Turns) - depth
		lc.conv.Turns = append([]Turn(nil), lc.conv.Turns[excess:]...)
	}
}

// History returns a copy of the current window for channelID, oldest first.
// Unknown channels yield an empty slice.
func (s *Store) History(channelID string) []Turn {
	s.mu.Lock()
	lc := s.convos[channelID]
	s.mu.Unlock()
	if lc == nil {
		return nil
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()
	out := make([]Turn, len(lc.conv.Turns))
	copy(out, lc.conv.Turns)
	return out
}

// Clear removes the conversation for channelID entirely. Clearing an unknown
// channel is a no-op.
func (s *Store) Clear(channelID string) {
	s.mu.Lock()
	delete(s.convos, channelID)
	s.mu.Unlock()
}

// Len returns the number of channels currently held in memory.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convos)
}

// Channels returns a snapshot of all channel IDs with their window lengths.
// Used by the admin "conversations" listing.
func (s *Store) Channels() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, len(s.convos))
	for id, lc := range s.convos {
		lc.mu.Lock()
		out[id] = len(lc.conv.Turns)
		lc.mu.Unlock()
	}
	return out
}

// Sweep drops every conversation whose last turn is strictly older than
// idleThreshold relative to now, and returns the swept channel IDs. Channels
// exactly at the threshold are retained. Sweep holds the store mutex only for
// the scan itself; it never blocks on in-flight completion calls.
func (s *Store) Sweep(now time.Time, idleThreshold time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var swept []string
	for id, lc := range s.convos {
		lc.mu.Lock()
		idle := now.Sub(lc.conv.LastTurnAt)
		lc.mu.Unlock()
		if idle > idleThreshold {
			delete(s.convos, id)
			swept = append(swept, id)
		}
	}
	return swept
}

// getOrCreate returns the locked conversation for channelID, creating it on
// first use.
func (s *Store) getOrCreate(channelID string, at time.Time) *lockedConversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	lc := s.convos[channelID]
	if lc == nil {
		lc = &lockedConversation{
			conv: Conversation{
				ID:        uuid.New().String(),
				ChannelID: channelID,
				StartedAt: at,
			},
		}
		s.convos[channelID] = lc
	}
	return lc
}
