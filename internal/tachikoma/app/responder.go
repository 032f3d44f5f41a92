package app

import (
	"math/rand"
	"strings"
	"sync"

	"github.com/bdobrica/Tachikoma/internal/tachikoma/config"
)

// Responder decides whether the bot replies to a message. Direct messages
// always get a reply; in shared channels the bot replies when it is mentioned
// or named near the start or end of the message, and otherwise with the
// configured reply frequency.
//
// The random source is injected so the policy is deterministic under test.
type Responder struct {
	botName string // lowercased display name, e.g. "tachikoma"
	botID   string // full user ID, e.g. "@tachikoma:example.org"
	cfg     *config.Runtime

	mu  sync.Mutex
	rng *rand.Rand
}

// NewResponder creates a reply policy for the given bot identity. rng may be
// nil, in which case a time-seeded source is used.
func NewResponder(botName, botID string, cfg *config.Runtime, rng *rand.Rand) *Responder {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Responder{
		botName: strings.ToLower(botName),
		botID:   botID,
		cfg:     cfg,
		rng:     rng,
	}
}

// ShouldReply reports whether the bot should answer text sent in a channel.
func (r *Responder) ShouldReply(text string, dm bool) bool {
	if dm {
		return true
	}
	if strings.Contains(text, r.botID) {
		return true
	}
	if r.named(text) {
		return true
	}

	r.mu.Lock()
	roll := r.rng.Float64()
	r.mu.Unlock()
	return roll < r.cfg.Snapshot().ReplyFrequency
}

// named reports whether the bot's name appears within the first or last three
// words of the message.
func (r *Responder) named(text string) bool {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return false
	}

	edge := 3
	if len(words) < edge {
		edge = len(words)
	}
	for _, w := range words[:edge] {
		if strings.Contains(w, r.botName) {
			return true
		}
	}
	for _, w := range words[len(words)-edge:] {
		if strings.Contains(w, r.botName) {
			return true
		}
	}
	return false
}
