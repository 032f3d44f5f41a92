// Package memory implements Tachikoma's per-channel conversational memory.
// Each channel holds a bounded, ordered window of Turns; the window length is
// re-read from the runtime configuration on every append so operator changes
// take effect on the very next message. Idle channels are swept periodically
// to keep the channel map itself bounded in a long-lived process.
package memory

import "time"

// SpeakerBot is the speaker name recorded for turns produced by the bot.
const SpeakerBot = "tachikoma"

// Turn is a single message in a conversation, immutable once recorded.
type Turn struct {
	Speaker   string    // display name of the author, or SpeakerBot
	Text      string    // message text
	Timestamp time.Time // when the message was received or sent
}

// Conversation is the bounded history of one channel. It is owned exclusively
// by the Store; callers only ever see copies of the turn slice.
type Conversation struct {
	ID         string // unique conversation ID (UUID)
	ChannelID  string // room the conversation belongs to
	Turns      []Turn // ordered window, oldest first
	StartedAt  time.Time
	LastTurnAt time.Time
}
