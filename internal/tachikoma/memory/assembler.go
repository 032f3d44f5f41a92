package memory

import (
	"strings"
)

// PromptContext is the ephemeral payload handed to the model gateway. It is
// built per request and discarded once the completion call returns.
type PromptContext struct {
	Persona  string // system prompt for this exchange
	History  []Turn // prior turns, oldest first, already bounded
	Incoming Turn   // the message that triggered this exchange
}

// timeLayout matches the timestamp framing the model sees in transcripts.
const timeLayout = "2006-01-02 15:04:05"

// Transcript renders history plus the incoming turn as a chronological
// chat log, one "[timestamp] speaker: text" line per turn, ending with a cue
// line that invites the model to speak as the bot.
func (p PromptContext) Transcript() string {
	var sb strings.Builder
	for _, t := range p.History {
		writeTurn(&sb, t)
	}
	writeTurn(&sb, p.Incoming)
	sb.WriteString("[" + p.Incoming.Timestamp.Format(timeLayout) + "] " + SpeakerBot + ":")
	return sb.String()
}

func writeTurn(sb *strings.Builder, t Turn) {
	sb.WriteString("[")
	sb.WriteString(t.Timestamp.Format(timeLayout))
	sb.WriteString("] ")
	sb.WriteString(t.Speaker)
	sb.WriteString(": ")
	sb.WriteString(t.Text)
	sb.WriteString("\n")
}

// DefaultMaxTokens is the default token budget for an assembled context.
const DefaultMaxTokens = 4000

// Assembler builds PromptContexts from the store and the live runtime
// parameters. Assemble never records anything — the caller owns recording the
// incoming turn and, later, the reply turn, so assembly stays a pure function
// of store and configuration state.
type Assembler struct {
	Store   *Store
	Params  Params
	Counter TokenCounter
	// MaxTokens bounds the estimated token cost of history + incoming turn.
	// Zero means DefaultMaxTokens.
	MaxTokens int
}

// Assemble reads the persona prompt and the channel history and combines them
// with the incoming turn in chronological order.
//
// The history is re-truncated to the current memory depth here even though
// Record enforces the same bound: the depth may have been lowered since the
// last record, and the assembly boundary is where the model-visible window
// must hold. After depth truncation the oldest turns are dropped until the
// context fits the token budget; the incoming turn is always kept.
func (a *Assembler) Assemble(channelID string, incoming Turn) PromptContext {
	history := a.Store.History(channelID)

	if depth := a.Params.MemoryDepth(); depth > 0 && len(history) > depth {
		history = history[len(history)-depth:]
	}

	counter := a.Counter
	if counter == nil {
		counter = HeuristicCounter{}
	}
	budget := a.MaxTokens
	if budget <= 0 {
		budget = DefaultMaxTokens
	}

	spent := countTurns(counter, []Turn{incoming})
	for len(history) > 0 && spent+countTurns(counter, history) > budget {
		history = history[1:]
	}

	return PromptContext{
		Persona:  a.Params.PersonaPrompt(),
		History:  history,
		Incoming: incoming,
	}
}
