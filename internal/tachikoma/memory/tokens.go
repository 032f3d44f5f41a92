package memory

// TokenCounter estimates how many model tokens a piece of text costs.
// Implementations must be safe for concurrent use.
type TokenCounter interface {
	Count(text string) int
}

// perTurnOverhead accounts for the speaker label and delimiters that frame
// each turn when the context is rendered for the model.
const perTurnOverhead = 4

// HeuristicCounter approximates tokens as ~4 characters per token. The count
// is intentionally imprecise; the assembler's token budget is a soft limit.
type HeuristicCounter struct{}

// Count implements TokenCounter.
func (HeuristicCounter) Count(text string) int {
	const charsPerToken = 4
	return len(text) / charsPerToken
}

// countTurns sums the token cost of a turn slice, including framing overhead.
func countTurns(c TokenCounter, turns []Turn) int {
	total := 0
	for _, t := range turns {
		total += c.Count(t.Text) + perTurnOverhead
	}
	return total
}
