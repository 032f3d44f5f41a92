package memory

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used when none is configured. cl100k is
// shared by the GPT-4 family and is a reasonable proxy for the OpenRouter
// model catalogue.
const DefaultEncoding = "cl100k_base"

// tiktokenCounter counts tokens with a real BPE tokenizer. More accurate than
// HeuristicCounter but needs the encoding tables available at startup.
type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter returns a TokenCounter backed by the named tiktoken
// encoding. Callers should fall back to HeuristicCounter on error — the
// encoding tables may be unavailable in offline deployments.
func NewTiktokenCounter(encoding string) (TokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
	}
	return &tiktokenCounter{enc: enc}, nil
}

func (t *tiktokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}
