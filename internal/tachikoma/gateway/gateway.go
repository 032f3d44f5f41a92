// Package gateway sits between the prompt assembler and the completion
// transport. It picks the model for each call from the live runtime
// configuration, applies per-channel throttling and a bounded wait, and folds
// every transport failure into ErrCompletionFailed so the app layer has a
// single error to translate for the channel.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bdobrica/Tachikoma/internal/tachikoma/config"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/llm"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/memory"
)

// ErrCompletionFailed wraps every transport or provider failure surfaced by
// Complete. The triggering turn is recorded by the caller before the call, so
// a failure never loses conversational context.
var ErrCompletionFailed = errors.New("gateway: completion failed")

// ErrThrottled is returned when a channel has exhausted its completion quota
// for the current window. No upstream call is made.
var ErrThrottled = errors.New("gateway: channel rate limit exceeded")

// DefaultTimeout bounds a single completion call.
const DefaultTimeout = 90 * time.Second

// Gateway adapts PromptContexts to the completion provider.
type Gateway struct {
	provider llm.Provider
	cfg      *config.Runtime
	limiter  *RateLimiter
	timeout  time.Duration
	next     atomic.Uint64 // rotation cursor
}

// New creates a Gateway. limiter may be nil to disable throttling; timeout
// zero uses DefaultTimeout.
func New(provider llm.Provider, cfg *config.Runtime, limiter *RateLimiter, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{
		provider: provider,
		cfg:      cfg,
		limiter:  limiter,
		timeout:  timeout,
	}
}

// Complete sends the assembled context to the model selected for this call
// and returns the reply text. It never retries and never substitutes a
// default reply: timeouts, rate limits, and malformed responses all come back
// as ErrCompletionFailed (or ErrThrottled before any call is made).
func (g *Gateway) Complete(ctx context.Context, channelID string, pctx memory.PromptContext) (string, error) {
	if g.limiter != nil && !g.limiter.Allow(channelID) {
		return "", ErrThrottled
	}

	model := g.selectModel()
	if model == "" {
		return "", fmt.Errorf("%w: no model configured", ErrCompletionFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := llm.CompletionRequest{
		Model: model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: pctx.Persona},
			{Role: llm.RoleUser, Content: pctx.Transcript()},
		},
	}

	resp, err := g.provider.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: model %s: %v", ErrCompletionFailed, model, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%w: model %s returned an empty reply", ErrCompletionFailed, model)
	}
	return text, nil
}

// selectModel reads the runtime configuration at call time. With a rotation
// set configured the gateway cycles through it round-robin; the cursor makes
// selection deterministic given its state. Without rotation the active model
// is used for every call.
func (g *Gateway) selectModel() string {
	snap := g.cfg.Snapshot()
	if len(snap.ModelRotation) == 0 {
		return snap.ActiveModel
	}
	n := g.next.Add(1) - 1
	return snap.ModelRotation[n%uint64(len(snap.ModelRotation))]
}
