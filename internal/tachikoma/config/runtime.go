// Package config holds Tachikoma's mutable runtime parameters: the active
// model, the memory depth, the persona prompt, and the reply policy knobs.
// All request paths share one Runtime by reference; the admin service is the
// only caller permitted to mutate it.
//
// Operator overrides are written through to the SQLite config table so a
// restart does not silently revert tuning. Conversational memory itself is
// never persisted — only these knobs.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

// ErrInvalidConfiguration is wrapped by every setter rejection. The prior
// value is always kept when a setter returns an error.
var ErrInvalidConfiguration = errors.New("config: invalid configuration")

// Persisted config keys.
const (
	KeyActiveModel   = "model.active"
	KeyModelRotation = "model.rotation"
	KeyMemoryDepth   = "memory.depth"
	KeyPersonaPrompt = "persona.prompt"
	KeyReplyFreq     = "reply.frequency"
)

// Persister is the write-through backing store for operator overrides.
// Implemented by store.Store; nil disables persistence.
type Persister interface {
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)
}

// ErrNotFound is returned by Persister.GetConfig for unset keys.
var ErrNotFound = errors.New("config: key not found")

// Snapshot is an immutable view of the runtime parameters, safe to hold
// across a completion call.
type Snapshot struct {
	ActiveModel    string
	ModelRotation  []string // candidate set for rotation; empty disables it
	MemoryDepth    int
	PersonaPrompt  string
	ReplyFrequency float64 // chance of replying when not addressed, 0..1
}

// Runtime is the process-wide mutable configuration. Safe for concurrent use;
// readers never observe a partially updated snapshot.
type Runtime struct {
	mu      sync.RWMutex
	snap    Snapshot
	persist Persister
}

// NewRuntime creates a Runtime seeded with initial and backed by persist
// (which may be nil for volatile-only operation). Initial values are trusted
// input from process startup and are not validated here.
func NewRuntime(initial Snapshot, persist Persister) *Runtime {
	return &Runtime{snap: initial, persist: persist}
}

// Snapshot returns a consistent copy of all parameters.
func (r *Runtime) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.snap
	s.ModelRotation = append([]string(nil), r.snap.ModelRotation...)
	return s
}

// MemoryDepth implements memory.Params.
func (r *Runtime) MemoryDepth() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.MemoryDepth
}

// PersonaPrompt implements memory.Params.
func (r *Runtime) PersonaPrompt() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.PersonaPrompt
}

// SetActiveModel switches the model used for subsequent completions.
func (r *Runtime) SetActiveModel(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidConfiguration)
	}
	r.mu.Lock()
	r.snap.ActiveModel = name
	r.mu.Unlock()
	r.writeThrough(ctx, KeyActiveModel, name)
	return nil
}

// SetModelRotation replaces the rotation candidate set. An empty list is
// valid and disables rotation.
func (r *Runtime) SetModelRotation(ctx context.Context, models []string) error {
	cleaned := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			return fmt.Errorf("%w: rotation entries must not be empty", ErrInvalidConfiguration)
		}
		cleaned = append(cleaned, m)
	}
	r.mu.Lock()
	r.snap.ModelRotation = cleaned
	r.mu.Unlock()
	r.writeThrough(ctx, KeyModelRotation, strings.Join(cleaned, ","))
	return nil
}

// SetMemoryDepth bounds how many turns each channel retains. Takes effect on
// the next record and the next assembly, for every channel.
func (r *Runtime) SetMemoryDepth(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: memory depth must be a positive integer, got %d", ErrInvalidConfiguration, n)
	}
	r.mu.Lock()
	r.snap.MemoryDepth = n
	r.mu.Unlock()
	r.writeThrough(ctx, KeyMemoryDepth, strconv.Itoa(n))
	return nil
}

// SetPersonaPrompt replaces the system prompt used for all channels.
func (r *Runtime) SetPersonaPrompt(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: persona prompt must not be empty", ErrInvalidConfiguration)
	}
	r.mu.Lock()
	r.snap.PersonaPrompt = text
	r.mu.Unlock()
	r.writeThrough(ctx, KeyPersonaPrompt, text)
	return nil
}

// SetReplyFrequency adjusts the unaddressed-reply probability.
func (r *Runtime) SetReplyFrequency(ctx context.Context, f float64) error {
	if f < 0 || f > 1 {
		return fmt.Errorf("%w: reply frequency must be between 0 and 1, got %g", ErrInvalidConfiguration, f)
	}
	r.mu.Lock()
	r.snap.ReplyFrequency = f
	r.mu.Unlock()
	r.writeThrough(ctx, KeyReplyFreq, strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

// LoadPersisted applies any persisted operator overrides on top of the seeded
// values. Unset keys are skipped; malformed values are logged and skipped so
// a corrupt row can never prevent startup.
func (r *Runtime) LoadPersisted(ctx context.Context) {
	if r.persist == nil {
		return
	}
	if v, err := r.persist.GetConfig(ctx, KeyActiveModel); err == nil {
		r.applyOr(ctx, KeyActiveModel, func() error { return r.SetActiveModel(ctx, v) })
	}
	if v, err := r.persist.GetConfig(ctx, KeyModelRotation); err == nil {
		var models []string
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				models = append(models, m)
			}
		}
		r.applyOr(ctx, KeyModelRotation, func() error { return r.SetModelRotation(ctx, models) })
	}
	if v, err := r.persist.GetConfig(ctx, KeyMemoryDepth); err == nil {
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			slog.Warn("config: ignoring malformed persisted value", "key", KeyMemoryDepth, "value", v)
		} else {
			r.applyOr(ctx, KeyMemoryDepth, func() error { return r.SetMemoryDepth(ctx, n) })
		}
	}
	if v, err := r.persist.GetConfig(ctx, KeyPersonaPrompt); err == nil {
		r.applyOr(ctx, KeyPersonaPrompt, func() error { return r.SetPersonaPrompt(ctx, v) })
	}
	if v, err := r.persist.GetConfig(ctx, KeyReplyFreq); err == nil {
		f, convErr := strconv.ParseFloat(v, 64)
		if convErr != nil {
			slog.Warn("config: ignoring malformed persisted value", "key", KeyReplyFreq, "value", v)
		} else {
			r.applyOr(ctx, KeyReplyFreq, func() error { return r.SetReplyFrequency(ctx, f) })
		}
	}
}

func (r *Runtime) applyOr(ctx context.Context, key string, apply func() error) {
	if err := apply(); err != nil {
		slog.Warn("config: ignoring invalid persisted value", "key", key, "err", err)
	}
}

// writeThrough persists the new value best-effort. The in-memory mutation has
// already happened; a persistence failure only costs durability, not
// correctness, so it is logged and swallowed.
func (r *Runtime) writeThrough(ctx context.Context, key, value string) {
	if r.persist == nil {
		return
	}
	if err := r.persist.SetConfig(ctx, key, value); err != nil {
		slog.Warn("config: write-through failed", "key", key, "err", err)
	}
}
