package config

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// memPersister is an in-memory Persister so tests can observe write-through
// behavior and seed persisted values without SQLite.
type memPersister struct {
	mu     sync.Mutex
	kv     map[string]string
	setErr error
}

func newMemPersister() *memPersister {
	return &memPersister{kv: make(map[string]string)}
}

func (p *memPersister) SetConfig(_ context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setErr != nil {
		return p.setErr
	}
	p.kv[key] = value
	return nil
}

func (p *memPersister) GetConfig(_ context.Context, key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.kv[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func seedRuntime(persist Persister) *Runtime {
	return NewRuntime(Snapshot{
		ActiveModel:    "openai/gpt-4o-mini",
		MemoryDepth:    69,
		PersonaPrompt:  "You are Tachikoma.",
		ReplyFrequency: 0.05,
	}, persist)
}

func TestSetActiveModel(t *testing.T) {
	ctx := context.Background()
	r := seedRuntime(nil)

	if err := r.SetActiveModel(ctx, "anthropic/claude-sonnet"); err != nil {
		t.Fatalf("valid model rejected: %v", err)
	}
	if got := r.Snapshot().ActiveModel; got != "anthropic/claude-sonnet" {
		t.Errorf("ActiveModel = %q", got)
	}

	err := r.SetActiveModel(ctx, "   ")
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("blank model should fail with ErrInvalidConfiguration, got %v", err)
	}
	if got := r.Snapshot().ActiveModel; got != "anthropic/claude-sonnet" {
		t.Errorf("rejected setter must keep the prior value, got %q", got)
	}
}

func TestSetMemoryDepth_RejectsNonPositive(t *testing.T) {
	ctx := context.Background()
	r := seedRuntime(nil)

	for _, n := range []int{0, -1, -69} {
		if err := r.SetMemoryDepth(ctx, n); !errors.Is(err, ErrInvalidConfiguration) {
			t.Errorf("SetMemoryDepth(%d) = %v, want ErrInvalidConfiguration", n, err)
		}
	}
	if got := r.MemoryDepth(); got != 69 {
		t.Errorf("depth changed on rejected input: %d", got)
	}

	if err := r.SetMemoryDepth(ctx, 10); err != nil {
		t.Fatalf("valid depth rejected: %v", err)
	}
	if got := r.MemoryDepth(); got != 10 {
		t.Errorf("depth = %d, want 10", got)
	}
}

func TestSetReplyFrequency_Bounds(t *testing.T) {
	ctx := context.Background()
	r := seedRuntime(nil)

	for _, f := range []float64{-0.01, 1.01, 2} {
		if err := r.SetReplyFrequency(ctx, f); !errors.Is(err, ErrInvalidConfiguration) {
			t.Errorf("SetReplyFrequency(%g) = %v, want ErrInvalidConfiguration", f, err)
		}
	}
	for _, f := range []float64{0, 0.5, 1} {
		if err := r.SetReplyFrequency(ctx, f); err != nil {
			t.Errorf("SetReplyFrequency(%g) rejected: %v", f, err)
		}
	}
}

func TestSetPersonaPrompt_RejectsEmpty(t *testing.T) {
	ctx := context.Background()
	r := seedRuntime(nil)

	if err := r.SetPersonaPrompt(ctx, " \n\t"); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("whitespace prompt should be rejected, got %v", err)
	}
	if got := r.PersonaPrompt(); got != "You are Tachikoma." {
		t.Errorf("prompt changed on rejected input: %q", got)
	}
}

func TestSetModelRotation(t *testing.T) {
	ctx := context.Background()
	r := seedRuntime(nil)

	if err := r.SetModelRotation(ctx, []string{"m1", "m2"}); err != nil {
		t.Fatalf("valid rotation rejected: %v", err)
	}
	if got := r.Snapshot().ModelRotation; len(got) != 2 {
		t.Fatalf("rotation = %v", got)
	}

	if err := r.SetModelRotation(ctx, []string{"m1", " "}); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("blank rotation entry should be rejected, got %v", err)
	}

	if err := r.SetModelRotation(ctx, nil); err != nil {
		t.Fatalf("empty rotation disables rotation, must be valid: %v", err)
	}
	if got := r.Snapshot().ModelRotation; len(got) != 0 {
		t.Errorf("rotation not cleared: %v", got)
	}
}

func TestSnapshot_IsolatedFromLaterMutation(t *testing.T) {
	ctx := context.Background()
	r := seedRuntime(nil)
	_ = r.SetModelRotation(ctx, []string{"m1"})

	snap := r.Snapshot()
	_ = r.SetModelRotation(ctx, []string{"m2", "m3"})

	if len(snap.ModelRotation) != 1 || snap.ModelRotation[0] != "m1" {
		t.Errorf("earlier snapshot mutated: %v", snap.ModelRotation)
	}
}

func TestWriteThrough_PersistsOperatorOverrides(t *testing.T) {
	ctx := context.Background()
	p := newMemPersister()
	r := seedRuntime(p)

	_ = r.SetActiveModel(ctx, "m")
	_ = r.SetMemoryDepth(ctx, 12)
	_ = r.SetReplyFrequency(ctx, 0.25)

	want := map[string]string{
		KeyActiveModel: "m",
		KeyMemoryDepth: "12",
		KeyReplyFreq:   "0.25",
	}
	for k, v := range want {
		if got := p.kv[k]; got != v {
			t.Errorf("persisted %s = %q, want %q", k, got, v)
		}
	}
}

func TestWriteThrough_FailureKeepsInMemoryValue(t *testing.T) {
	ctx := context.Background()
	p := newMemPersister()
	p.setErr = errors.New("disk full")
	r := seedRuntime(p)

	if err := r.SetMemoryDepth(ctx, 7); err != nil {
		t.Fatalf("persistence failure must not fail the setter: %v", err)
	}
	if got := r.MemoryDepth(); got != 7 {
		t.Errorf("in-memory value lost on persistence failure: %d", got)
	}
}

func TestLoadPersisted_AppliesOverridesAndSkipsGarbage(t *testing.T) {
	ctx := context.Background()
	p := newMemPersister()
	p.kv[KeyActiveModel] = "persisted/model"
	p.kv[KeyMemoryDepth] = "not-a-number"
	p.kv[KeyReplyFreq] = "0.42"

	r := seedRuntime(p)
	r.LoadPersisted(ctx)

	snap := r.Snapshot()
	if snap.ActiveModel != "persisted/model" {
		t.Errorf("persisted model not applied: %q", snap.ActiveModel)
	}
	if snap.MemoryDepth != 69 {
		t.Errorf("malformed depth must keep the seed, got %d", snap.MemoryDepth)
	}
	if snap.ReplyFrequency != 0.42 {
		t.Errorf("persisted frequency not applied: %g", snap.ReplyFrequency)
	}
}
