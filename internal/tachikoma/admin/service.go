package admin

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/bdobrica/Tachikoma/internal/tachikoma/config"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/memory"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/observability"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/store"
)

// DeniedMessage is the generic reply sent to non-admin issuers. It leaks
// nothing about who the admins are.
const DeniedMessage = "You must be an administrator to use these commands."

// Auditor records admin actions. Implemented by store.Store; nil disables
// auditing.
type Auditor interface {
	WriteAudit(ctx context.Context, traceID, actorMXID, action, target, result, errorMsg string) error
	RecentAudit(ctx context.Context, limit int) ([]*store.AuditEntry, error)
}

// Service is the single mutation path for runtime configuration and
// conversation memory. Every entry point authorizes the issuer first; denied
// calls mutate nothing and are audited as such.
type Service struct {
	gate  *Gate
	cfg   *config.Runtime
	mem   *memory.Store
	audit Auditor

	debug atomic.Bool // runtime debug-logging toggle, volatile
}

// NewService wires the admin service. audit may be nil.
func NewService(gate *Gate, cfg *config.Runtime, mem *memory.Store, audit Auditor) *Service {
	return &Service{gate: gate, cfg: cfg, mem: mem, audit: audit}
}

// SetModel changes the active completion model.
func (s *Service) SetModel(ctx context.Context, issuer, name string) error {
	return s.mutate(ctx, issuer, "model.set", name, func() error {
		return s.cfg.SetActiveModel(ctx, name)
	})
}

// SetMemoryDepth changes the per-channel turn window for all channels.
func (s *Service) SetMemoryDepth(ctx context.Context, issuer string, n int) error {
	return s.mutate(ctx, issuer, "memory.depth.set", strconv.Itoa(n), func() error {
		return s.cfg.SetMemoryDepth(ctx, n)
	})
}

// SetPersona replaces the persona prompt for all channels.
func (s *Service) SetPersona(ctx context.Context, issuer, text string) error {
	return s.mutate(ctx, issuer, "persona.set", previewText(text), func() error {
		return s.cfg.SetPersonaPrompt(ctx, text)
	})
}

// SetReplyFrequency adjusts the unaddressed-reply probability.
func (s *Service) SetReplyFrequency(ctx context.Context, issuer string, f float64) error {
	return s.mutate(ctx, issuer, "reply.frequency.set", strconv.FormatFloat(f, 'g', -1, 64), func() error {
		return s.cfg.SetReplyFrequency(ctx, f)
	})
}

// ToggleDebug flips debug-level logging for the whole process and returns the
// new state. The toggle is not persisted; a restart falls back to LOG_LEVEL.
func (s *Service) ToggleDebug(ctx context.Context, issuer string) (bool, error) {
	on := !s.debug.Load()
	err := s.mutate(ctx, issuer, "debug.set", strconv.FormatBool(on), func() error {
		s.debug.Store(on)
		observability.SetDebug(on)
		return nil
	})
	if err != nil {
		return s.debug.Load(), err
	}
	return on, nil
}

// ResetMemory clears the conversation window for one channel.
func (s *Service) ResetMemory(ctx context.Context, issuer, channelID string) error {
	return s.mutate(ctx, issuer, "memory.reset", channelID, func() error {
		s.mem.Clear(channelID)
		return nil
	})
}

// mutate runs the gate → act → audit sequence shared by every entry point.
func (s *Service) mutate(ctx context.Context, issuer, action, target string, act func() error) error {
	if !s.gate.Authorize(issuer) {
		s.writeAudit(ctx, issuer, action, target, "denied", "")
		return ErrUnauthorized
	}
	if err := act(); err != nil {
		s.writeAudit(ctx, issuer, action, target, "error", err.Error())
		return err
	}
	s.writeAudit(ctx, issuer, action, target, "ok", "")
	return nil
}

func (s *Service) writeAudit(ctx context.Context, issuer, action, target, result, errMsg string) {
	if s.audit == nil {
		return
	}
	traceID := observability.TraceID(ctx)
	if err := s.audit.WriteAudit(ctx, traceID, issuer, action, target, result, errMsg); err != nil {
		observability.Logger(ctx).Warn("audit write failed", "action", action, "err", err)
	}
}

// Dispatch executes a parsed admin command issued in channelID and returns
// the reply text for the channel. Unauthorized issuers get DeniedMessage for
// every command, including read-only ones.
func (s *Service) Dispatch(ctx context.Context, issuer, channelID string, cmd *Command) (string, error) {
	switch cmd.Name {
	case "help":
		if !s.gate.Authorize(issuer) {
			return DeniedMessage, nil
		}
		return helpText, nil

	case "ping":
		if !s.gate.Authorize(issuer) {
			return DeniedMessage, nil
		}
		return "pong", nil

	case "model":
		if len(cmd.Args) == 0 {
			if !s.gate.Authorize(issuer) {
				return DeniedMessage, nil
			}
			return fmt.Sprintf("Current model: %s", s.cfg.Snapshot().ActiveModel), nil
		}
		if err := s.SetModel(ctx, issuer, cmd.Args[0]); err != nil {
			return s.errorReply(err)
		}
		return fmt.Sprintf("Model changed to: %s", cmd.Args[0]), nil

	case "depth", "history":
		if len(cmd.Args) == 0 {
			if !s.gate.Authorize(issuer) {
				return DeniedMessage, nil
			}
			return fmt.Sprintf("Current memory depth: %d", s.cfg.Snapshot().MemoryDepth), nil
		}
		n, err := strconv.Atoi(cmd.Args[0])
		if err != nil {
			return "Please provide a valid positive integer.", nil
		}
		if err := s.SetMemoryDepth(ctx, issuer, n); err != nil {
			return s.errorReply(err)
		}
		return fmt.Sprintf("Memory depth set to: %d", n), nil

	case "persona", "prompt":
		if cmd.Rest == "" {
			if !s.gate.Authorize(issuer) {
				return DeniedMessage, nil
			}
			return fmt.Sprintf("Current persona: %s", previewText(s.cfg.Snapshot().PersonaPrompt)), nil
		}
		if err := s.SetPersona(ctx, issuer, cmd.Rest); err != nil {
			return s.errorReply(err)
		}
		return fmt.Sprintf("Persona set: %s", previewText(cmd.Rest)), nil

	case "frequency":
		if len(cmd.Args) == 0 {
			if !s.gate.Authorize(issuer) {
				return DeniedMessage, nil
			}
			return fmt.Sprintf("Current reply frequency: %g", s.cfg.Snapshot().ReplyFrequency), nil
		}
		f, err := strconv.ParseFloat(cmd.Args[0], 64)
		if err != nil {
			return "Please provide a number between 0 and 1.", nil
		}
		if err := s.SetReplyFrequency(ctx, issuer, f); err != nil {
			return s.errorReply(err)
		}
		return fmt.Sprintf("Reply frequency set to: %g", f), nil

	case "forget":
		target := channelID
		if len(cmd.Args) > 0 {
			target = cmd.Args[0]
		}
		if err := s.ResetMemory(ctx, issuer, target); err != nil {
			return s.errorReply(err)
		}
		return fmt.Sprintf("Cleared conversation %s", target), nil

	case "conversations":
		if !s.gate.Authorize(issuer) {
			return DeniedMessage, nil
		}
		return s.listConversations(), nil

	case "debug":
		on, err := s.ToggleDebug(ctx, issuer)
		if err != nil {
			return s.errorReply(err)
		}
		if on {
			return "Debug logging enabled.", nil
		}
		return "Debug logging disabled.", nil

	case "audit":
		if !s.gate.Authorize(issuer) {
			return DeniedMessage, nil
		}
		limit := 10
		if len(cmd.Args) > 0 {
			if n, err := strconv.Atoi(cmd.Args[0]); err == nil && n > 0 {
				limit = n
			}
		}
		return s.auditTail(ctx, limit)

	default:
		return fmt.Sprintf("Unknown command %q — try %shelp", cmd.Name, Prefix), nil
	}
}

// errorReply converts an entry-point error into channel-visible text.
func (s *Service) errorReply(err error) (string, error) {
	if err == ErrUnauthorized {
		return DeniedMessage, nil
	}
	return fmt.Sprintf("Rejected: %s", err), nil
}

func (s *Service) listConversations() string {
	channels := s.mem.Channels()
	if len(channels) == 0 {
		return "There are no conversations in memory."
	}

	ids := make([]string, 0, len(channels))
	for id := range channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString("Conversations in memory:\n")
	for _, id := range ids {
		fmt.Fprintf(&sb, "%s — %d turns\n", id, channels[id])
	}
	return sb.String()
}

func (s *Service) auditTail(ctx context.Context, limit int) (string, error) {
	if s.audit == nil {
		return "Audit log is not configured.", nil
	}
	entries, err := s.audit.RecentAudit(ctx, limit)
	if err != nil {
		return "", fmt.Errorf("read audit log: %w", err)
	}
	if len(entries) == 0 {
		return "Audit log is empty.", nil
	}

	var sb strings.Builder
	sb.WriteString("Recent admin actions:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "%s %s %s [%s]", e.Timestamp.Format("2006-01-02 15:04"), e.ActorMXID, e.Action, e.Result)
		if e.Target.Valid {
			fmt.Fprintf(&sb, " %s", e.Target.String)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func previewText(text string) string {
	const max = 75
	if len(text) <= max {
		return text
	}
	// Back up to a rune boundary so the preview is always valid UTF-8.
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

var helpText = strings.TrimSpace(`
Available admin commands:
- ` + Prefix + `model [name]: show or set the active completion model
- ` + Prefix + `depth [n]: show or set the per-channel memory depth
- ` + Prefix + `persona [text]: show or set the persona prompt
- ` + Prefix + `frequency [0..1]: show or set the unaddressed-reply chance
- ` + Prefix + `forget [channel]: clear a channel's memory (default: this one)
- ` + Prefix + `conversations: list channels currently held in memory
- ` + Prefix + `audit [n]: show the n most recent admin actions
- ` + Prefix + `debug: toggle debug logging
- ` + Prefix + `ping: check that the bot is alive
`)
