// Package app wires the relay together: the Matrix client feeds incoming
// messages through the reply policy, the conversation store, the prompt
// assembler, and the model gateway, and the resulting completions go back to
// the channel. Admin commands are routed to the admin service instead.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Tachikoma/internal/tachikoma/admin"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/config"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/gateway"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/llm"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/matrix"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/memory"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/observability"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/persona"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/store"
)

const (
	// typingTimeout caps how long a single typing notification stays visible
	// if the completion stalls; the indicator is cleared explicitly when the
	// call returns.
	typingTimeout = 30 * time.Second

	// workerQueueSize bounds the per-channel job queue. A full queue drops
	// the newest message rather than blocking the sync loop.
	workerQueueSize = 16

	// DefaultSweepInterval is how often idle conversations are collected.
	DefaultSweepInterval = 15 * time.Minute

	// DefaultIdleThreshold is how long a conversation may sit without a turn
	// before the sweep releases it.
	DefaultIdleThreshold = 6 * time.Hour
)

// Config carries everything the relay needs at startup. Runtime-mutable
// parameters (model, depth, persona, frequency) only seed the runtime config;
// persisted values loaded from the database win over these defaults.
type Config struct {
	Matrix      matrix.Config
	OpenRouter  llm.OpenRouterConfig
	Admins      []string
	PersonaPath string
	DBPath      string

	DefaultModel   string
	MemoryDepth    int
	ReplyFrequency float64

	SweepInterval time.Duration
	IdleThreshold time.Duration
}

// completer is the slice of the model gateway the exchange pipeline uses.
// Satisfied by *gateway.Gateway.
type completer interface {
	Complete(ctx context.Context, channelID string, pctx memory.PromptContext) (string, error)
}

// chatSender is the slice of the Matrix client the exchange pipeline uses.
// Satisfied by *matrix.Client.
type chatSender interface {
	SendText(roomID, text string) error
	SetTyping(roomID string, typing bool, timeout time.Duration) error
}

// App is the assembled relay.
type App struct {
	cfg     *Config
	db      *store.Store
	runtime *config.Runtime
	mem     *memory.Store
	asm     *memory.Assembler
	gw      completer
	admins  *admin.Service
	mx      *matrix.Client
	chat    chatSender
	policy  *Responder
	profile *persona.Profile

	wmu     sync.Mutex
	workers map[string]chan func()
	wg      sync.WaitGroup
}

// New builds the relay from cfg. The database is opened and migrated, the
// persona profile is loaded, and persisted runtime configuration is applied
// on top of the configured defaults.
func New(ctx context.Context, cfg *Config) (*App, error) {
	profile, err := persona.Load(cfg.PersonaPath)
	if err != nil {
		return nil, fmt.Errorf("load persona: %w", err)
	}

	db, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	runtime := config.NewRuntime(config.Snapshot{
		ActiveModel:    cfg.DefaultModel,
		MemoryDepth:    cfg.MemoryDepth,
		PersonaPrompt:  profile.Prompt,
		ReplyFrequency: cfg.ReplyFrequency,
	}, db)
	runtime.LoadPersisted(ctx)

	mem := memory.NewStore(runtime)

	counter, err := memory.NewTiktokenCounter(memory.DefaultEncoding)
	if err != nil {
		slog.Warn("tokenizer unavailable, using heuristic counter", "err", err)
		counter = memory.HeuristicCounter{}
	}
	asm := &memory.Assembler{
		Store:   mem,
		Params:  runtime,
		Counter: counter,
	}

	gw := gateway.New(
		llm.NewOpenRouter(cfg.OpenRouter),
		runtime,
		gateway.NewRateLimiter(0, 0),
		0,
	)

	admins := admin.NewService(admin.NewGate(cfg.Admins), runtime, mem, db)

	mx, err := matrix.New(&cfg.Matrix)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		db:      db,
		runtime: runtime,
		mem:     mem,
		asm:     asm,
		gw:      gw,
		admins:  admins,
		mx:      mx,
		chat:    mx,
		profile: profile,
		workers: make(map[string]chan func()),
	}
	a.policy = NewResponder(profile.Name, cfg.Matrix.UserID, runtime, nil)
	if a.cfg.SweepInterval <= 0 {
		a.cfg.SweepInterval = DefaultSweepInterval
	}
	if a.cfg.IdleThreshold <= 0 {
		a.cfg.IdleThreshold = DefaultIdleThreshold
	}
	return a, nil
}

// Run starts the Matrix sync loop and the idle sweep and blocks until ctx is
// cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.mx.Start(ctx, a.handleMessage); err != nil {
		return fmt.Errorf("start matrix client: %w", err)
	}
	slog.Info("relay started",
		"user", a.mx.UserID(),
		"persona", a.profile.Name,
		"sweep_interval", a.cfg.SweepInterval,
		"idle_threshold", a.cfg.IdleThreshold)

	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil
		case <-ticker.C:
			a.sweep(time.Now())
		}
	}
}

func (a *App) shutdown() {
	a.mx.Stop()

	a.wmu.Lock()
	for id, ch := range a.workers {
		close(ch)
		delete(a.workers, id)
	}
	a.wmu.Unlock()
	a.wg.Wait()

	if err := a.db.Close(); err != nil {
		slog.Warn("closing store", "err", err)
	}
	slog.Info("relay stopped")
}

// sweep releases conversations idle past the threshold and tears down their
// channel workers so a long-running process does not accumulate state for
// channels nobody talks in.
func (a *App) sweep(now time.Time) {
	swept := a.mem.Sweep(now, a.cfg.IdleThreshold)
	if len(swept) == 0 {
		return
	}
	a.wmu.Lock()
	for _, id := range swept {
		if ch, ok := a.workers[id]; ok {
			close(ch)
			delete(a.workers, id)
		}
	}
	a.wmu.Unlock()
	slog.Info("swept idle conversations", "count", len(swept), "remaining", a.mem.Len())
}

// handleMessage is the Matrix event callback. It runs on the sync goroutine,
// so anything that can block (the completion call above all) is pushed onto
// the channel's worker instead of being done inline.
func (a *App) handleMessage(ctx context.Context, evt *event.Event) {
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText {
		return
	}
	body := strings.TrimSpace(msg.Body)
	if body == "" {
		return
	}
	// Messages opening with "." or "," address other bots, not us. A bare
	// "..." is a real (if wordless) message and stays in.
	if (body[0] == '.' || body[0] == ',') && body != "..." {
		return
	}

	ctx = observability.WithTraceID(ctx, observability.NewTraceID())
	log := observability.Logger(ctx)
	sender := string(evt.Sender)
	channel := string(evt.RoomID)

	if cmd, err := admin.Parse(body); err == nil {
		reply, derr := a.admins.Dispatch(ctx, sender, channel, cmd)
		if derr != nil {
			log.Error("admin command failed", "command", cmd.Name, "issuer", sender, "err", derr)
			reply = "Something went wrong handling that command."
		}
		if reply != "" {
			if serr := a.mx.SendReply(channel, string(evt.ID), reply); serr != nil {
				log.Error("could not send admin reply", "channel", channel, "err", serr)
			}
		}
		return
	}

	turn := memory.Turn{
		Speaker:   localpart(sender),
		Text:      body,
		Timestamp: time.Now(),
	}
	dm := a.mx.IsDirect(channel)

	a.enqueue(channel, func() {
		a.converse(ctx, channel, dm, turn)
	})
}

// converse runs on the channel worker: one exchange at a time per channel, in
// arrival order. The incoming turn is recorded whether or not a reply is
// produced, and it is recorded after assembly so the transcript does not
// contain it twice.
func (a *App) converse(ctx context.Context, channel string, dm bool, turn memory.Turn) {
	log := observability.Logger(ctx)

	if !a.policy.ShouldReply(turn.Text, dm) {
		a.mem.Record(channel, turn)
		return
	}

	firstContact := len(a.mem.History(channel)) == 0

	pctx := a.asm.Assemble(channel, turn)
	pctx.Persona = a.personaFor(channel, dm, pctx)
	a.mem.Record(channel, turn)

	if err := a.chat.SetTyping(channel, true, typingTimeout); err != nil {
		log.Debug("typing notification failed", "channel", channel, "err", err)
	}
	reply, err := a.gw.Complete(ctx, channel, pctx)
	if terr := a.chat.SetTyping(channel, false, 0); terr != nil {
		log.Debug("typing notification failed", "channel", channel, "err", terr)
	}
	if err != nil {
		if errors.Is(err, gateway.ErrThrottled) {
			log.Debug("reply suppressed by rate limit", "channel", channel)
			return
		}
		log.Error("completion failed", "channel", channel, "err", err)
		return
	}

	if firstContact && a.profile.Greeting != "" {
		if serr := a.chat.SendText(channel, a.profile.Greeting); serr != nil {
			log.Warn("could not send greeting", "channel", channel, "err", serr)
		}
	}

	a.mem.Record(channel, memory.Turn{
		Speaker:   memory.SpeakerBot,
		Text:      reply,
		Timestamp: time.Now(),
	})
	if serr := a.chat.SendText(channel, reply); serr != nil {
		log.Error("could not send reply", "channel", channel, "err", serr)
	}
}

// personaFor expands the persona prompt for one exchange. The operator-set
// prompt from the runtime config is authoritative; the profile's DM variant
// is only substituted while the runtime prompt still equals the profile's
// channel prompt, so an explicit tachi;persona override applies everywhere.
func (a *App) personaFor(channel string, dm bool, pctx memory.PromptContext) string {
	prompt := pctx.Persona
	if dm && a.profile.DMPrompt != "" && prompt == a.profile.Prompt {
		prompt = a.profile.DMPrompt
	}
	return persona.Expand(prompt, persona.ChannelMeta{
		Server:      serverName(a.cfg.Matrix.UserID),
		Channel:     channel,
		Conversants: conversants(pctx),
		DM:          dm,
	})
}

// enqueue hands a job to the channel's worker, creating it on first use. The
// send never blocks: a channel drowning the queue loses its newest message,
// which beats stalling every other channel's sync processing.
func (a *App) enqueue(channel string, job func()) {
	a.wmu.Lock()
	ch, ok := a.workers[channel]
	if !ok {
		ch = make(chan func(), workerQueueSize)
		a.workers[channel] = ch
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			for job := range ch {
				job()
			}
		}()
	}
	select {
	case ch <- job:
	default:
		slog.Warn("channel queue full, dropping message", "channel", channel)
	}
	a.wmu.Unlock()
}

// conversants lists the distinct non-bot speakers in the assembled context,
// oldest first.
func conversants(pctx memory.PromptContext) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(speaker string) {
		if speaker == memory.SpeakerBot || seen[speaker] {
			return
		}
		seen[speaker] = true
		out = append(out, speaker)
	}
	for _, t := range pctx.History {
		add(t.Speaker)
	}
	add(pctx.Incoming.Speaker)
	return out
}

// localpart extracts the bare username from a Matrix user ID, falling back to
// the raw ID when it does not look like one.
func localpart(userID string) string {
	if !strings.HasPrefix(userID, "@") {
		return userID
	}
	rest := userID[1:]
	if i := strings.IndexByte(rest, ':'); i > 0 {
		return rest[:i]
	}
	return rest
}

// serverName extracts the homeserver domain from a Matrix user ID.
func serverName(userID string) string {
	if i := strings.IndexByte(userID, ':'); i >= 0 {
		return userID[i+1:]
	}
	return userID
}
