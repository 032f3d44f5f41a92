package app

import (
	"context"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/Tachikoma/internal/tachikoma/config"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/gateway"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/matrix"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/memory"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/persona"
)

// fakeCompleter scripts the model gateway for pipeline tests.
type fakeCompleter struct {
	mu    sync.Mutex
	calls int
	reply string
	err   error
}

func (f *fakeCompleter) Complete(_ context.Context, _ string, _ memory.PromptContext) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

// fakeChat records outgoing messages and typing notifications.
type fakeChat struct {
	mu     sync.Mutex
	sent   []string
	typing []bool
}

func (f *fakeChat) SendText(_, text string) error {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeChat) SetTyping(_ string, typing bool, _ time.Duration) error {
	f.mu.Lock()
	f.typing = append(f.typing, typing)
	f.mu.Unlock()
	return nil
}

// newPipelineApp wires an App around fakes so converse can run without a
// homeserver or a completion endpoint.
func newPipelineApp(fc *fakeCompleter, greeting string, frequency float64) (*App, *fakeChat) {
	rt := config.NewRuntime(config.Snapshot{
		ActiveModel:    "test/model",
		MemoryDepth:    10,
		PersonaPrompt:  "You are Tachikoma.",
		ReplyFrequency: frequency,
	}, nil)
	mem := memory.NewStore(rt)
	chat := &fakeChat{}
	a := &App{
		cfg:     &Config{Matrix: matrix.Config{UserID: "@tachikoma:example.org"}},
		runtime: rt,
		mem:     mem,
		asm:     &memory.Assembler{Store: mem, Params: rt, Counter: memory.HeuristicCounter{}},
		gw:      fc,
		chat:    chat,
		profile: &persona.Profile{Name: "Tachikoma", Prompt: "You are Tachikoma.", Greeting: greeting},
		workers: make(map[string]chan func()),
	}
	a.policy = NewResponder("Tachikoma", "@tachikoma:example.org", rt, rand.New(rand.NewSource(1)))
	return a, chat
}

func incomingTurn(text string) memory.Turn {
	return memory.Turn{Speaker: "motoko", Text: text, Timestamp: time.Now()}
}

func TestConverse_SuccessRecordsReplyAndSends(t *testing.T) {
	fc := &fakeCompleter{reply: "beep boop"}
	a, chat := newPipelineApp(fc, "", 0)

	a.converse(context.Background(), "!c", true, incomingTurn("hello"))

	hist := a.mem.History("!c")
	if len(hist) != 2 {
		t.Fatalf("history has %d turns, want incoming + reply", len(hist))
	}
	if hist[0].Text != "hello" || hist[1].Speaker != memory.SpeakerBot || hist[1].Text != "beep boop" {
		t.Errorf("unexpected history: %+v", hist)
	}
	if len(chat.sent) != 1 || chat.sent[0] != "beep boop" {
		t.Errorf("sent = %v", chat.sent)
	}
	if len(chat.typing) != 2 || !chat.typing[0] || chat.typing[1] {
		t.Errorf("typing indicator not toggled on then off: %v", chat.typing)
	}
}

// A failed completion must keep the incoming turn in history and append no
// reply turn, so the context survives transient model failures.
func TestConverse_FailedCompletionKeepsIncomingTurn(t *testing.T) {
	fc := &fakeCompleter{err: fmt.Errorf("%w: model test/model: boom", gateway.ErrCompletionFailed)}
	a, chat := newPipelineApp(fc, "", 0)

	a.converse(context.Background(), "!c", true, incomingTurn("turn E"))

	hist := a.mem.History("!c")
	if len(hist) != 1 {
		t.Fatalf("history has %d turns, want exactly the incoming turn", len(hist))
	}
	if hist[0].Text != "turn E" || hist[0].Speaker != "motoko" {
		t.Errorf("incoming turn lost or mangled: %+v", hist[0])
	}
	if len(chat.sent) != 0 {
		t.Errorf("nothing should be sent on failure, sent = %v", chat.sent)
	}
	if len(chat.typing) != 2 || chat.typing[1] {
		t.Errorf("typing indicator must be cleared on failure: %v", chat.typing)
	}
}

func TestConverse_ThrottledSuppressedSilently(t *testing.T) {
	fc := &fakeCompleter{err: gateway.ErrThrottled}
	a, chat := newPipelineApp(fc, "", 0)

	a.converse(context.Background(), "!c", true, incomingTurn("hi"))

	if len(a.mem.History("!c")) != 1 {
		t.Error("throttled exchange must still record the incoming turn")
	}
	if len(chat.sent) != 0 {
		t.Errorf("throttled exchange must send nothing, sent = %v", chat.sent)
	}
}

func TestConverse_UnaddressedMessageOnlyRecorded(t *testing.T) {
	fc := &fakeCompleter{reply: "should not be asked"}
	a, chat := newPipelineApp(fc, "", 0)

	a.converse(context.Background(), "!c", false, incomingTurn("just people talking"))

	if fc.calls != 0 {
		t.Error("unaddressed message must not trigger a completion")
	}
	if len(a.mem.History("!c")) != 1 {
		t.Error("unaddressed message must still be recorded")
	}
	if len(chat.sent) != 0 {
		t.Errorf("sent = %v", chat.sent)
	}
}

func TestConverse_GreetingOnFirstContactOnly(t *testing.T) {
	fc := &fakeCompleter{reply: "reply"}
	a, chat := newPipelineApp(fc, "Hello! I just rolled in.", 0)

	a.converse(context.Background(), "!c", true, incomingTurn("first"))
	a.converse(context.Background(), "!c", true, incomingTurn("second"))

	want := []string{"Hello! I just rolled in.", "reply", "reply"}
	if !reflect.DeepEqual(chat.sent, want) {
		t.Errorf("sent = %v, want %v", chat.sent, want)
	}
}

// Jobs within one channel run in arrival order even when another channel is
// being drained at the same time.
func TestEnqueue_PerChannelOrdering(t *testing.T) {
	fc := &fakeCompleter{reply: "ok"}
	a, _ := newPipelineApp(fc, "", 0)

	var mu sync.Mutex
	got := map[string][]int{}
	const jobs = 16 // stays within the worker queue buffer
	for i := 0; i < jobs; i++ {
		i := i
		for _, ch := range []string{"!a", "!b"} {
			ch := ch
			a.enqueue(ch, func() {
				mu.Lock()
				got[ch] = append(got[ch], i)
				mu.Unlock()
			})
		}
	}

	a.wmu.Lock()
	for id, ch := range a.workers {
		close(ch)
		delete(a.workers, id)
	}
	a.wmu.Unlock()
	a.wg.Wait()

	for _, ch := range []string{"!a", "!b"} {
		if len(got[ch]) != jobs {
			t.Fatalf("channel %s ran %d jobs, want %d", ch, len(got[ch]), jobs)
		}
		for i, v := range got[ch] {
			if v != i {
				t.Fatalf("channel %s out of order at %d: %v", ch, i, got[ch])
			}
		}
	}
}

func TestLocalpart(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"@motoko:example.org", "motoko"},
		{"@batou:matrix.example.org", "batou"},
		{"not-an-mxid", "not-an-mxid"},
		{"@nodomain", "nodomain"},
	}
	for _, tc := range cases {
		if got := localpart(tc.in); got != tc.want {
			t.Errorf("localpart(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestServerName(t *testing.T) {
	if got := serverName("@tachikoma:example.org"); got != "example.org" {
		t.Errorf("serverName = %q", got)
	}
	if got := serverName("noseparator"); got != "noseparator" {
		t.Errorf("serverName fallback = %q", got)
	}
}

func TestConversants_DistinctNonBotOldestFirst(t *testing.T) {
	at := time.Now()
	pctx := memory.PromptContext{
		History: []memory.Turn{
			{Speaker: "motoko", Timestamp: at},
			{Speaker: memory.SpeakerBot, Timestamp: at},
			{Speaker: "batou", Timestamp: at},
			{Speaker: "motoko", Timestamp: at},
		},
		Incoming: memory.Turn{Speaker: "togusa", Timestamp: at},
	}

	got := conversants(pctx)
	want := []string{"motoko", "batou", "togusa"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("conversants = %v, want %v", got, want)
	}
}
