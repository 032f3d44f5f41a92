// Package matrix wraps mautrix-go for Tachikoma. The client syncs the
// homeserver, hands every text message from other users to a MessageHandler,
// and exposes the small send surface the relay needs: plain text, replies,
// and the typing indicator shown while a completion is in flight.
package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config holds the Matrix connection parameters for the bot.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
}

// MessageHandler is called for each incoming text message.
type MessageHandler func(ctx context.Context, evt *event.Event)

// Client is the bot-side Matrix client.
type Client struct {
	mxc    *mautrix.Client
	cfg    *Config
	stopCh chan struct{}

	dmMu    sync.Mutex
	dmCache map[id.RoomID]bool
}

// New creates a Matrix client but does not start syncing yet.
func New(cfg *Config) (*Client, error) {
	mxc, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	return &Client{
		mxc:     mxc,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		dmCache: make(map[id.RoomID]bool),
	}, nil
}

// IsDirect reports whether a room looks like a direct message: exactly two
// joined members, the bot being one of them. The answer is cached per room;
// a membership lookup failure is treated as "not a DM".
func (c *Client) IsDirect(roomID string) bool {
	rid := id.RoomID(roomID)

	c.dmMu.Lock()
	if v, ok := c.dmCache[rid]; ok {
		c.dmMu.Unlock()
		return v
	}
	c.dmMu.Unlock()

	resp, err := c.mxc.JoinedMembers(context.Background(), rid)
	if err != nil {
		slog.Debug("joined members lookup failed", "room", roomID, "err", err)
		return false
	}
	_, hasBot := resp.Joined[id.UserID(c.cfg.UserID)]
	direct := hasBot && len(resp.Joined) == 2

	c.dmMu.Lock()
	c.dmCache[rid] = direct
	c.dmMu.Unlock()
	return direct
}

// Start begins the sync loop, calling handler for every text message from
// other users. The loop reconnects with exponential back-off on errors.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	syncer := c.mxc.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, func(ctx2 context.Context, evt *event.Event) {
		// Ignore our own messages.
		if evt.Sender == id.UserID(c.cfg.UserID) {
			return
		}
		handler(ctx, evt)
	})
	// Accept room invites so operators can pull the bot into new channels.
	syncer.OnEventType(event.StateMember, func(ctx2 context.Context, evt *event.Event) {
		if evt.GetStateKey() != c.cfg.UserID {
			return
		}
		if m := evt.Content.AsMember(); m != nil && m.Membership == event.MembershipInvite {
			if _, err := c.mxc.JoinRoomByID(ctx2, evt.RoomID); err != nil {
				slog.Warn("could not join invited room", "room", evt.RoomID, "err", err)
			}
		}
	})

	go func() {
		const backoffMax = 5 * time.Minute
		backoff := 2 * time.Second
		for {
			if err := c.mxc.Sync(); err != nil {
				select {
				case <-c.stopCh:
					return
				default:
				}
				slog.Error("matrix sync error; reconnecting", "err", err, "backoff", backoff)
				select {
				case <-c.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}
			select {
			case <-c.stopCh:
				return
			default:
				backoff = 2 * time.Second
			}
		}
	}()
	return nil
}

// Stop halts the sync loop.
func (c *Client) Stop() {
	close(c.stopCh)
	c.mxc.StopSync()
}

// SendText sends a plain-text m.text message to the given room.
func (c *Client) SendText(roomID, text string) error {
	_, err := c.mxc.SendText(context.Background(), id.RoomID(roomID), text)
	return err
}

// SendReply sends a reply referencing the given event.
func (c *Client) SendReply(roomID, replyToEventID, text string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: id.EventID(replyToEventID)},
		},
	}
	_, err := c.mxc.SendMessageEvent(
		context.Background(),
		id.RoomID(roomID),
		event.EventMessage,
		content,
	)
	return err
}

// SetTyping toggles the bot's typing indicator in a room. timeout tells other
// clients how long to show the indicator if no further update arrives.
func (c *Client) SetTyping(roomID string, typing bool, timeout time.Duration) error {
	_, err := c.mxc.UserTyping(context.Background(), id.RoomID(roomID), typing, timeout)
	return err
}

// UserID returns the bot's Matrix user ID.
func (c *Client) UserID() string { return c.cfg.UserID }
