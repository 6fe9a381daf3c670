// Package matrix adapts a mautrix client to the bot: it uploads media,
// sends messages and runs the sync loop that feeds commands to the handler.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"httpcat/internal/bot"
	"httpcat/internal/core"
)

// Config holds the account credentials.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// AutoJoin accepts room invites addressed to the bot.
	AutoJoin bool
	// HTTPClient overrides the client used for homeserver requests.
	HTTPClient *http.Client
}

// Client implements core.MediaUploader and bot.Messenger.
type Client struct {
	cli      *mautrix.Client
	autoJoin bool

	wg sync.WaitGroup
}

// New creates a client. It does not contact the homeserver.
func New(cfg Config) (*Client, error) {
	if cfg.Homeserver == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("homeserver, user id and access token are required")
	}
	cli, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	if cfg.HTTPClient != nil {
		cli.Client = cfg.HTTPClient
	}
	return &Client{cli: cli, autoJoin: cfg.AutoJoin}, nil
}

// UserID returns the bot's own user id.
func (c *Client) UserID() string {
	return c.cli.UserID.String()
}

// UploadMedia uploads data to the media repository and returns its mxc:// URI.
func (c *Client) UploadMedia(ctx context.Context, data []byte, mimeType, filename string) (string, error) {
	resp, err := c.cli.UploadBytesWithName(ctx, data, mimeType, filename)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}
	return resp.ContentURI.String(), nil
}

// SendMedia posts ref as an m.image message. MediaRef already has the wire
// shape of image message content.
func (c *Client) SendMedia(ctx context.Context, roomID string, ref *core.MediaRef) error {
	if ref == nil {
		return fmt.Errorf("media ref is nil")
	}
	if _, err := c.cli.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, ref); err != nil {
		return fmt.Errorf("send image to %s: %w", roomID, err)
	}
	return nil
}

// Reply posts text as a notice replying to eventID.
func (c *Client) Reply(ctx context.Context, roomID, eventID, text string) error {
	content := &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    text,
	}
	if eventID != "" {
		content.RelatesTo = &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: id.EventID(eventID)},
		}
	}
	if _, err := c.cli.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content); err != nil {
		return fmt.Errorf("send reply to %s: %w", roomID, err)
	}
	return nil
}

// MessageHandler receives text messages; it reports whether it handled one.
type MessageHandler func(ctx context.Context, msg bot.Message) bool

// Run syncs until ctx is cancelled. Events from before the first sync are
// skipped, as are the bot's own messages. Each command runs in its own
// goroutine so a slow fetch does not stall the sync loop; Run waits for them
// before returning.
func (c *Client) Run(ctx context.Context, handle MessageHandler) error {
	syncer, ok := c.cli.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unsupported syncer type %T", c.cli.Syncer)
	}
	syncer.OnSync(c.cli.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		msg, ok := c.toMessage(evt)
		if !ok {
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			handle(ctx, msg)
		}()
	})
	if c.autoJoin {
		syncer.OnEventType(event.StateMember, c.handleMembership)
	}

	slog.Info("matrix sync started", "user_id", c.UserID())
	err := c.cli.SyncWithContext(ctx)
	c.wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("matrix sync: %w", err)
	}
	slog.Info("matrix sync stopped")
	return nil
}

// toMessage extracts a text message, skipping the bot's own events.
func (c *Client) toMessage(evt *event.Event) (bot.Message, bool) {
	if evt == nil || evt.Sender == c.cli.UserID {
		return bot.Message{}, false
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return bot.Message{}, false
	}
	return bot.Message{
		RoomID:  evt.RoomID.String(),
		EventID: evt.ID.String(),
		Sender:  evt.Sender.String(),
		Body:    content.Body,
	}, true
}

func (c *Client) handleMembership(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != c.cli.UserID.String() {
		return
	}
	if evt.Content.AsMember().Membership != event.MembershipInvite {
		return
	}
	if _, err := c.cli.JoinRoomByID(ctx, evt.RoomID); err != nil {
		slog.Error("failed to join room", "room_id", evt.RoomID.String(), "inviter", evt.Sender.String(), "error", err)
		return
	}
	slog.Info("joined room", "room_id", evt.RoomID.String(), "inviter", evt.Sender.String())
}
