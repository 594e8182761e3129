// Package matrix connects the bot to Matrix rooms: it syncs with the
// homeserver, turns text messages from other users into conversation turns
// and posts the replies back to the room.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/Khin-96/KhinsLLM/internal/khins/agent"
	"github.com/Khin-96/KhinsLLM/internal/khins/llm"
)

const (
	backoffMin = 2 * time.Second
	backoffMax = 5 * time.Minute
)

// Config holds the Matrix connection settings.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms are the room IDs the bot joins and answers in.
	Rooms []string
	// Greet posts the greeting as a notice in every room on start.
	Greet bool
	// DB optionally persists the sync token. Without it the bot skips
	// messages sent before it started.
	DB *sql.DB
}

// Conversation is what the Matrix transport needs from the agent.
type Conversation interface {
	HandleTurn(ctx context.Context, turn agent.Turn) (agent.Reply, error)
	Greeting() string
	Redact(text string) string
}

// messenger is the outgoing side of the homeserver connection.
type messenger interface {
	SendText(ctx context.Context, roomID id.RoomID, text string) error
	SendNotice(ctx context.Context, roomID id.RoomID, text string) error
	Typing(ctx context.Context, roomID id.RoomID, typing bool) error
}

// Client is the Matrix transport.
type Client struct {
	client    *mautrix.Client
	cfg       Config
	conv      Conversation
	out       messenger
	rooms     map[id.RoomID]struct{}
	logger    *slog.Logger
	startedAt time.Time
	syncing   bool
	stopCh    chan struct{}
	done      chan struct{}
}

// New creates the client. It does not contact the homeserver.
func New(cfg Config, conv Conversation, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mc, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}

	if cfg.DB != nil {
		mc.Store = NewDBSyncStore(cfg.DB)
	} else {
		logger.Warn("matrix: no database configured, sync position is not persisted")
	}

	rooms := make(map[id.RoomID]struct{}, len(cfg.Rooms))
	for _, r := range cfg.Rooms {
		rooms[id.RoomID(r)] = struct{}{}
	}

	return &Client{
		client: mc,
		cfg:    cfg,
		conv:   conv,
		out:    mautrixMessenger{mc},
		rooms:  rooms,
		logger: logger.With("matrix_user", cfg.UserID),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start joins the configured rooms, optionally greets them, and syncs in the
// background, reconnecting with exponential backoff until Stop.
func (c *Client) Start(ctx context.Context) error {
	c.startedAt = time.Now()

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleMessage)

	for _, room := range c.cfg.Rooms {
		if err := c.joinRoom(ctx, id.RoomID(room)); err != nil {
			return fmt.Errorf("matrix: join room %s: %w", room, err)
		}
	}

	if c.cfg.Greet {
		greeting := c.conv.Greeting()
		for _, room := range c.cfg.Rooms {
			if err := c.out.SendNotice(ctx, id.RoomID(room), greeting); err != nil {
				c.logger.Warn("matrix: greeting failed", "room", room, "err", err)
			}
		}
	}

	c.syncing = true
	go c.syncLoop()
	return nil
}

func (c *Client) syncLoop() {
	defer close(c.done)
	backoff := backoffMin
	for {
		err := c.client.Sync()
		if err == nil {
			// Clean StopSync.
			return
		}
		select {
		case <-c.stopCh:
			return
		default:
		}
		c.logger.Error("matrix: sync stopped, reconnecting", "err", err, "backoff", backoff)
		select {
		case <-c.stopCh:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

// Stop ends syncing and waits for the sync loop to exit.
func (c *Client) Stop() {
	select {
	case <-c.stopCh:
		return
	default:
	}
	close(c.stopCh)
	c.client.StopSync()
	if c.syncing {
		<-c.done
	}
}

// accept returns the text of evt when it is a turn for the bot: a plain text
// message from someone else, in a configured room, sent after the bot started
// (when the sync position is not persisted).
func (c *Client) accept(evt *event.Event) (string, bool) {
	if evt.Sender == id.UserID(c.cfg.UserID) {
		return "", false
	}
	if _, ok := c.rooms[evt.RoomID]; !ok {
		return "", false
	}
	if c.cfg.DB == nil && !c.startedAt.IsZero() && time.UnixMilli(evt.Timestamp).Before(c.startedAt) {
		return "", false
	}
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText || msg.Body == "" {
		return "", false
	}
	return msg.Body, true
}

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	text, ok := c.accept(evt)
	if !ok {
		return
	}
	logger := c.logger.With("room", evt.RoomID.String(), "event_id", evt.ID.String())

	if err := c.out.Typing(ctx, evt.RoomID, true); err != nil {
		logger.Debug("matrix: typing indicator failed", "err", err)
	}
	reply, err := c.conv.HandleTurn(ctx, agent.Turn{Text: text, Source: agent.SourceMatrix})
	if err := c.out.Typing(ctx, evt.RoomID, false); err != nil {
		logger.Debug("matrix: typing indicator failed", "err", err)
	}

	switch {
	case err != nil && reply.Text != "":
		// Generation failed; the persona's apology is still worth sending.
		logger.Warn("matrix: turn failed", "trace_id", reply.TraceID, "err", c.conv.Redact(err.Error()))
	case errors.Is(err, agent.ErrRateLimited):
		reply.Text = "Slow down a little, try again in a minute."
	case errors.Is(err, llm.ErrUnavailable):
		reply.Text = "I can't think right now: no language model is configured."
	case err != nil:
		logger.Warn("matrix: turn rejected", "err", c.conv.Redact(err.Error()))
		return
	case reply.Silent:
		return
	}

	if err := c.out.SendText(ctx, evt.RoomID, reply.Text); err != nil {
		logger.Error("matrix: send reply failed", "trace_id", reply.TraceID, "err", err)
	}
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		// Homeservers answer M_FORBIDDEN when the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			c.logger.Warn("matrix: join forbidden, assuming membership", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}

// mautrixMessenger sends through a live homeserver connection.
type mautrixMessenger struct {
	client *mautrix.Client
}

func (m mautrixMessenger) SendText(ctx context.Context, roomID id.RoomID, text string) error {
	if _, err := m.client.SendText(ctx, roomID, text); err != nil {
		return fmt.Errorf("matrix: send message: %w", err)
	}
	return nil
}

func (m mautrixMessenger) SendNotice(ctx context.Context, roomID id.RoomID, text string) error {
	content := event.MessageEventContent{MsgType: event.MsgNotice, Body: text}
	if _, err := m.client.SendMessageEvent(ctx, roomID, event.EventMessage, &content); err != nil {
		return fmt.Errorf("matrix: send notice: %w", err)
	}
	return nil
}

func (m mautrixMessenger) Typing(ctx context.Context, roomID id.RoomID, typing bool) error {
	_, err := m.client.UserTyping(ctx, roomID, typing, 30*time.Second)
	return err
}
