// Package bot implements the chat command that posts a cat for a status code.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"httpcat/internal/core"
	"httpcat/internal/observability"
)

// Message is an incoming text message.
type Message struct {
	RoomID  string
	EventID string
	Sender  string
	Body    string
}

// Messenger sends responses back to the chat server.
type Messenger interface {
	// SendMedia posts ref as an image message in roomID.
	SendMedia(ctx context.Context, roomID string, ref *core.MediaRef) error
	// Reply posts text as a reply to eventID in roomID.
	Reply(ctx context.Context, roomID, eventID, text string) error
}

// ErrUsage is returned by ParseCommand when the argument is missing or not an integer.
var ErrUsage = errors.New("invalid command usage")

// Handler dispatches "<prefix><command> <status>" messages.
type Handler struct {
	resolver  core.Resolver
	messenger Messenger
	prefix    string
	command   string
}

// New creates a Handler. prefix is usually "!" and command comes from the
// plugin config.
func New(resolver core.Resolver, messenger Messenger, prefix, command string) (*Handler, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if messenger == nil {
		return nil, fmt.Errorf("messenger is required")
	}
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("command name must not be empty")
	}
	return &Handler{
		resolver:  resolver,
		messenger: messenger,
		prefix:    prefix,
		command:   command,
	}, nil
}

// Trigger returns the full command text, e.g. "!http".
func (h *Handler) Trigger() string {
	return h.prefix + h.command
}

// Usage is the reply sent for a malformed invocation.
func (h *Handler) Usage() string {
	return fmt.Sprintf("Usage: %s <status code>", h.Trigger())
}

// ParseCommand reports whether body invokes the command and, if so, the
// requested status. A matching command with a bad argument returns ErrUsage.
func (h *Handler) ParseCommand(body string) (core.StatusCode, bool, error) {
	fields := strings.Fields(body)
	if len(fields) == 0 || !strings.EqualFold(fields[0], h.Trigger()) {
		return 0, false, nil
	}
	if len(fields) != 2 {
		return 0, true, ErrUsage
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n <= 0 {
		return 0, true, ErrUsage
	}
	return core.StatusCode(n), true, nil
}

// Handle processes one message. It reports whether the message was a command
// for this handler. Errors are answered in chat and logged, never returned.
func (h *Handler) Handle(ctx context.Context, msg Message) bool {
	status, ok, err := h.ParseCommand(msg.Body)
	if !ok {
		return false
	}

	requestID := uuid.NewString()
	ctx = core.WithRequestID(ctx, requestID)
	log := slog.With(
		"request_id", requestID,
		"room_id", msg.RoomID,
		"sender", msg.Sender,
	)

	if err != nil {
		observability.Commands.WithLabelValues("usage").Inc()
		log.Debug("rejected malformed command", "body", msg.Body)
		h.reply(ctx, log, msg, h.Usage())
		return true
	}

	log = log.With("status", int(status))
	ref, err := h.resolver.Resolve(ctx, status)
	if err != nil {
		observability.Commands.WithLabelValues("error").Inc()
		if core.IsFetchFailure(err) {
			log.Info("cat not available", "error", err)
		} else {
			log.Error("failed to resolve cat", "error", err)
		}
		h.reply(ctx, log, msg, core.UserMessage(status, err))
		return true
	}

	if err := h.messenger.SendMedia(ctx, msg.RoomID, ref); err != nil {
		observability.Commands.WithLabelValues("error").Inc()
		log.Error("failed to send cat", "error", err)
		return true
	}
	observability.Commands.WithLabelValues("ok").Inc()
	log.Info("cat sent", "url", ref.URL)
	return true
}

func (h *Handler) reply(ctx context.Context, log *slog.Logger, msg Message, text string) {
	if err := h.messenger.Reply(ctx, msg.RoomID, msg.EventID, text); err != nil {
		log.Error("failed to send reply", "error", err)
	}
}
