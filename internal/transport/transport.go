// Package transport defines what the relay needs from the messaging platform.
package transport

import (
	"context"
	"fmt"

	"relaybot/internal/models"
)

// Button is one inline control. Data is returned in the callback when pressed.
type Button struct {
	Text string
	Data string
}

// Command is a bot command shown in the client's command menu.
type Command struct {
	Name        string
	Description string
}

// SendOptions tune a single send.
type SendOptions struct {
	Controls []Button
	ReplyTo  int
}

// Transport is the messaging platform client. Every send returns the
// platform-assigned message id of what was sent.
type Transport interface {
	// Send delivers a non-batch payload. A models.Batch is rejected with
	// models.ErrUnsupportedKind; use SendGroup.
	Send(ctx context.Context, chatID int64, payload models.Payload, opts SendOptions) (int, error)
	// SendGroup delivers a media group and returns the ids in item order.
	SendGroup(ctx context.Context, chatID int64, batch models.Batch) ([]int, error)
	CopyMessage(ctx context.Context, toChatID, fromChatID int64, messageID int) (int, error)
	SendSticker(ctx context.Context, chatID int64, sticker string) (int, error)
	// EditControls replaces the inline controls of an existing message.
	EditControls(ctx context.Context, chatID int64, messageID int, controls []Button) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	SetCommands(ctx context.Context, chatID int64, commands []Command) error
}

// SinkError is a failed call to the messaging platform.
type SinkError struct {
	Op     string
	ChatID int64
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("transport: %s to chat %d: %v", e.Op, e.ChatID, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Temporary reports that the call may succeed if retried.
func (e *SinkError) Temporary() bool { return true }
