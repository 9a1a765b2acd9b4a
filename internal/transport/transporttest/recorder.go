// Package transporttest provides a recording Transport for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"relaybot/internal/models"
	"relaybot/internal/transport"
)

// ErrInjected is returned by calls configured to fail.
var ErrInjected = errors.New("injected failure")

// Sent is one recorded outbound message.
type Sent struct {
	ID       int
	ChatID   int64
	Payload  models.Payload
	Controls []transport.Button
	ReplyTo  int
	// GroupIDs is set for SendGroup calls.
	GroupIDs []int
	// CopyOf is the source message id for CopyMessage calls.
	CopyOf  int
	Sticker string
}

// Edit is one recorded EditControls call.
type Edit struct {
	ChatID    int64
	MessageID int
	Controls  []transport.Button
}

// Answer is one recorded AnswerCallback call.
type Answer struct {
	CallbackID string
	Text       string
	Alert      bool
}

// Recorder is a Transport that records every call and assigns increasing message ids.
type Recorder struct {
	mu       sync.Mutex
	nextID   int
	sent     []Sent
	edits    []Edit
	answers  []Answer
	commands map[int64][]transport.Command

	// FailChats makes sends and copies to these chats fail.
	FailChats map[int64]bool
	// FailGroupSends makes SendGroup fail.
	FailGroupSends bool
	// FailControls makes sends that carry controls fail.
	FailControls bool
	// FailEdits makes EditControls fail.
	FailEdits bool
}

func NewRecorder() *Recorder {
	return &Recorder{
		nextID:    1000,
		commands:  make(map[int64][]transport.Command),
		FailChats: make(map[int64]bool),
	}
}

var _ transport.Transport = (*Recorder)(nil)

func (r *Recorder) id() int {
	r.nextID++
	return r.nextID
}

func (r *Recorder) Send(ctx context.Context, chatID int64, payload models.Payload, opts transport.SendOptions) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := payload.(models.Batch); ok {
		return 0, models.ErrUnsupportedKind
	}
	if r.FailChats[chatID] || (r.FailControls && len(opts.Controls) > 0) {
		return 0, &transport.SinkError{Op: "send", ChatID: chatID, Err: ErrInjected}
	}
	s := Sent{ID: r.id(), ChatID: chatID, Payload: payload, Controls: opts.Controls, ReplyTo: opts.ReplyTo}
	r.sent = append(r.sent, s)
	return s.ID, nil
}

func (r *Recorder) SendGroup(ctx context.Context, chatID int64, batch models.Batch) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailGroupSends || r.FailChats[chatID] {
		return nil, &transport.SinkError{Op: "send group", ChatID: chatID, Err: ErrInjected}
	}
	ids := make([]int, len(batch.Items))
	for i := range batch.Items {
		ids[i] = r.id()
	}
	r.sent = append(r.sent, Sent{ID: ids[0], ChatID: chatID, Payload: batch, GroupIDs: ids})
	return ids, nil
}

func (r *Recorder) CopyMessage(ctx context.Context, toChatID, fromChatID int64, messageID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailChats[toChatID] {
		return 0, &transport.SinkError{Op: "copy", ChatID: toChatID, Err: ErrInjected}
	}
	s := Sent{ID: r.id(), ChatID: toChatID, CopyOf: messageID}
	r.sent = append(r.sent, s)
	return s.ID, nil
}

func (r *Recorder) SendSticker(ctx context.Context, chatID int64, sticker string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailChats[chatID] {
		return 0, &transport.SinkError{Op: "send sticker", ChatID: chatID, Err: ErrInjected}
	}
	s := Sent{ID: r.id(), ChatID: chatID, Sticker: sticker}
	r.sent = append(r.sent, s)
	return s.ID, nil
}

func (r *Recorder) EditControls(ctx context.Context, chatID int64, messageID int, controls []transport.Button) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailEdits {
		return &transport.SinkError{Op: "edit controls", ChatID: chatID, Err: ErrInjected}
	}
	r.edits = append(r.edits, Edit{ChatID: chatID, MessageID: messageID, Controls: controls})
	return nil
}

func (r *Recorder) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, Answer{CallbackID: callbackID, Text: text, Alert: alert})
	return nil
}

func (r *Recorder) SetCommands(ctx context.Context, chatID int64, commands []transport.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[chatID] = commands
	return nil
}

// SentTo returns the recorded messages delivered to chatID, in order.
func (r *Recorder) SentTo(chatID int64) []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sent
	for _, s := range r.sent {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

func (r *Recorder) Edits() []Edit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Edit(nil), r.edits...)
}

// LastEdit returns the most recent EditControls call for messageID.
func (r *Recorder) LastEdit(messageID int) (Edit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.edits) - 1; i >= 0; i-- {
		if r.edits[i].MessageID == messageID {
			return r.edits[i], true
		}
	}
	return Edit{}, false
}

func (r *Recorder) Answers() []Answer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Answer(nil), r.answers...)
}

func (r *Recorder) Commands(chatID int64) []transport.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commands[chatID]
}
