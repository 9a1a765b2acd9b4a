package telegram_bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"relaybot/internal/models"
	"relaybot/internal/moderation"
)

// Submissions handles private messages.
type Submissions interface {
	Handle(ctx context.Context, msg models.Inbound)
	Shutdown()
}

// Moderation handles activity in the moderation group.
type Moderation interface {
	HandleCallback(ctx context.Context, cb models.Callback)
	HandleGroupMessage(ctx context.Context, msg models.Inbound)
}

// Bot reads updates from Telegram and routes them. Private messages are
// handled one at a time in arrival order; callbacks and group messages run
// concurrently so they never hold up submissions.
type Bot struct {
	client      *Client
	logger      *zap.Logger
	groupID     int64
	pollTimeout int
	submissions Submissions
	moderation  Moderation

	wg sync.WaitGroup
}

func NewBot(client *Client, groupID int64, pollTimeout int, submissions Submissions, mod Moderation, logger *zap.Logger) *Bot {
	return &Bot{
		client:      client,
		logger:      logger,
		groupID:     groupID,
		pollTimeout: pollTimeout,
		submissions: submissions,
		moderation:  mod,
	}
}

// Start begins listening for updates from Telegram. It returns after ctx is
// cancelled and every in-flight handler and pending media group is done.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.client.SetCommands(ctx, b.groupID, moderation.Commands()); err != nil {
		b.logger.Warn("Failed to register moderator commands", zap.Error(err))
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout

	updates := b.client.api.GetUpdatesChan(u)

	b.logger.Info("Telegram bot started, waiting for updates...")

	// Handlers finish their work after shutdown is requested.
	handlerCtx := context.WithoutCancel(ctx)

	defer b.shutdown()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Telegram bot shutting down...")
			b.client.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("telegram update channel closed")
			}
			b.dispatch(handlerCtx, update)
		}
	}
}

func (b *Bot) shutdown() {
	b.wg.Wait()
	b.submissions.Shutdown()
	b.logger.Info("Telegram bot stopped")
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		cb, ok := toCallback(update.CallbackQuery)
		if !ok {
			return
		}
		updatesReceived.WithLabelValues("callback").Inc()
		b.async(func() { b.moderation.HandleCallback(ctx, cb) })

	case update.Message != nil:
		msg, ok := toInbound(update.Message)
		if !ok {
			return
		}
		switch {
		case msg.Private:
			updatesReceived.WithLabelValues("private").Inc()
			b.safely(func() { b.submissions.Handle(ctx, msg) })
		case msg.ChatID == b.groupID:
			updatesReceived.WithLabelValues("group").Inc()
			b.async(func() { b.moderation.HandleGroupMessage(ctx, msg) })
		default:
			updatesReceived.WithLabelValues("ignored").Inc()
		}
	}
}

func (b *Bot) async(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.safely(fn)
	}()
}

// safely runs fn and turns a panic into a log entry so the update loop survives.
func (b *Bot) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			handlerPanics.Inc()
			b.logger.Error("Recovered from panic in update handler",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	fn()
}

func toSender(u *tgbotapi.User) models.Sender {
	if u == nil {
		return models.Sender{}
	}
	return models.Sender{
		ID:       u.ID,
		FullName: strings.TrimSpace(u.FirstName + " " + u.LastName),
		Username: u.UserName,
	}
}

func toCallback(q *tgbotapi.CallbackQuery) (models.Callback, bool) {
	if q.Message == nil || q.Message.Chat == nil {
		return models.Callback{}, false
	}
	return models.Callback{
		ID:        q.ID,
		From:      toSender(q.From),
		ChatID:    q.Message.Chat.ID,
		MessageID: q.Message.MessageID,
		Data:      q.Data,
	}, true
}

// toInbound converts a Telegram message. Messages without a chat or sender
// (channel posts, service messages) are reported as not ok.
func toInbound(m *tgbotapi.Message) (models.Inbound, bool) {
	if m.Chat == nil || m.From == nil {
		return models.Inbound{}, false
	}

	in := models.Inbound{
		MessageID:    m.MessageID,
		ChatID:       m.Chat.ID,
		Private:      m.Chat.IsPrivate(),
		From:         toSender(m.From),
		MediaGroupID: m.MediaGroupID,
		Caption:      m.Caption,
	}

	if m.IsCommand() {
		in.Command = strings.ToLower(m.Command())
		in.CommandArgs = m.CommandArguments()
		if _, target, ok := strings.Cut(m.CommandWithAt(), "@"); ok {
			in.CommandTarget = target
		}
	}

	switch {
	case m.Text != "":
		in.Text = m.Text
	case len(m.Photo) > 0:
		in.PhotoID = m.Photo[len(m.Photo)-1].FileID
	case m.Animation != nil:
		in.AnimationID = m.Animation.FileID
	case m.Audio != nil:
		in.AudioID = m.Audio.FileID
	case m.Video != nil:
		in.VideoID = m.Video.FileID
	default:
		in.Other = otherKind(m)
	}

	if m.ReplyToMessage != nil {
		in.ReplyToMessageID = m.ReplyToMessage.MessageID
		if m.ReplyToMessage.From != nil {
			in.ReplyToFromID = m.ReplyToMessage.From.ID
		}
	}
	return in, true
}

func otherKind(m *tgbotapi.Message) string {
	switch {
	case m.Voice != nil:
		return "voice"
	case m.VideoNote != nil:
		return "video_note"
	case m.Sticker != nil:
		return "sticker"
	case m.Document != nil:
		return "document"
	case m.Location != nil:
		return "location"
	case m.Contact != nil:
		return "contact"
	case m.Poll != nil:
		return "poll"
	default:
		return "unknown"
	}
}
