package telegram_bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"relaybot/internal/models"
	"relaybot/internal/transport"
)

// maxRetryAfter caps how long a call waits when Telegram asks to slow down.
const maxRetryAfter = 30 * time.Second

// Client implements transport.Transport over the Telegram Bot API. Every
// outbound call waits on a shared rate limiter.
type Client struct {
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ transport.Transport = (*Client)(nil)

// NewClient authorizes the bot token. ratePerSecond bounds outbound calls.
func NewClient(token string, ratePerSecond float64, debug bool, logger *zap.Logger) (*Client, error) {
	if err := tgbotapi.SetLogger(logrus.StandardLogger().WithField("component", "telegram")); err != nil {
		return nil, fmt.Errorf("failed to set Telegram logger: %w", err)
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}
	api.Debug = debug

	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName), zap.Int64("bot_id", api.Self.ID))

	burst := int(ratePerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		logger:  logger,
	}, nil
}

// BotID is the id of the authorized bot account.
func (c *Client) BotID() int64 {
	return c.api.Self.ID
}

func (c *Client) BotUsername() string {
	return c.api.Self.UserName
}

func (c *Client) Send(ctx context.Context, chatID int64, payload models.Payload, opts transport.SendOptions) (int, error) {
	chattable, err := newSendConfig(chatID, payload, opts)
	if err != nil {
		return 0, err
	}

	var sent tgbotapi.Message
	err = c.call(ctx, "send", chatID, func() error {
		var err error
		sent, err = c.api.Send(chattable)
		return err
	})
	return sent.MessageID, err
}

func (c *Client) SendGroup(ctx context.Context, chatID int64, batch models.Batch) ([]int, error) {
	media := make([]interface{}, 0, len(batch.Items))
	for _, item := range batch.Items {
		m, err := newInputMedia(item)
		if err != nil {
			return nil, err
		}
		media = append(media, m)
	}

	var sent []tgbotapi.Message
	err := c.call(ctx, "sendMediaGroup", chatID, func() error {
		var err error
		sent, err = c.api.SendMediaGroup(tgbotapi.NewMediaGroup(chatID, media))
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := make([]int, len(sent))
	for i, m := range sent {
		ids[i] = m.MessageID
	}
	return ids, nil
}

func (c *Client) CopyMessage(ctx context.Context, toChatID, fromChatID int64, messageID int) (int, error) {
	var copied tgbotapi.MessageID
	err := c.call(ctx, "copyMessage", toChatID, func() error {
		var err error
		copied, err = c.api.CopyMessage(tgbotapi.NewCopyMessage(toChatID, fromChatID, messageID))
		return err
	})
	return copied.MessageID, err
}

func (c *Client) SendSticker(ctx context.Context, chatID int64, sticker string) (int, error) {
	var file tgbotapi.RequestFileData = tgbotapi.FileID(sticker)
	if strings.HasPrefix(sticker, "http://") || strings.HasPrefix(sticker, "https://") {
		file = tgbotapi.FileURL(sticker)
	}

	var sent tgbotapi.Message
	err := c.call(ctx, "sendSticker", chatID, func() error {
		var err error
		sent, err = c.api.Send(tgbotapi.NewSticker(chatID, file))
		return err
	})
	return sent.MessageID, err
}

func (c *Client) EditControls(ctx context.Context, chatID int64, messageID int, controls []transport.Button) error {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, keyboard(controls))
	return c.call(ctx, "editMessageReplyMarkup", chatID, func() error {
		_, err := c.api.Request(edit)
		return err
	})
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	answer := tgbotapi.NewCallback(callbackID, text)
	if alert {
		answer = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	return c.call(ctx, "answerCallbackQuery", 0, func() error {
		_, err := c.api.Request(answer)
		return err
	})
}

func (c *Client) SetCommands(ctx context.Context, chatID int64, commands []transport.Command) error {
	botCommands := make([]tgbotapi.BotCommand, 0, len(commands))
	for _, cmd := range commands {
		botCommands = append(botCommands, tgbotapi.BotCommand{Command: cmd.Name, Description: cmd.Description})
	}
	cfg := tgbotapi.NewSetMyCommandsWithScope(tgbotapi.NewBotCommandScopeChat(chatID), botCommands...)
	return c.call(ctx, "setMyCommands", chatID, func() error {
		_, err := c.api.Request(cfg)
		return err
	})
}

// call waits for the rate limiter and runs fn, retrying once when Telegram
// answers with a flood-control delay.
func (c *Client) call(ctx context.Context, op string, chatID int64, fn func() error) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return &transport.SinkError{Op: op, ChatID: chatID, Err: err}
		}

		start := time.Now()
		err := fn()
		apiLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err == nil {
			apiCalls.WithLabelValues(op, "ok").Inc()
			return nil
		}
		apiCalls.WithLabelValues(op, "error").Inc()

		var tgErr *tgbotapi.Error
		if attempt == 0 && errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
			wait := time.Duration(tgErr.RetryAfter) * time.Second
			if wait > maxRetryAfter {
				wait = maxRetryAfter
			}
			c.logger.Warn("Telegram flood control, retrying", zap.String("op", op), zap.Duration("wait", wait))
			select {
			case <-ctx.Done():
				return &transport.SinkError{Op: op, ChatID: chatID, Err: ctx.Err()}
			case <-time.After(wait):
			}
			continue
		}
		return &transport.SinkError{Op: op, ChatID: chatID, Err: err}
	}
}

func newSendConfig(chatID int64, payload models.Payload, opts transport.SendOptions) (tgbotapi.Chattable, error) {
	var base *tgbotapi.BaseChat
	var chattable tgbotapi.Chattable

	switch p := payload.(type) {
	case models.Text:
		msg := tgbotapi.NewMessage(chatID, p.Body)
		msg.ParseMode = tgbotapi.ModeHTML
		base, chattable = &msg.BaseChat, &msg
	case models.Photo:
		msg := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(p.FileID))
		msg.Caption, msg.ParseMode = p.Caption, tgbotapi.ModeHTML
		base, chattable = &msg.BaseChat, &msg
	case models.Audio:
		msg := tgbotapi.NewAudio(chatID, tgbotapi.FileID(p.FileID))
		msg.Caption, msg.ParseMode = p.Caption, tgbotapi.ModeHTML
		base, chattable = &msg.BaseChat, &msg
	case models.Animation:
		msg := tgbotapi.NewAnimation(chatID, tgbotapi.FileID(p.FileID))
		msg.Caption, msg.ParseMode = p.Caption, tgbotapi.ModeHTML
		base, chattable = &msg.BaseChat, &msg
	case models.Video:
		msg := tgbotapi.NewVideo(chatID, tgbotapi.FileID(p.FileID))
		msg.Caption, msg.ParseMode = p.Caption, tgbotapi.ModeHTML
		base, chattable = &msg.BaseChat, &msg
	default:
		return nil, fmt.Errorf("%w: %T", models.ErrUnsupportedKind, payload)
	}

	if len(opts.Controls) > 0 {
		base.ReplyMarkup = keyboard(opts.Controls)
	}
	base.ReplyToMessageID = opts.ReplyTo
	return chattable, nil
}

func newInputMedia(item models.GroupMedia) (interface{}, error) {
	switch m := item.(type) {
	case models.Photo:
		media := tgbotapi.NewInputMediaPhoto(tgbotapi.FileID(m.FileID))
		media.Caption, media.ParseMode = m.Caption, tgbotapi.ModeHTML
		return media, nil
	case models.Video:
		media := tgbotapi.NewInputMediaVideo(tgbotapi.FileID(m.FileID))
		media.Caption, media.ParseMode = m.Caption, tgbotapi.ModeHTML
		return media, nil
	case models.Audio:
		media := tgbotapi.NewInputMediaAudio(tgbotapi.FileID(m.FileID))
		media.Caption, media.ParseMode = m.Caption, tgbotapi.ModeHTML
		return media, nil
	default:
		return nil, fmt.Errorf("%w: %T in media group", models.ErrUnsupportedKind, item)
	}
}

func keyboard(controls []transport.Button) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(controls))
	for _, b := range controls {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}
