package telegram_bot

import (
	"context"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"relaybot/internal/models"
	"relaybot/internal/transport"
)

const groupID = int64(-100)

type fakeHandlers struct {
	mu        sync.Mutex
	private   []models.Inbound
	group     []models.Inbound
	callbacks []models.Callback
	panicOn   string
}

func (f *fakeHandlers) Handle(_ context.Context, msg models.Inbound) {
	if msg.Text == f.panicOn {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.private = append(f.private, msg)
}

func (f *fakeHandlers) Shutdown() {}

func (f *fakeHandlers) HandleCallback(_ context.Context, cb models.Callback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, cb)
}

func (f *fakeHandlers) HandleGroupMessage(_ context.Context, msg models.Inbound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.group = append(f.group, msg)
}

func newTestBot(h *fakeHandlers) *Bot {
	return NewBot(nil, groupID, 60, h, h, zap.NewNop())
}

func user() *tgbotapi.User {
	return &tgbotapi.User{ID: 42, FirstName: "Ann", LastName: "Lee", UserName: "ann"}
}

func TestDispatchRoutesUpdates(t *testing.T) {
	h := &fakeHandlers{panicOn: "\x00"}
	b := newTestBot(h)
	ctx := context.Background()

	b.dispatch(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1, From: user(), Chat: &tgbotapi.Chat{ID: 42, Type: "private"}, Text: "hi",
	}})
	b.dispatch(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 2, From: user(), Chat: &tgbotapi.Chat{ID: groupID, Type: "supergroup"}, Text: "reply",
	}})
	b.dispatch(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 3, From: user(), Chat: &tgbotapi.Chat{ID: -555, Type: "group"}, Text: "elsewhere",
	}})
	b.dispatch(ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "cb", From: user(), Data: "accept",
		Message: &tgbotapi.Message{MessageID: 10, Chat: &tgbotapi.Chat{ID: groupID}},
	}})
	b.dispatch(ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "inline", From: user(), Data: "accept"}})
	b.wg.Wait()

	require.Len(t, h.private, 1)
	assert.Equal(t, "hi", h.private[0].Text)
	assert.Equal(t, "Ann Lee", h.private[0].From.FullName)

	require.Len(t, h.group, 1)
	assert.Equal(t, 2, h.group[0].MessageID)

	require.Len(t, h.callbacks, 1)
	assert.Equal(t, models.Callback{
		ID:        "cb",
		From:      models.Sender{ID: 42, FullName: "Ann Lee", Username: "ann"},
		ChatID:    groupID,
		MessageID: 10,
		Data:      "accept",
	}, h.callbacks[0])
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	h := &fakeHandlers{panicOn: "explode"}
	b := newTestBot(h)
	chat := &tgbotapi.Chat{ID: 42, Type: "private"}

	assert.NotPanics(t, func() {
		b.dispatch(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{MessageID: 1, From: user(), Chat: chat, Text: "explode"}})
	})
	b.dispatch(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{MessageID: 2, From: user(), Chat: chat, Text: "fine"}})

	require.Len(t, h.private, 1)
	assert.Equal(t, "fine", h.private[0].Text)
}

func TestToInbound(t *testing.T) {
	chat := &tgbotapi.Chat{ID: 42, Type: "private"}

	in, ok := toInbound(&tgbotapi.Message{
		MessageID:    5,
		From:         user(),
		Chat:         chat,
		MediaGroupID: "g",
		Caption:      "cap",
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", Width: 90},
			{FileID: "large", Width: 1280},
		},
	})
	require.True(t, ok)
	assert.True(t, in.Private)
	assert.Equal(t, "large", in.PhotoID)
	assert.Equal(t, "g", in.MediaGroupID)
	assert.Equal(t, "cap", in.Caption)

	in, ok = toInbound(&tgbotapi.Message{
		From: user(),
		Chat: chat,
		Text: "/start ref",
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: 6},
		},
	})
	require.True(t, ok)
	assert.Equal(t, "start", in.Command)
	assert.Equal(t, "ref", in.CommandArgs)
	assert.Empty(t, in.CommandTarget)

	in, ok = toInbound(&tgbotapi.Message{
		From: user(),
		Chat: &tgbotapi.Chat{ID: groupID, Type: "supergroup"},
		Text: "/Ban@OtherBot",
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: 13},
		},
	})
	require.True(t, ok)
	assert.Equal(t, "ban", in.Command)
	assert.Equal(t, "OtherBot", in.CommandTarget)

	in, ok = toInbound(&tgbotapi.Message{From: user(), Chat: chat, Voice: &tgbotapi.Voice{FileID: "v"}})
	require.True(t, ok)
	assert.Equal(t, "voice", in.Other)

	in, ok = toInbound(&tgbotapi.Message{
		From:           user(),
		Chat:           &tgbotapi.Chat{ID: groupID, Type: "supergroup"},
		Text:           "thanks",
		ReplyToMessage: &tgbotapi.Message{MessageID: 77, From: &tgbotapi.User{ID: 99, IsBot: true}},
	})
	require.True(t, ok)
	assert.False(t, in.Private)
	assert.Equal(t, 77, in.ReplyToMessageID)
	assert.Equal(t, int64(99), in.ReplyToFromID)

	_, ok = toInbound(&tgbotapi.Message{Chat: chat})
	assert.False(t, ok)
}

func TestNewSendConfig(t *testing.T) {
	controls := []transport.Button{{Text: "✅", Data: "accept"}, {Text: "❌", Data: "deny"}}

	c, err := newSendConfig(1, models.Photo{FileID: "f", Caption: "<b>x</b>"}, transport.SendOptions{Controls: controls, ReplyTo: 9})
	require.NoError(t, err)
	photo, ok := c.(*tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, "<b>x</b>", photo.Caption)
	assert.Equal(t, tgbotapi.ModeHTML, photo.ParseMode)
	assert.Equal(t, 9, photo.ReplyToMessageID)
	markup, ok := photo.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	require.Len(t, markup.InlineKeyboard[0], 2)
	assert.Equal(t, "accept", *markup.InlineKeyboard[0][0].CallbackData)

	c, err = newSendConfig(1, models.Text{Body: "plain"}, transport.SendOptions{})
	require.NoError(t, err)
	msg := c.(*tgbotapi.MessageConfig)
	assert.Nil(t, msg.ReplyMarkup)
	assert.Equal(t, "plain", msg.Text)

	_, err = newSendConfig(1, models.Batch{}, transport.SendOptions{})
	assert.ErrorIs(t, err, models.ErrUnsupportedKind)
}

func TestNewInputMedia(t *testing.T) {
	m, err := newInputMedia(models.Video{FileID: "v", Caption: "c"})
	require.NoError(t, err)
	video, ok := m.(tgbotapi.InputMediaVideo)
	require.True(t, ok)
	assert.Equal(t, "c", video.Caption)
	assert.Equal(t, "video", video.Type)
}
