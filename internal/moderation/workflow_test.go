package moderation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"relaybot/internal/models"
	"relaybot/internal/repository"
	"relaybot/internal/transport"
	"relaybot/internal/transport/transporttest"
)

const (
	groupID     = int64(-1001)
	channelID   = int64(-2002)
	botID       = int64(99)
	submitterID = int64(42)
	moderatorID = int64(7)
	controlID   = 500
)

type fixture struct {
	wf    *Workflow
	store *repository.MemStore
	sink  *transporttest.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemStore()
	sink := transporttest.NewRecorder()
	wf := New(Options{GroupID: groupID, ChannelID: channelID, BotID: botID}, store, sink, zap.NewNop())
	return &fixture{wf: wf, store: store, sink: sink}
}

func (f *fixture) seed(t *testing.T, payload models.Payload) {
	t.Helper()
	require.NoError(t, f.store.RecordDispatch(context.Background(), models.Dispatch{
		ControlMessageID: controlID,
		Payload:          payload,
		SubmitterID:      submitterID,
		ForwardedIDs:     []int{controlID},
	}))
}

func press(data string) models.Callback {
	return models.Callback{
		ID:        "cb-" + data,
		From:      models.Sender{ID: moderatorID},
		ChatID:    groupID,
		MessageID: controlID,
		Data:      data,
	}
}

func groupMessage(id int, command string, replyTo int, replyToFrom int64) models.Inbound {
	return models.Inbound{
		MessageID:        id,
		ChatID:           groupID,
		From:             models.Sender{ID: moderatorID},
		Command:          command,
		ReplyToMessageID: replyTo,
		ReplyToFromID:    replyToFrom,
	}
}

func TestApprovePublishesAndNotifies(t *testing.T) {
	f := newFixture(t)
	payload := models.Text{Body: "hello\n\n👤 <code>Ann</code>"}
	f.seed(t, payload)

	f.wf.HandleCallback(context.Background(), press(ActionApprove))

	published := f.sink.SentTo(channelID)
	require.Len(t, published, 1)
	assert.Equal(t, payload, published[0].Payload)

	notified := f.sink.SentTo(submitterID)
	require.Len(t, notified, 1)
	assert.Equal(t, models.Text{Body: DefaultTexts().Published}, notified[0].Payload)

	edit, ok := f.sink.LastEdit(controlID)
	require.True(t, ok)
	assert.Equal(t, BanControls(false), edit.Controls)

	answers := f.sink.Answers()
	require.Len(t, answers, 1)
	assert.False(t, answers[0].Alert)

	stats, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Approved)
}

func TestApprovePublishesBatchAsGroup(t *testing.T) {
	f := newFixture(t)
	batch := models.Batch{Items: []models.GroupMedia{
		models.Photo{FileID: "a", Caption: "first"},
		models.Video{FileID: "b"},
	}}
	f.seed(t, batch)

	f.wf.HandleCallback(context.Background(), press(ActionApprove))

	published := f.sink.SentTo(channelID)
	require.Len(t, published, 1)
	assert.Equal(t, batch, published[0].Payload)
	assert.Len(t, published[0].GroupIDs, 2)
}

func TestApproveTwicePublishesOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, models.Text{Body: "once"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.wf.HandleCallback(context.Background(), press(ActionApprove))
		}()
	}
	wg.Wait()

	assert.Len(t, f.sink.SentTo(channelID), 1)
	assert.Len(t, f.sink.SentTo(submitterID), 1)
	assert.Len(t, f.sink.Answers(), 8)
}

func TestApprovePublishFailureKeepsControls(t *testing.T) {
	f := newFixture(t)
	f.seed(t, models.Text{Body: "retry me"})
	f.sink.FailChats[channelID] = true

	f.wf.HandleCallback(context.Background(), press(ActionApprove))

	assert.Empty(t, f.sink.SentTo(channelID))
	assert.Empty(t, f.sink.SentTo(submitterID))
	edit, ok := f.sink.LastEdit(controlID)
	require.True(t, ok)
	assert.Equal(t, ReviewControls(), edit.Controls)
	answers := f.sink.Answers()
	require.Len(t, answers, 1)
	assert.True(t, answers[0].Alert)
	assert.Equal(t, DefaultTexts().PublishFailed, answers[0].Text)

	f.sink.FailChats[channelID] = false
	f.wf.HandleCallback(context.Background(), press(ActionApprove))
	assert.Len(t, f.sink.SentTo(channelID), 1)
}

// stalledChannel holds channel publications until released and then fails them.
type stalledChannel struct {
	*transporttest.Recorder
	entered chan struct{}
	release chan struct{}
}

func (s *stalledChannel) Send(ctx context.Context, chatID int64, payload models.Payload, opts transport.SendOptions) (int, error) {
	if chatID != channelID {
		return s.Recorder.Send(ctx, chatID, payload, opts)
	}
	s.entered <- struct{}{}
	<-s.release
	return 0, &transport.SinkError{Op: "send", ChatID: chatID, Err: transporttest.ErrInjected}
}

func TestApprovePressedDuringFailingPublishKeepsReviewControls(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemStore()
	rec := transporttest.NewRecorder()
	sink := &stalledChannel{Recorder: rec, entered: make(chan struct{}, 1), release: make(chan struct{})}
	opts := Options{GroupID: groupID, ChannelID: channelID, BotID: botID}
	wf := New(opts, store, sink, zap.NewNop())
	require.NoError(t, store.RecordDispatch(ctx, models.Dispatch{
		ControlMessageID: controlID,
		Payload:          models.Text{Body: "slow"},
		SubmitterID:      submitterID,
		ForwardedIDs:     []int{controlID},
	}))

	first := press(ActionApprove)
	first.ID = "cb-first"
	done := make(chan struct{})
	go func() {
		defer close(done)
		wf.HandleCallback(ctx, first)
	}()
	<-sink.entered

	second := press(ActionApprove)
	second.ID = "cb-second"
	wf.HandleCallback(ctx, second)

	close(sink.release)
	<-done

	assert.Empty(t, rec.SentTo(channelID))
	edits := rec.Edits()
	require.Len(t, edits, 1)
	assert.Equal(t, ReviewControls(), edits[0].Controls)

	answers := rec.Answers()
	require.Len(t, answers, 2)
	assert.Equal(t, "cb-second", answers[0].CallbackID)
	assert.False(t, answers[0].Alert)
	assert.Equal(t, "cb-first", answers[1].CallbackID)
	assert.True(t, answers[1].Alert)

	// The released claim lets a later press publish.
	New(opts, store, rec, zap.NewNop()).HandleCallback(ctx, press(ActionApprove))
	assert.Len(t, rec.SentTo(channelID), 1)
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Approved)
}

func TestApproveSurvivesNotifyFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, models.Text{Body: "x"})
	f.sink.FailChats[submitterID] = true

	f.wf.HandleCallback(context.Background(), press(ActionApprove))

	assert.Len(t, f.sink.SentTo(channelID), 1)
	_, ok := f.sink.LastEdit(controlID)
	assert.True(t, ok)
}

func TestApproveSurvivesEditFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, models.Text{Body: "x"})
	f.sink.FailEdits = true

	f.wf.HandleCallback(context.Background(), press(ActionApprove))

	assert.Len(t, f.sink.SentTo(channelID), 1)
	assert.Empty(t, f.sink.Edits())
	answers := f.sink.Answers()
	require.Len(t, answers, 1)
	assert.False(t, answers[0].Alert)
}

func TestApproveWithoutRelationPublishesNothing(t *testing.T) {
	f := newFixture(t)

	f.wf.HandleCallback(context.Background(), press(ActionApprove))

	assert.Empty(t, f.sink.SentTo(channelID))
	edit, ok := f.sink.LastEdit(controlID)
	require.True(t, ok)
	assert.Equal(t, BanControls(false), edit.Controls)
}

func TestApproveRendersUnbanForBannedSubmitter(t *testing.T) {
	f := newFixture(t)
	f.seed(t, models.Text{Body: "x"})
	require.NoError(t, f.store.Ban(context.Background(), submitterID, moderatorID))

	f.wf.HandleCallback(context.Background(), press(ActionApprove))

	edit, ok := f.sink.LastEdit(controlID)
	require.True(t, ok)
	assert.Equal(t, BanControls(true), edit.Controls)
}

func TestDenyDoesNotPublish(t *testing.T) {
	f := newFixture(t)
	f.seed(t, models.Text{Body: "nope"})
	ctx := context.Background()

	f.wf.HandleCallback(ctx, press(ActionDeny))
	f.wf.HandleCallback(ctx, press(ActionApprove))

	assert.Empty(t, f.sink.SentTo(channelID))
	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Denied)
	assert.Zero(t, stats.Approved)
}

func TestBanAndUnbanToggleControls(t *testing.T) {
	f := newFixture(t)
	f.seed(t, models.Text{Body: "x"})
	ctx := context.Background()

	f.wf.HandleCallback(ctx, press(ActionBan))
	banned, err := f.store.IsBanned(ctx, submitterID)
	require.NoError(t, err)
	assert.True(t, banned)
	edit, _ := f.sink.LastEdit(controlID)
	assert.Equal(t, BanControls(true), edit.Controls)

	f.wf.HandleCallback(ctx, press(ActionBan))
	banned, err = f.store.IsBanned(ctx, submitterID)
	require.NoError(t, err)
	assert.True(t, banned)

	f.wf.HandleCallback(ctx, press(ActionUnban))
	banned, err = f.store.IsBanned(ctx, submitterID)
	require.NoError(t, err)
	assert.False(t, banned)
	edit, _ = f.sink.LastEdit(controlID)
	assert.Equal(t, BanControls(false), edit.Controls)
}

func TestCallbackOutsideGroupIgnored(t *testing.T) {
	f := newFixture(t)
	f.seed(t, models.Text{Body: "x"})

	cb := press(ActionApprove)
	cb.ChatID = 12345
	f.wf.HandleCallback(context.Background(), cb)

	assert.Empty(t, f.sink.SentTo(channelID))
	assert.Empty(t, f.sink.Edits())
	assert.Len(t, f.sink.Answers(), 1)
}

func TestReplyIsCopiedToSubmitter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.RecordForward(ctx, 600, submitterID))

	f.wf.HandleGroupMessage(ctx, groupMessage(700, "", 600, botID))

	copies := f.sink.SentTo(submitterID)
	require.Len(t, copies, 1)
	assert.Equal(t, 700, copies[0].CopyOf)
}

func TestReplyToOtherMessagesIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.RecordForward(ctx, 600, submitterID))

	f.wf.HandleGroupMessage(ctx, groupMessage(700, "", 600, moderatorID))
	f.wf.HandleGroupMessage(ctx, groupMessage(701, "", 0, 0))
	f.wf.HandleGroupMessage(ctx, groupMessage(702, "", 601, botID))

	assert.Empty(t, f.sink.SentTo(submitterID))
	assert.Empty(t, f.sink.SentTo(groupID))
}

func TestReplyFailureReportedInGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.RecordForward(ctx, 600, submitterID))
	f.sink.FailChats[submitterID] = true

	f.wf.HandleGroupMessage(ctx, groupMessage(700, "", 600, botID))

	replies := f.sink.SentTo(groupID)
	require.Len(t, replies, 1)
	assert.Equal(t, 700, replies[0].ReplyTo)
	assert.Contains(t, replies[0].Payload.(models.Text).Body, "Не смог ответить")
}

func TestBanCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.RecordForward(ctx, 600, submitterID))
	texts := DefaultTexts()

	steps := []struct {
		command string
		reply   string
		banned  bool
	}{
		{"ban", texts.Banned, true},
		{"ban", texts.AlreadyBanned, true},
		{"unban", texts.Unbanned, false},
		{"unban", texts.NotBanned, false},
	}
	for i, step := range steps {
		f.wf.HandleGroupMessage(ctx, groupMessage(800+i, step.command, 600, botID))

		replies := f.sink.SentTo(groupID)
		require.Len(t, replies, i+1)
		assert.Equal(t, models.Text{Body: step.reply}, replies[i].Payload, step.command)

		banned, err := f.store.IsBanned(ctx, submitterID)
		require.NoError(t, err)
		assert.Equal(t, step.banned, banned)
	}
}

func TestCommandForAnotherBotIgnored(t *testing.T) {
	store := repository.NewMemStore()
	sink := transporttest.NewRecorder()
	wf := New(Options{GroupID: groupID, ChannelID: channelID, BotID: botID, BotUsername: "RelayBot"}, store, sink, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, store.RecordForward(ctx, 700, submitterID))

	foreign := groupMessage(10, "ban", 700, botID)
	foreign.CommandTarget = "otherbot"
	wf.HandleGroupMessage(ctx, foreign)

	banned, err := store.IsBanned(ctx, submitterID)
	require.NoError(t, err)
	assert.False(t, banned)
	assert.Empty(t, sink.SentTo(groupID))

	own := groupMessage(11, "ban", 700, botID)
	own.CommandTarget = "relaybot"
	wf.HandleGroupMessage(ctx, own)

	banned, err = store.IsBanned(ctx, submitterID)
	require.NoError(t, err)
	assert.True(t, banned)
}

func TestBanCommandOnUnknownMessage(t *testing.T) {
	f := newFixture(t)

	f.wf.HandleGroupMessage(context.Background(), groupMessage(800, "ban", 601, botID))

	replies := f.sink.SentTo(groupID)
	require.Len(t, replies, 1)
	assert.Equal(t, models.Text{Body: DefaultTexts().NotForwarded}, replies[0].Payload)
}

func TestStatsCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, models.Text{Body: "x"})
	require.NoError(t, f.store.RegisterUser(ctx, submitterID))
	require.NoError(t, f.store.Ban(ctx, 1, moderatorID))

	f.wf.HandleGroupMessage(ctx, groupMessage(900, "stats", 0, 0))

	replies := f.sink.SentTo(groupID)
	require.Len(t, replies, 1)
	body := replies[0].Payload.(models.Text).Body
	assert.Contains(t, body, "Юзеров: 1")
	assert.Contains(t, body, "Забанено: 1")
	assert.Contains(t, body, "Сообщений: 1")
}
