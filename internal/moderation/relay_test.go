package moderation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"relaybot/internal/models"
	"relaybot/internal/moderation"
	"relaybot/internal/repository"
	"relaybot/internal/router"
	"relaybot/internal/transport/transporttest"
)

const (
	group   = int64(-1001)
	channel = int64(-2002)
	user    = int64(42)
)

func TestSubmitApproveRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemStore()
	sink := transporttest.NewRecorder()

	r, err := router.New(router.Options{GroupID: group, MediaGroupWindow: 20 * time.Millisecond}, store, sink, zap.NewNop())
	require.NoError(t, err)
	defer r.Shutdown()
	wf := moderation.New(moderation.Options{GroupID: group, ChannelID: channel, BotID: 99}, store, sink, zap.NewNop())

	from := models.Sender{ID: user, FullName: "Ann"}
	for i := 1; i <= 2; i++ {
		r.Handle(ctx, models.Inbound{MessageID: i, ChatID: user, Private: true, From: from, MediaGroupID: "g", PhotoID: "p"})
	}
	require.Eventually(t, func() bool { return len(sink.SentTo(group)) == 2 }, time.Second, 5*time.Millisecond)

	control := sink.SentTo(group)[1]
	wf.HandleCallback(ctx, models.Callback{ID: "1", From: models.Sender{ID: 7}, ChatID: group, MessageID: control.ID, Data: moderation.ActionApprove})

	published := sink.SentTo(channel)
	require.Len(t, published, 1)
	batch, ok := published[0].Payload.(models.Batch)
	require.True(t, ok)
	assert.Len(t, batch.Items, 2)

	toUser := sink.SentTo(user)
	require.Len(t, toUser, 2)
	assert.Equal(t, models.Text{Body: moderation.DefaultTexts().Published}, toUser[1].Payload)

	// a moderator reply to any grouped item reaches the submitter
	wf.HandleGroupMessage(ctx, models.Inbound{MessageID: 900, ChatID: group, ReplyToMessageID: sink.SentTo(group)[0].GroupIDs[1], ReplyToFromID: 99})
	toUser = sink.SentTo(user)
	require.Len(t, toUser, 3)
	assert.Equal(t, 900, toUser[2].CopyOf)
}
