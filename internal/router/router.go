// Package router forwards private submissions to the moderation group.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"relaybot/internal/aggregator"
	"relaybot/internal/models"
	"relaybot/internal/moderation"
	"relaybot/internal/repository"
	"relaybot/internal/transport"
)

// flushTimeout bounds the dispatch of one finalized media group.
const flushTimeout = 30 * time.Second

// Texts are the messages the router sends to submitters.
type Texts struct {
	Greeting      string
	Thanks        string
	Blocked       string
	NotRegistered string
	SendFailed    string
}

func DefaultTexts() Texts {
	return Texts{
		Greeting:      "ооууу! Привет...",
		Thanks:        "Спасибо за ваше сообщение!",
		Blocked:       "ой, вы заблокированы",
		NotRegistered: "Сначала отправьте /start",
		SendFailed:    "Не получилось отправить сообщение, попробуйте позже",
	}
}

func (t Texts) withDefaults() Texts {
	d := DefaultTexts()
	if t.Greeting == "" {
		t.Greeting = d.Greeting
	}
	if t.Thanks == "" {
		t.Thanks = d.Thanks
	}
	if t.Blocked == "" {
		t.Blocked = d.Blocked
	}
	if t.NotRegistered == "" {
		t.NotRegistered = d.NotRegistered
	}
	if t.SendFailed == "" {
		t.SendFailed = d.SendFailed
	}
	return t
}

type Options struct {
	// GroupID is the moderation group submissions are forwarded to.
	GroupID             int64
	MediaGroupWindow    time.Duration
	RequireRegistration bool
	GreetingSticker     string
	Texts               Texts
}

// Router classifies private messages, applies the ban and registration gate
// and forwards what passes to the moderation group.
type Router struct {
	store  repository.Store
	sink   transport.Transport
	logger *zap.Logger
	opts   Options

	groups *aggregator.Aggregator
	// noticed holds media group ids whose sender was already told why the
	// group is not forwarded.
	noticed *lru.Cache[string, struct{}]
}

func New(opts Options, store repository.Store, sink transport.Transport, logger *zap.Logger) (*Router, error) {
	opts.Texts = opts.Texts.withDefaults()

	noticed, err := lru.New[string, struct{}](1024)
	if err != nil {
		return nil, fmt.Errorf("failed to create notice cache: %w", err)
	}

	r := &Router{
		store:   store,
		sink:    sink,
		logger:  logger,
		opts:    opts,
		noticed: noticed,
	}

	r.groups, err = aggregator.New(opts.MediaGroupWindow, r.flushGroup, logger.Named("aggregator"))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Handle processes one private message. Media group items are buffered and
// forwarded together once the group is complete.
func (r *Router) Handle(ctx context.Context, msg models.Inbound) {
	if msg.Command == "start" {
		r.greet(ctx, msg)
		return
	}
	if isModeratorCommand(msg.Command) {
		r.logger.Debug("Ignoring moderator command in private chat",
			zap.Int64("user_id", msg.From.ID),
			zap.String("command", msg.Command),
		)
		submissionsRejected.WithLabelValues("command").Inc()
		return
	}

	if !r.admit(ctx, msg) {
		return
	}

	if msg.MediaGroupID != "" {
		r.groups.Observe(msg.MediaGroupID, msg)
		return
	}

	payload, err := Classify(msg)
	if err != nil {
		r.logger.Info("Skipping unsupported message",
			zap.Int64("user_id", msg.From.ID),
			zap.Int("message_id", msg.MessageID),
			zap.Error(err),
		)
		submissionsRejected.WithLabelValues("unsupported").Inc()
		return
	}

	r.dispatchSingle(ctx, msg, payload)
}

// Shutdown forwards every media group still waiting for its quiet period.
func (r *Router) Shutdown() {
	r.groups.Drain()
}

func isModeratorCommand(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range moderation.Commands() {
		if c.Name == name {
			return true
		}
	}
	return false
}

func (r *Router) greet(ctx context.Context, msg models.Inbound) {
	if err := r.store.RegisterUser(ctx, msg.From.ID); err != nil {
		r.logger.Error("Failed to register user", zap.Int64("user_id", msg.From.ID), zap.Error(err))
	}
	if r.opts.GreetingSticker != "" {
		if _, err := r.sink.SendSticker(ctx, msg.ChatID, r.opts.GreetingSticker); err != nil {
			r.logger.Warn("Failed to send greeting sticker", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
		}
	}
	r.reply(ctx, msg.ChatID, r.opts.Texts.Greeting)
}

// admit reports whether msg may be forwarded. A failing store does not block
// submissions.
func (r *Router) admit(ctx context.Context, msg models.Inbound) bool {
	banned, err := r.store.IsBanned(ctx, msg.From.ID)
	if err != nil {
		r.logger.Warn("Ban check failed, forwarding anyway", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		return true
	}
	if banned {
		submissionsRejected.WithLabelValues("banned").Inc()
		r.notice(ctx, msg, r.opts.Texts.Blocked)
		return false
	}

	if !r.opts.RequireRegistration {
		return true
	}
	registered, err := r.store.IsRegistered(ctx, msg.From.ID)
	if err != nil {
		r.logger.Warn("Registration check failed, forwarding anyway", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		return true
	}
	if !registered {
		submissionsRejected.WithLabelValues("unregistered").Inc()
		r.notice(ctx, msg, r.opts.Texts.NotRegistered)
		return false
	}
	return true
}

// notice tells the sender why nothing was forwarded, once per media group.
func (r *Router) notice(ctx context.Context, msg models.Inbound, text string) {
	if msg.MediaGroupID != "" {
		if seen, _ := r.noticed.ContainsOrAdd(msg.MediaGroupID, struct{}{}); seen {
			return
		}
	}
	r.reply(ctx, msg.ChatID, text)
}

func (r *Router) dispatchSingle(ctx context.Context, msg models.Inbound, payload models.Payload) {
	start := time.Now()
	kind := string(payload.Kind())
	defer func() {
		dispatchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	tagged, err := Tagged(payload, msg.From)
	if err != nil {
		r.logger.Error("Failed to tag payload", zap.Int("message_id", msg.MessageID), zap.Error(err))
		return
	}

	controlID, err := r.sink.Send(ctx, r.opts.GroupID, tagged, transport.SendOptions{Controls: moderation.ReviewControls()})
	if err != nil {
		r.logger.Error("Failed to forward submission",
			zap.Int64("user_id", msg.From.ID),
			zap.String("kind", kind),
			zap.Error(err),
		)
		dispatchFailures.WithLabelValues("send").Inc()
		r.reply(ctx, msg.ChatID, r.opts.Texts.SendFailed)
		return
	}

	r.record(ctx, models.Dispatch{
		ControlMessageID: controlID,
		Payload:          tagged,
		SubmitterID:      msg.From.ID,
		ForwardedIDs:     []int{controlID},
	})
	submissionsRouted.WithLabelValues(kind).Inc()

	r.logger.Info("Submission forwarded",
		zap.Int64("user_id", msg.From.ID),
		zap.String("kind", kind),
		zap.Int("control_message_id", controlID),
	)
	r.reply(ctx, msg.ChatID, r.opts.Texts.Thanks)
}

func (r *Router) flushGroup(groupID string, items []models.Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	r.dispatchBatch(ctx, groupID, items)
}

func (r *Router) dispatchBatch(ctx context.Context, groupID string, items []models.Inbound) {
	start := time.Now()
	kind := string(models.KindBatch)
	defer func() {
		dispatchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	batch, submitter, skipped := BuildBatch(items)
	for _, item := range skipped {
		r.logger.Info("Skipping media group item that cannot be grouped",
			zap.String("media_group_id", groupID),
			zap.Int("message_id", item.MessageID),
		)
		submissionsRejected.WithLabelValues("unsupported").Inc()
	}
	if len(batch.Items) == 0 {
		return
	}
	chatID := items[0].ChatID

	ids, err := r.sink.SendGroup(ctx, r.opts.GroupID, batch)
	if err != nil {
		r.logger.Error("Failed to forward media group",
			zap.String("media_group_id", groupID),
			zap.Int64("user_id", submitter.ID),
			zap.Error(err),
		)
		dispatchFailures.WithLabelValues("send").Inc()
		r.reply(ctx, chatID, r.opts.Texts.SendFailed)
		return
	}

	controlID, err := r.sink.Send(ctx, r.opts.GroupID, models.Text{Body: moderation.Divider}, transport.SendOptions{
		Controls: moderation.ReviewControls(),
		ReplyTo:  ids[0],
	})
	if err != nil {
		// The items are already in the group; they stay reachable for replies
		// and commands through the forward index.
		r.logger.Error("Failed to send media group controls",
			zap.String("media_group_id", groupID),
			zap.Error(err),
		)
		dispatchFailures.WithLabelValues("controls").Inc()
		controlID = 0
	}

	r.record(ctx, models.Dispatch{
		ControlMessageID: controlID,
		Payload:          batch,
		SubmitterID:      submitter.ID,
		ForwardedIDs:     ids,
	})
	submissionsRouted.WithLabelValues(kind).Inc()

	r.logger.Info("Media group forwarded",
		zap.String("media_group_id", groupID),
		zap.Int64("user_id", submitter.ID),
		zap.Int("items", len(ids)),
		zap.Int("control_message_id", controlID),
	)
	r.reply(ctx, chatID, r.opts.Texts.Thanks)
}

// record stores the dispatch. The submission already reached the group, so a
// failure only degrades later lookups.
func (r *Router) record(ctx context.Context, d models.Dispatch) {
	if err := r.store.RecordDispatch(ctx, d); err != nil {
		var repoErr *repository.Error
		r.logger.Error("Failed to record dispatch",
			zap.Int("control_message_id", d.ControlMessageID),
			zap.Int64("user_id", d.SubmitterID),
			zap.Bool("temporary", errors.As(err, &repoErr) && repoErr.Temporary()),
			zap.Error(err),
		)
		dispatchFailures.WithLabelValues("record").Inc()
	}
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	if _, err := r.sink.Send(ctx, chatID, models.Text{Body: text}, transport.SendOptions{}); err != nil {
		r.logger.Warn("Failed to reply to submitter", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
