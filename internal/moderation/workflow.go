// Package moderation handles what moderators do in the moderation group:
// control presses, replies to forwarded messages and moderator commands.
package moderation

import (
	"context"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"

	"relaybot/internal/models"
	"relaybot/internal/repository"
	"relaybot/internal/transport"
)

type Texts struct {
	Published     string
	PublishFailed string
	ActionFailed  string
	Banned        string
	AlreadyBanned string
	Unbanned      string
	NotBanned     string
	NotForwarded  string
	// ReplyFailed is a format string taking the escaped error.
	ReplyFailed string
}

func DefaultTexts() Texts {
	return Texts{
		Published:     "⭐️ Ваше сообщение было опубликовано",
		PublishFailed: "Не удалось опубликовать, попробуйте ещё раз",
		ActionFailed:  "Ошибка, попробуйте ещё раз",
		Banned:        "Забанен",
		AlreadyBanned: "Уже в бане",
		Unbanned:      "Ладно, пускай пишет",
		NotBanned:     "Не в бане",
		NotForwarded:  "Это сообщение не от пользователя",
		ReplyFailed:   "Не смог ответить\n<code>%s</code>",
	}
}

func (t Texts) withDefaults() Texts {
	d := DefaultTexts()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&t.Published, d.Published)
	fill(&t.PublishFailed, d.PublishFailed)
	fill(&t.ActionFailed, d.ActionFailed)
	fill(&t.Banned, d.Banned)
	fill(&t.AlreadyBanned, d.AlreadyBanned)
	fill(&t.Unbanned, d.Unbanned)
	fill(&t.NotBanned, d.NotBanned)
	fill(&t.NotForwarded, d.NotForwarded)
	fill(&t.ReplyFailed, d.ReplyFailed)
	return t
}

type Options struct {
	GroupID   int64
	ChannelID int64
	// BotID identifies the bot's own messages in the group.
	BotID int64
	// BotUsername filters out commands addressed to other bots.
	BotUsername string
	Texts       Texts
}

// Commands is the command menu registered for the moderation group.
func Commands() []transport.Command {
	return []transport.Command{
		{Name: "ban", Description: "забанить (надо ответом)"},
		{Name: "unban", Description: "разбанить (надо ответом)"},
		{Name: "stats", Description: "стата"},
	}
}

// Workflow applies moderator actions. Concurrent presses on one control are
// allowed; the control shows whichever render happened last, and the
// decision claim keeps a submission from being published twice. An approve
// that loses the claim leaves the controls to the press holding it.
type Workflow struct {
	store  repository.Store
	sink   transport.Transport
	logger *zap.Logger
	opts   Options
}

func New(opts Options, store repository.Store, sink transport.Transport, logger *zap.Logger) *Workflow {
	opts.Texts = opts.Texts.withDefaults()
	return &Workflow{
		store:  store,
		sink:   sink,
		logger: logger,
		opts:   opts,
	}
}

// HandleCallback processes a press on a moderation control.
func (w *Workflow) HandleCallback(ctx context.Context, cb models.Callback) {
	if cb.ChatID != w.opts.GroupID {
		w.logger.Warn("Ignoring callback outside the moderation group",
			zap.Int64("chat_id", cb.ChatID),
			zap.Int64("user_id", cb.From.ID),
		)
		w.answer(ctx, cb, "", false)
		return
	}

	w.logger.Info("Received moderation action",
		zap.String("data", cb.Data),
		zap.Int("control_message_id", cb.MessageID),
		zap.Int64("moderator_id", cb.From.ID),
	)

	switch cb.Data {
	case ActionApprove:
		w.approve(ctx, cb)
	case ActionDeny:
		w.deny(ctx, cb)
	case ActionBan:
		w.setBan(ctx, cb, true)
	case ActionUnban:
		w.setBan(ctx, cb, false)
	default:
		w.logger.Warn("Unknown callback data", zap.String("data", cb.Data))
		w.answer(ctx, cb, "", false)
	}
}

func (w *Workflow) approve(ctx context.Context, cb models.Callback) {
	rel, err := w.store.LookupRelation(ctx, cb.MessageID)
	if err != nil {
		w.logger.Error("Failed to look up submission", zap.Int("control_message_id", cb.MessageID), zap.Error(err))
		w.answer(ctx, cb, w.opts.Texts.ActionFailed, true)
		return
	}
	if rel == nil {
		w.logger.Warn("Approve pressed on a message without a submission", zap.Int("control_message_id", cb.MessageID))
		w.render(ctx, cb, nil)
		w.answer(ctx, cb, "", false)
		return
	}

	claimed, err := w.store.ClaimDecision(ctx, cb.MessageID, models.DecisionApproved, cb.From.ID)
	if err != nil {
		w.logger.Error("Failed to record decision", zap.Int("control_message_id", cb.MessageID), zap.Error(err))
		w.answer(ctx, cb, w.opts.Texts.ActionFailed, true)
		return
	}

	if claimed {
		if err := w.publish(ctx, rel.Payload); err != nil {
			w.logger.Error("Failed to publish submission",
				zap.Int("control_message_id", cb.MessageID),
				zap.Int64("channel_id", w.opts.ChannelID),
				zap.Error(err),
			)
			publishFailures.Inc()
			if err := w.store.ReleaseDecision(ctx, cb.MessageID); err != nil {
				w.logger.Error("Failed to release decision", zap.Int("control_message_id", cb.MessageID), zap.Error(err))
			} else {
				w.editControls(ctx, cb, ReviewControls())
			}
			w.answer(ctx, cb, w.opts.Texts.PublishFailed, true)
			return
		}
		decisions.WithLabelValues(string(models.DecisionApproved)).Inc()
		w.logger.Info("Submission published",
			zap.Int("control_message_id", cb.MessageID),
			zap.Int64("user_id", rel.SubmitterID),
			zap.Int64("moderator_id", cb.From.ID),
		)
		w.notifyPublished(ctx, rel.SubmitterID)
		w.render(ctx, cb, rel)
	} else {
		w.logger.Info("Submission already decided", zap.Int("control_message_id", cb.MessageID))
	}
	w.answer(ctx, cb, "", false)
}

func (w *Workflow) deny(ctx context.Context, cb models.Callback) {
	rel, err := w.store.LookupRelation(ctx, cb.MessageID)
	if err != nil {
		w.logger.Error("Failed to look up submission", zap.Int("control_message_id", cb.MessageID), zap.Error(err))
		w.answer(ctx, cb, w.opts.Texts.ActionFailed, true)
		return
	}
	if rel != nil {
		claimed, err := w.store.ClaimDecision(ctx, cb.MessageID, models.DecisionDenied, cb.From.ID)
		if err != nil {
			w.logger.Warn("Failed to record decision", zap.Int("control_message_id", cb.MessageID), zap.Error(err))
		}
		if claimed {
			decisions.WithLabelValues(string(models.DecisionDenied)).Inc()
		}
	}
	w.render(ctx, cb, rel)
	w.answer(ctx, cb, "", false)
}

func (w *Workflow) setBan(ctx context.Context, cb models.Callback, ban bool) {
	rel, err := w.store.LookupRelation(ctx, cb.MessageID)
	if err != nil {
		w.logger.Error("Failed to look up submission", zap.Int("control_message_id", cb.MessageID), zap.Error(err))
		w.answer(ctx, cb, w.opts.Texts.ActionFailed, true)
		return
	}
	if rel != nil {
		if err := w.applyBan(ctx, rel.SubmitterID, cb.From.ID, ban); err != nil {
			w.answer(ctx, cb, w.opts.Texts.ActionFailed, true)
			return
		}
	}
	w.editControls(ctx, cb, BanControls(ban))
	w.answer(ctx, cb, "", false)
}

func (w *Workflow) applyBan(ctx context.Context, userID, moderatorID int64, ban bool) error {
	action := "unban"
	apply := w.store.Unban
	if ban {
		action = "ban"
		apply = w.store.Ban
	}
	if err := apply(ctx, userID, moderatorID); err != nil {
		w.logger.Error("Failed to update ban state",
			zap.String("action", action),
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		return err
	}
	banActions.WithLabelValues(action).Inc()
	w.logger.Info("Ban state updated",
		zap.String("action", action),
		zap.Int64("user_id", userID),
		zap.Int64("moderator_id", moderatorID),
	)
	return nil
}

// publish sends payload to the public channel.
func (w *Workflow) publish(ctx context.Context, payload models.Payload) error {
	switch p := payload.(type) {
	case models.Batch:
		_, err := w.sink.SendGroup(ctx, w.opts.ChannelID, p)
		return err
	case nil:
		return fmt.Errorf("%w: empty payload", models.ErrUnsupportedKind)
	default:
		_, err := w.sink.Send(ctx, w.opts.ChannelID, p, transport.SendOptions{})
		return err
	}
}

func (w *Workflow) notifyPublished(ctx context.Context, submitterID int64) {
	// The submitter may have blocked the bot.
	_, _ = w.sink.Send(ctx, submitterID, models.Text{Body: w.opts.Texts.Published}, transport.SendOptions{})
}

// render replaces the review controls with the ban toggle for the submitter.
func (w *Workflow) render(ctx context.Context, cb models.Callback, rel *models.Relation) {
	banned := false
	if rel != nil {
		var err error
		if banned, err = w.store.IsBanned(ctx, rel.SubmitterID); err != nil {
			w.logger.Warn("Failed to check ban state", zap.Int64("user_id", rel.SubmitterID), zap.Error(err))
		}
	}
	w.editControls(ctx, cb, BanControls(banned))
}

func (w *Workflow) editControls(ctx context.Context, cb models.Callback, controls []transport.Button) {
	if err := w.sink.EditControls(ctx, cb.ChatID, cb.MessageID, controls); err != nil {
		w.logger.Error("Failed to edit controls", zap.Int("control_message_id", cb.MessageID), zap.Error(err))
	}
}

func (w *Workflow) answer(ctx context.Context, cb models.Callback, text string, alert bool) {
	if err := w.sink.AnswerCallback(ctx, cb.ID, text, alert); err != nil {
		w.logger.Error("Failed to answer callback", zap.String("callback_id", cb.ID), zap.Error(err))
	}
}

// HandleGroupMessage processes a message posted in the moderation group.
func (w *Workflow) HandleGroupMessage(ctx context.Context, msg models.Inbound) {
	if msg.ChatID != w.opts.GroupID {
		return
	}
	if msg.CommandTarget != "" && !strings.EqualFold(msg.CommandTarget, w.opts.BotUsername) {
		return
	}
	switch msg.Command {
	case "ban":
		w.banCommand(ctx, msg, true)
	case "unban":
		w.banCommand(ctx, msg, false)
	case "stats":
		w.statsCommand(ctx, msg)
	case "":
		w.relayReply(ctx, msg)
	}
}

// relayReply copies a moderator's reply to a forwarded message back to its submitter.
func (w *Workflow) relayReply(ctx context.Context, msg models.Inbound) {
	if msg.ReplyToMessageID == 0 || msg.ReplyToFromID != w.opts.BotID {
		return
	}
	submitterID, ok, err := w.store.LookupSubmitter(ctx, msg.ReplyToMessageID)
	if err != nil {
		w.logger.Error("Failed to look up submitter", zap.Int("message_id", msg.ReplyToMessageID), zap.Error(err))
		return
	}
	if !ok {
		return
	}

	if _, err := w.sink.CopyMessage(ctx, submitterID, msg.ChatID, msg.MessageID); err != nil {
		w.logger.Warn("Failed to relay reply",
			zap.Int64("user_id", submitterID),
			zap.Int("message_id", msg.MessageID),
			zap.Error(err),
		)
		repliesRelayed.WithLabelValues("failed").Inc()
		w.replyInGroup(ctx, msg, fmt.Sprintf(w.opts.Texts.ReplyFailed, html.EscapeString(err.Error())))
		return
	}
	repliesRelayed.WithLabelValues("ok").Inc()
}

func (w *Workflow) banCommand(ctx context.Context, msg models.Inbound, ban bool) {
	if msg.ReplyToMessageID == 0 {
		return
	}
	submitterID, ok, err := w.store.LookupSubmitter(ctx, msg.ReplyToMessageID)
	if err != nil {
		w.logger.Error("Failed to look up submitter", zap.Int("message_id", msg.ReplyToMessageID), zap.Error(err))
		w.replyInGroup(ctx, msg, w.opts.Texts.ActionFailed)
		return
	}
	if !ok {
		w.replyInGroup(ctx, msg, w.opts.Texts.NotForwarded)
		return
	}

	banned, err := w.store.IsBanned(ctx, submitterID)
	if err != nil {
		w.logger.Error("Failed to check ban state", zap.Int64("user_id", submitterID), zap.Error(err))
		w.replyInGroup(ctx, msg, w.opts.Texts.ActionFailed)
		return
	}
	switch {
	case ban && banned:
		w.replyInGroup(ctx, msg, w.opts.Texts.AlreadyBanned)
	case !ban && !banned:
		w.replyInGroup(ctx, msg, w.opts.Texts.NotBanned)
	default:
		if err := w.applyBan(ctx, submitterID, msg.From.ID, ban); err != nil {
			w.replyInGroup(ctx, msg, w.opts.Texts.ActionFailed)
			return
		}
		if ban {
			w.replyInGroup(ctx, msg, w.opts.Texts.Banned)
		} else {
			w.replyInGroup(ctx, msg, w.opts.Texts.Unbanned)
		}
	}
}

func (w *Workflow) statsCommand(ctx context.Context, msg models.Inbound) {
	stats, err := w.store.Stats(ctx)
	if err != nil {
		w.logger.Error("Failed to collect stats", zap.Error(err))
		w.replyInGroup(ctx, msg, w.opts.Texts.ActionFailed)
		return
	}
	text := fmt.Sprintf("Статья:\n\n👤 Юзеров: %d\n🔪 Забанено: %d\n☁ Сообщений: %d\n✅ Опубликовано: %d\n❌ Отклонено: %d",
		stats.Users, stats.Banned, stats.Forwarded, stats.Approved, stats.Denied)
	if _, err := w.sink.Send(ctx, msg.ChatID, models.Text{Body: text}, transport.SendOptions{}); err != nil {
		w.logger.Error("Failed to send stats", zap.Error(err))
	}
}

func (w *Workflow) replyInGroup(ctx context.Context, msg models.Inbound, text string) {
	if _, err := w.sink.Send(ctx, msg.ChatID, models.Text{Body: text}, transport.SendOptions{ReplyTo: msg.MessageID}); err != nil {
		w.logger.Error("Failed to reply in group", zap.Int("message_id", msg.MessageID), zap.Error(err))
	}
}
