package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-guard/captcha"
)

// handleCallback обрабатывает нажатия inline-кнопок
func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.From == nil {
		return
	}
	if q.Message == nil || q.Message.Chat == nil {
		b.answerCallback(ctx, q, "", false)
		return
	}

	data := q.Data
	switch {
	case strings.HasPrefix(data, captcha.CallbackPrefix):
		b.handleCaptchaCallback(ctx, q)
	case adminMenuTitles[data] != "":
		b.handleAdminMenuCallback(ctx, q)
	default:
		b.logger.Debug("unknown callback", "chat_id", q.Message.Chat.ID, "data", data)
		b.answerCallback(ctx, q, "", false)
	}
}

func (b *Bot) handleCaptchaCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	targetID, value, err := captcha.ParseCallback(q.Data)
	if err != nil {
		b.logger.Warn("malformed captcha callback", "data", q.Data, "error", err)
		text, alert := captcha.OutcomeNotActive.Answer()
		b.answerCallback(ctx, q, text, alert)
		return
	}

	outcome := b.captcha.Resolve(ctx, q.Message.Chat.ID, q.From.ID, targetID, value)
	b.logger.Debug("captcha answered",
		"chat_id", q.Message.Chat.ID,
		"user_id", q.From.ID,
		"target_id", targetID,
		"outcome", outcome.String(),
	)
	text, alert := outcome.Answer()
	b.answerCallback(ctx, q, text, alert)
}

func (b *Bot) handleAdminMenuCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	chatID := q.Message.Chat.ID
	b.answerCallback(ctx, q, "", false)

	if !b.admins.IsAdmin(ctx, chatID, q.From.ID) {
		if _, err := b.client.SendText(ctx, chatID, "You are not an admin to use this functionality.", nil); err != nil {
			b.logger.Warn("failed to send admin menu refusal", "chat_id", chatID, "error", err)
		}
		return
	}

	text := fmt.Sprintf("%s menu (Placeholder).", adminMenuTitles[q.Data])
	if _, err := b.client.SendText(ctx, chatID, text, nil); err != nil {
		b.logger.Warn("failed to send admin menu section", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) answerCallback(ctx context.Context, q *tgbotapi.CallbackQuery, text string, alert bool) {
	if err := b.client.AnswerCallback(ctx, q.ID, text, alert); err != nil {
		b.logger.Warn("failed to answer callback", "callback_id", q.ID, "error", err)
	}
}
