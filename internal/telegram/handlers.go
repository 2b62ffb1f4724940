package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	tg "github.com/go-telegram/bot/models"

	"github.com/magabrotheeeer/neuze-bot/internal/lib/sl"
	"github.com/magabrotheeeer/neuze-bot/internal/services/turn"
)

// onUpdate обрабатывает обычный текст вне команд: это основной
// диалоговый путь бота.
func (b *Bot) onUpdate(ctx context.Context, _ *bot.Bot, update *tg.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	msg := update.Message
	if msg.From == nil || msg.From.IsBot {
		return
	}

	if !b.allowMessage(msg.From.ID) {
		b.send(ctx, msg.Chat.ID, textRateLimited)
		return
	}

	user, _, err := b.ensureUser(ctx, msg.From, nil)
	if err != nil {
		b.log.Error("failed to ensure user", sl.UserID(msg.From.ID), sl.Err(err))
		b.send(ctx, msg.Chat.ID, textInternalError)
		return
	}

	// Ожидающее действие администратора перехватывает следующий текст.
	if user.IsAdmin {
		if handled := b.handleAdminInput(ctx, user.TelegramID, msg.Chat.ID, msg.Text); handled {
			return
		}
	}

	r := newResponder(b.api, msg.Chat.ID)
	in := turn.Incoming{UserID: msg.From.ID, Text: msg.Text}
	if err := b.turns.HandleText(ctx, in, r); err != nil {
		b.log.Error("failed to handle text", sl.UserID(msg.From.ID), sl.Err(err))
		b.send(ctx, msg.Chat.ID, textInternalError)
	}
}

// allowMessage проверяет лимит частоты сообщений пользователя
// скользящим счетчиком в redis.
func (b *Bot) allowMessage(userID int64) bool {
	if b.ratePerMin <= 0 {
		return true
	}
	key := fmt.Sprintf("rate:user:%d", userID)
	count, err := b.cache.IncrWithTTL(key, time.Minute)
	if err != nil {
		// При недоступном redis не блокируем пользователей.
		b.log.Warn("rate limit check failed", sl.UserID(userID), sl.Err(err))
		return true
	}
	return count <= int64(b.ratePerMin)
}

func (b *Bot) onTalk(ctx context.Context, _ *bot.Bot, update *tg.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if _, _, err := b.ensureUser(ctx, msg.From, nil); err != nil {
		b.log.Error("failed to ensure user", sl.UserID(msg.From.ID), sl.Err(err))
		return
	}
	r := newResponder(b.api, msg.Chat.ID)
	if err := b.turns.StartConversation(ctx, msg.From.ID, r); err != nil {
		b.log.Error("failed to start conversation", sl.UserID(msg.From.ID), sl.Err(err))
	}
}

func (b *Bot) onMode(ctx context.Context, _ *bot.Bot, update *tg.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	r := newResponder(b.api, msg.Chat.ID)
	if err := b.turns.SelectMode(ctx, msg.From.ID, r); err != nil {
		b.log.Error("failed to open mode selection", sl.UserID(msg.From.ID), sl.Err(err))
	}
}

func (b *Bot) onCancel(ctx context.Context, _ *bot.Bot, update *tg.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	r := newResponder(b.api, msg.Chat.ID)
	if err := b.turns.Cancel(ctx, msg.From.ID, r); err != nil {
		b.log.Error("failed to cancel conversation", sl.UserID(msg.From.ID), sl.Err(err))
	}
}

func (b *Bot) onEnd(ctx context.Context, _ *bot.Bot, update *tg.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	r := newResponder(b.api, msg.Chat.ID)
	if err := b.turns.EndConversation(ctx, msg.From.ID, r); err != nil {
		b.log.Error("failed to end conversation", sl.UserID(msg.From.ID), sl.Err(err))
	}
}
