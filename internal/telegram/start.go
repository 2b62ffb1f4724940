package telegram

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	tg "github.com/go-telegram/bot/models"

	"github.com/magabrotheeeer/neuze-bot/internal/lib/sl"
)

// onStart регистрирует пользователя. Аргумент ref_<id> в deep-link
// засчитывает реферала пригласившему и увеличивает его лимит.
func (b *Bot) onStart(ctx context.Context, _ *bot.Bot, update *tg.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	inviterID := parseReferral(msg.Text, msg.From.ID)

	user, created, err := b.ensureUser(ctx, msg.From, inviterID)
	if err != nil {
		b.log.Error("failed to register user", sl.UserID(msg.From.ID), sl.Err(err))
		b.send(ctx, msg.Chat.ID, textInternalError)
		return
	}

	// Бонус начисляется один раз, только за новых пользователей.
	if created && inviterID != nil {
		if err := b.repo.AddReferral(ctx, *inviterID, user.TelegramID); err != nil {
			b.log.Error("failed to add referral",
				sl.UserID(*inviterID), sl.Err(err))
		} else {
			b.send(ctx, *inviterID, textReferralBonus)
		}
	}

	b.send(ctx, msg.Chat.ID, textGreeting)
}

// parseReferral извлекает ID пригласившего из "/start ref_<id>".
// Самоприглашение не засчитывается.
func parseReferral(text string, selfID int64) *int64 {
	parts := strings.Fields(text)
	if len(parts) < 2 || !strings.HasPrefix(parts[1], "ref_") {
		return nil
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(parts[1], "ref_"), 10, 64)
	if err != nil || id == selfID || id <= 0 {
		return nil
	}
	return &id
}
