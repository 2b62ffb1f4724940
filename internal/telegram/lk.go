package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	tg "github.com/go-telegram/bot/models"

	"github.com/magabrotheeeer/neuze-bot/internal/lib/sl"
	"github.com/magabrotheeeer/neuze-bot/internal/models"
	"github.com/magabrotheeeer/neuze-bot/internal/services/turn"
)

// onAccount показывает личный кабинет: тариф, остаток сообщений,
// срок подписки и реферальную ссылку.
func (b *Bot) onAccount(ctx context.Context, _ *bot.Bot, update *tg.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	user, _, err := b.ensureUser(ctx, msg.From, nil)
	if err != nil {
		b.log.Error("failed to ensure user", sl.UserID(msg.From.ID), sl.Err(err))
		b.send(ctx, msg.Chat.ID, textInternalError)
		return
	}

	status, err := b.ledger.StatusFor(ctx, user)
	if err != nil {
		b.log.Error("failed to read subscription status", sl.UserID(msg.From.ID), sl.Err(err))
		b.send(ctx, msg.Chat.ID, textInternalError)
		return
	}

	var sb strings.Builder
	sb.WriteString("Личный кабинет\n\n")
	fmt.Fprintf(&sb, "Тариф: %s\n", strings.ToUpper(status.Tier))
	if status.Tier == models.PlanFree {
		fmt.Fprintf(&sb, "Сообщения: %d из %d\n", status.UsedMessages, status.MessageLimit)
	}
	if status.EndDate != nil {
		fmt.Fprintf(&sb, "Подписка до: %s\n", status.EndDate.Format("02.01.2006"))
	}
	fmt.Fprintf(&sb, "\nРеферальная ссылка:\nhttps://t.me/%s?start=ref_%d", b.username, user.TelegramID)

	actions := accountActions(status.Tier)
	b.send(ctx, msg.Chat.ID, sb.String(), actions...)
}

func accountActions(tier string) []models.Action {
	switch tier {
	case models.PlanFree:
		return []models.Action{
			{Label: "Оформить Pro", Data: turn.CallbackUpgradePro},
			{Label: "Оформить VIP", Data: turn.CallbackUpgradeVip},
		}
	case models.PlanPro:
		return []models.Action{
			{Label: "Продлить Pro", Data: CallbackRenew},
			{Label: "Перейти на VIP", Data: turn.CallbackUpgradeVip},
		}
	default:
		return []models.Action{
			{Label: "Продлить VIP", Data: CallbackRenew},
		}
	}
}
