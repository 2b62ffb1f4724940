package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-telegram/bot"
	tg "github.com/go-telegram/bot/models"

	"github.com/magabrotheeeer/neuze-bot/internal/lib/sl"
	"github.com/magabrotheeeer/neuze-bot/internal/models"
	"github.com/magabrotheeeer/neuze-bot/internal/services/payment"
	"github.com/magabrotheeeer/neuze-bot/internal/services/turn"
	"github.com/magabrotheeeer/neuze-bot/internal/storage"
)

// Данные callback-кнопок телеграм-слоя.
const (
	CallbackRenew              = "renew_sub"
	callbackCheckPaymentPrefix = "check_payment:"
	callbackAdminPrefix        = "admin:"
)

// onCallback маршрутизирует нажатия inline-кнопок.
func (b *Bot) onCallback(ctx context.Context, _ *bot.Bot, update *tg.Update) {
	cb := update.CallbackQuery
	if cb == nil {
		return
	}

	if _, err := b.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
	}); err != nil {
		b.log.Warn("failed to answer callback", sl.Err(err))
	}

	userID := cb.From.ID
	chatID := userID
	if cb.Message.Message != nil {
		chatID = cb.Message.Message.Chat.ID
	}

	data := cb.Data
	switch {
	case data == turn.CallbackUpgradePro:
		b.sendPaymentLink(ctx, userID, chatID, models.PlanPro)
	case data == turn.CallbackUpgradeVip:
		b.sendPaymentLink(ctx, userID, chatID, models.PlanVip)
	case data == CallbackRenew:
		b.renewSubscription(ctx, userID, chatID)
	case strings.HasPrefix(data, callbackCheckPaymentPrefix):
		b.checkPayment(ctx, chatID, strings.TrimPrefix(data, callbackCheckPaymentPrefix))
	case data == turn.CallbackSkipContext:
		r := newResponder(b.api, chatID)
		if err := b.turns.SkipContext(ctx, userID, r); err != nil {
			b.log.Error("failed to skip context", sl.UserID(userID), sl.Err(err))
		}
	case strings.HasPrefix(data, turn.CallbackModePrefix):
		r := newResponder(b.api, chatID)
		mode := strings.TrimPrefix(data, turn.CallbackModePrefix)
		if err := b.turns.ApplyMode(ctx, userID, mode, r); err != nil {
			b.log.Error("failed to apply mode", sl.UserID(userID), sl.Err(err))
		}
	case strings.HasPrefix(data, callbackAdminPrefix):
		b.handleAdminCallback(ctx, userID, chatID, strings.TrimPrefix(data, callbackAdminPrefix))
	default:
		b.log.Warn("unknown callback", sl.UserID(userID))
	}
}

// sendPaymentLink создает платеж и отправляет ссылку на оплату
// с кнопкой проверки статуса.
func (b *Bot) sendPaymentLink(ctx context.Context, userID, chatID int64, planName string) {
	link, err := b.payments.CreatePaymentLink(ctx, userID, planName)
	if err != nil {
		b.log.Error("failed to create payment link",
			sl.UserID(userID), sl.Err(err))
		b.send(ctx, chatID, textInternalError)
		return
	}

	b.send(ctx, chatID, "Ссылка на оплату готова. После оплаты нажмите кнопку проверки.",
		models.Action{Label: "Оплатить", URL: link.URL},
		models.Action{Label: "Проверить оплату", Data: callbackCheckPaymentPrefix + link.Label},
	)
}

// renewSubscription создает платеж продления на текущий тариф.
func (b *Bot) renewSubscription(ctx context.Context, userID, chatID int64) {
	user, err := b.repo.GetUser(ctx, userID)
	if err != nil {
		b.log.Error("failed to get user", sl.UserID(userID), sl.Err(err))
		b.send(ctx, chatID, textInternalError)
		return
	}
	status, err := b.ledger.StatusFor(ctx, user)
	if err != nil {
		b.log.Error("failed to read subscription status", sl.UserID(userID), sl.Err(err))
		b.send(ctx, chatID, textInternalError)
		return
	}
	if status.Tier == models.PlanFree {
		b.sendPaymentLink(ctx, userID, chatID, models.PlanPro)
		return
	}
	b.sendPaymentLink(ctx, userID, chatID, status.Tier)
}

// checkPayment отвечает на кнопку проверки статуса платежа.
func (b *Bot) checkPayment(ctx context.Context, chatID int64, label string) {
	p, err := b.payments.CheckPayment(ctx, label)
	if errors.Is(err, storage.ErrPaymentNotFound) {
		b.send(ctx, chatID, textPaymentNotFound)
		return
	}
	if err != nil {
		b.log.Error("failed to check payment", sl.Err(err))
		b.send(ctx, chatID, textInternalError)
		return
	}

	if p.Status == models.PaymentStatusSucceeded {
		b.send(ctx, chatID, textPaymentSucceeded)
		return
	}
	b.send(ctx, chatID, textPaymentPending)
}

// NotifyActivated обрабатывает событие активации подписки из очереди
// и уведомляет пользователя. Используется потребителем RabbitMQ.
func (b *Bot) NotifyActivated(body []byte) error {
	var event payment.ActivatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return err
	}
	b.send(context.Background(), event.UserID, textSubActivated)
	return nil
}
