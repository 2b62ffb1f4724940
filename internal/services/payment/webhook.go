package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/magabrotheeeer/neuze-bot/internal/lib/sl"
	"github.com/magabrotheeeer/neuze-bot/internal/models"
)

// События вебхука ЮKassa.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentCanceled  = "payment.canceled"
)

// WebhookAmount сумма платежа из тела вебхука.
type WebhookAmount struct {
	Value    string `json:"value" validate:"required"`
	Currency string `json:"currency" validate:"required"`
}

// WebhookObject объект платежа из тела вебхука.
type WebhookObject struct {
	ID       string            `json:"id" validate:"required"`
	Status   string            `json:"status" validate:"required"`
	Amount   WebhookAmount     `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}

// WebhookEvent тело уведомления ЮKassa о смене статуса платежа.
type WebhookEvent struct {
	Event  string        `json:"event" validate:"required"`
	Object WebhookObject `json:"object" validate:"required"`
}

// Label возвращает метку платежа из метаданных.
func (e *WebhookEvent) Label() string {
	return e.Object.Metadata["label"]
}

// ProcessWebhookEvent сверяет уведомление провайдера с реестром
// платежей. Успешная оплата помечает платеж оплаченным, активирует
// подписку и публикует событие для уведомления пользователя.
// Повторное уведомление по уже оплаченному платежу игнорируется.
func (s *Service) ProcessWebhookEvent(ctx context.Context, event WebhookEvent) error {
	const op = "payment.Service.ProcessWebhookEvent"

	label := event.Label()
	if label == "" {
		return fmt.Errorf("%s: webhook event without payment label", op)
	}

	record, err := s.repo.GetPaymentByLabel(ctx, label)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch event.Event {
	case EventPaymentSucceeded:
		if record.Status == models.PaymentStatusSucceeded {
			s.log.Info("duplicate payment webhook, skipping",
				slog.String("label", label),
				slog.String("provider_payment_id", event.Object.ID))
			return nil
		}

		amount, err := strconv.ParseFloat(event.Object.Amount.Value, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid amount %q: %w", op, event.Object.Amount.Value, err)
		}

		webhookData := map[string]string{
			"provider_payment_id": event.Object.ID,
			"status":              event.Object.Status,
			"amount":              event.Object.Amount.Value,
			"currency":            event.Object.Amount.Currency,
		}
		if err := s.repo.MarkPaymentSucceeded(ctx, label, webhookData); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if err := s.ledger.Activate(ctx, record.UserID, record.PlanID, label, amount); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		s.log.Info("payment succeeded, subscription activated",
			sl.UserID(record.UserID),
			slog.String("label", label))

		if s.publisher != nil {
			activated := ActivatedEvent{
				UserID: record.UserID,
				Amount: amount,
				Label:  label,
			}
			if err := s.publisher.PublishActivated(activated); err != nil {
				// Уведомление пользователя вторично, оплата уже проведена.
				s.log.Error("failed to publish activation event",
					sl.UserID(record.UserID), sl.Err(err))
			}
		}
		return nil

	case EventPaymentCanceled:
		if err := s.repo.MarkPaymentFailed(ctx, label, models.PaymentStatusCancelled); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		s.log.Info("payment cancelled",
			sl.UserID(record.UserID),
			slog.String("label", label))
		return nil

	default:
		s.log.Warn("unsupported webhook event", slog.String("event", event.Event))
		return nil
	}
}
