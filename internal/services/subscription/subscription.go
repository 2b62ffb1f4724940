// Package subscription реализует леджер подписок: активацию по оплате,
// продление, смену плана и определение действующего тарифа пользователя.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/neuze-bot/internal/lib/sl"
	"github.com/magabrotheeeer/neuze-bot/internal/models"
	"github.com/magabrotheeeer/neuze-bot/internal/storage"
)

// ErrNothingToDeactivate возвращается при попытке отключить подписку
// пользователю без активных подписок.
var ErrNothingToDeactivate = errors.New("no active subscription to deactivate")

// Repository определяет методы хранилища, необходимые леджеру подписок.
type Repository interface {
	GetUser(ctx context.Context, telegramID int64) (*models.User, error)
	GetPlan(ctx context.Context, planID int) (*models.Plan, error)
	GetPlanByName(ctx context.Context, name string) (*models.Plan, error)
	FindActiveSubscription(ctx context.Context, userID int64) (*models.Subscription, error)
	SubscriptionExistsByPaymentID(ctx context.Context, paymentID string) (bool, error)
	DeactivateActiveSubscriptions(ctx context.Context, userID int64) (int64, error)
	DeactivateSubscriptionByPlan(ctx context.Context, userID int64, planName string) (int64, error)
	CreateSubscription(ctx context.Context, sub models.Subscription) (int64, error)
	ExtendSubscription(ctx context.Context, subscriptionID int64, newEndDate time.Time, paymentID string, amount float64) error
	UpdateSubscriptionLevel(ctx context.Context, telegramID int64, level *string) error
}

// Ledger бизнес-логика леджера подписок.
type Ledger struct {
	repo Repository
	log  *slog.Logger
}

// NewLedger создает леджер подписок.
func NewLedger(repo Repository, log *slog.Logger) *Ledger {
	return &Ledger{repo: repo, log: log}
}

// Status действующий тариф пользователя и остаток бесплатных сообщений.
type Status struct {
	Tier         string
	MessageLimit int
	UsedMessages int
	// EndDate срок действия платной подписки, nil для free.
	EndDate *time.Time
}

// Activate активирует подписку по подтвержденному платежу. Операция
// идемпотентна по paymentRef: повторная активация по тому же платежу
// не выполняется. Оплата того же плана продлевает действующую подписку
// от ее даты окончания, оплата другого плана закрывает старые подписки
// и открывает новую от текущего момента.
func (l *Ledger) Activate(ctx context.Context, userID int64, planID int, paymentRef string, amount float64) error {
	const op = "subscription.Ledger.Activate"

	exists, err := l.repo.SubscriptionExistsByPaymentID(ctx, paymentRef)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if exists {
		l.log.Info("subscription already activated for payment, skipping",
			sl.UserID(userID), slog.String("payment_ref", paymentRef))
		return nil
	}

	plan, err := l.repo.GetPlan(ctx, planID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now()

	current, err := l.repo.FindActiveSubscription(ctx, userID)
	switch {
	case err == nil && current.PlanID == planID && !current.Expired(now):
		// Тот же план: продлеваем от конца текущего периода.
		newEnd := current.EndDate.AddDate(0, 0, plan.DurationDays)
		if err := l.repo.ExtendSubscription(ctx, int64(current.ID), newEnd, paymentRef, amount); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		l.log.Info("subscription extended",
			sl.UserID(userID),
			slog.String("plan", plan.Name),
			slog.Time("end_date", newEnd))
	case err == nil || errors.Is(err, storage.ErrSubscriptionNotFound):
		// Другой план или подписки нет: закрываем старые, открываем новую.
		if _, err := l.repo.DeactivateActiveSubscriptions(ctx, userID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		sub := models.Subscription{
			UserID:        userID,
			PlanID:        planID,
			StartDate:     now,
			EndDate:       now.AddDate(0, 0, plan.DurationDays),
			IsActive:      true,
			PaymentID:     paymentRef,
			PaymentAmount: amount,
		}
		if _, err := l.repo.CreateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		l.log.Info("subscription activated",
			sl.UserID(userID),
			slog.String("plan", plan.Name),
			slog.Time("end_date", sub.EndDate))
	default:
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := l.repo.UpdateSubscriptionLevel(ctx, userID, &plan.Name); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Deactivate досрочно отключает действующую подписку на указанный план
// и возвращает пользователя на free. Если подписки на этот план нет или
// она уже истекла, возвращается ErrNothingToDeactivate.
func (l *Ledger) Deactivate(ctx context.Context, userID int64, planName string) error {
	const op = "subscription.Ledger.Deactivate"

	count, err := l.repo.DeactivateSubscriptionByPlan(ctx, userID, planName)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if count == 0 {
		return fmt.Errorf("%s: %w", op, ErrNothingToDeactivate)
	}

	if err := l.repo.UpdateSubscriptionLevel(ctx, userID, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	l.log.Info("subscription deactivated", sl.UserID(userID), slog.String("plan", planName))
	return nil
}

// StatusFor возвращает действующий тариф пользователя, сверяя
// денормализованную метку с леджером. Истекшая подписка закрывается,
// расхождение метки с леджером исправляется по пути.
func (l *Ledger) StatusFor(ctx context.Context, user *models.User) (Status, error) {
	const op = "subscription.Ledger.StatusFor"

	status := Status{
		Tier:         models.PlanFree,
		MessageLimit: user.MessageLimit,
		UsedMessages: user.UsedMessages,
	}

	now := time.Now()

	sub, err := l.repo.FindActiveSubscription(ctx, user.TelegramID)
	if errors.Is(err, storage.ErrSubscriptionNotFound) {
		// Подписки нет, тариф free. Чиним метку, если она осталась платной.
		if user.SubscriptionLevel != nil && *user.SubscriptionLevel != models.PlanFree {
			if err := l.repo.UpdateSubscriptionLevel(ctx, user.TelegramID, nil); err != nil {
				return status, fmt.Errorf("%s: %w", op, err)
			}
			l.log.Info("repaired stale subscription level", sl.UserID(user.TelegramID))
		}
		return status, nil
	}
	if err != nil {
		return status, fmt.Errorf("%s: %w", op, err)
	}

	if sub.Expired(now) {
		if _, err := l.repo.DeactivateActiveSubscriptions(ctx, user.TelegramID); err != nil {
			return status, fmt.Errorf("%s: %w", op, err)
		}
		if err := l.repo.UpdateSubscriptionLevel(ctx, user.TelegramID, nil); err != nil {
			return status, fmt.Errorf("%s: %w", op, err)
		}
		l.log.Info("expired subscription closed", sl.UserID(user.TelegramID),
			slog.String("plan", sub.PlanName))
		return status, nil
	}

	status.Tier = sub.PlanName
	status.EndDate = &sub.EndDate

	if user.SubscriptionLevel == nil || *user.SubscriptionLevel != sub.PlanName {
		if err := l.repo.UpdateSubscriptionLevel(ctx, user.TelegramID, &sub.PlanName); err != nil {
			return status, fmt.Errorf("%s: %w", op, err)
		}
		l.log.Info("repaired stale subscription level", sl.UserID(user.TelegramID),
			slog.String("plan", sub.PlanName))
	}
	return status, nil
}
