package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/neuze-bot/internal/models"
)

// FindActiveSubscription возвращает активную подписку пользователя
// вместе с именем плана. Если активной подписки нет, возвращается
// ErrSubscriptionNotFound.
func (s *Storage) FindActiveSubscription(ctx context.Context, userID int64) (*models.Subscription, error) {
	const op = "storage.FindActiveSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT s.id, s.user_id, s.plan_id, p.name, s.start_date, s.end_date,
	                 s.is_active, s.payment_id, s.payment_amount
	          FROM subscriptions s
	          JOIN subscription_plans p ON p.id = s.plan_id
	          WHERE s.user_id = $1 AND s.is_active
	          ORDER BY s.end_date DESC
	          LIMIT 1`
	var sub models.Subscription
	err := s.DB.QueryRowContext(ctx, query, userID).Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &sub.PlanName, &sub.StartDate, &sub.EndDate,
		&sub.IsActive, &sub.PaymentID, &sub.PaymentAmount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrSubscriptionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &sub, nil
}

// SubscriptionExistsByPaymentID проверяет, была ли уже активирована
// подписка по этому платежу. Используется для идемпотентности вебхука.
func (s *Storage) SubscriptionExistsByPaymentID(ctx context.Context, paymentID string) (bool, error) {
	const op = "storage.SubscriptionExistsByPaymentID"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE payment_id = $1)`
	var exists bool
	if err := s.DB.QueryRowContext(ctx, query, paymentID).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

// DeactivateActiveSubscriptions снимает флаг активности со всех
// активных подписок пользователя и возвращает их число.
func (s *Storage) DeactivateActiveSubscriptions(ctx context.Context, userID int64) (int64, error) {
	const op = "storage.DeactivateActiveSubscriptions"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions SET is_active = FALSE WHERE user_id = $1 AND is_active`
	result, err := s.DB.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// DeactivateSubscriptionByPlan снимает флаг активности с действующей
// неистекшей подписки пользователя на указанный план. Возвращает число
// затронутых записей.
func (s *Storage) DeactivateSubscriptionByPlan(ctx context.Context, userID int64, planName string) (int64, error) {
	const op = "storage.DeactivateSubscriptionByPlan"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions s
	          SET is_active = FALSE
	          FROM subscription_plans p
	          WHERE s.plan_id = p.id
	            AND s.user_id = $1 AND p.name = $2
	            AND s.is_active AND s.end_date > now()`
	result, err := s.DB.ExecContext(ctx, query, userID, planName)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// CreateSubscription создает запись подписки и возвращает ее идентификатор.
func (s *Storage) CreateSubscription(ctx context.Context, sub models.Subscription) (int64, error) {
	const op = "storage.CreateSubscription"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO subscriptions (user_id, plan_id, start_date, end_date,
	              is_active, payment_id, payment_amount)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          RETURNING id`
	var id int64
	err := s.DB.QueryRowContext(ctx, query,
		sub.UserID, sub.PlanID, sub.StartDate, sub.EndDate,
		sub.IsActive, sub.PaymentID, sub.PaymentAmount).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// ExtendSubscription продлевает срок действия подписки до новой даты.
func (s *Storage) ExtendSubscription(ctx context.Context, subscriptionID int64, newEndDate time.Time, paymentID string, amount float64) error {
	const op = "storage.ExtendSubscription"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
	          SET end_date = $2, payment_id = $3, payment_amount = $4
	          WHERE id = $1`
	if _, err := s.DB.ExecContext(ctx, query, subscriptionID, newEndDate, paymentID, amount); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
