package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/neuze-bot/internal/models"
)

// CreatePayment сохраняет созданный платеж со статусом pending.
func (s *Storage) CreatePayment(ctx context.Context, p models.Payment) error {
	const op = "storage.CreatePayment"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO payments (id, user_id, plan_id, label, provider, status,
	              amount, currency, description)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.DB.ExecContext(ctx, query,
		p.ID, p.UserID, p.PlanID, p.Label, p.Provider, p.Status,
		p.Amount, p.Currency, p.Description)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetPaymentByLabel возвращает платеж по метке из метаданных вебхука.
func (s *Storage) GetPaymentByLabel(ctx context.Context, label string) (*models.Payment, error) {
	const op = "storage.GetPaymentByLabel"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_id, plan_id, label, provider, status,
	                 amount, currency, description, webhook_received, webhook_data,
	                 created_at, paid_at
	          FROM payments WHERE label = $1`
	var p models.Payment
	var webhookData []byte
	err := s.DB.QueryRowContext(ctx, query, label).Scan(
		&p.ID, &p.UserID, &p.PlanID, &p.Label, &p.Provider, &p.Status,
		&p.Amount, &p.Currency, &p.Description, &p.WebhookReceived, &webhookData,
		&p.CreatedAt, &p.PaidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrPaymentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(webhookData) > 0 {
		if err := json.Unmarshal(webhookData, &p.WebhookData); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return &p, nil
}

// MarkPaymentSucceeded помечает платеж успешным и сохраняет
// данные вебхука, подтвердившего оплату.
func (s *Storage) MarkPaymentSucceeded(ctx context.Context, label string, webhookData map[string]string) error {
	const op = "storage.MarkPaymentSucceeded"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	data, err := json.Marshal(webhookData)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `UPDATE payments
	          SET status = $2, webhook_received = TRUE, webhook_data = $3, paid_at = now()
	          WHERE label = $1`
	if _, err := s.DB.ExecContext(ctx, query, label, models.PaymentStatusSucceeded, data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// MarkPaymentFailed помечает платеж неуспешным или отмененным.
func (s *Storage) MarkPaymentFailed(ctx context.Context, label, status string) error {
	const op = "storage.MarkPaymentFailed"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payments SET status = $2, webhook_received = TRUE WHERE label = $1`
	if _, err := s.DB.ExecContext(ctx, query, label, status); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
