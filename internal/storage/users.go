package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/neuze-bot/internal/models"
)

// Бонус к лимиту сообщений за приглашенного пользователя.
const referralBonus = 5

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var referrals []byte
	err := row.Scan(&u.TelegramID, &u.Username, &u.FirstName, &u.LastName,
		&u.SubscriptionLevel, &u.IsAdmin, &u.IsBanned, &u.BannedUntil,
		&u.InvitedBy, &referrals, &u.MessageLimit, &u.UsedMessages,
		&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(referrals) > 0 {
		if err := json.Unmarshal(referrals, &u.Referrals); err != nil {
			return nil, err
		}
	}
	return &u, nil
}

const userColumns = `telegram_id, username, first_name, last_name,
	subscription_level, is_admin, is_banned, banned_until,
	invited_by, referrals, message_limit, used_messages, created_at, updated_at`

// GetUser возвращает пользователя по telegram_id.
func (s *Storage) GetUser(ctx context.Context, telegramID int64) (*models.User, error) {
	const op = "storage.GetUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`
	user, err := scanUser(s.DB.QueryRowContext(ctx, query, telegramID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// CreateUser вставляет нового пользователя и возвращает его.
// Если пользователь уже существует, запись не меняется и created = false.
func (s *Storage) CreateUser(ctx context.Context, u models.User) (*models.User, bool, error) {
	const op = "storage.CreateUser"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	referrals, err := json.Marshal(u.Referrals)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if len(u.Referrals) == 0 {
		referrals = []byte("[]")
	}

	query := `INSERT INTO users (telegram_id, username, first_name, last_name,
	              subscription_level, is_admin, is_banned, banned_until,
	              invited_by, referrals, message_limit, used_messages)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	          ON CONFLICT (telegram_id) DO NOTHING`
	result, err := s.DB.ExecContext(ctx, query,
		u.TelegramID, u.Username, u.FirstName, u.LastName,
		u.SubscriptionLevel, u.IsAdmin, u.IsBanned, u.BannedUntil,
		u.InvitedBy, referrals, u.MessageLimit, u.UsedMessages)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.GetUser(ctx, u.TelegramID)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return user, rowsAffected > 0, nil
}

// AddReferral дописывает приглашенного в список рефералов пригласившего
// и начисляет бонус к лимиту сообщений. Повторное приглашение того же
// пользователя бонуса не дает.
func (s *Storage) AddReferral(ctx context.Context, inviterID, invitedID int64) error {
	const op = "storage.AddReferral"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
	          SET referrals = referrals || to_jsonb($2::bigint),
	              message_limit = message_limit + $3,
	              updated_at = now()
	          WHERE telegram_id = $1
	            AND NOT referrals @> to_jsonb($2::bigint)`
	if _, err := s.DB.ExecContext(ctx, query, inviterID, invitedID, referralBonus); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdateSubscriptionLevel обновляет денормализованную метку тарифа.
func (s *Storage) UpdateSubscriptionLevel(ctx context.Context, telegramID int64, level *string) error {
	const op = "storage.UpdateSubscriptionLevel"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET subscription_level = $2, updated_at = now() WHERE telegram_id = $1`
	if _, err := s.DB.ExecContext(ctx, query, telegramID, level); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// IncrementUsedMessages увеличивает счетчик бесплатных сообщений на единицу.
func (s *Storage) IncrementUsedMessages(ctx context.Context, telegramID int64) error {
	const op = "storage.IncrementUsedMessages"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET used_messages = used_messages + 1, updated_at = now()
	          WHERE telegram_id = $1`
	if _, err := s.DB.ExecContext(ctx, query, telegramID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetBan выставляет флаги бана пользователя.
func (s *Storage) SetBan(ctx context.Context, telegramID int64, banned bool, until *time.Time) error {
	const op = "storage.SetBan"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET is_banned = $2, banned_until = $3, updated_at = now()
	          WHERE telegram_id = $1`
	if _, err := s.DB.ExecContext(ctx, query, telegramID, banned, until); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetAdmin выставляет или снимает флаг администратора.
func (s *Storage) SetAdmin(ctx context.Context, telegramID int64, isAdmin bool) error {
	const op = "storage.SetAdmin"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET is_admin = $2, updated_at = now() WHERE telegram_id = $1`
	if _, err := s.DB.ExecContext(ctx, query, telegramID, isAdmin); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
