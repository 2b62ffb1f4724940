package storage

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/neuze-bot/internal/models"
)

// EnsureChat создает чат пользователя, если его еще нет.
// Чат идентифицируется telegram_id пользователя.
func (s *Storage) EnsureChat(ctx context.Context, userID int64) error {
	const op = "storage.EnsureChat"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO chats (id, user_id)
	          VALUES ($1, $1)
	          ON CONFLICT (id) DO NOTHING`
	if _, err := s.DB.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SaveMessage сохраняет реплику диалога и обновляет отметку
// последнего сообщения чата.
func (s *Storage) SaveMessage(ctx context.Context, msg models.Message) (int64, error) {
	const op = "storage.SaveMessage"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO messages (chat_id, content, is_from_user, topic, emotion, importance)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          RETURNING id`
	var id int64
	err := s.DB.QueryRowContext(ctx, query,
		msg.ChatID, msg.Content, msg.IsFromUser, msg.Topic, msg.Emotion, msg.Importance).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	touch := `UPDATE chats SET last_message_at = now(), updated_at = now() WHERE id = $1`
	if _, err := s.DB.ExecContext(ctx, touch, msg.ChatID); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// ListRecentMessages возвращает последние limit сообщений чата
// в хронологическом порядке, от старых к новым.
func (s *Storage) ListRecentMessages(ctx context.Context, chatID int64, limit int) ([]*models.Message, error) {
	const op = "storage.ListRecentMessages"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, chat_id, content, is_from_user, created_at, topic, emotion, importance
	          FROM (
	              SELECT id, chat_id, content, is_from_user, created_at, topic, emotion, importance
	              FROM messages
	              WHERE chat_id = $1
	              ORDER BY created_at DESC, id DESC
	              LIMIT $2
	          ) recent
	          ORDER BY created_at, id`
	rows, err := s.DB.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Content, &m.IsFromUser,
			&m.CreatedAt, &m.Topic, &m.Emotion, &m.Importance); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return messages, nil
}

// CountUserMessages возвращает число сообщений пользователя в чате.
func (s *Storage) CountUserMessages(ctx context.Context, chatID int64) (int, error) {
	const op = "storage.CountUserMessages"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT count(*) FROM messages WHERE chat_id = $1 AND is_from_user`
	var count int
	if err := s.DB.QueryRowContext(ctx, query, chatID).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}
