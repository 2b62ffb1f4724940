package models

import "time"

// Chat представляет диалог пользователя с ботом, один на пользователя.
type Chat struct {
	ID            int64 // Совпадает с telegram_id пользователя
	UserID        int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastMessageAt *time.Time
}

// Message одна реплика диалога. Записи только добавляются,
// порядок истории определяется created_at.
type Message struct {
	ID         int
	ChatID     int64
	Content    string
	IsFromUser bool // true - сообщение пользователя, false - ответ ассистента
	CreatedAt  time.Time

	// Поля обогащения, зарезервированы на будущее
	Topic      string
	Emotion    string
	Importance int
}
