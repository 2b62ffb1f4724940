// Package models содержит доменные структуры бота: пользователей, планы,
// подписки, сообщения и платежи. Структуры используются в бизнес-логике
// и при работе с хранилищем.
package models

import "time"

// Названия планов подписки.
const (
	PlanFree = "free"
	PlanPro  = "pro"
	PlanVip  = "vip"
)

// User представляет пользователя телеграм-бота.
type User struct {
	TelegramID        int64      // Идентификатор пользователя в Telegram
	Username          string     // Имя пользователя (@username), может быть пустым
	FirstName         string     // Имя
	LastName          string     // Фамилия
	SubscriptionLevel *string    // Денормализованная метка тарифа: free/pro/vip, nil = free
	IsAdmin           bool       // Флаг администратора
	IsBanned          bool       // Бессрочный бан
	BannedUntil       *time.Time // Временный бан, действует пока дата в будущем
	InvitedBy         *int64     // Кто пригласил пользователя (реферальная ссылка)
	Referrals         []int64    // Приглашенные пользователи
	MessageLimit      int        // Лимит бесплатных сообщений
	UsedMessages      int        // Сколько бесплатных сообщений израсходовано
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Banned сообщает, заблокирован ли пользователь на момент now.
// Бессрочный бан и временный бан с датой в будущем блокируют одинаково.
func (u *User) Banned(now time.Time) bool {
	if u.IsBanned {
		return true
	}
	return u.BannedUntil != nil && u.BannedUntil.After(now)
}

// Tier возвращает тариф пользователя по денормализованной метке.
// Источником истины остается леджер подписок, метка лишь кэш.
func (u *User) Tier() string {
	if u.SubscriptionLevel == nil || *u.SubscriptionLevel == "" {
		return PlanFree
	}
	return *u.SubscriptionLevel
}
