package models

import "time"

// Plan описывает тарифный план подписки. Фактически справочные данные.
type Plan struct {
	ID           int
	Name         string // free, pro или vip
	Description  string
	Price        float64 // Цена в рублях
	DurationDays int     // Длительность подписки в днях
	IsActive     bool
}

// Subscription представляет оплаченный период подписки пользователя.
// Инвариант: у пользователя не более одной активной неистекшей подписки.
type Subscription struct {
	ID            int
	UserID        int64
	PlanID        int
	PlanName      string // Заполняется join-ом при чтении
	StartDate     time.Time
	EndDate       time.Time
	IsActive      bool
	PaymentID     string // Метка платежа в платежной системе
	PaymentAmount float64
}

// Expired сообщает, истекла ли подписка на момент now.
func (s *Subscription) Expired(now time.Time) bool {
	return s.EndDate.Before(now)
}
