package models

import "time"

// Статусы платежа.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
)

// Провайдеры платежа.
const (
	PaymentProviderYooKassa = "yookassa"
	PaymentProviderAdmin    = "admin"
)

// Payment запись об одной попытке оплаты подписки.
// Label уникален и служит меткой для сопоставления вебхука с платежом,
// обработка по одной метке выполняется не более одного раза.
type Payment struct {
	ID              string // UUID
	UserID          int64
	PlanID          int
	Label           string // Наша метка платежа, уходит в metadata провайдера
	Provider        string
	Status          string
	Amount          float64
	Currency        string
	Description     string
	WebhookReceived bool
	WebhookData     map[string]string
	CreatedAt       time.Time
	PaidAt          *time.Time
}
