// Package quota реализует проверку бесплатного лимита сообщений
// и определение поводов для предложения подписки.
package quota

import "github.com/magabrotheeeer/neuze-bot/internal/models"

// Trigger повод показать пользователю предложение подписки.
type Trigger string

const (
	// TriggerNone — блокировки нет, сообщение обрабатывается как обычно.
	TriggerNone Trigger = ""
	// TriggerLimitExhausted — бесплатный лимит исчерпан, ответ не генерируется.
	TriggerLimitExhausted Trigger = "limit_exhausted"
	// TriggerLongMessages — длинное сообщение на тарифе pro,
	// ответ генерируется, но показывается предложение vip.
	TriggerLongMessages Trigger = "long_messages"
)

// Порог длины сообщения в символах, после которого тарифу pro
// предлагается vip.
const longMessageThreshold = 500

// Decision результат проверки квоты для входящего сообщения.
type Decision struct {
	Trigger Trigger
	// Blocked означает, что генерировать ответ нельзя.
	Blocked bool
	// Remaining сколько бесплатных сообщений осталось, только для free.
	Remaining int
}

// Evaluate решает, можно ли обработать сообщение длиной msgLen символов
// для пользователя с тарифом tier, израсходовавшего used из limit
// бесплатных сообщений. Лимит применяется только к тарифу free.
func Evaluate(tier string, msgLen, used, limit int) Decision {
	switch tier {
	case models.PlanFree:
		if used >= limit {
			return Decision{Trigger: TriggerLimitExhausted, Blocked: true}
		}
		return Decision{Remaining: limit - used}
	case models.PlanPro:
		if msgLen > longMessageThreshold {
			return Decision{Trigger: TriggerLongMessages}
		}
	}
	return Decision{}
}
