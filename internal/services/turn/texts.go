package turn

import "github.com/magabrotheeeer/neuze-bot/internal/models"

// Тексты ответов бота.
const (
	textFallback = "Извините, не удалось обработать ваш запрос."
	textThinking = "Думаю..."

	textAskQuestion    = "Задайте ваш вопрос."
	textNeedContext    = "Вопрос получился коротким. Добавьте, пожалуйста, деталей или пропустите этот шаг."
	textChooseMode     = "Выберите режим ответов:"
	textUseModeButtons = "Пожалуйста, выберите режим кнопками ниже."
	textModeSelected   = "Режим выбран. Задайте ваш вопрос."
	textConfirmed      = "Отлично! Можете задать уточняющий вопрос."
	textRephrase       = "Хорошо, сформулируйте вопрос заново."
	textGoodbye        = "Рад был помочь! Возвращайтесь с новыми вопросами."
	textCancelled      = "Беседа завершена. Напишите /talk, чтобы начать новую."
	textBanned         = "Доступ к боту ограничен."

	textLimitExhausted = "Бесплатные сообщения закончились. Оформите подписку Pro, чтобы продолжить без ограничений."
	textLongMessages   = "Для длинных сообщений лучше подойдет тариф VIP с приоритетной обработкой."
)

// Данные callback-кнопок, телеграм-слой сопоставляет их с обработчиками.
const (
	CallbackUpgradePro  = "upgrade_pro"
	CallbackUpgradeVip  = "upgrade_vip"
	CallbackSkipContext = "skip_context"
	CallbackModePrefix  = "mode:"
)

func upsellProActions() []models.Action {
	return []models.Action{{Label: "Оформить Pro", Data: CallbackUpgradePro}}
}

func upsellVipActions() []models.Action {
	return []models.Action{{Label: "Перейти на VIP", Data: CallbackUpgradeVip}}
}

func skipContextActions() []models.Action {
	return []models.Action{{Label: "Пропустить", Data: CallbackSkipContext}}
}

func modeActions() []models.Action {
	return []models.Action{
		{Label: "Обычный", Data: CallbackModePrefix + "default"},
		{Label: "Краткий", Data: CallbackModePrefix + "brief"},
		{Label: "Подробный", Data: CallbackModePrefix + "detailed"},
	}
}
