package telegram

// Тексты телеграм-слоя: приветствие, личный кабинет, сервисные сообщения.
const (
	textGreeting = `Привет! Я ассистент, который отвечает на вопросы.

Команды:
/talk — начать структурированную беседу
/mode — выбрать режим ответов
/cancel — прервать беседу
/end — завершить беседу
/lk — личный кабинет

Или просто напишите вопрос.`

	textRateLimited   = "Слишком много сообщений. Подождите минуту и попробуйте снова."
	textInternalError = "Что-то пошло не так. Попробуйте еще раз чуть позже."

	textReferralBonus = "По вашей ссылке пришел новый пользователь! Лимит бесплатных сообщений увеличен."

	textPaymentPending   = "Платеж еще не подтвержден. Попробуйте проверить через минуту."
	textPaymentSucceeded = "Оплата прошла! Подписка активирована."
	textPaymentNotFound  = "Платеж не найден. Создайте новую ссылку на оплату."
	textSubActivated     = "Подписка активирована. Спасибо за оплату!"
	textSubRevoked       = "Ваша подписка отключена администратором."

	textAdminOnly        = "Команда доступна только администраторам."
	textAdminPanel       = "Панель администратора. Выберите действие:"
	textAdminAskUserID   = "Отправьте Telegram ID пользователя."
	textAdminBadUserID   = "Не удалось разобрать ID. Отправьте число."
	textAdminDone        = "Готово."
	textAdminActionError = "Не удалось выполнить действие."
)
