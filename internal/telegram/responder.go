package telegram

import (
	"context"

	"github.com/go-telegram/bot"
	tg "github.com/go-telegram/bot/models"

	"github.com/magabrotheeeer/neuze-bot/internal/models"
)

// responder реализует исходящий канал оркестратора для одного чата.
type responder struct {
	bot    *bot.Bot
	chatID int64
}

func newResponder(b *bot.Bot, chatID int64) *responder {
	return &responder{bot: b, chatID: chatID}
}

func keyboard(actions []models.Action) *tg.InlineKeyboardMarkup {
	if len(actions) == 0 {
		return nil
	}
	row := make([]tg.InlineKeyboardButton, 0, len(actions))
	for _, a := range actions {
		btn := tg.InlineKeyboardButton{Text: a.Label}
		if a.URL != "" {
			btn.URL = a.URL
		} else {
			btn.CallbackData = a.Data
		}
		row = append(row, btn)
	}
	return &tg.InlineKeyboardMarkup{InlineKeyboard: [][]tg.InlineKeyboardButton{row}}
}

// Reply отправляет текст с опциональными кнопками и возвращает
// идентификатор сообщения для последующего редактирования.
func (r *responder) Reply(ctx context.Context, text string, actions ...models.Action) (int, error) {
	params := &bot.SendMessageParams{
		ChatID: r.chatID,
		Text:   text,
	}
	if kb := keyboard(actions); kb != nil {
		params.ReplyMarkup = kb
	}
	msg, err := r.bot.SendMessage(ctx, params)
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

// Edit заменяет текст ранее отправленного сообщения.
func (r *responder) Edit(ctx context.Context, messageID int, text string) error {
	_, err := r.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    r.chatID,
		MessageID: messageID,
		Text:      text,
	})
	return err
}
