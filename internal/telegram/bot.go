// Package telegram связывает Telegram-транспорт с оркестратором диалога:
// команды, callback-кнопки, регистрация пользователей и уведомления
// об активации подписок.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	tg "github.com/go-telegram/bot/models"

	"github.com/magabrotheeeer/neuze-bot/internal/cache"
	"github.com/magabrotheeeer/neuze-bot/internal/config"
	"github.com/magabrotheeeer/neuze-bot/internal/lib/sl"
	"github.com/magabrotheeeer/neuze-bot/internal/models"
	"github.com/magabrotheeeer/neuze-bot/internal/services/payment"
	"github.com/magabrotheeeer/neuze-bot/internal/services/subscription"
	"github.com/magabrotheeeer/neuze-bot/internal/services/turn"
	"github.com/magabrotheeeer/neuze-bot/internal/storage"
)

// Bot телеграм-слой приложения.
type Bot struct {
	api        *bot.Bot
	username   string
	log        *slog.Logger
	turns      *turn.Service
	repo       *storage.Storage
	cache      *cache.Cache
	payments   *payment.Service
	ledger     *subscription.Ledger
	freeLimit  int
	ratePerMin int
}

// New создает телеграм-бота и регистрирует обработчики.
func New(cfg *config.Config, log *slog.Logger, turns *turn.Service, repo *storage.Storage,
	c *cache.Cache, payments *payment.Service, ledger *subscription.Ledger) (*Bot, error) {
	const op = "telegram.New"

	b := &Bot{
		log:        log,
		turns:      turns,
		repo:       repo,
		cache:      c,
		payments:   payments,
		ledger:     ledger,
		freeLimit:  cfg.Assistant.FreeMessageLimit,
		ratePerMin: cfg.Assistant.RateLimitPerMin,
	}

	api, err := bot.New(cfg.TelegramBotToken,
		bot.WithDefaultHandler(b.onUpdate),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	b.api = api

	api.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, b.onStart)
	api.RegisterHandler(bot.HandlerTypeMessageText, "/talk", bot.MatchTypeExact, b.onTalk)
	api.RegisterHandler(bot.HandlerTypeMessageText, "/mode", bot.MatchTypeExact, b.onMode)
	api.RegisterHandler(bot.HandlerTypeMessageText, "/cancel", bot.MatchTypeExact, b.onCancel)
	api.RegisterHandler(bot.HandlerTypeMessageText, "/end", bot.MatchTypeExact, b.onEnd)
	api.RegisterHandler(bot.HandlerTypeMessageText, "/lk", bot.MatchTypeExact, b.onAccount)
	api.RegisterHandler(bot.HandlerTypeMessageText, "/admin", bot.MatchTypeExact, b.onAdmin)
	api.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, b.onCallback)

	return b, nil
}

// Start запускает long polling и блокируется до отмены контекста.
func (b *Bot) Start(ctx context.Context) error {
	me, err := b.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram.Start: %w", err)
	}
	b.username = me.Username
	b.log.Info("telegram bot started", slog.String("username", me.Username))

	b.api.Start(ctx)
	return nil
}

// ensureUser регистрирует пользователя, если он пишет боту впервые.
// Возвращает пользователя и признак первой регистрации.
func (b *Bot) ensureUser(ctx context.Context, from *tg.User, invitedBy *int64) (*models.User, bool, error) {
	user, created, err := b.repo.CreateUser(ctx, models.User{
		TelegramID:   from.ID,
		Username:     from.Username,
		FirstName:    from.FirstName,
		LastName:     from.LastName,
		InvitedBy:    invitedBy,
		MessageLimit: b.freeLimit,
	})
	if err != nil {
		return nil, false, err
	}
	return user, created, nil
}

func (b *Bot) send(ctx context.Context, chatID int64, text string, actions ...models.Action) {
	if _, err := newResponder(b.api, chatID).Reply(ctx, text, actions...); err != nil {
		b.log.Error("failed to send message", slog.Int64("chat_id", chatID), sl.Err(err))
	}
}
