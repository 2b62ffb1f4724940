// Package neuzebot собирает приложение бота: хранилище, кэш, брокер,
// телеграм-слой и HTTP-сервер вебхуков.
package neuzebot

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/neuze-bot/internal/cache"
	"github.com/magabrotheeeer/neuze-bot/internal/config"
	"github.com/magabrotheeeer/neuze-bot/internal/fsm"
	"github.com/magabrotheeeer/neuze-bot/internal/generator"
	"github.com/magabrotheeeer/neuze-bot/internal/migrations"
	"github.com/magabrotheeeer/neuze-bot/internal/paymentprovider"
	"github.com/magabrotheeeer/neuze-bot/internal/rabbitmq"
	paymentservice "github.com/magabrotheeeer/neuze-bot/internal/services/payment"
	subservice "github.com/magabrotheeeer/neuze-bot/internal/services/subscription"
	"github.com/magabrotheeeer/neuze-bot/internal/services/turn"
	"github.com/magabrotheeeer/neuze-bot/internal/storage"
	"github.com/magabrotheeeer/neuze-bot/internal/telegram"
)

// App приложение бота: HTTP-сервер вебхуков и телеграм long polling.
type App struct {
	server *http.Server
	bot    *telegram.Bot
	logger *slog.Logger
	db     *storage.Storage
	amqp   *amqp.Connection
	ch     *amqp.Channel
}

// publisher адаптер канала RabbitMQ к интерфейсу платежного сервиса.
type publisher struct {
	ch *amqp.Channel
}

func (p *publisher) PublishActivated(event paymentservice.ActivatedEvent) error {
	return rabbitmq.PublishMessage(p.ch, rabbitmq.PaymentsExchange, rabbitmq.SubscriptionRoutingKey, event)
}

// New собирает все компоненты приложения.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := storage.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = storage.CheckDatabaseReady(db); err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.AddressRabbitMQ, cfg.RabbitMQ.ConnectRetries, cfg.RabbitMQ.ConnectDelay)
	if err != nil {
		return nil, err
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetPaymentQueues())
	if err != nil {
		return nil, err
	}

	gen, err := generator.New(ctx, cfg.Assistant.GeminiAPIKey, cfg.Assistant.GeminiModel)
	if err != nil {
		return nil, err
	}

	states := fsm.NewStore(cacheRedis, logger)
	ledger := subservice.NewLedger(db, logger)
	turns := turn.New(db, ledger, gen, states, cfg.Assistant.HistoryDepth, logger)

	providerClient := paymentprovider.NewClient(cfg.YooKassa.ShopID, cfg.YooKassa.SecretKey)
	payments := paymentservice.New(db, ledger, providerClient, &publisher{ch: ch}, cfg.YooKassa.ReturnURL, logger)

	tgBot, err := telegram.New(cfg, logger, turns, db, cacheRedis, payments, ledger)
	if err != nil {
		return nil, err
	}

	// Уведомления об активации подписок доставляются через очередь.
	if err := rabbitmq.ConsumeMessages(ctx, ch, rabbitmq.SubscriptionQueue, tgBot.NotifyActivated); err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, payments, cfg.YooKassa.WebhookSecret)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.TimeoutHTTP,
		WriteTimeout: cfg.HTTPServer.TimeoutHTTP,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	return &App{
		server: srv,
		bot:    tgBot,
		logger: logger,
		db:     db,
		amqp:   conn,
		ch:     ch,
	}, nil
}

// Run запускает HTTP-сервер и телеграм-бота, блокируется до отмены
// контекста или фатальной ошибки одного из компонентов.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	go func() {
		// Start блокируется до отмены контекста, штатная остановка
		// ошибкой не считается.
		if err := a.bot.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down gracefully")
		err := a.server.Shutdown(timeoutCtx)
		_ = a.ch.Close()
		_ = a.amqp.Close()
		_ = a.db.DB.Close()
		return err
	}
}
