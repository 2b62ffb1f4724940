// Package neuzebot предоставляет маршруты HTTP-сервера вебхуков.
package neuzebot

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/magabrotheeeer/neuze-bot/internal/http/handlers/health"
	"github.com/magabrotheeeer/neuze-bot/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/neuze-bot/internal/http/middlewarectx"
	paymentservice "github.com/magabrotheeeer/neuze-bot/internal/services/payment"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, paymentService *paymentservice.Service, webhookSecret string) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Group(func(r chi.Router) {
		r.Use(middlewarectx.RateLimitMiddleware(logger))
		r.Post("/webhooks/yookassa", paymentwebhook.New(logger, paymentService, webhookSecret).ServeHTTP)
	})

	r.Get("/health", health.New(logger).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
}
