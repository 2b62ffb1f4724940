// Package metrics содержит счетчики Prometheus, доступные на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsProcessed количество обработанных ходов диалога.
	TurnsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neuzebot_turns_processed_total",
		Help: "Processed conversation turns by outcome.",
	}, []string{"outcome"})

	// WebhookEvents количество принятых вебхуков ЮKassa.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neuzebot_webhook_events_total",
		Help: "Received payment webhook events by type.",
	}, []string{"event"})
)
