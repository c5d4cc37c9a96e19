package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	ReportsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reports_created_total",
		Help: "Количество созданных отчётов об отключениях",
	})
	SubscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "report_subscriptions_active",
		Help: "Текущее число живых подписок на ленту отчётов",
	})
	SubscriptionDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_subscription_deliveries_total",
		Help: "Количество снапшотов, доставленных подписчикам",
	})
	NotifyDispatchSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "notify_dispatch_seconds",
		Help:    "Время полной рассылки по одному отчёту",
		Buckets: prometheus.DefBuckets,
	})
	NotifyRecipients = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "notify_recipients",
		Help:    "Число адресатов одной рассылки",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
	PushBatchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "push_batch_errors_total",
		Help: "Пачки, отклонённые шлюзом целиком",
	})
	PushTicketErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "push_ticket_errors_total",
		Help: "Сообщения, отклонённые шлюзом внутри принятой пачки",
	})
	PushTokensDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "push_tokens_discarded_total",
		Help: "Токены, отброшенные проверкой формата до отправки",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		ReportsCreatedTotal,
		SubscriptionsActive,
		SubscriptionDeliveries,
		NotifyDispatchSeconds,
		NotifyRecipients,
		PushBatchErrors,
		PushTicketErrors,
		PushTokensDiscarded,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}
