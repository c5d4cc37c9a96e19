package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"coupure-alert/internal/adapters/push"
	"coupure-alert/internal/adapters/repo"
	"coupure-alert/internal/domain"
	"coupure-alert/internal/infra/cache"
	"coupure-alert/internal/infra/config"
	"coupure-alert/internal/infra/db"
	applog "coupure-alert/internal/infra/log"
	"coupure-alert/internal/infra/metrics"
	"coupure-alert/internal/infra/queue"
	"coupure-alert/internal/usecase/notify"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9091")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("notifier: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var dedupe domain.Cache
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		dedupe = cache.NewRedis(redisClient)
	}

	var jobs domain.NotifyQueue
	switch {
	case cfg.RabbitURL != "":
		rabbit, err := queue.NewRabbitNotifyQueue(cfg.RabbitURL, cfg.Queues.Notify)
		if err != nil {
			logger.Fatal().Err(err).Msg("notifier: не удалось инициализировать очередь RabbitMQ")
		}
		defer rabbit.Close()
		jobs = rabbit
	case redisClient != nil:
		jobs = queue.NewRedisNotifyQueue(redisClient, cfg.Queues.Notify)
	default:
		logger.Fatal().Msg("notifier: не настроена очередь задач (RABBITMQ_URL или REDIS_ADDR)")
	}

	sender := push.NewClient(cfg.Push.GatewayURL, cfg.Push.Timeout)
	notifySvc := notify.NewService(repoAdapter, sender, dedupe,
		logger.With().Str("component", "notify").Logger(), cfg.Push.BatchSize, push.ValidToken)

	logger.Info().Msg("notifier: старт")
	for {
		job, err := jobs.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			logger.Error().Err(err).Msg("notifier: ошибка чтения очереди")
			continue
		}
		if err := notifySvc.DispatchOnce(ctx, job.Report); err != nil {
			logger.Error().Err(err).Str("report", job.Report.ID).Msg("notifier: рассылка не выполнена")
		}
	}
	logger.Info().Msg("notifier: остановка")
}
