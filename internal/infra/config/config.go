package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов. Загружается один раз при старте
// процесса и дальше не меняется.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Auth struct {
		JWTSecret string `envconfig:"AUTH_JWT_SECRET"`
	} `envconfig:""`

	Push struct {
		GatewayURL string        `envconfig:"PUSH_GATEWAY_URL" default:"https://exp.host/--/api/v2/push/send"`
		BatchSize  int           `envconfig:"PUSH_BATCH_SIZE" default:"100"`
		Timeout    time.Duration `envconfig:"PUSH_TIMEOUT" default:"10s"`
	} `envconfig:""`

	Limits struct {
		QueryDefault int `envconfig:"QUERY_LIMIT_DEFAULT" default:"50"`
		QueryMax     int `envconfig:"QUERY_LIMIT_MAX" default:"200"`
	} `envconfig:""`

	Queues struct {
		Notify string `envconfig:"NOTIFY_QUEUE_KEY" default:"notify_jobs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
