package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	APIPort     int    `env:"API_PORT,default=8080"`
	MetricsPort int    `env:"METRICS_PORT,default=9090"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	WorkerConcurrency int `env:"WORKER_CONCURRENCY,default=4"`
	RateLimitPerSec   int `env:"RATE_LIMIT_PER_SEC,default=25"`

	RetryMaxAttempts         int     `env:"RETRY_MAX_ATTEMPTS,default=5"`
	RetryBaseDelaySeconds    int     `env:"RETRY_BASE_DELAY_SECONDS,default=60"`
	RetryMultiplier          float64 `env:"RETRY_MULTIPLIER,default=2"`
	RetryMaxJitterSeconds    int     `env:"RETRY_MAX_JITTER_SECONDS,default=10"`
	RetryScanIntervalSeconds int     `env:"RETRY_SCAN_INTERVAL_SECONDS,default=5"`
	RedispatchAfterSeconds   int     `env:"REDISPATCH_AFTER_SECONDS,default=300"`
	StaleJobAfterSeconds     int     `env:"STALE_JOB_AFTER_SECONDS,default=600"`
	ReaperSchedule           string  `env:"REAPER_SCHEDULE,default=@every 1m"`

	// Channel credentials are optional here; a missing value fails the job, not the process.
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`
	AdminEmail   string `env:"ADMIN_EMAIL"`

	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `env:"TELEGRAM_CHAT_ID"`
	TelegramThreadID int64  `env:"TELEGRAM_THREAD_ID,default=0"`
	TelegramAPIURL   string `env:"TELEGRAM_API_URL,default=https://api.telegram.org"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) RetryBaseDelay() time.Duration {
	return seconds(c.RetryBaseDelaySeconds)
}

func (c *Config) RetryMaxJitter() time.Duration {
	return seconds(c.RetryMaxJitterSeconds)
}

func (c *Config) RetryScanInterval() time.Duration {
	return seconds(c.RetryScanIntervalSeconds)
}

func (c *Config) RedispatchAfter() time.Duration {
	return seconds(c.RedispatchAfterSeconds)
}

func (c *Config) StaleJobAfter() time.Duration {
	return seconds(c.StaleJobAfterSeconds)
}

func seconds(n int) time.Duration {
	if n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
