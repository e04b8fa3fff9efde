package app

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/candleshop/internal/notify"
)

// Поддерживаемые движки хранения.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config описывает настройки запуска приложения. Значения читаются из
// окружения, .env подхватывается при наличии.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	Storage     string
	PostgresDSN string

	JWTSecret string

	RazorpayKeyID     string
	RazorpayKeySecret string

	SMTP notify.SMTPConfig

	KafkaBrokers string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
}

// DefaultConfig возвращает конфигурацию для локального запуска в памяти.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:           ":8080",
		MetricsAddr:        ":9090",
		Storage:            StorageMemory,
		JWTSecret:          "dev-secret",
		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
	}
}

// LoadConfig собирает конфигурацию из переменных окружения поверх дефолтов.
func LoadConfig() Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.Storage = getEnv("STORAGE", cfg.Storage)
	cfg.PostgresDSN = getEnv("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.RazorpayKeyID = getEnv("RAZORPAY_KEY_ID", cfg.RazorpayKeyID)
	cfg.RazorpayKeySecret = getEnv("RAZORPAY_KEY_SECRET", cfg.RazorpayKeySecret)
	cfg.KafkaBrokers = getEnv("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.OutboxPollInterval = getEnvDuration("OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = getEnvInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)

	cfg.SMTP = notify.SMTPConfig{
		Host:     getEnv("SMTP_HOST", ""),
		Port:     getEnvInt("SMTP_PORT", 587),
		Username: getEnv("SMTP_USERNAME", ""),
		Password: getEnv("SMTP_PASSWORD", ""),
		From:     getEnv("SMTP_FROM", ""),
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
