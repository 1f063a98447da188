package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds the infrastructure configuration loaded from environment
// variables. Strategy thresholds live in the YAML strategy document, not here.
type Config struct {
	// Angel One credentials (required only in live mode)
	AngelAPIKey     string
	AngelClientCode string
	AngelPassword   string
	AngelTOTPSecret string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string

	// Strategy document
	StrategyPath string

	// Monitor cadence
	MonitorPeriod  time.Duration
	WatchdogPeriod time.Duration

	// Paper trading: no broker session, sim gateway fills at cached prices.
	PaperMode bool

	// Notification backends (empty disables)
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	cfg := &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/positions.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9091"),

		StrategyPath: getEnv("STRATEGY_PATH", "config/strategy.yaml"),

		MonitorPeriod:  getDuration("MONITOR_PERIOD", 5*time.Second),
		WatchdogPeriod: getDuration("WATCHDOG_PERIOD", 30*time.Second),

		PaperMode: getBool("PAPER_MODE", false),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
	}

	if !cfg.PaperMode {
		cfg.AngelAPIKey = mustEnv("ANGEL_API_KEY")
		cfg.AngelClientCode = mustEnv("ANGEL_CLIENT_CODE")
		cfg.AngelPassword = mustEnv("ANGEL_PASSWORD")
		cfg.AngelTOTPSecret = mustEnv("ANGEL_TOTP_SECRET")
	}
	return cfg
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] invalid duration for %s: %q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}
