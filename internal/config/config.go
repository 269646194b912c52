package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	BotToken    string
	DatabaseURL string
	LogLevel    string
	HTTPAddr    string

	NescoURL     string
	FetchTimeout time.Duration

	SweepConcurrency  int
	DefaultMinBalance float64
	ReminderTime      string

	Intent IntentConfig
}

// IntentConfig controls the optional Gemini intent classifier. When disabled
// or misconfigured the bot falls back to plain command parsing.
type IntentConfig struct {
	Enabled bool
	APIKey  string
	Model   string
}

func Load() (*Config, error) {
	cfg := &Config{
		BotToken:          os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8081"),
		NescoURL:          getEnv("NESCO_URL", "https://prepaid.nescopower.com/pp_panel_gui/search_mobile.php"),
		FetchTimeout:      time.Duration(getEnvAsInt("NESCO_TIMEOUT_SECONDS", 30)) * time.Second,
		SweepConcurrency:  getEnvAsInt("SWEEP_CONCURRENCY", 4),
		DefaultMinBalance: getEnvAsFloat("DEFAULT_MIN_BALANCE", 50.0),
		ReminderTime:      getEnv("REMINDER_TIME", "11:00"),
		Intent: IntentConfig{
			Enabled: os.Getenv("AI_AGENT_ENABLED") == "true",
			APIKey:  os.Getenv("AI_AGENT_KEY"),
			Model:   getEnv("AI_AGENT_MODEL", "gemini-1.5-flash"),
		},
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required but not set")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
