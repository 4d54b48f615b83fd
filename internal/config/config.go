package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config for the review engine. Everything comes from environment
// variables with defaults.
type Config struct {
	Supabase struct {
		URL string // Supabase project URL, e.g. https://<project>.supabase.co
		Key string // anon/service key, sent as apikey + bearer token
	}

	Engine struct {
		// How the list refresh is driven.
		// Options: polling (repeating timer) or events (MQTT change events)
		TriggerMode string

		// Polling interval in seconds, default 60
		PollIntervalSeconds int

		// Minimum gap between two non-forced refreshes, default 30
		DebounceSeconds int

		// Cache backing for the detail/annotation caches.
		// Options: memory (default, per-process) or redis (shared)
		CacheBackend string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	MQTT struct {
		Broker   string
		ClientID string
		Username string
		Password string
		Topic    string // review change events
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Supabase.URL = getEnv("SUPABASE_URL", "")
	cfg.Supabase.Key = getEnv("SUPABASE_KEY", "")
	if cfg.Supabase.URL == "" {
		return nil, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.Supabase.Key == "" {
		return nil, fmt.Errorf("SUPABASE_KEY is required")
	}

	cfg.Engine.TriggerMode = getEnv("TRIGGER_MODE", "polling")
	cfg.Engine.PollIntervalSeconds = getEnvInt("POLL_INTERVAL_SECONDS", 60)
	cfg.Engine.DebounceSeconds = getEnvInt("DEBOUNCE_SECONDS", 30)
	cfg.Engine.CacheBackend = getEnv("CACHE_BACKEND", "memory")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "clara-review-engine")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "clara/reviews/updated")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return defaultValue
}
