package config

import (
	"os"
	"testing"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()
	os.Setenv("SUPABASE_URL", "https://example.supabase.co")
	os.Setenv("SUPABASE_KEY", "anon-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Engine.TriggerMode != "polling" {
		t.Errorf("Expected TRIGGER_MODE default 'polling', got '%s'", cfg.Engine.TriggerMode)
	}

	if cfg.Engine.PollIntervalSeconds != 60 {
		t.Errorf("Expected poll interval default 60, got %d", cfg.Engine.PollIntervalSeconds)
	}

	if cfg.Engine.DebounceSeconds != 30 {
		t.Errorf("Expected debounce default 30, got %d", cfg.Engine.DebounceSeconds)
	}

	if cfg.Engine.CacheBackend != "memory" {
		t.Errorf("Expected CACHE_BACKEND default 'memory', got '%s'", cfg.Engine.CacheBackend)
	}

	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Expected REDIS_ADDR default 'localhost:6379', got '%s'", cfg.Redis.Addr)
	}

	if cfg.MQTT.Topic != "clara/reviews/updated" {
		t.Errorf("Expected MQTT_TOPIC default 'clara/reviews/updated', got '%s'", cfg.MQTT.Topic)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected LOG_LEVEL default 'info', got '%s'", cfg.Log.Level)
	}
}

func TestLoad_MissingSupabase(t *testing.T) {
	os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Expected error when SUPABASE_URL is unset")
	}

	os.Setenv("SUPABASE_URL", "https://example.supabase.co")
	if _, err := Load(); err == nil {
		t.Fatal("Expected error when SUPABASE_KEY is unset")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Setenv("SUPABASE_URL", "https://test.supabase.co")
	os.Setenv("SUPABASE_KEY", "test-key")
	os.Setenv("TRIGGER_MODE", "events")
	os.Setenv("POLL_INTERVAL_SECONDS", "15")
	os.Setenv("DEBOUNCE_SECONDS", "5")
	os.Setenv("CACHE_BACKEND", "redis")
	os.Setenv("LOG_LEVEL", "debug")

	defer func() {
		os.Unsetenv("SUPABASE_URL")
		os.Unsetenv("SUPABASE_KEY")
		os.Unsetenv("TRIGGER_MODE")
		os.Unsetenv("POLL_INTERVAL_SECONDS")
		os.Unsetenv("DEBOUNCE_SECONDS")
		os.Unsetenv("CACHE_BACKEND")
		os.Unsetenv("LOG_LEVEL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Supabase.URL != "https://test.supabase.co" {
		t.Errorf("Expected SUPABASE_URL 'https://test.supabase.co', got '%s'", cfg.Supabase.URL)
	}

	if cfg.Engine.TriggerMode != "events" {
		t.Errorf("Expected TRIGGER_MODE 'events', got '%s'", cfg.Engine.TriggerMode)
	}

	if cfg.Engine.PollIntervalSeconds != 15 {
		t.Errorf("Expected poll interval 15, got %d", cfg.Engine.PollIntervalSeconds)
	}

	if cfg.Engine.DebounceSeconds != 5 {
		t.Errorf("Expected debounce 5, got %d", cfg.Engine.DebounceSeconds)
	}

	if cfg.Engine.CacheBackend != "redis" {
		t.Errorf("Expected CACHE_BACKEND 'redis', got '%s'", cfg.Engine.CacheBackend)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected LOG_LEVEL 'debug', got '%s'", cfg.Log.Level)
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_VAR", "test-value")
	defer os.Unsetenv("TEST_VAR")

	value := getEnv("TEST_VAR", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = getEnv("NON_EXISTENT_VAR", "default-value")
	if value != "default-value" {
		t.Errorf("Expected 'default-value', got '%s'", value)
	}
}
