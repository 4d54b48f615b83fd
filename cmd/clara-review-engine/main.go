package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/dochobbs/claraproviderios-sub001/internal/api"
	"github.com/dochobbs/claraproviderios-sub001/internal/config"
	logpkg "github.com/dochobbs/claraproviderios-sub001/internal/logger"
	"github.com/dochobbs/claraproviderios-sub001/internal/store"
	"github.com/dochobbs/claraproviderios-sub001/internal/trigger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logpkg.New(cfg.Log.Level, cfg.Log.Format, "clara-review-engine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting clara-review-engine",
		zap.String("trigger_mode", cfg.Engine.TriggerMode),
		zap.String("cache_backend", cfg.Engine.CacheBackend),
	)

	backend := api.New(cfg.Supabase.URL, cfg.Supabase.Key, api.Options{}, log)

	var kv store.KVStore
	switch cfg.Engine.CacheBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer client.Close()
		kv = store.NewRedisKV(client)
	default:
		kv = store.NewMemoryKV()
	}

	details := store.NewDetailCache(kv, log)
	notes := store.NewAnnotationCache(kv, backend, log)
	reviews := store.NewReviewStore(backend, details, notes, store.Options{
		Debounce: time.Duration(cfg.Engine.DebounceSeconds) * time.Second,
	}, log)

	scheduler := store.NewRefreshScheduler(
		time.Duration(cfg.Engine.PollIntervalSeconds)*time.Second,
		func(ctx context.Context) { reviews.LoadAll(ctx, false) },
		log,
	)
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.Engine.TriggerMode == "events" {
		tr, err := trigger.New(trigger.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
		}, reviews, log)
		if err != nil {
			log.Fatal("Failed to start review change trigger", zap.Error(err))
		}
		if err := tr.Start(); err != nil {
			log.Fatal("Failed to subscribe to review change topic", zap.Error(err))
		}
		defer tr.Close()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
}
