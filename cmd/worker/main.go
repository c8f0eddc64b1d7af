package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/tavern-phone/internal/config"
	"github.com/jwebster45206/tavern-phone/internal/logger"
	"github.com/jwebster45206/tavern-phone/internal/modules"
	"github.com/jwebster45206/tavern-phone/internal/services"
	"github.com/jwebster45206/tavern-phone/internal/services/events"
	"github.com/jwebster45206/tavern-phone/internal/services/queue"
	"github.com/jwebster45206/tavern-phone/internal/storage"
	"github.com/jwebster45206/tavern-phone/internal/worker"
	"github.com/jwebster45206/tavern-phone/pkg/media"
	pkgstorage "github.com/jwebster45206/tavern-phone/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Tavern Phone Worker",
		"environment", cfg.Environment,
		"redis_url", cfg.RedisURL,
		"worker_id", cfg.WorkerID)

	// Initialize queue service
	queueClient, err := queue.NewClient(cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create queue client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			log.Error("Error closing queue client", "error", err)
		}
	}()
	generationQueue := queue.NewGenerationQueue(queueClient)
	log.Info("Queue service initialized successfully")

	// Initialize storage service
	store, err := storage.NewRedisStorage(cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create storage", "error", err)
		os.Exit(1)
	}
	storageCtx, storageCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer storageCancel()
	if err := store.WaitForConnection(storageCtx); err != nil {
		log.Error("Failed to connect to storage", "error", err)
		os.Exit(1)
	}
	log.Info("Storage service initialized successfully")

	var llm services.LLMService
	if cfg.AIConfigured() {
		llm, err = services.NewOpenAIService(cfg.AIAPIURL, cfg.AIAPIKey, cfg.AIModel, cfg.AITemperature)
		if err != nil {
			log.Error("Invalid AI configuration", "error", err)
			os.Exit(1)
		}
		log.Info("AI service initialized successfully", "model", cfg.AIModel)
	} else {
		// Commands still run; every generation reports "API is not configured".
		log.Warn("AI API is not configured")
	}

	presets, err := services.NewPresetStore(cfg.PresetFile, log)
	if err != nil {
		log.Error("Failed to load preset", "error", err, "path", cfg.PresetFile)
		os.Exit(1)
	}
	var stickers []media.Item
	if cfg.StickerFile != "" {
		stickers, err = media.LoadStickers(cfg.StickerFile)
		if err != nil {
			log.Error("Failed to load stickers", "error", err, "path", cfg.StickerFile)
			os.Exit(1)
		}
	}

	broadcaster := events.NewBroadcaster(queueClient.GetRedisClient(), log)
	center := events.NewCenter(broadcaster, log)
	defer center.Close()

	registry := modules.NewRegistry(
		func(chatID string) pkgstorage.Storage { return store.Chat(chatID) },
		modules.Deps{
			AI:       services.NewAIService(llm, presets, cfg.AIRequestsPerMinute, log),
			Stickers: stickers,
			Notifier: broadcaster,
			Logger:   log,
		},
	)
	processor := worker.NewProcessor(registry, center, log)
	log.Info("Command processor initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := presets.Watch(ctx); err != nil {
			log.Error("Preset watcher stopped", "error", err)
		}
	}()

	// The queue client doubles as the lock client; locks are short SETNX calls.
	w := worker.New(generationQueue, processor, queueClient.GetRedisClient(), log, cfg.WorkerID)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Start(); err != nil {
			log.Error("Worker error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("Worker started, waiting for requests...")

	<-quit
	log.Info("Worker shutdown signal received")

	w.Stop()
	cancel()

	// Give worker time to finish current request
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn("Worker did not finish in time")
	}

	if err := store.Close(); err != nil {
		log.Error("Error closing storage connection", "error", err)
	}
	log.Info("Worker exited")
}
