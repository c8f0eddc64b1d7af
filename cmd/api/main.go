package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/tavern-phone/internal/config"
	"github.com/jwebster45206/tavern-phone/internal/handlers"
	"github.com/jwebster45206/tavern-phone/internal/logger"
	"github.com/jwebster45206/tavern-phone/internal/modules"
	"github.com/jwebster45206/tavern-phone/internal/services"
	"github.com/jwebster45206/tavern-phone/internal/services/events"
	"github.com/jwebster45206/tavern-phone/internal/services/queue"
	"github.com/jwebster45206/tavern-phone/internal/storage"
	"github.com/jwebster45206/tavern-phone/pkg/media"
	pkgstorage "github.com/jwebster45206/tavern-phone/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Tavern Phone API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"ai_configured", cfg.AIConfigured(),
		"ai_model", cfg.AIModel)

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
	log.Info("Storage connection established successfully")

	queueClient, err := queue.NewClient(cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create queue client", "error", err)
		os.Exit(1)
	}
	generationQueue := queue.NewGenerationQueue(queueClient)
	broadcaster := events.NewBroadcaster(queueClient.GetRedisClient(), log)

	var llm services.LLMService
	if cfg.AIConfigured() {
		llm, err = services.NewOpenAIService(cfg.AIAPIURL, cfg.AIAPIKey, cfg.AIModel, cfg.AITemperature)
		if err != nil {
			log.Error("Invalid AI configuration", "error", err)
			os.Exit(1)
		}
	} else {
		log.Warn("AI API is not configured; modules are served from history only")
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
	ai := services.NewAIService(llm, presets, cfg.AIRequestsPerMinute, log)

	registry := modules.NewRegistry(
		func(chatID string) pkgstorage.Storage { return store.Chat(chatID) },
		modules.Deps{AI: ai, Stickers: stickers, Notifier: broadcaster, Logger: log},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := presets.Watch(ctx); err != nil {
			log.Error("Preset watcher stopped", "error", err)
		}
	}()

	router := handlers.NewRouter(handlers.Deps{
		Registry:     registry,
		Storage:      store,
		Queue:        generationQueue,
		Preview:      ai,
		Events:       broadcaster,
		AIConfigured: cfg.AIConfigured(),
		Logger:       log,
	})

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: module generation and the notification stream run long.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	if err := queueClient.Close(); err != nil {
		log.Error("Error closing queue client", "error", err)
	}
	if err := store.Close(); err != nil {
		log.Error("Error closing storage connection", "error", err)
	}

	log.Info("Server exited")
}
