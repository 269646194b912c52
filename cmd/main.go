package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nescohelper/meter-bot/internal/bot"
	"github.com/nescohelper/meter-bot/internal/config"
	"github.com/nescohelper/meter-bot/internal/dialogue"
	"github.com/nescohelper/meter-bot/internal/engine"
	"github.com/nescohelper/meter-bot/internal/httpapi"
	"github.com/nescohelper/meter-bot/internal/intent"
	"github.com/nescohelper/meter-bot/internal/logger"
	"github.com/nescohelper/meter-bot/internal/nesco"
	"github.com/nescohelper/meter-bot/internal/scheduler"
	"github.com/nescohelper/meter-bot/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("error loading configuration: %v", err)
	}
	appLogger := logger.New(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := storage.Migrate(cfg.DatabaseURL, "migrations"); err != nil {
		appLogger.Fatalf("unable to apply migrations: %v", err)
	}

	storageInstance, err := storage.NewStorage(ctx, cfg.DatabaseURL)
	if err != nil {
		appLogger.Fatalf("unable to connect to database: %v", err)
	}
	defer storageInstance.Close()

	nescoClient := nesco.NewClient(cfg.NescoURL, cfg.FetchTimeout, appLogger)
	balanceEngine := engine.New(storageInstance, nescoClient, appLogger, engine.Options{
		DefaultMinBalance: cfg.DefaultMinBalance,
		SweepConcurrency:  cfg.SweepConcurrency,
	})

	var interpreter dialogue.Interpreter
	if cfg.Intent.Enabled {
		classifier, err := intent.NewClassifier(ctx, cfg.Intent.APIKey, cfg.Intent.Model, appLogger)
		if err != nil {
			appLogger.WithError(err).Warn("intent classifier disabled")
		} else {
			interpreter = classifier
		}
	}

	dialogueEngine := dialogue.New(storageInstance, balanceEngine, interpreter, appLogger)

	botInstance, err := bot.New(cfg.BotToken, dialogueEngine, appLogger)
	if err != nil {
		appLogger.Fatalf("error creating bot instance: %v", err)
	}

	reminderScheduler := scheduler.New(storageInstance, balanceEngine, botInstance, cfg.ReminderTime, appLogger)
	go reminderScheduler.Run(ctx)

	apiServer := httpapi.New(reminderScheduler, nescoClient, appLogger)
	go func() {
		appLogger.Infof("http api listening on %s", cfg.HTTPAddr)
		if err := http.ListenAndServe(cfg.HTTPAddr, apiServer.Handler()); err != nil {
			appLogger.WithError(err).Error("http api stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		botInstance.Stop()
	}()

	appLogger.Info("bot start")
	botInstance.Start()
}
