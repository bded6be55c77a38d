package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"tagengine/internal/config"
	"tagengine/internal/miner"
	"tagengine/internal/notify"
	"tagengine/internal/repository"
	"tagengine/internal/server"
	"tagengine/internal/task"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err) // Should not happen in development
	}
	defer func() {
		_ = logger.Sync() // Flushes buffer, if any
	}()
	log := logrus.New()

	// Load configuration
	cfgPath := "configs/config.yml"
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Database connection
	db, err := repository.NewPostgresDB(cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	repository.MigrateDB(db, logger)

	// Telegram notifier for background task completion (optional)
	telegram, err := notify.NewTelegramNotifier(cfg, logger)
	if err != nil {
		logger.Warn("Failed to initialize Telegram notifier, continuing without it", zap.Error(err))
		telegram = nil
	}

	// Background task manager
	tasks := task.NewManager(cfg.Tasks.Workers, cfg.Tasks.QueueSize, logger)
	if telegram != nil {
		tasks.OnDone(telegram.TaskFinished)
	}
	tasks.Start()
	defer tasks.Stop()

	notifier := notify.NewLogNotifier(logger)

	// Suggestion miner and its periodic refresh worker
	tagRepo := repository.NewTagRepository(db, logger)
	implRepo := repository.NewImplicationRepository(db, logger)
	suggestionMiner := miner.NewMiner(tagRepo, implRepo, miner.Settings{
		MinSampleSize:     cfg.Miner.MinSampleSize,
		MinCooccurrence:   cfg.Miner.MinCooccurrence,
		PatternConfidence: cfg.Miner.PatternConfidence,
	}, logger)
	refreshWorker := miner.NewWorker(suggestionMiner, cfg.Miner.RefreshIntervalMin, logger)

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run suggestion refresh worker in a goroutine
	go refreshWorker.Run(ctx)

	// Initialize and run the server
	srv := server.NewServer(db, cfg, suggestionMiner, tasks, notifier, log, logger)
	srv.Run(cfg.Server.Port)

	<-ctx.Done()
	logger.Info("Application stopped.")
}
