package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/db"
	"github.com/suPer8Hu/chat-relay/internal/logger"
	"github.com/suPer8Hu/chat-relay/internal/store/rabbitmq"
)

// worker archives diagnostic records published by the bot.
func main() {
	if err := config.LoadDotEnv(); err != nil {
		bootLog := logger.GetLogger()
		bootLog.Fatal().Err(err).Msg("failed to load .env")
	}
	cfg, err := config.LoadWorker()
	if err != nil {
		bootLog := logger.GetLogger()
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		bootLog := logger.GetLogger()
		bootLog.Fatal().Err(err).Msg("invalid logger configuration")
	}

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if gdb == nil {
		log.Fatal().Msg("the worker needs a database, DB_DRIVER=none is not supported")
	}
	defer db.Close(gdb)
	if err := chat.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("automigrate")
	}
	repo := chat.NewRepo(gdb)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, rabbitmq.ConsumerOptions{
		Concurrency: cfg.WorkerConcurrency,
		MaxRetries:  3,
		RetryDelay:  5 * time.Second,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit connect")
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.Run(ctx, rabbitmq.ArchiveDiagnostics(repo, log)); err != nil {
		log.Error().Err(err).Msg("worker stopped")
		return
	}
	log.Info().Msg("worker stopped")
}
