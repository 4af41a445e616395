package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/db"
	"github.com/suPer8Hu/chat-relay/internal/httpapi"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-relay/internal/logger"
	"github.com/suPer8Hu/chat-relay/internal/store/rabbitmq"
	"github.com/suPer8Hu/chat-relay/internal/store/redisstore"
	"github.com/suPer8Hu/chat-relay/internal/telegram"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		bootLog := logger.GetLogger()
		bootLog.Fatal().Err(err).Msg("failed to load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.GetLogger()
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		bootLog := logger.GetLogger()
		bootLog.Fatal().Err(err).Msg("invalid logger configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("chat-relay stopped")
	}
	log.Info().Msg("chat-relay stopped")
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	var (
		repo    *chat.Repo
		persist chat.Persister
		opts    []chat.Option
	)
	if gdb != nil {
		if err := chat.Migrate(gdb); err != nil {
			return err
		}
		repo = chat.NewRepo(gdb)
		persist = repo
		opts = append(opts, chat.WithJobRecorder(repo))
	}

	provider, err := newRegistry(cfg).Get(ctx, cfg.AIProvider, cfg.Model())
	if err != nil {
		return err
	}

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return err
	}
	log.Info().Str("bot", api.Self.UserName).Str("provider", cfg.AIProvider).Str("model", cfg.Model()).Msg("telegram authorized")

	var publisher chat.DiagnosticsPublisher
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return err
		}
		defer pub.Close()
		publisher = pub
	}

	store := chat.NewStore(persist, log)

	var busy handlers.BusyChecker
	if cfg.RedisAddr != "" {
		rds, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rds.Close()
		busy = rds
		opts = append(opts, chat.WithAdmission(
			redisstore.NewAdmission(rds, chat.NewLocalAdmission(store), cfg.RedisLockTTL, log),
		))
	}

	sender := telegram.NewSender(api)
	dispatcher := chat.NewDispatcher(store,
		chat.NewHistoryBuilder(cfg.SystemPrompt, telegram.NewFetcher(api, cfg.AttachmentTimeout, log), cfg.AttachmentTimeout),
		chat.NewGateway(provider, cfg.CompletionTimeout),
		chat.NewRelay(sender, publisher, log),
		log, opts...)
	svc := chat.NewService(store, dispatcher, sender, log)

	allowed, err := config.ParseAllowedUsers(cfg.AllowedUsers)
	if err != nil {
		return err
	}
	bot := telegram.NewBot(api, svc, allowed, cfg.PollTimeout, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })

	if cfg.HTTPAddr != "" {
		if log.GetLevel() > zerolog.DebugLevel {
			gin.SetMode(gin.ReleaseMode)
		}
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           httpapi.NewRouter(handlers.NewHandler(cfg, svc, repo, busy), log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", cfg.HTTPAddr).Bool("admin", cfg.AdminEnabled()).Msg("admin api listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err = g.Wait()

	// in-flight jobs still owe their users an answer
	sctx, cancel := context.WithTimeout(context.Background(), cfg.CompletionTimeout+5*time.Second)
	defer cancel()
	if derr := dispatcher.Shutdown(sctx); derr != nil {
		log.Warn().Err(derr).Msg("shutdown with jobs still in flight")
	}
	return err
}
