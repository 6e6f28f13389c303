package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"mjgateway/internal/banned"
	"mjgateway/internal/discord"
	"mjgateway/internal/domain"
	"mjgateway/internal/engine"
	"mjgateway/internal/feed"
	"mjgateway/internal/http/handlers"
	httpapi "mjgateway/internal/http/httpapi"
	"mjgateway/internal/infra"
	"mjgateway/internal/notify"
	"mjgateway/internal/pool"
	"mjgateway/internal/store"
	"mjgateway/internal/translate"
)

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()

	accounts, err := infra.LoadAccounts(cfg.AccountsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load accounts")
	}

	taskStore, cleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open task store")
	}
	defer cleanup()

	bannedList, err := banned.Load(cfg.BannedWordsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load banned words")
	}

	var translator translate.Translator = translate.Noop{}
	if cfg.TranslateProvider == "openai" {
		translator, err = translate.NewOpenAITranslator(translate.OpenAIOptions{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build translator")
		}
	}

	eng := engine.New(engine.Options{
		Store:           taskStore,
		Pool:            pool.NewAccountPool(accounts),
		Sender:          discord.NewSender(cfg.DiscordAPIBase, logger),
		Notifier:        notify.NewWebhookNotifier(cfg.NotifyHook, logger),
		Rewriter:        discord.NewCDNRewriter(cfg.CDNBaseURL),
		Logger:          logger,
		DispatchTimeout: cfg.DispatchTimeout,
	})

	app := handlers.NewApp(logger, eng, translator, bannedList)
	app.NotifyHook = cfg.NotifyHook
	app.WaitTimeout = cfg.WaitTimeout

	router := httpapi.NewRouter(app, httpapi.Options{
		APISecret:       cfg.APISecret,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})

	server := infra.NewHTTPServer(cfg, router)

	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	if cfg.RedisURL != "" {
		rdb, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		eventFeed := feed.NewRedisFeed(rdb, cfg.EventQueueKey, eng, logger)
		go func() {
			if err := eventFeed.Run(feedCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("event feed stopped")
			}
		}()
	} else {
		logger.Warn().Msg("REDIS_URL not set, running without an event feed")
	}

	go func() {
		logger.Info().Msgf("gateway listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopFeed()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("gateway stopped")
}

// buildStore opens the configured task store and returns its cleanup.
func buildStore(ctx context.Context, cfg *infra.Config, logger infra.Logger) (domain.TaskStore, func(), error) {
	switch cfg.TaskStore {
	case infra.StoreRedis:
		rdb, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedisStore(rdb, cfg.TaskTTL), func() { _ = rdb.Close() }, nil

	case infra.StorePostgres:
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		pgStore := store.NewPostgresStore(dbpool)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			dbpool.Close()
			return nil, nil, err
		}
		return pgStore, dbpool.Close, nil

	default:
		logger.Info().Msg("using in-memory task store")
		return store.NewMemoryStore(), func() {}, nil
	}
}
