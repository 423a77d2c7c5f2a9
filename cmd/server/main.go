package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/auth-broker-go/internal/config"
	"github.com/openclaw/auth-broker-go/internal/database"
	"github.com/openclaw/auth-broker-go/internal/handler"
	"github.com/openclaw/auth-broker-go/internal/jobs"
	"github.com/openclaw/auth-broker-go/internal/kv"
	"github.com/openclaw/auth-broker-go/internal/middleware"
	"github.com/openclaw/auth-broker-go/internal/redis"
	"github.com/openclaw/auth-broker-go/internal/repository"
	"github.com/openclaw/auth-broker-go/internal/service"
	"github.com/openclaw/auth-broker-go/internal/util"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	vault, err := util.NewVault(cfg.EncryptionKey, cfg.EncryptionCipher)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize encryption")
	}

	var redisClient *redis.Client
	if cfg.StoreBackend == config.BackendRedis || cfg.RateLimitBackend == config.BackendRedis {
		redisClient, err = redis.NewClient(cfg.RedisURL, config.PingTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")
	}

	var store kv.Store
	switch cfg.StoreBackend {
	case config.BackendRedis:
		store = kv.NewRedisStore(redisClient.Client)
	case config.BackendPostgres:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.PingTimeout)
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		pgStore := kv.NewPostgresStore(db.DB)
		if err := pgStore.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		cancel()
		log.Info().Msg("database connected")
		store = pgStore
	default:
		store = kv.NewMemoryStore()
	}
	log.Info().Str("backend", cfg.StoreBackend).Msg("session store ready")

	pairingRepo := repository.NewPairingRepository(store)
	tokenRepo := repository.NewTokenRepository(store)

	oauthClient := service.NewOAuthClient(service.OAuthClientConfig{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		AuthorizeURL: cfg.OAuthAuthorizeURL,
		TokenURL:     cfg.OAuthTokenURL,
		RedirectURI:  cfg.OAuthRedirectURI,
		Scopes:       cfg.OAuthScopes,
		Timeout:      cfg.OAuthTimeout(),
	})

	pairingService := service.NewPairingService(pairingRepo, tokenRepo, oauthClient, vault, service.PairingOptions{
		RedirectURI: cfg.OAuthRedirectURI,
		PairTTL:     cfg.PairTTL(),
		SessionTTL:  cfg.SessionTTL(),
	})
	sessionService := service.NewSessionService(tokenRepo, oauthClient, vault, service.SessionOptions{
		SessionTTL:    cfg.SessionTTL(),
		RefreshMargin: cfg.RefreshMargin(),
	})

	rules := middleware.RulesFromConfig(cfg)
	var limiter middleware.Limiter
	if cfg.RateLimitBackend == config.BackendRedis {
		limiter = middleware.NewRedisLimiter(redisClient.Client, rules)
	} else {
		limiter = middleware.NewMemoryLimiter(rules)
	}

	router := handler.NewRouter(handler.RouterDeps{
		Pairing:           handler.NewPairingHandler(pairingService),
		Session:           handler.NewSessionHandler(sessionService),
		Limiter:           limiter,
		IsHTTPS:           strings.HasPrefix(cfg.OAuthRedirectURI, "https://"),
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	if sweeper, ok := store.(kv.Sweeper); ok {
		cleanupJob := jobs.NewCleanupJob(sweeper, cfg.StoreBackend, config.CleanupJobInterval)
		cleanupJob.Start()
		defer cleanupJob.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
