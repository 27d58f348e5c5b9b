package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/fundgate/adapters/cookie"
	"github.com/layer-3/fundgate/adapters/events"
	"github.com/layer-3/fundgate/adapters/store"
	"github.com/layer-3/fundgate/adapters/upstream"
	"github.com/layer-3/fundgate/internal/config"
	"github.com/layer-3/fundgate/internal/logging"
	"github.com/layer-3/fundgate/ports"
	"github.com/layer-3/fundgate/service"
	transport "github.com/layer-3/fundgate/transport/http"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveFlags struct {
	listen string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session bridge",
	Long: `Start the session bridge.

The upstream API is read from API_BASE_URL or upstream.base_url; the process
refuses to start without a valid absolute URL.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveFlags.listen, "listen", "l", "", "override listen address")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if serveFlags.listen != "" {
		cfg.Server.Listen = serveFlags.listen
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	codec, err := newCodec(cfg)
	if err != nil {
		return err
	}
	ledger := newLedger(cfg, redisClient)

	eventPub, closePub, err := newEventPublisher(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer closePub()

	bridge := service.NewBridge(
		upstream.NewHTTPClient(cfg.Upstream.BaseURL,
			upstream.WithTimeout(cfg.Upstream.Timeout),
			upstream.WithMaxBodyBytes(cfg.Upstream.MaxBodyBytes),
		),
		codec,
		ledger,
		eventPub,
		logger.Named("bridge"),
		service.Config{ReplayGuard: cfg.Auth.ReplayGuard, NonceTTL: cfg.Auth.NonceTTL},
	)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	handlers := transport.NewBridgeHandlers(bridge, transport.CookieOptions{
		Name:   cfg.Cookie.Name,
		Secure: cfg.Server.Production,
	}, logger.Named("http"))

	routerCfg := transport.RouterConfig{
		ProxyPrefixes:  cfg.Proxy.Prefixes,
		TrustedProxies: cfg.Server.TrustedProxies,
		Logger:         logger.Named("http"),
	}
	if cfg.RateLimit.Enabled {
		routerCfg.RateLimiter = transport.NewIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	if cfg.Metrics.Enabled {
		routerCfg.MetricsPath = cfg.Metrics.Path
	}

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           transport.SetupRouter(handlers, routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting session bridge",
			zap.String("listen", cfg.Server.Listen),
			zap.String("upstream", cfg.Upstream.BaseURL),
			zap.Bool("production", cfg.Server.Production),
			zap.String("nonce_store", cfg.Auth.Store),
			zap.String("events", cfg.Events.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down session bridge")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newCodec(cfg *config.Config) (ports.CookieCodec, error) {
	if cfg.Cookie.SigningSecret == "" {
		return cookie.NewPlainCodec(), nil
	}
	return cookie.NewJWTCodec([]byte(cfg.Cookie.SigningSecret), cfg.Cookie.TTL)
}

func newLedger(cfg *config.Config, client *redis.Client) ports.NonceLedger {
	if cfg.Auth.Store == config.StoreRedis {
		return store.NewRedisStore(client)
	}
	return store.NewMemoryStore()
}

func newEventPublisher(cfg *config.Config, client *redis.Client, logger *zap.Logger) (ports.EventPublisher, func(), error) {
	if cfg.Events.Backend != config.EventsRedis {
		return events.NopPublisher{}, func() {}, nil
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		logging.NewWatermillAdapter(logger),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Redis publisher: %w", err)
	}

	closeFn := func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("Failed to close event publisher", zap.Error(err))
		}
	}
	return events.NewWatermillPublisher(publisher, cfg.Events.Topic), closeFn, nil
}
