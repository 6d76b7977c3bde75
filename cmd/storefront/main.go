package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AleksaButterfly/kuratert-sub000/internal/checkout"
	"github.com/AleksaButterfly/kuratert-sub000/internal/config"
	"github.com/AleksaButterfly/kuratert-sub000/internal/events"
	"github.com/AleksaButterfly/kuratert-sub000/internal/httpapi"
	"github.com/AleksaButterfly/kuratert-sub000/internal/ledger"
	"github.com/AleksaButterfly/kuratert-sub000/internal/payment"
	"github.com/AleksaButterfly/kuratert-sub000/internal/profile"
	"github.com/AleksaButterfly/kuratert-sub000/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(logger.ParseLevel(cfg.LogLevel))
	log.Info("storefront starting", "port", cfg.HTTPPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	mongoDB, err := profile.ConnectMongo(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		log.Error("connect mongo", "error", err)
		os.Exit(1)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoDB.Client().Disconnect(disconnectCtx)
	}()

	profileStore := profile.NewMongoStore(mongoDB)
	if err := profileStore.CreateIndexes(connectCtx); err != nil {
		log.Error("create mongo indexes", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(connectCtx).Err(); err != nil {
		log.Error("ping redis", "error", err)
		os.Exit(1)
	}

	profiles := profile.NewService(profileStore, profile.NewRedisCache(redisClient), log)
	sessions := checkout.NewRedisSessionStore(redisClient)

	eventStore, err := events.NewStore(events.Config{
		Path:          cfg.Events.SQLitePath,
		MigrationsDir: cfg.Events.MigrationsDir,
	})
	if err != nil {
		log.Error("open event store", "error", err)
		os.Exit(1)
	}
	defer eventStore.Close()

	poller := events.NewPoller(eventStore, log, cfg.Events.KafkaBrokers...)
	defer poller.Close()
	go poller.Run(ctx)

	ledgerClient := ledger.NewClient(ledger.Config{
		BaseURL:           cfg.Ledger.BaseURL,
		PrivilegedBaseURL: cfg.Ledger.PrivilegedBaseURL,
		ClientID:          cfg.Ledger.ClientID,
		PrivilegedSecret:  cfg.Ledger.PrivilegedSecret,
		Timeout:           cfg.Ledger.Timeout,
	}, log)

	gateway := payment.NewHTTPGateway(payment.GatewayConfig{
		BaseURL:        cfg.Gateway.BaseURL,
		PublishableKey: cfg.Gateway.PublishableKey,
		Timeout:        cfg.Gateway.Timeout,
	}, log)
	go initGateway(ctx, gateway, log)

	server := httpapi.NewServer(ledgerClient, gateway, profiles, sessions, eventStore, cfg.Ledger.ProcessAlias, log)
	defer server.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(server.Router(), "storefront"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}

	log.Info("storefront stopped")
}

// initGateway retries the gateway handshake until it succeeds. The server
// keeps serving in the meantime; redirect return handling defers until the
// gateway reports ready.
func initGateway(ctx context.Context, gateway *payment.HTTPGateway, log *slog.Logger) {
	for {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := gateway.Init(initCtx)
		cancel()
		if err == nil {
			log.Info("payment gateway ready")
			return
		}
		log.Warn("payment gateway handshake failed, retrying", "error", err)

		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return
		}
	}
}
