package main

import (
	"alumnet/backend/internal/api/handler"
	"alumnet/backend/internal/app"
	"alumnet/backend/internal/chathub"
	"alumnet/backend/internal/config"
	"alumnet/backend/internal/messages"
	"alumnet/backend/internal/network"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file, using environment")
	}

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := app.OpenStore(cfg, logger)
	if err != nil {
		return err
	}
	broker, err := app.NewBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	retryCfg := app.RetryConfig(cfg)
	networkSvc := network.NewService(store, broker, retryCfg, logger.Named("network"))
	networkSvc.IndexTTL = cfg.Index.TTL
	messageSvc := messages.NewService(store, broker, retryCfg, logger.Named("messages"))
	hub := chathub.NewManagerService(broker, cfg.Relay.SubscriberBuffer, logger.Named("hub"))

	errCh := make(chan error, 3)
	background := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("%s: %w", name, err)
		}
	}
	go background("relay hub", hub.Run)
	go background("connection listener", networkSvc.Listen)

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), handler.RequestLogger(logger.Named("http")))
	h := handler.NewHandler(networkSvc, messageSvc, hub, handler.Auth{
		Secret: []byte(cfg.Auth.JWTSecret),
		Issuer: cfg.Auth.Issuer,
		TTL:    cfg.Auth.TokenTTL,
	}, logger.Named("http"))
	h.RegisterRoutes(r)

	server := &http.Server{
		Addr:           cfg.HTTP.Addr,
		Handler:        r,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
