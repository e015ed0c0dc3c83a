package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/medscribe/gateway/internal/app"
	"github.com/medscribe/gateway/pkg/logger"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		fatal("load config", err)
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		fatal("configure logging", err)
	}
	defer func() { _ = logger.Sync() }()

	application, err := Bootstrap(cfg)
	if err != nil {
		fatal("bootstrap", err)
	}

	if err := application.Cleaner.Start(); err != nil {
		fatal("start maintenance", err)
	}

	go func() {
		logger.Info("gateway listening", zap.String("addr", application.Server.Addr))
		if err := application.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("serve", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
		os.Exit(1)
	}
}

func fatal(stage string, err error) {
	logger.Error(stage, zap.Error(err))
	os.Exit(1)
}
