package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/park285/caro-series/internal/app"
	appcfg "github.com/park285/caro-series/internal/config"
	"github.com/park285/caro-series/internal/obslog"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	a, err := app.New(cfg)
	if err != nil {
		obslog.L().Fatal("app_init_error", zap.Error(err))
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		obslog.L().Error("app_run_error", zap.Error(err))
		return
	}
	obslog.L().Info("app_stopped")
}
