package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Jeffrey-done/SubScript/internal/api"
	"github.com/Jeffrey-done/SubScript/internal/auth"
	"github.com/Jeffrey-done/SubScript/internal/config"
	"github.com/Jeffrey-done/SubScript/internal/logger"
	"github.com/Jeffrey-done/SubScript/internal/storage"
)

func main() {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.BasicConfig.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Without a store the gateway still starts and reports the misconfiguration per request.
	var authService *auth.Service
	if strings.ToLower(cfg.BasicConfig.StoreType) != "none" {
		store, err := storage.New(ctx, cfg)
		if err != nil {
			zl.Error("open store", zap.String("store_type", cfg.BasicConfig.StoreType), zap.Error(err))
		} else {
			defer store.Close()
			zl.Info("store ready", zap.String("store_type", cfg.BasicConfig.StoreType))
			authService = auth.NewService(store, cfg.SessionTTL())
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.NewHandler(authService, zl))

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zl.Info("gateway listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zl.Fatal("server stopped", zap.Error(err))
	}
}
