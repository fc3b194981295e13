// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/phishsim-backend/internal/app"
	"github.com/unclebandit/phishsim-backend/internal/config"
	"github.com/unclebandit/phishsim-backend/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer func() { _ = logging.Sync() }()
	log := logging.L()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal("invalid config", zap.Error(err))
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		logging.Fatal("open store", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("close store", zap.Error(err))
		}
	}()

	q, closeQueue, err := a.OpenQueue()
	if err != nil {
		logging.Fatal("open dispatch queue", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.Router(a.CampaignService(q)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server running",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.Store),
			zap.String("dispatch", cfg.DispatchMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown server", zap.Error(err))
	}
	// In-process dispatch runs finish before the store is closed.
	if err := closeQueue(shutdownCtx); err != nil {
		log.Error("close dispatch queue", zap.Error(err))
	}
}
