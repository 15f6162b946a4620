package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"chatrelay/internal/app"
	"chatrelay/internal/httpapi"
	"chatrelay/internal/relay"
	"chatrelay/internal/store"
	"chatrelay/pkg/devicetoken"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg := app.LoadConfig()
	logger := app.NewLogger(cfg.Env)

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Postgres connection + migrations
	pg, err := store.NewPostgres(ctx, cfg, logger)
	if err != nil {
		logger.Error("postgres connect", "err", err)
		log.Fatal(err)
	}
	defer pg.Close()
	if err := store.RunMigrations(ctx, pg, logger); err != nil {
		logger.Error("migrations", "err", err)
		log.Fatal(err)
	}

	// Redis history cache; the relay runs without it if redis is absent
	cache, err := relay.NewHistoryCache(ctx, cfg, logger)
	if err != nil {
		logger.Warn("redis unavailable, history served from postgres only", "err", err)
		cache = nil
	} else {
		defer cache.Close()
	}

	// Coordination core
	registry := relay.NewRegistry()
	coord := relay.NewCoordinator(logger, pg, registry, cache, cfg.ReclaimGrace)
	defer coord.Reclaimer().Stop()
	gateway := relay.NewGateway(logger, registry, coord, devicetoken.New(cfg.TokenSecret))

	// HTTP + WS router
	router := httpapi.NewRouter(cfg, logger, gateway, coord, pg)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server.listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server.shutdown.start")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server.crash", "err", err)
		os.Exit(1)
	}
	logger.Info("server.shutdown.complete")
}
