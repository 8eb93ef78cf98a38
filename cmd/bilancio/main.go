package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bilancio/internal/amqp"
	"bilancio/internal/auth"
	"bilancio/internal/cli"
	"bilancio/internal/httpapi"
	"bilancio/internal/ledger"
)

func main() {
	cfg, logger := cli.Bootstrap("bilancio")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := cli.OpenStore(logger, cfg)

	// Without a broker the mirror is off; expense rows stay pending and
	// the worker replays them once it comes up against the same database.
	var publisher ledger.Publisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClientWithRetry(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPExportQueue, cfg.AMQPRemoveQueue)
		if err != nil {
			logger.Error("Failed to connect to AMQP broker", "error", err)
			os.Exit(1)
		}
		publisher = client
		logger.Info("Export publisher connected", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("Export publisher disabled, AMQP_URL not set")
	}

	svc := ledger.NewService(st, publisher, cfg.BcryptCost)
	defer svc.Close()

	if cfg.AdminEmail != "" {
		created, err := svc.EnsureSuperadmin(ctx, cfg.AdminEmail, cfg.AdminFullName, cfg.AdminPassword)
		if err != nil {
			logger.Error("Failed to seed superadmin", "error", err)
			os.Exit(1)
		}
		if created {
			logger.Info("Superadmin created", "email", cfg.AdminEmail)
		}
	}

	authn := auth.New(st, cfg.JWTSecret, cfg.TokenTTL)

	srv := httpapi.NewServer(httpapi.Options{
		Addr:      cfg.Addr(),
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL,
	}, svc, authn)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}

	logger.Info("Server stopped gracefully")
}
