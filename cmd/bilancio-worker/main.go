package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"bilancio/internal/amqp"
	"bilancio/internal/cli"
	"bilancio/internal/sheets"
	"bilancio/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap("bilancio-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}
	if cfg.GoogleSpreadsheetID == "" {
		logger.Error("GOOGLE_SPREADSHEET_ID is required for the worker")
		os.Exit(1)
	}

	st := cli.OpenStore(logger, cfg)
	defer st.Close()

	sheetSvc, err := sheets.New(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleCredentialsFile, cfg.GoogleCredentialsJSON)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", "error", err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client ready", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	client, err := amqp.NewClientWithRetry(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPExportQueue, cfg.AMQPRemoveQueue)
	if err != nil {
		logger.Error("Failed to connect to AMQP broker", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	w := worker.NewWorker(st, sheetSvc, cfg.SyncBatchSize)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return client.ConsumeExports(gctx, func(msg *amqp.ExportMessage) error {
			return w.HandleExportMessage(gctx, msg)
		})
	})

	g.Go(func() error {
		return client.ConsumeRemovals(gctx, func(msg *amqp.RemoveMessage) error {
			return w.HandleRemoveMessage(gctx, msg)
		})
	})

	// The scan picks up rows whose publish never reached the broker.
	g.Go(func() error {
		return w.RunPendingScan(gctx, cfg.SyncInterval)
	})

	logger.Info("Worker started",
		"export_queue", cfg.AMQPExportQueue,
		"remove_queue", cfg.AMQPRemoveQueue,
		"sync_interval", cfg.SyncInterval)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker error", "error", err)
		os.Exit(1)
	}

	logger.Info("Worker stopped gracefully")
}
