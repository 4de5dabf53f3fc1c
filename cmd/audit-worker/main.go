package main

import (
	"context"
	"errors"
	"os"

	"github.com/martinsvarc/creditmanagement/internal/amqp"
	"github.com/martinsvarc/creditmanagement/internal/cli"
	"github.com/martinsvarc/creditmanagement/internal/config"
	"github.com/martinsvarc/creditmanagement/internal/export"
	gsheet "github.com/martinsvarc/creditmanagement/internal/export/google"
	applog "github.com/martinsvarc/creditmanagement/internal/log"
	"github.com/martinsvarc/creditmanagement/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)

	logger.Info("starting audit-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitStore(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	ctx, stop := cli.SignalContext()
	defer stop()

	var sink export.TransactionSink
	switch cfg.AuditSink {
	case config.AuditSinkSheets:
		client, err := gsheet.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("failed to initialize Google Sheets sink", applog.FieldError, err)
			os.Exit(1)
		}
		sink = client
		logger.Info("Google Sheets sink initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)
	default:
		// Without a sink there is nothing to export; leaving the queue
		// alone keeps the events for when a sink is configured.
		logger.Info("no audit sink configured, idling until shutdown")
		<-ctx.Done()
		return
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	auditWorker := worker.NewAuditWorker(repo, sink)

	logger.Info("consuming credit events", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	err = amqpClient.ConsumeCreditEvents(ctx, func(msg *amqp.CreditEventMessage) error {
		return auditWorker.HandleCreditEvent(ctx, msg)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("event consumption failed", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("audit-worker stopped")
}
