package main

import (
	"time"

	"github.com/martinsvarc/creditmanagement/internal/amqp"
	"github.com/martinsvarc/creditmanagement/internal/cli"
	"github.com/martinsvarc/creditmanagement/internal/ledger"
	applog "github.com/martinsvarc/creditmanagement/internal/log"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentMonthly)

	logger.Info("starting monthly-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitStore(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// Grants publish credit events like any other mutation; the broker is
	// optional here for the same reason it is in creditsd.
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("failed to initialize AMQP client, continuing without events", applog.FieldError, err)
			amqpClient = nil
		} else {
			defer amqpClient.Close()
		}
	}

	service := ledger.NewService(repo, amqpClient)
	defer service.Close()

	processor := ledger.NewMonthlyProcessor(repo, service)

	ctx, stop := cli.SignalContext()
	defer stop()

	logger.Info("monthly grant processor configured",
		"interval", cfg.MonthlyInterval,
		"sqlite_db", cfg.SQLiteDBPath)

	ticker := time.NewTicker(cfg.MonthlyInterval)
	defer ticker.Stop()

	// Run once on startup so a worker that was down over a month boundary
	// catches up immediately.
	if count, err := processor.ProcessDueGrants(ctx, time.Now()); err != nil {
		logger.Error("initial grant processing failed", applog.FieldError, err)
	} else {
		logger.Info("initial grant processing complete", "grants_applied", count)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("monthly-worker stopped")
			return
		case now := <-ticker.C:
			count, err := processor.ProcessDueGrants(ctx, now)
			if err != nil {
				logger.Error("periodic grant processing failed", applog.FieldError, err)
				continue
			}
			logger.Info("periodic grant processing complete",
				"grants_applied", count,
				"next_check", now.Add(cfg.MonthlyInterval).Format("15:04:05"))
		}
	}
}
