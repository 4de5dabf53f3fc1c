package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/martinsvarc/creditmanagement/internal/amqp"
	"github.com/martinsvarc/creditmanagement/internal/cli"
	"github.com/martinsvarc/creditmanagement/internal/command"
	apphttp "github.com/martinsvarc/creditmanagement/internal/http"
	"github.com/martinsvarc/creditmanagement/internal/ledger"
	applog "github.com/martinsvarc/creditmanagement/internal/log"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)

	logger.Info("starting creditsd")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitStore(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// Event publishing is best effort; without a broker the ledger still
	// commits and the audit worker simply has nothing to consume.
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("failed to initialize AMQP client, continuing without events", applog.FieldError, err)
			amqpClient = nil
		} else {
			defer amqpClient.Close()
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled, credit events will not be published")
	}

	service := ledger.NewService(repo, amqpClient)
	defer service.Close()

	dispatcher := command.NewDispatcher(service, cfg.AddCreditsMode)
	queries := ledger.NewQueries(repo)

	srv := apphttp.NewServer(":"+cfg.Port, dispatcher, queries, repo, cfg.RosterCacheTTL, logger)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, stop := cli.SignalContext()
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "port", cfg.Port, "add_credits_mode", cfg.AddCreditsMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("server stopped gracefully")
}
