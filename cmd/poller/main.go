package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/events"
	"github.com/richardliu001/wallet-ledger/internal/logger"
	"github.com/richardliu001/wallet-ledger/internal/repo"
)

func main() {
	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.Log, "wallet-poller")
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := repo.OpenPostgres(cfg.Postgres)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	repository := repo.NewRepository(gdb, repo.Options{StatementTimeout: cfg.Ledger.StatementTimeout}, log)

	pub := events.NewPublisher(cfg.Kafka)
	defer pub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events.NewRelay(repository, pub, 100, time.Second, log).Run(ctx)
}
