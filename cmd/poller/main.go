package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/richardliu001/gamestore-wallet/internal/config"
	"github.com/richardliu001/gamestore-wallet/internal/logger"
	"github.com/richardliu001/gamestore-wallet/internal/outbox"
	"github.com/richardliu001/gamestore-wallet/internal/repo"

	"github.com/segmentio/kafka-go"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := repo.Open(cfg.Database)
	if err != nil {
		log.Fatalf("open %s: %v", cfg.Database.Driver, err)
	}

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}
	defer kw.Close()

	// the poller never touches balances, so it runs without redis
	repository := repo.NewRepository(gdb, nil, kw, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outbox.NewRelay(repository, log, cfg.Kafka.PollInterval, cfg.Kafka.BatchSize).Run(ctx)
}
