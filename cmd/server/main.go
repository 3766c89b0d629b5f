package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/gamestore-wallet/internal/config"
	"github.com/richardliu001/gamestore-wallet/internal/lock"
	"github.com/richardliu001/gamestore-wallet/internal/logger"
	"github.com/richardliu001/gamestore-wallet/internal/repo"
	"github.com/richardliu001/gamestore-wallet/internal/service"
	httptransport "github.com/richardliu001/gamestore-wallet/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

func main() {
	// 1. load config
	cfg, err := config.Load(config.Path())
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. database
	gdb, err := repo.Open(cfg.Database)
	if err != nil {
		log.Fatalf("open %s: %v", cfg.Database.Driver, err)
	}
	if err := repo.Migrate(gdb); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}
	defer rdb.Close()

	// 5. kafka writer, used by PublishEvent; the poller drains the outbox
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}
	defer kw.Close()

	// 6. repo & service
	repository := repo.NewRepository(gdb, rdb, kw, log).WithCacheTTL(cfg.Wallet.CacheTTL)
	opts := []service.Option{service.WithMaxRetries(cfg.Wallet.MaxRetries)}
	if cfg.Wallet.LockEnabled {
		opts = append(opts, service.WithLocker(
			lock.NewWalletLocker(rdb, cfg.Wallet.LockTTL, cfg.Wallet.LockRetry, cfg.Wallet.LockMaxRetries)))
	}
	svc := service.NewWalletService(repository, log, opts...)

	// 7. gin router
	router := httptransport.NewRouter(svc, cfg.RateLimit, log)

	// 8. serve until SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("wallet-server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}
