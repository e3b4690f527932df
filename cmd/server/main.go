package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/logger"
	"github.com/richardliu001/wallet-ledger/internal/metrics"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/richardliu001/wallet-ledger/internal/service"
	httptransport "github.com/richardliu001/wallet-ledger/internal/transport/http"
)

func main() {
	// 1. load config
	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log, "wallet-server")
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := repo.OpenPostgres(cfg.Postgres)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := repo.Migrate(gdb); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}
	repository := repo.NewRepository(gdb, repo.Options{
		LockMode:         cfg.Ledger.LockMode,
		LockTimeout:      cfg.Ledger.LockTimeout,
		StatementTimeout: cfg.Ledger.StatementTimeout,
	}, log)

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		// the cache is advisory; reads fall back to postgres
		log.Warnw("redis ping failed", "addr", cfg.Redis.Addr, "error", err)
	}

	// 5. metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 6. service
	svc := service.NewWalletService(repository, cfg, log,
		service.WithCache(repo.NewBalanceCache(rdb, cfg.Redis.BalanceTTL)),
		service.WithRecorder(m),
	)

	// 7. gin router behind CORS
	router := httptransport.NewRouter(svc, httptransport.RouterOptions{
		RateLimit: cfg.RateLimit,
		Metrics:   m,
		Gatherer:  reg,
	}, log)
	handler := cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	})(router)

	// 8. serve
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler,
	}
	go func() {
		log.Infof("wallet-server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}
