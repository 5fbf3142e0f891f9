package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"stockline/internal/config"
	invdb "stockline/internal/db/inventory"
	"stockline/internal/inventory"
	"stockline/internal/messaging"
	"stockline/internal/observability"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("inventory service error: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadInventory()
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	stocks, err := invdb.NewStockStoreWithSchema(ctx, db)
	if err != nil {
		return err
	}
	ledger, err := invdb.NewIdempotencyStoreWithSchema(ctx, db)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()

	var counter inventory.Counter
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		client := redis.NewClient(redisOpts)
		defer client.Close()

		breaker := inventory.NewCircuitBreaker(inventory.CircuitBreakerConfig{
			MaxFailures:  cfg.Breaker.MaxFailures,
			ResetTimeout: cfg.Breaker.ResetTimeout,
		})
		counter = inventory.NewBreakerCounter(
			inventory.NewRedisCounter(client, log.Printf), breaker, stocks, log.Printf)
	}

	engineOpts := []inventory.EngineOption{
		inventory.WithMetrics(metrics),
		inventory.WithLogger(log.Printf),
	}
	if counter != nil {
		engineOpts = append(engineOpts, inventory.WithCache(counter))
	}
	engine := inventory.NewEngine(ledger, stocks, engineOpts...)

	if cfg.Kafka.Enabled() {
		resultWriter := &kafka.Writer{
			Addr:     kafka.TCP(cfg.Kafka.Brokers...),
			Topic:    cfg.Kafka.ResultTopic,
			Balancer: &kafka.Hash{},
		}
		defer resultWriter.Close()
		results := messaging.NewResultPublisher(resultWriter, messaging.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    time.Second,
		}, log.Printf)

		requestReader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
			Topic:   cfg.Kafka.RequestTopic,
		})
		defer requestReader.Close()

		consumer := messaging.NewRequestConsumer(requestReader, engine, results, log.Printf)
		go consumer.Run(ctx)
	}

	handler := inventory.NewHandler(engine, stocks, counter, log.Printf)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: observability.Middleware(metrics, handler.Routes())}

	obsMux := http.NewServeMux()
	obsMux.Handle("/metrics", observability.Handler(metrics))
	obsSrv := &http.Server{Addr: cfg.ObsAddr, Handler: obsMux}
	go func() {
		if err := obsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	log.Printf("inventory service listening on %s", cfg.HTTPAddr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = obsSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
