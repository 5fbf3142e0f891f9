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

	"github.com/segmentio/kafka-go"

	"stockline/internal/config"
	ordersdb "stockline/internal/db/orders"
	"stockline/internal/invclient"
	"stockline/internal/messaging"
	"stockline/internal/observability"
	"stockline/internal/orders"
	"stockline/internal/orders/httpapi"
	"stockline/internal/orders/saga"
	"stockline/internal/realtime"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("orders service error: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadOrders()
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := ordersdb.NewOrderStoreWithSchema(ctx, db)
	if err != nil {
		return err
	}

	stock := invclient.New(cfg.InventoryBaseURL, invclient.WithLogger(log.Printf))
	metrics := observability.NewMetrics()

	hub := realtime.NewHub(log.Printf)
	go hub.Run()

	opts := []saga.ServiceOption{
		saga.WithNotifier(func(o orders.Order) {
			hub.NotifyOrder(realtime.OrderEvent{
				OrderID: o.ID,
				Status:  string(o.Status),
				Reason:  o.FailReason,
			})
		}),
	}

	var resultReader *kafka.Reader
	if cfg.Kafka.Enabled() {
		writer := &kafka.Writer{
			Addr:     kafka.TCP(cfg.Kafka.Brokers...),
			Topic:    cfg.Kafka.RequestTopic,
			Balancer: &kafka.Hash{},
		}
		defer writer.Close()
		opts = append(opts, saga.WithPublisher(messaging.NewDecreasePublisher(writer, log.Printf)))

		resultReader = kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
			Topic:   cfg.Kafka.ResultTopic,
		})
		defer resultReader.Close()
	}

	service := saga.NewService(store, stock, metrics, opts...)

	if resultReader != nil {
		consumer := messaging.NewResultConsumer(resultReader, service, log.Printf)
		go consumer.Run(ctx)
	}

	handler := httpapi.NewHandler(service, hub.ServeWS, log.Printf)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: observability.Middleware(metrics, handler.Routes())}

	obsMux := http.NewServeMux()
	obsMux.Handle("/metrics", observability.Handler(metrics))
	obsSrv := &http.Server{Addr: cfg.ObsAddr, Handler: obsMux}
	go func() {
		if err := obsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	log.Printf("orders service listening on %s", cfg.HTTPAddr)
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
