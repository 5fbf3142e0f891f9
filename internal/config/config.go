// Package config reads service configuration from the environment.
package config

import (
	"strings"
	"time"
)

// KafkaConfig holds broker settings for the async saga leg. Empty Brokers
// disables the leg entirely.
type KafkaConfig struct {
	Brokers      []string
	RequestTopic string
	ResultTopic  string
	GroupID      string
}

// Enabled reports whether a broker is configured.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// BreakerConfig holds cache circuit breaker settings.
type BreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// OrdersConfig configures the orders service.
type OrdersConfig struct {
	HTTPAddr         string
	ObsAddr          string
	PostgresURL      string
	InventoryBaseURL string
	Kafka            KafkaConfig
}

// InventoryConfig configures the inventory service.
type InventoryConfig struct {
	HTTPAddr    string
	ObsAddr     string
	PostgresURL string
	RedisURL    string
	Kafka       KafkaConfig
	Breaker     BreakerConfig
}

// LoadOrders reads the orders service config from env.
func LoadOrders() (OrdersConfig, error) {
	cfg := OrdersConfig{
		HTTPAddr: stringOr("ORDERS_HTTP_ADDR", ":8080"),
		ObsAddr:  stringOr("ORDERS_OBS_ADDR", ":9090"),
	}

	var err error
	if cfg.PostgresURL, err = requiredString("ORDERS_POSTGRES_URL"); err != nil {
		return cfg, err
	}
	if cfg.InventoryBaseURL, err = requiredString("INVENTORY_BASE_URL"); err != nil {
		return cfg, err
	}
	cfg.Kafka = loadKafka("orders-service")
	return cfg, nil
}

// LoadInventory reads the inventory service config from env.
func LoadInventory() (InventoryConfig, error) {
	cfg := InventoryConfig{
		HTTPAddr: stringOr("INVENTORY_HTTP_ADDR", ":8081"),
		ObsAddr:  stringOr("INVENTORY_OBS_ADDR", ":9091"),
		RedisURL: optionalString("INVENTORY_REDIS_URL"),
	}

	var err error
	if cfg.PostgresURL, err = requiredString("INVENTORY_POSTGRES_URL"); err != nil {
		return cfg, err
	}

	maxFailures, err := intOr("CACHE_BREAKER_MAX_FAILURES", 5)
	if err != nil {
		return cfg, err
	}
	resetTimeout, err := durationOr("CACHE_BREAKER_RESET_TIMEOUT", 2*time.Second)
	if err != nil {
		return cfg, err
	}
	cfg.Breaker = BreakerConfig{MaxFailures: maxFailures, ResetTimeout: resetTimeout}

	cfg.Kafka = loadKafka("inventory-service")
	return cfg, nil
}

func loadKafka(defaultGroup string) KafkaConfig {
	cfg := KafkaConfig{
		RequestTopic: stringOr("KAFKA_REQUEST_TOPIC", "stock-decrease-requests"),
		ResultTopic:  stringOr("KAFKA_RESULT_TOPIC", "stock-results"),
		GroupID:      stringOr("KAFKA_GROUP_ID", defaultGroup),
	}
	raw := optionalString("KAFKA_BROKERS")
	if raw == "" {
		return cfg
	}
	for _, broker := range strings.Split(raw, ",") {
		broker = strings.TrimSpace(broker)
		if broker != "" {
			cfg.Brokers = append(cfg.Brokers, broker)
		}
	}
	return cfg
}
