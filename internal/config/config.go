// Package config loads the process configuration from the environment once at
// startup. The resulting struct is passed to constructors explicitly; nothing
// here is read again after main has started.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	ServiceName string
	Env         string
	HTTPAddr    string

	// DatabaseURL selects the Postgres-backed stores when set; the in-memory
	// stores are used otherwise.
	DatabaseURL string

	// KafkaBrokers enables the Kafka event publisher when non-empty.
	KafkaBrokers []string

	TaxRate               decimal.Decimal
	ShippingFlatRate      decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	Currency              string

	ReservationTTL time.Duration
	SweepInterval  time.Duration

	RetryMaxAttempts uint64
	RetryBaseDelay   time.Duration

	GatewayTimeout     time.Duration
	GatewaySuccessRate float64
}

func Load() (Config, error) {
	cfg := Config{
		ServiceName: getenv("SERVICE_NAME", "fulfillment"),
		Env:         getenv("ENV", "dev"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Currency:    getenv("CURRENCY", "USD"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	var err error
	if cfg.TaxRate, err = decimalEnv("TAX_RATE", "0.08"); err != nil {
		return Config{}, err
	}
	if cfg.ShippingFlatRate, err = decimalEnv("SHIPPING_FLAT_RATE", "0"); err != nil {
		return Config{}, err
	}
	if cfg.FreeShippingThreshold, err = decimalEnv("FREE_SHIPPING_THRESHOLD", "0"); err != nil {
		return Config{}, err
	}

	if cfg.ReservationTTL, err = durationEnv("RESERVATION_TTL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}

	attempts, err := intEnv("RETRY_MAX_ATTEMPTS", 3)
	if err != nil {
		return Config{}, err
	}
	if attempts < 1 {
		return Config{}, fmt.Errorf("config: RETRY_MAX_ATTEMPTS must be at least 1")
	}
	cfg.RetryMaxAttempts = uint64(attempts)

	if cfg.RetryBaseDelay, err = durationEnv("RETRY_BASE_DELAY", 50*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.GatewayTimeout, err = durationEnv("GATEWAY_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}

	rate := getenv("GATEWAY_SUCCESS_RATE", "0.95")
	if cfg.GatewaySuccessRate, err = strconv.ParseFloat(rate, 64); err != nil {
		return Config{}, fmt.Errorf("config: GATEWAY_SUCCESS_RATE: %w", err)
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func decimalEnv(key, def string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(getenv(key, def))
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}
