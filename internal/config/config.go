package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Checkout holds the settings of the checkout service, read from the
// environment with defaults for everything except the database.
type Checkout struct {
	Port         string
	PostgresURL  string
	KafkaBrokers []string

	Gateway Gateway

	FrontendURL          string
	ReturnURLPlaceholder string
	IntentTTL            time.Duration
	JanitorInterval      time.Duration
	IntentRetention      time.Duration
	TrackingLocation     string
}

// Gateway configures the outbound Cashfree-compatible payment API.
type Gateway struct {
	BaseURL    string
	AppID      string
	SecretKey  string
	APIVersion string
	Currency   string
	Sandbox    bool
	Timeout    time.Duration
}

// Worker holds the settings of the notification worker.
type Worker struct {
	KafkaBrokers    []string
	EmailServiceURL string
	OpsAlertEmail   string
}

var ErrMissingPostgresURL = errors.New("POSTGRES_URL environment variable is required")

func CheckoutFromEnv() (Checkout, error) {
	cfg := Checkout{
		Port:         envOrDefault("PORT", "8081"),
		PostgresURL:  os.Getenv("POSTGRES_URL"),
		KafkaBrokers: envList("KAFKA_BROKERS"),
		Gateway: Gateway{
			BaseURL:    strings.TrimRight(envOrDefault("CASHFREE_BASE_URL", "https://sandbox.cashfree.com/pg"), "/"),
			AppID:      os.Getenv("CASHFREE_APP_ID"),
			SecretKey:  os.Getenv("CASHFREE_SECRET_KEY"),
			APIVersion: envOrDefault("CASHFREE_API_VERSION", "2022-09-01"),
			Currency:   envOrDefault("PAYMENT_CURRENCY", "INR"),
			Sandbox:    envBool("PAYMENT_SANDBOX", false),
			Timeout:    envDuration("GATEWAY_TIMEOUT", 15*time.Second),
		},
		FrontendURL:          os.Getenv("FRONTEND_URL"),
		ReturnURLPlaceholder: envOrDefault("RETURN_URL_PLACEHOLDER", "https://example.com"),
		IntentTTL:            envDuration("INTENT_TTL", 30*time.Minute),
		JanitorInterval:      envDuration("JANITOR_INTERVAL", time.Minute),
		IntentRetention:      envDuration("INTENT_RETENTION", 7*24*time.Hour),
		TrackingLocation:     envOrDefault("TRACKING_LOCATION", "Online Store"),
	}

	if cfg.PostgresURL == "" {
		return cfg, ErrMissingPostgresURL
	}
	return cfg, nil
}

func WorkerFromEnv() (Worker, error) {
	cfg := Worker{
		KafkaBrokers:    envList("KAFKA_BROKERS"),
		EmailServiceURL: os.Getenv("EMAIL_SERVICE_URL"),
		OpsAlertEmail:   envOrDefault("OPS_ALERT_EMAIL", "ops@example.com"),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return cfg, errors.New("KAFKA_BROKERS environment variable is required")
	}
	if cfg.EmailServiceURL == "" {
		return cfg, errors.New("EMAIL_SERVICE_URL environment variable is required")
	}
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration accepts Go duration strings ("30m") and bare seconds ("900").
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
