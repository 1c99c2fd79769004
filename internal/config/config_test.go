package config

import (
	"errors"
	"testing"
	"time"
)

func TestCheckoutFromEnv(t *testing.T) {
	t.Run("requires POSTGRES_URL", func(t *testing.T) {
		t.Setenv("POSTGRES_URL", "")

		_, err := CheckoutFromEnv()
		if !errors.Is(err, ErrMissingPostgresURL) {
			t.Errorf("expected ErrMissingPostgresURL, got %v", err)
		}
	})

	t.Run("applies defaults", func(t *testing.T) {
		t.Setenv("POSTGRES_URL", "postgres://localhost/db")
		t.Setenv("INTENT_TTL", "")
		t.Setenv("PAYMENT_SANDBOX", "")
		t.Setenv("KAFKA_BROKERS", "")

		cfg, err := CheckoutFromEnv()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Port != "8081" {
			t.Errorf("expected port 8081, got %s", cfg.Port)
		}
		if cfg.IntentTTL != 30*time.Minute {
			t.Errorf("expected 30m ttl, got %s", cfg.IntentTTL)
		}
		if cfg.Gateway.APIVersion != "2022-09-01" {
			t.Errorf("expected api version 2022-09-01, got %s", cfg.Gateway.APIVersion)
		}
		if cfg.Gateway.Sandbox {
			t.Error("expected sandbox mode to be off unless configured")
		}
		if cfg.KafkaBrokers != nil {
			t.Errorf("expected no brokers, got %v", cfg.KafkaBrokers)
		}
	})

	t.Run("parses overrides", func(t *testing.T) {
		t.Setenv("POSTGRES_URL", "postgres://localhost/db")
		t.Setenv("INTENT_TTL", "900")
		t.Setenv("GATEWAY_TIMEOUT", "5s")
		t.Setenv("PAYMENT_SANDBOX", "true")
		t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
		t.Setenv("CASHFREE_BASE_URL", "https://api.cashfree.com/pg/")

		cfg, err := CheckoutFromEnv()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.IntentTTL != 15*time.Minute {
			t.Errorf("expected 15m ttl, got %s", cfg.IntentTTL)
		}
		if cfg.Gateway.Timeout != 5*time.Second {
			t.Errorf("expected 5s timeout, got %s", cfg.Gateway.Timeout)
		}
		if !cfg.Gateway.Sandbox {
			t.Error("expected sandbox mode")
		}
		if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
			t.Errorf("unexpected brokers %v", cfg.KafkaBrokers)
		}
		if cfg.Gateway.BaseURL != "https://api.cashfree.com/pg" {
			t.Errorf("expected trailing slash trimmed, got %s", cfg.Gateway.BaseURL)
		}
	})
}

func TestWorkerFromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092")
	t.Setenv("EMAIL_SERVICE_URL", "")

	if _, err := WorkerFromEnv(); err == nil {
		t.Error("expected error for missing EMAIL_SERVICE_URL")
	}

	t.Setenv("EMAIL_SERVICE_URL", "http://email:8084")
	cfg, err := WorkerFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OpsAlertEmail != "ops@example.com" {
		t.Errorf("expected default ops email, got %s", cfg.OpsAlertEmail)
	}
}
