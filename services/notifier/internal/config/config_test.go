package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CMMS_CONFIG", "testdata/missing.yaml")
	t.Setenv("CMMS_SMTP_ADDR", "mail:25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.ServiceName != "notifier" {
		t.Fatalf("unexpected service name %q", cfg.App.ServiceName)
	}
	if cfg.Kafka.Topic != "notification.requested" || cfg.Kafka.ConsumerGroup != "notifier" {
		t.Fatalf("unexpected kafka config %+v", cfg.Kafka)
	}
	if cfg.MaxEventAge != 5*time.Minute {
		t.Fatalf("unexpected max event age %v", cfg.MaxEventAge)
	}
}

func TestLoadRequiresTransport(t *testing.T) {
	t.Setenv("CMMS_CONFIG", "testdata/missing.yaml")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without sms or smtp settings")
	}
}

func TestLoadBrokerOverride(t *testing.T) {
	t.Setenv("CMMS_CONFIG", "testdata/missing.yaml")
	t.Setenv("CMMS_SMS_API_KEY", "key")
	t.Setenv("CMMS_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("expected two brokers, got %v", cfg.Kafka.Brokers)
	}
}
