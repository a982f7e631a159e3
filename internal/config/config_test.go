package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Broker.Backend != BrokerRabbitMQ {
		t.Fatalf("backend = %q", cfg.Broker.Backend)
	}

	if cfg.Broker.Exchange != "social.events" {
		t.Fatalf("exchange = %q", cfg.Broker.Exchange)
	}

	if cfg.Mongo.Database != "socialcore" {
		t.Fatalf("mongo db = %q", cfg.Mongo.Database)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SOCIALCORE_BROKER", "nats")
	t.Setenv("SOCIALCORE_BROKER_URL", "nats://broker:4222")
	t.Setenv("SOCIALCORE_PREFETCH", "32")
	t.Setenv("SOCIALCORE_DRAIN_TIMEOUT", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Broker.Backend != BrokerNATS || cfg.Broker.URL != "nats://broker:4222" {
		t.Fatalf("broker = %+v", cfg.Broker)
	}

	if cfg.Broker.Options.Prefetch != 32 {
		t.Fatalf("prefetch = %d", cfg.Broker.Options.Prefetch)
	}

	if cfg.Broker.Options.DrainTimeout != 30*time.Second {
		t.Fatalf("drain timeout = %v", cfg.Broker.Options.DrainTimeout)
	}
}

func TestLoad_RejectsUnknownBroker(t *testing.T) {
	t.Setenv("SOCIALCORE_BROKER", "zeromq")

	if _, err := Load(); err == nil {
		t.Fatal("want error for unknown broker backend")
	}
}

func TestLoad_BadIntFallsBack(t *testing.T) {
	t.Setenv("SOCIALCORE_PREFETCH", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Broker.Options.Prefetch == 0 {
		t.Fatal("bad int must fall back to the default")
	}
}
