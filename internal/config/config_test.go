package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr = %q", cfg.App.Addr())
	}
	if cfg.Reorder.Buffer != 5 {
		t.Errorf("Reorder.Buffer = %d, want 5", cfg.Reorder.Buffer)
	}
	if cfg.Reorder.Priority != "P3" {
		t.Errorf("Reorder.Priority = %q, want P3", cfg.Reorder.Priority)
	}
	if cfg.Delivery.Sink != SinkLog {
		t.Errorf("Delivery.Sink = %q, want %q", cfg.Delivery.Sink, SinkLog)
	}
	if cfg.Delivery.Workers < 2 {
		t.Errorf("Delivery.Workers = %d, want more than one", cfg.Delivery.Workers)
	}
	loc, err := cfg.Ticketing.Location()
	if err != nil || loc != time.UTC {
		t.Errorf("Location = %v, %v; want UTC", loc, err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REORDER_BUFFER", "12")
	t.Setenv("INTEGRATION_SINK", "AMQP")
	t.Setenv("TICKET_ID_TIMEZONE", "Europe/Berlin")
	t.Setenv("DELIVERY_MAX_ATTEMPTS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Reorder.Buffer != 12 {
		t.Errorf("Reorder.Buffer = %d, want 12", cfg.Reorder.Buffer)
	}
	if cfg.Delivery.Sink != SinkAMQP {
		t.Errorf("Delivery.Sink = %q, want amqp", cfg.Delivery.Sink)
	}
	if cfg.Delivery.MaxAttempts != 3 {
		t.Errorf("Delivery.MaxAttempts = %d, want 3", cfg.Delivery.MaxAttempts)
	}
	loc, err := cfg.Ticketing.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if loc.String() != "Europe/Berlin" {
		t.Errorf("Location = %q", loc.String())
	}
}

func TestLoad_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"negative buffer", "REORDER_BUFFER", "-1", "REORDER_BUFFER"},
		{"bad priority", "REORDER_PRIORITY", "HIGH", "REORDER_PRIORITY"},
		{"bad sink", "INTEGRATION_SINK", "kafka", "INTEGRATION_SINK"},
		{"http sink without url", "INTEGRATION_SINK", "http", "INTEGRATION_HTTP_URL"},
		{"bad zone", "TICKET_ID_TIMEZONE", "Mars/Olympus", "TICKET_ID_TIMEZONE"},
		{"zero attempts", "DELIVERY_MAX_ATTEMPTS", "0", "DELIVERY_MAX_ATTEMPTS"},
		{"bad redis db", "REDIS_DB", "x", "REDIS_DB"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("Load with %s=%q should fail", tc.key, tc.value)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %q, want mention of %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestDurations(t *testing.T) {
	d := DeliveryConfig{InitialBackoffMs: 0, MaxBackoffMs: 250, PollIntervalMs: -1}
	if d.InitialBackoff() != 500*time.Millisecond {
		t.Errorf("InitialBackoff = %s", d.InitialBackoff())
	}
	if d.MaxBackoff() != 250*time.Millisecond {
		t.Errorf("MaxBackoff = %s", d.MaxBackoff())
	}
	if d.PollInterval() != 2*time.Second {
		t.Errorf("PollInterval = %s", d.PollInterval())
	}
	if (AppConfig{}).RequestTimeout() != 0 {
		t.Error("zero timeout should disable request timeout")
	}
}
