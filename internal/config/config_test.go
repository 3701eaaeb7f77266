package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDuration_UnmarshalJSON_String(t *testing.T) {
	var d Duration
	err := json.Unmarshal([]byte(`"30s"`), &d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Duration != 30*time.Second {
		t.Errorf("expected 30s, got %v", d.Duration)
	}
}

func TestDuration_UnmarshalJSON_Number(t *testing.T) {
	var d Duration
	err := json.Unmarshal([]byte(`10`), &d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Duration != 10*time.Second {
		t.Errorf("expected 10s, got %v", d.Duration)
	}
}

func TestDuration_UnmarshalJSON_Invalid(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"not-a-duration"`), &d); err == nil {
		t.Fatal("expected error for invalid duration string")
	}
	if err := json.Unmarshal([]byte(`true`), &d); err == nil {
		t.Fatal("expected error for boolean duration")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent-config.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"identity": {"user_id": "user-1"},
		"gateway": {"url": "wss://voice.example.com/ws", "agent_id": "agent-1"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Metering.FreeTrialSeconds != 1200 {
		t.Errorf("expected free trial default 1200, got %d", cfg.Metering.FreeTrialSeconds)
	}
	if cfg.Metering.DebitIntervalSeconds != 10 {
		t.Errorf("expected debit interval default 10, got %d", cfg.Metering.DebitIntervalSeconds)
	}
	if cfg.Metering.TickInterval.Duration != time.Second {
		t.Errorf("expected tick interval default 1s, got %v", cfg.Metering.TickInterval.Duration)
	}
	if cfg.Store.Addr != "localhost:6379" {
		t.Errorf("expected store addr default, got %s", cfg.Store.Addr)
	}
	if cfg.Agent.LogLevel != "info" {
		t.Errorf("expected log level default info, got %s", cfg.Agent.LogLevel)
	}
	if cfg.Agent.SocketPath == "" {
		t.Error("expected socket path default to be set")
	}
}

func TestLoad_MissingGatewayURL(t *testing.T) {
	path := writeConfig(t, `{
		"identity": {"user_id": "user-1"},
		"gateway": {"agent_id": "agent-1"}
	}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing gateway.url")
	}
}

func TestLoad_MissingIdentity(t *testing.T) {
	path := writeConfig(t, `{
		"gateway": {"url": "wss://voice.example.com/ws", "agent_id": "agent-1"}
	}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error when neither user_id nor token is set")
	}
}

func TestLoad_TokenRequiresJWKS(t *testing.T) {
	path := writeConfig(t, `{
		"identity": {"token": "eyJ..."},
		"gateway": {"url": "wss://voice.example.com/ws", "agent_id": "agent-1"}
	}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error when token is set without jwks_url")
	}
}

func TestLoad_DuplicateOfferID(t *testing.T) {
	path := writeConfig(t, `{
		"identity": {"user_id": "user-1"},
		"gateway": {"url": "wss://voice.example.com/ws", "agent_id": "agent-1"},
		"billing": {"offers": [
			{"id": "basic", "tier": "Basic", "price_minor_units": 249, "grant_seconds": 2400},
			{"id": "basic", "tier": "Basic", "price_minor_units": 249, "grant_seconds": 2400}
		]}
	}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate offer id")
	}
}

func TestLoad_OfferOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"identity": {"user_id": "user-1"},
		"gateway": {"url": "wss://voice.example.com/ws", "agent_id": "agent-1"},
		"metering": {"free_trial_seconds": 600, "tick_interval": "100ms"},
		"billing": {"offers": [
			{"id": "pro", "tier": "Pro", "price_minor_units": 1150, "grant_seconds": 12000}
		]}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Metering.FreeTrialSeconds != 600 {
		t.Errorf("expected free trial 600, got %d", cfg.Metering.FreeTrialSeconds)
	}
	if cfg.Metering.TickInterval.Duration != 100*time.Millisecond {
		t.Errorf("expected tick interval 100ms, got %v", cfg.Metering.TickInterval.Duration)
	}
	if len(cfg.Billing.Offers) != 1 || cfg.Billing.Offers[0].GrantSeconds != 12000 {
		t.Errorf("unexpected offers: %+v", cfg.Billing.Offers)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
