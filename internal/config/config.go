// Package config handles agent configuration loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level agent configuration.
type Config struct {
	Identity IdentityConfig `json:"identity"`
	Gateway  GatewayConfig  `json:"gateway"`
	Store    StoreConfig    `json:"store"`
	Billing  BillingConfig  `json:"billing"`
	Metering MeteringConfig `json:"metering"`
	Handoff  HandoffConfig  `json:"handoff"`
	Agent    AgentConfig    `json:"agent"`
}

// IdentityConfig describes how the agent resolves the authenticated user.
// Either a verified ID token (token + jwks_url) or a pre-resolved user ID
// must be supplied; without a user no ledger operation is permitted.
type IdentityConfig struct {
	UserID  string `json:"user_id,omitempty"`
	Token   string `json:"token,omitempty"`
	JWKSURL string `json:"jwks_url,omitempty"`
}

// GatewayConfig defines the connection to the real-time voice gateway.
type GatewayConfig struct {
	URL           string   `json:"url"`
	AgentID       string   `json:"agent_id"`
	DialTimeout   Duration `json:"dial_timeout,omitempty"`
	AcceptTimeout Duration `json:"accept_timeout,omitempty"`
	TLSSkipVerify bool     `json:"tls_skip_verify,omitempty"` // dev only
}

// StoreConfig defines the remote balance store (Redis) connection.
type StoreConfig struct {
	Addr        string   `json:"addr"`
	Password    string   `json:"password,omitempty"`
	DB          int      `json:"db,omitempty"`
	DialTimeout Duration `json:"dial_timeout,omitempty"`
	OpTimeout   Duration `json:"op_timeout,omitempty"` // per read/write deadline
}

// BillingConfig defines the payment gateway and the purchasable offers.
type BillingConfig struct {
	BaseURL  string        `json:"base_url"`
	APIKey   string        `json:"api_key,omitempty"`
	Currency string        `json:"currency,omitempty"`
	Timeout  Duration      `json:"timeout,omitempty"`
	Offers   []OfferConfig `json:"offers,omitempty"` // empty = built-in catalog
}

// OfferConfig overrides one entry of the plan catalog.
type OfferConfig struct {
	ID              string `json:"id"`
	Tier            string `json:"tier"`
	PriceMinorUnits int64  `json:"price_minor_units"`
	GrantSeconds    int    `json:"grant_seconds"`
	CallsIncluded   int    `json:"calls_included,omitempty"`
	MinutesIncluded int    `json:"minutes_included,omitempty"`
	Description     string `json:"description,omitempty"`
}

// MeteringConfig holds the usage-metering constants.
type MeteringConfig struct {
	FreeTrialSeconds     int      `json:"free_trial_seconds,omitempty"`
	DebitIntervalSeconds int      `json:"debit_interval_seconds,omitempty"`
	TickInterval         Duration `json:"tick_interval,omitempty"` // wall-clock length of one metered second
}

// HandoffConfig defines where end-of-session notifications are delivered.
// The IPC socket is always used when a host is attached; the webhook is the
// cross-process fallback. Both are best-effort.
type HandoffConfig struct {
	WebhookURL string   `json:"webhook_url,omitempty"`
	Timeout    Duration `json:"timeout,omitempty"`
}

// AgentConfig defines process-level settings.
type AgentConfig struct {
	LogLevel    string `json:"log_level,omitempty"`
	SocketPath  string `json:"socket_path,omitempty"`
	HistoryPath string `json:"history_path,omitempty"`
}

// Duration is a JSON-friendly time.Duration (accepts strings like "30s", "5m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if c.Gateway.AgentID == "" {
		return fmt.Errorf("gateway.agent_id is required")
	}
	if c.Identity.UserID == "" && c.Identity.Token == "" {
		return fmt.Errorf("identity.user_id or identity.token is required")
	}
	if c.Identity.Token != "" && c.Identity.JWKSURL == "" {
		return fmt.Errorf("identity.jwks_url is required when identity.token is set")
	}
	if c.Metering.FreeTrialSeconds < 0 {
		return fmt.Errorf("metering.free_trial_seconds must not be negative")
	}
	if c.Metering.DebitIntervalSeconds < 0 {
		return fmt.Errorf("metering.debit_interval_seconds must not be negative")
	}
	seen := make(map[string]bool)
	for i, offer := range c.Billing.Offers {
		if offer.ID == "" {
			return fmt.Errorf("billing.offers[%d].id is required", i)
		}
		if seen[offer.ID] {
			return fmt.Errorf("duplicate offer id: %s", offer.ID)
		}
		seen[offer.ID] = true
		if offer.PriceMinorUnits <= 0 {
			return fmt.Errorf("billing.offers[%d].price_minor_units must be positive", i)
		}
		if offer.GrantSeconds <= 0 {
			return fmt.Errorf("billing.offers[%d].grant_seconds must be positive", i)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Gateway.DialTimeout.Duration == 0 {
		c.Gateway.DialTimeout.Duration = 10 * time.Second
	}
	if c.Gateway.AcceptTimeout.Duration == 0 {
		c.Gateway.AcceptTimeout.Duration = 15 * time.Second
	}
	if c.Store.Addr == "" {
		c.Store.Addr = "localhost:6379"
	}
	if c.Store.DialTimeout.Duration == 0 {
		c.Store.DialTimeout.Duration = 5 * time.Second
	}
	if c.Store.OpTimeout.Duration == 0 {
		c.Store.OpTimeout.Duration = 3 * time.Second
	}
	if c.Billing.Currency == "" {
		c.Billing.Currency = "INR"
	}
	if c.Billing.Timeout.Duration == 0 {
		c.Billing.Timeout.Duration = 30 * time.Second
	}
	if c.Metering.FreeTrialSeconds == 0 {
		c.Metering.FreeTrialSeconds = 1200
	}
	if c.Metering.DebitIntervalSeconds == 0 {
		c.Metering.DebitIntervalSeconds = 10
	}
	if c.Metering.TickInterval.Duration == 0 {
		c.Metering.TickInterval.Duration = time.Second
	}
	if c.Handoff.Timeout.Duration == 0 {
		c.Handoff.Timeout.Duration = 5 * time.Second
	}
	if c.Agent.LogLevel == "" {
		c.Agent.LogLevel = "info"
	}
	if c.Agent.SocketPath == "" {
		c.Agent.SocketPath = filepath.Join(os.TempDir(), "voxline-agent.sock")
	}
	if c.Agent.HistoryPath == "" {
		c.Agent.HistoryPath = "./voxline-history.db"
	}
}
