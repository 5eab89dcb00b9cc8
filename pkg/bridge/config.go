// Copyright 2024-2026 Aiku AI

package bridge

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config holds the bridge configuration.
type Config struct {
	// BotName is this bridge's own in-game identity. The relay loop guard
	// compares classified usernames against it case-insensitively.
	BotName string `yaml:"bot_name"`
	// Dialect selects the pattern rule set for connections that don't
	// override it. Unknown dialects degrade to the built-in standard set.
	Dialect string `yaml:"dialect"`
	// PatternDir holds per-dialect JSON rule files layered over the
	// embedded defaults. Watched for hot reload when set.
	PatternDir string `yaml:"pattern_dir"`
	// AdminAPIAddr is the listen address for the admin HTTP API that serves
	// POST /api/reload-patterns. Defaults to ":29330".
	AdminAPIAddr string `yaml:"admin_api_addr"`

	// EventCooldown suppresses duplicate (origin, type, subject) events.
	EventCooldown time.Duration `yaml:"event_cooldown"`
	// DedupWindow suppresses identical chat messages from the same sender
	// and origin, bounding undetected relay loops at the delivery layer.
	DedupWindow time.Duration `yaml:"dedup_window"`

	LoopGuard LoopGuardConfig `yaml:"loop_guard"`

	Gateways []GatewayConfig `yaml:"gateways"`
	Relay    RelayConfig     `yaml:"relay"`
	Archive  ArchiveConfig   `yaml:"archive"`
}

// LoopGuardConfig tunes the relay loop heuristics. Colon-chain detection can
// misclassify legitimate chat containing colons; the depth is a tunable
// trade-off, not a correctness guarantee.
type LoopGuardConfig struct {
	// MaxChainDepth is the number of leading "name:" tokens that marks a
	// multi-hop relay chain. 0 means the default of 3; a negative value
	// disables chain detection entirely. Self-echo suppression is always on.
	MaxChainDepth int `yaml:"max_chain_depth"`
}

// GatewayConfig describes one upstream game connection.
type GatewayConfig struct {
	// Origin identifies this connection/guild in every classified record.
	Origin string `yaml:"origin"`
	// URL is the gateway websocket endpoint delivering decoded chat lines.
	URL string `yaml:"url"`
	// Dialect overrides Config.Dialect for this connection.
	Dialect string `yaml:"dialect"`
}

// RelayConfig configures the Matrix delivery side.
type RelayConfig struct {
	HomeserverURL string `yaml:"homeserver_url"`
	UserID        string `yaml:"user_id"`
	AccessToken   string `yaml:"access_token"`
	// Rooms maps an origin ID to the Matrix room its traffic is relayed to.
	Rooms map[string]string `yaml:"rooms"`
	// MessagesPerSecond caps outbound sends. Zero means 5.
	MessagesPerSecond float64 `yaml:"messages_per_second"`
}

// ArchiveConfig configures the local message/event archive.
type ArchiveConfig struct {
	// Path is the sqlite database file. Empty disables archiving.
	Path string `yaml:"path"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PostProcess validates required fields and applies defaults.
func (c *Config) PostProcess() error {
	if c.BotName == "" {
		return fmt.Errorf("bot_name is required")
	}
	if c.Dialect == "" {
		c.Dialect = "standard"
	}
	if c.AdminAPIAddr == "" {
		c.AdminAPIAddr = ":29330"
	}
	if c.EventCooldown <= 0 {
		c.EventCooldown = time.Second
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 5 * time.Second
	}
	if c.LoopGuard.MaxChainDepth == 0 {
		c.LoopGuard.MaxChainDepth = 3
	}
	for i, gw := range c.Gateways {
		if gw.Origin == "" {
			return fmt.Errorf("gateways[%d]: origin is required", i)
		}
		if gw.URL == "" {
			return fmt.Errorf("gateways[%d]: url is required", i)
		}
	}
	return nil
}

// DialectFor returns the dialect for an origin, falling back to the global
// dialect when the gateway doesn't set one.
func (c *Config) DialectFor(origin string) string {
	for _, gw := range c.Gateways {
		if gw.Origin == origin && gw.Dialect != "" {
			return gw.Dialect
		}
	}
	return c.Dialect
}
