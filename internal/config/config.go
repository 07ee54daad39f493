// Package config defines the node configuration structure.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultHubHost = "127.0.0.1"
	DefaultHubPort = 29530

	DefaultServerName       = "server"
	DefaultMaxMessageLength = 200
	DefaultQueryTimeout     = 5 * time.Second
)

// Config is the root configuration for a chatlink node.
type Config struct {
	// Hub is true on the single hub node; every other node is a leaf
	// that connects outward to HubHost:HubPort.
	Hub     bool   `yaml:"hub"`
	HubHost string `yaml:"hub_host"`
	HubPort int    `yaml:"hub_port"`
	// Secret is the shared secret leaves present on connect.
	Secret string `yaml:"secret"`

	// ServerName is this node's display name in synchronized lines.
	ServerName string `yaml:"server_name"`

	Sync    SyncSection    `yaml:"sync"`
	Filter  FilterSection  `yaml:"filter"`
	Format  FormatSection  `yaml:"format"`
	Gateway GatewaySection `yaml:"gateway"`

	// QueryTimeout bounds the roster aggregation wait.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// SyncSection holds the relay toggles.
type SyncSection struct {
	ChatToChat       bool `yaml:"chat_to_chat"`
	ChatToGateway    bool `yaml:"chat_to_gateway"`
	GatewayToChat    bool `yaml:"gateway_to_chat"`
	GatewayToGateway bool `yaml:"gateway_to_gateway"`
	JoinLeave        bool `yaml:"join_leave"`
	Death            bool `yaml:"death"`
	Advancement      bool `yaml:"advancement"`
}

// FilterSection controls which local lines are withheld from sync.
type FilterSection struct {
	CommandPrefixes  []string `yaml:"command_prefixes"`
	MaxMessageLength int      `yaml:"max_message_length"`
}

// FormatSection holds the display format strings.
type FormatSection struct {
	Chat    string `yaml:"chat"`
	Event   string `yaml:"event"`
	Gateway string `yaml:"gateway"`
}

// GatewaySection configures the external chat gateway connection (hub only).
type GatewaySection struct {
	Enabled     bool    `yaml:"enabled"`
	URL         string  `yaml:"url"`
	AccessToken string  `yaml:"access_token"`
	GroupIDs    []int64 `yaml:"group_ids"`
	// BindFile persists gateway-user to player-name bindings.
	BindFile string `yaml:"bind_file"`
}

// Default returns the default node configuration.
func Default() *Config {
	return &Config{
		Hub:        true,
		HubHost:    DefaultHubHost,
		HubPort:    DefaultHubPort,
		ServerName: DefaultServerName,
		Sync: SyncSection{
			ChatToChat:       true,
			ChatToGateway:    true,
			GatewayToChat:    true,
			GatewayToGateway: true,
			JoinLeave:        true,
			Death:            true,
			Advancement:      true,
		},
		Filter: FilterSection{
			CommandPrefixes:  []string{"/", "!", ".", "#"},
			MaxMessageLength: DefaultMaxMessageLength,
		},
		Format: FormatSection{
			Chat:    "[{server}] <{player}> {message}",
			Event:   "[{server}] {message}",
			Gateway: "[Gateway] <{player}> {message}",
		},
		Gateway: GatewaySection{
			URL:      "ws://127.0.0.1:8080",
			BindFile: "userbind.json",
		},
		QueryTimeout: DefaultQueryTimeout,
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HubAddr is the hub's host:port, the listen address on the hub and the
// dial address on a leaf.
func (c *Config) HubAddr() string {
	return fmt.Sprintf("%s:%d", c.HubHost, c.HubPort)
}

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if c.HubPort < 1024 || c.HubPort > 65535 {
		return fmt.Errorf("hub_port must be in 1024-65535, got %d", c.HubPort)
	}
	if c.ServerName == "" {
		return fmt.Errorf("server_name must not be empty")
	}
	if c.Filter.MaxMessageLength <= 0 {
		return fmt.Errorf("filter.max_message_length must be positive, got %d", c.Filter.MaxMessageLength)
	}
	for _, id := range c.Gateway.GroupIDs {
		if id <= 0 {
			return fmt.Errorf("invalid gateway group id %d", id)
		}
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive")
	}
	return nil
}
