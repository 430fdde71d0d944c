// Package config loads raffle client configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from yaml strings like "10s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the raffle client configuration.
type Config struct {
	// RPCURL is the JSON-RPC endpoint of the node.
	RPCURL string `yaml:"rpc_url"`
	// WSURL is the websocket endpoint used for log subscriptions.
	WSURL string `yaml:"ws_url"`
	// ContractAddress is the deployed raffle contract address (hex).
	ContractAddress string `yaml:"contract_address"`
	// TargetChainID is the chain the client expects to be connected to.
	TargetChainID uint64 `yaml:"target_chain_id"`

	RefreshTimeout Duration `yaml:"refresh_timeout"`
	ConfirmTimeout Duration `yaml:"confirm_timeout"`
	PollInterval   Duration `yaml:"poll_interval"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default configuration values.
const (
	DefaultRPCURL         = "http://localhost:8545"
	DefaultTargetChainID  = 42 // Kovan
	DefaultRefreshTimeout = 15 * time.Second
	DefaultConfirmTimeout = 2 * time.Minute
	DefaultPollInterval   = 2 * time.Second
)

// Load reads configuration from a yaml file, then applies environment
// overrides. A .env file in the working directory is honoured if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or returns defaults (plus environment
// overrides) if the file is missing.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		d := defaults()
		_ = godotenv.Load()
		d.applyEnv()
		return d
	}
	return cfg
}

func defaults() *Config {
	return &Config{
		RPCURL:         DefaultRPCURL,
		TargetChainID:  DefaultTargetChainID,
		RefreshTimeout: Duration(DefaultRefreshTimeout),
		ConfirmTimeout: Duration(DefaultConfirmTimeout),
		PollInterval:   Duration(DefaultPollInterval),
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RAFFLE_RPC_URL"); v != "" {
		c.RPCURL = v
	}
	if v := os.Getenv("RAFFLE_WS_URL"); v != "" {
		c.WSURL = v
	}
	if v := os.Getenv("RAFFLE_CONTRACT_ADDRESS"); v != "" {
		c.ContractAddress = v
	}
	if v := os.Getenv("RAFFLE_TARGET_CHAIN_ID"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.TargetChainID = id
		}
	}
	if v := os.Getenv("RAFFLE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if c.ContractAddress == "" {
		return fmt.Errorf("contract_address is required")
	}
	return nil
}
