// Package config loads the operator configuration file.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/suffix-labs/cardano-mailbox/pkg/keystore"
	"github.com/suffix-labs/cardano-mailbox/pkg/ledger"
)

// Contract locates one contract instance: its marker token and, when the
// token index cannot be used, its script address.
type Contract struct {
	Policy    string `yaml:"policy"`     // hex, 28 bytes
	AssetName string `yaml:"asset_name"` // hex, may be empty
	Address   string `yaml:"address"`    // bech32 script address
}

// Marker converts the contract locator to an asset id.
func (c *Contract) Marker() (ledger.AssetID, error) {
	var a ledger.AssetID
	policy, err := hex.DecodeString(c.Policy)
	if err != nil || len(policy) != 28 {
		return a, fmt.Errorf("config: policy %q is not a 28-byte hex string", c.Policy)
	}
	copy(a.Policy[:], policy)
	if c.AssetName != "" {
		name, err := hex.DecodeString(c.AssetName)
		if err != nil {
			return a, fmt.Errorf("config: asset name %q is not hex: %w", c.AssetName, err)
		}
		a.Name = name
	}
	return a, nil
}

// Config is the full operator configuration. It is read once at startup
// and passed by value into constructors; nothing mutates it afterwards.
type Config struct {
	Network string `yaml:"network"` // "mainnet" or "testnet"

	Ledger struct {
		Endpoint   string `yaml:"endpoint"`
		ProjectKey string `yaml:"project_key"`
	} `yaml:"ledger"`

	KeyFile string `yaml:"key_file"`

	LocalDomain uint32 `yaml:"local_domain"`

	Mailbox   Contract `yaml:"mailbox"`
	ISM       Contract `yaml:"ism"`
	Registry  Contract `yaml:"registry"`
	Paymaster Contract `yaml:"paymaster"`

	// MarkerAddress is the delivery-marker script address.
	MarkerAddress string `yaml:"marker_address"`

	Confirm struct {
		Attempts int           `yaml:"attempts"`
		Backoff  time.Duration `yaml:"backoff"`
	} `yaml:"confirm"`

	LogLevel string `yaml:"log_level"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Network {
	case "mainnet", "testnet":
	default:
		return fmt.Errorf("config: network must be mainnet or testnet, got %q", c.Network)
	}
	if c.Ledger.Endpoint == "" {
		return fmt.Errorf("config: ledger endpoint is required")
	}
	if c.KeyFile == "" {
		return fmt.Errorf("config: key_file is required")
	}
	if _, err := c.Mailbox.Marker(); err != nil {
		return fmt.Errorf("mailbox: %w", err)
	}
	return nil
}

// KeystoreNetwork maps the configured network name to the address
// namespace.
func (c *Config) KeystoreNetwork() keystore.Network {
	if c.Network == "mainnet" {
		return keystore.Mainnet
	}
	return keystore.Testnet
}

// NewLogger builds the process logger at the configured level.
func (c *Config) NewLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
