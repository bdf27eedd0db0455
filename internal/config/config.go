// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

// Provider describes one JSON-RPC endpoint under test.
type Provider struct {
	Name     string
	URL      string
	Encoding types.NumberEncoding // block-number wire representation
}

// Config holds benchmark harness configuration. It is constructed once at
// startup and passed by reference into the scenario driver; nothing reads
// the environment after Load returns.
type Config struct {
	Providers []Provider

	StartBlock     uint64 // first block of the benchmark range
	NumBlocks      int    // default batch size (half-open range [StartBlock, StartBlock+NumBlocks))
	RequestTimeout time.Duration

	OutputDir    string // per-call CSV files, one per batch
	DatabasePath string // SQLite run index
	ListenAddr   string // observer HTTP server; empty disables it

	// Cooldown pauses between scenario steps, kept configurable so tests
	// can shrink them.
	ProtocolCooldown time.Duration
	ProviderCooldown time.Duration
	ProbeCooldown    time.Duration

	LogLevel string
}

// Defaults
const (
	DefaultStartBlock       = 19_180_000
	DefaultNumBlocks        = 1000
	DefaultRequestTimeout   = 15 * time.Second
	DefaultOutputDir        = "./output"
	DefaultDatabasePath     = "./data/rpcbench.db"
	DefaultListenAddr       = ":13002"
	DefaultProtocolCooldown = 60 * time.Second
	DefaultProviderCooldown = 15 * time.Second
	DefaultProbeCooldown    = 5 * time.Second
	DefaultLogLevel         = "info"
)

// providerEnv lists the supported providers, the environment variable each
// URL comes from, and the block-number encoding the provider expects.
// Chainstack takes decimal block numbers; the others take 0x-prefixed hex.
var providerEnv = []struct {
	name     string
	envVar   string
	encoding types.NumberEncoding
}{
	{"alchemy", "ALCHEMY_RPC_URL", types.EncodingHex},
	{"chainstack", "CHAINSTACK_RPC_URL", types.EncodingDecimal},
	{"quicknode", "QUICKNODE_RPC_URL", types.EncodingHex},
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present (missing files are fine). All
// provider URLs are required: a missing variable is a fatal configuration
// error, reported by name.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		StartBlock:       DefaultStartBlock,
		NumBlocks:        DefaultNumBlocks,
		RequestTimeout:   DefaultRequestTimeout,
		OutputDir:        DefaultOutputDir,
		DatabasePath:     DefaultDatabasePath,
		ListenAddr:       DefaultListenAddr,
		ProtocolCooldown: DefaultProtocolCooldown,
		ProviderCooldown: DefaultProviderCooldown,
		ProbeCooldown:    DefaultProbeCooldown,
		LogLevel:         DefaultLogLevel,
	}

	for _, p := range providerEnv {
		url := os.Getenv(p.envVar)
		if url == "" {
			return nil, fmt.Errorf("required environment variable %s is not set", p.envVar)
		}
		cfg.Providers = append(cfg.Providers, Provider{
			Name:     p.name,
			URL:      url,
			Encoding: p.encoding,
		})
	}

	if v := os.Getenv("START_BLOCK"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.StartBlock = n
		}
	}
	if v := os.Getenv("NUM_BLOCKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.NumBlocks = n
		}
	}
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider name is required")
		}
		if p.URL == "" {
			return fmt.Errorf("provider %s: URL is required", p.Name)
		}
		if p.Encoding != types.EncodingHex && p.Encoding != types.EncodingDecimal {
			return fmt.Errorf("provider %s: unknown number encoding %q", p.Name, p.Encoding)
		}
	}
	if c.NumBlocks <= 0 {
		return fmt.Errorf("number of blocks must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if c.ProtocolCooldown < 0 || c.ProviderCooldown < 0 || c.ProbeCooldown < 0 {
		return fmt.Errorf("cooldowns cannot be negative")
	}
	return nil
}

// ProviderByName returns the named provider, or an error listing the
// configured names.
func (c *Config) ProviderByName(name string) (Provider, error) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, nil
		}
	}
	names := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		names = append(names, p.Name)
	}
	return Provider{}, fmt.Errorf("unknown provider %q (configured: %v)", name, names)
}
