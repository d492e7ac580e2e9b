package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Chain       ChainConfig       `yaml:"chain"`
	Feed        FeedConfig        `yaml:"feed"`
	Cache       CacheConfig       `yaml:"cache"`
	Subpools    SubpoolsConfig    `yaml:"subpools"`
	Poller      PollerConfig      `yaml:"poller"`
	API         APIConfig         `yaml:"api"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ChainConfig holds Ethereum mainnet connection settings.
type ChainConfig struct {
	RPCURL            string `yaml:"rpc_url"`
	RequestsPerSecond int    `yaml:"requests_per_second"`
}

// FeedConfig holds price and token list endpoints.
type FeedConfig struct {
	PriceURL          string        `yaml:"price_url"`
	TokenListURL      string        `yaml:"token_list_url"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// CacheConfig holds per-key cache timeouts.
type CacheConfig struct {
	Timeouts          map[string]time.Duration `yaml:"timeouts"`
	SubpoolAPYTimeout time.Duration            `yaml:"subpool_apy_timeout"`
}

// SubpoolsConfig holds protocol endpoints and market overrides.
type SubpoolsConfig struct {
	DYDXURL      string                    `yaml:"dydx_url"`
	MStableURL   string                    `yaml:"mstable_url"`
	BlocksPerDay int                       `yaml:"blocks_per_day"`
	Fuse         map[int]map[string]string `yaml:"fuse"`
}

// PollerConfig holds refresh loop settings.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// APIConfig holds HTTP API settings.
type APIConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Port         int           `yaml:"port"`
	PushInterval time.Duration `yaml:"push_interval"`
}

// PersistenceConfig holds database settings.
type PersistenceConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	// Set defaults
	cfg.setDefaults()

	// Read YAML file if it exists
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if len(data) > 0 {
		// Expand environment variables in YAML content
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Apply environment variable overrides
	cfg.applyEnvOverrides()

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options.
func (c *Config) setDefaults() {
	c.Chain = ChainConfig{
		RequestsPerSecond: 25,
	}
	c.Feed = FeedConfig{
		PriceURL:          "https://api.coingecko.com/api/v3/simple/price?vs_currencies=usd&ids=ethereum",
		TokenListURL:      "https://api.0x.org/swap/v0/tokens",
		HTTPTimeout:       10 * time.Second,
		RequestsPerSecond: 5,
	}
	c.Cache = CacheConfig{
		Timeouts: map[string]time.Duration{
			"ethUSDPrice": 300 * time.Second,
			"allTokens":   8600 * time.Second,
		},
		SubpoolAPYTimeout: 5 * time.Minute,
	}
	c.Subpools = SubpoolsConfig{
		DYDXURL:      "https://api.dydx.exchange/v0/markets",
		MStableURL:   "https://api.thegraph.com/subgraphs/name/mstable/mstable-protocol",
		BlocksPerDay: 6570, // ~13s blocks
	}
	c.Poller = PollerConfig{
		Interval: time.Minute,
	}
	c.API = APIConfig{
		Enabled:      true,
		Port:         8081,
		PushInterval: 10 * time.Second,
	}
	c.Persistence = PersistenceConfig{
		SQLitePath: "./data/yieldagg.db",
	}
	c.Metrics = MetricsConfig{
		Enabled: true,
		Port:    8080,
		Path:    "/metrics",
	}
	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
	}
}

// applyEnvOverrides applies environment variable overrides to configuration.
func (c *Config) applyEnvOverrides() {
	// Chain config
	if v := os.Getenv("ETH_RPC_URL"); v != "" {
		c.Chain.RPCURL = v
	}

	// Poller config
	if v := os.Getenv("POLLER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Poller.Interval = d
		}
	}

	// API config
	if v := os.Getenv("API_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.API.Port = port
		}
	}

	// Metrics config
	if v := os.Getenv("METRICS_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.Metrics.Port = port
		}
	}

	// Persistence config
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Persistence.SQLitePath = v
	}

	// Logging config
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// validate checks that all required configuration values are present and valid.
func (c *Config) validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required (set ETH_RPC_URL env var)")
	}
	if c.Chain.RequestsPerSecond <= 0 {
		return fmt.Errorf("chain.requests_per_second must be positive")
	}
	if c.Feed.PriceURL == "" || c.Feed.TokenListURL == "" {
		return fmt.Errorf("feed.price_url and feed.token_list_url are required")
	}
	for key, d := range c.Cache.Timeouts {
		if d < 0 {
			return fmt.Errorf("cache.timeouts.%s must not be negative", key)
		}
	}
	if c.Cache.SubpoolAPYTimeout < 0 {
		return fmt.Errorf("cache.subpool_apy_timeout must not be negative")
	}
	if c.Subpools.BlocksPerDay <= 0 {
		return fmt.Errorf("subpools.blocks_per_day must be positive")
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be positive")
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("api.port must be a valid port number")
	}
	if c.API.Enabled && c.API.PushInterval <= 0 {
		return fmt.Errorf("api.push_interval must be positive")
	}
	if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be a valid port number")
	}
	return nil
}
