package config

import (
	"context"
	"errors"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/screa/sfuel-miner/internal/crypto"
)

const (
	// Nebula testnet defaults
	DefaultRPCURL       = "https://testnet.skalenodes.com/v1/lanky-ill-funny-testnet"
	DefaultPayerAddress = "0x000E9c53C4e2e21F5063f2e232d0AA907318dccb"
)

// Errors
var (
	ErrInvalidWorkers    = errors.New("workers must be at least 1")
	ErrInvalidYieldEvery = errors.New("yield interval must be at least 1")
	ErrInvalidGasLimit   = errors.New("gas limit must be positive")
	ErrNegativeTimeout   = errors.New("timeout must not be negative")
	ErrNoRPCURL          = errors.New("must specify --rpc-url")
)

// Config holds the application configuration
type Config struct {
	Workers      int           `env:"SFUEL_WORKERS, default=1"`
	YieldEvery   int           `env:"SFUEL_YIELD_EVERY, default=5000"`
	Timeout      time.Duration `env:"SFUEL_TIMEOUT, default=10m"`
	RequestedGas uint64        `env:"SFUEL_REQUESTED_GAS, default=100000"`
	GasLimit     uint64        `env:"SFUEL_GAS_LIMIT, default=100000"`
	RPCURL       string        `env:"SFUEL_RPC_URL, default=https://testnet.skalenodes.com/v1/lanky-ill-funny-testnet"`
	PayerAddress string        `env:"SFUEL_PAYER_ADDRESS, default=0x000E9c53C4e2e21F5063f2e232d0AA907318dccb"`
	PrivateKey   string        `env:"SFUEL_PRIVATE_KEY"`
	DBPath       string        `env:"SFUEL_DB_PATH, default=sfuel.db"`
	ListenAddr   string        `env:"SFUEL_LISTEN_ADDR, default=127.0.0.1:8080"`
	Verbose      bool          `env:"SFUEL_VERBOSE"`
	LogFile      string        `env:"SFUEL_LOG_FILE"`
	LogInterval  int           `env:"SFUEL_LOG_INTERVAL, default=5"` // Logging interval in seconds
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		Workers:      1,
		YieldEvery:   5000,
		Timeout:      10 * time.Minute,
		RequestedGas: 100000,
		GasLimit:     100000,
		RPCURL:       DefaultRPCURL,
		PayerAddress: DefaultPayerAddress,
		DBPath:       "sfuel.db",
		ListenAddr:   "127.0.0.1:8080",
		LogInterval:  5,
	}
}

// Load reads an optional .env file and then the process environment
func Load(ctx context.Context) (*Config, error) {
	// A missing .env is normal
	_ = godotenv.Load()
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom fills a Config from the given lookuper, falling back to defaults
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: l,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return ErrInvalidWorkers
	}
	if c.YieldEvery < 1 {
		return ErrInvalidYieldEvery
	}
	if c.GasLimit == 0 {
		return ErrInvalidGasLimit
	}
	if c.Timeout < 0 {
		return ErrNegativeTimeout
	}
	if _, err := crypto.ParseAddress(c.PayerAddress); err != nil {
		return err
	}
	return nil
}

// ValidateRPC additionally checks what a chain round trip needs
func (c *Config) ValidateRPC() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.RPCURL == "" {
		return ErrNoRPCURL
	}
	return nil
}

// LogEvery returns the progress logging interval
func (c *Config) LogEvery() time.Duration {
	if c.LogInterval <= 0 {
		return 0
	}
	return time.Duration(c.LogInterval) * time.Second
}
