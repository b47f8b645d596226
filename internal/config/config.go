package config

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/eigerco/dispersal/internal/accountant"
	"github.com/eigerco/dispersal/internal/core"
	"github.com/eigerco/dispersal/internal/crypto"
	"github.com/eigerco/dispersal/pkg/log"
)

// Environment variables that override the file.
const (
	EnvAddress    = "DISPERSAL_ADDRESS"
	EnvPrivateKey = "DISPERSAL_PRIVATE_KEY"
	EnvLogLevel   = "LOG_LEVEL"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Disperser   DisperserConfig `yaml:"disperser"`
	Payment     PaymentConfig   `yaml:"payment"`
	Quorums     []uint8         `yaml:"quorums"`
	BlobVersion uint16          `yaml:"blob_version"`
	Journal     JournalConfig   `yaml:"journal"`
	Log         LogConfig       `yaml:"log"`
	Status      StatusConfig    `yaml:"status"`

	// PrivateKey is only read from the environment.
	PrivateKey string `yaml:"-"`
}

type DisperserConfig struct {
	Address      string        `yaml:"address"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// ServerKey optionally pins the disperser's ed25519 transport key (hex).
	ServerKey string `yaml:"server_key"`
}

type PaymentConfig struct {
	PricePerSymbol          uint64  `yaml:"price_per_symbol"`
	MinNumSymbols           uint64  `yaml:"min_num_symbols"`
	UseAdvancedReservations bool    `yaml:"use_advanced_reservations"`
	RefreshPerMinute        float64 `yaml:"refresh_per_minute"`
}

type JournalConfig struct {
	// Path of the pebble directory. Empty disables the journal.
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type StatusConfig struct {
	// Addr of the status HTTP server. Empty disables it.
	Addr string `yaml:"addr"`
}

// Default returns the configuration used for anything the file leaves out.
func Default() Config {
	return Config{
		Disperser: DisperserConfig{
			Timeout:      30 * time.Second,
			PollInterval: 2 * time.Second,
		},
		Payment: PaymentConfig{
			PricePerSymbol:   accountant.DefaultPricePerSymbol,
			MinNumSymbols:    accountant.DefaultMinNumSymbols,
			RefreshPerMinute: 6,
		},
		Quorums: []uint8{0, 1},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadEnv loads .env style files into the process environment. Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the YAML file at path on top of the defaults and applies
// environment overrides. An empty path uses defaults and environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvAddress); ok && v != "" {
		c.Disperser.Address = v
	}
	if v, ok := os.LookupEnv(EnvPrivateKey); ok {
		c.PrivateKey = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
}

// Validate checks the fields needed to disperse.
func (c Config) Validate() error {
	if c.Disperser.Address == "" {
		return fmt.Errorf("%w: disperser address required (set %s)", ErrInvalidConfig, EnvAddress)
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("%w: private key required (set %s)", ErrInvalidConfig, EnvPrivateKey)
	}
	if len(c.Quorums) == 0 {
		return fmt.Errorf("%w: at least one quorum required", ErrInvalidConfig)
	}
	sorted := slices.Sorted(slices.Values(c.Quorums))
	if len(slices.Compact(sorted)) != len(c.Quorums) {
		return fmt.Errorf("%w: duplicate quorum in %v", ErrInvalidConfig, c.Quorums)
	}
	if err := c.AccountingConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Payment.RefreshPerMinute < 0 {
		return fmt.Errorf("%w: refresh_per_minute must not be negative", ErrInvalidConfig)
	}
	if _, err := c.LogOptions(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.ServerKey(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) AccountingConfig() accountant.PaymentConfig {
	return accountant.PaymentConfig{
		PricePerSymbol: c.Payment.PricePerSymbol,
		MinNumSymbols:  c.Payment.MinNumSymbols,
	}
}

func (c Config) QuorumIDs() []core.QuorumID {
	ids := make([]core.QuorumID, len(c.Quorums))
	for i, q := range c.Quorums {
		ids[i] = core.QuorumID(q)
	}
	return ids
}

func (c Config) LogOptions() (log.Options, error) {
	level, err := log.ParseLogLevel(c.Log.Level)
	if err != nil {
		return log.Options{}, err
	}
	typ, err := log.ParseLoggerType(c.Log.Format)
	if err != nil {
		return log.Options{}, err
	}
	return log.Options{
		LogLevel:   level,
		Type:       typ,
		Output:     c.Log.Output,
		MaxAgeDays: c.Log.MaxAgeDays,
	}, nil
}

// ServerKey decodes the pinned disperser key, or returns nil when none is set.
func (c Config) ServerKey() (ed25519.PublicKey, error) {
	if c.Disperser.ServerKey == "" {
		return nil, nil
	}
	b, err := crypto.DecodeHex(c.Disperser.ServerKey)
	if err != nil {
		return nil, fmt.Errorf("server_key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("server_key: got %d bytes, want %d", len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}
