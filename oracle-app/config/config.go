package config

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apisrv "github.com/compose-network/oracle/server/api"
	"github.com/compose-network/oracle/x/kv"
	"github.com/compose-network/oracle/x/oracle"
	"github.com/compose-network/oracle/x/proof/evm"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
	StoreRedis  = "redis"
)

// Verifier backends.
const (
	VerifierGroth16 = "groth16"
	VerifierEVM     = "evm"
)

// Config holds the complete application configuration
type Config struct {
	API      apisrv.Config  `mapstructure:"api"      yaml:"api"`
	Metrics  MetricsConfig  `mapstructure:"metrics"  yaml:"metrics"`
	Log      LogConfig      `mapstructure:"log"      yaml:"log"`
	Auth     AuthConfig     `mapstructure:"auth"     yaml:"auth"`
	Oracle   oracle.Config  `mapstructure:"oracle"   yaml:"oracle"`
	Store    StoreConfig    `mapstructure:"store"    yaml:"store"`
	Verifier VerifierConfig `mapstructure:"verifier" yaml:"verifier"`
	Events   EventsConfig   `mapstructure:"events"   yaml:"events"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
	Path    string `mapstructure:"path"    yaml:"path"    env:"METRICS_PATH"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level"        yaml:"level"        env:"LOG_LEVEL"`
	Pretty     bool   `mapstructure:"pretty"       yaml:"pretty"       env:"LOG_PRETTY"`
	Output     string `mapstructure:"output"       yaml:"output"       env:"LOG_OUTPUT"`
	File       string `mapstructure:"file"         yaml:"file"         env:"LOG_FILE"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"  yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"  yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress"     yaml:"compress"`
}

// AuthConfig controls how HTTP callers are identified. When enabled the
// caller is recovered from an EIP-191 signature instead of trusted from a
// header, and each signature is accepted once within SignatureWindow.
type AuthConfig struct {
	Enabled         bool          `mapstructure:"enabled"          yaml:"enabled"          env:"AUTH_ENABLED"`
	SignatureWindow time.Duration `mapstructure:"signature_window" yaml:"signature_window"`
}

// StoreConfig selects the job store backend.
type StoreConfig struct {
	Backend string          `mapstructure:"backend" yaml:"backend"`
	Badger  kv.BadgerConfig `mapstructure:"badger"  yaml:"badger"`
	Redis   kv.RedisConfig  `mapstructure:"redis"   yaml:"redis"`
}

// VerifierConfig selects the proof verification backend. It is fixed for the
// lifetime of the process.
type VerifierConfig struct {
	Backend string        `mapstructure:"backend" yaml:"backend"`
	Groth16 Groth16Config `mapstructure:"groth16" yaml:"groth16"`
	EVM     evm.Config    `mapstructure:"evm"     yaml:"evm"`
}

// Groth16Config locates the development verifying key.
type Groth16Config struct {
	KeyDir string `mapstructure:"key_dir" yaml:"key_dir"`
}

// EventsConfig sizes the replay journal.
type EventsConfig struct {
	JournalSize int `mapstructure:"journal_size" yaml:"journal_size"`
}

// Load loads configuration from file and environment. An empty path uses
// defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetEnvPrefix("ORACLE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("api.listen_addr", ":8081")
	v.SetDefault("api.read_header_timeout", "5s")
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.idle_timeout", "120s")
	v.SetDefault("api.shutdown_timeout", "10s")
	v.SetDefault("api.max_header_bytes", 1048576)
	v.SetDefault("api.max_body_bytes", 1048576)
	v.SetDefault("api.enable_cors", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.signature_window", "5m")

	v.SetDefault("oracle.admin", "")
	v.SetDefault("oracle.enforce_deadline", false)
	v.SetDefault("oracle.max_batch_size", oracle.DefaultMaxBatchSize)

	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.badger.dir", "data/jobs")
	v.SetDefault("store.badger.in_memory", false)
	v.SetDefault("store.badger.sync_writes", true)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.username", "")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.namespace", "oracle")

	v.SetDefault("verifier.backend", VerifierGroth16)
	v.SetDefault("verifier.groth16.key_dir", "keys")
	v.SetDefault("verifier.evm.rpc", "")
	v.SetDefault("verifier.evm.address", "")
	v.SetDefault("verifier.evm.call_timeout", "10s")

	v.SetDefault("events.journal_size", 10000)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.validateLog(); err != nil {
		return err
	}
	if err := c.Oracle.Validate(); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateVerifier(); err != nil {
		return err
	}
	if c.Auth.SignatureWindow < 0 {
		return fmt.Errorf("auth.signature_window cannot be negative")
	}
	if c.Events.JournalSize < 0 {
		return fmt.Errorf("events.journal_size cannot be negative")
	}
	return nil
}

func (c *Config) validateLog() error {
	switch strings.ToLower(c.Log.Output) {
	case "", "stdout", "stderr":
		return nil
	case "file":
		if strings.TrimSpace(c.Log.File) == "" {
			return fmt.Errorf("log.file is required when log.output is file")
		}
		return nil
	default:
		return fmt.Errorf("log.output must be stdout, stderr or file, got %q", c.Log.Output)
	}
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case StoreMemory:
	case StoreBadger:
		if !c.Store.Badger.InMemory && strings.TrimSpace(c.Store.Badger.Dir) == "" {
			return fmt.Errorf("store.badger.dir is required unless in_memory is set")
		}
	case StoreRedis:
		if strings.TrimSpace(c.Store.Redis.Addr) == "" {
			return fmt.Errorf("store.redis.addr is required")
		}
	default:
		return fmt.Errorf("store.backend must be memory, badger or redis, got %q", c.Store.Backend)
	}
	return nil
}

func (c *Config) validateVerifier() error {
	switch c.Verifier.Backend {
	case VerifierGroth16:
		if strings.TrimSpace(c.Verifier.Groth16.KeyDir) == "" {
			return fmt.Errorf("verifier.groth16.key_dir is required")
		}
	case VerifierEVM:
		if strings.TrimSpace(c.Verifier.EVM.RPC) == "" {
			return fmt.Errorf("verifier.evm.rpc is required")
		}
		if !common.IsHexAddress(c.Verifier.EVM.Address) {
			return fmt.Errorf("verifier.evm.address %q is not an address", c.Verifier.EVM.Address)
		}
	default:
		return fmt.Errorf("verifier.backend must be groth16 or evm, got %q", c.Verifier.Backend)
	}
	return nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		API: apisrv.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:      "info",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Auth:   AuthConfig{SignatureWindow: 5 * time.Minute},
		Oracle: oracle.DefaultConfig(),
		Store: StoreConfig{
			Backend: StoreMemory,
			Badger:  kv.BadgerConfig{Dir: "data/jobs", SyncWrites: true},
			Redis:   kv.RedisConfig{Addr: "localhost:6379", Namespace: "oracle"},
		},
		Verifier: VerifierConfig{
			Backend: VerifierGroth16,
			Groth16: Groth16Config{KeyDir: "keys"},
			EVM:     evm.Config{CallTimeout: 10 * time.Second},
		},
		Events: EventsConfig{JournalSize: 10000},
	}
}

// Dump renders the configuration as YAML.
func (c *Config) Dump() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
