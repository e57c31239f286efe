package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yourusername/powchain/internal/pow"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "POWCHAIN_"

// Config represents the node configuration
type Config struct {
	Mining   MiningConfig   `yaml:"mining"`
	Producer ProducerConfig `yaml:"producer"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// MiningConfig controls the proof-of-work search
type MiningConfig struct {
	Difficulty int    `yaml:"difficulty"`
	Workers    int    `yaml:"workers"`
	MaxTrials  uint64 `yaml:"max_trials"` // 0 = unbounded
}

// ProducerConfig controls the block production loop
type ProducerConfig struct {
	Payload       string `yaml:"payload"`
	Blocks        int    `yaml:"blocks"` // 0 = until interrupted
	AuditInterval int    `yaml:"audit_interval"`
}

// LogConfig controls logger construction
type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // console|json
}

// MetricsConfig controls metrics export
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Mining: MiningConfig{
			Difficulty: int(pow.DefaultDifficulty),
			Workers:    1,
		},
		Producer: ProducerConfig{
			Payload:       "Hello",
			AuditInterval: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file and environment variables.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadEnv() error {
	var errs []error

	// Mining config
	errs = append(errs, envInt("MINING_DIFFICULTY", &c.Mining.Difficulty))
	errs = append(errs, envInt("MINING_WORKERS", &c.Mining.Workers))
	if v := env("MINING_MAX_TRIALS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMINING_MAX_TRIALS: %w", EnvPrefix, err))
		} else {
			c.Mining.MaxTrials = n
		}
	}

	// Producer config
	if v, ok := os.LookupEnv(EnvPrefix + "PRODUCER_PAYLOAD"); ok {
		c.Producer.Payload = v
	}
	errs = append(errs, envInt("PRODUCER_BLOCKS", &c.Producer.Blocks))
	errs = append(errs, envInt("PRODUCER_AUDIT_INTERVAL", &c.Producer.AuditInterval))

	// Log config
	if v := env("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}

	// Metrics config
	if v := env("METRICS_TEXTFILE"); v != "" {
		c.Metrics.Textfile = v
	}

	return errors.Join(errs...)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + key))
}

func envInt(key string, dst *int) error {
	v := env(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

// Parse builds the configuration from command line arguments. The file named
// by -config is loaded first, then environment overrides, then any flag that
// was set explicitly.
func Parse(name string, args []string) (*Config, error) {
	defaults := Default()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var (
		path          = fs.String("config", env("CONFIG"), "Path to YAML config file")
		difficulty    = fs.Int("difficulty", defaults.Mining.Difficulty, "Number of leading '0' hex characters a block hash must have")
		workers       = fs.Int("workers", defaults.Mining.Workers, "Goroutines used per nonce search")
		maxTrials     = fs.Uint64("max-trials", defaults.Mining.MaxTrials, "Cap on hashes per nonce search (0 = unbounded)")
		payload       = fs.String("payload", defaults.Producer.Payload, "Data stored in every produced block")
		blocks        = fs.Int("blocks", defaults.Producer.Blocks, "Number of blocks to produce (0 = until interrupted)")
		auditInterval = fs.Int("audit-interval", defaults.Producer.AuditInterval, "Validate the whole chain every N blocks")
		logLevel      = fs.String("log.level", defaults.Log.Level, "Log level: debug|info|warn|error")
		logFormat     = fs.String("log.format", defaults.Log.Format, "Log format: console|json")
		textfile      = fs.String("metrics.textfile", defaults.Metrics.Textfile, "Write metrics to this file on exit (optional)")
	)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := Load(strings.TrimSpace(*path))
	if err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "difficulty":
			cfg.Mining.Difficulty = *difficulty
		case "workers":
			cfg.Mining.Workers = *workers
		case "max-trials":
			cfg.Mining.MaxTrials = *maxTrials
		case "payload":
			cfg.Producer.Payload = *payload
		case "blocks":
			cfg.Producer.Blocks = *blocks
		case "audit-interval":
			cfg.Producer.AuditInterval = *auditInterval
		case "log.level":
			cfg.Log.Level = strings.TrimSpace(*logLevel)
		case "log.format":
			cfg.Log.Format = strings.TrimSpace(*logFormat)
		case "metrics.textfile":
			cfg.Metrics.Textfile = strings.TrimSpace(*textfile)
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects out-of-range values
func (c *Config) Validate() error {
	if err := pow.Difficulty(c.Mining.Difficulty).Validate(); err != nil {
		return fmt.Errorf("mining.difficulty: %w", err)
	}
	if c.Mining.Workers <= 0 || c.Mining.Workers > 1024 {
		return fmt.Errorf("mining.workers out of range: %d", c.Mining.Workers)
	}
	if c.Producer.Blocks < 0 {
		return fmt.Errorf("producer.blocks must not be negative: %d", c.Producer.Blocks)
	}
	if c.Producer.AuditInterval <= 0 {
		return fmt.Errorf("producer.audit_interval must be positive: %d", c.Producer.AuditInterval)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}

	return nil
}
