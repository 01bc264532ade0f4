package wsecho

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config configures the echo server and client.
type Config struct {
	Addr               string     `yaml:"addr"`
	Subprotocols       []string   `yaml:"subprotocols"`
	ReadLimit          int64      `yaml:"read_limit"`
	InsecureSkipVerify bool       `yaml:"insecure_skip_verify"`
	OriginPatterns     []string   `yaml:"origin_patterns"`
	Rate               RateConfig `yaml:"rate"`
	Log                LogConfig  `yaml:"log"`
}

// RateConfig limits the messages echoed per session.
// An Every of zero disables the limit.
type RateConfig struct {
	Every time.Duration `yaml:"every"`
	Burst int           `yaml:"burst"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:8080",
		Subprotocols: []string{"echo"},
		Rate: RateConfig{
			Every: 100 * time.Millisecond,
			Burst: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads the YAML file at path over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	err = yaml.Unmarshal(b, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config %q: %w", path, err)
	}

	err = cfg.Validate()
	if err != nil {
		return Config{}, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first setting that cannot be used.
func (cfg Config) Validate() error {
	if cfg.Addr == "" {
		return errors.New("addr is required")
	}
	if cfg.ReadLimit < 0 {
		return fmt.Errorf("read_limit must not be negative: %v", cfg.ReadLimit)
	}
	if cfg.Rate.Every < 0 {
		return fmt.Errorf("rate.every must not be negative: %v", cfg.Rate.Every)
	}
	if cfg.Rate.Every > 0 && cfg.Rate.Burst < 1 {
		return fmt.Errorf("rate.burst must be at least 1 when rate.every is set: %v", cfg.Rate.Burst)
	}
	return nil
}
