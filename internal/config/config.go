package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/core"
	"github.com/newthinker/tpsl/internal/signal"
	"github.com/newthinker/tpsl/internal/storage/archive"
	"github.com/newthinker/tpsl/internal/sweep"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override, e.g. TPSL_SERVER_PORT.
const EnvPrefix = "TPSL"

type Config struct {
	Simulation backtest.Params     `mapstructure:"simulation"`
	Filter     signal.FilterConfig `mapstructure:"filter"`
	Overlay    OverlayConfig       `mapstructure:"overlay"`
	Sweep      SweepConfig         `mapstructure:"sweep"`
	Storage    StorageConfig       `mapstructure:"storage"`
	Server     ServerConfig        `mapstructure:"server"`
	Metrics    MetricsConfig       `mapstructure:"metrics"`
	Log        LogConfig           `mapstructure:"log"`
}

// OverlayConfig toggles the realistic cost overlay.
type OverlayConfig struct {
	Enabled                bool `mapstructure:"enabled"`
	backtest.OverlayConfig `mapstructure:",squash"`
}

type SweepConfig struct {
	sweep.Grid `mapstructure:",squash"`
	Workers    int `mapstructure:"workers"`
}

type StorageConfig struct {
	Results ResultsConfig  `mapstructure:"results"`
	Archive archive.Config `mapstructure:"archive"`
}

type ResultsConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite", "postgres" or "memory"
	DSN    string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	APIKey      string `mapstructure:"api_key"`
	JobTTLHours int    `mapstructure:"job_ttl_hours"`
	MaxJobs     int    `mapstructure:"max_jobs"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"` // "json", "console" or empty for the mode default
}

// OverlayPtr returns the overlay settings when enabled, nil otherwise.
func (c *Config) OverlayPtr() *backtest.OverlayConfig {
	if !c.Overlay.Enabled {
		return nil
	}
	o := c.Overlay.OverlayConfig
	return &o
}

// Load reads configuration from file. An empty path yields defaults plus
// environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	// Support environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || os.IsNotExist(err) {
				return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("reading config: %w", err))
			}
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("reading config: %w", err))
		}
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unmarshaling config: %w", err))
	}

	return &cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Simulation: backtest.DefaultParams(),
		Filter:     signal.DefaultFilterConfig(),
		Overlay: OverlayConfig{
			Enabled:       true,
			OverlayConfig: backtest.DefaultOverlayConfig(),
		},
		Sweep: SweepConfig{
			Grid: sweep.DefaultGrid(),
		},
		Storage: StorageConfig{
			Results: ResultsConfig{
				Driver: "sqlite",
				DSN:    "tpsl.db",
			},
			Archive: archive.Config{
				Type: "local",
				Path: "artifacts",
			},
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			JobTTLHours: 1,
			MaxJobs:     100,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// setDefaults registers every key so env overrides resolve without a file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("simulation.mode", string(d.Simulation.Mode))
	v.SetDefault("simulation.tp_pct", d.Simulation.TPPct)
	v.SetDefault("simulation.sl_pct", d.Simulation.SLPct)
	v.SetDefault("simulation.max_hold", d.Simulation.MaxHold)
	v.SetDefault("simulation.leverage", d.Simulation.Leverage)
	v.SetDefault("simulation.capital_fraction", d.Simulation.CapitalFraction)
	v.SetDefault("simulation.initial_capital", d.Simulation.InitialCapital)
	v.SetDefault("simulation.fee_pct", d.Simulation.FeePct)

	v.SetDefault("filter.prob_threshold", d.Filter.Threshold)
	v.SetDefault("filter.multiplier", d.Filter.Multiplier)
	v.SetDefault("filter.atr_period", d.Filter.ATRPeriod)
	v.SetDefault("filter.median_window", d.Filter.MedianWindow)

	v.SetDefault("overlay.enabled", d.Overlay.Enabled)
	v.SetDefault("overlay.tick_size", d.Overlay.TickSize)
	v.SetDefault("overlay.slippage_ticks", d.Overlay.SlippageTicks)
	v.SetDefault("overlay.fee_pct_per_side", d.Overlay.FeePctPerSide)
	v.SetDefault("overlay.position_size", d.Overlay.PositionSize)

	v.SetDefault("sweep.tp_values", d.Sweep.TPValues)
	v.SetDefault("sweep.prob_values", d.Sweep.ProbValues)
	v.SetDefault("sweep.workers", d.Sweep.Workers)

	v.SetDefault("storage.results.driver", d.Storage.Results.Driver)
	v.SetDefault("storage.results.dsn", d.Storage.Results.DSN)
	v.SetDefault("storage.archive.type", d.Storage.Archive.Type)
	v.SetDefault("storage.archive.path", d.Storage.Archive.Path)
	v.SetDefault("storage.archive.s3.bucket", "")
	v.SetDefault("storage.archive.s3.endpoint", "")
	v.SetDefault("storage.archive.s3.region", "")
	v.SetDefault("storage.archive.s3.access_key", "")
	v.SetDefault("storage.archive.s3.secret_key", "")
	v.SetDefault("storage.archive.s3.prefix", "")

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.api_key", d.Server.APIKey)
	v.SetDefault("server.job_ttl_hours", d.Server.JobTTLHours)
	v.SetDefault("server.max_jobs", d.Server.MaxJobs)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.encoding", d.Log.Encoding)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Simulation.Validate(); err != nil {
		return err
	}
	if err := c.Filter.Validate(); err != nil {
		return err
	}
	if c.Overlay.Enabled {
		if err := c.Overlay.OverlayConfig.Validate(); err != nil {
			return err
		}
	}
	if err := c.Sweep.Grid.Validate(); err != nil {
		return err
	}
	if c.Sweep.Workers < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("sweep workers cannot be negative, got %d", c.Sweep.Workers))
	}

	switch c.Storage.Results.Driver {
	case "", "sqlite", "memory":
	case "postgres":
		if c.Storage.Results.DSN == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("storage.results.dsn required when driver is postgres"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown results driver %q", c.Storage.Results.Driver))
	}

	switch c.Storage.Archive.Type {
	case "", "local":
	case "s3":
		if c.Storage.Archive.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("storage.archive.s3.bucket required when type is s3"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown archive type %q", c.Storage.Archive.Type))
	}

	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.JobTTLHours < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("job_ttl_hours cannot be negative, got %d", c.Server.JobTTLHours))
	}
	if c.Server.MaxJobs < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("max_jobs cannot be negative, got %d", c.Server.MaxJobs))
	}

	if c.Log.Level != "" {
		if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("log level: %w", err))
		}
	}
	switch c.Log.Encoding {
	case "", "json", "console":
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("log encoding must be json or console, got %q", c.Log.Encoding))
	}

	return nil
}
