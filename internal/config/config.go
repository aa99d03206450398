// Package config builds the typed configuration shared by the ingest and api binaries.
// Sources, lowest precedence first: defaults, the YAML config file, a .env file,
// MONITEUR_* environment variables, then flags bound by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"moniteur/internal/domain"
	"moniteur/internal/recorder"
	"moniteur/internal/registry"
	"moniteur/internal/repository"
	"moniteur/internal/util"
)

const (
	EnvPrefix      = "MONITEUR"
	ConfigName     = ".moniteurrc"
	DefaultPort    = "3000"
	DefaultLogFile = "moniteur.log"
)

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type RecorderConfig struct {
	Workers      int                        `mapstructure:"workers"`
	RoundTimeout time.Duration              `mapstructure:"round_timeout"`
	FetchTimeout time.Duration              `mapstructure:"fetch_timeout"`
	RateLimits   map[string]RateLimitConfig `mapstructure:"rate_limits"`
}

type RetentionConfig struct {
	Horizon  time.Duration `mapstructure:"horizon"`
	MaxCount int           `mapstructure:"max_count"`
}

type ServerConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Dir        string `mapstructure:"dir"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Stderr     bool   `mapstructure:"stderr"`
}

type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Recorder  RecorderConfig  `mapstructure:"recorder"`
	Retention RetentionConfig `mapstructure:"retention"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Assets    []domain.Asset  `mapstructure:"assets"`
}

// New returns a viper instance with defaults and environment bindings in place.
// configFile, when non-empty, replaces the search for .moniteurrc.yml in . and $HOME.
func New(configFile string) *viper.Viper {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	v.SetDefault("store.backend", string(repository.BackendSQLite))
	v.SetDefault("store.dsn", "moniteur.db")
	v.SetDefault("recorder.workers", recorder.DefaultWorkers)
	v.SetDefault("recorder.round_timeout", recorder.DefaultRoundTimeout)
	v.SetDefault("recorder.fetch_timeout", recorder.DefaultFetchTimeout)
	v.SetDefault("retention.horizon", time.Duration(0))
	v.SetDefault("retention.max_count", 0)
	v.SetDefault("server.addr", ":"+DefaultPort)
	v.SetDefault("server.username", "")
	v.SetDefault("server.password", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.file", DefaultLogFile)
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.stderr", false)

	// unprefixed names used by existing deployments
	_ = v.BindEnv("store.dsn", EnvPrefix+"_STORE__DSN", "DATABASE_URL")
	_ = v.BindEnv("server.username", EnvPrefix+"_SERVER__USERNAME", "USERNAME")
	_ = v.BindEnv("server.password", EnvPrefix+"_SERVER__PASSWORD", "PASSWORD")

	return v
}

// LoadDotEnv copies variables from path into the process environment without
// overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	return nil
}

// Load reads the config file, if any, and decodes the merged result.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return Decode(v)
}

// Decode unmarshals what v currently holds and validates it.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	if raw := os.Getenv("ASSETS"); strings.TrimSpace(raw) != "" {
		assets, err := ParseAssets([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("ASSETS: %w", err)
		}
		cfg.Assets = assets
	}

	if port := os.Getenv("PORT"); port != "" && v.GetString("server.addr") == ":"+DefaultPort {
		cfg.Server.Addr = ":" + port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseAssets decodes a YAML list of assets.
func ParseAssets(data []byte) ([]domain.Asset, error) {
	var assets []domain.Asset
	if err := yaml.Unmarshal(data, &assets); err != nil {
		return nil, fmt.Errorf("invalid assets yaml: %w", err)
	}
	return assets, nil
}

func (c *Config) Validate() error {
	if _, err := repository.ParseBackend(c.Store.Backend); err != nil {
		return err
	}
	if c.Recorder.Workers < 1 {
		return fmt.Errorf("recorder.workers must be at least 1, got %d", c.Recorder.Workers)
	}
	if err := c.RecorderConfig().Validate(); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	if c.Retention.Horizon < 0 || c.Retention.MaxCount < 0 {
		return errors.New("retention.horizon and retention.max_count must not be negative")
	}
	if _, err := util.ParseLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if (c.Server.Username == "") != (c.Server.Password == "") {
		return errors.New("server.username and server.password must be set together")
	}
	return nil
}

func (c *Config) RecorderConfig() recorder.Config {
	limits := make(map[domain.SourceType]recorder.RateLimit, len(c.Recorder.RateLimits))
	for st, rl := range c.Recorder.RateLimits {
		limits[domain.SourceType(st)] = recorder.RateLimit{RequestsPerSecond: rl.RequestsPerSecond, Burst: rl.Burst}
	}
	return recorder.Config{
		Workers:      c.Recorder.Workers,
		RoundTimeout: c.Recorder.RoundTimeout,
		FetchTimeout: c.Recorder.FetchTimeout,
		RateLimits:   limits,
	}
}

func (c *Config) RetentionPolicy() domain.Retention {
	return domain.Retention{Horizon: c.Retention.Horizon, MaxCount: c.Retention.MaxCount}
}

func (c *Config) LogOptions() util.LogOptions {
	return util.LogOptions{
		Dir:        c.Log.Dir,
		FileName:   c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
		Stderr:     c.Log.Stderr,
	}
}

// LogLevel returns the LOG_LEVEL_* constant for log.level. Validate has already checked it.
func (c *Config) LogLevel() int {
	level, err := util.ParseLogLevel(c.Log.Level)
	if err != nil {
		return util.LOG_LEVEL_INFO
	}
	return level
}

// Registry validates the configured assets.
func (c *Config) Registry() (*registry.Registry, error) {
	return registry.Load(c.Assets)
}

// Watch re-decodes the config whenever the file changes and hands the result to onChange.
func Watch(v *viper.Viper, onChange func(*Config, error)) {
	v.OnConfigChange(func(fsnotify.Event) {
		onChange(Decode(v))
	})
	v.WatchConfig()
}
