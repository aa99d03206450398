// Package app wires configuration, logging, the registry and the store for the binaries.
package app

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"moniteur/internal/config"
	"moniteur/internal/domain"
	"moniteur/internal/registry"
	"moniteur/internal/repository"
	"moniteur/internal/util"
)

// Flag names shared by both binaries, with the config keys they override.
var sharedFlags = map[string]string{
	"store-backend": "store.backend",
	"store-dsn":     "store.dsn",
	"log-level":     "log.level",
	"log-stderr":    "log.stderr",
}

// AddSharedFlags registers --config, --env-file and the store/log overrides on fs.
func AddSharedFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to config file (default .moniteurrc.yml in . or $HOME)")
	fs.String("env-file", ".env", "Optional .env file loaded before reading the environment")
	fs.String("store-backend", "", "Store backend: sqlite or postgres or mysql or badger")
	fs.String("store-dsn", "", "Store path or connection string")
	fs.String("log-level", "", "Log level: error or warn or info or debug")
	fs.Bool("log-stderr", false, "Mirror log output to stderr")
}

// BindFlags maps each named flag in fs onto its config key. Unset flags keep
// the lower-precedence value.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	return nil
}

// App holds the process-wide resources. Close releases them in reverse order.
type App struct {
	Viper    *viper.Viper
	Config   *config.Config
	Logger   *util.MetricsLogger
	Registry *registry.Holder
	Store    domain.MetricStore
}

// Bootstrap loads configuration, starts the logger, validates the registry and
// opens the store. component names the log file.
func Bootstrap(component string, fs *pflag.FlagSet, extraFlags map[string]string) (*App, error) {
	envFile, _ := fs.GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}

	configFile, _ := fs.GetString("config")
	v := config.New(configFile)
	if err := BindFlags(v, fs, sharedFlags); err != nil {
		return nil, err
	}
	if err := BindFlags(v, fs, extraFlags); err != nil {
		return nil, err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	a := &App{Viper: v, Config: cfg}

	a.Logger, err = LoggerInitialize(component, cfg)
	if err != nil {
		return nil, err
	}

	reg, err := cfg.Registry()
	if err != nil {
		a.Logger.LogEvent(util.LOG_LEVEL_ERROR, "Invalid asset configuration:", err)
		a.Logger.DeInit()
		return nil, err
	}
	a.Registry = registry.NewHolder(reg)

	if a.Store, err = OpenStore(cfg); err != nil {
		a.Logger.LogEvent(util.LOG_LEVEL_ERROR, "Failed to initialize metric store:", err)
		a.Logger.DeInit()
		return nil, err
	}

	a.Logger.LogEvent(util.LOG_LEVEL_INFO, component, "started with", reg.Len(), "assets on", cfg.Store.Backend)
	return a, nil
}

// LoggerInitialize starts a MetricsLogger writing <component>-<log.file> under log.dir.
func LoggerInitialize(component string, cfg *config.Config) (*util.MetricsLogger, error) {
	util.SetCommonLoggerAttributes(cfg.LogLevel())

	opts := cfg.LogOptions()
	opts.FileName = component + "-" + opts.FileName

	metricsLogger := &util.MetricsLogger{}
	if err := metricsLogger.Init(opts); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	fmt.Fprintf(os.Stderr, "%s: moniteur %s started\n", time.Now().Format(time.RFC3339), component)
	return metricsLogger, nil
}

// OpenStore builds and initialises the configured backend.
func OpenStore(cfg *config.Config) (domain.MetricStore, error) {
	backend, err := repository.ParseBackend(cfg.Store.Backend)
	if err != nil {
		return nil, err
	}
	store, err := repository.NewStore(backend, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", backend, err)
	}
	return store, nil
}

func (a *App) Close() error {
	var err error
	if a.Store != nil {
		err = multierr.Append(err, a.Store.Close())
	}
	if a.Logger != nil {
		a.Logger.DeInit()
	}
	return err
}
