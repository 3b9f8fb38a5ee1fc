// Package config loads workerlink settings through viper.
//
// Lookup order for the config file:
//  1. --config flag
//  2. ./.workerlink/config.yaml
//  3. ~/.config/workerlink/config.yaml
//
// Any key can be overridden from the environment with the WORKERLINK_ prefix,
// dots replaced by underscores (WORKERLINK_NETWORK_PORT=4096).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"workerlink/message"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "WORKERLINK"
	// LocalPath is the project-local config file, relative to the working directory.
	LocalPath = ".workerlink/config.yaml"
)

// Config is the full set of settings.
type Config struct {
	Network      message.NetworkOptions `mapstructure:"network"`
	Worker       WorkerConfig           `mapstructure:"worker"`
	Log          LogConfig              `mapstructure:"log"`
	Upgrade      UpgradeConfig          `mapstructure:"upgrade"`
	Registry     RegistryConfig         `mapstructure:"registry"`
	WorkerLimits LimitsConfig           `mapstructure:"worker_limits"`
	Tracing      TracingConfig          `mapstructure:"tracing"`
	Reload       ReloadConfig           `mapstructure:"reload"`
}

// WorkerConfig controls how the worker is located and started.
type WorkerConfig struct {
	// Path overrides worker resolution with an explicit executable.
	Path string `mapstructure:"path"`
	// InProcess runs the worker on a goroutine instead of a child process.
	InProcess bool `mapstructure:"in_process"`
	// Env lists extra KEY=VALUE entries added to the worker environment.
	Env []string `mapstructure:"env"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// File receives the front end's log. Empty means the default state path.
	File string `mapstructure:"file"`
}

type UpgradeConfig struct {
	URL      string        `mapstructure:"url"`
	Delay    time.Duration `mapstructure:"delay"`
	Disabled bool          `mapstructure:"disabled"`
}

// RegistryConfig selects where server-mode workers are advertised when mdns
// is requested. No endpoints means an in-process registry.
type RegistryConfig struct {
	Endpoints []string `mapstructure:"endpoints"`
	TTL       int64    `mapstructure:"ttl"`
}

// LimitsConfig bounds calls served by the worker. Zero values disable a limit.
type LimitsConfig struct {
	Rate    float64       `mapstructure:"rate"`
	Burst   int           `mapstructure:"burst"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Exporter is "stderr", "file", "otlp" or "none".
	Exporter     string `mapstructure:"exporter"`
	FilePath     string `mapstructure:"file_path"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type ReloadConfig struct {
	// Watch reloads the worker whenever the loaded config file changes.
	Watch bool `mapstructure:"watch"`
}

// Defaults returns the built-in settings.
func Defaults() Config {
	return Config{
		Network: message.DefaultNetworkOptions(),
		Log:     LogConfig{Level: "info"},
		Upgrade: UpgradeConfig{Delay: time.Second},
		Registry: RegistryConfig{
			TTL: 10,
		},
		WorkerLimits: LimitsConfig{Burst: 1},
		Tracing:      TracingConfig{Exporter: "stderr"},
	}
}

// SetDefaults registers Defaults on v so env overrides and Unmarshal see every key.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("network.port", d.Network.Port)
	v.SetDefault("network.hostname", d.Network.Hostname)
	v.SetDefault("network.mdns", d.Network.MDNS)
	v.SetDefault("worker.path", d.Worker.Path)
	v.SetDefault("worker.in_process", d.Worker.InProcess)
	v.SetDefault("worker.env", []string{})
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("upgrade.url", d.Upgrade.URL)
	v.SetDefault("upgrade.delay", d.Upgrade.Delay)
	v.SetDefault("upgrade.disabled", d.Upgrade.Disabled)
	v.SetDefault("registry.endpoints", []string{})
	v.SetDefault("registry.ttl", d.Registry.TTL)
	v.SetDefault("worker_limits.rate", d.WorkerLimits.Rate)
	v.SetDefault("worker_limits.burst", d.WorkerLimits.Burst)
	v.SetDefault("worker_limits.timeout", d.WorkerLimits.Timeout)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("reload.watch", d.Reload.Watch)
}

// Load reads configuration into a Config. An explicit cfgFile must exist; the
// implicit locations are optional. v.ConfigFileUsed reports which file was read.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case cfgFile != "":
		v.SetConfigFile(cfgFile)
	case fileExists(LocalPath):
		v.SetConfigFile(LocalPath)
	default:
		if dir, err := UserDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// UserDir returns ~/.config/workerlink.
func UserDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "workerlink"), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
