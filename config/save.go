package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultHeader = "# workerlink configuration. Environment overrides use the WORKERLINK_ prefix.\n"

// defaultDocument mirrors Defaults with durations spelled the way viper reads them.
func defaultDocument() map[string]any {
	d := Defaults()
	return map[string]any{
		"network": map[string]any{
			"port":     d.Network.Port,
			"hostname": d.Network.Hostname,
			"mdns":     d.Network.MDNS,
		},
		"worker": map[string]any{
			"path":       d.Worker.Path,
			"in_process": d.Worker.InProcess,
			"env":        []string{},
		},
		"log": map[string]any{
			"level": d.Log.Level,
			"file":  d.Log.File,
		},
		"upgrade": map[string]any{
			"url":      d.Upgrade.URL,
			"delay":    d.Upgrade.Delay.String(),
			"disabled": d.Upgrade.Disabled,
		},
		"registry": map[string]any{
			"endpoints": []string{},
			"ttl":       d.Registry.TTL,
		},
		"worker_limits": map[string]any{
			"rate":    d.WorkerLimits.Rate,
			"burst":   d.WorkerLimits.Burst,
			"timeout": d.WorkerLimits.Timeout.String(),
		},
		"tracing": map[string]any{
			"enabled":       d.Tracing.Enabled,
			"exporter":      d.Tracing.Exporter,
			"file_path":     d.Tracing.FilePath,
			"otlp_endpoint": d.Tracing.OTLPEndpoint,
		},
		"reload": map[string]any{
			"watch": d.Reload.Watch,
		},
	}
}

// WriteDefault writes the default configuration to path, creating parent
// directories. An existing file is left untouched and reported as an error.
func WriteDefault(path string) error {
	if fileExists(path) {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(defaultDocument())
	if err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
