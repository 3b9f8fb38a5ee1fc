package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"workerlink/config"
	"workerlink/logging"
	"workerlink/registry"
	"workerlink/tracing"
	"workerlink/transport"
	"workerlink/upgrade"
	"workerlink/worker"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run the backend worker on stdin/stdout",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	// Ctrl-C reaches the whole process group; the front end decides when we stop.
	signal.Ignore(os.Interrupt)

	log, err := logging.New(os.Stderr, cfg.Log.Level)
	if err != nil {
		return err
	}
	w, cleanup, err := buildWorker(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	stream := transport.NewStream(os.Stdin, os.Stdout)
	defer stream.Close()
	return w.Run(context.Background(), stream)
}

// buildWorker wires the worker's collaborators from cfg. cleanup releases them
// after Run returns.
func buildWorker(cfg config.Config, log zerolog.Logger) (*worker.Worker, func(), error) {
	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, nil, err
	}
	reg, err := newRegistry(cfg, log)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, nil, err
	}

	dir, _ := os.Getwd()
	opts := []worker.Option{
		worker.WithLogger(log),
		worker.WithDirectory(dir),
		worker.WithVersion(version),
		worker.WithTracer(provider.Tracer()),
		worker.WithLimits(cfg.WorkerLimits),
		worker.WithRegistry(reg, cfg.Registry.TTL),
		worker.WithReloadHook(reloadConfig(log)),
	}
	if !cfg.Upgrade.Disabled {
		opts = append(opts, worker.WithUpgradeChecker(upgrade.NewChecker(cfg.Upgrade.URL, version)))
	}

	cleanup := func() {
		if err := reg.Close(); err != nil {
			log.Debug().Err(err).Msg("Closing registry")
		}
		if err := provider.Shutdown(context.Background()); err != nil {
			log.Debug().Err(err).Msg("Flushing traces")
		}
	}
	return worker.New(opts...), cleanup, nil
}

// newRegistry uses etcd when endpoints are configured and an in-process
// registry otherwise.
func newRegistry(cfg config.Config, log zerolog.Logger) (registry.Registry, error) {
	if len(cfg.Registry.Endpoints) == 0 {
		return registry.NewMemory(), nil
	}
	reg, err := registry.NewEtcd(cfg.Registry.Endpoints, log)
	if err != nil {
		return nil, fmt.Errorf("connecting to registry: %w", err)
	}
	return reg, nil
}

// reloadConfig re-reads the config file and applies the new log level.
func reloadConfig(log zerolog.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		fresh, err := config.Load(viper.New(), viper.ConfigFileUsed())
		if err != nil {
			return err
		}
		level, err := logging.ParseLevel(fresh.Log.Level)
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(level)
		log.Info().Stringer("level", level).Str("file", viper.ConfigFileUsed()).Msg("Config reloaded")
		return nil
	}
}
