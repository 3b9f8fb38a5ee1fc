package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"workerlink/client"
	"workerlink/config"
	"workerlink/logging"
	"workerlink/message"
	"workerlink/mode"
	"workerlink/supervisor"
	"workerlink/transport"
)

// ConfigFileEnv hands the front end's --config to a child worker.
const ConfigFileEnv = "WORKERLINK_CONFIG_FILE"

// stopTimeout bounds the shutdown call on exit.
const stopTimeout = 10 * time.Second

var (
	version = "dev"
	// workerPath is injected at build time with -ldflags "-X workerlink/cmd.workerPath=...".
	workerPath string
	cfgFile    string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:   "workerlink",
	Short: "Run the front end with a supervised backend worker",
	Long: `workerlink starts a backend worker, connects to it over an RPC channel and
keeps it running until interrupted.

Without networking flags the worker is reached directly over the channel. Any of
--port, --hostname or --mdns makes the worker bind a real HTTP listener.

Send SIGUSR2 to reload the worker.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runFrontEnd,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./.workerlink/config.yaml, then ~/.config/workerlink/config.yaml)")
	rootCmd.Flags().Int("port", message.DefaultPort, "port for the worker's HTTP server (0 picks one)")
	rootCmd.Flags().String("hostname", message.DefaultHostname, "hostname for the worker's HTTP server")
	rootCmd.Flags().Bool("mdns", false, "advertise the worker's HTTP server")
	rootCmd.Flags().Bool("in-process", false, "run the worker on a goroutine instead of a child process")
	rootCmd.Flags().Bool("print-events", true, "print backend events to stdout")

	_ = viper.BindPFlag("network.port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("network.hostname", rootCmd.Flags().Lookup("hostname"))
	_ = viper.BindPFlag("network.mdns", rootCmd.Flags().Lookup("mdns"))
	_ = viper.BindPFlag("worker.in_process", rootCmd.Flags().Lookup("in-process"))

	rootCmd.AddCommand(workerCmd, attachCmd, configCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		cfgFile = os.Getenv(ConfigFileEnv)
	}
	loaded, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

// networkFlags records which networking flags the user typed, whatever their value.
func networkFlags(cmd *cobra.Command) mode.Flags {
	return mode.Flags{
		Port:     cmd.Flags().Changed("port"),
		Hostname: cmd.Flags().Changed("hostname"),
		MDNS:     cmd.Flags().Changed("mdns"),
	}
}

func runFrontEnd(cmd *cobra.Command, args []string) error {
	log, logFile, err := logging.NewFile(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logFile.Close()

	spawner, err := newSpawner(cfg, log)
	if err != nil {
		return err
	}
	dir, _ := os.Getwd()
	opts := supervisor.Options{
		Spawner:         spawner,
		Flags:           networkFlags(cmd),
		Network:         cfg.Network,
		Env:             workerEnv(cfg),
		Directory:       dir,
		UpgradeDelay:    cfg.Upgrade.Delay,
		UpgradeDisabled: cfg.Upgrade.Disabled,
		HandleSignals:   true,
		Log:             log,
	}
	if cfg.Reload.Watch {
		opts.WatchPath = viper.ConfigFileUsed()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(opts)
	ep, err := sup.Start(ctx)
	if err != nil {
		var spawnErr *supervisor.SpawnError
		if errors.As(err, &spawnErr) {
			return fmt.Errorf("%w\nSet worker.path in the config file to point at the worker", err)
		}
		return err
	}

	out := cmd.OutOrStdout()
	if err := greet(ctx, out, sup.Mode(), ep); err != nil {
		log.Warn().Err(err).Msg("Health check failed")
		fmt.Fprintf(out, "worker is not healthy: %v\n", err)
	}
	if printEvents, _ := cmd.Flags().GetBool("print-events"); printEvents {
		unsubscribe := ep.EventSource(ctx, log).On(func(evt message.Event) { printEvent(out, evt) })
		defer unsubscribe()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("Interrupted, stopping worker")
	case <-sup.Disconnected():
		fmt.Fprintln(cmd.ErrOrStderr(), "worker connection lost")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return sup.Stop(stopCtx)
}

// newSpawner picks the in-process worker or resolves the worker executable.
func newSpawner(cfg config.Config, log zerolog.Logger) (supervisor.Spawner, error) {
	if cfg.Worker.InProcess {
		return &supervisor.InProcessSpawner{
			Run: func(ctx context.Context, t transport.Transport) error {
				w, cleanup, err := buildWorker(cfg, log)
				if err != nil {
					return err
				}
				defer cleanup()
				return w.Run(ctx, t)
			},
		}, nil
	}
	candidate, err := supervisor.Resolve(supervisor.DefaultCandidates(cfg.Worker.Path, workerPath))
	if err != nil {
		return nil, &supervisor.SpawnError{Err: err}
	}
	log.Debug().Str("candidate", candidate.Name).Str("path", candidate.Path).Msg("Resolved worker")
	return &supervisor.ProcessSpawner{
		Candidate: candidate,
		Log:       log,
		Heartbeat: 5 * time.Second,
	}, nil
}

// workerEnv is the configured extra environment plus what the child needs to
// read the same config file.
func workerEnv(cfg config.Config) []string {
	env := append([]string(nil), cfg.Worker.Env...)
	if used := viper.ConfigFileUsed(); used != "" {
		env = append(env, ConfigFileEnv+"="+used)
	}
	return env
}

func greet(ctx context.Context, out io.Writer, m mode.Mode, ep client.Endpoint) error {
	fmt.Fprintf(out, "worker ready (%s mode) at %s\n", m, ep.URL)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	h, err := client.New(ep).Health(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "worker version %s\n", h.Version)
	return nil
}

func printEvent(out io.Writer, evt message.Event) {
	props, err := json.Marshal(evt.Properties)
	if err != nil || evt.Properties == nil {
		fmt.Fprintf(out, "event %s\n", evt.Type)
		return
	}
	fmt.Fprintf(out, "event %s %s\n", evt.Type, props)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v, commit, date string) {
	version = v
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, commit, date)
}
