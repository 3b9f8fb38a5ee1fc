package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"workerlink/client"
	"workerlink/loadbalance"
	"workerlink/logging"
	"workerlink/message"
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Connect to a running server-mode worker",
	Long: `Find a worker started with --mdns through the registry and connect to it.

The balancer picks among several workers. consistent_hash (the default) keys on
the current directory, so one project keeps reaching the same worker.

Example:
  workerlink attach
  workerlink attach --balancer round_robin --follow`,
	Args: cobra.NoArgs,
	RunE: runAttach,
}

var (
	attachBalancer string
	attachFollow   bool
)

func init() {
	attachCmd.Flags().StringVar(&attachBalancer, "balancer", "consistent_hash", "consistent_hash or round_robin")
	attachCmd.Flags().BoolVar(&attachFollow, "follow", false, "print events until interrupted")
}

func runAttach(cmd *cobra.Command, args []string) error {
	if len(cfg.Registry.Endpoints) == 0 {
		return errors.New("attach needs registry.endpoints in the config file")
	}
	log, logFile, err := logging.NewFile(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logFile.Close()

	bal, err := loadbalance.New(attachBalancer)
	if err != nil {
		return err
	}
	reg, err := newRegistry(cfg, log)
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir, _ := os.Getwd()
	ep, inst, err := client.Attach(ctx, reg, bal, dir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "attached to %s (version %s, directory %s)\n", inst.URL, inst.Version, inst.Directory)

	h, err := client.New(ep).Health(ctx)
	if err != nil {
		return fmt.Errorf("worker at %s: %w", inst.URL, err)
	}
	fmt.Fprintf(out, "worker healthy, version %s\n", h.Version)
	if !attachFollow {
		return nil
	}
	return follow(ctx, ep, log, func(evt message.Event) { printEvent(out, evt) })
}

func follow(ctx context.Context, ep client.Endpoint, log zerolog.Logger, h func(message.Event)) error {
	unsubscribe := ep.EventSource(ctx, log).On(h)
	defer unsubscribe()
	<-ctx.Done()
	return nil
}
