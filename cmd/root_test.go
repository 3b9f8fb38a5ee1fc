package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workerlink/client"
	"workerlink/config"
	"workerlink/message"
	"workerlink/supervisor"
)

func TestNetworkFlagsTrackPresence(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().Int("port", 0, "")
	cmd.Flags().String("hostname", message.DefaultHostname, "")
	cmd.Flags().Bool("mdns", false, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--port=0"}))

	flags := networkFlags(cmd)
	assert.True(t, flags.Port, "--port=0 still counts as present")
	assert.False(t, flags.Hostname)
	assert.False(t, flags.MDNS)
}

func TestPrintEvent(t *testing.T) {
	var out bytes.Buffer
	printEvent(&out, message.Event{Type: "session.idle"})
	printEvent(&out, message.Event{Type: "installation.update-available", Properties: map[string]any{"version": "2.0.0"}})
	assert.Equal(t, "event session.idle\nevent installation.update-available {\"version\":\"2.0.0\"}\n", out.String())
}

func TestConfigInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "init", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "wrote "+path)
	_, err := os.Stat(path)
	require.NoError(t, err)

	rootCmd.SetArgs([]string{"config", "init", path})
	assert.Error(t, rootCmd.Execute(), "existing file is not overwritten")
}

func TestInProcessSpawnerServesWorker(t *testing.T) {
	c := config.Defaults()
	c.Worker.InProcess = true
	c.Upgrade.Disabled = true
	c.Tracing.Exporter = "none"

	spawner, err := newSpawner(c, zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &supervisor.InProcessSpawner{}, spawner)

	sup := supervisor.New(supervisor.Options{Spawner: spawner, Network: c.Network, UpgradeDisabled: true})
	ep, err := sup.Start(context.Background())
	require.NoError(t, err)

	h, err := client.New(ep).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, version, h.Version)
	require.NoError(t, sup.Reload(context.Background()))
	require.NoError(t, sup.Stop(context.Background()))
}

func TestNewRegistryWithoutEndpoints(t *testing.T) {
	reg, err := newRegistry(config.Defaults(), zerolog.Nop())
	require.NoError(t, err)
	defer reg.Close()
	instances, err := reg.Discover(context.Background(), "workerlink")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestWorkerEnvKeepsConfiguredEntries(t *testing.T) {
	c := config.Defaults()
	c.Worker.Env = []string{"A=1", "B=2"}
	env := workerEnv(c)
	assert.Equal(t, []string{"A=1", "B=2"}, env[:2])
}
