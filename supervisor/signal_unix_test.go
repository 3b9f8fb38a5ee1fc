//go:build unix

package supervisor

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"workerlink/worker"
)

func TestSIGUSR2TriggersReload(t *testing.T) {
	var shutdowns, reloads atomic.Int32
	start(t, Options{
		Spawner: inProcess(&shutdowns, worker.WithReloadHook(func(ctx context.Context) error {
			reloads.Add(1)
			return nil
		})),
		HandleSignals:   true,
		UpgradeDisabled: true,
	})

	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGUSR2))
	require.Eventually(t, func() bool { return reloads.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}
