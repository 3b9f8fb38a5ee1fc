//go:build unix

package supervisor

import (
	"os"

	"golang.org/x/sys/unix"
)

func reloadSignals() []os.Signal {
	return []os.Signal{unix.SIGUSR2}
}
