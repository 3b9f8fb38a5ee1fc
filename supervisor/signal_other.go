//go:build !unix

package supervisor

import "os"

// No reload signal outside unix; the config watcher still works.
func reloadSignals() []os.Signal {
	return nil
}
