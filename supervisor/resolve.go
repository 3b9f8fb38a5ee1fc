package supervisor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// WorkerBinary is the name of the packaged worker executable.
const WorkerBinary = "workerlink-worker"

// WorkerCommand is the hidden subcommand that runs the worker from the main binary.
const WorkerCommand = "worker"

// Candidate is one place the worker may live.
type Candidate struct {
	Name string // configured, injected, packaged, development
	Path string
	Args []string
}

// DefaultCandidates returns the resolution order used by the CLI:
//
//  1. configured: worker.path from config, when set
//  2. injected:   the path baked in at build time, when set
//  3. packaged:   workerlink-worker next to the running executable
//  4. development: the running executable itself, with the worker subcommand
func DefaultCandidates(configured, injected string) []Candidate {
	var out []Candidate
	if configured != "" {
		out = append(out, Candidate{Name: "configured", Path: configured})
	}
	if injected != "" {
		out = append(out, Candidate{Name: "injected", Path: injected})
	}
	exe, err := os.Executable()
	if err != nil {
		return out
	}
	packaged := filepath.Join(filepath.Dir(exe), WorkerBinary)
	if runtime.GOOS == "windows" {
		packaged += ".exe"
	}
	return append(out,
		Candidate{Name: "packaged", Path: packaged},
		Candidate{Name: "development", Path: exe, Args: []string{WorkerCommand}},
	)
}

// ErrWorkerNotFound is returned when no candidate exists on disk.
var ErrWorkerNotFound = errors.New("worker executable not found")

// Resolve returns the first candidate whose path is an existing regular file.
func Resolve(candidates []Candidate) (Candidate, error) {
	tried := make([]string, 0, len(candidates))
	for _, c := range candidates {
		info, err := os.Stat(c.Path)
		if err == nil && info.Mode().IsRegular() {
			return c, nil
		}
		tried = append(tried, c.Name+"="+c.Path)
	}
	return Candidate{}, fmt.Errorf("%w (tried %s)", ErrWorkerNotFound, strings.Join(tried, ", "))
}
