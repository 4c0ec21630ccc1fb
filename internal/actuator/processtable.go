package actuator

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessTableLocator resolves names through gopsutil's portable process table.
type ProcessTableLocator struct {
	logger *slog.Logger
	list   func() ([]*process.Process, error)
}

// NewProcessTableLocator constructs a gopsutil-backed locator.
func NewProcessTableLocator(logger *slog.Logger) *ProcessTableLocator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ProcessTableLocator{logger: logger, list: process.Processes}
}

// Resolve enumerates the process table and returns the lowest PID whose name matches.
func (l *ProcessTableLocator) Resolve(name string) (Handle, error) {
	procs, err := l.list()
	if err != nil {
		return Handle{}, fmt.Errorf("list processes: %w", err)
	}

	best := int32(0)
	for _, proc := range procs {
		// Processes exiting mid-scan report errors here; they are not the actuator.
		procName, err := proc.Name()
		if err != nil {
			continue
		}
		argv0 := ""
		if exe, err := proc.Exe(); err == nil && exe != "" {
			argv0 = filepath.Base(exe)
		}
		if !matchesName(procName, argv0, name) {
			continue
		}
		if best == 0 || proc.Pid < best {
			best = proc.Pid
		}
	}

	if best == 0 {
		return Handle{}, fmt.Errorf("%w: %q", ErrActuatorNotFound, name)
	}
	return Handle{PID: int(best), Name: name}, nil
}
