// Package actuator finds the cooperating actuator process and delivers control
// signals to it.
package actuator

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrActuatorNotFound reports that no running process carries the requested name.
	ErrActuatorNotFound = errors.New("actuator process not found")
	// ErrActuatorAmbiguous reports that the lookup backend produced output that could
	// not be turned into a PID.
	ErrActuatorAmbiguous = errors.New("actuator lookup output unparsable")
)

// Handle identifies a resolved actuator process. It is only valid for the frame
// that resolved it.
type Handle struct {
	PID  int    `json:"pid"`
	Name string `json:"name"`
}

// Locator resolves a process name to a PID. Implementations query the process
// table on every call and hold no handles between calls.
type Locator interface {
	Resolve(name string) (Handle, error)
}

// Locator backend names.
const (
	BackendProcfs   = "procfs"
	BackendGopsutil = "gopsutil"
	BackendPidof    = "pidof"
)

// NewLocator builds the locator for the named backend.
func NewLocator(backend, procRoot string, logger *slog.Logger) (Locator, error) {
	switch backend {
	case BackendProcfs, "":
		return NewProcfsLocator(procRoot, logger), nil
	case BackendGopsutil:
		return NewProcessTableLocator(logger), nil
	case BackendPidof:
		return NewPidofLocator(logger), nil
	default:
		return nil, fmt.Errorf("unknown locator backend %q", backend)
	}
}

// commLen is the kernel's TASK_COMM_LEN minus the terminator; comm values are
// truncated to it.
const commLen = 15

func matchesName(comm, argv0, name string) bool {
	if comm == name {
		return true
	}
	if len(name) > commLen && comm == name[:commLen] {
		return true
	}
	return argv0 != "" && argv0 == name
}
