package actuator

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Outcome classifies a signal delivery attempt.
type Outcome int

const (
	// Delivered means the kernel accepted the signal.
	Delivered Outcome = iota
	// PermissionDenied means the caller may not signal the target (EPERM).
	PermissionDenied
	// NoSuchProcess means the target exited after it was resolved (ESRCH).
	NoSuchProcess
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case PermissionDenied:
		return "permission_denied"
	case NoSuchProcess:
		return "no_such_process"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Signaler sends fire-and-forget signals. It never waits for the target.
type Signaler struct {
	kill func(pid int, sig unix.Signal) error
}

// NewSignaler returns a Signaler backed by kill(2).
func NewSignaler() *Signaler {
	return &Signaler{kill: unix.Kill}
}

// Send delivers sig to the process behind h. EPERM and ESRCH are reported as
// outcomes with a nil error; any other failure is returned as an error.
func (s *Signaler) Send(h Handle, sig unix.Signal) (Outcome, error) {
	if h.PID <= 0 {
		return NoSuchProcess, fmt.Errorf("invalid pid %d", h.PID)
	}
	err := s.kill(h.PID, sig)
	switch {
	case err == nil:
		return Delivered, nil
	case errors.Is(err, unix.EPERM):
		return PermissionDenied, nil
	case errors.Is(err, unix.ESRCH):
		return NoSuchProcess, nil
	default:
		return NoSuchProcess, fmt.Errorf("kill %d with %s: %w", h.PID, unix.SignalName(sig), err)
	}
}

// ParseSignal maps a name such as "SIGUSR1" or "USR1" to its signal number.
func ParseSignal(name string) (unix.Signal, error) {
	if name == "" {
		return 0, fmt.Errorf("empty signal name")
	}
	if sig := unix.SignalNum(name); sig != 0 {
		return sig, nil
	}
	if sig := unix.SignalNum("SIG" + name); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("unknown signal %q", name)
}
