package actuator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const pidofTimeout = 500 * time.Millisecond

// PidofLocator shells out to pidof(8). The command is started and reaped within
// each Resolve call.
type PidofLocator struct {
	logger  *slog.Logger
	command string
	timeout time.Duration
}

// NewPidofLocator constructs a pidof-backed locator.
func NewPidofLocator(logger *slog.Logger) *PidofLocator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &PidofLocator{logger: logger, command: "pidof", timeout: pidofTimeout}
}

// Resolve runs pidof and parses the first PID it prints.
func (l *PidofLocator) Resolve(name string) (Handle, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, l.command, name).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return Handle{}, fmt.Errorf("%w: %q", ErrActuatorNotFound, name)
		}
		return Handle{}, fmt.Errorf("run %s: %w", l.command, err)
	}

	return parsePidofOutput(name, string(out))
}

func parsePidofOutput(name, out string) (Handle, error) {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return Handle{}, fmt.Errorf("%w: %q", ErrActuatorNotFound, name)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return Handle{}, fmt.Errorf("%w: %q", ErrActuatorAmbiguous, fields[0])
	}
	return Handle{PID: pid, Name: name}, nil
}
