package actuator

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ProcfsLocator walks a proc filesystem and matches each process comm (and argv[0]
// basename) against the requested name. The lowest matching PID wins.
type ProcfsLocator struct {
	procRoot string
	logger   *slog.Logger
}

// NewProcfsLocator constructs a locator rooted at procRoot (usually /proc).
func NewProcfsLocator(procRoot string, logger *slog.Logger) *ProcfsLocator {
	if procRoot == "" {
		procRoot = "/proc"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ProcfsLocator{procRoot: procRoot, logger: logger}
}

// Resolve opens the proc root, scans it and closes it again before returning.
func (l *ProcfsLocator) Resolve(name string) (Handle, error) {
	root, err := os.OpenRoot(l.procRoot)
	if err != nil {
		return Handle{}, fmt.Errorf("open proc root: %w", err)
	}
	defer func() {
		if err := root.Close(); err != nil {
			l.logger.Debug("failed to close proc root", "err", err)
		}
	}()

	entries, err := fs.ReadDir(root.FS(), ".")
	if err != nil {
		return Handle{}, fmt.Errorf("read proc root: %w", err)
	}

	best := 0
	matches := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid <= 0 {
			continue
		}

		// Processes may exit while we scan; unreadable entries are skipped.
		comm, err := readTrimmed(root, filepath.Join(entry.Name(), "comm"))
		if err != nil {
			continue
		}
		argv0 := ""
		if cmdline, err := root.ReadFile(filepath.Join(entry.Name(), "cmdline")); err == nil {
			argv0 = commandBase(cmdline)
		}

		if !matchesName(comm, argv0, name) {
			continue
		}
		matches++
		if best == 0 || pid < best {
			best = pid
		}
	}

	if best == 0 {
		return Handle{}, fmt.Errorf("%w: %q", ErrActuatorNotFound, name)
	}
	if matches > 1 {
		l.logger.Debug("multiple actuator processes matched", "name", name, "count", matches, "pid", best)
	}
	return Handle{PID: best, Name: name}, nil
}

func readTrimmed(root *os.Root, name string) (string, error) {
	data, err := root.ReadFile(name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// commandBase returns the basename of argv[0] from a NUL-separated cmdline.
func commandBase(cmdline []byte) string {
	first, _, _ := strings.Cut(string(cmdline), "\x00")
	if first == "" {
		return ""
	}
	return filepath.Base(first)
}
