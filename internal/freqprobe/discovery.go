package freqprobe

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

const (
	devfreqClassPath = "class/devfreq"
	drmClassPath     = "class/drm"
	devfreqFilename  = "cur_freq"
	dpmSclkFilename  = "pp_dpm_sclk"
)

// Source kinds reported by Discover.
const (
	KindDevfreq = "devfreq"
	KindDPM     = "amdgpu_dpm"
)

// Source describes a GPU frequency counter found under sysfs.
type Source struct {
	Kind   string `json:"kind"`
	Device string `json:"device"`
	Name   string `json:"name"`
	Path   string `json:"path"`
}

// Counter builds the counter matching the source kind.
func (s Source) Counter() Counter {
	if s.Kind == KindDPM {
		return DPMCounter{Path: s.Path}
	}
	return FileCounter{Path: s.Path, Scale: 1}
}

// Discover enumerates GPU clock counters under the provided sysfs root. DRM cards
// exposing a DPM table come first, then devfreq devices that look like GPUs, then
// any remaining devfreq device.
func Discover(root string, logger *slog.Logger) ([]Source, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sysRoot, err := os.OpenRoot(root)
	if err != nil {
		return nil, fmt.Errorf("open sysfs root: %w", err)
	}
	defer sysRoot.Close()

	sources := discoverDRM(root, sysRoot, logger)

	devfreq, err := discoverDevfreq(root, sysRoot, logger)
	if err != nil {
		return nil, err
	}
	sources = append(sources, devfreq...)

	return sources, nil
}

func discoverDRM(root string, sysRoot *os.Root, logger *slog.Logger) []Source {
	entries, err := fs.ReadDir(sysRoot.FS(), drmClassPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("read drm class dir", "err", err)
		}
		return nil
	}

	var sources []Source
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "card") || strings.ContainsRune(name, '-') || !allDigits(name[4:]) {
			continue
		}
		if !entry.IsDir() && entry.Type()&os.ModeSymlink == 0 {
			continue
		}

		deviceRoot, err := sysRoot.OpenRoot(filepath.Join(drmClassPath, name, "device"))
		if err != nil {
			logger.Debug("failed to open card device", "card", name, "err", err)
			continue
		}

		if _, err := deviceRoot.Stat(dpmSclkFilename); err != nil {
			_ = deviceRoot.Close()
			continue
		}

		label := cardName(deviceRoot)
		if err := deviceRoot.Close(); err != nil {
			logger.Debug("failed to close card device", "card", name, "err", err)
		}

		sources = append(sources, Source{
			Kind:   KindDPM,
			Device: name,
			Name:   label,
			Path:   filepath.Join(root, drmClassPath, name, "device", dpmSclkFilename),
		})
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].Device < sources[j].Device })
	return sources
}

func discoverDevfreq(root string, sysRoot *os.Root, logger *slog.Logger) ([]Source, error) {
	entries, err := fs.ReadDir(sysRoot.FS(), devfreqClassPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("devfreq class path missing", "path", filepath.Join(root, devfreqClassPath))
			return nil, nil
		}
		return nil, fmt.Errorf("read devfreq class dir: %w", err)
	}

	var gpus, others []Source
	for _, entry := range entries {
		name := entry.Name()
		rel := filepath.Join(devfreqClassPath, name, devfreqFilename)
		data, err := sysRoot.ReadFile(rel)
		if err != nil {
			continue
		}
		if _, err := parseCounter(data); err != nil {
			logger.Debug("skipping devfreq device with unparsable counter", "device", name, "err", err)
			continue
		}

		src := Source{
			Kind:   KindDevfreq,
			Device: name,
			Name:   devfreqName(sysRoot, name),
			Path:   filepath.Join(root, rel),
		}
		if looksLikeGPU(name) || looksLikeGPU(src.Name) {
			gpus = append(gpus, src)
		} else {
			others = append(others, src)
		}
	}

	return append(gpus, others...), nil
}

func devfreqName(sysRoot *os.Root, device string) string {
	if value, err := readTrim(sysRoot, filepath.Join(devfreqClassPath, device, "name")); err == nil && value != "" {
		return value
	}
	return device
}

// looksLikeGPU matches names such as "gpu", "17000000.gv11b" or "57000000.gpu".
func looksLikeGPU(name string) bool {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "gpu") {
		return true
	}
	if idx := strings.IndexRune(lower, '.'); idx >= 0 && idx+1 < len(lower) {
		suffix := lower[idx+1:]
		return strings.HasPrefix(suffix, "gv") || strings.HasPrefix(suffix, "gp") || strings.HasPrefix(suffix, "ga")
	}
	return false
}

func cardName(deviceRoot *os.Root) string {
	var pciID, subsysID, name string
	if data, err := deviceRoot.ReadFile("uevent"); err == nil {
		text := string(data)
		pciID = parseKeyValue(text, "PCI_ID")
		subsysID = parseKeyValue(text, "PCI_SUBSYS_ID")
		name = parseKeyValue(text, "DRIVER")
	}
	if pciID == "" {
		vendor, verr := readTrim(deviceRoot, "vendor")
		device, derr := readTrim(deviceRoot, "device")
		if verr == nil && derr == nil {
			pciID = vendor + ":" + device
		}
	}

	if resolved := pciName(pciDatabase(), pciID, subsysID); preferPCIName(name, resolved) {
		name = resolved
	}
	return name
}

func parseKeyValue(data, key string) string {
	prefix := key + "="
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

func readTrim(root *os.Root, name string) (string, error) {
	data, err := root.ReadFile(name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func allDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
