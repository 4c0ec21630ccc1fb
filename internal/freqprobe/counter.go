package freqprobe

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const maxCounterBytes = 64

// FileCounter reads a single integer from a text file and multiplies it by Scale.
// cpufreq files report kHz (Scale 1000); devfreq cur_freq reports Hz (Scale 1).
type FileCounter struct {
	Path  string
	Scale int64
}

// Name returns the counter path.
func (c FileCounter) Name() string {
	return c.Path
}

// Read opens, reads and closes the counter file.
func (c FileCounter) Read() (int64, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return 0, err
	}
	data, readErr := io.ReadAll(io.LimitReader(f, maxCounterBytes))
	if err := f.Close(); err != nil && readErr == nil {
		readErr = err
	}
	if readErr != nil {
		return 0, fmt.Errorf("read counter: %w", readErr)
	}

	value, err := parseCounter(data)
	if err != nil {
		return 0, err
	}

	scale := c.Scale
	if scale <= 0 {
		scale = 1
	}
	return value * scale, nil
}

// DPMCounter reads the active entry of an amdgpu pp_dpm_sclk table, e.g.
//
//	0: 500Mhz
//	1: 1000Mhz *
type DPMCounter struct {
	Path string
}

// Name returns the counter path.
func (c DPMCounter) Name() string {
	return c.Path
}

// Read returns the current shader clock in Hz.
func (c DPMCounter) Read() (int64, error) {
	raw, err := os.ReadFile(c.Path)
	if err != nil {
		return 0, err
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "*") {
			continue
		}
		if clock, ok := extractClockMHz(line); ok {
			return int64(clock * 1_000_000), nil
		}
	}

	return 0, fmt.Errorf("no active clock level in %s", c.Path)
}

func parseCounter(data []byte) (int64, error) {
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty value")
	}
	value, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse int: %w", err)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative frequency %d", value)
	}
	return value, nil
}

func extractClockMHz(line string) (float64, bool) {
	line = strings.TrimSpace(strings.TrimSuffix(line, "*"))
	fields := strings.Fields(line)
	for _, field := range fields {
		field = strings.TrimSuffix(field, "*")
		if strings.HasSuffix(strings.ToLower(field), "mhz") {
			valueStr := strings.TrimSuffix(strings.ToLower(field), "mhz")
			value, err := strconv.ParseFloat(valueStr, 64)
			if err != nil {
				continue
			}
			return value, true
		}
	}
	return 0, false
}
