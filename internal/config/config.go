package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration sourced from environment variables.
type Config struct {
	LogLevel  slog.Level
	SysfsRoot string
	ProcRoot  string
	Control   ControlConfig
	Actuator  ActuatorConfig
	Probe     ProbeConfig
	Source    SourceConfig
	Output    OutputConfig
	HTTP      HTTPConfig
}

// ControlConfig holds the feedback loop tunables.
type ControlConfig struct {
	WindowDuration time.Duration
	ThresholdMS    float64
	CaptureTimeout time.Duration
}

// ActuatorConfig identifies the cooperating process and the signals it understands.
type ActuatorConfig struct {
	Name           string
	Locator        string
	SpeedUpSignal  string
	SlowDownSignal string
}

// ProbeConfig describes the CPU and GPU frequency counter sources.
// An empty GPUPath enables discovery under SysfsRoot.
type ProbeConfig struct {
	CPUPath  string
	CPUScale int64
	GPUPath  string
	GPUScale int64
}

// SourceConfig configures the bundled capture and detection collaborators.
type SourceConfig struct {
	FPS          float64
	Frames       int
	TracePath    string
	TraceLatency float64
}

// OutputConfig lists the diagnostics artifacts written by a run. Empty paths disable
// the corresponding output.
type OutputConfig struct {
	TimeSeriesPath string
	SummaryPath    string
	HistoryDB      string
	GeotagFeedPath string
	GeotagLogPath  string
}

// HTTPConfig controls the optional status server.
type HTTPConfig struct {
	Enable           bool
	ListenAddr       string
	EnablePrometheus bool
	EnablePprof      bool
	AllowedOrigins   []string
	WSMaxClients     int
}

// Actuator locator backends.
const (
	LocatorProcfs   = "procfs"
	LocatorGopsutil = "gopsutil"
	LocatorPidof    = "pidof"
)

// Load parses configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		LogLevel:  slog.LevelInfo,
		SysfsRoot: "/sys",
		ProcRoot:  "/proc",
		Control: ControlConfig{
			WindowDuration: 60 * time.Second,
			ThresholdMS:    34,
			CaptureTimeout: time.Second,
		},
		Actuator: ActuatorConfig{
			Name:           "motor_control",
			Locator:        LocatorProcfs,
			SpeedUpSignal:  "SIGUSR2",
			SlowDownSignal: "SIGUSR1",
		},
		Probe: ProbeConfig{
			CPUPath:  "/sys/devices/system/cpu/cpu0/cpufreq/cpuinfo_cur_freq",
			CPUScale: 1000,
			GPUScale: 1,
		},
		Source: SourceConfig{
			FPS:          30,
			TraceLatency: 20,
		},
		Output: OutputConfig{
			TimeSeriesPath: "freqpilot-timeseries.txt",
			SummaryPath:    "freqpilot-summary.txt",
		},
		HTTP: HTTPConfig{
			ListenAddr:   ":8080",
			WSMaxClients: 64,
		},
	}

	if value := strings.TrimSpace(os.Getenv("APP_LOG_LEVEL")); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	if value := strings.TrimSpace(os.Getenv("APP_SYSFS_ROOT")); value != "" {
		cfg.SysfsRoot = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_PROC_ROOT")); value != "" {
		cfg.ProcRoot = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_WINDOW_DURATION")); value != "" {
		seconds, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_WINDOW_DURATION: %w", err)
		}
		if seconds <= 0 {
			return Config{}, fmt.Errorf("APP_WINDOW_DURATION must be > 0")
		}
		cfg.Control.WindowDuration = time.Duration(seconds) * time.Second
	}

	if value := strings.TrimSpace(os.Getenv("APP_LATENCY_THRESHOLD_MS")); value != "" {
		threshold, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_LATENCY_THRESHOLD_MS: %w", err)
		}
		if threshold <= 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
			return Config{}, fmt.Errorf("APP_LATENCY_THRESHOLD_MS must be a finite number > 0")
		}
		cfg.Control.ThresholdMS = threshold
	}

	if value := strings.TrimSpace(os.Getenv("APP_CAPTURE_TIMEOUT")); value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_CAPTURE_TIMEOUT: %w", err)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("APP_CAPTURE_TIMEOUT must be > 0")
		}
		cfg.Control.CaptureTimeout = timeout
	}

	if value := strings.TrimSpace(os.Getenv("APP_ACTUATOR_NAME")); value != "" {
		cfg.Actuator.Name = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_ACTUATOR_LOCATOR")); value != "" {
		switch strings.ToLower(value) {
		case LocatorProcfs, LocatorGopsutil, LocatorPidof:
			cfg.Actuator.Locator = strings.ToLower(value)
		default:
			return Config{}, fmt.Errorf("parse APP_ACTUATOR_LOCATOR: unsupported locator %q", value)
		}
	}

	if value := strings.TrimSpace(os.Getenv("APP_SPEED_UP_SIGNAL")); value != "" {
		cfg.Actuator.SpeedUpSignal = strings.ToUpper(value)
	}

	if value := strings.TrimSpace(os.Getenv("APP_SLOW_DOWN_SIGNAL")); value != "" {
		cfg.Actuator.SlowDownSignal = strings.ToUpper(value)
	}

	if cfg.Actuator.SpeedUpSignal == cfg.Actuator.SlowDownSignal {
		return Config{}, fmt.Errorf("APP_SPEED_UP_SIGNAL and APP_SLOW_DOWN_SIGNAL must differ")
	}

	if value := strings.TrimSpace(os.Getenv("APP_CPU_FREQ_PATH")); value != "" {
		cfg.Probe.CPUPath = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_CPU_FREQ_SCALE")); value != "" {
		scale, err := parseScale(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_CPU_FREQ_SCALE: %w", err)
		}
		cfg.Probe.CPUScale = scale
	}

	if value := strings.TrimSpace(os.Getenv("APP_GPU_FREQ_PATH")); value != "" {
		cfg.Probe.GPUPath = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_GPU_FREQ_SCALE")); value != "" {
		scale, err := parseScale(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_GPU_FREQ_SCALE: %w", err)
		}
		cfg.Probe.GPUScale = scale
	}

	if value := strings.TrimSpace(os.Getenv("APP_SOURCE_FPS")); value != "" {
		fps, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_SOURCE_FPS: %w", err)
		}
		if fps <= 0 {
			return Config{}, fmt.Errorf("APP_SOURCE_FPS must be > 0")
		}
		cfg.Source.FPS = fps
	}

	if value := strings.TrimSpace(os.Getenv("APP_SOURCE_FRAMES")); value != "" {
		frames, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_SOURCE_FRAMES: %w", err)
		}
		if frames < 0 {
			return Config{}, fmt.Errorf("APP_SOURCE_FRAMES must be >= 0")
		}
		cfg.Source.Frames = frames
	}

	if value := strings.TrimSpace(os.Getenv("APP_TRACE_PATH")); value != "" {
		cfg.Source.TracePath = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_TRACE_LATENCY_MS")); value != "" {
		latency, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_TRACE_LATENCY_MS: %w", err)
		}
		if latency < 0 {
			return Config{}, fmt.Errorf("APP_TRACE_LATENCY_MS must be >= 0")
		}
		cfg.Source.TraceLatency = latency
	}

	if value, ok := os.LookupEnv("APP_TIMESERIES_PATH"); ok {
		cfg.Output.TimeSeriesPath = strings.TrimSpace(value)
	}

	if value, ok := os.LookupEnv("APP_SUMMARY_PATH"); ok {
		cfg.Output.SummaryPath = strings.TrimSpace(value)
	}

	if value := strings.TrimSpace(os.Getenv("APP_HISTORY_DB")); value != "" {
		cfg.Output.HistoryDB = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_GEOTAG_FEED_PATH")); value != "" {
		cfg.Output.GeotagFeedPath = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_GEOTAG_LOG_PATH")); value != "" {
		cfg.Output.GeotagLogPath = value
	}

	if (cfg.Output.GeotagFeedPath == "") != (cfg.Output.GeotagLogPath == "") {
		return Config{}, fmt.Errorf("APP_GEOTAG_FEED_PATH and APP_GEOTAG_LOG_PATH must be set together")
	}

	if value := strings.TrimSpace(os.Getenv("APP_HTTP_ENABLE")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_HTTP_ENABLE: %w", err)
		}
		cfg.HTTP.Enable = enabled
	}

	if value := strings.TrimSpace(os.Getenv("APP_LISTEN_ADDR")); value != "" {
		cfg.HTTP.ListenAddr = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_ENABLE_PROMETHEUS")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ENABLE_PROMETHEUS: %w", err)
		}
		cfg.HTTP.EnablePrometheus = enabled
	}

	if value := strings.TrimSpace(os.Getenv("APP_ENABLE_PPROF")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ENABLE_PPROF: %w", err)
		}
		cfg.HTTP.EnablePprof = enabled
	}

	if value := strings.TrimSpace(os.Getenv("APP_ALLOWED_ORIGINS")); value != "" {
		cfg.HTTP.AllowedOrigins = parseList(value)
	}

	if value := strings.TrimSpace(os.Getenv("APP_WS_MAX_CLIENTS")); value != "" {
		clients, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_WS_MAX_CLIENTS: %w", err)
		}
		if clients < 0 {
			return Config{}, fmt.Errorf("APP_WS_MAX_CLIENTS must be >= 0")
		}
		cfg.HTTP.WSMaxClients = clients
	}

	return cfg, nil
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseScale(value string) (int64, error) {
	scale, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	if scale <= 0 {
		return 0, fmt.Errorf("scale must be > 0")
	}
	return scale, nil
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
