// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skobkin/freqpilot/internal/actuator"
	"github.com/skobkin/freqpilot/internal/config"
	"github.com/skobkin/freqpilot/internal/controller"
	"github.com/skobkin/freqpilot/internal/freqprobe"
	"github.com/skobkin/freqpilot/internal/geotag"
	"github.com/skobkin/freqpilot/internal/history"
	"github.com/skobkin/freqpilot/internal/httpserver"
	"github.com/skobkin/freqpilot/internal/pipeline"
	"github.com/skobkin/freqpilot/internal/record"
	"github.com/skobkin/freqpilot/internal/sim"
	"github.com/skobkin/freqpilot/internal/status"
)

const (
	shutdownTimeout = 10 * time.Second

	frameWidth  = 640
	frameHeight = 480
)

// Run builds the control loop from cfg and runs it for one window. It returns an
// error only when setup fails or the run could not be recorded.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	probe, err := NewProbe(cfg, baseLogger)
	if err != nil {
		return err
	}
	cpuName, gpuName := probe.Counters()
	appLogger.Info("frequency counters", "cpu", cpuName, "gpu", gpuName)

	locator, err := actuator.NewLocator(cfg.Actuator.Locator, cfg.ProcRoot, baseLogger)
	if err != nil {
		return fmt.Errorf("init actuator locator: %w", err)
	}
	signals, err := controller.ParseSignalMap(cfg.Actuator.SpeedUpSignal, cfg.Actuator.SlowDownSignal)
	if err != nil {
		return fmt.Errorf("parse signal map: %w", err)
	}
	ctrl, err := controller.New(controller.Options{
		ActuatorName: cfg.Actuator.Name,
		ThresholdMS:  cfg.Control.ThresholdMS,
		Signals:      signals,
		Locator:      locator,
		Logger:       baseLogger,
	})
	if err != nil {
		return fmt.Errorf("init controller: %w", err)
	}

	capture, err := sim.NewSyntheticCapture(frameWidth, frameHeight, cfg.Source.FPS, cfg.Source.Frames)
	if err != nil {
		return fmt.Errorf("init capture: %w", err)
	}
	detector, sourceDesc, err := newDetector(cfg)
	if err != nil {
		return fmt.Errorf("init detector: %w", err)
	}
	renderer := sim.NewNullRenderer(baseLogger)
	defer renderer.Close()

	board := status.NewBoard()
	opts := pipeline.Options{
		Capture:        capture,
		Detector:       detector,
		Renderer:       renderer,
		Probe:          probe,
		Controller:     ctrl,
		Window:         cfg.Control.WindowDuration,
		CaptureTimeout: cfg.Control.CaptureTimeout,
		Board:          board,
		Logger:         baseLogger,
	}
	closeSinks, err := openSinks(ctx, cfg, sourceDesc, &opts, baseLogger)
	if err != nil {
		return err
	}

	driver, err := pipeline.NewDriver(opts)
	if err != nil {
		closeSinks()
		return fmt.Errorf("init driver: %w", err)
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	var (
		srv   *httpserver.Server
		errCh chan error
	)
	if cfg.HTTP.Enable {
		srv = httpserver.New(cfg, baseLogger.With("component", "http"), board)
		appLogger.Info("starting HTTP server", "listen_addr", cfg.HTTP.ListenAddr)
		errCh = make(chan error, 1)
		go func() {
			err := srv.Start()
			if err != nil {
				appLogger.Error("http server failed, stopping run", "err", err)
				runCancel()
			}
			errCh <- err
		}()
	}

	state, summary, runErr := driver.Run(runCtx)
	appLogger.Info("run complete",
		"state", state,
		"frames", summary.Frames,
		"avg_total_ms", summary.AvgTotalLatency,
		"avg_cpu_ms", summary.AvgCPULatency,
		"last_cpu_hz", summary.LastCPUHz,
		"last_gpu_hz", summary.LastGPUHz)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			runErr = errors.Join(runErr, fmt.Errorf("http shutdown: %w", err))
		}
		if err := <-errCh; err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("http server: %w", err))
		}
	}

	if runErr != nil {
		return runErr
	}
	appLogger.Info("shutdown complete")
	return nil
}

// NewProbe builds the frequency probe. Without a configured GPU counter path the
// first GPU clock source found under the sysfs root is used.
func NewProbe(cfg config.Config, logger *slog.Logger) (*freqprobe.Probe, error) {
	cpu := freqprobe.FileCounter{Path: cfg.Probe.CPUPath, Scale: cfg.Probe.CPUScale}

	var gpu freqprobe.Counter
	if cfg.Probe.GPUPath != "" {
		gpu = freqprobe.FileCounter{Path: cfg.Probe.GPUPath, Scale: cfg.Probe.GPUScale}
	} else {
		sources, err := freqprobe.Discover(cfg.SysfsRoot, logger.With("component", "gpu_discovery"))
		if err != nil {
			return nil, fmt.Errorf("discover gpu clock: %w", err)
		}
		if len(sources) == 0 {
			return nil, fmt.Errorf("discover gpu clock: no source under %s, set APP_GPU_FREQ_PATH", cfg.SysfsRoot)
		}
		for _, src := range sources[1:] {
			logger.Debug("gpu clock candidate ignored", "kind", src.Kind, "device", src.Device, "path", src.Path)
		}
		logger.Info("gpu clock source selected", "kind", sources[0].Kind, "device", sources[0].Device, "name", sources[0].Name)
		gpu = sources[0].Counter()
	}

	probe, err := freqprobe.New(cpu, gpu)
	if err != nil {
		return nil, fmt.Errorf("init frequency probe: %w", err)
	}
	return probe, nil
}

func newDetector(cfg config.Config) (pipeline.Detector, string, error) {
	if cfg.Source.TracePath == "" {
		return sim.NewConstantDetector(cfg.Source.TraceLatency, true), fmt.Sprintf("constant:%gms", cfg.Source.TraceLatency), nil
	}
	entries, err := sim.LoadTrace(cfg.Source.TracePath)
	if err != nil {
		return nil, "", err
	}
	det, err := sim.NewTraceDetector(entries, true)
	if err != nil {
		return nil, "", err
	}
	return det, "trace:" + cfg.Source.TracePath, nil
}

// openSinks opens every configured output and attaches it to opts. The returned
// function closes whatever was opened, for setup failures after this point.
func openSinks(ctx context.Context, cfg config.Config, sourceDesc string, opts *pipeline.Options, logger *slog.Logger) (func(), error) {
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("close output after setup failure", "err", err)
			}
		}
	}

	if cfg.Output.TimeSeriesPath != "" {
		series, err := record.OpenSeries(cfg.Output.TimeSeriesPath)
		if err != nil {
			return nil, err
		}
		opts.Series = series
		closers = append(closers, series.Close)
	}

	if cfg.Output.GeotagFeedPath != "" {
		tagger, err := geotag.Open(cfg.Output.GeotagFeedPath, cfg.Output.GeotagLogPath, logger)
		if err != nil {
			closeAll()
			return nil, err
		}
		opts.Geotag = tagger
		closers = append(closers, tagger.Close)
	}

	if cfg.Output.SummaryPath != "" {
		summary, err := record.OpenSummary(cfg.Output.SummaryPath)
		if err != nil {
			closeAll()
			return nil, err
		}
		opts.Summary = summary
		closers = append(closers, summary.Close)
	}

	if cfg.Output.HistoryDB != "" {
		store, err := history.Open(ctx, cfg.Output.HistoryDB, logger)
		if err != nil {
			closeAll()
			return nil, err
		}
		run, err := store.BeginRun(ctx, history.RunInfo{
			StartedAt:   time.Now(),
			Actuator:    cfg.Actuator.Name,
			ThresholdMS: cfg.Control.ThresholdMS,
			Window:      cfg.Control.WindowDuration,
			Source:      sourceDesc,
		})
		if err != nil {
			closeAll()
			_ = store.Close()
			return nil, err
		}
		opts.History = run
		opts.RunID = run.ID().String()
		closers = append(closers, run.Close)
	}

	return closeAll, nil
}
