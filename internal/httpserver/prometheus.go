package httpserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skobkin/freqpilot/internal/status"
)

const metricsNamespace = "freqpilot"

// controllerCollector exports the latest board snapshot as const metrics.
type controllerCollector struct {
	board *status.Board

	cpuHz          *prometheus.Desc
	gpuHz          *prometheus.Desc
	latency        *prometheus.Desc
	threshold      *prometheus.Desc
	fps            *prometheus.Desc
	windowFrames   *prometheus.Desc
	windowLeft     *prometheus.Desc
	sampleAge      *prometheus.Desc
	running        *prometheus.Desc
	frames         *prometheus.Desc
	skipped        *prometheus.Desc
	probeErrors    *prometheus.Desc
	detectErrors   *prometheus.Desc
	resolveErrors  *prometheus.Desc
	deliveryErrors *prometheus.Desc
	signals        *prometheus.Desc
	outcomes       *prometheus.Desc
	detections     *prometheus.Desc
	geotagged      *prometheus.Desc
}

func newControllerCollector(board *status.Board) *controllerCollector {
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, subsystem, name), help, labels, nil)
	}
	return &controllerCollector{
		board:          board,
		cpuHz:          desc("probe", "cpu_frequency_hertz", "CPU clock frequency sampled on the latest frame."),
		gpuHz:          desc("probe", "gpu_frequency_hertz", "GPU clock frequency sampled on the latest frame."),
		latency:        desc("frame", "latency_milliseconds", "Latency reported for the latest frame.", "kind"),
		threshold:      desc("controller", "threshold_milliseconds", "Latency threshold separating speed-up from slow-down."),
		fps:            desc("frame", "rate_fps", "Frame rate over the latest time-series period."),
		windowFrames:   desc("window", "frames", "Frames accumulated in the current window."),
		windowLeft:     desc("window", "remaining_seconds", "Seconds until the window closes."),
		sampleAge:      desc("frame", "age_seconds", "Seconds since the latest frame was processed."),
		running:        desc("controller", "running", "1 while the control loop is running.", "state"),
		frames:         desc("frame", "captured_total", "Frames captured and processed."),
		skipped:        desc("frame", "skipped_total", "Capture attempts that timed out without a frame."),
		probeErrors:    desc("probe", "errors_total", "Frequency probe failures."),
		detectErrors:   desc("frame", "detect_errors_total", "Frames dropped because detection failed."),
		resolveErrors:  desc("actuator", "resolve_failures_total", "Frames where the actuator process could not be resolved."),
		deliveryErrors: desc("actuator", "delivery_errors_total", "Signal deliveries that failed with an unexpected error."),
		signals:        desc("controller", "decisions_total", "Control decisions by signal.", "signal"),
		outcomes:       desc("actuator", "deliveries_total", "Signal delivery attempts by outcome.", "outcome"),
		detections:     desc("frame", "detections_total", "Detections reported by the detector."),
		geotagged:      desc("geotag", "tagged_total", "Detections paired with a position."),
	}
}

func (c *controllerCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.cpuHz, c.gpuHz, c.latency, c.threshold, c.fps, c.windowFrames, c.windowLeft, c.sampleAge,
		c.running, c.frames, c.skipped, c.probeErrors, c.detectErrors, c.resolveErrors, c.deliveryErrors,
		c.signals, c.outcomes, c.detections, c.geotagged,
	} {
		ch <- d
	}
}

func (c *controllerCollector) Collect(ch chan<- prometheus.Metric) {
	snap, ok := c.board.Latest()
	if !ok {
		return
	}

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	gauge(c.cpuHz, float64(snap.Frequency.CPUHz))
	gauge(c.gpuHz, float64(snap.Frequency.GPUHz))
	gauge(c.latency, snap.Latency.TotalMS, "total")
	gauge(c.latency, snap.Latency.CPUMS, "cpu")
	gauge(c.threshold, snap.ThresholdMS)
	gauge(c.fps, snap.FPS)
	gauge(c.windowFrames, float64(snap.WindowFrames))
	gauge(c.windowLeft, snap.WindowRemaining.Seconds())
	if !snap.UpdatedAt.IsZero() {
		gauge(c.sampleAge, max(time.Since(snap.UpdatedAt).Seconds(), 0))
	}
	running := 0.0
	if snap.State == "running" {
		running = 1
	}
	gauge(c.running, running, snap.State)

	n := snap.Counters
	counter(c.frames, n.Frames)
	counter(c.skipped, n.SkippedFrames)
	counter(c.probeErrors, n.ProbeErrors)
	counter(c.detectErrors, n.DetectErrors)
	counter(c.resolveErrors, n.ResolveFailures)
	counter(c.deliveryErrors, n.DeliveryErrors)
	counter(c.signals, n.SpeedUp, "speed_up")
	counter(c.signals, n.SlowDown, "slow_down")
	counter(c.outcomes, n.Delivered, "delivered")
	counter(c.outcomes, n.PermissionDenied, "permission_denied")
	counter(c.outcomes, n.NoSuchProcess, "no_such_process")
	counter(c.detections, n.Detections)
	counter(c.geotagged, n.Geotagged)
}
