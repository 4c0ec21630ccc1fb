package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/skobkin/freqpilot/internal/actuator"
	"github.com/skobkin/freqpilot/internal/app"
	"github.com/skobkin/freqpilot/internal/freqprobe"
)

var probeJSON bool

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Show the frequency sources and the actuator once",
	Long: `Probe lists the GPU clock sources found under the sysfs root, takes one
frequency sample with the configured counters and resolves the actuator
process, without sending any signal.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "Emit the report as JSON")
}

type probeReport struct {
	Sources     []freqprobe.Source `json:"sources"`
	CPUCounter  string             `json:"cpu_counter,omitempty"`
	GPUCounter  string             `json:"gpu_counter,omitempty"`
	Sample      *freqprobe.Sample  `json:"sample,omitempty"`
	SampleError string             `json:"sample_error,omitempty"`
	Actuator    string             `json:"actuator"`
	Handle      *actuator.Handle   `json:"handle,omitempty"`
	LookupError string             `json:"lookup_error,omitempty"`
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	report := probeReport{Actuator: cfg.Actuator.Name}

	sources, err := freqprobe.Discover(cfg.SysfsRoot, logger.With("component", "gpu_discovery"))
	if err != nil {
		logger.Warn("gpu discovery failed", "err", err)
	}
	report.Sources = sources

	probe, err := app.NewProbe(cfg, logger)
	if err != nil {
		report.SampleError = err.Error()
	} else {
		report.CPUCounter, report.GPUCounter = probe.Counters()
		if sample, err := probe.Sample(); err != nil {
			report.SampleError = err.Error()
		} else {
			report.Sample = &sample
		}
	}

	locator, err := actuator.NewLocator(cfg.Actuator.Locator, cfg.ProcRoot, logger)
	if err != nil {
		return fmt.Errorf("init actuator locator: %w", err)
	}
	if handle, err := locator.Resolve(cfg.Actuator.Name); err != nil {
		report.LookupError = err.Error()
	} else {
		report.Handle = &handle
	}

	out := cmd.OutOrStdout()
	if probeJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	renderProbe(out, report)
	return nil
}

func renderProbe(out io.Writer, r probeReport) {
	fmt.Fprintln(out, titleStyle.Render("GPU clock sources"))
	if len(r.Sources) == 0 {
		fmt.Fprintln(out, faintStyle.Render("  none found"))
	}
	for i, src := range r.Sources {
		marker := " "
		if i == 0 {
			marker = goodStyle.Render("*")
		}
		fmt.Fprintf(out, "%s %s %s %s\n", marker, labelStyle.Render(src.Kind), src.Name, faintStyle.Render(src.Path))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, titleStyle.Render("Sample"))
	if r.Sample != nil {
		fmt.Fprintln(out, field("CPU", formatHz(r.Sample.CPUHz)+" "+faintStyle.Render(r.CPUCounter)))
		fmt.Fprintln(out, field("GPU", formatHz(r.Sample.GPUHz)+" "+faintStyle.Render(r.GPUCounter)))
	} else {
		fmt.Fprintln(out, field("error", badStyle.Render(r.SampleError)))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, titleStyle.Render("Actuator"))
	if r.Handle != nil {
		fmt.Fprintln(out, field(r.Actuator, goodStyle.Render(fmt.Sprintf("pid %d", r.Handle.PID))))
	} else {
		fmt.Fprintln(out, field(r.Actuator, badStyle.Render(r.LookupError)))
	}
}
