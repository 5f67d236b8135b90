package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/steladb/stela/internal/config"
	"github.com/steladb/stela/internal/preflight"
)

// doctorOptions holds the CLI flags for doctor.
type doctorOptions struct {
	dataDir    string
	verbose    bool
	jsonOutput bool
}

func newDoctorCmd() *cobra.Command {
	var opts doctorOptions

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run the system checks the server performs on its first start.

Checks:
  - Disk space at the data directory (100 MB minimum)
  - Write permissions on the data directory
  - File descriptor limits (1024 minimum)
  - Available memory (1 GB recommended, advisory)

The data directory comes from the usual config resolution; use
--data-dir to check a different one. The command exits non-zero when a
required check fails.`,
		Example: `  # Run diagnostics
  stela doctor

  # Verbose output with details
  stela doctor --verbose

  # JSON output for scripting
  stela doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.dataDir, "data-dir", "", "Data directory to check (overrides config)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDoctor(cmd *cobra.Command, opts doctorOptions) error {
	dataDir := opts.dataDir
	if dataDir == "" {
		cfg, err := config.Load(".")
		if err != nil {
			return err
		}
		dataDir = cfg.DataDir
	}

	checker := preflight.New(
		preflight.WithVerbose(opts.verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)
	results := checker.RunAll(cmd.Context(), dataDir)

	// JSON mode always exits zero; scripts inspect the status field.
	if opts.jsonOutput {
		return printDoctorReport(cmd, checker, dataDir, results)
	}

	checker.PrintResults(results)

	if !preflight.NeedsCheck(dataDir) {
		if age := preflight.MarkerAge(dataDir); age > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "\nLast successful check: %s ago\n", formatAge(age))
		}
	}

	if checker.HasCriticalFailures(results) {
		return errors.New("system check failed")
	}
	return nil
}

// doctorReport is the JSON envelope for --json output.
type doctorReport struct {
	Status   string        `json:"status"`
	DataDir  string        `json:"dataDir"`
	Checks   []doctorCheck `json:"checks"`
	Warnings []string      `json:"warnings,omitempty"`
	Errors   []string      `json:"errors,omitempty"`
}

type doctorCheck struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
	Details  string `json:"details,omitempty"`
}

func printDoctorReport(cmd *cobra.Command, checker *preflight.Checker, dataDir string, results []preflight.CheckResult) error {
	report := doctorReport{
		Status:  checker.SummaryStatus(results),
		DataDir: dataDir,
		Checks:  make([]doctorCheck, len(results)),
	}

	for i, r := range results {
		report.Checks[i] = doctorCheck{
			Name:     r.Name,
			Status:   strings.ToLower(r.Status.String()),
			Message:  r.Message,
			Required: r.Required,
			Details:  r.Details,
		}

		if r.IsCritical() {
			report.Errors = append(report.Errors, r.Name+": "+r.Message)
		} else if r.Status == preflight.StatusWarn {
			report.Warnings = append(report.Warnings, r.Name+": "+r.Message)
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// formatAge renders a duration as a rough human age.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "moments"
	case d < time.Hour:
		return fmt.Sprintf("%d minute(s)", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hour(s)", int(d.Hours()))
	default:
		return fmt.Sprintf("%d day(s)", int(d.Hours()/24))
	}
}
