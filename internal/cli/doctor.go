package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/coco-alen/gpu-usage-view/internal/config"
	"github.com/coco-alen/gpu-usage-view/internal/doctor"
	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/logger"
	"github.com/coco-alen/gpu-usage-view/internal/monitor"
	"github.com/coco-alen/gpu-usage-view/internal/ui"
	"github.com/coco-alen/gpu-usage-view/internal/watcher"
)

// DoctorOptions holds options for the doctor command.
type DoctorOptions struct {
	JSON        bool
	Fix         bool
	SkipServers bool // Don't query the servers

	source watcher.Source
}

var doctorOpts DoctorOptions

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose config, SSH, and server problems",
	Long: `Check the config file, the alert channel, local SSH keys and agent, and
run one real nvidia-smi query against every server.

Exits 1 when any check fails.

Examples:
  gpuview doctor
  gpuview doctor --fix
  gpuview doctor --skip-servers --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDoctor(cmd.OutOrStdout(), doctorOpts)
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorOpts.JSON, "json", false, "output in JSON format")
	doctorCmd.Flags().BoolVar(&doctorOpts.Fix, "fix", false, "attempt automatic fixes where possible")
	doctorCmd.Flags().BoolVar(&doctorOpts.SkipServers, "skip-servers", false, "don't query the servers")
	rootCmd.AddCommand(doctorCmd)
}

// DoctorOutput represents the JSON output for doctor command.
type DoctorOutput struct {
	Categories []CategoryOutput `json:"categories"`
	Summary    SummaryOutput    `json:"summary"`
}

// CategoryOutput represents a category of check results.
type CategoryOutput struct {
	Name    string         `json:"name"`
	Results []resultOutput `json:"results"`
}

type resultOutput struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	Fixable    bool   `json:"fixable,omitempty"`
}

// SummaryOutput summarizes the check results.
type SummaryOutput struct {
	Pass     int  `json:"pass"`
	Warn     int  `json:"warn"`
	Fail     int  `json:"fail"`
	Fixable  int  `json:"fixable"`
	AllClear bool `json:"all_clear"`
}

func runDoctor(w io.Writer, opts DoctorOptions) error {
	cfgPath := cfgFile
	cfg := loadConfigForDoctor(cfgPath)

	checks := append(doctor.NewConfigChecks(cfgPath, cfg), doctor.NewSSHChecks(cfg)...)
	results := doctor.RunAll(checks)

	if !opts.SkipServers && cfg != nil && len(cfg.Servers) > 0 {
		source := opts.source
		if source == nil {
			collector := monitor.NewCollector(monitor.NewPool(cfg.DialOptions(), nil), logger.Default())
			defer collector.Close()
			source = collector
		}
		serverChecks := doctor.NewServerChecks(cfg, source)
		checks = append(checks, serverChecks...)
		results = append(results, doctor.RunAllParallel(serverChecks)...)
	}

	fixed := 0
	if opts.Fix {
		var fixErr error
		fixed, fixErr = doctor.FixAll(checks, results)
		if fixErr != nil {
			fmt.Fprintf(w, "%s Fix failed: %v\n", ui.SymbolFail, fixErr)
		}
		if fixed > 0 {
			// Re-run so the report shows what's left.
			for i, r := range results {
				if r.Fixable && r.Status != doctor.StatusPass {
					results[i] = doctor.RunAll(checks[i : i+1])[0]
				}
			}
		}
	}

	if opts.JSON {
		if err := writeDoctorJSON(w, results); err != nil {
			return err
		}
	} else {
		writeDoctorText(w, results, opts.Fix, fixed)
	}

	if doctor.HasFailures(results) {
		return errors.NewExitError(1)
	}
	return nil
}

// loadConfigForDoctor returns the validated config, or nil. Load and schema
// errors are reported by the config checks.
func loadConfigForDoctor(explicit string) *config.Config {
	path, err := config.Find(explicit)
	if err != nil || path == "" {
		return nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil
	}
	if err := config.Validate(cfg); err != nil {
		return nil
	}
	return cfg
}

func writeDoctorText(w io.Writer, results []doctor.CheckResult, fixRequested bool, fixed int) {
	successStyle := lipgloss.NewStyle().Foreground(ui.ColorSuccess)
	errorStyle := lipgloss.NewStyle().Foreground(ui.ColorError)
	mutedStyle := lipgloss.NewStyle().Foreground(ui.ColorMuted)
	headerStyle := lipgloss.NewStyle().Bold(true)

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("gpuview diagnostic report"))
	fmt.Fprintln(w)

	rows := lo.Map(results, func(r doctor.CheckResult, _ int) ui.DoctorCheckRow {
		return ui.DoctorCheckRow{
			Status:     r.Status.String(),
			Category:   r.Category,
			Message:    r.Message,
			Suggestion: r.Suggestion,
		}
	})
	fmt.Fprint(w, ui.RenderDoctorTable(rows))

	fmt.Fprintln(w, strings.Repeat("━", 60))
	fmt.Fprintln(w)

	if fixed > 0 {
		fmt.Fprintf(w, "%s Fixed %d issue%s\n", successStyle.Render(ui.SymbolSuccess), fixed, pluralSuffix(fixed))
	}

	if !doctor.HasIssues(results) {
		fmt.Fprintf(w, "%s %s\n", successStyle.Render(ui.SymbolSuccess), doctor.Summary(results))
		return
	}
	fmt.Fprintf(w, "%s %s\n", errorStyle.Render(ui.SymbolFail), doctor.Summary(results))

	if fixable := doctor.FixableCount(results); fixable > 0 && !fixRequested {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  Run with %s to attempt automatic fixes where possible.\n", mutedStyle.Render("--fix"))
	}
}

func writeDoctorJSON(w io.Writer, results []doctor.CheckResult) error {
	var order []string
	grouped := make(map[string][]resultOutput)
	for _, r := range results {
		if _, exists := grouped[r.Category]; !exists {
			order = append(order, r.Category)
		}
		grouped[r.Category] = append(grouped[r.Category], resultOutput{
			Name:       r.Name,
			Status:     r.Status.String(),
			Message:    r.Message,
			Suggestion: r.Suggestion,
			Fixable:    r.Fixable,
		})
	}

	counts := doctor.CountByStatus(results)
	output := DoctorOutput{
		Categories: lo.Map(order, func(cat string, _ int) CategoryOutput {
			return CategoryOutput{Name: cat, Results: grouped[cat]}
		}),
		Summary: SummaryOutput{
			Pass:     counts[doctor.StatusPass],
			Warn:     counts[doctor.StatusWarn],
			Fail:     counts[doctor.StatusFail],
			Fixable:  doctor.FixableCount(results),
			AllClear: !doctor.HasIssues(results),
		},
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

func pluralSuffix(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
