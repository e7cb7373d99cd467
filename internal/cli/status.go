package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/coco-alen/gpu-usage-view/internal/config"
	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/logger"
	"github.com/coco-alen/gpu-usage-view/internal/monitor"
	"github.com/coco-alen/gpu-usage-view/internal/ui"
	"github.com/coco-alen/gpu-usage-view/internal/watcher"
)

// StatusOptions holds options for the status command.
type StatusOptions struct {
	Timeout time.Duration // Overall bound for the whole fleet; 0 uses poll.timeout plus slack

	source watcher.Source
}

var statusTimeout time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Poll every server once and print which GPUs are free",
	Long: `Poll every configured server once, in parallel, and print a table.

Exits 1 when any server failed to report.

Examples:
  gpuview status
  gpuview status --timeout 10s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), cmd.OutOrStdout(), StatusOptions{Timeout: statusTimeout})
	},
}

func init() {
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 0, "overall timeout (default: poll.timeout + 5s)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(ctx context.Context, w io.Writer, opts StatusOptions) error {
	cfg, err := loadWatchConfig()
	if err != nil {
		return err
	}

	reg := watcher.NewRegistry(cfg, watcher.RegistryOptions{
		Source: opts.source,
		Logger: logger.Default(),
	})
	defer reg.Close()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = cfg.Poll.Timeout + 5*time.Second
	}
	return pollAndReport(ctx, w, cfg, reg, timeout)
}

// pollAndReport polls every server once and prints the status table.
func pollAndReport(ctx context.Context, w io.Writer, cfg *config.Config, reg *watcher.Registry, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := reg.PollOnce(ctx); err != nil {
		return errors.WrapWithCode(err, errors.ErrTimeout,
			fmt.Sprintf("Not every server answered within %s", timeout),
			"Raise --timeout, or check the slow servers with 'gpuview watch'.")
	}

	rows := lo.Map(reg.Watchers(), func(wt *watcher.Watcher, _ int) ui.StatusTableRow {
		return statusRow(wt.Server(), wt.State(), cfg.Poll.FreeThreshold)
	})
	fmt.Fprint(w, ui.RenderStatusTable(rows))

	if failed := reg.Failed(); len(failed) > 0 {
		fmt.Fprintf(w, "\n%d of %d servers failed to report.\n", len(failed), reg.Len())
		return errors.NewExitError(1)
	}
	return nil
}

// statusRow converts a watcher state into a table row.
func statusRow(s config.Server, st watcher.State, threshold float64) ui.StatusTableRow {
	row := ui.StatusTableRow{
		State:   ui.StateIdle,
		Server:  s.Name,
		Address: s.Address(),
		Detail:  st.Message,
	}

	switch st.Status {
	case watcher.StatusError:
		row.State = ui.StateError
		row.Detail = st.Message
		if detail := st.Detail(); detail != "" {
			row.Detail += ": " + detail
		}
	case watcher.StatusSuccess:
		if st.Snapshot == nil || st.Summary == nil {
			break
		}
		free := freeDevices(st.Snapshot, threshold)
		row.GPUs = fmt.Sprintf("%d/%d free", free, st.Snapshot.Len())
		row.Detail = fmt.Sprintf("avg %.0f%% util, %.0f%% mem", st.Summary.AvgGPUUtil, st.Summary.AvgMemoryUtil)
		row.State = ui.StateBusy
		if st.Summary.HaveFree {
			row.State = ui.StateFree
		}
		if st.Summary.DeadProcess {
			row.Detail += ", memory held with no compute load"
		}
	}
	return row
}

// freeDevices counts devices under threshold on both compute and memory.
func freeDevices(snap *monitor.Snapshot, threshold float64) int {
	return lo.CountBy(snap.Records, func(r monitor.GPURecord) bool {
		return r.GPUUtil < threshold && r.MemoryUtil < threshold
	})
}
