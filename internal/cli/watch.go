package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/coco-alen/gpu-usage-view/internal/announce"
	"github.com/coco-alen/gpu-usage-view/internal/config"
	"github.com/coco-alen/gpu-usage-view/internal/dashboard"
	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/logger"
	"github.com/coco-alen/gpu-usage-view/internal/remind"
	"github.com/coco-alen/gpu-usage-view/internal/watcher"
)

// DefaultLogFile receives log output while the dashboard owns the terminal.
const DefaultLogFile = "gpuview.log"

// WatchOptions holds options for the watch command.
type WatchOptions struct {
	MetricsAddr  string // Serve Prometheus metrics on this address when set
	Plain        bool   // Print one line per poll instead of the dashboard
	VerifyNotify bool   // Send a test alert before watching

	source    watcher.Source
	announcer announce.Announcer
}

var watchOpts WatchOptions

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch every server and remind you when GPUs free up",
	Long: `Poll every configured server on its own interval.

On a terminal this opens a live dashboard; logs go to log_file (default
gpuview.log). Otherwise, or with --plain, one line is printed per poll.

Examples:
  gpuview watch
  gpuview watch --plain --metrics-addr :9109
  gpuview watch --verify-notify`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := watchOpts
		if !opts.Plain && !term.IsTerminal(int(os.Stdout.Fd())) {
			opts.Plain = true
		}
		return runWatch(ctx, cmd.OutOrStdout(), opts)
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchOpts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9109")
	watchCmd.Flags().BoolVar(&watchOpts.Plain, "plain", false, "print one line per poll instead of the dashboard")
	watchCmd.Flags().BoolVar(&watchOpts.VerifyNotify, "verify-notify", false, "send a test alert before watching")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(ctx context.Context, w io.Writer, opts WatchOptions) error {
	cfg, err := loadWatchConfig()
	if err != nil {
		return err
	}

	log := logger.NewEnvLogger("[gpuview]")
	if !opts.Plain {
		f, err := openLogFile(cfg.LogFile)
		if err != nil {
			return err
		}
		defer f.Close()
		log = logger.NewWriterLogger(f, "[gpuview]")
	}
	logger.SetDefault(log)

	ann := opts.announcer
	if ann == nil {
		ann, err = announce.New(cfg.Notify, log)
		if err != nil {
			return err
		}
	}

	var metrics *watcher.Metrics
	if opts.MetricsAddr != "" {
		metrics = watcher.NewMetrics()
	}

	ro := watcher.RegistryOptions{
		Source:    opts.source,
		Announcer: ann,
		Metrics:   metrics,
		Logger:    log,
	}
	if opts.Plain {
		ro.OnUpdate = newLinePrinter(w).print
	}
	reg := watcher.NewRegistry(cfg, ro)
	defer reg.Close()

	if opts.VerifyNotify {
		if err := reg.ValidateAnnouncer(ctx); err != nil {
			return err
		}
		log.Info("test alert sent")
	}

	if metrics != nil {
		srv := serveMetrics(opts.MetricsAddr, metrics, log)
		defer shutdownServer(srv)
	}

	reg.StartAll(true)

	if opts.Plain {
		<-ctx.Done()
		return nil
	}
	return runDashboard(reg, cfg)
}

func runDashboard(reg *watcher.Registry, cfg *config.Config) error {
	p := tea.NewProgram(dashboard.NewModel(reg, cfg.Poll.FreeThreshold), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Dashboard failed",
			"Try 'gpuview watch --plain' if your terminal can't run the dashboard.")
	}
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if path == "" {
		path = DefaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Can't open log file "+path,
			"Set log_file in your config to a writable path.")
	}
	return f, nil
}

// serveMetrics serves /metrics in the background. A listen failure is logged,
// not fatal: watching is still useful without the exporter.
func serveMetrics(addr string, m *watcher.Metrics, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server on %s: %v", addr, err)
		}
	}()
	log.Info("serving metrics on %s/metrics", addr)
	return srv
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// linePrinter writes one line per finished poll. Watchers publish from their
// own goroutines, so writes are serialized.
type linePrinter struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func newLinePrinter(w io.Writer) *linePrinter {
	return &linePrinter{out: w, now: time.Now}
}

func (p *linePrinter) print(name string, st watcher.State) {
	line := formatUpdate(name, st)
	if line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %s\n", p.now().Format("15:04:05"), line)
}

// formatUpdate renders a finished poll as one line, or "" for states that
// aren't worth a line (idle, loading).
func formatUpdate(name string, st watcher.State) string {
	switch st.Status {
	case watcher.StatusError:
		line := fmt.Sprintf("%s: %s", name, st.Message)
		if detail := st.Detail(); detail != "" {
			line += " (" + detail + ")"
		}
		return line

	case watcher.StatusSuccess:
		if st.Summary == nil || st.Snapshot == nil {
			return name + ": no data"
		}
		state := "busy"
		switch {
		case st.Summary.AllFree:
			state = "all free"
		case st.Summary.HaveFree:
			state = "some free"
		}
		line := fmt.Sprintf("%s: %d GPUs, %s, avg util %.0f%%, avg mem %.0f%%",
			name, st.Snapshot.Len(), state, st.Summary.AvgGPUUtil, st.Summary.AvgMemoryUtil)
		if st.Alert != remind.AlertNone {
			line += ", reminder " + st.Alert.String()
			if st.AnnounceErr != nil {
				line += " not sent: " + errors.Summarize(st.AnnounceErr)
			}
		}
		return line
	}
	return ""
}
