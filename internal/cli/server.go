package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/coco-alen/gpu-usage-view/internal/config"
	"github.com/coco-alen/gpu-usage-view/internal/doctor"
	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/logger"
	"github.com/coco-alen/gpu-usage-view/internal/monitor"
	"github.com/coco-alen/gpu-usage-view/internal/ui"
	"github.com/coco-alen/gpu-usage-view/internal/watcher"
	"github.com/coco-alen/gpu-usage-view/pkg/sshutil"
)

// ServerAddOptions holds options for the server add command.
type ServerAddOptions struct {
	Name         string // Friendly name; defaults to the host
	Host         string // Hostname, IP, or ~/.ssh/config alias
	Username     string
	Password     string // Plain text or ${VAR}
	IdentityFile string
	Port         int
	Interval     int // Poll interval in seconds
	Interactive  bool
	SkipProbe    bool // Don't run nvidia-smi on the server before saving

	source watcher.Source
}

var serverAddOpts ServerAddOptions

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage watched servers",
}

var serverListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List configured servers",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serverList(cmd.OutOrStdout())
	},
}

var serverAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a server to watch",
	Long: `Add a server to the config.

Without --host, pick an alias from ~/.ssh/config or type an address. Passwords
can reference an environment variable as ${VAR}; keys and ssh-agent are tried
when no password is set.

Examples:
  gpuview server add
  gpuview server add --host lab-a
  gpuview server add --name lab-b --host 10.0.0.12 --user alice --password '${LAB_B_PASSWORD}'

The server is queried once with nvidia-smi before it is saved. Pass
--skip-probe to save a server that isn't reachable yet.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := serverAddOpts
		opts.Interactive = opts.Host == "" && term.IsTerminal(int(os.Stdin.Fd()))
		return serverAdd(cmd.OutOrStdout(), opts)
	},
}

var serverImportCmd = &cobra.Command{
	Use:   "import <server_info.json>",
	Short: "Import servers from a legacy server_info.json list",
	Long: `Import servers from a JSON array of
{name, ip, username, password, port, update_step} objects. Servers whose name
is already configured are skipped. Use - to read standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return serverImport(cmd.OutOrStdout(), args[0], cmd.InOrStdin())
	},
}

var serverRemoveCmd = &cobra.Command{
	Use:               "remove <name>",
	Aliases:           []string{"rm"},
	Short:             "Stop watching a server",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeServerNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serverRemove(cmd.OutOrStdout(), args[0])
	},
}

func init() {
	f := serverAddCmd.Flags()
	f.StringVar(&serverAddOpts.Name, "name", "", "server name (default: the host)")
	f.StringVar(&serverAddOpts.Host, "host", "", "hostname, IP, or SSH config alias")
	f.StringVar(&serverAddOpts.Username, "user", "", "SSH username")
	f.StringVar(&serverAddOpts.Password, "password", "", "SSH password, or ${VAR} to read it from the environment")
	f.StringVar(&serverAddOpts.IdentityFile, "identity", "", "private key file")
	f.IntVar(&serverAddOpts.Port, "port", 0, "SSH port (default 22)")
	f.IntVar(&serverAddOpts.Interval, "interval", config.DefaultInterval, "poll interval in seconds")
	f.BoolVar(&serverAddOpts.SkipProbe, "skip-probe", false, "save without testing the connection")

	serverCmd.AddCommand(serverListCmd)
	serverCmd.AddCommand(serverAddCmd)
	serverCmd.AddCommand(serverImportCmd)
	serverCmd.AddCommand(serverRemoveCmd)
	rootCmd.AddCommand(serverCmd)
}

func serverList(w io.Writer) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Servers) == 0 {
		fmt.Fprintln(w, "No servers configured. Add one with 'gpuview server add'.")
		return nil
	}

	columns := []ui.TableColumn{
		{Title: "Name", Width: 16},
		{Title: "Host", Width: 26},
		{Title: "User", Width: 12},
		{Title: "Every", Width: 8},
		{Title: "Auth", Width: 10},
	}
	rows := lo.Map(cfg.Servers, func(s config.Server, _ int) []string {
		return []string{s.Name, s.Address(), s.Username, s.IntervalDuration().String(), authLabel(s)}
	})

	fmt.Fprintln(w, ui.RenderSimpleTable(columns, rows))
	fmt.Fprintf(w, "\n%d servers in %s\n", len(cfg.Servers), path)
	return nil
}

// authLabel describes how a server authenticates, without revealing secrets.
func authLabel(s config.Server) string {
	switch {
	case config.IsSecretRef(s.Password):
		return "env"
	case s.Password != "":
		return "password"
	case s.IdentityFile != "":
		return "key"
	default:
		return "agent/keys"
	}
}

func serverAdd(w io.Writer, opts ServerAddOptions) error {
	cfg, path, err := loadConfigForWrite()
	if err != nil {
		return err
	}

	if opts.Interactive {
		cancelled, err := askServer(cfg, &opts)
		if err != nil {
			return err
		}
		if cancelled {
			fmt.Fprintln(w, "Cancelled.")
			return nil
		}
	}

	s, err := serverFromOptions(opts)
	if err != nil {
		return err
	}
	if _, exists := cfg.Server(s.Name); exists {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("A server named '%s' already exists", s.Name),
			"Pick another name with --name.")
	}

	if !opts.SkipProbe {
		save, err := probeServer(w, cfg, s, opts)
		if err != nil {
			return err
		}
		if !save {
			fmt.Fprintln(w, "Cancelled.")
			return nil
		}
	}

	if err := config.AddServer(path, s); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s Added server '%s' (%s) to %s\n", ui.SymbolSuccess, s.Name, s.Address(), path)
	if s.Password != "" && !config.IsSecretRef(s.Password) {
		fmt.Fprintln(w, "  The password is stored in plain text. Consider ${VAR} and a .env file next to the config.")
	}
	return nil
}

// probeServer queries the new server once, the way a watcher would. It
// returns whether to save: a failed probe asks in a terminal and is an error
// otherwise.
func probeServer(w io.Writer, cfg *config.Config, s config.Server, opts ServerAddOptions) (bool, error) {
	source := opts.source
	if source == nil {
		collector := monitor.NewCollector(monitor.NewPool(cfg.DialOptions(), nil), logger.Default())
		defer collector.Close()
		source = collector
	}

	fmt.Fprintf(w, "Testing %s...\n", s.Address())
	check := &doctor.ServerCheck{
		Server:    s,
		Source:    source,
		Timeout:   cfg.Poll.Timeout,
		Threshold: cfg.Poll.FreeThreshold,
	}
	result := check.Run()
	if result.Status != doctor.StatusFail {
		fmt.Fprintf(w, "%s %s\n", ui.SymbolSuccess, result.Message)
		return true, nil
	}

	fmt.Fprintf(w, "%s %s\n", ui.SymbolFail, result.Message)
	if !opts.Interactive {
		return false, errors.New(errors.ErrSSH,
			fmt.Sprintf("Couldn't query '%s'", s.Name),
			result.Suggestion+"\n  Pass --skip-probe to save it anyway.")
	}

	var saveAnyway bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Add server anyway? (You can fix the connection later)").
				Value(&saveAnyway),
		),
	)
	if err := form.Run(); err != nil {
		return false, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to get user input",
			"Pass --skip-probe to save without testing.")
	}
	return saveAnyway, nil
}

// serverFromOptions builds and validates a server from flags or form answers.
func serverFromOptions(opts ServerAddOptions) (config.Server, error) {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		return config.Server{}, errors.New(errors.ErrConfig,
			"No host given",
			"Pass --host, or run 'gpuview server add' in a terminal to pick one.")
	}

	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = host
	}
	if err := config.ValidateInterval(opts.Interval); err != nil {
		return config.Server{}, err
	}

	s := config.Server{
		Name:         name,
		Host:         host,
		Username:     strings.TrimSpace(opts.Username),
		Password:     opts.Password,
		IdentityFile: strings.TrimSpace(opts.IdentityFile),
		Port:         opts.Port,
		Interval:     opts.Interval,
	}
	if err := config.ValidateServer(s); err != nil {
		return config.Server{}, err
	}
	return s, nil
}

// askServer fills opts interactively: an SSH config alias first, then the
// remaining fields. Returns true when the user cancels.
func askServer(cfg *config.Config, opts *ServerAddOptions) (bool, error) {
	entries, err := sshutil.ParseSSHConfig()
	if err != nil {
		return false, errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't read ~/.ssh/config",
			"Fix the file, or pass --host to skip the picker.")
	}
	watched := lo.SliceToMap(cfg.Servers, func(s config.Server) (string, bool) { return s.Host, true })

	pick, err := ui.PickSSHHost(entries, watched)
	if err != nil {
		return false, err
	}
	if pick.Cancelled {
		return true, nil
	}
	picked := pick.Entry
	if picked != nil {
		opts.Host = picked.Alias
		if opts.Name == "" {
			opts.Name = picked.Alias
		}
	}

	interval := strconv.Itoa(opts.Interval)
	var fields []huh.Field
	if picked == nil {
		fields = append(fields,
			huh.NewInput().
				Title("Server address").
				Description("Hostname, IP, or SSH config alias").
				Placeholder("10.0.0.12").
				Value(&opts.Host).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("address is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Username").
				Description("Leave empty to use your local user").
				Value(&opts.Username),
			huh.NewInput().
				Title("Password (optional)").
				Description("Leave empty for keys or ssh-agent. ${VAR} reads an environment variable.").
				EchoMode(huh.EchoModePassword).
				Value(&opts.Password),
		)
	}
	fields = append(fields,
		huh.NewInput().
			Title("Name").
			Description("A short unique name shown in the dashboard").
			Placeholder("lab-a").
			Value(&opts.Name).
			Validate(func(s string) error {
				if strings.ContainsAny(s, " \t/") {
					return fmt.Errorf("name can't contain spaces or slashes")
				}
				if _, exists := cfg.Server(strings.TrimSpace(s)); exists {
					return fmt.Errorf("a server named '%s' already exists", s)
				}
				return nil
			}),
		huh.NewInput().
			Title("Poll interval (seconds)").
			Value(&interval).
			Validate(func(s string) error {
				n, err := strconv.Atoi(strings.TrimSpace(s))
				if err != nil {
					return fmt.Errorf("enter a whole number of seconds")
				}
				return config.ValidateInterval(n)
			}),
	)

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return false, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to get user input",
			"Pass --host and the other flags to add a server without prompts.")
	}

	opts.Interval, _ = strconv.Atoi(strings.TrimSpace(interval))
	return false, nil
}

func serverImport(w io.Writer, file string, stdin io.Reader) error {
	r := stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Can't open "+file,
				"Check the path to server_info.json.")
		}
		defer f.Close()
		r = f
	}

	servers, err := config.ImportServerInfo(r)
	if err != nil {
		return err
	}

	cfg, path, err := loadConfigForWrite()
	if err != nil {
		return err
	}

	added := 0
	for _, s := range servers {
		if _, exists := cfg.Server(s.Name); exists {
			fmt.Fprintf(w, "  skipped '%s': already configured\n", s.Name)
			continue
		}
		if err := config.AddServer(path, s); err != nil {
			return err
		}
		cfg.Servers = append(cfg.Servers, s)
		added++
		fmt.Fprintf(w, "  added '%s' (%s)\n", s.Name, s.Address())
	}

	fmt.Fprintf(w, "%s Imported %d of %d servers into %s\n", ui.SymbolSuccess, added, len(servers), path)
	if lo.ContainsBy(servers, func(s config.Server) bool { return s.Password != "" && !config.IsSecretRef(s.Password) }) {
		fmt.Fprintln(w, "  Some passwords are stored in plain text. Consider ${VAR} and a .env file next to the config.")
	}
	return nil
}

func serverRemove(w io.Writer, name string) error {
	_, path, err := loadConfig()
	if err != nil {
		return err
	}
	if path == "" {
		return errors.New(errors.ErrConfig,
			"No config file found",
			"Add a server first with 'gpuview server add'.")
	}
	if err := config.RemoveServer(path, name); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s Removed '%s' from %s\n", ui.SymbolSuccess, name, path)
	return nil
}

// completeServerNames offers configured server names to shell completion.
func completeServerNames(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	names := lo.Filter(cfg.ServerNames(), func(n string, _ int) bool {
		return strings.HasPrefix(n, toComplete)
	})
	return names, cobra.ShellCompDirectiveNoFileComp
}
