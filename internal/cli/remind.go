package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/coco-alen/gpu-usage-view/internal/config"
	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/remind"
	"github.com/coco-alen/gpu-usage-view/internal/ui"
)

// Reminder modes accepted by --mode.
const (
	RemindNone     = "none"
	RemindHaveFree = "have-free"
	RemindAllFree  = "all-free"
)

// RemindOptions holds options for the remind command.
type RemindOptions struct {
	Mode      string // RemindNone, RemindHaveFree or RemindAllFree; "" asks interactively
	EveryPoll bool   // Remind on every poll while free, not just on the change
}

var (
	remindMode  string
	remindEvery bool
)

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Choose when gpuview reminds you about free GPUs",
	Long: `Choose when 'gpuview watch' sends a reminder, and save it to the config.

Modes:
  none       never remind
  have-free  remind when any GPU on a server becomes free
  all-free   remind when every GPU on a server becomes free

By default a reminder is sent once when a server changes from busy to free.
With --every-poll it is sent on every poll while the server stays free.

Examples:
  gpuview remind                      # interactive
  gpuview remind --mode have-free
  gpuview remind --mode all-free --every-poll`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := RemindOptions{Mode: remindMode, EveryPoll: remindEvery}
		if opts.Mode == "" && !term.IsTerminal(int(os.Stdin.Fd())) {
			return errors.New(errors.ErrConfig,
				"No reminder mode given",
				"Pass --mode none, have-free or all-free when not running in a terminal.")
		}
		return runRemind(cmd.OutOrStdout(), opts)
	},
}

func init() {
	remindCmd.Flags().StringVar(&remindMode, "mode", "", "none, have-free or all-free")
	remindCmd.Flags().BoolVar(&remindEvery, "every-poll", false, "remind on every poll while free")
	rootCmd.AddCommand(remindCmd)
}

func runRemind(w io.Writer, opts RemindOptions) error {
	cfg, path, err := loadConfigForWrite()
	if err != nil {
		return err
	}

	if opts.Mode == "" {
		opts, err = askRemindOptions(cfg.Remind)
		if err != nil {
			return err
		}
	}

	policy, err := policyFor(opts.Mode, opts.EveryPoll)
	if err != nil {
		return err
	}
	if err := config.SetRemind(path, policy); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s Reminders: %s (saved to %s)\n", ui.SymbolSuccess, describePolicy(policy), path)
	return nil
}

// policyFor converts a mode name into a policy.
func policyFor(mode string, everyPoll bool) (remind.Policy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case RemindNone, "off":
		return remind.Policy{}, nil
	case RemindHaveFree:
		return remind.Policy{OnHaveFree: true, EveryPoll: everyPoll}, nil
	case RemindAllFree:
		return remind.Policy{OnAllFree: true, EveryPoll: everyPoll}, nil
	default:
		return remind.Policy{}, errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown reminder mode '%s'", mode),
			"Use one of: none, have-free, all-free")
	}
}

// modeOf is the inverse of policyFor.
func modeOf(p remind.Policy) string {
	if !p.Enabled() {
		return RemindNone
	}
	return p.Mode()
}

func describePolicy(p remind.Policy) string {
	if !p.Enabled() {
		return "off"
	}
	if p.EveryPoll {
		return p.Mode() + ", every poll"
	}
	return p.Mode() + ", once per change"
}

func askRemindOptions(current remind.Policy) (RemindOptions, error) {
	opts := RemindOptions{Mode: modeOf(current), EveryPoll: current.EveryPoll}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Remind me when").
				Options(
					huh.NewOption("Never", RemindNone),
					huh.NewOption("Any GPU on a server becomes free", RemindHaveFree),
					huh.NewOption("Every GPU on a server becomes free", RemindAllFree),
				).
				Value(&opts.Mode),
			huh.NewSelect[bool]().
				Title("How often").
				Options(
					huh.NewOption("Once, when the server frees up", false),
					huh.NewOption("On every poll while it stays free", true),
				).
				Value(&opts.EveryPoll),
		),
	)

	if err := form.Run(); err != nil {
		return RemindOptions{}, errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't get your selection",
			"Try again or use: gpuview remind --mode <none|have-free|all-free>")
	}
	return opts, nil
}
