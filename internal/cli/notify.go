package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/coco-alen/gpu-usage-view/internal/announce"
	"github.com/coco-alen/gpu-usage-view/internal/config"
	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/logger"
	"github.com/coco-alen/gpu-usage-view/internal/ui"
)

// notifyTimeout bounds the test alert.
const notifyTimeout = 15 * time.Second

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Manage the alert channel",
}

var notifyTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test alert through the configured channel",
	Long: `Send "` + announce.TestMessage + `" through the channel in the notify
section of your config, and report whether it was delivered.

Examples:
  gpuview notify test`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNotifyTest(cmd.Context(), cmd.OutOrStdout(), nil)
	},
}

func init() {
	notifyCmd.AddCommand(notifyTestCmd)
	rootCmd.AddCommand(notifyCmd)
}

// runNotifyTest validates the configured announcer. A non-nil ann replaces
// the one built from config.
func runNotifyTest(ctx context.Context, w io.Writer, ann announce.Announcer) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if ann == nil {
		ann, err = announce.New(cfg.Notify, logger.Default())
		if err != nil {
			return err
		}
	}
	if ann == nil {
		return errors.New(errors.ErrConfig,
			"Notifications are turned off",
			"Set notify.type to log, webhook or email in your config.")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if err := ann.Validate(ctx); err != nil {
		return err
	}

	channel := cfg.Notify.Type
	fmt.Fprintf(w, "%s Test alert sent via %s\n", ui.SymbolSuccess, channel)
	return nil
}
