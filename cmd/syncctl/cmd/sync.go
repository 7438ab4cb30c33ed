package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pilab-dev/idsync/domain"
)

const failureDisplayLimit = 5

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Run bulk reconciliation passes",
	Aliases: []string{"reconcile"},
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push every local record to the remote surfaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		tb, err := buildToolbox(ctx)
		if err != nil {
			return err
		}
		defer tb.closeF()

		runCtx, timeout := context.WithTimeout(ctx, tb.cfg.BulkTimeout())
		defer timeout()

		emailFilter, _ := cmd.Flags().GetString("email-domain")
		var filter func(*domain.User) bool
		if emailFilter != "" {
			filter = func(u *domain.User) bool {
				return strings.HasSuffix(u.Email, "@"+emailFilter)
			}
		}

		result, runErr := tb.bulk.RunPush(runCtx, filter)
		printBulkResult("push", result)
		return runErr
	},
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull every remote identity into the local store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		tb, err := buildToolbox(ctx)
		if err != nil {
			return err
		}
		defer tb.closeF()

		runCtx, timeout := context.WithTimeout(ctx, tb.cfg.BulkTimeout())
		defer timeout()

		result, runErr := tb.bulk.RunPull(runCtx)
		printBulkResult("pull", result)
		return runErr
	},
}

var syncBothCmd = &cobra.Command{
	Use:   "both",
	Short: "Run a push pass followed by a pull pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		tb, err := buildToolbox(ctx)
		if err != nil {
			return err
		}
		defer tb.closeF()

		runCtx, timeout := context.WithTimeout(ctx, tb.cfg.BulkTimeout())
		defer timeout()

		push, pull, runErr := tb.bulk.RunBoth(runCtx)
		printBulkResult("push", push)
		printBulkResult("pull", pull)
		return runErr
	},
}

func printBulkResult(direction string, result *domain.BulkSyncResult) {
	if result == nil {
		return
	}
	display := struct {
		Direction  string                 `yaml:"direction"`
		Total      int                    `yaml:"total"`
		Successful int                    `yaml:"successful"`
		Failed     int                    `yaml:"failed"`
		Failures   []domain.RecordOutcome `yaml:"failures,omitempty"`
	}{
		Direction:  direction,
		Total:      result.Total,
		Successful: result.Successful,
		Failed:     result.Failed,
		Failures:   result.FirstFailures(failureDisplayLimit),
	}
	out, err := yaml.Marshal(display)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to render result: %v\n", err)
		return
	}
	fmt.Print(string(out))
}

func init() {
	syncPushCmd.Flags().String("email-domain", "", "only push users whose email is under this domain")
	syncCmd.AddCommand(syncPushCmd)
	syncCmd.AddCommand(syncPullCmd)
	syncCmd.AddCommand(syncBothCmd)
}
