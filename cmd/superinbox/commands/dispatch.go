package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/guchang/superinbox-sub005/adapter"
	"github.com/guchang/superinbox-sub005/dispatch"
)

const dispatchTimeout = 2 * time.Minute

// DispatchCmd dispatches one item from the command line.
var DispatchCmd = &cobra.Command{
	Use:   "dispatch <item-id>",
	Short: "Dispatch an item to its matching destinations",
	Long: `Run the routing rules for one item and dispatch it to every
matching destination. Items in a terminal state are re-dispatched.

Use --adapter to restrict dispatch to specific adapter types, e.g. to
retry just the destination that failed last time.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := BuildApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		adapterTypes, _ := cmd.Flags().GetStringSlice("adapter")

		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()

		results, err := app.Orchestrator.DistributeItem(ctx, args[0], dispatch.Options{
			AdapterTypes: adapterTypes,
		})
		if err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No rules matched; nothing dispatched.")
			return nil
		}
		for _, r := range results {
			switch {
			case r.TargetID == dispatch.SkipTargetID:
				fmt.Printf("skipped by rule %q\n", r.RuleName)
			case r.Status == adapter.StatusSuccess:
				fmt.Printf("%-12s ok", r.AdapterType)
				if r.ExternalURL != "" {
					fmt.Printf("  %s", r.ExternalURL)
				}
				fmt.Println()
			default:
				fmt.Printf("%-12s failed: %s\n", r.AdapterType, r.Error)
			}
		}
		return nil
	},
}

func init() {
	DispatchCmd.Flags().StringSlice("adapter", nil, "Restrict dispatch to these adapter types")
}
