package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/guchang/superinbox-sub005/cmd/superinbox/commands"
	"github.com/guchang/superinbox-sub005/logger"
)

var rootCmd = &cobra.Command{
	Use:   "superinbox",
	Short: "SuperInbox - capture anything, route it everywhere",
	Long: `SuperInbox routes captured items to external destinations.

A classified item (category + extracted entities) is evaluated against
the owner's routing rules; matching rules fan the item out to configured
destination adapters, either direct REST endpoints or tool servers
spoken to over a subprocess protocol.

Available commands:
  serve    - Start the HTTP/WebSocket server
  dispatch - Dispatch one item from the command line
  rules    - Inspect routing rules
  version  - Show version information

Examples:
  superinbox serve                     # Start server on configured port
  superinbox dispatch itm_abc123       # Re-dispatch an item
  superinbox rules list                # List routing rules`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := commands.LoadConfig(cmd)
		if err != nil {
			return err
		}
		// -v/-vv flags win; otherwise the configured verbosity word.
		level := logger.LevelForName(cfg.Logging.Verbosity)
		if verbosity, _ := cmd.Flags().GetCount("verbose"); verbosity > 0 {
			level = logger.VerbosityToLevel(verbosity)
		}
		if err := logger.InitializeWithLevel(cfg.Logging.JSON, level); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: superinbox.toml found upward from cwd)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.DispatchCmd)
	rootCmd.AddCommand(commands.RulesCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
