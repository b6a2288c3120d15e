package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// RulesCmd groups rule inspection subcommands.
var RulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect routing rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List routing rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := BuildApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		rules, err := app.Rules.ListRules(defaultUserID)
		if err != nil {
			return err
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			out, err := json.MarshalIndent(rules, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		if len(rules) == 0 {
			fmt.Println("No rules configured.")
			return nil
		}
		for _, r := range rules {
			state := "active"
			if !r.IsActive {
				state = "inactive"
			}
			if r.IsSystem {
				state += ", system"
			}
			fmt.Printf("%-10d %-30s (%s)  %d condition(s), %d action(s)\n",
				r.Priority, r.Name, state, len(r.Conditions), len(r.Actions))
		}
		return nil
	},
}

func init() {
	rulesListCmd.Flags().BoolP("json", "j", false, "Output rules as JSON")
	RulesCmd.AddCommand(rulesListCmd)
}
