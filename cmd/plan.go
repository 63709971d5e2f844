package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ngld/appbase/pkg"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Lists the applications and the base address each one would get",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := activeConfig
		plan, err := makePlan(cfg)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		pkg.PrintTask(out, fmt.Sprintf("Applications in %s", cfg.Resolve(cfg.Apps)))
		err = plan.WriteTable(out)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "\n%d applications, %s bytes each, last slot ends at %s\n", len(plan.Apps), plan.Step, plan.End())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
}
