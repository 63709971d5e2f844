package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ngld/appbase/pkg"
	"github.com/ngld/appbase/pkg/linkscript"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restores the linker script after an interrupted build",
	Long: `appbase keeps a copy of the pristine linker script next to it while a build is running. If the
process is killed before it could put the original back, this command restores the script from that copy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		linker := activeConfig.Resolve(activeConfig.Linker)

		found, err := linkscript.Recover(linker)
		if err != nil {
			return err
		}

		if found {
			pkg.Log(ctx).Info().Str("path", linker).Msg("Restored the linker script")
		} else {
			pkg.Log(ctx).Info().Str("path", linker).Msg("Nothing to restore")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)
}
