package cmd

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/appbase/pkg"
	"github.com/ngld/appbase/pkg/manifest"
	"github.com/ngld/appbase/pkg/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Checks that the built images were linked at their assigned addresses",
	Long: `Reads the manifest of the last build and inspects the ELF image of every application that was built
successfully. An image is expected in the artifacts directory under the application's name. Each image has to
start at its base address and must not extend into the next application's slot.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := activeConfig

		m, err := manifest.Read(cfg.Resolve(cfg.Manifest))
		if err != nil {
			return err
		}

		artifacts := cfg.Resolve(cfg.Artifacts)
		findings, err := verify.Check(m, artifacts)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, entry := range m.Built() {
			pkg.PrintSubtask(out, fmt.Sprintf("%s at %s", entry.Name, entry.Base))
		}
		for _, finding := range findings {
			pkg.PrintError(out, finding.String())
		}

		if len(findings) > 0 {
			return eris.Errorf("found %d problems in %s", len(findings), artifacts)
		}

		pkg.Log(ctx).Info().
			Str("path", artifacts).
			Msgf("All %d images match their base addresses", len(m.Built()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
