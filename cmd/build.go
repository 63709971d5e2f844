package cmd

import (
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ngld/appbase/pkg"
	"github.com/ngld/appbase/pkg/allocator"
	"github.com/ngld/appbase/pkg/linkscript"
	"github.com/ngld/appbase/pkg/manifest"
	"github.com/ngld/appbase/pkg/runner"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Builds every application with its own base address",
	Long: `Builds the applications in name order. Each build sees the linker script with the start address
replaced by the application's base address. The following variables are available to the build command:

  APP_NAME          name of the application (file name without extension)
  APP_INDEX         position in the build order, starting at 0
  APP_BASE_ADDRESS  assigned base address (hex)
  APP_SOURCE        path of the application source
  LINKER_SCRIPT     path of the patched linker script`,
	RunE: runBuild,
}

func init() {
	addBuildFlags(buildCmd)
	rootCmd.AddCommand(buildCmd)
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("dry", "n", false, "only print the commands and addresses, don't build anything")
}

func getProgressBar(cmd *cobra.Command, length int, desc string) *progressbar.ProgressBar {
	visible := os.Getenv("CI") != "true" && os.Getenv(pkg.DebugEnv) == ""
	return progressbar.NewOptions(length,
		progressbar.OptionSetVisibility(visible),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func runBuild(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	cfg := activeConfig

	dryRun, err := cmd.Flags().GetBool("dry")
	if err != nil {
		return err
	}

	plan, err := makePlan(cfg)
	if err != nil {
		return err
	}

	action, err := runner.NewShellAction(cfg.Command)
	if err != nil {
		return err
	}

	action.Dir = cfg.Root
	action.Env = cfg.Env
	action.Timeout = cfg.Timeout
	action.DryRun = dryRun
	action.Stdout = cmd.OutOrStdout()
	action.Stderr = cmd.ErrOrStderr()

	linker := cfg.Resolve(cfg.Linker)
	var script allocator.Script
	if dryRun || cfg.Isolated {
		script, err = allocator.LoadScript(linker)
		if err != nil {
			return err
		}
	} else {
		guard, gErr := linkscript.Acquire(linker)
		if gErr != nil {
			return gErr
		}

		defer func() {
			rErr := guard.Release()
			if rErr != nil {
				pkg.Log(ctx).Error().Err(rErr).Str("path", linker).Msg("Failed to release the linker script")
				if err == nil {
					err = rErr
				}
			}
		}()

		action.Guard = guard
		script = guard.Script()
	}

	pkg.Log(ctx).Info().
		Str("task", "build").
		Msgf("Building %d applications from %s to %s", len(plan.Apps), plan.Start, plan.End())

	bar := getProgressBar(cmd, len(plan.Apps), "building")
	alloc := &allocator.Allocator{
		Plan:      plan,
		Script:    script,
		Action:    action,
		Out:       cmd.OutOrStdout(),
		KeepGoing: cfg.KeepGoing,
		Progress: func(outcome allocator.Outcome) {
			bar.Describe(outcome.App.Name)
			_ = bar.Add(1)
		},
	}

	result, err := alloc.Run(ctx)
	_ = bar.Finish()

	if !dryRun && cfg.Manifest != "" && result != nil {
		mErr := writeManifest(cfg.Resolve(cfg.Manifest), plan, result, linker, cfg.Isolated)
		if mErr != nil {
			pkg.Log(ctx).Error().Err(mErr).Msg("Failed to write the manifest")
			if err == nil {
				err = mErr
			}
		}
	}

	if err != nil {
		return err
	}

	pkg.Log(ctx).Info().Str("task", "build").Msg("Done")
	return nil
}

func writeManifest(path string, plan *allocator.Plan, result *allocator.Result, linker string, isolated bool) error {
	m := manifest.FromResult(runID, plan, result)
	m.Linker = linker
	m.Isolated = isolated

	return manifest.Write(path, m)
}
