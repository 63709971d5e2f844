package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ngld/appbase/pkg"
	"github.com/ngld/appbase/pkg/config"
)

var (
	// runID identifies this invocation in logs and in the manifest.
	runID = nanoid.New()
	// activeConfig is loaded before any command runs.
	activeConfig *config.Config

	defaults = config.Default()

	flagStart = defaults.Start
	flagStep  = defaults.Step
)

var rootCmd = &cobra.Command{
	Use:   "appbase",
	Short: "Builds each user application at its own base address",
	Long: `appbase finds every application source in the apps directory (src/bin/*.rs by default), sorts them
by name and builds them one after another. Before each build the start address in the linker script is
replaced with start + index * step so no two applications share a load address. The linker script is
restored after every build, even if the build fails.

Without a subcommand, appbase runs "build".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		activeConfig = cfg
		zerolog.SetGlobalLevel(cfg.Level())
		return nil
	},
	RunE: runBuild,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default: the first appbase.yml, appbase.yaml or appbase.star found upwards)")
	flags.String("log-level", defaults.LogLevel, "one of trace, debug, info, warn, error")
	flags.Var(&flagStart, "start", "base address of the first application")
	flags.Var(&flagStep, "step", "distance between the base addresses of two applications")
	flags.String("linker", defaults.Linker, "linker script containing the start address")
	flags.String("apps", defaults.Apps, "directory containing one source file per application")
	flags.String("ext", defaults.Ext, "extension of the application sources")
	flags.String("command", defaults.Command, "shell command that builds $APP_NAME")
	flags.Bool("isolated", false, "leave the linker script alone and pass a patched copy through $LINKER_SCRIPT")
	flags.Bool("keep-going", false, "continue with the next application if a build fails")
	flags.Duration("timeout", 0, "abort a single build after this long (0 disables the limit)")
	flags.String("manifest", defaults.Manifest, "where to record the assigned addresses")
	flags.String("artifacts", defaults.Artifacts, "directory containing the built images")

	addBuildFlags(rootCmd)
}

// Execute runs the CLI and exits with a non-zero status on errors.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zerolog.TimeFieldFormat = time.RFC3339
	logger := zerolog.New(pkg.NewConsoleWriter()).With().Timestamp().Str("run", runID).Logger()
	ctx = pkg.WithLogger(ctx, &logger)

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("appbase failed")
		stop()
		os.Exit(1)
	}
}
