package cmd

import (
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/appbase/pkg"
	"github.com/ngld/appbase/pkg/allocator"
	"github.com/ngld/appbase/pkg/config"
)

var pathFlags = map[string]bool{
	"linker":    true,
	"apps":      true,
	"manifest":  true,
	"artifacts": true,
}

// loadConfig reads the config file (if any) and applies every flag the user passed explicitly on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	path, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}

	if path == "" {
		path, err = config.Find(".")
		if err != nil {
			return nil, err
		}
	}

	cfg := config.Default()
	if path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to load config %s", path)
		}
		pkg.Log(cmd.Context()).Debug().Str("path", path).Msg("Loaded config")
	}

	if flags.Changed("start") {
		cfg.Start = flagStart
	}
	if flags.Changed("step") {
		cfg.Step = flagStep
	}

	strFlags := map[string]*string{
		"log-level": &cfg.LogLevel,
		"linker":    &cfg.Linker,
		"apps":      &cfg.Apps,
		"ext":       &cfg.Ext,
		"command":   &cfg.Command,
		"manifest":  &cfg.Manifest,
		"artifacts": &cfg.Artifacts,
	}
	for name, field := range strFlags {
		if !flags.Changed(name) {
			continue
		}

		*field, err = flags.GetString(name)
		if err != nil {
			return nil, err
		}

		// paths passed on the command line are relative to the working directory, not to the config file
		if pathFlags[name] && *field != "" {
			*field, err = filepath.Abs(*field)
			if err != nil {
				return nil, eris.Wrapf(err, "Failed to resolve --%s", name)
			}
		}
	}

	boolFlags := map[string]*bool{
		"isolated":   &cfg.Isolated,
		"keep-going": &cfg.KeepGoing,
	}
	for name, field := range boolFlags {
		if flags.Changed(name) {
			*field, err = flags.GetBool(name)
			if err != nil {
				return nil, err
			}
		}
	}

	if flags.Changed("timeout") {
		cfg.Timeout, err = flags.GetDuration("timeout")
		if err != nil {
			return nil, err
		}
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// makePlan discovers the applications and assigns their base addresses.
func makePlan(cfg *config.Config) (*allocator.Plan, error) {
	apps, err := allocator.DiscoverApps(cfg.Resolve(cfg.Apps), cfg.Ext)
	if err != nil {
		return nil, err
	}

	return allocator.NewPlan(apps, cfg.Start, cfg.Step)
}
