package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/ngld/appbase/pkg"
	"github.com/ngld/appbase/pkg/allocator"
	"github.com/ngld/appbase/pkg/runner"
)

// FileNames lists the config files searched for, in order of preference.
var FileNames = []string{"appbase.yml", "appbase.yaml", "appbase.star"}

// Config describes all configuration options
type Config struct {
	// Start is the base address of the first application.
	Start allocator.Address
	// Step is added to the base address for each following application.
	Step      allocator.Address
	Linker    string
	Apps      string
	Ext       string
	Command   string
	Isolated  bool
	KeepGoing bool
	// Timeout limits each build. Zero waits forever.
	Timeout   time.Duration
	Manifest  string
	Artifacts string
	Env       map[string]string
	LogLevel  string

	// Root is the directory relative paths are resolved against.
	Root string
	// Source is the config file the values were read from. Empty if only defaults are used.
	Source string
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Default returns the configuration used when no config file exists. It matches the layout of a rCore-style
// user library: sources in src/bin, linker script at src/linker.ld.
func Default() *Config {
	return &Config{
		Start:     0x80400000,
		Step:      0x20000,
		Linker:    filepath.Join("src", "linker.ld"),
		Apps:      filepath.Join("src", "bin"),
		Ext:       "rs",
		Command:   runner.DefaultCommand,
		Manifest:  "appbase.json",
		Artifacts: filepath.Join("target", "riscv64gc-unknown-none-elf", "release"),
		Env:       map[string]string{},
		LogLevel:  "info",
		Root:      ".",
	}
}

// Find searches dir and its parents for a config file and returns its path, or an empty string if there is none.
func Find(dir string) (string, error) {
	return pkg.FindUpward(dir, FileNames...)
}

// Load reads the config file at path on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to resolve %s", path)
	}

	cfg.Root = filepath.Dir(absPath)
	cfg.Source = absPath

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		err = loadYAML(cfg, absPath)
	case ".star":
		err = loadStarlark(cfg, absPath)
	default:
		err = eris.Errorf("Unsupported config format %s (expected .yml, .yaml or .star)", path)
	}

	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Resolve turns a configured path into one relative to the working directory.
func (cfg *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(cfg.Root, path)
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	if cfg.Start == 0 {
		return eris.New("Invalid value for start: must be positive")
	}

	if cfg.Step == 0 {
		return eris.New("Invalid value for step: must be positive")
	}

	if cfg.Linker == "" {
		return eris.New("Missing value for linker")
	}

	if cfg.Apps == "" {
		return eris.New("Missing value for apps")
	}

	if cfg.Ext == "" || strings.ContainsAny(cfg.Ext, `/\`) {
		return eris.Errorf("Invalid value for ext: %q", cfg.Ext)
	}

	if strings.TrimSpace(cfg.Command) == "" {
		return eris.New("Missing value for command")
	}

	if cfg.Timeout < 0 {
		return eris.Errorf("Invalid value for timeout: %s", cfg.Timeout)
	}

	if _, ok := logLevels[cfg.LogLevel]; !ok {
		return eris.Errorf("Invalid value for log.level: %s", cfg.LogLevel)
	}

	return nil
}

// Level converts the LogLevel field to a zerolog.Level
func (cfg *Config) Level() zerolog.Level {
	return logLevels[cfg.LogLevel]
}
