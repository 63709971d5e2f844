package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/ngld/appbase/pkg/allocator"
)

// fileConfig mirrors Config as written in appbase.yml. Addresses and durations are kept as raw scalars so that
// both `start: 0x80400000` and `start: "0x80400000"` work.
type fileConfig struct {
	Start     string            `yaml:"start"`
	Step      string            `yaml:"step"`
	Linker    string            `yaml:"linker"`
	Apps      string            `yaml:"apps"`
	Ext       string            `yaml:"ext"`
	Command   string            `yaml:"command"`
	Isolated  *bool             `yaml:"isolated"`
	KeepGoing *bool             `yaml:"keepGoing"`
	Timeout   string            `yaml:"timeout"`
	Manifest  string            `yaml:"manifest"`
	Artifacts string            `yaml:"artifacts"`
	Env       map[string]string `yaml:"env"`
	Log       struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "Could not open file %s", path)
	}

	var raw fileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	err = decoder.Decode(&raw)
	if err != nil && err != io.EOF {
		return eris.Wrapf(err, "Failed to parse %s", path)
	}

	return raw.apply(cfg)
}

func (raw *fileConfig) apply(cfg *Config) error {
	var err error
	if raw.Start != "" {
		cfg.Start, err = allocator.ParseAddress(raw.Start)
		if err != nil {
			return eris.Wrap(err, "Invalid value for start")
		}
	}

	if raw.Step != "" {
		cfg.Step, err = allocator.ParseAddress(raw.Step)
		if err != nil {
			return eris.Wrap(err, "Invalid value for step")
		}
	}

	if raw.Timeout != "" {
		cfg.Timeout, err = time.ParseDuration(raw.Timeout)
		if err != nil {
			return eris.Wrap(err, "Invalid value for timeout")
		}
	}

	setString(&cfg.Linker, raw.Linker)
	setString(&cfg.Apps, raw.Apps)
	setString(&cfg.Ext, raw.Ext)
	setString(&cfg.Command, raw.Command)
	setString(&cfg.Manifest, raw.Manifest)
	setString(&cfg.Artifacts, raw.Artifacts)
	setString(&cfg.LogLevel, raw.Log.Level)

	if raw.Isolated != nil {
		cfg.Isolated = *raw.Isolated
	}

	if raw.KeepGoing != nil {
		cfg.KeepGoing = *raw.KeepGoing
	}

	for name, value := range raw.Env {
		cfg.Env[name] = value
	}

	return nil
}

func setString(field *string, value string) {
	if value != "" {
		*field = value
	}
}
