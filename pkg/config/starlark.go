package config

import (
	"os"
	"runtime"
	"time"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/ngld/appbase/pkg/allocator"
)

func getenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.Value = starlark.None

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue)
	if err != nil {
		return nil, err
	}

	value, ok := os.LookupEnv(name)
	if !ok {
		return defaultValue, nil
	}

	return starlark.String(value), nil
}

// loadStarlark executes the script at path and reads the settings from its globals. Unknown globals are ignored
// so scripts can use helper variables and functions.
func loadStarlark(cfg *Config, path string) error {
	script, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "failed to read file %s", path)
	}

	builtins := starlark.StringDict{
		"OS":     starlark.String(runtime.GOOS),
		"ARCH":   starlark.String(runtime.GOARCH),
		"getenv": starlark.NewBuiltin("getenv", getenv),
	}

	thread := &starlark.Thread{
		Name: "config",
	}

	globals, err := starlark.ExecFile(thread, path, script, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return eris.Errorf("failed to execute %s:\n%s", path, evalError.Backtrace())
		}
		return eris.Wrapf(err, "failed to execute %s", path)
	}

	for _, name := range []string{"start", "step"} {
		value, ok := globals[name]
		if !ok {
			continue
		}

		addr, err := starlarkAddress(value)
		if err != nil {
			return eris.Wrapf(err, "Invalid value for %s", name)
		}

		if name == "start" {
			cfg.Start = addr
		} else {
			cfg.Step = addr
		}
	}

	stringFields := map[string]*string{
		"linker":    &cfg.Linker,
		"apps":      &cfg.Apps,
		"ext":       &cfg.Ext,
		"command":   &cfg.Command,
		"manifest":  &cfg.Manifest,
		"artifacts": &cfg.Artifacts,
		"log_level": &cfg.LogLevel,
	}
	for name, field := range stringFields {
		value, ok := globals[name]
		if !ok {
			continue
		}

		str, ok := starlark.AsString(value)
		if !ok {
			return eris.Errorf("expected %s to be a string but found %s", name, value.Type())
		}
		*field = str
	}

	boolFields := map[string]*bool{
		"isolated":   &cfg.Isolated,
		"keep_going": &cfg.KeepGoing,
	}
	for name, field := range boolFields {
		value, ok := globals[name]
		if !ok {
			continue
		}

		flag, ok := value.(starlark.Bool)
		if !ok {
			return eris.Errorf("expected %s to be a bool but found %s", name, value.Type())
		}
		*field = bool(flag)
	}

	if value, ok := globals["timeout"]; ok {
		str, ok := starlark.AsString(value)
		if !ok {
			return eris.Errorf("expected timeout to be a string but found %s", value.Type())
		}

		cfg.Timeout, err = time.ParseDuration(str)
		if err != nil {
			return eris.Wrap(err, "Invalid value for timeout")
		}
	}

	if value, ok := globals["env"]; ok {
		dict, ok := value.(*starlark.Dict)
		if !ok {
			return eris.Errorf("expected env to be a dict but found %s", value.Type())
		}

		for _, item := range dict.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return eris.Errorf("found key type %s in env map but only strings are supported", item[0].Type())
			}

			value, ok := starlark.AsString(item[1])
			if !ok {
				return eris.Errorf("found value of type %s for key %s but only strings are supported", item[1].Type(), key)
			}

			cfg.Env[key] = value
		}
	}

	return nil
}

func starlarkAddress(value starlark.Value) (allocator.Address, error) {
	switch value := value.(type) {
	case starlark.Int:
		n, ok := value.Uint64()
		if !ok {
			return 0, eris.Errorf("%s does not fit into 64 bits", value.String())
		}
		return allocator.Address(n), nil
	case starlark.String:
		return allocator.ParseAddress(value.GoString())
	}

	return 0, eris.Errorf("expected an int or string but found %s", value.Type())
}
