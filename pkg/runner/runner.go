// Package runner executes the per-application build command with the portable mvdan.cc/sh interpreter.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/appbase/pkg"
	"github.com/ngld/appbase/pkg/allocator"
	"github.com/ngld/appbase/pkg/linkscript"
)

// Environment variables exported to the build command
const (
	EnvAppName      = "APP_NAME"
	EnvAppIndex     = "APP_INDEX"
	EnvAppBase      = "APP_BASE_ADDRESS"
	EnvAppSource    = "APP_SOURCE"
	EnvLinkerScript = "LINKER_SCRIPT"
)

// DefaultCommand builds a single cargo binary in release mode.
const DefaultCommand = `cargo build --bin "$APP_NAME" --release`

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

// ShellAction implements allocator.BuildAction by running a shell command.
//
// If Guard is set, the patched script is written over the shared linker script for the duration of the build and
// restored afterwards on every exit path. Without a guard, the patched script goes to a temporary file and only
// its path is handed to the command through $LINKER_SCRIPT.
type ShellAction struct {
	Dir     string
	Env     map[string]string
	Guard   *linkscript.Guard
	TempDir string
	DryRun  bool
	Timeout time.Duration
	Stdout  io.Writer
	Stderr  io.Writer

	command string
	stmts   []*syntax.Stmt
}

// NewShellAction parses command once so syntax errors surface before the first build.
func NewShellAction(command string) (*ShellAction, error) {
	if strings.TrimSpace(command) == "" {
		return nil, eris.New("No build command configured")
	}

	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(command), "command")
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse build command %s", command)
	}

	return &ShellAction{
		Dir:     ".",
		Env:     map[string]string{},
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		command: command,
		stmts:   file.Stmts,
	}, nil
}

// Command returns the unparsed build command.
func (a *ShellAction) Command() string {
	return a.command
}

func (a *ShellAction) environ(app allocator.App, scriptPath string) expand.Environ {
	envVars := os.Environ()

	names := make([]string, 0, len(a.Env))
	for name := range a.Env {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, a.Env[name]))
	}

	// these always win over user supplied values
	envVars = append(envVars,
		EnvAppName+"="+app.Name,
		EnvAppIndex+"="+strconv.Itoa(app.Index),
		EnvAppBase+"="+app.Base.String(),
		EnvAppSource+"="+app.Source,
		EnvLinkerScript+"="+scriptPath,
	)

	return expand.ListEnviron(envVars...)
}

// Build runs the command for app with script as its linker script.
func (a *ShellAction) Build(ctx context.Context, app allocator.App, script allocator.Script) (err error) {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	printer := syntax.NewPrinter(syntax.Minify(true))
	strBuffer := strings.Builder{}
	logStmt := func(stmt *syntax.Stmt) {
		strBuffer.Reset()
		printer.Print(&strBuffer, stmt)
		pkg.Log(ctx).Info().
			Str("app", app.Name).
			Str("base", app.Base.String()).
			Bool("command", true).
			Msg(strBuffer.String())
	}

	if a.DryRun {
		for _, stmt := range a.stmts {
			logStmt(stmt)
		}
		return nil
	}

	scriptPath := script.Path()
	if a.Guard != nil {
		restore, aErr := a.Guard.Apply(script)
		if aErr != nil {
			return aErr
		}

		defer func() {
			rErr := restore()
			if rErr != nil {
				if err == nil {
					err = rErr
				} else {
					err = eris.Wrapf(err, "restoring the linker script failed as well: %s", rErr)
				}
			}
		}()
	} else {
		path, cleanup, tErr := linkscript.WriteTemp(script, a.TempDir)
		if tErr != nil {
			return tErr
		}
		defer cleanup()

		scriptPath = path
	}

	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	runner, err := interp.New(
		interp.Dir(a.Dir),
		interp.Env(a.environ(app, scriptPath)),
		interp.OpenHandler(openHandler),
		interp.ExecHandlers(helperMiddleware),
		interp.StdIO(nil, a.Stdout, a.Stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "Failed to initialize runner")
	}

	for _, stmt := range a.stmts {
		logStmt(stmt)

		err = runner.Run(ctx, stmt)
		if err != nil {
			if ctx.Err() != nil {
				return eris.Wrapf(ctx.Err(), "build of %s was stopped", app.Name)
			}
			return eris.Wrapf(err, "build command failed for %s", app.Name)
		}

		if runner.Exited() {
			break
		}
	}

	return nil
}
