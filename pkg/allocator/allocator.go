package allocator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ngld/appbase/pkg"
)

// BuildAction builds one application against the given (already patched) linker script.
type BuildAction interface {
	Build(ctx context.Context, app App, script Script) error
}

// BuildFunc adapts a plain function to BuildAction.
type BuildFunc func(ctx context.Context, app App, script Script) error

func (f BuildFunc) Build(ctx context.Context, app App, script Script) error {
	return f(ctx, app, script)
}

// Outcome is the result of a single build
type Outcome struct {
	App      App
	Err      error
	Duration time.Duration
}

// Result collects the outcomes of a run in build order. Apps that were never reached have no outcome.
type Result struct {
	Outcomes []Outcome
}

// Failed returns the outcomes with an error.
func (r *Result) Failed() []Outcome {
	failed := make([]Outcome, 0)
	for _, outcome := range r.Outcomes {
		if outcome.Err != nil {
			failed = append(failed, outcome)
		}
	}

	return failed
}

// Allocator walks a Plan and builds every application with its own base address.
type Allocator struct {
	Plan   *Plan
	Script Script
	Action BuildAction
	// Out receives one progress line per application.
	Out io.Writer
	// KeepGoing records failed builds and continues with the next application instead of aborting.
	KeepGoing bool
	// Progress is called after each build.
	Progress func(Outcome)
}

// Run builds all applications in plan order. The allocator itself never writes the linker script, it only hands
// the patched copy to the build action.
func (a *Allocator) Run(ctx context.Context) (*Result, error) {
	if a.Plan == nil || a.Action == nil {
		return nil, eris.New("allocator needs a plan and a build action")
	}

	result := &Result{
		Outcomes: make([]Outcome, 0, len(a.Plan.Apps)),
	}

	if len(a.Plan.Apps) > 0 && a.Script.Occurrences(a.Plan.Start) == 0 {
		pkg.Log(ctx).Warn().
			Str("path", a.Script.Path()).
			Msgf("%s does not contain %s, every application will be linked at the same address", a.Script.Path(), a.Plan.Start)
	}

	for _, app := range a.Plan.Apps {
		if err := ctx.Err(); err != nil {
			return result, eris.Wrap(err, "Build interrupted")
		}

		pkg.Log(ctx).Debug().
			Str("app", app.Name).
			Str("base", app.Base.String()).
			Msg("building")

		patched := a.Script.Patch(a.Plan.Start, app.Base)
		started := time.Now()
		err := a.Action.Build(ctx, app, patched)
		outcome := Outcome{
			App:      app,
			Err:      err,
			Duration: time.Since(started),
		}
		result.Outcomes = append(result.Outcomes, outcome)

		if a.Out != nil {
			fmt.Fprintf(a.Out, "[builder] set base address of %s as %s\n", app.Name, app.Base)
		}

		if a.Progress != nil {
			a.Progress(outcome)
		}

		if err != nil {
			if !a.KeepGoing || ctx.Err() != nil {
				return result, eris.Wrapf(err, "Failed to build %s", app.Name)
			}

			pkg.Log(ctx).Error().
				Err(err).
				Str("app", app.Name).
				Msg("build failed, continuing with the next application")
		}
	}

	if failed := result.Failed(); len(failed) > 0 {
		names := make([]string, len(failed))
		for idx, outcome := range failed {
			names[idx] = outcome.App.Name
		}

		return result, eris.Errorf("%d of %d builds failed: %s", len(failed), len(result.Outcomes), strings.Join(names, ", "))
	}

	return result, nil
}
