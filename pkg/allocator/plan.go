package allocator

import (
	"fmt"
	"io"
	"math/bits"
	"text/tabwriter"

	"github.com/rotisserie/eris"
)

// ErrInvalidPlan is returned when start and step can't produce a valid address sequence.
var ErrInvalidPlan = eris.New("invalid address plan")

// Plan assigns each application the address start + index*step.
type Plan struct {
	Start Address
	Step  Address
	Apps  []App
}

// NewPlan copies apps and assigns their base addresses in the given order.
func NewPlan(apps []App, start, step Address) (*Plan, error) {
	if start == 0 {
		return nil, eris.Wrap(ErrInvalidPlan, "start address must be positive")
	}

	if step == 0 {
		return nil, eris.Wrap(ErrInvalidPlan, "step must be positive")
	}

	plan := &Plan{
		Start: start,
		Step:  step,
		Apps:  make([]App, len(apps)),
	}

	for idx, app := range apps {
		hi, offset := bits.Mul64(uint64(idx), uint64(step))
		base, carry := bits.Add64(uint64(start), offset, 0)
		if hi != 0 || carry != 0 {
			return nil, eris.Wrapf(ErrInvalidPlan, "address of %s (#%d) overflows", app.Name, idx)
		}

		app.Index = idx
		app.Base = Address(base)
		plan.Apps[idx] = app
	}

	return plan, nil
}

// End returns the first address after the last application's slot.
func (p *Plan) End() Address {
	return p.Start + Address(len(p.Apps))*p.Step
}

// WriteTable prints one line per application.
func (p *Plan) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tAPP\tBASE\tSOURCE")
	for _, app := range p.Apps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", app.Index, app.Name, app.Base, app.Source)
	}

	return tw.Flush()
}
