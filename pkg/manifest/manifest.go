// Package manifest records which base address every application was built with.
package manifest

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ngld/appbase/pkg/allocator"
)

// Entry states
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Entry describes a single application of a run
type Entry struct {
	Name    string            `json:"name"`
	Source  string            `json:"source"`
	Base    allocator.Address `json:"base"`
	Status  string            `json:"status"`
	Error   string            `json:"error,omitempty"`
	Seconds float64           `json:"seconds"`
}

// Manifest describes the last run
type Manifest struct {
	Run      string            `json:"run"`
	Created  time.Time         `json:"created"`
	Start    allocator.Address `json:"start"`
	Step     allocator.Address `json:"step"`
	Linker   string            `json:"linker"`
	Isolated bool              `json:"isolated"`
	Entries  []Entry           `json:"entries"`
}

// FromResult builds a manifest for plan. Apps without an outcome in result are marked as skipped.
func FromResult(run string, plan *allocator.Plan, result *allocator.Result) *Manifest {
	m := &Manifest{
		Run:     run,
		Created: time.Now().UTC(),
		Start:   plan.Start,
		Step:    plan.Step,
		Entries: make([]Entry, len(plan.Apps)),
	}

	outcomes := map[string]allocator.Outcome{}
	if result != nil {
		for _, outcome := range result.Outcomes {
			outcomes[outcome.App.Name] = outcome
		}
	}

	for idx, app := range plan.Apps {
		entry := Entry{
			Name:   app.Name,
			Source: app.Source,
			Base:   app.Base,
			Status: StatusSkipped,
		}

		if outcome, ok := outcomes[app.Name]; ok {
			entry.Seconds = outcome.Duration.Seconds()
			if outcome.Err != nil {
				entry.Status = StatusFailed
				entry.Error = outcome.Err.Error()
			} else {
				entry.Status = StatusOK
			}
		}

		m.Entries[idx] = entry
	}

	return m
}

// Built returns the entries of applications that were built successfully.
func (m *Manifest) Built() []Entry {
	result := make([]Entry, 0, len(m.Entries))
	for _, entry := range m.Entries {
		if entry.Status == StatusOK {
			result = append(result, entry)
		}
	}

	return result
}

// Write stores m as indented JSON at path.
func Write(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return eris.Wrap(err, "failed to encode manifest")
	}

	err = os.WriteFile(path, append(data, '\n'), 0660)
	if err != nil {
		return eris.Wrapf(err, "failed to write to %s", path)
	}

	return nil
}

// Read loads the manifest stored at path.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", path)
	}

	var m Manifest
	err = json.Unmarshal(data, &m)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to decode %s", path)
	}

	return &m, nil
}
