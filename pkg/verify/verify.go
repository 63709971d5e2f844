// Package verify checks built application images against the addresses they were assigned.
package verify

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/ngld/appbase/pkg/allocator"
	"github.com/ngld/appbase/pkg/manifest"
)

// Finding is a problem with a single application image
type Finding struct {
	App     string
	Path    string
	Problem string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s", f.App, f.Problem)
}

// Extent is the address range an ELF image occupies once loaded
type Extent struct {
	Low  allocator.Address
	High allocator.Address
}

// Size is the number of bytes between the lowest and highest loaded address.
func (e Extent) Size() uint64 {
	return uint64(e.High - e.Low)
}

// ReadExtent returns the range covered by the PT_LOAD segments of the ELF file at path.
func ReadExtent(path string) (Extent, error) {
	file, err := elf.Open(path)
	if err != nil {
		return Extent{}, eris.Wrapf(err, "Failed to open %s", path)
	}
	defer file.Close()

	var extent Extent
	found := false
	for _, prog := range file.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}

		if prog.Vaddr+prog.Memsz < prog.Vaddr {
			return Extent{}, eris.Errorf("%s: segment at %#x with size %#x wraps around the address space", path, prog.Vaddr, prog.Memsz)
		}

		low := allocator.Address(prog.Vaddr)
		high := allocator.Address(prog.Vaddr + prog.Memsz)
		if !found || low < extent.Low {
			extent.Low = low
		}
		if !found || high > extent.High {
			extent.High = high
		}
		found = true
	}

	if !found {
		return Extent{}, eris.Errorf("%s has no loadable segments", path)
	}

	return extent, nil
}

// CheckImage verifies that the image at path starts at base and fits into step bytes.
func CheckImage(path string, base, step allocator.Address) ([]string, error) {
	extent, err := ReadExtent(path)
	if err != nil {
		return nil, err
	}

	problems := make([]string, 0)
	if extent.Low != base {
		problems = append(problems, fmt.Sprintf("first loadable segment is at %s but the assigned base is %s", extent.Low, base))
	}

	if extent.High > base && uint64(extent.High-base) > uint64(step) {
		problems = append(problems, fmt.Sprintf("image ends at %s and overlaps the next slot at %s", extent.High, base+step))
	}

	return problems, nil
}

// Check verifies every successfully built application of m. Images are expected at <artifacts>/<name>.
// A missing image is reported as a finding, not as an error.
func Check(m *manifest.Manifest, artifacts string) ([]Finding, error) {
	findings := make([]Finding, 0)
	for _, entry := range m.Built() {
		path := filepath.Join(artifacts, entry.Name)
		_, err := os.Stat(path)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				findings = append(findings, Finding{App: entry.Name, Path: path, Problem: "image not found"})
				continue
			}
			return nil, eris.Wrapf(err, "Failed to check %s", path)
		}

		problems, err := CheckImage(path, entry.Base, m.Step)
		if err != nil {
			findings = append(findings, Finding{App: entry.Name, Path: path, Problem: err.Error()})
			continue
		}

		for _, problem := range problems {
			findings = append(findings, Finding{App: entry.Name, Path: path, Problem: problem})
		}
	}

	return findings, nil
}
