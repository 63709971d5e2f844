package allocator

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/rotisserie/eris"
)

// ErrBadFilename is returned for entries of the application directory that aren't named <name>.<ext>.
var ErrBadFilename = eris.New("application filename does not match <name>.<ext>")

// App is a single application to build
type App struct {
	Name   string
	Source string
	Index  int
	Base   Address
}

// DiscoverApps lists dir and derives one App per entry, sorted by file name. Every entry has to be a file named
// <name>.<ext> with a non-empty name, anything else aborts the discovery.
func DiscoverApps(dir, ext string) ([]App, error) {
	if ext == "" {
		return nil, eris.New("No source extension configured")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to list applications in %s", dir)
	}

	names := make([]string, 0, len(entries))
	kinds := make(map[string]os.FileMode, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
		kinds[entry.Name()] = entry.Type()
	}
	sort.Strings(names)

	pattern := regexp.MustCompile(`^(.*)\.` + regexp.QuoteMeta(ext) + `$`)
	apps := make([]App, 0, len(names))
	for idx, name := range names {
		source := filepath.Join(dir, name)
		match := pattern.FindStringSubmatch(name)
		if match == nil || match[1] == "" {
			return nil, eris.Wrapf(ErrBadFilename, "%s", source)
		}

		if kinds[name].IsDir() {
			return nil, eris.Wrapf(ErrBadFilename, "%s is a directory", source)
		}

		apps = append(apps, App{
			Name:   match[1],
			Source: source,
			Index:  idx,
		})
	}

	return apps, nil
}
