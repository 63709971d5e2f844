package linkscript

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ngld/appbase/pkg/allocator"
)

// WriteTemp stores script in a new file inside dir (the system temp dir if empty) and returns its path together
// with a cleanup function that deletes it. The shared script is not touched.
func WriteTemp(script allocator.Script, dir string) (string, func(), error) {
	ext := filepath.Ext(script.Path())
	base := strings.TrimSuffix(filepath.Base(script.Path()), ext)
	if base == "" || base == "." {
		base = "linker"
	}

	handle, err := os.CreateTemp(dir, base+"-*"+ext)
	if err != nil {
		return "", nil, eris.Wrap(err, "Failed to create temporary linker script")
	}

	path := handle.Name()
	cleanup := func() {
		os.Remove(path)
	}

	_, err = handle.WriteString(script.Text())
	if err != nil {
		handle.Close()
		cleanup()
		return "", nil, eris.Wrapf(err, "Failed to write %s", path)
	}

	err = handle.Close()
	if err != nil {
		cleanup()
		return "", nil, eris.Wrapf(err, "Failed to write %s", path)
	}

	return path, cleanup, nil
}
