package allocator

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Script is the text of a linker script. Patching returns a new value, the loaded text is never modified.
type Script struct {
	path string
	text string
}

// LoadScript reads the linker script at path.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, eris.Wrapf(err, "Failed to read linker script %s", path)
	}

	return NewScript(path, string(data)), nil
}

func NewScript(path, text string) Script {
	return Script{path: path, text: text}
}

func (s Script) Path() string {
	return s.path
}

func (s Script) Text() string {
	return s.text
}

func (s Script) Bytes() []byte {
	return []byte(s.text)
}

// Occurrences counts the literal occurrences of addr in the text.
func (s Script) Occurrences(addr Address) int {
	return strings.Count(s.text, addr.String())
}

// Patch replaces every occurrence of the literal from with the literal to.
func (s Script) Patch(from, to Address) Script {
	return Script{
		path: s.path,
		text: strings.ReplaceAll(s.text, from.String(), to.String()),
	}
}
