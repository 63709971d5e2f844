package allocator

import (
	"strconv"

	"github.com/rotisserie/eris"
)

// Address is a load address. Its text form is the lowercase hexadecimal literal with a 0x prefix and no
// padding (0x80400000), which is also the form searched for in linker scripts.
type Address uint64

// ParseAddress accepts decimal as well as 0x, 0o and 0b prefixed literals. Underscores between digits are allowed.
func ParseAddress(value string) (Address, error) {
	n, err := strconv.ParseUint(value, 0, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "Invalid address %q", value)
	}

	return Address(n), nil
}

func (a Address) String() string {
	return "0x" + strconv.FormatUint(uint64(a), 16)
}

// Set implements pflag.Value
func (a *Address) Set(value string) error {
	parsed, err := ParseAddress(value)
	if err != nil {
		return err
	}

	*a = parsed
	return nil
}

// Type implements pflag.Value
func (a *Address) Type() string {
	return "address"
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	return a.Set(string(text))
}
