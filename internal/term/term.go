package term

import "os"

// IsTerminal reports whether f seems to be a terminal. A pipe or a regular
// file redirected to stdin is not.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
