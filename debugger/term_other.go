//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package debugger

import (
	"io"
	"os"
)

// OpenTerminal returns standard input where termios is unavailable; commands
// are then read a line at a time.
func OpenTerminal() (io.ReadCloser, error) {
	return io.NopCloser(os.Stdin), nil
}
