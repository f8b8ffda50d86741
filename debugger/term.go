//go:build linux || darwin || freebsd || netbsd || openbsd

package debugger

import (
	"io"

	"github.com/pkg/term"
)

// OpenTerminal opens the controlling terminal in cbreak mode so single key
// presses reach Loop without a newline. Closing it restores the previous
// mode.
func OpenTerminal() (io.ReadCloser, error) {
	t, err := term.Open("/dev/tty", term.CBreakMode)
	if err != nil {
		return nil, err
	}
	return &terminal{Term: t}, nil
}

type terminal struct {
	*term.Term
}

func (t *terminal) Close() error {
	_ = t.Restore()
	return t.Term.Close()
}
