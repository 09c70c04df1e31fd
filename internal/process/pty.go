package process

import (
	"fmt"
	"os"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// openRawPTY allocates a pseudo-terminal and puts the slave side in raw
// mode so lines written to the child, passwords included, are not echoed
// back into its output.
func openRawPTY(size *pty.Winsize) (ptmx, tty *os.File, err error) {
	ptmx, tty, err = pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open pty: %w", err)
	}
	if err := pty.Setsize(ptmx, size); err != nil {
		ptmx.Close()
		tty.Close()
		return nil, nil, fmt.Errorf("set pty size: %w", err)
	}
	if _, err := term.MakeRaw(int(tty.Fd())); err != nil {
		ptmx.Close()
		tty.Close()
		return nil, nil, fmt.Errorf("raw pty: %w", err)
	}
	return ptmx, tty, nil
}
