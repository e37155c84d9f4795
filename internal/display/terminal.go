package display

import (
	"errors"
	"os"

	"golang.org/x/term"
)

var ErrNotTerminal = errors.New("not a terminal")

// Terminal holds stdin in raw mode until Restore.
type Terminal struct {
	in    *os.File
	out   *os.File
	state *term.State
}

func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// OpenTerminal switches in to raw mode.
func OpenTerminal(in, out *os.File) (*Terminal, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNotTerminal
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &Terminal{in: in, out: out, state: state}, nil
}

func (t *Terminal) Restore() error {
	return term.Restore(int(t.in.Fd()), t.state)
}

// Width is the column count of the output terminal, 0 if unknown.
func (t *Terminal) Width() int {
	w, _, err := term.GetSize(int(t.out.Fd()))
	if err != nil {
		return 0
	}
	return w
}
