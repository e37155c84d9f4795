package display

import (
	"context"
	"io"
	"time"
)

// Intent is a user request decoded from key presses.
type Intent int

const (
	None Intent = iota
	Start
	Quit
)

func (i Intent) String() string {
	switch i {
	case Start:
		return "start"
	case Quit:
		return "quit"
	default:
		return "none"
	}
}

const (
	keyCtrlC = 0x03
	keyEsc   = 0x1b

	// escTimeout is how long a trailing ESC waits for the rest of an
	// escape sequence before it counts as a key of its own.
	escTimeout = 50 * time.Millisecond
)

// Decoder turns raw terminal input into intents across reads. An escape
// sequence split between two reads is held until it completes.
type Decoder struct {
	pending []byte
}

// Feed decodes buf after any bytes held from the previous call.
func (d *Decoder) Feed(buf []byte) []Intent {
	in := append(d.pending, buf...)
	d.pending = nil

	var out []Intent
	for i := 0; i < len(in); i++ {
		switch in[i] {
		case '\r', '\n', 's', 'S':
			out = append(out, Start)
		case 'q', 'Q', keyCtrlC:
			out = append(out, Quit)
		case keyEsc:
			if i+1 == len(in) {
				d.pending = []byte{keyEsc}
				return out
			}
			if in[i+1] != '[' && in[i+1] != 'O' {
				out = append(out, Quit)
				continue
			}
			end := escapeEnd(in, i+1)
			if end < 0 {
				d.pending = append([]byte(nil), in[i:]...)
				return out
			}
			i = end
		}
	}
	return out
}

// Pending reports whether input is held back waiting for more bytes.
func (d *Decoder) Pending() bool {
	return len(d.pending) > 0
}

// Flush resolves held input: a lone ESC quits, a cut-off sequence is dropped.
func (d *Decoder) Flush() []Intent {
	held := d.pending
	d.pending = nil
	if len(held) == 1 && held[0] == keyEsc {
		return []Intent{Quit}
	}
	return nil
}

// Decode maps one complete chunk of input to intents. A lone ESC quits;
// longer escape sequences (arrows, function keys) are skipped.
func Decode(buf []byte) []Intent {
	var d Decoder
	return append(d.Feed(buf), d.Flush()...)
}

// escapeEnd returns the index of the final byte of a CSI/SS3 sequence
// whose introducer is at i, or -1 if the sequence is incomplete.
func escapeEnd(buf []byte, i int) int {
	for j := i + 1; j < len(buf); j++ {
		if buf[j] >= 0x40 && buf[j] <= 0x7e {
			return j
		}
	}
	return -1
}

// ReadKeys decodes r until it fails or ctx ends. The channel is closed
// when reading stops.
func ReadKeys(ctx context.Context, r io.Reader) <-chan Intent {
	chunks := make(chan []byte)
	go func() {
		defer close(chunks)
		buf := make([]byte, 64)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				select {
				case chunks <- append([]byte(nil), buf[:n]...):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	out := make(chan Intent, 16)
	go func() {
		defer close(out)
		var (
			d       Decoder
			timeout <-chan time.Time
		)
		emit := func(intents []Intent) bool {
			for _, in := range intents {
				select {
				case out <- in:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		for {
			var intents []Intent
			select {
			case chunk, ok := <-chunks:
				if !ok {
					emit(d.Flush())
					return
				}
				intents = d.Feed(chunk)
			case <-timeout:
				intents = d.Flush()
			case <-ctx.Done():
				return
			}

			timeout = nil
			if d.Pending() {
				timeout = time.After(escTimeout)
			}
			if !emit(intents) {
				return
			}
		}
	}()
	return out
}
