package sandbox

import "io"

// PtyHandle abstracts the pseudo-terminal master across platforms.
// Unix wraps a creack/pty *os.File; Windows wraps a ConPTY pseudo-console.
type PtyHandle interface {
	io.ReadWriteCloser
	// Resize changes the PTY window size.
	Resize(cols, rows uint16) error
}
