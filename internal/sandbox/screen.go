package sandbox

import (
	"strings"
	"sync"

	"github.com/tuzig/vt10x"
)

const (
	screenCols = 120
	screenRows = 40
)

// screen feeds PTY output through a virtual terminal emulator so that the
// rendered display of a TUI process can be read back as plain lines instead
// of raw control sequences.
type screen struct {
	mu   sync.Mutex
	term vt10x.Terminal
	cols int
	rows int
}

func newScreen(cols, rows int) *screen {
	if cols <= 0 {
		cols = screenCols
	}
	if rows <= 0 {
		rows = screenRows
	}
	return &screen{
		term: vt10x.New(vt10x.WithSize(cols, rows)),
		cols: cols,
		rows: rows,
	}
}

// Write feeds raw PTY bytes to the emulator. Always reports full writes so
// it can sit behind an io.MultiWriter with the log file.
func (s *screen) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.term.Write(p)
	return len(p), nil
}

// Lines returns the rendered rows top to bottom, right-trimmed, with
// trailing blank rows dropped.
func (s *screen) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]string, 0, s.rows)
	for row := 0; row < s.rows; row++ {
		var b strings.Builder
		for col := 0; col < s.cols; col++ {
			g := s.term.Cell(col, row)
			if g.Char == 0 {
				b.WriteRune(' ')
			} else {
				b.WriteRune(g.Char)
			}
		}
		lines = append(lines, strings.TrimRight(b.String(), " "))
	}

	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	return lines[:end]
}
