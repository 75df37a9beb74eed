package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScreenRendersPlainLines(t *testing.T) {
	s := newScreen(80, 24)
	_, err := s.Write([]byte("hello\r\nworld"))
	require.NoError(t, err)

	assert.Equal(t, []string{"hello", "world"}, s.Lines())
}

func TestScreenRendersFinalStateAfterClear(t *testing.T) {
	s := newScreen(80, 24)

	// A TUI typically repaints by clearing the screen and homing the
	// cursor; only the final frame should be visible.
	_, err := s.Write([]byte("boot noise\r\nmore noise\r\n"))
	require.NoError(t, err)
	_, err = s.Write([]byte("\x1b[2J\x1b[Hready"))
	require.NoError(t, err)

	assert.Equal(t, []string{"ready"}, s.Lines())
}

func TestScreenStripsColorSequences(t *testing.T) {
	s := newScreen(80, 24)
	_, err := s.Write([]byte("\x1b[31mred\x1b[0m text"))
	require.NoError(t, err)

	assert.Equal(t, []string{"red text"}, s.Lines())
}

func TestScreenCursorAddressing(t *testing.T) {
	s := newScreen(80, 24)
	_, err := s.Write([]byte("\x1b[2;5HX"))
	require.NoError(t, err)

	assert.Equal(t, []string{"", "    X"}, s.Lines())
}

func TestScreenEmptyAndTrailingRows(t *testing.T) {
	s := newScreen(80, 24)
	assert.Empty(t, s.Lines())

	_, err := s.Write([]byte("top\r\n\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"top"}, s.Lines())
}
