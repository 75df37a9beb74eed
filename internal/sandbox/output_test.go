package sandbox

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputPumpSplitsLines(t *testing.T) {
	ring := newLogRing(10)
	var file bytes.Buffer
	pump := newOutputPump(ring, &file, nil)

	_, err := pump.Write([]byte("one\ntw"))
	require.NoError(t, err)
	_, err = pump.Write([]byte("o\r\nthree"))
	require.NoError(t, err)

	assert.Equal(t, []string{"one", "two"}, ring.last(10))

	pump.flush()
	assert.Equal(t, []string{"one", "two", "three"}, ring.last(10))

	// The file gets the raw bytes, split points and all.
	assert.Equal(t, "one\ntwo\r\nthree", file.String())
}

func TestOutputPumpMirrors(t *testing.T) {
	ring := newLogRing(10)
	var file, mirror bytes.Buffer
	pump := newOutputPump(ring, &file, &mirror)

	_, err := pump.Write([]byte("hello\n"))
	require.NoError(t, err)

	assert.Equal(t, "hello\n", file.String())
	assert.Equal(t, "hello\n", mirror.String())
}

func TestOutputPumpBoundsUnterminatedLine(t *testing.T) {
	ring := newLogRing(10)
	pump := newOutputPump(ring, nil, nil)

	huge := strings.Repeat("x", maxPendingLine+1)
	_, err := pump.Write([]byte(huge))
	require.NoError(t, err)

	lines := ring.last(10)
	require.Len(t, lines, 1)
	assert.Len(t, lines[0], maxPendingLine+1)
}

// frame builds one Docker multiplexed stream frame.
func frame(stream byte, payload string) []byte {
	header := make([]byte, 8)
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	return append(header, payload...)
}

func TestDemuxFramesRoutesStreams(t *testing.T) {
	var in bytes.Buffer
	in.Write(frame(1, "to stdout\n"))
	in.Write(frame(2, "to stderr\n"))
	in.Write(frame(1, "more stdout\n"))

	var stdout, stderr bytes.Buffer
	require.NoError(t, demuxFrames(&in, &stdout, &stderr))

	assert.Equal(t, "to stdout\nmore stdout\n", stdout.String())
	assert.Equal(t, "to stderr\n", stderr.String())
}

func TestDemuxFramesToleratesTruncation(t *testing.T) {
	full := frame(1, "partial payload")
	truncated := full[:len(full)-4]

	var stdout, stderr bytes.Buffer
	err := demuxFrames(bytes.NewReader(truncated), &stdout, &stderr)
	require.Error(t, err)

	// A stream cut mid-header is treated as a normal end.
	err = demuxFrames(bytes.NewReader(full[:3]), &stdout, &stderr)
	require.NoError(t, err)
}
