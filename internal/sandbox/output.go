package sandbox

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"sync"
)

// maxPendingLine bounds how many bytes of an unterminated line the pump
// holds before force-flushing it as a line of its own.
const maxPendingLine = 64 * 1024

// outputPump tees raw sandbox output into the append-only log file and an
// optional mirror (the vt10x screen for PTY sandboxes), and splits it into
// lines for the ring buffer. Write never fails; a broken log file must not
// take down the output reader.
type outputPump struct {
	ring   *logRing
	file   io.Writer
	mirror io.Writer

	mu      sync.Mutex
	pending []byte
}

func newOutputPump(ring *logRing, file, mirror io.Writer) *outputPump {
	return &outputPump{ring: ring, file: file, mirror: mirror}
}

func (p *outputPump) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file != nil {
		_, _ = p.file.Write(b)
	}
	if p.mirror != nil {
		_, _ = p.mirror.Write(b)
	}

	p.pending = append(p.pending, b...)
	for {
		i := bytes.IndexByte(p.pending, '\n')
		if i < 0 {
			break
		}
		p.ring.append(strings.TrimRight(string(p.pending[:i]), "\r"))
		p.pending = p.pending[i+1:]
	}
	if len(p.pending) > maxPendingLine {
		p.ring.append(string(p.pending))
		p.pending = nil
	}
	return len(b), nil
}

// flush records any unterminated trailing output as a final line. Called
// once when the source reaches EOF.
func (p *outputPump) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) > 0 {
		p.ring.append(strings.TrimRight(string(p.pending), "\r"))
		p.pending = nil
	}
}

// demuxFrames reads Docker's multiplexed stream format and routes frames to
// the stdout or stderr writer. Frame layout with Tty=false: byte 0 is the
// stream type (1=stdout, 2=stderr), bytes 4-7 the big-endian frame size,
// then the payload.
func demuxFrames(r io.Reader, stdout, stderr io.Writer) error {
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}

		size := binary.BigEndian.Uint32(header[4:8])
		if size == 0 {
			continue
		}
		frame := make([]byte, size)
		if _, err := io.ReadFull(r, frame); err != nil {
			return err
		}

		var w io.Writer
		switch header[0] {
		case 1:
			w = stdout
		case 2:
			w = stderr
		default:
			continue
		}
		if w != nil {
			_, _ = w.Write(frame)
		}
	}
}
