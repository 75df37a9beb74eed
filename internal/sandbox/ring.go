package sandbox

import "sync"

const (
	defaultRingLines = 2000
	subscriberBuffer = 256
)

// logRing is a memory-bounded FIFO of captured output lines with fan-out to
// live subscribers. Bounding the buffer keeps a chatty sandbox from growing
// supervisor memory without limit; the full history lives in the append-only
// log file instead.
//
// Subscribers receive lines appended after they subscribed. There is no
// replay: a reconnecting stream starts from "now". A slow subscriber loses
// lines rather than stalling the output reader.
type logRing struct {
	mu       sync.Mutex
	maxLines int
	lines    []string
	subs     map[int]chan string
	nextSub  int
	closed   bool
}

func newLogRing(maxLines int) *logRing {
	if maxLines <= 0 {
		maxLines = defaultRingLines
	}
	return &logRing{
		maxLines: maxLines,
		subs:     make(map[int]chan string),
	}
}

// append records one line, evicting the oldest when over the limit, and
// fans it out to subscribers without blocking.
func (r *logRing) append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.lines = append(r.lines, line)
	if len(r.lines) > r.maxLines {
		r.lines = r.lines[len(r.lines)-r.maxLines:]
	}

	for _, ch := range r.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// last returns the newest n lines in capture order.
func (r *logRing) last(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || len(r.lines) == 0 {
		return nil
	}
	if n > len(r.lines) {
		n = len(r.lines)
	}
	out := make([]string, n)
	copy(out, r.lines[len(r.lines)-n:])
	return out
}

// subscribe registers a live consumer. The returned cancel func is
// idempotent; the channel is closed either by cancel or when the ring shuts
// down with its sandbox.
func (r *logRing) subscribe() (<-chan string, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan string, subscriberBuffer)
	if r.closed {
		close(ch)
		return ch, func() {}
	}

	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if _, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// close ends every subscription. Buffered lines stay readable via last.
func (r *logRing) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
}
