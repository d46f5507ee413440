package session

import (
	"sync"
)

// Source identifies which logical stream a chunk of output came from.
type Source int

const (
	Stdout Source = iota
	Stderr
)

func (s Source) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// stream is an append-only byte sequence addressed by absolute offsets.
// base is the absolute offset of data[0]; bytes below base have been
// consumed by every live cursor and released.
type stream struct {
	data []byte
	base int64
}

func (st *stream) end() int64 { return st.base + int64(len(st.data)) }

func (st *stream) slice(from int64) []byte {
	if from < st.base {
		from = st.base
	}
	if from >= st.end() {
		return nil
	}
	out := make([]byte, st.end()-from)
	copy(out, st.data[from-st.base:])
	return out
}

// buffer accumulates channel output for a session. It has a single writer
// (the reader loops) and any number of consumers, each identified by an id
// holding one monotone cursor per stream. Bytes are retained until every
// live cursor has passed them.
type buffer struct {
	mu      sync.Mutex
	streams [2]stream
	cursors map[int][2]int64
	nextID  int

	closed bool
	cause  error // nil for clean EOF, else the fatal channel error

	notify chan struct{} // closed and replaced on every append/close
}

func newBuffer() *buffer {
	return &buffer{
		cursors: make(map[int][2]int64),
		notify:  make(chan struct{}),
	}
}

// addConsumer registers a cursor positioned at the current end of both
// streams and returns its id.
func (b *buffer) addConsumer() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.cursors[id] = [2]int64{b.streams[Stdout].end(), b.streams[Stderr].end()}
	return id
}

func (b *buffer) removeConsumer(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cursors, id)
	b.trimLocked()
}

func (b *buffer) append(src Source, p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[src].data = append(b.streams[src].data, p...)
	b.wakeLocked()
}

// closeWith marks the buffer permanently closed and wakes every waiter.
// The first cause wins; nil means clean EOF.
func (b *buffer) closeWith(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.cause = cause
	b.wakeLocked()
}

func (b *buffer) state() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed, b.cause
}

// updated returns a channel closed on the next append or close. Grab it
// before snapshotting to avoid lost wakeups.
func (b *buffer) updated() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.notify
}

func (b *buffer) wakeLocked() {
	close(b.notify)
	b.notify = make(chan struct{})
}

// snapshot copies the unread region for id and reports the absolute end
// offsets the copies run to.
func (b *buffer) snapshot(id int) (out, errOut []byte, outEnd, errEnd int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.cursors[id]
	out = b.streams[Stdout].slice(cur[Stdout])
	errOut = b.streams[Stderr].slice(cur[Stderr])
	return out, errOut, b.streams[Stdout].end(), b.streams[Stderr].end()
}

// advance moves id's cursor on src forward to the absolute offset to.
// Cursors never move backward.
func (b *buffer) advance(id int, src Source, to int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.cursors[id]
	if !ok {
		return
	}
	if to > cur[src] {
		cur[src] = to
		b.cursors[id] = cur
		b.trimLocked()
	}
}

// drainAll returns everything unread by id and advances both cursors past it.
func (b *buffer) drainAll(id int) (out, errOut []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.cursors[id]
	if !ok {
		return nil, nil
	}
	out = b.streams[Stdout].slice(cur[Stdout])
	errOut = b.streams[Stderr].slice(cur[Stderr])
	b.cursors[id] = [2]int64{b.streams[Stdout].end(), b.streams[Stderr].end()}
	b.trimLocked()
	return out, errOut
}

// discard advances id's cursors to the current end without reporting the
// skipped bytes. Other consumers are unaffected.
func (b *buffer) discard(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.cursors[id]; !ok {
		return
	}
	b.cursors[id] = [2]int64{b.streams[Stdout].end(), b.streams[Stderr].end()}
	b.trimLocked()
}

// trimLocked releases bytes every live cursor has consumed.
func (b *buffer) trimLocked() {
	if len(b.cursors) == 0 {
		return
	}
	for src := range b.streams {
		min := b.streams[src].end()
		for _, cur := range b.cursors {
			if cur[src] < min {
				min = cur[src]
			}
		}
		st := &b.streams[src]
		if min > st.base {
			st.data = st.data[min-st.base:]
			st.base = min
		}
	}
}
