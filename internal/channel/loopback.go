package channel

import (
	"io"
	"sync"
	"time"
)

// Loopback is an in-memory Channel. The test (or embedding program) plays
// the role of the remote process: FeedOutput queues bytes for the engine to
// read, Sent exposes what the engine wrote, and OnSignal observes signal
// delivery. It keeps output and error output distinct, so it also stands in
// for transports implementing StderrChannel.
type Loopback struct {
	// OnSignal, when set, is called for every delivered signal. It runs on
	// the caller's goroutine and may feed more output.
	OnSignal func(Signal)

	mu     sync.Mutex
	out    []byte
	errOut []byte
	sent   []byte
	sigs   []Signal
	eof    bool // no more output will be fed
	closed bool // engine closed the channel
	notify chan struct{}
}

var (
	_ Channel       = (*Loopback)(nil)
	_ StderrChannel = (*Loopback)(nil)
)

func NewLoopback() *Loopback {
	return &Loopback{notify: make(chan struct{})}
}

// FeedOutput queues p on the output stream.
func (l *Loopback) FeedOutput(p []byte) {
	l.feed(&l.out, p)
}

// FeedErrOutput queues p on the error-output stream.
func (l *Loopback) FeedErrOutput(p []byte) {
	l.feed(&l.errOut, p)
}

func (l *Loopback) feed(dst *[]byte, p []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.eof || l.closed {
		return
	}
	*dst = append(*dst, p...)
	l.wakeLocked()
}

// CloseOutput marks the end of output: readers drain what is queued and then
// see io.EOF, as if the remote process exited.
func (l *Loopback) CloseOutput() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.eof = true
	l.wakeLocked()
}

func (l *Loopback) wakeLocked() {
	close(l.notify)
	l.notify = make(chan struct{})
}

// Sent returns a copy of everything written to the channel so far.
func (l *Loopback) Sent() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]byte, len(l.sent))
	copy(out, l.sent)
	return out
}

// Signals returns the signals delivered so far.
func (l *Loopback) Signals() []Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Signal, len(l.sigs))
	copy(out, l.sigs)
	return out
}

func (l *Loopback) Write(p []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.sent = append(l.sent, p...)
	l.mu.Unlock()
	return nil
}

func (l *Loopback) Read(p []byte, timeout time.Duration) (int, error) {
	return l.read(&l.out, p, timeout)
}

func (l *Loopback) ReadErr(p []byte, timeout time.Duration) (int, error) {
	return l.read(&l.errOut, p, timeout)
}

func (l *Loopback) read(src *[]byte, p []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		l.mu.Lock()
		if n := copy(p, *src); n > 0 {
			*src = (*src)[n:]
			l.mu.Unlock()
			return n, nil
		}
		if l.closed || l.eof {
			l.mu.Unlock()
			return 0, io.EOF
		}
		wait := l.notify
		l.mu.Unlock()

		remain := time.Until(deadline)
		if remain <= 0 {
			return 0, nil
		}
		timer := time.NewTimer(remain)
		select {
		case <-wait:
			timer.Stop()
		case <-timer.C:
			return 0, nil
		}
	}
}

func (l *Loopback) Signal(sig Signal) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.sigs = append(l.sigs, sig)
	hook := l.OnSignal
	l.mu.Unlock()
	if hook != nil {
		hook(sig)
	}
	return nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.wakeLocked()
	return nil
}
