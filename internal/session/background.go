package session

import (
	"strings"
	"sync"
	"time"
)

// BackgroundOpts tunes BackgroundProcOpts.
type BackgroundOpts struct {
	// Ready, when non-empty, is waited for after the command is sent. A
	// wait that times out is not an error: the handle is returned anyway
	// and the caller can inspect Output for what did arrive. Only a dead
	// channel fails the launch.
	Ready PatternSpec
	// ReadyTimeout bounds the ready wait. Zero means the session default.
	ReadyTimeout time.Duration
	// KillOnClose interrupts the process when the handle is closed. The
	// default is to leave it running with the reader loops still attached.
	KillOnClose bool
}

// BackgroundHandle tracks a command launched without waiting for it. It
// borrows the session's channel and reader loops, never closing them, and
// holds its own cursor, so polling it does not disturb Cmd cycles.
type BackgroundHandle struct {
	s      *Session
	cursor int

	mu     sync.Mutex
	out    strings.Builder
	errOut strings.Builder
	kill   bool
	closed bool
}

// BackgroundProc sends command and returns a handle for polling its output.
// The session does not wait: output accumulates via the reader loops.
func (s *Session) BackgroundProc(command string) (*BackgroundHandle, error) {
	return s.BackgroundProcOpts(command, BackgroundOpts{})
}

// BackgroundProcOpts is BackgroundProc with a ready-pattern wait and
// cleanup policy.
func (s *Session) BackgroundProcOpts(command string, opts BackgroundOpts) (*BackgroundHandle, error) {
	if err := s.fatalErr(); err != nil {
		return nil, err
	}

	// The handle's cursor starts before the send so launch output (job
	// banner, ready line) is part of the handle's view.
	h := &BackgroundHandle{
		s:      s,
		cursor: s.buf.addConsumer(),
		kill:   opts.KillOnClose,
	}

	if !opts.Ready.Empty() {
		timeout := opts.ReadyTimeout
		if timeout <= 0 {
			timeout = s.opts.Timeout
		}
		if _, _, err := s.CmdExpect(command, opts.Ready, timeout); err != nil {
			s.buf.removeConsumer(h.cursor)
			return nil, err
		}
		return h, nil
	}

	if err := s.SendLine(command); err != nil {
		s.buf.removeConsumer(h.cursor)
		return nil, err
	}
	return h, nil
}

// Output returns all regular output produced since launch. It is
// cumulative: successive calls return a growing snapshot, never a delta.
func (h *BackgroundHandle) Output() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drainLocked()
	return h.out.String()
}

// ErrOutput returns all error output produced since launch, cumulatively.
func (h *BackgroundHandle) ErrOutput() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drainLocked()
	return h.errOut.String()
}

func (h *BackgroundHandle) drainLocked() {
	if h.closed {
		return
	}
	o, e := h.s.buf.drainAll(h.cursor)
	h.out.Write(o)
	h.errOut.Write(e)
}

// Close releases the handle's cursor. By default the process is left
// running and the reader loops stay attached; with KillOnClose it is
// interrupted and the shutdown output is folded into the handle's snapshot.
// Close never tears down the channel; only the session may.
func (h *BackgroundHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.drainLocked()
	h.closed = true
	h.s.buf.removeConsumer(h.cursor)
	kill := h.kill
	h.mu.Unlock()

	if !kill {
		return nil
	}
	o, e, err := h.s.CtrlC(true)
	h.mu.Lock()
	h.out.WriteString(o)
	h.errOut.WriteString(e)
	h.mu.Unlock()
	return err
}
