// Package channel abstracts the duplex byte stream to a controlled process.
// Implementations include local subprocesses running under a pty, native SSH
// connections, and an in-memory loopback for tests and embedding.
package channel

import (
	"errors"
	"time"
)

// Signal is an out-of-band signal delivered to the remote process without
// tearing down the channel itself.
type Signal int

const (
	// SigInterrupt interrupts the foreground process (Ctrl-C / SIGINT).
	SigInterrupt Signal = iota
	// SigEOT signals end of transmission (Ctrl-D).
	SigEOT
	// SigQuit requests a core-dumping quit (Ctrl-\ / SIGQUIT).
	SigQuit
	// SigKill terminates the process unconditionally.
	SigKill
)

// Control characters used by pty-backed transports, where signal delivery
// means writing the character into the terminal line discipline.
const (
	ctrlC         = 0x03
	ctrlD         = 0x04
	ctrlBackslash = 0x1c
)

// ErrClosed is returned by operations on a channel that has been closed.
var ErrClosed = errors.New("channel: closed")

// Channel is a bidirectional byte stream to a controlled process.
//
// Read fills p with whatever output is available within timeout and returns
// (0, nil) if nothing arrived in time. io.EOF reports that the process ended
// and all buffered output has been drained; any other error is fatal to the
// channel. A Channel is owned by exactly one session: Write and Signal are
// safe to call concurrently with Read, but Read itself must not be called
// from more than one goroutine at a time.
type Channel interface {
	Write(p []byte) error
	Read(p []byte, timeout time.Duration) (int, error)
	Signal(sig Signal) error
	Close() error
}

// StderrChannel is implemented by transports that keep error output as a
// stream separate from regular output (SSH pipes). Raw-pty transports merge
// the two and do not implement it.
type StderrChannel interface {
	ReadErr(p []byte, timeout time.Duration) (int, error)
}
