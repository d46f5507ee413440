package session

import (
	"errors"
	"io"
	"time"
)

// Result is the outcome of a single expect.
type Result struct {
	// Matched is false on timeout and on EOF.
	Matched bool
	// Index is the position of the winning alternative in the spec.
	Index int
	// Source is the stream the match was found on.
	Source Source
	// Before is everything on the matched stream between the cursor and the
	// start of the match (the command's output when expecting a prompt).
	Before string
	// Match is the matched text itself.
	Match string
	// Output and ErrOutput are the bytes this call consumed from each
	// stream. On the matched stream that is Before+Match; elsewhere, and on
	// timeout or EOF, it is everything collected.
	Output    string
	ErrOutput string

	Elapsed time.Duration
}

// expectLocked runs one expect cycle against cursor. The caller holds
// expectMu. Consumed bytes are never re-returned by a later call; on timeout
// and EOF everything collected is consumed and reported.
func (s *Session) expectLocked(cursor int, spec PatternSpec, timeout time.Duration, command string) (Result, error) {
	start := time.Now()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		// Grab the notification channel before snapshotting so an append
		// racing the snapshot still wakes us.
		wake := s.buf.updated()
		out, errOut, outEnd, errEnd := s.buf.snapshot(cursor)

		if !spec.Empty() {
			if res, ok := s.tryMatch(cursor, spec, out, errOut, outEnd, errEnd); ok {
				res.Elapsed = time.Since(start)
				return res, nil
			}
		}

		closed, cause := s.buf.state()
		if closed || timeout == 0 {
			s.buf.advance(cursor, Stdout, outEnd)
			s.buf.advance(cursor, Stderr, errEnd)
			res := Result{
				Before:    string(out),
				Output:    string(out),
				ErrOutput: string(errOut),
				Elapsed:   time.Since(start),
			}
			if closed {
				return res, s.eofError(cause)
			}
			return res, nil
		}

		select {
		case <-wake:
		case <-deadline:
			out, errOut, outEnd, errEnd = s.buf.snapshot(cursor)
			if !spec.Empty() {
				if res, ok := s.tryMatch(cursor, spec, out, errOut, outEnd, errEnd); ok {
					res.Elapsed = time.Since(start)
					return res, nil
				}
				s.log.Warn("expect timed out",
					"command", command,
					"timeout", timeout,
					"collected", len(out)+len(errOut))
			}
			s.buf.advance(cursor, Stdout, outEnd)
			s.buf.advance(cursor, Stderr, errEnd)
			return Result{
				Before:    string(out),
				Output:    string(out),
				ErrOutput: string(errOut),
				Elapsed:   time.Since(start),
			}, nil
		}
	}
}

// tryMatch searches stdout then stderr. On a match, the matched stream is
// consumed through the end of the match (text after it stays unread for the
// next cycle) and the other stream is consumed in full.
func (s *Session) tryMatch(cursor int, spec PatternSpec, out, errOut []byte, outEnd, errEnd int64) (Result, bool) {
	if m, ok := spec.find(out); ok {
		s.buf.advance(cursor, Stdout, outEnd-int64(len(out))+int64(m.end))
		s.buf.advance(cursor, Stderr, errEnd)
		return Result{
			Matched:   true,
			Index:     m.index,
			Source:    Stdout,
			Before:    string(out[:m.start]),
			Match:     string(out[m.start:m.end]),
			Output:    string(out[:m.end]),
			ErrOutput: string(errOut),
		}, true
	}
	if m, ok := spec.find(errOut); ok {
		s.buf.advance(cursor, Stderr, errEnd-int64(len(errOut))+int64(m.end))
		s.buf.advance(cursor, Stdout, outEnd)
		return Result{
			Matched:   true,
			Index:     m.index,
			Source:    Stderr,
			Before:    string(errOut[:m.start]),
			Match:     string(errOut[m.start:m.end]),
			Output:    string(out),
			ErrOutput: string(errOut[:m.end]),
		}, true
	}
	return Result{}, false
}

// eofError maps a buffer close cause to the session-level error and latches
// it so later operations fail fast.
func (s *Session) eofError(cause error) error {
	s.latch(cause)
	if cause == nil || errors.Is(cause, io.EOF) {
		return ErrEOF
	}
	return s.fatalErr()
}
