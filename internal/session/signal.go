package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/drover-sh/drover/internal/channel"
)

// CtrlC interrupts the remote foreground process. With continuous false it
// returns immediately with whatever was already buffered; with continuous
// true it keeps draining over a bounded grace window so a program's
// shutdown/summary output is captured.
func (s *Session) CtrlC(continuous bool) (string, string, error) {
	return s.signalAndCollect(channel.SigInterrupt, continuous)
}

// CtrlD sends end-of-transmission, with the same collection behavior as
// CtrlC.
func (s *Session) CtrlD(continuous bool) (string, string, error) {
	return s.signalAndCollect(channel.SigEOT, continuous)
}

// CtrlBackslash sends a quit (Ctrl-\), the heavier hammer for processes
// that swallow interrupts.
func (s *Session) CtrlBackslash(continuous bool) (string, string, error) {
	return s.signalAndCollect(channel.SigQuit, continuous)
}

func (s *Session) signalAndCollect(sig channel.Signal, continuous bool) (string, string, error) {
	if err := s.fatalErr(); err != nil {
		return "", "", err
	}
	if !s.expectMu.TryLock() {
		return "", "", ErrBusy
	}
	defer s.expectMu.Unlock()

	if err := s.ch.Signal(sig); err != nil {
		return "", "", fmt.Errorf("send signal: %w", err)
	}
	s.log.Debug("signal sent", "signal", int(sig), "continuous", continuous)

	if !continuous {
		res, err := s.expectLocked(s.cmdCursor, Nothing(), 0, "")
		return res.Output, res.ErrOutput, err
	}
	return s.drainQuiet(s.opts.Grace, s.opts.Idle)
}

// drainQuiet collects output until it has been idle for the idle window
// (once anything arrived) or the grace period runs out. The caller holds
// expectMu.
func (s *Session) drainQuiet(grace, idle time.Duration) (string, string, error) {
	var out, errOut strings.Builder

	overall := time.NewTimer(grace)
	defer overall.Stop()

	for {
		wake := s.buf.updated()
		o, e := s.buf.drainAll(s.cmdCursor)
		out.Write(o)
		errOut.Write(e)

		if closed, cause := s.buf.state(); closed {
			return out.String(), errOut.String(), s.eofError(cause)
		}

		quiet := time.NewTimer(idle)
		select {
		case <-wake:
			quiet.Stop()
		case <-quiet.C:
			if out.Len()+errOut.Len() > 0 {
				return out.String(), errOut.String(), nil
			}
		case <-overall.C:
			quiet.Stop()
			o, e := s.buf.drainAll(s.cmdCursor)
			out.Write(o)
			errOut.Write(e)
			return out.String(), errOut.String(), nil
		}
	}
}
