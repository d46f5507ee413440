// Package session drives a command-line program or remote shell through a
// channel: it sends input, accumulates output in the background, and lets
// the caller wait for patterns to appear before proceeding.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drover-sh/drover/internal/channel"
	"github.com/drover-sh/drover/internal/console"
)

// Forever blocks an expect until match or EOF.
const Forever = time.Duration(-1)

var (
	// ErrBusy reports a second expect-consuming operation while one is
	// already pending on the session.
	ErrBusy = errors.New("session: operation already in progress")
	// ErrEOF reports that the channel closed while a consumer was waiting.
	// It is distinct from a timeout so callers can tell "gave up" from
	// "process ended".
	ErrEOF = errors.New("session: channel closed")
)

// Options tunes a session. Zero values pick the defaults noted per field.
type Options struct {
	// Prompt is the default pattern Cmd waits for.
	Prompt PatternSpec
	// Timeout is the default Cmd timeout. Default 5s.
	Timeout time.Duration
	// PollInterval bounds each channel read in the reader loops and is the
	// cadence of non-blocking operations. Default 50ms.
	PollInterval time.Duration
	// Grace bounds how long CtrlC(continuous) keeps draining. Default 2s.
	Grace time.Duration
	// Idle is the quiet window after which a continuous drain that has seen
	// output returns early. Default 300ms.
	Idle time.Duration
	// Escape is the console passthrough detach byte. Default Ctrl-].
	Escape byte
	// ConsoleIn and ConsoleOut are the local endpoints Console relays
	// between. Defaults are os.Stdin and os.Stdout.
	ConsoleIn  io.Reader
	ConsoleOut io.Writer
	// Logger receives expect timeout warnings and protocol debug records.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.Grace <= 0 {
		o.Grace = 2 * time.Second
	}
	if o.Idle <= 0 {
		o.Idle = 300 * time.Millisecond
	}
	if o.Escape == 0 {
		o.Escape = console.DefaultEscape
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Session owns one channel, one output buffer and the reader loops draining
// the former into the latter. All methods are safe for concurrent use, but
// only one expect-consuming operation (Cmd, Expect, Flush, CtrlC, Console)
// may be active at a time; a second one fails with ErrBusy.
type Session struct {
	ID string

	opts Options
	ch   channel.Channel
	buf  *buffer
	log  *slog.Logger

	expectMu    sync.Mutex // serializes expect-consuming operations
	cmdCursor   int
	checkCursor int

	gate  readGate
	loops sync.WaitGroup

	mu     sync.Mutex
	fatal  error // latched channel error or ErrEOF
	closed bool
}

// New wraps ch in a session and starts its reader loops. The session owns
// ch from here on; Close tears it down.
func New(ch channel.Channel, opts Options) *Session {
	s := &Session{
		ID:   uuid.NewString(),
		opts: opts.withDefaults(),
		ch:   ch,
		buf:  newBuffer(),
	}
	s.log = s.opts.Logger.With("session", s.ID)
	s.cmdCursor = s.buf.addConsumer()
	s.checkCursor = s.buf.addConsumer()

	loops := []struct {
		src  Source
		read func([]byte, time.Duration) (int, error)
	}{
		{Stdout, ch.Read},
	}
	if ec, ok := ch.(channel.StderrChannel); ok {
		loops = append(loops, struct {
			src  Source
			read func([]byte, time.Duration) (int, error)
		}{Stderr, ec.ReadErr})
	}

	s.gate.init(len(loops))
	s.loops.Add(len(loops))
	causes := make(chan error, len(loops))
	for _, l := range loops {
		go s.readLoop(l.src, l.read, causes)
	}

	// Close the buffer only after every loop has stopped, so a live stderr
	// stream is not cut off by stdout reaching EOF first.
	go func() {
		s.loops.Wait()
		close(causes)
		var cause error
		for err := range causes {
			if err != nil && cause == nil {
				cause = err
			}
		}
		s.latch(cause)
		s.buf.closeWith(cause)
	}()

	return s
}

// readLoop continuously drains one stream of the channel into the buffer so
// output is never lost while nobody is waiting. It parks at the gate while
// the console passthrough owns the channel.
func (s *Session) readLoop(src Source, read func([]byte, time.Duration) (int, error), causes chan<- error) {
	defer s.loops.Done()
	defer s.gate.exit()

	buf := make([]byte, 8192)
	for {
		s.gate.wait()
		n, err := read(buf, s.opts.PollInterval)
		if n > 0 {
			s.buf.append(src, buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				causes <- nil
			} else {
				s.log.Warn("channel read failed", "stream", src.String(), "err", err)
				causes <- err
			}
			return
		}
	}
}

func (s *Session) latch(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return
	}
	if cause == nil {
		s.fatal = ErrEOF
	} else {
		s.fatal = fmt.Errorf("session: channel failed: %w", cause)
	}
}

// fatalErr returns the latched terminal error, if any.
func (s *Session) fatalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// IsAlive reports whether the channel is still usable.
func (s *Session) IsAlive() bool {
	return s.fatalErr() == nil
}

// Prompt returns the configured prompt spec.
func (s *Session) Prompt() PatternSpec { return s.opts.Prompt }

// Timeout returns the configured default command timeout.
func (s *Session) Timeout() time.Duration { return s.opts.Timeout }

// Send writes keys to the channel verbatim. It does not touch the output
// buffer; whatever the keys provoke arrives later via the reader loops.
func (s *Session) Send(keys string) error {
	if err := s.fatalErr(); err != nil {
		return err
	}
	s.log.Debug("send", "keys", keys)
	return s.ch.Write([]byte(keys))
}

// SendLine sends line with exactly one trailing newline.
func (s *Session) SendLine(line string) error {
	return s.Send(strings.TrimRight(line, "\n") + "\n")
}

// Cmd sends command and waits for the session prompt with the default
// timeout, returning the output collected up to (but not including) the
// prompt.
func (s *Session) Cmd(command string) (string, string, error) {
	return s.CmdExpect(command, s.opts.Prompt, s.opts.Timeout)
}

// CmdExpect is the general command cycle: discard anything unread from a
// previous cycle, send command, then expect spec within timeout. The
// matched text itself (the prompt) is consumed but not reported as command
// output. With Nothing() and a zero timeout it degenerates to
// fire-and-forget: the send still happens and whatever is immediately
// available comes back.
func (s *Session) CmdExpect(command string, spec PatternSpec, timeout time.Duration) (string, string, error) {
	if err := s.fatalErr(); err != nil {
		return "", "", err
	}
	if !s.expectMu.TryLock() {
		return "", "", ErrBusy
	}
	defer s.expectMu.Unlock()

	// Fresh cycle: output produced before this command is never re-reported
	// to this call. The check-outputs consumer keeps its own position.
	s.buf.discard(s.cmdCursor)

	if command != "" {
		if err := s.SendLine(command); err != nil {
			return "", "", err
		}
	}
	res, err := s.expectLocked(s.cmdCursor, spec, timeout, command)
	out, errOut := res.Output, res.ErrOutput
	if res.Matched {
		if res.Source == Stdout {
			out = res.Before
		} else {
			errOut = res.Before
		}
	}
	return out, errOut, err
}

// Expect blocks until the unread output matches spec, the timeout elapses,
// or the channel reaches EOF. A timeout is a normal outcome: the result
// carries everything collected and err is nil.
func (s *Session) Expect(spec PatternSpec, timeout time.Duration) (Result, error) {
	if !s.expectMu.TryLock() {
		return Result{}, ErrBusy
	}
	defer s.expectMu.Unlock()
	return s.expectLocked(s.cmdCursor, spec, timeout, "")
}

// Flush waits for the prompt and discards what precedes it, useful to eat a
// login banner before the first real command.
func (s *Session) Flush(timeout time.Duration) (string, string, error) {
	if !s.expectMu.TryLock() {
		return "", "", ErrBusy
	}
	defer s.expectMu.Unlock()
	res, err := s.expectLocked(s.cmdCursor, s.opts.Prompt, timeout, "")
	return res.Output, res.ErrOutput, err
}

// CheckOutputs returns everything accumulated since its previous call,
// without sending anything or blocking. It has its own cursor, so polling a
// backgrounded command never interferes with Cmd cycles.
func (s *Session) CheckOutputs() (string, string) {
	out, errOut := s.buf.drainAll(s.checkCursor)
	return string(out), string(errOut)
}

// Console suspends expect-driven control, hands the local terminal to a raw
// passthrough until the escape byte, then resumes the reader loops. It
// returns the keys typed during the passthrough.
func (s *Session) Console() ([]byte, error) {
	if err := s.fatalErr(); err != nil {
		return nil, err
	}
	if !s.expectMu.TryLock() {
		return nil, ErrBusy
	}
	defer s.expectMu.Unlock()

	s.gate.pause()
	defer s.gate.resume()

	p := &console.Passthrough{
		In:           s.opts.ConsoleIn,
		Out:          s.opts.ConsoleOut,
		Escape:       s.opts.Escape,
		PollInterval: s.opts.PollInterval,
	}
	typed, err := p.Run(s.ch)
	if errors.Is(err, io.EOF) {
		// The channel died under the console; the resumed loops will latch
		// it. Report the engine-level condition.
		err = ErrEOF
	}
	return typed, err
}

// Close tears the session down: the channel is closed, the reader loops
// drain out, and any blocked expect wakes with an EOF-class result.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.ch.Close()
	s.gate.resume() // in case a console left it paused
	s.loops.Wait()
	return err
}

// readGate lets the console passthrough borrow the channel: pause returns
// only once every live reader loop is parked between reads, so no loop is
// mid-read while the passthrough reads the channel directly.
type readGate struct {
	mu     sync.Mutex
	cond   *sync.Cond
	live   int
	parked int
	paused bool
}

func (g *readGate) init(live int) {
	g.cond = sync.NewCond(&g.mu)
	g.live = live
}

func (g *readGate) wait() {
	g.mu.Lock()
	for g.paused {
		g.parked++
		g.cond.Broadcast()
		g.cond.Wait()
		g.parked--
	}
	g.mu.Unlock()
}

func (g *readGate) exit() {
	g.mu.Lock()
	g.live--
	g.cond.Broadcast()
	g.mu.Unlock()
}

func (g *readGate) pause() {
	g.mu.Lock()
	g.paused = true
	for g.parked < g.live {
		g.cond.Wait()
	}
	g.mu.Unlock()
}

func (g *readGate) resume() {
	g.mu.Lock()
	g.paused = false
	g.cond.Broadcast()
	g.mu.Unlock()
}
