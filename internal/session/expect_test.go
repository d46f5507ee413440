package session

import (
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/drover-sh/drover/internal/channel"
)

// newTestSession wires a session to an in-memory channel with short poll
// intervals so the tests run fast.
func newTestSession(t *testing.T, opts Options) (*Session, *channel.Loopback) {
	t.Helper()
	l := channel.NewLoopback()
	if opts.Prompt.Empty() {
		opts.Prompt = Patterns(Regexp(regexp.MustCompile(`\$ $`)))
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := New(l, opts)
	t.Cleanup(func() { s.Close() })
	return s, l
}

func TestExpectMatchesFedOutput(t *testing.T) {
	s, l := newTestSession(t, Options{})
	l.FeedOutput([]byte("motd\nuser@box:~$ "))

	res, err := s.Expect(s.Prompt(), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Matched {
		t.Fatal("prompt not matched")
	}
	if res.Before != "motd\nuser@box:~" {
		t.Fatalf("Before = %q", res.Before)
	}
	if res.Match != "$ " {
		t.Fatalf("Match = %q", res.Match)
	}
	if res.Source != Stdout {
		t.Fatalf("Source = %v, want stdout", res.Source)
	}
}

func TestExpectMatchOnStderr(t *testing.T) {
	s, l := newTestSession(t, Options{})
	l.FeedOutput([]byte("progress..."))
	l.FeedErrOutput([]byte("error: no such file\n"))

	res, err := s.Expect(Patterns(Literal("no such file")), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Matched || res.Source != Stderr {
		t.Fatalf("matched=%v source=%v, want match on stderr", res.Matched, res.Source)
	}
	if res.Before != "error: " {
		t.Fatalf("Before = %q", res.Before)
	}
	if res.Output != "progress..." {
		t.Fatalf("Output = %q", res.Output)
	}
}

func TestExpectLeavesTailForNextCall(t *testing.T) {
	s, l := newTestSession(t, Options{})
	l.FeedOutput([]byte("before MARK tail"))

	res, err := s.Expect(Patterns(Literal("MARK")), 2*time.Second)
	if err != nil || !res.Matched {
		t.Fatalf("first expect: matched=%v err=%v", res.Matched, err)
	}

	res, err = s.Expect(Patterns(Literal("tail")), 2*time.Second)
	if err != nil || !res.Matched {
		t.Fatalf("second expect: matched=%v err=%v", res.Matched, err)
	}
	if res.Before != " " {
		t.Fatalf("Before = %q, want the single space between match and tail", res.Before)
	}
}

func TestExpectAlternativesReportIndex(t *testing.T) {
	s, l := newTestSession(t, Options{})
	l.FeedOutput([]byte("Password: "))

	spec := Patterns(Literal("login: "), Literal("Password: "), Literal("$ "))
	res, err := s.Expect(spec, 2*time.Second)
	if err != nil || !res.Matched {
		t.Fatalf("matched=%v err=%v", res.Matched, err)
	}
	if res.Index != 1 {
		t.Fatalf("Index = %d, want 1", res.Index)
	}
}

func TestExpectTimeoutIsNotAnError(t *testing.T) {
	s, l := newTestSession(t, Options{})
	l.FeedOutput([]byte("partial output"))

	start := time.Now()
	res, err := s.Expect(Patterns(Literal("never-appears")), 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if res.Matched {
		t.Fatal("matched impossibly")
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("returned after %v, before the timeout", elapsed)
	}
	if res.Output != "partial output" {
		t.Fatalf("Output = %q, want the collected prefix", res.Output)
	}

	// The timed-out bytes were consumed; they never show up again.
	res, err = s.Expect(Nothing(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "" {
		t.Fatalf("consumed bytes returned twice: %q", res.Output)
	}
}

func TestExpectZeroTimeoutReturnsImmediately(t *testing.T) {
	s, l := newTestSession(t, Options{})
	l.FeedOutput([]byte("already here"))

	// Wait for the reader loop to land the bytes in the buffer.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if out, _ := s.CheckOutputs(); out == "already here" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("output never reached the buffer")
		}
		time.Sleep(time.Millisecond)
	}

	res, err := s.Expect(Nothing(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Matched {
		t.Fatal("zero-timeout non-blocking read reported a match")
	}
	if res.Output != "already here" {
		t.Fatalf("Output = %q", res.Output)
	}
}

func TestExpectForeverWokenByEOF(t *testing.T) {
	s, l := newTestSession(t, Options{})

	go func() {
		time.Sleep(30 * time.Millisecond)
		l.FeedOutput([]byte("last words\n"))
		l.CloseOutput()
	}()

	res, err := s.Expect(Patterns(Literal("never")), Forever)
	if !errors.Is(err, ErrEOF) {
		t.Fatalf("err = %v, want ErrEOF", err)
	}
	if res.Output != "last words\n" {
		t.Fatalf("Output = %q", res.Output)
	}
	if s.IsAlive() {
		t.Fatal("session still alive after EOF")
	}
	if err := s.Send("anything"); !errors.Is(err, ErrEOF) {
		t.Fatalf("Send after EOF: err = %v, want ErrEOF", err)
	}
}

func TestExpectBusy(t *testing.T) {
	s, l := newTestSession(t, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Expect(Patterns(Literal("never")), Forever) //nolint:errcheck
	}()

	// Wait until the first expect holds the lock.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if !s.expectMu.TryLock() {
			break
		}
		s.expectMu.Unlock()
		if time.Now().After(deadline) {
			t.Fatal("first expect never took the lock")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := s.Expect(Nothing(), 0); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	if _, _, err := s.Cmd("ls"); !errors.Is(err, ErrBusy) {
		t.Fatalf("Cmd err = %v, want ErrBusy", err)
	}

	l.CloseOutput()
	<-done
}

func TestCmdWaitsForPrompt(t *testing.T) {
	s, l := newTestSession(t, Options{})

	go func() {
		waitSent(l, "echo hi\n")
		l.FeedOutput([]byte("echo hi\r\nhi\r\nuser@box:~$ "))
	}()

	out, errOut, err := s.Cmd("echo hi")
	if err != nil {
		t.Fatal(err)
	}
	if out != "echo hi\r\nhi\r\nuser@box:~" {
		t.Fatalf("out = %q", out)
	}
	if errOut != "" {
		t.Fatalf("errOut = %q, want empty", errOut)
	}
}

func TestCmdOutputStopsBeforePrompt(t *testing.T) {
	s, l := newTestSession(t, Options{})

	go func() {
		waitSent(l, "echo hello\n")
		l.FeedOutput([]byte("hello\n$ "))
	}()

	out, _, err := s.CmdExpect("echo hello", Patterns(Literal("$ ")), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello\n" {
		t.Fatalf("out = %q, want %q", out, "hello\n")
	}

	// The prompt itself was consumed along with the output.
	res, err := s.Expect(Nothing(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "" {
		t.Fatalf("prompt left unread: %q", res.Output)
	}
}

func TestCmdExpectStderrMatchTrimsPrompt(t *testing.T) {
	s, l := newTestSession(t, Options{})

	go func() {
		waitSent(l, "make\n")
		l.FeedOutput([]byte("compiling\n"))
		// Let the stdout chunk land before the stderr match wakes the expect.
		acc := ""
		for !strings.Contains(acc, "compiling") {
			out, _ := s.CheckOutputs()
			acc += out
			time.Sleep(time.Millisecond)
		}
		l.FeedErrOutput([]byte("fatal: no rule\nERR> "))
	}()

	out, errOut, err := s.CmdExpect("make", Patterns(Literal("ERR> ")), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if errOut != "fatal: no rule\n" {
		t.Fatalf("errOut = %q", errOut)
	}
	if out != "compiling\n" {
		t.Fatalf("out = %q", out)
	}
}

func TestCmdDiscardsStaleOutput(t *testing.T) {
	s, l := newTestSession(t, Options{})

	// Leftovers from an earlier interaction, already in the buffer.
	l.FeedOutput([]byte("stale junk\n"))
	waitBuffered(t, s)

	go func() {
		waitSent(l, "pwd\n")
		l.FeedOutput([]byte("/home/u\r\nuser@box:~$ "))
	}()

	out, _, err := s.Cmd("pwd")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "stale junk") {
		t.Fatalf("stale output leaked into the fresh cycle: %q", out)
	}
}

// waitSent blocks until the engine has written substr to the channel. It
// takes no testing.T so the fake remote can run it on its own goroutine.
func waitSent(l *channel.Loopback, substr string) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(string(l.Sent()), substr) {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// waitBuffered blocks until anything previously fed has been read into the
// session buffer, using a throwaway consumer so no real cursor moves.
func waitBuffered(t *testing.T, s *Session) {
	t.Helper()
	id := s.buf.addConsumer()
	defer s.buf.removeConsumer(id)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.buf.mu.Lock()
		n := len(s.buf.streams[Stdout].data) + len(s.buf.streams[Stderr].data)
		s.buf.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("fed output never reached the buffer")
}
