package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drover-sh/drover/internal/channel"
)

func TestBackgroundOutputIsCumulative(t *testing.T) {
	s, l := newTestSession(t, Options{})

	h, err := s.BackgroundProc("./server --port 8080")
	require.NoError(t, err)
	defer h.Close()

	require.Equal(t, "./server --port 8080\n", string(l.Sent()))

	l.FeedOutput([]byte("listening on :8080\n"))
	waitHandle(t, h, "listening")

	first := h.Output()
	require.Contains(t, first, "listening on :8080\n")

	l.FeedOutput([]byte("GET / 200\n"))
	waitHandle(t, h, "GET / 200")

	second := h.Output()
	require.True(t, strings.HasPrefix(second, first),
		"snapshot shrank: %q then %q", first, second)
	require.Contains(t, second, "GET / 200\n")
}

func TestBackgroundErrOutputSeparate(t *testing.T) {
	s, l := newTestSession(t, Options{})

	h, err := s.BackgroundProc("./worker")
	require.NoError(t, err)
	defer h.Close()

	l.FeedErrOutput([]byte("warn: low disk\n"))
	deadline := time.Now().Add(2 * time.Second)
	for h.ErrOutput() == "" && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, "warn: low disk\n", h.ErrOutput())
	require.Empty(t, h.Output())
}

func TestBackgroundDoesNotDisturbCmd(t *testing.T) {
	s, l := newTestSession(t, Options{})

	h, err := s.BackgroundProc("./daemon")
	require.NoError(t, err)
	defer h.Close()

	go func() {
		waitSent(l, "uptime\n")
		l.FeedOutput([]byte("up 3 days\r\nuser@box:~$ "))
	}()
	out, _, err := s.Cmd("uptime")
	require.NoError(t, err)
	require.Contains(t, out, "up 3 days")

	// The handle still sees the bytes the Cmd cycle consumed.
	waitHandle(t, h, "up 3 days")
}

func TestBackgroundReadyPattern(t *testing.T) {
	s, l := newTestSession(t, Options{})

	go func() {
		waitSent(l, "./server\n")
		l.FeedOutput([]byte("booting...\nready to serve\n"))
	}()

	h, err := s.BackgroundProcOpts("./server", BackgroundOpts{
		Ready:        Patterns(Literal("ready to serve")),
		ReadyTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	defer h.Close()

	require.Contains(t, h.Output(), "ready to serve")
}

func TestBackgroundReadyTimeoutStillReturnsHandle(t *testing.T) {
	s, l := newTestSession(t, Options{})

	go func() {
		waitSent(l, "./server\n")
		l.FeedOutput([]byte("booting...\n"))
	}()

	h, err := s.BackgroundProcOpts("./server", BackgroundOpts{
		Ready:        Patterns(Literal("ready to serve")),
		ReadyTimeout: 150 * time.Millisecond,
	})
	require.NoError(t, err, "a ready wait that times out is not an error")
	defer h.Close()

	waitHandle(t, h, "booting...")
	require.NotContains(t, h.Output(), "ready to serve")
}

func TestBackgroundCloseLeavesProcessRunning(t *testing.T) {
	s, l := newTestSession(t, Options{})

	h, err := s.BackgroundProc("./daemon")
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.Empty(t, l.Signals(), "default Close must not signal the process")
	require.True(t, s.IsAlive(), "closing a handle must not touch the channel")

	// Idempotent, and the snapshot freezes at close time.
	require.NoError(t, h.Close())
	l.FeedOutput([]byte("after close\n"))
	time.Sleep(20 * time.Millisecond)
	require.NotContains(t, h.Output(), "after close")
}

func TestBackgroundKillOnClose(t *testing.T) {
	s, l := newTestSession(t, Options{Grace: 100 * time.Millisecond, Idle: 30 * time.Millisecond})

	h, err := s.BackgroundProcOpts("./daemon", BackgroundOpts{KillOnClose: true})
	require.NoError(t, err)

	l.OnSignal = func(sig channel.Signal) {
		if sig == channel.SigInterrupt {
			l.FeedOutput([]byte("daemon shut down\n"))
		}
	}
	require.NoError(t, h.Close())

	sigs := l.Signals()
	require.Len(t, sigs, 1)
	require.Equal(t, channel.SigInterrupt, sigs[0])
	require.Contains(t, h.Output(), "daemon shut down")
}

func waitHandle(t *testing.T, h *BackgroundHandle, substr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(h.Output(), substr) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("handle never saw %q; output: %q", substr, h.Output())
}
