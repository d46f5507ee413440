// Package console relays the local controlling terminal to a channel,
// byte-faithfully and in both directions, so interactive full-screen
// programs work unmodified.
package console

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/drover-sh/drover/internal/channel"
)

// DefaultEscape is Ctrl-], the classic telnet detach character.
const DefaultEscape = 0x1d

// Passthrough relays In to the channel and the channel to Out until the
// escape byte shows up in the local key stream. The escape byte itself is
// never forwarded. When In is a real terminal it is switched to raw mode
// for the duration and restored on every exit path.
type Passthrough struct {
	// In is the local key source. Default os.Stdin.
	In io.Reader
	// Out is the local display. Default os.Stdout.
	Out io.Writer
	// Escape detaches the passthrough. Default DefaultEscape.
	Escape byte
	// PollInterval bounds each channel read. Default 50ms.
	PollInterval time.Duration
}

// Run relays until escape, local EOF, or channel EOF/error. It returns the
// bytes typed locally (escape excluded). The session's reader loops must be
// suspended while Run owns the channel; by the time Run returns the relay
// has stopped reading the channel, so they may resume immediately.
func (p *Passthrough) Run(ch channel.Channel) ([]byte, error) {
	in := p.In
	if in == nil {
		in = os.Stdin
	}
	out := p.Out
	if out == nil {
		out = os.Stdout
	}
	esc := p.Escape
	if esc == 0 {
		esc = DefaultEscape
	}
	poll := p.PollInterval
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		prior, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return nil, err
		}
		defer term.Restore(int(f.Fd()), prior) //nolint:errcheck // best effort on the way out
	}

	stop := make(chan struct{})
	var stopOnce sync.Once
	halt := func() { stopOnce.Do(func() { close(stop) }) }
	defer halt()

	// stopRelay hands the channel back: after it returns the display
	// goroutine has finished its final read and will not touch the channel
	// again, so the caller may resume its own readers immediately.
	chanErr := make(chan error, 1)
	stopRelay := func() {
		halt()
		<-chanErr
	}

	// Channel -> local display.
	go func() {
		buf := make([]byte, 8192)
		for {
			select {
			case <-stop:
				chanErr <- nil
				return
			default:
			}
			n, err := ch.Read(buf, poll)
			if n > 0 {
				if _, werr := out.Write(buf[:n]); werr != nil {
					chanErr <- werr
					return
				}
			}
			if err != nil {
				chanErr <- err
				return
			}
		}
	}()

	// Local keys -> channel. A blocking read on a raw terminal cannot be
	// cancelled; if the channel dies first, the goroutine is abandoned and
	// exits on the next keypress.
	keyCh := make(chan []byte)
	keyErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				b := make([]byte, n)
				copy(b, buf[:n])
				select {
				case keyCh <- b:
				case <-stop:
					return
				}
			}
			if err != nil {
				keyErr <- err
				return
			}
		}
	}()

	var typed []byte
	for {
		select {
		case b := <-keyCh:
			if i := bytes.IndexByte(b, esc); i >= 0 {
				typed = append(typed, b[:i]...)
				if i > 0 {
					if err := ch.Write(b[:i]); err != nil {
						stopRelay()
						return typed, err
					}
				}
				stopRelay()
				return typed, nil
			}
			typed = append(typed, b...)
			if err := ch.Write(b); err != nil {
				stopRelay()
				return typed, err
			}
		case err := <-keyErr:
			if errors.Is(err, io.EOF) {
				err = nil
			}
			stopRelay()
			return typed, err
		case err := <-chanErr:
			// The display goroutine has already exited.
			return typed, err
		}
	}
}
