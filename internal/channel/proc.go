package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// ProcOptions configures a local subprocess channel.
type ProcOptions struct {
	Command string
	Args    []string

	// Dir is the working directory for the process. Empty means inherit.
	Dir string
	// Env entries are merged into the current environment.
	Env map[string]string

	Cols int
	Rows int
}

// Proc runs a local command under a pseudo terminal. stdout and stderr are
// merged by the pty, so Proc exposes a single output stream.
type Proc struct {
	cmd *exec.Cmd

	mu  sync.Mutex
	pty *os.File

	exited    chan struct{}
	waitErr   error
	closeOnce sync.Once
}

var _ Channel = (*Proc)(nil)

// StartProc spawns cmd under a fresh pty and returns the channel to it.
func StartProc(ctx context.Context, opts ProcOptions) (*Proc, error) {
	if strings.TrimSpace(opts.Command) == "" {
		return nil, errors.New("channel: command is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(opts.Command, opts.Args...) //nolint:gosec // caller-chosen executable
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		if k == "" {
			continue
		}
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	f, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", opts.Command, err)
	}

	p := &Proc{
		cmd:    cmd,
		pty:    f,
		exited: make(chan struct{}),
	}
	if opts.Cols > 0 && opts.Rows > 0 {
		_ = p.Resize(opts.Cols, opts.Rows)
	}

	// Single reaper; Close never calls Wait itself.
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.exited)
	}()

	return p, nil
}

// Done is closed once the process has exited. Buffered output may still be
// readable after that; Read reports io.EOF when it is drained.
func (p *Proc) Done() <-chan struct{} { return p.exited }

// ExitErr returns the process wait result, or nil while it is still running.
func (p *Proc) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

func (p *Proc) file() *os.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pty
}

func (p *Proc) Write(b []byte) error {
	f := p.file()
	if f == nil {
		return ErrClosed
	}
	_, err := f.Write(b)
	return err
}

// Read returns available output within timeout, (0, nil) when nothing
// arrived in time, and io.EOF once the process has exited and the pty is
// drained (Linux reports EIO on the master side at that point).
func (p *Proc) Read(buf []byte, timeout time.Duration) (int, error) {
	f := p.file()
	if f == nil {
		return 0, io.EOF
	}
	_ = f.SetReadDeadline(time.Now().Add(timeout))
	n, err := f.Read(buf)
	if n > 0 {
		return n, nil
	}
	switch {
	case err == nil:
		return 0, nil
	case os.IsTimeout(err):
		return 0, nil
	case errors.Is(err, io.EOF), errors.Is(err, syscall.EIO), errors.Is(err, os.ErrClosed):
		return 0, io.EOF
	default:
		return 0, err
	}
}

// Signal delivers sig through the pty line discipline where possible so the
// foreground process group receives it, matching what an interactive user
// would produce at the keyboard. SigKill goes straight to the process.
func (p *Proc) Signal(sig Signal) error {
	switch sig {
	case SigInterrupt:
		return p.Write([]byte{ctrlC})
	case SigEOT:
		return p.Write([]byte{ctrlD})
	case SigQuit:
		return p.Write([]byte{ctrlBackslash})
	case SigKill:
		if p.cmd.Process != nil {
			return p.cmd.Process.Kill()
		}
		return nil
	default:
		return fmt.Errorf("channel: unknown signal %d", sig)
	}
}

func (p *Proc) Resize(cols, rows int) error {
	f := p.file()
	if f == nil || cols <= 0 || rows <= 0 {
		return nil
	}
	return pty.Setsize(f, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
}

// Close kills the process if it is still running and releases the pty.
// Pending reads are unblocked and report io.EOF.
func (p *Proc) Close() error {
	p.closeOnce.Do(func() {
		if p.cmd.Process != nil {
			select {
			case <-p.exited:
			default:
				_ = p.cmd.Process.Kill()
			}
		}
		p.mu.Lock()
		f := p.pty
		p.pty = nil
		p.mu.Unlock()
		if f != nil {
			_ = f.Close()
		}
	})
	return nil
}
