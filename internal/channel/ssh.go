package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrUnknownHostKey reports a host that is not present in known_hosts.
type ErrUnknownHostKey struct {
	HostPort    string
	Fingerprint string
	Key         ssh.PublicKey
}

func (e ErrUnknownHostKey) Error() string {
	return "unknown host key: " + e.HostPort + " (" + e.Fingerprint + ")"
}

// ErrHostKeyMismatch reports a host whose key does not match known_hosts.
type ErrHostKeyMismatch struct {
	HostPort    string
	Fingerprint string
	Key         ssh.PublicKey
}

func (e ErrHostKeyMismatch) Error() string {
	return "host key mismatch: " + e.HostPort + " (" + e.Fingerprint + ")"
}

// SSHOptions configures a native SSH channel.
type SSHOptions struct {
	Host string
	Port int // 0 means 22
	User string

	// Authentication, tried in the order key, password, agent. KeyPath and
	// Password empty means the SSH agent is required.
	KeyPath  string
	Password string

	// InsecureHostKey skips known_hosts verification. Meant for lab gear
	// with churning keys, not for general use.
	InsecureHostKey bool

	// Term, Cols and Rows describe the requested remote pty.
	Term string
	Cols int
	Rows int

	DialTimeout time.Duration
}

// SSH is a channel to a shell on a remote host. The transport keeps stdout
// and stderr distinct, so SSH implements StderrChannel.
type SSH struct {
	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser

	out    *pump
	errOut *pump

	closeOnce sync.Once
}

var (
	_ Channel       = (*SSH)(nil)
	_ StderrChannel = (*SSH)(nil)
)

// DialSSH connects, requests a pty and starts the remote login shell.
func DialSSH(ctx context.Context, opts SSHOptions) (*SSH, error) {
	cfg, cleanup, err := sshClientConfig(opts)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	port := opts.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(opts.Host, fmt.Sprint(port))

	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 8 * time.Second
	}
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)

	sess, err := client.NewSession()
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	term := opts.Term
	if term == "" {
		term = "xterm-256color"
	}
	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = 120
	}
	if rows <= 0 {
		rows = 40
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(term, rows, cols, modes); err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, err
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, err
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, err
	}
	if err := sess.Shell(); err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, err
	}

	return &SSH{
		client: client,
		sess:   sess,
		stdin:  stdin,
		out:    newPump(stdout),
		errOut: newPump(stderr),
	}, nil
}

func (s *SSH) Write(p []byte) error {
	_, err := s.stdin.Write(p)
	return err
}

func (s *SSH) Read(p []byte, timeout time.Duration) (int, error) {
	return s.out.read(p, timeout)
}

func (s *SSH) ReadErr(p []byte, timeout time.Duration) (int, error) {
	return s.errOut.read(p, timeout)
}

// Signal delivers sig to the remote foreground process. Interrupt-class
// signals go down the pty as control characters; many sshds ignore the
// signal channel request, while the line discipline path always works with
// a requested pty. SigKill uses the protocol-level request.
func (s *SSH) Signal(sig Signal) error {
	switch sig {
	case SigInterrupt:
		return s.Write([]byte{ctrlC})
	case SigEOT:
		return s.Write([]byte{ctrlD})
	case SigQuit:
		return s.Write([]byte{ctrlBackslash})
	case SigKill:
		return s.sess.Signal(ssh.SIGKILL)
	default:
		return fmt.Errorf("channel: unknown signal %d", sig)
	}
}

// Resize changes the remote pty dimensions.
func (s *SSH) Resize(cols, rows int) error {
	return s.sess.WindowChange(rows, cols)
}

// SFTP opens a file-transfer client over the same SSH connection. The caller
// closes it independently of the channel.
func (s *SSH) SFTP() (*sftp.Client, error) {
	return sftp.NewClient(s.client)
}

func (s *SSH) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.sess.Close()
		err = s.client.Close()
	})
	return err
}

// pump drains an io.Reader into a bounded queue so that reads can carry a
// timeout even though ssh pipes have no deadline support.
type pump struct {
	ch   chan []byte
	done chan struct{}
	err  error // set before done is closed

	rest []byte // carry-over for a single consumer
}

func newPump(r io.Reader) *pump {
	p := &pump{
		ch:   make(chan []byte, 128),
		done: make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		buf := make([]byte, 8192)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				b := make([]byte, n)
				copy(b, buf[:n])
				p.ch <- b
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					p.err = err
				}
				return
			}
		}
	}()
	return p
}

func (p *pump) read(dst []byte, timeout time.Duration) (int, error) {
	if len(p.rest) > 0 {
		n := copy(dst, p.rest)
		p.rest = p.rest[n:]
		return n, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	take := func(b []byte) int {
		n := copy(dst, b)
		if n < len(b) {
			p.rest = append(p.rest[:0], b[n:]...)
		}
		return n
	}

	select {
	case b := <-p.ch:
		return take(b), nil
	case <-p.done:
		// The queue may still hold data raced against the close.
		select {
		case b := <-p.ch:
			return take(b), nil
		default:
		}
		if p.err != nil {
			return 0, p.err
		}
		return 0, io.EOF
	case <-timer.C:
		return 0, nil
	}
}

func sshClientConfig(opts SSHOptions) (*ssh.ClientConfig, func(), error) {
	auth, cleanup, err := sshAuthMethod(opts)
	if err != nil {
		return nil, nil, err
	}

	var hkcb ssh.HostKeyCallback
	if opts.InsecureHostKey {
		hkcb = ssh.InsecureIgnoreHostKey() //nolint:gosec // explicit opt-in
	} else {
		hkcb = hostKeyCallback()
	}

	return &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hkcb,
		Timeout:         10 * time.Second,
	}, cleanup, nil
}

func sshAuthMethod(opts SSHOptions) (ssh.AuthMethod, func(), error) {
	switch {
	case opts.KeyPath != "":
		b, err := os.ReadFile(expandHome(opts.KeyPath))
		if err != nil {
			return nil, nil, err
		}
		signer, err := ssh.ParsePrivateKey(b)
		if err != nil {
			return nil, nil, err
		}
		return ssh.PublicKeys(signer), nil, nil

	case opts.Password != "":
		return ssh.Password(opts.Password), nil, nil

	default:
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, nil, errors.New("no key or password given and SSH_AUTH_SOCK is not set")
		}
		conn, err := net.DialTimeout("unix", sock, 2*time.Second)
		if err != nil {
			return nil, nil, err
		}
		ag := agent.NewClient(conn)
		return ssh.PublicKeysCallback(ag.Signers), func() { _ = conn.Close() }, nil
	}
}

func knownHostsPath() string {
	return expandHome("~/.ssh/known_hosts")
}

func hostKeyCallback() ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		fp := ssh.FingerprintSHA256(key)
		hostPort := knownhosts.Normalize(hostname)

		matcher, err := knownhosts.New(knownHostsPath())
		if err != nil {
			if os.IsNotExist(err) {
				// No known_hosts yet: every host is unknown.
				return ErrUnknownHostKey{HostPort: hostPort, Fingerprint: fp, Key: key}
			}
			return err
		}
		err = matcher(hostname, remote, key)
		if err == nil {
			return nil
		}

		var kerr *knownhosts.KeyError
		if errors.As(err, &kerr) {
			if len(kerr.Want) == 0 {
				return ErrUnknownHostKey{HostPort: hostPort, Fingerprint: fp, Key: key}
			}
			return ErrHostKeyMismatch{HostPort: hostPort, Fingerprint: fp, Key: key}
		}
		return err
	}
}

// TrustHostKey appends hostPort's key to known_hosts, typically after the
// caller has shown an ErrUnknownHostKey fingerprint to the user.
func TrustHostKey(hostPort string, key ssh.PublicKey) error {
	khPath := knownHostsPath()
	if err := os.MkdirAll(filepath.Dir(khPath), 0o700); err != nil {
		return err
	}
	line := knownhosts.Line([]string{hostPort}, key)

	f, err := os.OpenFile(khPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(line + "\n")
	return err
}

func expandHome(p string) string {
	if len(p) >= 2 && p[:2] == "~/" {
		if h, err := os.UserHomeDir(); err == nil {
			return filepath.Join(h, p[2:])
		}
	}
	return p
}
