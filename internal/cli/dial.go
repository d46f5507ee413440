package cli

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/drover-sh/drover/internal/channel"
	"github.com/drover-sh/drover/internal/config"
	"github.com/drover-sh/drover/internal/model"
	"github.com/drover-sh/drover/internal/session"
)

// defaultPrompt matches the usual sh/bash/zsh/root prompt tails.
var defaultPrompt = regexp.MustCompile(`[$#%>] $`)

// openSession dials the host and wraps the channel in a session. The
// caller owns the session and must Close it.
func openSession(ctx context.Context, host model.Host) (*session.Session, error) {
	ch, err := openChannel(ctx, host)
	if err != nil {
		return nil, err
	}

	opts := session.Options{
		Prompt: session.Patterns(session.Regexp(defaultPrompt)),
		Logger: newLogger(),
	}
	if host.Prompt != "" {
		re, err := regexp.Compile(host.Prompt)
		if err != nil {
			ch.Close()
			return nil, fmt.Errorf("host %s: bad prompt pattern: %w", host.Name, err)
		}
		opts.Prompt = session.Patterns(session.Regexp(re))
	}
	if host.TimeoutSec > 0 {
		opts.Timeout = time.Duration(host.TimeoutSec) * time.Second
	}
	return session.New(ch, opts), nil
}

func openChannel(ctx context.Context, host model.Host) (channel.Channel, error) {
	switch host.EffectiveDriver() {
	case model.DriverSSH:
		return channel.DialSSH(ctx, channel.SSHOptions{
			Host:            host.Addr,
			Port:            host.Port,
			User:            host.User,
			KeyPath:         host.Auth.KeyPath,
			Password:        host.Auth.Password,
			InsecureHostKey: host.InsecureHostKey,
			DialTimeout:     15 * time.Second,
		})
	case model.DriverProc:
		command := host.Command
		args := host.Args
		if command == "" {
			command = os.Getenv("SHELL")
			if command == "" {
				command = "/bin/sh"
			}
		}
		return channel.StartProc(ctx, channel.ProcOptions{
			Command: command,
			Args:    args,
		})
	default:
		return nil, fmt.Errorf("host %s: unknown driver %q", host.Name, host.Driver)
	}
}

func resolveHost(name string) (model.Host, error) {
	cfg, err := loadConfig()
	if err != nil {
		return model.Host{}, err
	}
	host, ok := config.FindHost(cfg, name)
	if !ok {
		return model.Host{}, fmt.Errorf("unknown host %q (see drover hosts)", name)
	}
	return host, nil
}
