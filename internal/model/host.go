// Package model holds the host inventory types shared by the config store
// and the CLI.
package model

// Driver selects how a host is reached.
type Driver string

const (
	// DriverSSH dials the host natively over SSH.
	DriverSSH Driver = "ssh"
	// DriverProc spawns a local command under a pty, such as a local shell
	// or a telnet/serial client reaching the real endpoint.
	DriverProc Driver = "proc"
)

type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthKey      AuthMethod = "key"
	AuthAgent    AuthMethod = "agent"
)

type AuthConfig struct {
	Method  AuthMethod `json:"method,omitempty"`
	KeyPath string     `json:"keyPath,omitempty"` // when method=key
	// Password is stored in the config on the user's explicit choice only.
	Password string `json:"password,omitempty"`
}

// Host is one reachable endpoint.
type Host struct {
	Name string `json:"name"`

	// SSH driver fields.
	Addr string     `json:"addr,omitempty"`
	Port int        `json:"port,omitempty"`
	User string     `json:"user,omitempty"`
	Auth AuthConfig `json:"auth,omitempty"`
	// InsecureHostKey skips known_hosts verification for this host.
	InsecureHostKey bool `json:"insecureHostKey,omitempty"`

	// Proc driver fields.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// Driver defaults to ssh when Addr is set, proc otherwise.
	Driver Driver `json:"driver,omitempty"`

	// Prompt overrides the default prompt regex for this host.
	Prompt string `json:"prompt,omitempty"`
	// TimeoutSec overrides the default command timeout.
	TimeoutSec int `json:"timeoutSec,omitempty"`
}

// EffectiveDriver resolves the driver default.
func (h Host) EffectiveDriver() Driver {
	if h.Driver != "" {
		return h.Driver
	}
	if h.Addr != "" {
		return DriverSSH
	}
	return DriverProc
}

// Config is the persisted inventory.
type Config struct {
	Version int    `json:"version"`
	Hosts   []Host `json:"hosts"`
}
