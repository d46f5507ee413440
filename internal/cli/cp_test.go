package cli

import (
	"testing"

	"github.com/drover-sh/drover/internal/model"
)

func hostFixture(user, addr string, port int) model.Host {
	return model.Host{Name: "web1", User: user, Addr: addr, Port: port}
}

func TestSplitRemote(t *testing.T) {
	cases := []struct {
		arg      string
		wantHost string
		wantPath string
	}{
		{"web1:/var/log/syslog", "web1", "/var/log/syslog"},
		{"web1:rel/path.txt", "web1", "rel/path.txt"},
		{"./local:file", "", "./local:file"},
		{"/abs/local:file", "", "/abs/local:file"},
		{"plain.txt", "", "plain.txt"},
		{":odd", "", ":odd"},
	}
	for _, c := range cases {
		host, p := splitRemote(c.arg)
		if host != c.wantHost || p != c.wantPath {
			t.Fatalf("splitRemote(%q) = %q, %q; want %q, %q", c.arg, host, p, c.wantHost, c.wantPath)
		}
	}
}

func TestSSHTarget(t *testing.T) {
	got := sshTarget(hostFixture("deploy", "web1.example.com", 2222))
	if got != "deploy@web1.example.com:2222" {
		t.Fatalf("sshTarget = %q", got)
	}
	got = sshTarget(hostFixture("", "web1.example.com", 22))
	if got != "web1.example.com" {
		t.Fatalf("sshTarget = %q", got)
	}
}
