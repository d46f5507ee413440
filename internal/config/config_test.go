package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/drover-sh/drover/internal/model"
)

func TestLoadMissingFileYieldsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "drover.json")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Version != ConfigVersionCurrent {
		t.Fatalf("version = %d", cfg.Version)
	}
	if len(cfg.Hosts) != 1 || cfg.Hosts[0].Name != "local" {
		t.Fatalf("default hosts = %+v", cfg.Hosts)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "drover.json")

	want := model.Config{
		Version: ConfigVersionCurrent,
		Hosts: []model.Host{
			{Name: "local", Driver: model.DriverProc},
			{
				Name:   "web1",
				Addr:   "web1.example.com",
				Port:   2222,
				User:   "deploy",
				Auth:   model.AuthConfig{Method: model.AuthKey, KeyPath: "~/.ssh/id_ed25519"},
				Prompt: `\$ $`,
			},
		},
	}
	if err := Save(path, want); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Hosts) != 2 {
		t.Fatalf("hosts = %+v", got.Hosts)
	}
	h := got.Hosts[1]
	if h.Addr != "web1.example.com" || h.Port != 2222 || h.User != "deploy" {
		t.Fatalf("host = %+v", h)
	}
	if h.Auth.Method != model.AuthKey || h.Auth.KeyPath != "~/.ssh/id_ed25519" {
		t.Fatalf("auth = %+v", h.Auth)
	}
	if h.Prompt != `\$ $` {
		t.Fatalf("prompt = %q", h.Prompt)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drover.json")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drover.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config accepted")
	}
}

func TestFindHost(t *testing.T) {
	cfg := model.Config{Hosts: []model.Host{{Name: "a"}, {Name: "b"}}}
	if h, ok := FindHost(cfg, "b"); !ok || h.Name != "b" {
		t.Fatalf("FindHost b = %+v, %v", h, ok)
	}
	if _, ok := FindHost(cfg, "zzz"); ok {
		t.Fatal("found a host that does not exist")
	}
}

func TestEffectiveDriver(t *testing.T) {
	cases := []struct {
		host model.Host
		want model.Driver
	}{
		{model.Host{Addr: "h.example.com"}, model.DriverSSH},
		{model.Host{Command: "telnet"}, model.DriverProc},
		{model.Host{}, model.DriverProc},
		{model.Host{Addr: "h.example.com", Driver: model.DriverProc}, model.DriverProc},
	}
	for _, c := range cases {
		if got := c.host.EffectiveDriver(); got != c.want {
			t.Fatalf("EffectiveDriver(%+v) = %v, want %v", c.host, got, c.want)
		}
	}
}
