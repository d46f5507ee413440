// Package config loads and saves the host inventory under
// ~/.config/drover/drover.json.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/drover-sh/drover/internal/model"
)

const (
	ConfigDirName  = "drover"
	ConfigFileName = "drover.json"

	ConfigVersionCurrent = 1
)

func Default() model.Config {
	return model.Config{
		Version: ConfigVersionCurrent,
		Hosts: []model.Host{
			{
				Name:   "local",
				Driver: model.DriverProc,
			},
		},
	}
}

func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", ConfigDirName, ConfigFileName), nil
}

// Load reads the config at path, or the default location when path is
// empty. A missing file yields the default config, not an error.
func Load(path string) (model.Config, error) {
	var err error
	if path == "" {
		path, err = Path()
		if err != nil {
			return model.Config{}, err
		}
	}

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return model.Config{}, err
	}

	var cfg model.Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Version == 0 {
		cfg.Version = ConfigVersionCurrent
	}
	return cfg, nil
}

// Save writes cfg atomically (temp file + rename) at path, or the default
// location when path is empty.
func Save(path string, cfg model.Config) error {
	var err error
	if path == "" {
		path, err = Path()
		if err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// FindHost looks a host up by name.
func FindHost(cfg model.Config, name string) (model.Host, bool) {
	for _, h := range cfg.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return model.Host{}, false
}
