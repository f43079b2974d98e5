package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/atkit-dev/atkit/syntax"
)

// config is the optional ~/.config/atkit/config.yaml.
type config struct {
	PDS string `yaml:"pds"`
}

// storedSession is the persisted login state. The file carries raw
// token material, so it is written with owner-only permissions.
type storedSession struct {
	DID          string `json:"did"`
	PDS          string `json:"pds"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (s storedSession) did() (syntax.DID, error) {
	return syntax.ParseDID(s.DID)
}

func configDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(base, "atkit"), nil
}

func loadConfig() (config, error) {
	dir, err := configDir()
	if err != nil {
		return config{}, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return config{}, nil
		}
		return config{}, err
	}
	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return config{}, fmt.Errorf("parse config.yaml: %w", err)
	}
	return cfg, nil
}

func sessionPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

func loadSession() (storedSession, error) {
	path, err := sessionPath()
	if err != nil {
		return storedSession{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return storedSession{}, err
	}
	var sess storedSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return storedSession{}, fmt.Errorf("parse session file: %w", err)
	}
	return sess, nil
}

// saveSession writes the session file with mode 0600; it holds bearer
// tokens.
func saveSession(sess storedSession) error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func clearSession() error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
