// Package config loads and saves the shell's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHistoryFile = ".fmgshell_history"
	DefaultDebugFile   = "fmgshell.debug"
	DefaultPort        = 443
)

// Profile holds login defaults for one appliance.
type Profile struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username,omitempty"`
	Proto    string `yaml:"proto,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty"`
}

// Config is the contents of config.yaml.
type Config struct {
	DefaultProfile string             `yaml:"default_profile,omitempty"`
	Profiles       map[string]Profile `yaml:"profiles,omitempty"`

	// HistoryFile is the readline history file. Relative paths are taken
	// from the working directory.
	HistoryFile string `yaml:"history_file,omitempty"`

	// Catalogue replaces the built-in path catalogue when set.
	Catalogue string `yaml:"catalogue,omitempty"`

	DebugFile string `yaml:"debug_file,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Profiles:    make(map[string]Profile),
		HistoryFile: DefaultHistoryFile,
		DebugFile:   DefaultDebugFile,
	}
}

// DefaultPath returns ~/.fmgshell/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".fmgshell", "config.yaml"), nil
}

// Load reads the file at path. A missing file yields Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}
	if cfg.HistoryFile == "" {
		cfg.HistoryFile = DefaultHistoryFile
	}
	if cfg.DebugFile == "" {
		cfg.DebugFile = DefaultDebugFile
	}
	for name, p := range cfg.Profiles {
		if p.Host == "" {
			return nil, fmt.Errorf("profile %q: host is required", name)
		}
	}
	if cfg.DefaultProfile != "" {
		if _, ok := cfg.Profiles[cfg.DefaultProfile]; !ok {
			return nil, fmt.Errorf("default_profile %q is not defined", cfg.DefaultProfile)
		}
	}
	return cfg, nil
}

// Save writes the configuration to path via a temp file and rename.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("config write mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-config-*")
	if err != nil {
		return fmt.Errorf("config write tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config write close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config write rename: %w", err)
	}
	return nil
}

// Profile returns the named profile, or the default profile when name is
// empty. Port falls back to DefaultPort.
func (c *Config) Profile(name string) (Profile, bool) {
	if name == "" {
		name = c.DefaultProfile
	}
	if name == "" {
		return Profile{}, false
	}
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, false
	}
	if p.Port == 0 {
		p.Port = DefaultPort
	}
	return p, true
}

// SetProfile adds or replaces a profile.
func (c *Config) SetProfile(name string, p Profile) {
	if c.Profiles == nil {
		c.Profiles = make(map[string]Profile)
	}
	c.Profiles[name] = p
}

// ProfileNames lists the profile names in sorted order.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
