// Package config loads termdeck's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kevinzwang/termdeck/internal/ptyhost"
)

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int            `mapstructure:"config_version" yaml:"config_version"`
	SocketPath    string         `mapstructure:"socket_path" yaml:"socket_path"`
	StateDir      string         `mapstructure:"state_dir" yaml:"state_dir"`
	Theme         string         `mapstructure:"theme" yaml:"theme"`
	Panel         PanelConfig    `mapstructure:"panel" yaml:"panel"`
	Logging       LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Targets       []TargetConfig `mapstructure:"targets" yaml:"targets"`
}

// PanelConfig sizes the terminal panel. Height is in pixels, converted to
// rows with CellHeightPx.
type PanelConfig struct {
	Height       int `mapstructure:"height" yaml:"height"`
	CellHeightPx int `mapstructure:"cell_height_px" yaml:"cell_height_px"`
}

type LoggingConfig struct {
	File  string `mapstructure:"file" yaml:"file"`
	Level string `mapstructure:"level" yaml:"level"`
}

// TargetConfig describes one place a shell can be started.
type TargetConfig struct {
	Name    string            `mapstructure:"name" yaml:"name"`
	Command string            `mapstructure:"command" yaml:"command"`
	Args    []string          `mapstructure:"args" yaml:"args,omitempty"`
	Dir     string            `mapstructure:"dir" yaml:"dir,omitempty"`
	Env     map[string]string `mapstructure:"env" yaml:"env,omitempty"`
}

// EnvList renders Env as sorted KEY=VALUE pairs.
func (t TargetConfig) EnvList() []string {
	if len(t.Env) == 0 {
		return nil
	}
	env := make([]string, 0, len(t.Env))
	for k, v := range t.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	stateDir := filepath.Join(home, ".termdeck")

	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = os.TempDir()
	}

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}

	return Config{
		ConfigVersion: CurrentConfigVersion,
		SocketPath:    filepath.Join(runtimeDir, fmt.Sprintf("termdeck-%d.sock", os.Getuid())),
		StateDir:      stateDir,
		Theme:         "dark",
		Panel: PanelConfig{
			Height:       300,
			CellHeightPx: 16,
		},
		Logging: LoggingConfig{
			File:  filepath.Join(stateDir, "termdeck.log"),
			Level: "info",
		},
		Targets: []TargetConfig{
			{Name: "shell", Command: shell, Args: []string{"-l"}},
		},
	}, nil
}

// DefaultConfigPath is where Load looks when no path is given.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".termdeck", "config.yaml"), nil
}

// DatabasePath is the SQLite file holding the saved tab layout.
func (c Config) DatabasePath() string {
	return filepath.Join(c.StateDir, "termdeck.db")
}

// Target returns the target with the given name.
func (c Config) Target(name string) (TargetConfig, bool) {
	for _, t := range c.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return TargetConfig{}, false
}

// Specs converts the configured targets for the session host.
func (c Config) Specs() []ptyhost.Spec {
	specs := make([]ptyhost.Spec, 0, len(c.Targets))
	for _, t := range c.Targets {
		specs = append(specs, ptyhost.Spec{
			Name:    t.Name,
			Command: t.Command,
			Args:    t.Args,
			Dir:     t.Dir,
			Env:     t.EnvList(),
		})
	}
	return specs
}
