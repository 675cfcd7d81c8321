package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kevinzwang/termdeck/internal/logx"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from path, or DefaultConfigPath when path is
// empty. A missing file yields the defaults. TERMDECK_* environment
// variables override scalar keys, e.g. TERMDECK_PANEL_HEIGHT.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TERMDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("socket_path", cfg.SocketPath)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("theme", cfg.Theme)
	v.SetDefault("panel.height", cfg.Panel.Height)
	v.SetDefault("panel.cell_height_px", cfg.Panel.CellHeightPx)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("targets", cfg.Targets)

	configLoaded := false
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		configLoaded = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	if configLoaded {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	cfg.Targets = nil
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	expandConfigEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c Config) Validate() error {
	switch strings.ToLower(c.Theme) {
	case "dark", "light":
	default:
		return fmt.Errorf("unsupported theme %q; expected dark or light", c.Theme)
	}
	if c.SocketPath == "" {
		return errors.New("socket_path must not be empty")
	}
	if c.StateDir == "" {
		return errors.New("state_dir must not be empty")
	}
	if c.Panel.CellHeightPx <= 0 {
		return fmt.Errorf("panel.cell_height_px must be positive, got %d", c.Panel.CellHeightPx)
	}
	if _, err := logx.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if len(c.Targets) == 0 {
		return errors.New("at least one target is required")
	}
	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("targets[%d].name must not be empty", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate target name %q", t.Name)
		}
		seen[t.Name] = true
		if strings.TrimSpace(t.Command) == "" {
			return fmt.Errorf("target %q has no command", t.Name)
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	cfg.SocketPath = expandEnv(cfg.SocketPath)
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Logging.File = expandEnv(cfg.Logging.File)
	for i := range cfg.Targets {
		cfg.Targets[i].Command = expandEnv(cfg.Targets[i].Command)
		cfg.Targets[i].Dir = expandEnv(cfg.Targets[i].Dir)
	}
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	if value == "~" || strings.HasPrefix(value, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			value = filepath.Join(home, strings.TrimPrefix(value, "~"))
		}
	}
	return os.Expand(value, func(key string) string {
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

// WriteDefault writes the default config to path and returns the path
// written.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}
	data, err := Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return path, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}
