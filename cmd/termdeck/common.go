package main

import (
	"github.com/kevinzwang/termdeck/internal/config"
)

func loadConfig(flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if flags.socketPath != "" {
		cfg.SocketPath = flags.socketPath
	}
	return cfg, nil
}
