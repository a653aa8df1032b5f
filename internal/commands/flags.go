package commands

import (
	"lazymic/internal/bootstrap"
	"lazymic/internal/config"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
}

// Runtime is populated by the root Before hook and shared by every command.
type Runtime struct {
	Services bootstrap.Services
	Console  *Console
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	return config.DefaultConfigPath()
}
