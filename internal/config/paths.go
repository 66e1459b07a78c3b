package config

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.swapchat, or $SWAPCHAT_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("SWAPCHAT_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".swapchat")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// DBPath returns the message store path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "swapchat.db")
}

// SocketPath returns the gRPC unix socket path.
func (c *Config) SocketPath() string {
	if c.Socket != "" {
		return c.Socket
	}
	return filepath.Join(c.DataDir, "swapchatd.sock")
}

// LogDir returns the log directory.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.LogDir(), "swapchatd.log")
}

// EnsureDirs creates the data directory tree with proper permissions.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.DataDir, c.LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
