package agent

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.crewsnap.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".crewsnap")
}

// Dir returns the agent-specific data directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "agents", name)
}

// SocketPath returns the UDS socket path the daemon control API listens on.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// LockPath returns the lock file path for an agent.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the photo queue database path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "queue.db")
}

// LogDir returns the log directory for an agent.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "crewsnapd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the agent directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
