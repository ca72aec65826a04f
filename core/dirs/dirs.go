// Package dirs provides platform-native directory resolution with XDG
// support. Each brain persists as one SQLite file under the data
// directory.
package dirs

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Dirs holds the per-user base directories the engine writes under.
type Dirs struct {
	Config string // engine configuration
	Data   string // brain databases
	Cache  string // regenerable indexes
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
	globalDirsErr  error
)

// Resolve returns platform-appropriate directories. Results are cached
// after the first call.
func Resolve() (*Dirs, error) {
	globalDirsOnce.Do(func() {
		globalDirs, globalDirsErr = resolveImpl()
	})
	return globalDirs, globalDirsErr
}

func resolveImpl() (*Dirs, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Dirs{
		Config: resolveDir("XDG_CONFIG_HOME", filepath.Join(home, ".config")),
		Data:   resolveDir("XDG_DATA_HOME", filepath.Join(home, ".local", "share")),
		Cache:  resolveDir("XDG_CACHE_HOME", filepath.Join(home, ".cache")),
	}, nil
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, "neuralmem")
	}
	return filepath.Join(fallback, "neuralmem")
}

// BrainPath returns the database file path for a brain under the given
// base directory, rejecting ids that would escape it.
func BrainPath(base, brainID string) (string, error) {
	if brainID == "" || strings.ContainsAny(brainID, `/\`) || strings.Contains(brainID, "..") {
		return "", &PathNotAllowedError{Path: brainID}
	}
	return filepath.Join(base, "brains", brainID+".db"), nil
}

// EnsureDir creates a directory with standard permissions if missing.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// PathNotAllowedError indicates a path operation was rejected.
type PathNotAllowedError struct {
	Path string
}

func (e *PathNotAllowedError) Error() string {
	return "path not allowed: " + e.Path
}
