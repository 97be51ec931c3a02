// Package paths resolves where fira keeps its configuration, its local
// store, its logs and its snapshot exports.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "fira"

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "FIRA_CONFIG_DIR"
	EnvDataDir   = "FIRA_DATA_DIR"
)

// Sub-directories of the data directory.
const (
	LogsDirName    = "logs"
	ExportsDirName = "exports"
	LogFileName    = "fira.log"
)

// platformDir holds platform lookups that tests override.
var platformDir = struct {
	goos          string
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	goos:          runtime.GOOS,
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the platform default configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/fira (fallback ~/.config/fira)
// macOS:   ~/Library/Application Support/fira
// Windows: %APPDATA%/fira
func DefaultConfigDir() (string, error) {
	if platformDir.goos == "linux" {
		return xdgDir("XDG_CONFIG_HOME", ".config")
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// DefaultDataDir returns the platform default data directory.
//
// Linux:   $XDG_DATA_HOME/fira (fallback ~/.local/share/fira)
// Others:  the configuration directory
func DefaultDataDir() (string, error) {
	if platformDir.goos == "linux" {
		return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	}
	return DefaultConfigDir()
}

func xdgDir(env, fallback string) (string, error) {
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, fallback, appName), nil
}

// ResolveConfigDir applies the precedence flag > FIRA_CONFIG_DIR > platform
// default. Overrides are made absolute.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir applies the precedence flag > config.yaml data_dir >
// FIRA_DATA_DIR > platform default. Overrides are made absolute.
func ResolveDataDir(flag, configValue string) (string, error) {
	for _, v := range []string{flag, configValue, os.Getenv(EnvDataDir)} {
		if v != "" {
			return filepath.Abs(v)
		}
	}
	return DefaultDataDir()
}

// LogFile returns the default rotating log file inside dataDir.
func LogFile(dataDir string) string {
	return filepath.Join(dataDir, LogsDirName, LogFileName)
}

// ExportDir returns the default snapshot export directory inside dataDir.
func ExportDir(dataDir string) string {
	return filepath.Join(dataDir, ExportsDirName)
}
