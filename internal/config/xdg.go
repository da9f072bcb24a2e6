// Package config provides configuration management for icovault, backed by Viper.
package config

import (
	"os"
	"path/filepath"
)

const (
	appName             = "icovault"
	defaultDatabaseName = "icovault.sqlite"
)

// XDGDirs holds the XDG Base Directory paths for the application.
type XDGDirs struct {
	ConfigHome string
	DataHome   string
}

// GetXDGDirs returns the XDG Base Directory paths for icovault.
func GetXDGDirs() (*XDGDirs, error) {
	if dev := os.Getenv("ICOVAULT_DEV_DIR"); dev != "" {
		return &XDGDirs{ConfigHome: dev, DataHome: dev}, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(homeDir, ".config")
	}
	configHome = filepath.Join(configHome, appName)

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = filepath.Join(homeDir, ".local", "share")
	}
	dataHome = filepath.Join(dataHome, appName)

	return &XDGDirs{ConfigHome: configHome, DataHome: dataHome}, nil
}

// DefaultDatabasePath returns the default path to the favicon database file,
// under the XDG data directory.
func DefaultDatabasePath() (string, error) {
	dirs, err := GetXDGDirs()
	if err != nil {
		return "", err
	}
	return filepath.Join(dirs.DataHome, defaultDatabaseName), nil
}

// EnsureDirectories creates the XDG directories if they don't exist.
func EnsureDirectories() error {
	const dirPerm = 0o750

	dirs, err := GetXDGDirs()
	if err != nil {
		return err
	}

	for _, dir := range []string{dirs.ConfigHome, dirs.DataHome} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return err
		}
	}
	return nil
}
