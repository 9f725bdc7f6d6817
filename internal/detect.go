package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DataPaths holds the locations of the client's local state
type DataPaths struct {
	BasePath     string // per-user application directory
	ConfigPath   string // config.yaml
	DatabasePath string // state.db (key-value store)
	ExportPath   string // default directory for exports
}

// DetectDataPaths resolves the data directory based on the operating system
func DetectDataPaths() (DataPaths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return DataPaths{}, fmt.Errorf("failed to get home directory: %w", err)
	}

	var basePath string
	switch runtime.GOOS {
	case "darwin":
		basePath = filepath.Join(home, "Library/Application Support/opencode-sync")
	case "linux":
		// Priority: $XDG_CONFIG_HOME, then ~/.config
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			basePath = filepath.Join(xdg, "opencode-sync")
		} else {
			basePath = filepath.Join(home, ".config/opencode-sync")
		}
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			basePath = filepath.Join(appData, "opencode-sync")
		} else {
			basePath = filepath.Join(home, "AppData/Roaming/opencode-sync")
		}
	default:
		return DataPaths{}, fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}

	return PathsAt(basePath), nil
}

// PathsAt lays out DataPaths under an explicit base directory
func PathsAt(basePath string) DataPaths {
	return DataPaths{
		BasePath:     basePath,
		ConfigPath:   filepath.Join(basePath, "config.yaml"),
		DatabasePath: filepath.Join(basePath, "state.db"),
		ExportPath:   filepath.Join(basePath, "exports"),
	}
}

// ConfigExists checks if the config file exists
func (dp DataPaths) ConfigExists() bool {
	_, err := os.Stat(dp.ConfigPath)
	return err == nil
}

// DatabaseExists checks if the state database exists
func (dp DataPaths) DatabaseExists() bool {
	_, err := os.Stat(dp.DatabasePath)
	return err == nil
}
