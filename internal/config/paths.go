package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// LogDirectory returns the directory jobshell writes its log file to when
// one is requested without an explicit path.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\jobshell\logs
//   - Unix: $XDG_CONFIG_HOME/jobshell/logs (usually ~/.config/jobshell/logs)
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "jobshell-logs")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, "jobshell", "logs")
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "jobshell-logs")
		}
		return filepath.Join(homeDir, ".config", "jobshell", "logs")
	}
	return filepath.Join(configDir, "jobshell", "logs")
}

// DefaultLogFile is the log file path suggested by "config init".
func DefaultLogFile() string {
	return filepath.Join(LogDirectory(), "jobshell.log")
}
