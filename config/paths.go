package config

import (
	"os"
	"path/filepath"
)

const AppName = "chatbridge"

// ConfigDirEnv overrides the configuration directory (used by tests and
// packaged builds that keep state next to the application).
const ConfigDirEnv = "CHATBRIDGE_CONFIG_DIR"

func GetConfigDir() (string, error) {
	configDir := os.Getenv(ConfigDirEnv)
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(homeDir, ".config", AppName)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}

	return configDir, nil
}

func GetSettingsFile() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "settings.yaml"), nil
}

func GetSocketPath() (string, error) {
	return filepath.Join(os.TempDir(), AppName+".sock"), nil
}

func GetPIDFile() (string, error) {
	return filepath.Join(os.TempDir(), AppName+".pid"), nil
}

func GetDatabasePath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, AppName+".db"), nil
}

func GetLogsDir() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}

	logsDir := filepath.Join(configDir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return "", err
	}

	return logsDir, nil
}

func GetDaemonLogPath() (string, error) {
	logsDir, err := GetLogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(logsDir, "daemon.log"), nil
}
