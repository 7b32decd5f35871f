package onboarding

import (
	"os"

	"chatbridge/config"
)

// IsFirstRun reports whether no settings file has been written yet.
func IsFirstRun() bool {
	path, err := config.GetSettingsFile()
	if err != nil {
		return true // If we can't get config dir, assume first run
	}
	_, err = os.Stat(path)
	return os.IsNotExist(err)
}
