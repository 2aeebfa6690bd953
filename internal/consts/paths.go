package consts

import (
	"os"
	"path/filepath"
)

const (
	HomeDirName      = ".taskpilot"
	ConfigFileName   = "config.yaml"
	EnvFileName      = ".env"
	DatabaseFileName = "taskpilot.db"
	LogsDirName      = "logs"
)

// HomeDir returns ~/.taskpilot, or TASKPILOT_HOME when set.
func HomeDir() string {
	if dir := os.Getenv("TASKPILOT_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, HomeDirName)
}

func DefaultConfigPath() string {
	return filepath.Join(HomeDir(), ConfigFileName)
}

func DefaultDatabasePath() string {
	return filepath.Join(HomeDir(), DatabaseFileName)
}

func DefaultLogFile() string {
	return filepath.Join(HomeDir(), LogsDirName, "taskpilot.log")
}
