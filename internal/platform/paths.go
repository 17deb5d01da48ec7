package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultAppName names the per-user trackflow directories and files.
const DefaultAppName = "trackflow"

// HomeEnv, when set, roots both the config and data directories of an install.
const HomeEnv = "TRACKFLOW_HOME"

// Paths is where one trackflow install keeps its files: config.toml under
// ConfigPath, the sqlite board database at DBPath inside DataDir, and the
// dev-mode log file at LogPath.
type Paths struct {
	ConfigPath string
	DataDir    string
	DBPath     string
	LogPath    string
}

// Options selects the install. AppName defaults to DefaultAppName; DevMode
// appends "-dev" so a development build never opens the real board database.
type Options struct {
	AppName string
	DevMode bool
}

// DefaultPaths resolves the paths of the regular trackflow install.
func DefaultPaths() (Paths, error) {
	return DefaultPathsWithOptions(Options{})
}

// DefaultPathsWithOptions resolves install paths from the current user's
// config and data directories, honoring TRACKFLOW_HOME and the XDG or
// AppData variables of the host platform.
func DefaultPathsWithOptions(opts Options) (Paths, error) {
	name := strings.TrimSpace(opts.AppName)
	if name == "" {
		name = DefaultAppName
	}
	if opts.DevMode {
		name += "-dev"
	}

	if home := strings.TrimSpace(os.Getenv(HomeEnv)); home != "" {
		return layout(filepath.Join(home, "config"), filepath.Join(home, "data"), name), nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("user config dir: %w", err)
	}
	dataDir, err := userDataDir(configDir)
	if err != nil {
		return Paths{}, err
	}

	env := map[string]string{}
	for _, key := range []string{"XDG_CONFIG_HOME", "XDG_DATA_HOME", "APPDATA", "LOCALAPPDATA"} {
		env[key] = os.Getenv(key)
	}
	return PathsFor(runtime.GOOS, env, configDir, dataDir, name)
}

// userDataDir picks the base for the board database. Linux keeps data out of
// ~/.config; Windows prefers the machine-local profile.
func userDataDir(configDir string) (string, error) {
	switch runtime.GOOS {
	case "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("user home dir: %w", err)
		}
		return filepath.Join(home, ".local", "share"), nil
	case "windows":
		if v := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); v != "" {
			return v, nil
		}
	}
	return configDir, nil
}

// PathsFor computes install paths for goos without touching the host. env
// carries the platform variables that override the user base directories.
func PathsFor(goos string, env map[string]string, userConfigDir, userDataDir, appName string) (Paths, error) {
	if userConfigDir == "" || userDataDir == "" {
		return Paths{}, errors.New("empty base dirs")
	}
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return Paths{}, errors.New("empty app name")
	}

	configKey, dataKey := "", ""
	switch goos {
	case "linux":
		configKey, dataKey = "XDG_CONFIG_HOME", "XDG_DATA_HOME"
	case "windows":
		configKey, dataKey = "APPDATA", "LOCALAPPDATA"
	}
	if v := env[configKey]; configKey != "" && v != "" {
		userConfigDir = v
	}
	if v := env[dataKey]; dataKey != "" && v != "" {
		userDataDir = v
	}
	return layout(userConfigDir, userDataDir, appName), nil
}

func layout(configBase, dataBase, appName string) Paths {
	dataDir := filepath.Join(dataBase, appName)
	return Paths{
		ConfigPath: filepath.Join(configBase, appName, "config.toml"),
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, appName+".db"),
		LogPath:    filepath.Join(dataDir, "logs", appName+".log"),
	}
}
