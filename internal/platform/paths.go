package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// HomeEnv names a single root that holds both the config file and the database.
const HomeEnv = "PODTRACK_HOME"

const defaultAppName = "podtrack"

// Paths is where one podtrack install keeps its config file and database.
// Media and log directories hang off these and are owned by config.
type Paths struct {
	ConfigPath string
	DataDir    string
	DBPath     string
}

// Options selects the app name, dev suffix, and environment for resolution.
type Options struct {
	AppName string
	DevMode bool
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Bases are the per-user directories the OS reports before any overrides.
type Bases struct {
	Config string
	Data   string
}

var errNoBase = errors.New("empty base dirs")

// DefaultPaths resolves paths for the production app name.
func DefaultPaths() (Paths, error) {
	return DefaultPathsWithOptions(Options{})
}

// DefaultPathsWithOptions resolves paths against the running OS.
func DefaultPathsWithOptions(opts Options) (Paths, error) {
	bases, err := osBases()
	if err != nil {
		return Paths{}, err
	}
	return Resolve(runtime.GOOS, bases, opts)
}

func osBases() (Bases, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return Bases{}, fmt.Errorf("user config dir: %w", err)
	}
	bases := Bases{Config: configDir, Data: configDir}
	switch runtime.GOOS {
	case "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			return Bases{}, fmt.Errorf("user home dir: %w", err)
		}
		bases.Data = filepath.Join(home, ".local", "share")
	case "windows":
		if v := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); v != "" {
			bases.Data = v
		}
	}
	return bases, nil
}

// Resolve applies HomeEnv and the per-OS overrides to bases.
// HomeEnv wins over every other variable and puts config and data side by side.
func Resolve(goos string, bases Bases, opts Options) (Paths, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	app := strings.TrimSpace(opts.AppName)
	if app == "" {
		app = defaultAppName
	}
	if opts.DevMode {
		app += "-dev"
	}

	if home := strings.TrimSpace(getenv(HomeEnv)); home != "" {
		root := filepath.Join(home, app)
		return layout(root, root, app), nil
	}
	if bases.Config == "" || bases.Data == "" {
		return Paths{}, errNoBase
	}

	configVar, dataVar := overrideVars(goos)
	configBase, dataBase := bases.Config, bases.Data
	if v := getenv(configVar); configVar != "" && v != "" {
		configBase = v
	}
	if v := getenv(dataVar); dataVar != "" && v != "" {
		dataBase = v
	}
	return layout(filepath.Join(configBase, app), filepath.Join(dataBase, app), app), nil
}

// overrideVars names the env vars that relocate config and data on goos.
// macOS and unknown platforms keep the OS defaults.
func overrideVars(goos string) (string, string) {
	switch goos {
	case "linux":
		return "XDG_CONFIG_HOME", "XDG_DATA_HOME"
	case "windows":
		return "APPDATA", "LOCALAPPDATA"
	default:
		return "", ""
	}
}

func layout(configDir, dataDir, app string) Paths {
	return Paths{
		ConfigPath: filepath.Join(configDir, "config.toml"),
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, app+".db"),
	}
}
