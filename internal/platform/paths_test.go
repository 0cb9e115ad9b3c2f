package platform

import (
	"errors"
	"path/filepath"
	"testing"
)

func envOf(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

// TestResolveOverrides covers per-OS env overrides and fallbacks.
func TestResolveOverrides(t *testing.T) {
	cases := []struct {
		name       string
		goos       string
		bases      Bases
		env        map[string]string
		wantConfig string
		wantDB     string
	}{
		{
			name:       "linux xdg",
			goos:       "linux",
			bases:      Bases{Config: "/fallback/config", Data: "/fallback/data"},
			env:        map[string]string{"XDG_CONFIG_HOME": "/xdg/config", "XDG_DATA_HOME": "/xdg/data"},
			wantConfig: filepath.Join("/xdg/config", "podtrack", "config.toml"),
			wantDB:     filepath.Join("/xdg/data", "podtrack", "podtrack.db"),
		},
		{
			name:       "linux without xdg",
			goos:       "linux",
			bases:      Bases{Config: "/home/me/.config", Data: "/home/me/.local/share"},
			wantConfig: filepath.Join("/home/me/.config", "podtrack", "config.toml"),
			wantDB:     filepath.Join("/home/me/.local/share", "podtrack", "podtrack.db"),
		},
		{
			name:       "windows appdata",
			goos:       "windows",
			bases:      Bases{Config: `C:\fallback\config`, Data: `C:\fallback\data`},
			env:        map[string]string{"APPDATA": `C:\Users\me\AppData\Roaming`, "LOCALAPPDATA": `C:\Users\me\AppData\Local`},
			wantConfig: filepath.Join(`C:\Users\me\AppData\Roaming`, "podtrack", "config.toml"),
			wantDB:     filepath.Join(`C:\Users\me\AppData\Local`, "podtrack", "podtrack.db"),
		},
		{
			name:       "darwin ignores xdg",
			goos:       "darwin",
			bases:      Bases{Config: "/Users/me/Library/Application Support", Data: "/Users/me/Library/Application Support"},
			env:        map[string]string{"XDG_CONFIG_HOME": "/ignored", "XDG_DATA_HOME": "/ignored"},
			wantConfig: filepath.Join("/Users/me/Library/Application Support", "podtrack", "config.toml"),
			wantDB:     filepath.Join("/Users/me/Library/Application Support", "podtrack", "podtrack.db"),
		},
		{
			name:       "unknown os",
			goos:       "freebsd",
			bases:      Bases{Config: "/cfg", Data: "/data"},
			wantConfig: filepath.Join("/cfg", "podtrack", "config.toml"),
			wantDB:     filepath.Join("/data", "podtrack", "podtrack.db"),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Resolve(tc.goos, tc.bases, Options{Getenv: envOf(tc.env)})
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if p.ConfigPath != tc.wantConfig {
				t.Fatalf("unexpected config path %q", p.ConfigPath)
			}
			if p.DBPath != tc.wantDB {
				t.Fatalf("unexpected db path %q", p.DBPath)
			}
			if p.DataDir != filepath.Dir(tc.wantDB) {
				t.Fatalf("unexpected data dir %q", p.DataDir)
			}
		})
	}
}

// TestResolveHomeOverride verifies one root holds config and data, even without OS bases.
func TestResolveHomeOverride(t *testing.T) {
	env := envOf(map[string]string{HomeEnv: "/srv/pod", "XDG_DATA_HOME": "/ignored"})
	p, err := Resolve("linux", Bases{}, Options{AppName: "yard", DevMode: true, Getenv: env})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	root := filepath.Join("/srv/pod", "yard-dev")
	if p.ConfigPath != filepath.Join(root, "config.toml") || p.DataDir != root || p.DBPath != filepath.Join(root, "yard-dev.db") {
		t.Fatalf("unexpected paths %#v", p)
	}
}

// TestResolveEmptyBasesFails verifies missing OS dirs are reported.
func TestResolveEmptyBasesFails(t *testing.T) {
	_, err := Resolve("darwin", Bases{Data: "/tmp/data"}, Options{Getenv: envOf(nil)})
	if !errors.Is(err, errNoBase) {
		t.Fatalf("expected errNoBase, got %v", err)
	}
}

// TestDefaultPathsSmoke verifies the running OS resolves non-empty paths.
func TestDefaultPathsSmoke(t *testing.T) {
	p, err := DefaultPaths()
	if err != nil {
		t.Fatalf("DefaultPaths() error = %v", err)
	}
	if p.ConfigPath == "" || p.DBPath == "" || p.DataDir == "" {
		t.Fatalf("expected non-empty paths, got %#v", p)
	}
}

// TestDefaultPathsWithOptionsDevMode verifies the dev suffix reaches both dirs.
func TestDefaultPathsWithOptionsDevMode(t *testing.T) {
	t.Setenv(HomeEnv, "")
	p, err := DefaultPathsWithOptions(Options{DevMode: true})
	if err != nil {
		t.Fatalf("DefaultPathsWithOptions() error = %v", err)
	}
	if filepath.Base(filepath.Dir(p.ConfigPath)) != "podtrack-dev" {
		t.Fatalf("expected dev config dir suffix, got %q", p.ConfigPath)
	}
	if filepath.Base(p.DBPath) != "podtrack-dev.db" {
		t.Fatalf("expected dev db name, got %q", p.DBPath)
	}
}
