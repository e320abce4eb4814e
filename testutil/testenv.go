// Package testutil provides shared helpers for E2E tests: an isolated
// environment and an in-memory replica catalog. It depends only on stdlib
// so that E2E tests (which cannot import internal/) can use it.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// Env is an isolated set of directories for one test binary run.
type Env struct {
	Root       string
	Home       string
	ConfigHome string
	DataHome   string
}

// ConfigPath is the default config file location inside the environment.
func (e Env) ConfigPath() string {
	return filepath.Join(e.ConfigHome, "replicad", "config.toml")
}

// HistoryPath is the default history database inside the environment.
func (e Env) HistoryPath() string {
	return filepath.Join(e.DataHome, "replicad", "history.db")
}

// Isolate points HOME and the XDG directories at fresh temp directories
// and clears every REPLICAD_* variable, so no test reads or writes the
// user's real config or history. Crashes on failure.
func Isolate(prefix string) (Env, func()) {
	root, err := os.MkdirTemp("", prefix)
	if err != nil {
		fatalf("creating isolation temp dir: %v", err)
	}

	env := Env{
		Root:       root,
		Home:       filepath.Join(root, "home"),
		ConfigHome: filepath.Join(root, "config"),
		DataHome:   filepath.Join(root, "data"),
	}

	for _, d := range []string{env.Home, env.ConfigHome, env.DataHome} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			fatalf("creating dir %s: %v", d, err)
		}
	}

	for _, key := range []string{"REPLICAD_CONFIG", "REPLICAD_CATALOG_URL", "REPLICAD_HISTORY_DB"} {
		os.Unsetenv(key)
	}

	os.Setenv("HOME", env.Home)
	os.Setenv("XDG_CONFIG_HOME", env.ConfigHome)
	os.Setenv("XDG_DATA_HOME", env.DataHome)

	return env, func() { os.RemoveAll(root) }
}

// WriteConfig writes body as the config file at path, creating parents.
func WriteConfig(path, body string) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		fatalf("creating config dir: %v", err)
	}

	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		fatalf("writing %s: %v", path, err)
	}
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
	os.Exit(1)
}
