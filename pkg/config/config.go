// Package config loads the tinypkg configuration record. Parsing a
// user-supplied config file is nominally an external collaborator's
// job (spec.md §1), but a minimal, teacher-shaped loader is included
// so the rest of the core has something concrete to run against.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/tinypkg/tinypkg/pkg/types"
)

// New returns a Config populated with the defaults from spec.md §6,
// following the teacher's NewConfig() pattern of returning a fully
// initialized structure that LoadFromFile can then override.
func New() *Config {
	root := "/"
	return &Config{
		RootDir:   root,
		ConfigDir: filepath.Join(root, "etc", "tinypkg"),
		CacheDir:  filepath.Join(root, "var", "cache", "tinypkg"),
		LibDir:    filepath.Join(root, "var", "lib", "tinypkg"),
		LogDir:    filepath.Join(root, "var", "log", "tinypkg"),

		InstallPrefix: "/usr/local",
		ParallelJobs:  4,
		BuildTimeout:  3600,
		DebugSymbols:  false,
		KeepBuildDir:  false,

		ForceMode:        false,
		AssumeYes:        false,
		SkipDependencies: false,
		VerifyChecksums:  true,

		SyncInterval: 86400,

		Repositories: []types.Repository{
			{
				Name:     "main",
				Priority: 100,
				Enabled:  true,
			},
		},
	}
}

// NewUserScoped returns defaults rooted under the caller's XDG data
// and cache directories, for the case where tinypkg runs without root
// privilege (e.g. tests, or a per-user package prefix).
func NewUserScoped() *Config {
	c := New()
	c.RootDir = xdg.Home
	c.ConfigDir = filepath.Join(xdg.ConfigHome, "tinypkg")
	c.CacheDir = filepath.Join(xdg.CacheHome, "tinypkg")
	c.LibDir = filepath.Join(xdg.DataHome, "tinypkg")
	c.LogDir = filepath.Join(xdg.StateHome, "tinypkg", "log")
	c.InstallPrefix = filepath.Join(xdg.Home, ".local")
	return c
}

// LoadFromFile decodes a JSON document over the receiver, overriding
// only the fields present in the file.
func (c *Config) LoadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	return dec.Decode(c)
}

// SourcesDir is where downloaded source archives are cached.
func (c *Config) SourcesDir() string {
	return filepath.Join(c.CacheDir, "sources")
}

// BuildsDir is the parent of all per-install BuildContext workspaces.
func (c *Config) BuildsDir() string {
	return filepath.Join(c.CacheDir, "builds")
}

// RepoDir is the Catalog Store's mirror directory.
func (c *Config) RepoDir() string {
	return filepath.Join(c.LibDir, "repo")
}

// DatabasePath is the Installed-Packages Database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.LibDir, "installed.txt")
}

// LockPath is the orchestrator's advisory lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.LibDir, "tinypkg.lock")
}
