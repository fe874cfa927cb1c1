package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewPopulatesDefaultRepository(t *testing.T) {
	c := New()
	if len(c.Repositories) != 1 || c.Repositories[0].Name != "main" {
		t.Fatalf("expected a single default repository named main, got %+v", c.Repositories)
	}
	if c.InstallPrefix != "/usr/local" {
		t.Errorf("expected default install prefix /usr/local, got %q", c.InstallPrefix)
	}
}

func TestLoadFromFileOverridesOnlyPresentFields(t *testing.T) {
	c := New()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"ParallelJobs": 16}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := c.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if c.ParallelJobs != 16 {
		t.Errorf("expected ParallelJobs 16, got %d", c.ParallelJobs)
	}
	if c.InstallPrefix != "/usr/local" {
		t.Errorf("expected untouched fields to survive, got %q", c.InstallPrefix)
	}
}

func TestLoadFromFileMissingPathIsAnError(t *testing.T) {
	c := New()
	if err := c.LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestDerivedPathsNestUnderTheirParentDirectory(t *testing.T) {
	c := New()
	c.CacheDir = "/var/cache/tinypkg"
	c.LibDir = "/var/lib/tinypkg"

	if got := c.SourcesDir(); got != filepath.Join(c.CacheDir, "sources") {
		t.Errorf("unexpected SourcesDir: %q", got)
	}
	if got := c.BuildsDir(); got != filepath.Join(c.CacheDir, "builds") {
		t.Errorf("unexpected BuildsDir: %q", got)
	}
	if got := c.DatabasePath(); got != filepath.Join(c.LibDir, "installed.txt") {
		t.Errorf("unexpected DatabasePath: %q", got)
	}
}
