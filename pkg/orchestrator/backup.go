package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tinypkg/tinypkg/pkg/procexec"
	"github.com/tinypkg/tinypkg/pkg/types"
)

// configBackup pairs a config file's live path with the temporary copy
// update() takes of it before remove()/install() touch the filesystem.
type configBackup struct {
	original string
	saved    string
}

// backupConfigs copies every file matching one of pkg's config_patterns
// glob patterns into a scratch directory, ahead of update()'s
// remove()+install() cycle.
func (o *Orchestrator) backupConfigs(pkg *types.PackageDefinition) ([]configBackup, error) {
	if len(pkg.ConfigPatterns) == 0 {
		return nil, nil
	}

	scratch := filepath.Join(o.cfg.CacheDir, "config-backup", pkg.Name)
	if err := os.RemoveAll(scratch); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, err
	}

	var backups []configBackup
	for _, pattern := range pkg.ConfigPatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			o.l.Warn("invalid config_patterns glob", "package", pkg.Name, "pattern", pattern, "error", err)
			continue
		}
		for i, path := range matches {
			saved := filepath.Join(scratch, fmt.Sprintf("%d-%s", i, filepath.Base(path)))
			if err := copyPlainFile(path, saved); err != nil {
				o.l.Warn("failed to back up config file", "path", path, "error", err)
				continue
			}
			backups = append(backups, configBackup{original: path, saved: saved})
		}
	}
	return backups, nil
}

// restoreConfigs copies every backed-up file back to its original
// location, best-effort: a failure restoring one file is logged and
// does not prevent the rest from being restored.
func (o *Orchestrator) restoreConfigs(backups []configBackup) {
	for _, b := range backups {
		if err := os.MkdirAll(filepath.Dir(b.original), 0o755); err != nil {
			o.l.Warn("failed to recreate config directory during restore", "path", b.original, "error", err)
			continue
		}
		if err := copyPlainFile(b.saved, b.original); err != nil {
			o.l.Warn("failed to restore config file", "path", b.original, "error", err)
		}
	}
}

func copyPlainFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// runPostInstall executes pkg.PostInstallCmd through the same
// shell-free argument-vector path every other external invocation
// uses; a non-zero exit is downgraded to a warning by the caller per
// spec.md §7.
func (o *Orchestrator) runPostInstall(bc *types.BuildContext, pkg *types.PackageDefinition) error {
	argv := splitArgs(pkg.PostInstallCmd)
	if len(argv) == 0 {
		return nil
	}

	timeout := time.Duration(o.cfg.BuildTimeout) * time.Second
	if timeout <= 0 {
		timeout = time.Hour
	}

	res, err := procexec.Run(context.Background(), argv, bc.SourceDir, timeout)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("post_install_cmd exited %d: %s", res.ExitCode, res.Output)
	}
	return nil
}

// splitArgs whitespace-tokenizes a catalog-declared command string,
// the same REDESIGN-note rule the Build Runner follows: no shell, no
// quoting, only field-splitting.
func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Fields(s)
}
