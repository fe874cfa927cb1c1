// Package orchestrator is the Lifecycle Orchestrator (spec.md §4.9):
// the single component that wires Catalog, Loader, Resolver, Build
// Runner, and Database together into install/remove/update/update_all,
// and the only component that writes to the Database's state field on
// failure. Grounded in the teacher's pkg/scheduler.Scheduler for the
// single-threaded, lock-guarded lifecycle-driver shape, generalized
// from job dispatch to a package install/remove/update lifecycle.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/tinypkg/tinypkg/pkg/config"
	"github.com/tinypkg/tinypkg/pkg/db"
	"github.com/tinypkg/tinypkg/pkg/resolver"
	"github.com/tinypkg/tinypkg/pkg/tperrors"
	"github.com/tinypkg/tinypkg/pkg/types"
)

// UpdateAllReport tallies update_all()'s outcome, spec.md §4.9.
type UpdateAllReport struct {
	Updated int
	Skipped int
	Failed  []string
}

// repoLocator is the slice of the Catalog Store the Orchestrator
// needs: finding which repository mirror carries a package. Satisfied
// by *catalog.Store; a seam so tests can fake catalog lookups without
// a real git checkout.
type repoLocator interface {
	Locate(name string) (*types.Repository, error)
}

// packageLoader is the slice of the Package Definition Loader the
// Orchestrator needs. Satisfied by *loader.Loader.
type packageLoader interface {
	Load(repoLocalPath, name string) (*types.PackageDefinition, error)
}

// buildDriver is the slice of the Build Runner the Orchestrator
// drives. Satisfied by *buildrunner.Runner; a seam so tests can fake
// builds without invoking real external tools.
type buildDriver interface {
	Build(ctx context.Context, bc *types.BuildContext) error
	Install(ctx context.Context, bc *types.BuildContext) error
	Cleanup(bc *types.BuildContext) error
}

// Orchestrator wires the core components together and owns the
// advisory single-instance lock and signal-driven cancellation flag.
type Orchestrator struct {
	l hclog.Logger

	cfg *config.Config

	db      *db.DB
	catalog repoLocator
	loader  packageLoader
	runner  buildDriver

	lock *flock.Flock

	cancelled atomic.Bool
	stopSig   chan os.Signal
}

// New constructs an Orchestrator from its collaborators. Call Start
// before any lifecycle operation and Stop when done.
func New(l hclog.Logger, cfg *config.Config, database *db.DB, cat repoLocator, ld packageLoader, runner buildDriver) *Orchestrator {
	return &Orchestrator{
		l:       l.Named("orchestrator"),
		cfg:     cfg,
		db:      database,
		catalog: cat,
		loader:  ld,
		runner:  runner,
		lock:    flock.New(cfg.LockPath()),
	}
}

// Start takes the advisory lock (spec.md §5's "Shared resources") and
// installs the interrupt/terminate signal handler. Acquisition failure
// is a *tperrors.LockedError: another instance is already running.
func (o *Orchestrator) Start() error {
	if err := os.MkdirAll(filepath.Dir(o.cfg.LockPath()), 0o755); err != nil {
		return &tperrors.IOError{Op: "mkdir lock dir", Err: err}
	}

	locked, err := o.lock.TryLock()
	if err != nil {
		return &tperrors.IOError{Op: "acquire lock", Err: err}
	}
	if !locked {
		return &tperrors.LockedError{Path: o.cfg.LockPath()}
	}

	o.stopSig = make(chan os.Signal, 1)
	signal.Notify(o.stopSig, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-o.stopSig; ok {
			o.l.Warn("interrupt received, cancelling after the current phase")
			o.cancelled.Store(true)
		}
	}()

	return nil
}

// Stop releases the lock and signal handler. Safe to call once, after
// every lifecycle operation the caller intends to perform has
// returned.
func (o *Orchestrator) Stop() error {
	if o.stopSig != nil {
		signal.Stop(o.stopSig)
		close(o.stopSig)
	}
	return o.lock.Unlock()
}

// Cancelled reports whether an interrupt/terminate signal has been
// observed. The CLI entrypoint uses this to choose exit status 130.
func (o *Orchestrator) Cancelled() bool {
	return o.cancelled.Load()
}

func (o *Orchestrator) checkCancelled(name string) error {
	if o.cancelled.Load() {
		return &tperrors.CancelledError{Name: name}
	}
	return nil
}

// lookup adapts the Catalog+Loader pair into a resolver.Lookup.
func (o *Orchestrator) lookup(name string) (*types.PackageDefinition, error) {
	repo, err := o.catalog.Locate(name)
	if err != nil {
		return nil, err
	}
	return o.loader.Load(repo.LocalPath, name)
}

// setState upserts a provisional row (spec.md's install() step 3 sets
// a state before the full entry exists at step 7) or updates an
// existing one.
func (o *Orchestrator) setState(pkg *types.PackageDefinition, s types.State) error {
	if _, ok, err := o.db.Find(pkg.Name); err == nil && ok {
		return o.db.SetState(pkg.Name, s)
	}
	return o.db.Add(types.InstalledEntry{
		Name:        pkg.Name,
		Version:     pkg.Version,
		Description: pkg.Description,
		State:       s,
	})
}

func (o *Orchestrator) fail(pkg *types.PackageDefinition, bc *types.BuildContext) {
	if err := o.db.SetState(pkg.Name, types.StateFailed); err != nil {
		o.l.Warn("failed to record failed state", "package", pkg.Name, "error", err)
	}
	if bc != nil {
		if err := o.runner.Cleanup(bc); err != nil {
			o.l.Warn("cleanup after failed build did not fully succeed", "package", pkg.Name, "error", err)
		}
	}
}

// Install implements spec.md §4.9's install(name).
func (o *Orchestrator) Install(name string) error {
	if err := o.checkCancelled(name); err != nil {
		return err
	}

	if _, ok, err := o.db.Find(name); err != nil {
		return err
	} else if ok && !o.cfg.ForceMode {
		o.l.Debug("already present in the database, skipping", "package", name)
		return nil
	}

	pkg, err := o.lookup(name)
	if err != nil {
		return err
	}

	if err := o.checkConflicts(pkg); err != nil {
		return err
	}

	// Resolve before any Database write: a Cycle (or any other
	// resolution failure) must be reported with the Database left
	// exactly as it was, per spec.md's install() error table.
	var order []string
	if !o.cfg.SkipDependencies {
		order, err = resolver.Resolve(name, o.lookup)
		if err != nil {
			return err
		}
	}

	if err := o.setState(pkg, types.StateDownloading); err != nil {
		return err
	}

	if !o.cfg.SkipDependencies {
		for _, dep := range order[:len(order)-1] {
			if err := o.checkCancelled(name); err != nil {
				o.fail(pkg, nil)
				return err
			}
			if depEntry, ok, err := o.db.Find(dep); err == nil && ok && depEntry.State == types.StateInstalled {
				continue
			}
			if err := o.Install(dep); err != nil {
				o.fail(pkg, nil)
				return err
			}
		}
	}

	buildDir := filepath.Join(o.cfg.BuildsDir(), fmt.Sprintf("%s-%s-%s", pkg.Name, pkg.Version, uuid.NewString()))
	bc := types.NewBuildContext(pkg, buildDir)

	if err := o.setState(pkg, types.StateBuilding); err != nil {
		return err
	}
	if err := o.checkCancelled(name); err != nil {
		o.fail(pkg, bc)
		return err
	}
	if err := o.runner.Build(context.Background(), bc); err != nil {
		o.fail(pkg, bc)
		return err
	}

	if err := o.checkCancelled(name); err != nil {
		o.fail(pkg, bc)
		return err
	}
	if err := o.setState(pkg, types.StateInstalling); err != nil {
		return err
	}
	if err := o.runner.Install(context.Background(), bc); err != nil {
		o.fail(pkg, bc)
		return err
	}

	entry := types.InstalledEntry{
		Name:          pkg.Name,
		Version:       pkg.Version,
		Description:   pkg.Description,
		InstalledAt:   time.Now(),
		InstalledSize: installedSize(bc.InstallDir, bc.FileList),
		State:         types.StateInstalled,
		FileList:      bc.FileList,
	}
	if err := o.db.Add(entry); err != nil {
		return err
	}

	if err := o.runner.Cleanup(bc); err != nil {
		o.l.Warn("build workspace cleanup failed", "package", pkg.Name, "error", err)
	}

	if pkg.PostInstallCmd != "" {
		if err := o.runPostInstall(bc, pkg); err != nil {
			o.l.Warn("post_install_cmd failed", "package", pkg.Name, "error", err)
		}
	}

	return nil
}

func (o *Orchestrator) checkConflicts(pkg *types.PackageDefinition) error {
	for _, c := range pkg.Conflicts {
		entry, ok, err := o.db.Find(c)
		if err != nil {
			return err
		}
		if ok && entry.State == types.StateInstalled {
			return &tperrors.ConflictError{Name: pkg.Name, Conflict: c}
		}
	}
	return nil
}

func installedSize(installDir string, fileList []string) int64 {
	var total int64
	for _, rel := range fileList {
		info, err := os.Stat(filepath.Join(installDir, rel))
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total
}

// Remove implements spec.md §4.9's remove(name).
func (o *Orchestrator) Remove(name string) error {
	entry, ok, err := o.db.Find(name)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if !o.cfg.ForceMode {
		dependents, err := o.installedDependents(name)
		if err != nil {
			return err
		}
		if len(dependents) > 0 {
			return &tperrors.DependencyError{Name: name, Dependents: dependents}
		}
	}

	for i := len(entry.FileList) - 1; i >= 0; i-- {
		path := filepath.Join("/", entry.FileList[i])
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			o.l.Warn("failed to remove installed file", "package", name, "path", path, "error", err)
		}
	}

	return o.db.Remove(name)
}

// installedDependents finds every other installed package whose
// catalog definition lists name as a dependency (spec.md's
// find_dependents, grounded on resolver.FindDependents generalized
// from a catalog-wide scan to the installed subset).
func (o *Orchestrator) installedDependents(name string) ([]string, error) {
	entries, err := o.db.All()
	if err != nil {
		return nil, err
	}

	var defs []*types.PackageDefinition
	for _, e := range entries {
		if e.Name == name {
			continue
		}
		pkg, err := o.lookup(e.Name)
		if err != nil {
			o.l.Warn("could not load installed package's catalog entry during dependent scan", "package", e.Name, "error", err)
			continue
		}
		defs = append(defs, pkg)
	}
	return resolver.FindDependents(name, defs), nil
}

// Update implements spec.md §4.9's update(name).
func (o *Orchestrator) Update(name string) error {
	entry, ok, err := o.db.Find(name)
	if err != nil {
		return err
	}
	if !ok {
		return o.Install(name)
	}

	pkg, err := o.lookup(name)
	if err != nil {
		return err
	}

	if !o.cfg.ForceMode {
		installedV, err1 := semver.NewVersion(entry.Version)
		catalogV, err2 := semver.NewVersion(pkg.Version)
		if err1 == nil && err2 == nil && catalogV.Compare(installedV) <= 0 {
			o.l.Debug("catalog version is not newer, skipping update", "package", name)
			return nil
		}
	}

	backups, err := o.backupConfigs(pkg)
	if err != nil {
		o.l.Warn("config backup failed, continuing without it", "package", name, "error", err)
	}

	if err := o.Remove(name); err != nil {
		return err
	}
	if err := o.Install(name); err != nil {
		return err
	}

	o.restoreConfigs(backups)
	return nil
}

// UpdateAll implements spec.md §4.9's update_all().
func (o *Orchestrator) UpdateAll() (UpdateAllReport, error) {
	var report UpdateAllReport

	entries, err := o.db.All()
	if err != nil {
		return report, err
	}

	for _, e := range entries {
		if err := o.checkCancelled(e.Name); err != nil {
			return report, err
		}

		before, _, _ := o.db.Find(e.Name)
		if err := o.Update(e.Name); err != nil {
			report.Failed = append(report.Failed, e.Name)
			o.l.Warn("update failed", "package", e.Name, "error", err)
			continue
		}
		after, ok, _ := o.db.Find(e.Name)
		if ok && after.Version != before.Version {
			report.Updated++
		} else {
			report.Skipped++
		}
	}

	if len(report.Failed) > 0 {
		return report, fmt.Errorf("update_all: %d of %d packages failed", len(report.Failed), len(entries))
	}
	return report, nil
}
