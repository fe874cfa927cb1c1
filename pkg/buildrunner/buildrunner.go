// Package buildrunner is the Build Runner (spec.md §4.6): it drives a
// BuildContext through fetch/extract/configure/compile and then
// install, entirely through pkg/procexec.Run — never a shell — per
// spec.md §9's "string-heavy command construction" hazard. Grounded
// in the teacher's pkg/scheduler/build.go for the phase-sequencing
// idiom (a state machine advanced one phase at a time, each phase
// logged and erroring out immediately on failure).
package buildrunner

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/tinypkg/tinypkg/pkg/extractor"
	"github.com/tinypkg/tinypkg/pkg/fetcher"
	"github.com/tinypkg/tinypkg/pkg/procexec"
	"github.com/tinypkg/tinypkg/pkg/tperrors"
	"github.com/tinypkg/tinypkg/pkg/types"
	"github.com/tinypkg/tinypkg/pkg/verifier"
)

// maxInProgress bounds the Runner's in-flight build table (spec.md
// §4.6). A plain mutex-guarded map, not golang-lru: LRU evicts to make
// room, but spec.md requires a capacity overrun to be rejected with a
// ResourceError, not to silently drop someone else's build.
const maxInProgress = 16

// installRoot is the copy-to-root destination used by Install. A
// package variable, not a literal, so tests can redirect it away from
// the real filesystem root.
var installRoot = "/"

// Runner drives BuildContexts through the four build phases and the
// install step.
type Runner struct {
	l hclog.Logger

	fetch  *fetcher.Fetcher
	verify *verifier.Verifier

	installPrefix   string
	parallelJobs    int
	buildTimeout    time.Duration
	debugSymbols    bool
	keepBuildDir    bool
	verifyChecksums bool

	sourcesDir string

	mu        sync.Mutex
	inProgress map[string]*types.BuildContext
}

// Config bundles the Runner's configuration-derived inputs.
type Config struct {
	InstallPrefix   string
	ParallelJobs    int
	BuildTimeout    time.Duration
	DebugSymbols    bool
	KeepBuildDir    bool
	SourcesDir      string
	VerifyChecksums bool
}

// New returns a Runner.
func New(l hclog.Logger, f *fetcher.Fetcher, v *verifier.Verifier, cfg Config) *Runner {
	return &Runner{
		l:               l.Named("buildrunner"),
		fetch:           f,
		verify:          v,
		installPrefix:   cfg.InstallPrefix,
		parallelJobs:    cfg.ParallelJobs,
		buildTimeout:    cfg.BuildTimeout,
		debugSymbols:    cfg.DebugSymbols,
		keepBuildDir:    cfg.KeepBuildDir,
		sourcesDir:      cfg.SourcesDir,
		verifyChecksums: cfg.VerifyChecksums,
		inProgress:      make(map[string]*types.BuildContext),
	}
}

// IsRunning reports whether name has an in-progress BuildContext.
func (r *Runner) IsRunning(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inProgress[name]
	return ok
}

// InProgress lists the names of every package currently mid-build, for
// the optional status API (SPEC_FULL.md §5.10).
func (r *Runner) InProgress() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.inProgress))
	for name := range r.inProgress {
		names = append(names, name)
	}
	return names
}

func (r *Runner) track(ctx *types.BuildContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.inProgress) >= maxInProgress {
		return &tperrors.ResourceError{Reason: "in-progress build table is at capacity"}
	}
	r.inProgress[ctx.Package.Name] = ctx
	return nil
}

func (r *Runner) untrack(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inProgress, name)
}

// Build walks a BuildContext through fetch, extract, configure, and
// compile. Each phase is strictly sequential; a failure in any phase
// halts the sequence and marks the context failed.
func (r *Runner) Build(ctx context.Context, bc *types.BuildContext) error {
	if err := procexec.ValidateToken(bc.Package.Name); err != nil {
		return err
	}
	if err := procexec.ValidateToken(bc.Package.Version); err != nil {
		return err
	}

	if err := r.track(bc); err != nil {
		return err
	}
	defer r.untrack(bc.Package.Name)

	bc.StartedAt = time.Now()
	defer func() {
		if bc.Status != types.StatusFailed {
			bc.EndedAt = time.Now()
		}
	}()

	phases := []struct {
		status types.BuildStatus
		run    func(context.Context, *types.BuildContext) error
	}{
		{types.StatusDownloading, r.fetchPhase},
		{types.StatusExtracting, r.extractPhase},
		{types.StatusConfiguring, r.configurePhase},
		{types.StatusBuilding, r.compilePhase},
	}

	for _, phase := range phases {
		bc.Status = phase.status
		r.l.Debug("entering build phase", "package", bc.Package.Name, "phase", phase.status)
		if err := phase.run(ctx, bc); err != nil {
			bc.Status = types.StatusFailed
			bc.EndedAt = time.Now()
			r.l.Warn("build phase failed", "package", bc.Package.Name, "phase", phase.status, "error", err)
			return err
		}
	}
	return nil
}

func (r *Runner) fetchPhase(ctx context.Context, bc *types.BuildContext) error {
	dest := filepath.Join(r.sourcesDir, filepath.Base(bc.Package.SourceURL))
	if err := r.fetch.Fetch(ctx, bc.Package.SourceURL, dest); err != nil {
		return err
	}
	if r.verifyChecksums && bc.Package.Checksum != "" {
		if err := r.verify.Verify(dest, bc.Package.Checksum); err != nil {
			return err
		}
	}
	bc.ArchivePath = dest
	return nil
}

func (r *Runner) extractPhase(_ context.Context, bc *types.BuildContext) error {
	if err := os.MkdirAll(bc.SourceDir, 0o755); err != nil {
		return &tperrors.IOError{Op: "mkdir source_dir", Err: err}
	}
	return extractor.Extract(bc.ArchivePath, bc.SourceDir)
}

func (r *Runner) configurePhase(ctx context.Context, bc *types.BuildContext) error {
	system := r.detectBuildSystem(bc)

	switch system {
	case types.BuildAutotools:
		return r.configureAutotools(ctx, bc)
	case types.BuildCMake:
		return r.configureCMake(ctx, bc)
	case types.BuildMake, types.BuildCustom:
		return nil
	default:
		return r.configureAutotools(ctx, bc)
	}
}

// detectBuildSystem implements spec.md §4.6's auto-detection: when
// the record says autotools and build_cmd is empty, probe the source
// tree for the telltale file of a different build system.
func (r *Runner) detectBuildSystem(bc *types.BuildContext) types.BuildSystem {
	declared := bc.Package.BuildSystem
	if declared != types.BuildAutotools || bc.Package.BuildCmd != "" {
		return declared
	}

	if exists(filepath.Join(bc.SourceDir, "CMakeLists.txt")) {
		return types.BuildCMake
	}
	if exists(filepath.Join(bc.SourceDir, "configure")) {
		return types.BuildAutotools
	}
	if exists(filepath.Join(bc.SourceDir, "Makefile")) {
		return types.BuildMake
	}
	return types.BuildAutotools
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (r *Runner) configureAutotools(ctx context.Context, bc *types.BuildContext) error {
	configurePath := filepath.Join(bc.SourceDir, "configure")
	if !exists(configurePath) {
		if err := r.generateConfigure(ctx, bc); err != nil {
			return err
		}
		if !exists(configurePath) {
			return &tperrors.BuildError{Phase: "configure", Command: "configure generation", Output: "no configure script present after generation attempts"}
		}
	}

	argv := append([]string{"./configure", "--prefix=" + r.prefix(bc)}, splitArgs(bc.Package.ConfigureArgs)...)
	return r.runPhase(ctx, "configure", bc.SourceDir, argv)
}

// generateConfigure tries, in order, autogen.sh, autoreconf -fiv, and
// bootstrap, stopping at the first one that succeeds and leaves a
// configure script behind.
func (r *Runner) generateConfigure(ctx context.Context, bc *types.BuildContext) error {
	attempts := [][]string{
		{"./autogen.sh"},
		{"autoreconf", "-fiv"},
		{"./bootstrap"},
	}
	for _, argv := range attempts {
		if !exists(filepath.Join(bc.SourceDir, argv[0])) && !strings.HasPrefix(argv[0], "autoreconf") {
			continue
		}
		if err := r.runPhase(ctx, "configure-generate", bc.SourceDir, argv); err == nil && exists(filepath.Join(bc.SourceDir, "configure")) {
			return nil
		}
	}
	return nil
}

func (r *Runner) configureCMake(ctx context.Context, bc *types.BuildContext) error {
	buildType := "Release"
	if r.debugSymbols {
		buildType = "Debug"
	}
	argv := append([]string{
		"cmake",
		"-DCMAKE_BUILD_TYPE=" + buildType,
		"-DCMAKE_INSTALL_PREFIX=" + r.prefix(bc),
	}, append(splitArgs(bc.Package.ConfigureArgs), ".")...)
	return r.runPhase(ctx, "configure", bc.SourceDir, argv)
}

func (r *Runner) compilePhase(ctx context.Context, bc *types.BuildContext) error {
	if bc.Package.BuildCmd != "" {
		return r.runPhase(ctx, "compile", bc.SourceDir, splitArgs(bc.Package.BuildCmd))
	}
	jobs := r.parallelJobs
	if jobs < 1 {
		jobs = 1
	}
	return r.runPhase(ctx, "compile", bc.SourceDir, []string{"make", "-j" + strconv.Itoa(jobs)})
}

// Install runs once after Build succeeds: either install_cmd or the
// default `make install`, then copies install_dir's contents onto the
// host root, preserving permissions and timestamps.
func (r *Runner) Install(ctx context.Context, bc *types.BuildContext) error {
	bc.Status = types.StatusInstalling

	if err := os.MkdirAll(bc.InstallDir, 0o755); err != nil {
		return &tperrors.IOError{Op: "mkdir install_dir", Err: err}
	}

	var err error
	if bc.Package.InstallCmd != "" {
		err = r.runPhase(ctx, "install", bc.SourceDir, splitArgs(bc.Package.InstallCmd))
	} else {
		err = r.runPhase(ctx, "install", bc.SourceDir, []string{
			"make", "install",
			"DESTDIR=" + bc.InstallDir,
			"PREFIX=" + r.prefix(bc),
		})
	}
	if err != nil {
		bc.Status = types.StatusFailed
		bc.EndedAt = time.Now()
		return err
	}

	fileList, err := walkFiles(bc.InstallDir)
	if err != nil {
		return &tperrors.IOError{Op: "walk install_dir", Err: err}
	}
	bc.FileList = fileList

	if err := copyTree(bc.InstallDir, installRoot); err != nil {
		bc.Status = types.StatusFailed
		bc.EndedAt = time.Now()
		return &tperrors.IOError{Op: "copy-to-root", Err: err}
	}

	bc.Status = types.StatusComplete
	bc.EndedAt = time.Now()
	return nil
}

// Cleanup removes the build workspace unless keepBuildDir is set and
// the build failed, per spec.md §4.6.
func (r *Runner) Cleanup(bc *types.BuildContext) error {
	if r.keepBuildDir && bc.Status == types.StatusFailed {
		return nil
	}
	return os.RemoveAll(bc.BuildDir)
}

func (r *Runner) prefix(bc *types.BuildContext) string {
	if r.installPrefix != "" {
		return r.installPrefix
	}
	return "/usr/local"
}

func (r *Runner) runPhase(ctx context.Context, phase, cwd string, argv []string) error {
	res, err := procexec.Run(ctx, argv, cwd, r.buildTimeout)
	if err != nil {
		return &tperrors.BuildError{Phase: phase, Command: strings.Join(argv, " "), Output: outputOf(res)}
	}
	if res.ExitCode != 0 {
		return &tperrors.BuildError{Phase: phase, Command: strings.Join(argv, " "), ExitCode: res.ExitCode, Output: res.Output}
	}
	return nil
}

func outputOf(res *procexec.Result) string {
	if res == nil {
		return ""
	}
	return res.Output
}

// splitArgs is the whitespace-only argv tokenizer the REDESIGN note
// calls for: build_cmd/install_cmd/configure_args come from catalog
// data and must never be handed to a shell, so there is no quoting or
// globbing here, only field-splitting.
func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Fields(s)
}

// walkFiles lists every non-directory entry (regular files and
// symlinks) under root, relative to root —
// the form the Database stores in InstalledEntry.FileList, since those
// paths are what remove() later needs to rejoin onto the live root.
func walkFiles(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	return files, err
}

func copyTree(src, dstRoot string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		dst := filepath.Join(dstRoot, rel)

		if info.IsDir() {
			return os.MkdirAll(dst, info.Mode())
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			os.Remove(dst)
			return os.Symlink(target, dst)
		}

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := copyFile(path, dst, info.Mode()); err != nil {
			return err
		}
		return os.Chtimes(dst, info.ModTime(), info.ModTime())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
