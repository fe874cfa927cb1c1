package buildrunner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/tinypkg/tinypkg/pkg/fetcher"
	"github.com/tinypkg/tinypkg/pkg/types"
	"github.com/tinypkg/tinypkg/pkg/verifier"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	f := fetcher.New(hclog.NewNullLogger(), time.Second, time.Second)
	v := verifier.New(hclog.NewNullLogger())
	return New(hclog.NewNullLogger(), f, v, Config{
		InstallPrefix:   "/usr/local",
		ParallelJobs:    2,
		BuildTimeout:    5 * time.Second,
		SourcesDir:      t.TempDir(),
		VerifyChecksums: true,
	})
}

func TestDetectBuildSystemPrefersCMakeListsOverDeclaredAutotools(t *testing.T) {
	r := newTestRunner(t)
	srcDir := t.TempDir()
	os.WriteFile(filepath.Join(srcDir, "CMakeLists.txt"), []byte(""), 0o644)

	bc := types.NewBuildContext(&types.PackageDefinition{Name: "x", BuildSystem: types.BuildAutotools}, t.TempDir())
	bc.SourceDir = srcDir

	if got := r.detectBuildSystem(bc); got != types.BuildCMake {
		t.Errorf("expected cmake, got %s", got)
	}
}

func TestDetectBuildSystemFallsBackToMake(t *testing.T) {
	r := newTestRunner(t)
	srcDir := t.TempDir()
	os.WriteFile(filepath.Join(srcDir, "Makefile"), []byte(""), 0o644)

	bc := types.NewBuildContext(&types.PackageDefinition{Name: "x", BuildSystem: types.BuildAutotools}, t.TempDir())
	bc.SourceDir = srcDir

	if got := r.detectBuildSystem(bc); got != types.BuildMake {
		t.Errorf("expected make, got %s", got)
	}
}

func TestDetectBuildSystemRespectsExplicitBuildCmd(t *testing.T) {
	r := newTestRunner(t)
	srcDir := t.TempDir()
	os.WriteFile(filepath.Join(srcDir, "CMakeLists.txt"), []byte(""), 0o644)

	bc := types.NewBuildContext(&types.PackageDefinition{
		Name:        "x",
		BuildSystem: types.BuildAutotools,
		BuildCmd:    "./custom-build.sh",
	}, t.TempDir())
	bc.SourceDir = srcDir

	if got := r.detectBuildSystem(bc); got != types.BuildAutotools {
		t.Errorf("expected declared autotools to win when build_cmd is set, got %s", got)
	}
}

func TestSplitArgsFieldSplitsWithoutShellSemantics(t *testing.T) {
	got := splitArgs("--enable-foo --with-bar=baz")
	want := []string{"--enable-foo", "--with-bar=baz"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSplitArgsEmptyStringYieldsNoArgs(t *testing.T) {
	if got := splitArgs("   "); got != nil {
		t.Errorf("expected nil for blank configure_args, got %v", got)
	}
}

func TestTrackRejectsBeyondCapacity(t *testing.T) {
	r := newTestRunner(t)
	for i := 0; i < maxInProgress; i++ {
		pkg := &types.PackageDefinition{Name: "pkg" + string(rune('a'+i))}
		bc := types.NewBuildContext(pkg, t.TempDir())
		if err := r.track(bc); err != nil {
			t.Fatalf("track %d: unexpected error: %v", i, err)
		}
	}

	overflow := types.NewBuildContext(&types.PackageDefinition{Name: "overflow"}, t.TempDir())
	if err := r.track(overflow); err == nil {
		t.Error("expected a ResourceError once the table is at capacity")
	}
}

func TestIsRunningReflectsTrackAndUntrack(t *testing.T) {
	r := newTestRunner(t)
	bc := types.NewBuildContext(&types.PackageDefinition{Name: "pkg"}, t.TempDir())

	if r.IsRunning("pkg") {
		t.Fatal("expected pkg not to be running before track")
	}
	r.track(bc)
	if !r.IsRunning("pkg") {
		t.Error("expected pkg to be running after track")
	}
	r.untrack("pkg")
	if r.IsRunning("pkg") {
		t.Error("expected pkg not to be running after untrack")
	}
}

func TestInstallCopiesFilesAndPopulatesFileList(t *testing.T) {
	r := newTestRunner(t)
	buildDir := t.TempDir()
	bc := types.NewBuildContext(&types.PackageDefinition{Name: "x", InstallCmd: "true"}, buildDir)

	if err := os.MkdirAll(bc.SourceDir, 0o755); err != nil {
		t.Fatalf("mkdir source dir: %v", err)
	}
	if err := os.MkdirAll(bc.InstallDir, 0o755); err != nil {
		t.Fatalf("mkdir install dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(bc.InstallDir, "hello.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("seed install dir: %v", err)
	}

	destRoot := t.TempDir()
	origRoot := installRoot
	installRoot = destRoot
	defer func() { installRoot = origRoot }()

	if err := r.Install(context.Background(), bc); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(bc.FileList) != 1 {
		t.Errorf("expected 1 file in FileList, got %v", bc.FileList)
	}

	data, err := os.ReadFile(filepath.Join(destRoot, "hello.txt"))
	if err != nil {
		t.Fatalf("expected copied file: %v", err)
	}
	if string(data) != "hi" {
		t.Errorf("unexpected content: %q", data)
	}
	if bc.Status != types.StatusComplete {
		t.Errorf("expected status complete, got %s", bc.Status)
	}
}
