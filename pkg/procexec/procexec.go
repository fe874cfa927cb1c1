// Package procexec is the single collaborator surface spec.md §9
// calls for: one function that covers every external process the
// Build Runner and the Orchestrator's post-install step start (the
// Catalog Store syncs through go-git and the Integrity Verifier hashes
// in-process, so neither starts one). It is
// grounded in the pack's catalyst-forge-libs/executor package but
// deliberately narrower: no shell, no retry loop (retries belong to
// the caller, if at all), and a mandatory timeout on every call.
package procexec

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"regexp"
	"time"
)

// Result is the outcome of one external command invocation.
type Result struct {
	ExitCode int
	Output   string
}

// ErrControlCharacter is returned when an argument contains a byte
// that has no business in a shell-free argv built from catalog data
// (spec.md §9: "reject control characters in names/versions at load
// time").
var ErrControlCharacter = errors.New("argument contains a control character")

var controlChar = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)

// Run executes argv[0] with argv[1:] as arguments, in cwd, bounded by
// timeout. It never invokes a shell. Output is stdout+stderr
// interleaved, matching what a developer watching a terminal would
// see, which is what the Build Runner needs for diagnostics.
func Run(ctx context.Context, argv []string, cwd string, timeout time.Duration) (*Result, error) {
	if len(argv) == 0 {
		return nil, errors.New("procexec: empty argv")
	}
	for _, a := range argv {
		if controlChar.MatchString(a) {
			return nil, ErrControlCharacter
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = cwd

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()

	res := &Result{Output: buf.String()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctx.Err() == context.DeadlineExceeded {
		return res, context.DeadlineExceeded
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// Something other than a non-zero exit: binary missing,
		// permission denied, etc.
		return res, err
	}

	return res, nil
}

// ValidateToken rejects control characters in a standalone token
// (package name or version) before it is ever interpolated into an
// argv or a path, closing the hazard independently of Run's own
// per-call check.
func ValidateToken(s string) error {
	if controlChar.MatchString(s) {
		return ErrControlCharacter
	}
	return nil
}
