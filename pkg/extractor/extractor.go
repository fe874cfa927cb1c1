// Package extractor unpacks a downloaded source archive into a build
// workspace, stripping the outer directory component (spec.md §4.5).
//
// Dispatch is by filename suffix. .tar.gz/.tgz uses the teacher's
// klauspost/compress gzip decoder instead of stdlib compress/gzip;
// .tar.bz2/.tbz2 uses stdlib compress/bzip2 (there is no writer side
// to a bzip2 archive in the standard library, but extraction-only is
// all this needs); .tar.xz uses ulikunitz/xz, since neither the
// standard library nor anything in the example corpus decodes xz;
// .zip uses stdlib archive/zip.
package extractor

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/tinypkg/tinypkg/pkg/tperrors"
)

// Extract unpacks archive into targetDir, stripping the outermost
// path component of every entry so that targetDir directly contains
// the project tree.
func Extract(archivePath, targetDir string) error {
	switch {
	case hasSuffix(archivePath, ".tar.gz", ".tgz"):
		return extractTarWith(archivePath, targetDir, func(r io.Reader) (io.Reader, error) {
			return gzip.NewReader(r)
		})
	case hasSuffix(archivePath, ".tar.bz2", ".tbz2"):
		return extractTarWith(archivePath, targetDir, func(r io.Reader) (io.Reader, error) {
			return bzip2.NewReader(r), nil
		})
	case hasSuffix(archivePath, ".tar.xz"):
		return extractTarWith(archivePath, targetDir, func(r io.Reader) (io.Reader, error) {
			return xz.NewReader(r)
		})
	case hasSuffix(archivePath, ".zip"):
		return extractZip(archivePath, targetDir)
	default:
		return &tperrors.UnsupportedFormatError{Path: archivePath}
	}
}

func hasSuffix(path string, suffixes ...string) bool {
	lower := strings.ToLower(path)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

func extractTarWith(archivePath, targetDir string, wrap func(io.Reader) (io.Reader, error)) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return &tperrors.ExtractError{Path: archivePath, Err: err}
	}
	defer f.Close()

	dr, err := wrap(f)
	if err != nil {
		return &tperrors.ExtractError{Path: archivePath, Err: err}
	}
	if closer, ok := dr.(io.Closer); ok {
		defer closer.Close()
	}

	tr := tar.NewReader(dr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &tperrors.ExtractError{Path: archivePath, Err: err}
		}

		rel, ok := stripFirstComponent(hdr.Name)
		if !ok {
			continue // the outer directory entry itself
		}

		dest, err := safeJoin(targetDir, rel)
		if err != nil {
			return &tperrors.ExtractError{Path: archivePath, Err: err}
		}

		if err := writeTarEntry(dest, hdr, tr); err != nil {
			return &tperrors.ExtractError{Path: archivePath, Err: err}
		}
	}
}

func writeTarEntry(dest string, hdr *tar.Header, r io.Reader) error {
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(dest, os.FileMode(hdr.Mode))
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
		if err != nil {
			return err
		}
		defer out.Close()
		if _, err := io.Copy(out, r); err != nil {
			return err
		}
		return os.Chtimes(dest, hdr.AccessTime, hdr.ModTime)
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		os.Remove(dest)
		return os.Symlink(hdr.Linkname, dest)
	default:
		return nil
	}
}

func extractZip(archivePath, targetDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return &tperrors.ExtractError{Path: archivePath, Err: err}
	}
	defer zr.Close()

	for _, f := range zr.File {
		rel, ok := stripFirstComponent(f.Name)
		if !ok {
			continue
		}

		dest, err := safeJoin(targetDir, rel)
		if err != nil {
			return &tperrors.ExtractError{Path: archivePath, Err: err}
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, f.Mode()); err != nil {
				return &tperrors.ExtractError{Path: archivePath, Err: err}
			}
			continue
		}

		if err := extractZipFile(f, dest); err != nil {
			return &tperrors.ExtractError{Path: archivePath, Err: err}
		}
	}
	return nil
}

func extractZipFile(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return err
	}
	return os.Chtimes(dest, f.Modified, f.Modified)
}

// stripFirstComponent removes the leading path element (the archive's
// single outer directory). It returns ok=false for the outer
// directory entry itself, which has nothing left to extract.
func stripFirstComponent(name string) (string, bool) {
	clean := cleanArchivePath(name)
	parts := strings.SplitN(clean, "/", 2)
	if len(parts) < 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func cleanArchivePath(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.Trim(filepath.ToSlash(filepath.Clean("/"+name)), "/")
}

// safeJoin joins targetDir and rel, rejecting any result that would
// escape targetDir — a zip-slip / tar path-traversal guard folded in
// from original_source's security_validate_path (spec.md's
// distillation doesn't mention it, but it doesn't forbid it either).
func safeJoin(targetDir, rel string) (string, error) {
	dest := filepath.Join(targetDir, rel)
	cleanTarget := filepath.Clean(targetDir) + string(filepath.Separator)
	if !strings.HasPrefix(dest+string(filepath.Separator), cleanTarget) {
		return "", &traversalError{Entry: rel}
	}
	return dest, nil
}

type traversalError struct{ Entry string }

func (e *traversalError) Error() string {
	return "archive entry escapes target directory: " + e.Entry
}
