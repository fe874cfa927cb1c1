// Package verifier computes digests over downloaded artifacts and
// compares them to a package's declared checksum (spec.md §4.3).
//
// The algorithm is always one of MD5/SHA1/SHA256, selected by the
// digest length. All three live in the standard library; no
// third-party hashing package appears anywhere in the example corpus
// and crypto/md5, crypto/sha1, crypto/sha256 are the idiomatic choice
// across the Go ecosystem for exactly this job, so this is the one
// place tinypkg reaches for stdlib without an ecosystem alternative.
package verifier

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/tinypkg/tinypkg/pkg/tperrors"
	"github.com/tinypkg/tinypkg/pkg/types"
)

// Verifier checks downloaded artifacts against declared checksums.
type Verifier struct {
	l hclog.Logger
}

// New returns a Verifier.
func New(l hclog.Logger) *Verifier {
	return &Verifier{l: l.Named("verifier")}
}

func newHasher(t types.HashType) hash.Hash {
	switch t {
	case types.HashMD5:
		return md5.New()
	case types.HashSHA1:
		return sha1.New()
	case types.HashSHA256:
		return sha256.New()
	default:
		return nil
	}
}

// Digest computes the hex digest of path using the algorithm t
// (MD5, SHA1 or SHA256).
func Digest(path string, t types.HashType) (string, error) {
	h := newHasher(t)
	if h == nil {
		return "", &tperrors.UnsupportedHashError{}
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify checks path against expectedDigest, whose length determines
// the algorithm. An empty expectedDigest skips verification with a
// warning, per spec.md §4.3. Comparison is case-insensitive.
func (v *Verifier) Verify(path, expectedDigest string) error {
	if expectedDigest == "" {
		v.l.Warn("no checksum declared, skipping verification", "path", path)
		return nil
	}

	t := types.DetectHashType(expectedDigest)
	if t == types.HashUnknown {
		return &tperrors.UnsupportedHashError{DigestLength: len(expectedDigest)}
	}
	actual, err := Digest(path, t)
	if err != nil {
		return err
	}

	if !strings.EqualFold(actual, expectedDigest) {
		return &tperrors.IntegrityMismatchError{
			Path:     path,
			Expected: expectedDigest,
			Actual:   actual,
		}
	}
	return nil
}
