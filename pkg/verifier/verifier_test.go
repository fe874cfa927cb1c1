package verifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/tinypkg/tinypkg/pkg/types"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "artifact.tar.gz")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return p
}

func TestVerifyMatchesForEachAlgorithm(t *testing.T) {
	path := writeTemp(t, "hello tinypkg")
	v := New(hclog.NewNullLogger())

	for _, ht := range []struct {
		name string
		typ  types.HashType
	}{{"md5", types.HashMD5}, {"sha1", types.HashSHA1}, {"sha256", types.HashSHA256}} {
		digest, err := Digest(path, ht.typ)
		if err != nil {
			t.Fatalf("%s: digest error: %v", ht.name, err)
		}
		if err := v.Verify(path, digest); err != nil {
			t.Errorf("%s: expected match, got %v", ht.name, err)
		}
	}
}

func TestVerifyRejectsFlippedNibble(t *testing.T) {
	path := writeTemp(t, "hello tinypkg")
	v := New(hclog.NewNullLogger())

	digest, err := Digest(path, types.HashSHA256)
	if err != nil {
		t.Fatalf("digest error: %v", err)
	}

	flipped := flipNibble(digest)
	if err := v.Verify(path, flipped); err == nil {
		t.Error("expected mismatch error, got nil")
	}
}

func TestVerifySkipsWhenNoChecksumDeclared(t *testing.T) {
	path := writeTemp(t, "hello tinypkg")
	v := New(hclog.NewNullLogger())

	if err := v.Verify(path, ""); err != nil {
		t.Errorf("expected skip with no error, got %v", err)
	}
}

func flipNibble(s string) string {
	b := []byte(s)
	if b[0] == '0' {
		b[0] = '1'
	} else {
		b[0] = '0'
	}
	return string(b)
}
