package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
)

func TestFetchDownloadsOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("archive contents"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "pkg.tar.gz")

	f := New(hclog.NewNullLogger(), 5*time.Second, 10*time.Second)
	if err := f.Fetch(context.Background(), srv.URL+"/pkg.tar.gz", dest); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if string(data) != "archive contents" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestFetchIsIdempotentWhenDestinationExists(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("should not be fetched"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "pkg.tar.gz")
	if err := os.WriteFile(dest, []byte("already here"), 0o644); err != nil {
		t.Fatalf("seed dest: %v", err)
	}

	f := New(hclog.NewNullLogger(), 5*time.Second, 10*time.Second)
	if err := f.Fetch(context.Background(), srv.URL+"/pkg.tar.gz", dest); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if hits != 0 {
		t.Errorf("expected no network activity, got %d hits", hits)
	}

	data, _ := os.ReadFile(dest)
	if string(data) != "already here" {
		t.Errorf("destination was overwritten: %q", data)
	}
}

func TestFetchRemovesPartialFileOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "pkg.tar.gz")

	f := New(hclog.NewNullLogger(), 5*time.Second, 10*time.Second)
	if err := f.Fetch(context.Background(), srv.URL+"/pkg.tar.gz", dest); err == nil {
		t.Fatal("expected error from 500 response")
	}

	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("expected destination to be removed, stat err = %v", err)
	}
}
