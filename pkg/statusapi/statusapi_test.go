package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/tinypkg/tinypkg/pkg/db"
	"github.com/tinypkg/tinypkg/pkg/types"
)

type fakeBuildTable struct {
	names []string
}

func (f *fakeBuildTable) InProgress() []string { return f.names }

func newTestServer(t *testing.T) (*Server, *db.DB) {
	t.Helper()
	database := db.New(hclog.NewNullLogger(), filepath.Join(t.TempDir(), "installed.txt"))
	s := New(hclog.NewNullLogger(), database, &fakeBuildTable{names: []string{"curl"}})
	return s, database
}

func TestHealthzReturnsOK(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestListInstalledReturnsEntries(t *testing.T) {
	s, database := newTestServer(t)
	database.Add(types.InstalledEntry{Name: "zlib", Version: "1.3.1", State: types.StateInstalled})

	req := httptest.NewRequest(http.MethodGet, "/installed", nil)
	rec := httptest.NewRecorder()
	s.r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var entries []types.InstalledEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := entryNames(entries); len(got) != 1 || got[0] != "zlib" {
		t.Errorf("expected [zlib], got %v", got)
	}
}

func TestGetInstalledMissingReturns404(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/installed/ghost", nil)
	rec := httptest.NewRecorder()
	s.r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestGetInstalledFoundReturnsEntry(t *testing.T) {
	s, database := newTestServer(t)
	database.Add(types.InstalledEntry{Name: "curl", Version: "8.0.0", State: types.StateInstalled})

	req := httptest.NewRequest(http.MethodGet, "/installed/curl", nil)
	rec := httptest.NewRecorder()
	s.r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var entry types.InstalledEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.Name != "curl" {
		t.Errorf("expected curl, got %+v", entry)
	}
}

func TestListBuildsReturnsInProgressNames(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/builds", nil)
	rec := httptest.NewRecorder()
	s.r.ServeHTTP(rec, req)

	var names []string
	if err := json.Unmarshal(rec.Body.Bytes(), &names); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(names) != 1 || names[0] != "curl" {
		t.Errorf("expected [curl], got %v", names)
	}
}

func TestStatsReflectsDatabaseCounts(t *testing.T) {
	s, database := newTestServer(t)
	database.Add(types.InstalledEntry{Name: "a", State: types.StateInstalled, InstalledSize: 100})
	database.Add(types.InstalledEntry{Name: "b", State: types.StateBroken})

	req := httptest.NewRequest(http.MethodGet, "/installed/stats", nil)
	rec := httptest.NewRecorder()
	s.r.ServeHTTP(rec, req)

	var stats db.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 2 || stats.Installed != 1 || stats.Broken != 1 || stats.TotalSizeByte != 100 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
