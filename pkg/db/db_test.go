package db

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/tinypkg/tinypkg/pkg/types"
)

func newTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "installed.txt")
	return New(hclog.NewNullLogger(), path), path
}

func TestAddThenFindRoundTripsFields(t *testing.T) {
	d, _ := newTestDB(t)

	entry := types.InstalledEntry{
		Name:          "zlib",
		Version:       "1.3.1",
		Description:   "compression library",
		InstalledAt:   time.Unix(1700000000, 0).UTC(),
		InstalledSize: 524288,
		State:         types.StateInstalled,
		FileList:      []string{"/usr/lib/libz.so", "/usr/include/zlib.h"},
	}

	if err := d.Add(entry); err != nil {
		t.Fatalf("Add: %v", err)
	}

	found, ok, err := d.Find("zlib")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !ok {
		t.Fatal("expected zlib to be found")
	}
	if !reflect.DeepEqual(found, entry) {
		t.Errorf("round trip mismatch: got %+v, want %+v", found, entry)
	}
}

func TestRemoveDeletesRowAndMissingIsNotError(t *testing.T) {
	d, _ := newTestDB(t)
	d.Add(types.InstalledEntry{Name: "curl", Version: "8.0.0"})

	if err := d.Remove("curl"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := d.Find("curl"); ok {
		t.Error("expected curl to be gone after Remove")
	}

	if err := d.Remove("never-installed"); err != nil {
		t.Errorf("Remove of a missing row should not error, got %v", err)
	}
}

func TestPersistedFileRoundTripsThroughReload(t *testing.T) {
	d, path := newTestDB(t)
	d.Add(types.InstalledEntry{Name: "a", Version: "1.0", Description: "pkg a", State: types.StateInstalled})
	d.Add(types.InstalledEntry{Name: "b", Version: "2.0", Description: "pkg b", State: types.StateBroken})

	reloaded := New(hclog.NewNullLogger(), path)
	all, err := reloaded.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 entries after reload, got %d", len(all))
	}
	if all[0].Name != "a" || all[1].Name != "b" {
		t.Errorf("expected sorted [a, b], got %v", all)
	}
}

func TestLoadToleratesCommentsBlankLinesAndMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "installed.txt")
	content := "# header comment\n" +
		"\n" +
		"good\tv1\tdesc\t1700000000\t100\t5\n" +
		"just-two\tfields\n" +
		"minimal\tv2\tdesc\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	d := New(hclog.NewNullLogger(), path)
	all, err := d.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 accepted rows (good, minimal), got %d: %v", len(all), all)
	}
}

func TestLoadOfAbsentFileIsEmptyNotError(t *testing.T) {
	d, _ := newTestDB(t)
	all, err := d.All()
	if err != nil {
		t.Fatalf("All on absent file: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected empty Database, got %v", all)
	}
}

func TestSetStateUpdatesAndPersists(t *testing.T) {
	d, path := newTestDB(t)
	d.Add(types.InstalledEntry{Name: "gcc", Version: "13.2", State: types.StateBuilding})

	if err := d.SetState("gcc", types.StateInstalled); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	reloaded := New(hclog.NewNullLogger(), path)
	found, ok, _ := reloaded.Find("gcc")
	if !ok {
		t.Fatal("expected gcc to still be present")
	}
	if found.State != types.StateInstalled {
		t.Errorf("expected state installed, got %v", found.State)
	}
}

func TestStatsCountsByState(t *testing.T) {
	d, _ := newTestDB(t)
	d.Add(types.InstalledEntry{Name: "a", State: types.StateInstalled, InstalledSize: 100})
	d.Add(types.InstalledEntry{Name: "b", State: types.StateInstalled, InstalledSize: 200})
	d.Add(types.InstalledEntry{Name: "c", State: types.StateBroken})

	stats, err := d.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 || stats.Installed != 2 || stats.Broken != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.TotalSizeByte != 300 {
		t.Errorf("expected total size 300, got %d", stats.TotalSizeByte)
	}
}
