// Package db is the Installed-Packages Database (spec.md §4.8, exact
// on-disk format spec.md §6). It is pure stdlib: no third-party store
// in the example corpus speaks a hard-specified tab-separated text
// format, and reimplementing one on top of, say, bitcask would just
// add a binary layer the spec's own file format doesn't want.
package db

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/tinypkg/tinypkg/pkg/types"
)

// fileListSep joins an InstalledEntry's FileList into the optional
// seventh tab field. Spec.md's six-field format is a strict prefix of
// every line this package writes; the trailing field is the tolerant
// "remainder" loader already accepts entries with three or more
// fields.
const fileListSep = "|"

// Stats summarizes the Database for reporting, mirroring the original
// C implementation's package_stats_t (spec.md §6 Supplemented
// Features).
type Stats struct {
	Total         int
	Installed     int
	Available     int
	Broken        int
	TotalSizeByte int64
}

// DB is the Installed-Packages Database. It loads lazily on first
// access and persists the full file after every mutation, per
// spec.md §4.8.
type DB struct {
	l    hclog.Logger
	path string

	mu      sync.Mutex
	loaded  bool
	entries map[string]*types.InstalledEntry
}

// New returns a Database backed by path. Nothing is read from disk
// until the first operation.
func New(l hclog.Logger, path string) *DB {
	return &DB{
		l:       l.Named("db"),
		path:    path,
		entries: make(map[string]*types.InstalledEntry),
	}
}

func (d *DB) ensureLoaded() error {
	if d.loaded {
		return nil
	}
	d.loaded = true

	f, err := os.Open(d.path)
	if os.IsNotExist(err) {
		return nil // an absent file means an empty Database, not an error
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		entry, ok := parseLine(line)
		if !ok {
			d.l.Warn("discarding malformed installed-database line", "line", line)
			continue
		}
		d.entries[entry.Name] = entry
	}
	return scanner.Err()
}

func parseLine(line string) (*types.InstalledEntry, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) < 3 {
		return nil, false
	}

	entry := &types.InstalledEntry{
		Name:        fields[0],
		Version:     fields[1],
		Description: fields[2],
	}
	if entry.Name == "" {
		return nil, false
	}

	if len(fields) >= 4 {
		if sec, err := strconv.ParseInt(fields[3], 10, 64); err == nil {
			entry.InstalledAt = time.Unix(sec, 0).UTC()
		}
	}
	if len(fields) >= 5 {
		if size, err := strconv.ParseInt(fields[4], 10, 64); err == nil {
			entry.InstalledSize = size
		}
	}
	if len(fields) >= 6 {
		if ord, err := strconv.Atoi(fields[5]); err == nil {
			entry.State = types.State(ord)
		}
	}
	if len(fields) >= 7 && fields[6] != "" {
		entry.FileList = strings.Split(fields[6], fileListSep)
	}

	return entry, true
}

func formatLine(e *types.InstalledEntry) string {
	line := fmt.Sprintf("%s\t%s\t%s\t%d\t%d\t%d",
		e.Name, e.Version, e.Description, e.InstalledAt.Unix(), e.InstalledSize, int(e.State))
	if len(e.FileList) > 0 {
		line += "\t" + strings.Join(e.FileList, fileListSep)
	}
	return line
}

// persist rewrites the entire file from the in-memory map. Must be
// called with mu held.
func (d *DB) persist() error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return err
	}

	tmp := d.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "# tinypkg installed-packages database")
	for _, e := range d.entries {
		fmt.Fprintln(w, formatLine(e))
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, d.path)
}

// Add overwrites any existing row with the same name and persists.
func (d *DB) Add(entry types.InstalledEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoaded(); err != nil {
		return err
	}

	copied := entry
	d.entries[entry.Name] = &copied
	return d.persist()
}

// Remove deletes the row for name if present and persists. A missing
// row is not an error.
func (d *DB) Remove(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoaded(); err != nil {
		return err
	}

	if _, ok := d.entries[name]; !ok {
		return nil
	}
	delete(d.entries, name)
	return d.persist()
}

// Find returns the entry for name, or ok=false if it isn't installed.
func (d *DB) Find(name string) (types.InstalledEntry, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoaded(); err != nil {
		return types.InstalledEntry{}, false, err
	}

	e, ok := d.entries[name]
	if !ok {
		return types.InstalledEntry{}, false, nil
	}
	return *e, true, nil
}

// All returns every installed entry, sorted by name.
func (d *DB) All() ([]types.InstalledEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoaded(); err != nil {
		return nil, err
	}

	out := make([]types.InstalledEntry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetState updates the state field for name and persists. A missing
// row is reported back to the caller rather than silently ignored,
// since the Orchestrator relies on this call to record true outcomes.
func (d *DB) SetState(name string, s types.State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoaded(); err != nil {
		return err
	}

	e, ok := d.entries[name]
	if !ok {
		return fmt.Errorf("no installed entry named %q", name)
	}
	e.State = s
	return d.persist()
}

// Stats summarizes the Database, supplementing spec.md with the
// original C implementation's package_get_stats (SPEC_FULL.md §6).
func (d *DB) Stats() (Stats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoaded(); err != nil {
		return Stats{}, err
	}

	var s Stats
	for _, e := range d.entries {
		s.Total++
		switch e.State {
		case types.StateInstalled:
			s.Installed++
		case types.StateAvailable:
			s.Available++
		case types.StateBroken, types.StateFailed:
			s.Broken++
		}
		s.TotalSizeByte += e.InstalledSize
	}
	return s, nil
}
