// Package loader is the Package Definition Loader (spec.md §4.2): it
// reads one JSON catalog entry per package, validates the invariants
// named there, and hands back a *types.PackageDefinition the rest of
// the system can trust. Grounded in the teacher's pkg/repo (which
// reads one repodata file per package off a git mirror) generalized
// from Void's binary repodata format to tinypkg's one-JSON-file
// catalog layout.
package loader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/github/go-spdx/v2/spdxexp"
	"github.com/hashicorp/go-hclog"

	"github.com/tinypkg/tinypkg/pkg/db"
	"github.com/tinypkg/tinypkg/pkg/tperrors"
	"github.com/tinypkg/tinypkg/pkg/types"
)

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9._+-]+$`)

// Loader reads and validates PackageDefinition records from a
// Catalog Store mirror's packages/ directory.
type Loader struct {
	l hclog.Logger
}

// New returns a Loader.
func New(l hclog.Logger) *Loader {
	return &Loader{l: l.Named("loader")}
}

// Load reads and validates the catalog entry for name under
// repoLocalPath/packages/<name>.json.
func (ld *Loader) Load(repoLocalPath, name string) (*types.PackageDefinition, error) {
	path := filepath.Join(repoLocalPath, "packages", name+".json")

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &tperrors.NotFoundError{Name: name}
	}
	if err != nil {
		return nil, err
	}

	var pkg types.PackageDefinition
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return nil, &tperrors.ParseError{Name: name, Reason: err.Error()}
	}

	if err := ld.validate(&pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// validate enforces spec.md §3's PackageDefinition invariants and
// SPEC_FULL.md's §5.2 strengthening of version into a real semver.
func (ld *Loader) validate(pkg *types.PackageDefinition) error {
	if pkg.Name == "" || !nameRe.MatchString(pkg.Name) {
		return &tperrors.ParseError{Name: pkg.Name, Reason: "name must be non-empty and match [a-zA-Z0-9._+-]+"}
	}
	if pkg.SourceURL == "" {
		return &tperrors.ParseError{Name: pkg.Name, Reason: "source_url must be non-empty"}
	}
	if pkg.Version == "" {
		return &tperrors.ParseError{Name: pkg.Name, Reason: "version must be non-empty"}
	}

	v, err := semver.NewVersion(pkg.Version)
	if err != nil {
		return &tperrors.ParseError{Name: pkg.Name, Reason: "version is not a valid semantic version: " + err.Error()}
	}
	pkg.ParsedVersion = v

	for _, field := range [][]string{pkg.Dependencies, pkg.BuildDependencies, pkg.Conflicts, pkg.Provides, pkg.ConfigPatterns} {
		for _, s := range field {
			if strings.TrimSpace(s) == "" {
				return &tperrors.ParseError{Name: pkg.Name, Reason: "array fields must contain only non-empty strings"}
			}
		}
	}

	if pkg.BuildSystem == "" {
		pkg.BuildSystem = types.BuildAutotools
	} else if !validBuildSystem(pkg.BuildSystem) {
		ld.l.Warn("unknown build_system, coercing to autotools", "package", pkg.Name, "build_system", pkg.BuildSystem)
		pkg.BuildSystem = types.BuildAutotools
	}

	if pkg.License != "" {
		if ok, err := spdxexp.ValidateLicenses([]string{pkg.License}); err != nil || !ok {
			ld.l.Warn("license is not a recognized SPDX identifier", "package", pkg.Name, "license", pkg.License)
		}
	}

	return nil
}

func validBuildSystem(b types.BuildSystem) bool {
	switch b {
	case types.BuildAutotools, types.BuildCMake, types.BuildMake, types.BuildCustom:
		return true
	default:
		return false
	}
}

// SearchResult pairs a catalog entry with its installed status,
// mirroring the original C implementation's package_search_result_t
// (SPEC_FULL.md §6 Supplemented Features).
type SearchResult struct {
	Name        string
	Version     string
	Description string
	Installed   bool
}

// Search scans repoLocalPath's catalog entries for name/description
// substring matches against pattern, cross-referencing database for
// installed status.
func (ld *Loader) Search(repoLocalPath, pattern string, database *db.DB) ([]SearchResult, error) {
	dir := filepath.Join(repoLocalPath, "packages")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(pattern)
	var results []SearchResult
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")

		pkg, err := ld.Load(repoLocalPath, name)
		if err != nil {
			ld.l.Warn("skipping unparseable catalog entry during search", "name", name, "error", err)
			continue
		}

		if !strings.Contains(strings.ToLower(pkg.Name), needle) && !strings.Contains(strings.ToLower(pkg.Description), needle) {
			continue
		}

		installed := false
		if database != nil {
			if _, ok, err := database.Find(pkg.Name); err == nil && ok {
				installed = true
			}
		}

		results = append(results, SearchResult{
			Name:        pkg.Name,
			Version:     pkg.Version,
			Description: pkg.Description,
			Installed:   installed,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results, nil
}
