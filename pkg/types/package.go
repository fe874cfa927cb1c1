// Package types holds the data model shared across tinypkg's
// components: package definitions, installed entries, repositories,
// and the transient build context.
package types

import (
	"github.com/Masterminds/semver/v3"
)

// BuildSystem identifies which build driver the Build Runner uses to
// configure and compile a package.
type BuildSystem string

// Recognized build systems. An unrecognized value coerces to
// BuildAutotools at load time (with a warning).
const (
	BuildAutotools BuildSystem = "autotools"
	BuildCMake     BuildSystem = "cmake"
	BuildMake      BuildSystem = "make"
	BuildCustom    BuildSystem = "custom"
)

// SourceType identifies how the Archive Fetcher retrieves a package's
// source.
type SourceType string

const (
	SourceTarball SourceType = "tarball"
	SourceGit     SourceType = "git"
)

// HashType identifies the checksum algorithm, inferred from the
// declared checksum's hex length (32=MD5, 40=SHA1, 64=SHA256).
type HashType int

const (
	HashUnknown HashType = iota
	HashMD5
	HashSHA1
	HashSHA256
)

// DetectHashType infers the algorithm from the length of a hex digest.
func DetectHashType(digest string) HashType {
	switch len(digest) {
	case 32:
		return HashMD5
	case 40:
		return HashSHA1
	case 64:
		return HashSHA256
	default:
		return HashUnknown
	}
}

// PackageDefinition is a single catalog entry as loaded by the Package
// Definition Loader. It is read-only once constructed.
type PackageDefinition struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Maintainer  string `json:"maintainer,omitempty"`
	Homepage    string `json:"homepage,omitempty"`
	License     string `json:"license,omitempty"`
	Category    string `json:"category,omitempty"`

	SourceURL  string     `json:"source_url"`
	SourceType SourceType `json:"source_type,omitempty"`
	Checksum   string     `json:"checksum,omitempty"`

	BuildSystem    BuildSystem `json:"build_system,omitempty"`
	BuildCmd       string      `json:"build_cmd,omitempty"`
	InstallCmd     string      `json:"install_cmd,omitempty"`
	ConfigureArgs  string      `json:"configure_args,omitempty"`
	PreBuildCmd    string      `json:"pre_build_cmd,omitempty"`
	PostInstallCmd string      `json:"post_install_cmd,omitempty"`

	Dependencies       []string `json:"dependencies,omitempty"`
	BuildDependencies  []string `json:"build_dependencies,omitempty"`
	Conflicts          []string `json:"conflicts,omitempty"`
	Provides           []string `json:"provides,omitempty"`
	ConfigPatterns     []string `json:"config_patterns,omitempty"`

	SizeEstimate      int64 `json:"size_estimate,omitempty"`
	BuildTimeEstimate int   `json:"build_time_estimate,omitempty"`

	// ParsedVersion is derived by the Loader via semver.NewVersion.
	// It is never serialized back to the catalog entry.
	ParsedVersion *semver.Version `json:"-"`
}

// HashType returns the checksum algorithm declared by this package, or
// HashUnknown if no checksum is present.
func (p *PackageDefinition) HashType() HashType {
	if p.Checksum == "" {
		return HashUnknown
	}
	return DetectHashType(p.Checksum)
}
