package config

import "github.com/tinypkg/tinypkg/pkg/types"

// Config is the complete set of inputs spec.md §6 says are consumed
// by the core but produced by an external config loader. tinypkg
// ships a minimal JSON-file loader (New/LoadFromFile) in the
// same shape as the teacher's pkg/config, rather than treat loading
// as fully out of scope, since something has to produce a populated
// record for the orchestrator to run at all.
type Config struct {
	RootDir   string
	ConfigDir string
	CacheDir  string
	LibDir    string
	LogDir    string

	InstallPrefix string
	ParallelJobs  int
	BuildTimeout  int // seconds
	DebugSymbols  bool
	KeepBuildDir  bool

	ForceMode         bool
	AssumeYes         bool
	SkipDependencies  bool
	VerifyChecksums   bool

	SyncInterval int // seconds

	Repositories []types.Repository
}
