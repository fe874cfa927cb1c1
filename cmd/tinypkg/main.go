// Command tinypkg is the CLI entrypoint (SPEC_FULL.md §2): it parses
// flags with cobra and wires them into pkg/orchestrator. No business
// logic lives here — every subcommand is a thin call into the core.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/tinypkg/tinypkg/pkg/buildrunner"
	"github.com/tinypkg/tinypkg/pkg/catalog"
	"github.com/tinypkg/tinypkg/pkg/config"
	"github.com/tinypkg/tinypkg/pkg/db"
	"github.com/tinypkg/tinypkg/pkg/fetcher"
	"github.com/tinypkg/tinypkg/pkg/loader"
	"github.com/tinypkg/tinypkg/pkg/orchestrator"
	"github.com/tinypkg/tinypkg/pkg/statusapi"
	"github.com/tinypkg/tinypkg/pkg/verifier"
)

const (
	fetchConnectTimeout = 10 * time.Second
	fetchOverallTimeout = 30 * time.Minute
)

var (
	flagConfigPath string
	flagRoot       string
	flagForce      bool
	flagAssumeYes  bool
	flagSkipDeps   bool
	flagParallel   int
	flagStatusAddr string

	appLogger = hclog.New(&hclog.LoggerOptions{
		Name:  "tinypkg",
		Level: hclog.LevelFromString("INFO"),
	})
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tinypkg: %v\n", err)
		if _, ok := err.(cancelledErr); ok {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

// cancelledErr marks an error that should surface as exit status 130,
// spec.md §6's dedicated interrupted code.
type cancelledErr struct{ error }

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tinypkg",
		Short:         "a source-based package manager",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to a JSON configuration file")
	root.PersistentFlags().StringVar(&flagRoot, "root", "", "override root_dir")
	root.PersistentFlags().BoolVar(&flagForce, "force", false, "bypass the already-installed/version/dependent guards")
	root.PersistentFlags().BoolVar(&flagAssumeYes, "assume-yes", false, "never prompt for confirmation")
	root.PersistentFlags().BoolVar(&flagSkipDeps, "skip-deps", false, "do not resolve or install dependencies")
	root.PersistentFlags().IntVar(&flagParallel, "parallel", 0, "override parallel_jobs (0 keeps the configured value)")
	root.PersistentFlags().StringVar(&flagStatusAddr, "status-addr", "", "if set, serve the read-only status API on this address")

	root.AddCommand(
		installCmd(),
		removeCmd(),
		updateCmd(),
		listCmd(),
		queryCmd(),
		searchCmd(),
		syncCmd(),
		cleanCmd(),
	)
	return root
}

// loadConfig applies the CLI's flag overrides on top of the configured
// (or default) settings. It never touches the filesystem beyond
// reading the config file itself.
func loadConfig() (*config.Config, error) {
	cfg := config.New()
	if flagConfigPath != "" {
		if err := cfg.LoadFromFile(flagConfigPath); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}
	if flagRoot != "" {
		cfg.RootDir = flagRoot
	}
	cfg.ForceMode = cfg.ForceMode || flagForce
	cfg.AssumeYes = cfg.AssumeYes || flagAssumeYes
	cfg.SkipDependencies = cfg.SkipDependencies || flagSkipDeps
	if flagParallel > 0 {
		cfg.ParallelJobs = flagParallel
	}
	return cfg, nil
}

// environment bundles every live collaborator a subcommand might need,
// so each RunE stays a short sequence of calls into the core.
type environment struct {
	cfg     *config.Config
	db      *db.DB
	catalog *catalog.Store
	loader  *loader.Loader
	orch    *orchestrator.Orchestrator
}

// openEnvironment wires the full core, starting the Orchestrator (and
// taking its single-instance lock) only when withOrchestrator is true
// — read-only subcommands like list/query/search have no business
// contending for that lock.
func openEnvironment(withOrchestrator bool) (*environment, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	database := db.New(appLogger, cfg.DatabasePath())

	cat, err := catalog.New(appLogger, cfg.Repositories, cfg.RepoDir(), time.Duration(cfg.SyncInterval)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("initializing catalog: %w", err)
	}

	ld := loader.New(appLogger)

	env := &environment{cfg: cfg, db: database, catalog: cat, loader: ld}
	if !withOrchestrator {
		return env, nil
	}

	v := verifier.New(appLogger)
	f := fetcher.New(appLogger, fetchConnectTimeout, fetchOverallTimeout)
	runner := buildrunner.New(appLogger, f, v, buildrunner.Config{
		InstallPrefix:   cfg.InstallPrefix,
		ParallelJobs:    cfg.ParallelJobs,
		BuildTimeout:    time.Duration(cfg.BuildTimeout) * time.Second,
		DebugSymbols:    cfg.DebugSymbols,
		KeepBuildDir:    cfg.KeepBuildDir,
		SourcesDir:      cfg.SourcesDir(),
		VerifyChecksums: cfg.VerifyChecksums,
	})

	orch := orchestrator.New(appLogger, cfg, database, cat, ld, runner)
	if err := orch.Start(); err != nil {
		cat.Close()
		return nil, err
	}
	env.orch = orch

	if flagStatusAddr != "" {
		status := statusapi.New(appLogger, database, runner)
		go func() {
			if err := status.Serve(flagStatusAddr); err != nil && err != http.ErrServerClosed {
				appLogger.Warn("status API stopped", "error", err)
			}
		}()
	}

	return env, nil
}

// close releases every held resource and translates a cancelled-run
// into the dedicated exit status the CLI reports for SIGINT/SIGTERM.
func (e *environment) close() error {
	var cancelled bool
	if e.orch != nil {
		cancelled = e.orch.Cancelled()
		if err := e.orch.Stop(); err != nil {
			appLogger.Warn("failed to release orchestrator lock", "error", err)
		}
	}
	if err := e.catalog.Close(); err != nil {
		appLogger.Warn("failed to close catalog metadata store", "error", err)
	}
	if cancelled {
		return cancelledErr{fmt.Errorf("interrupted")}
	}
	return nil
}

func installCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <name>",
		Short: "resolve, fetch, build, and install a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(true)
			if err != nil {
				return err
			}
			opErr := env.orch.Install(args[0])
			if err := env.close(); err != nil {
				return err
			}
			return opErr
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "remove an installed package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(true)
			if err != nil {
				return err
			}
			opErr := env.orch.Remove(args[0])
			if err := env.close(); err != nil {
				return err
			}
			return opErr
		},
	}
}

func updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update [name]",
		Short: "update one package, or every installed package if name is omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(true)
			if err != nil {
				return err
			}

			var opErr error
			if len(args) == 1 {
				opErr = env.orch.Update(args[0])
			} else {
				var report orchestrator.UpdateAllReport
				report, opErr = env.orch.UpdateAll()
				fmt.Printf("updated %d, skipped %d, failed %d\n", report.Updated, report.Skipped, len(report.Failed))
			}

			if err := env.close(); err != nil {
				return err
			}
			return opErr
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [pattern]",
		Short: "list installed packages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(false)
			if err != nil {
				return err
			}
			defer env.close()

			entries, err := env.db.All()
			if err != nil {
				return err
			}
			for _, e := range entries {
				if len(args) == 1 && !matchesPattern(e.Name, args[0]) {
					continue
				}
				fmt.Printf("%-20s %-12s %-10s %10s  %s\n",
					e.Name, e.Version, e.State, humanize.Bytes(uint64(e.InstalledSize)), humanize.Time(e.InstalledAt))
			}
			return nil
		},
	}
}

func queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <name>",
		Short: "show the installed-package record for name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(false)
			if err != nil {
				return err
			}
			defer env.close()

			entry, ok, err := env.db.Find(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s is not installed", args[0])
			}
			fmt.Printf("name:       %s\n", entry.Name)
			fmt.Printf("version:    %s\n", entry.Version)
			fmt.Printf("state:      %s\n", entry.State)
			fmt.Printf("size:       %s\n", humanize.Bytes(uint64(entry.InstalledSize)))
			fmt.Printf("installed:  %s\n", humanize.Time(entry.InstalledAt))
			fmt.Printf("files:      %d\n", len(entry.FileList))
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <pattern>",
		Short: "search catalog entries by name or description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(false)
			if err != nil {
				return err
			}
			defer env.close()

			seen := make(map[string]bool)
			for _, repo := range env.catalog.EnabledRepos() {
				results, err := env.loader.Search(repo.LocalPath, args[0], env.db)
				if err != nil {
					return err
				}
				for _, r := range results {
					if seen[r.Name] {
						continue
					}
					seen[r.Name] = true
					flag := " "
					if r.Installed {
						flag = "i"
					}
					fmt.Printf("[%s] %-20s %-10s %s\n", flag, r.Name, r.Version, r.Description)
				}
			}
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "synchronize every enabled repository mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(false)
			if err != nil {
				return err
			}
			defer env.close()
			return env.catalog.Sync(env.cfg.ForceMode)
		},
	}
}

func cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "remove cached source archives and stale build workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			removed, err := cleanCaches(cfg)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d cached entries\n", removed)
			return nil
		},
	}
}

func matchesPattern(name, pattern string) bool {
	if pattern == "" || name == pattern {
		return true
	}
	return len(name) >= len(pattern) && indexOf(name, pattern) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
