// Package catalog is the Catalog Store (spec.md §4.1): one go-git
// checkout per configured Repository, kept up to date by sync(), with
// entries found by descending repository priority. Grounded directly
// in the teacher's pkg/source.RepoMngr — PlainClone/Fetch/Checkout
// against a go-git repository, the same Mutex-guarded single-instance
// pattern.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenk/backoff"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/hashicorp/go-hclog"
	circuit "github.com/rubyist/circuitbreaker"

	"github.com/tinypkg/tinypkg/pkg/storage"
	_ "github.com/tinypkg/tinypkg/pkg/storage/bc" // registers the bitcask storage factory
	"github.com/tinypkg/tinypkg/pkg/tperrors"
	"github.com/tinypkg/tinypkg/pkg/types"
)

// circuitFailureThreshold trips a repository's breaker after this
// many consecutive sync failures; SPEC_FULL.md §5.1.
const circuitFailureThreshold = 3

// Store is the Catalog Store: an ordered set of Repository mirrors
// plus a metadata store for their last_sync/last_commit bookkeeping.
type Store struct {
	l hclog.Logger

	mu    sync.Mutex
	repos []*types.Repository

	meta         storage.Storage
	breakers     map[string]*circuit.Breaker
	syncInterval time.Duration
}

// New returns a Store. metaPath is the bitcask directory backing
// per-repository sync metadata (spec.md's Repository.last_sync /
// last_commit). syncInterval is spec.md §4.1's configured_interval,
// consulted by NeedsSync.
func New(l hclog.Logger, repos []types.Repository, metaPath string, syncInterval time.Duration) (*Store, error) {
	storage.SetLogger(l)
	storage.SetPath(metaPath)
	storage.DoCallbacks()

	meta, err := storage.Initialize("bitcask")
	if err != nil {
		return nil, err
	}

	s := &Store{
		l:            l.Named("catalog"),
		meta:         meta,
		breakers:     make(map[string]*circuit.Breaker),
		syncInterval: syncInterval,
	}
	for i := range repos {
		r := repos[i]
		s.repos = append(s.repos, &r)
	}
	sort.SliceStable(s.repos, func(i, j int) bool { return s.repos[i].Priority > s.repos[j].Priority })
	for _, r := range s.repos {
		v, err := meta.Get([]byte("catalog/" + r.Name))
		if err != nil || v == nil {
			continue
		}
		parts := strings.SplitN(string(v), "\t", 2)
		if t, err := time.Parse(time.RFC3339, parts[0]); err == nil {
			r.LastSync = t
		}
		if len(parts) == 2 {
			r.LastCommit = parts[1]
		}
	}
	return s, nil
}

// breaker returns (creating if absent) the per-repository circuit
// breaker, grounded in git-pkgs/registries' CircuitBreakerFetcher:
// rubyist/circuitbreaker tripped by a consecutive-failure threshold,
// backed off via cenk/backoff between half-open retries.
func (s *Store) breaker(name string) *circuit.Breaker {
	if b, ok := s.breakers[name]; ok {
		return b
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	b := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ConsecutiveTripFunc(circuitFailureThreshold),
	})
	s.breakers[name] = b
	return b
}

// NeedsSync implements spec.md §4.1's needs_sync(repo): true iff the
// local mirror has no .git directory, the mirror has never synced, or
// the configured interval has elapsed since its last_sync.
func (s *Store) NeedsSync(repo *types.Repository) bool {
	if _, err := os.Stat(filepath.Join(repo.LocalPath, ".git")); os.IsNotExist(err) {
		return true
	}
	if repo.LastSync.IsZero() {
		return true
	}
	return time.Since(repo.LastSync) > s.syncInterval
}

// Sync brings every enabled repository's local mirror up to date,
// honoring priority order. A repository whose mirror was refreshed
// within the configured interval is skipped unless force is set. Every
// attempted repository runs even if an earlier one fails; the
// aggregate result is an error unless every attempt succeeded, per
// spec.md §4.1.
func (s *Store) Sync(force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var failures []string
	for _, repo := range s.repos {
		if !repo.Enabled {
			continue
		}
		if !force && !s.NeedsSync(repo) {
			s.l.Debug("mirror is within the configured sync interval, skipping", "repo", repo.Name)
			continue
		}
		if err := s.syncOne(repo); err != nil {
			s.l.Warn("repository sync failed", "repo", repo.Name, "error", err)
			failures = append(failures, repo.Name)
		}
	}

	if len(failures) > 0 {
		return &tperrors.NetworkError{URL: fmt.Sprintf("repositories: %v", failures), Err: fmt.Errorf("sync failed for %d repositories", len(failures))}
	}
	return nil
}

func (s *Store) syncOne(repo *types.Repository) error {
	b := s.breaker(repo.Name)
	if !b.Ready() {
		repo.CircuitState = types.CircuitOpen
		return fmt.Errorf("circuit open for repository %s", repo.Name)
	}

	err := b.Call(func() error { return s.fetchOrClone(repo) }, 0)
	if err != nil {
		if b.Tripped() {
			repo.CircuitState = types.CircuitOpen
		}
		return err
	}

	repo.CircuitState = types.CircuitClosed
	repo.LastSync = time.Now()
	hash, hashErr := s.headHash(repo)
	if hashErr == nil {
		repo.LastCommit = hash
	}
	return s.persistMeta(repo)
}

func (s *Store) fetchOrClone(repo *types.Repository) error {
	if _, err := os.Stat(filepath.Join(repo.LocalPath, ".git")); os.IsNotExist(err) {
		return s.cloneRepo(repo)
	}

	if !validCheckout(repo.LocalPath) {
		s.l.Warn("local mirror is present but invalid, erasing and re-cloning", "repo", repo.Name)
		if err := os.RemoveAll(repo.LocalPath); err != nil {
			return err
		}
		return s.cloneRepo(repo)
	}

	s.l.Debug("fetching repository", "repo", repo.Name, "url", repo.URL)
	gitRepo, err := git.PlainOpen(repo.LocalPath)
	if err != nil {
		return err
	}
	err = gitRepo.Fetch(&git.FetchOptions{RemoteName: "origin"})
	if err == git.NoErrAlreadyUpToDate {
		return nil
	}
	if err != nil {
		return err
	}

	worktree, err := gitRepo.Worktree()
	if err != nil {
		return err
	}
	return worktree.Pull(&git.PullOptions{RemoteName: "origin", ReferenceName: branchRef(repo.Branch), Force: true})
}

// cloneRepo clones repo.URL at the declared branch, shallowly — a full
// history mirror is never needed just to read a packages/ tree.
func (s *Store) cloneRepo(repo *types.Repository) error {
	s.l.Debug("cloning repository", "repo", repo.Name, "url", repo.URL)
	_, err := git.PlainClone(repo.LocalPath, false, &git.CloneOptions{
		URL:           repo.URL,
		ReferenceName: branchRef(repo.Branch),
		Depth:         1,
	})
	return err
}

// validCheckout reports whether path already holds a usable git
// checkout: openable, with a resolvable HEAD. A partial or corrupted
// .git directory (e.g. from an interrupted earlier clone) fails one of
// these, triggering an erase-and-re-clone instead of a bare error.
func validCheckout(path string) bool {
	gitRepo, err := git.PlainOpen(path)
	if err != nil {
		return false
	}
	_, err = gitRepo.Head()
	return err == nil
}

func branchRef(branch string) plumbing.ReferenceName {
	if branch == "" {
		return ""
	}
	return plumbing.NewBranchReferenceName(branch)
}

func (s *Store) headHash(repo *types.Repository) (string, error) {
	gitRepo, err := git.PlainOpen(repo.LocalPath)
	if err != nil {
		return "", err
	}
	head, err := gitRepo.Head()
	if err != nil {
		return "", err
	}
	return head.Hash().String(), nil
}

func (s *Store) persistMeta(repo *types.Repository) error {
	key := []byte("catalog/" + repo.Name)
	val := []byte(repo.LastSync.Format(time.RFC3339) + "\t" + repo.LastCommit)
	return s.meta.Put(key, val)
}

// Locate returns the first enabled repository (highest priority first)
// whose local mirror contains a package definition for name.
func (s *Store) Locate(name string) (*types.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, repo := range s.repos {
		if !repo.Enabled {
			continue
		}
		entry := filepath.Join(repo.LocalPath, "packages", name+".json")
		if _, err := os.Stat(entry); err == nil {
			return repo, nil
		}
	}
	return nil, &tperrors.NotFoundError{Name: name}
}

// EnabledRepos returns every enabled repository in descending priority
// order, for callers (e.g. search) that need to scan all of them
// rather than stop at the first exact match.
func (s *Store) EnabledRepos() []*types.Repository {
	s.mu.Lock()
	defer s.mu.Unlock()

	var enabled []*types.Repository
	for _, repo := range s.repos {
		if repo.Enabled {
			enabled = append(enabled, repo)
		}
	}
	return enabled
}

// Close releases the metadata store.
func (s *Store) Close() error {
	return s.meta.Close()
}
