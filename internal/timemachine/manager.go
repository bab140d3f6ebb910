package timemachine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dshills/scribe/internal/editorerr"
	"github.com/dshills/scribe/internal/logging"
)

const (
	gitDirName    = "repo.git"
	workDirName   = "work"
	backupInfix   = ".backup_"
	lockSuffix    = ".lock"
	defaultCache  = 512
	defaultLockTO = 10 * time.Second
)

// Manager is the git history manager for every project under one storage
// root. It is safe for concurrent use; operations on the same project are
// serialised by a per-project mutex and, across processes, a lock file.
type Manager struct {
	root        string
	retention   RetentionPolicy
	largeFiles  LargeFileConfig
	gc          GCConfig
	autoCleanup bool
	lockTimeout time.Duration
	cacheSize   int

	log *logging.Logger
	now func() time.Time

	details *lru.Cache[string, Commit]
	changes *lru.Cache[string, []FileChange]

	mu       sync.Mutex
	projects map[string]*sync.Mutex
	sinceGC  map[string]int
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetention sets the retention policy used by Cleanup.
func WithRetention(p RetentionPolicy) Option {
	return func(m *Manager) { m.retention = p }
}

// WithLargeFiles sets the large-file policy.
func WithLargeFiles(c LargeFileConfig) Option {
	return func(m *Manager) { m.largeFiles = c }
}

// WithGC sets the automatic gc policy.
func WithGC(c GCConfig) Option {
	return func(m *Manager) { m.gc = c }
}

// WithAutoCleanup applies the retention policy after every auto-commit.
func WithAutoCleanup(enabled bool) Option {
	return func(m *Manager) { m.autoCleanup = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.log = logging.OrNop(l).WithComponent("timemachine") }
}

// WithClock overrides the time source used for commit dates and retention.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLockTimeout bounds how long an operation waits for another process.
func WithLockTimeout(d time.Duration) Option {
	return func(m *Manager) { m.lockTimeout = d }
}

// WithCacheSize sets the number of commits kept in the detail caches.
func WithCacheSize(n int) Option {
	return func(m *Manager) { m.cacheSize = n }
}

// New creates a manager storing histories under root.
func New(root string, opts ...Option) (*Manager, error) {
	if !gitAvailable() {
		return nil, editorerr.New(editorerr.KindGitInit, "init history", root, ErrGitNotFound)
	}
	if root == "" {
		return nil, editorerr.Newf(editorerr.KindGitInit, "init history", "", "storage root is empty")
	}

	m := &Manager{
		root:        root,
		retention:   Forever,
		largeFiles:  DefaultLargeFileConfig(),
		gc:          DefaultGCConfig(),
		lockTimeout: defaultLockTO,
		cacheSize:   defaultCache,
		log:         logging.Nop(),
		now:         time.Now,
		projects:    make(map[string]*sync.Mutex),
		sinceGC:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}

	var err error
	if m.details, err = lru.New[string, Commit](m.cacheSize); err != nil {
		return nil, fmt.Errorf("create commit cache: %w", err)
	}
	if m.changes, err = lru.New[string, []FileChange](m.cacheSize); err != nil {
		return nil, fmt.Errorf("create change cache: %w", err)
	}

	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, editorerr.New(editorerr.KindGitInit, "init history", root, err)
	}
	return m, nil
}

// Root returns the storage root.
func (m *Manager) Root() string { return m.root }

// Retention returns the active retention policy.
func (m *Manager) Retention() RetentionPolicy { return m.retention }

// LargeFiles returns the large-file policy.
func (m *Manager) LargeFiles() LargeFileConfig { return m.largeFiles }

// repo is one project's hidden repository.
type repo struct {
	project string
	hash    string
	dir     string
	gitDir  string
	work    string
}

func (r *repo) git(args ...string) *gitCommand {
	return &gitCommand{gitDir: r.gitDir, workTree: r.work, args: args}
}

func (r *repo) run(ctx context.Context, args ...string) (string, error) {
	return r.git(args...).run(ctx)
}

func (r *repo) lines(ctx context.Context, args ...string) ([]string, error) {
	out, err := r.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// hasHead reports whether the repository has at least one commit.
func (r *repo) hasHead(ctx context.Context) bool {
	_, err := r.run(ctx, "rev-parse", "--verify", "-q", "HEAD^{commit}")
	return err == nil
}

// CanonicalPath resolves path to an absolute path with symlinks evaluated.
// A path that does not exist is cleaned instead.
func CanonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}

// ProjectHash returns the stable identifier of a project path.
func ProjectHash(project string) (string, error) {
	canonical, err := CanonicalPath(project)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// RepoPath returns the directory holding project's history.
func (m *Manager) RepoPath(project string) (string, error) {
	hash, err := ProjectHash(project)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.root, hash), nil
}

func (m *Manager) locate(project string) (*repo, error) {
	canonical, err := CanonicalPath(project)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(canonical))
	hash := hex.EncodeToString(sum[:])
	dir := filepath.Join(m.root, hash)
	return &repo{
		project: canonical,
		hash:    hash,
		dir:     dir,
		gitDir:  filepath.Join(dir, gitDirName),
		work:    filepath.Join(dir, workDirName),
	}, nil
}

// Exists reports whether project already has a history store.
func (m *Manager) Exists(project string) bool {
	r, err := m.locate(project)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(r.gitDir, "HEAD"))
	return err == nil
}

// projectMutex serialises operations on one project within the process.
func (m *Manager) projectMutex(hash string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.projects[hash]
	if !ok {
		mu = &sync.Mutex{}
		m.projects[hash] = mu
	}
	return mu
}

// withRepo opens (initialising if needed) project's repository and runs fn
// while holding both the process and the file lock.
func (m *Manager) withRepo(ctx context.Context, project string, fn func(*repo) error) error {
	r, err := m.locate(project)
	if err != nil {
		return err
	}

	mu := m.projectMutex(r.hash)
	mu.Lock()
	defer mu.Unlock()

	unlock, err := acquireLock(ctx, r.dir+lockSuffix, m.lockTimeout)
	if err != nil {
		return editorerr.New(editorerr.KindGit, "lock history", r.dir, err)
	}
	defer unlock()

	if err := m.ensureRepo(ctx, r); err != nil {
		return err
	}
	return fn(r)
}

// ensureRepo initialises the repository when missing and moves a corrupted
// one aside before reinitialising.
func (m *Manager) ensureRepo(ctx context.Context, r *repo) error {
	_, statErr := os.Stat(filepath.Join(r.gitDir, "HEAD"))
	switch {
	case statErr == nil:
		_, err := r.run(ctx, "rev-parse", "--git-dir")
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		aside := r.dir + backupInfix + m.now().Format(backupStamp) + "_corrupt"
		m.log.Warn("history repository is corrupted, reinitialising",
			zap.String("repo", r.dir), zap.String("moved_to", aside), zap.Error(err))
		if err := os.Rename(r.dir, aside); err != nil {
			return editorerr.New(editorerr.KindCorruptRepository, "open history", r.dir, err)
		}
	case !errors.Is(statErr, fs.ErrNotExist):
		return editorerr.New(editorerr.KindGitInit, "open history", r.dir, statErr)
	}

	if err := os.MkdirAll(r.work, 0o700); err != nil {
		return editorerr.New(editorerr.KindGitInit, "init history", r.dir, err)
	}
	if _, err := r.run(ctx, "init", "-q"); err != nil {
		return editorerr.New(editorerr.KindGitInit, "init history", r.dir, err)
	}
	if err := writeMetadata(r.dir, r.project, m.now()); err != nil {
		return editorerr.New(editorerr.KindGitInit, "init history", r.dir, err)
	}
	m.log.Debug("initialised history repository",
		zap.String("project", r.project), zap.String("repo", r.dir))
	return nil
}

// Init creates project's history store if it does not exist.
func (m *Manager) Init(ctx context.Context, project string) error {
	return m.withRepo(ctx, project, func(*repo) error { return nil })
}

// cacheKey scopes cache entries to one repository.
func cacheKey(r *repo, hash string) string {
	return r.hash + ":" + hash
}

// purgeCaches drops cached data after history is rewritten.
func (m *Manager) purgeCaches() {
	m.details.Purge()
	m.changes.Purge()
}
