package timemachine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/scribe/internal/editorerr"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

// newTestManager returns a manager, a project directory and the clock.
func newTestManager(t *testing.T, opts ...Option) (*Manager, string, *testClock) {
	t.Helper()
	requireGit(t)

	clock := newTestClock()
	opts = append([]Option{WithClock(clock.Now), WithLockTimeout(2 * time.Second)}, opts...)
	m, err := New(filepath.Join(t.TempDir(), "history"), opts...)
	require.NoError(t, err)

	project := t.TempDir()
	writeFile(t, project, "go.mod", "module example.com/p\n")
	return m, project, clock
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// gitCmd runs git outside the hidden store with a clean environment.
func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	full := append([]string{"-c", "user.name=test", "-c", "user.email=test@example.com"}, args...)
	cmd := exec.Command("git", full...)
	cmd.Dir = dir
	cmd.Env = scrubbedEnv()
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

// saveVersions commits n versions of a.txt, one minute apart.
func saveVersions(t *testing.T, m *Manager, project string, clock *testClock, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		path := writeFile(t, project, "a.txt", strings.Repeat("line\n", i))
		res, err := m.AutoCommitOnSave(ctx, project, []string{path})
		require.NoError(t, err)
		require.NotNil(t, res.Commit, "version %d", i)
		clock.Advance(time.Minute)
	}
}

func TestProjectHashIsStable(t *testing.T) {
	dir := t.TempDir()
	a, err := ProjectHash(dir)
	require.NoError(t, err)
	b, err := ProjectHash(dir + string(filepath.Separator) + ".")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	other, err := ProjectHash(t.TempDir())
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestInitIsIdempotent(t *testing.T) {
	m, project, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Init(ctx, project))
	require.NoError(t, m.Init(ctx, project))
	assert.True(t, m.Exists(project))

	dir, err := m.RepoPath(project)
	require.NoError(t, err)
	meta, err := readMetadata(dir)
	require.NoError(t, err)
	canonical, _ := CanonicalPath(project)
	assert.Equal(t, canonical, meta.OriginalPath)

	projects, err := m.ListProjects()
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, canonical, projects[0].Path)
}

func TestAutoCommitSingleFile(t *testing.T) {
	m, project, _ := newTestManager(t)
	ctx := context.Background()

	path := writeFile(t, project, "src/main.go", "package main\n")
	res, err := m.AutoCommitOnSave(ctx, project, []string{path})
	require.NoError(t, err)
	require.NotNil(t, res.Commit)

	assert.Equal(t, []string{"src/main.go"}, res.Committed)
	assert.Equal(t, "Auto-save: src/main.go at 2024-03-01 12:00:00", res.Commit.Subject)
	assert.Equal(t, "scribe", res.Commit.AuthorName)
	assert.Equal(t, "scribe@localhost", res.Commit.AuthorEmail)
	assert.True(t, res.Commit.Timestamp.Equal(newTestClock().Now()))

	n, err := m.CommitCount(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAutoCommitMultipleFiles(t *testing.T) {
	m, project, _ := newTestManager(t)

	a := writeFile(t, project, "a.txt", "a\n")
	b := writeFile(t, project, "b.txt", "b\n")
	res, err := m.AutoCommitOnSave(context.Background(), project, []string{a, b})
	require.NoError(t, err)
	require.NotNil(t, res.Commit)

	want := "Auto-save: 2 files at 2024-03-01 12:00:00\n\n  - a.txt\n  - b.txt"
	assert.Equal(t, want, res.Commit.Message)
}

func TestAutoCommitUnchangedContentMakesNoCommit(t *testing.T) {
	m, project, _ := newTestManager(t)
	ctx := context.Background()

	path := writeFile(t, project, "a.txt", "same\n")
	_, err := m.AutoCommitOnSave(ctx, project, []string{path})
	require.NoError(t, err)

	res, err := m.AutoCommitOnSave(ctx, project, []string{path})
	require.NoError(t, err)
	assert.Nil(t, res.Commit)

	n, err := m.CommitCount(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAutoCommitNoFiles(t *testing.T) {
	m, project, _ := newTestManager(t)
	res, err := m.AutoCommitOnSave(context.Background(), project, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Commit)
	assert.False(t, m.Exists(project))
}

func TestSkipStrategyExcludesLargeFile(t *testing.T) {
	m, project, _ := newTestManager(t, WithLargeFiles(LargeFileConfig{ThresholdMB: 1, Strategy: StrategySkip}))
	ctx := context.Background()

	small := writeFile(t, project, "small.txt", "small\n")
	big := writeFile(t, project, "big.bin", strings.Repeat("x", 2*1024*1024))

	res, err := m.AutoCommitOnSave(ctx, project, []string{small, big})
	require.NoError(t, err)
	require.NotNil(t, res.Commit)

	assert.Equal(t, []string{"small.txt"}, res.Committed)
	assert.Equal(t, []string{"big.bin"}, res.Skipped)
	assert.Contains(t, res.Commit.Message, "1 large file excluded")
	assert.Contains(t, res.Commit.Message, "  - big.bin")

	files, err := m.FilesChanged(ctx, project, res.Commit.Hash)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "small.txt", files[0].Path)
}

func TestErrorStrategyBlocksLargeFile(t *testing.T) {
	m, project, _ := newTestManager(t, WithLargeFiles(LargeFileConfig{ThresholdMB: 1, Strategy: StrategyError}))

	small := writeFile(t, project, "small.txt", "small\n")
	big := writeFile(t, project, "big.bin", strings.Repeat("x", 2*1024*1024))

	res, err := m.AutoCommitOnSave(context.Background(), project, []string{small, big})
	require.Error(t, err)
	assert.True(t, errors.Is(err, editorerr.ErrLargeFileBlocked))
	assert.Equal(t, []string{"big.bin"}, res.Blocked)
	require.NotNil(t, res.Commit)
	assert.Equal(t, []string{"small.txt"}, res.Committed)
}

func TestWarnStrategyCommitsUnlessExcluded(t *testing.T) {
	m, project, _ := newTestManager(t, WithLargeFiles(LargeFileConfig{ThresholdMB: 1, Strategy: StrategyWarn}))
	big := writeFile(t, project, "big.bin", strings.Repeat("x", 2*1024*1024))
	res, err := m.AutoCommitOnSave(context.Background(), project, []string{big})
	require.NoError(t, err)
	assert.Equal(t, []string{"big.bin"}, res.Committed)

	m2, project2, _ := newTestManager(t, WithLargeFiles(LargeFileConfig{ThresholdMB: 1, Strategy: StrategyWarn, ExcludeFromHistory: true}))
	big2 := writeFile(t, project2, "big.bin", strings.Repeat("x", 2*1024*1024))
	res, err = m2.AutoCommitOnSave(context.Background(), project2, []string{big2})
	require.NoError(t, err)
	assert.Nil(t, res.Commit)
	assert.Equal(t, []string{"big.bin"}, res.Skipped)
}

func TestFileOutsideProjectIsIgnored(t *testing.T) {
	m, project, _ := newTestManager(t)
	outside := writeFile(t, t.TempDir(), "x.txt", "x\n")

	res, err := m.AutoCommitOnSave(context.Background(), project, []string{outside})
	require.NoError(t, err)
	assert.Nil(t, res.Commit)
	assert.Equal(t, []string{outside}, res.Ignored)
}

func TestHiddenRepositoryNeverTouchesUserRepository(t *testing.T) {
	m, project, _ := newTestManager(t)

	gitCmd(t, project, "init", "-q")
	path := writeFile(t, project, "a.txt", "a\n")
	gitCmd(t, project, "add", "a.txt")
	gitCmd(t, project, "commit", "-q", "-m", "user commit")
	userHead := gitCmd(t, project, "rev-parse", "HEAD")

	// An inherited GIT_DIR must not redirect history commits.
	t.Setenv("GIT_DIR", filepath.Join(project, ".git"))
	t.Setenv("GIT_WORK_TREE", project)

	writeFile(t, project, "a.txt", "changed\n")
	res, err := m.AutoCommitOnSave(context.Background(), project, []string{path})
	require.NoError(t, err)
	require.NotNil(t, res.Commit)

	assert.Equal(t, userHead, gitCmd(t, project, "rev-parse", "HEAD"))
	assert.Equal(t, "1", gitCmd(t, project, "rev-list", "--count", "--all"))
	assert.Contains(t, gitCmd(t, project, "status", "--porcelain"), "a.txt")
}

func TestListCommitsPaging(t *testing.T) {
	m, project, clock := newTestManager(t)
	saveVersions(t, m, project, clock, 5)
	ctx := context.Background()

	page, err := m.ListCommits(ctx, project, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.Pages())
	require.Len(t, page.Commits, 2)
	assert.True(t, page.HasNext())
	assert.True(t, page.Commits[0].Timestamp.After(page.Commits[1].Timestamp))

	last, err := m.ListCommits(ctx, project, 2, 2)
	require.NoError(t, err)
	require.Len(t, last.Commits, 1)
	assert.False(t, last.HasNext())

	beyond, err := m.ListCommits(ctx, project, 7, 2)
	require.NoError(t, err)
	assert.Empty(t, beyond.Commits)
}

func TestQueriesOnEmptyHistory(t *testing.T) {
	m, project, _ := newTestManager(t)
	ctx := context.Background()

	page, err := m.ListCommits(ctx, project, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, page.PageSize)
	assert.Zero(t, page.Total)

	_, _, ok, err := m.DateRange(ctx, project)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.CommitDetails(ctx, project, "HEAD")
	assert.True(t, errors.Is(err, editorerr.ErrNotFound))
}

func TestCommitDetailsAndDiff(t *testing.T) {
	m, project, clock := newTestManager(t)
	ctx := context.Background()

	path := writeFile(t, project, "a.txt", "one\ntwo\n")
	first, err := m.AutoCommitOnSave(ctx, project, []string{path})
	require.NoError(t, err)
	clock.Advance(time.Hour)
	writeFile(t, project, "a.txt", "one\n2\n")
	second, err := m.AutoCommitOnSave(ctx, project, []string{path})
	require.NoError(t, err)

	c, err := m.CommitDetails(ctx, project, second.Commit.ShortHash)
	require.NoError(t, err)
	assert.Equal(t, second.Commit.Hash, c.Hash)
	assert.Equal(t, []string{first.Commit.Hash}, c.Parents)

	files, err := m.FilesChanged(ctx, project, first.Commit.Hash)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, StatusAdded, files[0].Status)

	d, err := m.Diff(ctx, project, first.Commit.Hash, second.Commit.Hash)
	require.NoError(t, err)
	require.Len(t, d.Files, 1)
	assert.Equal(t, 1, d.Additions)
	assert.Equal(t, 1, d.Deletions)
	assert.Equal(t, StatusModified, d.Files[0].Status)

	fd, err := m.FileDiff(ctx, project, path, "", second.Commit.Hash)
	require.NoError(t, err)
	require.Len(t, fd.Hunks, 1)
	var kinds []byte
	for _, l := range fd.Hunks[0].Lines {
		kinds = append(kinds, l.Kind)
	}
	assert.Equal(t, []byte{' ', '-', '+'}, kinds)

	oldest, newest, ok, err := m.DateRange(ctx, project)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Hour, newest.Sub(oldest))
}

func TestSearchAndFilterCommits(t *testing.T) {
	m, project, _ := newTestManager(t)
	ctx := context.Background()

	a := writeFile(t, project, "docs/readme.md", "r\n")
	_, err := m.AutoCommitOnSave(ctx, project, []string{a})
	require.NoError(t, err)
	b := writeFile(t, project, "main.go", "package main\n")
	_, err = m.AutoCommitOnSave(ctx, project, []string{b})
	require.NoError(t, err)

	found, err := m.SearchCommits(ctx, project, "README")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Contains(t, found[0].Subject, "docs/readme.md")

	touching, err := m.CommitsTouching(ctx, project, "main")
	require.NoError(t, err)
	require.Len(t, touching, 1)
	assert.Contains(t, touching[0].Subject, "main.go")
}

func TestCleanupKeepsNewestCommits(t *testing.T) {
	m, project, clock := newTestManager(t, WithRetention(KeepCommits(3)))
	saveVersions(t, m, project, clock, 5)
	ctx := context.Background()

	before, err := m.Commits(ctx, project)
	require.NoError(t, err)
	require.Len(t, before, 5)

	stats, err := m.Cleanup(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.CommitsBefore)
	assert.Equal(t, 3, stats.CommitsAfter)
	assert.Equal(t, 2, stats.Removed())
	assert.NotEmpty(t, stats.Backup)

	after, err := m.Commits(ctx, project)
	require.NoError(t, err)
	require.Len(t, after, 3)
	for i := range after {
		assert.Equal(t, before[i].Message, after[i].Message)
		assert.True(t, before[i].Timestamp.Equal(after[i].Timestamp))
	}
	assert.Empty(t, after[2].Parents)

	content, err := m.FileAtCommit(ctx, project, after[0].Hash, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("line\n", 5), string(content))

	backups, err := m.ListBackups(project)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, stats.Backup, backups[0].Name)
}

func TestCleanupByAge(t *testing.T) {
	m, project, clock := newTestManager(t, WithRetention(KeepDays(2)))
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		path := writeFile(t, project, "a.txt", strings.Repeat("x", i))
		_, err := m.AutoCommitOnSave(ctx, project, []string{path})
		require.NoError(t, err)
		clock.Advance(24 * time.Hour)
	}
	// Commits are now 4, 3, 2 and 1 days old.
	stats, err := m.Cleanup(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CommitsAfter)
}

func TestRetentionAlwaysKeepsNewest(t *testing.T) {
	m, project, clock := newTestManager(t, WithRetention(KeepDays(1)))
	ctx := context.Background()

	saveVersions(t, m, project, clock, 2)
	clock.Advance(30 * 24 * time.Hour)

	stats, err := m.Cleanup(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CommitsAfter)
}

func TestCleanupBySize(t *testing.T) {
	m, project, clock := newTestManager(t, WithRetention(KeepSize(2500)))
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		path := writeFile(t, project, "a.txt", strings.Repeat(string(rune('a'+i)), 1000))
		_, err := m.AutoCommitOnSave(ctx, project, []string{path})
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	stats, err := m.Cleanup(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CommitsAfter)
}

func TestShouldRetain(t *testing.T) {
	m, project, clock := newTestManager(t, WithRetention(KeepCommits(2)))
	saveVersions(t, m, project, clock, 3)
	ctx := context.Background()

	commits, err := m.Commits(ctx, project)
	require.NoError(t, err)

	keep, err := m.ShouldRetain(ctx, project, commits[1])
	require.NoError(t, err)
	assert.True(t, keep)

	keep, err = m.ShouldRetain(ctx, project, commits[2])
	require.NoError(t, err)
	assert.False(t, keep)
}

func TestAutoCleanup(t *testing.T) {
	m, project, clock := newTestManager(t)
	saveVersions(t, m, project, clock, 3)

	stats, err := m.AutoCleanup(context.Background(), project)
	require.NoError(t, err)
	assert.Nil(t, stats, "forever never cleans up")

	m2, project2, clock2 := newTestManager(t, WithRetention(KeepCommits(2)), WithAutoCleanup(true))
	saveVersions(t, m2, project2, clock2, 4)
	n, err := m2.CommitCount(context.Background(), project2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCleanupCarriesAnnotations(t *testing.T) {
	m, project, clock := newTestManager(t, WithRetention(KeepCommits(2)))
	saveVersions(t, m, project, clock, 3)
	ctx := context.Background()

	commits, err := m.Commits(ctx, project)
	require.NoError(t, err)
	require.NoError(t, m.Annotate(ctx, project, commits[0].Hash, "release candidate"))
	require.NoError(t, m.Annotate(ctx, project, commits[2].Hash, "dropped"))

	_, err = m.Cleanup(ctx, project)
	require.NoError(t, err)

	after, err := m.Commits(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, "release candidate", after[0].Annotation)

	notes, err := m.Annotations(ctx, project)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestReplayStopsWhenCancelled(t *testing.T) {
	m, project, clock := newTestManager(t)
	saveVersions(t, m, project, clock, 2)

	r, err := m.locate(project)
	require.NoError(t, err)
	commits, err := m.logLocked(context.Background(), r)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = replay(ctx, r, commits, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAutoGCResetsCounter(t *testing.T) {
	m, project, clock := newTestManager(t, WithGC(GCConfig{Enabled: true, CommitsThreshold: 2}))
	saveVersions(t, m, project, clock, 3)

	r, err := m.locate(project)
	require.NoError(t, err)
	m.mu.Lock()
	count := m.sinceGC[r.hash]
	m.mu.Unlock()
	assert.Equal(t, 1, count)

	due, err := m.ShouldRunGC(context.Background(), project)
	require.NoError(t, err)
	assert.True(t, due)
}

func TestAnnotations(t *testing.T) {
	m, project, clock := newTestManager(t)
	saveVersions(t, m, project, clock, 1)
	ctx := context.Background()

	require.NoError(t, m.Annotate(ctx, project, "HEAD", "  before refactor "))
	note, ok, err := m.Annotation(ctx, project, "HEAD")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "before refactor", note)

	c, err := m.CommitDetails(ctx, project, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, "before refactor", c.Annotation)

	require.NoError(t, m.RemoveAnnotation(ctx, project, "HEAD"))
	_, ok, err = m.Annotation(ctx, project, "HEAD")
	require.NoError(t, err)
	assert.False(t, ok)

	err = m.Annotate(ctx, project, "0123456789abcdef", "x")
	assert.True(t, errors.Is(err, editorerr.ErrNotFound))
}

func TestRestoreFile(t *testing.T) {
	m, project, clock := newTestManager(t)
	ctx := context.Background()

	path := writeFile(t, project, "a.txt", "original\n")
	first, err := m.AutoCommitOnSave(ctx, project, []string{path})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	writeFile(t, project, "a.txt", "edited\n")
	_, err = m.AutoCommitOnSave(ctx, project, []string{path})
	require.NoError(t, err)

	preview, err := m.PreviewRestore(ctx, project, first.Commit.Hash, path)
	require.NoError(t, err)
	assert.False(t, preview.Unchanged)
	assert.Equal(t, "original\n", string(preview.Historical))
	require.NotNil(t, preview.Diff)
	assert.Equal(t, 1, preview.Diff.Additions)
	assert.Equal(t, 1, preview.Diff.Deletions)

	_, err = m.RestoreFile(ctx, project, first.Commit.Hash, path, RestoreOptions{Unsaved: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, editorerr.ErrRestoreOverUnsaved))
	assert.True(t, editorerr.IsConflict(err))
	disk, _ := os.ReadFile(path)
	assert.Equal(t, "edited\n", string(disk), "refused restore must not write")

	content, err := m.RestoreFile(ctx, project, first.Commit.Hash, path, RestoreOptions{Unsaved: true, Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(content))
	disk, _ = os.ReadFile(path)
	assert.Equal(t, "original\n", string(disk))

	n, err := m.CommitCount(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "restore does not rewrite history")

	preview, err = m.PreviewRestore(ctx, project, first.Commit.Hash, path)
	require.NoError(t, err)
	assert.True(t, preview.Unchanged)
}

func TestPreviewRestoreOfDeletedFile(t *testing.T) {
	m, project, _ := newTestManager(t)
	ctx := context.Background()

	path := writeFile(t, project, "gone.txt", "a\nb\n")
	res, err := m.AutoCommitOnSave(ctx, project, []string{path})
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	preview, err := m.PreviewRestore(ctx, project, res.Commit.Hash, "gone.txt")
	require.NoError(t, err)
	assert.True(t, preview.Missing)
	assert.Equal(t, 2, preview.Diff.Additions)
}

func TestFileAtCommitMissingFile(t *testing.T) {
	m, project, clock := newTestManager(t)
	saveVersions(t, m, project, clock, 1)

	_, err := m.FileAtCommit(context.Background(), project, "HEAD", "nope.txt")
	assert.True(t, errors.Is(err, editorerr.ErrNotFound))
}

func TestRestoreProject(t *testing.T) {
	m, project, clock := newTestManager(t)
	ctx := context.Background()

	a := writeFile(t, project, "a.txt", "a1\n")
	b := writeFile(t, project, "sub/b.txt", "b1\n")
	first, err := m.AutoCommitOnSave(ctx, project, []string{a, b})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	writeFile(t, project, "a.txt", "a2\n")
	writeFile(t, project, "sub/b.txt", "b2\n")

	restored, err := m.RestoreProject(ctx, project, first.Commit.Hash, RestoreOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "sub/b.txt"}, restored)

	got, _ := os.ReadFile(b)
	assert.Equal(t, "b1\n", string(got))
}

func TestExportAndImport(t *testing.T) {
	m, project, clock := newTestManager(t)
	saveVersions(t, m, project, clock, 3)
	ctx := context.Background()

	dest := filepath.Join(t.TempDir(), "export")
	require.NoError(t, m.Export(ctx, project, dest))
	assert.Equal(t, "3", gitCmd(t, dest, "rev-list", "--count", "HEAD"))
	assert.Empty(t, gitCmd(t, dest, "remote"))
	content, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("line\n", 3), string(content))

	err = m.Export(ctx, project, dest)
	assert.True(t, errors.Is(err, editorerr.ErrInvalidOperation))

	other := t.TempDir()
	n, err := m.Import(ctx, other, dest)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	orig, err := m.Commits(ctx, project)
	require.NoError(t, err)
	imported, err := m.Commits(ctx, other)
	require.NoError(t, err)
	require.Len(t, imported, 3)
	for i := range orig {
		assert.Equal(t, orig[i].Message, imported[i].Message)
		assert.True(t, orig[i].Timestamp.Equal(imported[i].Timestamp))
	}

	_, err = m.Import(ctx, other, t.TempDir())
	assert.Error(t, err)
}

func TestImportAppendsToExistingHistory(t *testing.T) {
	m, project, clock := newTestManager(t)
	saveVersions(t, m, project, clock, 2)
	ctx := context.Background()

	src := t.TempDir()
	gitCmd(t, src, "init", "-q")
	writeFile(t, src, "x.txt", "x\n")
	gitCmd(t, src, "add", "x.txt")
	gitCmd(t, src, "commit", "-q", "-m", "external")

	n, err := m.Import(ctx, project, src)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	commits, err := m.Commits(ctx, project)
	require.NoError(t, err)
	require.Len(t, commits, 3)
	assert.Equal(t, "external", commits[0].Subject)
	assert.Equal(t, "test", commits[0].AuthorName)
}

func TestVerifyAndRepair(t *testing.T) {
	m, project, clock := newTestManager(t)
	ctx := context.Background()

	report, err := m.Verify(ctx, project)
	require.NoError(t, err)
	assert.False(t, report.Valid, "no repository yet")

	require.NoError(t, m.Init(ctx, project))
	report, err = m.Verify(ctx, project)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Contains(t, report.Warnings, "repository is empty (no commits)")

	saveVersions(t, m, project, clock, 2)
	report, err = m.Verify(ctx, project)
	require.NoError(t, err)
	assert.True(t, report.Valid, "errors: %v", report.Errors)

	// A stale lock file is cleared by repair.
	r, err := m.locate(project)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(r.gitDir, "index.lock"), nil, 0o644))
	report, err = m.Repair(ctx, project)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.NoFileExists(t, filepath.Join(r.gitDir, "index.lock"))

	// Removing a blob cannot be repaired; the backup is put back.
	blob, err := r.run(ctx, "rev-parse", "HEAD:a.txt")
	require.NoError(t, err)
	blob = strings.TrimSpace(blob)
	objPath := filepath.Join(r.gitDir, "objects", blob[:2], blob[2:])
	require.FileExists(t, objPath)
	require.NoError(t, os.Remove(objPath))

	report, err = m.Verify(ctx, project)
	require.NoError(t, err)
	assert.False(t, report.Valid)

	_, err = m.Repair(ctx, project)
	require.Error(t, err)
	assert.True(t, errors.Is(err, editorerr.ErrCorruptRepository))
	assert.True(t, m.Exists(project))

	backups, err := m.ListBackups(project)
	require.NoError(t, err)
	assert.Len(t, backups, 2)
}

func TestBackups(t *testing.T) {
	m, project, clock := newTestManager(t)
	saveVersions(t, m, project, clock, 2)
	ctx := context.Background()

	first, err := m.CreateBackup(ctx, project)
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := m.CreateBackup(ctx, project)
	require.NoError(t, err)

	backups, err := m.ListBackups(project)
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, second, backups[0].Name)
	assert.Equal(t, first, backups[1].Name)

	// History written after the backup disappears when it is restored.
	saveVersions(t, m, project, clock, 1)
	require.NoError(t, m.RestoreBackup(ctx, project, first))
	n, err := m.CommitCount(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, m.DeleteBackup(project, first))
	backups, err = m.ListBackups(project)
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	err = m.DeleteBackup(project, "../escape")
	assert.True(t, errors.Is(err, editorerr.ErrInvalidOperation))
	err = m.DeleteBackup(project, first)
	assert.True(t, errors.Is(err, editorerr.ErrNotFound))
}

func TestStats(t *testing.T) {
	m, project, clock := newTestManager(t, WithLargeFiles(LargeFileConfig{ThresholdMB: 1, Strategy: StrategyWarn}))
	ctx := context.Background()

	a := writeFile(t, project, "a.txt", "a\n")
	big := writeFile(t, project, "big.bin", strings.Repeat("x", 1024*1024+1))
	_, err := m.AutoCommitOnSave(ctx, project, []string{a, big})
	require.NoError(t, err)
	clock.Advance(8 * 24 * time.Hour)
	writeFile(t, project, "a.txt", "aa\n")
	_, err = m.AutoCommitOnSave(ctx, project, []string{a})
	require.NoError(t, err)

	stats, err := m.Stats(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalCommits)
	assert.Positive(t, stats.RepoSize)
	assert.Equal(t, 8*24*time.Hour, stats.Newest.Sub(stats.Oldest))
	require.Len(t, stats.Files, 2)
	assert.Equal(t, "a.txt", stats.Files[0].Path)
	assert.Equal(t, 2, stats.Files[0].CommitCount)
	assert.Equal(t, 1, stats.LargeFileCount)
	assert.Equal(t, int64(1024*1024+1), stats.LargeFileBytes)

	large, err := m.LargeFilesInHistory(ctx, project)
	require.NoError(t, err)
	require.Len(t, large, 1)
	assert.Equal(t, "big.bin", large[0].Path)

	perDay, err := m.CommitsPerDay(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2024-03-01": 1, "2024-03-09": 1}, perDay)

	perWeek, err := m.CommitsPerWeek(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2024-W09": 1, "2024-W10": 1}, perWeek)

	perMonth, err := m.CommitsPerMonth(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2024-03": 2}, perMonth)
}

func TestDetectTrackingMode(t *testing.T) {
	project := t.TempDir()
	writeFile(t, project, "package.json", "{}")
	file := writeFile(t, project, "src/deep/index.js", "")

	mode, err := DetectTrackingMode(file)
	require.NoError(t, err)
	assert.Equal(t, TrackProject, mode.Kind)
	want, _ := CanonicalPath(project)
	assert.Equal(t, want, mode.Root)

	loose := writeFile(t, t.TempDir(), "notes.txt", "")
	mode, err = DetectTrackingMode(loose)
	require.NoError(t, err)
	if mode.Kind == TrackSingleFile {
		want, _ := CanonicalPath(filepath.Dir(loose))
		assert.Equal(t, want, mode.Root)
	}
}

func TestHandleProjectRename(t *testing.T) {
	m, project, clock := newTestManager(t)
	saveVersions(t, m, project, clock, 2)
	ctx := context.Background()

	renamed := filepath.Join(t.TempDir(), "renamed")
	require.NoError(t, os.Rename(project, renamed))
	require.NoError(t, m.HandleProjectRename(ctx, project, renamed))

	n, err := m.CommitCount(ctx, renamed)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dir, err := m.RepoPath(renamed)
	require.NoError(t, err)
	meta, err := readMetadata(dir)
	require.NoError(t, err)
	want, _ := CanonicalPath(renamed)
	assert.Equal(t, want, meta.OriginalPath)
	assert.NotEmpty(t, meta.RenamedFrom)

	// Renaming a project without history is a no-op.
	require.NoError(t, m.HandleProjectRename(ctx, t.TempDir(), filepath.Join(t.TempDir(), "x")))
}

func TestConcurrentCommitsAreSerialised(t *testing.T) {
	m, project, _ := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		path := writeFile(t, project, "f"+string(rune('0'+i))+".txt", "x\n")
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.AutoCommitOnSave(ctx, project, []string{path})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := m.CommitCount(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestLockContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repo.lock")
	unlock, err := acquireLock(context.Background(), path, time.Second)
	require.NoError(t, err)

	_, err = acquireLock(context.Background(), path, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLocked)

	unlock()
	unlock2, err := acquireLock(context.Background(), path, time.Second)
	require.NoError(t, err)
	unlock2()
}

func TestParseCommitLog(t *testing.T) {
	out := "abc123\nabc\nscribe\nscribe@localhost\n1700000000\nscribe\nscribe@localhost\n1700000001\np1 p2\nAuto-save: 2 files at x\n\n  - a\n  - b\n\n\x00" +
		"\ndef456\ndef\nscribe\nscribe@localhost\n1700000100\nscribe\nscribe@localhost\n1700000100\n\nsubject only\n\x00"

	commits, err := parseCommitLog(out)
	require.NoError(t, err)
	require.Len(t, commits, 2)

	assert.Equal(t, "abc123", commits[0].Hash)
	assert.Equal(t, []string{"p1", "p2"}, commits[0].Parents)
	assert.Equal(t, "Auto-save: 2 files at x", commits[0].Subject)
	assert.Equal(t, "Auto-save: 2 files at x\n\n  - a\n  - b", commits[0].Message)
	assert.Equal(t, int64(1700000001), commits[0].CommitTime.Unix())

	assert.Empty(t, commits[1].Parents)
	assert.Equal(t, "subject only", commits[1].Subject)

	_, err = parseCommitLog("short\nrecord\x00")
	assert.Error(t, err)
}

func TestParseDiff(t *testing.T) {
	out := `diff --git a/a.txt b/a.txt
index 1111111..2222222 100644
--- a/a.txt
+++ b/a.txt
@@ -1,3 +1,3 @@ func
 keep
-old
+new
 tail
@@ -10 +10,2 @@
-x
+y
+z
\ No newline at end of file
diff --git a/new.txt b/new.txt
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/new.txt
@@ -0,0 +1 @@
+hello
diff --git a/img.png b/img.png
index 4444444..5555555 100644
Binary files a/img.png and b/img.png differ
`
	d := parseDiff(out)
	require.Len(t, d.Files, 3)
	assert.Equal(t, 4, d.Additions)
	assert.Equal(t, 2, d.Deletions)

	f := d.Files[0]
	require.Len(t, f.Hunks, 2)
	assert.Equal(t, 1, f.Hunks[0].OldStart)
	assert.Equal(t, 3, f.Hunks[0].NewLines)
	assert.Equal(t, 10, f.Hunks[1].OldStart)
	assert.Equal(t, 1, f.Hunks[1].OldLines)
	assert.Equal(t, 2, f.Hunks[1].NewLines)
	assert.Equal(t, DiffLine{Kind: '+', Content: "new", NewLine: 2}, f.Hunks[0].Lines[2])
	assert.Equal(t, byte('\\'), f.Hunks[1].Lines[3].Kind)

	added, ok := d.File("new.txt")
	require.True(t, ok)
	assert.Equal(t, StatusAdded, added.Status)
	assert.Empty(t, added.OldPath)
	assert.Equal(t, "new.txt", added.Path())

	assert.True(t, d.Files[2].Binary)
	assert.True(t, parseDiff("").Empty())
}

func TestParseNameStatus(t *testing.T) {
	out := "M\x00a.txt\x00A\x00dir/b.txt\x00D\x00c.txt\x00R100\x00old.txt\x00new.txt\x00"
	got := parseNameStatus(out)
	assert.Equal(t, []FileChange{
		{Path: "a.txt", Status: StatusModified},
		{Path: "dir/b.txt", Status: StatusAdded},
		{Path: "c.txt", Status: StatusDeleted},
		{Path: "new.txt", OldPath: "old.txt", Status: StatusRenamed},
	}, got)
}

func TestCommitMessage(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "Auto-save: a.go at 2024-01-02 03:04:05", commitMessage([]string{"a.go"}, nil, at))
	assert.Equal(t,
		"Auto-save: a.go at 2024-01-02 03:04:05\n\n(2 large files excluded)\n  - x.bin\n  - y.bin",
		commitMessage([]string{"a.go"}, []string{"x.bin", "y.bin"}, at))
}

func TestParseRetentionAndStrategy(t *testing.T) {
	p, err := ParseRetention("Commits", 3)
	require.NoError(t, err)
	assert.Equal(t, KeepCommits(3), p)
	assert.Equal(t, "commits(3)", p.String())

	p, err = ParseRetention("", 0)
	require.NoError(t, err)
	assert.Equal(t, Forever, p)

	_, err = ParseRetention("days", 0)
	assert.Error(t, err)
	_, err = ParseRetention("weeks", 1)
	assert.Error(t, err)

	s, err := ParseStrategy("SKIP")
	require.NoError(t, err)
	assert.Equal(t, StrategySkip, s)
	_, err = ParseStrategy("compress")
	assert.Error(t, err)
}

func TestScrubbedEnvDropsGitVariables(t *testing.T) {
	t.Setenv("GIT_DIR", "/elsewhere")
	t.Setenv("GIT_AUTHOR_NAME", "someone")
	for _, kv := range scrubbedEnv() {
		assert.False(t, strings.HasPrefix(kv, "GIT_DIR="), kv)
		assert.False(t, strings.HasPrefix(kv, "GIT_AUTHOR_NAME="), kv)
	}
	assert.True(t, bytes.Contains([]byte(strings.Join(scrubbedEnv(), "\n")), []byte("GIT_CONFIG_NOSYSTEM=1")))
}
