package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryProjectsRename(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	g, out := testGlobals(t)
	g.cfg.History.StorageRoot = filepath.Join(t.TempDir(), "history")
	tm, err := g.timeMachine()
	require.NoError(t, err)
	ctx := context.Background()

	project := filepath.Join(t.TempDir(), "old")
	require.NoError(t, os.MkdirAll(project, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "go.mod"), []byte("module example.com/p\n"), 0o644))
	path := filepath.Join(project, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\n"), 0o644))
	res, err := tm.AutoCommitOnSave(ctx, project, []string{path})
	require.NoError(t, err)
	require.NotNil(t, res.Commit)

	moved := filepath.Join(t.TempDir(), "new")
	require.NoError(t, os.Rename(project, moved))

	cmd := newHistoryCmd(g)
	cmd.SetArgs([]string{"projects", "rename", project, moved})
	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, out.String(), "now follows "+moved)

	tm, err = g.timeMachine()
	require.NoError(t, err)
	n, err := tm.CommitCount(ctx, moved)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
