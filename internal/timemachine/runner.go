package timemachine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
)

// identity and safety settings applied to every invocation.
var baseConfig = []string{
	"-c", "user.name=scribe",
	"-c", "user.email=scribe@localhost",
	"-c", "commit.gpgsign=false",
	"-c", "core.autocrlf=false",
	"-c", "core.hooksPath=" + os.DevNull,
	"-c", "gc.auto=0",
	"-c", "init.defaultBranch=main",
}

// gitCommand is a git invocation against one hidden repository.
type gitCommand struct {
	gitDir   string
	workTree string
	dir      string
	args     []string
	env      []string
	stdin    io.Reader
}

// scrubbedEnv returns the process environment without GIT_* variables.
func scrubbedEnv() []string {
	env := os.Environ()
	out := make([]string, 0, len(env)+6)
	for _, kv := range env {
		if strings.HasPrefix(kv, "GIT_") {
			continue
		}
		out = append(out, kv)
	}
	return append(out,
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_CONFIG_GLOBAL="+os.DevNull,
		"GIT_TERMINAL_PROMPT=0",
		"LC_ALL=C",
	)
}

func (c *gitCommand) cmd(ctx context.Context) *exec.Cmd {
	args := append(append([]string{}, baseConfig...), c.args...)
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.dir
	env := scrubbedEnv()
	if c.gitDir != "" {
		env = append(env, "GIT_DIR="+c.gitDir)
	}
	if c.workTree != "" {
		env = append(env, "GIT_WORK_TREE="+c.workTree)
		if cmd.Dir == "" {
			cmd.Dir = c.workTree
		}
	}
	cmd.Env = append(env, c.env...)
	cmd.Stdin = c.stdin
	return cmd
}

// output runs the command and returns its raw stdout.
func (c *gitCommand) output(ctx context.Context) ([]byte, error) {
	cmd := c.cmd(ctx)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		ge := &GitError{
			Args:     c.args,
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			ge.ExitCode = exitErr.ExitCode()
		}
		return nil, ge
	}
	return stdout.Bytes(), nil
}

func (c *gitCommand) run(ctx context.Context) (string, error) {
	out, err := c.output(ctx)
	return string(out), err
}

// splitLines splits git output into non-empty lines.
func splitLines(output string) []string {
	if output == "" {
		return nil
	}
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// gitAvailable reports whether the git binary can be found.
func gitAvailable() bool {
	_, err := exec.LookPath("git")
	return err == nil
}
