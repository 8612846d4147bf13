//go:build e2e

package tests

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clitestutil "github.com/swissparam/cli/cmd/swissparam/cli/testutil"
	"github.com/swissparam/cli/e2e/swissparam"
	"github.com/swissparam/cli/e2e/testutil"
)

func run(t *testing.T, w *testutil.Workspace, args ...string) swissparam.Result {
	t.Helper()
	res := swissparam.Run(t, w.Dir, args...)
	_, _ = w.ConsoleLog.WriteString("$ swissparam " + strings.Join(args, " ") + "\n" + res.Stdout + res.Stderr)
	return res
}

func TestRun_NonCovalent(t *testing.T) {
	t.Parallel()

	m := clitestutil.NewMockServer(t, clitestutil.WithStatuses(
		clitestutil.StatusQueued, clitestutil.StatusRunning, clitestutil.StatusFinished))
	w := testutil.NewWorkspace(t)

	res := run(t, w, "run", "--base-url", m.URL, "--poll-interval", "20ms",
		"-c", "non-covalent", "-f", "ligand.mol2")
	require.Equal(t, 0, res.ExitCode, res.Stderr)

	data, err := os.ReadFile(filepath.Join(w.Dir, "results.tar.gz"))
	require.NoError(t, err)
	assert.Equal(t, "results!!!", string(data))
	assert.Contains(t, res.Stdout, "Session abc123 submitted")
	assert.Len(t, m.Uploads(), 1)

	res = run(t, w, "list")
	require.Equal(t, 0, res.ExitCode, res.Stderr)
	assert.Contains(t, res.Stdout, "abc123")
	assert.Contains(t, res.Stdout, "completed")
}

func TestRun_ValidationExitCode(t *testing.T) {
	t.Parallel()

	m := clitestutil.NewMockServer(t)
	w := testutil.NewWorkspace(t)

	res := run(t, w, "run", "--base-url", m.URL, "-c", "covalent", "-f", "ligand.mol2", "-l", "C1", "-p", "CYS")
	assert.Equal(t, 2, res.ExitCode)
	assert.Contains(t, res.Stderr, "-r (reaction)")
	assert.Empty(t, m.Uploads())
	assert.Zero(t, m.Pings())
}

func TestRun_JobFailedExitCode(t *testing.T) {
	t.Parallel()

	m := clitestutil.NewMockServer(t, clitestutil.WithStatuses(clitestutil.StatusFailed))
	w := testutil.NewWorkspace(t)

	res := run(t, w, "run", "--base-url", m.URL, "--poll-interval", "20ms",
		"-c", "non-covalent", "-f", "ligand.mol2")
	assert.Equal(t, 4, res.ExitCode)
	assert.NoFileExists(t, filepath.Join(w.Dir, "results.tar.gz"))
}

func TestRun_UnreachableExitCode(t *testing.T) {
	t.Parallel()

	m := clitestutil.NewMockServer(t)
	url := m.URL
	m.Close()
	w := testutil.NewWorkspace(t)

	res := run(t, w, "run", "--base-url", url, "-c", "non-covalent", "-f", "ligand.mol2")
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Stderr, "could not reach")
}

func TestWait_AfterTimeout(t *testing.T) {
	t.Parallel()

	m := clitestutil.NewMockServer(t, clitestutil.WithStatuses(
		clitestutil.StatusRunning, clitestutil.StatusRunning, clitestutil.StatusRunning,
		clitestutil.StatusRunning, clitestutil.StatusRunning, clitestutil.StatusFinished))
	w := testutil.NewWorkspace(t)

	res := run(t, w, "run", "--base-url", m.URL, "--poll-interval", "20ms", "--timeout", "50ms",
		"-c", "non-covalent", "-f", "ligand.mol2")
	require.Equal(t, 5, res.ExitCode, res.Stderr)
	assert.Contains(t, res.Stderr, "swissparam wait abc123")

	res = run(t, w, "wait", "abc123", "--poll-interval", "20ms")
	require.Equal(t, 0, res.ExitCode, res.Stderr)
	assert.FileExists(t, filepath.Join(w.Dir, "results.tar.gz"))
	assert.Empty(t, m.Cancels())
}
