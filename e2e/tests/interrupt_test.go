//go:build e2e && unix

package tests

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clitestutil "github.com/swissparam/cli/cmd/swissparam/cli/testutil"
	"github.com/swissparam/cli/cmd/swissparam/cli/session"
	"github.com/swissparam/cli/e2e/swissparam"
	"github.com/swissparam/cli/e2e/testutil"
)

func TestInterrupt_CancelsRemoteSession(t *testing.T) {
	t.Parallel()

	m := clitestutil.NewMockServer(t, clitestutil.WithStatuses(clitestutil.StatusRunning))
	w := testutil.NewWorkspace(t)

	c := swissparam.Start(t, w.Dir, w.ConsoleLog, "run", "--base-url", m.URL, "--poll-interval", "50ms",
		"-c", "non-covalent", "-f", "ligand.mol2")
	_, err := c.WaitFor(`Session abc123: running`, 15*time.Second)
	require.NoError(t, err)

	require.NoError(t, c.Interrupt())
	code, err := c.Wait(15 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 130, code, c.Output())
	assert.Equal(t, []string{"abc123"}, m.Cancels())
	assert.Zero(t, m.Downloads())
	assert.NoFileExists(t, filepath.Join(w.Dir, "results.tar.gz"))

	store := session.NewStateStoreWithDir(filepath.Join(w.Dir, session.SessionStateDirName))
	rec, err := store.Load(context.Background(), "abc123")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, session.StateCancelled, rec.State)
}

func TestInterrupt_WaitCancelsResumedSession(t *testing.T) {
	t.Parallel()

	m := clitestutil.NewMockServer(t, clitestutil.WithStatuses(clitestutil.StatusQueued))
	w := testutil.NewWorkspace(t)

	c := swissparam.Start(t, w.Dir, w.ConsoleLog, "wait", "xyz789", "--base-url", m.URL, "--poll-interval", "50ms")
	_, err := c.WaitFor(`Session xyz789: queued`, 15*time.Second)
	require.NoError(t, err)

	require.NoError(t, c.Interrupt())
	code, err := c.Wait(15 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 130, code, c.Output())
	assert.Equal(t, []string{"xyz789"}, m.Cancels())
}
