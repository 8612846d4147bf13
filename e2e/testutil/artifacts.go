// Package testutil prepares workspaces for end-to-end tests and keeps
// their artifacts for inspection.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ArtifactRoot is the absolute path to the artifact output directory.
// Must be set in TestMain before any tests run.
var ArtifactRoot string

// ArtifactTimestamp is the timestamp subdirectory for this test run.
var ArtifactTimestamp = time.Now().Format("2006-01-02T15-04-05")

var runDirOverride string

// SetRunDir overrides the artifact run directory (e.g. from E2E_ARTIFACT_DIR).
func SetRunDir(dir string) {
	runDirOverride = dir
}

// ArtifactRunDir returns the directory for the current test run.
func ArtifactRunDir() string {
	if runDirOverride != "" {
		return runDirOverride
	}
	return filepath.Join(ArtifactRoot, ArtifactTimestamp)
}

func artifactDir(t *testing.T) string {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "-")
	dir := filepath.Join(ArtifactRunDir(), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Logf("warning: failed to create artifact dir: %v", err)
	}
	return dir
}

// Workspace is a scratch directory a test runs swissparam in.
type Workspace struct {
	Dir         string
	ArtifactDir string
	// ConsoleLog receives the raw terminal output of the test's
	// invocations. It is written as the test runs, so it survives a
	// global test timeout.
	ConsoleLog *os.File
}

// NewWorkspace creates a workspace holding a small mol2 file named
// ligand.mol2. Artifacts are captured when the test ends.
//
// When E2E_KEEP_WORKSPACES is set, the directory is not removed and the
// artifact dir links to it.
func NewWorkspace(t *testing.T) *Workspace {
	t.Helper()

	dir, err := os.MkdirTemp("", "e2e-swissparam-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	keep := os.Getenv("E2E_KEEP_WORKSPACES") != ""
	if keep {
		t.Logf("E2E_KEEP_WORKSPACES: workspace will be preserved at %s", dir)
	} else {
		t.Cleanup(func() { os.RemoveAll(dir) })
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}

	if err := os.WriteFile(filepath.Join(dir, "ligand.mol2"), []byte(molecule), 0o600); err != nil {
		t.Fatalf("write molecule: %v", err)
	}

	w := &Workspace{Dir: dir, ArtifactDir: artifactDir(t)}
	console, err := os.Create(filepath.Join(w.ArtifactDir, "console.log"))
	if err != nil {
		t.Fatalf("create console log: %v", err)
	}
	w.ConsoleLog = console

	t.Cleanup(func() {
		_ = console.Close()
		CaptureArtifacts(t, w, keep)
	})
	return w
}

// CaptureArtifacts copies the session records and writes the PASS/FAIL
// marker to the artifact directory.
func CaptureArtifacts(t *testing.T, w *Workspace, linkWorkspace bool) {
	t.Helper()
	dir := w.ArtifactDir

	if t.Failed() {
		writeArtifact(t, dir, "FAIL", "")
	} else {
		writeArtifact(t, dir, "PASS", "")
	}

	captureSessionRecords(t, w.Dir, dir)

	if linkWorkspace {
		link := filepath.Join(dir, "workspace")
		if err := os.Symlink(w.Dir, link); err != nil {
			t.Logf("warning: failed to symlink workspace: %v", err)
		}
	}
}

func captureSessionRecords(t *testing.T, workDir, outDir string) {
	t.Helper()
	stateDir := filepath.Join(workDir, ".swissparam", "sessions")
	entries, err := os.ReadDir(stateDir)
	if err != nil {
		return
	}
	dst := filepath.Join(outDir, "sessions")
	_ = os.MkdirAll(dst, 0o755)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(stateDir, e.Name()))
		if err != nil {
			continue
		}
		writeArtifact(t, dst, e.Name(), string(data))
	}
}

func writeArtifact(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Logf("warning: failed to write artifact %s: %v", path, err)
	}
}

const molecule = `@<TRIPOS>MOLECULE
LIG
 3 2 0 0 0
SMALL
NO_CHARGES

@<TRIPOS>ATOM
      1 C1          0.0000    0.0000    0.0000 C.3     1  LIG1        0.0000
      2 O1          1.4300    0.0000    0.0000 O.3     1  LIG1        0.0000
      3 H1         -0.3600    1.0300    0.0000 H       1  LIG1        0.0000
@<TRIPOS>BOND
     1     1     2    1
     2     1     3    1
`
