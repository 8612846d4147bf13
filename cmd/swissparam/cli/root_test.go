package cli

import (
	"bytes"
	"context"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/swissparam/cli/cmd/swissparam/cli/versioninfo"
)

// lockedBuffer is safe to share with the global logger, which parallel
// tests re-point at their own stderr.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type recordingTelemetry struct {
	commands []string
	outcomes []string
	closed   bool
}

func (r *recordingTelemetry) TrackCommand(_ context.Context, cmd *cobra.Command, outcome string, _ time.Duration) {
	r.commands = append(r.commands, cmd.CommandPath())
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingTelemetry) Close() { r.closed = true }

func TestVersionFlag_OutputMatchesVersionCmd(t *testing.T) {
	t.Parallel()

	// Run "swissparam --version"
	root := NewRootCmd()
	var flagOut bytes.Buffer
	root.SetOut(&flagOut)
	root.SetErr(&lockedBuffer{})
	root.SetArgs([]string{"--version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("swissparam --version failed: %v", err)
	}

	// Run "swissparam version"
	root2 := NewRootCmd()
	var cmdOut bytes.Buffer
	root2.SetOut(&cmdOut)
	root2.SetErr(&lockedBuffer{})
	root2.SetArgs([]string{"version", "-C", t.TempDir()})
	if err := root2.Execute(); err != nil {
		t.Fatalf("swissparam version failed: %v", err)
	}

	if flagOut.String() != cmdOut.String() {
		t.Errorf("output mismatch:\n--version: %q\nversion:   %q", flagOut.String(), cmdOut.String())
	}
}

func TestVersionFlag_ContainsExpectedInfo(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&lockedBuffer{})
	root.SetArgs([]string{"--version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("swissparam --version failed: %v", err)
	}

	output := out.String()

	checks := []struct {
		name     string
		contains string
	}{
		{"version number", versioninfo.Version},
		{"go version", runtime.Version()},
		{"os/arch", runtime.GOOS + "/" + runtime.GOARCH},
	}

	for _, c := range checks {
		if !strings.Contains(output, c.contains) {
			t.Errorf("--version output missing %s (%q): %q", c.name, c.contains, output)
		}
	}
}

func TestRoot_UnknownFlagIsUsageError(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&lockedBuffer{})
	root.SetArgs([]string{"run", "--no-such-flag"})
	err := root.Execute()
	if err == nil {
		t.Fatal("expected an error for an unknown flag")
	}
	if code := ExitCode(err); code != ExitValidation {
		t.Errorf("ExitCode = %d, want %d", code, ExitValidation)
	}
}

func TestRoot_InvalidSettingsFlag(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&lockedBuffer{})
	root.SetArgs([]string{"list", "-C", t.TempDir(), "--log-format", "xml"})
	err := root.Execute()
	if code := ExitCode(err); code != ExitValidation {
		t.Errorf("ExitCode = %d, want %d (err %v)", code, ExitValidation, err)
	}
}

func TestDebugCmd_IsHiddenAndPrintsDiagram(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&lockedBuffer{})
	root.SetArgs([]string{"debug", "state-machine", "-C", t.TempDir()})
	if err := root.Execute(); err != nil {
		t.Fatalf("debug state-machine failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "stateDiagram-v2") {
		t.Errorf("unexpected diagram output: %q", out.String())
	}

	var debug *cobra.Command
	for _, c := range root.Commands() {
		if c.Name() == "debug" {
			debug = c
		}
	}
	if debug == nil || !debug.Hidden {
		t.Fatal("debug command should exist and be hidden")
	}
}

func TestTrack_SkipsHiddenCommands(t *testing.T) {
	t.Parallel()

	rec := &recordingTelemetry{}
	a := &app{telemetry: rec}

	root := &cobra.Command{Use: "swissparam"}
	hidden := &cobra.Command{Use: "debug", Hidden: true}
	child := &cobra.Command{Use: "state-machine"}
	hidden.AddCommand(child)
	root.AddCommand(hidden)

	a.track(child, nil)
	if len(rec.commands) != 0 {
		t.Errorf("tracked %v, want nothing for a hidden parent", rec.commands)
	}
	if !rec.closed {
		t.Error("telemetry client was not closed")
	}
}

func TestTrack_RecordsOnce(t *testing.T) {
	t.Parallel()

	rec := &recordingTelemetry{}
	a := &app{telemetry: rec}
	root := &cobra.Command{Use: "swissparam"}
	run := &cobra.Command{Use: "run"}
	root.AddCommand(run)

	a.track(run, &ExitError{Code: ExitTimeout})
	a.track(run, nil)

	if len(rec.commands) != 1 {
		t.Fatalf("tracked %d events, want 1", len(rec.commands))
	}
	if rec.outcomes[0] != "exit_5" {
		t.Errorf("outcome = %q, want exit_5", rec.outcomes[0])
	}
}
