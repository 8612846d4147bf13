// Package swissparam runs the swissparam binary for end-to-end tests.
package swissparam

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creack/pty"
)

var (
	binOnce sync.Once
	binPath string
	binErr  error
)

// BinPath returns the binary under test. E2E_SWISSPARAM_BIN selects a
// prebuilt binary; otherwise the module is built once into a temp dir.
func BinPath() (string, error) {
	binOnce.Do(func() {
		if p := os.Getenv("E2E_SWISSPARAM_BIN"); p != "" {
			binPath = p
			return
		}
		_, file, _, _ := runtime.Caller(0)
		root := filepath.Join(filepath.Dir(file), "..", "..")

		dir, err := os.MkdirTemp("", "swissparam-e2e-bin-*")
		if err != nil {
			binErr = err
			return
		}
		binPath = filepath.Join(dir, "swissparam")
		cmd := exec.Command("go", "build", "-o", binPath, "./cmd/swissparam")
		cmd.Dir = root
		if out, err := cmd.CombinedOutput(); err != nil {
			binErr = fmt.Errorf("build swissparam: %w\n%s", err, out)
		}
	})
	return binPath, binErr
}

// Result is a finished invocation.
type Result struct {
	Args     []string
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes swissparam in dir and waits for it to exit. A non-zero
// exit status is reported in Result, not as a test failure.
func Run(t *testing.T, dir string, args ...string) Result {
	t.Helper()

	bin, err := BinPath()
	if err != nil {
		t.Fatalf("resolve binary: %v", err)
	}
	cmd := exec.Command(bin, args...)
	cmd.Dir = dir
	cmd.Env = env()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res := Result{Args: args}
	err = cmd.Run()
	res.Stdout, res.Stderr = stdout.String(), stderr.String()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		t.Fatalf("swissparam %s: %v", strings.Join(args, " "), err)
	}
	return res
}

// Console is swissparam running on a pseudo-terminal, so keystrokes such
// as Ctrl+C reach it the way they would from a user's shell.
type Console struct {
	cmd  *exec.Cmd
	tty  *os.File
	log  io.Writer
	done chan struct{}

	mu  sync.Mutex
	out bytes.Buffer
}

// Start launches swissparam on a pty in dir. Everything it prints is
// also copied to log when log is non-nil.
func Start(t *testing.T, dir string, log io.Writer, args ...string) *Console {
	t.Helper()

	bin, err := BinPath()
	if err != nil {
		t.Fatalf("resolve binary: %v", err)
	}
	cmd := exec.Command(bin, args...)
	cmd.Dir = dir
	cmd.Env = env()

	tty, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 40, Cols: 120})
	if err != nil {
		t.Fatalf("start swissparam on pty: %v", err)
	}
	c := &Console{cmd: cmd, tty: tty, log: log, done: make(chan struct{})}
	go c.drain()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = tty.Close()
	})
	return c
}

func (c *Console) drain() {
	defer close(c.done)
	buf := make([]byte, 4096)
	for {
		n, err := c.tty.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.out.Write(buf[:n])
			c.mu.Unlock()
			if c.log != nil {
				_, _ = c.log.Write(buf[:n])
			}
		}
		if err != nil {
			return
		}
	}
}

// Output returns everything printed so far.
func (c *Console) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

// Interrupt types Ctrl+C.
func (c *Console) Interrupt() error {
	_, err := c.tty.Write([]byte{0x03})
	return err
}

// WaitFor polls the output until pattern matches or timeout passes.
func (c *Console) WaitFor(pattern string, timeout time.Duration) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		out := c.Output()
		if re.MatchString(out) {
			return out, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	out := c.Output()
	return out, fmt.Errorf("timed out waiting for %q after %s\n--- console ---\n%s\n--- end console ---", pattern, timeout, out)
}

// Wait waits for the process to exit and returns its exit code.
func (c *Console) Wait(timeout time.Duration) (int, error) {
	errCh := make(chan error, 1)
	go func() { errCh <- c.cmd.Wait() }()

	select {
	case err := <-errCh:
		// Let the reader pick up the last output before the pty closes.
		select {
		case <-c.done:
		case <-time.After(time.Second):
		}
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			return 0, nil
		case errors.As(err, &exitErr):
			return exitErr.ExitCode(), nil
		default:
			return -1, err
		}
	case <-time.After(timeout):
		return -1, fmt.Errorf("swissparam still running after %s\n--- console ---\n%s", timeout, c.Output())
	}
}

// env strips settings and telemetry variables inherited from the caller.
func env() []string {
	var out []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "SWISSPARAM_") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, "DO_NOT_TRACK=1")
}
