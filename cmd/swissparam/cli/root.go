// Package cli implements the swissparam command tree.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/swissparam/cli/cmd/swissparam/cli/client"
	"github.com/swissparam/cli/cmd/swissparam/cli/lifecycle"
	"github.com/swissparam/cli/cmd/swissparam/cli/logging"
	"github.com/swissparam/cli/cmd/swissparam/cli/session"
	"github.com/swissparam/cli/cmd/swissparam/cli/settings"
	"github.com/swissparam/cli/cmd/swissparam/cli/telemetry"
	"github.com/swissparam/cli/cmd/swissparam/cli/versioninfo"
)

const gettingStarted = `

Getting Started:
  To parameterize a small molecule, run 'swissparam run -c non-covalent -f ligand.mol2'.
  Results are written to results.tar.gz in the current directory.

`

// app holds the per-invocation state shared by all commands.
type app struct {
	workDir   string
	settings  *settings.Settings
	telemetry telemetry.Client
	started   time.Time
	tracked   bool

	// exit terminates the process on an interrupt before submission.
	exit func()
}

// globalFlags are bound on the root command and override settings when set.
type globalFlags struct {
	workDir      string
	baseURL      string
	pollInterval time.Duration
	timeout      time.Duration
	logLevel     string
	logFormat    string
}

func NewRootCmd() *cobra.Command {
	a := &app{}
	var gf globalFlags

	cmd := &cobra.Command{
		Use:   "swissparam",
		Short: "SwissParam CLI",
		Long: "Command-line client for the SwissParam small-molecule parameterization service." +
			gettingStarted,
		// Let main print errors through Describe and pick the exit code.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd, gf)
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			a.track(cmd, nil)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&gf.workDir, "workdir", "C", "", "run as if started in `DIR`")
	pf.StringVar(&gf.baseURL, "base-url", "", "SwissParam service root (default "+settings.DefaultBaseURL+")")
	pf.DurationVar(&gf.pollInterval, "poll-interval", 0, "time between status checks (default 5s)")
	pf.DurationVar(&gf.timeout, "timeout", 0, "give up waiting for a session after this long (default 2h)")
	pf.StringVar(&gf.logLevel, "log-level", "", "log level: debug, info, warn or error (default info)")
	pf.StringVar(&gf.logFormat, "log-format", "", "log format: text or json (default text)")

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &ExitError{Code: ExitValidation, Message: err.Error() + "\nSee '" + c.CommandPath() + " --help'."}
	})

	// Add --version flag support, matching the output of the version command
	cmd.Version = versioninfo.Version
	cmd.SetVersionTemplate(versionString())

	cmd.AddCommand(newRunCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newWaitCmd(a))
	cmd.AddCommand(newRetrieveCmd(a))
	cmd.AddCommand(newCancelCmd(a))
	cmd.AddCommand(newListCmd(a))
	cmd.AddCommand(newTelemetryCmd(a))
	cmd.AddCommand(newDebugCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads settings, applies global flags and initializes logging and
// telemetry. It runs before every command.
func (a *app) setup(cmd *cobra.Command, gf globalFlags) error {
	a.started = time.Now()
	if a.exit == nil {
		a.exit = func() { os.Exit(ExitCancelled) }
	}

	dir := gf.workDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	a.workDir = abs

	ctx := cmd.Context()
	s, err := settings.LoadFrom(ctx, a.workDir)
	if err != nil {
		return &ExitError{Code: ExitValidation, Message: "invalid settings", Err: err}
	}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		s.BaseURL = gf.baseURL
	}
	if flags.Changed("poll-interval") {
		s.PollInterval = settings.Duration(gf.pollInterval)
	}
	if flags.Changed("timeout") {
		s.PollTimeout = settings.Duration(gf.timeout)
	}
	if flags.Changed("log-level") {
		s.LogLevel = gf.logLevel
	}
	if flags.Changed("log-format") {
		s.LogFormat = gf.logFormat
	}
	if err := s.Validate(); err != nil {
		return &ExitError{Code: ExitValidation, Message: "invalid option", Err: err}
	}
	a.settings = s

	if err := logging.Init(cmd.ErrOrStderr(), s.LogLevel, s.LogFormat); err != nil {
		return &ExitError{Code: ExitValidation, Message: "invalid logging option", Err: err}
	}
	a.telemetry = telemetry.NewClient(ctx, versioninfo.Version, s.Telemetry)
	return nil
}

// command wraps a RunE so failures are reported to telemetry too;
// successful runs are reported by PersistentPostRun.
func (a *app) command(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if err != nil {
			a.track(cmd, err)
		}
		return err
	}
}

// track records the command outcome once and flushes telemetry.
func (a *app) track(cmd *cobra.Command, err error) {
	if a.tracked || a.telemetry == nil {
		return
	}
	a.tracked = true
	defer a.telemetry.Close()

	// Skip telemetry for hidden commands and their children
	for c := cmd; c != nil; c = c.Parent() {
		if c.Hidden {
			return
		}
	}
	outcome := "success"
	if err != nil {
		outcome = fmt.Sprintf("exit_%d", ExitCode(err))
	}
	a.telemetry.TrackCommand(cmd.Context(), cmd, outcome, time.Since(a.started))
}

// path resolves p against the working directory.
func (a *app) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.workDir, p)
}

func (a *app) newClient(baseURL string) (*client.Client, error) {
	if baseURL == "" {
		baseURL = a.settings.BaseURL
	}
	c, err := client.New(client.Config{
		BaseURL:         baseURL,
		RequestTimeout:  a.settings.RequestTimeout.Std(),
		DownloadTimeout: a.settings.DownloadTimeout.Std(),
	})
	if err != nil {
		return nil, &ExitError{Code: ExitValidation, Message: "invalid base URL", Err: err}
	}
	return c, nil
}

func (a *app) store() *session.StateStore {
	return session.NewStateStoreWithDir(filepath.Join(a.workDir, session.SessionStateDirName))
}

func (a *app) pollConfig() lifecycle.PollerConfig {
	retries := a.settings.NetworkRetries
	if retries == 0 {
		retries = -1
	}
	return lifecycle.PollerConfig{
		Interval:          a.settings.PollInterval.Std(),
		Timeout:           a.settings.PollTimeout.Std(),
		MaxNetworkRetries: retries,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), versionString())
		},
	}
}

func versionString() string {
	return fmt.Sprintf("swissparam %s (%s)\nGo version: %s\nOS/Arch: %s/%s\n",
		versioninfo.Version, versioninfo.Commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
