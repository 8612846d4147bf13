// Package telemetry sends anonymous, opt-in usage events.
//
// Nothing is sent unless the user enabled the "telemetry" setting, the
// binary was built with a PostHog API key, and DO_NOT_TRACK is unset. Events
// carry the command path, the names of the flags that were set (never their
// values), the outcome, and build/platform information.
package telemetry

import (
	"context"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/swissparam/cli/cmd/swissparam/cli/logging"
)

// Set at build time with -ldflags "-X .../telemetry.APIKey=...".
var (
	APIKey   = ""
	Endpoint = "https://eu.i.posthog.com"
)

// EventCommand is the event name recorded for every command invocation.
const EventCommand = "swissparam_command"

const appID = "swissparam-cli"

// Client records command invocations.
type Client interface {
	TrackCommand(ctx context.Context, cmd *cobra.Command, outcome string, elapsed time.Duration)
	Close()
}

// NoOpClient drops every event.
type NoOpClient struct{}

func (NoOpClient) TrackCommand(context.Context, *cobra.Command, string, time.Duration) {}
func (NoOpClient) Close()                                                              {}

// PostHogClient sends events to PostHog.
type PostHogClient struct {
	client     posthog.Client
	distinctID string
	version    string
}

// machineID is replaced in tests.
var machineID = func() (string, error) {
	return machineid.ProtectedID(appID)
}

// NewClient returns a PostHog client when telemetry is enabled and
// configured, and a NoOpClient otherwise.
func NewClient(ctx context.Context, version string, enabled bool) Client {
	if !enabled || APIKey == "" || os.Getenv("DO_NOT_TRACK") != "" {
		return NoOpClient{}
	}
	c, err := newPostHogClient(APIKey, Endpoint, version, distinctID(ctx))
	if err != nil {
		logging.Debug(logging.WithComponent(ctx, "telemetry"), "telemetry disabled",
			"error", err)
		return NoOpClient{}
	}
	return c
}

// distinctID is a hash of the machine id, or a per-process random id when
// the machine id cannot be read.
func distinctID(ctx context.Context) string {
	id, err := machineID()
	if err != nil || id == "" {
		logging.Debug(logging.WithComponent(ctx, "telemetry"), "machine id unavailable",
			"error", err)
		return uuid.NewString()
	}
	return id
}

func newPostHogClient(apiKey, endpoint, version, id string) (*PostHogClient, error) {
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{
		Endpoint:  endpoint,
		BatchSize: 1,
		Interval:  time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &PostHogClient{client: client, distinctID: id, version: version}, nil
}

// TrackCommand enqueues one event for cmd. Errors are logged, never returned.
func (c *PostHogClient) TrackCommand(ctx context.Context, cmd *cobra.Command, outcome string, elapsed time.Duration) {
	if cmd == nil {
		return
	}
	props := posthog.NewProperties().
		Set("command", cmd.CommandPath()).
		Set("flags", FlagNames(cmd)).
		Set("outcome", outcome).
		Set("duration_ms", elapsed.Milliseconds()).
		Set("cli_version", c.version).
		Set("os", runtime.GOOS).
		Set("arch", runtime.GOARCH)

	err := c.client.Enqueue(posthog.Capture{
		DistinctId: c.distinctID,
		Event:      EventCommand,
		Properties: props,
	})
	if err != nil {
		logging.Debug(logging.WithComponent(ctx, "telemetry"), "failed to enqueue event",
			"error", err)
	}
}

// Close flushes pending events.
func (c *PostHogClient) Close() {
	_ = c.client.Close() //nolint:errcheck // best effort on exit
}

// FlagNames returns the sorted names of the flags explicitly set on cmd.
func FlagNames(cmd *cobra.Command) []string {
	var names []string
	cmd.Flags().Visit(func(f *pflag.Flag) {
		names = append(names, f.Name)
	})
	sort.Strings(names)
	return names
}
