package cli

import (
	"context"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/swissparam/cli/cmd/swissparam/cli/client"
	"github.com/swissparam/cli/cmd/swissparam/cli/jsonutil"
	"github.com/swissparam/cli/cmd/swissparam/cli/lifecycle"
	"github.com/swissparam/cli/cmd/swissparam/cli/logging"
	"github.com/swissparam/cli/cmd/swissparam/cli/session"
	"github.com/swissparam/cli/cmd/swissparam/cli/validation"
)

// sessionIDArg accepts exactly one valid session id.
func sessionIDArg(_ *cobra.Command, args []string) error {
	if len(args) != 1 {
		return usageError("expected exactly one session ID, got %d", len(args))
	}
	if err := validation.ValidateSessionID(args[0]); err != nil {
		return usageError("%v", err)
	}
	return nil
}

// record loads the stored state for id. A missing or unreadable record
// is not an error: commands then work from the id alone.
func (a *app) record(ctx context.Context, id string) *session.SessionState {
	rec, err := a.store().Load(ctx, id)
	if err != nil {
		logging.Warn(logging.WithComponent(ctx, "state"), "ignoring unreadable session state",
			slog.String("session_id", id),
			slog.Any("error", err))
		return nil
	}
	return rec
}

// clientFor returns a client for the service rec was submitted to, unless
// --base-url overrides it.
func (a *app) clientFor(cmd *cobra.Command, rec *session.SessionState) (*client.Client, error) {
	baseURL := ""
	if !cmd.Flags().Changed("base-url") && rec != nil {
		baseURL = rec.BaseURL
	}
	return a.newClient(baseURL)
}

// recorder keeps the stored record of a resumed session current. Fields
// the resumed session does not know, such as the molecule file, are kept.
func (a *app) recorder(ctx context.Context, rec *session.SessionState, baseURL string) func(session.Snapshot) {
	store := a.store()
	return func(snap session.Snapshot) {
		next := session.NewSessionState(snap, baseURL)
		if rec != nil {
			next.Mode = rec.Mode
			next.Filename = rec.Filename
			next.SubmittedAt = rec.SubmittedAt
			if next.ResultPath == "" {
				next.ResultPath = rec.ResultPath
			}
		}
		if err := store.Save(ctx, next); err != nil {
			logging.Warn(logging.WithComponent(ctx, "state"), "failed to persist session state",
				slog.String("session_id", snap.ID),
				slog.Any("error", err))
		}
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Ask the service for the state of a session",
		Args:  sessionIDArg,
		RunE: a.command(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			rec := a.record(ctx, id)
			h, err := a.clientFor(cmd, rec)
			if err != nil {
				return err
			}

			text, err := h.Status(ctx, id)
			if err != nil {
				return err
			}
			event, ok := lifecycle.MapStatus(text)
			if !ok {
				return &lifecycle.UnknownStatusError{SessionID: id, Status: text}
			}
			state, err := session.Transition(session.StateSubmitted, event)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s: %s\n", id, state)

			if rec != nil && !rec.State.IsTerminal() && rec.State != state {
				rec.State = state
				rec.UpdatedAt = time.Now().UTC()
				if err := a.store().Save(ctx, rec); err != nil {
					logging.Warn(logging.WithComponent(ctx, "state"), "failed to persist session state",
						slog.String("session_id", id),
						slog.Any("error", err))
				}
			}
			return nil
		}),
	}
}

func newWaitCmd(a *app) *cobra.Command {
	var output, extract string

	cmd := &cobra.Command{
		Use:   "wait <session-id>",
		Short: "Wait for a submitted session and download its results",
		Long: `Resume a session submitted earlier, for example after 'swissparam run'
gave up waiting. Polls until the job finishes, then downloads the results.`,
		Args: sessionIDArg,
		RunE: a.command(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			rec := a.record(ctx, id)

			state := session.StateSubmitted
			var submittedAt time.Time
			if rec != nil {
				switch rec.State {
				case session.StateFailed:
					return &lifecycle.JobFailedError{SessionID: id, Status: "recorded as failed"}
				case session.StateCancelled:
					return usageError("session %s was cancelled", id)
				case session.StateCreated:
				default:
					state = rec.State
				}
				submittedAt = rec.SubmittedAt
			}
			sess, err := session.Resume(id, state, submittedAt)
			if err != nil {
				return usageError("%v", err)
			}
			return a.resume(cmd, sess, rec, output, extract)
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "result archive path (default from settings, results.tar.gz)")
	cmd.Flags().StringVar(&extract, "extract", "", "unpack the result archive into `DIR`")
	return cmd
}

func newRetrieveCmd(a *app) *cobra.Command {
	var output, extract string

	cmd := &cobra.Command{
		Use:   "retrieve <session-id>",
		Short: "Download the results of a finished session",
		Args:  sessionIDArg,
		RunE: a.command(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			rec := a.record(ctx, id)

			var submittedAt time.Time
			if rec != nil {
				submittedAt = rec.SubmittedAt
			}
			sess, err := session.Resume(id, session.StateCompleted, submittedAt)
			if err != nil {
				return usageError("%v", err)
			}
			return a.resume(cmd, sess, rec, output, extract)
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "result archive path (default from settings, results.tar.gz)")
	cmd.Flags().StringVar(&extract, "extract", "", "unpack the result archive into `DIR`")
	return cmd
}

// resume drives sess to its results with a Controller, exactly like the
// tail of the run command.
func (a *app) resume(cmd *cobra.Command, sess *session.Session, rec *session.SessionState, output, extract string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	h, err := a.clientFor(cmd, rec)
	if err != nil {
		return err
	}
	if output == "" {
		output = a.settings.ResultFilename
	}
	output = a.path(output)

	printer := progressPrinter(out)
	persist := a.recorder(ctx, rec, h.BaseURL())
	ctrl := lifecycle.NewController(h, lifecycle.Config{
		Output:        output,
		Poll:          a.pollConfig(),
		CancelTimeout: a.settings.RequestTimeout.Std(),
		BaseURL:       h.BaseURL(),
		OnChange: func(snap session.Snapshot) {
			persist(snap)
			printer(snap)
		},
		Exit: a.exit,
	})

	fmt.Fprintf(out, "Waiting for session %s on %s\n", sess.ID(), h.BaseURL())
	path, err := ctrl.Resume(ctx, sess)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Results saved to %s\n", path)

	if extract != "" {
		return extractResults(cmd, path, a.path(extract))
	}
	return nil
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a session on the service",
		Args:  sessionIDArg,
		RunE: a.command(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			rec := a.record(ctx, id)
			if rec != nil && rec.State.IsTerminal() {
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s is already %s\n", id, rec.State)
				return nil
			}

			h, err := a.clientFor(cmd, rec)
			if err != nil {
				return err
			}
			if err := h.Cancel(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s cancelled\n", id)

			if rec != nil {
				rec.State = session.StateCancelled
				rec.UpdatedAt = time.Now().UTC()
				if err := a.store().Save(ctx, rec); err != nil {
					logging.Warn(logging.WithComponent(ctx, "state"), "failed to persist session state",
						slog.String("session_id", id),
						slog.Any("error", err))
				}
			}
			return nil
		}),
	}
}

func newListCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions started from this directory",
		Args:  noArgs,
		RunE: a.command(func(cmd *cobra.Command, _ []string) error {
			store := a.store()
			states, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if asJSON {
				if states == nil {
					states = []*session.SessionState{}
				}
				data, err := jsonutil.MarshalIndentWithNewline(states, "", "  ")
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}

			if len(states) == 0 {
				fmt.Fprintf(out, "No sessions recorded in %s\n", store.Dir())
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tSTATE\tMODE\tFILE\tUPDATED")
			for _, s := range states {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					s.SessionID, s.State, orDash(s.Mode), orDash(s.Filename),
					s.UpdatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the records as JSON")
	return cmd
}

func noArgs(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageError("unexpected argument %q", args[0])
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
