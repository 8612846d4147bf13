package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swissparam/cli/cmd/swissparam/cli/client"
	"github.com/swissparam/cli/cmd/swissparam/cli/params"
	"github.com/swissparam/cli/cmd/swissparam/cli/session"
	"github.com/swissparam/cli/cmd/swissparam/cli/testutil"
)

func TestParseSessionID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"quoted url", `"https://www.swissparam.ch/results.php?sessionNumber=abc123"`, "abc123", false},
		{"trailing newline", "https://www.swissparam.ch/results.php?sessionNumber=42\n", "42", false},
		{"bare id", "  abc-123_X  ", "abc-123_X", false},
		{"last equals wins", "a=b=c9", "c9", false},
		{"single quotes", "sessionNumber='q1'", "q1", false},
		{"empty", "", "", true},
		{"no id after equals", "sessionNumber=", "", true},
		{"html error page", "<html>Internal Server Error</html>", "", true},
		{"traversal", "sessionNumber=../../etc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSessionID(tt.body)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubmitter_Submit(t *testing.T) {
	t.Parallel()

	m := testutil.NewMockServer(t, testutil.WithSessionID("s-42"))
	p, err := params.Normalize(params.Parameters{
		Mode:     params.ModeCovalent,
		Filename: writeMolecule(t),
		Ligand:   "1",
		Reaction: params.Reactions()[0],
		Protres:  params.Residues()[0],
		Charm:    params.CharmSets()[0],
	})
	require.NoError(t, err)

	sess := session.New(p)
	id, err := NewSubmitter(newTestClient(t, m)).Submit(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, "s-42", id)
	assert.Equal(t, "s-42", sess.ID())
	assert.Equal(t, session.StateSubmitted, sess.State())
	assert.False(t, sess.SubmittedAt().IsZero())

	require.Len(t, m.Uploads(), 1)
	up := m.Uploads()[0]
	assert.Equal(t, params.Reactions()[0], up.Query.Get("reaction"))
	assert.Equal(t, params.DefaultTopology, up.Query.Get("topology"))
	assert.Empty(t, up.Query.Get("approach"))
	assert.Equal(t, params.CharmSets()[0], up.Form.Get("charm"))
}

func TestSubmitter_RetriesDialErrorOnce(t *testing.T) {
	t.Parallel()

	dial := &client.NetworkError{Op: "upload", Dial: true, Err: errors.New("connection refused")}
	up := &fakeUploader{errs: []error{dial}, body: "sessionNumber=abc123"}
	sess := session.New(params.Parameters{})

	id, err := NewSubmitter(up).WithRetryDelay(time.Millisecond).Submit(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
	assert.Equal(t, 2, up.calls)
}

func TestSubmitter_DialErrorTwiceFails(t *testing.T) {
	t.Parallel()

	dial := &client.NetworkError{Op: "upload", Dial: true, Err: errors.New("connection refused")}
	up := &fakeUploader{errs: []error{dial, dial, dial}}
	sess := session.New(params.Parameters{})

	_, err := NewSubmitter(up).WithRetryDelay(time.Millisecond).Submit(context.Background(), sess)
	require.Error(t, err)
	assert.True(t, client.IsDialError(err))
	assert.Equal(t, 2, up.calls)
	assert.Equal(t, session.StateCreated, sess.State())
}

func TestSubmitter_DoesNotRetryAfterConnect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"reset mid-request", &client.NetworkError{Op: "upload", Err: errors.New("connection reset by peer")}},
		{"server rejection", &client.ServerError{Op: "upload", StatusCode: 400, Message: "bad file"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			up := &fakeUploader{errs: []error{tt.err}, body: "sessionNumber=abc123"}
			_, err := NewSubmitter(up).WithRetryDelay(time.Millisecond).
				Submit(context.Background(), session.New(params.Parameters{}))
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, up.calls)
		})
	}
}

func TestSubmitter_ResponseWithoutID(t *testing.T) {
	t.Parallel()

	up := &fakeUploader{body: "<html>oops</html>"}
	sess := session.New(params.Parameters{})

	_, err := NewSubmitter(up).Submit(context.Background(), sess)
	var serverErr *client.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Empty(t, sess.ID())
	assert.Equal(t, session.StateCreated, sess.State())
}

func TestSubmitter_CancelledBeforeUpload(t *testing.T) {
	t.Parallel()

	up := &fakeUploader{body: "sessionNumber=abc123"}
	sess := session.New(params.Parameters{})
	sess.RequestCancel()

	_, err := NewSubmitter(up).Submit(context.Background(), sess)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, up.calls)
}

func TestSubmitter_CancelledDuringUpload(t *testing.T) {
	t.Parallel()

	sess := session.New(params.Parameters{})
	up := &fakeUploader{
		body: "sessionNumber=abc123",
		during: func() {
			sess.RequestCancel()
			_, _, _ = sess.Apply(session.EventCancelled) //nolint:errcheck // asserted below
		},
	}

	_, err := NewSubmitter(up).Submit(context.Background(), sess)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, sess.ID())
	assert.Equal(t, session.StateCancelled, sess.State())
}

type fakeUploader struct {
	errs   []error
	body   string
	during func()
	calls  int
}

func (f *fakeUploader) Upload(_ context.Context, _ params.Parameters) (string, error) {
	f.calls++
	if f.during != nil {
		f.during()
	}
	if f.calls <= len(f.errs) {
		return "", f.errs[f.calls-1]
	}
	return f.body, nil
}
