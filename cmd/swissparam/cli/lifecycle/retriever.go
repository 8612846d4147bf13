package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/swissparam/cli/cmd/swissparam/cli/logging"
	"github.com/swissparam/cli/cmd/swissparam/cli/session"
)

// DefaultResultFilename is where results go when no output path is given.
const DefaultResultFilename = "results.tar.gz"

// Retriever downloads the result archive of a completed session.
type Retriever struct {
	svc Downloader
}

// NewRetriever returns a Retriever.
func NewRetriever(svc Downloader) *Retriever {
	return &Retriever{svc: svc}
}

// Retrieve writes the session's archive to dest, replacing any existing
// file, and records dest as the session's result path. The archive is
// streamed to a temporary file next to dest and only renamed into place
// once the transfer is complete and non-empty, so dest never holds a
// partial archive. Every failure is a *DownloadError.
func (r *Retriever) Retrieve(ctx context.Context, sess *session.Session, dest string) (string, error) {
	if dest == "" {
		dest = DefaultResultFilename
	}
	id := sess.ID()
	ctx = logging.WithSession(logging.WithComponent(ctx, "retrieve"), id)
	fail := func(err error) (string, error) {
		return "", &DownloadError{SessionID: id, Path: dest, Err: err}
	}

	if state := sess.State(); state != session.StateCompleted {
		return fail(fmt.Errorf("session is %s, results are only available once %s", state, session.StateCompleted))
	}

	start := time.Now()
	archive, err := r.svc.Download(ctx, id)
	if err != nil {
		return fail(err)
	}
	defer archive.Close()

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fail(fmt.Errorf("failed to create output directory: %w", err))
	}
	tmp, err := os.CreateTemp(dir, ".swissparam-download-*")
	if err != nil {
		return fail(fmt.Errorf("failed to create temporary file: %w", err))
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()         //nolint:errcheck // cleanup
			_ = os.Remove(tmpName) //nolint:errcheck // cleanup
		}
	}()

	n, err := io.Copy(tmp, archive)
	if err != nil {
		return fail(fmt.Errorf("transfer interrupted after %d bytes: %w", n, err))
	}
	if archive.ContentLength >= 0 && n != archive.ContentLength {
		return fail(fmt.Errorf("truncated transfer: got %d of %d bytes", n, archive.ContentLength))
	}
	if n == 0 {
		return fail(errors.New("server sent an empty archive"))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("failed to flush archive: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return fail(fmt.Errorf("failed to close archive: %w", err))
	}
	if err := os.Chmod(tmpName, 0o644); err != nil { //nolint:gosec // results are meant to be shared
		return fail(fmt.Errorf("failed to set archive permissions: %w", err))
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fail(fmt.Errorf("failed to move archive into place: %w", err))
	}
	committed = true

	info, err := os.Stat(dest)
	if err != nil {
		return fail(fmt.Errorf("archive missing after write: %w", err))
	}
	if info.Size() != n {
		return fail(fmt.Errorf("archive size %d does not match %d bytes received", info.Size(), n))
	}

	if err := sess.SetResultPath(dest); err != nil {
		return fail(err)
	}
	logging.LogDuration(ctx, slog.LevelInfo, "results saved", start,
		slog.String("path", dest),
		slog.Int64("bytes", n),
	)
	return dest, nil
}
