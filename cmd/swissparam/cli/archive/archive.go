// Package archive unpacks SwissParam result archives (.tar.gz).
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/swissparam/cli/cmd/swissparam/cli/logging"
)

// MaxExtractedBytes caps the total size written by Extract.
const MaxExtractedBytes int64 = 2 << 30

// ErrUnsafePath is returned for entries that would land outside the target directory.
var ErrUnsafePath = errors.New("archive entry escapes target directory")

// ErrTooLarge is returned when the archive expands beyond MaxExtractedBytes.
var ErrTooLarge = errors.New("archive expands beyond size limit")

// Extract unpacks the gzip-compressed tar at src into dir and returns the
// extracted file paths. Directories and regular files are created; links and
// device entries are skipped. Any entry whose cleaned path leaves dir fails
// the whole extraction.
func Extract(ctx context.Context, src, dir string) ([]string, error) {
	ctx = logging.WithComponent(ctx, "archive")

	f, err := os.Open(src) //nolint:gosec // src is the archive this process just downloaded
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read gzip header of %s: %w", src, err)
	}
	defer gz.Close()

	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	var files []string
	var total int64
	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return files, fmt.Errorf("failed to read archive entry: %w", err)
		}

		target, err := safeJoin(root, hdr.Name)
		if err != nil {
			return files, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return files, fmt.Errorf("failed to create directory %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if total+hdr.Size > MaxExtractedBytes {
				return files, ErrTooLarge
			}
			n, err := writeFile(target, tr, hdr.FileInfo().Mode().Perm())
			total += n
			if err != nil {
				return files, fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
			}
			files = append(files, target)
		default:
			logging.Debug(ctx, "skipping archive entry",
				slog.String("name", hdr.Name),
				slog.String("type", string(hdr.Typeflag)))
		}
	}

	logging.Info(ctx, "archive extracted",
		slog.String("dir", root),
		slog.Int("files", len(files)),
		slog.Int64("bytes", total))
	return files, nil
}

func safeJoin(root, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return target, nil
}

func writeFile(path string, r io.Reader, perm fs.FileMode) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm&0o755) //nolint:gosec // path checked by safeJoin
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, io.LimitReader(r, MaxExtractedBytes))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
