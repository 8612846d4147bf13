package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name string
	body string
	typ  byte
}

func writeArchive(t *testing.T, entries ...entry) string {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		typ := e.typ
		if typ == 0 {
			typ = tar.TypeReg
		}
		hdr := &tar.Header{Name: e.name, Typeflag: typ, Mode: 0o644, Size: int64(len(e.body))}
		if typ != tar.TypeReg {
			hdr.Size = 0
			hdr.Mode = 0o755
		}
		if typ == tar.TypeSymlink {
			hdr.Linkname = "/etc/passwd"
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if typ == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	path := filepath.Join(t.TempDir(), "results.tar.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestExtract(t *testing.T) {
	t.Parallel()

	src := writeArchive(t,
		entry{name: "LIG/", typ: tar.TypeDir},
		entry{name: "LIG/LIG.itp", body: "[ moleculetype ]"},
		entry{name: "LIG/LIG.rtf", body: "RESI LIG"},
		entry{name: "link", typ: tar.TypeSymlink},
		entry{name: "README", body: "SwissParam results"},
	)
	dir := filepath.Join(t.TempDir(), "out")

	files, err := Extract(context.Background(), src, dir)
	require.NoError(t, err)
	assert.Len(t, files, 3)

	data, err := os.ReadFile(filepath.Join(dir, "LIG", "LIG.itp"))
	require.NoError(t, err)
	assert.Equal(t, "[ moleculetype ]", string(data))
	assert.NoFileExists(t, filepath.Join(dir, "link"))
}

func TestExtract_RejectsTraversal(t *testing.T) {
	t.Parallel()

	tests := []string{"../escape.txt", "LIG/../../escape.txt", "/abs.txt"}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			src := writeArchive(t, entry{name: name, body: "x"})
			parent := t.TempDir()
			dir := filepath.Join(parent, "out")

			_, err := Extract(context.Background(), src, dir)
			require.ErrorIs(t, err, ErrUnsafePath)
			assert.NoFileExists(t, filepath.Join(parent, "escape.txt"))
		})
	}
}

func TestExtract_NotGzip(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "results.tar.gz")
	require.NoError(t, os.WriteFile(src, []byte("results!!!"), 0o600))

	_, err := Extract(context.Background(), src, t.TempDir())
	require.Error(t, err)
}

func TestExtract_CancelledContext(t *testing.T) {
	t.Parallel()

	src := writeArchive(t, entry{name: "a", body: "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Extract(ctx, src, t.TempDir())
	require.ErrorIs(t, err, context.Canceled)
}
