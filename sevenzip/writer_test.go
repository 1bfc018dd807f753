package sevenzip

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAllFromArchive(t *testing.T, archive []byte, name string) []byte {
	t.Helper()

	r, err := NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)

	var target *File

	for _, f := range r.File {
		if f.Name == name {
			target = f

			break
		}
	}

	require.NotNil(t, target, "file %q not found in archive", name)

	rc, err := target.Open()
	require.NoError(t, err)

	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)

	return data
}

func TestWriterReaderRoundTripCopy(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	w := NewWriter(&buf)

	content := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, w.AddFile("hello.txt", time.Now().UTC().Truncate(time.Second), content))
	require.NoError(t, w.Close())

	got := readAllFromArchive(t, buf.Bytes(), "hello.txt")
	assert.Equal(t, content, got)
}

func TestWriterReaderRoundTripLZMA2(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	w, err := NewWriterOptions(&buf, WriterOptions{Algorithm: LZMA2})
	require.NoError(t, err)

	content := bytes.Repeat([]byte("payload data for compression "), 256)
	require.NoError(t, w.AddFile("big.bin", time.Now().UTC().Truncate(time.Second), content))
	require.NoError(t, w.Close())

	got := readAllFromArchive(t, buf.Bytes(), "big.bin")
	assert.Equal(t, content, got)
}

func TestWriterReaderRoundTripDeflate(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	w, err := NewWriterOptions(&buf, WriterOptions{Algorithm: Deflate, DeflateLevel: 6})
	require.NoError(t, err)

	content := bytes.Repeat([]byte("deflateme"), 64)
	require.NoError(t, w.AddFile("deflate.bin", time.Now().UTC().Truncate(time.Second), content))
	require.NoError(t, w.Close())

	got := readAllFromArchive(t, buf.Bytes(), "deflate.bin")
	assert.Equal(t, content, got)
}

func TestWriterReaderRoundTripX86Filter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	w, err := NewWriterOptions(&buf, WriterOptions{
		Algorithm: LZMA2,
		Filters:   []FilterID{FilterX86},
	})
	require.NoError(t, err)

	content := bytes.Repeat([]byte{0xe8, 0x01, 0x02, 0x03, 0x00, 0x90, 0x90, 0x90}, 64)
	require.NoError(t, w.AddFile("code.bin", time.Now().UTC().Truncate(time.Second), content))
	require.NoError(t, w.Close())

	got := readAllFromArchive(t, buf.Bytes(), "code.bin")
	assert.Equal(t, content, got)
}

func TestWriterReaderRoundTripDeltaFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	w, err := NewWriterOptions(&buf, WriterOptions{
		Algorithm:     LZMA2,
		Filters:       []FilterID{FilterDelta},
		DeltaDistance: 4,
	})
	require.NoError(t, err)

	content := make([]byte, 256)
	for i := range content {
		content[i] = byte(i)
	}

	require.NoError(t, w.AddFile("delta.bin", time.Now().UTC().Truncate(time.Second), content))
	require.NoError(t, w.Close())

	got := readAllFromArchive(t, buf.Bytes(), "delta.bin")
	assert.Equal(t, content, got)
}

func TestWriterReaderRoundTripSolid(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	w, err := NewWriterOptions(&buf, WriterOptions{Algorithm: LZMA2, Solid: true})
	require.NoError(t, err)

	files := map[string][]byte{
		"a.txt": []byte("first file content"),
		"b.txt": []byte("second file content, a bit longer than the first"),
		"c.txt": []byte("third"),
	}

	now := time.Now().UTC().Truncate(time.Second)
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, w.AddFile(name, now, files[name]))
	}

	require.NoError(t, w.Close())

	for name, content := range files {
		got := readAllFromArchive(t, buf.Bytes(), name)
		assert.Equal(t, content, got)
	}
}

func TestWriterReaderRoundTripDirectoryAndSymlink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	w := NewWriter(&buf)

	require.NoError(t, w.AddDirectory("dir"))
	require.NoError(t, w.AddSymlink("dir/link", "target.txt"))
	require.NoError(t, w.Close())

	r, err := NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	var dir, link *File

	for _, f := range r.File {
		switch f.Name {
		case "dir/":
			dir = f
		case "dir/link":
			link = f
		}
	}

	require.NotNil(t, dir)
	require.NotNil(t, link)

	assert.True(t, dir.FileInfo().IsDir())

	target, err := link.ReadLink()
	require.NoError(t, err)
	assert.Equal(t, "target.txt", target)
}

func TestWriterReaderRoundTripEmptyFile(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	w := NewWriter(&buf)

	require.NoError(t, w.AddFile("empty.txt", time.Now().UTC().Truncate(time.Second), nil))
	require.NoError(t, w.Close())

	got := readAllFromArchive(t, buf.Bytes(), "empty.txt")
	assert.Empty(t, got)
}

func TestWriterDeltaDistanceValidation(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	_, err := NewWriterOptions(&buf, WriterOptions{
		Algorithm:     LZMA2,
		Filters:       []FilterID{FilterDelta},
		DeltaDistance: 0,
	})
	require.ErrorIs(t, err, errDeltaDistance)
}

func TestWriterClosedRejectsFurtherWrites(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	w := NewWriter(&buf)
	require.NoError(t, w.Close())

	err := w.AddFile("late.txt", time.Now(), []byte("too late"))
	require.ErrorIs(t, err, errWriterClosed)
}
