// Package util contains small helpers shared by the sevenzip package and its
// coder implementations.
package util

import (
	"bufio"
	"io"
)

// ReadCloser is an [io.ReadCloser] that also exposes ReadByte, which several
// of the coder implementations rely on to avoid an extra buffering layer.
type ReadCloser interface {
	io.Reader
	io.ByteReader
	io.Closer
}

// SizeReadSeekCloser is a seekable, closeable reader that knows its own
// total size, used by the folder pool to cache partially consumed streams.
type SizeReadSeekCloser interface {
	io.ReadSeeker
	io.Closer
	Size() int64
}

type nopCloser struct {
	io.Reader
}

func (nopCloser) Close() error { return nil }

// NopCloser returns an [io.ReadCloser] with a no-op Close method wrapping
// the provided [io.Reader].
func NopCloser(r io.Reader) io.ReadCloser {
	return nopCloser{r}
}

type byteReadCloser struct {
	io.ReadCloser
	br io.ByteReader
}

func (rc byteReadCloser) ReadByte() (byte, error) {
	return rc.br.ReadByte()
}

// ByteReadCloser returns a [ReadCloser] from rc, wrapping it in a
// [bufio.Reader] first if it doesn't already implement [io.ByteReader].
func ByteReadCloser(rc io.ReadCloser) ReadCloser {
	if br, ok := rc.(io.ByteReader); ok {
		return byteReadCloser{ReadCloser: rc, br: br}
	}

	br := bufio.NewReader(rc)

	return byteReadCloser{ReadCloser: rc, br: br}
}

// CRC32Equal reports whether the big-endian digest produced by a
// [hash/crc32] Hash32's Sum method matches the expected checksum value.
func CRC32Equal(sum []byte, crc uint32) bool {
	if len(sum) != 4 {
		return false
	}

	return uint32(sum[0])<<24|uint32(sum[1])<<16|uint32(sum[2])<<8|uint32(sum[3]) == crc
}
