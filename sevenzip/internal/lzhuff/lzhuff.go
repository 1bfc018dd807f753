// Package lzhuff adapts the bespoke LZ77+Huffman block codec to the 7z
// coder interfaces, under the vendor method ID {0x3F, 0x00, 0x01}.
package lzhuff

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	core "github.com/bodgit/archive/internal/lzhuff"
)

var errAlreadyClosed = errors.New("lzhuff: already closed")

type readCloser struct {
	rc  io.ReadCloser
	buf *bytes.Reader
}

func (rc *readCloser) Close() error {
	if rc.rc == nil {
		return errAlreadyClosed
	}

	err := rc.rc.Close()
	rc.rc = nil

	if err != nil {
		return fmt.Errorf("lzhuff: error closing: %w", err)
	}

	return nil
}

func (rc *readCloser) Read(p []byte) (int, error) {
	if rc.buf == nil {
		return 0, errAlreadyClosed
	}

	n, err := rc.buf.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("lzhuff: error reading: %w", err)
	}

	return n, err
}

// NewReader decodes the whole underlying stream as a single self-describing
// block. size is the declared uncompressed size of the folder's output.
func NewReader(_ []byte, size uint64, readers []io.ReadCloser) (io.ReadCloser, error) {
	if len(readers) != 1 {
		return nil, errNeedOneReader
	}

	compressed, err := io.ReadAll(readers[0])
	if err != nil {
		return nil, fmt.Errorf("lzhuff: error reading compressed stream: %w", err)
	}

	maxOutput := -1
	if size <= 1<<31 {
		maxOutput = int(size) //nolint:gosec
	}

	decoded, err := core.DecodeBlock(compressed, maxOutput)
	if err != nil {
		return nil, fmt.Errorf("lzhuff: error decoding block: %w", err)
	}

	return &readCloser{rc: readers[0], buf: bytes.NewReader(decoded)}, nil
}

var errNeedOneReader = errors.New("lzhuff: need exactly one reader")

// Compress encodes the whole plaintext buffer as a single block, for use by
// the 7z Writer.
func Compress(data []byte) ([]byte, error) {
	encoded, err := core.EncodeBlock(data)
	if err != nil {
		return nil, fmt.Errorf("lzhuff: error encoding block: %w", err)
	}

	return encoded, nil
}
