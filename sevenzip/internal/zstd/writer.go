package zstd

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compress returns the Zstandard-compressed form of data.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("zstd: error creating writer: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("zstd: error writing: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zstd: error closing: %w", err)
	}

	return buf.Bytes(), nil
}
