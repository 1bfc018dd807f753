package lz4

import (
	"bytes"
	"fmt"

	lz4 "github.com/pierrec/lz4/v4"
)

// Compress returns the LZ4-compressed form of data.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := lz4.NewWriter(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4: error writing: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4: error closing: %w", err)
	}

	return buf.Bytes(), nil
}
